package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// FloodWaitError is a rate-limit response from the platform asking the
// client to pause for Seconds before retrying.
type FloodWaitError struct {
	Seconds int
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait %ds", e.Seconds)
}

// FloodWaitBlocked means a flood wait was too long to absorb in place.
// The caller should park the whole account until the wait elapses.
type FloodWaitBlocked struct {
	Seconds int
}

func (e *FloodWaitBlocked) Error() string {
	return fmt.Sprintf("flood wait %ds exceeds absorb limit", e.Seconds)
}

// AsFloodWaitBlocked unwraps err into a FloodWaitBlocked, nil when it is
// something else.
func AsFloodWaitBlocked(err error) *FloodWaitBlocked {
	var b *FloodWaitBlocked
	if errors.As(err, &b) {
		return b
	}
	return nil
}

// floodWaitSeconds extracts the retry-after seconds from a platform
// error, or 0 when err is not a rate limit.
func floodWaitSeconds(err error) int {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw.Seconds
	}
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.RetryAfter > 0 {
			return apiErr.RetryAfter
		}
		if apiErr.Code == 429 {
			return 1
		}
	}
	return 0
}
