// Package scheduler drives all pipelines: the publish cycle, the discussion
// planner with its chained bot replies, live replies to humans, reaction
// budgets, and the account-level flood-wait suspension.
package scheduler

import (
	"github.com/romanmihailow/tg-post-service/config"
	"github.com/romanmihailow/tg-post-service/llm"
	"github.com/romanmihailow/tg-post-service/telegram"
)

// AccountRuntime bundles everything a runner needs for one account: the
// reading and writing transports, the provider client, and pacing settings.
type AccountRuntime struct {
	Name   string
	Reader telegram.Port
	// WriterPort is nil when the reader identity also writes.
	WriterPort telegram.Port
	LLM        llm.Port
	Behavior   config.BehaviorSettings

	DiscussionActivityPercent int
	UserReplyActivityPercent  int

	UserID   int64
	Username string

	// SystemPromptChat overrides the account system prompt for live chat
	// replies when set.
	SystemPromptChat string
}

// Writer returns the sending transport, falling back to the reader.
func (a *AccountRuntime) Writer() telegram.Port {
	if a.WriterPort != nil {
		return a.WriterPort
	}
	return a.Reader
}
