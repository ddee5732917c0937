package control

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
)

// ownerBotAPI is the slice of the Bot API client the notifier uses.
type ownerBotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// OwnerNotifier pushes operational alerts to the owner chat through the
// control bot.
type OwnerNotifier struct {
	api         ownerBotAPI
	ownerChatID int64
}

// NewOwnerNotifier connects the control bot with the given token.
func NewOwnerNotifier(token string, ownerChatID int64) (*OwnerNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create control bot client")
	}
	return &OwnerNotifier{api: bot, ownerChatID: ownerChatID}, nil
}

// NotifyOwner sends one plain text message to the owner chat.
func (n *OwnerNotifier) NotifyOwner(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := n.api.Send(tgbotapi.NewMessage(n.ownerChatID, text))
	return errors.Wrap(err, "failed to notify owner")
}
