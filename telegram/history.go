package telegram

import (
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// historyDepth bounds how many messages are kept per chat.
const historyDepth = 200

// historyCache is an in-memory per-chat ring of recent messages, fed by
// the long-poll update stream. The Bot API has no history call, so the
// cache is the only window into channels and discussion chats.
type historyCache struct {
	mu    sync.Mutex
	chats map[string][]Message
}

func newHistoryCache() *historyCache {
	return &historyCache{chats: map[string][]Message{}}
}

// keysFor returns the lookup keys a chat is filed under: numeric id and,
// when present, the @username.
func keysFor(chat *tgbotapi.Chat) []string {
	keys := []string{strconv.FormatInt(chat.ID, 10)}
	if chat.UserName != "" {
		keys = append(keys, "@"+strings.ToLower(chat.UserName))
	}
	return keys
}

func normalizeChatKey(chat string) string {
	chat = strings.TrimSpace(chat)
	if strings.HasPrefix(chat, "@") {
		return strings.ToLower(chat)
	}
	return chat
}

func (h *historyCache) add(msg Message, keys []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, k := range keys {
		ring := h.chats[k]
		// Updates can be redelivered after reconnects.
		dup := false
		for i := range ring {
			if ring[i].ID == msg.ID {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		ring = append(ring, msg)
		if len(ring) > historyDepth {
			ring = ring[len(ring)-historyDepth:]
		}
		h.chats[k] = ring
	}
}

// since returns messages newer than sinceID, newest first, capped at limit.
func (h *historyCache) since(chat string, sinceID, limit int) []Message {
	h.mu.Lock()
	defer h.mu.Unlock()
	ring := h.chats[normalizeChatKey(chat)]
	var out []Message
	for i := len(ring) - 1; i >= 0; i-- {
		if ring[i].ID <= sinceID {
			continue
		}
		out = append(out, ring[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

// fromUpdate maps a platform update to a cached message, or nil when the
// update carries nothing the pipelines care about.
func fromUpdate(update *tgbotapi.Update) (*Message, []string) {
	var tgMsg *tgbotapi.Message
	switch {
	case update.ChannelPost != nil:
		tgMsg = update.ChannelPost
	case update.Message != nil:
		tgMsg = update.Message
	case update.EditedChannelPost != nil:
		tgMsg = update.EditedChannelPost
	default:
		return nil, nil
	}
	if tgMsg.Chat == nil {
		return nil, nil
	}

	msg := Message{
		ID:        tgMsg.MessageID,
		ChatID:    tgMsg.Chat.ID,
		Chat:      tgMsg.Chat.UserName,
		Text:      tgMsg.Text,
		CreatedAt: time.Unix(int64(tgMsg.Date), 0).UTC(),
	}
	if msg.Text == "" {
		msg.Text = tgMsg.Caption
	}
	if tgMsg.From != nil {
		msg.FromID = tgMsg.From.ID
		msg.FromName = tgMsg.From.UserName
		if msg.FromName == "" {
			msg.FromName = strings.TrimSpace(tgMsg.From.FirstName + " " + tgMsg.From.LastName)
		}
		msg.IsBot = tgMsg.From.IsBot
	}
	if tgMsg.ReplyToMessage != nil {
		msg.ReplyToID = tgMsg.ReplyToMessage.MessageID
	}
	if len(tgMsg.Photo) > 0 {
		msg.PhotoFileID = tgMsg.Photo[len(tgMsg.Photo)-1].FileID
	}
	msg.GroupedID = tgMsg.MediaGroupID

	return &msg, keysFor(tgMsg.Chat)
}
