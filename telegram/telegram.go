// Package telegram implements the platform transport: sending posts and
// replies, reading channel history, and setting reactions, with request
// pacing and flood-wait absorption.
package telegram

import (
	"context"
	"time"
)

// Message is one channel or chat message as seen by the service.
type Message struct {
	ID          int
	ChatID      int64
	Chat        string
	Text        string
	FromID      int64
	FromName    string
	IsBot       bool
	ReplyToID   int
	PhotoFileID string
	GroupedID   string
	CreatedAt   time.Time
}

// HasPhoto reports whether the message carries a downloadable photo.
func (m *Message) HasPhoto() bool {
	return m.PhotoFileID != ""
}

// Identity is the authenticated account behind a client.
type Identity struct {
	UserID   int64
	Username string
}

// Port is the transport surface the pipelines talk to. Implementations
// must pace outgoing requests and absorb short flood waits.
type Port interface {
	// Identify returns the account behind this client.
	Identify(ctx context.Context) (Identity, error)

	// FetchHistorySince returns messages of a channel newer than sinceID,
	// newest first, at most limit entries.
	FetchHistorySince(ctx context.Context, channel string, sinceID, limit int) ([]Message, error)

	// DownloadPhoto fetches the raw bytes of a photo by file id.
	DownloadPhoto(ctx context.Context, fileID string) ([]byte, error)

	// SendText posts a text message. replyTo of 0 means no reply threading.
	SendText(ctx context.Context, dest, text string, replyTo int) (int, error)

	// SendMedia posts a photo with a caption.
	SendMedia(ctx context.Context, dest string, photo []byte, caption string) (int, error)

	// SendAlbum posts several photos as one grouped message; the caption
	// goes on the first item.
	SendAlbum(ctx context.Context, dest string, photos [][]byte, caption string) ([]int, error)

	// SetReaction puts a single emoji reaction on a message.
	SetReaction(ctx context.Context, chat string, messageID int, emoji string) error

	// AllowedReactions returns the reaction emoji the chat permits;
	// empty means no restriction is advertised.
	AllowedReactions(ctx context.Context, chat string) ([]string, error)
}
