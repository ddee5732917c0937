package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/romanmihailow/tg-post-service/internal/clock"
)

// botAPI is the slice of the Bot API client the transport uses.
type botAPI interface {
	GetMe() (tgbotapi.User, error)
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	SendMediaGroup(cfg tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error)
	MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error)
	GetFile(cfg tgbotapi.FileConfig) (tgbotapi.File, error)
	GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Options tunes pacing and flood-wait absorption for one client.
type Options struct {
	// RequestDelay is the minimum spacing between outgoing requests.
	RequestDelay time.Duration
	// Jitter adds up to this much random extra delay per request.
	Jitter time.Duration
	// FloodAntiblock absorbs short flood waits by sleeping in place.
	FloodAntiblock bool
	// FloodMaxSeconds is the longest wait absorbed in place; anything
	// longer surfaces as FloodWaitBlocked.
	FloodMaxSeconds int
}

// Client is the Bot API backed transport.
type Client struct {
	api     botAPI
	token   string
	opts    Options
	limiter *rate.Limiter
	clk     clock.Clock
	rnd     clock.Rand
	history *historyCache
	httpc   *http.Client
}

// NewClient connects to the Bot API with the given token.
func NewClient(token string, opts Options) (*Client, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create bot client")
	}
	return newClient(bot, token, opts), nil
}

func newClient(api botAPI, token string, opts Options) *Client {
	if opts.RequestDelay <= 0 {
		opts.RequestDelay = time.Second
	}
	if opts.FloodMaxSeconds <= 0 {
		opts.FloodMaxSeconds = 300
	}
	return &Client{
		api:     api,
		token:   token,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.RequestDelay), 1),
		clk:     clock.New(),
		rnd:     clock.NewRand(),
		history: newHistoryCache(),
		httpc:   &http.Client{Timeout: 30 * time.Second},
	}
}

// Run consumes the update stream into the history cache until ctx ends.
func (c *Client) Run(ctx context.Context) error {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	cfg.AllowedUpdates = []string{"message", "channel_post", "edited_channel_post"}
	updates := c.api.GetUpdatesChan(cfg)
	defer c.api.StopReceivingUpdates()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if msg, keys := fromUpdate(&update); msg != nil {
				c.history.add(*msg, keys)
			}
		}
	}
}

func (c *Client) pace(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	if c.opts.Jitter > 0 {
		return c.clk.Sleep(ctx, c.rnd.DurationBetween(0, c.opts.Jitter))
	}
	return nil
}

// do runs one paced request, absorbing a short flood wait with a single
// in-place retry. Long waits surface as FloodWaitBlocked.
func (c *Client) do(ctx context.Context, fn func() error) error {
	if err := c.pace(ctx); err != nil {
		return err
	}
	err := fn()
	s := floodWaitSeconds(err)
	if s == 0 {
		return err
	}
	if !c.opts.FloodAntiblock || s > c.opts.FloodMaxSeconds {
		return &FloodWaitBlocked{Seconds: s}
	}
	slog.Warn("absorbing flood wait", slog.Int("seconds", s))
	if err := c.clk.Sleep(ctx, time.Duration(s)*time.Second); err != nil {
		return err
	}
	err = fn()
	if s2 := floodWaitSeconds(err); s2 > 0 {
		return &FloodWaitBlocked{Seconds: s2}
	}
	return err
}

func (c *Client) Identify(ctx context.Context) (Identity, error) {
	var id Identity
	err := c.do(ctx, func() error {
		me, err := c.api.GetMe()
		if err != nil {
			return err
		}
		id = Identity{UserID: me.ID, Username: me.UserName}
		return nil
	})
	return id, err
}

func (c *Client) FetchHistorySince(ctx context.Context, channel string, sinceID, limit int) ([]Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.history.since(channel, sinceID, limit), nil
}

func (c *Client) DownloadPhoto(ctx context.Context, fileID string) ([]byte, error) {
	var link string
	err := c.do(ctx, func() error {
		file, err := c.api.GetFile(tgbotapi.FileConfig{FileID: fileID})
		if err != nil {
			return err
		}
		link = file.Link(c.token)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if link == "" {
		return nil, errors.New("empty file link")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to download photo")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("photo download status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// chatTarget splits a destination into numeric id or @username form.
func chatTarget(dest string) (int64, string) {
	dest = strings.TrimSpace(dest)
	if strings.HasPrefix(dest, "@") {
		return 0, dest
	}
	if id, err := strconv.ParseInt(dest, 10, 64); err == nil {
		return id, ""
	}
	return 0, "@" + dest
}

func (c *Client) SendText(ctx context.Context, dest, text string, replyTo int) (int, error) {
	chatID, username := chatTarget(dest)
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ChannelUsername = username
	msg.ReplyToMessageID = replyTo

	var id int
	err := c.do(ctx, func() error {
		sent, err := c.api.Send(msg)
		if err != nil {
			return err
		}
		id = sent.MessageID
		return nil
	})
	return id, err
}

func (c *Client) SendMedia(ctx context.Context, dest string, photo []byte, caption string) (int, error) {
	chatID, username := chatTarget(dest)
	cfg := tgbotapi.NewPhoto(chatID, tgbotapi.FileBytes{Name: "photo.jpg", Bytes: photo})
	cfg.ChannelUsername = username
	cfg.Caption = caption

	var id int
	err := c.do(ctx, func() error {
		sent, err := c.api.Send(cfg)
		if err != nil {
			return err
		}
		id = sent.MessageID
		return nil
	})
	return id, err
}

func (c *Client) SendAlbum(ctx context.Context, dest string, photos [][]byte, caption string) ([]int, error) {
	chatID, username := chatTarget(dest)
	media := make([]interface{}, 0, len(photos))
	for i, p := range photos {
		item := tgbotapi.NewInputMediaPhoto(tgbotapi.FileBytes{
			Name:  fmt.Sprintf("photo_%d.jpg", i+1),
			Bytes: p,
		})
		if i == 0 {
			item.Caption = caption
		}
		media = append(media, item)
	}
	cfg := tgbotapi.MediaGroupConfig{ChatID: chatID, ChannelUsername: username, Media: media}

	var ids []int
	err := c.do(ctx, func() error {
		sent, err := c.api.SendMediaGroup(cfg)
		if err != nil {
			return err
		}
		ids = ids[:0]
		for _, m := range sent {
			ids = append(ids, m.MessageID)
		}
		return nil
	})
	return ids, err
}

func (c *Client) SetReaction(ctx context.Context, chat string, messageID int, emoji string) error {
	reaction, err := json.Marshal([]map[string]string{{"type": "emoji", "emoji": emoji}})
	if err != nil {
		return err
	}
	params := tgbotapi.Params{
		"chat_id":    chat,
		"message_id": strconv.Itoa(messageID),
		"reaction":   string(reaction),
	}
	return c.do(ctx, func() error {
		_, err := c.api.MakeRequest("setMessageReaction", params)
		return err
	})
}

func (c *Client) AllowedReactions(ctx context.Context, chat string) ([]string, error) {
	params := tgbotapi.Params{"chat_id": chat}
	var emojis []string
	err := c.do(ctx, func() error {
		resp, err := c.api.MakeRequest("getChat", params)
		if err != nil {
			return err
		}
		var full struct {
			AvailableReactions []struct {
				Type  string `json:"type"`
				Emoji string `json:"emoji"`
			} `json:"available_reactions"`
		}
		if err := json.Unmarshal(resp.Result, &full); err != nil {
			return errors.Wrap(err, "failed to parse chat info")
		}
		emojis = emojis[:0]
		for _, r := range full.AvailableReactions {
			if r.Type == "emoji" && r.Emoji != "" {
				emojis = append(emojis, r.Emoji)
			}
		}
		return nil
	})
	return emojis, err
}

var _ Port = (*Client)(nil)
