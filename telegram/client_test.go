package telegram

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanmihailow/tg-post-service/internal/clock"
)

type fakeBotAPI struct {
	sendErrs   []error
	sent       []tgbotapi.Chattable
	nextMsgID  int
	requests   []string
	requestRes *tgbotapi.APIResponse
	requestErr error
}

func (f *fakeBotAPI) GetMe() (tgbotapi.User, error) {
	return tgbotapi.User{ID: 777, UserName: "tester"}, nil
}

func (f *fakeBotAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c)
	if len(f.sendErrs) > 0 {
		err := f.sendErrs[0]
		f.sendErrs = f.sendErrs[1:]
		if err != nil {
			return tgbotapi.Message{}, err
		}
	}
	f.nextMsgID++
	return tgbotapi.Message{MessageID: f.nextMsgID}, nil
}

func (f *fakeBotAPI) SendMediaGroup(cfg tgbotapi.MediaGroupConfig) ([]tgbotapi.Message, error) {
	out := make([]tgbotapi.Message, len(cfg.Media))
	for i := range out {
		f.nextMsgID++
		out[i] = tgbotapi.Message{MessageID: f.nextMsgID}
	}
	return out, nil
}

func (f *fakeBotAPI) MakeRequest(endpoint string, params tgbotapi.Params) (*tgbotapi.APIResponse, error) {
	f.requests = append(f.requests, endpoint)
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	if f.requestRes != nil {
		return f.requestRes, nil
	}
	return &tgbotapi.APIResponse{Ok: true, Result: json.RawMessage(`{}`)}, nil
}

func (f *fakeBotAPI) GetFile(cfg tgbotapi.FileConfig) (tgbotapi.File, error) {
	return tgbotapi.File{FileID: cfg.FileID, FilePath: "photos/file.jpg"}, nil
}

func (f *fakeBotAPI) GetUpdatesChan(cfg tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	ch := make(chan tgbotapi.Update)
	close(ch)
	return ch
}

func (f *fakeBotAPI) StopReceivingUpdates() {}

type instantClock struct {
	slept []time.Duration
}

func (c *instantClock) NowUTC() time.Time                  { return time.Unix(1700000000, 0).UTC() }
func (c *instantClock) NowIn(loc *time.Location) time.Time { return c.NowUTC().In(loc) }
func (c *instantClock) Sleep(ctx context.Context, d time.Duration) error {
	c.slept = append(c.slept, d)
	return ctx.Err()
}

func newTestClient(api botAPI, opts Options) (*Client, *instantClock) {
	opts.RequestDelay = time.Nanosecond
	opts.Jitter = 0
	c := newClient(api, "token", opts)
	clk := &instantClock{}
	c.clk = clk
	c.rnd = clock.NewSeededRand(1)
	return c, clk
}

func TestSendTextReturnsMessageID(t *testing.T) {
	api := &fakeBotAPI{}
	c, _ := newTestClient(api, Options{FloodAntiblock: true, FloodMaxSeconds: 300})

	id, err := c.SendText(context.Background(), "@dest", "hello", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, id)

	require.Len(t, api.sent, 1)
	msg := api.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, "@dest", msg.ChannelUsername)
	assert.Equal(t, "hello", msg.Text)
}

func TestSendTextNumericDestAndReply(t *testing.T) {
	api := &fakeBotAPI{}
	c, _ := newTestClient(api, Options{})

	_, err := c.SendText(context.Background(), "-100123", "reply", 42)
	require.NoError(t, err)

	msg := api.sent[0].(tgbotapi.MessageConfig)
	assert.Equal(t, int64(-100123), msg.ChatID)
	assert.Empty(t, msg.ChannelUsername)
	assert.Equal(t, 42, msg.ReplyToMessageID)
}

func TestShortFloodWaitIsAbsorbed(t *testing.T) {
	api := &fakeBotAPI{sendErrs: []error{&FloodWaitError{Seconds: 5}}}
	c, clk := newTestClient(api, Options{FloodAntiblock: true, FloodMaxSeconds: 300})

	id, err := c.SendText(context.Background(), "@dest", "hi", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.Len(t, api.sent, 2)
	assert.Contains(t, clk.slept, 5*time.Second)
}

func TestLongFloodWaitBlocks(t *testing.T) {
	api := &fakeBotAPI{sendErrs: []error{&FloodWaitError{Seconds: 900}}}
	c, _ := newTestClient(api, Options{FloodAntiblock: true, FloodMaxSeconds: 300})

	_, err := c.SendText(context.Background(), "@dest", "hi", 0)
	require.Error(t, err)
	blocked := AsFloodWaitBlocked(err)
	require.NotNil(t, blocked)
	assert.Equal(t, 900, blocked.Seconds)
	assert.Len(t, api.sent, 1)
}

func TestFloodWaitBlocksWhenAntiblockDisabled(t *testing.T) {
	api := &fakeBotAPI{sendErrs: []error{&FloodWaitError{Seconds: 3}}}
	c, _ := newTestClient(api, Options{FloodAntiblock: false, FloodMaxSeconds: 300})

	_, err := c.SendText(context.Background(), "@dest", "hi", 0)
	assert.NotNil(t, AsFloodWaitBlocked(err))
}

func TestRepeatedFloodWaitBlocksAfterRetry(t *testing.T) {
	api := &fakeBotAPI{sendErrs: []error{
		&FloodWaitError{Seconds: 5},
		&FloodWaitError{Seconds: 120},
	}}
	c, _ := newTestClient(api, Options{FloodAntiblock: true, FloodMaxSeconds: 300})

	_, err := c.SendText(context.Background(), "@dest", "hi", 0)
	blocked := AsFloodWaitBlocked(err)
	require.NotNil(t, blocked)
	assert.Equal(t, 120, blocked.Seconds)
	assert.Len(t, api.sent, 2)
}

func TestFloodWaitSecondsFromAPIError(t *testing.T) {
	err := &tgbotapi.Error{
		Code:               429,
		Message:            "Too Many Requests",
		ResponseParameters: tgbotapi.ResponseParameters{RetryAfter: 17},
	}
	assert.Equal(t, 17, floodWaitSeconds(err))
	assert.Equal(t, 0, floodWaitSeconds(assert.AnError))
	assert.Equal(t, 0, floodWaitSeconds(nil))
}

func TestIdentify(t *testing.T) {
	c, _ := newTestClient(&fakeBotAPI{}, Options{})
	id, err := c.Identify(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(777), id.UserID)
	assert.Equal(t, "tester", id.Username)
}

func TestSetReactionBuildsRawRequest(t *testing.T) {
	api := &fakeBotAPI{}
	c, _ := newTestClient(api, Options{})

	require.NoError(t, c.SetReaction(context.Background(), "@chat", 10, "🔥"))
	assert.Equal(t, []string{"setMessageReaction"}, api.requests)
}

func TestAllowedReactionsParsesChatInfo(t *testing.T) {
	api := &fakeBotAPI{requestRes: &tgbotapi.APIResponse{
		Ok: true,
		Result: json.RawMessage(`{"available_reactions": [
			{"type": "emoji", "emoji": "👍"},
			{"type": "emoji", "emoji": "🔥"},
			{"type": "custom_emoji", "custom_emoji_id": "123"}
		]}`),
	}}
	c, _ := newTestClient(api, Options{})

	emojis, err := c.AllowedReactions(context.Background(), "@chat")
	require.NoError(t, err)
	assert.Equal(t, []string{"👍", "🔥"}, emojis)
}

func TestHistoryCacheSinceNewestFirst(t *testing.T) {
	h := newHistoryCache()
	keys := []string{"@chan"}
	for i := 1; i <= 5; i++ {
		h.add(Message{ID: i, Text: "m"}, keys)
	}

	got := h.since("@chan", 2, 0)
	require.Len(t, got, 3)
	assert.Equal(t, 5, got[0].ID)
	assert.Equal(t, 3, got[2].ID)

	limited := h.since("@Chan", 0, 2)
	require.Len(t, limited, 2)
	assert.Equal(t, 5, limited[0].ID)
}

func TestHistoryCacheDedupsRedelivered(t *testing.T) {
	h := newHistoryCache()
	h.add(Message{ID: 7}, []string{"@c"})
	h.add(Message{ID: 7}, []string{"@c"})
	assert.Len(t, h.since("@c", 0, 0), 1)
}

func TestHistoryCacheBounded(t *testing.T) {
	h := newHistoryCache()
	for i := 1; i <= historyDepth+50; i++ {
		h.add(Message{ID: i}, []string{"@c"})
	}
	got := h.since("@c", 0, 0)
	assert.Len(t, got, historyDepth)
	assert.Equal(t, historyDepth+50, got[0].ID)
}

func TestFromUpdateChannelPost(t *testing.T) {
	update := &tgbotapi.Update{ChannelPost: &tgbotapi.Message{
		MessageID: 31,
		Chat:      &tgbotapi.Chat{ID: -100500, UserName: "NewsChan"},
		Text:      "headline",
		Date:      1700000000,
	}}
	msg, keys := fromUpdate(update)
	require.NotNil(t, msg)
	assert.Equal(t, 31, msg.ID)
	assert.Equal(t, "headline", msg.Text)
	assert.Contains(t, keys, "@newschan")
	assert.Contains(t, keys, "-100500")
}

func TestFromUpdatePhotoAndReply(t *testing.T) {
	update := &tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID:      8,
		Chat:           &tgbotapi.Chat{ID: 5},
		Caption:        "pic",
		Date:           1700000000,
		From:           &tgbotapi.User{ID: 9, UserName: "someone", IsBot: true},
		ReplyToMessage: &tgbotapi.Message{MessageID: 3},
		Photo:          []tgbotapi.PhotoSize{{FileID: "small"}, {FileID: "large"}},
	}}
	msg, _ := fromUpdate(update)
	require.NotNil(t, msg)
	assert.Equal(t, "pic", msg.Text)
	assert.Equal(t, "large", msg.PhotoFileID)
	assert.Equal(t, 3, msg.ReplyToID)
	assert.True(t, msg.IsBot)
	assert.Equal(t, int64(9), msg.FromID)
}

func TestFromUpdateIgnoresOtherKinds(t *testing.T) {
	msg, _ := fromUpdate(&tgbotapi.Update{})
	assert.Nil(t, msg)
}
