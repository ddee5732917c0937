package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	openai "github.com/sashabaranov/go-openai"

	"github.com/romanmihailow/tg-post-service/internal/clock"
)

const (
	defaultTextModel   = "gpt-4.1-mini"
	defaultVisionModel = "gpt-4.1-mini"
	defaultImageModel  = "gpt-image-1"
)

// chatAPI is the slice of the provider SDK the adapter uses.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error)
}

// ClientOptions configures one provider client.
type ClientOptions struct {
	APIKey       string
	BaseURL      string
	SystemPrompt string
	TextModel    string
	VisionModel  string
	ImageModel   string
	Timeout      time.Duration
}

// Client is the go-openai backed provider adapter.
type Client struct {
	api          chatAPI
	systemPrompt string
	textModel    string
	visionModel  string
	imageModel   string
	rnd          clock.Rand
}

// NewClient builds a provider client. An empty system prompt is fatal:
// every text call depends on it.
func NewClient(opts ClientOptions) (*Client, error) {
	if strings.TrimSpace(opts.SystemPrompt) == "" {
		return nil, errors.New("system prompt is empty")
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	if opts.BaseURL != "" {
		cfg.BaseURL = opts.BaseURL
	}
	if opts.Timeout > 0 {
		cfg.HTTPClient.Timeout = opts.Timeout
	}
	c := newClientWith(openai.NewClientWithConfig(cfg), opts)
	return c, nil
}

func newClientWith(api chatAPI, opts ClientOptions) *Client {
	c := &Client{
		api:          api,
		systemPrompt: opts.SystemPrompt,
		textModel:    opts.TextModel,
		visionModel:  opts.VisionModel,
		imageModel:   opts.ImageModel,
		rnd:          clock.NewRand(),
	}
	if c.textModel == "" {
		c.textModel = defaultTextModel
	}
	if c.visionModel == "" {
		c.visionModel = defaultVisionModel
	}
	if c.imageModel == "" {
		c.imageModel = defaultImageModel
	}
	return c
}

// withRetries runs fn up to three times with exponential backoff.
func withRetries[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var out T
	err := retry.Do(
		func() error {
			var err error
			out, err = fn()
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			slog.Warn("provider request failed, retrying",
				slog.Uint64("attempt", uint64(n)+1), slog.String("error", err.Error()))
		}),
	)
	return out, err
}

func (c *Client) complete(ctx context.Context, systemPrompt, userText string) (string, Usage, error) {
	type result struct {
		text  string
		usage Usage
	}
	res, err := withRetries(ctx, func() (result, error) {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.textModel,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userText},
			},
		})
		if err != nil {
			return result{}, err
		}
		if len(resp.Choices) == 0 {
			return result{}, errors.New("provider response has no choices")
		}
		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			return result{}, errors.New("provider response is empty")
		}
		return result{
			text: text,
			usage: Usage{
				InputTokens:  resp.Usage.PromptTokens,
				OutputTokens: resp.Usage.CompletionTokens,
				TotalTokens:  resp.Usage.TotalTokens,
			},
		}, nil
	})
	return res.text, res.usage, err
}

func (c *Client) Paraphrase(ctx context.Context, text string) (string, Usage, error) {
	return c.complete(ctx, c.systemPrompt, text)
}

func (c *Client) DescribeImage(ctx context.Context, image []byte) (string, error) {
	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)
	return withRetries(ctx, func() (string, error) {
		resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.visionModel,
			Messages: []openai.ChatCompletionMessage{{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: describeImagePrompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
				},
			}},
		})
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("provider response has no choices")
		}
		text := strings.TrimSpace(resp.Choices[0].Message.Content)
		if text == "" {
			return "", errors.New("provider returned an empty description")
		}
		return text, nil
	})
}

func (c *Client) GenerateImage(ctx context.Context, description string) ([]byte, error) {
	return withRetries(ctx, func() ([]byte, error) {
		resp, err := c.api.CreateImage(ctx, openai.ImageRequest{
			Model:          c.imageModel,
			Prompt:         generateImagePrefix + description,
			Size:           openai.CreateImageSize1024x1024,
			ResponseFormat: openai.CreateImageResponseFormatB64JSON,
		})
		if err != nil {
			return nil, err
		}
		if len(resp.Data) == 0 {
			return nil, errors.New("provider returned no image data")
		}
		return base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	})
}

// stripCodeFence removes a surrounding ``` block when the model wraps its
// JSON output in one.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func (c *Client) SelectFromList(ctx context.Context, candidates, recentTopics []string) (int, Usage, error) {
	if len(candidates) == 0 {
		return 0, Usage{}, errors.New("candidates list is empty")
	}
	text, usage, err := c.complete(ctx, c.systemPrompt, buildSelectPrompt(candidates, recentTopics))
	if err != nil {
		return 0, usage, err
	}
	idx, err := parseSelection(text, len(candidates))
	if err != nil {
		return 0, usage, err
	}
	return idx, usage, nil
}

// parseSelection validates the strict {"index": N} contract and converts
// the 1-based index to 0-based.
func parseSelection(text string, count int) (int, error) {
	var data struct {
		Index *int `json:"index"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &data); err != nil || data.Index == nil {
		return 0, errors.New("provider returned invalid JSON for selection")
	}
	if *data.Index < 1 || *data.Index > count {
		return 0, errors.Errorf("provider returned out-of-range index %d", *data.Index)
	}
	return *data.Index - 1, nil
}

func (c *Client) DiscussionQnA(ctx context.Context, newsText string, repliesCount int, roles, lastQuestions []string) (*QnA, Usage, error) {
	text, usage, err := c.complete(ctx, c.systemPrompt, buildDiscussionPrompt(newsText, repliesCount, roles, lastQuestions))
	if err != nil {
		return nil, usage, err
	}
	qna, err := parseQnA(text)
	if err != nil {
		return nil, usage, err
	}
	return qna, usage, nil
}

func parseQnA(text string) (*QnA, error) {
	var raw struct {
		Question *string  `json:"question"`
		Replies  []string `json:"replies"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &raw); err != nil {
		return nil, errors.New("provider returned invalid JSON for discussion")
	}
	if raw.Question == nil || raw.Replies == nil {
		return nil, errors.New("provider response missing question/replies")
	}
	return &QnA{Question: *raw.Question, Replies: raw.Replies}, nil
}

func (c *Client) GenerateUserReply(ctx context.Context, req *UserReplyRequest) (*UserReply, Usage, error) {
	prompt, presetIdx, lengthHint := buildUserReplyPrompt(req, c.rnd)

	systemPrompt := c.systemPrompt
	if req.SystemPromptOverride != "" {
		systemPrompt = req.SystemPromptOverride
	}
	raw, usage, err := c.complete(ctx, systemPrompt, prompt)
	if err != nil {
		return nil, usage, err
	}

	out := &UserReply{Text: strings.TrimSpace(raw), PresetIdx: presetIdx, LengthHint: lengthHint}
	if req.ModelDrivenReaction && len(req.AllowedReactions) > 0 {
		out.Text, out.ReactionEmoji = parseModelReply(raw, req.AllowedReactions)
	}
	return out, usage, nil
}

// parseModelReply reads the {"reply_text","reaction_emoji"} contract,
// falling back to the raw text when the model skipped the JSON envelope.
func parseModelReply(raw string, allowed []string) (string, string) {
	var data struct {
		ReplyText     string  `json:"reply_text"`
		ReactionEmoji *string `json:"reaction_emoji"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), &data); err != nil || strings.TrimSpace(data.ReplyText) == "" {
		return strings.TrimSpace(raw), ""
	}
	text := strings.TrimSpace(data.ReplyText)
	if data.ReactionEmoji == nil {
		return text, ""
	}
	emoji := strings.TrimSpace(*data.ReactionEmoji)
	for _, a := range allowed {
		if a == emoji {
			return text, emoji
		}
	}
	if emoji != "" {
		slog.Debug("reaction emoji not in allowed list", slog.String("emoji", emoji))
	}
	return text, ""
}

var _ Port = (*Client)(nil)
