package llm

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanmihailow/tg-post-service/internal/clock"
	"github.com/romanmihailow/tg-post-service/persona"
)

type fakeChatAPI struct {
	responses []string
	errs      []error
	requests  []openai.ChatCompletionRequest
}

func (f *fakeChatAPI) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.requests = append(f.requests, req)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return openai.ChatCompletionResponse{}, err
		}
	}
	text := "ok"
	if len(f.responses) > 0 {
		text = f.responses[0]
		f.responses = f.responses[1:]
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: text}}},
		Usage:   openai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

func (f *fakeChatAPI) CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error) {
	return openai.ImageResponse{Data: []openai.ImageResponseDataInner{{B64JSON: "aGVsbG8="}}}, nil
}

func newTestLLM(api *fakeChatAPI) *Client {
	c := newClientWith(api, ClientOptions{SystemPrompt: "Ты редактор новостей."})
	c.rnd = clock.NewSeededRand(7)
	return c
}

func TestNewClientRejectsEmptySystemPrompt(t *testing.T) {
	_, err := NewClient(ClientOptions{APIKey: "k", SystemPrompt: "   "})
	require.Error(t, err)
}

func TestParaphraseReturnsUsage(t *testing.T) {
	api := &fakeChatAPI{responses: []string{"перефразировано"}}
	c := newTestLLM(api)

	text, usage, err := c.Paraphrase(context.Background(), "оригинал")
	require.NoError(t, err)
	assert.Equal(t, "перефразировано", text)
	assert.Equal(t, 15, usage.TotalTokens)
	require.Len(t, api.requests, 1)
	assert.Equal(t, "Ты редактор новостей.", api.requests[0].Messages[0].Content)
}

func TestParaphraseRetriesTransientErrors(t *testing.T) {
	api := &fakeChatAPI{
		errs:      []error{assert.AnError, nil},
		responses: []string{"после ретрая"},
	}
	c := newTestLLM(api)

	text, _, err := c.Paraphrase(context.Background(), "текст")
	require.NoError(t, err)
	assert.Equal(t, "после ретрая", text)
	assert.Len(t, api.requests, 2)
}

func TestSelectFromListStrictContract(t *testing.T) {
	candidates := []string{"новость один", "новость два", "новость три"}

	api := &fakeChatAPI{responses: []string{`{"index": 2}`}}
	idx, _, err := newTestLLM(api).SelectFromList(context.Background(), candidates, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	prompt := api.requests[0].Messages[1].Content
	assert.Contains(t, prompt, `{"index": N}`)
	assert.Contains(t, prompt, "1. новость один")
	assert.Contains(t, prompt, "3. новость три")
}

func TestSelectFromListRejectsBadResponses(t *testing.T) {
	candidates := []string{"a", "b"}

	for _, raw := range []string{"not json", `{"index": 0}`, `{"index": 3}`, `{}`} {
		api := &fakeChatAPI{responses: []string{raw, raw, raw}}
		_, _, err := newTestLLM(api).SelectFromList(context.Background(), candidates, nil)
		assert.Error(t, err, "raw=%s", raw)
	}
}

func TestSelectFromListAvoidHint(t *testing.T) {
	api := &fakeChatAPI{responses: []string{`{"index": 1}`}}
	_, _, err := newTestLLM(api).SelectFromList(context.Background(), []string{"x"}, []string{"крипта", "выборы"})
	require.NoError(t, err)
	assert.Contains(t, api.requests[0].Messages[1].Content, "крипта, выборы")
}

func TestSelectionParsesFencedJSON(t *testing.T) {
	idx, err := parseSelection("```json\n{\"index\": 1}\n```", 2)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestDiscussionQnA(t *testing.T) {
	api := &fakeChatAPI{responses: []string{`{"question": "Суть. Что думаете?", "replies": ["Первый", "Второй"]}`}}
	c := newTestLLM(api)

	qna, usage, err := c.DiscussionQnA(context.Background(), "новость", 2,
		[]string{"роль один", "роль два"}, []string{"Прошлый вопрос?"})
	require.NoError(t, err)
	assert.Equal(t, "Суть. Что думаете?", qna.Question)
	assert.Len(t, qna.Replies, 2)
	assert.Equal(t, 15, usage.TotalTokens)

	prompt := api.requests[0].Messages[1].Content
	assert.Contains(t, prompt, "Количество ответов: 2")
	assert.Contains(t, prompt, "- роль один")
	assert.Contains(t, prompt, "«Прошлый вопрос?»")
	assert.Contains(t, prompt, "конфликты_геополитика_инциденты")
	assert.Contains(t, prompt, "Новость:\nновость")
}

func TestDiscussionQnARejectsMissingFields(t *testing.T) {
	api := &fakeChatAPI{responses: []string{`{"question": "q"}`, `{"question": "q"}`, `{"question": "q"}`}}
	_, _, err := newTestLLM(api).DiscussionQnA(context.Background(), "n", 3, nil, nil)
	require.Error(t, err)
}

func TestGenerateUserReplyPlainText(t *testing.T) {
	api := &fakeChatAPI{responses: []string{"Ну тут спорно, если честно"}}
	c := newTestLLM(api)

	reply, _, err := c.GenerateUserReply(context.Background(), &UserReplyRequest{
		SourceText: "А цены-то вырастут?",
		Context:    []string{"сообщение раз", "", "сообщение два"},
		RoleLabel:  "Имя: Олег | Пол: мужской",
		Meta:       &persona.Meta{Tone: persona.ToneSkeptical, Verbosity: persona.VerbosityShort},
	})
	require.NoError(t, err)
	assert.Equal(t, "Ну тут спорно, если честно", reply.Text)
	assert.Empty(t, reply.ReactionEmoji)

	prompt := api.requests[0].Messages[1].Content
	assert.Contains(t, prompt, "Твоя роль в этом чате:\nИмя: Олег | Пол: мужской")
	assert.Contains(t, prompt, "- сообщение раз")
	assert.Contains(t, prompt, "А цены-то вырастут?")
	assert.NotContains(t, prompt, "reaction_emoji")
	assert.True(t, strings.HasSuffix(prompt, "Ответ:"))
}

func TestGenerateUserReplyModelDrivenReaction(t *testing.T) {
	api := &fakeChatAPI{responses: []string{`{"reply_text": "Сомневаюсь", "reaction_emoji": "🤔"}`}}
	c := newTestLLM(api)

	reply, _, err := c.GenerateUserReply(context.Background(), &UserReplyRequest{
		SourceText:          "текст",
		RoleLabel:           "роль",
		AllowedReactions:    []string{"👍", "🤔"},
		ModelDrivenReaction: true,
		ReactionNullRate:    0.65,
	})
	require.NoError(t, err)
	assert.Equal(t, "Сомневаюсь", reply.Text)
	assert.Equal(t, "🤔", reply.ReactionEmoji)

	prompt := api.requests[0].Messages[1].Content
	assert.Contains(t, prompt, "null примерно в 65% случаев")
	assert.True(t, strings.HasSuffix(prompt, "Ответ (JSON):"))
}

func TestParseModelReplyRejectsUnlistedEmoji(t *testing.T) {
	text, emoji := parseModelReply(`{"reply_text": "Ок", "reaction_emoji": "🔥"}`, []string{"👍"})
	assert.Equal(t, "Ок", text)
	assert.Empty(t, emoji)

	text, emoji = parseModelReply(`{"reply_text": "Ок", "reaction_emoji": null}`, []string{"👍"})
	assert.Equal(t, "Ок", text)
	assert.Empty(t, emoji)

	text, emoji = parseModelReply("просто текст без JSON", []string{"👍"})
	assert.Equal(t, "просто текст без JSON", text)
	assert.Empty(t, emoji)
}

func TestGenerateUserReplySystemPromptOverride(t *testing.T) {
	api := &fakeChatAPI{responses: []string{"ответ"}}
	c := newTestLLM(api)

	_, _, err := c.GenerateUserReply(context.Background(), &UserReplyRequest{
		SourceText:           "s",
		RoleLabel:            "r",
		SystemPromptOverride: "Ты участник чата.",
	})
	require.NoError(t, err)
	assert.Equal(t, "Ты участник чата.", api.requests[0].Messages[0].Content)
}

func TestBuildUserReplyPromptOpeningsSample(t *testing.T) {
	prompt, presetIdx, lengthHint := buildUserReplyPrompt(&UserReplyRequest{
		SourceText: "s", RoleLabel: "r",
	}, clock.NewSeededRand(3))

	assert.Contains(t, prompt, "Варианты начала реплики")
	assert.GreaterOrEqual(t, presetIdx, 0)
	assert.Less(t, presetIdx, len(replyPresets))
	assert.NotEmpty(t, lengthHint)
	if presetIdx != ultraShortPreset {
		assert.Contains(t, prompt, lengthHint)
	}
}

func TestGenerateImage(t *testing.T) {
	c := newTestLLM(&fakeChatAPI{})
	data, err := c.GenerateImage(context.Background(), "описание")
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestUsageLogWritesHeaderOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.tsv")
	log := NewUsageLog(path)

	rec := UsageRecord{
		Timestamp:    time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		TextModel:    "gpt-4.1-mini",
		InputTokens:  100,
		OutputTokens: 50,
		TotalTokens:  150,
		TextCostUSD:  0.000123,
		ImageModel:   "gpt-image-1",
		ImageCount:   1,
		PostText:     "Текст поста\nсо второй строкой",
	}
	require.NoError(t, log.Append(rec))
	require.NoError(t, log.Append(rec))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "timestamp\ttext_model"))

	fields := strings.Split(lines[1], "\t")
	require.Len(t, fields, 11)
	assert.Equal(t, "2025-03-01 12:00:00", fields[0])
	assert.Equal(t, "0.000123", fields[5])
	assert.Equal(t, "Текст поста со второй строкой", fields[10])
}

func TestEstimateTextCost(t *testing.T) {
	cost := EstimateTextCost(1_000_000, 500_000, 0.40, 1.60)
	assert.InDelta(t, 0.40+0.80, cost, 1e-9)
}
