package scheduler

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/romanmihailow/tg-post-service/config"
	"github.com/romanmihailow/tg-post-service/internal/profile"
	"github.com/romanmihailow/tg-post-service/llm"
	"github.com/romanmihailow/tg-post-service/store"
	"github.com/romanmihailow/tg-post-service/store/db/sqlite"
	"github.com/romanmihailow/tg-post-service/telegram"
)

// fakeClock pins time and records sleeps.
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	slept []time.Duration
}

func newFakeClock(now time.Time) *fakeClock { return &fakeClock{now: now} }

func (c *fakeClock) NowUTC() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.UTC()
}

func (c *fakeClock) NowIn(loc *time.Location) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now.In(loc)
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	c.mu.Unlock()
	return ctx.Err()
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// stubRand makes every random draw predictable: IntBetween and
// DurationBetween return their lower bound, Shuffle keeps order, and Float
// pops from the queue, falling back to 0.5 once drained.
type stubRand struct {
	mu     sync.Mutex
	floats []float64
}

func newStubRand(floats ...float64) *stubRand { return &stubRand{floats: floats} }

func (r *stubRand) IntBetween(lo, hi int) int { return lo }

func (r *stubRand) Float() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.floats) == 0 {
		return 0.5
	}
	f := r.floats[0]
	r.floats = r.floats[1:]
	return f
}

func (r *stubRand) DurationBetween(lo, hi time.Duration) time.Duration { return lo }

func (r *stubRand) Shuffle(n int, swap func(i, j int)) {}

type sentMessage struct {
	Dest    string
	Text    string
	ReplyTo int
	ID      int
}

type reactionCall struct {
	Chat  string
	MsgID int
	Emoji string
}

// fakePort is an in-memory telegram.Port. History is stored newest first
// per channel, the way the real transport returns it.
type fakePort struct {
	mu        sync.Mutex
	identity  telegram.Identity
	history   map[string][]telegram.Message
	photos    map[string][]byte
	allowed   map[string][]string
	sendErrs  []error
	nextID    int
	sent      []sentMessage
	reactions []reactionCall
}

func newFakePort(userID int64) *fakePort {
	return &fakePort{
		identity: telegram.Identity{UserID: userID},
		history:  map[string][]telegram.Message{},
		photos:   map[string][]byte{},
		allowed:  map[string][]string{},
		nextID:   1000,
	}
}

func (p *fakePort) Identify(ctx context.Context) (telegram.Identity, error) {
	return p.identity, nil
}

func (p *fakePort) FetchHistorySince(ctx context.Context, channel string, sinceID, limit int) ([]telegram.Message, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []telegram.Message
	for _, m := range p.history[channel] {
		if m.ID <= sinceID {
			continue
		}
		out = append(out, m)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (p *fakePort) DownloadPhoto(ctx context.Context, fileID string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.photos[fileID], nil
}

func (p *fakePort) SendText(ctx context.Context, dest, text string, replyTo int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.sendErrs) > 0 {
		err := p.sendErrs[0]
		p.sendErrs = p.sendErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	p.nextID++
	p.sent = append(p.sent, sentMessage{Dest: dest, Text: text, ReplyTo: replyTo, ID: p.nextID})
	return p.nextID, nil
}

func (p *fakePort) SendMedia(ctx context.Context, dest string, photo []byte, caption string) (int, error) {
	return p.SendText(ctx, dest, caption, 0)
}

func (p *fakePort) SendAlbum(ctx context.Context, dest string, photos [][]byte, caption string) ([]int, error) {
	id, err := p.SendText(ctx, dest, caption, 0)
	if err != nil {
		return nil, err
	}
	return []int{id}, nil
}

func (p *fakePort) SetReaction(ctx context.Context, chat string, messageID int, emoji string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.reactions = append(p.reactions, reactionCall{Chat: chat, MsgID: messageID, Emoji: emoji})
	return nil
}

func (p *fakePort) AllowedReactions(ctx context.Context, chat string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.allowed[chat], nil
}

func (p *fakePort) sentMessages() []sentMessage {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]sentMessage, len(p.sent))
	copy(out, p.sent)
	return out
}

func (p *fakePort) sentReactions() []reactionCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]reactionCall, len(p.reactions))
	copy(out, p.reactions)
	return out
}

// fakeLLM returns canned provider outputs and logs the requests.
type fakeLLM struct {
	mu sync.Mutex

	paraphraseErr error
	selectIdx     int
	selectErr     error
	qna           *llm.QnA
	qnaErr        error
	userReply     *llm.UserReply
	userReplyErr  error

	paraphrased     []string
	selectCalls     [][]string
	qnaLastRoles    []string
	qnaLastPrev     []string
	userReplyCalls  []*llm.UserReplyRequest
	describeCalled  bool
	generateCalled  bool
	generatedOutput []byte
}

func (f *fakeLLM) Paraphrase(ctx context.Context, text string) (string, llm.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.paraphraseErr != nil {
		return "", llm.Usage{}, f.paraphraseErr
	}
	f.paraphrased = append(f.paraphrased, text)
	return "Пересказ: " + text, llm.Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30}, nil
}

func (f *fakeLLM) DescribeImage(ctx context.Context, image []byte) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.describeCalled = true
	return "иллюстрация к посту", nil
}

func (f *fakeLLM) GenerateImage(ctx context.Context, description string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generateCalled = true
	if f.generatedOutput == nil {
		return []byte{0x1}, nil
	}
	return f.generatedOutput, nil
}

func (f *fakeLLM) SelectFromList(ctx context.Context, candidates, recentTopics []string) (int, llm.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.selectErr != nil {
		return 0, llm.Usage{}, f.selectErr
	}
	f.selectCalls = append(f.selectCalls, candidates)
	return f.selectIdx, llm.Usage{TotalTokens: 5}, nil
}

func (f *fakeLLM) DiscussionQnA(ctx context.Context, newsText string, repliesCount int, roles, lastQuestions []string) (*llm.QnA, llm.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.qnaErr != nil {
		return nil, llm.Usage{}, f.qnaErr
	}
	f.qnaLastRoles = roles
	f.qnaLastPrev = lastQuestions
	if f.qna != nil {
		return f.qna, llm.Usage{TotalTokens: 7}, nil
	}
	replies := make([]string, repliesCount)
	for i := range replies {
		replies[i] = "Согласен, выглядит логично"
	}
	return &llm.QnA{Question: "Что думаете об этом?", Replies: replies}, llm.Usage{TotalTokens: 7}, nil
}

func (f *fakeLLM) GenerateUserReply(ctx context.Context, req *llm.UserReplyRequest) (*llm.UserReply, llm.Usage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.userReplyErr != nil {
		return nil, llm.Usage{}, f.userReplyErr
	}
	f.userReplyCalls = append(f.userReplyCalls, req)
	if f.userReply != nil {
		return f.userReply, llm.Usage{TotalTokens: 3}, nil
	}
	return &llm.UserReply{Text: "Тут всё проще, чем кажется"}, llm.Usage{TotalTokens: 3}, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *fakeNotifier) NotifyOwner(ctx context.Context, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
	return nil
}

func (n *fakeNotifier) sentTexts() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.texts))
	copy(out, n.texts)
	return out
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	p := &profile.Profile{DSN: filepath.Join(t.TempDir(), "test.db"), Driver: "sqlite"}
	db, err := sqlite.NewDB(p)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })
	return store.New(db)
}

// baseConfig mirrors the production defaults with filters that get in the
// way of most tests turned off.
func baseConfig(accountNames ...string) *config.Config {
	cfg := &config.Config{
		MinTextLength:   10,
		SleepMinSeconds: 60,
		SleepMaxSeconds: 180,
		Dedup: config.Dedup{
			Enabled:             true,
			WindowSize:          30,
			BM25Threshold:       1000,
			FingerprintRingSize: 10,
		},
		Blackbox: config.Blackbox{MinWordLen: 5, Ratio: 0.3, DistortMin: 2, DistortMax: 4},
	}
	for _, name := range accountNames {
		cfg.Accounts = append(cfg.Accounts, config.Account{Name: name})
	}
	return cfg
}

func newRuntime(name string, port *fakePort, model *fakeLLM) *AccountRuntime {
	return &AccountRuntime{
		Name:                      name,
		Reader:                    port,
		LLM:                       model,
		Behavior:                  config.ResolveBehavior(4),
		DiscussionActivityPercent: 50,
		UserReplyActivityPercent:  50,
		UserID:                    port.identity.UserID,
	}
}

func seedStandardPipeline(t *testing.T, st *store.Store, name, account, dest string, sources ...string) *store.Pipeline {
	t.Helper()
	ctx := context.Background()
	p, err := st.UpsertPipeline(ctx, &store.UpsertPipeline{
		Name:        name,
		AccountName: account,
		Enabled:     true,
		Destination: dest,
		Mode:        store.PipelineModeText,
		Type:        store.PipelineTypeStandard,
		IntervalSec: 300,
	})
	require.NoError(t, err)
	for _, src := range sources {
		_, err := st.UpsertPipelineSource(ctx, &store.UpsertPipelineSource{PipelineID: p.ID, Channel: src})
		require.NoError(t, err)
	}
	return p
}

func seedDiscussionPipeline(t *testing.T, st *store.Store, name, account, targetChat, sourcePipeline string) *store.Pipeline {
	t.Helper()
	ctx := context.Background()
	p, err := st.UpsertPipeline(ctx, &store.UpsertPipeline{
		Name:        name,
		AccountName: account,
		Enabled:     true,
		Mode:        store.PipelineModeText,
		Type:        store.PipelineTypeDiscussion,
		IntervalSec: 300,
	})
	require.NoError(t, err)
	_, err = st.UpsertDiscussionSettings(ctx, &store.UpsertDiscussionSettings{
		PipelineID:                  p.ID,
		TargetChat:                  targetChat,
		SourcePipelineName:          sourcePipeline,
		KMin:                        3,
		KMax:                        5,
		ReplyToReplyProbability:     15,
		Timezone:                    "UTC",
		MinIntervalMinutes:          90,
		MaxIntervalMinutes:          180,
		InactivityPauseMinutes:      60,
		MaxAutoRepliesPerChatPerDay: 30,
		UserReplyMaxAgeMinutes:      30,
	})
	require.NoError(t, err)
	return p
}

// beginSession opens a transaction and fails the test on error.
func beginSession(t *testing.T, st *store.Store) store.Session {
	t.Helper()
	sess, err := st.Begin(context.Background())
	require.NoError(t, err)
	return sess
}
