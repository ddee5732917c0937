package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanmihailow/tg-post-service/store"
	"github.com/romanmihailow/tg-post-service/telegram"
)

type loopEnv struct {
	store    *store.Store
	clock    *fakeClock
	port     *fakePort
	notifier *fakeNotifier
	sched    *Scheduler
}

func newLoopEnv(t *testing.T) *loopEnv {
	t.Helper()
	st := newTestStore(t)
	port := newFakePort(100)
	notifier := &fakeNotifier{}
	clk := newFakeClock(time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC))
	s := New(Deps{
		Store:    st,
		Config:   baseConfig("acc1"),
		Accounts: map[string]*AccountRuntime{"acc1": newRuntime("acc1", port, &fakeLLM{})},
		Clock:    clk,
		Rand:     newStubRand(),
		Notifier: notifier,
	})
	return &loopEnv{store: st, clock: clk, port: port, notifier: notifier, sched: s}
}

func TestTickPublishesDuePipeline(t *testing.T) {
	env := newLoopEnv(t)
	ctx := context.Background()
	now := env.clock.NowUTC()

	p := seedStandardPipeline(t, env.store, "news-main", "acc1", "@dest", "@src")
	env.port.history["@src"] = []telegram.Message{
		{ID: 500, Text: "Курс рубля упал на пять процентов после решения регулятора", CreatedAt: now},
	}

	pipelines, err := env.sched.tick(ctx)
	require.NoError(t, err)
	assert.Len(t, pipelines, 1)
	assert.Len(t, env.port.sentMessages(), 1)

	state, err := env.store.GetPipelineState(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, state.LastRunAt)
	assert.Equal(t, now, state.LastRunAt.UTC())

	// Within the interval nothing is due.
	_, err = env.sched.tick(ctx)
	require.NoError(t, err)
	assert.Len(t, env.port.sentMessages(), 1)
}

func TestTickSuspendsAccountOnFloodWait(t *testing.T) {
	env := newLoopEnv(t)
	ctx := context.Background()
	now := env.clock.NowUTC()

	p := seedStandardPipeline(t, env.store, "news-main", "acc1", "@dest", "@src")
	env.port.history["@src"] = []telegram.Message{
		{ID: 500, Text: "Курс рубля упал на пять процентов после решения регулятора", CreatedAt: now},
	}
	env.port.sendErrs = []error{&telegram.FloodWaitBlocked{Seconds: 600}}

	_, err := env.sched.tick(ctx)
	require.NoError(t, err)

	// The transaction rolled back, so the post will be retried after the
	// suspension.
	assert.Empty(t, env.port.sentMessages())
	sources, err := env.store.ListPipelineSources(ctx, p.ID)
	require.NoError(t, err)
	assert.Zero(t, sources[0].LastSeenMessageID)
	state, err := env.store.GetPipelineState(ctx, p.ID)
	require.NoError(t, err)
	assert.Nil(t, state.LastRunAt)

	assert.True(t, env.sched.broker.IsSuspended("acc1", now))
	texts := env.notifier.sentTexts()
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "FloodWait")
	assert.Contains(t, texts[0], "acc1")

	// The suspended account sits out the next tick without another alert.
	_, err = env.sched.tick(ctx)
	require.NoError(t, err)
	assert.Empty(t, env.port.sentMessages())
	assert.Len(t, env.notifier.sentTexts(), 1)

	// After the window the pipeline runs again.
	env.clock.Advance(11 * time.Minute)
	_, err = env.sched.tick(ctx)
	require.NoError(t, err)
	assert.Len(t, env.port.sentMessages(), 1)
}

func TestTickPublishesOnePipelinePerTick(t *testing.T) {
	env := newLoopEnv(t)
	ctx := context.Background()
	now := env.clock.NowUTC()

	p1 := seedStandardPipeline(t, env.store, "news-main", "acc1", "@dest1", "@src1")
	p2 := seedStandardPipeline(t, env.store, "news-extra", "acc1", "@dest2", "@src2")
	env.port.history["@src1"] = []telegram.Message{
		{ID: 500, Text: "Курс рубля упал на пять процентов после решения регулятора", CreatedAt: now},
	}
	env.port.history["@src2"] = []telegram.Message{
		{ID: 700, Text: "В регионе запустили новую программу поддержки бизнеса", CreatedAt: now},
	}

	_, err := env.sched.tick(ctx)
	require.NoError(t, err)

	s1, err := env.store.GetPipelineState(ctx, p1.ID)
	require.NoError(t, err)
	s2, err := env.store.GetPipelineState(ctx, p2.ID)
	require.NoError(t, err)
	assert.NotNil(t, s1.LastRunAt)
	assert.Nil(t, s2.LastRunAt)

	// The second pipeline gets its turn on the next tick.
	_, err = env.sched.tick(ctx)
	require.NoError(t, err)
	s2, err = env.store.GetPipelineState(ctx, p2.ID)
	require.NoError(t, err)
	assert.NotNil(t, s2.LastRunAt)
	assert.Len(t, env.port.sentMessages(), 2)
}

func TestSleepIntervalShrinksForDiscussions(t *testing.T) {
	env := newLoopEnv(t)

	standard := []*store.Pipeline{{Enabled: true, Type: store.PipelineTypeStandard}}
	assert.Equal(t, 60*time.Second, env.sched.sleepInterval(standard))

	withDiscussion := append(standard, &store.Pipeline{Enabled: true, Type: store.PipelineTypeDiscussion})
	assert.Equal(t, 30*time.Second, env.sched.sleepInterval(withDiscussion))

	disabled := append(standard, &store.Pipeline{Enabled: false, Type: store.PipelineTypeDiscussion})
	assert.Equal(t, 60*time.Second, env.sched.sleepInterval(disabled))
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	env := newLoopEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, env.sched.Run(ctx))
	assert.Empty(t, env.clock.slept)
}
