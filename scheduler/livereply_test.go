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

type liveEnv struct {
	store    *store.Store
	clock    *fakeClock
	ports    map[string]*fakePort
	model    *fakeLLM
	sched    *Scheduler
	pipeline *store.Pipeline
	runtime  *AccountRuntime
}

func newLiveEnv(t *testing.T, floats ...float64) *liveEnv {
	t.Helper()
	st := newTestStore(t)
	cfg := baseConfig("acc1", "bot1", "bot2")
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	ports := map[string]*fakePort{
		"acc1": newFakePort(100),
		"bot1": newFakePort(201),
		"bot2": newFakePort(202),
	}
	model := &fakeLLM{}
	accounts := make(map[string]*AccountRuntime, len(ports))
	for name, port := range ports {
		accounts[name] = newRuntime(name, port, model)
	}

	clk := newFakeClock(now)
	s := New(Deps{
		Store:    st,
		Config:   cfg,
		Accounts: accounts,
		Clock:    clk,
		Rand:     newStubRand(floats...),
	})

	return &liveEnv{
		store:    st,
		clock:    clk,
		ports:    ports,
		model:    model,
		sched:    s,
		pipeline: seedDiscussionPipeline(t, st, "disc-main", "acc1", "@chat", "news-main"),
		runtime:  accounts["acc1"],
	}
}

func (e *liveEnv) runOnce(t *testing.T) {
	t.Helper()
	session := beginSession(t, e.store)
	require.NoError(t, e.sched.runLiveReplies(context.Background(), session, e.pipeline, e.runtime))
	require.NoError(t, session.Commit())
}

func (e *liveEnv) userReplies(t *testing.T, status store.DiscussionReplyStatus) []*store.DiscussionReply {
	t.Helper()
	kind := store.ReplyKindUserReply
	replies, err := e.store.ListDiscussionReplies(context.Background(), &store.FindDiscussionReply{
		PipelineID: &e.pipeline.ID, Kind: &kind, Status: &status,
	})
	require.NoError(t, err)
	return replies
}

func TestLiveRepliesPlansAnswerToQuestion(t *testing.T) {
	env := newLiveEnv(t)
	ctx := context.Background()
	now := env.clock.NowUTC()

	env.ports["acc1"].history["@chat"] = []telegram.Message{
		{ID: 5, ChatID: -100123, FromID: 777, Text: "Как это работает?", CreatedAt: now.Add(-5 * time.Minute)},
		{ID: 4, FromID: 201, Text: "обсуждаем новость", CreatedAt: now.Add(-10 * time.Minute)},
	}

	env.runOnce(t)

	pending := env.userReplies(t, store.ReplyStatusPending)
	require.Len(t, pending, 1)
	reply := pending[0]
	assert.Contains(t, []string{"bot1", "bot2"}, reply.AccountName)
	assert.EqualValues(t, 5, reply.ReplyToMessageID)
	assert.EqualValues(t, -100123, reply.ChatID)
	require.NotNil(t, reply.SourceMessageAt)
	assert.Equal(t, now.Add(-5*time.Minute), reply.SourceMessageAt.UTC())
	// Delay counts from the source message, not the scan.
	assert.Equal(t, now.Add(-3*time.Minute), reply.SendAt.UTC())

	chatState, err := env.store.GetChatState(ctx, env.pipeline.ID, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, chatState.LastSeenMessageID)
	assert.Equal(t, 1, chatState.RepliesToday)
	assert.Equal(t, "2026-03-02", chatState.RepliesTodayDate)
	require.NotNil(t, chatState.NextScanAt)
	assert.Equal(t, now.Add(30*time.Second), chatState.NextScanAt.UTC())
	require.NotNil(t, chatState.LastHumanMessageAt)

	// The generation request carried the human text and chat context.
	require.Len(t, env.model.userReplyCalls, 1)
	assert.Equal(t, "Как это работает?", env.model.userReplyCalls[0].SourceText)
	assert.Contains(t, env.model.userReplyCalls[0].Context, "обсуждаем новость")
}

func TestLiveRepliesSendsDueReply(t *testing.T) {
	env := newLiveEnv(t)
	now := env.clock.NowUTC()
	env.ports["acc1"].history["@chat"] = []telegram.Message{
		{ID: 5, ChatID: -100123, FromID: 777, Text: "Как это работает?", CreatedAt: now.Add(-5 * time.Minute)},
	}

	env.runOnce(t)
	pending := env.userReplies(t, store.ReplyStatusPending)
	require.Len(t, pending, 1)
	botName := pending[0].AccountName

	env.clock.Advance(time.Minute)
	env.runOnce(t)

	msgs := env.ports[botName].sentMessages()
	require.Len(t, msgs, 1)
	// The numeric chat id captured at plan time wins over the username.
	assert.Equal(t, "-100123", msgs[0].Dest)
	assert.Equal(t, 5, msgs[0].ReplyTo)

	assert.Empty(t, env.userReplies(t, store.ReplyStatusPending))
	sent := env.userReplies(t, store.ReplyStatusSent)
	require.Len(t, sent, 1)

	weights, err := env.store.ListDiscussionBotWeights(context.Background(), env.pipeline.ID)
	require.NoError(t, err)
	for _, w := range weights {
		if w.AccountName == botName {
			assert.Equal(t, 1, w.UsedToday)
		}
	}
}

func TestLiveRepliesKeepsCursorWhenNothingPlanned(t *testing.T) {
	// Trigger phrase without a question mark is not boosted; the first draw
	// sets the probability, the second fails the gate.
	env := newLiveEnv(t, 0.6, 0.9)
	now := env.clock.NowUTC()
	env.ports["acc1"].history["@chat"] = []telegram.Message{
		{ID: 5, ChatID: -100123, FromID: 777, Text: "как думаете про новый курс", CreatedAt: now.Add(-5 * time.Minute)},
	}

	env.runOnce(t)

	assert.Empty(t, env.userReplies(t, store.ReplyStatusPending))
	chatState, err := env.store.GetChatState(context.Background(), env.pipeline.ID, 0)
	require.NoError(t, err)
	// The skipped candidate gets another look on the next scan.
	assert.Zero(t, chatState.LastSeenMessageID)
	require.NotNil(t, chatState.NextScanAt)
}

func TestLiveRepliesCancelsStaleReply(t *testing.T) {
	env := newLiveEnv(t)
	ctx := context.Background()
	now := env.clock.NowUTC()

	stale := now.Add(-2 * time.Hour)
	_, err := env.store.CreateDiscussionReply(ctx, &store.CreateDiscussionReply{
		PipelineID:       env.pipeline.ID,
		Kind:             store.ReplyKindUserReply,
		ChatID:           -100123,
		AccountName:      "bot1",
		ReplyText:        "запоздалый ответ",
		SendAt:           now.Add(-time.Hour),
		ReplyToMessageID: 10,
		SourceMessageAt:  &stale,
	})
	require.NoError(t, err)

	env.runOnce(t)

	assert.Empty(t, env.ports["bot1"].sentMessages())
	cancelled := env.userReplies(t, store.ReplyStatusCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "message too old", cancelled[0].CancelledReason)
}

func TestLiveRepliesCancelsOutsideActivityWindow(t *testing.T) {
	env := newLiveEnv(t)
	ctx := context.Background()
	now := env.clock.NowUTC()

	_, err := env.store.UpsertDiscussionSettings(ctx, &store.UpsertDiscussionSettings{
		PipelineID:                  env.pipeline.ID,
		TargetChat:                  "@chat",
		SourcePipelineName:          "news-main",
		KMin:                        3,
		KMax:                        5,
		ReplyToReplyProbability:     15,
		ActivityWindowsWeekdaysJSON: `[["09:00","10:00"]]`,
		Timezone:                    "UTC",
		MinIntervalMinutes:          90,
		MaxIntervalMinutes:          180,
		InactivityPauseMinutes:      60,
		MaxAutoRepliesPerChatPerDay: 30,
		UserReplyMaxAgeMinutes:      30,
	})
	require.NoError(t, err)

	recent := now.Add(-5 * time.Minute)
	_, err = env.store.CreateDiscussionReply(ctx, &store.CreateDiscussionReply{
		PipelineID:       env.pipeline.ID,
		Kind:             store.ReplyKindUserReply,
		ChatID:           -100123,
		AccountName:      "bot1",
		ReplyText:        "ответ вне окна",
		SendAt:           now.Add(-time.Minute),
		ReplyToMessageID: 10,
		SourceMessageAt:  &recent,
	})
	require.NoError(t, err)

	// 12:00 is outside the 09:00-10:00 weekday window.
	env.runOnce(t)

	assert.Empty(t, env.ports["bot1"].sentMessages())
	cancelled := env.userReplies(t, store.ReplyStatusCancelled)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "outside activity window", cancelled[0].CancelledReason)
}

func TestIsCandidateForReply(t *testing.T) {
	assert.True(t, isCandidateForReply("любой текст", true))
	assert.True(t, isCandidateForReply("Как это работает?", false))
	assert.True(t, isCandidateForReply("Что скажете, коллеги", false))
	assert.True(t, isCandidateForReply("КАК ДУМАЕТЕ про курс", false))
	assert.False(t, isCandidateForReply("обычное сообщение без вопроса", false))
	assert.False(t, isCandidateForReply("", false))
}

func TestBotUsable(t *testing.T) {
	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)

	assert.False(t, botUsable(nil, now))
	assert.True(t, botUsable(weightRow("bot", nil), now))

	capped := weightRow("bot", func(w *store.DiscussionBotWeight) {
		w.UsedToday = 5
		w.UsedTodayDate = "2026-03-02"
	})
	assert.False(t, botUsable(capped, now))

	// Yesterday's counter does not block today.
	stale := weightRow("bot", func(w *store.DiscussionBotWeight) {
		w.UsedToday = 5
		w.UsedTodayDate = "2026-03-01"
	})
	assert.True(t, botUsable(stale, now))

	recent := now.Add(-10 * time.Minute)
	cooling := weightRow("bot", func(w *store.DiscussionBotWeight) { w.LastUsedAt = &recent })
	assert.False(t, botUsable(cooling, now))

	rested := now.Add(-2 * time.Hour)
	ok := weightRow("bot", func(w *store.DiscussionBotWeight) { w.LastUsedAt = &rested })
	assert.True(t, botUsable(ok, now))
}

func TestReplyDestination(t *testing.T) {
	assert.Equal(t, "-100123", replyDestination(-100123, "@chat"))
	assert.Equal(t, "@chat", replyDestination(0, "@chat"))
}

func TestFetchChatContext(t *testing.T) {
	port := newFakePort(100)
	port.history["@chat"] = []telegram.Message{
		{ID: 3, Text: "третье"},
		{ID: 2, Text: ""},
		{ID: 1, Text: "первое"},
	}

	texts, err := fetchChatContext(context.Background(), port, "@chat", 8)
	require.NoError(t, err)
	assert.Equal(t, []string{"первое", "третье"}, texts)
}
