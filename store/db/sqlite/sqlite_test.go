package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romanmihailow/tg-post-service/internal/profile"
	"github.com/romanmihailow/tg-post-service/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	p := &profile.Profile{DSN: filepath.Join(t.TempDir(), "test.db"), Driver: "sqlite"}
	db, err := NewDB(p)
	require.NoError(t, err)
	require.NoError(t, db.Migrate(context.Background()))
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Migrate(context.Background()))
	require.NoError(t, db.Migrate(context.Background()))
}

func TestPipelineRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p, err := db.UpsertPipeline(ctx, &store.UpsertPipeline{
		Name:        "news-main",
		AccountName: "acc1",
		Enabled:     true,
		Destination: "@newsmain",
		Mode:        store.PipelineModeText,
		Type:        store.PipelineTypeStandard,
		IntervalSec: 3600,
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "news-main", p.Name)
	assert.True(t, p.Enabled)

	// Upsert by name updates in place.
	p2, err := db.UpsertPipeline(ctx, &store.UpsertPipeline{
		Name:        "news-main",
		AccountName: "acc1",
		Enabled:     false,
		Destination: "@newsmain",
		Mode:        store.PipelineModeTextImage,
		Type:        store.PipelineTypeStandard,
		IntervalSec: 1800,
	})
	require.NoError(t, err)
	assert.Equal(t, p.ID, p2.ID)
	assert.False(t, p2.Enabled)
	assert.Equal(t, store.PipelineModeTextImage, p2.Mode)

	enabled := true
	list, err := db.ListPipelines(ctx, &store.FindPipeline{Enabled: &enabled})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPipelineSourceCursorIsMonotone(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	p, err := db.UpsertPipeline(ctx, &store.UpsertPipeline{
		Name: "p", Mode: store.PipelineModeText, Type: store.PipelineTypeStandard,
	})
	require.NoError(t, err)
	src, err := db.UpsertPipelineSource(ctx, &store.UpsertPipelineSource{PipelineID: p.ID, Channel: "@src"})
	require.NoError(t, err)
	assert.Zero(t, src.LastSeenMessageID)

	require.NoError(t, db.AdvancePipelineSource(ctx, src.ID, 100))
	require.NoError(t, db.AdvancePipelineSource(ctx, src.ID, 50))

	sources, err := db.ListPipelineSources(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.EqualValues(t, 100, sources[0].LastSeenMessageID)
}

func TestPostHistoryPrune(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	for i := 0; i < 7; i++ {
		require.NoError(t, db.AppendPostHistory(ctx, &store.AppendPostHistory{
			PipelineID: 1,
			Text:       string(rune('a' + i)),
			CreatedAt:  time.Now().UTC(),
			Window:     5,
		}))
	}
	texts, err := db.ListRecentPostTexts(ctx, 1, 100)
	require.NoError(t, err)
	assert.Len(t, texts, 5)
	assert.Equal(t, "g", texts[0])
	assert.Equal(t, "c", texts[4])
}

func TestDiscussionReplyTransitionsAreOneWay(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	r, err := db.CreateDiscussionReply(ctx, &store.CreateDiscussionReply{
		PipelineID:  1,
		Kind:        store.ReplyKindDiscussion,
		AccountName: "acc1",
		ReplyText:   "привет",
		SendAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, store.ReplyStatusPending, r.Status)

	require.NoError(t, db.MarkDiscussionReplySent(ctx, r.ID, time.Now().UTC()))
	// A settled reply rejects any further transition.
	assert.Error(t, db.MarkDiscussionReplySent(ctx, r.ID, time.Now().UTC()))
	assert.Error(t, db.MarkDiscussionReplyCancelled(ctx, r.ID, "late"))

	r2, err := db.CreateDiscussionReply(ctx, &store.CreateDiscussionReply{
		PipelineID:  1,
		Kind:        store.ReplyKindUserReply,
		AccountName: "acc2",
		ReplyText:   "ок",
		SendAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
	require.NoError(t, db.MarkDiscussionReplyCancelled(ctx, r2.ID, "expired"))
	assert.Error(t, db.MarkDiscussionReplySent(ctx, r2.ID, time.Now().UTC()))

	status := store.ReplyStatusCancelled
	list, err := db.ListDiscussionReplies(ctx, &store.FindDiscussionReply{Status: &status})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "expired", list[0].CancelledReason)
}

func TestListDueRepliesOrdered(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	for i, at := range []time.Time{now.Add(2 * time.Minute), now.Add(-time.Minute), now} {
		_, err := db.CreateDiscussionReply(ctx, &store.CreateDiscussionReply{
			PipelineID:  7,
			Kind:        store.ReplyKindDiscussion,
			AccountName: "acc",
			ReplyText:   string(rune('a' + i)),
			SendAt:      at,
		})
		require.NoError(t, err)
	}

	pid := int64(7)
	pending := store.ReplyStatusPending
	due, err := db.ListDiscussionReplies(ctx, &store.FindDiscussionReply{
		PipelineID: &pid, Status: &pending, DueBefore: &now,
	})
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "b", due[0].ReplyText)
	assert.Equal(t, "c", due[1].ReplyText)
}

func TestBotWeightDefaultsAndUsage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	w, err := db.UpsertDiscussionBotWeight(ctx, &store.UpsertDiscussionBotWeight{
		PipelineID: 1, AccountName: "acc2", Weight: 1, DailyLimit: 5, CooldownMinutes: 60,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, w.Weight)
	assert.Equal(t, 5, w.DailyLimit)
	assert.Equal(t, 60, w.CooldownMinutes)
	assert.Zero(t, w.UsedToday)

	used := 3
	date := "2026-08-24"
	lastUsed := time.Now().UTC().Truncate(time.Second)
	w, err = db.UpdateDiscussionBotWeight(ctx, &store.UpdateDiscussionBotWeight{
		PipelineID: 1, AccountName: "acc2",
		UsedToday: &used, UsedTodayDate: &date, LastUsedAt: &lastUsed,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, w.UsedToday)
	assert.Equal(t, "2026-08-24", w.UsedTodayDate)
	require.NotNil(t, w.LastUsedAt)
	assert.Equal(t, lastUsed, *w.LastUsedAt)

	// A second upsert must not clobber the usage counters.
	w, err = db.UpsertDiscussionBotWeight(ctx, &store.UpsertDiscussionBotWeight{
		PipelineID: 1, AccountName: "acc2", Weight: 1, DailyLimit: 5, CooldownMinutes: 60,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, w.UsedToday)
}

func TestDiscussionStateEnsureAndClear(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	s, err := db.GetDiscussionState(ctx, 42)
	require.NoError(t, err)
	assert.EqualValues(t, 42, s.PipelineID)
	assert.Nil(t, s.ExpiresAt)

	qid := int64(1001)
	now := time.Now().UTC().Truncate(time.Second)
	expires := now.Add(time.Hour)
	planned := 3
	topics := `{"topics":["economy"],"fingerprints":["aaaa111122223333"]}`
	s, err = db.UpdateDiscussionState(ctx, &store.UpdateDiscussionState{
		PipelineID:        42,
		QuestionMessageID: &qid,
		QuestionCreatedAt: &now,
		ExpiresAt:         &expires,
		RepliesPlanned:    &planned,
		RecentTopicsJSON:  &topics,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1001, s.QuestionMessageID)
	require.NotNil(t, s.ExpiresAt)
	assert.Equal(t, expires, *s.ExpiresAt)
	assert.Equal(t, 3, s.RepliesPlanned)

	s, err = db.UpdateDiscussionState(ctx, &store.UpdateDiscussionState{
		PipelineID:    42,
		ClearQuestion: true,
	})
	require.NoError(t, err)
	assert.Zero(t, s.QuestionMessageID)
	assert.Nil(t, s.ExpiresAt)
	assert.Zero(t, s.RepliesPlanned)
	// Anti-repeat memory survives the close.
	assert.Equal(t, topics, s.RecentTopicsJSON)
}

func TestSessionRollback(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	sess, err := db.Begin(ctx)
	require.NoError(t, err)
	_, err = sess.UpsertPipeline(ctx, &store.UpsertPipeline{
		Name: "tx-test", Mode: store.PipelineModeText, Type: store.PipelineTypeStandard,
	})
	require.NoError(t, err)
	require.NoError(t, sess.Rollback())

	name := "tx-test"
	p, err := db.GetPipeline(ctx, &store.FindPipeline{Name: &name})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSessionCommit(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	sess, err := db.Begin(ctx)
	require.NoError(t, err)
	_, err = sess.UpsertPipeline(ctx, &store.UpsertPipeline{
		Name: "tx-commit", Mode: store.PipelineModeText, Type: store.PipelineTypeStandard,
	})
	require.NoError(t, err)
	require.NoError(t, sess.Commit())

	name := "tx-commit"
	p, err := db.GetPipeline(ctx, &store.FindPipeline{Name: &name})
	require.NoError(t, err)
	require.NotNil(t, p)
}

func TestPersonaRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.UpsertPersona(ctx, &store.UpsertPersona{
		AccountName:       "acc2",
		Tone:              "ironic",
		Verbosity:         "medium",
		TopicsJSON:        `["economy","sport"]`,
		TopicPriority:     70,
		OfftopicTolerance: 40,
	})
	require.NoError(t, err)

	name := "acc2"
	p, err := db.GetPersona(ctx, &store.FindPersona{AccountName: &name})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "ironic", p.Tone)
	assert.Equal(t, 70, p.TopicPriority)

	missing := "nobody"
	p, err = db.GetPersona(ctx, &store.FindPersona{AccountName: &missing})
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestInviteFlow(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	inv, err := db.CreateBotInvite(ctx, &store.CreateBotInvite{
		Token:    "4f2c9e64-0000-0000-0000-000000000000",
		IssuedBy: "owner",
		IssuedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Equal(t, store.InviteStatusPending, inv.Status)

	code, err := db.CreateBotInviteCode(ctx, &store.CreateBotInviteCode{InviteID: inv.ID, Code: "XK29fQ"})
	require.NoError(t, err)
	assert.False(t, code.Used)

	require.NoError(t, db.MarkBotInviteCodeUsed(ctx, code.ID, time.Now().UTC()))
	assert.Error(t, db.MarkBotInviteCodeUsed(ctx, code.ID, time.Now().UTC()))

	accepted := store.InviteStatusAccepted
	uid := int64(777)
	inv, err = db.UpdateBotInvite(ctx, &store.UpdateBotInvite{ID: inv.ID, Status: &accepted, UserID: &uid})
	require.NoError(t, err)
	assert.Equal(t, store.InviteStatusAccepted, inv.Status)
	assert.EqualValues(t, 777, inv.UserID)
}
