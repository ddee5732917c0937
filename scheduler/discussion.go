package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/romanmihailow/tg-post-service/dedup"
	"github.com/romanmihailow/tg-post-service/internal/clock"
	"github.com/romanmihailow/tg-post-service/persona"
	"github.com/romanmihailow/tg-post-service/store"
	"github.com/romanmihailow/tg-post-service/telegram"
	"github.com/romanmihailow/tg-post-service/topics"
)

const (
	questionLifetime    = 60 * time.Minute
	recentTopicsLimit   = 3
	recentQuestionsKept = 5
	historyStaleAfter   = 6 * time.Hour
)

// postCandidate is one source channel post considered for discussion.
type postCandidate struct {
	MessageID int
	Text      string
	CreatedAt time.Time
}

// runDiscussion executes one Pipeline-D P1 cycle: flush due planned
// replies, then plan a new question when the schedule allows it. Returns
// true when anything was sent.
func (s *Scheduler) runDiscussion(ctx context.Context, session store.Session, pipeline *store.Pipeline, rt *AccountRuntime) (bool, error) {
	log := slog.With(slog.String("pipeline", pipeline.Name))
	boardSkip := func(msg string) {
		s.board.Set(StatusEntry{PipelineID: pipeline.ID, Category: CategoryPipeline1, State: "skipped", Message: msg})
	}

	settings, err := session.GetDiscussionSettings(ctx, pipeline.ID)
	if err != nil {
		return false, err
	}
	if settings == nil || settings.TargetChat == "" {
		log.Warn("discussion settings missing")
		boardSkip("missing discussion settings")
		return false, nil
	}

	level := rt.DiscussionActivityPercent
	effMin := scaleMinutes(settings.MinIntervalMinutes, level, 5)
	effMax := scaleMinutes(settings.MaxIntervalMinutes, level, 5)
	if effMax < effMin {
		effMax = effMin
	}
	effInactivity := 0
	if settings.InactivityPauseMinutes > 0 {
		effInactivity = scaleMinutes(settings.InactivityPauseMinutes, level, 0)
	}

	now := s.clk.NowUTC()
	local := s.clk.NowIn(s.location(settings.Timezone))
	windowsJSON, _ := windowsFor(local, settings.ActivityWindowsWeekdaysJSON, settings.ActivityWindowsWeekendsJSON)
	windows, err := ParseActivityWindows(windowsJSON)
	if err != nil {
		log.Warn("activity windows parse failed", slog.String("error", err.Error()))
	}
	if len(windows) > 0 && !WithinWindows(local, windows) {
		log.Info("discussion skipped: outside activity window")
		boardSkip("outside activity window")
		return false, nil
	}

	state, err := session.GetDiscussionState(ctx, pipeline.ID)
	if err != nil {
		return false, err
	}

	sentAny, err := s.sendDuePlannedReplies(ctx, session, pipeline, settings, state, rt)
	if err != nil {
		return sentAny, err
	}

	if state.NextDueAt != nil && now.Before(*state.NextDueAt) {
		left := int(state.NextDueAt.Sub(now).Minutes())
		log.Info("next discussion pending", slog.Int("minutes_left", left))
		s.board.Set(StatusEntry{
			PipelineID: pipeline.ID, Category: CategoryPipeline1, State: "scheduled",
			NextAt: state.NextDueAt, Message: fmt.Sprintf("next discussion in ~%d min", left),
		})
		return sentAny, nil
	}
	if state.ExpiresAt != nil {
		if now.Before(*state.ExpiresAt) {
			s.board.Set(StatusEntry{PipelineID: pipeline.ID, Category: CategoryPipeline1, State: "scheduled", Message: "waiting for replies"})
			return sentAny, nil
		}
		if state, err = session.UpdateDiscussionState(ctx, &store.UpdateDiscussionState{
			PipelineID:    pipeline.ID,
			ClearQuestion: true,
		}); err != nil {
			return sentAny, err
		}
	}

	if effInactivity > 0 {
		active, err := s.chatActive(ctx, rt.Reader, settings.TargetChat, effInactivity)
		if err != nil {
			return sentAny, err
		}
		if !active {
			log.Info("discussion skipped: inactive chat")
			boardSkip("inactive chat")
			return sentAny, nil
		}
	}

	sourcePipeline, err := session.GetPipeline(ctx, &store.FindPipeline{Name: &settings.SourcePipelineName})
	if err != nil {
		return sentAny, err
	}
	if sourcePipeline == nil {
		log.Warn("source pipeline not found", slog.String("source", settings.SourcePipelineName))
		boardSkip("source pipeline not found")
		return sentAny, nil
	}

	k := s.rnd.IntBetween(settings.KMin, settings.KMax)
	sourceChannel := sourcePipeline.Destination
	candidatesAll, err := fetchRecentPosts(ctx, rt.Reader, sourceChannel, k, s.cfg.MinTextLength)
	if err != nil {
		return sentAny, err
	}
	if len(candidatesAll) == 0 {
		log.Info("discussion skipped: no candidate posts")
		s.board.Set(StatusEntry{PipelineID: pipeline.ID, Category: CategoryPipeline1, State: "waiting_for_posts", Message: "no candidate posts"})
		return sentAny, nil
	}

	candidates := candidatesAll
	if state.LastSourcePostID != 0 {
		var kept []postCandidate
		for _, c := range candidates {
			if int64(c.MessageID) != state.LastSourcePostID {
				kept = append(kept, c)
			}
		}
		if removed := len(candidates) - len(kept); removed > 0 {
			log.Info("discussion candidates filtered",
				slog.String("reason", "last_post_id"), slog.Int("removed", removed))
		}
		candidates = kept
	}
	if len(candidates) == 0 {
		log.Info("discussion skipped: all candidates already discussed")
		boardSkip("all candidates already discussed")
		return sentAny, nil
	}

	// The remaining filters always keep the newest candidate so the just
	// published post still gets its discussion and reactions.
	newest := candidates[0]
	recentTopics, recentFPs := parseRecentTopics(state.RecentTopicsJSON)

	if len(recentTopics) > 0 && len(candidates) > 1 {
		candidates = filterPreservingNewest(candidates, newest, "recent_topics", log, func(c postCandidate) bool {
			return topics.Overlap(topics.Extract(c.Text), recentTopics) == 0
		})
	}
	if len(recentFPs) > 0 && len(candidates) > 1 {
		seen := make(map[string]bool, len(recentFPs))
		for _, fp := range recentFPs {
			seen[fp] = true
		}
		candidates = filterPreservingNewest(candidates, newest, "fingerprint_seen", log, func(c postCandidate) bool {
			return !seen[dedup.Fingerprint(c.Text)]
		})
	}
	if s.cfg.Dedup.WindowSize > 0 && len(candidates) > 1 {
		if err := s.backfillSourceHistory(ctx, session, rt, sourceChannel, sourcePipeline.ID); err != nil {
			return sentAny, err
		}
		recent, err := session.ListRecentPostTexts(ctx, sourcePipeline.ID, s.cfg.Dedup.WindowSize)
		if err != nil {
			return sentAny, err
		}
		candidates = filterPreservingNewest(candidates, newest, "bm25_similar", log, func(c postCandidate) bool {
			similar, _ := similarToHistory(c.Text, recent, s.cfg.Dedup.BM25Threshold)
			return !similar
		})
	}
	if len(candidates) == 0 {
		log.Info("discussion skipped: all candidates already discussed")
		boardSkip("all candidates already discussed")
		return sentAny, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Text
	}
	s.board.Set(StatusEntry{PipelineID: pipeline.ID, Category: CategoryPipeline1, State: "selecting_post", Message: "selecting best post"})
	idx, selUsage, err := rt.LLM.SelectFromList(ctx, texts, recentTopics)
	if err != nil {
		log.Error("candidate selection failed", slog.String("error", err.Error()))
		boardSkip("candidate selection failed")
		return sentAny, nil
	}
	if idx < 0 || idx >= len(candidates) {
		idx = 0
	}
	selected := candidates[idx]
	newsText := selected.Text
	selFP := dedup.Fingerprint(newsText)
	log.Info("discussion candidate selected",
		slog.Int("message_id", selected.MessageID),
		slog.String("fingerprint", selFP))

	repliesCount := clock.WeightedPickInt(s.rnd, []int{1, 2, 3}, []int{60, 30, 10})
	weights, err := s.ensureBotWeights(ctx, session, pipeline.ID, rt.Name)
	if err != nil {
		return sentAny, err
	}
	available := availableBots(weights, now)
	if len(available) == 0 {
		log.Info("discussion skipped: no available userbots")
		boardSkip("no available userbots")
		return sentAny, nil
	}
	if repliesCount > len(available) {
		repliesCount = len(available)
	}

	messageTopics := topics.Extract(newsText)
	effective := buildEffectiveWeights(ctx, session, available, messageTopics)
	selectedBots := selectBots(available, repliesCount, effective, s.rnd)
	tones := make(map[string]string, len(selectedBots))
	for _, b := range selectedBots {
		tones[b.AccountName] = s.toneFor(ctx, session, b.AccountName)
	}
	orderByToneRank(selectedBots, tones)

	roles := make([]string, 0, len(selectedBots)+1)
	primaryRole, _ := roleLabelFor(ctx, session, rt.Name)
	roles = append(roles, primaryRole)
	for _, b := range selectedBots {
		role, _ := roleLabelFor(ctx, session, b.AccountName)
		roles = append(roles, role)
	}

	s.board.Set(StatusEntry{PipelineID: pipeline.ID, Category: CategoryPipeline1, State: "generating_question", Message: "generating discussion question"})
	qna, genUsage, err := rt.LLM.DiscussionQnA(ctx, newsText, repliesCount, roles, s.recentQuestions[pipeline.ID])
	if err != nil {
		log.Error("question generation failed", slog.String("error", err.Error()))
		boardSkip("question generation failed")
		return sentAny, nil
	}
	var replies []string
	for _, r := range qna.Replies {
		if t := strings.TrimSpace(r); t != "" {
			replies = append(replies, t)
		}
	}
	if len(replies) == 0 {
		log.Warn("question generation returned no replies")
		boardSkip("empty replies")
		return sentAny, nil
	}
	if repliesCount > len(replies) {
		repliesCount = len(replies)
	}
	replies = replies[:repliesCount]
	selectedBots = selectedBots[:repliesCount]

	questionID, err := rt.Writer().SendText(ctx, settings.TargetChat, qna.Question, 0)
	if err != nil {
		return sentAny, err
	}

	qID := int64(questionID)
	createdAt := selected.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	expiresAt := now.Add(questionLifetime)
	repliesPlanned := len(replies)
	zero := 0
	topicsJSON := pushRecentTopics(state.RecentTopicsJSON, messageTopics, selFP, s.cfg.Dedup.FingerprintRingSize)
	lastSource := int64(selected.MessageID)
	if state, err = session.UpdateDiscussionState(ctx, &store.UpdateDiscussionState{
		PipelineID:        pipeline.ID,
		QuestionMessageID: &qID,
		QuestionCreatedAt: &now,
		ExpiresAt:         &expiresAt,
		RepliesPlanned:    &repliesPlanned,
		RepliesSent:       &zero,
		LastReplyParentID: &qID,
		LastSourcePostID:  &lastSource,
		LastSourcePostAt:  &createdAt,
		RecentTopicsJSON:  &topicsJSON,
	}); err != nil {
		return sentAny, err
	}

	delayFactor := 1.5 - float64(level)/100
	if delayFactor < 0.5 {
		delayFactor = 0.5
	}
	if delayFactor > 1.5 {
		delayFactor = 1.5
	}
	for i, replyText := range replies {
		accountName := selectedBots[i].AccountName
		_, meta := roleLabelFor(ctx, session, accountName)
		fixed, _ := persona.FixGender(replyText, meta.Gender)
		delay := int(float64(replyDelayMinutes(i+1, s.rnd))*delayFactor + 0.5)
		if delay < 1 {
			delay = 1
		}
		if _, err := session.CreateDiscussionReply(ctx, &store.CreateDiscussionReply{
			PipelineID:  pipeline.ID,
			Kind:        store.ReplyKindDiscussion,
			AccountName: accountName,
			ReplyText:   fixed,
			SendAt:      now.Add(time.Duration(delay) * time.Minute),
		}); err != nil {
			return sentAny, err
		}
	}

	replyNames := make(map[string]bool, len(selectedBots))
	for _, b := range selectedBots {
		replyNames[b.AccountName] = true
	}
	s.reactToNewsPost(ctx, rt, sourceChannel, selected.MessageID, newsText, available, replyNames)
	s.adminReact(ctx, sourceChannel, selected.MessageID)

	selUsage.Add(genUsage)
	s.logUsage(rt, qna.Question, selUsage, false)
	s.rememberQuestion(pipeline.ID, qna.Question)

	nextDue := now.Add(time.Duration(s.rnd.IntBetween(effMin, effMax)) * time.Minute)
	if _, err := session.UpdateDiscussionState(ctx, &store.UpdateDiscussionState{
		PipelineID: pipeline.ID,
		NextDueAt:  &nextDue,
	}); err != nil {
		return sentAny, err
	}
	s.board.Set(StatusEntry{
		PipelineID: pipeline.ID, Category: CategoryPipeline1, State: "scheduled",
		NextAt: &nextDue, Message: fmt.Sprintf("replies planned: %d", len(replies)),
	})
	log.Info("discussion scheduled",
		slog.Int("question_message_id", questionID),
		slog.Int("replies", len(replies)),
		slog.Int("next_due_minutes", int(nextDue.Sub(now).Minutes())))
	return true, nil
}

// sendDuePlannedReplies flushes pending chain replies whose sendAt has
// passed, revalidating the discussion before each send.
func (s *Scheduler) sendDuePlannedReplies(ctx context.Context, session store.Session, pipeline *store.Pipeline, settings *store.DiscussionSettings, state *store.DiscussionState, rt *AccountRuntime) (bool, error) {
	now := s.clk.NowUTC()
	kind := store.ReplyKindDiscussion
	status := store.ReplyStatusPending
	due, err := session.ListDiscussionReplies(ctx, &store.FindDiscussionReply{
		PipelineID: &pipeline.ID,
		Kind:       &kind,
		Status:     &status,
		DueBefore:  &now,
	})
	if err != nil {
		return false, err
	}
	if len(due) == 0 {
		return false, nil
	}
	log := slog.With(slog.String("pipeline", pipeline.Name))
	botIDs := s.botUserIDs()
	sentAny := false

	cancel := func(reply *store.DiscussionReply, reason string) error {
		if err := session.MarkDiscussionReplyCancelled(ctx, reply.ID, reason); err != nil {
			return err
		}
		log.Info("planned reply cancelled", slog.Int64("reply_id", reply.ID), slog.String("reason", reason))
		s.board.Set(StatusEntry{
			PipelineID: pipeline.ID, Category: CategoryPipeline1, State: "cancelled",
			Message: fmt.Sprintf("reply %d: %s", reply.ID, reason),
		})
		return nil
	}

	for _, reply := range due {
		if state.QuestionMessageID == 0 || state.QuestionCreatedAt == nil {
			if err := cancel(reply, "no_question"); err != nil {
				return sentAny, err
			}
			continue
		}
		if state.ExpiresAt != nil && !now.Before(*state.ExpiresAt) {
			if err := cancel(reply, "expired"); err != nil {
				return sentAny, err
			}
			continue
		}
		valid, err := discussionStillValid(ctx, rt.Reader, settings.TargetChat, int(state.QuestionMessageID), botIDs)
		if err != nil {
			return sentAny, err
		}
		if !valid {
			if err := cancel(reply, "topic_moved"); err != nil {
				return sentAny, err
			}
			continue
		}
		botRT := s.runtimeFor(reply.AccountName)
		if botRT == nil {
			if err := cancel(reply, "account_missing"); err != nil {
				return sentAny, err
			}
			continue
		}

		replyTo := s.pickReplyParent(state, settings)
		sentID, err := botRT.Writer().SendText(ctx, settings.TargetChat, reply.ReplyText, int(replyTo))
		if err != nil {
			if telegram.AsFloodWaitBlocked(err) != nil {
				return sentAny, err
			}
			if err := cancel(reply, "send_failed"); err != nil {
				return sentAny, err
			}
			log.Warn("planned reply send failed", slog.Int64("reply_id", reply.ID), slog.String("error", err.Error()))
			continue
		}
		if err := session.MarkDiscussionReplySent(ctx, reply.ID, now); err != nil {
			return sentAny, err
		}
		repliesSent := state.RepliesSent + 1
		lastBotMsg := int64(sentID)
		if state, err = session.UpdateDiscussionState(ctx, &store.UpdateDiscussionState{
			PipelineID:            pipeline.ID,
			RepliesSent:           &repliesSent,
			LastBotReplyAt:        &now,
			LastReplyParentID:     &replyTo,
			LastBotReplyMessageID: &lastBotMsg,
		}); err != nil {
			return sentAny, err
		}
		if err := s.recordBotUsage(ctx, session, pipeline.ID, reply.AccountName, now); err != nil {
			return sentAny, err
		}
		s.board.Set(StatusEntry{
			PipelineID: pipeline.ID, Category: CategoryPipeline1, State: "sent",
			Message: fmt.Sprintf("bot %s -> %d", reply.AccountName, sentID),
		})
		log.Info("planned reply sent",
			slog.Int64("reply_id", reply.ID),
			slog.String("bot", reply.AccountName),
			slog.Int("message_id", sentID))
		sentAny = true
	}
	return sentAny, nil
}

// pickReplyParent threads a reply under the question, or under the last
// bot reply with the configured probability. A chain never goes deeper
// than question -> reply -> reply.
func (s *Scheduler) pickReplyParent(state *store.DiscussionState, settings *store.DiscussionSettings) int64 {
	questionID := state.QuestionMessageID
	if questionID == 0 {
		return 0
	}
	if state.LastReplyParentID != 0 && state.LastReplyParentID != questionID {
		return questionID
	}
	if s.rnd.Float() < float64(settings.ReplyToReplyProbability)/100 && state.LastBotReplyMessageID != 0 {
		return state.LastBotReplyMessageID
	}
	return questionID
}

// discussionStillValid inspects the chat tail after the question: two
// consecutive bot messages, or three humans ignoring the question, mean
// the thread moved on.
func discussionStillValid(ctx context.Context, reader telegram.Port, targetChat string, questionID int, botIDs map[int64]bool) (bool, error) {
	messages, err := reader.FetchHistorySince(ctx, targetChat, questionID, 10)
	if err != nil {
		return false, err
	}
	if len(messages) == 0 {
		return true, nil
	}
	consecutiveBots := 0
	for _, m := range messages {
		if !botIDs[m.FromID] {
			break
		}
		consecutiveBots++
	}
	if consecutiveBots >= 2 {
		return false, nil
	}
	humanOfftopic := 0
	for _, m := range messages {
		if botIDs[m.FromID] {
			continue
		}
		if m.ReplyToID != questionID {
			humanOfftopic++
		}
	}
	return humanOfftopic < 3, nil
}

// chatActive reports whether a human wrote in the chat within the
// inactivity window.
func (s *Scheduler) chatActive(ctx context.Context, reader telegram.Port, chat string, inactivityMinutes int) (bool, error) {
	messages, err := reader.FetchHistorySince(ctx, chat, 0, 50)
	if err != nil {
		return false, err
	}
	botIDs := s.botUserIDs()
	for _, m := range messages {
		if botIDs[m.FromID] {
			continue
		}
		if m.Text == "" && !m.HasPhoto() {
			continue
		}
		return s.clk.NowUTC().Sub(m.CreatedAt.UTC()) <= time.Duration(inactivityMinutes)*time.Minute, nil
	}
	return false, nil
}

// botUserIDs collects the platform user ids of every configured account.
func (s *Scheduler) botUserIDs() map[int64]bool {
	ids := make(map[int64]bool, len(s.accounts))
	for _, rt := range s.accounts {
		if rt.UserID != 0 {
			ids[rt.UserID] = true
		}
	}
	return ids
}

// ensureBotWeights guarantees a weight row for every account except the
// pipeline's primary, then returns the full set.
func (s *Scheduler) ensureBotWeights(ctx context.Context, session store.Session, pipelineID int64, primaryAccount string) ([]*store.DiscussionBotWeight, error) {
	existing, err := session.ListDiscussionBotWeights(ctx, pipelineID)
	if err != nil {
		return nil, err
	}
	names := make(map[string]bool, len(existing))
	for _, w := range existing {
		names[w.AccountName] = true
	}
	for i := range s.cfg.Accounts {
		name := s.cfg.Accounts[i].Name
		if name == primaryAccount || names[name] {
			continue
		}
		if _, err := session.UpsertDiscussionBotWeight(ctx, &store.UpsertDiscussionBotWeight{
			PipelineID:      pipelineID,
			AccountName:     name,
			Weight:          1,
			DailyLimit:      5,
			CooldownMinutes: 60,
		}); err != nil {
			return nil, err
		}
		names[name] = true
	}
	return session.ListDiscussionBotWeights(ctx, pipelineID)
}

// recordBotUsage bumps the bot's daily counter, resetting it first when
// the stored date is stale.
func (s *Scheduler) recordBotUsage(ctx context.Context, session store.Session, pipelineID int64, accountName string, now time.Time) error {
	weights, err := session.ListDiscussionBotWeights(ctx, pipelineID)
	if err != nil {
		return err
	}
	var row *store.DiscussionBotWeight
	for _, w := range weights {
		if w.AccountName == accountName {
			row = w
			break
		}
	}
	if row == nil {
		return nil
	}
	today := now.UTC().Format(dayFormat)
	used := row.UsedToday
	if row.UsedTodayDate != today {
		used = 0
	}
	used++
	_, err = session.UpdateDiscussionBotWeight(ctx, &store.UpdateDiscussionBotWeight{
		PipelineID:    pipelineID,
		AccountName:   accountName,
		UsedToday:     &used,
		UsedTodayDate: &today,
		LastUsedAt:    &now,
	})
	return err
}

// fetchRecentPosts collects up to limit text posts from the head of a
// channel, newest first.
func fetchRecentPosts(ctx context.Context, reader telegram.Port, channel string, limit, minTextLength int) ([]postCandidate, error) {
	messages, err := reader.FetchHistorySince(ctx, channel, 0, limit*2)
	if err != nil {
		return nil, err
	}
	var out []postCandidate
	for _, m := range messages {
		text := strings.TrimSpace(m.Text)
		if len([]rune(text)) < minTextLength {
			continue
		}
		out = append(out, postCandidate{MessageID: m.ID, Text: text, CreatedAt: m.CreatedAt})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// filterPreservingNewest drops candidates failing keep, then reinstates
// the newest one at the head if the filter removed it.
func filterPreservingNewest(candidates []postCandidate, newest postCandidate, reason string, log *slog.Logger, keep func(postCandidate) bool) []postCandidate {
	var kept []postCandidate
	newestKept := false
	for _, c := range candidates {
		if keep(c) {
			kept = append(kept, c)
			if c.MessageID == newest.MessageID {
				newestKept = true
			}
		}
	}
	if !newestKept {
		kept = append([]postCandidate{newest}, kept...)
	}
	if removed := len(candidates) - len(kept); removed > 0 {
		log.Info("discussion candidates filtered",
			slog.String("reason", reason), slog.Int("removed", removed))
	}
	return kept
}

// similarToHistory runs BM25 against recent history with the candidate
// itself excluded from the corpus.
func similarToHistory(text string, recent []string, threshold float64) (bool, float64) {
	trimmed := strings.TrimSpace(text)
	var corpus []string
	for _, t := range recent {
		if strings.TrimSpace(t) != trimmed {
			corpus = append(corpus, t)
		}
	}
	if len(corpus) == 0 {
		return false, 0
	}
	return dedup.SimilarBM25(text, corpus, threshold)
}

// backfillSourceHistory seeds the source pipeline's post history from its
// channel when the stored history is empty or stale, so the BM25 filter
// has a corpus after downtime.
func (s *Scheduler) backfillSourceHistory(ctx context.Context, session store.Session, rt *AccountRuntime, channel string, pipelineID int64) error {
	window := s.cfg.Dedup.WindowSize
	if window <= 0 {
		return nil
	}
	latest, err := session.LatestPostHistoryAt(ctx, pipelineID)
	if err != nil {
		return err
	}
	now := s.clk.NowUTC()
	if latest != nil && now.Sub(latest.UTC()) < historyStaleAfter {
		return nil
	}
	existing, err := session.ListRecentPostTexts(ctx, pipelineID, window)
	if err != nil {
		return err
	}
	known := make(map[string]bool, len(existing))
	for _, t := range existing {
		known[t] = true
	}
	messages, err := rt.Reader.FetchHistorySince(ctx, channel, 0, window*2)
	if err != nil {
		return err
	}
	var texts []string
	for _, m := range messages {
		text := strings.TrimSpace(m.Text)
		if len([]rune(text)) < s.cfg.MinTextLength || known[text] {
			continue
		}
		texts = append(texts, text)
	}
	if len(texts) == 0 {
		return nil
	}
	// Oldest first so history ordering matches channel recency.
	for i := len(texts) - 1; i >= 0; i-- {
		if err := session.AppendPostHistory(ctx, &store.AppendPostHistory{
			PipelineID: pipelineID,
			Text:       texts[i],
			CreatedAt:  now,
			Window:     window,
		}); err != nil {
			return err
		}
	}
	slog.Info("post history backfilled", slog.Int64("pipeline_id", pipelineID), slog.Int("posts", len(texts)))
	return nil
}

// rememberQuestion keeps the last few question texts per pipeline for the
// anti-repeat hint in the generation prompt.
func (s *Scheduler) rememberQuestion(pipelineID int64, question string) {
	ring := append(s.recentQuestions[pipelineID], question)
	if len(ring) > recentQuestionsKept {
		ring = ring[len(ring)-recentQuestionsKept:]
	}
	s.recentQuestions[pipelineID] = ring
}

// location resolves an IANA timezone name, falling back to UTC.
func (s *Scheduler) location(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		slog.Warn("unknown timezone, using UTC", slog.String("timezone", name))
		return time.UTC
	}
	return loc
}

// roleLabelFor builds the persona role instruction for one account from
// its stored persona row, with neutral defaults when absent.
func roleLabelFor(ctx context.Context, q store.Queries, accountName string) (string, persona.Meta) {
	p := persona.Persona{AccountName: accountName}
	row, err := q.GetPersona(ctx, &store.FindPersona{AccountName: &accountName})
	if err == nil && row != nil {
		p.Tone = row.Tone
		p.Verbosity = row.Verbosity
		p.StyleHint = row.StyleHint
		p.TopicPriority = row.TopicPriority
		p.OfftopicTolerance = row.OfftopicTolerance
		if row.TopicsJSON != "" {
			var tags []string
			if json.Unmarshal([]byte(row.TopicsJSON), &tags) == nil {
				p.Topics = tags
			}
		}
	}
	return persona.RoleLabel(p)
}

func (s *Scheduler) toneFor(ctx context.Context, q store.Queries, accountName string) string {
	row, err := q.GetPersona(ctx, &store.FindPersona{AccountName: &accountName})
	if err != nil || row == nil {
		return ""
	}
	return row.Tone
}

func replyDelayMinutes(index int, rnd clock.Rand) int {
	switch index {
	case 1:
		return rnd.IntBetween(5, 15)
	case 2:
		return rnd.IntBetween(5, 30)
	default:
		return rnd.IntBetween(10, 45)
	}
}

// recentTopicsPayload is the persisted shape of DiscussionState.recentTopicsJSON.
type recentTopicsPayload struct {
	Topics       []string `json:"topics"`
	Fingerprints []string `json:"fingerprints"`
}

// parseRecentTopics reads the anti-repeat memory. A bare JSON list is
// accepted as topics-only for rows written by older builds.
func parseRecentTopics(raw string) (topicTags, fingerprints []string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var payload recentTopicsPayload
	if err := json.Unmarshal([]byte(raw), &payload); err == nil && (payload.Topics != nil || payload.Fingerprints != nil) {
		for _, t := range payload.Topics {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				topicTags = append(topicTags, t)
			}
		}
		for _, fp := range payload.Fingerprints {
			if fp = strings.TrimSpace(fp); fp != "" && len(fp) <= 32 {
				fingerprints = append(fingerprints, fp)
			}
		}
		return topicTags, fingerprints
	}
	var bare []string
	if err := json.Unmarshal([]byte(raw), &bare); err == nil {
		for _, t := range bare {
			if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
				topicTags = append(topicTags, t)
			}
		}
	}
	return topicTags, nil
}

// pushRecentTopics moves the new topics to the front of the memory and
// appends the fingerprint to the ring, trimming both to their limits.
func pushRecentTopics(raw string, newTopics []string, fingerprint string, ringSize int) string {
	current, fps := parseRecentTopics(raw)
	for _, t := range newTopics {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		filtered := []string{t}
		for _, existing := range current {
			if existing != t {
				filtered = append(filtered, existing)
			}
		}
		current = filtered
	}
	if len(current) > recentTopicsLimit {
		current = current[:recentTopicsLimit]
	}
	if ringSize <= 0 {
		ringSize = dedup.DefaultFingerprintRing
	}
	fps = dedup.PushFingerprint(fps, fingerprint, ringSize)
	payload := recentTopicsPayload{Topics: current, Fingerprints: fps}
	if payload.Topics == nil {
		payload.Topics = []string{}
	}
	if payload.Fingerprints == nil {
		payload.Fingerprints = []string{}
	}
	out, _ := json.Marshal(payload)
	return string(out)
}
