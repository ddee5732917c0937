package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/romanmihailow/tg-post-service/internal/clock"
	"github.com/romanmihailow/tg-post-service/llm"
	"github.com/romanmihailow/tg-post-service/persona"
	"github.com/romanmihailow/tg-post-service/store"
	"github.com/romanmihailow/tg-post-service/telegram"
	"github.com/romanmihailow/tg-post-service/topics"
)

const (
	maxDueUserRepliesPerCycle = 5
	chatContextDepth          = 8
	scanFetchLimit            = 50
)

var replyTriggerPhrases = []string{
	"как думаете",
	"что скажете",
	"есть инфа",
	"а это как работает",
}

// replyCandidate is one human chat message worth answering.
type replyCandidate struct {
	Message      telegram.Message
	IsReplyToBot bool
}

// runLiveReplies executes one Pipeline-D P2 cycle: flush due user replies,
// then scan the chat for fresh candidates and plan new ones.
func (s *Scheduler) runLiveReplies(ctx context.Context, session store.Session, pipeline *store.Pipeline, rt *AccountRuntime) error {
	log := slog.With(slog.String("pipeline", pipeline.Name))

	settings, err := session.GetDiscussionSettings(ctx, pipeline.ID)
	if err != nil {
		return err
	}
	if settings == nil || settings.TargetChat == "" {
		s.board.Set(StatusEntry{PipelineID: pipeline.ID, Category: CategoryPipeline2, State: "idle", Message: "discussion settings missing"})
		return nil
	}

	now := s.clk.NowUTC()
	local := s.clk.NowIn(s.location(settings.Timezone))
	windowsJSON, _ := windowsFor(local, settings.ActivityWindowsWeekdaysJSON, settings.ActivityWindowsWeekendsJSON)
	windows, err := ParseActivityWindows(windowsJSON)
	if err != nil {
		log.Warn("activity windows parse failed", slog.String("error", err.Error()))
	}
	if len(windows) > 0 && !WithinWindows(local, windows) {
		log.Info("user replies skipped: outside activity window")
		s.board.Set(StatusEntry{PipelineID: pipeline.ID, Category: CategoryPipeline2, State: "skipped", Message: "outside activity window"})
		return s.sendDueUserReplies(ctx, session, pipeline, settings, false)
	}
	if err := s.sendDueUserReplies(ctx, session, pipeline, settings, true); err != nil {
		return err
	}

	chatState, err := session.GetChatState(ctx, pipeline.ID, 0)
	if err != nil {
		return err
	}
	if chatState.NextScanAt != nil && now.Before(*chatState.NextScanAt) {
		s.board.Set(StatusEntry{
			PipelineID: pipeline.ID, Category: CategoryPipeline2, State: "waiting",
			NextAt: chatState.NextScanAt, Message: "next scan pending",
		})
		return nil
	}

	s.board.Set(StatusEntry{PipelineID: pipeline.ID, Category: CategoryPipeline2, State: "processing", Message: "scanning chat"})
	candidates, maxID, lastHumanAt, err := s.scanChatForCandidates(ctx, rt.Reader, settings.TargetChat, chatState.LastSeenMessageID)
	if err != nil {
		return err
	}
	nextScan := now.Add(time.Duration(s.rnd.IntBetween(30, 60)) * time.Second)
	log.Info("chat scan done",
		slog.Int("candidates", len(candidates)),
		slog.Int64("last_seen_message_id", chatState.LastSeenMessageID))

	update := &store.UpdateChatState{PipelineID: pipeline.ID, ChatID: 0, NextScanAt: &nextScan}
	if lastHumanAt != nil {
		chatState.LastHumanMessageAt = lastHumanAt
		update.LastHumanMessageAt = lastHumanAt
	}
	if len(candidates) == 0 {
		if maxID > chatState.LastSeenMessageID {
			update.LastSeenMessageID = &maxID
		}
		if _, err := session.UpdateChatState(ctx, update); err != nil {
			return err
		}
		s.board.Set(StatusEntry{
			PipelineID: pipeline.ID, Category: CategoryPipeline2, State: "waiting",
			NextAt: &nextScan, Message: "no candidates",
		})
		return nil
	}

	repliesCreated := 0
	lastSelectedBot := ""
	for _, cand := range candidates {
		created, lastUsed, err := s.planUserReply(ctx, session, pipeline, settings, rt, chatState, cand, lastSelectedBot)
		if err != nil {
			return err
		}
		if created {
			repliesCreated++
		}
		if lastUsed != "" {
			lastSelectedBot = lastUsed
		}
	}
	// The cursor only advances when planning succeeded, so skipped
	// candidates get another look on the next scan.
	if maxID > chatState.LastSeenMessageID && repliesCreated > 0 {
		update.LastSeenMessageID = &maxID
	} else if repliesCreated == 0 {
		log.Info("no replies planned, keeping scan cursor",
			slog.Int("candidates", len(candidates)),
			slog.Int64("last_seen_message_id", chatState.LastSeenMessageID))
	}
	update.RepliesToday = &chatState.RepliesToday
	update.RepliesTodayDate = &chatState.RepliesTodayDate
	_, err = session.UpdateChatState(ctx, update)
	return err
}

// scanChatForCandidates walks unseen chat messages in ascending order and
// keeps the human ones worth a reply. Returns the candidates, the highest
// message id observed, and the newest human message time.
func (s *Scheduler) scanChatForCandidates(ctx context.Context, reader telegram.Port, chat string, lastSeen int64) ([]replyCandidate, int64, *time.Time, error) {
	history, err := reader.FetchHistorySince(ctx, chat, 0, historyDepthForScan)
	if err != nil {
		return nil, 0, nil, err
	}
	byID := make(map[int]telegram.Message, len(history))
	var fresh []telegram.Message
	for _, m := range history {
		byID[m.ID] = m
		if int64(m.ID) > lastSeen {
			fresh = append(fresh, m)
		}
	}
	if len(fresh) == 0 {
		return nil, 0, nil, nil
	}
	sort.Slice(fresh, func(i, j int) bool { return fresh[i].ID < fresh[j].ID })
	if len(fresh) > scanFetchLimit {
		fresh = fresh[:scanFetchLimit]
	}

	botIDs := s.botUserIDs()
	maxID := lastSeen
	var candidates []replyCandidate
	var lastHumanAt *time.Time
	for _, m := range fresh {
		if int64(m.ID) > maxID {
			maxID = int64(m.ID)
		}
		if m.IsBot || botIDs[m.FromID] {
			continue
		}
		text := strings.TrimSpace(m.Text)
		if text == "" && !m.HasPhoto() {
			continue
		}
		at := m.CreatedAt
		lastHumanAt = &at
		isReplyToBot := false
		if m.ReplyToID != 0 {
			if parent, ok := byID[m.ReplyToID]; ok && botIDs[parent.FromID] {
				isReplyToBot = true
			}
		}
		if isCandidateForReply(text, isReplyToBot) {
			candidates = append(candidates, replyCandidate{Message: m, IsReplyToBot: isReplyToBot})
		}
	}
	return candidates, maxID, lastHumanAt, nil
}

// historyDepthForScan covers both the unseen tail and reply-parent lookup.
const historyDepthForScan = 200

func isCandidateForReply(text string, isReplyToBot bool) bool {
	if isReplyToBot {
		return true
	}
	lowered := strings.ToLower(text)
	if strings.Contains(lowered, "?") {
		return true
	}
	for _, trigger := range replyTriggerPhrases {
		if strings.Contains(lowered, trigger) {
			return true
		}
	}
	return false
}

// planUserReply decides whether to answer one candidate and schedules up
// to two bot replies for it. Returns (created, lastUsedBot, err).
func (s *Scheduler) planUserReply(ctx context.Context, session store.Session, pipeline *store.Pipeline, settings *store.DiscussionSettings, rt *AccountRuntime, chatState *store.ChatState, cand replyCandidate, lastSelectedBot string) (bool, string, error) {
	now := s.clk.NowUTC()
	msgID := cand.Message.ID
	log := slog.With(slog.String("pipeline", pipeline.Name), slog.Int("message_id", msgID))
	boardSkip := func(why string) {
		s.board.Set(StatusEntry{
			PipelineID: pipeline.ID, Category: CategoryPipeline2, State: "skipped",
			Message: fmt.Sprintf("message %d: %s", msgID, why),
		})
	}

	replyLevel := rt.UserReplyActivityPercent
	replyFactor := activityFactor(replyLevel)
	today := now.Format(dayFormat)
	if chatState.RepliesTodayDate != today {
		chatState.RepliesToday = 0
		chatState.RepliesTodayDate = today
	}
	maxReplies := settings.MaxAutoRepliesPerChatPerDay
	if maxReplies > 0 {
		maxReplies = int(float64(maxReplies)*replyFactor + 0.5)
		if maxReplies < 1 {
			maxReplies = 1
		}
	}
	if maxReplies > 0 && chatState.RepliesToday >= maxReplies {
		log.Info("user reply skipped: global limit reached")
		boardSkip("global limit")
		return false, "", nil
	}

	boosted := cand.IsReplyToBot || strings.Contains(cand.Message.Text, "?")
	prob := 0.4 + s.rnd.Float()*0.2
	if boosted {
		prob = 0.8
	}
	prob *= replyFactor
	if prob > 0.95 {
		prob = 0.95
	}
	if s.rnd.Float() > prob {
		log.Info("user reply skipped: probability")
		boardSkip("probability")
		return false, "", nil
	}

	if settings.UserReplyMaxAgeMinutes > 0 {
		age := now.Sub(cand.Message.CreatedAt.UTC())
		if age > time.Duration(settings.UserReplyMaxAgeMinutes)*time.Minute {
			log.Info("user reply skipped: message too old")
			boardSkip("too old")
			return false, "", nil
		}
	}

	effInactivity := 0
	if settings.InactivityPauseMinutes > 0 {
		effInactivity = scaleMinutes(settings.InactivityPauseMinutes, replyLevel, 0)
	}
	if effInactivity > 0 && chatState.LastHumanMessageAt != nil {
		if now.Sub(chatState.LastHumanMessageAt.UTC()) > time.Duration(effInactivity)*time.Minute {
			log.Info("user reply skipped: inactive chat")
			boardSkip("inactive chat")
			return false, "", nil
		}
	}

	repliesCount := clock.WeightedPickInt(s.rnd, []int{1, 2}, []int{80, 20})
	weights, err := s.ensureBotWeights(ctx, session, pipeline.ID, rt.Name)
	if err != nil {
		return false, "", err
	}
	available := availableBots(weights, now)
	if len(available) == 0 {
		log.Info("user reply skipped: no available userbots")
		boardSkip("no available userbots")
		return false, "", nil
	}
	// Vary the voice within one scan when alternatives exist.
	if lastSelectedBot != "" && len(available) > 1 {
		var rest []*store.DiscussionBotWeight
		for _, b := range available {
			if b.AccountName != lastSelectedBot {
				rest = append(rest, b)
			}
		}
		available = rest
	}
	messageTopics := topics.Extract(cand.Message.Text)
	effective := buildEffectiveWeights(ctx, session, available, messageTopics)
	selectedBots := selectBots(available, repliesCount, effective, s.rnd)

	context, err := fetchChatContext(ctx, rt.Reader, settings.TargetChat, chatContextDepth)
	if err != nil {
		return false, "", err
	}

	base := cand.Message.CreatedAt.UTC()
	firstSendAt := base.Add(time.Duration(s.rnd.IntBetween(2, 10)) * time.Minute)
	secondSendAt := firstSendAt.Add(time.Duration(s.rnd.IntBetween(3, 15)) * time.Minute)

	rc := s.cfg.ChatReactions
	modelDriven := rc.ModelDriven && rc.Enabled
	var allowedReactions []string
	if modelDriven {
		allowedReactions, err = rt.Reader.AllowedReactions(ctx, settings.TargetChat)
		if err != nil {
			log.Warn("allowed reactions lookup failed", slog.String("error", err.Error()))
		}
		if len(allowedReactions) == 0 {
			allowedReactions = rc.Emojis
		}
	}

	createdAny := false
	lastUsed := ""
	for i, bot := range selectedBots {
		botRT := s.runtimeFor(bot.AccountName)
		if botRT == nil {
			continue
		}
		roleLabel, meta := roleLabelFor(ctx, session, bot.AccountName)
		reply, _, err := botRT.LLM.GenerateUserReply(ctx, &llm.UserReplyRequest{
			SourceText:           cand.Message.Text,
			Context:              context,
			RoleLabel:            roleLabel,
			Meta:                 &meta,
			SystemPromptOverride: botRT.SystemPromptChat,
			AllowedReactions:     allowedReactions,
			ModelDrivenReaction:  modelDriven,
			ReactionNullRate:     rc.ModelNullRate,
		})
		if err != nil {
			log.Error("user reply generation failed",
				slog.String("bot", bot.AccountName),
				slog.String("error", err.Error()))
			boardSkip("llm error")
			continue
		}
		if reply.Text == "" {
			continue
		}
		fixed, _ := persona.FixGender(reply.Text, meta.Gender)
		sendAt := firstSendAt
		if i > 0 {
			sendAt = secondSendAt
		}
		if _, err := session.CreateDiscussionReply(ctx, &store.CreateDiscussionReply{
			PipelineID:       pipeline.ID,
			Kind:             store.ReplyKindUserReply,
			ChatID:           cand.Message.ChatID,
			AccountName:      bot.AccountName,
			ReplyText:        fixed,
			SendAt:           sendAt,
			ReplyToMessageID: int64(msgID),
			SourceMessageAt:  &base,
		}); err != nil {
			return createdAny, lastUsed, err
		}
		createdAny = true
		lastUsed = bot.AccountName
		chatState.RepliesToday++

		if modelDriven && reply.ReactionEmoji != "" {
			s.setModelReaction(ctx, bot.AccountName, replyDestination(cand.Message.ChatID, settings.TargetChat), msgID, reply.ReactionEmoji)
		}
		s.board.Set(StatusEntry{
			PipelineID: pipeline.ID, Category: CategoryPipeline2, State: "scheduled",
			NextAt: &sendAt, Message: fmt.Sprintf("message %d: bot %s", msgID, bot.AccountName),
		})
		log.Info("user reply scheduled",
			slog.String("bot", bot.AccountName),
			slog.String("tone", meta.Tone),
			slog.String("verbosity", meta.Verbosity),
			slog.Time("send_at", sendAt))
	}
	return createdAny, lastUsed, nil
}

// sendDueUserReplies delivers pending live replies whose sendAt passed,
// bounded per cycle. With allowSend false every due reply is cancelled,
// used outside the activity window.
func (s *Scheduler) sendDueUserReplies(ctx context.Context, session store.Session, pipeline *store.Pipeline, settings *store.DiscussionSettings, allowSend bool) error {
	now := s.clk.NowUTC()
	kind := store.ReplyKindUserReply
	status := store.ReplyStatusPending
	limit := maxDueUserRepliesPerCycle
	due, err := session.ListDiscussionReplies(ctx, &store.FindDiscussionReply{
		PipelineID: &pipeline.ID,
		Kind:       &kind,
		Status:     &status,
		DueBefore:  &now,
		Limit:      &limit,
	})
	if err != nil {
		return err
	}
	if len(due) == 0 {
		return nil
	}
	log := slog.With(slog.String("pipeline", pipeline.Name))

	cancel := func(reply *store.DiscussionReply, reason string) error {
		if err := session.MarkDiscussionReplyCancelled(ctx, reply.ID, reason); err != nil {
			return err
		}
		log.Info("user reply cancelled", slog.Int64("reply_id", reply.ID), slog.String("reason", reason))
		s.board.Set(StatusEntry{
			PipelineID: pipeline.ID, Category: CategoryPipeline2, State: "cancelled",
			Message: fmt.Sprintf("reply %d: %s", reply.ID, reason),
		})
		return nil
	}

	if !allowSend {
		for _, reply := range due {
			if err := cancel(reply, "outside activity window"); err != nil {
				return err
			}
		}
		return nil
	}

	chatState, err := session.GetChatState(ctx, pipeline.ID, 0)
	if err != nil {
		return err
	}
	rt := s.runtimeFor(pipeline.AccountName)
	replyLevel := 50
	if rt != nil {
		replyLevel = rt.UserReplyActivityPercent
	}
	effInactivity := 0
	if settings.InactivityPauseMinutes > 0 {
		effInactivity = scaleMinutes(settings.InactivityPauseMinutes, replyLevel, 0)
	}
	if effInactivity > 0 && chatState.LastHumanMessageAt != nil {
		if now.Sub(chatState.LastHumanMessageAt.UTC()) > time.Duration(effInactivity)*time.Minute {
			for _, reply := range due {
				if err := cancel(reply, "inactive chat"); err != nil {
					return err
				}
			}
			return nil
		}
	}

	weights, err := session.ListDiscussionBotWeights(ctx, pipeline.ID)
	if err != nil {
		return err
	}
	byName := make(map[string]*store.DiscussionBotWeight, len(weights))
	for _, w := range weights {
		byName[w.AccountName] = w
	}

	for _, reply := range due {
		if reply.ReplyToMessageID == 0 {
			if err := cancel(reply, "missing reply_to"); err != nil {
				return err
			}
			continue
		}
		if settings.UserReplyMaxAgeMinutes > 0 {
			ref := reply.SendAt
			if reply.SourceMessageAt != nil {
				ref = *reply.SourceMessageAt
			}
			if now.Sub(ref.UTC()) > time.Duration(settings.UserReplyMaxAgeMinutes)*time.Minute {
				if err := cancel(reply, "message too old"); err != nil {
					return err
				}
				continue
			}
		}
		botRT := s.runtimeFor(reply.AccountName)
		if botRT == nil {
			if err := cancel(reply, "account_missing"); err != nil {
				return err
			}
			continue
		}
		if !botUsable(byName[reply.AccountName], now) {
			if err := cancel(reply, "cooldown/limit"); err != nil {
				return err
			}
			continue
		}

		dest := replyDestination(reply.ChatID, settings.TargetChat)
		sentID, err := botRT.Writer().SendText(ctx, dest, reply.ReplyText, int(reply.ReplyToMessageID))
		if err != nil {
			if telegram.AsFloodWaitBlocked(err) != nil {
				return err
			}
			if err := cancel(reply, "send failed"); err != nil {
				return err
			}
			log.Warn("user reply send failed", slog.Int64("reply_id", reply.ID), slog.String("error", err.Error()))
			continue
		}
		if err := session.MarkDiscussionReplySent(ctx, reply.ID, now); err != nil {
			return err
		}
		if err := s.recordBotUsage(ctx, session, pipeline.ID, reply.AccountName, now); err != nil {
			return err
		}
		s.board.Set(StatusEntry{
			PipelineID: pipeline.ID, Category: CategoryPipeline2, State: "sent",
			Message: fmt.Sprintf("bot %s -> %d", reply.AccountName, sentID),
		})
		log.Info("user reply sent",
			slog.String("bot", reply.AccountName),
			slog.Int("message_id", sentID))
		s.reactToUserMessage(ctx, reply.AccountName, dest, int(reply.ReplyToMessageID), "")
	}
	return nil
}

// botUsable mirrors the availability rules at send time: a weight row must
// exist with budget left and the cooldown elapsed.
func botUsable(row *store.DiscussionBotWeight, now time.Time) bool {
	if row == nil {
		return false
	}
	used := row.UsedToday
	if row.UsedTodayDate != now.UTC().Format(dayFormat) {
		used = 0
	}
	if used >= row.DailyLimit {
		return false
	}
	if row.LastUsedAt != nil {
		if now.Sub(row.LastUsedAt.UTC()) < time.Duration(row.CooldownMinutes)*time.Minute {
			return false
		}
	}
	return true
}

// replyDestination prefers the numeric chat captured at plan time.
func replyDestination(chatID int64, fallback string) string {
	if chatID != 0 {
		return strconv.FormatInt(chatID, 10)
	}
	return fallback
}

// fetchChatContext returns up to limit recent chat texts, oldest first.
func fetchChatContext(ctx context.Context, reader telegram.Port, chat string, limit int) ([]string, error) {
	messages, err := reader.FetchHistorySince(ctx, chat, 0, limit)
	if err != nil {
		return nil, err
	}
	var texts []string
	for i := len(messages) - 1; i >= 0; i-- {
		if text := strings.TrimSpace(messages[i].Text); text != "" {
			texts = append(texts, text)
		}
	}
	return texts, nil
}
