package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/romanmihailow/tg-post-service/config"
	"github.com/romanmihailow/tg-post-service/internal/clock"
	"github.com/romanmihailow/tg-post-service/store"
)

// Conflict and tragedy vocabulary. Posts matching it never get 🔥 😎 😂.
var reactionSensitiveKeywords = []string{
	"конфликт", "войн", "трагеди", "санкц", "обстрел", "атак", "жертв",
	"погиб", "умер", "смерт", "теракт", "катастроф", "авари", "насили",
}

var reactionScandalKeywords = []string{
	"разоблачен", "скандал", "шок", "внезапно", "утечк", "хак", "мошенник",
	"обман", "подделка", "фейк", "расследован",
}

var reactionSportKeywords = []string{
	"спорт", "победа", "рекорд", "гол", "матч", "чемпион", "турнир",
	"олимпиад", "медал",
}

var reactionBoringKeywords = []string{
	"скучно", "опять", "рутина", "в сотый раз", "как всегда", "как обычно",
}

func containsAny(norm string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(norm, kw) {
			return true
		}
	}
	return false
}

func pickFrom(candidates []string, rnd clock.Rand) string {
	return candidates[rnd.IntBetween(0, len(candidates)-1)]
}

func intersect(prefer []string, candidates []string) []string {
	set := make(map[string]bool, len(candidates))
	for _, e := range candidates {
		set[e] = true
	}
	var out []string
	for _, e := range prefer {
		if set[e] {
			out = append(out, e)
		}
	}
	return out
}

// pickReactionEmoji chooses a reaction for the post text by keyword class.
// The rule name is returned for logging.
func pickReactionEmoji(text string, candidates []string, rnd clock.Rand) (emoji, rule string, sensitive bool) {
	if len(candidates) == 0 {
		return "👍", "fallback_empty", false
	}
	norm := strings.ToLower(strings.TrimSpace(text))
	if norm == "" {
		return pickFrom(candidates, rnd), "random", false
	}

	if containsAny(norm, reactionSensitiveKeywords) {
		if prefer := intersect([]string{"🤔", "👀", "✅"}, candidates); len(prefer) > 0 {
			return pickFrom(prefer, rnd), "sensitive", true
		}
		var safe []string
		for _, e := range candidates {
			if e != "🔥" && e != "😎" && e != "😂" {
				safe = append(safe, e)
			}
		}
		if len(safe) > 0 {
			return pickFrom(safe, rnd), "sensitive", true
		}
		return candidates[0], "sensitive", true
	}
	if containsAny(norm, reactionScandalKeywords) {
		if prefer := intersect([]string{"⚡", "👀", "🤔"}, candidates); len(prefer) > 0 {
			return pickFrom(prefer, rnd), "scandal", false
		}
	}
	if containsAny(norm, reactionSportKeywords) {
		if prefer := intersect([]string{"✅", "🔥", "😎"}, candidates); len(prefer) > 0 {
			return pickFrom(prefer, rnd), "sport", false
		}
	}
	if containsAny(norm, reactionBoringKeywords) {
		if len(intersect([]string{"🥱"}, candidates)) > 0 {
			return "🥱", "boring", false
		}
	}
	return pickFrom(candidates, rnd), "random", false
}

type botChatKey struct {
	account string
	chat    string
}

type postKey struct {
	chat  string
	msgID int
}

type postBotKey struct {
	chat    string
	msgID   int
	account string
}

// reactionTracker holds in-memory reaction budgets for one reaction class.
// Counters reset when the UTC date rolls over; nothing is persisted, a
// restart starts the day fresh.
type reactionTracker struct {
	mu        sync.Mutex
	day       string
	lastAt    map[botChatKey]time.Time
	today     map[botChatKey]int
	postCount map[postKey]int
	reactedBy map[postBotKey]bool
}

func newReactionTracker() *reactionTracker {
	return &reactionTracker{
		lastAt:    make(map[botChatKey]time.Time),
		today:     make(map[botChatKey]int),
		postCount: make(map[postKey]int),
		reactedBy: make(map[postBotKey]bool),
	}
}

func (t *reactionTracker) ensureDayLocked(now time.Time) {
	today := now.UTC().Format(dayFormat)
	if t.day != "" && t.day != today {
		t.today = make(map[botChatKey]int)
		t.postCount = make(map[postKey]int)
		t.reactedBy = make(map[postBotKey]bool)
	}
	t.day = today
}

func (t *reactionTracker) canReactLocked(account, chat string, now time.Time, cooldownMinutes, dailyLimit int) bool {
	key := botChatKey{account, chat}
	if last, ok := t.lastAt[key]; ok {
		if now.Sub(last) < time.Duration(cooldownMinutes)*time.Minute {
			return false
		}
	}
	return t.today[key] < dailyLimit
}

// CanReact reports whether the bot is under its cooldown and daily cap
// for the chat.
func (t *reactionTracker) CanReact(account, chat string, now time.Time, cooldownMinutes, dailyLimit int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureDayLocked(now)
	return t.canReactLocked(account, chat, now, cooldownMinutes, dailyLimit)
}

// Filter keeps the bots that are still allowed to react in the chat.
func (t *reactionTracker) Filter(bots []*store.DiscussionBotWeight, chat string, now time.Time, cooldownMinutes, dailyLimit int) []*store.DiscussionBotWeight {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureDayLocked(now)
	var out []*store.DiscussionBotWeight
	for _, b := range bots {
		if t.canReactLocked(b.AccountName, chat, now, cooldownMinutes, dailyLimit) {
			out = append(out, b)
		}
	}
	return out
}

// PostReactions returns how many reactions landed on the message today.
func (t *reactionTracker) PostReactions(chat string, msgID int, now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureDayLocked(now)
	return t.postCount[postKey{chat, msgID}]
}

// BotReactedToPost reports whether the bot already reacted to the
// message today.
func (t *reactionTracker) BotReactedToPost(account, chat string, msgID int, now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureDayLocked(now)
	return t.reactedBy[postBotKey{chat, msgID, account}]
}

// Mark records a successful reaction against every budget.
func (t *reactionTracker) Mark(account, chat string, msgID int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ensureDayLocked(now)
	key := botChatKey{account, chat}
	t.lastAt[key] = now
	t.today[key]++
	t.postCount[postKey{chat, msgID}]++
	t.reactedBy[postBotKey{chat, msgID, account}] = true
}

// reactToNewsPost places bot reactions on the selected source post after a
// discussion question is published. Failures never propagate; a post
// without reactions is a normal outcome.
func (s *Scheduler) reactToNewsPost(ctx context.Context, rt *AccountRuntime, chat string, msgID int, text string, available []*store.DiscussionBotWeight, replyNames map[string]bool) {
	rc := s.cfg.PostReactions
	if !rc.Enabled || msgID == 0 {
		return
	}
	now := s.clk.NowUTC()
	log := slog.With(slog.String("chat", chat), slog.Int("message_id", msgID))

	candidates := rc.Emojis
	if rc.UseAllowedFromTelegram {
		allowed, err := rt.Reader.AllowedReactions(ctx, chat)
		if err != nil {
			log.Warn("allowed reactions lookup failed", slog.String("error", err.Error()))
		} else if len(allowed) > 0 {
			if len(allowed) > rc.AllowedSampleLimit {
				allowed = allowed[:rc.AllowedSampleLimit]
			}
			candidates = allowed
		}
	}

	attempts := rc.MaxReactionsPerPostPerDay - s.postReacts.PostReactions(chat, msgID, now)
	if attempts > 3 {
		attempts = 3
	}
	if attempts <= 0 {
		log.Info("reaction skipped", slog.String("why", "post_daily_cap"))
		return
	}
	if s.rnd.Float() >= rc.Probability {
		log.Info("reaction skipped", slog.String("why", "probability"))
		return
	}

	for i := 0; i < attempts; i++ {
		count := s.postReacts.PostReactions(chat, msgID, now)
		if count >= rc.MaxReactionsPerPostPerDay {
			break
		}
		eligible := s.postReacts.Filter(available, chat, now, rc.CooldownMinutes, rc.DailyLimitPerBot)
		var fresh []*store.DiscussionBotWeight
		for _, b := range eligible {
			if !s.postReacts.BotReactedToPost(b.AccountName, chat, msgID, now) {
				fresh = append(fresh, b)
			}
		}
		if len(fresh) == 0 {
			why := "limit"
			if len(eligible) > 0 {
				why = "bot_already_reacted"
			}
			log.Info("reaction skipped", slog.String("why", why))
			break
		}
		// Bots that stay silent in the thread react first.
		var preferred []*store.DiscussionBotWeight
		for _, b := range fresh {
			if !replyNames[b.AccountName] {
				preferred = append(preferred, b)
			}
		}
		pool := preferred
		if len(pool) == 0 {
			pool = fresh
		}
		bot := pool[s.rnd.IntBetween(0, len(pool)-1)]
		botRT := s.runtimeFor(bot.AccountName)
		if botRT == nil {
			log.Info("reaction skipped", slog.String("bot", bot.AccountName), slog.String("why", "no_runtime"))
			continue
		}
		emoji, rule, sensitive := pickReactionEmoji(text, candidates, s.rnd)
		if err := botRT.Writer().SetReaction(ctx, chat, msgID, emoji); err != nil {
			log.Warn("reaction failed",
				slog.String("bot", bot.AccountName),
				slog.String("emoji", emoji),
				slog.String("error", err.Error()))
			break
		}
		s.postReacts.Mark(bot.AccountName, chat, msgID, now)
		log.Info("reaction set",
			slog.String("bot", bot.AccountName),
			slog.String("emoji", emoji),
			slog.String("rule", rule),
			slog.Bool("sensitive", sensitive))
		if count+1 >= min(rc.MinBotsPerPost, rc.MaxReactionsPerPostPerDay) {
			break
		}
	}
}

// reactToUserMessage optionally puts a reaction on a chat message a bot
// replied to. Used only when reactions are rule-based; the model-driven
// path picks the emoji at plan time.
func (s *Scheduler) reactToUserMessage(ctx context.Context, accountName, chat string, msgID int, text string) {
	rc := s.cfg.ChatReactions
	if !rc.Enabled || rc.ModelDriven || msgID == 0 {
		return
	}
	now := s.clk.NowUTC()
	log := slog.With(slog.String("chat", chat), slog.Int("message_id", msgID), slog.String("bot", accountName))

	if s.chatReacts.PostReactions(chat, msgID, now) > 0 {
		log.Info("chat reaction skipped", slog.String("why", "already_reacted_today"))
		return
	}
	if s.rnd.Float() >= rc.Probability {
		return
	}
	if !s.chatReacts.CanReact(accountName, chat, now, rc.CooldownMinutes, rc.DailyLimitPerBot) {
		log.Info("chat reaction skipped", slog.String("why", "limit"))
		return
	}
	rt := s.runtimeFor(accountName)
	if rt == nil {
		return
	}
	emoji, rule, _ := pickReactionEmoji(text, rc.Emojis, s.rnd)
	if err := rt.Writer().SetReaction(ctx, chat, msgID, emoji); err != nil {
		log.Warn("chat reaction failed", slog.String("error", err.Error()))
		return
	}
	s.chatReacts.Mark(accountName, chat, msgID, now)
	log.Info("chat reaction set", slog.String("emoji", emoji), slog.String("rule", rule))
}

// setModelReaction places a model-chosen reaction immediately, still
// honoring the chat reaction budgets.
func (s *Scheduler) setModelReaction(ctx context.Context, accountName, chat string, msgID int, emoji string) {
	rc := s.cfg.ChatReactions
	if emoji == "" || msgID == 0 {
		return
	}
	now := s.clk.NowUTC()
	log := slog.With(slog.String("chat", chat), slog.Int("message_id", msgID), slog.String("bot", accountName))

	if s.chatReacts.PostReactions(chat, msgID, now) > 0 {
		log.Info("chat reaction skipped", slog.String("why", "already_reacted_today"))
		return
	}
	if !s.chatReacts.CanReact(accountName, chat, now, rc.CooldownMinutes, rc.DailyLimitPerBot) {
		log.Info("chat reaction skipped", slog.String("why", "limit"))
		return
	}
	rt := s.runtimeFor(accountName)
	if rt == nil {
		return
	}
	if err := rt.Writer().SetReaction(ctx, chat, msgID, emoji); err != nil {
		log.Warn("chat reaction failed", slog.String("error", err.Error()))
		return
	}
	s.chatReacts.Mark(accountName, chat, msgID, now)
	log.Info("chat reaction set", slog.String("emoji", emoji), slog.String("rule", "model"))
}

// adminReact puts the owner account's marker reaction on a source channel
// post once a discussion question for it goes out.
func (s *Scheduler) adminReact(ctx context.Context, channel string, msgID int) {
	rc := s.cfg.AdminReactions
	if !rc.Enabled {
		return
	}
	log := slog.With(slog.String("channel", channel), slog.Int("message_id", msgID))
	if channel == "" || msgID == 0 {
		log.Info("admin reaction skipped", slog.String("why", "target_missing"))
		return
	}
	name := strings.TrimSpace(rc.AccountName)
	if name == "" {
		log.Info("admin reaction skipped", slog.String("why", "admin_account_missing"))
		return
	}
	rt := s.runtimeFor(name)
	if rt == nil {
		log.Warn("admin reaction skipped", slog.String("account", name), slog.String("why", "no_runtime"))
		return
	}
	if rc.Probability < 1 && s.rnd.Float() >= rc.Probability {
		return
	}

	emoji := s.resolveAdminEmoji(ctx, rt, channel, rc)
	if emoji == "" {
		return
	}
	if err := rt.Writer().SetReaction(ctx, channel, msgID, emoji); err != nil {
		log.Warn("admin reaction failed", slog.String("emoji", emoji), slog.String("error", err.Error()))
		return
	}
	log.Info("admin reaction set", slog.String("emoji", emoji))
}

// resolveAdminEmoji picks the target emoji when the channel allows it, the
// fallback otherwise. An empty result means skip.
func (s *Scheduler) resolveAdminEmoji(ctx context.Context, rt *AccountRuntime, channel string, rc config.AdminReactions) string {
	allowed, err := rt.Writer().AllowedReactions(ctx, channel)
	if err != nil {
		slog.Warn("admin allowed reactions lookup failed", slog.String("channel", channel), slog.String("error", err.Error()))
		allowed = nil
	}
	if len(allowed) == 0 {
		if rc.SkipIfUnavailable {
			return ""
		}
		return rc.FallbackEmoji
	}
	set := make(map[string]bool, len(allowed))
	for _, e := range allowed {
		set[e] = true
	}
	if set[rc.TargetEmoji] {
		return rc.TargetEmoji
	}
	if !rc.SkipIfUnavailable && set[rc.FallbackEmoji] {
		return rc.FallbackEmoji
	}
	return ""
}
