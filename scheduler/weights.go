package scheduler

import (
	"context"
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/romanmihailow/tg-post-service/internal/clock"
	"github.com/romanmihailow/tg-post-service/persona"
	"github.com/romanmihailow/tg-post-service/store"
	"github.com/romanmihailow/tg-post-service/topics"
)

const dayFormat = "2006-01-02"

// availableBots filters weights down to bots that can speak now: under the
// daily cap, past their cooldown, with positive weight. A row from a past
// day has its counter reset in memory; the reset is persisted when the bot
// is next used.
func availableBots(weights []*store.DiscussionBotWeight, now time.Time) []*store.DiscussionBotWeight {
	today := now.UTC().Format(dayFormat)
	var available []*store.DiscussionBotWeight
	for _, item := range weights {
		if item.UsedTodayDate != today {
			item.UsedToday = 0
			item.UsedTodayDate = today
		}
		if item.UsedToday >= item.DailyLimit {
			continue
		}
		if item.LastUsedAt != nil {
			if now.Sub(item.LastUsedAt.UTC()) < time.Duration(item.CooldownMinutes)*time.Minute {
				continue
			}
		}
		if item.Weight <= 0 {
			continue
		}
		available = append(available, item)
	}
	return available
}

// personaInterest is the topic-bias slice of a persona.
type personaInterest struct {
	topics            []string
	topicPriority     int
	offtopicTolerance int
}

// loadPersonaInterest reads a bot's topic interests, defaulting priority
// and tolerance to 50 for accounts without a persona row.
func loadPersonaInterest(ctx context.Context, q store.Queries, accountName string) personaInterest {
	interest := personaInterest{topicPriority: 50, offtopicTolerance: 50}
	p, err := q.GetPersona(ctx, &store.FindPersona{AccountName: &accountName})
	if err != nil || p == nil {
		return interest
	}
	interest.topicPriority = p.TopicPriority
	interest.offtopicTolerance = p.OfftopicTolerance
	if p.TopicsJSON != "" {
		var tags []string
		if err := json.Unmarshal([]byte(p.TopicsJSON), &tags); err != nil {
			slog.Warn("persona topics parse failed", slog.String("account", accountName))
		} else {
			interest.topics = tags
		}
	}
	return interest
}

func clampPercent(v int) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 1
	}
	return float64(v) / 100
}

// topicMultiplier computes the soft topic bias for one bot. No topics on
// either side keeps the weight; overlap boosts it; a mismatch softens it
// by the offtopic tolerance but never hard-excludes.
func topicMultiplier(messageTopics []string, interest personaInterest) (float64, bool) {
	if len(messageTopics) == 0 || len(interest.topics) == 0 {
		return 1.0, false
	}
	overlap := topics.Overlap(messageTopics, interest.topics)
	if overlap == 0 {
		return clampPercent(interest.offtopicTolerance), false
	}
	return 1.0 + float64(overlap)*clampPercent(interest.topicPriority)*0.25, true
}

// buildEffectiveWeights resolves each bot's selection mass under the
// message topics.
func buildEffectiveWeights(ctx context.Context, q store.Queries, weights []*store.DiscussionBotWeight, messageTopics []string) map[string]float64 {
	effective := make(map[string]float64, len(weights))
	for _, item := range weights {
		interest := loadPersonaInterest(ctx, q, item.AccountName)
		multiplier, match := topicMultiplier(messageTopics, interest)
		w := item.Weight * multiplier
		if w < 0 {
			w = 0
		}
		effective[item.AccountName] = w
		slog.Debug("bot selection weight",
			slog.String("bot", item.AccountName),
			slog.Float64("base", item.Weight),
			slog.Float64("effective", w),
			slog.Bool("topic_match", match))
	}
	return effective
}

func weightedChoice(weights []*store.DiscussionBotWeight, effective map[string]float64, rnd clock.Rand) *store.DiscussionBotWeight {
	masses := make([]float64, len(weights))
	for i, item := range weights {
		if effective != nil {
			masses[i] = effective[item.AccountName]
		} else {
			masses[i] = item.Weight
		}
	}
	idx := clock.WeightedPick(rnd, masses)
	if idx < 0 {
		idx = rnd.IntBetween(0, len(weights)-1)
	}
	return weights[idx]
}

// selectBots picks count bots. One or two are drawn by effective weight
// without replacement; three or more walk the name-sorted ring from a
// random start so the chain reads like a stable group of regulars.
func selectBots(weights []*store.DiscussionBotWeight, count int, effective map[string]float64, rnd clock.Rand) []*store.DiscussionBotWeight {
	if count <= 0 || len(weights) == 0 {
		return nil
	}
	if count > len(weights) {
		count = len(weights)
	}
	switch count {
	case 1:
		return []*store.DiscussionBotWeight{weightedChoice(weights, effective, rnd)}
	case 2:
		first := weightedChoice(weights, effective, rnd)
		var remaining []*store.DiscussionBotWeight
		for _, item := range weights {
			if item != first {
				remaining = append(remaining, item)
			}
		}
		second := first
		if len(remaining) > 0 {
			second = weightedChoice(remaining, effective, rnd)
		}
		return []*store.DiscussionBotWeight{first, second}
	}

	ordered := make([]*store.DiscussionBotWeight, len(weights))
	copy(ordered, weights)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].AccountName < ordered[j].AccountName })
	start := rnd.IntBetween(0, len(ordered)-1)
	selected := make([]*store.DiscussionBotWeight, 0, count)
	for offset := 0; offset < count; offset++ {
		selected = append(selected, ordered[(start+offset)%len(ordered)])
	}
	return selected
}

// orderByToneRank sorts a chain analytical, neutral, skeptical, ironic,
// emotional so the thread reads naturally. Selection probability is
// unaffected; only the emission order changes.
func orderByToneRank(bots []*store.DiscussionBotWeight, tones map[string]string) {
	sort.SliceStable(bots, func(i, j int) bool {
		return persona.ToneRank(tones[bots[i].AccountName]) < persona.ToneRank(tones[bots[j].AccountName])
	})
}
