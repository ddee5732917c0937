package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/romanmihailow/tg-post-service/config"
	"github.com/romanmihailow/tg-post-service/dedup"
	"github.com/romanmihailow/tg-post-service/llm"
	"github.com/romanmihailow/tg-post-service/store"
	"github.com/romanmihailow/tg-post-service/telegram"
)

// runPublish executes one publish cycle for a STANDARD pipeline inside the
// given session. Returns true when a post was published. All state writes
// happen in the session; the caller commits or rolls back.
func (s *Scheduler) runPublish(ctx context.Context, session store.Session, pipeline *store.Pipeline, rt *AccountRuntime) (bool, error) {
	now := s.clk.NowUTC()
	log := slog.With(slog.String("pipeline", pipeline.Name))

	sources, err := session.ListPipelineSources(ctx, pipeline.ID)
	if err != nil {
		return false, err
	}
	if len(sources) == 0 {
		log.Warn("pipeline has no sources")
		return false, nil
	}

	state, err := session.GetPipelineState(ctx, pipeline.ID)
	if err != nil {
		return false, err
	}

	idx := state.CurrentSourceIndex % len(sources)
	if rt.Behavior.SourceSelection == config.SourceRandom {
		idx = s.rnd.IntBetween(0, len(sources)-1)
	}
	source := sources[idx]

	advance := func(lastSeen int64) error {
		if lastSeen > 0 {
			if err := session.AdvancePipelineSource(ctx, source.ID, lastSeen); err != nil {
				return err
			}
		}
		next := (idx + 1) % len(sources)
		_, err := session.UpdatePipelineState(ctx, &store.UpdatePipelineState{
			PipelineID:         pipeline.ID,
			CurrentSourceIndex: &next,
		})
		return err
	}

	history, err := rt.Reader.FetchHistorySince(ctx, source.Channel, int(source.LastSeenMessageID), rt.Behavior.HistoryLimit)
	if err != nil {
		return false, err
	}
	if len(history) == 0 {
		s.board.Set(StatusEntry{PipelineID: pipeline.ID, Category: CategoryPipeline1, State: "idle", Message: "no new messages"})
		return false, advance(0)
	}

	msg, photos := resolveAlbum(history)
	text := msg.Text

	skipReason := ""
	minLen := s.cfg.MinTextLength
	if pipeline.Mode == store.PipelineModeTextMedia || pipeline.Mode == store.PipelineModePlagiat {
		minLen = 0
	}
	switch {
	case len([]rune(strings.TrimSpace(text))) < minLen:
		skipReason = "text too short"
	case s.cfg.Dedup.AdFilterEnabled && dedup.IsAd(text, s.cfg.Dedup.AdFilterThreshold, s.cfg.Dedup.AdFilterKeywords):
		skipReason = "ad filter"
	default:
		if s.cfg.Dedup.Enabled {
			recent, err := session.ListRecentPostTexts(ctx, pipeline.ID, s.cfg.Dedup.WindowSize)
			if err != nil {
				return false, err
			}
			if similar, score := dedup.SimilarBM25(text, recent, s.cfg.Dedup.BM25Threshold); similar {
				log.Info("post skipped as near-duplicate", slog.Float64("score", score))
				skipReason = "bm25 duplicate"
			}
		}
		if skipReason == "" && rt.Behavior.SkipPostProbability > 0 && s.rnd.Float() < rt.Behavior.SkipPostProbability {
			skipReason = "random skip"
		}
	}
	if skipReason != "" {
		log.Info("post skipped", slog.String("reason", skipReason), slog.Int("message_id", msg.ID))
		s.board.Set(StatusEntry{PipelineID: pipeline.ID, Category: CategoryPipeline1, State: "skipped", Message: skipReason})
		return false, advance(int64(msg.ID))
	}

	blackbox := pipeline.BlackboxEveryN > 0 && (state.TotalPosts+1)%pipeline.BlackboxEveryN == 0

	finalText, channelMsgID, usage, err := s.transformAndSend(ctx, pipeline, rt, msg, photos, text, blackbox)
	if err != nil {
		return false, err
	}

	if err := advance(int64(msg.ID)); err != nil {
		return false, err
	}
	total := state.TotalPosts + 1
	if _, err := session.UpdatePipelineState(ctx, &store.UpdatePipelineState{
		PipelineID: pipeline.ID,
		TotalPosts: &total,
	}); err != nil {
		return false, err
	}
	if s.shouldStorePostHistory(pipeline.Name) {
		window := 0
		if s.cfg.Dedup.Enabled {
			window = s.cfg.Dedup.WindowSize
		}
		if err := session.AppendPostHistory(ctx, &store.AppendPostHistory{
			PipelineID:         pipeline.ID,
			Text:               finalText,
			CreatedAt:          now,
			DestinationChannel: pipeline.Destination,
			ChannelMessageID:   int64(channelMsgID),
			Window:             window,
		}); err != nil {
			return false, err
		}
	}

	s.logUsage(rt, finalText, usage, len(photos) > 0 && pipeline.Mode == store.PipelineModeTextImage)
	s.board.Set(StatusEntry{PipelineID: pipeline.ID, Category: CategoryPipeline1, State: "published", Message: pipeline.Destination})
	log.Info("post published",
		slog.Int("source_message_id", msg.ID),
		slog.Int("channel_message_id", channelMsgID),
		slog.String("mode", string(pipeline.Mode)))
	return true, nil
}

// resolveAlbum picks the newest message and, when it belongs to a media
// group, the caption-carrying member and all photos of the group.
func resolveAlbum(history []telegram.Message) (telegram.Message, []string) {
	msg := history[0]
	if msg.GroupedID == "" {
		if msg.PhotoFileID != "" {
			return msg, []string{msg.PhotoFileID}
		}
		return msg, nil
	}

	var photos []string
	caption := msg
	for _, m := range history {
		if m.GroupedID != msg.GroupedID {
			continue
		}
		if m.PhotoFileID != "" {
			photos = append(photos, m.PhotoFileID)
		}
		if m.Text != "" {
			caption = m
		}
	}
	return caption, photos
}

// transformAndSend applies the pipeline mode and delivers the post.
func (s *Scheduler) transformAndSend(ctx context.Context, pipeline *store.Pipeline, rt *AccountRuntime, msg telegram.Message, photos []string, text string, blackbox bool) (string, int, llm.Usage, error) {
	var usage llm.Usage
	writer := rt.Writer()
	dest := pipeline.Destination

	paraphrase := func() (string, error) {
		out, u, err := rt.LLM.Paraphrase(ctx, text)
		usage.Add(u)
		if err != nil {
			return "", err
		}
		if blackbox {
			bb := s.cfg.Blackbox
			out = ApplyBlackbox(StripBlackboxTag(out), bb.Ratio, bb.MinWordLen, bb.DistortMin, bb.DistortMax, s.rnd)
		}
		return AppendFooter(out, dest), nil
	}

	download := func() ([][]byte, error) {
		var out [][]byte
		for _, p := range photos {
			data, err := rt.Reader.DownloadPhoto(ctx, p)
			if err != nil {
				return nil, err
			}
			out = append(out, data)
		}
		return out, nil
	}

	sendWithMedia := func(final string) (int, error) {
		if len(photos) == 0 {
			return writer.SendText(ctx, dest, final, 0)
		}
		media, err := download()
		if err != nil {
			slog.Warn("photo download failed, sending text only", slog.String("error", err.Error()))
			return writer.SendText(ctx, dest, final, 0)
		}
		if len(media) == 1 {
			return writer.SendMedia(ctx, dest, media[0], final)
		}
		ids, err := writer.SendAlbum(ctx, dest, media, final)
		if err != nil {
			return 0, err
		}
		if len(ids) > 0 {
			return ids[0], nil
		}
		return 0, nil
	}

	switch pipeline.Mode {
	case store.PipelineModePlagiat:
		final := AppendFooter(text, dest)
		id, err := sendWithMedia(final)
		return final, id, usage, err

	case store.PipelineModeTextMedia:
		final, err := paraphrase()
		if err != nil {
			return "", 0, usage, err
		}
		id, err := sendWithMedia(final)
		return final, id, usage, err

	case store.PipelineModeTextImage:
		final, err := paraphrase()
		if err != nil {
			return "", 0, usage, err
		}
		if len(photos) == 0 {
			id, err := writer.SendText(ctx, dest, final, 0)
			return final, id, usage, err
		}
		original, err := rt.Reader.DownloadPhoto(ctx, photos[0])
		if err != nil {
			slog.Warn("photo download failed, sending text only", slog.String("error", err.Error()))
			id, err := writer.SendText(ctx, dest, final, 0)
			return final, id, usage, err
		}
		description, err := rt.LLM.DescribeImage(ctx, original)
		if err != nil {
			slog.Warn("image description failed, sending text only", slog.String("error", err.Error()))
			id, err := writer.SendText(ctx, dest, final, 0)
			return final, id, usage, err
		}
		generated, err := rt.LLM.GenerateImage(ctx, description)
		if err != nil {
			slog.Warn("image generation failed, sending text only", slog.String("error", err.Error()))
			id, err := writer.SendText(ctx, dest, final, 0)
			return final, id, usage, err
		}
		id, err := writer.SendMedia(ctx, dest, generated, final)
		return final, id, usage, err

	default: // TEXT
		final, err := paraphrase()
		if err != nil {
			return "", 0, usage, err
		}
		id, err := writer.SendText(ctx, dest, final, 0)
		return final, id, usage, err
	}
}

// logUsage appends a usage record for a published post when a usage log
// is configured.
func (s *Scheduler) logUsage(rt *AccountRuntime, text string, usage llm.Usage, withImage bool) {
	if s.usage == nil {
		return
	}
	acc := s.cfg.AccountByName(rt.Name)
	var settings config.OpenAISettings
	if acc != nil && acc.OpenAI != nil {
		settings = *acc.OpenAI
	}
	rec := llm.UsageRecord{
		Timestamp:    time.Now(),
		TextModel:    settings.TextModel,
		InputTokens:  usage.InputTokens,
		OutputTokens: usage.OutputTokens,
		TotalTokens:  usage.TotalTokens,
		TextCostUSD:  llm.EstimateTextCost(usage.InputTokens, usage.OutputTokens, settings.InputPriceUSD, settings.OutputPriceUSD),
		PostText:     text,
	}
	if withImage {
		rec.ImageModel = settings.ImageModel
		rec.ImageCount = 1
		rec.ImageCostUSD = settings.ImagePrice1024USD
	}
	if err := s.usage.Append(rec); err != nil {
		slog.Warn("usage log append failed", slog.String("error", err.Error()))
	}
}
