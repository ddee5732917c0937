package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/romanmihailow/tg-post-service/store"
	"github.com/romanmihailow/tg-post-service/telegram"
)

// Run drives the cooperative loop until the context is cancelled: one
// publish or question per tick, then live replies for every discussion
// pipeline, then a randomized sleep.
func (s *Scheduler) Run(ctx context.Context) error {
	slog.Info("scheduler loop started")
	for {
		if err := ctx.Err(); err != nil {
			slog.Info("scheduler loop stopped")
			return nil
		}
		pipelines, err := s.tick(ctx)
		if err != nil {
			slog.Error("scheduler tick failed", slog.String("error", err.Error()))
		}
		if err := s.clk.Sleep(ctx, s.sleepInterval(pipelines)); err != nil {
			slog.Info("scheduler loop stopped")
			return nil
		}
	}
}

// tick runs one full cycle and returns the pipelines it saw so the sleep
// can adapt to the configured set.
func (s *Scheduler) tick(ctx context.Context) ([]*store.Pipeline, error) {
	pipelines, err := s.store.ListPipelines(ctx, &store.FindPipeline{})
	if err != nil {
		return nil, err
	}
	if len(pipelines) == 0 {
		slog.Warn("no pipelines configured")
		return pipelines, nil
	}
	now := s.clk.NowUTC()

	var due []*store.Pipeline
	for _, p := range pipelines {
		if !p.Enabled {
			continue
		}
		state, err := s.store.GetPipelineState(ctx, p.ID)
		if err != nil {
			return pipelines, err
		}
		if state.LastRunAt == nil || now.Sub(state.LastRunAt.UTC()) >= time.Duration(p.IntervalSec)*time.Second {
			due = append(due, p)
		}
	}

	for _, p := range due {
		rt := s.runtimeFor(p.AccountName)
		if rt == nil {
			slog.Warn("pipeline account not configured",
				slog.String("pipeline", p.Name), slog.String("account", p.AccountName))
			continue
		}
		if s.broker.IsSuspended(rt.Name, now) {
			slog.Warn("account in flood wait, skipping pipeline",
				slog.String("account", rt.Name), slog.String("pipeline", p.Name))
			continue
		}
		if err := s.runPipelineOnce(ctx, p, rt, now); err != nil {
			slog.Error("pipeline run failed",
				slog.String("pipeline", p.Name), slog.String("error", err.Error()))
		}
		// One publish per tick keeps pacing humane and avoids starving
		// the other pipelines.
		break
	}

	for _, p := range pipelines {
		if !p.Enabled || p.Type != store.PipelineTypeDiscussion {
			continue
		}
		rt := s.runtimeFor(p.AccountName)
		if rt == nil {
			s.board.Set(StatusEntry{PipelineID: p.ID, Category: CategoryPipeline2, State: "idle", Message: "account not in runtime"})
			continue
		}
		if s.broker.IsSuspended(rt.Name, s.clk.NowUTC()) {
			continue
		}
		if err := s.runLiveRepliesOnce(ctx, p, rt); err != nil {
			slog.Error("live replies failed",
				slog.String("pipeline", p.Name), slog.String("error", err.Error()))
		}
	}
	return pipelines, nil
}

// runPipelineOnce executes the due runner for one pipeline inside its own
// transaction and stamps lastRunAt on success.
func (s *Scheduler) runPipelineOnce(ctx context.Context, p *store.Pipeline, rt *AccountRuntime, now time.Time) error {
	session, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}

	pipeline, err := session.GetPipeline(ctx, &store.FindPipeline{ID: &p.ID})
	if err == nil && pipeline == nil {
		err = fmt.Errorf("pipeline %q disappeared", p.Name)
	}
	if err == nil {
		if pipeline.Type == store.PipelineTypeDiscussion {
			_, err = s.runDiscussion(ctx, session, pipeline, rt)
		} else {
			for i := 0; i < rt.Behavior.MaxPostsPerRun; i++ {
				var posted bool
				posted, err = s.runPublish(ctx, session, pipeline, rt)
				if err != nil || !posted {
					break
				}
			}
		}
	}
	if err == nil {
		_, err = session.UpdatePipelineState(ctx, &store.UpdatePipelineState{
			PipelineID: p.ID,
			LastRunAt:  &now,
		})
	}
	if err != nil {
		if rbErr := session.Rollback(); rbErr != nil {
			slog.Error("rollback failed", slog.String("error", rbErr.Error()))
		}
		if blocked := telegram.AsFloodWaitBlocked(err); blocked != nil {
			s.handleFloodWait(ctx, rt.Name, p.Name, blocked.Seconds)
			return nil
		}
		return err
	}
	return session.Commit()
}

// runLiveRepliesOnce wraps one P2 cycle in its own transaction.
func (s *Scheduler) runLiveRepliesOnce(ctx context.Context, p *store.Pipeline, rt *AccountRuntime) error {
	session, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	if err := s.runLiveReplies(ctx, session, p, rt); err != nil {
		if rbErr := session.Rollback(); rbErr != nil {
			slog.Error("rollback failed", slog.String("error", rbErr.Error()))
		}
		if blocked := telegram.AsFloodWaitBlocked(err); blocked != nil {
			s.handleFloodWait(ctx, rt.Name, p.Name, blocked.Seconds)
			return nil
		}
		return err
	}
	return session.Commit()
}

// handleFloodWait registers the suspension and notifies the owner once
// per suspension epoch.
func (s *Scheduler) handleFloodWait(ctx context.Context, account, pipelineName string, seconds int) {
	now := s.clk.NowUTC()
	until, notify := s.broker.Record(account, seconds, now)
	slog.Warn("flood wait registered",
		slog.String("account", account),
		slog.String("pipeline", pipelineName),
		slog.Int("seconds", seconds),
		slog.Time("until", until))
	if !notify {
		return
	}
	text := fmt.Sprintf(
		"⚠️ FloodWait\nАккаунт: %s\nПайплайн: %s\nСрок: %s\nДо: %s\nЗапросы приостановлены до окончания FloodWait.",
		account,
		pipelineName,
		FormatDuration(time.Duration(seconds)*time.Second),
		until.Local().Format("2006-01-02 15:04:05"),
	)
	if err := s.notifier.NotifyOwner(ctx, text); err != nil {
		slog.Error("owner notification failed", slog.String("error", err.Error()))
	}
}

// sleepInterval draws the pause before the next tick. Discussion
// pipelines need faster scans, so their presence shrinks the bounds.
func (s *Scheduler) sleepInterval(pipelines []*store.Pipeline) time.Duration {
	sleepMin := s.cfg.SleepMinSeconds
	sleepMax := s.cfg.SleepMaxSeconds
	for _, p := range pipelines {
		if p.Enabled && p.Type == store.PipelineTypeDiscussion {
			if sleepMin > 30 {
				sleepMin = 30
			}
			if sleepMax > 60 {
				sleepMax = 60
			}
			break
		}
	}
	if sleepMax < sleepMin {
		sleepMax = sleepMin
	}
	return s.rnd.DurationBetween(
		time.Duration(sleepMin)*time.Second,
		time.Duration(sleepMax)*time.Second,
	)
}
