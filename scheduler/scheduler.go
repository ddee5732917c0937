package scheduler

import (
	"context"

	"github.com/romanmihailow/tg-post-service/config"
	"github.com/romanmihailow/tg-post-service/internal/clock"
	"github.com/romanmihailow/tg-post-service/llm"
	"github.com/romanmihailow/tg-post-service/store"
)

// Notifier delivers operational messages to the service owner.
type Notifier interface {
	NotifyOwner(ctx context.Context, text string) error
}

// NopNotifier drops all notifications.
type NopNotifier struct{}

func (NopNotifier) NotifyOwner(ctx context.Context, text string) error { return nil }

// Deps carries everything the scheduler needs. Clock, Rand, Broker, Board,
// and Notifier default to real implementations when nil.
type Deps struct {
	Store    *store.Store
	Config   *config.Config
	Accounts map[string]*AccountRuntime
	Clock    clock.Clock
	Rand     clock.Rand
	Broker   *Broker
	Board    *Board
	Usage    *llm.UsageLog
	Notifier Notifier
}

// Scheduler owns the cooperative loop driving all pipelines.
type Scheduler struct {
	store    *store.Store
	cfg      *config.Config
	accounts map[string]*AccountRuntime
	clk      clock.Clock
	rnd      clock.Rand
	broker   *Broker
	board    *Board
	usage    *llm.UsageLog
	notifier Notifier

	postReacts *reactionTracker
	chatReacts *reactionTracker

	// recentQuestions is the per-pipeline memory of the last few question
	// texts, only touched from the loop goroutine.
	recentQuestions map[int64][]string
}

// New builds a scheduler from deps.
func New(deps Deps) *Scheduler {
	s := &Scheduler{
		store:    deps.Store,
		cfg:      deps.Config,
		accounts: deps.Accounts,
		clk:      deps.Clock,
		rnd:      deps.Rand,
		broker:   deps.Broker,
		board:    deps.Board,
		usage:    deps.Usage,
		notifier: deps.Notifier,

		postReacts: newReactionTracker(),
		chatReacts: newReactionTracker(),

		recentQuestions: make(map[int64][]string),
	}
	if s.clk == nil {
		s.clk = clock.New()
	}
	if s.rnd == nil {
		s.rnd = clock.NewRand()
	}
	if s.broker == nil {
		s.broker = NewBroker()
	}
	if s.board == nil {
		s.board = NewBoard()
	}
	if s.notifier == nil {
		s.notifier = NopNotifier{}
	}
	return s
}

// Board exposes the status board for the control surface.
func (s *Scheduler) Board() *Board { return s.board }

// Broker exposes the flood-wait broker.
func (s *Scheduler) Broker() *Broker { return s.broker }

func (s *Scheduler) runtimeFor(accountName string) *AccountRuntime {
	return s.accounts[accountName]
}

// isDiscussionSource reports whether any discussion pipeline seeds its
// questions from this pipeline's posts.
func (s *Scheduler) isDiscussionSource(pipelineName string) bool {
	for i := range s.cfg.Pipelines {
		p := &s.cfg.Pipelines[i]
		if p.Discussion != nil && p.Discussion.SourcePipelineName == pipelineName {
			return true
		}
	}
	return false
}

// shouldStorePostHistory decides whether a published post is retained:
// dedup needs the window, and discussion sources need the seed texts.
func (s *Scheduler) shouldStorePostHistory(pipelineName string) bool {
	return s.cfg.Dedup.Enabled || s.isDiscussionSource(pipelineName)
}
