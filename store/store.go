package store

import (
	"context"
	"time"
)

// Queries is the full entity operation surface. Both the auto-commit
// Driver and a transaction Session expose it.
type Queries interface {
	// Pipeline
	ListPipelines(ctx context.Context, find *FindPipeline) ([]*Pipeline, error)
	GetPipeline(ctx context.Context, find *FindPipeline) (*Pipeline, error)
	UpsertPipeline(ctx context.Context, upsert *UpsertPipeline) (*Pipeline, error)
	UpdatePipeline(ctx context.Context, update *UpdatePipeline) (*Pipeline, error)

	// PipelineSource
	ListPipelineSources(ctx context.Context, pipelineID int64) ([]*PipelineSource, error)
	UpsertPipelineSource(ctx context.Context, upsert *UpsertPipelineSource) (*PipelineSource, error)
	// AdvancePipelineSource raises lastSeenMessageId; a lower value is a
	// no-op so the cursor never moves backwards.
	AdvancePipelineSource(ctx context.Context, sourceID int64, lastSeenMessageID int64) error

	// PipelineState
	GetPipelineState(ctx context.Context, pipelineID int64) (*PipelineState, error)
	UpdatePipelineState(ctx context.Context, update *UpdatePipelineState) (*PipelineState, error)

	// PostHistory
	AppendPostHistory(ctx context.Context, appendArgs *AppendPostHistory) error
	ListRecentPostTexts(ctx context.Context, pipelineID int64, limit int) ([]string, error)
	ListRecentPostHistory(ctx context.Context, pipelineID int64, limit int) ([]*PostHistory, error)
	LatestPostHistoryAt(ctx context.Context, pipelineID int64) (*time.Time, error)

	// DiscussionSettings
	GetDiscussionSettings(ctx context.Context, pipelineID int64) (*DiscussionSettings, error)
	UpsertDiscussionSettings(ctx context.Context, upsert *UpsertDiscussionSettings) (*DiscussionSettings, error)

	// DiscussionState
	GetDiscussionState(ctx context.Context, pipelineID int64) (*DiscussionState, error)
	UpdateDiscussionState(ctx context.Context, update *UpdateDiscussionState) (*DiscussionState, error)

	// DiscussionReply
	CreateDiscussionReply(ctx context.Context, create *CreateDiscussionReply) (*DiscussionReply, error)
	ListDiscussionReplies(ctx context.Context, find *FindDiscussionReply) ([]*DiscussionReply, error)
	// MarkDiscussionReplySent and MarkDiscussionReplyCancelled only touch
	// pending rows; a settled reply is never rewritten.
	MarkDiscussionReplySent(ctx context.Context, id int64, sentAt time.Time) error
	MarkDiscussionReplyCancelled(ctx context.Context, id int64, reason string) error

	// DiscussionBotWeight
	ListDiscussionBotWeights(ctx context.Context, pipelineID int64) ([]*DiscussionBotWeight, error)
	UpsertDiscussionBotWeight(ctx context.Context, upsert *UpsertDiscussionBotWeight) (*DiscussionBotWeight, error)
	UpdateDiscussionBotWeight(ctx context.Context, update *UpdateDiscussionBotWeight) (*DiscussionBotWeight, error)

	// ChatState
	GetChatState(ctx context.Context, pipelineID, chatID int64) (*ChatState, error)
	UpdateChatState(ctx context.Context, update *UpdateChatState) (*ChatState, error)

	// Persona
	GetPersona(ctx context.Context, find *FindPersona) (*Persona, error)
	ListPersonas(ctx context.Context) ([]*Persona, error)
	UpsertPersona(ctx context.Context, upsert *UpsertPersona) (*Persona, error)

	// BotInvite
	CreateBotInvite(ctx context.Context, create *CreateBotInvite) (*BotInvite, error)
	GetBotInvite(ctx context.Context, find *FindBotInvite) (*BotInvite, error)
	ListBotInvites(ctx context.Context, find *FindBotInvite) ([]*BotInvite, error)
	UpdateBotInvite(ctx context.Context, update *UpdateBotInvite) (*BotInvite, error)
	CreateBotInviteCode(ctx context.Context, create *CreateBotInviteCode) (*BotInviteCode, error)
	GetBotInviteCode(ctx context.Context, code string) (*BotInviteCode, error)
	MarkBotInviteCodeUsed(ctx context.Context, id int64, usedAt time.Time) error
}

// Session is one transaction over the entity surface. A runner invocation
// does all of its writes inside a single Session committed on success.
type Session interface {
	Queries
	Commit() error
	Rollback() error
}

// Driver is a database backend.
type Driver interface {
	Queries
	Begin(ctx context.Context) (Session, error)
	Migrate(ctx context.Context) error
	Close() error
}

// Store provides database access to all raw objects.
type Store struct {
	Driver
}

// New creates a new instance of Store.
func New(driver Driver) *Store {
	return &Store{Driver: driver}
}
