package store

import "time"

// DiscussionSettings configures how a DISCUSSION pipeline seeds questions
// and schedules replies. kMin <= kMax; intervals in minutes.
type DiscussionSettings struct {
	PipelineID                  int64
	TargetChat                  string
	SourcePipelineName          string
	KMin                        int
	KMax                        int
	ReplyToReplyProbability     int // percent
	ActivityWindowsWeekdaysJSON string
	ActivityWindowsWeekendsJSON string
	Timezone                    string
	MinIntervalMinutes          int
	MaxIntervalMinutes          int
	InactivityPauseMinutes      int
	MaxAutoRepliesPerChatPerDay int
	UserReplyMaxAgeMinutes      int
}

// UpsertDiscussionSettings inserts or replaces settings for a pipeline.
type UpsertDiscussionSettings struct {
	PipelineID                  int64
	TargetChat                  string
	SourcePipelineName          string
	KMin                        int
	KMax                        int
	ReplyToReplyProbability     int
	ActivityWindowsWeekdaysJSON string
	ActivityWindowsWeekendsJSON string
	Timezone                    string
	MinIntervalMinutes          int
	MaxIntervalMinutes          int
	InactivityPauseMinutes      int
	MaxAutoRepliesPerChatPerDay int
	UserReplyMaxAgeMinutes      int
}

// DiscussionState is the per-pipeline state of the open question and its
// anti-repeat memory. RecentTopicsJSON holds {"topics":[...≤3],
// "fingerprints":[...≤ring]}.
type DiscussionState struct {
	PipelineID            int64
	QuestionMessageID     int64
	QuestionCreatedAt     *time.Time
	ExpiresAt             *time.Time
	RepliesPlanned        int
	RepliesSent           int
	LastBotReplyAt        *time.Time
	LastReplyParentID     int64
	LastBotReplyMessageID int64
	LastSourcePostID      int64
	LastSourcePostAt      *time.Time
	RecentTopicsJSON      string
	NextDueAt             *time.Time
}

// UpdateDiscussionState is the partial update condition for discussion
// state. Pointer fields set a new value; ClearQuestion nulls out the
// open-question fields when a discussion closes.
type UpdateDiscussionState struct {
	PipelineID            int64
	QuestionMessageID     *int64
	QuestionCreatedAt     *time.Time
	ExpiresAt             *time.Time
	RepliesPlanned        *int
	RepliesSent           *int
	LastBotReplyAt        *time.Time
	LastReplyParentID     *int64
	LastBotReplyMessageID *int64
	LastSourcePostID      *int64
	LastSourcePostAt      *time.Time
	RecentTopicsJSON      *string
	NextDueAt             *time.Time
	ClearQuestion         bool
}

// DiscussionReplyKind distinguishes planned chain replies from live replies
// to humans.
type DiscussionReplyKind string

const (
	ReplyKindDiscussion DiscussionReplyKind = "discussion"
	ReplyKindUserReply  DiscussionReplyKind = "user_reply"
)

// DiscussionReplyStatus is the reply lifecycle; a row moves
// pending -> sent | cancelled exactly once.
type DiscussionReplyStatus string

const (
	ReplyStatusPending   DiscussionReplyStatus = "pending"
	ReplyStatusSent      DiscussionReplyStatus = "sent"
	ReplyStatusCancelled DiscussionReplyStatus = "cancelled"
)

// DiscussionReply is one scheduled bot message.
type DiscussionReply struct {
	ID               int64
	PipelineID       int64
	Kind             DiscussionReplyKind
	ChatID           int64
	AccountName      string
	ReplyText        string
	SendAt           time.Time
	Status           DiscussionReplyStatus
	ReplyToMessageID int64
	SourceMessageAt  *time.Time
	SentAt           *time.Time
	CancelledReason  string
}

// CreateDiscussionReply inserts a pending reply.
type CreateDiscussionReply struct {
	PipelineID       int64
	Kind             DiscussionReplyKind
	ChatID           int64
	AccountName      string
	ReplyText        string
	SendAt           time.Time
	ReplyToMessageID int64
	SourceMessageAt  *time.Time
}

// FindDiscussionReply is the find condition for replies. DueBefore selects
// rows with sendAt <= DueBefore, ordered by sendAt then id.
type FindDiscussionReply struct {
	PipelineID *int64
	Kind       *DiscussionReplyKind
	Status     *DiscussionReplyStatus
	DueBefore  *time.Time
	Limit      *int
}

// DiscussionBotWeight is the selection mass of one bot in one pipeline.
// usedToday resets when usedTodayDate differs from today (UTC).
type DiscussionBotWeight struct {
	PipelineID      int64
	AccountName     string
	Weight          float64
	DailyLimit      int
	CooldownMinutes int
	UsedToday       int
	UsedTodayDate   string // YYYY-MM-DD, UTC
	LastUsedAt      *time.Time
}

// UpsertDiscussionBotWeight inserts the row with defaults when missing;
// an existing row is left untouched.
type UpsertDiscussionBotWeight struct {
	PipelineID      int64
	AccountName     string
	Weight          float64
	DailyLimit      int
	CooldownMinutes int
}

// UpdateDiscussionBotWeight is the partial update condition for a weight
// row (usage counters and tuning).
type UpdateDiscussionBotWeight struct {
	PipelineID      int64
	AccountName     string
	Weight          *float64
	DailyLimit      *int
	CooldownMinutes *int
	UsedToday       *int
	UsedTodayDate   *string
	LastUsedAt      *time.Time
}

// ChatState is the live-reply scan cursor for one (pipeline, chat).
type ChatState struct {
	PipelineID         int64
	ChatID             int64
	LastSeenMessageID  int64
	LastHumanMessageAt *time.Time
	RepliesToday       int
	RepliesTodayDate   string // YYYY-MM-DD, UTC
	NextScanAt         *time.Time
}

// UpdateChatState is the partial update condition for chat state.
type UpdateChatState struct {
	PipelineID         int64
	ChatID             int64
	LastSeenMessageID  *int64
	LastHumanMessageAt *time.Time
	RepliesToday       *int
	RepliesTodayDate   *string
	NextScanAt         *time.Time
}
