package store

import "time"

// PipelineMode controls how a publish pipeline transforms and sends a post.
type PipelineMode string

const (
	PipelineModeText      PipelineMode = "TEXT"
	PipelineModeTextImage PipelineMode = "TEXT_IMAGE"
	PipelineModeTextMedia PipelineMode = "TEXT_MEDIA"
	PipelineModePlagiat   PipelineMode = "PLAGIAT"
)

// PipelineType selects the runner: STANDARD publishes, DISCUSSION seeds and
// drives chat threads.
type PipelineType string

const (
	PipelineTypeStandard   PipelineType = "STANDARD"
	PipelineTypeDiscussion PipelineType = "DISCUSSION"
)

// Pipeline is one scheduled job owning a source set and a destination.
type Pipeline struct {
	ID             int64
	Name           string
	AccountName    string
	Enabled        bool
	Destination    string
	Mode           PipelineMode
	Type           PipelineType
	IntervalSec    int
	BlackboxEveryN int
}

// FindPipeline is the find condition for pipelines.
type FindPipeline struct {
	ID      *int64
	Name    *string
	Enabled *bool
	Type    *PipelineType
}

// UpsertPipeline inserts or updates a pipeline by unique name.
type UpsertPipeline struct {
	Name           string
	AccountName    string
	Enabled        bool
	Destination    string
	Mode           PipelineMode
	Type           PipelineType
	IntervalSec    int
	BlackboxEveryN int
}

// UpdatePipeline is the partial update condition for a pipeline.
type UpdatePipeline struct {
	ID             int64
	Enabled        *bool
	Destination    *string
	IntervalSec    *int
	BlackboxEveryN *int
}

// PipelineSource is one source channel of a pipeline, unique per
// (pipeline, channel). lastSeenMessageId is monotonically non-decreasing.
type PipelineSource struct {
	ID                int64
	PipelineID        int64
	Channel           string
	LastSeenMessageID int64
}

// UpsertPipelineSource inserts the (pipeline, channel) pair if missing.
type UpsertPipelineSource struct {
	PipelineID int64
	Channel    string
}

// PipelineState is the rotation cursor and counters of a pipeline.
type PipelineState struct {
	PipelineID         int64
	CurrentSourceIndex int
	TotalPosts         int
	LastRunAt          *time.Time
}

// UpdatePipelineState is the partial update condition for pipeline state.
type UpdatePipelineState struct {
	PipelineID         int64
	CurrentSourceIndex *int
	TotalPosts         *int
	LastRunAt          *time.Time
}

// PostHistory is one published text retained for dedup and discussion
// seeding; pruned to the dedup window per pipeline.
type PostHistory struct {
	ID                 int64
	PipelineID         int64
	Text               string
	CreatedAt          time.Time
	DestinationChannel string
	ChannelMessageID   int64
}

// AppendPostHistory inserts a history row and prunes the pipeline's history
// down to Window rows (Window <= 0 keeps everything).
type AppendPostHistory struct {
	PipelineID         int64
	Text               string
	CreatedAt          time.Time
	DestinationChannel string
	ChannelMessageID   int64
	Window             int
}
