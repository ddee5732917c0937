// Package llm wraps the language-model provider: paraphrasing source posts,
// describing and generating images, picking discussion candidates, and
// producing discussion question/reply sets and live user replies.
package llm

import (
	"context"

	"github.com/romanmihailow/tg-post-service/persona"
)

// Usage is the token accounting of one provider call.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Add merges another usage record into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
	u.TotalTokens += other.TotalTokens
}

// QnA is a generated discussion: one host question plus bot replies.
type QnA struct {
	Question string   `json:"question"`
	Replies  []string `json:"replies"`
}

// UserReplyRequest describes one live reply generation.
type UserReplyRequest struct {
	SourceText           string
	Context              []string
	RoleLabel            string
	Meta                 *persona.Meta
	SystemPromptOverride string
	AllowedReactions     []string
	ModelDrivenReaction  bool
	ReactionNullRate     float64
}

// UserReply is the generated live reply. ReactionEmoji is empty when the
// model declined to react or the emoji was not in the allowed list.
type UserReply struct {
	Text          string
	ReactionEmoji string
	PresetIdx     int
	LengthHint    string
}

// Port is the provider surface the pipelines use.
type Port interface {
	// Paraphrase rewrites a source post through the account system prompt.
	Paraphrase(ctx context.Context, text string) (string, Usage, error)

	// DescribeImage produces a short neutral caption for an image.
	DescribeImage(ctx context.Context, image []byte) (string, error)

	// GenerateImage renders a fresh illustration from a description.
	GenerateImage(ctx context.Context, description string) ([]byte, error)

	// SelectFromList picks one candidate for discussion, returning its
	// zero-based index.
	SelectFromList(ctx context.Context, candidates, recentTopics []string) (int, Usage, error)

	// DiscussionQnA generates a host question and repliesCount bot replies.
	DiscussionQnA(ctx context.Context, newsText string, repliesCount int, roles, lastQuestions []string) (*QnA, Usage, error)

	// GenerateUserReply produces a short reply to a live chat message.
	GenerateUserReply(ctx context.Context, req *UserReplyRequest) (*UserReply, Usage, error)
}
