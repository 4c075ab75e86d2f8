package engine

import "context"

// Message roles understood by chat-completion backends.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one role-tagged turn in a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// GenerateOptions tune a single generation call. Zero values fall back
// to the provider's configured defaults.
type GenerateOptions struct {
	Model       string
	Temperature float64
	MaxTokens   int
}

// GenerationResult is the outcome of one generation call, including the
// structured narrative parsed out of the raw content.
type GenerationResult struct {
	Content      string `json:"content"`
	TokensUsed   int    `json:"tokens_used"`
	Model        string `json:"model"`
	Provider     string `json:"provider"`
	FinishReason string `json:"finish_reason"`

	Parsed ParsedNarrative `json:"parsed"`
}

// StreamChunk is one incremental fragment of a streamed generation.
// Concatenating the Text of all chunks yields the same content a
// single-shot Generate call would produce. A chunk with Err set is
// terminal: the backend died mid-stream and whatever text arrived
// before it is incomplete.
type StreamChunk struct {
	Text string
	Err  error
}

// Provider abstracts a text-generation backend. One concrete provider
// serves a session at a time, selected by story configuration.
type Provider interface {
	// Generate produces a single complete response. The assembled story
	// context, when non-nil, is prepended as a system message ahead of
	// the conversation turns. Fails with ErrProviderUnavailable when no
	// backend is configured and ErrGenerationFailure for backend errors.
	Generate(ctx context.Context, messages []ChatMessage, storyCtx *StoryContext, opts GenerateOptions) (*GenerationResult, error)

	// GenerateStream produces a lazy, finite sequence of fragments with
	// the same semantics as Generate. The channel closes when the
	// response is complete; a backend failure mid-stream is delivered
	// as a final chunk with Err set before the close. Consumers may
	// stop early by cancelling ctx; abandonment is not an error.
	GenerateStream(ctx context.Context, messages []ChatMessage, storyCtx *StoryContext, opts GenerateOptions) (<-chan StreamChunk, error)

	// Name identifies the backend ("openai", ...).
	Name() string
}

// Embedder produces embedding vectors for memory recall. Providers that
// support it implement this alongside Provider.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EstimateTokens approximates the token cost of text at four characters
// per token. A budgeting heuristic, not billed truth.
func EstimateTokens(text string) int {
	return len(text) / 4
}

// PrepareMessages renders the wire-order message list: the assembled
// context as a leading system message, then the conversation turns.
func PrepareMessages(messages []ChatMessage, storyCtx *StoryContext) []ChatMessage {
	prepared := make([]ChatMessage, 0, len(messages)+1)
	if storyCtx != nil {
		prepared = append(prepared, ChatMessage{Role: RoleSystem, Content: storyCtx.SystemPrompt()})
	}
	prepared = append(prepared, messages...)
	return prepared
}
