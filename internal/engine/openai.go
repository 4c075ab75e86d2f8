package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

const (
	defaultModel       = "gpt-4o"
	defaultTemperature = 0.7
	defaultMaxTokens   = 2000
	maxRetries         = 3
	retryDelay         = time.Second
)

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // empty: api.openai.com; any compatible endpoint works
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// OpenAIProvider generates narrative through a chat-completions API.
type OpenAIProvider struct {
	client *openai.Client
	cfg    OpenAIConfig
}

// NewOpenAIProvider builds a provider from config. Returns nil when no
// API key is configured; the engine treats a nil provider as the
// degraded mode.
func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	if cfg.APIKey == "" {
		return nil
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = defaultTemperature
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientCfg),
		cfg:    cfg,
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string { return "openai" }

// Generate implements Provider. Retries transient backend errors up to
// maxRetries with linear backoff; every terminal failure, timeouts
// included, surfaces as ErrGenerationFailure.
func (p *OpenAIProvider) Generate(ctx context.Context, messages []ChatMessage, storyCtx *StoryContext, opts GenerateOptions) (*GenerationResult, error) {
	if ctx.Err() == nil && p.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.cfg.Timeout)
		defer cancel()
	}

	req := p.buildRequest(messages, storyCtx, opts)

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %v", ErrGenerationFailure, ctx.Err())
			case <-time.After(retryDelay * time.Duration(attempt)):
			}
		}

		resp, err := p.client.CreateChatCompletion(ctx, req)
		if err != nil {
			lastErr = err
			if isRetryable(err) {
				continue
			}
			break
		}
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("%w: no choices returned", ErrGenerationFailure)
		}

		choice := resp.Choices[0]
		return &GenerationResult{
			Content:      choice.Message.Content,
			TokensUsed:   resp.Usage.TotalTokens,
			Model:        req.Model,
			Provider:     p.Name(),
			FinishReason: string(choice.FinishReason),
			Parsed:       ParseNarrative(choice.Message.Content),
		}, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrGenerationFailure, lastErr)
}

// GenerateStream implements Provider. The returned channel closes when
// the backend finishes; cancelling ctx abandons the stream without
// error.
func (p *OpenAIProvider) GenerateStream(ctx context.Context, messages []ChatMessage, storyCtx *StoryContext, opts GenerateOptions) (<-chan StreamChunk, error) {
	req := p.buildRequest(messages, storyCtx, opts)
	req.Stream = true

	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrGenerationFailure, err)
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				if ctx.Err() == nil {
					select {
					case out <- StreamChunk{Err: err}:
					case <-ctx.Done():
					}
				}
				return
			}
			if len(resp.Choices) == 0 || resp.Choices[0].Delta.Content == "" {
				continue
			}
			select {
			case out <- StreamChunk{Text: resp.Choices[0].Delta.Content}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Embed implements Embedder for the memory store.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: []string{text},
		Model: openai.SmallEmbedding3,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("create embedding: empty response")
	}
	return resp.Data[0].Embedding, nil
}

func (p *OpenAIProvider) buildRequest(messages []ChatMessage, storyCtx *StoryContext, opts GenerateOptions) openai.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = p.cfg.Model
	}
	temperature := opts.Temperature
	if temperature == 0 {
		temperature = p.cfg.Temperature
	}
	maxTokens := opts.MaxTokens
	if maxTokens == 0 {
		maxTokens = p.cfg.MaxTokens
	}

	prepared := PrepareMessages(messages, storyCtx)
	wire := make([]openai.ChatCompletionMessage, 0, len(prepared))
	for _, m := range prepared {
		wire = append(wire, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		})
	}

	return openai.ChatCompletionRequest{
		Model:       model,
		Messages:    wire,
		Temperature: float32(temperature),
		MaxTokens:   maxTokens,
	}
}

// isRetryable reports whether a backend error is worth another attempt:
// rate limits and server-side failures are, everything else is not.
func isRetryable(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	return false
}
