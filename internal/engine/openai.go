package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

var (
	_ Engine        = (*OpenAIEngine)(nil)
	_ BatchEmbedder = (*OpenAIEngine)(nil)
)

// OpenAIConfig configures an OpenAI-compatible hosted backend such as Groq.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Temperature float64
}

// OpenAIEngine talks to an OpenAI-compatible chat and embeddings API through
// langchaingo. Hosted models are always available, so the model management
// methods are trivial.
type OpenAIEngine struct {
	cfg    OpenAIConfig
	logger *slog.Logger

	mu      sync.Mutex
	clients map[string]*openai.LLM
}

// NewOpenAIEngine creates an engine for the given configuration. A missing
// API key is not an error here; every call reports ErrMissingAPIKey instead,
// so a server can start and fail individual runs.
func NewOpenAIEngine(cfg OpenAIConfig) *OpenAIEngine {
	return &OpenAIEngine{
		cfg:     cfg,
		logger:  slog.Default().With("component", "openai-engine"),
		clients: make(map[string]*openai.LLM),
	}
}

// client returns a cached langchaingo client bound to model.
func (e *OpenAIEngine) client(model string) (*openai.LLM, error) {
	if e.cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if c, ok := e.clients[model]; ok {
		return c, nil
	}

	opts := []openai.Option{
		openai.WithToken(e.cfg.APIKey),
		openai.WithModel(model),
		openai.WithEmbeddingModel(model),
	}
	if e.cfg.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(e.cfg.BaseURL))
	}
	c, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}
	e.clients[model] = c
	return c, nil
}

func (e *OpenAIEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	c, err := e.client(model)
	if err != nil {
		return "", err
	}

	content := make([]llms.MessageContent, len(messages))
	for i, m := range messages {
		content[i] = llms.MessageContent{
			Role:  chatRole(m.Role),
			Parts: []llms.ContentPart{llms.TextPart(m.Content)},
		}
	}

	opts := []llms.CallOption{llms.WithTemperature(e.cfg.Temperature)}
	if jsonSchema != nil {
		opts = append(opts, llms.WithJSONMode())
	}

	resp, err := c.GenerateContent(ctx, content, opts...)
	if err != nil {
		return "", fmt.Errorf("chat request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("chat: response has no choices")
	}
	return resp.Choices[0].Content, nil
}

func (e *OpenAIEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (e *OpenAIEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	c, err := e.client(model)
	if err != nil {
		return nil, err
	}
	emb, err := embeddings.NewEmbedder(c, embeddings.WithStripNewLines(false))
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	vecs, err := emb.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embed: got %d embeddings for %d inputs", len(vecs), len(texts))
	}
	return vecs, nil
}

// IsRunning reports whether the engine has credentials. Hosted APIs are not
// probed.
func (e *OpenAIEngine) IsRunning(_ context.Context) bool {
	return e.cfg.APIKey != ""
}

func (e *OpenAIEngine) ListModels(_ context.Context) ([]string, error) {
	return nil, errors.New("listing models is not supported by hosted backends")
}

func (e *OpenAIEngine) HasModel(_ context.Context, _ string) bool {
	return true
}

func (e *OpenAIEngine) PullModel(_ context.Context, _ string, _ func(PullProgress)) error {
	return nil
}

func chatRole(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
