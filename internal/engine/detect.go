package engine

import (
	"fmt"

	"github.com/kalambet/dealscope/internal/ollama"
)

// Provider names accepted by Detect.
const (
	ProviderOpenAI      = "openai"
	ProviderGroq        = "groq"
	ProviderOllama      = "ollama"
	ProviderHuggingFace = "huggingface"
)

// DetectConfig holds parameters for backend selection.
type DetectConfig struct {
	LLMProvider string
	LLMBaseURL  string
	LLMAPIKey   string
	Temperature float64

	EmbeddingProvider string
	EmbeddingBaseURL  string
	EmbeddingAPIKey   string

	OllamaBaseURL string
}

// Detect builds the Engine described by cfg. When chat and embeddings use
// different providers the result is a Composite.
func Detect(cfg DetectConfig) (Engine, error) {
	chat, err := chatEngine(cfg)
	if err != nil {
		return nil, err
	}

	embedProvider := cfg.EmbeddingProvider
	if embedProvider == "" {
		embedProvider = cfg.LLMProvider
	}
	if normalizeProvider(embedProvider) == normalizeProvider(cfg.LLMProvider) {
		return chat, nil
	}

	var embed Engine
	switch normalizeProvider(embedProvider) {
	case ProviderHuggingFace:
		embed = NewHFEngine(cfg.EmbeddingBaseURL, cfg.EmbeddingAPIKey)
	case ProviderOllama:
		embed = NewOllamaEngine(cfg.OllamaBaseURL)
	case ProviderOpenAI:
		embed = NewOpenAIEngine(OpenAIConfig{BaseURL: cfg.EmbeddingBaseURL, APIKey: cfg.EmbeddingAPIKey})
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", embedProvider)
	}
	return Compose(chat, embed), nil
}

func chatEngine(cfg DetectConfig) (Engine, error) {
	switch normalizeProvider(cfg.LLMProvider) {
	case ProviderOpenAI:
		return NewOpenAIEngine(OpenAIConfig{
			BaseURL:     cfg.LLMBaseURL,
			APIKey:      cfg.LLMAPIKey,
			Temperature: cfg.Temperature,
		}), nil
	case ProviderOllama:
		return NewOllamaEngine(cfg.OllamaBaseURL, ollama.WithTemperature(cfg.Temperature)), nil
	case ProviderHuggingFace:
		return nil, fmt.Errorf("provider %q cannot serve chat", cfg.LLMProvider)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLMProvider)
	}
}

// normalizeProvider folds aliases; Groq speaks the OpenAI protocol.
func normalizeProvider(p string) string {
	if p == ProviderGroq {
		return ProviderOpenAI
	}
	return p
}
