package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

var (
	_ Engine        = (*HFEngine)(nil)
	_ BatchEmbedder = (*HFEngine)(nil)
)

// DefaultHFBaseURL is the Hugging Face inference router prefix; the model id
// is appended to it.
const DefaultHFBaseURL = "https://router.huggingface.co/hf-inference/models"

// HFEngine computes embeddings with the Hugging Face feature-extraction
// inference endpoint. It does not support chat.
type HFEngine struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHFEngine creates an embedding engine. An empty baseURL uses
// DefaultHFBaseURL.
func NewHFEngine(baseURL, token string) *HFEngine {
	if baseURL == "" {
		baseURL = DefaultHFBaseURL
	}
	return &HFEngine{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

type hfRequest struct {
	Inputs []string `json:"inputs"`
}

func (e *HFEngine) Chat(_ context.Context, _ string, _ []Message, _ *Schema) (string, error) {
	return "", errors.New("huggingface engine does not support chat")
}

func (e *HFEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch posts all texts in one request. Sentence-level models answer
// with one vector per input; token-level answers are mean-pooled.
func (e *HFEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if e.token == "" {
		return nil, ErrMissingAPIKey
	}

	body, err := json.Marshal(hfRequest{Inputs: texts})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/"+model, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.token)

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("embed: unexpected status %d", resp.StatusCode)
	}

	var items []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("decoding embed response: %w", err)
	}
	if len(items) != len(texts) {
		return nil, fmt.Errorf("embed: got %d embeddings for %d inputs", len(items), len(texts))
	}

	vecs := make([][]float32, len(items))
	for i, raw := range items {
		v, err := decodeHFVector(raw)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding %d: %w", i, err)
		}
		vecs[i] = v
	}
	return vecs, nil
}

func decodeHFVector(raw json.RawMessage) ([]float32, error) {
	var flat []float32
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}

	var tokens [][]float32
	if err := json.Unmarshal(raw, &tokens); err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, errors.New("empty token embeddings")
	}
	out := make([]float32, len(tokens[0]))
	for _, tok := range tokens {
		for j := range out {
			if j < len(tok) {
				out[j] += tok[j]
			}
		}
	}
	for j := range out {
		out[j] /= float32(len(tokens))
	}
	return out, nil
}

// IsRunning reports whether the engine has credentials.
func (e *HFEngine) IsRunning(_ context.Context) bool {
	return e.token != ""
}

func (e *HFEngine) ListModels(_ context.Context) ([]string, error) {
	return nil, errors.New("listing models is not supported by hosted backends")
}

func (e *HFEngine) HasModel(_ context.Context, _ string) bool {
	return true
}

func (e *HFEngine) PullModel(_ context.Context, _ string, _ func(PullProgress)) error {
	return nil
}
