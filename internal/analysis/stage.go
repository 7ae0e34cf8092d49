// Package analysis runs the six due-diligence stages. Each stage retrieves
// context for one entity, optionally searches the web, asks the model for a
// JSON artifact and stores the typed result in the run's Artifacts.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/dealscope/internal/composer"
	"github.com/kalambet/dealscope/internal/engine"
	"github.com/kalambet/dealscope/internal/retrieval"
	"github.com/kalambet/dealscope/internal/search"
	"github.com/kalambet/dealscope/internal/structured"
)

const defaultMaxParallel = 4

// Retriever finds context chunks for a question. Implementations degrade to
// an empty slice instead of failing.
type Retriever interface {
	Retrieve(ctx context.Context, question string, filter retrieval.Filter, topK int) []retrieval.ContextChunk
}

// Query is one retrieval template. An empty Category searches every
// document of the entity.
type Query struct {
	Label    string
	Question string
	Category string
	TopK     int
}

// Lookup is one web search issued by a stage.
type Lookup struct {
	Label string
	Query string
	Num   int
}

// Env holds the collaborators shared by all stages.
type Env struct {
	Retriever Retriever
	Searcher  search.Searcher
	Invoker   structured.Invoker
	Composer  *composer.Composer
	// MaxParallel bounds concurrent retrieval and search calls per stage.
	MaxParallel int
}

func (e *Env) searcher() search.Searcher {
	if e.Searcher == nil {
		return search.Disabled{}
	}
	return e.Searcher
}

func (e *Env) composer() *composer.Composer {
	if e.Composer == nil {
		return composer.New(0)
	}
	return e.Composer
}

// Input is everything a prompt builder sees.
type Input struct {
	EntityID  string
	Contexts  map[string][]retrieval.ContextChunk
	Web       map[string][]search.Result
	Artifacts *Artifacts
}

// Chunks returns the context retrieved for label, never nil.
func (in Input) Chunks(label string) []retrieval.ContextChunk {
	if c := in.Contexts[label]; c != nil {
		return c
	}
	return []retrieval.ContextChunk{}
}

// WebResults concatenates the search results of the given lookups in order.
func (in Input) WebResults(labels ...string) []search.Result {
	out := []search.Result{}
	for _, l := range labels {
		out = append(out, in.Web[l]...)
	}
	return out
}

// Stage is one step of the analysis pipeline.
type Stage interface {
	Name() string
	// Run fills the stage's artifact in a. Only a model backend failure or a
	// cancelled context is returned as an error.
	Run(ctx context.Context, entityID string, a *Artifacts) (structured.Provenance, error)
}

// stageDef is a Stage producing an artifact of type T.
type stageDef[T any] struct {
	env      *Env
	name     string
	queries  []Query
	lookups  func(a *Artifacts) []Lookup
	noResult func() []search.Result
	prompt   func(c *composer.Composer, in Input) string
	fallback func(a *Artifacts) T
	salvage  structured.Salvager[T]
	store    func(a *Artifacts, res structured.Result[T])
}

func (s *stageDef[T]) Name() string { return s.name }

func (s *stageDef[T]) Run(ctx context.Context, entityID string, a *Artifacts) (structured.Provenance, error) {
	start := time.Now()
	logger := slog.Default().With("component", "analysis", "stage", s.name, "entity_id", entityID)

	var lookups []Lookup
	if s.lookups != nil {
		lookups = s.lookups(a)
	}

	in, err := s.gather(ctx, entityID, lookups, logger)
	if err != nil {
		return "", fmt.Errorf("%s: %w", s.name, err)
	}
	in.Artifacts = a

	prompt := s.prompt(s.env.composer(), in)
	res, err := structured.Call(ctx, s.env.Invoker, prompt, func() T { return s.fallback(a) }, s.salvage)
	if err != nil {
		return "", fmt.Errorf("%s: %w", s.name, err)
	}
	s.store(a, res)

	if res.Provenance != structured.ProvenanceOK {
		logger.Warn("stage output degraded", "provenance", res.Provenance, "note", res.Note)
	}
	logger.Debug("stage complete",
		"provenance", res.Provenance,
		"missing_keys", len(res.Missing),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return res.Provenance, nil
}

// gather runs the retrieval queries and web lookups concurrently.
func (s *stageDef[T]) gather(ctx context.Context, entityID string, lookups []Lookup, logger *slog.Logger) (Input, error) {
	contexts := make([][]retrieval.ContextChunk, len(s.queries))
	web := make([][]search.Result, len(lookups))

	limit := s.env.MaxParallel
	if limit <= 0 {
		limit = defaultMaxParallel
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, q := range s.queries {
		g.Go(func() error {
			filter := retrieval.EntityFilter(entityID, q.Category)
			contexts[i] = s.env.Retriever.Retrieve(gctx, q.Question, filter, q.TopK)
			return nil
		})
	}
	for i, l := range lookups {
		g.Go(func() error {
			results, err := s.env.searcher().Search(gctx, l.Query, l.Num)
			if err != nil {
				if errors.Is(err, search.ErrNotConfigured) {
					logger.Debug("web search not configured", "lookup", l.Label)
				} else {
					logger.Warn("web search failed", "lookup", l.Label, "error", err)
				}
				results = s.fallbackResults()
			}
			web[i] = results
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Input{}, err
	}
	if err := ctx.Err(); err != nil {
		return Input{}, err
	}

	in := Input{
		EntityID: entityID,
		Contexts: make(map[string][]retrieval.ContextChunk, len(s.queries)),
		Web:      make(map[string][]search.Result, len(lookups)),
	}
	for i, q := range s.queries {
		in.Contexts[q.Label] = contexts[i]
	}
	for i, l := range lookups {
		in.Web[l.Label] = web[i]
	}
	return in, nil
}

func (s *stageDef[T]) fallbackResults() []search.Result {
	if s.noResult == nil {
		return []search.Result{}
	}
	return s.noResult()
}

// jsonObject asks backends for a JSON object without constraining its shape.
var jsonObject = &engine.Schema{Type: "object"}

// ChatInvoker sends a prompt as a single user message to an engine.
type ChatInvoker struct {
	Engine engine.Engine
	Model  string
}

func (c ChatInvoker) Invoke(ctx context.Context, prompt string) (string, error) {
	return c.Engine.Chat(ctx, c.Model, []engine.Message{
		{Role: engine.RoleUser, Content: prompt},
	}, jsonObject)
}
