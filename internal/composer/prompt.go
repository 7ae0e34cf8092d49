// Package composer assembles analysis prompts from retrieved context,
// upstream artifacts and stage instructions.
package composer

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/kalambet/dealscope/internal/retrieval"
)

const defaultMaxContextTokens = 24000

// ChunkSeparator joins the chunks retrieved for one question.
const ChunkSeparator = "\n\n---\n\n"

// Section is one titled block of a prompt. Exactly one of Body or Chunks is
// normally set; Chunks are joined with ChunkSeparator.
type Section struct {
	Title  string
	Body   string
	Chunks []retrieval.ContextChunk
}

// Composer builds prompts while keeping retrieved context inside a token
// budget shared by all chunk sections.
type Composer struct {
	MaxContextTokens int
}

// New creates a Composer with the given token budget for retrieved context.
// If maxContextTokens <= 0, the default (24000) is used.
func New(maxContextTokens int) *Composer {
	if maxContextTokens <= 0 {
		maxContextTokens = defaultMaxContextTokens
	}
	return &Composer{MaxContextTokens: maxContextTokens}
}

// Compose renders a prompt: the role line, every section as "TITLE:\nbody",
// then the instructions.
func (c *Composer) Compose(role string, sections []Section, instructions string) string {
	var chunkSections int
	for _, s := range sections {
		if s.Chunks != nil {
			chunkSections++
		}
	}
	perSection := c.MaxContextTokens
	if chunkSections > 0 {
		perSection = c.MaxContextTokens / chunkSections
	}

	var sb strings.Builder
	sb.WriteString(role)
	sb.WriteString("\n\n")
	for _, s := range sections {
		body := s.Body
		if s.Chunks != nil {
			body = JoinChunks(s.Chunks, perSection)
		}
		sb.WriteString(strings.ToUpper(s.Title))
		sb.WriteString(":\n")
		sb.WriteString(body)
		sb.WriteString("\n\n")
	}
	sb.WriteString(instructions)
	return sb.String()
}

// JoinChunks joins chunk texts with ChunkSeparator in their given order.
// When the texts exceed maxTokens the lowest-scoring chunks are dropped.
// No chunks yields an empty string.
func JoinChunks(chunks []retrieval.ContextChunk, maxTokens int) string {
	if len(chunks) == 0 {
		return ""
	}

	keep := make([]bool, len(chunks))
	order := make([]int, len(chunks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return chunks[order[a]].Score > chunks[order[b]].Score
	})

	remaining := maxTokens
	for _, i := range order {
		tokens := EstimateTokens(chunks[i].Text) + EstimateTokens(ChunkSeparator)
		if tokens > remaining {
			continue
		}
		keep[i] = true
		remaining -= tokens
	}

	texts := make([]string, 0, len(chunks))
	for i, ch := range chunks {
		if keep[i] {
			texts = append(texts, ch.Text)
		}
	}
	return strings.Join(texts, ChunkSeparator)
}

// JSON renders v as indented JSON for embedding in a prompt.
func JSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

// EstimateTokens provides a rough token count using 4 chars per token heuristic.
func EstimateTokens(text string) int {
	return (len(text) + 3) / 4
}
