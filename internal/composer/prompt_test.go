package composer

import (
	"strings"
	"testing"

	"github.com/kalambet/dealscope/internal/retrieval"
)

func chunk(text string, score float32) retrieval.ContextChunk {
	return retrieval.ContextChunk{Text: text, Score: score}
}

func TestJoinChunks_Separator(t *testing.T) {
	got := JoinChunks([]retrieval.ContextChunk{chunk("ARR $1.2M", 0.9), chunk("12 employees", 0.8)}, 1000)
	want := "ARR $1.2M\n\n---\n\n12 employees"
	if got != want {
		t.Errorf("JoinChunks = %q, want %q", got, want)
	}
}

func TestJoinChunks_Empty(t *testing.T) {
	if got := JoinChunks(nil, 1000); got != "" {
		t.Errorf("JoinChunks(nil) = %q, want empty", got)
	}
}

func TestJoinChunks_BudgetDropsLowestScore(t *testing.T) {
	long := strings.Repeat("x", 400) // 100 tokens
	chunks := []retrieval.ContextChunk{
		chunk("low "+long, 0.1),
		chunk("high "+long, 0.9),
	}
	got := JoinChunks(chunks, 120)
	if !strings.HasPrefix(got, "high ") || strings.Contains(got, "low ") {
		t.Errorf("expected only the high-scoring chunk, got %q", got[:20])
	}
}

func TestJoinChunks_PreservesRetrievalOrder(t *testing.T) {
	chunks := []retrieval.ContextChunk{chunk("b", 0.5), chunk("a", 0.9), chunk("c", 0.1)}
	if got := JoinChunks(chunks, 1000); got != "b"+ChunkSeparator+"a"+ChunkSeparator+"c" {
		t.Errorf("JoinChunks = %q", got)
	}
}

func TestCompose_Layout(t *testing.T) {
	c := New(0)
	if c.MaxContextTokens != defaultMaxContextTokens {
		t.Errorf("MaxContextTokens = %d, want default", c.MaxContextTokens)
	}

	out := c.Compose("You are a venture capital analyst.", []Section{
		{Title: "Team", Chunks: []retrieval.ContextChunk{chunk("Two founders", 0.7)}},
		{Title: "Extracted data", Body: JSON(map[string]int{"customers": 14})},
		{Title: "Empty", Chunks: []retrieval.ContextChunk{}},
	}, "Return ONLY JSON.")

	for _, want := range []string{
		"You are a venture capital analyst.\n\n",
		"TEAM:\nTwo founders\n\n",
		"EXTRACTED DATA:\n{\n  \"customers\": 14\n}\n\n",
		"EMPTY:\n\n\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("prompt missing %q:\n%s", want, out)
		}
	}
	if !strings.HasSuffix(out, "Return ONLY JSON.") {
		t.Errorf("prompt should end with instructions")
	}
}

func TestEstimateTokens(t *testing.T) {
	cases := map[string]int{"": 0, "a": 1, "abcd": 1, "abcde": 2}
	for in, want := range cases {
		if got := EstimateTokens(in); got != want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", in, got, want)
		}
	}
}
