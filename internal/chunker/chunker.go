// Package chunker splits document text into overlapping chunks that prefer
// paragraph, line and word boundaries.
package chunker

// DefaultSize is the default maximum number of characters per chunk.
const DefaultSize = 1000

// DefaultOverlap is the default number of characters repeated at the start of
// every chunk after the first.
const DefaultOverlap = 200

// separators are tried in order when looking for a cut point.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(" "),
}

// Chunker splits text into chunks of at most size characters. Every chunk
// after the first starts with the overlap characters that precede its body,
// so dropping the first overlap characters of each non-first chunk and
// concatenating the results reproduces the input.
type Chunker struct {
	size    int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithSize sets the maximum chunk length in characters.
func WithSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the number of characters shared between consecutive chunks.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a Chunker. An overlap that is not smaller than the size is
// clamped to a quarter of the size.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:    DefaultSize,
		overlap: DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.overlap >= c.size {
		c.overlap = c.size / 4
	}
	return c
}

// Size returns the configured maximum chunk length.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap length.
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts text into chunks. Lengths are counted in runes, and a rune is
// never divided. Empty text yields no chunks.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return []string{}
	}

	r := []rune(text)
	n := len(r)
	if n <= c.size {
		return []string{text}
	}

	chunks := make([]string, 0, n/(c.size-c.overlap)+1)
	start := 0
	for start < n {
		// The first chunk has no overlap prefix and may use the whole size.
		budget := c.size
		prefix := 0
		if start > 0 {
			budget = c.size - c.overlap
			prefix = c.overlap
		}

		end := start + budget
		if end >= n {
			chunks = append(chunks, string(r[start-prefix:]))
			break
		}

		// The next chunk borrows overlap runes from before its start, so a
		// cut can never land before the overlap.
		minCut := start + 1
		if minCut < c.overlap {
			minCut = c.overlap
		}
		cut := findCut(r, start, end, minCut)

		chunks = append(chunks, string(r[start-prefix:cut]))
		start = cut
	}
	return chunks
}

// findCut returns the position just after the last preferred separator found
// in r[start:end], or end when no separator yields a cut of at least minCut.
func findCut(r []rune, start, end, minCut int) int {
	for _, sep := range separators {
		if cut := lastCutAfter(r, start, end, sep); cut >= minCut {
			return cut
		}
	}
	return end
}

func lastCutAfter(r []rune, start, end int, sep []rune) int {
	for i := end - len(sep); i >= start; i-- {
		if matchAt(r, i, sep) {
			return i + len(sep)
		}
	}
	return -1
}

func matchAt(r []rune, i int, sep []rune) bool {
	for j, s := range sep {
		if r[i+j] != s {
			return false
		}
	}
	return true
}

// Reassemble inverts Split for chunks produced with the given overlap.
func Reassemble(chunks []string, overlap int) string {
	var out []rune
	for i, ch := range chunks {
		r := []rune(ch)
		if i > 0 {
			r = r[overlap:]
		}
		out = append(out, r...)
	}
	return string(out)
}
