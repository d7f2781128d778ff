// Package chunker splits text into token-bounded, overlapping chunks for
// embedding and storage.
package chunker

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rcliao/treering/internal/model"
)

const (
	DefaultMaxTokens     = 512
	DefaultOverlapTokens = 50
	DefaultMinTokens     = 256
)

// A break point may only shorten a chunk by this fraction of its length.
const maxBacktrack = 0.2

// Options configures chunking behavior.
type Options struct {
	MaxTokens     int
	OverlapTokens int
}

// DefaultOptions returns default chunking options.
func DefaultOptions() Options {
	return Options{
		MaxTokens:     DefaultMaxTokens,
		OverlapTokens: DefaultOverlapTokens,
	}
}

// Chunk is a contiguous piece of a larger text.
type Chunk struct {
	Text       string    `json:"text"`
	TokenCount int       `json:"token_count"`
	Offset     int       `json:"offset"` // byte offset in the source text
	Embedding  []float32 `json:"-"`

	// OverlapTokens/OverlapBytes measure the prefix repeated from the previous chunk.
	OverlapTokens int `json:"overlap_tokens,omitempty"`
	OverlapBytes  int `json:"overlap_bytes,omitempty"`
}

// Chunker is a pure function of its options; it holds no state between calls.
type Chunker struct {
	opts Options
}

// New validates opts and returns a Chunker.
func New(opts Options) (*Chunker, error) {
	if opts.MaxTokens == 0 && opts.OverlapTokens == 0 {
		opts = DefaultOptions()
	}
	if opts.MaxTokens <= 0 {
		return nil, model.Validationf("max tokens must be positive, got %d", opts.MaxTokens)
	}
	if opts.OverlapTokens < 0 || opts.OverlapTokens*2 >= opts.MaxTokens {
		return nil, model.Validationf("overlap %d must be in [0, %d)", opts.OverlapTokens, (opts.MaxTokens+1)/2)
	}
	return &Chunker{opts: opts}, nil
}

// MaxTokens returns the configured chunk ceiling.
func (c *Chunker) MaxTokens() int { return c.opts.MaxTokens }

// Chunk splits text into chunks of at most MaxTokens tokens. Empty or
// whitespace-only text yields nil; text within the limit yields one chunk.
func (c *Chunker) Chunk(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	toks := Tokenize(text)
	offsets := make([]int, len(toks)+1)
	for i, t := range toks {
		offsets[i+1] = offsets[i] + len(t)
	}

	var chunks []Chunk
	start, prevCut := 0, 0
	for start < len(toks) {
		end := start + c.opts.MaxTokens
		cut := len(toks)
		if end < len(toks) {
			cut = start + findBreak(toks[start:end])
		}

		overlap := prevCut - start
		if overlap < 0 {
			overlap = 0
		}
		chunks = append(chunks, Chunk{
			Text:          text[offsets[start]:offsets[cut]],
			TokenCount:    cut - start,
			Offset:        offsets[start],
			OverlapTokens: overlap,
			OverlapBytes:  offsets[start+overlap] - offsets[start],
		})
		if cut >= len(toks) {
			break
		}

		next := cut - c.opts.OverlapTokens
		if next <= start {
			next = start + 1
		}
		start, prevCut = next, cut
	}
	return chunks
}

// findBreak returns how many tokens of window to keep. It prefers the last
// paragraph break, then the last sentence end, within the final 20% of the
// window, and otherwise keeps the whole window.
func findBreak(window []string) int {
	n := len(window)
	minKeep := n - int(float64(n)*maxBacktrack)
	if minKeep < 1 {
		minKeep = 1
	}
	for i := n; i >= minKeep; i-- {
		if strings.Contains(trailingSpace(window[i-1]), "\n\n") {
			return i
		}
	}
	for i := n; i >= minKeep; i-- {
		if endsSentence(window[i-1]) {
			return i
		}
	}
	return n
}

func endsSentence(tok string) bool {
	ws := trailingSpace(tok)
	if ws == "" {
		return false
	}
	word := strings.TrimRightFunc(tok, unicode.IsSpace)
	r, _ := utf8.DecodeLastRuneInString(word)
	return r == '.' || r == '!' || r == '?'
}

func trailingSpace(tok string) string {
	return tok[len(strings.TrimRightFunc(tok, unicode.IsSpace)):]
}

// MergeChunks folds adjacent chunks together when either side is smaller
// than minTokens and the result still fits within MaxTokens. Shared overlap
// is not repeated in the merged text.
func (c *Chunker) MergeChunks(chunks []Chunk, minTokens int) []Chunk {
	if minTokens <= 0 {
		minTokens = DefaultMinTokens
	}
	var merged []Chunk
	for _, ch := range chunks {
		if len(merged) == 0 {
			merged = append(merged, ch)
			continue
		}
		cur := &merged[len(merged)-1]
		combined := cur.TokenCount + ch.TokenCount - ch.OverlapTokens
		small := cur.TokenCount < minTokens || ch.TokenCount < minTokens
		if !small || combined > c.opts.MaxTokens {
			merged = append(merged, ch)
			continue
		}
		cur.Text += ch.Text[ch.OverlapBytes:]
		cur.TokenCount = combined
		cur.Embedding = nil
	}
	return merged
}

// Reassemble concatenates chunks without their overlapping prefixes. For the
// output of Chunk (merged or not) it reproduces the source text.
func Reassemble(chunks []Chunk) string {
	var b strings.Builder
	for _, ch := range chunks {
		b.WriteString(ch.Text[ch.OverlapBytes:])
	}
	return b.String()
}

// Tokenize splits text into whitespace-delimited tokens. Each token is a run
// of non-space runes followed by its trailing whitespace; leading whitespace
// belongs to the first token. Joining the tokens yields text unchanged.
func Tokenize(text string) []string {
	var toks []string
	start := 0
	inSpace := true // leading whitespace sticks to the first word
	seenWord := false
	for i, r := range text {
		space := unicode.IsSpace(r)
		if !space && inSpace && seenWord {
			toks = append(toks, text[start:i])
			start = i
		}
		if !space {
			seenWord = true
		}
		inSpace = space
	}
	if start < len(text) {
		toks = append(toks, text[start:])
	}
	return toks
}

// CountTokens returns the number of tokens Tokenize would produce.
func CountTokens(text string) int {
	return len(Tokenize(text))
}
