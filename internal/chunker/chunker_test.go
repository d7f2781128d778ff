package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rcliao/treering/internal/model"
)

func mustNew(t *testing.T, opts Options) *Chunker {
	t.Helper()
	c, err := New(opts)
	if err != nil {
		t.Fatalf("new chunker: %v", err)
	}
	return c
}

func TestChunk_EmptyInput(t *testing.T) {
	c := mustNew(t, DefaultOptions())
	if result := c.Chunk(""); result != nil {
		t.Errorf("expected nil, got %v", result)
	}
	if result := c.Chunk(" \n\t "); result != nil {
		t.Errorf("expected nil for whitespace, got %v", result)
	}
}

func TestChunk_ShortContent(t *testing.T) {
	text := "This is a short memory."
	result := mustNew(t, DefaultOptions()).Chunk(text)
	if len(result) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(result))
	}
	if result[0].Text != text {
		t.Errorf("expected %q, got %q", text, result[0].Text)
	}
	if result[0].TokenCount != 5 {
		t.Errorf("expected 5 tokens, got %d", result[0].TokenCount)
	}
}

func TestTokenizeRoundTrip(t *testing.T) {
	for _, text := range []string{
		"  leading space",
		"trailing space \n\n",
		"a  b\tc\n\nd",
		"single",
		"unicode — dashes and café",
	} {
		if got := strings.Join(Tokenize(text), ""); got != text {
			t.Errorf("Tokenize(%q) rejoined as %q", text, got)
		}
	}
	if n := CountTokens("  one two\n\nthree "); n != 3 {
		t.Errorf("expected 3 tokens, got %d", n)
	}
}

func TestChunk_RespectsMaxTokensAndRoundTrips(t *testing.T) {
	opts := Options{MaxTokens: 40, OverlapTokens: 8}
	c := mustNew(t, opts)

	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "Sentence number %d talks about tour logistics and venues. ", i)
		if i%7 == 6 {
			b.WriteString("\n\n")
		}
	}
	text := b.String()

	chunks := c.Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, ch := range chunks {
		if ch.TokenCount > opts.MaxTokens {
			t.Errorf("chunk %d has %d tokens, max %d", i, ch.TokenCount, opts.MaxTokens)
		}
		if ch.TokenCount != CountTokens(ch.Text) {
			t.Errorf("chunk %d token count %d does not match text (%d)", i, ch.TokenCount, CountTokens(ch.Text))
		}
		if i > 0 && ch.OverlapTokens == 0 {
			t.Errorf("chunk %d should overlap its predecessor", i)
		}
	}
	if got := Reassemble(chunks); got != text {
		t.Errorf("reassembled text differs from source\n got: %q\nwant: %q", got, text)
	}
}

func TestChunk_PrefersParagraphBreak(t *testing.T) {
	c := mustNew(t, Options{MaxTokens: 10, OverlapTokens: 0})
	// paragraph ends after token 9 (inside the last 20% of a 10-token window)
	text := "one two three four five six seven eight nine.\n\nten eleven twelve"
	chunks := c.Chunk(text)
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d: %+v", len(chunks), chunks)
	}
	if !strings.HasSuffix(chunks[0].Text, "nine.\n\n") {
		t.Errorf("expected break at paragraph, got %q", chunks[0].Text)
	}
}

func TestChunk_PrefersSentenceBreak(t *testing.T) {
	c := mustNew(t, Options{MaxTokens: 10, OverlapTokens: 0})
	text := "a b c d e f g h. i j k l m"
	chunks := c.Chunk(text)
	if !strings.HasSuffix(chunks[0].Text, "h. ") {
		t.Errorf("expected break after sentence, got %q", chunks[0].Text)
	}
}

func TestChunk_IgnoresEarlyBreaks(t *testing.T) {
	c := mustNew(t, Options{MaxTokens: 10, OverlapTokens: 0})
	// the only sentence end sits in the first 20% of the window
	text := "a. b c d e f g h i j k l m n"
	chunks := c.Chunk(text)
	if chunks[0].TokenCount != 10 {
		t.Errorf("expected a full 10-token chunk, got %d (%q)", chunks[0].TokenCount, chunks[0].Text)
	}
}

func TestChunk_Deterministic(t *testing.T) {
	c := mustNew(t, Options{MaxTokens: 16, OverlapTokens: 4})
	text := strings.Repeat("The band loads in at noon. Soundcheck follows. ", 20)
	a, b := c.Chunk(text), c.Chunk(text)
	if len(a) != len(b) {
		t.Fatalf("chunk counts differ: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i].Text != b[i].Text {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestMergeChunks(t *testing.T) {
	c := mustNew(t, Options{MaxTokens: 20, OverlapTokens: 2})
	text := strings.Repeat("word ", 45)
	chunks := c.Chunk(text)

	merged := c.MergeChunks(chunks, 30)
	if len(merged) > len(chunks) {
		t.Fatalf("merge grew the chunk list: %d > %d", len(merged), len(chunks))
	}
	for i, ch := range merged {
		if ch.TokenCount > 20 {
			t.Errorf("merged chunk %d exceeds max: %d", i, ch.TokenCount)
		}
	}
	if got := Reassemble(merged); got != text {
		t.Errorf("merged chunks do not reassemble the source")
	}

	small := []Chunk{
		{Text: "alpha ", TokenCount: 1},
		{Text: "beta ", TokenCount: 1, Offset: 6},
		{Text: "gamma", TokenCount: 1, Offset: 11},
	}
	out := c.MergeChunks(small, 5)
	if len(out) != 1 || out[0].Text != "alpha beta gamma" || out[0].TokenCount != 3 {
		t.Errorf("expected one merged chunk, got %+v", out)
	}
}

func TestNew_InvalidOptions(t *testing.T) {
	for _, opts := range []Options{
		{MaxTokens: -1},
		{MaxTokens: 10, OverlapTokens: 5},
		{MaxTokens: 10, OverlapTokens: -1},
	} {
		if _, err := New(opts); !errors.Is(err, model.ErrValidation) {
			t.Errorf("New(%+v): expected validation error, got %v", opts, err)
		}
	}
}
