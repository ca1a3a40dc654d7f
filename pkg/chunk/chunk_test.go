package chunk

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reassemble(chunks []string, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 {
			b.WriteString(c)
			continue
		}
		r := []rune(c)
		b.WriteString(string(r[overlap:]))
	}
	return b.String()
}

func TestNewDefaults(t *testing.T) {
	s := New()
	assert.Equal(t, DefaultChunkSize, s.ChunkSize())
	assert.Equal(t, DefaultChunkOverlap, s.Overlap())
}

func TestNewOverlapFallback(t *testing.T) {
	s := New(WithChunkSize(100), WithOverlap(150))
	assert.Equal(t, 25, s.Overlap())

	s = New(WithChunkSize(-1), WithOverlap(-5))
	assert.Equal(t, DefaultChunkSize, s.ChunkSize())
	assert.Equal(t, DefaultChunkOverlap, s.Overlap())
}

func TestSplitEmptyAndWhitespace(t *testing.T) {
	s := New()
	assert.Empty(t, s.Chunks(""))
	assert.Empty(t, s.Chunks(" \n\t  "))
}

func TestSplitShortText(t *testing.T) {
	s := New()
	chunks := s.Chunks("Acme Corp partners with Globex Inc.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "Acme Corp partners with Globex Inc.", chunks[0])
}

func TestSplitInvariants(t *testing.T) {
	words := strings.Repeat("support tickets are answered within two business days. ", 40)
	paragraphs := strings.Repeat("Refunds are issued to the original payment method.\n\nShipping is free above 50 EUR.\n", 30)
	hard := strings.Repeat("x", 2000)
	unicodeText := strings.Repeat("Grüße aus Köln – äöü ", 120)

	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
	}{
		{name: "words default", text: words, size: 750, overlap: 200},
		{name: "paragraphs", text: paragraphs, size: 300, overlap: 50},
		{name: "no whitespace", text: hard, size: 750, overlap: 200},
		{name: "multibyte", text: unicodeText, size: 120, overlap: 30},
		{name: "zero overlap", text: words, size: 100, overlap: 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s := New(WithChunkSize(tc.size), WithOverlap(tc.overlap))
			chunks := s.Chunks(tc.text)
			require.Greater(t, len(chunks), 1)

			for i, c := range chunks {
				n := utf8.RuneCountInString(c)
				assert.LessOrEqual(t, n, tc.size, "chunk %d too long", i)
				assert.Positive(t, n, "chunk %d empty", i)
				if i > 0 {
					prev := []rune(chunks[i-1])
					cur := []rune(c)
					assert.Equal(t, string(prev[len(prev)-tc.overlap:]), string(cur[:tc.overlap]),
						"chunk %d does not share the overlap with its predecessor", i)
				}
			}

			assert.Equal(t, tc.text, reassemble(chunks, tc.overlap), "characters were dropped")
		})
	}
}

func TestSplitPrefersParagraphBoundary(t *testing.T) {
	first := strings.Repeat("a", 60)
	second := strings.Repeat("b", 60)
	s := New(WithChunkSize(100), WithOverlap(10))

	chunks := s.Chunks(first + "\n\n" + second)
	require.GreaterOrEqual(t, len(chunks), 2)
	assert.Equal(t, first+"\n\n", chunks[0])
}

func TestSplitIsDeterministicAndRestartable(t *testing.T) {
	text := strings.Repeat("Globex Inc ships hardware to Acme Corp every month. ", 60)
	s := New()

	seq := s.Split(text)
	var first, second []string
	for c := range seq {
		first = append(first, c)
	}
	for c := range seq {
		second = append(second, c)
	}
	assert.Equal(t, first, second)
	assert.Equal(t, first, New().Chunks(text))
}

func TestSplitEarlyStop(t *testing.T) {
	text := strings.Repeat("word ", 1000)
	count := 0
	for range New(WithChunkSize(50), WithOverlap(5)).Split(text) {
		count++
		if count == 3 {
			break
		}
	}
	assert.Equal(t, 3, count)
}
