// Package chunk splits document text into overlapping character windows.
package chunk

import (
	"iter"
	"slices"
	"strings"
	"unicode"
)

const (
	// DefaultChunkSize is the default number of characters per chunk.
	DefaultChunkSize = 750
	// DefaultChunkOverlap is the default number of characters shared by
	// consecutive chunks.
	DefaultChunkOverlap = 200
)

// Splitter cuts text into chunks of at most chunkSize characters (runes).
// Consecutive chunks share exactly overlap characters, so concatenating the
// first chunk with every later chunk minus its overlap prefix gives back the
// input.
type Splitter struct {
	chunkSize int
	overlap   int
}

// Option configures a Splitter.
type Option func(*Splitter)

// WithChunkSize sets the chunk size in characters.
func WithChunkSize(size int) Option {
	return func(s *Splitter) {
		if size > 0 {
			s.chunkSize = size
		}
	}
}

// WithOverlap sets the overlap between chunks in characters.
func WithOverlap(overlap int) Option {
	return func(s *Splitter) {
		if overlap >= 0 {
			s.overlap = overlap
		}
	}
}

// New creates a Splitter. An overlap that is not smaller than the chunk size
// is reduced to a quarter of it.
func New(opts ...Option) *Splitter {
	s := &Splitter{
		chunkSize: DefaultChunkSize,
		overlap:   DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.overlap >= s.chunkSize {
		s.overlap = s.chunkSize / 4
	}
	return s
}

// ChunkSize is the target chunk length in characters.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap is how many characters consecutive chunks share.
func (s *Splitter) Overlap() int { return s.overlap }

// Split returns the chunks of text as a lazy sequence. Ranging over it again
// yields the same chunks. Text that is empty or only whitespace has no chunks.
func (s *Splitter) Split(text string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if strings.TrimSpace(text) == "" {
			return
		}
		runes := []rune(text)
		start := 0
		for {
			if len(runes)-start <= s.chunkSize {
				yield(string(runes[start:]))
				return
			}
			end := s.cut(runes, start)
			if !yield(string(runes[start:end])) {
				return
			}
			start = end - s.overlap
		}
	}
}

// Chunks collects Split into a slice.
func (s *Splitter) Chunks(text string) []string {
	return slices.Collect(s.Split(text))
}

var separators = [][]rune{[]rune("\n\n"), []rune("\n")}

// cut picks the exclusive end of the chunk starting at start. It prefers the
// end of a paragraph, then a line, then any whitespace, as long as the cut
// lands in the back half of the window and after the overlap; otherwise it
// cuts hard at chunkSize.
func (s *Splitter) cut(runes []rune, start int) int {
	limit := start + s.chunkSize
	minEnd := start + max(s.overlap+1, s.chunkSize/2)

	for _, sep := range separators {
		for end := limit; end >= minEnd; end-- {
			if end-len(sep) >= start && slices.Equal(runes[end-len(sep):end], sep) {
				return end
			}
		}
	}
	for end := limit; end >= minEnd; end-- {
		if unicode.IsSpace(runes[end-1]) {
			return end
		}
	}
	return limit
}
