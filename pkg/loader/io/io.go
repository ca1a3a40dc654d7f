package io

import (
	"context"
	"os"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader"
)

// IOFileLoader reads files from the local filesystem. Raw bytes are cached
// until Invalidate is called.
type IOFileLoader struct {
	cache *loader.Cache
}

func NewIOFileLoader() *IOFileLoader {
	return &IOFileLoader{cache: loader.NewCache()}
}

// GetFileText returns the raw file content.
func (l *IOFileLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.cache.Do(loader.CacheKey(file), func() ([]byte, error) {
		return os.ReadFile(file.FilePath)
	})
}

// Invalidate forgets every cached file, e.g. after the corpus changed.
func (l *IOFileLoader) Invalidate() {
	l.cache.Clear()
}

// TextFileLoader normalizes the bytes of another loader as UTF-8 text. It
// serves .txt and markdown documents.
type TextFileLoader struct {
	base loader.FileLoader
}

func NewTextFileLoader(base loader.FileLoader) *TextFileLoader {
	return &TextFileLoader{base: base}
}

func (l *TextFileLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	raw, err := l.base.GetFileText(ctx, file)
	if err != nil {
		return nil, err
	}
	return []byte(loader.NormalizeText(string(raw))), nil
}
