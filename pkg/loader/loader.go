// Package loader turns corpus documents into plain text. A SourceFile names
// a document; the FileLoader attached to it knows how to read it.
package loader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"regexp"
	"strings"
)

type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeText FileType = "text"
	FileTypeCSV  FileType = "csv"
	FileTypeWeb  FileType = "web"
)

// ErrUnsupported is returned for documents no loader handles.
var ErrUnsupported = errors.New("unsupported document type")

// SourceFile is one corpus document. ID is the document id used for chunk
// ids and citations, usually the path relative to the corpus root.
type SourceFile struct {
	ID       string
	FilePath string
	FileType FileType
	Loader   FileLoader
}

// GetText returns the document text using its Loader.
func (f SourceFile) GetText(ctx context.Context) ([]byte, error) {
	if f.Loader == nil {
		return nil, fmt.Errorf("%s: no loader for %s: %w", f.ID, f.FileType, ErrUnsupported)
	}
	return f.Loader.GetFileText(ctx, f)
}

// FileLoader reads a SourceFile. Implementations may read from disk, object
// storage or the web, and may wrap another FileLoader for the raw bytes.
type FileLoader interface {
	GetFileText(ctx context.Context, file SourceFile) ([]byte, error)
}

// DetectType maps a path or URL to a FileType by scheme and extension.
func DetectType(path string) (FileType, bool) {
	if u, err := url.Parse(path); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return FileTypeWeb, true
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return FileTypePDF, true
	case ".txt", ".md", ".markdown", ".text":
		return FileTypeText, true
	case ".csv":
		return FileTypeCSV, true
	}
	return "", false
}

// Registry picks the FileLoader for each FileType.
type Registry struct {
	loaders map[FileType]FileLoader
}

func NewRegistry() *Registry {
	return &Registry{loaders: make(map[FileType]FileLoader)}
}

// Register sets the loader for t, replacing any earlier one.
func (r *Registry) Register(t FileType, l FileLoader) *Registry {
	r.loaders[t] = l
	return r
}

// File builds the SourceFile for path. ok is false when the type is unknown
// or has no registered loader.
func (r *Registry) File(id, path string) (SourceFile, bool) {
	t, ok := DetectType(path)
	if !ok {
		return SourceFile{}, false
	}
	l, ok := r.loaders[t]
	if !ok {
		return SourceFile{}, false
	}
	return SourceFile{ID: id, FilePath: path, FileType: t, Loader: l}, true
}

// CacheKey identifies a SourceFile in loader caches.
func CacheKey(file SourceFile) string {
	return file.ID + ":" + file.FilePath
}

var (
	reBlankLines = regexp.MustCompile(`\n{3,}`)
	reTrailingWS = regexp.MustCompile(`[ \t]+\n`)
)

// NormalizeText drops invalid UTF-8, converts line endings to \n, strips NUL bytes and trailing
// blanks, and collapses runs of blank lines to one. Whitespace-only input
// becomes empty.
func NormalizeText(text string) string {
	text = strings.ToValidUTF8(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.ReplaceAll(text, "\x00", "")
	text = reTrailingWS.ReplaceAllString(text, "\n")
	text = reBlankLines.ReplaceAllString(text, "\n\n")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return text + "\n"
}
