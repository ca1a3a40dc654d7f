package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader"
)

// ErrNoPDFToText means poppler's pdftotext binary is not installed.
var ErrNoPDFToText = errors.New("pdftotext not found in PATH")

const defaultTimeout = 30 * time.Second

// PDFFileLoader extracts the text layer of PDF documents with pdftotext.
// The raw PDF bytes come from the wrapped loader.
type PDFFileLoader struct {
	loader  loader.FileLoader
	timeout time.Duration
	cache   *loader.Cache
}

func NewPDFFileLoader(base loader.FileLoader) *PDFFileLoader {
	return &PDFFileLoader{
		loader:  base,
		timeout: defaultTimeout,
		cache:   loader.NewCache(),
	}
}

// GetFileText returns the normalized text of the PDF. Scanned PDFs without a
// text layer yield empty text.
func (l *PDFFileLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return l.cache.Do(loader.CacheKey(file), func() ([]byte, error) {
		content, err := l.loader.GetFileText(ctx, file)
		if err != nil {
			return nil, err
		}
		text, err := parsePDF(ctx, content, l.timeout)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", file.ID, err)
		}
		return []byte(loader.NormalizeText(string(text))), nil
	})
}

func parsePDF(ctx context.Context, input []byte, timeout time.Duration) ([]byte, error) {
	if _, err := exec.LookPath("pdftotext"); err != nil {
		return nil, ErrNoPDFToText
	}

	tmpDir, err := os.MkdirTemp("", "pdfextract-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, input, 0o600); err != nil {
		return nil, fmt.Errorf("failed to write temp PDF: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(
		ctx,
		"pdftotext",
		"-enc", "UTF-8",
		"-eol", "unix",
		"-nopgbrk",
		"-q",
		pdfPath,
		"-",
	)
	cmd.Env = append(os.Environ(), "LANG=C.UTF-8", "LC_ALL=C.UTF-8")

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("pdftotext timed out: %w", ctx.Err())
	}
	if err != nil {
		return nil, fmt.Errorf("pdftotext failed: %w: %s", err, bytes.TrimSpace(stderr.Bytes()))
	}
	return out, nil
}
