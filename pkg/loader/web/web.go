package web

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"codeberg.org/readeck/go-readability/v2"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader"
)

const maxBodyBytes = 20 << 20

// WebFileLoader fetches URLs. HTML pages are reduced to their main article
// text with readability; other text/* content is returned as is.
type WebFileLoader struct {
	client *http.Client
	cache  *loader.Cache
}

func NewWebFileLoader() *WebFileLoader {
	return NewWebFileLoaderWithClient(&http.Client{Timeout: 30 * time.Second})
}

func NewWebFileLoaderWithClient(client *http.Client) *WebFileLoader {
	return &WebFileLoader{client: client, cache: loader.NewCache()}
}

func (l *WebFileLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return l.cache.Do(loader.CacheKey(file), func() ([]byte, error) {
		return l.fetch(ctx, file)
	})
}

func (l *WebFileLoader) fetch(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	pageURL, err := url.Parse(file.FilePath)
	if err != nil {
		return nil, fmt.Errorf("failed to parse url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("failed to fetch url: %s", resp.Status)
	}
	body := io.LimitReader(resp.Body, maxBodyBytes)

	contentType := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(contentType, "text/html"):
		article, err := readability.FromReader(body, pageURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse html: %w", err)
		}
		var builder strings.Builder
		if err := article.RenderText(&builder); err != nil {
			return nil, fmt.Errorf("failed to render article text: %w", err)
		}
		return []byte(loader.NormalizeText(builder.String())), nil
	case contentType != "" && !strings.HasPrefix(contentType, "text/"):
		return nil, fmt.Errorf("%s: content type %q: %w", file.ID, contentType, loader.ErrUnsupported)
	}

	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, err
	}
	return []byte(loader.NormalizeText(string(raw))), nil
}
