package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader"
	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/logger"
)

// ErrCorpusNotFound is returned when the corpus location does not exist.
var ErrCorpusNotFound = errors.New("corpus not found")

// Corpus lists the documents to ingest.
type Corpus interface {
	// Documents returns every loadable document ordered by ID.
	Documents(ctx context.Context) ([]loader.SourceFile, error)
	Location() string
}

// DirCorpus is a local directory walked recursively. Document ids are paths
// relative to Root with forward slashes. Hidden entries and files no loader
// handles are skipped.
type DirCorpus struct {
	Root     string
	Registry *loader.Registry
}

func NewDirCorpus(root string, registry *loader.Registry) *DirCorpus {
	return &DirCorpus{Root: root, Registry: registry}
}

func (c *DirCorpus) Location() string { return c.Root }

func (c *DirCorpus) Documents(ctx context.Context) ([]loader.SourceFile, error) {
	info, err := os.Stat(c.Root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", c.Root, ErrCorpusNotFound)
		}
		return nil, fmt.Errorf("stat corpus %s: %w", c.Root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory: %w", c.Root, ErrCorpusNotFound)
	}

	var files []loader.SourceFile
	err = filepath.WalkDir(c.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if path != c.Root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(c.Root, path)
		if err != nil {
			return err
		}
		id := filepath.ToSlash(rel)
		file, ok := c.Registry.File(id, path)
		if !ok {
			logger.Debug("Skipping unsupported document", "document", id)
			return nil
		}
		files = append(files, file)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk corpus %s: %w", c.Root, err)
	}

	slices.SortFunc(files, func(a, b loader.SourceFile) int { return strings.Compare(a.ID, b.ID) })
	return files, nil
}

// ObjectLister lists object keys under a prefix. storage.Bucket implements it.
type ObjectLister interface {
	List(ctx context.Context, prefix string) ([]string, error)
	Name() string
}

// BucketCorpus is every object below Prefix in an S3 bucket. Document ids are
// keys relative to Prefix. The Registry's loaders must read object keys.
type BucketCorpus struct {
	Bucket   ObjectLister
	Prefix   string
	Registry *loader.Registry
}

func NewBucketCorpus(bucket ObjectLister, prefix string, registry *loader.Registry) *BucketCorpus {
	return &BucketCorpus{Bucket: bucket, Prefix: prefix, Registry: registry}
}

func (c *BucketCorpus) Location() string {
	return fmt.Sprintf("s3://%s/%s", c.Bucket.Name(), c.Prefix)
}

func (c *BucketCorpus) Documents(ctx context.Context) ([]loader.SourceFile, error) {
	keys, err := c.Bucket.List(ctx, c.Prefix)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%s: %w", c.Location(), ErrCorpusNotFound)
	}

	var files []loader.SourceFile
	for _, key := range keys {
		id := strings.TrimPrefix(strings.TrimPrefix(key, c.Prefix), "/")
		if id == "" {
			continue
		}
		file, ok := c.Registry.File(id, key)
		if !ok {
			logger.Debug("Skipping unsupported document", "document", key)
			continue
		}
		files = append(files, file)
	}
	slices.SortFunc(files, func(a, b loader.SourceFile) int { return strings.Compare(a.ID, b.ID) })
	return files, nil
}

// Fingerprint hashes the sorted (id, text hash) pairs of docs. Unreadable
// documents contribute a fixed marker so a fixed file changes the value.
func Fingerprint(ctx context.Context, docs []loader.SourceFile) (string, error) {
	sorted := slices.Clone(docs)
	slices.SortFunc(sorted, func(a, b loader.SourceFile) int { return strings.Compare(a.ID, b.ID) })

	h := sha256.New()
	for _, doc := range sorted {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		sum := "unreadable"
		if text, err := doc.GetText(ctx); err == nil {
			s := sha256.Sum256(text)
			sum = hex.EncodeToString(s[:])
		}
		fmt.Fprintf(h, "%s\x00%s\n", doc.ID, sum)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
