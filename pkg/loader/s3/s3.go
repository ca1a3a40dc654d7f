package s3

import (
	"context"

	"github.com/OFFIS-RIT/kiwi-support/backend/pkg/loader"
)

// ObjectGetter reads one object by key. storage.Bucket implements it.
type ObjectGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// S3FileLoader reads raw document bytes from an S3 bucket. FilePath is the
// object key. Wrap it in a pdf, csv or text loader to get text.
type S3FileLoader struct {
	bucket ObjectGetter
	cache  *loader.Cache
}

func NewS3FileLoader(bucket ObjectGetter) *S3FileLoader {
	return &S3FileLoader{bucket: bucket, cache: loader.NewCache()}
}

func (l *S3FileLoader) GetFileText(ctx context.Context, file loader.SourceFile) ([]byte, error) {
	return l.cache.Do(loader.CacheKey(file), func() ([]byte, error) {
		return l.bucket.Get(ctx, file.FilePath)
	})
}

// Invalidate forgets every cached object.
func (l *S3FileLoader) Invalidate() {
	l.cache.Clear()
}
