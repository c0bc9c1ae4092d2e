package domain

import (
	"context"
	"fmt"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
	PutMultipart(ctx context.Context, path string, data io.Reader, partSize int64) error
}

// BlobReader retrieves archived objects. Get on a missing object reports
// ErrNotFound.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
	Exists(ctx context.Context, path string) (bool, error)
}

// EpochArchiver writes a settled epoch's full settlement record to cold
// storage.
type EpochArchiver interface {
	ArchiveEpoch(ctx context.Context, epochID uint64) (path string, err error)
}

// EpochArchivePrefix is the object-key prefix under which settled epoch
// records are stored.
const EpochArchivePrefix = "epochs/"

// EpochArchivePath is the object key for an epoch's settlement record. The
// archiver writes it and the archive read surface fetches it, so the two
// never disagree on layout.
func EpochArchivePath(epochID uint64) string {
	return fmt.Sprintf("%s%06d/settlement.jsonl", EpochArchivePrefix, epochID)
}
