package genealogy

import (
	"context"
	"io"
	"time"
)

// Fetcher retrieves the page for a database ID. It returns ErrNotFound for
// missing IDs and an error matching ErrTransient once retries are exhausted.
type Fetcher interface {
	Fetch(ctx context.Context, id int) (Page, error)
}

// Parser turns raw page content into a Record. Failures match ErrParse.
type Parser interface {
	Parse(id int, body []byte) (Record, error)
}

// Queue provides enqueue/dequeue semantics for crawl tasks.
type Queue interface {
	Enqueue(ctx context.Context, task Task) error
	Dequeue(ctx context.Context) (Task, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Hasher computes digests for archived content.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
