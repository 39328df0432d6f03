package crawl

import (
	"fmt"
)

// DefaultMaxUnresolvedRuns is how many runs an ID may end unresolved before
// it is abandoned.
const DefaultMaxUnresolvedRuns = 3

// Config governs one scan. StartID and Limit are optional.
type Config struct {
	Workers           int
	BatchSize         int
	NotFoundThreshold int
	StartID           *int
	Limit             *int
	MaxUnresolvedRuns int
	// ArchivePrefix is prepended to archived page paths.
	ArchivePrefix string
}

// Validate enforces the engine's input contract.
func (c Config) Validate() error {
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be >= 1, got %d", c.BatchSize)
	}
	if c.NotFoundThreshold < 1 {
		return fmt.Errorf("not-found threshold must be >= 1, got %d", c.NotFoundThreshold)
	}
	if c.StartID != nil && *c.StartID < 1 {
		return fmt.Errorf("start id must be >= 1, got %d", *c.StartID)
	}
	if c.Limit != nil && *c.Limit < 1 {
		return fmt.Errorf("limit must be >= 1, got %d", *c.Limit)
	}
	if c.MaxUnresolvedRuns < 0 {
		return fmt.Errorf("max unresolved runs must be >= 0, got %d", c.MaxUnresolvedRuns)
	}
	return nil
}

func (c Config) maxUnresolvedRuns() int {
	if c.MaxUnresolvedRuns <= 0 {
		return DefaultMaxUnresolvedRuns
	}
	return c.MaxUnresolvedRuns
}

func (c Config) limit() int {
	if c.Limit == nil {
		return 0
	}
	return *c.Limit
}
