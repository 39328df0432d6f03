package genealogy

import (
	"fmt"
	"time"
)

// Node is a person record discovered at a single database ID. Fields that
// could not be recovered from the page are nil and serialize as null.
type Node struct {
	ID      int     `json:"id"`
	Name    *string `json:"name"`
	School  *string `json:"school"`
	Country *string `json:"country"`
	Year    *int    `json:"year"`
	Subject *string `json:"subject"`
}

// Edge is a directed advisor → student relationship.
type Edge struct {
	AdvisorID int `json:"advisor_id"`
	StudentID int `json:"student_id"`
}

// EdgeKey is the identity of an Edge.
type EdgeKey [2]int

// Key returns the ordered (advisor, student) pair.
func (e Edge) Key() EdgeKey {
	return EdgeKey{e.AdvisorID, e.StudentID}
}

func (e Edge) String() string {
	return fmt.Sprintf("%d->%d", e.AdvisorID, e.StudentID)
}

// Record is the parsed content of one record page.
type Record struct {
	Node  Node
	Edges []Edge
}

// Outcome classifies how a single ID resolved during a run.
type Outcome string

// Per-ID outcomes.
const (
	OutcomeFound        Outcome = "found"
	OutcomeNotFound     Outcome = "not_found"
	OutcomeTransient    Outcome = "transient"
	OutcomeParseFailure Outcome = "parse_failure"
	// OutcomeKnown marks an ID resolved by prior state; it is not fetched.
	OutcomeKnown Outcome = "known"
)

// Conclusive reports whether the outcome is final for the ID.
func (o Outcome) Conclusive() bool {
	switch o {
	case OutcomeFound, OutcomeNotFound, OutcomeKnown:
		return true
	default:
		return false
	}
}

// Page is the raw content returned by a Fetcher.
type Page struct {
	ID         int
	URL        string
	StatusCode int
	Body       []byte
	Attempts   int
	Duration   time.Duration
}

// Task is one ID handed to the worker pool.
type Task struct {
	ID int
}

// Result is what a worker reports back for a Task.
type Result struct {
	ID       int
	Outcome  Outcome
	Record   Record
	Err      error
	Attempts int
	Bytes    int
	Duration time.Duration
	BlobURI  string
}

// RunError is one entry of the per-run error log.
type RunError struct {
	ID      int
	Message string
}
