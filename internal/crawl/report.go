package crawl

import (
	"sort"
	"time"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
	"github.com/JakeFAU/genealogy-crawler/internal/graph"
	"github.com/JakeFAU/genealogy-crawler/internal/snapshot"
)

// Report is the outcome of one Engine.Run.
type Report struct {
	RunID       string
	StartID     int
	LastValidID int
	// Attempted counts fetched IDs evaluated in order; known IDs are excluded.
	Attempted int
	Found     int
	NotFound  int
	Known     int

	NewRecords []genealogy.Node
	NewEdges   []genealogy.Edge
	// BadIDs are the IDs this run confirmed missing.
	BadIDs     []int
	Errors     []genealogy.RunError
	StopReason StopReason
	Unresolved map[int]int
	Abandoned  []int
	Batches    []BatchSummary

	StartedAt  time.Time
	FinishedAt time.Time
}

// Snapshot builds the metadata record for this run over the merged store.
// BadIDs accumulate across runs.
func (r Report) Snapshot(ts time.Time, store *graph.Store, prior *snapshot.Snapshot) snapshot.Snapshot {
	idMin := r.StartID
	var priorBad []int
	if prior != nil {
		priorBad = prior.BadIDs
		if prior.IDMin > 0 && prior.IDMin < idMin {
			idMin = prior.IDMin
		}
	}
	if minNode, ok := store.MinNodeID(); ok && minNode < idMin {
		idMin = minNode
	}

	unresolved := make(map[int]int, len(r.Unresolved))
	for id, runs := range r.Unresolved {
		unresolved[id] = runs
	}

	return snapshot.Snapshot{
		Timestamp:         ts.UTC().Format(snapshot.TimestampLayout),
		RunID:             r.RunID,
		IDMin:             idMin,
		StartID:           r.StartID,
		LastValidID:       r.LastValidID,
		TotalNodes:        store.NodeCount(),
		TotalEdges:        store.EdgeCount(),
		NewRecordsThisRun: len(r.NewRecords),
		BadIDs:            unionSorted(priorBad, r.BadIDs),
		ErrorsCount:       len(r.Errors),
		IDsAttempted:      r.Attempted,
		StopReason:        string(r.StopReason),
		Unresolved:        unresolved,
		AbandonedIDs:      append([]int(nil), r.Abandoned...),
	}
}

func unionSorted(a, b []int) []int {
	seen := make(map[int]struct{}, len(a)+len(b))
	out := make([]int, 0, len(a)+len(b))
	for _, list := range [][]int{a, b} {
		for _, id := range list {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}
