package crawl

import (
	"sort"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
)

// StopReason explains why a run ended.
type StopReason string

// Stop reasons.
const (
	StopNone      StopReason = ""
	StopThreshold StopReason = "not_found_threshold"
	StopLimit     StopReason = "limit"
	StopCanceled  StopReason = "canceled"
)

// entry is one ID waiting in the reorder buffer. knownBad distinguishes an
// OutcomeKnown ID listed in prior bad_ids from one that is already a node.
type entry struct {
	res      genealogy.Result
	knownBad bool
}

// BatchSummary counts in-order outcomes for one contiguous batch.
type BatchSummary struct {
	Start    int
	End      int // exclusive
	Found    int
	NotFound int
	Errors   int
	Streak   int
}

// sequencer evaluates outcomes strictly in ID order regardless of completion
// order. It is owned by a single goroutine.
type sequencer struct {
	threshold int
	limit     int
	batchSize int
	maxRuns   int
	start     int

	next int
	buf  map[int]entry

	streak      int
	streakStart int
	attempted   int
	cursor      int
	blocked     bool
	reason      StopReason

	tentative  []int
	bad        []int
	errors     []genealogy.RunError
	unresolved map[int]int
	abandoned  map[int]bool

	batch BatchSummary
}

func newSequencer(start int, cfg Config, priorUnresolved map[int]int, priorAbandoned []int) *sequencer {
	s := &sequencer{
		threshold:  cfg.NotFoundThreshold,
		limit:      cfg.limit(),
		batchSize:  cfg.BatchSize,
		maxRuns:    cfg.maxUnresolvedRuns(),
		start:      start,
		next:       start,
		buf:        make(map[int]entry),
		cursor:     start - 1,
		unresolved: make(map[int]int, len(priorUnresolved)),
		abandoned:  make(map[int]bool, len(priorAbandoned)),
	}
	for id, runs := range priorUnresolved {
		s.unresolved[id] = runs
	}
	for _, id := range priorAbandoned {
		s.abandoned[id] = true
	}
	s.batch = s.batchFor(start)
	return s
}

// lastEvaluated is the highest ID evaluated so far, start-1 before any.
func (s *sequencer) lastEvaluated() int {
	return s.next - 1
}

// window is the highest ID that may be dispatched now. Every ID up to it is
// at or below the eventual stop point no matter how outstanding IDs resolve.
func (s *sequencer) window() int {
	room := s.threshold - s.streak
	if s.batchSize < room {
		room = s.batchSize
	}
	return s.lastEvaluated() + room
}

func (s *sequencer) stopped() bool {
	return s.reason != StopNone
}

// add buffers e and evaluates every ID that is now contiguous. It returns the
// entries evaluated and the batches they completed, both in ID order.
func (s *sequencer) add(e entry) ([]entry, []BatchSummary) {
	if s.stopped() || e.res.ID < s.next {
		return nil, nil
	}
	s.buf[e.res.ID] = e

	var (
		evaluated []entry
		batches   []BatchSummary
	)
	for !s.stopped() {
		next, ok := s.buf[s.next]
		if !ok {
			break
		}
		delete(s.buf, s.next)
		s.evaluate(next)
		s.next++
		evaluated = append(evaluated, next)

		if s.lastEvaluated() == s.batch.End-1 {
			s.batch.Streak = s.streak
			batches = append(batches, s.batch)
			s.batch = s.batchFor(s.next)
		}
	}
	if s.stopped() {
		if b, ok := s.finish(); ok {
			batches = append(batches, b)
		}
	}
	return evaluated, batches
}

// cancel stops the sequencer; buffered but unevaluated results are dropped.
func (s *sequencer) cancel() (BatchSummary, bool) {
	if s.stopped() {
		return BatchSummary{}, false
	}
	s.reason = StopCanceled
	return s.finish()
}

func (s *sequencer) evaluate(e entry) {
	id := e.res.ID
	switch e.res.Outcome {
	case genealogy.OutcomeFound:
		s.attempted++
		s.batch.Found++
		s.resetStreak()
		s.resolved(id)
	case genealogy.OutcomeNotFound:
		s.attempted++
		s.batch.NotFound++
		s.extendStreak(id)
		s.tentative = append(s.tentative, id)
		s.resolved(id)
	case genealogy.OutcomeKnown:
		if e.knownBad {
			s.batch.NotFound++
			s.extendStreak(id)
		} else {
			s.batch.Found++
			s.resetStreak()
		}
		s.resolved(id)
	default:
		s.attempted++
		s.batch.Errors++
		msg := string(e.res.Outcome)
		if e.res.Err != nil {
			msg = e.res.Err.Error()
		}
		s.errors = append(s.errors, genealogy.RunError{ID: id, Message: msg})
		s.unresolvedAgain(id)
	}

	switch {
	case s.streak >= s.threshold:
		s.reason = StopThreshold
	case s.limit > 0 && s.attempted >= s.limit:
		s.reason = StopLimit
	}
}

func (s *sequencer) resetStreak() {
	s.streak = 0
	s.bad = append(s.bad, s.tentative...)
	s.tentative = nil
}

func (s *sequencer) extendStreak(id int) {
	if s.streak == 0 {
		s.streakStart = id
	}
	s.streak++
}

// resolved records a conclusive outcome for id.
func (s *sequencer) resolved(id int) {
	delete(s.unresolved, id)
	delete(s.abandoned, id)
	if !s.blocked {
		s.cursor = id
	}
}

// unresolvedAgain charges id one more unresolved run and abandons it once the
// budget is spent. Abandoned IDs no longer hold the cursor back.
func (s *sequencer) unresolvedAgain(id int) {
	if s.abandoned[id] {
		if !s.blocked {
			s.cursor = id
		}
		return
	}
	runs := s.unresolved[id] + 1
	if runs >= s.maxRuns {
		delete(s.unresolved, id)
		s.abandoned[id] = true
		if !s.blocked {
			s.cursor = id
		}
		return
	}
	s.unresolved[id] = runs
	s.blocked = true
}

// finish closes the partial batch and settles the trailing streak. A streak
// that ended the run marks the end of live data: it is neither recorded as bad
// nor covered by the cursor, so the next run probes it again.
func (s *sequencer) finish() (BatchSummary, bool) {
	if s.reason == StopThreshold {
		s.tentative = nil
		if s.cursor >= s.streakStart {
			s.cursor = s.streakStart - 1
		}
	} else {
		s.bad = append(s.bad, s.tentative...)
		s.tentative = nil
	}
	for id := range s.buf {
		delete(s.buf, id)
	}

	b := s.batch
	if s.lastEvaluated() < b.Start {
		return BatchSummary{}, false
	}
	b.End = s.next
	b.Streak = s.streak
	return b, true
}

func (s *sequencer) batchFor(id int) BatchSummary {
	k := (id - s.start) / s.batchSize
	start := s.start + k*s.batchSize
	return BatchSummary{Start: start, End: start + s.batchSize}
}

// lastValid is the highest in-order conclusive ID, or ok=false when none was
// reached this run.
func (s *sequencer) lastValid() (int, bool) {
	if s.cursor < s.start {
		return 0, false
	}
	return s.cursor, true
}

func (s *sequencer) badIDs() []int {
	out := append([]int(nil), s.bad...)
	sort.Ints(out)
	return out
}

func (s *sequencer) abandonedIDs() []int {
	out := make([]int, 0, len(s.abandoned))
	for id := range s.abandoned {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}
