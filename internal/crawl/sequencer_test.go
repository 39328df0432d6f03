package crawl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
)

func outcome(id int, o genealogy.Outcome) entry {
	return entry{res: genealogy.Result{ID: id, Outcome: o}}
}

func TestSequencerReordersCompletions(t *testing.T) {
	t.Parallel()

	s := newSequencer(10, Config{BatchSize: 100, NotFoundThreshold: 2}, nil, nil)

	// 11 and 12 are missing but arrive before 10; the streak must not count
	// them until 10 has been evaluated.
	evaluated, _ := s.add(outcome(12, genealogy.OutcomeNotFound))
	assert.Empty(t, evaluated)
	evaluated, _ = s.add(outcome(13, genealogy.OutcomeFound))
	assert.Empty(t, evaluated)
	evaluated, _ = s.add(outcome(11, genealogy.OutcomeNotFound))
	assert.Empty(t, evaluated)
	assert.False(t, s.stopped())

	evaluated, _ = s.add(outcome(10, genealogy.OutcomeFound))
	require.Len(t, evaluated, 3, "13 lies past the stop point")
	assert.Equal(t, 10, evaluated[0].res.ID)
	assert.Equal(t, 12, evaluated[2].res.ID)
	assert.Equal(t, StopThreshold, s.reason)

	h, ok := s.lastValid()
	require.True(t, ok)
	assert.Equal(t, 10, h)
	assert.Empty(t, s.badIDs())
}

func TestSequencerWindow(t *testing.T) {
	t.Parallel()

	s := newSequencer(1, Config{BatchSize: 10, NotFoundThreshold: 4}, nil, nil)
	assert.Equal(t, 4, s.window())

	s.add(outcome(1, genealogy.OutcomeNotFound))
	s.add(outcome(2, genealogy.OutcomeNotFound))
	assert.Equal(t, 4, s.window(), "two more misses would end the run at 4")

	s.add(outcome(3, genealogy.OutcomeFound))
	assert.Equal(t, 7, s.window())

	wide := newSequencer(1, Config{BatchSize: 3, NotFoundThreshold: 50}, nil, nil)
	assert.Equal(t, 3, wide.window())
}

func TestSequencerBatches(t *testing.T) {
	t.Parallel()

	s := newSequencer(1, Config{BatchSize: 3, NotFoundThreshold: 10}, nil, nil)
	var batches []BatchSummary
	for id := 1; id <= 7; id++ {
		o := genealogy.OutcomeFound
		if id%2 == 0 {
			o = genealogy.OutcomeNotFound
		}
		_, done := s.add(outcome(id, o))
		batches = append(batches, done...)
	}
	require.Len(t, batches, 2)
	assert.Equal(t, BatchSummary{Start: 1, End: 4, Found: 2, NotFound: 1, Streak: 0}, batches[0])
	assert.Equal(t, BatchSummary{Start: 4, End: 7, Found: 1, NotFound: 2, Streak: 1}, batches[1])

	last, ok := s.cancel()
	require.True(t, ok)
	assert.Equal(t, BatchSummary{Start: 7, End: 8, Found: 1}, last)
	assert.Equal(t, StopCanceled, s.reason)
	assert.Equal(t, []int{2, 4, 6}, s.badIDs())
}

func TestSequencerKnownOutcomes(t *testing.T) {
	t.Parallel()

	s := newSequencer(1, Config{BatchSize: 10, NotFoundThreshold: 2}, nil, nil)
	s.add(entry{res: genealogy.Result{ID: 1, Outcome: genealogy.OutcomeKnown}, knownBad: true})
	s.add(entry{res: genealogy.Result{ID: 2, Outcome: genealogy.OutcomeKnown}})
	s.add(entry{res: genealogy.Result{ID: 3, Outcome: genealogy.OutcomeKnown}, knownBad: true})
	assert.False(t, s.stopped())
	assert.Equal(t, 0, s.attempted)

	s.add(outcome(4, genealogy.OutcomeNotFound))
	assert.Equal(t, StopThreshold, s.reason)
	h, ok := s.lastValid()
	require.True(t, ok)
	assert.Equal(t, 2, h)
}

func TestSequencerUnresolvedBudget(t *testing.T) {
	t.Parallel()

	s := newSequencer(1, Config{BatchSize: 10, NotFoundThreshold: 5, MaxUnresolvedRuns: 2}, map[int]int{3: 1}, nil)
	s.add(outcome(1, genealogy.OutcomeFound))
	s.add(outcome(2, genealogy.OutcomeParseFailure))
	s.add(outcome(3, genealogy.OutcomeTransient))
	s.add(outcome(4, genealogy.OutcomeFound))

	assert.Equal(t, map[int]int{2: 1}, s.unresolved)
	assert.Equal(t, []int{3}, s.abandonedIDs())
	h, ok := s.lastValid()
	require.True(t, ok)
	assert.Equal(t, 1, h, "unresolved 2 blocks the cursor")
	require.Len(t, s.errors, 2)
	assert.Equal(t, "parse_failure", s.errors[0].Message)
}

func TestSequencerLimit(t *testing.T) {
	t.Parallel()

	s := newSequencer(1, Config{BatchSize: 10, NotFoundThreshold: 5, Limit: intPtr(2)}, nil, nil)
	s.add(outcome(1, genealogy.OutcomeNotFound))
	assert.False(t, s.stopped())
	s.add(outcome(2, genealogy.OutcomeNotFound))
	assert.Equal(t, StopLimit, s.reason)
	assert.Equal(t, []int{1, 2}, s.badIDs())
	h, _ := s.lastValid()
	assert.Equal(t, 2, h)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	valid := Config{Workers: 1, BatchSize: 1, NotFoundThreshold: 1}
	require.NoError(t, valid.Validate())

	bad := valid
	bad.StartID = intPtr(0)
	require.ErrorContains(t, bad.Validate(), "start id")

	bad = valid
	bad.BatchSize = 0
	require.ErrorContains(t, bad.Validate(), "batch size")

	bad = valid
	bad.NotFoundThreshold = 0
	require.ErrorContains(t, bad.Validate(), "threshold")

	assert.Equal(t, DefaultMaxUnresolvedRuns, valid.maxUnresolvedRuns())
}
