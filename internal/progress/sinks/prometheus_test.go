package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/genealogy-crawler/internal/progress"
)

// TestPrometheusSinkRecordsMetrics ensures counters and histograms are incremented from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := progress.UUIDToBytes(uuid.New())
	now := time.Now()
	batch := []progress.Event{
		{RunID: runID, TS: now, Stage: progress.StageRunStart},
		{RunID: runID, TS: now, Stage: progress.StageFetchDone, RecordID: 101, Outcome: "found", Bytes: 1024, Dur: 200 * time.Millisecond},
		{RunID: runID, TS: now, Stage: progress.StageFetchDone, RecordID: 102, Outcome: "not_found", Dur: 100 * time.Millisecond},
		{RunID: runID, TS: now, Stage: progress.StageBatchDone, BatchStart: 101, BatchEnd: 301, Streak: 3},
		{RunID: runID, TS: now.Add(15 * time.Second), Stage: progress.StageRunDone, Dur: 15 * time.Second},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsStarted))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("success")))
	require.Equal(t, 0.0, testutil.ToFloat64(sink.runsCompleted.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetchOutcomes.WithLabelValues("found")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.fetchOutcomes.WithLabelValues("not_found")))
	require.InDelta(t, 1024.0, testutil.ToFloat64(sink.fetchBytes), 1e-9)
	require.Equal(t, 2, testutil.CollectAndCount(sink.fetchDuration, "genealogy_fetch_duration_seconds"))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.batchesDone))
	require.Equal(t, 3.0, testutil.ToFloat64(sink.streak))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
