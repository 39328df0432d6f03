package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
	"github.com/JakeFAU/genealogy-crawler/internal/queue/memory"
	"github.com/JakeFAU/genealogy-crawler/internal/worker"
)

// TestDispatcherProcessesAllTasks ensures every queued ID yields a result and Run returns once the queue closes.
func TestDispatcherProcessesAllTasks(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(4)
	results := make(chan genealogy.Result, 100)
	fetcher := &countingFetcher{}
	workers := make([]*worker.Worker, 3)
	for i := range workers {
		workers[i] = worker.New(i, q, fetcher, stubParser{}, results, worker.Config{}, zap.NewNop())
	}
	d := New(q, workers)
	require.Equal(t, 3, d.Size())

	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()

	for id := 1; id <= 20; id++ {
		require.NoError(t, d.Enqueue(context.Background(), genealogy.Task{ID: id}))
	}
	q.Close()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop after queue close")
	}
	require.Len(t, results, 20)
	require.LessOrEqual(t, fetcher.maxInFlight(), 3)
}

// TestDispatcherRunStopsOnCancel ensures workers stop on cancel.
func TestDispatcherRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	q := memory.NewQueue(1)
	w := worker.New(0, q, &countingFetcher{}, stubParser{}, make(chan genealogy.Result), worker.Config{}, zap.NewNop())
	d := New(q, []*worker.Worker{w})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	d := New(&errorQueue{err: errors.New("boom")}, nil)
	err := d.Enqueue(context.Background(), genealogy.Task{ID: 1})
	require.EqualError(t, err, "queue enqueue: boom")
}

type countingFetcher struct {
	mu       sync.Mutex
	inFlight int
	max      int
}

func (f *countingFetcher) Fetch(_ context.Context, id int) (genealogy.Page, error) {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.max {
		f.max = f.inFlight
	}
	f.mu.Unlock()

	time.Sleep(time.Millisecond)

	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
	return genealogy.Page{ID: id, Body: []byte("ok")}, nil
}

func (f *countingFetcher) maxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.max
}

type stubParser struct{}

func (stubParser) Parse(id int, _ []byte) (genealogy.Record, error) {
	return genealogy.Record{Node: genealogy.Node{ID: id}}, nil
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, genealogy.Task) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (genealogy.Task, error) {
	return genealogy.Task{}, q.err
}
