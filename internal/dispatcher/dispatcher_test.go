package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/campus-crawler/internal/crawler"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 2)}
	workers := []Runner{&queueRunner{queue: queue}, &queueRunner{queue: queue}}
	dispatch := New(queue, workers)
	require.Equal(t, 2, dispatch.Size())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	for range 2 {
		select {
		case <-queue.started:
		case <-time.After(time.Second):
			t.Fatal("worker did not begin dequeuing")
		}
	}

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherBoundsConcurrency verifies no more runs execute than workers exist.
func TestDispatcherBoundsConcurrency(t *testing.T) {
	t.Parallel()

	queue := &sliceQueue{}
	for i := range 6 {
		queue.items = append(queue.items, crawler.QueueItem{RunID: fmt.Sprintf("run-%d", i)})
	}
	var active, peak, processed atomic.Int32
	work := func() {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		active.Add(-1)
		processed.Add(1)
	}
	workers := []Runner{
		&queueRunner{queue: queue, work: work},
		&queueRunner{queue: queue, work: work},
	}

	New(queue, workers).Run(context.Background())
	require.Equal(t, int32(6), processed.Load())
	require.LessOrEqual(t, peak.Load(), int32(2))
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	queue := &errorQueue{err: errors.New("boom")}
	dispatch := New(queue, nil)

	err := dispatch.Enqueue(context.Background(), crawler.QueueItem{RunID: "run"})
	require.EqualError(t, err, "queue enqueue: boom")
}

type queueRunner struct {
	queue crawler.Queue
	work  func()
}

func (r *queueRunner) Run(ctx context.Context) {
	for {
		if _, err := r.queue.Dequeue(ctx); err != nil {
			return
		}
		if r.work != nil {
			r.work()
		}
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ crawler.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return crawler.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type sliceQueue struct {
	mu    sync.Mutex
	items []crawler.QueueItem
}

func (q *sliceQueue) Enqueue(_ context.Context, item crawler.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, item)
	return nil
}

func (q *sliceQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return crawler.QueueItem{}, crawler.ErrQueueClosed
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, nil
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, q.err
}
