package queue_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blitzstack/statmill/internal/queue"
)

const testTimeout = 5 * time.Second

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	t.Cleanup(cancel)

	return ctx
}

func TestGetReturnsDoneAfterDrainAndFinish(t *testing.T) {
	ctx := testContext(t)
	q := queue.New[int](4)

	q.AddProducer()
	require.NoError(t, q.Put(ctx, 1))
	require.NoError(t, q.Put(ctx, 2))
	require.NoError(t, q.Finish())

	first, err := q.Get(ctx)
	require.NoError(t, err)
	q.TaskDone()

	second, err := q.Get(ctx)
	require.NoError(t, err)
	q.TaskDone()

	assert.Equal(t, 1, first)
	assert.Equal(t, 2, second)

	_, err = q.Get(ctx)
	require.ErrorIs(t, err, queue.ErrDone)
}

func TestGetBlocksWhileProducersActive(t *testing.T) {
	q := queue.New[int](1)
	q.AddProducer()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := q.Get(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPutBlocksUnderBackPressure(t *testing.T) {
	ctx := testContext(t)
	q := queue.New[int](1)
	q.AddProducer()

	require.NoError(t, q.Put(ctx, 1))

	blocked, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := q.Put(blocked, 2)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	// The failed Put must not leave a phantom unacked item behind.
	item, err := q.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, item)
	q.TaskDone()

	require.NoError(t, q.Join(ctx))
}

func TestJoinWaitsForTaskDone(t *testing.T) {
	ctx := testContext(t)
	q := queue.New[string](2)
	q.AddProducer()

	require.NoError(t, q.Put(ctx, "a"))
	require.NoError(t, q.Finish())

	joined := make(chan struct{})

	go func() {
		_ = q.Join(ctx)
		close(joined)
	}()

	select {
	case <-joined:
		t.Fatal("join returned before task_done")
	case <-time.After(50 * time.Millisecond):
	}

	_, err := q.Get(ctx)
	require.NoError(t, err)
	q.TaskDone()

	select {
	case <-joined:
	case <-time.After(testTimeout):
		t.Fatal("join did not return after task_done")
	}
}

func TestTerminationWithManyProducersAndConsumers(t *testing.T) {
	const (
		producers       = 4
		consumers       = 3
		itemsPerProducer = 50
	)

	ctx := testContext(t)
	q := queue.New[int](8)

	var wg sync.WaitGroup

	for p := range producers {
		q.AddProducer()
		wg.Add(1)

		go func(base int) {
			defer wg.Done()

			for i := range itemsPerProducer {
				if err := q.Put(ctx, base*itemsPerProducer+i); err != nil {
					return
				}
			}

			_ = q.Finish()
		}(p)
	}

	var (
		mu       sync.Mutex
		received int
		doneSeen int
	)

	for range consumers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for {
				_, err := q.Get(ctx)
				if err != nil {
					mu.Lock()
					doneSeen++
					mu.Unlock()

					return
				}

				mu.Lock()
				received++
				mu.Unlock()
				q.TaskDone()
			}
		}()
	}

	wg.Wait()

	require.NoError(t, q.Join(ctx))
	assert.Equal(t, producers*itemsPerProducer, received)
	assert.Equal(t, consumers, doneSeen, "every consumer observes done")
	assert.Equal(t, uint64(producers*itemsPerProducer), q.Count())
}

func TestFIFOPerProducer(t *testing.T) {
	ctx := testContext(t)
	q := queue.New[int](16)
	q.AddProducer()

	for i := range 10 {
		require.NoError(t, q.Put(ctx, i))
	}

	require.NoError(t, q.Finish())

	for want := range 10 {
		got, err := q.Get(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
		q.TaskDone()
	}
}

func TestCountItemsDisabled(t *testing.T) {
	ctx := testContext(t)
	q := queue.New[int](4, queue.WithCountItems(false))
	q.AddProducer()

	require.NoError(t, q.Put(ctx, 1))
	assert.Equal(t, uint64(0), q.Count())
}

func TestFinishWithoutProducerFails(t *testing.T) {
	q := queue.New[int](1)
	require.ErrorIs(t, q.Finish(), queue.ErrNoProducers)
}
