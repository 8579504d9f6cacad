package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arloliu/go-lis/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	level, err := logger.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logger.InfoLevel
	}
	logger.SetLevel(level)

	os.Exit(m.Run())
}

func queuePath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "spool", "queue.json")
}

func newTestQueue(t *testing.T, path string, deliver DeliverFunc, opts ...Option) *Queue {
	t.Helper()

	defaults := []Option{WithItemDelay(0)}
	q, err := NewQueue(NewFileStore(path), deliver, append(defaults, opts...)...)
	require.NoError(t, err)

	return q
}

func payloadOf(t *testing.T, data json.RawMessage) string {
	t.Helper()

	var s string
	require.NoError(t, json.Unmarshal(data, &s))

	return s
}

func payloads(t *testing.T, items []Item) []string {
	t.Helper()

	out := make([]string, len(items))
	for i, it := range items {
		out[i] = payloadOf(t, it.Data)
	}

	return out
}

func succeed(context.Context, json.RawMessage) error { return nil }

func TestQueue_AddDropsOldestAtCapacity(t *testing.T) {
	path := queuePath(t)
	q := newTestQueue(t, path, succeed, WithCapacity(3))

	for _, p := range []string{"A", "B", "C", "D"} {
		_, err := q.Add(p)
		require.NoError(t, err)
		assert.LessOrEqual(t, q.Len(), 3)
	}

	assert.Equal(t, []string{"B", "C", "D"}, payloads(t, q.Items()))
	assert.EqualValues(t, 1, q.Metrics().OverflowCount.Load())

	reopened := newTestQueue(t, path, succeed, WithCapacity(3))
	assert.Equal(t, []string{"B", "C", "D"}, payloads(t, reopened.Items()))
}

func TestQueue_RestoreTrimsToCapacity(t *testing.T) {
	path := queuePath(t)
	q := newTestQueue(t, path, succeed, WithCapacity(5))
	for _, p := range []string{"A", "B", "C", "D"} {
		_, err := q.Add(p)
		require.NoError(t, err)
	}

	smaller := newTestQueue(t, path, succeed, WithCapacity(2))
	assert.Equal(t, []string{"C", "D"}, payloads(t, smaller.Items()))
}

func TestQueue_AlwaysFailingItemAttemptedMaxRetries(t *testing.T) {
	var calls atomic.Int32
	q := newTestQueue(t, queuePath(t), func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return errors.New("unreachable")
	}, WithMaxRetries(5))

	_, err := q.Add("A")
	require.NoError(t, err)

	assert.True(t, q.Process(context.Background()))
	assert.EqualValues(t, 5, calls.Load())
	assert.Zero(t, q.Len())
	assert.EqualValues(t, 1, q.Metrics().DeadLetterCount.Load())
	assert.EqualValues(t, 4, q.Metrics().RetryCount.Load())

	// nothing left to attempt
	q.Process(context.Background())
	assert.EqualValues(t, 5, calls.Load())
}

func TestQueue_FailedItemMovesToTail(t *testing.T) {
	var (
		mu    sync.Mutex
		order []string
		fails = map[string]int{"A": 1}
	)

	q := newTestQueue(t, queuePath(t), func(_ context.Context, data json.RawMessage) error {
		var p string
		_ = json.Unmarshal(data, &p)

		mu.Lock()
		defer mu.Unlock()
		order = append(order, p)
		if fails[p] > 0 {
			fails[p]--
			return errors.New("try later")
		}

		return nil
	})

	for _, p := range []string{"A", "B", "C"} {
		_, err := q.Add(p)
		require.NoError(t, err)
	}

	q.Process(context.Background())
	assert.Equal(t, []string{"A", "B", "C", "A"}, order)
	assert.Zero(t, q.Len())
	assert.EqualValues(t, 3, q.Metrics().DeliveredCount.Load())
}

func TestQueue_CrashMidDrainKeepsUndelivered(t *testing.T) {
	path := queuePath(t)

	var afterCrash []string
	q := newTestQueue(t, path, func(_ context.Context, data json.RawMessage) error {
		var p string
		_ = json.Unmarshal(data, &p)

		if p == "B" {
			// a process restarting now sees what was persisted
			restarted := newTestQueue(t, path, succeed)
			afterCrash = payloads(t, restarted.Items())

			return errors.New("crash")
		}

		return nil
	}, WithMaxRetries(1))

	for _, p := range []string{"A", "B", "C"} {
		_, err := q.Add(p)
		require.NoError(t, err)
	}

	q.Process(context.Background())
	assert.Equal(t, []string{"B", "C"}, afterCrash)
}

func TestQueue_ProcessIsNotReentrant(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{})
	var once sync.Once

	q := newTestQueue(t, queuePath(t), func(context.Context, json.RawMessage) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	})

	_, err := q.Add("A")
	require.NoError(t, err)

	done := make(chan bool)
	go func() { done <- q.Process(context.Background()) }()

	<-entered
	assert.True(t, q.Draining())
	assert.False(t, q.Process(context.Background()), "concurrent drain is a no-op")

	// Add is still accepted while draining
	_, err = q.Add("B")
	require.NoError(t, err)

	close(release)
	assert.True(t, <-done)
	assert.False(t, q.Draining())
}

func TestQueue_DeliverPanicIsFailure(t *testing.T) {
	q := newTestQueue(t, queuePath(t), func(context.Context, json.RawMessage) error {
		panic("boom")
	}, WithMaxRetries(2))

	_, err := q.Add("A")
	require.NoError(t, err)

	assert.True(t, q.Process(context.Background()))
	assert.False(t, q.Draining(), "guard cleared after a faulting deliver")
	assert.Zero(t, q.Len())
	assert.EqualValues(t, 1, q.Metrics().DeadLetterCount.Load())

	err = q.attempt(context.Background(), &Item{})
	require.ErrorIs(t, err, ErrDeliverPanic)
}

func TestQueue_ProcessStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	var calls atomic.Int32
	q := newTestQueue(t, queuePath(t), func(context.Context, json.RawMessage) error {
		calls.Add(1)
		return errors.New("down")
	}, WithItemDelay(time.Second))

	for _, p := range []string{"A", "B"} {
		_, err := q.Add(p)
		require.NoError(t, err)
	}

	q.Process(ctx)
	assert.EqualValues(t, 1, calls.Load())
	assert.Equal(t, []string{"B", "A"}, payloads(t, q.Items()))
	assert.Equal(t, 1, q.Items()[1].Attempts)
}

func TestQueue_InterruptedAttemptKeepsItem(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := newTestQueue(t, queuePath(t), func(ctx context.Context, _ json.RawMessage) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	})

	for _, p := range []string{"A", "B"} {
		_, err := q.Add(p)
		require.NoError(t, err)
	}

	q.Process(ctx)
	assert.Equal(t, []string{"A", "B"}, payloads(t, q.Items()))
	assert.Zero(t, q.Items()[0].Attempts)
	assert.Zero(t, q.Metrics().RetryCount.Load())
}

func TestQueue_CloseDuringLastRetryKeepsItem(t *testing.T) {
	path := queuePath(t)
	require.NoError(t, NewFileStore(path).Save([]Item{
		{ID: "last", Timestamp: time.Now(), Attempts: DefaultMaxRetries - 1, Data: json.RawMessage(`"A"`)},
	}))

	started := make(chan struct{})
	var once sync.Once
	q := newTestQueue(t, path, func(ctx context.Context, _ json.RawMessage) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}, WithDrainInterval(10*time.Millisecond))

	require.NoError(t, q.Start(context.Background()))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("delivery never started")
	}

	require.NoError(t, q.Close())
	require.Eventually(t, func() bool { return !q.Draining() }, 2*time.Second, 5*time.Millisecond)

	assert.Zero(t, q.Metrics().DeadLetterCount.Load())

	reopened := newTestQueue(t, path, succeed)
	items := reopened.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "last", items[0].ID)
	assert.Equal(t, DefaultMaxRetries-1, items[0].Attempts)
}

func TestQueue_StartDrainsPeriodically(t *testing.T) {
	var delivered atomic.Int32
	q := newTestQueue(t, queuePath(t), func(context.Context, json.RawMessage) error {
		delivered.Add(1)
		return nil
	}, WithDrainInterval(20*time.Millisecond))

	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() { _ = q.Close() })

	for _, p := range []string{"A", "B"} {
		_, err := q.Add(p)
		require.NoError(t, err)
	}

	assert.Eventually(t, func() bool { return delivered.Load() == 2 && q.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestQueue_Trigger(t *testing.T) {
	var delivered atomic.Int32
	q := newTestQueue(t, queuePath(t), func(context.Context, json.RawMessage) error {
		delivered.Add(1)
		return nil
	}, WithDrainInterval(time.Hour))

	q.Trigger() // before Start: no-op

	require.NoError(t, q.Start(context.Background()))
	t.Cleanup(func() { _ = q.Close() })

	_, err := q.Add("A")
	require.NoError(t, err)
	q.Trigger()

	assert.Eventually(t, func() bool { return delivered.Load() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestQueue_Close(t *testing.T) {
	path := queuePath(t)
	q := newTestQueue(t, path, succeed)

	_, err := q.Add("A")
	require.NoError(t, err)
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	_, err = q.Add("B")
	require.ErrorIs(t, err, ErrQueueClosed)
	require.ErrorIs(t, q.Start(context.Background()), ErrQueueClosed)

	reopened := newTestQueue(t, path, succeed)
	assert.Equal(t, []string{"A"}, payloads(t, reopened.Items()))
}

func TestQueue_AddRejectsUnencodablePayload(t *testing.T) {
	q := newTestQueue(t, queuePath(t), succeed)

	_, err := q.Add(make(chan int))
	require.Error(t, err)
	assert.Zero(t, q.Len())
}

func TestNewQueue_Validation(t *testing.T) {
	store := NewFileStore(queuePath(t))

	_, err := NewQueue(nil, succeed)
	require.Error(t, err)

	_, err = NewQueue(store, nil)
	require.Error(t, err)

	for _, opt := range []Option{
		WithCapacity(0),
		WithMaxRetries(0),
		WithItemDelay(-time.Second),
		WithDrainInterval(time.Millisecond),
		WithLogger(nil),
	} {
		_, err = NewQueue(store, succeed, opt)
		require.Error(t, err)
	}

	q, err := NewQueue(store, succeed)
	require.NoError(t, err)
	assert.Equal(t, DefaultCapacity, q.Config().Capacity())
	assert.Equal(t, DefaultMaxRetries, q.Config().MaxRetries())
	assert.Equal(t, DefaultItemDelay, q.Config().ItemDelay())
	assert.Equal(t, DefaultDrainInterval, q.Config().DrainInterval())
}
