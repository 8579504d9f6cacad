package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/arloliu/go-lis/internal/pool"
	"github.com/arloliu/go-lis/internal/queue"
	"github.com/arloliu/go-lis/internal/task"
	"github.com/arloliu/go-lis/logger"
)

// DeliverFunc sends one payload. A returned error or a panic counts as a failed attempt.
type DeliverFunc func(ctx context.Context, payload json.RawMessage) error

// Queue is a durable, bounded FIFO of payloads waiting for delivery.
//
// Add may be called concurrently with Process. The item list and its persisted copy
// are guarded by one mutex; the deliver function and the inter-item delay run outside it.
type Queue struct {
	cfg     *Config
	store   Store
	deliver DeliverFunc
	logger  logger.Logger
	metrics QueueMetrics

	mu    sync.Mutex // protect items and store writes
	items *queue.SliceQueue[*Item]

	draining atomic.Bool
	closed   atomic.Bool

	taskMgr *task.Manager
}

// NewQueue creates a Queue and loads the persisted items from store. When more items
// were persisted than the capacity allows, the oldest are dropped.
func NewQueue(store Store, deliver DeliverFunc, opts ...Option) (*Queue, error) {
	if store == nil {
		return nil, errors.New("delivery: store is nil")
	}
	if deliver == nil {
		return nil, errors.New("delivery: deliver function is nil")
	}

	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	loaded, err := store.Load()
	if err != nil {
		return nil, err
	}

	if excess := len(loaded) - cfg.capacity; excess > 0 {
		cfg.logger.Warn("delivery: persisted queue exceeds capacity, dropping oldest", "dropped", excess)
		loaded = loaded[excess:]
	}

	q := &Queue{
		cfg:     cfg,
		store:   store,
		deliver: deliver,
		logger:  cfg.logger,
		items:   queue.NewSliceQueue[*Item](len(loaded)),
	}
	for i := range loaded {
		item := loaded[i]
		q.items.Enqueue(&item)
	}

	if len(loaded) > 0 {
		q.logger.Info("delivery: restored persisted queue", "items", len(loaded))
	}

	return q, nil
}

// Config returns the queue settings.
func (q *Queue) Config() *Config { return q.cfg }

// Metrics returns the queue counters.
func (q *Queue) Metrics() *QueueMetrics { return &q.metrics }

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.items.Length()
}

// Items returns a snapshot of the queued items in delivery order.
func (q *Queue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()

	return q.snapshot()
}

// Draining reports whether a drain is in progress.
func (q *Queue) Draining() bool { return q.draining.Load() }

// Add appends payload, serialized as JSON, and persists the queue. When the queue is
// full the oldest item is dropped first. It returns the new item id; a persistence
// error is returned but the item stays queued in memory.
func (q *Queue) Add(payload any) (string, error) {
	if q.closed.Load() {
		return "", ErrQueueClosed
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("delivery: encode payload: %w", err)
	}

	item := &Item{
		ID:        newItemID(),
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for q.items.Length() >= q.cfg.capacity {
		if dropped, ok := q.items.Dequeue(); ok {
			q.metrics.incOverflowCount()
			q.logger.Warn("delivery: queue full, dropping oldest item", "id", dropped.ID, "capacity", q.cfg.capacity)
		}
	}

	q.items.Enqueue(item)
	q.metrics.incEnqueuedCount()
	q.logger.Debug("delivery: item queued", "id", item.ID, "length", q.items.Length())

	return item.ID, q.persist()
}

// Process drains the queue until it is empty or ctx is done. It reports false without
// doing anything when another drain is already running.
func (q *Queue) Process(ctx context.Context) bool {
	if !q.draining.CompareAndSwap(false, true) {
		return false
	}
	defer q.draining.Store(false)

	for ctx.Err() == nil {
		q.mu.Lock()
		item, ok := q.items.Peek()
		q.mu.Unlock()
		if !ok {
			break
		}

		err := q.attempt(ctx, item)
		if err != nil && ctx.Err() != nil {
			// interrupted by shutdown; the item keeps its place and attempt count
			q.logger.Debug("delivery: attempt interrupted", "id", item.ID, "error", err)
			break
		}
		remaining := q.settle(item, err)

		if remaining == 0 || !pool.Sleep(ctx, q.cfg.itemDelay) {
			break
		}
	}

	q.mu.Lock()
	_ = q.persist()
	q.mu.Unlock()

	return true
}

// Start runs Process every drain interval until Close or ctx is done.
func (q *Queue) Start(ctx context.Context) error {
	if q.closed.Load() {
		return ErrQueueClosed
	}

	q.mu.Lock()
	if q.taskMgr == nil {
		q.taskMgr = task.NewManager(ctx, q.logger)
	}
	mgr := q.taskMgr
	q.mu.Unlock()

	_, err := mgr.StartInterval("delivery-drain", func() bool {
		q.Process(mgr.Context())
		return true
	}, q.cfg.drainInterval, false)

	return err
}

// Trigger starts a drain in the background. It is a no-op before Start or when a drain
// is already running.
func (q *Queue) Trigger() {
	q.mu.Lock()
	mgr := q.taskMgr
	q.mu.Unlock()

	if mgr == nil || q.draining.Load() {
		return
	}

	_ = mgr.Start("delivery-trigger", func() bool {
		q.Process(mgr.Context())
		return false
	}, nil)
}

// Close stops the background drain and persists the queue. In-flight deliveries are
// canceled through their context and not waited for.
func (q *Queue) Close() error {
	if !q.closed.CompareAndSwap(false, true) {
		return nil
	}

	q.mu.Lock()
	mgr := q.taskMgr
	q.mu.Unlock()

	if mgr != nil {
		mgr.Stop()
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	return q.persist()
}

// attempt calls the deliver function, converting a panic into ErrDeliverPanic.
func (q *Queue) attempt(ctx context.Context, item *Item) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrDeliverPanic, r)
		}
	}()

	return q.deliver(ctx, item.Data)
}

// settle applies the outcome of an attempt and returns the remaining queue length.
func (q *Queue) settle(item *Item, err error) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	current, found := q.items.RemoveFirst(func(it *Item) bool { return it.ID == item.ID })
	if !found {
		// evicted by an overflowing Add during the attempt
		return q.items.Length()
	}

	switch {
	case err == nil:
		q.metrics.incDeliveredCount()
		q.logger.Debug("delivery: item delivered", "id", current.ID, "attempts", current.Attempts+1)

	case current.Attempts+1 >= q.cfg.maxRetries:
		current.Attempts++
		q.metrics.incDeadLetterCount()
		q.logger.Error("delivery: dead-lettering item after exhausting retries",
			"id", current.ID, "attempts", current.Attempts, "queuedAt", current.Timestamp, "error", err)

	default:
		current.Attempts++
		q.items.Enqueue(current)
		q.metrics.incRetryCount()
		q.logger.Warn("delivery: attempt failed, requeued at tail", "id", current.ID, "attempts", current.Attempts, "error", err)
	}

	_ = q.persist()

	return q.items.Length()
}

// persist writes the queue to the store. The caller must hold q.mu.
func (q *Queue) persist() error {
	if err := q.store.Save(q.snapshot()); err != nil {
		q.metrics.incPersistErrorCount()
		q.logger.Error("delivery: persist queue failed", "error", err)

		return err
	}

	return nil
}

// snapshot copies the items. The caller must hold q.mu.
func (q *Queue) snapshot() []Item {
	ptrs := q.items.Items()
	items := make([]Item, len(ptrs))
	for i, p := range ptrs {
		items[i] = *p
	}

	return items
}

func newItemID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}

	return id.String()
}
