package delivery

import "sync/atomic"

// QueueMetrics contains atomic counters of a Queue.
// Each counter can be used as the value of a prometheus CounterFunc.
type QueueMetrics struct {
	// EnqueuedCount is the number of items added.
	EnqueuedCount atomic.Uint64
	// DeliveredCount is the number of items delivered successfully.
	DeliveredCount atomic.Uint64
	// RetryCount is the number of failed attempts that moved an item to the tail.
	RetryCount atomic.Uint64
	// DeadLetterCount is the number of items dropped after exhausting their retries.
	DeadLetterCount atomic.Uint64
	// OverflowCount is the number of oldest items dropped because the queue was full.
	OverflowCount atomic.Uint64
	// PersistErrorCount is the number of failed store writes.
	PersistErrorCount atomic.Uint64
}

func (m *QueueMetrics) incEnqueuedCount() {
	m.EnqueuedCount.Add(1)
}

func (m *QueueMetrics) incDeliveredCount() {
	m.DeliveredCount.Add(1)
}

func (m *QueueMetrics) incRetryCount() {
	m.RetryCount.Add(1)
}

func (m *QueueMetrics) incDeadLetterCount() {
	m.DeadLetterCount.Add(1)
}

func (m *QueueMetrics) incOverflowCount() {
	m.OverflowCount.Add(1)
}

func (m *QueueMetrics) incPersistErrorCount() {
	m.PersistErrorCount.Add(1)
}
