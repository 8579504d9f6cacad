// Package delivery forwards parsed instrument results to a remote endpoint with
// at-least-once semantics.
//
// Queue is a bounded FIFO persisted to a Store after every mutation. Process drains it:
// the head item is handed to the DeliverFunc, removed on success, and on failure moved
// to the tail until it has been attempted MaxRetries times, after which it is
// dead-lettered. At most one drain runs at a time.
package delivery
