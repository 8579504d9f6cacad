package delivery

import "errors"

var (
	// ErrQueueClosed is returned by Add after Close.
	ErrQueueClosed = errors.New("delivery: queue closed")
	// ErrDeliveryFailed wraps transport and remote failures of a delivery attempt.
	ErrDeliveryFailed = errors.New("delivery: delivery failed")
	// ErrDeliverPanic indicates a DeliverFunc panicked; the attempt counts as a failure.
	ErrDeliverPanic = errors.New("delivery: deliver function panicked")
)
