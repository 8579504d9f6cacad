package astm

import (
	"context"
	"errors"
	"io"

	"github.com/arloliu/go-lis/internal/pool"
	"github.com/arloliu/go-lis/logger"
)

// Receiver drives an Engine over a byte stream.
//
// Bytes are fed to the engine strictly in arrival order, each response byte is
// written back before the next byte is fed, and the inactivity alarm is rearmed on
// every byte. Completed and timed-out transmissions are published on Events.
//
// This type is NOT goroutine-safe apart from Events; Run must be called once.
type Receiver struct {
	rw     io.ReadWriter
	cfg    *Config
	engine *Engine
	alarm  *pool.Alarm
	events chan Event
	logger logger.Logger
}

type readResult struct {
	data []byte
	err  error
}

// NewReceiver creates a Receiver for rw.
func NewReceiver(rw io.ReadWriter, opts ...Option) (*Receiver, error) {
	if rw == nil {
		return nil, errors.New("astm: stream is nil")
	}

	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	return &Receiver{
		rw:     rw,
		cfg:    cfg,
		engine: newEngine(cfg),
		events: make(chan Event, cfg.eventQueueSize),
		logger: cfg.GetLogger(),
	}, nil
}

// Events returns the channel of completed and timed-out transmissions.
// It is closed when Run returns.
func (r *Receiver) Events() <-chan Event { return r.events }

// Engine returns the underlying engine, for metrics.
func (r *Receiver) Engine() *Engine { return r.engine }

// Run reads the stream until ctx is done, the stream reports EOF or a read/write
// error occurs. EOF and context cancellation return nil.
//
// A read blocked in the underlying stream is not interrupted by ctx; close the
// stream to release it.
func (r *Receiver) Run(ctx context.Context) error {
	defer close(r.events)

	r.alarm = pool.NewAlarm(r.cfg.alarmTimeout)
	defer r.alarm.Close()

	reads := make(chan readResult, 1)
	done := make(chan struct{})
	defer close(done)

	go r.readLoop(reads, done)

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-r.alarm.C():
			if ev, ok := r.engine.Expire(); ok {
				if !r.publish(ctx, ev) {
					return nil
				}
			}

		case res := <-reads:
			for _, b := range res.data {
				if err := r.feed(ctx, b); err != nil {
					if ctx.Err() != nil {
						return nil
					}

					return err
				}
			}

			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					r.logger.Debug("astm: stream closed by peer")
					return nil
				}

				return res.err
			}
		}
	}
}

func (r *Receiver) feed(ctx context.Context, b byte) error {
	step := r.engine.Feed(b)

	if step.HasResponse() {
		if _, err := r.rw.Write([]byte{step.Response}); err != nil {
			return err
		}
	}

	if r.engine.State() == StateIdle {
		r.alarm.Disarm()
	} else {
		r.alarm.Rearm()
	}

	if step.HasEvent() && !r.publish(ctx, step.Event) {
		return ctx.Err()
	}

	return nil
}

func (r *Receiver) publish(ctx context.Context, ev Event) bool {
	select {
	case r.events <- ev:
		return true
	case <-ctx.Done():
		r.logger.Warn("astm: event dropped on shutdown", "kind", ev.Kind.String(), "size", len(ev.Text))
		return false
	}
}

func (r *Receiver) readLoop(out chan<- readResult, done <-chan struct{}) {
	for {
		buf := make([]byte, r.cfg.readBufferSize)
		n, err := r.rw.Read(buf)

		if n > 0 || err != nil {
			select {
			case out <- readResult{data: buf[:n], err: err}:
			case <-done:
				return
			}
		}

		if err != nil {
			return
		}
	}
}
