// Package task manages the goroutines owned by a link: byte readers, event consumers
// and interval jobs such as the delivery queue drain.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-lis/logger"
)

// ErrStopped is returned when a task is started on a stopped manager.
var ErrStopped = errors.New("task: manager already stopped")

// Func performs one iteration of a task. It returns true to keep running, or false to
// stop the goroutine.
type Func func() bool

// CancelFunc is called when a goroutine managed by the Manager exits.
type CancelFunc func()

// Manager manages the lifecycle of goroutines started on behalf of a link.
//
// The Manager derives a cancelable context from its parent. Stop cancels it and Wait
// blocks until every goroutine has returned, after which the Manager can be reused.
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("reader", func() bool { ... })
//	_, _ = mgr.StartInterval("drain", queue.Process, 5*time.Second, false)
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	pctx    context.Context
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  logger.Logger
	count   atomic.Int32
	tickers sync.Map     // map[string]*time.Ticker
	mu      sync.RWMutex // protect ctx and cancel
	taskMu  sync.RWMutex // protect task creation during Wait()
}

// NewManager creates a Manager using ctx as the parent context.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	if l == nil {
		l = logger.GetLogger()
	}

	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

// Context returns the context that is canceled by Stop.
func (mgr *Manager) Context() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start runs fn repeatedly in a new goroutine until it returns false or the manager stops.
func (mgr *Manager) Start(name string, fn Func, cancelFn CancelFunc) error {
	mgr.logger.Debug("start task", "name", name)

	return mgr.spawn(name, func(ctx context.Context) {
		if cancelFn != nil {
			defer cancelFn()
		}

		for {
			select {
			case <-ctx.Done():
				return
			default:
				if !mgr.callWithRecover(name, fn, false) {
					return
				}
			}
		}
	})
}

// StartConsumer starts a goroutine that calls fn for every value received from ch.
// It stops when ch is closed, fn returns false or the manager stops.
func StartConsumer[T any](mgr *Manager, name string, ch <-chan T, fn func(T) bool) error {
	if ch == nil {
		return fmt.Errorf("task: input channel of %s is nil", name)
	}

	mgr.logger.Debug("start consumer task", "name", name)

	return mgr.spawn(name, func(ctx context.Context) {
		for {
			select {
			case <-ctx.Done():
				return
			case v, ok := <-ch:
				if !ok {
					mgr.logger.Debug("input channel closed", "name", name)
					return
				}
				if !mgr.callWithRecover(name, func() bool { return fn(v) }, true) {
					return
				}
			}
		}
	})
}

// StartInterval starts a goroutine that executes fn at the specified interval.
// If runNow is true, fn is executed once synchronously before the goroutine starts.
// The returned ticker can be used to stop the interval.
func (mgr *Manager) StartInterval(name string, fn Func, interval time.Duration, runNow bool) (*time.Ticker, error) {
	mgr.logger.Debug("start interval task", "name", name, "interval", interval, "runNow", runNow)

	if interval <= 0 {
		return nil, fmt.Errorf("task: invalid interval: %v", interval)
	}

	ticker := time.NewTicker(interval)
	if _, loaded := mgr.tickers.LoadOrStore(name, ticker); loaded {
		ticker.Stop()
		return nil, fmt.Errorf("task: interval task %s already exists", name)
	}

	cleanup := func() {
		ticker.Stop()
		mgr.tickers.Delete(name)
	}

	if runNow && !mgr.callWithRecover(name, fn, false) {
		cleanup()
		mgr.logger.Debug("interval task terminated by runNow", "name", name)

		return ticker, nil
	}

	err := mgr.spawn(name, func(ctx context.Context) {
		defer cleanup()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !mgr.callWithRecover(name, fn, false) {
					return
				}
			}
		}
	})
	if err != nil {
		cleanup()
		return nil, err
	}

	return ticker, nil
}

// StopInterval stops the interval task with the given name.
func (mgr *Manager) StopInterval(name string) error {
	val, ok := mgr.tickers.LoadAndDelete(name)
	if !ok {
		return fmt.Errorf("task: ticker %s not found", name)
	}

	ticker, ok := val.(*time.Ticker)
	if !ok {
		return fmt.Errorf("task: ticker %s is not a *time.Ticker", name)
	}
	ticker.Stop()

	return nil
}

// Stop signals all running goroutines to exit.
func (mgr *Manager) Stop() {
	mgr.tickers.Range(func(_, value any) bool {
		if ticker, ok := value.(*time.Ticker); ok {
			ticker.Stop()
		}

		return true
	})

	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all goroutines to terminate, then rearms the manager with a fresh context.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// TaskCount returns the number of currently running goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) spawn(name string, body func(ctx context.Context)) error {
	mgr.taskMu.RLock()
	defer mgr.taskMu.RUnlock()

	ctx := mgr.Context()
	if ctx.Err() != nil {
		return ErrStopped
	}

	mgr.wg.Add(1)
	mgr.count.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				mgr.logger.Error("panic in task", "name", name, "panic", r)
			}
			mgr.count.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.TaskCount())
			mgr.wg.Done()
		}()

		body(ctx)
	}()

	return nil
}

// callWithRecover calls fn with panic protection. A recovered panic yields contOnPanic.
func (mgr *Manager) callWithRecover(name string, fn func() bool, contOnPanic bool) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			cont = contOnPanic
		}
	}()

	return fn()
}
