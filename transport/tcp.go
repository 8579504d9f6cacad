package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-lis/internal/task"
	"github.com/arloliu/go-lis/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

const (
	// DefaultDialTimeout is used by DialTCP when timeout is not positive.
	DefaultDialTimeout = 10 * time.Second

	acceptTimeout = time.Second
	keepAlive     = 30 * time.Second
)

// ErrListenerClosed is returned by Serve after Close.
var ErrListenerClosed = errors.New("transport: listener closed")

// Handler serves one accepted connection. The connection is closed when Handler returns
// or when the Listener is closed.
type Handler func(ctx context.Context, conn Conn)

// Listener accepts TCP connections from instruments and runs a Handler for each of them.
type Listener struct {
	listener *net.TCPListener
	taskMgr  *task.Manager
	conns    *xsync.MapOf[string, Conn]
	logger   logger.Logger
	closed   atomic.Bool
}

// ListenTCP starts listening on addr ("host:port"). Serve must be called to accept connections.
func ListenTCP(ctx context.Context, addr string, l logger.Logger) (*Listener, error) {
	if l == nil {
		l = logger.GetLogger()
	}

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		l.Error("transport: failed to listen", "address", addr, "error", err)
		return nil, err
	}

	tcpListener, ok := ln.(*net.TCPListener)
	if !ok {
		_ = ln.Close()
		return nil, fmt.Errorf("transport: unexpected listener type %T", ln)
	}

	return &Listener{
		listener: tcpListener,
		taskMgr:  task.NewManager(ctx, l),
		conns:    xsync.NewMapOf[string, Conn](),
		logger:   l,
	}, nil
}

// Addr returns the listening address.
func (ln *Listener) Addr() net.Addr {
	return ln.listener.Addr()
}

// ConnCount returns the number of connections currently being served.
func (ln *Listener) ConnCount() int {
	return ln.conns.Size()
}

// Serve starts the accept loop. Each accepted connection runs handler in its own task.
// Serve returns immediately.
func (ln *Listener) Serve(handler Handler) error {
	if handler == nil {
		return errors.New("transport: handler is nil")
	}

	if ln.closed.Load() {
		return ErrListenerClosed
	}

	ln.logger.Info("transport: listening", "address", ln.Addr().String())

	return ln.taskMgr.Start("acceptConn", func() bool {
		return ln.acceptConnTask(handler)
	}, nil)
}

// Close stops accepting, closes every open connection and waits for the handlers to return.
func (ln *Listener) Close() error {
	if !ln.closed.CompareAndSwap(false, true) {
		return nil
	}

	err := ln.listener.Close()

	ln.taskMgr.Stop()
	ln.conns.Range(func(_ string, conn Conn) bool {
		_ = conn.Close()
		return true
	})
	ln.taskMgr.Wait()

	return err
}

func (ln *Listener) acceptConnTask(handler Handler) bool {
	if ln.closed.Load() {
		return false
	}

	if err := ln.listener.SetDeadline(time.Now().Add(acceptTimeout)); err != nil {
		if !ln.closed.Load() {
			ln.logger.Error("transport: failed to set accept deadline", "error", err)
		}

		return false
	}

	tcpConn, err := ln.listener.AcceptTCP()
	if err != nil {
		return ln.handleAcceptError(err)
	}

	_ = tcpConn.SetKeepAlive(true)
	_ = tcpConn.SetKeepAlivePeriod(keepAlive)

	conn := newNetConn(tcpConn)
	ln.logger.Info("transport: connection accepted", "remoteAddr", conn.Name())

	ln.conns.Store(conn.Name(), conn)
	ctx := ln.taskMgr.Context()

	err = ln.taskMgr.Start("conn:"+conn.Name(), func() bool {
		handler(ctx, conn)
		return false
	}, func() {
		ln.conns.Delete(conn.Name())
		_ = conn.Close()
		ln.logger.Info("transport: connection closed", "remoteAddr", conn.Name())
	})
	if err != nil {
		ln.conns.Delete(conn.Name())
		_ = conn.Close()

		return false
	}

	return true
}

// handleAcceptError returns true to keep accepting.
func (ln *Listener) handleAcceptError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	if ln.closed.Load() || errors.Is(err, net.ErrClosed) {
		return false
	}

	if !isNetOpError(err) {
		ln.logger.Error("transport: accept failed", "error", err)
	}

	return true
}

// DialTCP connects to an instrument listening on addr.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (Conn, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}

	dialer := &net.Dialer{KeepAlive: keepAlive}

	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := dialer.DialContext(dialCtx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}

	return newNetConn(conn), nil
}
