package transport

import (
	"errors"
	"io"
	"net"
	"strings"
)

// Conn is a byte stream to one instrument.
type Conn interface {
	io.ReadWriteCloser
	// Name identifies the stream in logs, e.g. a remote address or a device path.
	Name() string
}

type netConn struct {
	net.Conn
	name string
}

var _ Conn = (*netConn)(nil)

func newNetConn(conn net.Conn) *netConn {
	return &netConn{Conn: conn, name: conn.RemoteAddr().String()}
}

func (c *netConn) Name() string { return c.name }

// IsClosed reports whether err is the result of using a stream that was closed locally
// or reset by the peer.
func IsClosed(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}

	return strings.Contains(err.Error(), "connection reset by peer")
}

func isNetOpError(err error) bool {
	opErr := &net.OpError{}

	return errors.As(err, &opErr)
}
