package transport

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/arloliu/go-lis/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.bug.st/serial"
)

func TestMain(m *testing.M) {
	if lv, err := logger.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		logger.SetLevel(lv)
	}

	os.Exit(m.Run())
}

func TestListenerEcho(t *testing.T) {
	require := require.New(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := ListenTCP(ctx, "127.0.0.1:0", nil)
	require.NoError(err)

	served := make(chan string, 1)
	err = ln.Serve(func(_ context.Context, conn Conn) {
		served <- conn.Name()
		_, _ = io.Copy(conn, conn)
	})
	require.NoError(err)

	conn, err := DialTCP(ctx, ln.Addr().String(), time.Second)
	require.NoError(err)
	defer conn.Close()

	_, err = conn.Write([]byte("\x05"))
	require.NoError(err)

	buf := make([]byte, 1)
	_, err = io.ReadFull(conn, buf)
	require.NoError(err)
	require.Equal(byte(0x05), buf[0])

	select {
	case name := <-served:
		require.NotEmpty(name)
	case <-time.After(time.Second):
		require.Fail("handler was not called")
	}

	require.Eventually(func() bool { return ln.ConnCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(ln.Close())
	require.Equal(0, ln.ConnCount())

	// the server side is closed, so the client sees EOF
	_ = conn.(*netConn).SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(buf)
	require.Error(err)

	require.ErrorIs(ln.Serve(func(context.Context, Conn) {}), ErrListenerClosed)
	require.NoError(ln.Close())
}

func TestListenerHandlerReturnClosesConn(t *testing.T) {
	require := require.New(t)

	ln, err := ListenTCP(context.Background(), "127.0.0.1:0", nil)
	require.NoError(err)
	defer ln.Close()

	require.NoError(ln.Serve(func(_ context.Context, conn Conn) {
		_, _ = conn.Write([]byte("bye"))
	}))

	conn, err := DialTCP(context.Background(), ln.Addr().String(), time.Second)
	require.NoError(err)
	defer conn.Close()

	data, err := io.ReadAll(conn)
	require.NoError(err)
	require.Equal("bye", string(data))

	require.Eventually(func() bool { return ln.ConnCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServeNilHandler(t *testing.T) {
	ln, err := ListenTCP(context.Background(), "127.0.0.1:0", nil)
	require.NoError(t, err)
	defer ln.Close()

	require.Error(t, ln.Serve(nil))
}

func TestDialTCP_Refused(t *testing.T) {
	ln, err := ListenTCP(context.Background(), "127.0.0.1:0", nil)
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	_, err = DialTCP(context.Background(), addr, 500*time.Millisecond)
	require.Error(t, err)
}

func TestParseParity(t *testing.T) {
	tests := []struct {
		in   string
		want serial.Parity
	}{
		{"", serial.NoParity},
		{"none", serial.NoParity},
		{"Odd", serial.OddParity},
		{"even", serial.EvenParity},
		{"E", serial.EvenParity},
		{"mark", serial.MarkParity},
		{"space", serial.SpaceParity},
	}

	for _, tt := range tests {
		got, err := ParseParity(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseParity("parity")
	require.ErrorIs(t, err, ErrInvalidSerialConfig)
}

func TestParseStopBits(t *testing.T) {
	got, err := ParseStopBits("")
	require.NoError(t, err)
	assert.Equal(t, serial.OneStopBit, got)

	got, err = ParseStopBits("1.5")
	require.NoError(t, err)
	assert.Equal(t, serial.OnePointFiveStopBits, got)

	got, err = ParseStopBits("2")
	require.NoError(t, err)
	assert.Equal(t, serial.TwoStopBits, got)

	_, err = ParseStopBits("3")
	require.ErrorIs(t, err, ErrInvalidSerialConfig)
}

func TestSerialConfigMode(t *testing.T) {
	mode, err := SerialConfig{Port: "/dev/ttyUSB0", BaudRate: 9600, Parity: "even", StopBits: "2"}.mode()
	require.NoError(t, err)
	assert.Equal(t, 9600, mode.BaudRate)
	assert.Equal(t, 8, mode.DataBits)
	assert.Equal(t, serial.EvenParity, mode.Parity)
	assert.Equal(t, serial.TwoStopBits, mode.StopBits)

	invalid := []SerialConfig{
		{BaudRate: 9600},
		{Port: "/dev/ttyUSB0"},
		{Port: "/dev/ttyUSB0", BaudRate: 9600, DataBits: 9},
		{Port: "/dev/ttyUSB0", BaudRate: 9600, Parity: "x"},
	}
	for _, cfg := range invalid {
		_, err := OpenSerial(cfg)
		require.ErrorIs(t, err, ErrInvalidSerialConfig, "%+v", cfg)
	}
}

func TestOpenSerial_MissingPort(t *testing.T) {
	_, err := OpenSerial(SerialConfig{Port: "/dev/go-lis-does-not-exist", BaudRate: 9600})
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrInvalidSerialConfig)
}

func TestIsClosed(t *testing.T) {
	assert.False(t, IsClosed(nil))
	assert.True(t, IsClosed(io.ErrClosedPipe))
	assert.False(t, IsClosed(io.EOF))
}
