package transport

import (
	"errors"
	"fmt"
	"strings"

	"go.bug.st/serial"
)

// ErrInvalidSerialConfig is returned for an unusable serial line setting.
var ErrInvalidSerialConfig = errors.New("transport: invalid serial config")

// SerialConfig describes a serial line. Parity is one of none, odd, even, mark or space;
// StopBits is one of 1, 1.5 or 2.
type SerialConfig struct {
	Port     string
	BaudRate int
	DataBits int
	Parity   string
	StopBits string
}

type serialConn struct {
	serial.Port
	name string
}

var _ Conn = (*serialConn)(nil)

func (c *serialConn) Name() string { return c.name }

// OpenSerial opens the serial port described by cfg.
func OpenSerial(cfg SerialConfig) (Conn, error) {
	mode, err := cfg.mode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("transport: open %s: %w", cfg.Port, err)
	}

	return &serialConn{Port: port, name: cfg.Port}, nil
}

// SerialPorts lists the serial ports present on the host.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}

func (cfg SerialConfig) mode() (*serial.Mode, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("%w: port is empty", ErrInvalidSerialConfig)
	}

	if cfg.BaudRate <= 0 {
		return nil, fmt.Errorf("%w: baud rate %d", ErrInvalidSerialConfig, cfg.BaudRate)
	}

	dataBits := cfg.DataBits
	if dataBits == 0 {
		dataBits = 8
	}

	if dataBits < 5 || dataBits > 8 {
		return nil, fmt.Errorf("%w: data bits %d", ErrInvalidSerialConfig, dataBits)
	}

	parity, err := ParseParity(cfg.Parity)
	if err != nil {
		return nil, err
	}

	stopBits, err := ParseStopBits(cfg.StopBits)
	if err != nil {
		return nil, err
	}

	return &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: dataBits,
		Parity:   parity,
		StopBits: stopBits,
	}, nil
}

// ParseParity converts a parity name into a serial.Parity. An empty name means none.
func ParseParity(s string) (serial.Parity, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none", "n":
		return serial.NoParity, nil
	case "odd", "o":
		return serial.OddParity, nil
	case "even", "e":
		return serial.EvenParity, nil
	case "mark", "m":
		return serial.MarkParity, nil
	case "space", "s":
		return serial.SpaceParity, nil
	default:
		return serial.NoParity, fmt.Errorf("%w: parity %q", ErrInvalidSerialConfig, s)
	}
}

// ParseStopBits converts "1", "1.5" or "2" into serial.StopBits. An empty value means 1.
func ParseStopBits(s string) (serial.StopBits, error) {
	switch strings.TrimSpace(s) {
	case "", "1":
		return serial.OneStopBit, nil
	case "1.5":
		return serial.OnePointFiveStopBits, nil
	case "2":
		return serial.TwoStopBits, nil
	default:
		return serial.OneStopBit, fmt.Errorf("%w: stop bits %q", ErrInvalidSerialConfig, s)
	}
}
