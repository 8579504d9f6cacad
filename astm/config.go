package astm

import (
	"fmt"
	"time"

	"github.com/arloliu/go-lis/logger"
)

// Default values.
const (
	DefaultAlarmTimeout   = 10 * time.Second
	DefaultEventQueueSize = 16
	DefaultReadBufferSize = 512
)

// Range limits.
const (
	MinAlarmTimeout = 10 * time.Millisecond
	MaxAlarmTimeout = 10 * time.Minute

	MaxEventQueueSize = 4096
)

// Config holds the engine and receiver settings of one connection.
type Config struct {
	// alarmTimeout is the inactivity interval after which a partial transmission is flushed.
	alarmTimeout time.Duration

	// strictFrameNumbers rejects frames whose number is not the expected one.
	strictFrameNumbers bool

	eventQueueSize int
	readBufferSize int

	logger logger.Logger
}

// NewConfig creates a Config with defaults, then applies opts in order.
func NewConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		alarmTimeout:   DefaultAlarmTimeout,
		eventQueueSize: DefaultEventQueueSize,
		readBufferSize: DefaultReadBufferSize,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// AlarmTimeout returns the inactivity timeout.
func (cfg *Config) AlarmTimeout() time.Duration { return cfg.alarmTimeout }

// StrictFrameNumbers reports whether out-of-sequence frames are rejected.
func (cfg *Config) StrictFrameNumbers() bool { return cfg.strictFrameNumbers }

// EventQueueSize returns the capacity of the receiver event channel.
func (cfg *Config) EventQueueSize() int { return cfg.eventQueueSize }

// GetLogger returns the configured logger.
func (cfg *Config) GetLogger() logger.Logger { return cfg.logger }

// Option is a functional option for configuring an Engine or Receiver.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithAlarmTimeout sets the inactivity timeout, in [10ms, 10m].
func WithAlarmTimeout(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinAlarmTimeout || d > MaxAlarmTimeout {
			return fmt.Errorf("astm: alarm timeout %v out of range [%v, %v]", d, MinAlarmTimeout, MaxAlarmTimeout)
		}
		cfg.alarmTimeout = d

		return nil
	})
}

// WithStrictFrameNumbers makes a frame number mismatch fatal for the transmission:
// the frame is answered with NAK and the engine resets. The default is lenient,
// where a mismatch is only logged.
func WithStrictFrameNumbers(strict bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.strictFrameNumbers = strict
		return nil
	})
}

// WithEventQueueSize sets the capacity of the receiver event channel, in [1, 4096].
func WithEventQueueSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxEventQueueSize {
			return fmt.Errorf("astm: event queue size %d out of range [1, %d]", n, MaxEventQueueSize)
		}
		cfg.eventQueueSize = n

		return nil
	})
}

// WithLogger sets the logger. A nil logger is rejected.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("astm: logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
