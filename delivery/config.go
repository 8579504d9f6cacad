package delivery

import (
	"fmt"
	"time"

	"github.com/arloliu/go-lis/logger"
)

// Default values.
const (
	DefaultCapacity      = 1000
	DefaultMaxRetries    = 5
	DefaultItemDelay     = 500 * time.Millisecond
	DefaultDrainInterval = 5 * time.Second
)

// Range limits.
const (
	MaxCapacity      = 1_000_000
	MaxRetryLimit    = 100
	MaxItemDelay     = time.Minute
	MinDrainInterval = 10 * time.Millisecond
	MaxDrainInterval = time.Hour
)

// Config holds the queue settings.
type Config struct {
	capacity      int
	maxRetries    int
	itemDelay     time.Duration
	drainInterval time.Duration
	logger        logger.Logger
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		capacity:      DefaultCapacity,
		maxRetries:    DefaultMaxRetries,
		itemDelay:     DefaultItemDelay,
		drainInterval: DefaultDrainInterval,
		logger:        logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Capacity returns the maximum number of queued items.
func (cfg *Config) Capacity() int { return cfg.capacity }

// MaxRetries returns the number of attempts after which an item is dead-lettered.
func (cfg *Config) MaxRetries() int { return cfg.maxRetries }

// ItemDelay returns the pause between two processed items.
func (cfg *Config) ItemDelay() time.Duration { return cfg.itemDelay }

// DrainInterval returns the period of the background drain.
func (cfg *Config) DrainInterval() time.Duration { return cfg.drainInterval }

// Option is a functional option for configuring a Queue.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithCapacity sets the maximum number of queued items, in [1, 1000000].
func WithCapacity(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxCapacity {
			return fmt.Errorf("delivery: capacity %d out of range [1, %d]", n, MaxCapacity)
		}
		cfg.capacity = n

		return nil
	})
}

// WithMaxRetries sets the number of delivery attempts per item, in [1, 100].
func WithMaxRetries(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < 1 || n > MaxRetryLimit {
			return fmt.Errorf("delivery: max retries %d out of range [1, %d]", n, MaxRetryLimit)
		}
		cfg.maxRetries = n

		return nil
	})
}

// WithItemDelay sets the pause between processed items, in [0, 1m].
func WithItemDelay(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < 0 || d > MaxItemDelay {
			return fmt.Errorf("delivery: item delay %v out of range [0, %v]", d, MaxItemDelay)
		}
		cfg.itemDelay = d

		return nil
	})
}

// WithDrainInterval sets the period of the background drain, in [10ms, 1h].
func WithDrainInterval(d time.Duration) Option {
	return optFunc(func(cfg *Config) error {
		if d < MinDrainInterval || d > MaxDrainInterval {
			return fmt.Errorf("delivery: drain interval %v out of range [%v, %v]", d, MinDrainInterval, MaxDrainInterval)
		}
		cfg.drainInterval = d

		return nil
	})
}

// WithLogger sets the logger. A nil logger is rejected.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("delivery: logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
