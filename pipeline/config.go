package pipeline

import (
	"fmt"
	"strings"

	"github.com/arloliu/go-lis/astm"
	"github.com/arloliu/go-lis/logger"
)

// Mode selects how a link frames messages.
type Mode string

const (
	ModeASTM      Mode = "astm"
	ModeHL7       Mode = "hl7"
	ModeDelimited Mode = "delimited"
)

// ParseMode converts a mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeASTM, ModeHL7, ModeDelimited:
		return m, nil
	case "":
		return ModeASTM, nil
	default:
		return "", fmt.Errorf("pipeline: unknown mode %q", s)
	}
}

// Default values.
const (
	DefaultMode           = ModeASTM
	DefaultDelimiter      = astm.EOT
	DefaultMaxMessageSize = 1 << 20
)

// Range limits.
const (
	MinMaxMessageSize = 1 << 10
	MaxMaxMessageSize = 64 << 20
)

// Config holds the settings of a Pipeline.
type Config struct {
	mode           Mode
	instrument     string
	delimiter      byte
	maxMessageSize int
	keepPartial    bool
	astmOpts       []astm.Option

	logger logger.Logger
}

func newConfig(opts ...Option) (*Config, error) {
	cfg := &Config{
		mode:           DefaultMode,
		delimiter:      DefaultDelimiter,
		maxMessageSize: DefaultMaxMessageSize,
		keepPartial:    true,
		logger:         logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// Mode returns the link mode.
func (cfg *Config) Mode() Mode { return cfg.mode }

// Instrument returns the configured instrument name, empty when links are named after
// their connection.
func (cfg *Config) Instrument() string { return cfg.instrument }

// Delimiter returns the byte ending a message in ModeDelimited.
func (cfg *Config) Delimiter() byte { return cfg.delimiter }

// MaxMessageSize returns the largest message accepted in ModeHL7 and ModeDelimited.
func (cfg *Config) MaxMessageSize() int { return cfg.maxMessageSize }

// KeepPartial reports whether timed-out ASTM transmissions are parsed and enqueued.
func (cfg *Config) KeepPartial() bool { return cfg.keepPartial }

// Option is a functional option for configuring a Pipeline.
type Option interface {
	apply(*Config) error
}

type optFunc func(*Config) error

func (f optFunc) apply(cfg *Config) error { return f(cfg) }

// WithMode sets the link mode.
func WithMode(mode Mode) Option {
	return optFunc(func(cfg *Config) error {
		switch mode {
		case ModeASTM, ModeHL7, ModeDelimited:
			cfg.mode = mode
			return nil
		default:
			return fmt.Errorf("pipeline: unknown mode %q", mode)
		}
	})
}

// WithInstrument names the instrument behind every link of the pipeline.
func WithInstrument(name string) Option {
	return optFunc(func(cfg *Config) error {
		cfg.instrument = strings.TrimSpace(name)
		return nil
	})
}

// WithDelimiter sets the byte ending a message in ModeDelimited. EOT always ends a
// message as well.
func WithDelimiter(b byte) Option {
	return optFunc(func(cfg *Config) error {
		if b == 0 {
			return fmt.Errorf("pipeline: delimiter is NUL")
		}
		cfg.delimiter = b

		return nil
	})
}

// WithMaxMessageSize sets the largest accepted message, in [1KiB, 64MiB].
func WithMaxMessageSize(n int) Option {
	return optFunc(func(cfg *Config) error {
		if n < MinMaxMessageSize || n > MaxMaxMessageSize {
			return fmt.Errorf("pipeline: max message size %d out of range [%d, %d]", n, MinMaxMessageSize, MaxMaxMessageSize)
		}
		cfg.maxMessageSize = n

		return nil
	})
}

// WithKeepPartial controls whether timed-out ASTM transmissions are parsed and enqueued
// with Payload.Partial set. The default is true.
func WithKeepPartial(keep bool) Option {
	return optFunc(func(cfg *Config) error {
		cfg.keepPartial = keep
		return nil
	})
}

// WithASTMOptions sets the options of the ASTM receiver created for each link.
func WithASTMOptions(opts ...astm.Option) Option {
	return optFunc(func(cfg *Config) error {
		if _, err := astm.NewConfig(opts...); err != nil {
			return err
		}
		cfg.astmOpts = append(cfg.astmOpts, opts...)

		return nil
	})
}

// WithLogger sets the logger. A nil logger is rejected.
func WithLogger(l logger.Logger) Option {
	return optFunc(func(cfg *Config) error {
		if l == nil {
			return fmt.Errorf("pipeline: logger is nil")
		}
		cfg.logger = l

		return nil
	})
}
