// Package config loads the lisbridge settings from a TOML file, LISBRIDGE_* environment
// variables and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/arloliu/go-lis/astm"
	"github.com/arloliu/go-lis/delivery"
	"github.com/arloliu/go-lis/logger"
	"github.com/arloliu/go-lis/pipeline"
)

// Transport kinds.
const (
	TransportSerial    = "serial"
	TransportTCPListen = "tcp-listen"
	TransportTCPDial   = "tcp-dial"
)

// Log backends.
const (
	LogBackendSlog    = "slog"
	LogBackendZerolog = "zerolog"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("config: invalid")

// Config holds every lisbridge setting.
type Config struct {
	Instrument string
	Protocol   string
	Transport  string

	SerialPort string
	BaudRate   int
	DataBits   int
	Parity     string
	StopBits   string

	ListenAddr  string
	DialAddr    string
	DialTimeout time.Duration

	AlarmTimeout       time.Duration
	StrictFrameNumbers bool
	KeepPartial        bool
	Delimiter          string
	MaxMessageSize     int

	QueuePath     string
	QueueCapacity int
	MaxRetries    int
	ItemDelay     time.Duration
	DrainInterval time.Duration

	ServiceURL  string
	AuthKey     string
	HTTPTimeout time.Duration

	LogLevel    string
	LogBackend  string
	LogFormat   string
	MetricsAddr string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		Protocol:       string(pipeline.ModeASTM),
		Transport:      TransportTCPListen,
		BaudRate:       9600,
		DataBits:       8,
		Parity:         "none",
		StopBits:       "1",
		ListenAddr:     "0.0.0.0:5000",
		DialTimeout:    10 * time.Second,
		AlarmTimeout:   astm.DefaultAlarmTimeout,
		KeepPartial:    true,
		MaxMessageSize: pipeline.DefaultMaxMessageSize,
		QueueCapacity:  delivery.DefaultCapacity,
		MaxRetries:     delivery.DefaultMaxRetries,
		ItemDelay:      delivery.DefaultItemDelay,
		DrainInterval:  delivery.DefaultDrainInterval,
		HTTPTimeout:    15 * time.Second,
		LogLevel:       "info",
		LogBackend:     LogBackendSlog,
		LogFormat:      string(logger.JSONFormat),
	}
}

// Validate checks the configuration and sets derived defaults.
func (c *Config) Validate() error {
	if _, err := pipeline.ParseMode(c.Protocol); err != nil {
		return fmt.Errorf("%w: protocol %q", ErrInvalid, c.Protocol)
	}

	switch c.Transport {
	case TransportSerial:
		if c.SerialPort == "" {
			return fmt.Errorf("%w: serial-port is required for the serial transport", ErrInvalid)
		}
		if c.BaudRate <= 0 {
			return fmt.Errorf("%w: baud-rate must be positive", ErrInvalid)
		}
	case TransportTCPListen:
		if c.ListenAddr == "" {
			return fmt.Errorf("%w: listen-addr is required for the tcp-listen transport", ErrInvalid)
		}
	case TransportTCPDial:
		if c.DialAddr == "" {
			return fmt.Errorf("%w: dial-addr is required for the tcp-dial transport", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: transport %q", ErrInvalid, c.Transport)
	}

	if _, err := c.DelimiterByte(); err != nil {
		return err
	}

	if c.ServiceURL == "" {
		return fmt.Errorf("%w: service-url is required", ErrInvalid)
	}
	c.ServiceURL = strings.TrimRight(c.ServiceURL, "/")

	if c.QueuePath == "" {
		c.QueuePath = defaultQueuePath()
	}

	if c.AlarmTimeout < astm.MinAlarmTimeout || c.AlarmTimeout > astm.MaxAlarmTimeout {
		return fmt.Errorf("%w: alarm-timeout %v out of range", ErrInvalid, c.AlarmTimeout)
	}
	if c.DrainInterval <= 0 {
		return fmt.Errorf("%w: drain-interval must be positive", ErrInvalid)
	}
	if c.ItemDelay < 0 {
		return fmt.Errorf("%w: item-delay must not be negative", ErrInvalid)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("%w: http-timeout must be positive", ErrInvalid)
	}

	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	switch c.LogBackend {
	case LogBackendSlog, LogBackendZerolog:
	default:
		return fmt.Errorf("%w: log-backend %q", ErrInvalid, c.LogBackend)
	}

	switch logger.Format(c.LogFormat) {
	case logger.JSONFormat, logger.ConsoleFormat:
	default:
		return fmt.Errorf("%w: log-format %q", ErrInvalid, c.LogFormat)
	}

	return nil
}

// Mode returns the pipeline mode of Protocol.
func (c *Config) Mode() pipeline.Mode {
	mode, _ := pipeline.ParseMode(c.Protocol)
	return mode
}

// Level returns the parsed log level, InfoLevel when invalid.
func (c *Config) Level() logger.Level {
	level, _ := logger.ParseLevel(c.LogLevel)
	return level
}

// DelimiterByte returns the byte ending a delimited message. Delimiter accepts a single
// character, a name (eot, etx, lf, cr) or a decimal or 0x-prefixed code. Empty selects EOT.
func (c *Config) DelimiterByte() (byte, error) {
	switch strings.ToLower(c.Delimiter) {
	case "", "eot":
		return astm.EOT, nil
	case "etx":
		return astm.ETX, nil
	case "lf", `\n`:
		return astm.LF, nil
	case "cr", `\r`:
		return astm.CR, nil
	}

	if len(c.Delimiter) == 1 && c.Delimiter[0] != 0 {
		return c.Delimiter[0], nil
	}

	v, err := strconv.ParseUint(c.Delimiter, 0, 8)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: delimiter %q", ErrInvalid, c.Delimiter)
	}

	return byte(v), nil
}

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	if c.AuthKey != "" {
		c.AuthKey = "*****"
	}

	return c
}

func defaultQueuePath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".lisbridge", "queue.json")
	}

	return "queue.json"
}

// configSetter applies values while respecting flag precedence: a value is only set when
// the flag of the same name was not given on the command line.
type configSetter struct {
	changed map[string]bool
}

func newConfigSetter(changed map[string]bool) *configSetter {
	return &configSetter{changed: changed}
}

func (s *configSetter) setString(flag, value string, dst *string) {
	if value == "" || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setInt(flag string, value int, dst *int) {
	if value <= 0 || s.changed[flag] {
		return
	}
	*dst = value
}

func (s *configSetter) setBool(flag string, value *bool, dst *bool) {
	if value == nil || s.changed[flag] {
		return
	}
	*dst = *value
}

func (s *configSetter) setDuration(flag, value string, dst *time.Duration) error {
	if value == "" || s.changed[flag] {
		return nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", flag, err)
	}
	*dst = d

	return nil
}

func (s *configSetter) setIntFromString(flag, value string, dst *int) error {
	if value == "" || s.changed[flag] {
		return nil
	}

	i, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", flag, err)
	}
	if i > 0 {
		*dst = i
	}

	return nil
}

func (s *configSetter) setBoolFromString(flag, value string, dst *bool) error {
	if value == "" || s.changed[flag] {
		return nil
	}

	b, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("config: parse %s: %w", flag, err)
	}
	*dst = b

	return nil
}
