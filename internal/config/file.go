package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// FileConfig mirrors Config with durations as strings, for TOML.
type FileConfig struct {
	Instrument string `toml:"instrument"`
	Protocol   string `toml:"protocol"`
	Transport  string `toml:"transport"`

	SerialPort string `toml:"serial_port"`
	BaudRate   int    `toml:"baud_rate"`
	DataBits   int    `toml:"data_bits"`
	Parity     string `toml:"parity"`
	StopBits   string `toml:"stop_bits"`

	ListenAddr  string `toml:"listen_addr"`
	DialAddr    string `toml:"dial_addr"`
	DialTimeout string `toml:"dial_timeout"`

	AlarmTimeout       string `toml:"alarm_timeout"`
	StrictFrameNumbers *bool  `toml:"strict_frame_numbers"`
	KeepPartial        *bool  `toml:"keep_partial"`
	Delimiter          string `toml:"delimiter"`
	MaxMessageSize     int    `toml:"max_message_size"`

	QueuePath     string `toml:"queue_path"`
	QueueCapacity int    `toml:"queue_capacity"`
	MaxRetries    int    `toml:"max_retries"`
	ItemDelay     string `toml:"item_delay"`
	DrainInterval string `toml:"drain_interval"`

	ServiceURL  string `toml:"service_url"`
	AuthKey     string `toml:"auth_key"`
	HTTPTimeout string `toml:"http_timeout"`

	LogLevel    string `toml:"log_level"`
	LogBackend  string `toml:"log_backend"`
	LogFormat   string `toml:"log_format"`
	MetricsAddr string `toml:"metrics_addr"`
}

// LoadFile reads and parses a TOML config file.
func LoadFile(path string) (FileConfig, error) {
	var fc FileConfig

	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}

	if err := toml.Unmarshal(b, &fc); err != nil {
		return fc, err
	}

	return fc, nil
}

// DefaultPath returns ~/.lisbridge/config.toml, or "" when the home directory is unknown.
func DefaultPath() string {
	if h, err := os.UserHomeDir(); err == nil {
		return filepath.Join(h, ".lisbridge", "config.toml")
	}

	return ""
}

// FileExists reports whether a file exists at p.
func FileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// ApplyFile applies fc to cfg, skipping the flags present in changed.
func ApplyFile(cfg *Config, fc FileConfig, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("instrument", fc.Instrument, &cfg.Instrument)
	s.setString("protocol", fc.Protocol, &cfg.Protocol)
	s.setString("transport", fc.Transport, &cfg.Transport)
	s.setString("serial-port", fc.SerialPort, &cfg.SerialPort)
	s.setString("parity", fc.Parity, &cfg.Parity)
	s.setString("stop-bits", fc.StopBits, &cfg.StopBits)
	s.setString("listen-addr", fc.ListenAddr, &cfg.ListenAddr)
	s.setString("dial-addr", fc.DialAddr, &cfg.DialAddr)
	s.setString("delimiter", fc.Delimiter, &cfg.Delimiter)
	s.setString("queue-path", fc.QueuePath, &cfg.QueuePath)
	s.setString("service-url", fc.ServiceURL, &cfg.ServiceURL)
	s.setString("auth-key", fc.AuthKey, &cfg.AuthKey)
	s.setString("log-level", fc.LogLevel, &cfg.LogLevel)
	s.setString("log-backend", fc.LogBackend, &cfg.LogBackend)
	s.setString("log-format", fc.LogFormat, &cfg.LogFormat)
	s.setString("metrics-addr", fc.MetricsAddr, &cfg.MetricsAddr)

	s.setInt("baud-rate", fc.BaudRate, &cfg.BaudRate)
	s.setInt("data-bits", fc.DataBits, &cfg.DataBits)
	s.setInt("max-message-size", fc.MaxMessageSize, &cfg.MaxMessageSize)
	s.setInt("queue-capacity", fc.QueueCapacity, &cfg.QueueCapacity)
	s.setInt("max-retries", fc.MaxRetries, &cfg.MaxRetries)

	s.setBool("strict-frame-numbers", fc.StrictFrameNumbers, &cfg.StrictFrameNumbers)
	s.setBool("keep-partial", fc.KeepPartial, &cfg.KeepPartial)

	durations := []struct {
		flag  string
		value string
		dst   *time.Duration
	}{
		{"dial-timeout", fc.DialTimeout, &cfg.DialTimeout},
		{"alarm-timeout", fc.AlarmTimeout, &cfg.AlarmTimeout},
		{"item-delay", fc.ItemDelay, &cfg.ItemDelay},
		{"drain-interval", fc.DrainInterval, &cfg.DrainInterval},
		{"http-timeout", fc.HTTPTimeout, &cfg.HTTPTimeout},
	}
	for _, d := range durations {
		if err := s.setDuration(d.flag, d.value, d.dst); err != nil {
			return err
		}
	}

	return nil
}

// Load applies the config file at path and then the environment to cfg, skipping the
// flags present in changed. An empty path selects DefaultPath, which may be missing.
// It returns the file that was applied, or "" when none was.
func Load(cfg *Config, path string, changed map[string]bool) (string, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	used := ""
	if path != "" && (explicit || FileExists(path)) {
		fc, err := LoadFile(path)
		if err != nil {
			return "", fmt.Errorf("config: load %s: %w", path, err)
		}

		if err := ApplyFile(cfg, fc, changed); err != nil {
			return "", err
		}
		used = path
	}

	if err := ApplyEnv(cfg, changed); err != nil {
		return "", err
	}

	return used, nil
}
