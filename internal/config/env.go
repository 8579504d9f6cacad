package config

import "os"

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "LISBRIDGE_"

// ApplyEnv applies LISBRIDGE_* environment variables to cfg, skipping the flags present
// in changed. The variable name is the upper-case flag name with dashes replaced by
// underscores, e.g. LISBRIDGE_SERVICE_URL for --service-url.
func ApplyEnv(cfg *Config, changed map[string]bool) error {
	s := newConfigSetter(changed)

	s.setString("instrument", env("INSTRUMENT"), &cfg.Instrument)
	s.setString("protocol", env("PROTOCOL"), &cfg.Protocol)
	s.setString("transport", env("TRANSPORT"), &cfg.Transport)
	s.setString("serial-port", env("SERIAL_PORT"), &cfg.SerialPort)
	s.setString("parity", env("PARITY"), &cfg.Parity)
	s.setString("stop-bits", env("STOP_BITS"), &cfg.StopBits)
	s.setString("listen-addr", env("LISTEN_ADDR"), &cfg.ListenAddr)
	s.setString("dial-addr", env("DIAL_ADDR"), &cfg.DialAddr)
	s.setString("delimiter", env("DELIMITER"), &cfg.Delimiter)
	s.setString("queue-path", env("QUEUE_PATH"), &cfg.QueuePath)
	s.setString("service-url", env("SERVICE_URL"), &cfg.ServiceURL)
	s.setString("auth-key", env("AUTH_KEY"), &cfg.AuthKey)
	s.setString("log-level", env("LOG_LEVEL"), &cfg.LogLevel)
	s.setString("log-backend", env("LOG_BACKEND"), &cfg.LogBackend)
	s.setString("log-format", env("LOG_FORMAT"), &cfg.LogFormat)
	s.setString("metrics-addr", env("METRICS_ADDR"), &cfg.MetricsAddr)

	ints := []struct {
		flag string
		key  string
		dst  *int
	}{
		{"baud-rate", "BAUD_RATE", &cfg.BaudRate},
		{"data-bits", "DATA_BITS", &cfg.DataBits},
		{"max-message-size", "MAX_MESSAGE_SIZE", &cfg.MaxMessageSize},
		{"queue-capacity", "QUEUE_CAPACITY", &cfg.QueueCapacity},
		{"max-retries", "MAX_RETRIES", &cfg.MaxRetries},
	}
	for _, i := range ints {
		if err := s.setIntFromString(i.flag, env(i.key), i.dst); err != nil {
			return err
		}
	}

	if err := s.setBoolFromString("strict-frame-numbers", env("STRICT_FRAME_NUMBERS"), &cfg.StrictFrameNumbers); err != nil {
		return err
	}
	if err := s.setBoolFromString("keep-partial", env("KEEP_PARTIAL"), &cfg.KeepPartial); err != nil {
		return err
	}

	if err := s.setDuration("dial-timeout", env("DIAL_TIMEOUT"), &cfg.DialTimeout); err != nil {
		return err
	}
	if err := s.setDuration("alarm-timeout", env("ALARM_TIMEOUT"), &cfg.AlarmTimeout); err != nil {
		return err
	}
	if err := s.setDuration("item-delay", env("ITEM_DELAY"), &cfg.ItemDelay); err != nil {
		return err
	}
	if err := s.setDuration("drain-interval", env("DRAIN_INTERVAL"), &cfg.DrainInterval); err != nil {
		return err
	}

	return s.setDuration("http-timeout", env("HTTP_TIMEOUT"), &cfg.HTTPTimeout)
}

func env(key string) string {
	return os.Getenv(EnvPrefix + key)
}
