package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/arloliu/go-lis/astm"
	"github.com/arloliu/go-lis/delivery"
	"github.com/arloliu/go-lis/internal/config"
	"github.com/arloliu/go-lis/internal/pool"
	"github.com/arloliu/go-lis/logger"
	"github.com/arloliu/go-lis/metrics"
	"github.com/arloliu/go-lis/pipeline"
	"github.com/arloliu/go-lis/transport"
)

const reconnectDelay = 5 * time.Second

func runBridge(cmd *cobra.Command, cfg *config.Config, cfgPath string) error {
	used, err := config.Load(cfg, cfgPath, changedFlags(cmd))
	if err != nil {
		return err
	}

	if err := cfg.Validate(); err != nil {
		return err
	}

	log := newLogger(cfg)
	logger.SetLogger(log)
	log.Info("lisbridge: configuration", "config", cfg.Redacted(), "file", used)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sender := delivery.NewHTTPSender(cfg.ServiceURL, cfg.AuthKey, &http.Client{Timeout: cfg.HTTPTimeout}, log)

	queue, err := delivery.NewQueue(delivery.NewFileStore(cfg.QueuePath), sender.Deliver,
		delivery.WithCapacity(cfg.QueueCapacity),
		delivery.WithMaxRetries(cfg.MaxRetries),
		delivery.WithItemDelay(cfg.ItemDelay),
		delivery.WithDrainInterval(cfg.DrainInterval),
		delivery.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			log.Error("lisbridge: failed to persist queue", "error", err)
		}
	}()

	if err := queue.Start(ctx); err != nil {
		return err
	}

	delimiter, _ := cfg.DelimiterByte()

	p, err := pipeline.New(ctx, queue,
		pipeline.WithMode(cfg.Mode()),
		pipeline.WithInstrument(cfg.Instrument),
		pipeline.WithDelimiter(delimiter),
		pipeline.WithMaxMessageSize(cfg.MaxMessageSize),
		pipeline.WithKeepPartial(cfg.KeepPartial),
		pipeline.WithASTMOptions(
			astm.WithAlarmTimeout(cfg.AlarmTimeout),
			astm.WithStrictFrameNumbers(cfg.StrictFrameNumbers),
		),
		pipeline.WithLogger(log),
	)
	if err != nil {
		return err
	}
	defer p.Stop()

	if cfg.MetricsAddr != "" {
		reg := metrics.NewRegistry()
		if err := metrics.RegisterPipeline(reg, p); err != nil {
			return err
		}
		if err := metrics.RegisterQueue(reg, queue); err != nil {
			return err
		}

		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, reg, log); err != nil {
				log.Error("lisbridge: metrics server failed", "error", err)
			}
		}()
	}

	if used != "" {
		go func() {
			if err := config.NewWatcher(used, log).Run(ctx); err != nil {
				log.Warn("lisbridge: config watcher stopped", "error", err)
			}
		}()
	}

	switch cfg.Transport {
	case config.TransportTCPListen:
		err = serveListener(ctx, cfg, p, log)
	case config.TransportTCPDial:
		err = serveReconnecting(ctx, p, log, func() (transport.Conn, error) {
			return transport.DialTCP(ctx, cfg.DialAddr, cfg.DialTimeout)
		})
	case config.TransportSerial:
		err = serveReconnecting(ctx, p, log, func() (transport.Conn, error) {
			return transport.OpenSerial(transport.SerialConfig{
				Port:     cfg.SerialPort,
				BaudRate: cfg.BaudRate,
				DataBits: cfg.DataBits,
				Parity:   cfg.Parity,
				StopBits: cfg.StopBits,
			})
		})
	}

	log.Info("lisbridge: shutting down", "pending", queue.Len())

	return err
}

func serveListener(ctx context.Context, cfg *config.Config, p *pipeline.Pipeline, log logger.Logger) error {
	ln, err := transport.ListenTCP(ctx, cfg.ListenAddr, log)
	if err != nil {
		return err
	}

	if err := ln.Serve(p.Handle); err != nil {
		_ = ln.Close()
		return err
	}

	<-ctx.Done()

	return ln.Close()
}

// serveReconnecting serves one connection at a time, reopening it after it ends.
func serveReconnecting(ctx context.Context, p *pipeline.Pipeline, log logger.Logger, open func() (transport.Conn, error)) error {
	for ctx.Err() == nil {
		conn, err := open()
		if err != nil {
			log.Warn("lisbridge: open failed, retrying", "error", err, "delay", reconnectDelay)
			pool.Sleep(ctx, reconnectDelay)

			continue
		}

		err = p.Serve(ctx, conn)
		_ = conn.Close()

		if errors.Is(err, pipeline.ErrStopped) {
			return nil
		}
		if err != nil {
			log.Warn("lisbridge: link failed", "link", conn.Name(), "error", err)
		}

		pool.Sleep(ctx, reconnectDelay)
	}

	return nil
}
