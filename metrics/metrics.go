// Package metrics exposes the pipeline and delivery queue counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/go-lis/delivery"
	"github.com/arloliu/go-lis/logger"
	"github.com/arloliu/go-lis/pipeline"
)

const namespace = "lis"

// PipelineSource is implemented by *pipeline.Pipeline.
type PipelineSource interface {
	Metrics() *pipeline.Metrics
	EngineTotals() pipeline.EngineTotals
	LinkCount() int
}

// QueueSource is implemented by *delivery.Queue.
type QueueSource interface {
	Metrics() *delivery.QueueMetrics
	Len() int
}

// NewRegistry creates a registry holding the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return reg
}

// RegisterPipeline registers the link, message and ASTM engine counters of p.
func RegisterPipeline(reg prometheus.Registerer, p PipelineSource) error {
	m := p.Metrics()

	cs := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "pipeline", Name: "active_links",
			Help: "Number of instrument links currently served.",
		}, func() float64 { return float64(p.LinkCount()) }),
		counter("pipeline", "links_total", "Links served since start.", m.LinkCount.Load),
		counter("pipeline", "messages_total", "Messages handed to the parser.", m.MessageCount.Load),
		counter("pipeline", "partial_messages_total", "Transmissions flushed by the inactivity alarm.", m.PartialCount.Load),
		counter("pipeline", "parse_errors_total", "Messages that produced no document.", m.ParseErrorCount.Load),
		counter("pipeline", "enqueued_total", "Payloads accepted by the delivery queue.", m.EnqueuedCount.Load),
		counter("pipeline", "enqueue_errors_total", "Payloads rejected by the delivery queue.", m.EnqueueErrorCount.Load),
		counter("pipeline", "hl7_acks_total", "HL7 AA acknowledgements sent.", m.AckCount.Load),
		counter("pipeline", "hl7_nacks_total", "HL7 AE acknowledgements sent.", m.NackCount.Load),
		counter("pipeline", "invalid_frames_total", "Delimited buffers failing frame validation.", m.InvalidFrameCount.Load),

		counter("astm", "messages_total", "Completed ASTM transmissions.",
			func() uint64 { return p.EngineTotals().Messages }),
		counter("astm", "frames_total", "Accepted ASTM frames.",
			func() uint64 { return p.EngineTotals().Frames }),
		counter("astm", "acks_total", "ACK responses sent.",
			func() uint64 { return p.EngineTotals().Acks }),
		counter("astm", "naks_total", "NAK responses sent.",
			func() uint64 { return p.EngineTotals().Naks }),
		counter("astm", "timeouts_total", "Inactivity alarm expirations.",
			func() uint64 { return p.EngineTotals().Timeouts }),
		counter("astm", "frame_number_mismatches_total", "Out-of-sequence frame numbers.",
			func() uint64 { return p.EngineTotals().FrameNumberMismatches }),
		counter("astm", "checksum_errors_total", "Frames rejected for a bad checksum.",
			func() uint64 { return p.EngineTotals().ChecksumErrors }),
	}

	return register(reg, cs)
}

// RegisterQueue registers the delivery queue length and counters of q.
func RegisterQueue(reg prometheus.Registerer, q QueueSource) error {
	m := q.Metrics()

	cs := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "delivery", Name: "queue_length",
			Help: "Items waiting for delivery.",
		}, func() float64 { return float64(q.Len()) }),
		counter("delivery", "enqueued_total", "Items added to the queue.", m.EnqueuedCount.Load),
		counter("delivery", "delivered_total", "Items delivered.", m.DeliveredCount.Load),
		counter("delivery", "retries_total", "Failed attempts moved to the tail.", m.RetryCount.Load),
		counter("delivery", "dead_letters_total", "Items dropped after the last retry.", m.DeadLetterCount.Load),
		counter("delivery", "overflows_total", "Oldest items dropped at capacity.", m.OverflowCount.Load),
		counter("delivery", "persist_errors_total", "Failed queue file writes.", m.PersistErrorCount.Load),
	}

	return register(reg, cs)
}

// Handler returns the exposition handler of reg.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// Serve exposes /metrics and /healthz on addr until ctx is done.
func Serve(ctx context.Context, addr string, reg *prometheus.Registry, l logger.Logger) error {
	if l == nil {
		l = logger.GetLogger()
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(reg))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	l.Info("metrics: serving", "address", addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}

	return nil
}

func counter(subsystem, name, help string, value func() uint64) prometheus.Collector {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, func() float64 { return float64(value()) })
}

func register(reg prometheus.Registerer, cs []prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}

	return nil
}
