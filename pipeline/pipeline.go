package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-lis/astm"
	"github.com/arloliu/go-lis/internal/task"
	"github.com/arloliu/go-lis/logger"
	"github.com/arloliu/go-lis/message"
	"github.com/arloliu/go-lis/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// ErrStopped is returned by Serve after Stop.
var ErrStopped = errors.New("pipeline: stopped")

// Sink receives payloads. *delivery.Queue implements it.
type Sink interface {
	Add(payload any) (string, error)
}

// triggerer is implemented by sinks that can start a delivery right away.
type triggerer interface {
	Trigger()
}

// Pipeline serves instrument connections and forwards their parsed messages to a Sink.
// It is safe for concurrent use; each connection is served by its own Serve call.
type Pipeline struct {
	cfg     *Config
	sink    Sink
	parser  *message.Parser
	links   *xsync.MapOf[string, *Link]
	taskMgr *task.Manager
	metrics Metrics
	stopped atomic.Bool
	logger  logger.Logger
}

// LinkInfo describes an active link.
type LinkInfo struct {
	Name        string    `json:"name"`
	Instrument  string    `json:"instrument"`
	Mode        Mode      `json:"mode"`
	ConnectedAt time.Time `json:"connectedAt"`
	Messages    uint64    `json:"messages"`
}

// New creates a Pipeline writing payloads to sink.
func New(ctx context.Context, sink Sink, opts ...Option) (*Pipeline, error) {
	if sink == nil {
		return nil, errors.New("pipeline: sink is nil")
	}

	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:     cfg,
		sink:    sink,
		parser:  message.NewParser(cfg.logger),
		links:   xsync.NewMapOf[string, *Link](),
		taskMgr: task.NewManager(ctx, cfg.logger),
		logger:  cfg.logger,
	}, nil
}

// Config returns the pipeline configuration.
func (p *Pipeline) Config() *Config { return p.cfg }

// Metrics returns the pipeline counters.
func (p *Pipeline) Metrics() *Metrics { return &p.metrics }

// LinkCount returns the number of active links.
func (p *Pipeline) LinkCount() int { return p.links.Size() }

// Links returns the active links ordered by name.
func (p *Pipeline) Links() []LinkInfo {
	infos := make([]LinkInfo, 0, p.links.Size())
	p.links.Range(func(_ string, link *Link) bool {
		infos = append(infos, link.info())
		return true
	})

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos
}

// EngineTotals sums the ASTM engine counters of active and closed links.
func (p *Pipeline) EngineTotals() EngineTotals {
	totals := p.metrics.retired.snapshot()
	p.links.Range(func(_ string, link *Link) bool {
		if m := link.engineMetrics(); m != nil {
			totals.addMetrics(m)
		}

		return true
	})

	return totals
}

// Handle serves conn until it ends. It matches transport.Handler.
func (p *Pipeline) Handle(ctx context.Context, conn transport.Conn) {
	if err := p.Serve(ctx, conn); err != nil {
		p.logger.Warn("pipeline: link ended with error", "link", conn.Name(), "error", err)
	}
}

// Serve runs a link over conn until the peer disconnects, ctx is done or the pipeline
// stops. conn is closed when ctx is done or the pipeline stops; otherwise closing it
// remains the caller's responsibility.
func (p *Pipeline) Serve(ctx context.Context, conn transport.Conn) error {
	if conn == nil {
		return errors.New("pipeline: conn is nil")
	}

	if p.stopped.Load() {
		return ErrStopped
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stopLink := context.AfterFunc(p.taskMgr.Context(), cancel)
	defer stopLink()

	stopClose := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stopClose()

	link, err := p.register(conn)
	if err != nil {
		return err
	}
	defer p.unregister(link)

	p.logger.Info("pipeline: link opened", "link", link.name, "instrument", link.instrument, "mode", p.cfg.mode)

	switch p.cfg.mode {
	case ModeHL7:
		err = p.serveHL7(ctx, link)
	case ModeDelimited:
		err = p.serveDelimited(ctx, link)
	default:
		err = p.serveASTM(ctx, link)
	}

	if ctx.Err() != nil && transport.IsClosed(err) {
		err = nil
	}

	p.logger.Info("pipeline: link closed", "link", link.name, "messages", link.messages.Load())

	return err
}

// Submit parses a complete message buffer received outside a link and hands the payload
// to the sink. It returns the id assigned by the sink.
func (p *Pipeline) Submit(source string, text string) (string, error) {
	instrument := p.cfg.instrument
	if instrument == "" {
		instrument = source
	}

	return p.process(source, instrument, text, time.Now(), false)
}

// Stop closes every link and waits for their tasks. Stop is idempotent.
func (p *Pipeline) Stop() {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}

	p.taskMgr.Stop()
	p.taskMgr.Wait()
}

func (p *Pipeline) register(conn transport.Conn) (*Link, error) {
	name := conn.Name()
	instrument := p.cfg.instrument
	if instrument == "" {
		instrument = name
	}

	link := &Link{
		name:        name,
		instrument:  instrument,
		mode:        p.cfg.mode,
		conn:        conn,
		connectedAt: time.Now(),
		logger:      p.logger.With("link", name),
	}

	if _, loaded := p.links.LoadOrStore(name, link); loaded {
		return nil, fmt.Errorf("pipeline: link %s already active", name)
	}

	p.metrics.incLinkCount()

	return link, nil
}

func (p *Pipeline) unregister(link *Link) {
	p.links.Delete(link.name)

	if m := link.engineMetrics(); m != nil {
		p.metrics.retired.add(m)
	}
}

// process parses text and enqueues the resulting payload.
func (p *Pipeline) process(linkName, instrument, text string, at time.Time, partial bool) (string, error) {
	p.metrics.incMessageCount()

	doc, err := p.parser.Parse(text)
	if err != nil {
		p.metrics.incParseErrorCount()
		p.logger.Warn("pipeline: message not parsed",
			"link", linkName, "partial", partial, "length", len(text), "error", err)

		return "", err
	}

	payload := newPayload(instrument, linkName, doc, at, partial)

	id, err := p.sink.Add(payload)
	if err != nil {
		p.metrics.incEnqueueErrorCount()
		p.logger.Error("pipeline: failed to enqueue payload", "link", linkName, "error", err)

		return "", err
	}

	p.metrics.incEnqueuedCount()
	p.logger.Info("pipeline: payload enqueued",
		"link", linkName, "id", id, "protocol", doc.Protocol,
		"sampleId", doc.SampleID, "results", len(doc.Results), "partial", partial)

	if t, ok := p.sink.(triggerer); ok {
		t.Trigger()
	}

	return id, nil
}

func (p *Pipeline) serveASTM(ctx context.Context, link *Link) error {
	opts := append([]astm.Option{astm.WithLogger(link.logger)}, p.cfg.astmOpts...)

	rcv, err := astm.NewReceiver(link.conn, opts...)
	if err != nil {
		return err
	}
	link.setEngine(rcv.Engine())

	errCh := make(chan error, 1)
	done := make(chan struct{})

	err = p.taskMgr.Start("astm:"+link.name, func() bool {
		errCh <- rcv.Run(ctx)
		return false
	}, func() { close(done) })
	if err != nil {
		return err
	}

	events := rcv.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return <-errCh
			}
			p.handleEvent(link, ev)

		case <-done:
			select {
			case err := <-errCh:
				for ev := range events {
					p.handleEvent(link, ev)
				}

				return err
			default:
				// the manager stopped before the receiver ran
				return ErrStopped
			}
		}
	}
}

func (p *Pipeline) handleEvent(link *Link, ev astm.Event) {
	switch ev.Kind {
	case astm.EventMessage:
		link.messages.Add(1)
		_, _ = p.process(link.name, link.instrument, ev.Text, ev.At, false)

	case astm.EventTimeout:
		p.metrics.incPartialCount()
		link.logger.Warn("pipeline: transmission timed out", "frames", ev.Frames, "length", len(ev.Text))

		if !p.cfg.keepPartial || ev.Text == "" {
			return
		}

		link.messages.Add(1)
		_, _ = p.process(link.name, link.instrument, ev.Text, ev.At, true)
	}
}
