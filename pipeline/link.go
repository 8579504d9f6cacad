package pipeline

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-lis/astm"
	"github.com/arloliu/go-lis/logger"
	"github.com/arloliu/go-lis/message"
	"github.com/arloliu/go-lis/mllp"
	"github.com/arloliu/go-lis/transport"
)

// Link is one connection served by a Pipeline.
type Link struct {
	name        string
	instrument  string
	mode        Mode
	conn        transport.Conn
	connectedAt time.Time
	messages    atomic.Uint64
	engine      atomic.Pointer[astm.Engine]
	logger      logger.Logger
}

func (l *Link) setEngine(e *astm.Engine) { l.engine.Store(e) }

func (l *Link) engineMetrics() *astm.EngineMetrics {
	if e := l.engine.Load(); e != nil {
		return e.Metrics()
	}

	return nil
}

func (l *Link) info() LinkInfo {
	return LinkInfo{
		Name:        l.name,
		Instrument:  l.instrument,
		Mode:        l.mode,
		ConnectedAt: l.connectedAt,
		Messages:    l.messages.Load(),
	}
}

func (p *Pipeline) serveHL7(ctx context.Context, link *Link) error {
	reader := mllp.NewReader(link.conn, p.cfg.maxMessageSize)

	for {
		msg, err := reader.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, mllp.ErrMessageTooLarge):
				link.logger.Warn("pipeline: hl7 message discarded", "error", err)
				continue
			case errors.Is(err, io.EOF):
				return nil
			case errors.Is(err, mllp.ErrTruncated):
				link.logger.Warn("pipeline: hl7 stream ended inside a message", "error", err)
				return nil
			case ctx.Err() != nil:
				return nil
			default:
				return err
			}
		}

		link.messages.Add(1)

		if err := p.acknowledge(link, string(msg)); err != nil {
			return err
		}
	}
}

// acknowledge processes one HL7 message and writes the ACK back to the sender.
func (p *Pipeline) acknowledge(link *Link, text string) error {
	code, reason := message.AckAccept, ""
	if _, err := p.process(link.name, link.instrument, text, time.Now(), false); err != nil {
		code, reason = message.AckError, err.Error()
	}

	ack, err := message.BuildHL7Ack(text, code, reason, time.Now())
	if err != nil {
		link.logger.Warn("pipeline: hl7 message not acknowledged", "error", err)
		return nil
	}

	if err := mllp.WriteMessage(link.conn, []byte(ack)); err != nil {
		return err
	}

	if code == message.AckAccept {
		p.metrics.incAckCount()
	} else {
		p.metrics.incNackCount()
	}

	link.logger.Debug("pipeline: hl7 ack sent", "code", code)

	return nil
}

func (p *Pipeline) serveDelimited(ctx context.Context, link *Link) error {
	reader := bufio.NewReader(link.conn)

	var buf bytes.Buffer
	overflow := false

	for {
		b, err := reader.ReadByte()
		if err != nil {
			if buf.Len() > 0 && !overflow {
				p.flushDelimited(link, buf.Bytes())
			}

			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}

			return err
		}

		if b == astm.EOT || b == p.cfg.delimiter {
			if buf.Len() > 0 && !overflow {
				p.flushDelimited(link, buf.Bytes())
			}

			buf.Reset()
			overflow = false

			continue
		}

		if overflow {
			continue
		}

		if buf.Len() >= p.cfg.maxMessageSize {
			link.logger.Warn("pipeline: delimited message discarded", "limit", p.cfg.maxMessageSize)
			overflow = true

			continue
		}

		buf.WriteByte(b)
	}
}

// flushDelimited validates the frames of a buffered message, if any, and processes it.
// Frame errors are logged only.
func (p *Pipeline) flushDelimited(link *Link, data []byte) {
	if bytes.IndexByte(data, astm.STX) >= 0 {
		if n, err := astm.ValidateFrames(data); err != nil {
			p.metrics.incInvalidFrameCount()
			link.logger.Warn("pipeline: frame validation failed", "frames", n, "error", err)
		}
	}

	link.messages.Add(1)
	_, _ = p.process(link.name, link.instrument, string(data), time.Now(), false)
}
