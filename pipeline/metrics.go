package pipeline

import (
	"sync/atomic"

	"github.com/arloliu/go-lis/astm"
)

// Metrics contains atomic counters of a Pipeline.
type Metrics struct {
	// LinkCount is the number of links served since the pipeline was created.
	LinkCount atomic.Uint64
	// MessageCount is the number of messages handed to the parser.
	MessageCount atomic.Uint64
	// PartialCount is the number of timed-out ASTM transmissions.
	PartialCount atomic.Uint64
	// ParseErrorCount is the number of messages that produced no document.
	ParseErrorCount atomic.Uint64
	// EnqueuedCount is the number of payloads accepted by the sink.
	EnqueuedCount atomic.Uint64
	// EnqueueErrorCount is the number of payloads the sink rejected.
	EnqueueErrorCount atomic.Uint64
	// AckCount is the number of HL7 AA acknowledgements sent.
	AckCount atomic.Uint64
	// NackCount is the number of HL7 AE acknowledgements sent.
	NackCount atomic.Uint64
	// InvalidFrameCount is the number of delimited buffers failing frame validation.
	InvalidFrameCount atomic.Uint64

	// counters of ASTM engines whose link has closed
	retired engineTotals
}

func (m *Metrics) incLinkCount()         { m.LinkCount.Add(1) }
func (m *Metrics) incMessageCount()      { m.MessageCount.Add(1) }
func (m *Metrics) incPartialCount()      { m.PartialCount.Add(1) }
func (m *Metrics) incParseErrorCount()   { m.ParseErrorCount.Add(1) }
func (m *Metrics) incEnqueuedCount()     { m.EnqueuedCount.Add(1) }
func (m *Metrics) incEnqueueErrorCount() { m.EnqueueErrorCount.Add(1) }
func (m *Metrics) incAckCount()          { m.AckCount.Add(1) }
func (m *Metrics) incNackCount()         { m.NackCount.Add(1) }
func (m *Metrics) incInvalidFrameCount() { m.InvalidFrameCount.Add(1) }

// EngineTotals is a snapshot of the ASTM engine counters summed over every link.
type EngineTotals struct {
	Messages              uint64
	Frames                uint64
	Acks                  uint64
	Naks                  uint64
	Timeouts              uint64
	FrameNumberMismatches uint64
	ChecksumErrors        uint64
}

type engineTotals struct {
	messages              atomic.Uint64
	frames                atomic.Uint64
	acks                  atomic.Uint64
	naks                  atomic.Uint64
	timeouts              atomic.Uint64
	frameNumberMismatches atomic.Uint64
	checksumErrors        atomic.Uint64
}

func (t *engineTotals) add(m *astm.EngineMetrics) {
	t.messages.Add(m.MessageCount.Load())
	t.frames.Add(m.FrameCount.Load())
	t.acks.Add(m.AckCount.Load())
	t.naks.Add(m.NakCount.Load())
	t.timeouts.Add(m.TimeoutCount.Load())
	t.frameNumberMismatches.Add(m.FrameNumberMismatchCount.Load())
	t.checksumErrors.Add(m.ChecksumErrorCount.Load())
}

func (t *engineTotals) snapshot() EngineTotals {
	return EngineTotals{
		Messages:              t.messages.Load(),
		Frames:                t.frames.Load(),
		Acks:                  t.acks.Load(),
		Naks:                  t.naks.Load(),
		Timeouts:              t.timeouts.Load(),
		FrameNumberMismatches: t.frameNumberMismatches.Load(),
		ChecksumErrors:        t.checksumErrors.Load(),
	}
}

func (s *EngineTotals) addMetrics(m *astm.EngineMetrics) {
	s.Messages += m.MessageCount.Load()
	s.Frames += m.FrameCount.Load()
	s.Acks += m.AckCount.Load()
	s.Naks += m.NakCount.Load()
	s.Timeouts += m.TimeoutCount.Load()
	s.FrameNumberMismatches += m.FrameNumberMismatchCount.Load()
	s.ChecksumErrors += m.ChecksumErrorCount.Load()
}
