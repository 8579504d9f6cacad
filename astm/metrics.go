package astm

import "sync/atomic"

// EngineMetrics contains atomic counters of one Engine.
// Each counter can be used as the value of a prometheus CounterFunc.
type EngineMetrics struct {
	// MessageCount is the number of completed messages.
	MessageCount atomic.Uint64
	// FrameCount is the number of frames accepted.
	FrameCount atomic.Uint64
	// AckCount is the number of ACK responses.
	AckCount atomic.Uint64
	// NakCount is the number of NAK responses.
	NakCount atomic.Uint64
	// TimeoutCount is the number of alarm expirations that flushed a partial transmission.
	TimeoutCount atomic.Uint64
	// FrameNumberMismatchCount is the number of out-of-sequence frame numbers seen.
	FrameNumberMismatchCount atomic.Uint64
	// ChecksumErrorCount is the number of frames rejected for a bad or malformed checksum.
	ChecksumErrorCount atomic.Uint64
}

func (m *EngineMetrics) incMessageCount() {
	m.MessageCount.Add(1)
}

func (m *EngineMetrics) incFrameCount() {
	m.FrameCount.Add(1)
}

func (m *EngineMetrics) incAckCount() {
	m.AckCount.Add(1)
}

func (m *EngineMetrics) incNakCount() {
	m.NakCount.Add(1)
}

func (m *EngineMetrics) incTimeoutCount() {
	m.TimeoutCount.Add(1)
}

func (m *EngineMetrics) incFrameNumberMismatchCount() {
	m.FrameNumberMismatchCount.Add(1)
}

func (m *EngineMetrics) incChecksumErrorCount() {
	m.ChecksumErrorCount.Add(1)
}
