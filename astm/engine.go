package astm

import (
	"bytes"
	"fmt"
	"time"

	"github.com/arloliu/go-lis/logger"
)

// State is the position of an Engine within a transmission.
type State int

const (
	// StateIdle waits for ENQ.
	StateIdle State = iota
	// StateReceiving is between frames of an open transmission.
	StateReceiving
	// StateFrameOpen collects frame content after STX.
	StateFrameOpen
	// StateAwaitingChecksum collects the checksum digits after ETX/ETB.
	StateAwaitingChecksum
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateReceiving:
		return "receiving"
	case StateFrameOpen:
		return "frame-open"
	case StateAwaitingChecksum:
		return "awaiting-checksum"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// EventKind discriminates engine events.
type EventKind int

const (
	// EventNone means the step produced no event.
	EventNone EventKind = iota
	// EventMessage carries a completed transmission.
	EventMessage
	// EventTimeout carries the partial text of a transmission flushed by the alarm.
	EventTimeout
)

func (k EventKind) String() string {
	switch k {
	case EventNone:
		return "none"
	case EventMessage:
		return "message"
	case EventTimeout:
		return "timeout"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is a completed or flushed transmission.
type Event struct {
	Kind EventKind
	// Text is the reassembled payload of all accepted frames, without frame
	// numbers and checksum digits.
	Text string
	// Frames is the number of frames accepted.
	Frames int
	At     time.Time
}

// Step is the outcome of feeding one byte.
type Step struct {
	// Response is ACK, NAK or NUL when nothing must be written back.
	Response byte
	// Event is set when the byte completed a transmission.
	Event Event
	// Err explains a NAK response.
	Err error
}

// HasResponse reports whether a response byte must be written back.
func (s Step) HasResponse() bool { return s.Response != NUL }

// HasEvent reports whether the step completed a transmission.
func (s Step) HasEvent() bool { return s.Event.Kind != EventNone }

// Engine is the receiving side of the ASTM E1381 protocol for one connection.
//
// It consumes one byte at a time and never blocks. An Engine is not safe for
// concurrent use: bytes of a connection must be fed sequentially.
type Engine struct {
	cfg     *Config
	logger  logger.Logger
	metrics EngineMetrics

	state       State
	expectDigit bool  // next byte directly follows STX
	expected    int   // next expected frame number
	sum         byte  // running checksum of the open frame
	frameSum    byte  // checksum snapshot taken at ETX/ETB
	term        byte  // ETX or ETB of the frame awaiting validation
	digits      []byte
	rejectErr   error // set when the open frame must be answered with NAK
	unchecked   byte  // terminator of a frame whose checksum line was abandoned
	frames      int
	buf         bytes.Buffer
}

// NewEngine creates an Engine in the idle state.
func NewEngine(opts ...Option) (*Engine, error) {
	cfg, err := NewConfig(opts...)
	if err != nil {
		return nil, err
	}

	return newEngine(cfg), nil
}

func newEngine(cfg *Config) *Engine {
	e := &Engine{
		cfg:    cfg,
		logger: cfg.GetLogger(),
		digits: make([]byte, 0, 2),
	}
	e.reset()

	return e
}

// State returns the current state.
func (e *Engine) State() State { return e.state }

// Metrics returns the engine counters.
func (e *Engine) Metrics() *EngineMetrics { return &e.metrics }

// Pending returns the number of payload bytes collected so far.
func (e *Engine) Pending() int { return e.buf.Len() }

// Reset discards any in-flight transmission.
func (e *Engine) Reset() { e.reset() }

// Feed processes one byte.
//
// Protocol errors never escape: the engine resets and the step carries a NAK response
// with the cause in Err. A frame whose checksum digits are not hex is kept unvalidated
// and acknowledged at its LF. CR bytes are text only inside a frame; a CR between
// frames is dropped.
func (e *Engine) Feed(b byte) (step Step) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("astm: panic while processing byte", "byte", b, "state", e.state.String(), "panic", r)
			e.reset()
			step = e.nak(fmt.Errorf("astm: internal error: %v", r))
		}
	}()

	if e.expectDigit {
		e.expectDigit = false
		if isFrameDigit(b) {
			e.frameNumber(int(b - '0'))
			return Step{}
		}
	}

	switch b {
	case ENQ:
		e.reset()
		e.state = StateReceiving
		e.logger.Debug("astm: transmission started")

		return e.ack()

	case STX:
		if e.state == StateAwaitingChecksum {
			e.logger.Warn("astm: frame started before previous checksum line ended", "expected", e.expected)
		}
		e.state = StateFrameOpen
		e.unchecked = NUL
		e.sum = 0
		e.digits = e.digits[:0]
		e.term = NUL
		e.rejectErr = nil
		e.expectDigit = true

		return Step{}

	case ETX, ETB:
		if e.state != StateFrameOpen {
			e.logger.Debug("astm: frame terminator outside frame ignored", "byte", b, "state", e.state.String())
			return Step{}
		}
		e.sum += b
		e.frameSum = e.sum
		e.term = b
		e.state = StateAwaitingChecksum

		return Step{}

	case CR:
		e.sum += b
		if e.state == StateFrameOpen {
			e.buf.WriteByte(b)
		}

		return Step{}

	case LF:
		switch e.state {
		case StateAwaitingChecksum:
			return e.validateFrame()
		case StateFrameOpen:
			e.content(b)
		case StateReceiving:
			if e.unchecked != NUL {
				e.acceptUnchecked()
				return e.ack()
			}
		}

		return Step{}

	case EOT:
		return e.endOfTransmission()
	}

	switch e.state {
	case StateAwaitingChecksum:
		if _, ok := hexValue(b); !ok {
			e.logger.Warn("astm: non-hex byte in checksum, frame left unvalidated", "byte", b)
			e.digits = e.digits[:0]
			e.unchecked = e.term
			e.term = NUL
			e.state = StateReceiving

			return Step{}
		}
		if len(e.digits) < 2 {
			e.digits = append(e.digits, b)
		}
	case StateFrameOpen:
		e.content(b)
	}

	return Step{}
}

// Expire flushes the in-flight transmission when the inactivity alarm fires.
// It returns false when the engine is idle and holds no text.
func (e *Engine) Expire() (Event, bool) {
	if e.state == StateIdle && e.buf.Len() == 0 {
		return Event{}, false
	}

	ev := Event{Kind: EventTimeout, Text: e.buf.String(), Frames: e.frames, At: time.Now()}
	e.logger.Warn("astm: transmission timed out", "state", e.state.String(), "frames", ev.Frames, "size", len(ev.Text))
	e.metrics.incTimeoutCount()
	e.reset()

	return ev, true
}

func (e *Engine) content(b byte) {
	e.sum += b
	e.buf.WriteByte(b)
}

func (e *Engine) frameNumber(fn int) {
	if fn == e.expected {
		return
	}

	e.metrics.incFrameNumberMismatchCount()
	if e.cfg.strictFrameNumbers {
		e.rejectErr = fmt.Errorf("%w: expected %d, received %d", ErrFrameNumberMismatch, e.expected, fn)
		return
	}

	e.logger.Warn("astm: frame number mismatch", "expected", e.expected, "received", fn)
}

func (e *Engine) validateFrame() Step {
	if e.rejectErr != nil {
		err := e.rejectErr
		e.logger.Warn("astm: frame rejected", "error", err)
		e.reset()

		return e.nak(err)
	}

	if len(e.digits) < 2 {
		err := fmt.Errorf("%w: %d digit(s) received", ErrMalformedChecksum, len(e.digits))
		return e.checksumFailure(err)
	}

	want, err := ParseChecksum(e.digits)
	if err != nil {
		return e.checksumFailure(err)
	}
	if want != e.frameSum {
		return e.checksumFailure(fmt.Errorf("%w: computed %s, received %s",
			ErrChecksumMismatch, FormatChecksum(e.frameSum), FormatChecksum(want)))
	}

	e.frames++
	e.metrics.incFrameCount()
	if e.term == ETB || e.cfg.strictFrameNumbers {
		e.expected = (e.expected + 1) % 8
	}
	e.logger.Debug("astm: frame accepted", "frames", e.frames, "final", e.term == ETX)

	e.state = StateReceiving
	e.term = NUL
	e.digits = e.digits[:0]

	return e.ack()
}

// acceptUnchecked keeps a frame whose checksum line was abandoned.
func (e *Engine) acceptUnchecked() {
	e.frames++
	e.metrics.incFrameCount()
	if e.unchecked == ETB || e.cfg.strictFrameNumbers {
		e.expected = (e.expected + 1) % 8
	}
	e.unchecked = NUL
}

func (e *Engine) checksumFailure(err error) Step {
	e.metrics.incChecksumErrorCount()
	e.logger.Warn("astm: checksum validation failed", "error", err)
	e.reset()

	return e.nak(err)
}

func (e *Engine) endOfTransmission() Step {
	acked := false

	switch e.state {
	case StateAwaitingChecksum:
		if step := e.validateFrame(); step.Response == NAK {
			return step
		}
		acked = true
	case StateReceiving:
		if e.unchecked != NUL {
			e.acceptUnchecked()
		}
	case StateFrameOpen:
		e.logger.Warn("astm: transmission ended inside an open frame")
	}

	text := e.buf.String()
	frames := e.frames
	e.reset()

	// one ACK answers both the pending frame and the EOT
	step := Step{Response: ACK}
	if !acked {
		e.metrics.incAckCount()
	}
	if text != "" {
		e.metrics.incMessageCount()
		step.Event = Event{Kind: EventMessage, Text: text, Frames: frames, At: time.Now()}
		e.logger.Debug("astm: transmission complete", "frames", frames, "size", len(text))
	}

	return step
}

func (e *Engine) reset() {
	e.state = StateIdle
	e.expectDigit = false
	e.expected = 1
	e.sum = 0
	e.frameSum = 0
	e.term = NUL
	e.digits = e.digits[:0]
	e.rejectErr = nil
	e.unchecked = NUL
	e.frames = 0
	e.buf.Reset()
}

func (e *Engine) ack() Step {
	e.metrics.incAckCount()
	return Step{Response: ACK}
}

func (e *Engine) nak(err error) Step {
	e.metrics.incNakCount()
	return Step{Response: NAK, Err: err}
}
