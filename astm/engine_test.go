package astm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_SingleFrameMessage(t *testing.T) {
	e := newTestEngine(t)
	payload := "H|\\^&\rR|1||^WESTERGREN|15|mm/hr|0-15|N\rL|1|F\r"

	data := concat([]byte{ENQ}, streamFrame(t, 1, payload, true), []byte{EOT})
	responses, events, errs := feedAll(e, data)

	assert.Equal(t, []byte{ACK, ACK, ACK}, responses)
	assert.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, EventMessage, events[0].Kind)
	assert.Equal(t, payload, events[0].Text)
	assert.Equal(t, 1, events[0].Frames)
	assert.Equal(t, StateIdle, e.State())

	m := e.Metrics()
	assert.EqualValues(t, 1, m.MessageCount.Load())
	assert.EqualValues(t, 1, m.FrameCount.Load())
	assert.EqualValues(t, 3, m.AckCount.Load())
	assert.Zero(t, m.NakCount.Load())
}

func TestEngine_BadChecksumNAK(t *testing.T) {
	e := newTestEngine(t)

	frame := streamFrame(t, 1, "ABC\r", true)
	// frame ends with <c1><c2> CR LF; corrupt the checksum digits
	frame[len(frame)-4] = '0'
	frame[len(frame)-3] = '0'

	var responses []byte
	var nakErr error
	for _, b := range concat([]byte{ENQ}, frame) {
		step := e.Feed(b)
		if step.HasResponse() {
			responses = append(responses, step.Response)
		}
		if b == LF {
			nakErr = step.Err
		}
		assert.False(t, step.HasEvent())
	}

	assert.Equal(t, []byte{ACK, NAK}, responses)
	require.ErrorIs(t, nakErr, ErrChecksumMismatch)
	assert.Equal(t, StateIdle, e.State())

	// the discarded message is not delivered by the following EOT
	step := e.Feed(EOT)
	assert.Equal(t, ACK, step.Response)
	assert.False(t, step.HasEvent())
	assert.EqualValues(t, 1, e.Metrics().ChecksumErrorCount.Load())
}

func TestEngine_LenientFrameNumber(t *testing.T) {
	e := newTestEngine(t)

	data := concat([]byte{ENQ}, streamFrame(t, 3, "P|1\r", true), []byte{EOT})
	responses, events, errs := feedAll(e, data)

	assert.Equal(t, []byte{ACK, ACK, ACK}, responses)
	assert.Empty(t, errs)
	require.Len(t, events, 1)
	assert.Equal(t, "P|1\r", events[0].Text)
	assert.EqualValues(t, 1, e.Metrics().FrameNumberMismatchCount.Load())
}

func TestEngine_StrictFrameNumber(t *testing.T) {
	e := newTestEngine(t, WithStrictFrameNumbers(true))

	data := concat([]byte{ENQ}, streamFrame(t, 3, "P|1\r", true), []byte{EOT})
	responses, events, errs := feedAll(e, data)

	assert.Equal(t, []byte{ACK, NAK, ACK}, responses)
	assert.Empty(t, events)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], ErrFrameNumberMismatch)
}

func TestEngine_StrictAcceptsSequentialRecords(t *testing.T) {
	e := newTestEngine(t, WithStrictFrameNumbers(true))

	frames, err := EncodeMessage([]string{"H|\\^&", "P|1", "O|1|S1", "R|1||^GLU|5", "L|1|N"}, StreamPolicy)
	require.NoError(t, err)

	responses, events, errs := feedAll(e, Transmission(frames))
	assert.Empty(t, errs)
	assert.Equal(t, []byte{ACK, ACK, ACK, ACK, ACK, ACK, ACK}, responses)
	require.Len(t, events, 1)
	assert.Equal(t, 5, events[0].Frames)
}

func TestEngine_MultiFrameETB(t *testing.T) {
	e := newTestEngine(t)

	long := "R|1||^GLU|" + strings.Repeat("7", 400)
	frames, err := EncodeMessage([]string{"H|\\^&", long, "L|1|N"}, StreamPolicy)
	require.NoError(t, err)
	require.Len(t, frames, 4)

	responses, events, errs := feedAll(e, Transmission(frames))
	assert.Empty(t, errs)
	assert.Len(t, responses, 6)
	require.Len(t, events, 1)
	assert.Equal(t, "H|\\^&\r"+long+"\rL|1|N\r", events[0].Text)
	assert.Equal(t, 4, events[0].Frames)
	assert.Zero(t, e.Metrics().NakCount.Load())
}

func TestEngine_ENQResetsInFlight(t *testing.T) {
	e := newTestEngine(t)

	_, _, _ = feedAll(e, concat([]byte{ENQ}, streamFrame(t, 1, "stale\r", true)))
	require.Equal(t, len("stale\r"), e.Pending())

	data := concat([]byte{ENQ}, streamFrame(t, 1, "fresh\r", true), []byte{EOT})
	_, events, _ := feedAll(e, data)
	require.Len(t, events, 1)
	assert.Equal(t, "fresh\r", events[0].Text)
}

func TestEngine_EOTWithPendingChecksum(t *testing.T) {
	e := newTestEngine(t)

	frame := streamFrame(t, 1, "ABC\r", true)
	// drop CR LF after the checksum, EOT validates the pending frame
	frame = frame[:len(frame)-2]

	responses, events, _ := feedAll(e, concat([]byte{ENQ}, frame, []byte{EOT}))
	assert.Equal(t, []byte{ACK, ACK}, responses)
	require.Len(t, events, 1)
	assert.Equal(t, "ABC\r", events[0].Text)
	// one ACK answers both the pending frame and the EOT
	assert.EqualValues(t, 2, e.Metrics().AckCount.Load())
	assert.EqualValues(t, 1, e.Metrics().FrameCount.Load())

	bad := streamFrame(t, 1, "ABC\r", true)
	bad = bad[:len(bad)-2]
	bad[len(bad)-1] = '0'
	bad[len(bad)-2] = '0'

	responses, events, errs := feedAll(e, concat([]byte{ENQ}, bad, []byte{EOT}))
	assert.Equal(t, []byte{ACK, NAK}, responses)
	assert.Empty(t, events)
	require.Len(t, errs, 1)
}

func TestEngine_MissingChecksumDigits(t *testing.T) {
	e := newTestEngine(t)

	data := []byte{ENQ, STX, '1', 'x', ETX, 'A', CR, LF}
	responses, _, errs := feedAll(e, data)

	assert.Equal(t, []byte{ACK, NAK}, responses)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], ErrMalformedChecksum)
}

func TestEngine_NonHexChecksumAcknowledgedAtLF(t *testing.T) {
	e := newTestEngine(t)

	data := []byte{ENQ, STX, '1', 'x', ETB, 'Z', 'Z', CR, LF}
	responses, _, errs := feedAll(e, data)

	// the frame is kept unvalidated and the sender gets its reply
	assert.Equal(t, []byte{ACK, ACK}, responses)
	assert.Empty(t, errs)
	assert.Equal(t, StateReceiving, e.State())
	assert.EqualValues(t, 1, e.Metrics().FrameCount.Load())

	responses, events, _ := feedAll(e, concat(streamFrame(t, 2, "y\r", true), []byte{EOT}))
	assert.Equal(t, []byte{ACK, ACK}, responses)
	require.Len(t, events, 1)
	assert.Equal(t, "xy\r", events[0].Text)
	assert.Equal(t, 2, events[0].Frames)
}

func TestEngine_NonHexChecksumThenEOT(t *testing.T) {
	e := newTestEngine(t)

	responses, events, _ := feedAll(e, []byte{ENQ, STX, '1', 'x', ETX, 'Z', EOT})
	assert.Equal(t, []byte{ACK, ACK}, responses)
	require.Len(t, events, 1)
	assert.Equal(t, "x", events[0].Text)
	assert.Equal(t, 1, events[0].Frames)
}

func TestEngine_NoiseOutsideFrameIgnored(t *testing.T) {
	e := newTestEngine(t)

	data := concat([]byte{ENQ, 'n', 'o', 'i', 's', 'e', LF}, streamFrame(t, 1, "ok\r", true), []byte{'#', EOT})
	_, events, _ := feedAll(e, data)

	require.Len(t, events, 1)
	assert.Equal(t, "ok\r", events[0].Text)
}

func TestEngine_FrameWithoutNumber(t *testing.T) {
	e := newTestEngine(t)

	// a frame starting with a letter carries no frame number; the letter is content
	text := "H|\\^&\r"
	frame := concat([]byte{STX}, []byte(text), []byte{ETX})
	frame = append(frame, FormatChecksum(Checksum(concat([]byte(text), []byte{ETX})))...)
	frame = append(frame, CR, LF)

	responses, events, _ := feedAll(e, concat([]byte{ENQ}, frame, []byte{EOT}))
	assert.Equal(t, []byte{ACK, ACK, ACK}, responses)
	require.Len(t, events, 1)
	assert.Equal(t, text, events[0].Text)
}

func TestEngine_Expire(t *testing.T) {
	e := newTestEngine(t)

	_, ok := e.Expire()
	assert.False(t, ok, "idle engine has nothing to flush")

	_, _, _ = feedAll(e, concat([]byte{ENQ}, streamFrame(t, 1, "O|1|S1\r", true), []byte{STX, '2', 'R', '|'}))

	ev, ok := e.Expire()
	require.True(t, ok)
	assert.Equal(t, EventTimeout, ev.Kind)
	assert.Equal(t, "O|1|S1\rR|", ev.Text)
	assert.Equal(t, 1, ev.Frames)
	assert.Equal(t, StateIdle, e.State())
	assert.EqualValues(t, 1, e.Metrics().TimeoutCount.Load())

	_, ok = e.Expire()
	assert.False(t, ok)
}

func TestEngine_ZeroLengthEOT(t *testing.T) {
	e := newTestEngine(t)

	responses, events, _ := feedAll(e, []byte{ENQ, EOT})
	assert.Equal(t, []byte{ACK, ACK}, responses)
	assert.Empty(t, events)
}

func TestNewEngine_InvalidOptions(t *testing.T) {
	_, err := NewEngine(WithAlarmTimeout(0))
	require.Error(t, err)

	_, err = NewEngine(WithEventQueueSize(0))
	require.Error(t, err)

	_, err = NewEngine(WithLogger(nil))
	require.Error(t, err)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "awaiting-checksum", StateAwaitingChecksum.String())
	assert.Equal(t, "timeout", EventTimeout.String())
	assert.Equal(t, "stream", StreamPolicy.String())
}

func TestEngine_CRBetweenFramesDropped(t *testing.T) {
	e := newTestEngine(t)

	data := concat([]byte{ENQ}, streamFrame(t, 1, "a", false), []byte{CR}, streamFrame(t, 2, "b\r", true), []byte{EOT})
	responses, events, _ := feedAll(e, data)

	assert.Equal(t, []byte{ACK, ACK, ACK, ACK}, responses)
	require.Len(t, events, 1)
	assert.Equal(t, "ab\r", events[0].Text)
}
