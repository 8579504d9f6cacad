package astm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChecksumPolicies(t *testing.T) {
	frame := []byte{STX, '1', 'A', 'B', 'C', CR, ETX, '0', '0', CR, LF}

	assert.Equal(t, byte(0xD6), StreamChecksum(frame))
	assert.Equal(t, byte(0x07), BufferChecksum(frame))

	// The two policies diverge on the same bytes by exactly the frame number digit.
	assert.Equal(t, StreamChecksum(frame)+'1', BufferChecksum(frame))

	assert.Equal(t, StreamChecksum(frame), StreamPolicy.Sum(frame))
	assert.Equal(t, BufferChecksum(frame), BufferPolicy.Sum(frame))
}

func TestChecksum_Idempotent(t *testing.T) {
	frame := []byte("\x021H|\\^&|||cobas\r\x03")

	first := StreamChecksum(frame)
	assert.Equal(t, first, StreamChecksum(frame))
	assert.Equal(t, BufferChecksum(frame), BufferChecksum(frame))
	assert.Equal(t, "61", FormatChecksum(BufferChecksum(frame)))
}

func TestChecksum_WithoutLeadingSTX(t *testing.T) {
	with := []byte{STX, '3', 'x', ETB}
	without := []byte{'3', 'x', ETB}

	assert.Equal(t, StreamChecksum(with), StreamChecksum(without))
	assert.Equal(t, BufferChecksum(with), BufferChecksum(without))
}

func TestParseChecksum(t *testing.T) {
	v, err := ParseChecksum([]byte("D6"))
	require.NoError(t, err)
	assert.Equal(t, byte(0xD6), v)

	v, err = ParseChecksum([]byte("0f"))
	require.NoError(t, err)
	assert.Equal(t, byte(0x0F), v)

	_, err = ParseChecksum([]byte("G1"))
	require.ErrorIs(t, err, ErrMalformedChecksum)

	_, err = ParseChecksum([]byte("1"))
	require.ErrorIs(t, err, ErrMalformedChecksum)
}

func TestFormatFrame(t *testing.T) {
	frame, err := FormatFrame(1, "ABC\r", true, StreamPolicy)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x021ABC\r\x03D6\r\n"), frame)

	frame, err = FormatFrame(1, "ABC\r", true, BufferPolicy)
	require.NoError(t, err)
	assert.Equal(t, []byte("\x021ABC\r\x0307\r\n"), frame)

	frame, err = FormatFrame(7, "part", false, StreamPolicy)
	require.NoError(t, err)
	assert.Equal(t, ETB, frame[len(frame)-5])

	_, err = FormatFrame(8, "x", true, StreamPolicy)
	require.ErrorIs(t, err, ErrInvalidFrameNumber)
}

func TestEncodeMessage_SplitsLongRecords(t *testing.T) {
	long := "R|1|^^^GLU|" + strings.Repeat("9", 300)
	frames, err := EncodeMessage([]string{"H|\\^&", long, "L|1|N"}, BufferPolicy)
	require.NoError(t, err)
	require.Len(t, frames, 4)

	assert.Equal(t, byte('1'), frames[0][1])
	assert.Equal(t, byte('2'), frames[1][1])
	assert.Equal(t, byte('3'), frames[2][1])
	assert.Equal(t, byte('4'), frames[3][1])

	assert.True(t, bytes.Contains(frames[1], []byte{ETB}), "first part of a long record is intermediate")
	assert.True(t, bytes.Contains(frames[2], []byte{ETX}))

	n, err := ValidateFrames(bytes.Join(frames, nil))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestEncodeMessage_FrameNumbersWrap(t *testing.T) {
	records := make([]string, 9)
	for i := range records {
		records[i] = "C|1"
	}

	frames, err := EncodeMessage(records, StreamPolicy)
	require.NoError(t, err)
	require.Len(t, frames, 9)
	assert.Equal(t, byte('7'), frames[6][1])
	assert.Equal(t, byte('0'), frames[7][1])
	assert.Equal(t, byte('1'), frames[8][1])
}

func TestValidateFrames(t *testing.T) {
	good, err := FormatFrame(1, "O|1|SAMP001\r", true, BufferPolicy)
	require.NoError(t, err)

	n, err := ValidateFrames(append([]byte{ENQ}, append(good, EOT)...))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	t.Run("stream policy frame fails buffer validation", func(t *testing.T) {
		streamFrame, err := FormatFrame(1, "O|1|SAMP001\r", true, StreamPolicy)
		require.NoError(t, err)

		_, err = ValidateFrames(streamFrame)
		require.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("no frame", func(t *testing.T) {
		_, err := ValidateFrames([]byte("H|\\^&\r"))
		require.ErrorIs(t, err, ErrNoFrame)
	})

	t.Run("unterminated", func(t *testing.T) {
		_, err := ValidateFrames(append(good, STX, '2', 'x'))
		require.ErrorIs(t, err, ErrNoFrame)
	})

	t.Run("truncated checksum", func(t *testing.T) {
		_, err := ValidateFrames([]byte{STX, '1', 'x', ETX, 'A'})
		require.ErrorIs(t, err, ErrMalformedChecksum)
	})
}
