package astm

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
)

// Control characters.
const (
	NUL byte = 0x00
	STX byte = 0x02
	ETX byte = 0x03
	EOT byte = 0x04
	ENQ byte = 0x05
	ACK byte = 0x06
	LF  byte = 0x0A
	CR  byte = 0x0D
	NAK byte = 0x15
	ETB byte = 0x17
)

// MaxFrameText is the largest record fragment carried by a single frame.
const MaxFrameText = 240

var (
	// ErrChecksumMismatch indicates the received checksum does not match the frame content.
	ErrChecksumMismatch = errors.New("astm: checksum mismatch")
	// ErrMalformedChecksum indicates the checksum field is not two hex digits.
	ErrMalformedChecksum = errors.New("astm: malformed checksum")
	// ErrFrameNumberMismatch indicates a frame number other than the expected one.
	ErrFrameNumberMismatch = errors.New("astm: frame number mismatch")
	// ErrNoFrame indicates the buffer does not contain a complete STX..ETX/ETB frame.
	ErrNoFrame = errors.New("astm: no frame")
	// ErrInvalidFrameNumber indicates a frame number outside 0-7.
	ErrInvalidFrameNumber = errors.New("astm: invalid frame number")
)

// ChecksumPolicy selects which bytes of a frame are summed.
type ChecksumPolicy int

const (
	// StreamPolicy skips the frame number digit following STX.
	StreamPolicy ChecksumPolicy = iota
	// BufferPolicy includes the frame number digit following STX.
	BufferPolicy
)

func (p ChecksumPolicy) String() string {
	switch p {
	case StreamPolicy:
		return "stream"
	case BufferPolicy:
		return "buffer"
	default:
		return fmt.Sprintf("ChecksumPolicy(%d)", int(p))
	}
}

// Sum computes the checksum of frame with the policy.
func (p ChecksumPolicy) Sum(frame []byte) byte {
	if p == BufferPolicy {
		return BufferChecksum(frame)
	}

	return StreamChecksum(frame)
}

// Checksum returns the sum of b modulo 256.
func Checksum(b []byte) byte {
	var sum byte
	for _, c := range b {
		sum += c
	}

	return sum
}

// StreamChecksum computes the checksum of a frame the way the Engine does:
// every byte after STX up to and including the first ETX/ETB, except the frame
// number digit immediately following STX. A leading STX is optional.
func StreamChecksum(frame []byte) byte {
	body := frameWindow(frame)
	if len(body) > 0 && isFrameDigit(body[0]) {
		body = body[1:]
	}

	return Checksum(body)
}

// BufferChecksum computes the checksum of a frame including the frame number digit:
// every byte after STX up to and including the first ETX/ETB.
func BufferChecksum(frame []byte) byte {
	return Checksum(frameWindow(frame))
}

// FormatChecksum renders sum as two uppercase hex digits.
func FormatChecksum(sum byte) string {
	return fmt.Sprintf("%02X", sum)
}

// ParseChecksum decodes two hex digits. Lowercase digits are accepted.
func ParseChecksum(hex []byte) (byte, error) {
	if len(hex) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedChecksum, hex)
	}

	hi, ok1 := hexValue(hex[0])
	lo, ok2 := hexValue(hex[1])
	if !ok1 || !ok2 {
		return 0, fmt.Errorf("%w: %q", ErrMalformedChecksum, hex)
	}

	return hi<<4 | lo, nil
}

// FormatFrame builds a frame: STX, frame number, text, ETX (final) or ETB, checksum, CR LF.
// The checksum is computed with policy. Final frames should end text with CR.
func FormatFrame(fn int, text string, final bool, policy ChecksumPolicy) ([]byte, error) {
	if fn < 0 || fn > 7 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidFrameNumber, fn)
	}

	term := ETB
	if final {
		term = ETX
	}

	buf := make([]byte, 0, len(text)+7)
	buf = append(buf, STX, byte('0'+fn))
	buf = append(buf, text...)
	buf = append(buf, term)
	buf = append(buf, FormatChecksum(policy.Sum(buf))...)
	buf = append(buf, CR, LF)

	return buf, nil
}

// EncodeMessage turns records into the frame sequence of one transmission. Every record
// is terminated by CR and records longer than MaxFrameText are split into intermediate
// ETB frames. Frame numbers start at 1 and wrap from 7 to 0.
func EncodeMessage(records []string, policy ChecksumPolicy) ([][]byte, error) {
	frames := make([][]byte, 0, len(records))
	fn := 1

	for _, rec := range records {
		text := strings.TrimRight(rec, "\r") + "\r"
		for len(text) > 0 {
			chunk := text
			final := true
			if len(chunk) > MaxFrameText {
				chunk = text[:MaxFrameText]
				final = false
			}

			frame, err := FormatFrame(fn, chunk, final, policy)
			if err != nil {
				return nil, err
			}
			frames = append(frames, frame)

			text = text[len(chunk):]
			fn = (fn + 1) % 8
		}
	}

	return frames, nil
}

// Transmission wraps frames with ENQ and EOT, producing the byte stream an
// instrument sends when it ignores the receiver's replies.
func Transmission(frames [][]byte) []byte {
	var buf bytes.Buffer
	buf.WriteByte(ENQ)
	for _, f := range frames {
		buf.Write(f)
	}
	buf.WriteByte(EOT)

	return buf.Bytes()
}

// ValidateFrames checks every STX..ETX/ETB frame in an assembled buffer with the
// buffer checksum policy. It returns the number of frames checked and the first error.
func ValidateFrames(buf []byte) (int, error) {
	count := 0
	rest := buf

	for {
		start := bytes.IndexByte(rest, STX)
		if start < 0 {
			break
		}
		rest = rest[start:]

		end := bytes.IndexAny(rest, string([]byte{ETX, ETB}))
		if end < 0 {
			return count, fmt.Errorf("%w: unterminated frame %d", ErrNoFrame, count+1)
		}
		count++

		if len(rest) < end+3 {
			return count, fmt.Errorf("%w: frame %d truncated", ErrMalformedChecksum, count)
		}

		want, err := ParseChecksum(rest[end+1 : end+3])
		if err != nil {
			return count, fmt.Errorf("frame %d: %w", count, err)
		}

		if got := BufferChecksum(rest[:end+1]); got != want {
			return count, fmt.Errorf("%w: frame %d computed %s, received %s",
				ErrChecksumMismatch, count, FormatChecksum(got), FormatChecksum(want))
		}

		rest = rest[end+3:]
	}

	if count == 0 {
		return 0, ErrNoFrame
	}

	return count, nil
}

// frameWindow returns the checksummed span: after a leading STX, through the first ETX/ETB.
func frameWindow(frame []byte) []byte {
	if len(frame) > 0 && frame[0] == STX {
		frame = frame[1:]
	}
	if end := bytes.IndexAny(frame, string([]byte{ETX, ETB})); end >= 0 {
		frame = frame[:end+1]
	}

	return frame
}

func isFrameDigit(b byte) bool {
	return b >= '0' && b <= '7'
}

func hexValue(b byte) (byte, bool) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', true
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, true
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, true
	default:
		return 0, false
	}
}
