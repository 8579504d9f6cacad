// Package mllp implements the Minimal Lower Layer Protocol framing used to carry HL7
// messages over byte streams: VT <message> FS CR.
package mllp

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Framing characters.
const (
	StartBlock   byte = 0x0B
	EndBlock     byte = 0x1C
	CarriageRet  byte = 0x0D
	DefaultLimit      = 1 << 20
)

var (
	// ErrMessageTooLarge indicates a message exceeding the reader limit.
	ErrMessageTooLarge = errors.New("mllp: message too large")
	// ErrTruncated indicates the stream ended inside a message.
	ErrTruncated = errors.New("mllp: truncated message")
)

// Reader reads MLLP framed messages. Bytes outside a start/end block pair are discarded.
type Reader struct {
	r     *bufio.Reader
	limit int
}

// NewReader creates a Reader limiting messages to limit bytes; limit <= 0 selects DefaultLimit.
func NewReader(r io.Reader, limit int) *Reader {
	if limit <= 0 {
		limit = DefaultLimit
	}

	return &Reader{r: bufio.NewReader(r), limit: limit}
}

// ReadMessage returns the next message without framing characters.
// It returns io.EOF when the stream ends between messages.
func (r *Reader) ReadMessage() ([]byte, error) {
	// skip to the start block
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == StartBlock {
			break
		}
	}

	var buf bytes.Buffer
	for {
		b, err := r.r.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w after %d bytes", ErrTruncated, buf.Len())
			}

			return nil, err
		}

		switch b {
		case EndBlock:
			// the CR trailing the end block is optional in practice
			if next, err := r.r.Peek(1); err == nil && next[0] == CarriageRet {
				_, _ = r.r.ReadByte()
			}

			return buf.Bytes(), nil
		case StartBlock:
			// a new start block abandons the unterminated message
			buf.Reset()
			continue
		}

		if buf.Len() >= r.limit {
			return nil, fmt.Errorf("%w: limit %d", ErrMessageTooLarge, r.limit)
		}
		buf.WriteByte(b)
	}
}

// Encode wraps msg in MLLP framing.
func Encode(msg []byte) []byte {
	out := make([]byte, 0, len(msg)+3)
	out = append(out, StartBlock)
	out = append(out, msg...)

	return append(out, EndBlock, CarriageRet)
}

// WriteMessage writes msg to w with MLLP framing.
func WriteMessage(w io.Writer, msg []byte) error {
	_, err := w.Write(Encode(msg))
	return err
}
