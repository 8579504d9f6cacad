package message

import (
	"fmt"
	"strings"
	"time"
)

// AckCode is the MSA-1 acknowledgment code.
type AckCode string

const (
	// AckAccept acknowledges a message that was accepted.
	AckAccept AckCode = "AA"
	// AckError rejects a message that could not be processed.
	AckError AckCode = "AE"
	// AckReject rejects a message the receiver refuses.
	AckReject AckCode = "AR"
)

const hl7Timestamp = "20060102150405"

// BuildHL7Ack builds the original-mode acknowledgment of an HL7 message: an MSH segment
// with sender and receiver swapped and an MSA segment echoing the message control id.
// text is placed in MSA-3 when not empty. Segments are CR terminated.
func BuildHL7Ack(original string, code AckCode, text string, now time.Time) (string, error) {
	var msh *Segment
	for _, seg := range SplitSegments(original) {
		if seg.Type == "MSH" {
			msh = &seg
			break
		}
	}
	if msh == nil || len(msh.Fields) < 10 {
		return "", fmt.Errorf("%w: missing or short MSH segment", ErrUnrecognized)
	}

	encoding := msh.Field(2)
	if encoding == "" {
		encoding = `^~\&`
	}
	controlID := msh.Field(10)

	trigger := msh.Component(9, 2)
	msgType := "ACK"
	if trigger != "" {
		msgType += "^" + trigger
	}

	processingID := msh.Field(11)
	if processingID == "" {
		processingID = "P"
	}

	var b strings.Builder
	fields := []string{
		"MSH", encoding,
		msh.Field(5), msh.Field(6), // receiving application and facility become the sender
		msh.Field(3), msh.Field(4),
		now.Format(hl7Timestamp), "",
		msgType, "ACK" + controlID, processingID, msh.Field(12),
	}
	b.WriteString(strings.Join(fields, "|"))
	b.WriteByte('\r')

	b.WriteString("MSA|" + string(code) + "|" + controlID)
	if text != "" {
		b.WriteString("|" + strings.ReplaceAll(text, "|", " "))
	}
	b.WriteByte('\r')

	return b.String(), nil
}
