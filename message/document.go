package message

import (
	"errors"
	"strings"

	"github.com/arloliu/go-lis/logger"
)

var (
	// ErrUnrecognized indicates the text is neither ASTM nor HL7.
	ErrUnrecognized = errors.New("message: unrecognized protocol")
	// ErrNoResults indicates the message lacks order/result records or OBR/OBX segments.
	ErrNoResults = errors.New("message: no order or result structure")
)

// Protocol identifies the format of a message.
type Protocol string

const (
	ProtocolUnknown Protocol = ""
	ProtocolASTM    Protocol = "ASTM"
	ProtocolHL7     Protocol = "HL7"
)

// Result is the protocol-neutral projection of an ASTM R record or an HL7 OBX segment.
type Result struct {
	TestCode       string `json:"testCode"`
	Value          string `json:"value"`
	Unit           string `json:"unit"`
	ReferenceRange string `json:"referenceRange"`
	Flag           string `json:"flag"`
	Status         string `json:"status,omitempty"`
	ValueType      string `json:"valueType,omitempty"`
	CompletedAt    string `json:"completedAt,omitempty"`
}

// ParsedDocument is the normalized content of one message.
type ParsedDocument struct {
	Protocol Protocol `json:"protocol"`
	// Records is set for ASTM messages, in message order.
	Records []Record `json:"records,omitempty"`
	// Segments is set for HL7 messages, in message order.
	Segments []Segment `json:"segments,omitempty"`
	// SampleID is the specimen identifier, empty when the message carries none.
	SampleID string   `json:"sampleId,omitempty"`
	Results  []Result `json:"results"`
}

// Parser parses messages, logging skipped records and recovered faults.
// A Parser is stateless and safe for concurrent use.
type Parser struct {
	logger logger.Logger
}

// NewParser creates a Parser. A nil logger selects the default logger.
func NewParser(l logger.Logger) *Parser {
	if l == nil {
		l = logger.GetLogger()
	}

	return &Parser{logger: l}
}

// Parse detects the protocol of text and parses it.
func (p *Parser) Parse(text string) (*ParsedDocument, error) {
	switch Detect(text) {
	case ProtocolHL7:
		return p.ParseHL7(text)
	case ProtocolASTM:
		return p.ParseASTM(text)
	default:
		return nil, ErrUnrecognized
	}
}

// Parse parses text with a Parser using the default logger.
func Parse(text string) (*ParsedDocument, error) {
	return NewParser(nil).Parse(text)
}

// Detect classifies text as HL7, ASTM or unknown.
func Detect(text string) Protocol {
	if strings.ContainsAny(text, string([]byte{mllpStartBlock, mllpEndBlock})) {
		return ProtocolHL7
	}

	trimmed := strings.TrimLeft(text, " \t\r\n")
	if strings.HasPrefix(trimmed, "MSH") {
		return ProtocolHL7
	}

	if strings.HasPrefix(trimmed, string(stx)) || strings.HasPrefix(trimmed, string(enq)) {
		return ProtocolASTM
	}
	if astmRecordStart.MatchString(trimmed) {
		return ProtocolASTM
	}

	return ProtocolUnknown
}

// component returns the i-th component of a field split on sep, trimmed.
func component(field string, sep string, i int) string {
	parts := strings.Split(field, sep)
	if i >= len(parts) {
		return ""
	}

	return strings.TrimSpace(parts[i])
}

// lastComponent returns the last non-empty component of a field.
func lastComponent(field string, sep string) string {
	parts := strings.Split(field, sep)
	for i := len(parts) - 1; i >= 0; i-- {
		if p := strings.TrimSpace(parts[i]); p != "" {
			return p
		}
	}

	return ""
}

// at returns fields[i], trimmed, or an empty string when out of range.
func at(fields []string, i int) string {
	if i < 0 || i >= len(fields) {
		return ""
	}

	return strings.TrimSpace(fields[i])
}

// splitLines normalizes CRLF and LF line endings to CR and returns the non-blank lines.
func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\r")
	text = strings.ReplaceAll(text, "\n", "\r")

	lines := strings.Split(text, "\r")
	out := lines[:0]
	for _, line := range lines {
		if strings.TrimSpace(line) != "" {
			out = append(out, line)
		}
	}

	return out
}
