package message

import (
	"fmt"
	"strings"
)

const (
	mllpStartBlock byte = 0x0B
	mllpEndBlock   byte = 0x1C
)

// Segment is one HL7 v2 segment.
type Segment struct {
	Type string `json:"type"`
	// Fields holds the raw pipe-delimited fields; Fields[0] is the segment type.
	Fields []string `json:"fields"`
}

// Field returns the HL7 numbered field n (PID-3 is Field(3)), or "" when absent.
// In MSH the field separator itself is MSH-1, so MSH-2 is the encoding characters.
func (s Segment) Field(n int) string {
	if s.Type == "MSH" {
		if n == 1 {
			return "|"
		}

		return at(s.Fields, n-1)
	}

	return at(s.Fields, n)
}

// Component returns component c (1-based) of field n.
func (s Segment) Component(n, c int) string {
	if c < 1 {
		return ""
	}

	return component(s.Field(n), "^", c-1)
}

// StripMLLP removes the MLLP start and end block characters and the CR trailing the
// end block.
func StripMLLP(text string) string {
	if i := strings.IndexByte(text, mllpStartBlock); i >= 0 {
		text = text[i+1:]
	}
	if i := strings.IndexByte(text, mllpEndBlock); i >= 0 {
		text = text[:i]
	}

	return text
}

// SplitSegments splits an HL7 message into segments, stripping MLLP framing.
func SplitSegments(text string) []Segment {
	lines := splitLines(StripMLLP(text))
	segments := make([]Segment, 0, len(lines))

	for _, line := range lines {
		fields := strings.Split(strings.TrimSpace(line), "|")
		segments = append(segments, Segment{Type: strings.TrimSpace(fields[0]), Fields: fields})
	}

	return segments
}

// ParseHL7 parses an HL7 v2 message.
func (p *Parser) ParseHL7(text string) (*ParsedDocument, error) {
	doc := &ParsedDocument{
		Protocol: ProtocolHL7,
		Segments: SplitSegments(text),
		Results:  []Result{},
	}

	hasOBR := false
	hasOBX := false

	for _, seg := range doc.Segments {
		switch seg.Type {
		case "OBR":
			if !hasOBR {
				doc.SampleID = p.sampleID(seg)
			}
			hasOBR = true
		case "OBX":
			hasOBX = true
			if res, ok := p.observation(seg); ok {
				doc.Results = append(doc.Results, res)
			}
		}
	}

	if !hasOBR && !hasOBX {
		return nil, fmt.Errorf("%w: no OBR or OBX segment in HL7 message", ErrNoResults)
	}

	return doc, nil
}

// ParseHL7 parses text with a Parser using the default logger.
func ParseHL7(text string) (*ParsedDocument, error) {
	return NewParser(nil).ParseHL7(text)
}

// sampleID takes OBR-4, falling back to the filler (OBR-3) and placer (OBR-2) order numbers.
func (p *Parser) sampleID(obr Segment) string {
	for _, n := range []int{4, 3, 2} {
		if id := obr.Component(n, 1); id != "" {
			return id
		}
	}

	return ""
}

func (p *Parser) observation(obx Segment) (res Result, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("message: dropping malformed OBX segment", "panic", r)
			ok = false
		}
	}()

	return Result{
		TestCode:       obx.Component(3, 1),
		Value:          obx.Field(5),
		Unit:           obx.Field(6),
		ReferenceRange: obx.Field(7),
		Flag:           obx.Field(8),
		Status:         obx.Field(11),
		ValueType:      obx.Field(2),
		CompletedAt:    obx.Field(14),
	}, true
}
