package message

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	stx byte = 0x02
	enq byte = 0x05
)

var (
	astmRecordStart = regexp.MustCompile(`^\d*[A-Z]\|`)
	// frame trailer: ETX/ETB, checksum digits and the CR LF line end
	astmFrameTrailer = regexp.MustCompile("[\x03\x17][0-9A-Fa-f]{2}\r?\n?")
	// frame header: STX and the frame number digit
	astmFrameHeader = regexp.MustCompile("\x02[0-7]?")
	astmControls    = strings.NewReplacer("\x03", "", "\x17", "", "\x04", "", "\x05", "", "\x02", "")
)

// RecordType is the ASTM E1394 record type letter.
type RecordType string

const (
	RecordHeader     RecordType = "H"
	RecordPatient    RecordType = "P"
	RecordOrder      RecordType = "O"
	RecordResult     RecordType = "R"
	RecordComment    RecordType = "C"
	RecordQuery      RecordType = "Q"
	RecordTerminator RecordType = "L"
)

// Record is one ASTM record.
type Record interface {
	Type() RecordType
	// Fields returns the raw pipe-delimited fields, the type field included.
	Fields() []string
}

type rawRecord struct {
	RecordType RecordType `json:"type"`
	fields     []string
}

func (r rawRecord) Fields() []string { return r.fields }

// HeaderRecord identifies the sender of the message.
type HeaderRecord struct {
	rawRecord
	Delimiters   string `json:"delimiters"`
	MessageID    string `json:"messageId,omitempty"`
	Sender       string `json:"sender"`
	ReceiverID   string `json:"receiverId,omitempty"`
	ProcessingID string `json:"processingId,omitempty"`
	Version      string `json:"version,omitempty"`
	Timestamp    string `json:"timestamp,omitempty"`
}

func (*HeaderRecord) Type() RecordType { return RecordHeader }

// PatientRecord carries patient identity.
type PatientRecord struct {
	rawRecord
	Seq        string `json:"seq"`
	PracticeID string `json:"practiceId,omitempty"`
	LabID      string `json:"labId,omitempty"`
	Name       string `json:"name,omitempty"`
	BirthDate  string `json:"birthDate,omitempty"`
	Sex        string `json:"sex,omitempty"`
}

func (*PatientRecord) Type() RecordType { return RecordPatient }

// OrderRecord carries the specimen and the ordered test.
type OrderRecord struct {
	rawRecord
	Seq                  string `json:"seq"`
	SpecimenID           string `json:"specimenId,omitempty"`
	InstrumentSpecimenID string `json:"instrumentSpecimenId,omitempty"`
	TestID               string `json:"testId,omitempty"`
	Priority             string `json:"priority,omitempty"`
	RequestedAt          string `json:"requestedAt,omitempty"`
}

func (*OrderRecord) Type() RecordType { return RecordOrder }

// ResultRecord carries one measurement.
type ResultRecord struct {
	rawRecord
	Seq            string `json:"seq"`
	TestID         string `json:"testId"`
	Value          string `json:"value"`
	Unit           string `json:"unit,omitempty"`
	ReferenceRange string `json:"referenceRange,omitempty"`
	Flag           string `json:"flag,omitempty"`
	Status         string `json:"status,omitempty"`
	Operator       string `json:"operator,omitempty"`
	StartedAt      string `json:"startedAt,omitempty"`
	CompletedAt    string `json:"completedAt,omitempty"`
}

func (*ResultRecord) Type() RecordType { return RecordResult }

// TestCode returns the last non-empty component of the universal test id
// ("^^^GLU" is GLU).
func (r *ResultRecord) TestCode() string {
	return lastComponent(r.TestID, "^")
}

// CommentRecord carries free text attached to the preceding record.
type CommentRecord struct {
	rawRecord
	Seq    string `json:"seq"`
	Source string `json:"source,omitempty"`
	Text   string `json:"text,omitempty"`
	Kind   string `json:"kind,omitempty"`
}

func (*CommentRecord) Type() RecordType { return RecordComment }

// QueryRecord is a host query sent by an instrument.
type QueryRecord struct {
	rawRecord
	Seq        string `json:"seq"`
	StartRange string `json:"startRange,omitempty"`
	EndRange   string `json:"endRange,omitempty"`
	TestID     string `json:"testId,omitempty"`
}

func (*QueryRecord) Type() RecordType { return RecordQuery }

// TerminatorRecord ends the message.
type TerminatorRecord struct {
	rawRecord
	Seq  string `json:"seq"`
	Code string `json:"code,omitempty"`
}

func (*TerminatorRecord) Type() RecordType { return RecordTerminator }

// CleanASTM removes transport markup from an ASTM buffer: frame numbers after STX,
// frame trailers (ETX/ETB, checksum, CR LF) and the remaining control characters.
func CleanASTM(text string) string {
	text = astmFrameTrailer.ReplaceAllString(text, "")
	text = astmFrameHeader.ReplaceAllString(text, "")

	return astmControls.Replace(text)
}

// ParseASTM parses an ASTM E1394 message.
func (p *Parser) ParseASTM(text string) (*ParsedDocument, error) {
	doc := &ParsedDocument{Protocol: ProtocolASTM, Results: []Result{}}

	var (
		order    *OrderRecord
		patient  *PatientRecord
		hasOrder bool
		hasRes   bool
	)

	for _, line := range splitLines(CleanASTM(text)) {
		fields := strings.Split(line, "|")
		typ, ok := recordType(fields[0])
		if !ok {
			p.logger.Warn("message: skipping unknown ASTM record", "record", truncate(line, 32))
			continue
		}

		rec := p.buildRecord(typ, fields)
		if rec == nil {
			continue
		}
		doc.Records = append(doc.Records, rec)

		switch r := rec.(type) {
		case *PatientRecord:
			if patient == nil {
				patient = r
			}
		case *OrderRecord:
			hasOrder = true
			if order == nil {
				order = r
			}
		case *ResultRecord:
			hasRes = true
			doc.Results = append(doc.Results, Result{
				TestCode:       r.TestCode(),
				Value:          r.Value,
				Unit:           r.Unit,
				ReferenceRange: r.ReferenceRange,
				Flag:           r.Flag,
				Status:         r.Status,
				CompletedAt:    r.CompletedAt,
			})
		}
	}

	if !hasOrder && !hasRes {
		return nil, fmt.Errorf("%w: no O or R record in ASTM message", ErrNoResults)
	}

	switch {
	case order != nil && order.SpecimenID != "":
		doc.SampleID = component(order.SpecimenID, "^", 0)
	case patient != nil && patient.PracticeID != "":
		doc.SampleID = patient.PracticeID
	}

	return doc, nil
}

// ParseASTM parses text with a Parser using the default logger.
func ParseASTM(text string) (*ParsedDocument, error) {
	return NewParser(nil).ParseASTM(text)
}

// buildRecord maps fields to a typed record. A fault while building yields nil.
func (p *Parser) buildRecord(typ RecordType, fields []string) (rec Record) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("message: dropping malformed ASTM record", "type", string(typ), "panic", r)
			rec = nil
		}
	}()

	raw := rawRecord{RecordType: typ, fields: fields}

	switch typ {
	case RecordHeader:
		return &HeaderRecord{
			rawRecord:    raw,
			Delimiters:   at(fields, 1),
			MessageID:    at(fields, 2),
			Sender:       at(fields, 4),
			ReceiverID:   at(fields, 9),
			ProcessingID: at(fields, 11),
			Version:      at(fields, 12),
			Timestamp:    at(fields, 13),
		}
	case RecordPatient:
		return &PatientRecord{
			rawRecord:  raw,
			Seq:        at(fields, 1),
			PracticeID: at(fields, 2),
			LabID:      at(fields, 3),
			Name:       at(fields, 4),
			BirthDate:  at(fields, 6),
			Sex:        at(fields, 7),
		}
	case RecordOrder:
		return &OrderRecord{
			rawRecord:            raw,
			Seq:                  at(fields, 1),
			SpecimenID:           at(fields, 2),
			InstrumentSpecimenID: at(fields, 3),
			TestID:               at(fields, 4),
			Priority:             at(fields, 5),
			RequestedAt:          at(fields, 6),
		}
	case RecordResult:
		return &ResultRecord{
			rawRecord:      raw,
			Seq:            at(fields, 1),
			TestID:         at(fields, 3),
			Value:          at(fields, 4),
			Unit:           at(fields, 5),
			ReferenceRange: at(fields, 6),
			Flag:           at(fields, 7),
			Status:         at(fields, 9),
			Operator:       at(fields, 11),
			StartedAt:      at(fields, 12),
			CompletedAt:    at(fields, 13),
		}
	case RecordComment:
		return &CommentRecord{
			rawRecord: raw,
			Seq:       at(fields, 1),
			Source:    at(fields, 2),
			Text:      at(fields, 3),
			Kind:      at(fields, 4),
		}
	case RecordQuery:
		return &QueryRecord{
			rawRecord:  raw,
			Seq:        at(fields, 1),
			StartRange: at(fields, 2),
			EndRange:   at(fields, 3),
			TestID:     at(fields, 4),
		}
	case RecordTerminator:
		return &TerminatorRecord{
			rawRecord: raw,
			Seq:       at(fields, 1),
			Code:      at(fields, 2),
		}
	}

	return nil
}

// recordType extracts the record letter from the first field, dropping a leading
// sequence number ("1H" is H).
func recordType(first string) (RecordType, bool) {
	first = strings.TrimLeft(strings.TrimSpace(first), "0123456789")
	if len(first) != 1 {
		return "", false
	}

	switch typ := RecordType(first); typ {
	case RecordHeader, RecordPatient, RecordOrder, RecordResult,
		RecordComment, RecordQuery, RecordTerminator:
		return typ, true
	}

	return "", false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}

	return s[:n] + "..."
}
