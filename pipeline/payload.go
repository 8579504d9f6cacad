package pipeline

import (
	"time"

	"github.com/arloliu/go-lis/message"
)

// Payload is the delivery body built from one parsed message.
type Payload struct {
	Instrument string           `json:"instrument"`
	Link       string           `json:"link"`
	Protocol   message.Protocol `json:"protocol"`
	ReceivedAt time.Time        `json:"receivedAt"`
	SampleID   string           `json:"sampleId,omitempty"`
	Results    []message.Result `json:"results"`
	// Partial marks a transmission flushed by the inactivity alarm before EOT.
	Partial bool `json:"partial,omitempty"`
}

func newPayload(instrument, link string, doc *message.ParsedDocument, at time.Time, partial bool) Payload {
	results := doc.Results
	if results == nil {
		results = []message.Result{}
	}

	return Payload{
		Instrument: instrument,
		Link:       link,
		Protocol:   doc.Protocol,
		ReceivedAt: at.UTC(),
		SampleID:   doc.SampleID,
		Results:    results,
		Partial:    partial,
	}
}
