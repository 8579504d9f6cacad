// Package message turns a completed instrument message into a ParsedDocument.
//
// Parse auto-detects the protocol. HL7 is recognised by a leading MSH segment or by
// MLLP block characters; ASTM by a leading STX or a leading record type letter,
// optionally prefixed with a sequence number ("H|", "1H|"). ASTM text may still carry
// frame markup (frame numbers, checksums, control characters) when a transport hands
// over a raw buffer; it is removed before records are split.
//
// A message that cannot be classified yields ErrUnrecognized, one lacking the
// structural pieces that carry results (ASTM O/R records, HL7 OBR/OBX segments)
// yields ErrNoResults. A document with zero results is returned without error.
package message
