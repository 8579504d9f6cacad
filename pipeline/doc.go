// Package pipeline connects instrument streams to the delivery queue.
//
// Every connection served by a Pipeline becomes a link with its own protocol state:
//
//   - ModeASTM: an astm.Receiver drives the ENQ/ACK/NAK handshake; completed and
//     timed-out transmissions are parsed.
//   - ModeHL7: MLLP framed messages are parsed and answered with an HL7 ACK, or an
//     AE acknowledgement when the message cannot be parsed.
//   - ModeDelimited: bytes are buffered until EOT (or a configured delimiter) and the
//     buffer is parsed as a whole.
//
// Parsed documents are turned into a Payload and handed to a Sink, normally a
// *delivery.Queue.
package pipeline
