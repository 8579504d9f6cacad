// Package astm implements the ASTM E1381 low-level protocol used by clinical
// laboratory analyzers to transfer ASTM E1394 records.
//
// # Protocol Overview
//
// A transmission is a half-duplex exchange driven by single-byte control characters:
//
//   - ENQ (0x05) opens a transmission, the receiver answers ACK
//   - STX (0x02) opens a frame, followed by the frame number digit (0-7, cyclic)
//   - ETB (0x17) closes an intermediate frame, ETX (0x03) the final frame
//   - two uppercase hex digits carry the frame checksum, followed by CR LF
//   - the receiver answers ACK (0x06) to a valid frame or NAK (0x15) to a corrupt one
//   - EOT (0x04) ends the transmission
//
// The payload of all frames, excluding frame numbers and checksum digits, forms the
// message text: a sequence of CR terminated records.
//
// # Checksums
//
// Two checksum inclusion policies are supported and kept apart on purpose:
// StreamChecksum, used by the Engine, skips the frame number digit after STX, while
// BufferChecksum, used by ValidateFrames on already assembled buffers, includes it.
// Both sum every byte up to and including ETX/ETB modulo 256.
//
// # Engine and Receiver
//
// Engine is a synchronous state machine: Feed consumes one byte and returns a Step
// carrying the optional response byte and the optional completed-message event.
// Receiver drives an Engine over an io.ReadWriter, writes the responses back to the
// wire, owns the inactivity alarm and publishes events on a channel.
package astm
