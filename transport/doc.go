// Package transport opens the byte streams instruments talk over: serial lines
// through go.bug.st/serial, inbound TCP connections accepted by a Listener and
// outbound TCP connections made with DialTCP.
//
// Every stream is exposed as a Conn so link handlers do not care which physical
// medium carries the bytes.
package transport
