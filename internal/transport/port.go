// Package transport drives the serial request/response loop (§4.6, §5):
// the sync handshake, the per-session read/dispatch/write cycle, and
// recovery back to sync on any framing violation. The concrete serial
// device — enumeration, baud/RTS-CTS configuration, platform latency
// tuning — is explicitly out of scope (spec.md §1) and is represented only
// by the Port interface below; wiring a real device (e.g. go.bug.st/serial)
// is left to the caller, the same way spec.md treats USB/serial
// enumeration as an external collaborator.
package transport

import "io"

// Port is the minimal device contract the transport loop needs. A real
// implementation wraps a platform serial device; tests use an in-memory
// fake that reads from a bytes.Reader and writes to a bytes.Buffer (see
// fakeport_test.go).
type Port interface {
	io.ReadWriteCloser

	// SetDTR/SetRTS are no-ops on most fake/test ports; a real adapter
	// wires them to the underlying device's modem-control lines.
	SetDTR(on bool) error
	SetRTS(on bool) error
}

// AvailableReader is an optional capability a Port can implement: a
// non-blocking check for inbound bytes. The transport loop uses it to
// detect "the BBC pressed BREAK" — an inbound byte arriving while a
// response is being written — per §4.6 and §5's cancellation semantics.
// A Port that doesn't implement it simply never triggers that abort path;
// spec.md §1 places platform-specific I/O polling out of scope, so this
// is the seam a real adapter hooks into.
type AvailableReader interface {
	Available() (int, error)
}
