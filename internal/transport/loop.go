package transport

import (
	"errors"
	"io"

	"github.com/beeblink/beeblinkd/internal/protocol"
)

// Dispatcher is the seam between the transport loop and request dispatch
// (Module I): given a decoded request, it returns the response frame to
// send back (ignored when fireAndForget is true). Implemented by
// dispatch.Table bound to one session.
type Dispatcher interface {
	Dispatch(code byte, payload []byte) (respCode byte, respPayload []byte, fireAndForget bool)
}

// Loop runs the synced request/response cycle over port until it returns
// an unrecoverable I/O error (the port closed or faulted). Framing
// violations (protocol.ErrResync) are recovered locally by re-entering
// Sync rather than returned to the caller (§4.6, §7 "recover from
// sync/framing errors locally").
func Loop(port Port, d Dispatcher) error {
	for {
		if err := Sync(port); err != nil {
			return err
		}
		if err := serveUntilResync(port, d); err != nil {
			if errors.Is(err, protocol.ErrResync) {
				continue
			}
			return err
		}
	}
}

// serveUntilResync processes requests in arrival order, writing responses
// in the same order, until a framing error demands resync or the port
// errors.
func serveUntilResync(port Port, d Dispatcher) error {
	for {
		code, payload, err := protocol.Decode(port)
		if err != nil {
			return err
		}

		respCode, respPayload, fireAndForget := d.Dispatch(code, payload)
		if fireAndForget {
			continue
		}

		if err := writeResponseWatchingForAbort(port, respCode, respPayload); err != nil {
			return err
		}
	}
}

// writeResponseWatchingForAbort writes the response frame, using the
// compact single-byte form whenever the payload allows it. If the Port
// supports AvailableReader, an inbound byte arriving mid-write is treated
// as a BREAK-triggered abort back to sync (§5 "Cancellation semantics").
func writeResponseWatchingForAbort(w io.Writer, code byte, payload []byte) error {
	if ar, ok := w.(AvailableReader); ok {
		if n, err := ar.Available(); err == nil && n > 0 {
			return protocol.ErrResync
		}
	}
	return protocol.Write(w, code, payload, true)
}
