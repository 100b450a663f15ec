package transport

import (
	"io"

	"github.com/beeblink/beeblinkd/internal/protocol"
)

// Sync runs the handshake that (re-)aligns the byte stream between the
// server and the BBC (§4.6):
//
//  1. read until NumSerialSyncZeros consecutive 0x00 bytes have been seen;
//  2. write NumSerialSyncZeros zero bytes followed by a single 0x01;
//  3. discard further zero bytes until a non-zero byte arrives — 0x01
//     means synchronized, anything else restarts the whole handshake.
//
// Flushing the port before step 1 is a device-specific operation left to
// the Port implementation; Sync assumes the caller has already done it.
func Sync(rw io.ReadWriter) error {
	var b [1]byte
	for {
		if err := waitForZeroRun(rw, &b); err != nil {
			return err
		}
		if err := writeSyncResponse(rw); err != nil {
			return err
		}
		ok, err := discardZerosAndCheck(rw, &b)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		// Any non-zero, non-0x01 byte restarts the handshake (§4.6 step 3).
	}
}

func waitForZeroRun(r io.Reader, b *[1]byte) error {
	run := 0
	for run < protocol.NumSerialSyncZeros {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return err
		}
		if b[0] == 0 {
			run++
		} else {
			run = 0
		}
	}
	return nil
}

func writeSyncResponse(w io.Writer) error {
	out := make([]byte, protocol.NumSerialSyncZeros+1)
	out[len(out)-1] = 1
	_, err := w.Write(out)
	return err
}

// discardZerosAndCheck reads past any run of trailing zero bytes the peer
// may still be sending, then reports whether the first non-zero byte is
// the expected 0x01 sync-complete marker.
func discardZerosAndCheck(r io.Reader, b *[1]byte) (bool, error) {
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return false, err
		}
		if b[0] == 0 {
			continue
		}
		return b[0] == 1, nil
	}
}
