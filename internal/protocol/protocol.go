// Package protocol implements the byte-accurate request/response framing
// beeblinkd speaks over both the serial link and the HTTP tunnel (§4.6):
// the compact/full frame shapes, the periodic confirmation byte, and the
// fire-and-forget request range. The sync handshake that re-aligns the
// byte stream lives in internal/transport, one layer up, since it needs a
// live port rather than a single frame.
//
// Request and response codes share one 7-bit code space; the wire byte's
// high bit is a framing flag chosen per message (set for the length-
// prefixed full form, clear for the single-payload-byte compact form),
// not a property of the logical code. Codes 0x00 and 0x7F are reserved:
// either one arriving as a request's command byte means the link has
// lost sync (§4.6).
package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

// NumSerialSyncZeros is the run length of zero bytes the sync handshake
// looks for and emits (§6 "NUM_SERIAL_SYNC_ZEROS is a protocol constant").
const NumSerialSyncZeros = 300

// confirmByte is the only legal value for a confirmation byte; anything
// else aborts the link back to sync (§4.6).
const confirmByte = 0x01

// ErrResync is returned by Decode when the stream violates framing — a bad
// confirmation byte, or (request-side) a reserved command byte — and the
// caller must re-enter the transport's sync loop.
var ErrResync = errors.New("protocol: resync required")

// Request codes (BBC -> server). Reserved: 0x00, 0x7F.
const (
	ReqGetROM             byte = 0x01
	ReqReset              byte = 0x02
	ReqEchoData           byte = 0x03
	ReqReadString         byte = 0x04
	ReqReadStringVerbose  byte = 0x05
	ReqStarCat            byte = 0x06
	ReqStarCommand        byte = 0x07
	ReqStarRun            byte = 0x08
	ReqHelpBLFS           byte = 0x09
	ReqOSFILE             byte = 0x0A
	ReqOSFINDOpen         byte = 0x0B
	ReqOSFINDClose        byte = 0x0C
	ReqOSARGS             byte = 0x0D
	ReqEOF                byte = 0x0E
	ReqOSBGET             byte = 0x0F
	ReqOSBPUT             byte = 0x10
	ReqStarInfo           byte = 0x11
	ReqStarEx             byte = 0x12
	ReqOSGBPB             byte = 0x13
	ReqOPT                byte = 0x14
	ReqBootOption         byte = 0x15
	ReqVolumeBrowser      byte = 0x16
	ReqSpeedTest          byte = 0x17
	ReqSetFileHandleRange byte = 0x18

	ReqStartDiskImageFlow          byte = 0x19
	ReqSetDiskImageCat             byte = 0x1A
	ReqNextDiskImagePart           byte = 0x1B
	ReqSetLastDiskImageOSWORDResult byte = 0x1C
	ReqFinishDiskImageFlow          byte = 0x1D
)

// FNFBegin/FNFEnd bound the fire-and-forget request range (§3, §4.6):
// codes in this range never produce a response. No named request above
// currently falls in it; it exists so a future one-way notification (e.g.
// a keepalive ping) has somewhere to live without renumbering anything.
const (
	FNFBegin byte = 0x78
	FNFEnd   byte = 0x7E
)

// IsFireAndForget reports whether code is in the fire-and-forget range.
func IsFireAndForget(code byte) bool {
	return code >= FNFBegin && code <= FNFEnd
}

// Response codes (server -> BBC).
const (
	RespYES           byte = 0x01
	RespNO            byte = 0x02
	RespDATA          byte = 0x03
	RespTEXT          byte = 0x04
	RespERROR         byte = 0x05
	RespOSFILE        byte = 0x06
	RespOSFIND        byte = 0x07
	RespOSARGS        byte = 0x08
	RespEOF           byte = 0x09
	RespOSBGET        byte = 0x0A
	RespOSBGETEOF     byte = 0x0B
	RespOSBPUT        byte = 0x0C
	RespOSGBPB        byte = 0x0D
	RespBootOption    byte = 0x0E
	RespVolumeBrowser byte = 0x0F
	RespSpecial       byte = 0x10
	RespRUN           byte = 0x11
)

// OSBGETEOFByte is OSBGET's historical EOF payload value (§4.3).
const OSBGETEOFByte = 254

// Volume-browser response sub-codes: the first payload byte of a
// RespVolumeBrowser frame (§6).
const (
	BrowserCanceled                         byte = 0x00
	BrowserMounted                           byte = 0x01
	BrowserBoot                              byte = 0x02
	BrowserPrintString                       byte = 0x03
	BrowserPrintStringAndFlushKeyboardBuffer byte = 0x04
	BrowserKeyIgnored                        byte = 0x05
)

// Special response sub-codes: the first payload byte of a RespSpecial
// frame (§6).
const (
	SpecialSelfUpdate          byte = 0x00
	SpecialSpeedTest           byte = 0x01
	SpecialDiskImageFlowStart  byte = 0x02
	SpecialSRLoad              byte = 0x03
	SpecialVolumeBrowserEntry  byte = 0x04
)

// Encode renders one frame as wire bytes. If payload is exactly one byte
// and compact is true, the single-payload-byte form is used (no length
// field); otherwise the full length-prefixed form is used. Both forms
// carry the same confirmation-byte cadence (§4.6): one 0x01 after every
// 256-byte block of payload, counted from the end of the payload.
func Encode(code byte, payload []byte, compact bool) []byte {
	if compact && len(payload) == 1 {
		return []byte{code &^ 0x80, payload[0], confirmByte}
	}
	out := make([]byte, 0, 5+len(payload)+len(payload)/256+1)
	out = append(out, code|0x80)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	out = append(out, lenBuf[:]...)
	for i, b := range payload {
		out = append(out, b)
		if (len(payload)-1-i)&0xFF == 0 {
			out = append(out, confirmByte)
		}
	}
	return out
}

// Write is Encode followed by a single Write call.
func Write(w io.Writer, code byte, payload []byte, compact bool) error {
	_, err := w.Write(Encode(code, payload, compact))
	return err
}

// Decode reads one frame from r: the command byte, an optional length
// field, and the payload (verifying every confirmation byte along the
// way). A reserved command byte (0x00/0x7F) or a bad confirmation byte
// both return ErrResync, the caller's cue to re-enter the sync loop.
func Decode(r io.Reader) (code byte, payload []byte, err error) {
	var cmdBuf [1]byte
	if _, err = io.ReadFull(r, cmdBuf[:]); err != nil {
		return 0, nil, err
	}
	cmd := cmdBuf[0]
	if cmd == 0x00 || cmd == 0x7F {
		return 0, nil, ErrResync
	}
	if cmd&0x80 == 0 {
		payload, err = readConfirmedPayload(r, 1)
		return cmd, payload, err
	}
	var lenBuf [4]byte
	if _, err = io.ReadFull(r, lenBuf[:]); err != nil {
		return 0, nil, err
	}
	n := binary.LittleEndian.Uint32(lenBuf[:])
	payload, err = readConfirmedPayload(r, int(n))
	return cmd &^ 0x80, payload, err
}

func readConfirmedPayload(r io.Reader, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	payload := make([]byte, n)
	var c [1]byte
	for i := 0; i < n; i++ {
		if _, err := io.ReadFull(r, payload[i:i+1]); err != nil {
			return nil, err
		}
		if (n-1-i)&0xFF == 0 {
			if _, err := io.ReadFull(r, c[:]); err != nil {
				return nil, err
			}
			if c[0] != confirmByte {
				return nil, ErrResync
			}
		}
	}
	return payload, nil
}

// ErrorPayload builds the body of a RESPONSE_ERROR frame: a leading zero
// byte (a vestige of the original wire format's reserved field), the BBC
// error code, the message bytes, and a NUL terminator (§6).
func ErrorPayload(code byte, message string) []byte {
	out := make([]byte, 0, len(message)+3)
	out = append(out, 0, code)
	out = append(out, message...)
	out = append(out, 0)
	return out
}
