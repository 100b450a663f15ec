package dispatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beeblink/beeblinkd/internal/bbcbytes"
	"github.com/beeblink/beeblinkd/internal/beeberr"
	"github.com/beeblink/beeblinkd/internal/protocol"
	"github.com/beeblink/beeblinkd/internal/starcmd"
)

func openPayload(mode byte, name string) []byte {
	return bbcbytes.NewWriter().U8(mode).CString(name).Bytes()
}

func TestOSFINDOpenWriteThenReadBack(t *testing.T) {
	s := newTestSession(t)

	code, resp, err := handleOSFINDOpen(s, openPayload(0x80, "X.DATA"))
	require.NoError(t, err)
	assert.Equal(t, protocol.RespOSFIND, code)
	require.Len(t, resp, 1)
	handle := resp[0]
	assert.GreaterOrEqual(t, handle, byte(0xA0))

	for _, b := range []byte("hi") {
		_, _, err := handleOSBPUT(s, []byte{handle, b})
		require.NoError(t, err)
	}
	_, _, err = handleOSFINDClose(s, []byte{handle})
	require.NoError(t, err)

	code, resp, err = handleOSFINDOpen(s, openPayload(0x40, "X.DATA"))
	require.NoError(t, err)
	require.Len(t, resp, 1)
	handle = resp[0]
	require.NotZero(t, handle)

	code, resp, err = handleOSBGET(s, []byte{handle})
	require.NoError(t, err)
	assert.Equal(t, protocol.RespOSBGET, code)
	assert.Equal(t, []byte{'h'}, resp)
}

func TestOSFINDOpenReadMissingReturnsZeroHandle(t *testing.T) {
	s := newTestSession(t)
	code, resp, err := handleOSFINDOpen(s, openPayload(0x40, "X.NOPE"))
	require.NoError(t, err)
	assert.Equal(t, protocol.RespOSFIND, code)
	assert.Equal(t, []byte{0}, resp)
}

func TestOSFINDOpenBadModeByte(t *testing.T) {
	s := newTestSession(t)
	_, _, err := handleOSFINDOpen(s, openPayload(0x20, "X.DATA"))
	require.Error(t, err)
	assert.Equal(t, beeberr.CodeBadCommand, beeberr.Code(err))
}

func TestOSBGETSecondReadAtEOFIsStrictError(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Volume.Path, "0", "$.ONE"), []byte{0x42}, 0644))

	_, resp, err := handleOSFINDOpen(s, openPayload(0x40, "$.ONE"))
	require.NoError(t, err)
	handle := resp[0]
	require.NotZero(t, handle)

	code, resp, err := handleOSBGET(s, []byte{handle})
	require.NoError(t, err)
	assert.Equal(t, protocol.RespOSBGET, code)
	assert.Equal(t, []byte{0x42}, resp)

	code, resp, err = handleOSBGET(s, []byte{handle})
	require.NoError(t, err)
	assert.Equal(t, protocol.RespOSBGETEOF, code)
	assert.Equal(t, []byte{byte(protocol.OSBGETEOFByte)}, resp)

	_, _, err = handleOSBGET(s, []byte{handle})
	require.Error(t, err)
	assert.Equal(t, beeberr.CodeEOF, beeberr.Code(err))
}

func TestEOFHandlerReportsFlag(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Volume.Path, "0", "$.ONE"), []byte{1}, 0644))

	_, resp, err := handleOSFINDOpen(s, openPayload(0x40, "$.ONE"))
	require.NoError(t, err)
	handle := resp[0]

	code, resp, err := handleEOF(s, []byte{handle})
	require.NoError(t, err)
	assert.Equal(t, protocol.RespEOF, code)
	assert.Equal(t, []byte{0x00}, resp)

	_, _, err = handleOSBGET(s, []byte{handle})
	require.NoError(t, err)

	_, resp, err = handleEOF(s, []byte{handle})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF}, resp)
}

func TestReadStringPaginatesInRequestSizedChunks(t *testing.T) {
	s := newTestSession(t)
	s.StringOutput = []byte("abcdefghij")

	h := handleReadString(false)

	code, resp, err := h(s, []byte{4})
	require.NoError(t, err)
	assert.Equal(t, protocol.RespTEXT, code)
	assert.Equal(t, []byte("abcd"), resp)

	code, resp, err = h(s, []byte{4})
	require.NoError(t, err)
	assert.Equal(t, []byte("efgh"), resp)

	code, resp, err = h(s, []byte{4})
	require.NoError(t, err)
	assert.Equal(t, []byte("ij"), resp)

	code, _, err = h(s, []byte{4})
	require.NoError(t, err)
	assert.Equal(t, protocol.RespNO, code)
}

func TestStarCommandFallsThroughToRun(t *testing.T) {
	s := newTestSession(t)
	prog := filepath.Join(s.Volume.Path, "0", "$.MYPROG")
	require.NoError(t, os.WriteFile(prog, []byte{0xA9, 0x00, 0x60}, 0644))
	require.NoError(t, os.WriteFile(prog+".inf", []byte("MYPROG FFFF1900 FFFF8023\n"), 0644))

	commands := starcmd.NewTable(nil)
	starcmd.Register(commands)

	code, resp, err := handleStarCommand(commands)(s, []byte("MYPROG"))
	require.NoError(t, err)
	assert.Equal(t, protocol.RespRUN, code)

	r := bbcbytes.NewReader(resp)
	load, _ := r.U32LE()
	exec, _ := r.U32LE()
	size, _ := r.U32LE()
	assert.Equal(t, uint32(0xFFFF1900), load)
	assert.Equal(t, uint32(0xFFFF8023), exec)
	assert.Equal(t, uint32(3), size)
}

func TestStarCommandUnknownAndNoFileIsBadCommand(t *testing.T) {
	s := newTestSession(t)
	commands := starcmd.NewTable(nil)
	starcmd.Register(commands)

	_, _, err := handleStarCommand(commands)(s, []byte("NOSUCHPROG"))
	require.Error(t, err)
	assert.Equal(t, beeberr.CodeBadCommand, beeberr.Code(err))
}

func gbpbPayload(action, handle byte, ptr, n uint32) []byte {
	return bbcbytes.NewWriter().U8(action).U8(handle).U32LE(ptr).U32LE(n).Bytes()
}

func TestOSGBPBEnumeratesDriveDirAndLibrary(t *testing.T) {
	s := newTestSession(t)

	code, resp, err := handleOSGBPB(s, gbpbPayload(6, 0, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, protocol.RespOSGBPB, code)

	r := bbcbytes.NewReader(resp)
	carry, _ := r.U8()
	assert.Equal(t, byte(0), carry)
	_, _ = r.U32LE() // ptr
	_, _ = r.U32LE() // residual
	drive, err := bbcbytes.ReadPascalString(r)
	require.NoError(t, err)
	dir, err := bbcbytes.ReadPascalString(r)
	require.NoError(t, err)
	assert.Equal(t, "0", drive)
	assert.Equal(t, "$", dir)

	_, resp, err = handleOSGBPB(s, gbpbPayload(7, 0, 0, 0))
	require.NoError(t, err)
	r = bbcbytes.NewReader(resp)
	_, _ = r.U8()
	_, _ = r.U32LE()
	_, _ = r.U32LE()
	libDrive, err := bbcbytes.ReadPascalString(r)
	require.NoError(t, err)
	assert.Equal(t, "0", libDrive)
}

func TestOSGBPBEnumeratesCSDFilenames(t *testing.T) {
	s := newTestSession(t)
	for _, name := range []string{"$.AAA", "$.BBB"} {
		require.NoError(t, os.WriteFile(filepath.Join(s.Volume.Path, "0", name), []byte{1}, 0644))
	}

	_, resp, err := handleOSGBPB(s, gbpbPayload(8, 0, 0, 10))
	require.NoError(t, err)

	r := bbcbytes.NewReader(resp)
	carry, _ := r.U8()
	assert.Equal(t, byte(1), carry) // fewer names than requested: end of list
	ptr, _ := r.U32LE()
	assert.Equal(t, uint32(0), ptr) // ptr echoed untouched
	_, _ = r.U32LE()

	var names []string
	for r.Remaining() > 0 {
		name, err := bbcbytes.ReadPascalString(r)
		require.NoError(t, err)
		names = append(names, name)
	}
	assert.ElementsMatch(t, []string{"AAA", "BBB"}, names)
}

func TestOSGBPBSequentialGetMovesPointer(t *testing.T) {
	s := newTestSession(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Volume.Path, "0", "$.SEQ"), []byte("abcdef"), 0644))

	_, resp, err := handleOSFINDOpen(s, openPayload(0x40, "$.SEQ"))
	require.NoError(t, err)
	handle := resp[0]

	_, resp, err = handleOSGBPB(s, gbpbPayload(3, handle, 0, 4))
	require.NoError(t, err)
	r := bbcbytes.NewReader(resp)
	carry, _ := r.U8()
	assert.Equal(t, byte(0), carry)
	ptr, _ := r.U32LE()
	assert.Equal(t, uint32(4), ptr)
	residual, _ := r.U32LE()
	assert.Equal(t, uint32(0), residual)
	data, err := r.Bytes(4)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), data)

	// Second sequential get runs off the end: carry set, residual nonzero.
	_, resp, err = handleOSGBPB(s, gbpbPayload(3, handle, 0, 4))
	require.NoError(t, err)
	r = bbcbytes.NewReader(resp)
	carry, _ = r.U8()
	assert.Equal(t, byte(1), carry)
	_, _ = r.U32LE()
	residual, _ = r.U32LE()
	assert.Equal(t, uint32(2), residual)
}
