package dispatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beeblink/beeblinkd/internal/bbcbytes"
	"github.com/beeblink/beeblinkd/internal/protocol"
	"github.com/beeblink/beeblinkd/internal/session"
	"github.com/beeblink/beeblinkd/internal/vfs"
	"github.com/beeblink/beeblinkd/internal/vfs/dfs"
)

func newTestSession(t *testing.T) *session.Session {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "0"), 0755))
	vol := &vfs.Volume{Name: "V", Path: root, Kind: vfs.KindDFS, Type: dfs.New()}
	s := session.New([]*vfs.Volume{vol}, nil)
	require.NoError(t, s.Mount(vol, false))
	return s
}

// TestOSFILESaveThenLoad is spec.md §8 Scenario 2: OSFILE A=0 save followed
// by OSFILE A=0xFF load must round-trip the data and report the file's
// stored load address as the effective load address when block[6]=0.
func TestOSFILESaveThenLoad(t *testing.T) {
	s := newTestSession(t)

	savePayload := bbcbytes.NewWriter().
		U8(0).
		CString("X.FOO").
		U32LE(0xFFFF1900).
		U32LE(0xFFFF8023).
		U32LE(3).
		Raw([]byte{1, 2, 3}).
		Bytes()
	code, resp, err := handleOSFILE(s, savePayload)
	require.NoError(t, err)
	assert.Equal(t, protocol.RespOSFILE, code)
	assert.Equal(t, byte(1), resp[0])

	loadPayload := bbcbytes.NewWriter().
		U8(osfileLoad).
		CString("X.FOO").
		U32LE(0). // block's load address, unused when block[6]=0
		U32LE(0). // exec word, so block[6] (its third byte) is 0
		Bytes()
	code, resp, err = handleOSFILE(s, loadPayload)
	require.NoError(t, err)
	assert.Equal(t, protocol.RespOSFILE, code)

	r := bbcbytes.NewReader(resp)
	objType, err := r.U8()
	require.NoError(t, err)
	assert.Equal(t, byte(1), objType)

	storedLoad, err := r.U32LE()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFF1900), storedLoad)

	_, err = r.U32LE() // stored exec
	require.NoError(t, err)
	_, err = r.U32LE() // length (unused in this response shape)
	require.NoError(t, err)
	_, err = r.U8() // attr
	require.NoError(t, err)

	effectiveLoad, err := r.U32LE()
	require.NoError(t, err)
	assert.Equal(t, uint32(0xFFFF1900), effectiveLoad)

	data, err := r.Bytes(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)
}
