package transport_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beeblink/beeblinkd/internal/protocol"
	"github.com/beeblink/beeblinkd/internal/transport"
)

// rwPort adapts a read side and a write side into an io.ReadWriter for
// Sync, which only needs that much.
type rwPort struct {
	r *bytes.Reader
	w bytes.Buffer
}

func (p *rwPort) Read(b []byte) (int, error)  { return p.r.Read(b) }
func (p *rwPort) Write(b []byte) (int, error) { return p.w.Write(b) }

func TestSyncHandshake(t *testing.T) {
	// spec.md §8 scenario 4: sender emits NUM_SERIAL_SYNC_ZEROS zeros then
	// 0x01; server must respond the same way, eat trailing zeros, and
	// declare sync on the 0x01.
	in := append(make([]byte, protocol.NumSerialSyncZeros), 0x01)
	p := &rwPort{r: bytes.NewReader(in)}

	err := transport.Sync(p)
	require.NoError(t, err)

	out := p.w.Bytes()
	require.Len(t, out, protocol.NumSerialSyncZeros+1)
	for _, b := range out[:len(out)-1] {
		assert.Equal(t, byte(0), b)
	}
	assert.Equal(t, byte(1), out[len(out)-1])
}

func TestSyncRestartsOnBadTrailingByte(t *testing.T) {
	// First attempt ends with a byte that's neither 0 nor 1, which must
	// restart the handshake; the second attempt is the real sync run.
	bad := append(make([]byte, protocol.NumSerialSyncZeros), 0x42)
	good := append(make([]byte, protocol.NumSerialSyncZeros), 0x01)
	in := append(bad, good...)
	p := &rwPort{r: bytes.NewReader(in)}

	err := transport.Sync(p)
	require.NoError(t, err)
}
