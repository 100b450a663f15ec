package bbcbytes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReaderWriterRoundTrip(t *testing.T) {
	w := NewWriter()
	w.U8(0x11).U16LE(0x2233).U32LE(0x44556677).Raw([]byte{1, 2, 3})

	r := NewReader(w.Bytes())
	b, err := r.U8()
	assert.NoError(t, err)
	assert.Equal(t, byte(0x11), b)

	u16, err := r.U16LE()
	assert.NoError(t, err)
	assert.Equal(t, uint16(0x2233), u16)

	u32, err := r.U32LE()
	assert.NoError(t, err)
	assert.Equal(t, uint32(0x44556677), u32)

	raw, err := r.Bytes(3)
	assert.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, raw)

	assert.Equal(t, 0, r.Remaining())
}

func TestReaderShortRead(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.U32LE()
	assert.Error(t, err)
}

func TestPutGetU32LE(t *testing.T) {
	buf := make([]byte, 8)
	PutU32LE(buf, 1, 0xFFFF1900)
	assert.Equal(t, uint32(0xFFFF1900), GetU32LE(buf, 1))
}

func TestCompileAFSP(t *testing.T) {
	ok, err := MatchAFSP("*.FOO", "X.FOO")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = MatchAFSP("#.FOO", "X.FOO")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = MatchAFSP("#.FOO", "XY.FOO")
	assert.NoError(t, err)
	assert.False(t, ok)

	ok, err = MatchAFSP("*", "")
	assert.NoError(t, err)
	assert.True(t, ok, "* must match the empty string")

	ok, err = MatchAFSP("#", "")
	assert.NoError(t, err)
	assert.False(t, ok, "# must not match the empty string")
}

func TestPascalStringRoundTrip(t *testing.T) {
	encoded, err := PascalString("HELLO")
	assert.NoError(t, err)
	assert.Equal(t, []byte{5, 'H', 'E', 'L', 'L', 'O'}, encoded)

	s, err := ReadPascalString(NewReader(encoded))
	assert.NoError(t, err)
	assert.Equal(t, "HELLO", s)
}

func TestPadColumn(t *testing.T) {
	assert.Equal(t, "FOO       ", PadColumn("FOO", 10))
	assert.Equal(t, "FOOBARBAZQ", PadColumn("FOOBARBAZQ", 5))
}

func TestHexDump(t *testing.T) {
	out := HexDump([]byte("hello"))
	assert.Contains(t, out, "68 65 6c 6c 6f")
	assert.Contains(t, out, "|hello|")
}
