package vfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/beeblink/beeblinkd/internal/beeberr"
	"github.com/stretchr/testify/assert"
)

func tempFile(t *testing.T) *os.File {
	f, err := os.CreateTemp(t.TempDir(), "handle")
	assert.NoError(t, err)
	t.Cleanup(func() { f.Close() })
	return f
}

func TestOpenFileTableAllocatesLowestFreeHandle(t *testing.T) {
	table := NewOpenFileTable()
	h1 := table.Open(FQN{}, "a", tempFile(t), ModeRead)
	h2 := table.Open(FQN{}, "b", tempFile(t), ModeRead)
	assert.Equal(t, 0xA0, h1)
	assert.Equal(t, 0xA1, h2)

	assert.NoError(t, table.Close(h1))
	h3 := table.Open(FQN{}, "c", tempFile(t), ModeRead)
	assert.Equal(t, 0xA0, h3)
}

func TestOpenFileTableFullReturnsZero(t *testing.T) {
	table := NewOpenFileTable()
	table.SetRange(0xA0, 0xA0)
	h1 := table.Open(FQN{}, "a", tempFile(t), ModeRead)
	assert.Equal(t, 0xA0, h1)
	h2 := table.Open(FQN{}, "b", tempFile(t), ModeRead)
	assert.Equal(t, 0, h2)
}

func TestCloseZeroClosesEverything(t *testing.T) {
	table := NewOpenFileTable()
	table.Open(FQN{}, "a", tempFile(t), ModeRead)
	table.Open(FQN{}, "b", tempFile(t), ModeRead)
	assert.NoError(t, table.CloseAll())
	_, err := table.Get(0xA0)
	be, ok := beeberr.As(err)
	assert.True(t, ok)
	assert.Equal(t, beeberr.CodeChannel, be.Code)
}

func TestCloseUnknownHandleIsIdempotent(t *testing.T) {
	table := NewOpenFileTable()
	assert.NoError(t, table.Close(0xA5))
}

func TestIsOpenForWriteIgnoresReadHandles(t *testing.T) {
	table := NewOpenFileTable()
	table.Open(FQN{}, "a", tempFile(t), ModeRead)
	assert.False(t, table.IsOpenForWrite("a"))
	table.Open(FQN{}, "b", tempFile(t), ModeWrite)
	assert.True(t, table.IsOpenForWrite("b"))
}

func TestEOFReflectsFileSize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	assert.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0644))
	f, err := os.Open(path)
	assert.NoError(t, err)
	defer f.Close()

	of := &OpenFile{F: f, ReadPos: 2}
	eof, err := of.EOF()
	assert.NoError(t, err)
	assert.False(t, eof)

	of.ReadPos = 3
	eof, err = of.EOF()
	assert.NoError(t, err)
	assert.True(t, eof)
}

func TestWriteLockIsExclusiveAcrossSessions(t *testing.T) {
	defer ReleaseWriteLock("shared.txt")
	assert.NoError(t, AcquireWriteLock("shared.txt"))
	err := AcquireWriteLock("shared.txt")
	be, ok := beeberr.As(err)
	assert.True(t, ok)
	assert.Equal(t, beeberr.CodeOpen, be.Code)
	ReleaseWriteLock("shared.txt")
	assert.NoError(t, AcquireWriteLock("shared.txt"))
	ReleaseWriteLock("shared.txt")
}
