package pc

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/beeblink/beeblinkd/internal/beeberr"
	"github.com/beeblink/beeblinkd/internal/vfs"
	"github.com/stretchr/testify/assert"
)

func newVolume(t *testing.T) *vfs.Volume {
	dir := t.TempDir()
	return &vfs.Volume{Name: "V", Path: dir, Kind: vfs.KindPC, Type: New()}
}

func TestCanWriteIsFalse(t *testing.T) {
	assert.False(t, New().CanWrite())
}

func TestParseFileStringSkipsLeadingColon(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	fqn, err := ty.ParseFileString(":FOO.TXT", 1, nil, vol, true)
	assert.NoError(t, err)
	assert.Equal(t, "FOO.TXT", fqn.Name.Value)
}

func TestParseFileStringAllowsWildcardSpec(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	fqn, err := ty.ParseFileString("*.TXT", 0, nil, vol, true)
	assert.NoError(t, err)
	assert.Equal(t, "*.TXT", fqn.Name.Value)
}

func TestParseDirStringRejectsNonEmpty(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	_, err := ty.ParseDirString("X", 0, nil, vol, true)
	be, ok := beeberr.As(err)
	assert.True(t, ok)
	assert.Equal(t, beeberr.CodeBadDir, be.Code)
}

func TestMutationsRejected(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	hostPath := filepath.Join(vol.Path, "FOO.TXT")
	assert.NoError(t, os.WriteFile(hostPath, []byte("x"), 0644))

	err := ty.DeleteFile(&vfs.File{HostPath: hostPath})
	be, ok := beeberr.As(err)
	assert.True(t, ok)
	assert.Equal(t, beeberr.CodeVolumeReadOnly, be.Code)

	_, err = ty.Rename(&vfs.File{HostPath: hostPath}, vfs.FQN{})
	be, ok = beeberr.As(err)
	assert.True(t, ok)
	assert.Equal(t, beeberr.CodeVolumeReadOnly, be.Code)

	err = ty.WriteBeebMetadata(hostPath, vfs.FQN{}, vfs.File{}.Meta)
	be, ok = beeberr.As(err)
	assert.True(t, ok)
	assert.Equal(t, beeberr.CodeVolumeReadOnly, be.Code)

	bits, ok2, err := ty.GetNewAttributes(0, "L")
	assert.NoError(t, err)
	assert.False(t, ok2)
	assert.Zero(t, bits)
}

func TestFindObjectsMatchingListsFlatFiles(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	assert.NoError(t, os.WriteFile(filepath.Join(vol.Path, "FOO.TXT"), []byte("x"), 0644))
	assert.NoError(t, os.WriteFile(filepath.Join(vol.Path, "BAR.TXT"), []byte("y"), 0644))

	matched, err := ty.FindObjectsMatching(vfs.FQN{Volume: vol, Name: vfs.NameComponent{Value: "*.TXT"}})
	assert.NoError(t, err)
	assert.Len(t, matched, 2)
}
