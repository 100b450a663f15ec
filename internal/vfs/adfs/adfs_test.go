package adfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/beeblink/beeblinkd/internal/beeberr"
	"github.com/beeblink/beeblinkd/internal/vfs"
	"github.com/stretchr/testify/assert"
)

type fakeState struct{ drive, dir, libDrive, libDir string }

func (s fakeState) CurrentDrive() string { return s.drive }
func (s fakeState) CurrentDir() string   { return s.dir }
func (s fakeState) LibraryDrive() string { return s.libDrive }
func (s fakeState) LibraryDir() string   { return s.libDir }

func newVolume(t *testing.T) *vfs.Volume {
	dir := t.TempDir()
	assert.NoError(t, os.MkdirAll(filepath.Join(dir, "0"), 0755))
	return &vfs.Volume{Name: "V", Path: dir, Kind: vfs.KindADFS, Type: New()}
}

func TestIsValidBeebFileNameRejectsDot(t *testing.T) {
	ty := New()
	assert.False(t, ty.IsValidBeebFileName("A.B"))
	assert.True(t, ty.IsValidBeebFileName("LONGNAME1"))
	assert.False(t, ty.IsValidBeebFileName("TOOLONGNAME1"))
}

func TestParseFileStringDefaultsFromState(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	state := fakeState{drive: "0", dir: "$"}

	fqn, err := ty.ParseFileString("FOO", 0, state, vol, true)
	assert.NoError(t, err)
	assert.Equal(t, "0", fqn.Drive.Value)
	assert.Equal(t, "$", fqn.Dir.Value)
}

func TestParseDirStringExplicit(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	state := fakeState{drive: "0", dir: "$"}

	path, err := ty.ParseDirString(":1.X", 0, state, vol, true)
	assert.NoError(t, err)
	assert.Equal(t, "1", path.Drive.Value)
	assert.Equal(t, "X", path.Dir.Value)
}

func TestGetNewAttributesMirrorsDFS(t *testing.T) {
	ty := New()
	bits, ok, err := ty.GetNewAttributes(0, "L")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, bits.Locked())
}

func TestDeleteMissingFileMapsHostError(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	file := &vfs.File{HostPath: filepath.Join(vol.Path, "0", "X.MISSING")}
	err := ty.DeleteFile(file)
	be, ok := beeberr.As(err)
	assert.True(t, ok)
	assert.Equal(t, beeberr.CodeFileNotFound, be.Code)
}
