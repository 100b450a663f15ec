package dfs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/beeblink/beeblinkd/internal/beeberr"
	"github.com/beeblink/beeblinkd/internal/inf"
	"github.com/beeblink/beeblinkd/internal/vfs"
	"github.com/stretchr/testify/assert"
)

type fakeState struct {
	drive, dir, libDrive, libDir string
}

func (s fakeState) CurrentDrive() string  { return s.drive }
func (s fakeState) CurrentDir() string    { return s.dir }
func (s fakeState) LibraryDrive() string  { return s.libDrive }
func (s fakeState) LibraryDir() string    { return s.libDir }

func newVolume(t *testing.T) *vfs.Volume {
	dir := t.TempDir()
	assert.NoError(t, os.MkdirAll(filepath.Join(dir, "0"), 0755))
	return &vfs.Volume{Name: "V", Path: dir, Kind: vfs.KindDFS, Type: New()}
}

func TestParseFileStringDefaults(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	state := fakeState{drive: "0", dir: "$"}

	fqn, err := ty.ParseFileString("FOO", 0, state, vol, true)
	assert.NoError(t, err)
	assert.Equal(t, "0", fqn.Drive.Value)
	assert.False(t, fqn.Drive.Explicit)
	assert.Equal(t, "$", fqn.Dir.Value)
	assert.False(t, fqn.Dir.Explicit)
	assert.Equal(t, "FOO", fqn.Name.Value)
}

func TestParseFileStringExplicitDriveAndDir(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	state := fakeState{drive: "0", dir: "$"}

	fqn, err := ty.ParseFileString(":1.X.FOO", 0, state, vol, true)
	assert.NoError(t, err)
	assert.Equal(t, "1", fqn.Drive.Value)
	assert.True(t, fqn.Drive.Explicit)
	assert.Equal(t, "X", fqn.Dir.Value)
	assert.True(t, fqn.Dir.Explicit)
	assert.Equal(t, "FOO", fqn.Name.Value)
}

func TestParseFileStringBadName(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	state := fakeState{drive: "0", dir: "$"}

	_, err := ty.ParseFileString("TOOLONGNAME1", 0, state, vol, true)
	be, ok := beeberr.As(err)
	assert.True(t, ok)
	assert.Equal(t, beeberr.CodeBadName, be.Code)
}

func TestParseFileStringRoundTrip(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	state := fakeState{drive: "0", dir: "$"}

	fqn, err := ty.ParseFileString(":1.X.FOO", 0, state, vol, true)
	assert.NoError(t, err)

	reparsed, err := ty.ParseFileString(fqn.String(), 0, state, vol, true)
	assert.NoError(t, err)
	assert.Equal(t, fqn.Drive.Value, reparsed.Drive.Value)
	assert.Equal(t, fqn.Dir.Value, reparsed.Dir.Value)
	assert.Equal(t, fqn.Name.Value, reparsed.Name.Value)
}

func TestParseFileStringAllowsWildcardSpec(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	state := fakeState{drive: "0", dir: "$"}

	fqn, err := ty.ParseFileString("*.*", 0, state, vol, true)
	assert.NoError(t, err)
	assert.Equal(t, "*", fqn.Dir.Value)
	assert.Equal(t, "*", fqn.Name.Value)

	fqn, err = ty.ParseFileString("FIL#", 0, state, vol, true)
	assert.NoError(t, err)
	assert.Equal(t, "FIL#", fqn.Name.Value)
}

func TestFindObjectsMatchingWildcardDirAndName(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	state := fakeState{drive: "0", dir: "$"}
	for _, name := range []string{"$.AAA", "$.ABC", "X.AAA"} {
		assert.NoError(t, os.WriteFile(filepath.Join(vol.Path, "0", name), []byte{1}, 0644))
	}

	fqn, err := ty.ParseFileString("*.*", 0, state, vol, true)
	assert.NoError(t, err)
	files, err := ty.FindObjectsMatching(fqn)
	assert.NoError(t, err)
	assert.Len(t, files, 3)

	fqn, err = ty.ParseFileString("A#A", 0, state, vol, true)
	assert.NoError(t, err)
	files, err = ty.FindObjectsMatching(fqn)
	assert.NoError(t, err)
	assert.Len(t, files, 1)
	assert.Equal(t, "AAA", files[0].FQN.Name.Value)
	assert.Equal(t, "$", files[0].FQN.Dir.Value)
}

func TestHostPathForRejectsWildcardName(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	state := fakeState{drive: "0", dir: "$"}

	fqn, err := ty.ParseFileString("*.*", 0, state, vol, true)
	assert.NoError(t, err)
	_, err = ty.HostPathFor(fqn)
	be, ok := beeberr.As(err)
	assert.True(t, ok)
	assert.Equal(t, beeberr.CodeBadName, be.Code)
}

func TestOSFILESaveThenLoadRoundTrip(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	hostPath := filepath.Join(vol.Path, "0", "X.FOO")

	meta := inf.Meta{Name: "FOO", Load: 0xFFFF1900, Exec: 0xFFFF8023}
	assert.NoError(t, os.WriteFile(hostPath, []byte{1, 2, 3}, 0644))
	assert.NoError(t, ty.WriteBeebMetadata(hostPath, vfs.FQN{
		Volume: vol,
		Drive:  vfs.NameComponent{Value: "0", Explicit: true},
		Dir:    vfs.NameComponent{Value: "X", Explicit: true},
		Name:   vfs.NameComponent{Value: "FOO", Explicit: true},
	}, meta))

	data, err := os.ReadFile(hostPath)
	assert.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, data)

	got, err := inf.Read(hostPath, "FOO")
	assert.NoError(t, err)
	assert.Equal(t, uint32(0xFFFF1900), got.Load)
	assert.Equal(t, uint32(0xFFFF8023), got.Exec)
}

func TestDeleteLockedFileFails(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	hostPath := filepath.Join(vol.Path, "0", "X.FOO")
	assert.NoError(t, os.WriteFile(hostPath, []byte{1}, 0644))

	file := &vfs.File{HostPath: hostPath, Meta: inf.Meta{Bits: inf.AttrL}}
	err := ty.DeleteFile(file)
	be, ok := beeberr.As(err)
	assert.True(t, ok)
	assert.Equal(t, beeberr.CodeLocked, be.Code)
}

func TestRenameRejectsExistingDestination(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	oldPath := filepath.Join(vol.Path, "0", "X.FOO")
	newPath := filepath.Join(vol.Path, "0", "X.BAR")
	assert.NoError(t, os.WriteFile(oldPath, []byte{1}, 0644))
	assert.NoError(t, os.WriteFile(newPath, []byte{2}, 0644))

	oldFile := &vfs.File{HostPath: oldPath}
	newFQN := vfs.FQN{
		Volume: vol,
		Drive:  vfs.NameComponent{Value: "0"},
		Dir:    vfs.NameComponent{Value: "X"},
		Name:   vfs.NameComponent{Value: "BAR"},
	}
	_, err := ty.Rename(oldFile, newFQN)
	be, ok := beeberr.As(err)
	assert.True(t, ok)
	assert.Equal(t, beeberr.CodeExists, be.Code)
}

func TestRenameRejectsOrphanedDestinationINF(t *testing.T) {
	ty := New()
	vol := newVolume(t)
	oldPath := filepath.Join(vol.Path, "0", "X.FOO")
	assert.NoError(t, os.WriteFile(oldPath, []byte{1}, 0644))
	// Destination INF with no data file alongside it.
	assert.NoError(t, os.WriteFile(filepath.Join(vol.Path, "0", "X.BAR.inf"), []byte("BAR 00000000 00000000\n"), 0644))

	oldFile := &vfs.File{HostPath: oldPath}
	newFQN := vfs.FQN{
		Volume: vol,
		Drive:  vfs.NameComponent{Value: "0"},
		Dir:    vfs.NameComponent{Value: "X"},
		Name:   vfs.NameComponent{Value: "BAR"},
	}
	_, err := ty.Rename(oldFile, newFQN)
	be, ok := beeberr.As(err)
	assert.True(t, ok)
	assert.Equal(t, beeberr.CodeExists, be.Code)
}

func TestGetNewAttributes(t *testing.T) {
	ty := New()
	bits, ok, err := ty.GetNewAttributes(0, "")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, inf.AttrBits(0), bits)

	bits, ok, err = ty.GetNewAttributes(0, "L")
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, bits.Locked())

	_, ok, err = ty.GetNewAttributes(0, "X")
	assert.False(t, ok)
	assert.Error(t, err)
}
