// Package pc implements the flat "PC" filing-system personality: no
// drive/dir, filenames up to 31 printable characters, read-only from the
// BBC's point of view (§3, §4.2).
package pc

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/beeblink/beeblinkd/internal/bbcbytes"
	"github.com/beeblink/beeblinkd/internal/beeberr"
	"github.com/beeblink/beeblinkd/internal/inf"
	"github.com/beeblink/beeblinkd/internal/vfs"
)

// Type implements vfs.Type for flat PC volumes.
type Type struct{}

func New() *Type { return &Type{} }

func (t *Type) Name() string   { return "PC" }
func (t *Type) CanWrite() bool { return false }

func isValidNameChar(c byte) bool {
	return c >= 0x21 && c <= 0x7E && c != '*' && c != '#' && c != '"'
}

// IsValidBeebFileName allows up to 31 printable characters (§3).
func (t *Type) IsValidBeebFileName(name string) bool {
	if len(name) < 1 || len(name) > 31 {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isValidNameChar(name[i]) {
			return false
		}
	}
	return true
}

func isValidSpecChar(c byte) bool {
	return isValidNameChar(c) || c == '*' || c == '#'
}

func isValidFileSpec(s string) bool {
	if len(s) < 1 || len(s) > 31 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isValidSpecChar(s[i]) {
			return false
		}
	}
	return true
}

// ParseFileString optionally skips a leading ':' or '/' when start > 0
// (§4.2); there is no drive/dir to parse. AFSP wildcards are allowed, so
// *INFO-style ambiguous specs reach FindObjectsMatching.
func (t *Type) ParseFileString(raw string, start int, state vfs.State, volume *vfs.Volume, volumeExplicit bool) (vfs.FQN, error) {
	s := raw[start:]
	if start > 0 && len(s) > 0 && (s[0] == ':' || s[0] == '/') {
		s = s[1:]
	}
	if !isValidFileSpec(s) {
		return vfs.FQN{}, beeberr.BadName()
	}
	return vfs.FQN{
		Volume: volume, VolumeExplicit: volumeExplicit,
		Name: vfs.NameComponent{Value: s, Explicit: true},
	}, nil
}

// ParseDirString is a no-op for PC volumes: there is no directory
// component, so any non-empty remainder is a BadDir.
func (t *Type) ParseDirString(raw string, start int, state vfs.State, volume *vfs.Volume, volumeExplicit bool) (vfs.FilePath, error) {
	s := raw[start:]
	if s != "" {
		return vfs.FilePath{}, beeberr.BadDir()
	}
	return vfs.FilePath{Volume: volume, VolumeExplicit: volumeExplicit}, nil
}

func listFiles(volume *vfs.Volume) ([]*vfs.File, error) {
	entries, err := os.ReadDir(volume.Path)
	if err != nil {
		return nil, beeberr.FromHostError(err)
	}
	var files []*vfs.File
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), inf.Suffix) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		hostPath := filepath.Join(volume.Path, e.Name())
		meta, err := inf.Read(hostPath, e.Name())
		if err != nil {
			return nil, err
		}
		files = append(files, &vfs.File{
			FQN:      vfs.FQN{Volume: volume, Name: vfs.NameComponent{Value: e.Name(), Explicit: true}},
			HostPath: hostPath,
			Meta:     meta,
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].FQN.Name.Value < files[j].FQN.Name.Value })
	return files, nil
}

func (t *Type) FindObjectsMatching(fqn vfs.FQN) ([]*vfs.File, error) {
	files, err := listFiles(fqn.Volume)
	if err != nil {
		return nil, err
	}
	var matched []*vfs.File
	for _, f := range files {
		ok, err := bbcbytes.MatchAFSP(fqn.Name.Value, f.FQN.Name.Value)
		if err != nil {
			return nil, beeberr.DiscFaultf("bad wildcard: %v", err)
		}
		if ok {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

// LocateBeebFiles is identical to FindObjectsMatching for PC volumes:
// there is no drive/dir dimension to widen the scan over.
func (t *Type) LocateBeebFiles(fqn vfs.FQN) ([]*vfs.File, error) {
	return t.FindObjectsMatching(fqn)
}

// HostPathFor always fails: PC volumes are read-only, so nothing ever
// needs a path for a file that doesn't exist yet.
func (t *Type) HostPathFor(fqn vfs.FQN) (string, error) {
	return "", beeberr.VolumeReadOnly()
}

func (t *Type) GetCAT(path vfs.FilePath, state vfs.State) (string, error) {
	files, err := listFiles(path.Volume)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Volume: " + path.Volume.Name)
	b.WriteString(bbcbytes.BNL)
	b.WriteString(bbcbytes.BNL)
	for _, f := range files {
		b.WriteString(bbcbytes.PadColumn("  "+f.FQN.Name.Value, 32))
	}
	return b.String(), nil
}

// DeleteFile is unreachable in practice (CanWrite is false), but is
// implemented for completeness and for the *-command layer to surface a
// consistent VolumeReadOnly rather than a nil-pointer panic.
func (t *Type) DeleteFile(file *vfs.File) error {
	return beeberr.VolumeReadOnly()
}

func (t *Type) Rename(oldFile *vfs.File, newFQN vfs.FQN) (*vfs.File, error) {
	return nil, beeberr.VolumeReadOnly()
}

func (t *Type) WriteBeebMetadata(hostPath string, fqn vfs.FQN, meta inf.Meta) error {
	return beeberr.VolumeReadOnly()
}

// GetNewAttributes rejects any change, as PC volumes have no attribute
// model (§4.2 "PC rejects any change").
func (t *Type) GetNewAttributes(old inf.AttrBits, attrStr string) (inf.AttrBits, bool, error) {
	return 0, false, nil
}
