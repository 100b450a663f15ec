// Package adfs implements the ADFS-compatible filing-system personality:
// functionally the same drive/dir/name addressing as dfs, without the
// per-drive .opt4/.title metadata ADFS volumes don't have. File names are
// capped at the same 10 characters as dfs (§3, §4.2).
package adfs

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

// Type implements vfs.Type for ADFS-compatible volumes.
type Type struct{}

func New() *Type { return &Type{} }

func (t *Type) Name() string   { return "ADFS" }
func (t *Type) CanWrite() bool { return true }

func isValidDriveChar(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

func isValidDirChar(c byte) bool {
	return c >= 0x20 && c <= 0x7E && c != '.'
}

func isValidNameChar(c byte) bool {
	return c >= 0x21 && c <= 0x7E && c != '.' && c != ':' && c != '*' && c != '#' && c != '"'
}

func isValidSpecChar(c byte) bool {
	return isValidNameChar(c) || c == '*' || c == '#'
}

// IsValidBeebFileName allows up to 10 characters, matching the ADFS L
// format name length this server targets (§1 "ADFS-style sectors").
// Wildcards are only legal in a filespec, not a name.
func (t *Type) IsValidBeebFileName(name string) bool {
	if len(name) < 1 || len(name) > 10 {
		return false
	}
	for i := 0; i < len(name); i++ {
		if !isValidNameChar(name[i]) {
			return false
		}
	}
	return true
}

func isValidFileSpec(s string) bool {
	if len(s) < 1 || len(s) > 10 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isValidSpecChar(s[i]) {
			return false
		}
	}
	return true
}

func (t *Type) parsePrefix(raw string, start int, state vfs.State) (vfs.FilePath, string, error) {
	s := raw[start:]
	drive := vfs.NameComponent{Value: state.CurrentDrive()}
	dir := vfs.NameComponent{Value: state.CurrentDir()}

	if strings.HasPrefix(s, ":") {
		if len(s) < 2 || !isValidDriveChar(s[1]) {
			return vfs.FilePath{}, "", beeberr.BadDrive()
		}
		drive = vfs.NameComponent{Value: string(s[1]), Explicit: true}
		s = s[2:]
		if strings.HasPrefix(s, ".") {
			s = s[1:]
		}
	}
	if len(s) >= 2 && s[1] == '.' && isValidDirChar(s[0]) {
		dir = vfs.NameComponent{Value: string(s[0]), Explicit: true}
		s = s[2:]
	}
	return vfs.FilePath{Drive: drive, Dir: dir}, s, nil
}

func (t *Type) ParseFileString(raw string, start int, state vfs.State, volume *vfs.Volume, volumeExplicit bool) (vfs.FQN, error) {
	path, rest, err := t.parsePrefix(raw, start, state)
	if err != nil {
		return vfs.FQN{}, err
	}
	if !isValidFileSpec(rest) {
		return vfs.FQN{}, beeberr.BadName()
	}
	return vfs.FQN{
		Volume: volume, VolumeExplicit: volumeExplicit,
		Drive: path.Drive, Dir: path.Dir,
		Name: vfs.NameComponent{Value: rest, Explicit: true},
	}, nil
}

func (t *Type) ParseDirString(raw string, start int, state vfs.State, volume *vfs.Volume, volumeExplicit bool) (vfs.FilePath, error) {
	path, rest, err := t.parsePrefix(raw, start, state)
	if err != nil {
		return vfs.FilePath{}, err
	}
	if rest != "" {
		if len(rest) != 1 || !isValidDirChar(rest[0]) {
			return vfs.FilePath{}, beeberr.BadDir()
		}
		path.Dir = vfs.NameComponent{Value: rest, Explicit: true}
	}
	return path, nil
}

func drivePath(volume *vfs.Volume, drive string) string {
	return filepath.Join(volume.Path, drive)
}

func hostName(dir, name string) string { return dir + "." + name }

// HostPathFor computes where fqn would live on the host, whether or not it
// exists yet (§4.3 OSFILE save/create, OSFIND open-for-write).
func (t *Type) HostPathFor(fqn vfs.FQN) (string, error) {
	if !t.IsValidBeebFileName(fqn.Name.Value) {
		return "", beeberr.BadName()
	}
	return filepath.Join(drivePath(fqn.Volume, fqn.Drive.Value), hostName(fqn.Dir.Value, fqn.Name.Value)), nil
}

func splitHostName(fileName string) (dir, name string, ok bool) {
	idx := strings.IndexByte(fileName, '.')
	if idx != 1 {
		return "", "", false
	}
	return fileName[:1], fileName[2:], true
}

func listDrive(volume *vfs.Volume, drive string) ([]*vfs.File, error) {
	entries, err := os.ReadDir(drivePath(volume, drive))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, beeberr.FromHostError(err)
	}
	var files []*vfs.File
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), inf.Suffix) {
			continue
		}
		dir, name, ok := splitHostName(e.Name())
		if !ok {
			continue
		}
		hostPath := filepath.Join(drivePath(volume, drive), e.Name())
		meta, err := inf.Read(hostPath, name)
		if err != nil {
			return nil, err
		}
		files = append(files, &vfs.File{
			FQN: vfs.FQN{
				Volume: volume,
				Drive:  vfs.NameComponent{Value: drive, Explicit: true},
				Dir:    vfs.NameComponent{Value: dir, Explicit: true},
				Name:   vfs.NameComponent{Value: name, Explicit: true},
			},
			HostPath: hostPath,
			Meta:     meta,
		})
	}
	return files, nil
}

func listDrives(volume *vfs.Volume) ([]string, error) {
	entries, err := os.ReadDir(volume.Path)
	if err != nil {
		return nil, beeberr.FromHostError(err)
	}
	var drives []string
	for _, e := range entries {
		if e.IsDir() && len(e.Name()) == 1 && isValidDriveChar(e.Name()[0]) {
			drives = append(drives, e.Name())
		}
	}
	sort.Strings(drives)
	return drives, nil
}

func (t *Type) FindObjectsMatching(fqn vfs.FQN) ([]*vfs.File, error) {
	files, err := listDrive(fqn.Volume, fqn.Drive.Value)
	if err != nil {
		return nil, err
	}
	var matched []*vfs.File
	for _, f := range files {
		ok, err := matchesSpec(fqn, f)
		if err != nil {
			return nil, err
		}
		if ok {
			matched = append(matched, f)
		}
	}
	return matched, nil
}

// matchesSpec matches one stored file against a filespec's dir and name,
// both treated as AFSP patterns.
func matchesSpec(fqn vfs.FQN, f *vfs.File) (bool, error) {
	ok, err := bbcbytes.MatchAFSP(fqn.Dir.Value, f.FQN.Dir.Value)
	if err != nil {
		return false, beeberr.DiscFaultf("bad wildcard: %v", err)
	}
	if !ok {
		return false, nil
	}
	ok, err = bbcbytes.MatchAFSP(fqn.Name.Value, f.FQN.Name.Value)
	if err != nil {
		return false, beeberr.DiscFaultf("bad wildcard: %v", err)
	}
	return ok, nil
}

func (t *Type) LocateBeebFiles(fqn vfs.FQN) ([]*vfs.File, error) {
	if fqn.Drive.Explicit && fqn.Dir.Explicit {
		return t.FindObjectsMatching(fqn)
	}
	drives := []string{fqn.Drive.Value}
	if !fqn.Drive.Explicit {
		var err error
		drives, err = listDrives(fqn.Volume)
		if err != nil {
			return nil, err
		}
	}
	var all []*vfs.File
	for _, drive := range drives {
		files, err := listDrive(fqn.Volume, drive)
		if err != nil {
			return nil, err
		}
		for _, f := range files {
			if fqn.Dir.Explicit {
				ok, err := matchesSpec(fqn, f)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
			} else {
				ok, err := bbcbytes.MatchAFSP(fqn.Name.Value, f.FQN.Name.Value)
				if err != nil {
					return nil, beeberr.DiscFaultf("bad wildcard: %v", err)
				}
				if !ok {
					continue
				}
			}
			all = append(all, f)
		}
	}
	return all, nil
}

func (t *Type) GetCAT(path vfs.FilePath, state vfs.State) (string, error) {
	files, err := listDrive(path.Volume, path.Drive.Value)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	b.WriteString("Volume: " + path.Volume.Name)
	b.WriteString(bbcbytes.BNL)
	b.WriteString(bbcbytes.BNL)

	sort.Slice(files, func(i, j int) bool {
		if files[i].FQN.Dir.Value != files[j].FQN.Dir.Value {
			return files[i].FQN.Dir.Value < files[j].FQN.Dir.Value
		}
		return files[i].FQN.Name.Value < files[j].FQN.Name.Value
	})
	for _, f := range files {
		entry := "  " + f.FQN.Dir.Value + "." + f.FQN.Name.Value
		if f.Meta.Bits.Locked() {
			entry += " L"
		}
		b.WriteString(bbcbytes.PadColumn(entry, 20))
	}
	return b.String(), nil
}

func (t *Type) DeleteFile(file *vfs.File) error {
	if file.Meta.Bits.Locked() {
		return beeberr.Locked()
	}
	if err := os.Remove(file.HostPath); err != nil {
		return beeberr.FromHostError(err)
	}
	return inf.Remove(file.HostPath)
}

func (t *Type) Rename(oldFile *vfs.File, newFQN vfs.FQN) (*vfs.File, error) {
	if oldFile.Meta.Bits.Locked() {
		return nil, beeberr.Locked()
	}
	if !t.IsValidBeebFileName(newFQN.Name.Value) {
		return nil, beeberr.BadName()
	}
	newHostPath := filepath.Join(drivePath(newFQN.Volume, newFQN.Drive.Value), hostName(newFQN.Dir.Value, newFQN.Name.Value))
	for _, p := range []string{newHostPath, inf.Path(newHostPath)} {
		if _, err := os.Stat(p); err == nil {
			return nil, beeberr.Exists()
		} else if !os.IsNotExist(err) {
			return nil, beeberr.FromHostError(err)
		}
	}
	if err := os.Rename(oldFile.HostPath, newHostPath); err != nil {
		return nil, beeberr.FromHostError(err)
	}
	meta := oldFile.Meta
	meta.Name = newFQN.Name.Value
	if err := inf.Write(newHostPath, meta); err != nil {
		return nil, err
	}
	_ = inf.Remove(oldFile.HostPath)
	return &vfs.File{FQN: newFQN, HostPath: newHostPath, Meta: meta}, nil
}

func (t *Type) WriteBeebMetadata(hostPath string, fqn vfs.FQN, meta inf.Meta) error {
	meta.Name = fqn.Name.Value
	return inf.Write(hostPath, meta)
}

func (t *Type) GetNewAttributes(old inf.AttrBits, attrStr string) (inf.AttrBits, bool, error) {
	switch {
	case attrStr == "":
		return 0, true, nil
	case strings.EqualFold(attrStr, "L"):
		return inf.AttrL, true, nil
	default:
		return 0, false, beeberr.BadAttribute()
	}
}
