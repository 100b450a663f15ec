// Package dfs implements the DFS-like filing-system personality: one
// subdirectory per single-character drive, files named "D.NAME" inside it,
// and per-drive .opt4/.title metadata (§3, §4.2, §6).
package dfs

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/beeblink/beeblinkd/internal/beeberr"
	"github.com/beeblink/beeblinkd/internal/bbcbytes"
	"github.com/beeblink/beeblinkd/internal/inf"
	"github.com/beeblink/beeblinkd/internal/vfs"
)

// Type implements vfs.Type for DFS-style volumes.
type Type struct{}

// New returns a DFS Type. It takes no options: unlike an rclone backend,
// a filing-system personality here has no per-volume configuration beyond
// the Volume itself.
func New() *Type { return &Type{} }

func (t *Type) Name() string { return "DFS" }

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

// isValidSpecChar additionally permits the AFSP wildcards, so an
// ambiguous filespec like "*.*" or "FIL#" parses through to
// FindObjectsMatching rather than being rejected as a bad name.
func isValidSpecChar(c byte) bool {
	return isValidNameChar(c) || c == '*' || c == '#'
}

// IsValidBeebFileName reports whether name is a legal DFS file name: 1-10
// printable characters, none of them the reserved parser punctuation.
// Wildcards are not names; they are only legal in a filespec.
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

// ParseFileString parses "[:D[.]][X.]NAME" into an FQN, filling
// unspecified drive/dir from state (§4.2). The name part may carry AFSP
// wildcards; whether those are acceptable is for the caller's operation
// to decide (matching allows them, create/save paths reject them via
// HostPathFor).
func (t *Type) ParseFileString(raw string, start int, state vfs.State, volume *vfs.Volume, volumeExplicit bool) (vfs.FQN, error) {
	path, rest, err := t.parseDrivePrefix(raw, start, state)
	if err != nil {
		return vfs.FQN{}, err
	}
	if !isValidFileSpec(rest) {
		return vfs.FQN{}, beeberr.BadName()
	}
	return vfs.FQN{
		Volume:         volume,
		VolumeExplicit: volumeExplicit,
		Drive:          path.Drive,
		Dir:            path.Dir,
		Name:           vfs.NameComponent{Value: rest, Explicit: true},
	}, nil
}

// ParseDirString parses "[:D[.]]X" (with X optionally elided, defaulting
// to the current directory) into a FilePath.
func (t *Type) ParseDirString(raw string, start int, state vfs.State, volume *vfs.Volume, volumeExplicit bool) (vfs.FilePath, error) {
	path, rest, err := t.parseDrivePrefix(raw, start, state)
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

// parseDrivePrefix consumes an optional ":D[.]" drive prefix and an
// optional "X." directory prefix, returning the remainder of the string.
func (t *Type) parseDrivePrefix(raw string, start int, state vfs.State) (vfs.FilePath, string, error) {
	s := raw[start:]
	drive := vfs.NameComponent{Value: state.CurrentDrive()}
	dir := vfs.NameComponent{Value: state.CurrentDir()}

	if strings.HasPrefix(s, ":") {
		if len(s) < 2 {
			return vfs.FilePath{}, "", beeberr.BadDrive()
		}
		if !isValidDriveChar(s[1]) {
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

// drivePath returns the host directory for a drive.
func drivePath(volume *vfs.Volume, drive string) string {
	return filepath.Join(volume.Path, drive)
}

// HostPathFor computes where fqn would live on the host, whether or not it
// exists yet (§4.3 OSFILE save/create, OSFIND open-for-write).
func (t *Type) HostPathFor(fqn vfs.FQN) (string, error) {
	if !t.IsValidBeebFileName(fqn.Name.Value) {
		return "", beeberr.BadName()
	}
	return filepath.Join(drivePath(fqn.Volume, fqn.Drive.Value), hostName(fqn.Dir.Value, fqn.Name.Value)), nil
}

// hostName is the "D.NAME" convention for a file's on-disk name within its
// drive directory.
func hostName(dir, name string) string {
	return dir + "." + name
}

// splitHostName reverses hostName, given a host filename that isn't an
// INF sidecar or drive-metadata file.
func splitHostName(fileName string) (dir, name string, ok bool) {
	idx := strings.IndexByte(fileName, '.')
	if idx != 1 {
		return "", "", false
	}
	return fileName[:1], fileName[2:], true
}

func isDriveMetadataFile(name string) bool {
	return name == ".opt4" || name == ".title" || strings.HasSuffix(name, inf.Suffix)
}

// listDrive lists every stored file in one drive directory.
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
		if e.IsDir() || isDriveMetadataFile(e.Name()) {
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

// listDrives enumerates the single-character drive directories present in
// a volume.
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

// FindObjectsMatching resolves an FQN (whose Name may contain AFSP
// wildcards) against the files in its explicit drive/dir.
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
// both AFSP patterns (the dir is a single character, but "*"/"#" there
// are wildcards too).
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

// LocateBeebFiles is FindObjectsMatching, but scans every drive/dir in the
// volume when the corresponding component wasn't given explicitly.
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

// DeleteFile removes a file and its INF sidecar, rejecting locked files.
func (t *Type) DeleteFile(file *vfs.File) error {
	if file.Meta.Bits.Locked() {
		return beeberr.Locked()
	}
	if err := os.Remove(file.HostPath); err != nil {
		return beeberr.FromHostError(err)
	}
	return inf.Remove(file.HostPath)
}

// Rename moves a file within its volume. The destination must not already
// exist, as data or as an orphaned INF sidecar (§4.2, §7).
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

// WriteBeebMetadata writes (or rewrites) the INF sidecar for a stored file.
func (t *Type) WriteBeebMetadata(hostPath string, fqn vfs.FQN, meta inf.Meta) error {
	meta.Name = fqn.Name.Value
	return inf.Write(hostPath, meta)
}

// GetNewAttributes parses a *ACCESS-style attribute string: "" (clear to
// default) or "L"/"l" (lock) are the only legal values for DFS (§4.2).
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

// readOpt4 reads a drive's boot option, defaulting to 0 (§3).
func readOpt4(volume *vfs.Volume, drive string) (int, error) {
	data, err := os.ReadFile(filepath.Join(drivePath(volume, drive), ".opt4"))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, beeberr.FromHostError(err)
	}
	s := strings.TrimSpace(string(data))
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 || v > 3 {
		return 0, nil
	}
	return v, nil
}

// readTitle reads a drive's title, defaulting to "" (§3).
func readTitle(volume *vfs.Volume, drive string) (string, error) {
	data, err := os.ReadFile(filepath.Join(drivePath(volume, drive), ".title"))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", beeberr.FromHostError(err)
	}
	title := strings.TrimSpace(string(data))
	if len(title) > 39 {
		title = title[:39]
	}
	return title, nil
}

// ReadOpt4 is the exported form of readOpt4, for callers outside this
// package (the BOOT_OPTION request handler).
func ReadOpt4(volume *vfs.Volume, drive string) (int, error) {
	return readOpt4(volume, drive)
}

// ReadTitle is the exported form of readTitle, for the OSGBPB
// title-enumeration handler.
func ReadTitle(volume *vfs.Volume, drive string) (string, error) {
	return readTitle(volume, drive)
}

// WriteOpt4 persists a drive's boot option.
func WriteOpt4(volume *vfs.Volume, drive string, opt int) error {
	return os.WriteFile(filepath.Join(drivePath(volume, drive), ".opt4"), []byte(strconv.Itoa(opt)+"\n"), 0644)
}

// WriteTitle persists a drive's title.
func WriteTitle(volume *vfs.Volume, drive, title string) error {
	if len(title) > 39 {
		title = title[:39]
	}
	return os.WriteFile(filepath.Join(drivePath(volume, drive), ".title"), []byte(title+"\n"), 0644)
}
