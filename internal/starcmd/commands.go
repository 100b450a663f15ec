package starcmd

import (
	"sort"
	"strconv"
	"strings"

	"github.com/beeblink/beeblinkd/internal/beeberr"
	"github.com/beeblink/beeblinkd/internal/inf"
	"github.com/beeblink/beeblinkd/internal/session"
	"github.com/beeblink/beeblinkd/internal/vfs"
	"github.com/beeblink/beeblinkd/internal/vfs/dfs"
)

// Register installs the concrete BBC *-commands this server implements
// into t. Kept as a free function rather than package-level init() since
// a Table is constructed per process (not per-package-load) and takes a
// *RUN fallback as a constructor argument (§4.4, Module J).
func Register(t *Table) {
	t.Register("CAT", "(drive)", cmdCAT)
	t.Register("DIR", "(dir)", cmdDIR)
	t.Register("DRIVE", "(drive)", cmdDRIVE)
	t.Register("LIB", "(dir)", cmdLIB)
	t.Register("TITLE", "<title>", cmdTITLE)
	t.Register("ACCESS", "<afsp> (attr)", cmdACCESS)
	t.Register("DELETE", "<fsp>", cmdDELETE)
	t.Register("RENAME", "<old> <new>", cmdRENAME)
	t.Register("INFO", "<afsp>", cmdINFO)
	t.Register("EX", "(dir)", cmdEX)
	t.Register("OPT", "<drive> <option>", cmdOPT)
	t.Register("VOL", "<name> (R)", cmdVOL)
	t.Register("VOLS", "", cmdVOLS)
}

func arg(parts []string, i int) string {
	if i < len(parts) {
		return parts[i]
	}
	return ""
}

func cmdCAT(s *session.Session, parts []string, y int) (string, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return "", err
	}
	path := vfs.FilePath{Volume: vol, VolumeExplicit: s.VolumeExplicit, Drive: vfs.NameComponent{Value: s.Drive}, Dir: vfs.NameComponent{Value: s.Dir}}
	if a := arg(parts, 1); a != "" {
		p, err := vol.Type.ParseDirString(a, 0, s, vol, true)
		if err != nil {
			return "", err
		}
		path = p
	}
	return vol.Type.GetCAT(path, s)
}

func cmdDIR(s *session.Session, parts []string, y int) (string, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return "", err
	}
	a := arg(parts, 1)
	if a == "" {
		return "", nil
	}
	path, err := vol.Type.ParseDirString(a, 0, s, vol, true)
	if err != nil {
		return "", err
	}
	s.Drive = path.Drive.Value
	s.Dir = path.Dir.Value
	return "", nil
}

func cmdDRIVE(s *session.Session, parts []string, y int) (string, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return "", err
	}
	a := arg(parts, 1)
	if a == "" {
		return "", nil
	}
	path, err := vol.Type.ParseDirString(a, 0, s, vol, true)
	if err != nil {
		return "", err
	}
	s.Drive = path.Drive.Value
	return "", nil
}

func cmdLIB(s *session.Session, parts []string, y int) (string, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return "", err
	}
	a := arg(parts, 1)
	if a == "" {
		return "", nil
	}
	path, err := vol.Type.ParseDirString(a, 0, s, vol, true)
	if err != nil {
		return "", err
	}
	s.LibDrive = path.Drive.Value
	s.LibDir = path.Dir.Value
	return "", nil
}

func cmdTITLE(s *session.Session, parts []string, y int) (string, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return "", err
	}
	if _, ok := vol.Type.(*dfs.Type); !ok {
		return "", beeberr.VolumeReadOnly()
	}
	title := strings.TrimSpace(arg(parts, 1))
	if title == "" {
		return "", beeberr.Syntax("")
	}
	return "", dfs.WriteTitle(vol, s.Drive, title)
}

func cmdOPT(s *session.Session, parts []string, y int) (string, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return "", err
	}
	if _, ok := vol.Type.(*dfs.Type); !ok {
		return "", beeberr.VolumeReadOnly()
	}
	driveArg := arg(parts, 1)
	optArg := arg(parts, 2)
	if driveArg == "" || optArg == "" {
		return "", beeberr.Syntax("")
	}
	opt, err := strconv.Atoi(optArg)
	if err != nil || opt < 0 || opt > 3 {
		return "", beeberr.Syntax("")
	}
	return "", dfs.WriteOpt4(vol, driveArg, opt)
}

func cmdACCESS(s *session.Session, parts []string, y int) (string, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return "", err
	}
	spec := arg(parts, 1)
	if spec == "" {
		return "", beeberr.Syntax("")
	}
	attrStr := arg(parts, 2)
	fqn, err := vol.Type.ParseFileString(spec, 0, s, vol, s.VolumeExplicit)
	if err != nil {
		return "", err
	}
	files, err := vol.Type.LocateBeebFiles(fqn)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", beeberr.FileNotFound()
	}
	for _, f := range files {
		bits, ok, err := vol.Type.GetNewAttributes(f.Meta.Bits, attrStr)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", beeberr.BadAttribute()
		}
		meta := f.Meta
		meta.Bits = bits
		if err := vol.Type.WriteBeebMetadata(f.HostPath, f.FQN, meta); err != nil {
			return "", err
		}
	}
	return "", nil
}

func cmdDELETE(s *session.Session, parts []string, y int) (string, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return "", err
	}
	spec := arg(parts, 1)
	if spec == "" {
		return "", beeberr.Syntax("")
	}
	fqn, err := vol.Type.ParseFileString(spec, 0, s, vol, s.VolumeExplicit)
	if err != nil {
		return "", err
	}
	files, err := vol.Type.FindObjectsMatching(fqn)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", beeberr.FileNotFound()
	}
	for _, f := range files {
		if err := vol.Type.DeleteFile(f); err != nil {
			return "", err
		}
	}
	return "", nil
}

func cmdRENAME(s *session.Session, parts []string, y int) (string, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return "", err
	}
	oldSpec, newSpec := arg(parts, 1), arg(parts, 2)
	if oldSpec == "" || newSpec == "" {
		return "", beeberr.Syntax("")
	}
	oldFQN, err := vol.Type.ParseFileString(oldSpec, 0, s, vol, s.VolumeExplicit)
	if err != nil {
		return "", err
	}
	newFQN, err := vol.Type.ParseFileString(newSpec, 0, s, vol, s.VolumeExplicit)
	if err != nil {
		return "", err
	}
	files, err := vol.Type.FindObjectsMatching(oldFQN)
	if err != nil {
		return "", err
	}
	if len(files) != 1 {
		return "", beeberr.FileNotFound()
	}
	_, err = vol.Type.Rename(files[0], newFQN)
	return "", err
}

func cmdINFO(s *session.Session, parts []string, y int) (string, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return "", err
	}
	spec := arg(parts, 1)
	if spec == "" {
		return "", beeberr.Syntax("")
	}
	fqn, err := vol.Type.ParseFileString(spec, 0, s, vol, s.VolumeExplicit)
	if err != nil {
		return "", err
	}
	files, err := vol.Type.LocateBeebFiles(fqn)
	if err != nil {
		return "", err
	}
	return formatInfoLines(files), nil
}

func cmdEX(s *session.Session, parts []string, y int) (string, error) {
	vol, err := s.RequireVolume()
	if err != nil {
		return "", err
	}
	drive, dir := s.Drive, s.Dir
	if a := arg(parts, 1); a != "" {
		path, err := vol.Type.ParseDirString(a, 0, s, vol, true)
		if err != nil {
			return "", err
		}
		drive, dir = path.Drive.Value, path.Dir.Value
	}
	fqn := vfs.FQN{
		Volume: vol, VolumeExplicit: true,
		Drive: vfs.NameComponent{Value: drive, Explicit: true},
		Dir:   vfs.NameComponent{Value: dir, Explicit: true},
		Name:  vfs.NameComponent{Value: "*"},
	}
	files, err := vol.Type.FindObjectsMatching(fqn)
	if err != nil {
		return "", err
	}
	return formatInfoLines(files), nil
}

func formatInfoLines(files []*vfs.File) string {
	sort.Slice(files, func(i, j int) bool {
		if files[i].FQN.Dir.Value != files[j].FQN.Dir.Value {
			return files[i].FQN.Dir.Value < files[j].FQN.Dir.Value
		}
		return files[i].FQN.Name.Value < files[j].FQN.Name.Value
	})
	var b strings.Builder
	for _, f := range files {
		attr := "  "
		if f.Meta.Bits.Locked() {
			attr = " L"
		}
		b.WriteString(infoLine(f.FQN.Dir.Value, f.FQN.Name.Value, f.Meta, attr))
	}
	return b.String()
}

func infoLine(dir, name string, meta inf.Meta, attr string) string {
	return dir + "." + strings.ToUpper(name) + attr +
		"  " + hex8(meta.Load) + " " + hex8(meta.Exec) + "\r\n"
}

func hex8(v uint32) string {
	s := strconv.FormatUint(uint64(v), 16)
	for len(s) < 8 {
		s = "0" + s
	}
	return strings.ToUpper(s)
}

func cmdVOL(s *session.Session, parts []string, y int) (string, error) {
	name := arg(parts, 1)
	if name == "" {
		return "", beeberr.Syntax("")
	}
	readOnly := strings.EqualFold(arg(parts, 2), "R")
	vol, err := s.FindVolume(name)
	if err != nil {
		return "", err
	}
	if err := s.Mount(vol, readOnly); err != nil {
		return "", err
	}
	return "", nil
}

func cmdVOLS(s *session.Session, parts []string, y int) (string, error) {
	var b strings.Builder
	for _, v := range s.Volumes() {
		b.WriteString(v.Name + " (" + v.Kind.String() + ")\r\n")
	}
	return b.String(), nil
}
