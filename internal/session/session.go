// Package session implements the per-connection session object (§5,
// Module L): one instance per logical BBC connection (one per serial
// port, or one per HTTP tunnel sender_id), owning that connection's
// mounted volume, current/library drive-and-directory, open-file table,
// any in-flight disk-image flow, accumulated string-output buffer, link
// subtype, and cached ROM images. Grounded on the teacher's backend `Fs`
// struct convention: a struct holding parsed options plus runtime state,
// constructed once per remote and then driving every operation against
// that state (backend/local/local.go's Fs, backend/sftp/fs.go's Fs).
package session

import (
	"sort"
	"strings"
	"sync"

	"github.com/beeblink/beeblinkd/internal/beeberr"
	"github.com/beeblink/beeblinkd/internal/browser"
	"github.com/beeblink/beeblinkd/internal/diskimage"
	"github.com/beeblink/beeblinkd/internal/vfs"
)

// DefaultDrive/DefaultDir are the CSD the server starts (and resets) a
// session at, matching DFS convention: drive "0", directory "$".
const (
	DefaultDrive = "0"
	DefaultDir   = "$"
)

// Session is one logical BBC connection's state.
type Session struct {
	mu sync.Mutex

	volumes []*vfs.Volume

	Volume         *vfs.Volume
	VolumeExplicit bool

	Drive string
	Dir   string

	LibDrive string
	LibDir   string

	Files *vfs.OpenFileTable

	Flow diskimage.Flow

	// FlowImagePath is the host path a read Flow's accumulated image gets
	// persisted to on Finish, and a write Flow's source image was read
	// from on Start. Set alongside Flow; cleared with it.
	FlowImagePath string

	// StringOutput is the pending text buffer READ_STRING/
	// READ_STRING_VERBOSE paginate back to the BBC a request at a time
	// (§4.7).
	StringOutput []byte

	LinkSubtype byte

	// ROMs maps a link subtype byte to its cached ROM image, served by
	// GET_ROM (§4.7). Populated at startup from configured ROM paths
	// (Module M); loading the files themselves is out of this package's
	// scope.
	ROMs map[byte][]byte

	Browser *browser.State
	Speed   *browser.SpeedTest
}

// New returns a session with the given discovered volumes and ROM table,
// at the default (unmounted) CSD.
func New(volumes []*vfs.Volume, roms map[byte][]byte) *Session {
	s := &Session{
		volumes: volumes,
		Drive:   DefaultDrive,
		Dir:     DefaultDir,
		LibDrive: DefaultDrive,
		LibDir:   DefaultDir,
		Files:   vfs.NewOpenFileTable(),
		ROMs:    roms,
		Browser: browser.NewState(volumes),
		Speed:   browser.NewSpeedTest(),
	}
	return s
}

// vfs.State implementation: the CSD/library drive-and-dir the filing-
// system types consult to fill in unspecified FQN components (§4.2).
func (s *Session) CurrentDrive() string { return s.Drive }
func (s *Session) CurrentDir() string   { return s.Dir }
func (s *Session) LibraryDrive() string { return s.LibDrive }
func (s *Session) LibraryDir() string   { return s.LibDir }

// Lock/Unlock expose the session mutex to dispatch handlers, which run
// one at a time per session but may be invoked from either the serial
// loop or a tunnel HTTP handler goroutine (§5 "no sharing of mutable
// session state across transports or ports" — the mutex enforces that
// within a single session even though the spec's guarantee is about
// cross-session independence, not intra-session concurrency, which this
// implementation still serializes defensively).
func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Volumes returns the discovered volume list, sorted by name.
func (s *Session) Volumes() []*vfs.Volume {
	out := append([]*vfs.Volume(nil), s.volumes...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FindVolume looks up a discovered volume by name, case-insensitively.
func (s *Session) FindVolume(name string) (*vfs.Volume, error) {
	for _, v := range s.volumes {
		if strings.EqualFold(v.Name, name) {
			return v, nil
		}
	}
	return nil, beeberr.Newf(beeberr.CodeBadName, "Volume not found: %s", name)
}

// Mount selects vol as the current volume, resetting the CSD/library to
// their defaults and closing any files open against the previous volume
// (§4.2 "*VOL"). readOnlyOverride forces vol.ReadOnly for this session
// without mutating the shared Volume discovered at startup.
func (s *Session) Mount(vol *vfs.Volume, readOnlyOverride bool) error {
	releaseWriteLocks(s.Files)
	if err := s.Files.CloseAll(); err != nil {
		return err
	}
	mounted := *vol
	mounted.ReadOnly = vol.ReadOnly || readOnlyOverride
	s.Volume = &mounted
	s.Flow = nil
	s.FlowImagePath = ""
	s.StringOutput = nil
	s.VolumeExplicit = true
	s.Drive = DefaultDrive
	s.Dir = DefaultDir
	s.LibDrive = DefaultDrive
	s.LibDir = DefaultDir
	return nil
}

// Reset implements REQUEST_RESET (§4.6): closes every open handle, drops
// any in-flight disk-image flow, resets the CSD/library to their defaults
// when hard is true, and — if a second payload byte was sent — records the
// link subtype it names.
func (s *Session) Reset(hard bool, linkSubtype *byte) error {
	releaseWriteLocks(s.Files)
	if err := s.Files.CloseAll(); err != nil {
		return err
	}
	s.Flow = nil
	s.FlowImagePath = ""
	s.StringOutput = nil
	if hard {
		s.Drive = DefaultDrive
		s.Dir = DefaultDir
		s.LibDrive = DefaultDrive
		s.LibDir = DefaultDir
	}
	if linkSubtype != nil {
		s.LinkSubtype = *linkSubtype
	}
	return nil
}

// releaseWriteLocks releases the process-wide write locks (§5) held by
// every handle in files, ahead of a close-all.
func releaseWriteLocks(files *vfs.OpenFileTable) {
	for _, path := range files.WritePaths() {
		vfs.ReleaseWriteLock(path)
	}
}

// RequireVolume returns the current volume or a BadName-flavoured error if
// none is mounted yet.
func (s *Session) RequireVolume() (*vfs.Volume, error) {
	if s.Volume == nil {
		return nil, beeberr.New(beeberr.CodeBadName, "No volume")
	}
	return s.Volume, nil
}
