package vfs

import (
	"os"
	"sync"

	"github.com/beeblink/beeblinkd/internal/beeberr"
)

// OpenMode is the BBC OSFIND mode byte family: read, write(create), or
// update(create) (§4.3).
type OpenMode int

const (
	ModeRead OpenMode = iota
	ModeWrite
	ModeUpdate
)

// MaxFileSize is the largest BBC file this server will create or extend;
// operations that would exceed it fail with "Too big" (§4.3, §7).
const MaxFileSize = 0xFFFFFF

// OpenFile is one entry in a session's open-file table (§3).
type OpenFile struct {
	FQN      FQN
	HostPath string
	F        *os.File
	Mode     OpenMode
	ReadPos  int64
	WritePos int64
	// EOFWarned is set after OSBGET has signalled EOF once; a second
	// OSBGET with the pointer still at EOF is the strict-mode EOF error
	// (§4.3, §7 "Read past EOF in strict mode"). Cleared whenever the
	// pointer moves or a read succeeds.
	EOFWarned  bool
	WriteDirty bool
}

// EOF reports whether the read pointer is at or past the current file
// length (§4.3 EOF(h)).
func (o *OpenFile) EOF() (bool, error) {
	fi, err := o.F.Stat()
	if err != nil {
		return false, beeberr.FromHostError(err)
	}
	return o.ReadPos >= fi.Size(), nil
}

// OpenFileTable is the per-session table of open handles, in the
// configured [min,max] range set by SET_FILE_HANDLE_RANGE (§4.2).
type OpenFileTable struct {
	mu       sync.Mutex
	min, max int
	files    map[int]*OpenFile
}

// NewOpenFileTable returns a table with the BeebLink-conventional default
// handle range.
func NewOpenFileTable() *OpenFileTable {
	t := &OpenFileTable{files: make(map[int]*OpenFile)}
	t.SetRange(0xA0, 0xBF)
	return t
}

// SetRange reconfigures the handle range. Existing open handles outside
// the new range are left untouched (they simply become unreachable by new
// Open calls); the BBC is expected to have closed everything first.
func (t *OpenFileTable) SetRange(min, max int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.min, t.max = min, max
}

// Open allocates the lowest free handle in range and records f as its
// backing *os.File. Returns handle 0 if the table is full.
func (t *OpenFileTable) Open(fqn FQN, hostPath string, f *os.File, mode OpenMode) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	for h := t.min; h <= t.max; h++ {
		if _, used := t.files[h]; !used {
			t.files[h] = &OpenFile{FQN: fqn, HostPath: hostPath, F: f, Mode: mode}
			return h
		}
	}
	return 0
}

// Get returns the open file at handle h.
func (t *OpenFileTable) Get(h int) (*OpenFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.files[h]
	if !ok {
		return nil, beeberr.Channel()
	}
	return of, nil
}

// Close closes handle h, flushing any pending write. h == 0 closes every
// open handle (§4.3 OSFINDClose).
func (t *OpenFileTable) Close(h int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if h == 0 {
		var firstErr error
		for handle, of := range t.files {
			if err := of.F.Close(); err != nil && firstErr == nil {
				firstErr = beeberr.FromHostError(err)
			}
			delete(t.files, handle)
		}
		return firstErr
	}
	of, ok := t.files[h]
	if !ok {
		// Idempotent from the server side (§3 Open-file table invariant).
		return nil
	}
	delete(t.files, h)
	if err := of.F.Close(); err != nil {
		return beeberr.FromHostError(err)
	}
	return nil
}

// CloseAll is Close(0), named for readability at call sites that aren't
// modeling the OSFIND wire convention directly.
func (t *OpenFileTable) CloseAll() error {
	return t.Close(0)
}

// WritePaths returns the host paths currently open for writing in this
// table, so a caller can release their process-wide write locks before a
// close-all (§4.3 OSFINDClose h==0).
func (t *OpenFileTable) WritePaths() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var paths []string
	for _, of := range t.files {
		if of.Mode != ModeRead {
			paths = append(paths, of.HostPath)
		}
	}
	return paths
}

// IsOpenForWrite reports whether any handle in the table is writing to
// hostPath, used to refuse an OSFILE delete of a file open for writing.
func (t *OpenFileTable) IsOpenForWrite(hostPath string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, of := range t.files {
		if of.HostPath == hostPath && of.Mode != ModeRead {
			return true
		}
	}
	return false
}

// writeLocks is the process-wide registry of host paths currently open for
// writing, enforcing spec.md §5's cross-session rule: the host file system
// is shared across all sessions, and the server must not open the same
// file for writing in two sessions simultaneously.
var writeLocks sync.Map // map[string]struct{}

// AcquireWriteLock claims hostPath for writing, failing with beeberr.Open()
// if another session already holds it.
func AcquireWriteLock(hostPath string) error {
	if _, loaded := writeLocks.LoadOrStore(hostPath, struct{}{}); loaded {
		return beeberr.Open()
	}
	return nil
}

// ReleaseWriteLock releases a lock acquired by AcquireWriteLock.
func ReleaseWriteLock(hostPath string) {
	writeLocks.Delete(hostPath)
}

// IsWriteLocked reports whether any session currently holds hostPath open
// for writing, without claiming it. Used to fail a read open of a file
// another session is writing (§4.3 "already open incompatibly").
func IsWriteLocked(hostPath string) bool {
	_, ok := writeLocks.Load(hostPath)
	return ok
}
