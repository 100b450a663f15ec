// Package vfs defines the filing-system abstraction shared by every BBC
// personality beeblinkd emulates (DFS-like, ADFS-like, flat PC) — the
// common FQN/volume/open-file machinery from spec.md §3 and §4.2. Concrete
// personalities live in the dfs, adfs and pc subpackages and satisfy the
// Type interface defined here, the way a teacher-style Fs.RegInfo table
// lets multiple rclone backends share one Fs/Object contract.
package vfs

import (
	"fmt"

	"github.com/beeblink/beeblinkd/internal/inf"
)

// VolumeKind identifies which on-disk personality a Volume uses.
type VolumeKind int

const (
	KindDFS VolumeKind = iota
	KindADFS
	KindPC
)

func (k VolumeKind) String() string {
	switch k {
	case KindDFS:
		return "DFS"
	case KindADFS:
		return "ADFS"
	case KindPC:
		return "PC"
	default:
		return "?"
	}
}

// Volume is a directory on the host containing BBC files, discovered once
// at startup and immutable thereafter; the ReadOnly override applied by
// "*VOL name R" is set on a per-session copy (see session.Mount) (§3).
type Volume struct {
	Name     string
	Path     string
	ReadOnly bool
	Kind     VolumeKind
	Type     Type
}

// NameComponent is one part of an FQN/FilePath, with a flag recording
// whether the user typed it explicitly or it was filled in from session
// defaults (§3).
type NameComponent struct {
	Value    string
	Explicit bool
}

// FQN is a fully qualified name: (volume, drive, dir, name) (§3).
type FQN struct {
	Volume         *Volume
	VolumeExplicit bool
	Drive          NameComponent
	Dir            NameComponent
	Name           NameComponent
}

// FilePath is an FQN without a name component, used for *CAT/*DIR-style
// operations that address a drive/directory rather than one file.
type FilePath struct {
	Volume         *Volume
	VolumeExplicit bool
	Drive          NameComponent
	Dir            NameComponent
}

// String renders the FQN the way a DFS catalogue entry would, e.g.
// ":0.$.FILE" — used for error messages and the parseFileString round-trip
// law (§8).
func (f FQN) String() string {
	return fmt.Sprintf(":%s.%s.%s", f.Drive.Value, f.Dir.Value, f.Name.Value)
}

func (p FilePath) String() string {
	return fmt.Sprintf(":%s.%s", p.Drive.Value, p.Dir.Value)
}

// State is the subset of session state the filing-system types need to
// resolve unspecified drive/dir components: the BBC's currently selected
// directory (CSD) and library (§ GLOSSARY).
type State interface {
	CurrentDrive() string
	CurrentDir() string
	LibraryDrive() string
	LibraryDir() string
}

// File is one stored BBC file: its FQN, its path on the host, and its
// parsed INF metadata.
type File struct {
	FQN      FQN
	HostPath string
	Meta     inf.Meta
}

// Type is the common interface every filing-system personality
// implements (§4.2).
type Type interface {
	// Name identifies the personality for catalogue/*INFO headers and the
	// OSARGS(0,...) filesystem-identity query.
	Name() string

	ParseFileString(raw string, start int, state State, volume *Volume, volumeExplicit bool) (FQN, error)
	ParseDirString(raw string, start int, state State, volume *Volume, volumeExplicit bool) (FilePath, error)
	IsValidBeebFileName(name string) bool

	// FindObjectsMatching resolves an FQN that may contain AFSP wildcards
	// against the volume's files.
	FindObjectsMatching(fqn FQN) ([]*File, error)
	// LocateBeebFiles is like FindObjectsMatching, but when drive/dir were
	// not given explicitly it scans every drive/dir in the volume instead
	// of just the current one.
	LocateBeebFiles(fqn FQN) ([]*File, error)

	GetCAT(path FilePath, state State) (string, error)

	// HostPathFor computes the host path a (possibly not-yet-existing)
	// fqn would live at, for OSFILE save/create and OSFIND open-for-write,
	// which need somewhere to write before any File value exists.
	HostPathFor(fqn FQN) (string, error)

	DeleteFile(file *File) error
	Rename(oldFile *File, newFQN FQN) (*File, error)

	WriteBeebMetadata(hostPath string, fqn FQN, meta inf.Meta) error

	// GetNewAttributes validates and parses an OSFILE/attr-change attribute
	// string against the personality's rules. ok is false if the
	// personality doesn't support changing attributes at all (PC).
	GetNewAttributes(old inf.AttrBits, attrStr string) (bits inf.AttrBits, ok bool, err error)

	CanWrite() bool
}
