// Package registry wires the concrete filing-system personalities (dfs,
// adfs, pc) into a vfs.TypeFactory, kept separate from package vfs itself
// to avoid an import cycle (the personalities import vfs; vfs must not
// import them back).
package registry

import (
	"github.com/beeblink/beeblinkd/internal/vfs"
	"github.com/beeblink/beeblinkd/internal/vfs/adfs"
	"github.com/beeblink/beeblinkd/internal/vfs/dfs"
	"github.com/beeblink/beeblinkd/internal/vfs/pc"
)

// NewTypeFactory returns the vfs.TypeFactory used by vfs.Finder to build a
// Type for each discovered volume kind.
func NewTypeFactory() vfs.TypeFactory {
	return func(kind vfs.VolumeKind) vfs.Type {
		switch kind {
		case vfs.KindADFS:
			return adfs.New()
		case vfs.KindPC:
			return pc.New()
		default:
			return dfs.New()
		}
	}
}
