package vfs

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// MarkerFile names the file whose presence in a directory declares it a
// volume root (§3, §6).
const MarkerFile = ".beeblink-volume"

// TypeFactory builds a Type implementation for a discovered volume, given
// its on-disk kind. Built by registry.NewTypeFactory, which imports the
// dfs/adfs/pc packages so this package doesn't (avoiding an import cycle).
type TypeFactory func(kind VolumeKind) Type

// Finder discovers volumes under a set of search roots by walking for
// MarkerFile, the way the original server scans configured library paths
// at startup.
type Finder struct {
	SearchRoots []string
	NewType     TypeFactory

	// CacheDB, when non-nil, backs a per-root discovery cache in a small
	// embedded bbolt store: each root's volume list is kept alongside the
	// root directory's mtime and every marker file's mtime, and reused on
	// the next start when all of those still match, skipping the walk.
	// nil disables caching and every Find walks.
	CacheDB *bolt.DB
}

var cacheBucket = []byte("volume-discovery")

// cacheTTL bounds how stale a cached root may be. The mtime checks catch
// volumes removed or re-marked anywhere and volumes added directly under
// the root, but not a volume created deeper in the tree; expiring the
// entry puts a ceiling on how long such a volume can stay invisible.
const cacheTTL = time.Hour

type cachedVolume struct {
	Path          string `json:"path"`
	Kind          int    `json:"kind"`
	MarkerModTime int64  `json:"marker_mod_time"`
}

type cachedRoot struct {
	ScanTime    int64          `json:"scan_time"`
	RootModTime int64          `json:"root_mod_time"`
	Volumes     []cachedVolume `json:"volumes"`
}

// Find returns the volumes under every search root, from the cache where
// it is still valid and by walking otherwise.
func (fd *Finder) Find() ([]*Volume, error) {
	var volumes []*Volume
	for _, root := range fd.SearchRoots {
		vols, ok := fd.cachedVolumes(root)
		if !ok {
			var err error
			vols, err = fd.walkRoot(root)
			if err != nil {
				return nil, err
			}
			fd.storeCache(root, vols)
		}
		volumes = append(volumes, vols...)
	}
	return volumes, nil
}

// walkRoot scans one search root for volume markers. A directory is the
// kind its marker file's single-line contents name (DFS when unnamed), so
// discovery doesn't have to guess from layout.
func (fd *Finder) walkRoot(root string) ([]*Volume, error) {
	var volumes []*Volume
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		base := filepath.Base(path)
		if strings.HasPrefix(base, ".") && path != root {
			return filepath.SkipDir
		}
		markerPath := filepath.Join(path, MarkerFile)
		data, err := os.ReadFile(markerPath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		kind := parseKind(strings.TrimSpace(string(data)))
		vol := &Volume{
			Name: base,
			Path: path,
			Kind: kind,
		}
		if fd.NewType != nil {
			vol.Type = fd.NewType(kind)
		}
		volumes = append(volumes, vol)
		return filepath.SkipDir // a volume's interior isn't itself scanned for nested volumes
	})
	if err != nil {
		return nil, err
	}
	return volumes, nil
}

func parseKind(marker string) VolumeKind {
	switch strings.ToUpper(marker) {
	case "ADFS":
		return KindADFS
	case "PC":
		return KindPC
	default:
		return KindDFS
	}
}

// cachedVolumes returns the cached volume list for root if every
// freshness check passes: the entry is within cacheTTL, the root's mtime
// is unchanged, and every cached volume's marker file still exists with
// the recorded mtime.
func (fd *Finder) cachedVolumes(root string) ([]*Volume, bool) {
	if fd.CacheDB == nil {
		return nil, false
	}
	rootInfo, err := os.Stat(root)
	if err != nil {
		return nil, false
	}

	var raw []byte
	viewErr := fd.CacheDB.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(cacheBucket)
		if b == nil {
			return nil
		}
		if v := b.Get([]byte(root)); v != nil {
			raw = append([]byte(nil), v...)
		}
		return nil
	})
	if viewErr != nil || raw == nil {
		return nil, false
	}

	var cached cachedRoot
	if json.Unmarshal(raw, &cached) != nil {
		return nil, false
	}
	if time.Since(time.Unix(0, cached.ScanTime)) > cacheTTL {
		return nil, false
	}
	if cached.RootModTime != rootInfo.ModTime().UnixNano() {
		return nil, false
	}

	volumes := make([]*Volume, 0, len(cached.Volumes))
	for _, cv := range cached.Volumes {
		info, err := os.Stat(filepath.Join(cv.Path, MarkerFile))
		if err != nil || info.ModTime().UnixNano() != cv.MarkerModTime {
			return nil, false
		}
		vol := &Volume{Name: filepath.Base(cv.Path), Path: cv.Path, Kind: VolumeKind(cv.Kind)}
		if fd.NewType != nil {
			vol.Type = fd.NewType(vol.Kind)
		}
		volumes = append(volumes, vol)
	}
	return volumes, true
}

// storeCache records root's walk result. Best effort: a failed write just
// means the next start walks again.
func (fd *Finder) storeCache(root string, volumes []*Volume) {
	if fd.CacheDB == nil {
		return
	}
	rootInfo, err := os.Stat(root)
	if err != nil {
		return
	}
	cached := cachedRoot{
		ScanTime:    time.Now().UnixNano(),
		RootModTime: rootInfo.ModTime().UnixNano(),
	}
	for _, v := range volumes {
		info, err := os.Stat(filepath.Join(v.Path, MarkerFile))
		if err != nil {
			return
		}
		cached.Volumes = append(cached.Volumes, cachedVolume{
			Path:          v.Path,
			Kind:          int(v.Kind),
			MarkerModTime: info.ModTime().UnixNano(),
		})
	}
	raw, err := json.Marshal(cached)
	if err != nil {
		return
	}
	_ = fd.CacheDB.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(cacheBucket)
		if err != nil {
			return err
		}
		return b.Put([]byte(root), raw)
	})
}
