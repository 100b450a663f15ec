package vfs

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	bolt "go.etcd.io/bbolt"
)

func TestFindDiscoversVolumesByMarkerKind(t *testing.T) {
	root := t.TempDir()

	dfsVol := filepath.Join(root, "games")
	assert.NoError(t, os.MkdirAll(dfsVol, 0755))
	assert.NoError(t, os.WriteFile(filepath.Join(dfsVol, MarkerFile), []byte("DFS\n"), 0644))

	adfsVol := filepath.Join(root, "archive")
	assert.NoError(t, os.MkdirAll(adfsVol, 0755))
	assert.NoError(t, os.WriteFile(filepath.Join(adfsVol, MarkerFile), []byte("ADFS\n"), 0644))

	pcVol := filepath.Join(root, "transfer")
	assert.NoError(t, os.MkdirAll(pcVol, 0755))
	assert.NoError(t, os.WriteFile(filepath.Join(pcVol, MarkerFile), []byte("PC\n"), 0644))

	notAVolume := filepath.Join(root, "plain")
	assert.NoError(t, os.MkdirAll(notAVolume, 0755))

	finder := &Finder{SearchRoots: []string{root}}
	volumes, err := finder.Find()
	assert.NoError(t, err)
	assert.Len(t, volumes, 3)

	byName := map[string]VolumeKind{}
	for _, v := range volumes {
		byName[v.Name] = v.Kind
	}
	assert.Equal(t, KindDFS, byName["games"])
	assert.Equal(t, KindADFS, byName["archive"])
	assert.Equal(t, KindPC, byName["transfer"])
}

func TestFindDoesNotDescendIntoVolumeInterior(t *testing.T) {
	root := t.TempDir()
	vol := filepath.Join(root, "vol")
	nested := filepath.Join(vol, "0")
	assert.NoError(t, os.MkdirAll(nested, 0755))
	assert.NoError(t, os.WriteFile(filepath.Join(vol, MarkerFile), []byte("DFS\n"), 0644))
	assert.NoError(t, os.WriteFile(filepath.Join(nested, MarkerFile), []byte("DFS\n"), 0644))

	finder := &Finder{SearchRoots: []string{root}}
	volumes, err := finder.Find()
	assert.NoError(t, err)
	assert.Len(t, volumes, 1)
	assert.Equal(t, "vol", volumes[0].Name)
}

func openTestCache(t *testing.T) *bolt.DB {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "discovery.db"), 0600, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestFindAnswersFromCacheWithoutWalking(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "library")
	vol := filepath.Join(sub, "games")
	assert.NoError(t, os.MkdirAll(vol, 0755))
	assert.NoError(t, os.WriteFile(filepath.Join(vol, MarkerFile), []byte("DFS\n"), 0644))

	finder := &Finder{SearchRoots: []string{root}, CacheDB: openTestCache(t)}
	volumes, err := finder.Find()
	assert.NoError(t, err)
	assert.Len(t, volumes, 1)

	// A volume added deeper than the root doesn't bump the root's mtime,
	// so the still-fresh cache answers without walking and the new volume
	// is not seen yet — the cache really did skip the walk.
	other := filepath.Join(sub, "archive")
	assert.NoError(t, os.MkdirAll(other, 0755))
	assert.NoError(t, os.WriteFile(filepath.Join(other, MarkerFile), []byte("ADFS\n"), 0644))

	volumes, err = finder.Find()
	assert.NoError(t, err)
	assert.Len(t, volumes, 1)
	assert.Equal(t, "games", volumes[0].Name)
}

func TestFindCacheInvalidatedByRemovedMarker(t *testing.T) {
	root := t.TempDir()
	vol := filepath.Join(root, "games")
	assert.NoError(t, os.MkdirAll(vol, 0755))
	marker := filepath.Join(vol, MarkerFile)
	assert.NoError(t, os.WriteFile(marker, []byte("DFS\n"), 0644))

	finder := &Finder{SearchRoots: []string{root}, CacheDB: openTestCache(t)}
	volumes, err := finder.Find()
	assert.NoError(t, err)
	assert.Len(t, volumes, 1)

	assert.NoError(t, os.Remove(marker))
	volumes, err = finder.Find()
	assert.NoError(t, err)
	assert.Len(t, volumes, 0)
}

func TestFindCacheInvalidatedByNewVolumeUnderRoot(t *testing.T) {
	root := t.TempDir()
	vol := filepath.Join(root, "games")
	assert.NoError(t, os.MkdirAll(vol, 0755))
	assert.NoError(t, os.WriteFile(filepath.Join(vol, MarkerFile), []byte("DFS\n"), 0644))

	finder := &Finder{SearchRoots: []string{root}, CacheDB: openTestCache(t)}
	volumes, err := finder.Find()
	assert.NoError(t, err)
	assert.Len(t, volumes, 1)

	// A new volume directly under the root bumps the root's mtime, which
	// the freshness check catches. Chtimes pins the bump explicitly so the
	// test doesn't depend on the filesystem's mtime resolution.
	other := filepath.Join(root, "archive")
	assert.NoError(t, os.MkdirAll(other, 0755))
	assert.NoError(t, os.WriteFile(filepath.Join(other, MarkerFile), []byte("ADFS\n"), 0644))
	bumped := time.Now().Add(2 * time.Second)
	assert.NoError(t, os.Chtimes(root, bumped, bumped))

	volumes, err = finder.Find()
	assert.NoError(t, err)
	assert.Len(t, volumes, 2)
}

func TestFindUsesTypeFactory(t *testing.T) {
	root := t.TempDir()
	vol := filepath.Join(root, "vol")
	assert.NoError(t, os.MkdirAll(vol, 0755))
	assert.NoError(t, os.WriteFile(filepath.Join(vol, MarkerFile), []byte("DFS\n"), 0644))

	called := false
	finder := &Finder{SearchRoots: []string{root}, NewType: func(kind VolumeKind) Type {
		called = true
		return nil
	}}
	_, err := finder.Find()
	assert.NoError(t, err)
	assert.True(t, called)
}
