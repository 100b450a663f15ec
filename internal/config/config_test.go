package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileReturnsDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default().TunnelAddr, cfg.TunnelAddr)
	assert.Equal(t, 0xA0, cfg.HandleRangeMin)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "beeblink.yaml")
	contents := `
search_roots:
  - /srv/beeblink/volumes
serial_port: /dev/ttyUSB0
serial_baud: 57600
tunnel_addr: ":9999"
handle_range_min: 160
handle_range_max: 191
dump: true
roms:
  - subtype: 1
    path: rom1.rom
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"/srv/beeblink/volumes"}, cfg.SearchRoots)
	assert.Equal(t, "/dev/ttyUSB0", cfg.SerialPort)
	assert.Equal(t, 57600, cfg.SerialBaud)
	assert.Equal(t, ":9999", cfg.TunnelAddr)
	assert.Equal(t, 160, cfg.HandleRangeMin)
	assert.True(t, cfg.Dump)
	require.Len(t, cfg.ROMs, 1)
	assert.EqualValues(t, 1, cfg.ROMs[0].Subtype)
}

func TestROMTableReadsFiles(t *testing.T) {
	dir := t.TempDir()
	romPath := filepath.Join(dir, "dfs.rom")
	require.NoError(t, os.WriteFile(romPath, []byte{0xAA, 0xBB}, 0644))

	cfg := &Config{ROMs: []ROM{{Subtype: 2, Path: romPath}}}
	table, err := cfg.ROMTable()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB}, table[2])
}

func TestROMTableMissingFileErrors(t *testing.T) {
	cfg := &Config{ROMs: []ROM{{Subtype: 1, Path: filepath.Join(t.TempDir(), "missing.rom")}}}
	_, err := cfg.ROMTable()
	assert.Error(t, err)
}
