// Package config loads beeblinkd's on-disk YAML configuration: volume
// search roots, serial port settings, the HTTP tunnel bind address, the
// default open-file handle range, and ROM image paths per link subtype.
// Grounded on fstest/test_all/config.go's NewConfig, the teacher's own
// yaml.v2 + pkg/errors config-loading idiom.
package config

import (
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// ROM names one link-subtype's cached ROM image on disk (§4.7 GET_ROM).
type ROM struct {
	Subtype byte   `yaml:"subtype"`
	Path    string `yaml:"path"`
}

// Config is the full on-disk shape of a beeblinkd config file.
type Config struct {
	// SearchRoots are the directories vfs.Finder walks for volume
	// markers at startup (§3 Volume "discovered by a recursive scan of
	// configured search roots").
	SearchRoots []string `yaml:"search_roots"`

	// SerialPort/SerialBaud configure the serial device a concrete
	// transport.Port adapter opens; left unvalidated here since the
	// device itself is out of this module's scope.
	SerialPort string `yaml:"serial_port"`
	SerialBaud int    `yaml:"serial_baud"`

	// TunnelAddr is the bind address for the HTTP tunnel (§2, §5); empty
	// disables it.
	TunnelAddr string `yaml:"tunnel_addr"`

	// MetricsAddr, if set and different from TunnelAddr, serves /metrics
	// on its own listener instead of being mounted onto the tunnel's.
	MetricsAddr string `yaml:"metrics_addr"`

	// DiscoveryCache is the bbolt file backing the volume-discovery cache;
	// empty disables caching and every start walks the search roots.
	DiscoveryCache string `yaml:"discovery_cache"`

	HandleRangeMin int `yaml:"handle_range_min"`
	HandleRangeMax int `yaml:"handle_range_max"`

	ROMs []ROM `yaml:"roms"`

	// Dump enables hex request/response logging (§4.7).
	Dump bool `yaml:"dump"`
}

// Default returns the configuration beeblinkd runs with when no config
// file is found, matching the BeebLink-conventional handle range and a
// single search root under the user's home directory.
func Default() *Config {
	home, _ := homedir.Dir()
	root := home
	if root != "" {
		root = home + "/beeblink-volumes"
	}
	return &Config{
		SearchRoots:    []string{root},
		SerialBaud:     115200,
		TunnelAddr:     ":48050",
		DiscoveryCache: "~/.beeblink/discovery.db",
		HandleRangeMin: 0xA0,
		HandleRangeMax: 0xBF,
	}
}

// Load reads and parses path, expanding a leading "~" the way the
// teacher's backends expand user-supplied paths via go-homedir. A
// missing file is not an error: Default() is returned instead, so a
// first run works without any config file present.
func Load(path string) (*Config, error) {
	expanded, err := homedir.Expand(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to expand config path")
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, errors.Wrap(err, "failed to read config file")
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}
	return cfg, nil
}

// ROMTable converts the configured ROM list into the map[byte][]byte
// session.New expects, reading each file's contents.
func (c *Config) ROMTable() (map[byte][]byte, error) {
	out := make(map[byte][]byte, len(c.ROMs))
	for _, r := range c.ROMs {
		expanded, err := homedir.Expand(r.Path)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to expand ROM path %q", r.Path)
		}
		data, err := os.ReadFile(expanded)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read ROM image %q", r.Path)
		}
		out[r.Subtype] = data
	}
	return out, nil
}
