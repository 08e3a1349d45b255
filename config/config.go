// Package config loads the TOML configuration and wires the asset
// sources it describes into a composite resolver.
package config

import (
	"os"

	"github.com/golang/glog"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/EndurnyrProject/lifthrasir/assets"
	"github.com/EndurnyrProject/lifthrasir/datafiles"
)

// GRF names one archive and its place in the resolution order.
type GRF struct {
	Path     string `toml:"path"`
	Priority int    `toml:"priority"`
}

// Assets configures where game data is looked up.
type Assets struct {
	// DataFolder is an unpacked data directory that overrides every
	// archive. Empty disables it.
	DataFolder string `toml:"data_folder"`

	// GRF lists the archives to mount, lower priority first.
	GRF []GRF `toml:"grf"`
}

// Cache configures the rendered-frame cache.
type Cache struct {
	Dir            string `toml:"dir"`
	MemoryCapacity int    `toml:"memory_capacity"`
}

// Config is the whole configuration file.
type Config struct {
	Assets Assets `toml:"assets"`
	Cache  Cache  `toml:"cache"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Assets: Assets{
			GRF: []GRF{{Path: "data.grf", Priority: 0}},
		},
		Cache: Cache{
			Dir:            "sprite-cache",
			MemoryCapacity: 256,
		},
	}
}

// Load reads and parses the file at path. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			glog.V(1).Infof("config: %q not found, using defaults", path)
			return Default(), nil
		}
		return nil, errors.Wrapf(err, "reading config %q", path)
	}

	cfg := Default()
	if err := toml.Unmarshal(b, cfg); err != nil {
		return nil, errors.Wrapf(err, "parsing config %q", path)
	}
	return cfg, nil
}

// SaveDefault writes the default configuration to path, refusing to
// overwrite an existing file.
func SaveDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return errors.Errorf("config %q already exists", path)
	}
	b, err := toml.Marshal(Default())
	if err != nil {
		return errors.Wrap(err, "encoding default config")
	}
	if err := os.WriteFile(path, b, 0644); err != nil {
		return errors.Wrapf(err, "writing config %q", path)
	}
	return nil
}

// BuildComposite assembles the resolver the configuration describes:
// the data folder first, then the archives by their configured
// priority, then the embedded fallback set last.
func (c *Config) BuildComposite() (*assets.Composite, error) {
	comp := assets.NewComposite()

	if c.Assets.DataFolder != "" {
		comp.Add(assets.NewDirSource(c.Assets.DataFolder, 0))
	}

	for _, g := range c.Assets.GRF {
		src, err := assets.NewGRFSource(g.Path, g.Priority+1)
		if err != nil {
			return nil, errors.Wrapf(err, "mounting %q", g.Path)
		}
		comp.Add(src)
	}

	// The bundled defaults sit below everything configurable.
	last := len(c.Assets.GRF) + 2
	for _, g := range c.Assets.GRF {
		if g.Priority+2 > last {
			last = g.Priority + 2
		}
	}
	comp.Add(assets.NewFSSource("builtin", datafiles.Builtin, last))

	glog.V(1).Infof("config: assembled sources: %v", comp.Sources())
	return comp, nil
}
