// Package config reads the TOML description of a storage system (journal,
// block file, value cells) and assembles it into a running coordinator.
package config

import (
	"bytes"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	defaultDataDir        = "dboe-data"
	defaultSystemId       = "0b7d5a4e-2f0c-4c1a-9e55-6a3d2b8f1c70"
	defaultJournalPath    = "journal"
	defaultJournalBlocks  = 1024
	defaultBlocksPath     = "blocks"
	defaultBlockSize      = 4096
	defaultReadCacheSize  = 64
	defaultWriteCacheSize = 16
	defaultDebugLevel     = 1
)

const (
	KindInteger = "integer"
	KindBlob    = "blob"
)

// Config is the whole system configuration.
type Config struct {
	// DataDir is the directory relative paths are resolved against.
	DataDir string `toml:"data-dir" json:"data-dir"`
	// SystemId is the UUID every component id is derived from. Changing it
	// orphans whatever the journal holds.
	SystemId   string `toml:"system-id" json:"system-id"`
	DebugLevel uint64 `toml:"debug-level" json:"debug-level"`

	Journal JournalConfig `toml:"journal" json:"journal"`
	Blocks  BlocksConfig  `toml:"blocks" json:"blocks"`
	Cells   []CellConfig  `toml:"cell" json:"cell"`

	// WarningMsgs holds problems found while loading that are not fatal.
	WarningMsgs []string `toml:"-" json:"-"`
}

type JournalConfig struct {
	Path      string `toml:"path" json:"path"`
	NumBlocks uint64 `toml:"num-blocks" json:"num-blocks"`
}

type BlocksConfig struct {
	// Disable leaves the block store out of the system.
	Disable        bool   `toml:"disable" json:"disable"`
	Path           string `toml:"path" json:"path"`
	BlockSize      uint64 `toml:"block-size" json:"block-size"`
	Direct         bool   `toml:"direct" json:"direct"`
	ReadCacheSize  uint64 `toml:"read-cache-size" json:"read-cache-size"`
	WriteCacheSize uint64 `toml:"write-cache-size" json:"write-cache-size"`
	Track          bool   `toml:"track" json:"track"`
}

// CellConfig is one Integer or Blob component, kept in its own state file.
type CellConfig struct {
	Name string `toml:"name" json:"name"`
	Kind string `toml:"kind" json:"kind"`
	Path string `toml:"path" json:"path"`
}

// NewConfig returns a configuration with every default filled in.
func NewConfig() *Config {
	c := &Config{}
	if err := c.Adjust(nil); err != nil {
		panic(err)
	}
	return c
}

// Load reads path and adjusts the result.
func Load(path string) (*Config, error) {
	c := &Config{}
	meta, err := c.configFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := c.Adjust(meta); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) configFromFile(path string) (*toml.MetaData, error) {
	meta, err := toml.DecodeFile(path, c)
	return &meta, errors.WithStack(err)
}

func adjustString(v *string, defValue string) {
	if len(*v) == 0 {
		*v = defValue
	}
}

func adjustUint64(v *uint64, defValue uint64) {
	if *v == 0 {
		*v = defValue
	}
}

// adjustPath resolves a relative path against dir.
func adjustPath(v *string, dir string, defValue string) {
	adjustString(v, defValue)
	if !filepath.IsAbs(*v) {
		*v = filepath.Join(dir, *v)
	}
}

// Adjust fills in defaults and resolves paths. meta is the result of
// decoding a file, or nil.
func (c *Config) Adjust(meta *toml.MetaData) error {
	if meta != nil {
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			for _, key := range undecoded {
				c.WarningMsgs = append(c.WarningMsgs,
					"config contains undefined item: "+key.String())
			}
		}
	}
	if meta == nil || !meta.IsDefined("debug-level") {
		adjustUint64(&c.DebugLevel, defaultDebugLevel)
	}
	adjustString(&c.DataDir, defaultDataDir)
	adjustString(&c.SystemId, defaultSystemId)

	adjustPath(&c.Journal.Path, c.DataDir, defaultJournalPath)
	adjustUint64(&c.Journal.NumBlocks, defaultJournalBlocks)

	adjustPath(&c.Blocks.Path, c.DataDir, defaultBlocksPath)
	adjustUint64(&c.Blocks.BlockSize, defaultBlockSize)
	if meta == nil || !meta.IsDefined("blocks", "read-cache-size") {
		adjustUint64(&c.Blocks.ReadCacheSize, defaultReadCacheSize)
	}
	if meta == nil || !meta.IsDefined("blocks", "write-cache-size") {
		adjustUint64(&c.Blocks.WriteCacheSize, defaultWriteCacheSize)
	}

	for i := range c.Cells {
		cell := &c.Cells[i]
		adjustString(&cell.Kind, KindInteger)
		adjustPath(&cell.Path, c.DataDir, cell.Name+".state")
	}
	return c.Validate()
}

// Validate checks the configuration without touching the file system.
func (c *Config) Validate() error {
	if _, err := uuid.Parse(c.SystemId); err != nil {
		return errors.Wrapf(err, "system-id %q", c.SystemId)
	}
	if c.Journal.NumBlocks < 2 {
		return errors.Errorf("journal.num-blocks is %d, need at least 2", c.Journal.NumBlocks)
	}
	if !c.Blocks.Disable {
		if c.Blocks.BlockSize%512 != 0 {
			return errors.Errorf("blocks.block-size %d is not a multiple of 512", c.Blocks.BlockSize)
		}
		if c.Blocks.ReadCacheSize == 0 && c.Blocks.WriteCacheSize > 0 {
			return errors.New("blocks.write-cache-size needs a read cache")
		}
	}
	names := make(map[string]bool)
	paths := map[string]string{c.Journal.Path: "journal"}
	if !c.Blocks.Disable {
		if _, ok := paths[c.Blocks.Path]; ok {
			return errors.Errorf("blocks.path %s is also the journal", c.Blocks.Path)
		}
		paths[c.Blocks.Path] = "blocks"
	}
	for _, cell := range c.Cells {
		if cell.Name == "" {
			return errors.New("cell without a name")
		}
		if names[cell.Name] {
			return errors.Errorf("cell %q defined twice", cell.Name)
		}
		names[cell.Name] = true
		if cell.Kind != KindInteger && cell.Kind != KindBlob {
			return errors.Errorf("cell %q: unknown kind %q", cell.Name, cell.Kind)
		}
		if other, ok := paths[cell.Path]; ok {
			return errors.Errorf("cell %q: path %s is also used by %s", cell.Name, cell.Path, other)
		}
		paths[cell.Path] = cell.Name
	}
	return nil
}

func (c *Config) String() string {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(c); err != nil {
		return "<nil>"
	}
	return buf.String()
}
