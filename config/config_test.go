package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-dboe/txn"
)

func writeConfig(t *testing.T, text string) string {
	path := filepath.Join(t.TempDir(), "dboe.toml")
	require.NoError(t, os.WriteFile(path, []byte(text), 0644))
	return path
}

func TestDefaults(t *testing.T) {
	assert := assert.New(t)
	c := NewConfig()
	assert.Equal(uint64(defaultDebugLevel), c.DebugLevel)
	assert.Equal(filepath.Join(defaultDataDir, defaultJournalPath), c.Journal.Path)
	assert.Equal(uint64(defaultBlockSize), c.Blocks.BlockSize)
	assert.Equal(uint64(defaultReadCacheSize), c.Blocks.ReadCacheSize)
	assert.Empty(c.WarningMsgs)
	assert.Contains(c.String(), defaultSystemId)
}

func TestLoad(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()
	path := writeConfig(t, `
data-dir = "`+dir+`"
debug-level = 0
bogus = 3

[journal]
num-blocks = 64

[blocks]
path = "/var/tmp/elsewhere"
block-size = 512
read-cache-size = 0
write-cache-size = 0

[[cell]]
name = "count"

[[cell]]
name = "label"
kind = "blob"
path = "label.bin"
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(uint64(0), c.DebugLevel, "explicit zero is kept")
	assert.Equal(uint64(64), c.Journal.NumBlocks)
	assert.Equal(filepath.Join(dir, "journal"), c.Journal.Path)
	assert.Equal("/var/tmp/elsewhere", c.Blocks.Path)
	assert.Equal(uint64(0), c.Blocks.ReadCacheSize)
	assert.Equal(uint64(0), c.Blocks.WriteCacheSize)
	require.Len(t, c.Cells, 2)
	assert.Equal(CellConfig{Name: "count", Kind: KindInteger, Path: filepath.Join(dir, "count.state")}, c.Cells[0])
	assert.Equal(filepath.Join(dir, "label.bin"), c.Cells[1].Path)
	require.Len(t, c.WarningMsgs, 1)
	assert.Contains(c.WarningMsgs[0], "bogus")
}

func TestValidate(t *testing.T) {
	for name, text := range map[string]string{
		"system id":   `system-id = "nope"`,
		"journal":     "[journal]\nnum-blocks = 1",
		"block size":  "[blocks]\nblock-size = 1000",
		"cache":       "[blocks]\nread-cache-size = 0\nwrite-cache-size = 4",
		"cell name":   "[[cell]]\nkind = \"blob\"",
		"cell twice":  "[[cell]]\nname = \"a\"\n[[cell]]\nname = \"a\"",
		"cell kind":   "[[cell]]\nname = \"a\"\nkind = \"float\"",
		"cell path":   "[[cell]]\nname = \"a\"\npath = \"journal\"",
		"blocks path": "[blocks]\npath = \"journal\"",
	} {
		_, err := Load(writeConfig(t, text))
		assert.Error(t, err, name)
	}
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func testConfig(t *testing.T) *Config {
	c := &Config{
		DataDir: t.TempDir(),
		Journal: JournalConfig{NumBlocks: 32},
		Blocks:  BlocksConfig{BlockSize: 4096, ReadCacheSize: 4, WriteCacheSize: 2, Track: true},
		Cells: []CellConfig{
			{Name: "count"},
			{Name: "note", Kind: KindBlob},
		},
	}
	require.NoError(t, c.Adjust(nil))
	return c
}

func TestSystem(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig(t)
	s, err := Open(cfg)
	require.NoError(t, err)
	assert.Equal(uint64(0), s.Replayed())

	count, ok := s.Integer("count")
	require.True(t, ok)
	note, ok := s.Blob("note")
	require.True(t, ok)
	_, ok = s.Integer("note")
	assert.False(ok)
	blocks := s.Blocks()
	require.NotNil(t, blocks)

	assert.NoError(txn.ExecuteWrite(s.Coordinator(), func(tx *txn.Transaction) error {
		if err := count.Set(tx, 41); err != nil {
			return err
		}
		if err := note.Set(tx, []byte("hi")); err != nil {
			return err
		}
		id, err := blocks.Allocate(tx)
		if err != nil {
			return err
		}
		return blocks.Write(tx, id, []byte("block"))
	}))
	assert.True(s.Journal().IsEmpty())
	assert.NoError(s.Close())

	s, err = Open(cfg)
	require.NoError(t, err)
	defer s.Close()
	count, _ = s.Integer("count")
	note, _ = s.Blob("note")
	assert.Equal(uint64(41), count.Value())
	assert.Equal([]byte("hi"), note.Value())
	data, err := txn.CalculateRead(s.Coordinator(), func(tx *txn.Transaction) ([]byte, error) {
		return s.Blocks().Read(tx, 0)
	})
	assert.NoError(err)
	assert.Equal([]byte("block"), data[:5])
}

func TestSystemIds(t *testing.T) {
	assert := assert.New(t)
	base, err := txn.ParseComponentId("system", defaultSystemId)
	require.NoError(t, err)
	other, err := txn.ParseComponentId("system", "7d3a9a52-0f63-4c71-8f7a-52b7c3f1e9a4")
	require.NoError(t, err)

	assert.True(CellId(base, "a").Equal(CellId(base, "a")))
	assert.False(CellId(base, "a").Equal(CellId(base, "b")))
	assert.False(CellId(base, "a").Equal(CellId(other, "a")))
	assert.False(CellId(base, "blocks").Equal(BlocksId(base)))
	assert.Equal("a", CellId(base, "a").Label())
}

func TestSystemWithoutBlocks(t *testing.T) {
	cfg := testConfig(t)
	cfg.Blocks.Disable = true
	cfg.Cells = nil
	s, err := Open(cfg)
	require.NoError(t, err)
	assert.Nil(t, s.Blocks())
	assert.NoError(t, s.Close())
	assert.True(t, s.Coordinator().IsShutdown())
}
