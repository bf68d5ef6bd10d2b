package disk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/goose/machine/disk"
)

func block(v byte) disk.Block {
	b := make(disk.Block, disk.BlockSize)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestFileDisk(t *testing.T) {
	assert := assert.New(t)
	path := filepath.Join(t.TempDir(), "disk.img")
	d, err := NewFileDisk(path, 10)
	require.NoError(t, err)
	assert.Equal(uint64(10), d.Size())
	assert.Equal(block(0), d.Read(3))

	d.Write(3, block(7))
	d.Barrier()
	d.Close()

	d, err = NewFileDisk(path, 10)
	require.NoError(t, err)
	defer d.Close()
	assert.Equal(block(7), d.Read(3))
	assert.Panics(func() { d.Read(10) })
}

func TestCrashDisk(t *testing.T) {
	assert := assert.New(t)
	under := disk.NewMemDisk(4)
	c := NewCrashDisk(under)
	c.Write(0, block(1))
	c.CrashAfter(1)
	c.Write(1, block(2))
	assert.True(c.Crashed())
	c.Write(2, block(3))
	c.Barrier()

	assert.Equal(block(1), under.Read(0))
	assert.Equal(block(2), under.Read(1))
	assert.Equal(block(0), under.Read(2))
	assert.Equal(uint64(1), c.Dropped())
}
