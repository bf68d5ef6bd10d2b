package common

import (
	"github.com/tchajed/goose/machine/disk"
)

const (
	// BlockSize is the default size of a managed block, matching the disk.
	BlockSize uint64 = disk.BlockSize

	HDRMETA = uint64(8) // space for one header word

	// ComponentIdLen is the length in bytes of a component identity.
	ComponentIdLen = 16
)

// BlockId names a block within one block manager.
type BlockId = int64

// Bnum is a disk block number.
type Bnum = uint64

const (
	NULLBLOCK BlockId = -1
	NULLBNUM  Bnum    = 0
)
