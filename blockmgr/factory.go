package blockmgr

import (
	"github.com/mit-pdos/go-dboe/blockaccess"
	"github.com/mit-pdos/go-dboe/util"
)

type Options struct {
	// ReadCacheSize is the read cache capacity in blocks; 0 disables the
	// cache layer.
	ReadCacheSize int
	// WriteCacheSize is the write cache capacity in blocks; 0 writes
	// straight through.
	WriteCacheSize int
	// Track adds a Tracker on top of the stack.
	Track bool
}

func DefaultOptions() Options {
	return Options{
		ReadCacheSize:  1000,
		WriteCacheSize: 100,
	}
}

// New builds the standard block manager stack over access.
func New(label string, access blockaccess.BlockAccess, opts Options) (BlockMgr, error) {
	var mgr BlockMgr = NewFileAccessMgr(label, access)
	mgr = NewFreeChain(mgr)
	if opts.ReadCacheSize > 0 {
		c, err := NewCache(mgr, opts.ReadCacheSize, opts.WriteCacheSize)
		if err != nil {
			return nil, err
		}
		mgr = c
	}
	mgr = NewSyncMgr(mgr)
	if opts.Track {
		mgr = NewTracker(mgr)
	}
	util.DPrintf(1, "blockmgr %s: read cache %d write cache %d track %v\n",
		label, opts.ReadCacheSize, opts.WriteCacheSize, opts.Track)
	return mgr, nil
}

// NewMem builds a stack over fresh in-memory storage.
func NewMem(label string, blockSize int, opts Options) (BlockMgr, error) {
	return New(label, blockaccess.NewMem(blockSize), opts)
}
