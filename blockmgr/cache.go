package blockmgr

import (
	"github.com/hashicorp/golang-lru/simplelru"

	"github.com/mit-pdos/go-dboe/block"
	"github.com/mit-pdos/go-dboe/common"
	"github.com/mit-pdos/go-dboe/util"
)

type CacheStats struct {
	ReadHits      uint64
	ReadMisses    uint64
	WriteHits     uint64
	WriteMisses   uint64
	WriteThroughs uint64
}

// Cache keeps a read cache and an optional write cache of blocks in front of
// the next layer. An id is in at most one of the two; the write cache
// holds blocks that have been written but not yet passed down.
//
// Cache is not safe for concurrent use; SyncMgr provides the locking.
type Cache struct {
	next       BlockMgr
	readCache  *simplelru.LRU
	writeCache *simplelru.LRU // nil when write caching is off

	// quiet suppresses write-through when we remove from the write cache
	// ourselves
	quiet    bool
	evictErr error
	stats    CacheStats
}

var _ BlockMgr = (*Cache)(nil)

// NewCache wraps next with a read cache of readSize blocks and, if
// writeSize > 0, a write cache of writeSize blocks.
func NewCache(next BlockMgr, readSize int, writeSize int) (*Cache, error) {
	c := &Cache{next: next}
	rc, err := simplelru.NewLRU(readSize, nil)
	if err != nil {
		return nil, usageErr(next.Label(), "read cache size %d", readSize)
	}
	c.readCache = rc
	if writeSize > 0 {
		wc, err := simplelru.NewLRU(writeSize, c.evicted)
		if err != nil {
			return nil, usageErr(next.Label(), "write cache size %d", writeSize)
		}
		c.writeCache = wc
	}
	return c, nil
}

// evicted runs while the cache is mid-operation; it must not touch the
// caches.
func (c *Cache) evicted(key interface{}, value interface{}) {
	if c.quiet {
		return
	}
	b := value.(*block.Block)
	util.DPrintf(5, "%s: write-through %d\n", c.next.Label(), b.Id())
	c.stats.WriteThroughs++
	if err := c.next.Write(b); err != nil && c.evictErr == nil {
		c.evictErr = err
	}
}

func (c *Cache) takeEvictErr() error {
	err := c.evictErr
	c.evictErr = nil
	return err
}

func (c *Cache) inWriteCache(id common.BlockId) (*block.Block, bool) {
	if c.writeCache == nil {
		return nil, false
	}
	v, ok := c.writeCache.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*block.Block), true
}

// expel drops id from both caches without writing it through.
func (c *Cache) expel(id common.BlockId) {
	c.readCache.Remove(id)
	if c.writeCache != nil {
		c.quiet = true
		c.writeCache.Remove(id)
		c.quiet = false
	}
}

func (c *Cache) addWrite(b *block.Block) error {
	c.writeCache.Add(b.Id(), b)
	return c.takeEvictErr()
}

func (c *Cache) Allocate(size int) (*block.Block, error) {
	return c.next.Allocate(size)
}

func (c *Cache) getRead(id common.BlockId, fetch func(common.BlockId) (*block.Block, error)) (*block.Block, error) {
	if v, ok := c.readCache.Get(id); ok {
		c.stats.ReadHits++
		return v.(*block.Block), nil
	}
	if b, ok := c.inWriteCache(id); ok {
		c.stats.ReadHits++
		return b, nil
	}
	c.stats.ReadMisses++
	b, err := fetch(id)
	if err != nil {
		return nil, err
	}
	c.readCache.Add(id, b)
	return b, nil
}

func (c *Cache) GetRead(id common.BlockId) (*block.Block, error) {
	return c.getRead(id, c.next.GetRead)
}

func (c *Cache) GetReadIterator(id common.BlockId) (*block.Block, error) {
	return c.getRead(id, c.next.GetReadIterator)
}

func (c *Cache) GetWrite(id common.BlockId) (*block.Block, error) {
	if b, ok := c.inWriteCache(id); ok {
		c.stats.WriteHits++
		return b, nil
	}
	if v, ok := c.readCache.Peek(id); ok {
		c.stats.WriteHits++
		return c.promote(v.(*block.Block))
	}
	c.stats.WriteMisses++
	b, err := c.next.GetWrite(id)
	if err != nil {
		return nil, err
	}
	if c.writeCache != nil {
		if err := c.addWrite(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

// promote moves b from the read cache to the write cache.
func (c *Cache) promote(b *block.Block) (*block.Block, error) {
	c.readCache.Remove(b.Id())
	b, err := c.next.Promote(b)
	if err != nil {
		return nil, err
	}
	if c.writeCache != nil {
		if err := c.addWrite(b); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (c *Cache) Promote(b *block.Block) (*block.Block, error) {
	if c.writeCache != nil && c.writeCache.Contains(b.Id()) {
		return b, nil
	}
	return c.promote(b)
}

func (c *Cache) Release(b *block.Block) error {
	return c.next.Release(b)
}

func (c *Cache) Write(b *block.Block) error {
	c.readCache.Remove(b.Id())
	if c.writeCache == nil {
		return c.next.Write(b)
	}
	if b.IsReadOnly() {
		return usageErr(c.next.Label(), "write of read-only block %d", b.Id())
	}
	b.SetModified(true)
	return c.addWrite(b)
}

func (c *Cache) Overwrite(b *block.Block) error {
	c.expel(b.Id())
	return c.next.Overwrite(b)
}

func (c *Cache) Free(b *block.Block) error {
	c.expel(b.Id())
	return c.next.Free(b)
}

// flush writes every block in the write cache through and empties it.
func (c *Cache) flush() error {
	if c.writeCache == nil {
		return nil
	}
	var err error
	for _, k := range c.writeCache.Keys() {
		v, ok := c.writeCache.Peek(k)
		if !ok {
			continue
		}
		b := v.(*block.Block)
		c.stats.WriteThroughs++
		if werr := c.next.Write(b); werr != nil && err == nil {
			err = werr
		}
	}
	c.quiet = true
	c.writeCache.Purge()
	c.quiet = false
	return err
}

func (c *Cache) Sync() error {
	if err := c.flush(); err != nil {
		return err
	}
	return c.next.Sync()
}

func (c *Cache) SyncForce() error {
	if err := c.flush(); err != nil {
		return err
	}
	return c.next.SyncForce()
}

func (c *Cache) Valid(id common.BlockId) bool {
	if c.readCache.Contains(id) {
		return true
	}
	if c.writeCache != nil && c.writeCache.Contains(id) {
		return true
	}
	return c.next.Valid(id)
}

func (c *Cache) IsEmpty() bool {
	if c.writeCache != nil && c.writeCache.Len() > 0 {
		return false
	}
	return c.next.IsEmpty()
}

func (c *Cache) AllocLimit() common.BlockId {
	return c.next.AllocLimit()
}

// ResetAlloc discards cached blocks at or beyond limit, written or not.
func (c *Cache) ResetAlloc(limit common.BlockId) error {
	for _, k := range c.readCache.Keys() {
		if k.(common.BlockId) >= limit {
			c.readCache.Remove(k)
		}
	}
	if c.writeCache != nil {
		for _, k := range c.writeCache.Keys() {
			if k.(common.BlockId) >= limit {
				c.expel(k.(common.BlockId))
			}
		}
	}
	return c.next.ResetAlloc(limit)
}

// Stats returns the cache counters.
func (c *Cache) Stats() CacheStats {
	return c.stats
}

func (c *Cache) Close() error {
	if c.next.IsClosed() {
		return nil
	}
	if err := c.flush(); err != nil {
		return err
	}
	c.readCache.Purge()
	return c.next.Close()
}

func (c *Cache) BeginUpdate() error              { return c.next.BeginUpdate() }
func (c *Cache) EndUpdate() error                { return c.next.EndUpdate() }
func (c *Cache) BeginRead() error                { return c.next.BeginRead() }
func (c *Cache) EndRead() error                  { return c.next.EndRead() }
func (c *Cache) BeginIterator(it Iterator) error { return c.next.BeginIterator(it) }
func (c *Cache) EndIterator(it Iterator) error   { return c.next.EndIterator(it) }
func (c *Cache) Label() string                   { return c.next.Label() }
func (c *Cache) IsClosed() bool                  { return c.next.IsClosed() }
