package blockmgr

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-dboe/block"
	"github.com/mit-pdos/go-dboe/blockaccess"
	"github.com/mit-pdos/go-dboe/common"
)

const testBlockSize = 32

type countingAccess struct {
	blockaccess.BlockAccess
	allocs     int
	syncs      int
	failWrites bool
}

func newCounting() *countingAccess {
	return &countingAccess{BlockAccess: blockaccess.NewMem(testBlockSize)}
}

func (c *countingAccess) Allocate(size int) (*block.Block, error) {
	c.allocs++
	return c.BlockAccess.Allocate(size)
}

func (c *countingAccess) Write(b *block.Block) error {
	if c.failWrites {
		return errors.New("injected write failure")
	}
	return c.BlockAccess.Write(b)
}

func (c *countingAccess) Sync() error {
	c.syncs++
	return c.BlockAccess.Sync()
}

func fillBlock(b *block.Block, v byte) {
	for i := range b.Data() {
		b.Data()[i] = v
	}
	b.SetModified(true)
}

func persisted(t *testing.T, a blockaccess.BlockAccess, id common.BlockId) []byte {
	b, err := a.Read(id)
	require.NoError(t, err)
	return b.Data()
}

var stackOptions = []Options{
	{},
	{ReadCacheSize: 4},
	{ReadCacheSize: 4, WriteCacheSize: 2},
	{ReadCacheSize: 4, WriteCacheSize: 2, Track: true},
}

func TestRoundTrip(t *testing.T) {
	for _, opts := range stackOptions {
		t.Run(fmt.Sprintf("%+v", opts), func(t *testing.T) {
			assert := assert.New(t)
			access := newCounting()
			mgr, err := New("rt", access, opts)
			require.NoError(t, err)

			require.NoError(t, mgr.BeginUpdate())
			var ids []common.BlockId
			for i := 0; i < 6; i++ {
				b, err := mgr.Allocate(0)
				require.NoError(t, err)
				fillBlock(b, byte(i+1))
				require.NoError(t, mgr.Write(b))
				ids = append(ids, b.Id())
			}
			require.NoError(t, mgr.EndUpdate())
			require.NoError(t, mgr.Sync())

			require.NoError(t, mgr.BeginRead())
			for i, id := range ids {
				b, err := mgr.GetRead(id)
				require.NoError(t, err)
				assert.Equal(byte(i+1), b.Data()[0])
				require.NoError(t, mgr.Release(b))
				assert.Equal(b.Data(), persisted(t, access, id))
			}
			require.NoError(t, mgr.EndRead())
			require.NoError(t, mgr.Close())
		})
	}
}

func TestFreeChainReuse(t *testing.T) {
	assert := assert.New(t)
	access := newCounting()
	mgr, err := New("free", access, Options{ReadCacheSize: 4, WriteCacheSize: 2, Track: true})
	require.NoError(t, err)

	require.NoError(t, mgr.BeginUpdate())
	b, err := mgr.Allocate(0)
	require.NoError(t, err)
	assert.Nil(b.Put([]byte{1, 2, 3}))
	assert.Equal(3, b.Pos())
	id := b.Id()
	assert.Nil(mgr.Free(b))
	assert.True(mgr.Valid(id))

	b2, err := mgr.Allocate(0)
	require.NoError(t, err)
	assert.Equal(id, b2.Id())
	assert.Equal(0, b2.Pos())
	assert.False(b2.IsModified())
	assert.Equal(1, access.allocs, "reuse must not reach the store")

	require.NoError(t, mgr.Write(b2))

	b3, err := mgr.Allocate(0)
	require.NoError(t, err)
	assert.NotEqual(id, b3.Id())
	assert.Equal(2, access.allocs)
	require.NoError(t, mgr.Write(b3))
	require.NoError(t, mgr.EndUpdate())
}

func TestFreeTwice(t *testing.T) {
	f := NewFreeChain(NewFileAccessMgr("f", newCounting()))
	b, _ := f.Allocate(0)
	assert.Nil(t, f.Free(b))
	assert.True(t, IsKind(f.Free(b), Usage))
	assert.Equal(t, 1, f.FreeCount())
}

func TestPromote(t *testing.T) {
	for _, opts := range stackOptions {
		t.Run(fmt.Sprintf("%+v", opts), func(t *testing.T) {
			assert := assert.New(t)
			access := newCounting()
			mgr, err := New("promote", access, opts)
			require.NoError(t, err)

			require.NoError(t, mgr.BeginUpdate())
			b, _ := mgr.Allocate(0)
			fillBlock(b, 1)
			require.NoError(t, mgr.Write(b))
			require.NoError(t, mgr.EndUpdate())
			require.NoError(t, mgr.Sync())
			id := b.Id()

			require.NoError(t, mgr.BeginUpdate())
			r, err := mgr.GetRead(id)
			require.NoError(t, err)
			assert.True(r.IsReadOnly())

			w, err := mgr.Promote(r)
			require.NoError(t, err)
			assert.False(w.IsReadOnly())
			w2, err := mgr.Promote(w)
			require.NoError(t, err)
			assert.Same(w, w2)

			w.SetPos(0)
			assert.Nil(w.Put([]byte{42}))
			require.NoError(t, mgr.Write(w))
			require.NoError(t, mgr.EndUpdate())
			require.NoError(t, mgr.Sync())

			assert.Equal(byte(42), persisted(t, access, id)[0])
			assert.Equal(byte(1), persisted(t, access, id)[1])
		})
	}
}

func newCache(t *testing.T, access blockaccess.BlockAccess, rsz, wsz int) *Cache {
	c, err := NewCache(NewFreeChain(NewFileAccessMgr("cache", access)), rsz, wsz)
	require.NoError(t, err)
	return c
}

func TestWriteCacheEviction(t *testing.T) {
	assert := assert.New(t)
	access := newCounting()
	c := newCache(t, access, 10, 2)

	var blks []*block.Block
	for i := 0; i < 3; i++ {
		b, _ := c.Allocate(0)
		fillBlock(b, byte(i+1))
		assert.Nil(c.Write(b))
		blks = append(blks, b)
	}
	// the oldest write was pushed out of the write cache
	assert.Equal(byte(1), persisted(t, access, blks[0].Id())[0])
	assert.Equal(byte(0), persisted(t, access, blks[2].Id())[0])
	assert.Equal(uint64(1), c.Stats().WriteThroughs)

	assert.Nil(c.Sync())
	assert.Equal(byte(3), persisted(t, access, blks[2].Id())[0])
	assert.Equal(uint64(3), c.Stats().WriteThroughs)
}

func TestWriteCacheEvictionError(t *testing.T) {
	access := newCounting()
	c := newCache(t, access, 10, 1)
	b0, _ := c.Allocate(0)
	b1, _ := c.Allocate(0)
	assert.Nil(t, c.Write(b0))
	access.failWrites = true
	err := c.Write(b1)
	assert.True(t, IsKind(err, IO), "got %v", err)
}

func TestCacheHits(t *testing.T) {
	assert := assert.New(t)
	c := newCache(t, newCounting(), 10, 0)
	b, _ := c.Allocate(0)
	assert.Nil(c.Write(b))

	_, err := c.GetRead(b.Id())
	assert.Nil(err)
	_, err = c.GetRead(b.Id())
	assert.Nil(err)
	s := c.Stats()
	assert.Equal(uint64(1), s.ReadMisses)
	assert.Equal(uint64(1), s.ReadHits)
}

func TestOverwriteBypassesCache(t *testing.T) {
	assert := assert.New(t)
	access := newCounting()
	c := newCache(t, access, 10, 4)
	b, _ := c.Allocate(0)
	fillBlock(b, 1)
	assert.Nil(c.Write(b))

	o := block.MkBlock(b.Id(), make([]byte, testBlockSize))
	fillBlock(o, 9)
	assert.Nil(c.Overwrite(o))
	assert.Nil(c.Sync())
	assert.Equal(byte(9), persisted(t, access, b.Id())[0], "cached write must not clobber overwrite")
}

func TestSyncNeeded(t *testing.T) {
	assert := assert.New(t)
	access := newCounting()
	m := NewFileAccessMgr("sync", access)
	assert.Nil(m.Sync())
	assert.Equal(0, access.syncs)

	b, _ := m.Allocate(0)
	assert.Nil(m.Write(b))
	assert.Nil(m.Sync())
	assert.Equal(1, access.syncs)
	assert.Nil(m.Sync())
	assert.Equal(1, access.syncs)
	assert.Nil(m.SyncForce())
	assert.Equal(2, access.syncs)
}

func TestBadAllocSize(t *testing.T) {
	mgr, _ := NewMem("size", testBlockSize, DefaultOptions())
	_, err := mgr.Allocate(testBlockSize * 2)
	assert.True(t, IsKind(err, Usage))
}

func TestClosed(t *testing.T) {
	mgr, _ := NewMem("closed", testBlockSize, DefaultOptions())
	assert.Nil(t, mgr.Close())
	assert.True(t, mgr.IsClosed())
	_, err := mgr.Allocate(0)
	assert.True(t, IsKind(err, Closed))
	assert.Nil(t, mgr.Close())
}

func newTracked(t *testing.T) BlockMgr {
	mgr, err := NewMem("track", testBlockSize, Options{ReadCacheSize: 4, Track: true})
	require.NoError(t, err)
	require.NoError(t, mgr.BeginUpdate())
	for i := 0; i < 3; i++ {
		b, _ := mgr.Allocate(0)
		require.NoError(t, mgr.Write(b))
	}
	require.NoError(t, mgr.EndUpdate())
	return mgr
}

func TestTrackerOutsideSession(t *testing.T) {
	mgr := newTracked(t)
	_, err := mgr.GetRead(0)
	assert.True(t, IsKind(err, Usage))
	_, err = mgr.Allocate(0)
	assert.True(t, IsKind(err, Usage))

	assert.Nil(t, mgr.BeginRead())
	_, err = mgr.GetWrite(0)
	assert.True(t, IsKind(err, Usage), "write fetch in a read session")
}

func TestTrackerSessionOrder(t *testing.T) {
	mgr := newTracked(t)
	assert.True(t, IsKind(mgr.EndRead(), Usage))
	assert.True(t, IsKind(mgr.EndUpdate(), Usage))

	assert.Nil(t, mgr.BeginRead())
	assert.True(t, IsKind(mgr.BeginUpdate(), Usage))
	assert.Nil(t, mgr.EndRead())

	assert.Nil(t, mgr.BeginUpdate())
	assert.True(t, IsKind(mgr.BeginUpdate(), Usage))
	assert.True(t, IsKind(mgr.BeginRead(), Usage))
	assert.Nil(t, mgr.EndUpdate())
}

func TestTrackerWriteNotActive(t *testing.T) {
	mgr := newTracked(t)
	assert.Nil(t, mgr.BeginUpdate())
	b, err := mgr.GetRead(1)
	require.NoError(t, err)
	assert.True(t, IsKind(mgr.Write(b), Usage))
	assert.Nil(t, mgr.Release(b))
	assert.True(t, IsKind(mgr.Release(b), Usage))
	assert.Nil(t, mgr.EndUpdate())
}

func TestTrackerActiveAtEnd(t *testing.T) {
	mgr := newTracked(t)
	assert.Nil(t, mgr.BeginUpdate())
	_, err := mgr.GetWrite(2)
	require.NoError(t, err)
	assert.True(t, IsKind(mgr.EndUpdate(), Usage))

	assert.Nil(t, mgr.BeginRead())
	_, err = mgr.GetRead(2)
	require.NoError(t, err)
	assert.True(t, IsKind(mgr.EndRead(), Usage))

	h := mgr.(*Tracker).History()
	assert.Contains(t, h, "GetRead(2)")
	assert.Equal(t, "EndRead", h[len(h)-1])
}

func TestTrackerIterators(t *testing.T) {
	mgr := newTracked(t)
	it := new(int)
	assert.Nil(t, mgr.BeginRead())
	_, err := mgr.GetReadIterator(0)
	assert.True(t, IsKind(err, Usage), "no iterator open")

	assert.Nil(t, mgr.BeginIterator(it))
	assert.True(t, IsKind(mgr.BeginIterator(it), Usage))
	b, err := mgr.GetReadIterator(0)
	require.NoError(t, err)
	assert.Nil(t, mgr.Release(b))
	assert.Nil(t, mgr.EndIterator(it))
	assert.True(t, IsKind(mgr.EndIterator(it), Usage))

	assert.Nil(t, mgr.BeginIterator(it))
	_, err = mgr.GetReadIterator(1)
	require.NoError(t, err)
	assert.True(t, IsKind(mgr.EndIterator(it), Usage), "iterator block still active")
	assert.Nil(t, mgr.EndRead())
}

func TestTrackerHistoryRing(t *testing.T) {
	tr := NewTracker(NewFileAccessMgr("ring", newCounting()))
	for i := 0; i < HistorySize+5; i++ {
		tr.Sync()
	}
	tr.BeginRead()
	h := tr.History()
	assert.Equal(t, HistorySize, len(h))
	assert.Equal(t, "BeginRead", h[HistorySize-1])
}
