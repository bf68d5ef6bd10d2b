package disk

import (
	"sync"

	"github.com/tchajed/goose/machine/disk"
)

// CrashDisk passes operations through to another disk until it is told to
// crash; from then on writes are silently dropped, as if the machine had
// stopped. Reopening the underlying disk shows what survived.
type CrashDisk struct {
	mu      *sync.Mutex
	d       disk.Disk
	allowed int64 // writes still permitted; -1 means no crash pending
	dropped uint64
}

var _ disk.Disk = (*CrashDisk)(nil)

func NewCrashDisk(d disk.Disk) *CrashDisk {
	return &CrashDisk{
		mu:      new(sync.Mutex),
		d:       d,
		allowed: -1,
	}
}

// CrashAfter lets n more writes through and drops every write after that.
func (c *CrashDisk) CrashAfter(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allowed = int64(n)
}

func (c *CrashDisk) Crashed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allowed == 0
}

// Dropped is the number of writes lost to the crash.
func (c *CrashDisk) Dropped() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Underlying returns the wrapped disk, which holds exactly the writes that
// made it through.
func (c *CrashDisk) Underlying() disk.Disk {
	return c.d
}

func (c *CrashDisk) Read(a uint64) disk.Block {
	return c.d.Read(a)
}

func (c *CrashDisk) Write(a uint64, v disk.Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allowed == 0 {
		c.dropped++
		return
	}
	if c.allowed > 0 {
		c.allowed--
	}
	c.d.Write(a, v)
}

func (c *CrashDisk) Size() uint64 {
	return c.d.Size()
}

func (c *CrashDisk) Barrier() {
	if c.Crashed() {
		return
	}
	c.d.Barrier()
}

func (c *CrashDisk) Close() {
	c.d.Close()
}
