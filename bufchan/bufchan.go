// Package bufchan provides BufferChannel, a minimal store of bytes addressed
// by offset, used for small pieces of durable state.
package bufchan

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-dboe/util"
)

var ErrClosed = errors.New("buffer channel is closed")

type BufferChannel interface {
	// Read fills buf from off and returns the number of bytes read, which is
	// short only at the end of the channel.
	Read(buf []byte, off int64) (int, error)

	// Write stores buf at off, growing the channel as needed.
	Write(buf []byte, off int64) (int, error)

	Sync() error
	IsEmpty() bool
	Size() int64
	Truncate(size int64) error
	Label() string
	Close() error
}

type memChannel struct {
	mu     *sync.Mutex
	label  string
	data   []byte
	closed bool
}

var _ BufferChannel = (*memChannel)(nil)

func NewMem(label string) BufferChannel {
	return &memChannel{
		mu:    new(sync.Mutex),
		label: label,
	}
}

func (c *memChannel) Read(buf []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	if off >= int64(len(c.data)) {
		return 0, nil
	}
	return copy(buf, c.data[off:]), nil
}

func (c *memChannel) Write(buf []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}
	end := off + int64(len(buf))
	if end > int64(len(c.data)) {
		grown := make([]byte, end)
		copy(grown, c.data)
		c.data = grown
	}
	return copy(c.data[off:], buf), nil
}

func (c *memChannel) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return nil
}

func (c *memChannel) IsEmpty() bool {
	return c.Size() == 0
}

func (c *memChannel) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return int64(len(c.data))
}

func (c *memChannel) Truncate(size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if size < int64(len(c.data)) {
		c.data = c.data[:size]
	}
	return nil
}

func (c *memChannel) Label() string {
	return c.label
}

func (c *memChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

type fileChannel struct {
	mu   *sync.Mutex
	f    *os.File
	fd   int
	path string
}

var _ BufferChannel = (*fileChannel)(nil)

// OpenFile opens (creating if needed) a file-backed channel.
func OpenFile(path string) (BufferChannel, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	util.DPrintf(1, "bufchan.OpenFile: %s\n", path)
	return &fileChannel{
		mu:   new(sync.Mutex),
		f:    f,
		fd:   int(f.Fd()),
		path: path,
	}, nil
}

func (c *fileChannel) Read(buf []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return 0, ErrClosed
	}
	var total int
	for total < len(buf) {
		n, err := unix.Pread(c.fd, buf[total:], off+int64(total))
		if err != nil {
			return total, errors.Wrapf(err, "%s: read at %d", c.path, off)
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

func (c *fileChannel) Write(buf []byte, off int64) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return 0, ErrClosed
	}
	var total int
	for total < len(buf) {
		n, err := unix.Pwrite(c.fd, buf[total:], off+int64(total))
		if err != nil {
			return total, errors.Wrapf(err, "%s: write at %d", c.path, off)
		}
		total += n
	}
	return total, nil
}

func (c *fileChannel) Sync() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return ErrClosed
	}
	if err := unix.Fsync(c.fd); err != nil {
		return errors.Wrapf(err, "%s: fsync", c.path)
	}
	return nil
}

func (c *fileChannel) IsEmpty() bool {
	return c.Size() == 0
}

func (c *fileChannel) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return 0
	}
	var stat unix.Stat_t
	if err := unix.Fstat(c.fd, &stat); err != nil {
		util.Errorf("%s: stat: %v", c.path, err)
		return 0
	}
	return stat.Size
}

func (c *fileChannel) Truncate(size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return ErrClosed
	}
	if err := unix.Ftruncate(c.fd, size); err != nil {
		return errors.Wrapf(err, "%s: truncate to %d", c.path, size)
	}
	return nil
}

func (c *fileChannel) Label() string {
	return c.path
}

func (c *fileChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.f == nil {
		return nil
	}
	err := c.f.Close()
	c.f = nil
	return err
}
