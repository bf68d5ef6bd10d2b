package blockaccess

import (
	"os"
	"sync"
	"unsafe"

	"github.com/ncw/directio"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-dboe/block"
	"github.com/mit-pdos/go-dboe/common"
	"github.com/mit-pdos/go-dboe/util"
)

var _ BlockAccess = (*fileAccess)(nil)

type fileAccess struct {
	mu        *sync.Mutex
	f         *os.File
	fd        int
	path      string
	blockSize int
	direct    bool
	boundary  common.BlockId
}

// OpenFile opens (creating if needed) a file of fixed-size blocks. With direct
// set the file is opened O_DIRECT, which needs blockSize to be a multiple of
// the device alignment; buffers are always aligned.
func OpenFile(path string, blockSize int, direct bool) (BlockAccess, error) {
	if blockSize <= 0 {
		blockSize = int(common.BlockSize)
	}
	if direct && blockSize%directio.BlockSize != 0 {
		return nil, errors.Wrapf(ErrBadSize, "direct I/O needs a multiple of %d, got %d",
			directio.BlockSize, blockSize)
	}
	var f *os.File
	var err error
	if direct {
		f, err = directio.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	} else {
		f, err = os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	fd := int(f.Fd())
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if stat.Size%int64(blockSize) != 0 {
		util.Warnf("%s: size %d is not a multiple of %d; ignoring trailing bytes",
			path, stat.Size, blockSize)
	}
	a := &fileAccess{
		mu:        new(sync.Mutex),
		f:         f,
		fd:        fd,
		path:      path,
		blockSize: blockSize,
		direct:    direct,
		boundary:  common.BlockId(stat.Size / int64(blockSize)),
	}
	util.DPrintf(1, "OpenFile: %s block size %d boundary %d direct %v\n",
		path, blockSize, a.boundary, direct)
	return a, nil
}

func (a *fileAccess) offset(id common.BlockId) int64 {
	return int64(id) * int64(a.blockSize)
}

func (a *fileAccess) Allocate(size int) (*block.Block, error) {
	sz, err := checkSize(size, a.blockSize)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil, ErrClosed
	}
	id := a.boundary
	a.boundary++
	return block.MkBlock(id, directio.AlignedBlock(sz)), nil
}

func (a *fileAccess) Read(id common.BlockId) (*block.Block, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil, ErrClosed
	}
	if id < 0 || id >= a.boundary {
		return nil, errors.Wrapf(ErrNotValid, "read %d (boundary %d)", id, a.boundary)
	}
	buf := directio.AlignedBlock(a.blockSize)
	n, err := unix.Pread(a.fd, buf, a.offset(id))
	if err != nil {
		return nil, errors.Wrapf(err, "%s: read block %d", a.path, id)
	}
	// allocated but not yet written past EOF reads short; that is zeros
	for i := n; i < len(buf); i++ {
		buf[i] = 0
	}
	return block.MkBlock(id, buf), nil
}

// isAligned reports whether buf starts on a directio.AlignSize boundary.
func isAligned(buf []byte) bool {
	align := uintptr(directio.AlignSize)
	if align == 0 || len(buf) == 0 {
		return true
	}
	return uintptr(unsafe.Pointer(&buf[0]))&(align-1) == 0
}

func (a *fileAccess) write(b *block.Block, extend bool) error {
	if err := checkBlock(b, a.blockSize); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return ErrClosed
	}
	if b.Id() >= a.boundary {
		if !extend {
			return errors.Wrapf(ErrNotValid, "write %d (boundary %d)", b.Id(), a.boundary)
		}
		a.boundary = b.Id() + 1
	}
	buf := b.Data()
	if a.direct && !isAligned(buf) {
		buf = directio.AlignedBlock(a.blockSize)
		copy(buf, b.Data())
	}
	_, err := unix.Pwrite(a.fd, buf, a.offset(b.Id()))
	if err != nil {
		return errors.Wrapf(err, "%s: write block %d", a.path, b.Id())
	}
	return nil
}

func (a *fileAccess) Write(b *block.Block) error {
	return a.write(b, false)
}

func (a *fileAccess) Overwrite(b *block.Block) error {
	return a.write(b, true)
}

func (a *fileAccess) Valid(id common.BlockId) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return id >= 0 && id < a.boundary
}

func (a *fileAccess) AllocBoundary() common.BlockId {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.boundary
}

// ResetAllocBoundary truncates the file to boundary blocks.
func (a *fileAccess) ResetAllocBoundary(boundary common.BlockId) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := unix.Ftruncate(a.fd, a.offset(boundary)); err != nil {
		util.Errorf("%s: truncate to block %d: %v", a.path, boundary, err)
		return
	}
	a.boundary = boundary
}

func (a *fileAccess) IsEmpty() bool {
	return a.AllocBoundary() == 0
}

func (a *fileAccess) BlockSize() int {
	return a.blockSize
}

func (a *fileAccess) Sync() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return ErrClosed
	}
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier (that needs F_FULLFSYNC).
	if err := unix.Fsync(a.fd); err != nil {
		return errors.Wrapf(err, "%s: fsync", a.path)
	}
	return nil
}

func (a *fileAccess) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.f == nil {
		return nil
	}
	err := a.f.Close()
	a.f = nil
	return err
}
