// Package disk provides devices for the goose disk interface: a file-backed
// disk for running against real storage, and a disk that can be made to
// lose writes for crash testing.
package disk

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/tchajed/goose/machine/disk"
	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-dboe/util"
)

var _ disk.Disk = (*fileDisk)(nil)

type fileDisk struct {
	fd        int
	numBlocks uint64
}

// NewFileDisk opens (creating if needed) path as a disk of numBlocks blocks,
// growing a regular file to that size. I/O failures after opening panic,
// since the disk interface has no way to report them.
func NewFileDisk(path string, numBlocks uint64) (disk.Disk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	want := int64(numBlocks * disk.BlockSize)
	if (stat.Mode&unix.S_IFREG) != 0 && stat.Size < want {
		err = unix.Ftruncate(fd, want)
		if err != nil {
			unix.Close(fd)
			return nil, errors.Wrapf(err, "grow %s", path)
		}
	}
	util.DPrintf(1, "NewFileDisk: %s %d blocks\n", path, numBlocks)
	return &fileDisk{fd: fd, numBlocks: numBlocks}, nil
}

func (d *fileDisk) ReadTo(a uint64, buf disk.Block) {
	if uint64(len(buf)) != disk.BlockSize {
		panic("buffer is not block-sized")
	}
	if a >= d.numBlocks {
		panic(fmt.Errorf("out-of-bounds read at %v", a))
	}
	_, err := unix.Pread(d.fd, buf, int64(a*disk.BlockSize))
	if err != nil {
		panic("read failed: " + err.Error())
	}
}

func (d *fileDisk) Read(a uint64) disk.Block {
	buf := make([]byte, disk.BlockSize)
	d.ReadTo(a, buf)
	return buf
}

func (d *fileDisk) Write(a uint64, v disk.Block) {
	if uint64(len(v)) != disk.BlockSize {
		panic(fmt.Errorf("v is not block sized (%d bytes)", len(v)))
	}
	if a >= d.numBlocks {
		panic(fmt.Errorf("out-of-bounds write at %v", a))
	}
	_, err := unix.Pwrite(d.fd, v, int64(a*disk.BlockSize))
	if err != nil {
		panic("write failed: " + err.Error())
	}
}

func (d *fileDisk) Size() uint64 {
	return d.numBlocks
}

func (d *fileDisk) Barrier() {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; the correct replacement is fcntl with F_FULLFSYNC.
	err := unix.Fsync(d.fd)
	if err != nil {
		panic("file sync failed: " + err.Error())
	}
}

func (d *fileDisk) Close() {
	err := unix.Close(d.fd)
	if err != nil {
		panic(err)
	}
}
