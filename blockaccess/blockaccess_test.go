package blockaccess

import (
	"path/filepath"
	"testing"

	"github.com/ncw/directio"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/tchajed/goose/machine/disk"

	"github.com/mit-pdos/go-dboe/block"
	"github.com/mit-pdos/go-dboe/common"
)

type AccessSuite struct {
	suite.Suite
	mk      func() BlockAccess
	restart func(a BlockAccess) BlockAccess
	a       BlockAccess
}

func (suite *AccessSuite) SetupTest() {
	suite.a = suite.mk()
}

func (suite *AccessSuite) TearDownTest() {
	suite.a.Close()
}

func fill(b *block.Block, v byte) {
	for i := range b.Data() {
		b.Data()[i] = v
	}
}

func (suite *AccessSuite) TestAllocateReadWrite() {
	require := suite.Require()
	a := suite.a
	require.True(a.IsEmpty())

	b, err := a.Allocate(0)
	require.NoError(err)
	suite.Equal(common.BlockId(0), b.Id())
	suite.Equal(a.BlockSize(), b.Len())
	suite.Equal(common.BlockId(1), a.AllocBoundary())

	fill(b, 7)
	require.NoError(a.Write(b))

	b2, err := a.Read(0)
	require.NoError(err)
	suite.Equal(b.Data(), b2.Data())

	b2.Data()[0] = 1
	b3, _ := a.Read(0)
	suite.Equal(byte(7), b3.Data()[0], "read returns a private copy")
}

func (suite *AccessSuite) TestUnwrittenReadsZero() {
	a := suite.a
	a.Allocate(0)
	b, err := a.Allocate(0)
	suite.Require().NoError(err)
	fill(b, 3)
	suite.Require().NoError(a.Write(b))
	b0, err := a.Read(0)
	suite.Require().NoError(err)
	suite.Equal(make([]byte, a.BlockSize()), b0.Data())
}

func (suite *AccessSuite) TestBadSize() {
	_, err := suite.a.Allocate(suite.a.BlockSize() + 1)
	suite.Equal(ErrBadSize, errors.Cause(err))

	b := block.MkBlock(0, make([]byte, 3))
	suite.Equal(ErrBadSize, errors.Cause(suite.a.Overwrite(b)))
}

func (suite *AccessSuite) TestNotValid() {
	a := suite.a
	suite.False(a.Valid(0))
	_, err := a.Read(0)
	suite.Equal(ErrNotValid, errors.Cause(err))
	b := block.MkBlock(2, make([]byte, a.BlockSize()))
	suite.Equal(ErrNotValid, errors.Cause(a.Write(b)))
}

func (suite *AccessSuite) TestOverwriteExtends() {
	a := suite.a
	b := block.MkBlock(3, make([]byte, a.BlockSize()))
	fill(b, 9)
	suite.Require().NoError(a.Overwrite(b))
	suite.Equal(common.BlockId(4), a.AllocBoundary())
	suite.True(a.Valid(3))
	b2, err := a.Read(3)
	suite.Require().NoError(err)
	suite.Equal(byte(9), b2.Data()[a.BlockSize()-1])
}

func (suite *AccessSuite) TestResetBoundary() {
	a := suite.a
	for i := 0; i < 3; i++ {
		b, _ := a.Allocate(0)
		a.Write(b)
	}
	a.ResetAllocBoundary(1)
	suite.Equal(common.BlockId(1), a.AllocBoundary())
	suite.False(a.Valid(1))
	b, _ := a.Allocate(0)
	suite.Equal(common.BlockId(1), b.Id())
}

func (suite *AccessSuite) TestRestart() {
	if suite.restart == nil {
		suite.T().Skip("no persistence")
	}
	a := suite.a
	b, _ := a.Allocate(0)
	fill(b, 5)
	suite.Require().NoError(a.Write(b))
	b, _ = a.Allocate(0)
	suite.Require().NoError(a.Write(b))
	suite.Require().NoError(a.Sync())

	suite.a = suite.restart(a)
	suite.Equal(common.BlockId(2), suite.a.AllocBoundary())
	b0, err := suite.a.Read(0)
	suite.Require().NoError(err)
	suite.Equal(byte(5), b0.Data()[0])
}

func (suite *AccessSuite) TestClosed() {
	suite.Require().NoError(suite.a.Close())
	_, err := suite.a.Allocate(0)
	suite.Equal(ErrClosed, errors.Cause(err))
}

func TestMemAccess(t *testing.T) {
	suite.Run(t, &AccessSuite{
		mk: func() BlockAccess { return NewMem(64) },
	})
}

func TestDiskAccess(t *testing.T) {
	var d disk.Disk
	suite.Run(t, &AccessSuite{
		mk: func() BlockAccess {
			d = disk.NewMemDisk(100)
			return NewDisk(d)
		},
		restart: func(a BlockAccess) BlockAccess {
			a.Close()
			return NewDisk(d)
		},
	})
}

func TestFileAccess(t *testing.T) {
	var path string
	suite.Run(t, &AccessSuite{
		mk: func() BlockAccess {
			path = filepath.Join(t.TempDir(), "blocks")
			a, err := OpenFile(path, 512, false)
			require.NoError(t, err)
			return a
		},
		restart: func(a BlockAccess) BlockAccess {
			a.Close()
			a, err := OpenFile(path, 512, false)
			require.NoError(t, err)
			return a
		},
	})
}

func TestDiskFull(t *testing.T) {
	a := NewDisk(disk.NewMemDisk(3))
	for i := 0; i < 2; i++ {
		_, err := a.Allocate(0)
		assert.NoError(t, err)
	}
	_, err := a.Allocate(0)
	assert.Equal(t, ErrFull, errors.Cause(err))
}

func TestIsAligned(t *testing.T) {
	assert := assert.New(t)
	buf := directio.AlignedBlock(directio.BlockSize)
	assert.True(isAligned(buf))
	assert.True(isAligned(nil))
	if directio.AlignSize > 1 {
		assert.False(isAligned(buf[1:]))
	}
}

func TestDirectUnalignedWrite(t *testing.T) {
	a, err := OpenFile(filepath.Join(t.TempDir(), "blocks"), 0, false)
	require.NoError(t, err)
	defer a.Close()
	fa := a.(*fileAccess)
	fa.direct = true
	data := make([]byte, fa.blockSize+1)[1:]
	data[0] = 9
	require.NoError(t, a.Overwrite(block.MkBlock(0, data)))
	b, err := a.Read(0)
	require.NoError(t, err)
	assert.Equal(t, byte(9), b.Data()[0])
}
