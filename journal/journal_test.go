package journal

import (
	"bytes"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"github.com/tchajed/goose/machine/disk"

	dboedisk "github.com/mit-pdos/go-dboe/disk"
)

type journalWrapper struct {
	assert *assert.Assertions
	*Journal
}

func (j journalWrapper) write(e Entry) {
	j.assert.NoError(j.Journal.Write(e))
}

func (j journalWrapper) sync() {
	j.assert.NoError(j.Journal.Sync())
}

func (j journalWrapper) entries() []Entry {
	es, err := j.Journal.Entries()
	j.assert.NoError(err)
	return es
}

type JournalSuite struct {
	suite.Suite
	d disk.Disk
	j journalWrapper
}

func (suite *JournalSuite) SetupTest() {
	suite.d = disk.NewMemDisk(10)
	suite.open(suite.d)
}

func (suite *JournalSuite) open(d disk.Disk) journalWrapper {
	j, err := Open(d)
	suite.Require().NoError(err)
	suite.j = journalWrapper{assert: suite.Assert(), Journal: j}
	return suite.j
}

func (suite *JournalSuite) restart() journalWrapper {
	suite.j.Close()
	return suite.open(suite.d)
}

func TestJournal(t *testing.T) {
	suite.Run(t, new(JournalSuite))
}

func comp(b byte) [16]byte {
	var c [16]byte
	c[15] = b
	return c
}

func redo(c byte, payload []byte) Entry {
	return Entry{Type: REDO, Component: comp(c), Payload: payload}
}

func (suite *JournalSuite) TestEmpty() {
	suite.True(suite.j.IsEmpty())
	suite.Empty(suite.j.entries())
	suite.restart()
	suite.True(suite.j.IsEmpty())
}

func (suite *JournalSuite) TestSyncThenRecover() {
	j := suite.j
	j.write(redo(1, []byte("hello")))
	j.write(redo(2, nil))
	suite.NoError(j.WriteJournal(COMMIT))
	suite.Empty(j.entries(), "nothing durable before sync")
	j.sync()

	j = suite.restart()
	es := j.entries()
	suite.Equal(3, len(es))
	suite.Equal(REDO, es[0].Type)
	suite.Equal(comp(1), es[0].Component)
	suite.Equal([]byte("hello"), es[0].Payload)
	suite.Equal(0, len(es[1].Payload))
	suite.Equal(COMMIT, es[2].Type)
}

func (suite *JournalSuite) TestUnsyncedLost() {
	j := suite.j
	j.write(redo(1, []byte{1}))
	j.sync()
	j.write(redo(1, []byte{2}))
	j = suite.restart()
	suite.Equal(1, len(j.entries()))
}

func (suite *JournalSuite) TestStraddleBlocks() {
	j := suite.j
	big := bytes.Repeat([]byte{7}, int(disk.BlockSize)+100)
	j.write(redo(1, []byte{1, 2, 3}))
	j.sync()
	j.write(redo(2, big))
	j.write(redo(3, []byte{9}))
	j.sync()

	j = suite.restart()
	es := j.entries()
	suite.Equal(3, len(es))
	suite.Equal([]byte{1, 2, 3}, es[0].Payload)
	suite.Equal(big, es[1].Payload)
	suite.Equal([]byte{9}, es[2].Payload)
}

func (suite *JournalSuite) TestFull() {
	j := suite.j
	big := make([]byte, j.Capacity())
	j.write(redo(1, big))
	err := j.Sync()
	suite.Equal(ErrFull, errors.Cause(err))
	j.AbortWrite()
	j.sync()
	suite.True(j.IsEmpty())
}

func (suite *JournalSuite) TestTruncate() {
	j := suite.j
	j.write(redo(1, []byte{1}))
	j.sync()
	pos := j.Position()
	j.write(redo(2, []byte{2}))
	suite.NoError(j.WriteJournal(COMMIT))
	j.sync()

	suite.Error(j.Truncate(pos + 1))
	suite.Error(j.Truncate(j.Position() + 1))
	suite.NoError(j.Truncate(pos))
	suite.Equal(uint64(1), j.NumEntries())

	j = suite.restart()
	suite.Equal(1, len(j.entries()))
	suite.NoError(j.Truncate(0))
	suite.True(j.IsEmpty())
}

func (suite *JournalSuite) TestReset() {
	j := suite.j
	j.write(redo(1, []byte{1}))
	j.sync()
	j.write(redo(1, []byte{2}))
	suite.NoError(j.Reset())
	j.sync()
	suite.True(j.IsEmpty())
	j = suite.restart()
	suite.True(j.IsEmpty())
}

func (suite *JournalSuite) TestClosed() {
	suite.NoError(suite.j.Close())
	suite.Equal(ErrClosed, suite.j.Write(redo(1, nil)))
	suite.Equal(ErrClosed, suite.j.Sync())
}

func TestCrashBeforeHeader(t *testing.T) {
	assert := assert.New(t)
	under := disk.NewMemDisk(10)
	j, err := Open(under)
	assert.NoError(err)
	assert.NoError(j.Write(redo(1, []byte{1})))
	assert.NoError(j.Sync())

	c := dboedisk.NewCrashDisk(under)
	j, err = Open(c)
	assert.NoError(err)
	assert.NoError(j.Write(redo(2, []byte{2})))
	assert.NoError(j.WriteJournal(COMMIT))
	// the entry bytes fit in one block; the header write is lost
	c.CrashAfter(1)
	assert.NoError(j.Sync())
	assert.Equal(uint64(1), c.Dropped())

	j, err = Open(under)
	assert.NoError(err)
	es, err := j.Entries()
	assert.NoError(err)
	assert.Equal(1, len(es))
	assert.Equal([]byte{1}, es[0].Payload)
}

func TestBadMagic(t *testing.T) {
	d := disk.NewMemDisk(4)
	blk := make(disk.Block, disk.BlockSize)
	blk[0] = 1
	d.Write(HDR, blk)
	_, err := Open(d)
	assert.Equal(t, ErrCorrupt, errors.Cause(err))
}
