package component

import (
	"math"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-dboe/block"
	"github.com/mit-pdos/go-dboe/blockmgr"
	"github.com/mit-pdos/go-dboe/common"
	"github.com/mit-pdos/go-dboe/txn"
	"github.com/mit-pdos/go-dboe/util"
)

var ErrBadBlock = errors.New("component: block is not allocated")

// image is the full contents of one block after a commit.
type image struct {
	id   common.BlockId
	data []byte
}

// encodeImages lays out images as a count, the ids, then the block data.
func encodeImages(ims []image) []byte {
	enc := marshal.NewEnc(8 + 8*uint64(len(ims)))
	enc.PutInt(uint64(len(ims)))
	for _, im := range ims {
		enc.PutInt(uint64(im.id))
	}
	b := enc.Finish()
	for _, im := range ims {
		b = append(b, im.data...)
	}
	return b
}

func decodeImages(b []byte, blockSize int) ([]image, error) {
	if len(b) < 8 {
		return nil, errors.Errorf("block images: %d bytes", len(b))
	}
	n := marshal.NewDec(b[:8]).GetInt()
	hdr := 8 + 8*n
	if uint64(len(b)) != hdr+n*uint64(blockSize) {
		return nil, errors.Errorf("block images: %d bytes for %d blocks", len(b), n)
	}
	dec := marshal.NewDec(b[8:hdr])
	ids := dec.GetInts(n)
	ims := make([]image, n)
	data := b[hdr:]
	for i, id := range ids {
		ims[i] = image{
			id:   common.BlockId(id),
			data: data[i*blockSize : (i+1)*blockSize],
		}
	}
	return ims, nil
}

type blocksTxn struct {
	reader bool
	epoch  uint64
	// limit is the committed limit when the transaction began.
	limit common.BlockId
	// next is the id the writer's next Allocate returns.
	next   common.BlockId
	writes map[common.BlockId][]byte
}

// version is the contents a block had before the commit of epoch until.
// Readers with an earlier epoch still see it.
type version struct {
	until uint64
	data  []byte
}

func (x *blocksTxn) images() []image {
	ims := make([]image, 0, len(x.writes))
	for id, data := range x.writes {
		ims = append(ims, image{id: id, data: data})
	}
	sort.Slice(ims, func(i, j int) bool { return ims[i].id < ims[j].id })
	return ims
}

type blocksHooks struct {
	label     string
	mgr       blockmgr.BlockMgr
	blockSize int
	// rw is held exclusively while committed images are applied to mgr
	// and while readers or versions change.
	rw *sync.RWMutex
	// readers counts active readers by epoch.
	readers map[uint64]int
	// versions holds before-images, oldest first, while a reader that
	// began before the overwrite is active.
	versions map[common.BlockId][]version
}

// Blocks is a transactional store of fixed-size blocks. A writer's changes
// stay in its session until commit, when the new images go to the journal
// and then to the block manager. A reader sees the blocks as they were
// when it began.
type Blocks struct {
	*txn.Lifecycle[*blocksTxn]
	h *blocksHooks
}

func NewBlocks(id txn.ComponentId, mgr blockmgr.BlockMgr, blockSize int) *Blocks {
	h := &blocksHooks{
		label:     id.String(),
		mgr:       mgr,
		blockSize: blockSize,
		rw:        new(sync.RWMutex),
		readers:   make(map[uint64]int),
		versions:  make(map[common.BlockId][]version),
	}
	return &Blocks{Lifecycle: txn.NewLifecycle[*blocksTxn](id, h), h: h}
}

func (b *Blocks) session(t *txn.Transaction) (*blocksTxn, error) {
	x, ok := b.Data(t)
	if !ok {
		return nil, errors.Wrapf(ErrNoSession, "%v %s", b.ComponentId(), t.Id())
	}
	return x, nil
}

func (b *Blocks) BlockSize() int {
	return b.h.blockSize
}

// Limit is one past the largest committed block id.
func (b *Blocks) Limit() common.BlockId {
	b.h.rw.RLock()
	defer b.h.rw.RUnlock()
	return b.h.mgr.AllocLimit()
}

// Read returns the contents of block id as t sees it.
func (b *Blocks) Read(t *txn.Transaction, id common.BlockId) ([]byte, error) {
	x, err := b.session(t)
	if err != nil {
		return nil, err
	}
	if x.reader {
		return b.h.readSnapshot(x, id)
	}
	if data, ok := x.writes[id]; ok {
		return util.CloneByteSlice(data), nil
	}
	b.h.rw.RLock()
	defer b.h.rw.RUnlock()
	return b.h.readLocked(id)
}

// Allocate adds a zeroed block in writer t and returns its id.
func (b *Blocks) Allocate(t *txn.Transaction) (common.BlockId, error) {
	x, err := b.session(t)
	if err != nil {
		return common.NULLBLOCK, err
	}
	if err := t.NotifyUpdate(); err != nil {
		return common.NULLBLOCK, err
	}
	id := x.next
	x.next++
	x.writes[id] = make([]byte, b.h.blockSize)
	return id, nil
}

// Write replaces block id in writer t; data shorter than a block is padded
// with zeros.
func (b *Blocks) Write(t *txn.Transaction, id common.BlockId, data []byte) error {
	x, err := b.session(t)
	if err != nil {
		return err
	}
	if err := t.NotifyUpdate(); err != nil {
		return err
	}
	if len(data) > b.h.blockSize {
		return errors.Errorf("%s: write of %d bytes to block %d", b.h.label, len(data), id)
	}
	if _, ok := x.writes[id]; !ok && (id < 0 || id >= x.next) {
		return errors.Wrapf(ErrBadBlock, "%s: write %d", b.h.label, id)
	}
	buf := make([]byte, b.h.blockSize)
	copy(buf, data)
	x.writes[id] = buf
	return nil
}

func (h *blocksHooks) readSnapshot(x *blocksTxn, id common.BlockId) ([]byte, error) {
	h.rw.RLock()
	defer h.rw.RUnlock()
	if id < 0 || id >= x.limit {
		return nil, errors.Wrapf(ErrBadBlock, "%s: read %d (limit %d)", h.label, id, x.limit)
	}
	for _, v := range h.versions[id] {
		if v.until > x.epoch {
			return util.CloneByteSlice(v.data), nil
		}
	}
	return h.readLocked(id)
}

// readLocked reads the committed contents of id; rw must be held.
func (h *blocksHooks) readLocked(id common.BlockId) ([]byte, error) {
	if err := h.mgr.BeginRead(); err != nil {
		return nil, err
	}
	blk, err := h.mgr.GetRead(id)
	if err != nil {
		h.mgr.EndRead()
		return nil, err
	}
	data := util.CloneByteSlice(blk.Data())
	if err := h.mgr.Release(blk); err != nil {
		h.mgr.EndRead()
		return nil, err
	}
	if err := h.mgr.EndRead(); err != nil {
		return nil, err
	}
	return data, nil
}

// apply installs images in one update session and forces them to storage.
// Active readers keep the old contents as the version before epoch.
func (h *blocksHooks) apply(ims []image, epoch uint64) error {
	h.rw.Lock()
	defer h.rw.Unlock()
	if len(h.readers) > 0 {
		if err := h.saveVersions(ims, epoch); err != nil {
			return err
		}
	}
	if err := h.mgr.BeginUpdate(); err != nil {
		return err
	}
	for _, im := range ims {
		if err := h.put(im); err != nil {
			h.mgr.EndUpdate()
			return errors.Wrapf(err, "%s: block %d", h.label, im.id)
		}
	}
	if err := h.mgr.EndUpdate(); err != nil {
		return err
	}
	return h.mgr.SyncForce()
}

func (h *blocksHooks) put(im image) error {
	if !h.mgr.Valid(im.id) {
		return h.mgr.Overwrite(block.MkBlock(im.id, util.CloneByteSlice(im.data)))
	}
	blk, err := h.mgr.GetWrite(im.id)
	if err != nil {
		return err
	}
	blk.SetPos(0)
	if err := blk.Put(im.data); err != nil {
		h.mgr.Release(blk)
		return err
	}
	// a written block is no longer active, so it is not released
	return h.mgr.Write(blk)
}

func (h *blocksHooks) saveVersions(ims []image, epoch uint64) error {
	limit := h.mgr.AllocLimit()
	for _, im := range ims {
		if im.id >= limit {
			continue
		}
		data, err := h.readLocked(im.id)
		if err != nil {
			return errors.Wrapf(err, "%s: before-image of %d", h.label, im.id)
		}
		h.versions[im.id] = append(h.versions[im.id], version{until: epoch, data: data})
	}
	return nil
}

// prune drops versions no active reader can see; rw must be held.
func (h *blocksHooks) prune() {
	if len(h.readers) == 0 {
		for id := range h.versions {
			delete(h.versions, id)
		}
		return
	}
	oldest := uint64(math.MaxUint64)
	for e := range h.readers {
		if e < oldest {
			oldest = e
		}
	}
	for id, vs := range h.versions {
		i := 0
		for i < len(vs) && vs[i].until <= oldest {
			i++
		}
		if i == len(vs) {
			delete(h.versions, id)
		} else if i > 0 {
			h.versions[id] = vs[i:]
		}
	}
}

func (h *blocksHooks) StartRecovery() {
	util.DPrintf(1, "%s: start recovery at limit %d\n", h.label, h.mgr.AllocLimit())
}

func (h *blocksHooks) Recover(payload []byte) error {
	ims, err := decodeImages(payload, h.blockSize)
	if err != nil {
		return err
	}
	return h.apply(ims, 0)
}

func (h *blocksHooks) FinishRecovery() {
	util.DPrintf(1, "%s: recovered to limit %d\n", h.label, h.mgr.AllocLimit())
}

func (h *blocksHooks) CleanStart() {}

func (h *blocksHooks) Begin(t *txn.Transaction) (*blocksTxn, error) {
	x := &blocksTxn{
		reader: !t.IsWriteTxn(),
		epoch:  t.DataEpoch(),
		writes: make(map[common.BlockId][]byte),
	}
	h.rw.Lock()
	defer h.rw.Unlock()
	x.limit = h.mgr.AllocLimit()
	x.next = x.limit
	if x.reader {
		h.readers[x.epoch]++
	}
	return x, nil
}

func (h *blocksHooks) CommitPrepare(t *txn.Transaction, x *blocksTxn) ([]byte, error) {
	if len(x.writes) == 0 {
		return nil, nil
	}
	return encodeImages(x.images()), nil
}

func (h *blocksHooks) Commit(t *txn.Transaction, x *blocksTxn) error {
	if len(x.writes) == 0 {
		return nil
	}
	return h.apply(x.images(), t.DataEpoch())
}

func (h *blocksHooks) CommitEnd(t *txn.Transaction, x *blocksTxn) error { return nil }
func (h *blocksHooks) Abort(t *txn.Transaction, x *blocksTxn) error     { return nil }

func (h *blocksHooks) Complete(t *txn.Transaction, x *blocksTxn) error {
	x.writes = nil
	if !x.reader {
		return nil
	}
	h.rw.Lock()
	defer h.rw.Unlock()
	h.readers[x.epoch]--
	if h.readers[x.epoch] == 0 {
		delete(h.readers, x.epoch)
	}
	h.prune()
	return nil
}

func (h *blocksHooks) Shutdown() {
	if err := h.mgr.Close(); err != nil {
		util.Warnf("%s: close: %v", h.label, err)
	}
}
