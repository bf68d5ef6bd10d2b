package blockmgr

import (
	"sync"

	"github.com/mit-pdos/go-dboe/block"
	"github.com/mit-pdos/go-dboe/common"
)

// SyncMgr serializes every operation on the layers below with one mutex.
type SyncMgr struct {
	mu   *sync.Mutex
	next BlockMgr
}

var _ BlockMgr = (*SyncMgr)(nil)

func NewSyncMgr(next BlockMgr) *SyncMgr {
	return &SyncMgr{
		mu:   new(sync.Mutex),
		next: next,
	}
}

func (s *SyncMgr) Allocate(size int) (*block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Allocate(size)
}

func (s *SyncMgr) GetRead(id common.BlockId) (*block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.GetRead(id)
}

func (s *SyncMgr) GetReadIterator(id common.BlockId) (*block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.GetReadIterator(id)
}

func (s *SyncMgr) GetWrite(id common.BlockId) (*block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.GetWrite(id)
}

func (s *SyncMgr) Promote(b *block.Block) (*block.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Promote(b)
}

func (s *SyncMgr) Release(b *block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Release(b)
}

func (s *SyncMgr) Write(b *block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Write(b)
}

func (s *SyncMgr) Overwrite(b *block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Overwrite(b)
}

func (s *SyncMgr) Free(b *block.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Free(b)
}

func (s *SyncMgr) Sync() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Sync()
}

func (s *SyncMgr) SyncForce() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.SyncForce()
}

func (s *SyncMgr) Valid(id common.BlockId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Valid(id)
}

func (s *SyncMgr) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.IsEmpty()
}

func (s *SyncMgr) AllocLimit() common.BlockId {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.AllocLimit()
}

func (s *SyncMgr) ResetAlloc(limit common.BlockId) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.ResetAlloc(limit)
}

func (s *SyncMgr) BeginUpdate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.BeginUpdate()
}

func (s *SyncMgr) EndUpdate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.EndUpdate()
}

func (s *SyncMgr) BeginRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.BeginRead()
}

func (s *SyncMgr) EndRead() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.EndRead()
}

func (s *SyncMgr) BeginIterator(it Iterator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.BeginIterator(it)
}

func (s *SyncMgr) EndIterator(it Iterator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.EndIterator(it)
}

func (s *SyncMgr) Label() string {
	return s.next.Label()
}

func (s *SyncMgr) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.Close()
}

func (s *SyncMgr) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next.IsClosed()
}
