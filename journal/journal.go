package journal

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/tchajed/goose/machine/disk"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-dboe/util"
)

var (
	ErrFull    = errors.New("journal is full")
	ErrClosed  = errors.New("journal is closed")
	ErrCorrupt = errors.New("journal is corrupt")
)

// Journal is an append-only log of entries on a disk. Writes are buffered
// until Sync, which makes them durable atomically.
type Journal struct {
	mu      *sync.Mutex
	d       disk.Disk
	length  uint64 // durable entry bytes
	count   uint64 // durable entries
	pending []byte // encoded entries not yet synced
	npend   uint64
	closed  bool
}

func (j *Journal) hdr() disk.Block {
	enc := marshal.NewEnc(disk.BlockSize)
	enc.PutInt(journalMagic)
	enc.PutInt(j.length)
	enc.PutInt(j.count)
	return enc.Finish()
}

// Open recovers the journal on d, initializing an all-zero device.
func Open(d disk.Disk) (*Journal, error) {
	j := &Journal{
		mu: new(sync.Mutex),
		d:  d,
	}
	dec := marshal.NewDec(d.Read(HDR))
	magic := dec.GetInt()
	length := dec.GetInt()
	count := dec.GetInt()
	switch {
	case magic == journalMagic:
		j.length = length
		j.count = count
	case magic == 0 && length == 0 && count == 0:
		d.Write(HDR, j.hdr())
		d.Barrier()
	default:
		return nil, errors.Wrapf(ErrCorrupt, "bad magic %#x", magic)
	}
	if START+util.RoundUp(j.length, disk.BlockSize) > d.Size() {
		return nil, errors.Wrapf(ErrCorrupt, "length %d exceeds device of %d blocks",
			j.length, d.Size())
	}
	util.DPrintf(1, "journal.Open: %d entries, %d bytes\n", j.count, j.length)
	return j, nil
}

// Capacity is the number of entry bytes the device can hold.
func (j *Journal) Capacity() uint64 {
	return (j.d.Size() - START) * disk.BlockSize
}

// Write adds e to the pending entries.
func (j *Journal) Write(e Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	j.pending = append(j.pending, e.encode()...)
	j.npend++
	util.DPrintf(5, "journal: write %v\n", e)
	return nil
}

// WriteJournal adds a marker entry of type t.
func (j *Journal) WriteJournal(t EntryType) error {
	return j.Write(Entry{Type: t})
}

// Sync makes the pending entries durable. If it fails the entries remain
// pending; the caller decides whether to retry or AbortWrite.
func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if len(j.pending) == 0 {
		return nil
	}
	end := j.length + uint64(len(j.pending))
	if START+util.RoundUp(end, disk.BlockSize) > j.d.Size() {
		return errors.Wrapf(ErrFull, "need %d bytes, capacity %d", end, j.Capacity())
	}

	bn := j.length / disk.BlockSize
	off := j.length % disk.BlockSize
	var blk disk.Block
	if off != 0 {
		blk = j.d.Read(START + bn)
	} else {
		blk = make(disk.Block, disk.BlockSize)
	}
	data := j.pending
	for len(data) > 0 {
		n := copy(blk[off:], data)
		data = data[n:]
		util.DPrintf(5, "journal: log block %d\n", START+bn)
		j.d.Write(START+bn, blk)
		bn++
		off = 0
		blk = make(disk.Block, disk.BlockSize)
	}
	j.d.Barrier()

	// atomic installation
	j.length = end
	j.count += j.npend
	j.d.Write(HDR, j.hdr())
	j.d.Barrier()

	j.pending = nil
	j.npend = 0
	return nil
}

// AbortWrite discards the pending entries.
func (j *Journal) AbortWrite() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.npend > 0 {
		util.DPrintf(3, "journal: drop %d pending entries\n", j.npend)
	}
	j.pending = nil
	j.npend = 0
}

func (j *Journal) readDurable() []byte {
	nblks := util.RoundUp(j.length, disk.BlockSize)
	buf := make([]byte, 0, nblks*disk.BlockSize)
	for bn := uint64(0); bn < nblks; bn++ {
		buf = append(buf, j.d.Read(START+bn)...)
	}
	return buf[:j.length]
}

// Entries returns the durable entries in order.
func (j *Journal) Entries() ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil, ErrClosed
	}
	entries, _, err := decodeEntries(j.readDurable())
	if err != nil {
		return nil, err
	}
	if uint64(len(entries)) != j.count {
		return nil, errors.Wrapf(ErrCorrupt, "header says %d entries, found %d",
			j.count, len(entries))
	}
	return entries, nil
}

// Position is the durable length in bytes; it only moves on Sync and
// Truncate.
func (j *Journal) Position() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.length
}

func (j *Journal) NumEntries() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.count
}

func (j *Journal) IsEmpty() bool {
	return j.Position() == 0
}

// Truncate durably cuts the journal back to pos, which must be 0 or the end
// of an entry. Pending entries are unaffected.
func (j *Journal) Truncate(pos uint64) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrClosed
	}
	if pos > j.length {
		return errors.Errorf("truncate to %d beyond end %d", pos, j.length)
	}
	var count uint64
	if pos != 0 {
		_, ends, err := decodeEntries(j.readDurable())
		if err != nil {
			return err
		}
		found := false
		for i, end := range ends {
			if end == pos {
				count = uint64(i + 1)
				found = true
				break
			}
		}
		if !found {
			return errors.Errorf("truncate to %d is not an entry boundary", pos)
		}
	}
	j.length = pos
	j.count = count
	j.d.Write(HDR, j.hdr())
	j.d.Barrier()
	return nil
}

// Reset empties the journal, pending entries included.
func (j *Journal) Reset() error {
	j.AbortWrite()
	return j.Truncate(0)
}

// Close makes the journal unusable; pending entries are lost. It does not
// close the device.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	if j.npend > 0 {
		util.Warnf("journal: closing with %d unsynced entries", j.npend)
	}
	j.pending = nil
	j.npend = 0
	j.closed = true
	return nil
}
