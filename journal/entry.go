package journal

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-dboe/common"
	"github.com/mit-pdos/go-dboe/util"
)

type EntryType uint64

const (
	REDO EntryType = iota + 1
	UNDO
	COMMIT
	ABORT
)

func (t EntryType) String() string {
	switch t {
	case REDO:
		return "REDO"
	case UNDO:
		return "UNDO"
	case COMMIT:
		return "COMMIT"
	case ABORT:
		return "ABORT"
	}
	return fmt.Sprintf("EntryType(%d)", uint64(t))
}

// Entry is one journal record. Markers (COMMIT, ABORT) have a zero
// component and no payload.
type Entry struct {
	Type      EntryType
	Component [common.ComponentIdLen]byte
	Payload   []byte
}

func (e Entry) String() string {
	if e.Type == COMMIT || e.Type == ABORT {
		return e.Type.String()
	}
	return fmt.Sprintf("%s %s len=%d", e.Type, hex.EncodeToString(e.Component[:]), len(e.Payload))
}

func (e Entry) size() uint64 {
	return entryHdrSize + uint64(len(e.Payload))
}

func putInt(x uint64) []byte {
	enc := marshal.NewEnc(8)
	enc.PutInt(x)
	return enc.Finish()
}

func getInt(b []byte) uint64 {
	dec := marshal.NewDec(b[:8])
	return dec.GetInt()
}

func (e Entry) encode() []byte {
	b := make([]byte, 0, e.size())
	b = append(b, putInt(uint64(e.Type))...)
	b = append(b, e.Component[:]...)
	b = append(b, putInt(uint64(len(e.Payload)))...)
	b = append(b, e.Payload...)
	return b
}

// decodeEntries parses buf, which must hold exactly whole entries. ends[i] is
// the byte offset just past entry i.
func decodeEntries(buf []byte) ([]Entry, []uint64, error) {
	var entries []Entry
	var ends []uint64
	var off uint64
	n := uint64(len(buf))
	for off < n {
		if n-off < entryHdrSize {
			return nil, nil, errors.Wrapf(ErrCorrupt, "truncated entry header at %d", off)
		}
		var e Entry
		e.Type = EntryType(getInt(buf[off:]))
		copy(e.Component[:], buf[off+8:off+8+common.ComponentIdLen])
		ln := getInt(buf[off+8+common.ComponentIdLen:])
		if e.Type < REDO || e.Type > ABORT {
			return nil, nil, errors.Wrapf(ErrCorrupt, "entry type %d at %d", uint64(e.Type), off)
		}
		start := off + entryHdrSize
		if util.SumOverflows(start, ln) || start+ln > n {
			return nil, nil, errors.Wrapf(ErrCorrupt, "entry at %d claims %d payload bytes", off, ln)
		}
		e.Payload = util.CloneByteSlice(buf[start : start+ln])
		entries = append(entries, e)
		off = start + ln
		ends = append(ends, off)
	}
	return entries, ends, nil
}
