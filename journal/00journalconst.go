//  journal implements the commit log of the transaction coordinator
//
//  The layout of the journal device:
//  [ header | entry bytes ... ]
//    block 0  blocks 1..
//
//  The header holds a magic number, the number of durable entry bytes and
//  the number of durable entries. Entries are packed back to back from the
//  start of block 1 and may straddle blocks:
//
//  [ type | component id | payload length | payload ]
//    8      16             8                length
//
//  A sync writes the new entry bytes, issues a barrier, then installs the
//  new header and issues another barrier. Entry bytes past the header's
//  length are garbage.
package journal

import (
	"github.com/mit-pdos/go-dboe/common"
)

const (
	HDR   = common.Bnum(0)
	START = common.Bnum(1)

	journalMagic uint64 = 0x44424f454a524e31 // "DBOEJRN1"

	entryHdrSize = 8 + common.ComponentIdLen + 8
)
