// Package fstree decodes the records stored in a volume's file-system
// B-tree: inodes, directory entries, extended attributes, logical file
// extents, sibling links, and snapshot metadata all share the same tree,
// distinguished by the record-type nibble packed into every key's object
// identifier. It also assembles a file's content from its extents,
// including the optional AES-XTS decryption and LZFSE/LZVN/zlib/raw
// decompression layered over decmpfs-compressed files.
package fstree

import (
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/btree"
	"github.com/apfscore/apfsro/internal/types"
)

// decodeHeader reads the 8-byte j_key_t packed (object id, record type)
// header at the start of a file-system tree key.
func decodeHeader(key []byte) (types.JKeyT, error) {
	if len(key) < 8 {
		return types.JKeyT{}, apfserr.Wrap(apfserr.ErrNodeCorrupt, "file-system key shorter than 8 bytes")
	}
	return types.JKeyT{ObjIdAndType: binary.LittleEndian.Uint64(key[0:8])}, nil
}

// compareHeader orders two (objId, type) pairs the way the file-system
// tree's keys are sorted: primarily by object id, then by record type.
func compareHeader(objId uint64, kind types.JObjType, hdr types.JKeyT) int {
	switch {
	case hdr.ObjId() < objId:
		return -1
	case hdr.ObjId() > objId:
		return 1
	case hdr.Type() < kind:
		return -1
	case hdr.Type() > kind:
		return 1
	default:
		return 0
	}
}

// exactRecordComparator builds a Comparator that matches only records whose
// (objId, type) header equals the given pair, ignoring any type-specific
// suffix — used for record kinds with no secondary key component (inodes,
// data-stream id records, sibling maps, directory statistics).
func exactRecordComparator(objId uint64, kind types.JObjType) btree.Comparator {
	return func(key []byte) int {
		hdr, err := decodeHeader(key)
		if err != nil {
			return -1
		}
		return compareHeader(objId, kind, hdr)
	}
}

// familyBounds returns the [lower, upper) Comparator pair bracketing every
// record of the given (objId, type) family, regardless of any
// type-specific suffix, for use with Tree.Walk. lower deliberately reports
// every family member as "at or after" rather than "equal" (-1 only for
// keys strictly before the family): Walk's floor search returns the
// rightmost entry satisfying cmp<=0, and a family with more than one
// member would otherwise collapse that search onto its last entry instead
// of the one immediately preceding the family.
func familyBounds(objId uint64, kind types.JObjType) (lower, upper btree.Comparator) {
	lower = func(key []byte) int {
		hdr, err := decodeHeader(key)
		if err != nil {
			return 1
		}
		if compareHeader(objId, kind, hdr) < 0 {
			return -1
		}
		return 1
	}
	upper = func(key []byte) int {
		hdr, err := decodeHeader(key)
		if err != nil {
			return 1
		}
		c := compareHeader(objId, kind, hdr)
		if c > 0 {
			return 1
		}
		return -1
	}
	return lower, upper
}

func readCString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}
