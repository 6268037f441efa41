// Package btree implements the generic APFS B-tree node layout: the table
// of contents, the forward-growing key area and the backward-growing value
// area shared by every B-tree in the container (the object map, each
// volume's file-system tree, the extent reference tree, and so on). A
// single descent algorithm serves all of them; callers differ only in how
// a non-leaf node's child pointer is turned into the physical address of
// the next block to read.
package btree

import (
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/types"
)

// nodeHeaderSize is the size, in bytes, of the fixed portion of a B-tree
// node: the 32-byte obj_phys_t plus the seven btree_node_phys_t fields that
// precede btn_data (flags, level, nkeys, and four nloc_t locations).
const nodeHeaderSize = 32 + 2 + 2 + 4 + 4 + 4 + 4 + 4

// btreeInfoSize is the size of the btree_info_t trailer a root node carries
// at the end of its data area, which eats into the space otherwise
// available to the value area.
const btreeInfoSize = 16 + 4 + 4 + 8 + 8

// node is a parsed B-tree node: its fixed header plus direct views into the
// key and value areas of the underlying block.
type node struct {
	hdr      types.BtreeNodePhysT
	raw      []byte // entire block, including the 32-byte object header
	dataOff  int    // offset of btn_data within raw
	tocOff   int    // offset of the table of contents within raw
	keyBase  int    // offset within raw where the key area begins
	valEnd   int    // offset within raw one past the end of the value area
	fixedKV  bool
	isLeaf   bool
	keyCount int

	// fixedKeyLen and fixedValLen are the tree-wide key/value sizes from
	// btree_info_t, used only when fixedKV is set (the per-entry kvoff_t
	// carries no length fields of its own).
	fixedKeyLen int
	fixedValLen int
}

func parseNode(raw []byte, fixedKeyLen, fixedValLen int) (*node, error) {
	if len(raw) < nodeHeaderSize {
		return nil, apfserr.Wrap(apfserr.ErrTruncatedInput, "b-tree node header needs %d bytes, got %d", nodeHeaderSize, len(raw))
	}
	var n node
	n.raw = raw
	n.fixedKeyLen = fixedKeyLen
	n.fixedValLen = fixedValLen

	n.hdr.BtnFlags = binary.LittleEndian.Uint16(raw[32:34])
	n.hdr.BtnLevel = binary.LittleEndian.Uint16(raw[34:36])
	n.hdr.BtnNkeys = binary.LittleEndian.Uint32(raw[36:40])
	n.hdr.BtnTableSpace.Off = binary.LittleEndian.Uint16(raw[40:42])
	n.hdr.BtnTableSpace.Len = binary.LittleEndian.Uint16(raw[42:44])
	n.hdr.BtnFreeSpace.Off = binary.LittleEndian.Uint16(raw[44:46])
	n.hdr.BtnFreeSpace.Len = binary.LittleEndian.Uint16(raw[46:48])
	n.hdr.BtnKeyFreeList.Off = binary.LittleEndian.Uint16(raw[48:50])
	n.hdr.BtnKeyFreeList.Len = binary.LittleEndian.Uint16(raw[50:52])
	n.hdr.BtnValFreeList.Off = binary.LittleEndian.Uint16(raw[52:54])
	n.hdr.BtnValFreeList.Len = binary.LittleEndian.Uint16(raw[54:56])

	n.dataOff = nodeHeaderSize
	n.tocOff = n.dataOff + int(n.hdr.BtnTableSpace.Off)
	n.keyBase = n.tocOff + int(n.hdr.BtnTableSpace.Len)
	n.fixedKV = n.hdr.BtnFlags&types.BtnodeFixedKvSize != 0
	n.isLeaf = n.hdr.BtnFlags&types.BtnodeLeaf != 0
	n.keyCount = int(n.hdr.BtnNkeys)

	n.valEnd = len(raw)
	if n.hdr.BtnFlags&types.BtnodeRoot != 0 {
		n.valEnd -= btreeInfoSize
	}
	if n.tocOff < 0 || n.keyBase < 0 || n.valEnd < n.keyBase || n.valEnd > len(raw) {
		return nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "b-tree node layout out of bounds")
	}
	return &n, nil
}

// entryAt returns the raw key and value bytes for the entry at toc index i.
func (n *node) entryAt(i int) (key, value []byte, childOid types.OidT, err error) {
	if i < 0 || i >= n.keyCount {
		return nil, nil, 0, apfserr.Wrap(apfserr.ErrNodeCorrupt, "b-tree toc index %d out of range (%d entries)", i, n.keyCount)
	}

	var keyOff, keyLen, valOff, valLen int
	if n.fixedKV {
		const entrySize = 4 // kvoff_t
		off := n.tocOff + i*entrySize
		if off+entrySize > len(n.raw) {
			return nil, nil, 0, apfserr.Wrap(apfserr.ErrNodeCorrupt, "b-tree toc entry %d out of bounds", i)
		}
		keyOff = int(binary.LittleEndian.Uint16(n.raw[off : off+2]))
		valOff = int(binary.LittleEndian.Uint16(n.raw[off+2 : off+4]))
		// Non-leaf nodes always store an 8-byte child oid as their value
		// regardless of the tree's declared value size; only leaves carry
		// values of the tree-wide fixed length.
		keyLen = n.fixedKeyLen
		if n.isLeaf {
			valLen = n.fixedValLen
		} else {
			valLen = 8
		}
	} else {
		const entrySize = 8 // kvloc_t
		off := n.tocOff + i*entrySize
		if off+entrySize > len(n.raw) {
			return nil, nil, 0, apfserr.Wrap(apfserr.ErrNodeCorrupt, "b-tree toc entry %d out of bounds", i)
		}
		keyOff = int(binary.LittleEndian.Uint16(n.raw[off : off+2]))
		keyLen = int(binary.LittleEndian.Uint16(n.raw[off+2 : off+4]))
		valOff = int(binary.LittleEndian.Uint16(n.raw[off+4 : off+6]))
		valLen = int(binary.LittleEndian.Uint16(n.raw[off+6 : off+8]))
	}

	keyStart := n.keyBase + keyOff
	if keyStart < 0 || keyStart+keyLen > len(n.raw) {
		return nil, nil, 0, apfserr.Wrap(apfserr.ErrNodeCorrupt, "b-tree key %d out of bounds", i)
	}
	key = n.raw[keyStart : keyStart+keyLen]

	// The value area grows backward from the end of the node's data (or
	// from before the trailing btree_info_t in a root node): a value
	// starts valOff bytes before the end of that area, so offsets count
	// back from the end, not forward from the start.
	valStart := n.valEnd - valOff
	if valStart < 0 || valStart+valLen > len(n.raw) {
		return nil, nil, 0, apfserr.Wrap(apfserr.ErrNodeCorrupt, "b-tree value %d out of bounds", i)
	}
	value = n.raw[valStart : valStart+valLen]

	if !n.isLeaf && len(value) == 8 {
		childOid = types.OidT(binary.LittleEndian.Uint64(value))
	}
	return key, value, childOid, nil
}
