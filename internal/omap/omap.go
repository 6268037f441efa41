// Package omap resolves virtual object identifiers to physical addresses
// through a container's or volume's object map: a small fixed header
// pointing at a B-tree keyed by (oid, xid) pairs, queried with a
// floor search so that the newest mapping no later than a given
// transaction id is returned — the mechanism that makes snapshots possible,
// since an older snapshot simply asks the same map for an older xid.
package omap

import (
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/btree"
	"github.com/apfscore/apfsro/internal/objects"
	"github.com/apfscore/apfsro/internal/types"
)

// omapHeaderSize is the fixed portion of an omap_phys_t: the 32-byte object
// header plus flags, snapshot count, two tree-type fields, two tree oids,
// and three transaction ids (each 4 or 8 bytes as laid out on disk).
const omapHeaderSize = 32 + 4 + 4 + 4 + 4 + 8 + 8 + 8 + 8 + 8

// omapKeySize is the on-disk size of an omap_key_t: oid (8 bytes) followed
// by xid (8 bytes).
const omapKeySize = 16

// omapValSize is the on-disk size of an omap_val_t: flags, size, then an
// 8-byte physical address.
const omapValSize = 16

// Entry is one resolved object map record.
type Entry struct {
	Flags uint32
	Size  uint32
	Paddr int64
}

// Map is a parsed object map, ready to resolve virtual oids against a
// chosen transaction id.
type Map struct {
	phys     types.OmapPhysT
	tree     *btree.Tree
	treeAddr int64
}

// Open reads the object map physical block at addr and opens the B-tree it
// points to. The object map's own tree is always a physical B-tree: its
// child oids are literal block addresses, so it is opened with
// btree.IdentityLocator regardless of whether this map belongs to the
// container or to one of its volumes.
func Open(reader *objects.Reader, addr int64) (*Map, error) {
	_, raw, err := reader.ReadBlock(addr, objects.ReadOptions{WantType: types.ObjectTypeOmap})
	if err != nil {
		return nil, apfserr.WrapErr(apfserr.ErrNodeCorrupt, err, "reading object map at paddr=%d", addr)
	}
	phys, err := parseOmapPhys(raw)
	if err != nil {
		return nil, err
	}
	if phys.OmTreeOid == 0 {
		return nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "object map at paddr=%d has no mapping tree", addr)
	}
	treeAddr := int64(phys.OmTreeOid)
	tree, err := btree.Open(reader, treeAddr, btree.IdentityLocator, 0)
	if err != nil {
		return nil, apfserr.WrapErr(apfserr.ErrNodeCorrupt, err, "opening object map tree at paddr=%d", treeAddr)
	}
	return &Map{phys: phys, tree: tree, treeAddr: treeAddr}, nil
}

func parseOmapPhys(raw []byte) (types.OmapPhysT, error) {
	var om types.OmapPhysT
	if len(raw) < omapHeaderSize {
		return om, apfserr.Wrap(apfserr.ErrTruncatedInput, "object map needs %d bytes, got %d", omapHeaderSize, len(raw))
	}
	hdr, err := objects.ParseHeader(raw)
	if err != nil {
		return om, err
	}
	om.OmO = hdr
	le := binary.LittleEndian
	om.OmFlags = le.Uint32(raw[32:36])
	om.OmSnapCount = le.Uint32(raw[36:40])
	om.OmTreeType = le.Uint32(raw[40:44])
	om.OmSnapshotTreeType = le.Uint32(raw[44:48])
	om.OmTreeOid = types.OidT(le.Uint64(raw[48:56]))
	om.OmSnapshotTreeOid = types.OidT(le.Uint64(raw[56:64]))
	om.OmMostRecentSnap = types.XidT(le.Uint64(raw[64:72]))
	om.OmPendingRevertMin = types.XidT(le.Uint64(raw[72:80]))
	om.OmPendingRevertMax = types.XidT(le.Uint64(raw[80:88]))
	return om, nil
}

// MostRecentSnapshot returns the transaction id of the newest snapshot
// recorded in this object map, or zero if it has none.
func (m *Map) MostRecentSnapshot() types.XidT { return m.phys.OmMostRecentSnap }

// Resolve returns the physical address and size of the virtual object
// identified by oid, as of the most recent mapping whose transaction id is
// no greater than maxXid. Passing the container's or volume's current
// mount xid resolves the live object; passing a snapshot's xid resolves
// the object as it existed at that snapshot.
func (m *Map) Resolve(oid types.OidT, maxXid types.XidT) (Entry, error) {
	cmp := func(key []byte) int {
		if len(key) < omapKeySize {
			return -1
		}
		keyOid := types.OidT(binary.LittleEndian.Uint64(key[0:8]))
		keyXid := types.XidT(binary.LittleEndian.Uint64(key[8:16]))
		switch {
		case keyOid < oid:
			return -1
		case keyOid > oid:
			return 1
		case keyXid < maxXid:
			return -1
		case keyXid > maxXid:
			return 1
		default:
			return 0
		}
	}

	key, value, err := m.tree.LookupFloor(m.treeAddr, cmp)
	if err != nil {
		return Entry{}, apfserr.WrapErr(apfserr.ErrNotFound, err, "resolving oid=%#x at xid<=%d", oid, maxXid)
	}
	if len(key) < omapKeySize {
		return Entry{}, apfserr.Wrap(apfserr.ErrNodeCorrupt, "object map key too short: %d bytes", len(key))
	}
	foundOid := types.OidT(binary.LittleEndian.Uint64(key[0:8]))
	if foundOid != oid {
		// The floor search landed on the last mapping of a smaller oid:
		// this oid has no visible mapping at or before maxXid.
		return Entry{}, apfserr.AtOid(apfserr.ErrNotFound, uint64(oid), "no mapping visible at xid<=%d", maxXid)
	}
	if len(value) < omapValSize {
		return Entry{}, apfserr.Wrap(apfserr.ErrNodeCorrupt, "object map value too short: %d bytes", len(value))
	}
	le := binary.LittleEndian
	entry := Entry{
		Flags: le.Uint32(value[0:4]),
		Size:  le.Uint32(value[4:8]),
		Paddr: int64(le.Uint64(value[8:16])),
	}
	if entry.Flags&types.OmapValDeleted != 0 {
		return Entry{}, apfserr.AtOid(apfserr.ErrNotFound, uint64(oid), "mapping deleted as of xid<=%d", maxXid)
	}
	return entry, nil
}

// Locator returns a btree.ChildLocator that resolves virtual B-tree child
// oids through this object map at a fixed transaction id — the standard way
// a volume's file-system tree (a virtual B-tree) is opened.
func (m *Map) Locator(maxXid types.XidT) btree.ChildLocator {
	return func(oid types.OidT, _ types.XidT) (int64, error) {
		entry, err := m.Resolve(oid, maxXid)
		if err != nil {
			return 0, err
		}
		return entry.Paddr, nil
	}
}
