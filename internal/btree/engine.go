package btree

import (
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/objects"
	"github.com/apfscore/apfsro/internal/types"
)

// Comparator orders a candidate key against an implicit search target.
// It returns a negative number if key sorts before the target, zero if
// they're equal, and a positive number if key sorts after it — the same
// convention bytes.Compare uses, just with the target held by closure.
type Comparator func(key []byte) int

// ChildLocator turns a non-leaf node's child object identifier into the
// physical block address of that child, for the transaction identified by
// maxXid. Physical B-trees (the container's own object map) can satisfy
// this by casting the oid directly to an address; virtual B-trees (a
// volume's file-system tree) resolve it through that volume's object map.
type ChildLocator func(oid types.OidT, maxXid types.XidT) (int64, error)

// Tree is a generic, read-only view over one B-tree, parameterized by how
// its child pointers are resolved and how many bytes its root's
// btree_info_t declares for fixed-size keys/values.
type Tree struct {
	objects  *objects.Reader
	locate   ChildLocator
	maxXid   types.XidT
	keySize  int
	valSize  int
	maxDepth int
}

// defaultMaxDepth bounds recursive descent against a corrupt tree whose
// child pointers cycle back on themselves; no real APFS tree nests anywhere
// near this deep.
const defaultMaxDepth = 64

// Open parses rootAddr as a B-tree root node and returns a Tree ready for
// lookups and scans. locate resolves non-leaf child pointers; pass a
// function that returns the oid unchanged (as an address) for physical
// trees such as the container's object map.
func Open(reader *objects.Reader, rootAddr int64, locate ChildLocator, maxXid types.XidT) (*Tree, error) {
	_, raw, err := reader.ReadBlock(rootAddr, objects.ReadOptions{MaxXid: maxXid})
	if err != nil {
		return nil, apfserr.WrapErr(apfserr.ErrNodeCorrupt, err, "reading b-tree root at paddr=%d", rootAddr)
	}
	root, err := parseNode(raw, 0, 0)
	if err != nil {
		return nil, err
	}
	if root.hdr.BtnFlags&types.BtnodeRoot == 0 {
		return nil, apfserr.AtPaddr(apfserr.ErrUnexpectedType, rootAddr, "b-tree root node missing BTNODE_ROOT flag")
	}
	info, err := parseBtreeInfo(raw)
	if err != nil {
		return nil, err
	}
	return &Tree{
		objects:  reader,
		locate:   locate,
		maxXid:   maxXid,
		keySize:  int(info.BtFixed.BtKeySize),
		valSize:  int(info.BtFixed.BtValSize),
		maxDepth: defaultMaxDepth,
	}, nil
}

func parseBtreeInfo(raw []byte) (types.BtreeInfoT, error) {
	var info types.BtreeInfoT
	if len(raw) < btreeInfoSize {
		return info, apfserr.Wrap(apfserr.ErrTruncatedInput, "b-tree root missing trailing btree_info_t")
	}
	b := raw[len(raw)-btreeInfoSize:]
	info.BtFixed.BtFlags = binary.LittleEndian.Uint32(b[0:4])
	info.BtFixed.BtNodeSize = binary.LittleEndian.Uint32(b[4:8])
	info.BtFixed.BtKeySize = binary.LittleEndian.Uint32(b[8:12])
	info.BtFixed.BtValSize = binary.LittleEndian.Uint32(b[12:16])
	info.BtLongestKey = binary.LittleEndian.Uint32(b[16:20])
	info.BtLongestVal = binary.LittleEndian.Uint32(b[20:24])
	info.BtKeyCount = binary.LittleEndian.Uint64(b[24:32])
	info.BtNodeCount = binary.LittleEndian.Uint64(b[32:40])
	return info, nil
}

func (t *Tree) readNode(addr int64) (*node, error) {
	_, raw, err := t.objects.ReadBlock(addr, objects.ReadOptions{MaxXid: t.maxXid})
	if err != nil {
		return nil, apfserr.WrapErr(apfserr.ErrNodeCorrupt, err, "reading b-tree node at paddr=%d", addr)
	}
	return parseNode(raw, t.keySize, t.valSize)
}

// floorIndex returns the largest index i such that cmp(key[i]) <= 0 (the
// entry the target would descend into, or match exactly), using the fact
// that a node's keys are stored in ascending order. Returns -1 if the
// target sorts before every key in the node.
func floorIndex(n *node, cmp Comparator) (int, error) {
	lo, hi := 0, n.keyCount-1
	best := -1
	for lo <= hi {
		mid := (lo + hi) / 2
		key, _, _, err := n.entryAt(mid)
		if err != nil {
			return 0, err
		}
		c := cmp(key)
		if c <= 0 {
			best = mid
			lo = mid + 1
		} else {
			hi = mid - 1
		}
	}
	return best, nil
}

// Lookup finds the unique entry whose key compares equal under cmp, or
// ErrNotFound if no such entry exists.
func (t *Tree) Lookup(rootAddr int64, cmp Comparator) (key, value []byte, err error) {
	key, value, found, err := t.descendFloor(rootAddr, cmp)
	if err != nil {
		return nil, nil, err
	}
	if !found || cmp(key) != 0 {
		return nil, nil, apfserr.Wrap(apfserr.ErrNotFound, "no exact key match")
	}
	return key, value, nil
}

// LookupFloor finds the entry with the greatest key that is <= the target
// under cmp (used for the object map's (oid,xid) visibility search and for
// locating the extent covering a given file offset).
func (t *Tree) LookupFloor(rootAddr int64, cmp Comparator) (key, value []byte, err error) {
	key, value, found, err := t.descendFloor(rootAddr, cmp)
	if err != nil {
		return nil, nil, err
	}
	if !found {
		return nil, nil, apfserr.Wrap(apfserr.ErrNotFound, "no key <= target")
	}
	return key, value, nil
}

func (t *Tree) descendFloor(addr int64, cmp Comparator) (key, value []byte, found bool, err error) {
	return t.descendFloorDepth(addr, cmp, 0)
}

func (t *Tree) descendFloorDepth(addr int64, cmp Comparator, depth int) (key, value []byte, found bool, err error) {
	if depth > t.maxDepth {
		return nil, nil, false, apfserr.Wrap(apfserr.ErrNodeCorrupt, "b-tree descent exceeded max depth %d", t.maxDepth)
	}
	n, err := t.readNode(addr)
	if err != nil {
		return nil, nil, false, err
	}
	if n.keyCount == 0 {
		return nil, nil, false, nil
	}
	idx, err := floorIndex(n, cmp)
	if err != nil {
		return nil, nil, false, err
	}
	if idx < 0 {
		return nil, nil, false, nil
	}
	k, v, childOid, err := n.entryAt(idx)
	if err != nil {
		return nil, nil, false, err
	}
	if n.isLeaf {
		return k, v, true, nil
	}
	childAddr, err := t.locate(childOid, t.maxXid)
	if err != nil {
		return nil, nil, false, err
	}
	return t.descendFloorDepth(childAddr, cmp, depth+1)
}

// Walk visits every leaf entry whose key falls within [lower, upper]
// (either bound may be nil for unbounded) in ascending key order, via an
// in-order descent that prunes whole subtrees outside the range using each
// non-leaf node's own keys as subtree lower bounds. visit returning false
// stops the walk early without error.
func (t *Tree) Walk(rootAddr int64, lower, upper Comparator, visit func(key, value []byte) (bool, error)) error {
	_, err := t.walkDepth(rootAddr, lower, upper, visit, 0)
	return err
}

func (t *Tree) walkDepth(addr int64, lower, upper Comparator, visit func(key, value []byte) (bool, error), depth int) (cont bool, err error) {
	if depth > t.maxDepth {
		return false, apfserr.Wrap(apfserr.ErrNodeCorrupt, "b-tree walk exceeded max depth %d", t.maxDepth)
	}
	n, err := t.readNode(addr)
	if err != nil {
		return false, err
	}

	start := 0
	if lower != nil {
		idx, ferr := floorIndex(n, lower)
		if ferr != nil {
			return false, ferr
		}
		if idx > 0 {
			start = idx
		}
	}

	for i := start; i < n.keyCount; i++ {
		key, value, childOid, err := n.entryAt(i)
		if err != nil {
			return false, err
		}
		if upper != nil && upper(key) > 0 {
			// This entry's key already exceeds the upper bound; since an
			// index node's key is its subtree's minimum, every later
			// sibling (and the subtrees under them) is out of range too.
			break
		}
		if n.isLeaf {
			// floorIndex only seeds the starting index with the entry at or
			// immediately before the lower bound (the search target usually
			// falls strictly between two keys); skip that leading entry here
			// rather than visiting it.
			if lower != nil && lower(key) < 0 {
				continue
			}
			ok, err := visit(key, value)
			if err != nil || !ok {
				return false, err
			}
			continue
		}
		childAddr, err := t.locate(childOid, t.maxXid)
		if err != nil {
			return false, err
		}
		// Only the first descended child needs the lower bound applied
		// (it may straddle the boundary); later children start clean.
		childLower := lower
		if i > start {
			childLower = nil
		}
		cont, err := t.walkDepth(childAddr, childLower, upper, visit, depth+1)
		if err != nil || !cont {
			return cont, err
		}
	}
	return true, nil
}

// IdentityLocator is a ChildLocator for physical B-trees whose child oids
// are already physical block addresses (the container's object map, and
// the space manager's free-space trees).
func IdentityLocator(oid types.OidT, _ types.XidT) (int64, error) {
	return int64(oid), nil
}
