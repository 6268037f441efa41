package btree

import (
	"encoding/binary"
	"testing"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/blockio"
	"github.com/apfscore/apfsro/internal/checksum"
	"github.com/apfscore/apfsro/internal/objects"
	"github.com/apfscore/apfsro/internal/types"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 4096

// memSource is an in-memory blockio.Source for constructing synthetic
// B-trees without a backing file.
type memSource struct {
	buf []byte
}

func newMemSource(numBlocks int) *memSource {
	return &memSource{buf: make([]byte, numBlocks*testBlockSize)}
}

func (m *memSource) ReadAt(offset int64, buf []byte) error {
	if offset < 0 || offset+int64(len(buf)) > int64(len(m.buf)) {
		return apfserr.Wrap(apfserr.ErrOutOfBounds, "out of range")
	}
	copy(buf, m.buf[offset:offset+int64(len(buf))])
	return nil
}

func (m *memSource) Size() (int64, error) { return int64(len(m.buf)), nil }

// buildNode writes a variable-size-KV B-tree node into block index addr,
// following this package's layout conventions: TOC immediately after the
// 56-byte fixed header, keys packed forward from the key area, values
// packed backward from the end of the node (or from before the trailing
// btree_info_t, for a root node).
func buildNode(m *memSource, addr int, oid, xid uint64, isRoot, isLeaf bool, keys, values [][]byte) {
	raw := m.buf[addr*testBlockSize : (addr+1)*testBlockSize]
	for i := range raw {
		raw[i] = 0
	}

	binary.LittleEndian.PutUint64(raw[8:16], oid)
	binary.LittleEndian.PutUint64(raw[16:24], xid)
	binary.LittleEndian.PutUint32(raw[24:28], types.ObjectTypeBtree)

	var flags uint16
	if isRoot {
		flags |= types.BtnodeRoot
	}
	if isLeaf {
		flags |= types.BtnodeLeaf
	}
	binary.LittleEndian.PutUint16(raw[32:34], flags)
	binary.LittleEndian.PutUint32(raw[36:40], uint32(len(keys)))
	binary.LittleEndian.PutUint16(raw[40:42], 0)                    // table space off
	binary.LittleEndian.PutUint16(raw[42:44], uint16(len(keys)*8)) // table space len (kvloc_t entries)

	keyBase := nodeHeaderSize + 0 + len(keys)*8
	valEnd := len(raw)
	if isRoot {
		valEnd -= btreeInfoSize
	}

	keyCursor := 0
	valCursor := 0
	for i := range keys {
		koff := keyCursor
		copy(raw[keyBase+koff:], keys[i])
		keyCursor += len(keys[i])

		valCursor += len(values[i])
		valStart := valEnd - valCursor
		copy(raw[valStart:], values[i])
		voff := valCursor

		tocOff := nodeHeaderSize + i*8
		binary.LittleEndian.PutUint16(raw[tocOff:], uint16(koff))
		binary.LittleEndian.PutUint16(raw[tocOff+2:], uint16(len(keys[i])))
		binary.LittleEndian.PutUint16(raw[tocOff+4:], uint16(voff))
		binary.LittleEndian.PutUint16(raw[tocOff+6:], uint16(len(values[i])))
	}

	if isRoot {
		info := raw[len(raw)-btreeInfoSize:]
		binary.LittleEndian.PutUint32(info[4:8], testBlockSize)
	}

	sum, ok := checksum.ComputeObjectChecksum(raw)
	if ok {
		copy(raw[0:8], sum[:])
	}
}

func leKey(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func cmpU64(target uint64) Comparator {
	return func(key []byte) int {
		v := binary.LittleEndian.Uint64(key)
		switch {
		case v < target:
			return -1
		case v > target:
			return 1
		default:
			return 0
		}
	}
}

func newTestReader(m *memSource) *objects.Reader {
	return objects.NewReader(blockio.NewBlockReader(m, testBlockSize))
}

// buildTwoLevelTree constructs a root (index) node at block 0 pointing to a
// single leaf at block 1 holding three ascending entries: 10, 20, 30.
func buildTwoLevelTree(t *testing.T) *memSource {
	t.Helper()
	m := newMemSource(2)
	buildNode(m, 1, 200, 1, false, true,
		[][]byte{leKey(10), leKey(20), leKey(30)},
		[][]byte{leKey(100), leKey(200), leKey(300)},
	)
	buildNode(m, 0, 100, 1, true, false,
		[][]byte{leKey(10)},
		[][]byte{leKey(1)}, // child oid 1 == block address of the leaf
	)
	return m
}

func TestTreeLookupExactMatch(t *testing.T) {
	m := buildTwoLevelTree(t)
	tree, err := Open(newTestReader(m), 0, IdentityLocator, 0)
	require.NoError(t, err)

	key, value, err := tree.Lookup(0, cmpU64(20))
	require.NoError(t, err)
	require.Equal(t, leKey(20), key)
	require.Equal(t, leKey(200), value)
}

func TestTreeLookupMissingKey(t *testing.T) {
	m := buildTwoLevelTree(t)
	tree, err := Open(newTestReader(m), 0, IdentityLocator, 0)
	require.NoError(t, err)

	_, _, err = tree.Lookup(0, cmpU64(25))
	require.Error(t, err)
}

func TestTreeLookupFloor(t *testing.T) {
	m := buildTwoLevelTree(t)
	tree, err := Open(newTestReader(m), 0, IdentityLocator, 0)
	require.NoError(t, err)

	key, value, err := tree.LookupFloor(0, cmpU64(25))
	require.NoError(t, err)
	require.Equal(t, leKey(20), key)
	require.Equal(t, leKey(200), value)
}

func TestTreeLookupFloorBelowSmallestKey(t *testing.T) {
	m := buildTwoLevelTree(t)
	tree, err := Open(newTestReader(m), 0, IdentityLocator, 0)
	require.NoError(t, err)

	_, _, err = tree.LookupFloor(0, cmpU64(5))
	require.Error(t, err)
}

func TestTreeWalkVisitsAllInOrder(t *testing.T) {
	m := buildTwoLevelTree(t)
	tree, err := Open(newTestReader(m), 0, IdentityLocator, 0)
	require.NoError(t, err)

	var got []uint64
	err = tree.Walk(0, nil, nil, func(key, value []byte) (bool, error) {
		got = append(got, binary.LittleEndian.Uint64(key))
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{10, 20, 30}, got)
}

func TestTreeWalkRespectsBounds(t *testing.T) {
	m := buildTwoLevelTree(t)
	tree, err := Open(newTestReader(m), 0, IdentityLocator, 0)
	require.NoError(t, err)

	var got []uint64
	err = tree.Walk(0, cmpU64(15), cmpU64(25), func(key, value []byte) (bool, error) {
		got = append(got, binary.LittleEndian.Uint64(key))
		return true, nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{20}, got)
}

func TestTreeWalkStopsEarly(t *testing.T) {
	m := buildTwoLevelTree(t)
	tree, err := Open(newTestReader(m), 0, IdentityLocator, 0)
	require.NoError(t, err)

	var got []uint64
	err = tree.Walk(0, nil, nil, func(key, value []byte) (bool, error) {
		got = append(got, binary.LittleEndian.Uint64(key))
		return len(got) < 2, nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint64{10, 20}, got)
}

func TestOpenRejectsNonRootNode(t *testing.T) {
	m := newMemSource(1)
	buildNode(m, 0, 1, 1, false, true, [][]byte{leKey(1)}, [][]byte{leKey(1)})
	_, err := Open(newTestReader(m), 0, IdentityLocator, 0)
	require.Error(t, err)
}
