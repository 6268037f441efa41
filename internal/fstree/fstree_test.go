package fstree

import (
	"encoding/binary"
	"testing"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/blockio"
	"github.com/apfscore/apfsro/internal/btree"
	"github.com/apfscore/apfsro/internal/checksum"
	"github.com/apfscore/apfsro/internal/objects"
	"github.com/apfscore/apfsro/internal/types"
)

const testBlockSize = 4096

// memSource is an in-memory blockio.Source for constructing synthetic
// file-system trees without a backing file.
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

func newTestReader(m *memSource) *objects.Reader {
	return objects.NewReader(blockio.NewBlockReader(m, testBlockSize))
}

const (
	nodeHeaderSize = 32 + 2 + 2 + 4 + 4 + 4 + 4 + 4
	btreeInfoSize  = 16 + 4 + 4 + 8 + 8
)

// buildLeafRoot writes a single root-and-leaf node (variable-size KV) into
// block addr, with entries already in ascending key order.
func buildLeafRoot(m *memSource, addr int, keys, values [][]byte) {
	raw := m.buf[addr*testBlockSize : (addr+1)*testBlockSize]
	for i := range raw {
		raw[i] = 0
	}

	binary.LittleEndian.PutUint64(raw[8:16], uint64(addr)+1)
	binary.LittleEndian.PutUint64(raw[16:24], 1)
	binary.LittleEndian.PutUint32(raw[24:28], types.ObjectTypeBtree)

	flags := types.BtnodeRoot | types.BtnodeLeaf
	binary.LittleEndian.PutUint16(raw[32:34], flags)
	binary.LittleEndian.PutUint32(raw[36:40], uint32(len(keys)))
	binary.LittleEndian.PutUint16(raw[40:42], 0)
	binary.LittleEndian.PutUint16(raw[42:44], uint16(len(keys)*8))

	keyBase := nodeHeaderSize + len(keys)*8
	valEnd := len(raw) - btreeInfoSize

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

	info := raw[len(raw)-btreeInfoSize:]
	binary.LittleEndian.PutUint32(info[4:8], testBlockSize)

	sum, ok := checksum.ComputeObjectChecksum(raw)
	if ok {
		copy(raw[0:8], sum[:])
	}
}

// openTestTree builds a single-leaf file-system tree at block 0 holding the
// given already key-sorted entries and opens a Tree over it.
func openTestTree(t *testing.T, entries []kv, hashedNames, hardlinkMapRecords bool, vek []byte) *Tree {
	t.Helper()
	m := newMemSource(8)
	keys := make([][]byte, len(entries))
	values := make([][]byte, len(entries))
	for i, e := range entries {
		keys[i] = e.key
		values[i] = e.value
	}
	buildLeafRoot(m, 0, keys, values)

	tr, err := Open(newTestReader(m), 0, btree.IdentityLocator, 0, testBlockSize, hashedNames, hardlinkMapRecords, vek)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return tr
}

type kv struct {
	key, value []byte
}

func recordKey(objId uint64, kind types.JObjType, rest []byte) []byte {
	hdr := make([]byte, 8)
	k := types.MakeJKeyT(objId, kind)
	binary.LittleEndian.PutUint64(hdr, k.ObjIdAndType)
	return append(hdr, rest...)
}

func leU16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func leU32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func leU64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
