package apfs_test

import (
	"encoding/binary"
	"testing"

	"github.com/apfscore/apfsro/apfs"
	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/checksum"
	"github.com/apfscore/apfsro/internal/types"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 4096

type memSource struct{ buf []byte }

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

func blockOf(m *memSource, addr int) []byte {
	return m.buf[addr*testBlockSize : (addr+1)*testBlockSize]
}

func checksumBlock(raw []byte) {
	sum, ok := checksum.ComputeObjectChecksum(raw)
	if ok {
		copy(raw[0:8], sum[:])
	}
}

func leU16(v uint16) []byte { b := make([]byte, 2); binary.LittleEndian.PutUint16(b, v); return b }
func leU64(v uint64) []byte { b := make([]byte, 8); binary.LittleEndian.PutUint64(b, v); return b }

func recordKey(objId uint64, kind types.JObjType, rest []byte) []byte {
	k := types.MakeJKeyT(objId, kind)
	return append(leU64(k.ObjIdAndType), rest...)
}

func inodeValBytes(parentId, privateId uint64, mode types.Mode, size uint64) []byte {
	const fixed = 92
	b := make([]byte, fixed)
	copy(b[0:8], leU64(parentId))
	copy(b[8:16], leU64(privateId))
	nchildren := int32(0)
	if mode&types.ModeIFMT == types.ModeIFDIR {
		nchildren = 1
	}
	binary.LittleEndian.PutUint32(b[56:60], uint32(nchildren))
	binary.LittleEndian.PutUint16(b[80:82], uint16(mode))
	copy(b[84:92], leU64(size))
	return b
}

func drecKey(dirId uint64, name string) []byte {
	rest := append(leU16(uint16(len(name))), append([]byte(name), 0)...)
	return recordKey(dirId, types.JObjTypeDirRec, rest)
}

func drecValBytes(fileId, dateAdded uint64, fileType uint16) []byte {
	v := make([]byte, 18)
	copy(v[0:8], leU64(fileId))
	copy(v[8:16], leU64(dateAdded))
	copy(v[16:18], leU16(fileType))
	return v
}

func fileExtentKey(objId, logicalAddr uint64) []byte {
	return recordKey(objId, types.JObjTypeFileExtent, leU64(logicalAddr))
}

func fileExtentValBytes(length, physBlockNum, cryptoId uint64) []byte {
	v := make([]byte, 24)
	copy(v[0:8], leU64(length))
	copy(v[8:16], leU64(physBlockNum))
	copy(v[16:24], leU64(cryptoId))
	return v
}

// buildLeaf writes a single-node (root+leaf) B-tree holding the given
// already key-sorted entries into block index addr.
func buildLeaf(m *memSource, addr int, keys, values [][]byte) {
	raw := blockOf(m, addr)
	for i := range raw {
		raw[i] = 0
	}
	const nodeHeaderSize = 56
	const btreeInfoSize = 40

	binary.LittleEndian.PutUint64(raw[8:16], uint64(addr))
	binary.LittleEndian.PutUint32(raw[24:28], types.ObjectTypeBtree)
	binary.LittleEndian.PutUint16(raw[32:34], types.BtnodeRoot|types.BtnodeLeaf)
	binary.LittleEndian.PutUint32(raw[36:40], uint32(len(keys)))
	binary.LittleEndian.PutUint16(raw[40:42], 0)
	binary.LittleEndian.PutUint16(raw[42:44], uint16(len(keys)*8))

	keyBase := nodeHeaderSize + len(keys)*8
	valEnd := len(raw) - btreeInfoSize

	keyCursor, valCursor := 0, 0
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
	checksumBlock(raw)
}

func omapKey(oid, xid uint64) []byte { return append(leU64(oid), leU64(xid)...) }

func omapVal(paddr uint64) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[8:16], paddr)
	return b
}

func buildOmap(m *memSource, addr int, treeAddr int) {
	raw := blockOf(m, addr)
	for i := range raw {
		raw[i] = 0
	}
	le := binary.LittleEndian
	le.PutUint32(raw[24:28], types.ObjectTypeOmap)
	le.PutUint64(raw[48:56], uint64(treeAddr))
	checksumBlock(raw)
}

func buildContainerSuperblock(m *memSource, addr int, xid uint64, omapAddr int, volOid uint64) {
	raw := blockOf(m, addr)
	for i := range raw {
		raw[i] = 0
	}
	le := binary.LittleEndian
	le.PutUint64(raw[8:16], 1)
	le.PutUint64(raw[16:24], xid)
	le.PutUint32(raw[24:28], types.ObjectTypeNxSuperblock)
	le.PutUint32(raw[32:36], types.NxMagicValue)
	le.PutUint32(raw[36:40], testBlockSize)
	le.PutUint64(raw[40:48], uint64(len(m.buf)/testBlockSize))
	le.PutUint32(raw[104:108], 1) // nx_xp_desc_blocks: the whole descriptor area is block 0 itself
	le.PutUint64(raw[112:120], 0) // nx_xp_desc_base
	le.PutUint64(raw[160:168], uint64(omapAddr))
	le.PutUint64(raw[184:192], volOid) // nx_fs_oid[0]
	checksumBlock(raw)
}

func buildVolumeSuperblock(m *memSource, addr int, xid uint64, omapOid, rootTreeOid uint64, fsFlags uint64, name string) {
	raw := blockOf(m, addr)
	for i := range raw {
		raw[i] = 0
	}
	le := binary.LittleEndian
	le.PutUint64(raw[8:16], uint64(addr))
	le.PutUint64(raw[16:24], xid)
	le.PutUint32(raw[24:28], types.ObjectTypeFs)
	le.PutUint32(raw[32:36], types.ApfsMagicValue)
	le.PutUint64(raw[128:136], omapOid)
	le.PutUint64(raw[136:144], rootTreeOid)
	le.PutUint64(raw[264:272], fsFlags)
	copy(raw[704:960], []byte(name))
	checksumBlock(raw)
}

// buildContainer lays out a single-volume unencrypted container: one
// checkpoint (block 0 doubling as its own descriptor area), a container
// object map resolving an oid of 50 to the volume superblock, the volume's
// own object map resolving its root tree oid to the file-system tree root,
// and that tree holding a root directory with one regular file,
// "hello.txt", containing "Hello, APFS!\n".
func buildContainer(t *testing.T) *memSource {
	t.Helper()
	m := newMemSource(9)
	const volOid = uint64(50)
	const rootTreeOid = uint64(60)
	const fileInode = uint64(20)
	const fileContent = "Hello, APFS!\n"

	copy(blockOf(m, 8), []byte(fileContent))

	buildLeaf(m, 7, [][]byte{
		recordKey(types.RootDirInoNum, types.JObjTypeInode, nil),
		recordKey(types.RootDirInoNum, types.JObjTypeDirRec, append(leU16(uint16(len("hello.txt"))), append([]byte("hello.txt"), 0)...)),
		recordKey(fileInode, types.JObjTypeInode, nil),
		fileExtentKey(fileInode, 0),
	}, [][]byte{
		inodeValBytes(types.RootDirParent, types.RootDirInoNum, types.ModeIFDIR, 0),
		drecValBytes(fileInode, 1, 8),
		inodeValBytes(types.RootDirInoNum, fileInode, types.ModeIFREG, uint64(len(fileContent))),
		fileExtentValBytes(uint64(len(fileContent)), 8, 0),
	})

	buildLeaf(m, 6, [][]byte{omapKey(rootTreeOid, 10)}, [][]byte{omapVal(7)})
	buildOmap(m, 5, 6)

	buildVolumeSuperblock(m, 4, 10, 5, rootTreeOid, types.ApfsFsUnencrypted, "testvol")

	buildLeaf(m, 2, [][]byte{omapKey(volOid, 10)}, [][]byte{omapVal(4)})
	buildOmap(m, 1, 2)

	buildContainerSuperblock(m, 0, 10, 1, volOid)

	return m
}

func TestOpenFailsOnEmptySource(t *testing.T) {
	_, err := apfs.Open(newMemSource(0))
	require.Error(t, err)
}

func TestOpenAndReadFileEndToEnd(t *testing.T) {
	m := buildContainer(t)
	container, err := apfs.Open(m)
	require.NoError(t, err)
	require.Equal(t, 1, container.VolumeCount())

	vol, err := container.OpenVolume(0, "")
	require.NoError(t, err)
	require.Equal(t, "testvol", vol.Name())
	require.False(t, vol.IsEncrypted())

	root, err := vol.RootDirectory()
	require.NoError(t, err)

	entries, err := root.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, "hello.txt", entries[0].Name)
	require.Equal(t, apfs.EntryFile, entries[0].Kind)

	file, err := root.Lookup("hello.txt")
	require.NoError(t, err)
	require.False(t, file.IsDir())

	size, err := file.Size()
	require.NoError(t, err)
	require.Equal(t, uint64(13), size)

	buf := make([]byte, 13)
	n, err := file.ReadAt(buf, 0)
	require.NoError(t, err)
	require.Equal(t, 13, n)
	require.Equal(t, "Hello, APFS!\n", string(buf))

	attrs, err := file.Attributes()
	require.NoError(t, err)
	require.Equal(t, types.ModeIFREG, attrs.Mode&types.ModeIFMT)
	require.Equal(t, uint64(13), attrs.Size)

	resolved, err := root.Resolve("hello.txt")
	require.NoError(t, err)
	size2, err := resolved.Size()
	require.NoError(t, err)
	require.Equal(t, uint64(13), size2)
}

func TestOpenVolumeIndexOutOfRange(t *testing.T) {
	m := buildContainer(t)
	container, err := apfs.Open(m)
	require.NoError(t, err)

	_, err = container.OpenVolume(1, "")
	require.Error(t, err)
	require.ErrorIs(t, err, apfserr.ErrInvalidArgument)
}

func TestLookupMissingEntryFails(t *testing.T) {
	m := buildContainer(t)
	container, err := apfs.Open(m)
	require.NoError(t, err)
	vol, err := container.OpenVolume(0, "")
	require.NoError(t, err)
	root, err := vol.RootDirectory()
	require.NoError(t, err)

	_, err = root.Lookup("missing")
	require.Error(t, err)
	require.ErrorIs(t, err, apfserr.ErrNotFound)
}
