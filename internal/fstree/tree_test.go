package fstree

import (
	"testing"

	"github.com/apfscore/apfsro/internal/types"
	"github.com/stretchr/testify/require"
)

func inodeValBytes(parentId, privateId uint64, mode types.Mode, size uint64, xfields []byte) []byte {
	b := make([]byte, inodeValFixedSize)
	copy(b[0:8], leU64(parentId))
	copy(b[8:16], leU64(privateId))
	copy(b[80:82], leU16(uint16(mode)))
	copy(b[84:92], leU64(size))
	return append(b, xfields...)
}

func TestTreeInodeRoundTrip(t *testing.T) {
	key := recordKey(2, types.JObjTypeInode, nil)
	value := inodeValBytes(1, 2, types.ModeIFDIR, 0, nil)
	tr := openTestTree(t, []kv{{key, value}}, false, false, nil)

	inode, err := tr.Inode(2)
	require.NoError(t, err)
	require.Equal(t, uint64(1), inode.ParentId)
	require.Equal(t, uint64(2), inode.PrivateId)
	require.True(t, inode.IsDir())
}

func TestTreeInodeNotFound(t *testing.T) {
	tr := openTestTree(t, nil, false, false, nil)
	_, err := tr.Inode(99)
	require.Error(t, err)
}

func TestInodeExtendedFieldsDecodesDstream(t *testing.T) {
	var dstream []byte
	dstream = append(dstream, leU64(12345)...) // size
	dstream = append(dstream, leU64(16384)...) // alloced size
	dstream = append(dstream, leU64(0)...)     // default crypto id
	dstream = append(dstream, leU64(12345)...) // total bytes written
	dstream = append(dstream, leU64(12345)...) // total bytes read
	xf := buildXfBlob(t, []xfEntry{{fieldType: types.InoExtTypeDstream, data: dstream}})
	key := recordKey(5, types.JObjTypeInode, nil)
	value := inodeValBytes(2, 5, types.ModeIFREG, 12345, xf)
	tr := openTestTree(t, []kv{{key, value}}, false, false, nil)

	inode, err := tr.Inode(5)
	require.NoError(t, err)

	ds, ok, err := tr.dstream(inode)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(12345), ds.Size)
	require.Equal(t, uint64(16384), ds.AllocedSize)
}

type xfEntry struct {
	fieldType uint8
	data      []byte
}

// buildXfBlob assembles an xf_blob_t: the 4-byte blob header, one
// x_field_t descriptor per entry, then each entry's data padded to a
// multiple of 8 bytes.
func buildXfBlob(t *testing.T, entries []xfEntry) []byte {
	t.Helper()
	header := append(leU16(uint16(len(entries))), leU16(0)...)
	var descriptors []byte
	var data []byte
	for _, e := range entries {
		descriptors = append(descriptors, e.fieldType, 0)
		descriptors = append(descriptors, leU16(uint16(len(e.data)))...)
		data = append(data, e.data...)
		if pad := (8 - len(e.data)%8) % 8; pad != 0 {
			data = append(data, make([]byte, pad)...)
		}
	}
	return append(header, append(descriptors, data...)...)
}
