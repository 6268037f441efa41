package fstree

import (
	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/btree"
	"github.com/apfscore/apfsro/internal/objects"
	"github.com/apfscore/apfsro/internal/types"
)

// Tree is a read-only view over one volume's file-system B-tree: inodes,
// directory entries, extended attributes, sibling links, and logical file
// extents, plus the extent-assembly logic (decryption, decompression) that
// turns those records into file content.
type Tree struct {
	objects            *objects.Reader
	tree               *btree.Tree
	rootAddr           int64
	maxXid             types.XidT
	blockSize          uint32
	hashedNames        bool
	hardlinkMapRecords bool
	vek                []byte
}

// Open parses rootAddr as a file-system tree root. locate resolves this
// tree's own child pointers (through the volume's object map, since a
// file-system tree is always virtual); hashedNames and hardlinkMapRecords
// mirror the owning volume's normalization-insensitive and
// hardlink-map-records feature flags; vek is the volume's unwrapped
// encryption key, or nil for an unencrypted or still-locked volume (extent
// reads into an encrypted region then fail with ErrLocked instead of
// returning ciphertext).
func Open(reader *objects.Reader, rootAddr int64, locate btree.ChildLocator, maxXid types.XidT, blockSize uint32, hashedNames, hardlinkMapRecords bool, vek []byte) (*Tree, error) {
	bt, err := btree.Open(reader, rootAddr, locate, maxXid)
	if err != nil {
		return nil, err
	}
	return &Tree{
		objects:            reader,
		tree:               bt,
		rootAddr:           rootAddr,
		maxXid:             maxXid,
		blockSize:          blockSize,
		hashedNames:        hashedNames,
		hardlinkMapRecords: hardlinkMapRecords,
		vek:                vek,
	}, nil
}

// Inode returns the decoded inode record for a file-system object id.
func (t *Tree) Inode(objId uint64) (types.JInodeValT, error) {
	_, value, err := t.tree.Lookup(t.rootAddr, exactRecordComparator(objId, types.JObjTypeInode))
	if err != nil {
		return types.JInodeValT{}, apfserr.AtOid(apfserr.ErrNotFound, objId, "inode record")
	}
	return decodeInodeVal(value)
}

// InodeExtendedFields decodes an inode's trailing extended-field blob, which
// carries optional data such as the inode's document id or Finder info.
func (t *Tree) InodeExtendedFields(inode types.JInodeValT) ([]Field, error) {
	return parseXfBlob(inode.XFields)
}

// dstream looks up the j_dstream_t descriptor for a file's default data
// stream, stored as part of the inode's extended fields under
// InoExtTypeDstream.
func (t *Tree) dstream(inode types.JInodeValT) (types.JDstreamT, bool, error) {
	fields, err := parseXfBlob(inode.XFields)
	if err != nil {
		return types.JDstreamT{}, false, err
	}
	f, ok := findField(fields, types.InoExtTypeDstream)
	if !ok {
		return types.JDstreamT{}, false, nil
	}
	const size = 5 * 8
	if len(f.Data) < size {
		return types.JDstreamT{}, false, apfserr.Wrap(apfserr.ErrNodeCorrupt, "inode data-stream extended field shorter than %d bytes", size)
	}
	le := leUint64
	ds := types.JDstreamT{
		Size:              le(f.Data[0:8]),
		AllocedSize:       le(f.Data[8:16]),
		DefaultCryptoId:   le(f.Data[16:24]),
		TotalBytesWritten: le(f.Data[24:32]),
		TotalBytesRead:    le(f.Data[32:40]),
	}
	return ds, true, nil
}
