package fstree

import (
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/types"
)

// inodeValFixedSize is the size of j_inode_val_t up to and including
// uncompressed_size, before its trailing extended-field blob.
const inodeValFixedSize = 92

func leUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

func leUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }

func decodeInodeVal(raw []byte) (types.JInodeValT, error) {
	var v types.JInodeValT
	if len(raw) < inodeValFixedSize {
		return v, apfserr.Wrap(apfserr.ErrNodeCorrupt, "inode record value needs %d bytes, got %d", inodeValFixedSize, len(raw))
	}
	le := binary.LittleEndian
	v.ParentId = le.Uint64(raw[0:8])
	v.PrivateId = le.Uint64(raw[8:16])
	v.CreateTime = le.Uint64(raw[16:24])
	v.ModTime = le.Uint64(raw[24:32])
	v.ChangeTime = le.Uint64(raw[32:40])
	v.AccessTime = le.Uint64(raw[40:48])
	v.InternalFlags = le.Uint64(raw[48:56])
	v.NchildrenOrNlink = int32(le.Uint32(raw[56:60]))
	v.DefaultProtectionClass = types.CpKeyClassT(le.Uint32(raw[60:64]))
	v.WriteGenerationCounter = le.Uint32(raw[64:68])
	v.BsdFlags = le.Uint32(raw[68:72])
	v.Owner = types.UidT(le.Uint32(raw[72:76]))
	v.Group = types.GidT(le.Uint32(raw[76:80]))
	v.ModeField = types.Mode(le.Uint16(raw[80:82]))
	v.Pad1 = le.Uint16(raw[82:84])
	v.UncompressedSize = le.Uint64(raw[84:92])
	v.XFields = raw[inodeValFixedSize:]
	return v, nil
}

func decodeDrecVal(raw []byte) (types.JDrecValT, error) {
	var v types.JDrecValT
	const fixed = 8 + 8 + 2
	if len(raw) < fixed {
		return v, apfserr.Wrap(apfserr.ErrNodeCorrupt, "directory entry value needs %d bytes, got %d", fixed, len(raw))
	}
	le := binary.LittleEndian
	v.FileId = le.Uint64(raw[0:8])
	v.DateAdded = le.Uint64(raw[8:16])
	v.Flags = le.Uint16(raw[16:18])
	v.XFields = raw[fixed:]
	return v, nil
}

func decodeXattrVal(raw []byte) (types.JXattrValT, error) {
	var v types.JXattrValT
	const fixed = 2 + 2
	if len(raw) < fixed {
		return v, apfserr.Wrap(apfserr.ErrNodeCorrupt, "xattr value needs %d bytes, got %d", fixed, len(raw))
	}
	le := binary.LittleEndian
	v.Flags = le.Uint16(raw[0:2])
	v.XdataLen = le.Uint16(raw[2:4])
	if fixed+int(v.XdataLen) > len(raw) {
		return v, apfserr.Wrap(apfserr.ErrNodeCorrupt, "xattr value data runs past record end")
	}
	v.Xdata = raw[fixed : fixed+int(v.XdataLen)]
	return v, nil
}

func decodeXattrDstream(raw []byte) (types.JXattrDstreamT, error) {
	var v types.JXattrDstreamT
	const size = 8 + 5*8
	if len(raw) < size {
		return v, apfserr.Wrap(apfserr.ErrNodeCorrupt, "xattr data-stream descriptor needs %d bytes, got %d", size, len(raw))
	}
	le := binary.LittleEndian
	v.XattrObjId = le.Uint64(raw[0:8])
	v.Dstream.Size = le.Uint64(raw[8:16])
	v.Dstream.AllocedSize = le.Uint64(raw[16:24])
	v.Dstream.DefaultCryptoId = le.Uint64(raw[24:32])
	v.Dstream.TotalBytesWritten = le.Uint64(raw[32:40])
	v.Dstream.TotalBytesRead = le.Uint64(raw[40:48])
	return v, nil
}

func decodeFileExtentVal(raw []byte) (types.JFileExtentValT, error) {
	var v types.JFileExtentValT
	const size = 8 + 8 + 8
	if len(raw) < size {
		return v, apfserr.Wrap(apfserr.ErrNodeCorrupt, "file extent value needs %d bytes, got %d", size, len(raw))
	}
	le := binary.LittleEndian
	v.LenAndFlags = le.Uint64(raw[0:8])
	v.PhysBlockNum = le.Uint64(raw[8:16])
	v.CryptoId = le.Uint64(raw[16:24])
	return v, nil
}

// decodeDrecName extracts the entry name from a directory-record key,
// following it past the 8-byte header and the 2-byte (or hashed 4-byte)
// length field this tree's Comparator was built to expect.
func decodeDrecName(key []byte, hashed bool) (string, error) {
	if hashed {
		if len(key) < 12 {
			return "", apfserr.Wrap(apfserr.ErrNodeCorrupt, "hashed directory key shorter than 12 bytes")
		}
		lenAndHash := binary.LittleEndian.Uint32(key[8:12])
		nameLen := int(lenAndHash & types.JDrecLenMask)
		if nameLen == 0 || 12+nameLen > len(key) {
			return "", apfserr.Wrap(apfserr.ErrNodeCorrupt, "hashed directory key name length out of range")
		}
		return readCString(key[12 : 12+nameLen]), nil
	}
	if len(key) < 10 {
		return "", apfserr.Wrap(apfserr.ErrNodeCorrupt, "directory key shorter than 10 bytes")
	}
	nameLen := int(binary.LittleEndian.Uint16(key[8:10]))
	if nameLen == 0 || 10+nameLen > len(key) {
		return "", apfserr.Wrap(apfserr.ErrNodeCorrupt, "directory key name length out of range")
	}
	return readCString(key[10 : 10+nameLen]), nil
}

func decodeXattrName(key []byte) (string, error) {
	if len(key) < 10 {
		return "", apfserr.Wrap(apfserr.ErrNodeCorrupt, "xattr key shorter than 10 bytes")
	}
	nameLen := int(binary.LittleEndian.Uint16(key[8:10]))
	if nameLen == 0 || 10+nameLen > len(key) {
		return "", apfserr.Wrap(apfserr.ErrNodeCorrupt, "xattr key name length out of range")
	}
	return readCString(key[10 : 10+nameLen]), nil
}

func decodeFileExtentLogicalAddr(key []byte) (uint64, error) {
	if len(key) < 16 {
		return 0, apfserr.Wrap(apfserr.ErrNodeCorrupt, "file extent key shorter than 16 bytes")
	}
	return binary.LittleEndian.Uint64(key[8:16]), nil
}
