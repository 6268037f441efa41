package fstree

import (
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/deflate"
	"github.com/apfscore/apfsro/internal/lzfse"
	"github.com/apfscore/apfsro/internal/types"
)

func zlibDecompress(payload []byte, maxOutput int) ([]byte, error) {
	return deflate.DecompressZlib(payload, maxOutput)
}

func lzvnDecompress(payload []byte, maxOutput int) ([]byte, error) {
	return lzfse.DecodeLZVN(payload, maxOutput)
}

func lzfseDecompress(payload []byte, maxOutput int) ([]byte, error) {
	return lzfse.Decompress(payload, maxOutput)
}

// Xattr resolves one named extended attribute's value, reading it out of
// its data stream when it's too large to store inline.
func (t *Tree) Xattr(objId uint64, name string) ([]byte, bool, error) {
	lower, upper := familyBounds(objId, types.JObjTypeXattr)
	var data []byte
	var found bool
	err := t.tree.Walk(t.rootAddr, lower, upper, func(key, value []byte) (bool, error) {
		xname, err := decodeXattrName(key)
		if err != nil {
			return false, err
		}
		if xname != name {
			return true, nil
		}
		val, err := decodeXattrVal(value)
		if err != nil {
			return false, err
		}
		if val.Flags&types.XattrDataStream != 0 {
			ds, err := decodeXattrDstream(val.Xdata)
			if err != nil {
				return false, err
			}
			data, err = t.ReadExtents(ds.XattrObjId, 0, int64(ds.Dstream.Size))
			if err != nil {
				return false, err
			}
		} else {
			data = append([]byte(nil), val.Xdata...)
		}
		found = true
		return false, nil
	})
	if err != nil {
		return nil, false, err
	}
	return data, found, nil
}

// ReadSymlinkTarget returns a symlink inode's target path text. APFS stores
// it in the inode's own inline data stream, in the com.apple.fs.symlink
// extended attribute, or (on volumes written by some third-party tools)
// only the latter; the inline extent is tried first since it needs no
// xattr-tree walk, falling back to the xattr when it yields nothing.
func (t *Tree) ReadSymlinkTarget(objId uint64, inode types.JInodeValT) ([]byte, error) {
	if inode.PrivateId != 0 && inode.UncompressedSize > 0 {
		target, err := t.ReadExtents(inode.PrivateId, 0, int64(inode.UncompressedSize))
		if err != nil {
			return nil, err
		}
		if len(target) > 0 {
			return target, nil
		}
	}
	target, found, err := t.Xattr(objId, types.SymlinkXattrName)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apfserr.AtOid(apfserr.ErrCorruptFile, objId, "symlink has no inline target and no %s xattr", types.SymlinkXattrName)
	}
	return target, nil
}

// ListXattrs returns the names of every extended attribute on objId.
func (t *Tree) ListXattrs(objId uint64) ([]string, error) {
	lower, upper := familyBounds(objId, types.JObjTypeXattr)
	var names []string
	err := t.tree.Walk(t.rootAddr, lower, upper, func(key, value []byte) (bool, error) {
		name, err := decodeXattrName(key)
		if err != nil {
			return false, err
		}
		names = append(names, name)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// ReadFile returns length bytes of a regular file's content starting at
// offset, transparently inflating decmpfs-compressed files: a file carrying
// a com.apple.decmpfs attribute stores its real content either inline in
// that attribute (small files) or in the com.apple.ResourceFork attribute's
// data stream, chunked into independently compressed blocks of up to 64KiB
// each with a leading offset table.
func (t *Tree) ReadFile(objId uint64, inode types.JInodeValT, offset, length int64) ([]byte, error) {
	header, payload, found, err := t.decmpfsHeader(objId)
	if err != nil {
		return nil, err
	}
	if !found {
		return t.ReadExtents(inode.PrivateId, offset, length)
	}

	full, err := t.decompressDecmpfs(objId, header, payload)
	if err != nil {
		return nil, err
	}
	if offset >= int64(len(full)) {
		return nil, nil
	}
	end := offset + length
	if end > int64(len(full)) {
		end = int64(len(full))
	}
	return full[offset:end], nil
}

// Size returns the logical content size of a file: a decmpfs-compressed
// file reports the uncompressed size recorded in its decmpfs header, since
// that's the size a read sees, not the size of the compressed bytes on
// disk; any other file reports its default data stream's size.
func (t *Tree) Size(objId uint64, inode types.JInodeValT) (uint64, error) {
	header, _, found, err := t.decmpfsHeader(objId)
	if err != nil {
		return 0, err
	}
	if found {
		return header.UncompressedSize, nil
	}
	ds, ok, err := t.dstream(inode)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return ds.Size, nil
}

func (t *Tree) decmpfsHeader(objId uint64) (types.DecmpfsHeader, []byte, bool, error) {
	raw, found, err := t.Xattr(objId, types.DecmpfsXattrName)
	if err != nil || !found {
		return types.DecmpfsHeader{}, nil, found, err
	}
	if len(raw) < types.DecmpfsHeaderSize {
		return types.DecmpfsHeader{}, nil, false, apfserr.Wrap(apfserr.ErrCorruptFile, "decmpfs attribute shorter than its header")
	}
	var h types.DecmpfsHeader
	h.Magic = binary.LittleEndian.Uint32(raw[0:4])
	h.CompressionType = binary.LittleEndian.Uint32(raw[4:8])
	h.UncompressedSize = binary.LittleEndian.Uint64(raw[8:16])
	if h.Magic != types.DecmpfsMagic {
		return types.DecmpfsHeader{}, nil, false, apfserr.Wrap(apfserr.ErrCorruptFile, "decmpfs header has wrong magic %#x", h.Magic)
	}
	return h, raw[types.DecmpfsHeaderSize:], true, nil
}

func (t *Tree) decompressDecmpfs(objId uint64, header types.DecmpfsHeader, inlinePayload []byte) ([]byte, error) {
	maxOutput := int(header.UncompressedSize)

	if !types.IsResourceBacked(header.CompressionType) {
		return decodeOneChunk(header.CompressionType, inlinePayload, maxOutput)
	}

	resource, found, err := t.Xattr(objId, types.ResourceForkXattrName)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apfserr.AtOid(apfserr.ErrCorruptFile, objId, "decmpfs header names a resource-fork-backed type but no resource fork xattr exists")
	}
	return decodeResourceForkChunks(header.CompressionType, resource, maxOutput)
}

// decodeOneChunk applies the codec named by compressionType to a single,
// unchunked payload (the inline decmpfs case, and the degenerate single-run
// case other callers may also want).
func decodeOneChunk(compressionType uint32, payload []byte, maxOutput int) ([]byte, error) {
	switch compressionType {
	case types.DecmpfsTypeZlibInline, types.DecmpfsTypeZlibResource:
		return zlibDecompress(payload, maxOutput)
	case types.DecmpfsTypeLzvnInline, types.DecmpfsTypeLzvnResource:
		return lzvnDecompress(payload, maxOutput)
	case types.DecmpfsTypeLzfseInline, types.DecmpfsTypeLzfseResource:
		return lzfseDecompress(payload, maxOutput)
	case types.DecmpfsTypeRawInline, types.DecmpfsTypeRawResource:
		n := len(payload)
		if n > maxOutput {
			n = maxOutput
		}
		return append([]byte(nil), payload[:n]...), nil
	default:
		return nil, apfserr.Wrap(apfserr.ErrUnsupportedCompression, "decmpfs compression type %d", compressionType)
	}
}

// resourceForkHeaderSize is the fixed 4-field big-endian header preceding
// the resource fork's chunk offset table.
const resourceForkHeaderSize = 16

// decodeResourceForkChunks decodes a decmpfs resource-fork payload: a
// 16-byte big-endian header naming the offset of a chunk table, a little
// endian chunk count followed by that many (offset, size) pairs relative to
// the start of the compressed data area, and finally the chunks themselves,
// each independently compressed and inflating to at most 64KiB.
func decodeResourceForkChunks(compressionType uint32, resource []byte, maxOutput int) ([]byte, error) {
	if len(resource) < resourceForkHeaderSize+4 {
		return nil, apfserr.Wrap(apfserr.ErrCorruptFile, "resource fork payload shorter than its header")
	}
	tableOffset := int(binary.BigEndian.Uint32(resource[0:4]))
	if tableOffset+4 > len(resource) {
		return nil, apfserr.Wrap(apfserr.ErrCorruptFile, "resource fork chunk table offset out of range")
	}
	numChunks := int(binary.LittleEndian.Uint32(resource[tableOffset : tableOffset+4]))
	entriesStart := tableOffset + 4
	entriesEnd := entriesStart + numChunks*8
	if numChunks < 0 || entriesEnd > len(resource) {
		return nil, apfserr.Wrap(apfserr.ErrCorruptFile, "resource fork chunk table runs past payload end")
	}
	dataStart := entriesEnd

	const maxChunkOutput = 64 * 1024
	out := make([]byte, 0, maxOutput)
	for i := 0; i < numChunks; i++ {
		entry := resource[entriesStart+i*8 : entriesStart+i*8+8]
		chunkOffset := int(binary.LittleEndian.Uint32(entry[0:4]))
		chunkSize := int(binary.LittleEndian.Uint32(entry[4:8]))
		start := dataStart + chunkOffset
		if start < 0 || chunkSize < 0 || start+chunkSize > len(resource) {
			return nil, apfserr.Wrap(apfserr.ErrCorruptFile, "resource fork chunk %d out of range", i)
		}
		remaining := maxOutput - len(out)
		chunkMax := maxChunkOutput
		if remaining < chunkMax {
			chunkMax = remaining
		}
		chunk := resource[start : start+chunkSize]
		if len(chunk) > 0 && chunk[0] == 0xff {
			// A 0xff-tagged chunk stores its bytes uncompressed verbatim,
			// used whenever compression would not have saved space.
			out = append(out, chunk[1:]...)
			continue
		}
		decoded, err := decodeOneChunk(compressionType, chunk, chunkMax)
		if err != nil {
			return nil, err
		}
		out = append(out, decoded...)
	}
	if len(out) > maxOutput {
		out = out[:maxOutput]
	}
	return out, nil
}
