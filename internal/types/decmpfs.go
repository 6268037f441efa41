package types

// Transparent file compression on APFS is layered above the generic record
// format: a regular file carries a "com.apple.decmpfs" extended attribute
// whose value is a DecmpfsHeader describing how the real content is encoded,
// plus either inline data (for small files) or a resource fork data stream
// (for larger ones).

// DecmpfsXattrName is the reserved extended-attribute name carrying a
// file's decmpfs header.
const DecmpfsXattrName = "com.apple.decmpfs"

// DecmpfsMagic is the magic value at the start of a decmpfs header,
// "fpmc" read as a little-endian uint32.
const DecmpfsMagic uint32 = 0x636d7066

// DecmpfsHeader is the fixed-size header stored at the start of the
// com.apple.decmpfs attribute's value.
type DecmpfsHeader struct {
	Magic            uint32
	CompressionType  uint32
	UncompressedSize uint64
}

// DecmpfsHeaderSize is the on-disk size of DecmpfsHeader.
const DecmpfsHeaderSize = 16

// Decmpfs compression type codes. Odd codes store data inline in the
// attribute value following the header; even codes store data in the file's
// resource fork data stream ("com.apple.ResourceFork").
const (
	DecmpfsTypeZlibInline    uint32 = 3
	DecmpfsTypeZlibResource  uint32 = 4
	DecmpfsTypeLzvnInline    uint32 = 7
	DecmpfsTypeLzvnResource  uint32 = 8
	DecmpfsTypeRawInline     uint32 = 9
	DecmpfsTypeRawResource   uint32 = 10
	DecmpfsTypeLzfseInline   uint32 = 11
	DecmpfsTypeLzfseResource uint32 = 12
)

// IsResourceBacked reports whether a decmpfs compression type stores its
// payload in the resource-fork data stream rather than inline.
func IsResourceBacked(compressionType uint32) bool { return compressionType%2 == 0 }

// ResourceForkXattrName is the extended attribute holding out-of-line
// compressed data for a decmpfs-compressed file.
const ResourceForkXattrName = "com.apple.ResourceFork"

// SymlinkXattrName is the reserved extended attribute carrying a symbolic
// link's target path. Finder Tools and most third-party APFS
// implementations write the target here rather than (or in addition to)
// the inode's inline data stream.
const SymlinkXattrName = "com.apple.fs.symlink"
