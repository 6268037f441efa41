package types

// File-system objects (pages 71-101).
// A file-system object is stored as one or more key/value records in the
// volume's file-system B-tree; all record keys share the JKeyT header.

// JKeyT is the header at the beginning of every file-system key.
// Reference: page 72.
type JKeyT struct {
	ObjIdAndType uint64
}

const (
	ObjIdMask       uint64 = 0x0fffffffffffffff
	ObjTypeMask     uint64 = 0xf000000000000000
	ObjTypeShift    uint64 = 60
	SystemObjIdMark uint64 = 0x0fffffff00000000
)

// ObjId returns the file-system object identifier encoded in the key header.
func (k JKeyT) ObjId() uint64 { return k.ObjIdAndType & ObjIdMask }

// Type returns the record type encoded in the key header.
func (k JKeyT) Type() JObjType { return JObjType((k.ObjIdAndType & ObjTypeMask) >> ObjTypeShift) }

// MakeJKeyT packs an object id and record type into a key header.
func MakeJKeyT(objId uint64, t JObjType) JKeyT {
	return JKeyT{ObjIdAndType: (objId & ObjIdMask) | (uint64(t) << ObjTypeShift)}
}

// JInodeKeyT is the key half of an inode record. Reference: page 73.
type JInodeKeyT struct {
	Hdr JKeyT
}

// JInodeValT is the value half of an inode record. Reference: pages 73-77.
type JInodeValT struct {
	ParentId               uint64
	PrivateId              uint64
	CreateTime             uint64
	ModTime                uint64
	ChangeTime             uint64
	AccessTime             uint64
	InternalFlags          uint64
	NchildrenOrNlink       int32
	DefaultProtectionClass CpKeyClassT
	WriteGenerationCounter uint32
	BsdFlags               uint32
	Owner                  UidT
	Group                  GidT
	ModeField              Mode
	Pad1                   uint16
	UncompressedSize       uint64
	XFields                []byte
}

// IsDir reports whether the inode's mode marks it as a directory.
func (v *JInodeValT) IsDir() bool { return v.ModeField&ModeIFMT == ModeIFDIR }

// Nchildren returns the directory-entry count; valid only for directories.
func (v *JInodeValT) Nchildren() int32 { return v.NchildrenOrNlink }

// Nlink returns the hard-link count; valid only for non-directories.
func (v *JInodeValT) Nlink() int32 { return v.NchildrenOrNlink }

type UidT uint32
type GidT uint32

// JDrecKeyT is the key half of a directory entry record. Reference: page 78.
type JDrecKeyT struct {
	Hdr     JKeyT
	NameLen uint16
	Name    []byte
}

// JDrecHashedKeyT is a directory entry key with a precomputed name hash,
// used on case-insensitive/normalization-sensitive volumes. Reference: page 78.
type JDrecHashedKeyT struct {
	Hdr            JKeyT
	NameLenAndHash uint32
	Name           []byte
}

const (
	JDrecLenMask   uint32 = 0x000003ff
	JDrecHashMask  uint32 = 0xfffffc00
	JDrecHashShift uint32 = 10
)

// NameLenField returns the encoded name length (including the terminating NUL).
func (k JDrecHashedKeyT) NameLenField() uint16 { return uint16(k.NameLenAndHash & JDrecLenMask) }

// Hash returns the encoded 22-bit name hash.
func (k JDrecHashedKeyT) Hash() uint32 { return (k.NameLenAndHash & JDrecHashMask) >> JDrecHashShift }

// JDrecValT is the value half of a directory entry record. Reference: page 79.
type JDrecValT struct {
	FileId    uint64
	DateAdded uint64
	Flags     uint16
	XFields   []byte
}

const DrecTypeMask uint16 = 0x000f

// FileType returns the BSD file-type nibble carried in the directory entry's flags.
func (v JDrecValT) FileType() uint16 { return v.Flags & DrecTypeMask }

// JDirStatsKeyT is the key half of a directory statistics record.
// Reference: page 80.
type JDirStatsKeyT struct{ Hdr JKeyT }

// JDirStatsValT is the value half of a directory statistics record.
// Reference: page 81.
type JDirStatsValT struct {
	NumChildren uint64
	TotalSize   uint64
	ChainedKey  uint64
	GenCount    uint64
}

// JXattrKeyT is the key half of an extended attribute record.
// Reference: page 82.
type JXattrKeyT struct {
	Hdr     JKeyT
	NameLen uint16
	Name    []byte
}

// JXattrValT is the value half of an extended attribute record.
// Reference: page 82-83.
type JXattrValT struct {
	Flags    uint16
	XdataLen uint16
	Xdata    []byte
}

const (
	XattrDataStream      uint16 = 0x0001
	XattrDataEmbedded    uint16 = 0x0002
	XattrFileSystemOwned uint16 = 0x0004
)

// JObjKinds distinguishes new/updated/dead records within a snapshot's
// change history. Reference: page 87.
type JObjKinds uint8

const (
	ApfsKindAny           JObjKinds = 0
	ApfsKindNew           JObjKinds = 1
	ApfsKindUpdate        JObjKinds = 2
	ApfsKindDead          JObjKinds = 3
	ApfsKindUpdateRefcnt  JObjKinds = 4
	ApfsKindInvalid       JObjKinds = 255
)

// JInodeFlags are the bits of JInodeValT.InternalFlags. Reference: pages 88-94.
type JInodeFlags uint64

const (
	InodeIsApfsPrivate         JInodeFlags = 0x00000001
	InodeMaintainDirStats      JInodeFlags = 0x00000002
	InodeDirStatsOrigin        JInodeFlags = 0x00000004
	InodeProtClassExplicit     JInodeFlags = 0x00000008
	InodeWasCloned             JInodeFlags = 0x00000010
	InodeHasSecurityEa         JInodeFlags = 0x00000040
	InodeBeingTruncated        JInodeFlags = 0x00000080
	InodeHasFinderInfo         JInodeFlags = 0x00000100
	InodeIsSparse              JInodeFlags = 0x00000200
	InodeWasEverCloned         JInodeFlags = 0x00000400
	InodeActiveFileTrimmed     JInodeFlags = 0x00000800
	InodePinnedToMain          JInodeFlags = 0x00001000
	InodePinnedToTier2         JInodeFlags = 0x00002000
	InodeHasRsrcFork           JInodeFlags = 0x00004000
	InodeNoRsrcFork            JInodeFlags = 0x00008000
	InodeAllocationSpilledover JInodeFlags = 0x00010000
	InodeFastPromote           JInodeFlags = 0x00020000
	InodeHasUncompressedSize   JInodeFlags = 0x00040000
	InodeIsPurgeable           JInodeFlags = 0x00080000
	InodeWantsToBePurgeable    JInodeFlags = 0x00100000
	InodeIsSyncRoot            JInodeFlags = 0x00200000
	InodeSnapshotCowExemption  JInodeFlags = 0x00400000
)

// HasInodeFlag reports whether the given inode flag bit is set.
func HasInodeFlag(flags uint64, bit JInodeFlags) bool { return flags&uint64(bit) != 0 }

// IsHardLink reports whether nlink/BSD semantics (not a directory, more than
// one name) indicate the inode is a shared-target hard link; callers combine
// this with SIBLING_MAP presence to resolve link names.
func (v *JInodeValT) IsHardLink() bool { return !v.IsDir() && v.NchildrenOrNlink > 1 }
