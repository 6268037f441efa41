// Package types implements the on-disk data structures for the Apple File
// System, as described in the Apple File System Reference (June 2020).
package types

// OidT is an object identifier. For a physical object, its identifier is
// the logical block address on disk where the object is stored. For an
// ephemeral or virtual object, its identifier is a number assigned by the
// container. Reference: page 12.
type OidT uint64

// XidT is a transaction identifier. Transactions are uniquely identified
// by a monotonically increasing number; zero is never valid.
// Reference: page 12.
type XidT uint64

// ObjPhysT is the header at the beginning of every object. Reference: page 10.
type ObjPhysT struct {
	OChecksum [MaxCksumSize]byte
	OOid      OidT
	OXid      XidT
	OType     uint32
	OSubtype  uint32
}

// MaxCksumSize is the number of bytes used for an object's Fletcher-64
// checksum field. Reference: page 11.
const MaxCksumSize = 8

// ObjPhysSize is the on-disk size of ObjPhysT.
const ObjPhysSize = 32

const (
	XidInvalid      XidT = 0
	OidNxSuperblock OidT = 1
	OidInvalid      OidT = 0
)

const (
	ObjectTypeMask             uint32 = 0x0000ffff
	ObjectTypeFlagsMask        uint32 = 0xffff0000
	ObjStorageTypeMask         uint32 = 0xc0000000
	ObjectTypeFlagsDefinedMask uint32 = 0xf8000000
)

// Object Types (pages 14-19).
const (
	ObjectTypeInvalid           uint32 = 0x00000000
	ObjectTypeNxSuperblock      uint32 = 0x00000001
	ObjectTypeBtree             uint32 = 0x00000002
	ObjectTypeBtreeNode         uint32 = 0x00000003
	ObjectTypeSpaceman          uint32 = 0x00000005
	ObjectTypeSpacemanCab       uint32 = 0x00000006
	ObjectTypeSpacemanCib       uint32 = 0x00000007
	ObjectTypeSpacemanBitmap    uint32 = 0x00000008
	ObjectTypeSpacemanFreeQueue uint32 = 0x00000009
	ObjectTypeExtentListTree    uint32 = 0x0000000a
	ObjectTypeOmap              uint32 = 0x0000000b
	ObjectTypeCheckpointMap     uint32 = 0x0000000c
	ObjectTypeFs                uint32 = 0x0000000d
	ObjectTypeFstree            uint32 = 0x0000000e
	ObjectTypeBlockreftree      uint32 = 0x0000000f
	ObjectTypeSnapmetatree      uint32 = 0x00000010
	ObjectTypeNxReaper          uint32 = 0x00000011
	ObjectTypeNxReapList        uint32 = 0x00000012
	ObjectTypeOmapSnapshot      uint32 = 0x00000013
	ObjectTypeEfiJumpstart      uint32 = 0x00000014
	ObjectTypeFusionMiddleTree  uint32 = 0x00000015
	ObjectTypeNxFusionWbc       uint32 = 0x00000016
	ObjectTypeNxFusionWbcList   uint32 = 0x00000017
	ObjectTypeErState           uint32 = 0x00000018
	ObjectTypeGbitmap           uint32 = 0x00000019
	ObjectTypeGbitmapTree       uint32 = 0x0000001a
	ObjectTypeGbitmapBlock      uint32 = 0x0000001b
	ObjectTypeErRecoveryBlock   uint32 = 0x0000001c
	ObjectTypeSnapMetaExt       uint32 = 0x0000001d
	ObjectTypeIntegrityMeta     uint32 = 0x0000001e
	ObjectTypeFextTree          uint32 = 0x0000001f
	ObjectTypeTest              uint32 = 0x000000ff

	ObjectTypeContainerKeybag uint32 = 'k' | 'e'<<8 | 'y'<<16 | 's'<<24
	ObjectTypeVolumeKeybag    uint32 = 'r' | 'e'<<8 | 'c'<<16 | 's'<<24
	ObjectTypeMediaKeybag     uint32 = 'm' | 'k'<<8 | 'e'<<16 | 'y'<<24
)

// Object Type Flags (pages 20-21).
const (
	ObjVirtual      uint32 = 0x00000000
	ObjEphemeral    uint32 = 0x80000000
	ObjPhysical     uint32 = 0x40000000
	ObjNoheader     uint32 = 0x20000000
	ObjEncrypted    uint32 = 0x10000000
	ObjNonpersistent uint32 = 0x08000000
)

// StorageType returns the storage-class bits (virtual/ephemeral/physical) of
// an object type word.
func StorageType(oType uint32) uint32 { return oType & ObjStorageTypeMask }

// BaseType returns the low 16 bits identifying the object's concrete type.
func BaseType(oType uint32) uint32 { return oType & ObjectTypeMask }
