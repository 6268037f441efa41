package types

// Container (pages 26-43).
// The container includes several top-level objects shared by all of a
// container's volumes: the checkpoint ring, the object map, the space
// manager, and the reaper.

// NxSuperblockT is a container superblock. Reference: page 27.
type NxSuperblockT struct {
	NxO                          ObjPhysT
	NxMagic                      uint32
	NxBlockSize                  uint32
	NxBlockCount                 uint64
	NxFeatures                   uint64
	NxReadonlyCompatibleFeatures uint64
	NxIncompatibleFeatures       uint64
	NxUuid                       UUID
	NxNextOid                    OidT
	NxNextXid                    XidT
	NxXpDescBlocks               uint32
	NxXpDataBlocks               uint32
	NxXpDescBase                 Paddr
	NxXpDataBase                 Paddr
	NxXpDescNext                 uint32
	NxXpDataNext                 uint32
	NxXpDescIndex                uint32
	NxXpDescLen                  uint32
	NxXpDataIndex                uint32
	NxXpDataLen                  uint32
	NxSpacemanOid                OidT
	NxOmapOid                    OidT
	NxReaperOid                  OidT
	NxTestType                   uint32
	NxMaxFileSystems             uint32
	NxFsOid                      [NxMaxFileSystemsConst]OidT
	NxCounters                   [NxNumCounters]uint64
	NxBlockedOutPrange           Prange
	NxEvictMappingTreeOid        OidT
	NxFlags                      uint64
	NxEfiJumpstart               Paddr
	NxFusionUuid                 UUID
	NxKeylocker                  Prange
	NxEphemeralInfo              [NxEphInfoCount]uint64
	NxTestOid                    OidT
	NxFusionMtOid                OidT
	NxFusionWbcOid               OidT
	NxFusionWbc                  Prange
	NxNewestMountedVersion       uint64
	NxMkbLocker                  Prange
}

// NxMagicValue is the value of the nx_magic field ("NXSB"). Reference: page 35.
const NxMagicValue uint32 = 'B' | 'S'<<8 | 'X'<<16 | 'N'<<24

const (
	NxMaxFileSystemsConst = 100
	NxEphInfoCount        = 4
	NxEphMinBlockCount    = 8
	NxTxMinCheckpointCount = 4
	NxEphInfoVersion1     = 1
	NxNumCounters         = 32
)

// Container flags. Reference: pages 36-37.
const (
	NxReserved1 uint64 = 0x00000001
	NxReserved2 uint64 = 0x00000002
	NxCryptoSw  uint64 = 0x00000004
)

// Optional/incompatible feature flags. Reference: pages 37-39.
const (
	NxFeatureDefrag        uint64 = 0x0000000000000001
	NxFeatureLcfd          uint64 = 0x0000000000000002
	NxSupportedFeaturesMask uint64 = NxFeatureDefrag | NxFeatureLcfd

	NxSupportedRocompatMask uint64 = 0x0

	NxIncompatVersion1    uint64 = 0x0000000000000001
	NxIncompatVersion2    uint64 = 0x0000000000000002
	NxIncompatFusion      uint64 = 0x0000000000000100
	NxSupportedIncompatMask uint64 = NxIncompatVersion2 | NxIncompatFusion
)

// Block and container size bounds. Reference: page 39.
const (
	NxMinimumBlockSize    = 4096
	NxDefaultBlockSize    = 4096
	NxMaximumBlockSize    = 65536
	NxMinimumContainerSize = 1048576
)

// Indexes into NxCounters. Reference: pages 39-40.
const (
	NxCntrObjCksumSet  = 0
	NxCntrObjCksumFail = 1
)

// CheckpointMappingT maps an ephemeral object identifier to its physical
// address in the checkpoint data area. Reference: page 40.
type CheckpointMappingT struct {
	CpmType    uint32
	CpmSubtype uint32
	CpmSize    uint32
	CpmPad     uint32
	CpmFsOid   OidT
	CpmOid     OidT
	CpmPaddr   Paddr
}

// CheckpointMappingSize is the on-disk size of CheckpointMappingT.
const CheckpointMappingSize = 40

// CheckpointMapPhysT is a checkpoint-mapping block. Reference: page 41.
type CheckpointMapPhysT struct {
	CpmO     ObjPhysT
	CpmFlags uint32
	CpmCount uint32
	CpmMap   []CheckpointMappingT
}

// CheckpointMapLast marks the last checkpoint-mapping block in a checkpoint.
// Reference: page 42.
const CheckpointMapLast uint32 = 0x00000001

// EvictMappingValT describes a range of blocks being evacuated.
// Reference: page 43.
type EvictMappingValT struct {
	DstPaddr Paddr
	Len      uint64
}
