package checkpoint

import (
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/objects"
	"github.com/apfscore/apfsro/internal/types"
)

// checkpointMappingSize is the on-disk size of one checkpoint_mapping_t
// entry: type, subtype, size, padding (4 bytes each), then the filesystem
// oid, ephemeral oid, and physical address (8 bytes each).
const checkpointMappingSize = 40

// checkpointMapHeaderSize is the fixed portion of a checkpoint_map_phys_t
// preceding its mapping array: the 32-byte object header plus cpm_flags and
// cpm_count.
const checkpointMapHeaderSize = 32 + 4 + 4

// EphemeralMap resolves the ephemeral object identifiers belonging to one
// checkpoint (the space manager and its allocation-tracking structures) to
// the physical addresses they were written at for that checkpoint. Unlike
// every other object in the container, ephemeral objects move on every
// checkpoint, so this map must be rebuilt each time a new checkpoint is
// mounted and must never be cached across mounts.
func EphemeralMap(reader *objects.Reader, mount *Mount) (map[types.OidT]int64, error) {
	sb := mount.Superblock
	descBase := int64(uint64(sb.NxXpDescBase) &^ descBaseMsb)
	descBlocks := uint64(sb.NxXpDescBlocks &^ 0x80000000)
	if descBlocks == 0 {
		return nil, apfserr.Wrap(apfserr.ErrNoValidCheckpoint, "container reports an empty checkpoint descriptor area")
	}

	result := make(map[types.OidT]int64)
	for i := uint32(0); i < sb.NxXpDescLen; i++ {
		blockAddr := descBase + int64((uint64(sb.NxXpDescIndex)+uint64(i))%descBlocks)
		if blockAddr == mount.Addr {
			// The checkpoint's own superblock copy terminates its run of
			// checkpoint-map blocks; it carries no mappings itself.
			continue
		}

		_, raw, err := reader.ReadBlock(blockAddr, objects.ReadOptions{
			MaxXid:   sb.NxO.OXid,
			WantType: types.ObjectTypeCheckpointMap,
		})
		if err != nil {
			return nil, apfserr.WrapErr(apfserr.ErrNoValidCheckpoint, err, "reading checkpoint map at paddr=%d", blockAddr)
		}

		last, err := decodeCheckpointMap(raw, result)
		if err != nil {
			return nil, err
		}
		if last {
			break
		}
	}
	return result, nil
}

func decodeCheckpointMap(raw []byte, into map[types.OidT]int64) (last bool, err error) {
	if len(raw) < checkpointMapHeaderSize {
		return false, apfserr.Wrap(apfserr.ErrTruncatedInput, "checkpoint map header needs %d bytes, got %d", checkpointMapHeaderSize, len(raw))
	}
	le := binary.LittleEndian
	flags := le.Uint32(raw[32:36])
	count := le.Uint32(raw[36:40])

	need := checkpointMapHeaderSize + int(count)*checkpointMappingSize
	if len(raw) < need {
		return false, apfserr.Wrap(apfserr.ErrTruncatedInput, "checkpoint map needs %d bytes for %d entries, got %d", need, count, len(raw))
	}

	for i := uint32(0); i < count; i++ {
		off := checkpointMapHeaderSize + int(i)*checkpointMappingSize
		entry := raw[off : off+checkpointMappingSize]
		// entry layout: type(4) subtype(4) size(4) pad(4) fs_oid(8) oid(8) paddr(8)
		oid := types.OidT(le.Uint64(entry[24:32]))
		paddr := int64(le.Uint64(entry[32:40]))
		into[oid] = paddr
	}

	return flags&types.CheckpointMapLast != 0, nil
}
