// Package checkpoint implements the container mount procedure: scanning the
// checkpoint descriptor area for the newest valid container superblock and
// resolving that checkpoint's ephemeral objects (the space manager and its
// allocation-tracking structures) to physical addresses.
package checkpoint

import (
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/btree"
	"github.com/apfscore/apfsro/internal/objects"
	"github.com/apfscore/apfsro/internal/types"
)

// descBaseMsb marks a non-contiguous checkpoint descriptor area: the low 63
// bits of nx_xp_desc_base then name the physical block of a B-tree mapping
// logical block offsets to prange_t physical ranges, instead of naming the
// first block of a single contiguous run.
const descBaseMsb = uint64(1) << 63

// Mount is the superblock chosen by Locate, together with the physical
// address it was read from and the block size governing every later read.
type Mount struct {
	Superblock types.NxSuperblockT
	Addr       int64
	BlockSize  uint32
}

// Locate reads the superblock at blockZeroAddr (ordinarily block 0), then
// scans the checkpoint descriptor area it points to for every other
// superblock copy, returning the one with the greatest transaction id that
// passes checksum and sanity validation. Real containers keep many
// checkpoints in the descriptor ring; block zero itself may be stale.
func Locate(reader *objects.Reader, blockZeroAddr int64) (*Mount, error) {
	blockZero, addr, err := readSuperblock(reader, blockZeroAddr, 0)
	if err != nil {
		return nil, apfserr.WrapErr(apfserr.ErrNoValidCheckpoint, err, "reading block zero superblock")
	}
	blockSize := blockZero.NxBlockSize

	ranges, err := descriptorRanges(reader, blockZero)
	if err != nil {
		return nil, err
	}

	best := &Mount{Superblock: blockZero, Addr: addr, BlockSize: blockSize}
	bestXid := blockZero.NxO.OXid

	for _, rng := range ranges {
		for i := uint64(0); i < rng.count; i++ {
			candAddr := rng.start + int64(i)
			if candAddr == addr {
				continue
			}
			sb, _, err := readSuperblock(reader, candAddr, 0)
			if err != nil {
				// Most descriptor-area blocks are checkpoint-map blocks, not
				// superblocks; ErrUnexpectedType and checksum failures from
				// probing those are expected, not a sign of a bad container.
				continue
			}
			if sb.NxO.OXid > bestXid {
				best = &Mount{Superblock: sb, Addr: candAddr, BlockSize: blockSize}
				bestXid = sb.NxO.OXid
			}
		}
	}

	if bestXid == 0 {
		return nil, apfserr.Wrap(apfserr.ErrNoValidCheckpoint, "no superblock in descriptor area passed validation")
	}
	return best, nil
}

// Candidate is one physical address Diagnose probed while walking the
// checkpoint descriptor area, together with the outcome of probing it.
type Candidate struct {
	Addr int64
	Xid  types.XidT
	// Err is nil for a candidate that parsed as a valid superblock and
	// failed only because a later candidate had a greater transaction id;
	// it is non-nil for a block that isn't a usable superblock at all
	// (a checkpoint-map block, a truncated read, a bad checksum).
	Err    error
	Chosen bool
}

// Diagnose re-walks the same descriptor area Locate does, but instead of
// returning only the winning superblock it reports every candidate block
// probed and why each one was or wasn't usable. It never fails outright
// merely because some candidates are unusable; it only fails if the
// descriptor area itself can't be read.
func Diagnose(reader *objects.Reader, blockZeroAddr int64) ([]Candidate, error) {
	blockZero, addr, err := readSuperblock(reader, blockZeroAddr, 0)
	if err != nil {
		return nil, apfserr.WrapErr(apfserr.ErrNoValidCheckpoint, err, "reading block zero superblock")
	}

	ranges, err := descriptorRanges(reader, blockZero)
	if err != nil {
		return nil, err
	}

	candidates := []Candidate{{Addr: addr, Xid: blockZero.NxO.OXid}}
	bestIdx := 0
	bestXid := blockZero.NxO.OXid

	for _, rng := range ranges {
		for i := uint64(0); i < rng.count; i++ {
			candAddr := rng.start + int64(i)
			if candAddr == addr {
				continue
			}
			sb, _, err := readSuperblock(reader, candAddr, 0)
			if err != nil {
				candidates = append(candidates, Candidate{Addr: candAddr, Err: err})
				continue
			}
			candidates = append(candidates, Candidate{Addr: candAddr, Xid: sb.NxO.OXid})
			if sb.NxO.OXid > bestXid {
				bestIdx = len(candidates) - 1
				bestXid = sb.NxO.OXid
			}
		}
	}
	candidates[bestIdx].Chosen = true
	return candidates, nil
}

func readSuperblock(reader *objects.Reader, addr int64, maxXid types.XidT) (types.NxSuperblockT, int64, error) {
	_, raw, err := reader.ReadBlock(addr, objects.ReadOptions{
		MaxXid:   maxXid,
		WantType: types.ObjectTypeNxSuperblock,
	})
	if err != nil {
		return types.NxSuperblockT{}, addr, err
	}
	sb, err := parseSuperblock(raw)
	if err != nil {
		return types.NxSuperblockT{}, addr, err
	}
	if err := validateSuperblock(sb); err != nil {
		return types.NxSuperblockT{}, addr, err
	}
	return sb, addr, nil
}

func validateSuperblock(sb types.NxSuperblockT) error {
	if sb.NxMagic != types.NxMagicValue {
		return apfserr.Wrap(apfserr.ErrUnexpectedType, "bad nx_magic %#x", sb.NxMagic)
	}
	if sb.NxBlockSize < types.NxMinimumBlockSize || sb.NxBlockSize > types.NxMaximumBlockSize {
		return apfserr.Wrap(apfserr.ErrNodeCorrupt, "implausible block size %d", sb.NxBlockSize)
	}
	if sb.NxOmapOid == 0 {
		return apfserr.Wrap(apfserr.ErrNodeCorrupt, "container has no object map")
	}
	return nil
}

func parseSuperblock(raw []byte) (types.NxSuperblockT, error) {
	var sb types.NxSuperblockT
	const minSize = 184 + types.NxMaxFileSystemsConst*8
	if len(raw) < minSize {
		return sb, apfserr.Wrap(apfserr.ErrTruncatedInput, "container superblock needs %d bytes, got %d", minSize, len(raw))
	}

	hdr, err := objects.ParseHeader(raw)
	if err != nil {
		return sb, err
	}
	sb.NxO = hdr

	le := binary.LittleEndian
	sb.NxMagic = le.Uint32(raw[32:36])
	sb.NxBlockSize = le.Uint32(raw[36:40])
	sb.NxBlockCount = le.Uint64(raw[40:48])
	sb.NxFeatures = le.Uint64(raw[48:56])
	sb.NxReadonlyCompatibleFeatures = le.Uint64(raw[56:64])
	sb.NxIncompatibleFeatures = le.Uint64(raw[64:72])
	copy(sb.NxUuid[:], raw[72:88])
	sb.NxNextOid = types.OidT(le.Uint64(raw[88:96]))
	sb.NxNextXid = types.XidT(le.Uint64(raw[96:104]))
	sb.NxXpDescBlocks = le.Uint32(raw[104:108])
	sb.NxXpDataBlocks = le.Uint32(raw[108:112])
	sb.NxXpDescBase = types.Paddr(le.Uint64(raw[112:120]))
	sb.NxXpDataBase = types.Paddr(le.Uint64(raw[120:128]))
	sb.NxXpDescNext = le.Uint32(raw[128:132])
	sb.NxXpDataNext = le.Uint32(raw[132:136])
	sb.NxXpDescIndex = le.Uint32(raw[136:140])
	sb.NxXpDescLen = le.Uint32(raw[140:144])
	sb.NxXpDataIndex = le.Uint32(raw[144:148])
	sb.NxXpDataLen = le.Uint32(raw[148:152])
	sb.NxSpacemanOid = types.OidT(le.Uint64(raw[152:160]))
	sb.NxOmapOid = types.OidT(le.Uint64(raw[160:168]))
	sb.NxReaperOid = types.OidT(le.Uint64(raw[168:176]))
	sb.NxTestType = le.Uint32(raw[176:180])
	sb.NxMaxFileSystems = le.Uint32(raw[180:184])
	for i := 0; i < types.NxMaxFileSystemsConst; i++ {
		off := 184 + i*8
		sb.NxFsOid[i] = types.OidT(le.Uint64(raw[off : off+8]))
	}

	// The fields beyond nx_fs_oid (counters, fusion bookkeeping, the
	// container keybag location) aren't needed to locate a checkpoint, so
	// they're parsed on a best-effort basis: a superblock from a container
	// too old or too small to carry them still mounts, it just reports
	// zero counters and a zero keylocker.
	countersEnd := 184 + types.NxMaxFileSystemsConst*8 + types.NxNumCounters*8
	if len(raw) >= countersEnd {
		off := 184 + types.NxMaxFileSystemsConst*8
		for i := 0; i < types.NxNumCounters; i++ {
			sb.NxCounters[i] = le.Uint64(raw[off+i*8 : off+i*8+8])
		}
	}

	keylockerEnd := countersEnd + 16 + 8 + 8 + 8 + 16 + 16
	if len(raw) >= keylockerEnd {
		off := countersEnd + 16 + 8 + 8 + 8 + 16
		sb.NxKeylocker.PrStartPaddr = types.Paddr(le.Uint64(raw[off : off+8]))
		sb.NxKeylocker.PrBlockCount = le.Uint64(raw[off+8 : off+16])
	}
	return sb, nil
}

type blockRange struct {
	start int64
	count uint64
}

// descriptorRanges resolves nx_xp_desc_base into the set of physical block
// ranges making up the checkpoint descriptor area: a single contiguous run
// in the common case, or a set of ranges read from an indirection B-tree
// when the container's free space was too fragmented to lay it out
// contiguously.
func descriptorRanges(reader *objects.Reader, sb types.NxSuperblockT) ([]blockRange, error) {
	descBaseRaw := uint64(sb.NxXpDescBase)
	if descBaseRaw&descBaseMsb == 0 {
		count := sb.NxXpDescBlocks &^ 0x80000000
		return []blockRange{{start: int64(descBaseRaw), count: uint64(count)}}, nil
	}

	rootAddr := int64(descBaseRaw &^ descBaseMsb)
	tree, err := btree.Open(reader, rootAddr, btree.IdentityLocator, 0)
	if err != nil {
		return nil, apfserr.WrapErr(apfserr.ErrNoValidCheckpoint, err, "opening non-contiguous descriptor area b-tree")
	}

	var ranges []blockRange
	err = tree.Walk(rootAddr, nil, nil, func(key, value []byte) (bool, error) {
		if len(value) < 16 {
			return false, apfserr.Wrap(apfserr.ErrNodeCorrupt, "descriptor area prange value too short: %d bytes", len(value))
		}
		start := int64(binary.LittleEndian.Uint64(value[0:8]))
		count := binary.LittleEndian.Uint64(value[8:16])
		ranges = append(ranges, blockRange{start: start, count: count})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return ranges, nil
}
