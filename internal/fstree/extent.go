package fstree

import (
	"errors"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/btree"
	"github.com/apfscore/apfsro/internal/crypto"
	"github.com/apfscore/apfsro/internal/types"
)

// fileExtentComparator locates the extent record for objId whose logical
// address is the greatest one <= target, the record that covers target if
// any extent does.
func fileExtentComparator(objId uint64, target uint64) btree.Comparator {
	return func(key []byte) int {
		hdr, err := decodeHeader(key)
		if err != nil {
			return -1
		}
		if c := compareHeader(objId, types.JObjTypeFileExtent, hdr); c != 0 {
			return c
		}
		addr, err := decodeFileExtentLogicalAddr(key)
		if err != nil {
			return -1
		}
		switch {
		case addr < target:
			return -1
		case addr > target:
			return 1
		default:
			return 0
		}
	}
}

// fileExtentStrictlyAfter excludes the extent at or before afterAddr, for
// resuming a Walk immediately past an extent already handled separately.
func fileExtentStrictlyAfter(objId uint64, afterAddr uint64) btree.Comparator {
	return func(key []byte) int {
		hdr, err := decodeHeader(key)
		if err != nil {
			return 1
		}
		if c := compareHeader(objId, types.JObjTypeFileExtent, hdr); c != 0 {
			return c
		}
		addr, err := decodeFileExtentLogicalAddr(key)
		if err != nil {
			return 1
		}
		if addr <= afterAddr {
			return -1
		}
		return 1
	}
}

// ReadExtents assembles length bytes of a data stream's stored content
// starting at offset, decrypting each extent that carries a crypto id.
// Gaps between extents (sparse regions) read back as zero. It does not
// decompress — that is decmpfs's concern, layered over this by the caller
// when a file's primary data stream is transparently compressed.
func (t *Tree) ReadExtents(objId uint64, offset, length int64) ([]byte, error) {
	if length <= 0 {
		return nil, nil
	}
	out := make([]byte, 0, length)
	cursor := offset
	end := offset + length

	famLower, famUpper := familyBounds(objId, types.JObjTypeFileExtent)
	_ = famLower

	appendHole := func(n int64) {
		if n <= 0 {
			return
		}
		out = append(out, make([]byte, n)...)
		cursor += n
	}

	visit := func(key, value []byte) (bool, error) {
		addr, err := decodeFileExtentLogicalAddr(key)
		if err != nil {
			return false, err
		}
		val, err := decodeFileExtentVal(value)
		if err != nil {
			return false, err
		}
		extStart := int64(addr)
		extLen := int64(val.Len())
		extEnd := extStart + extLen

		if extEnd <= cursor {
			return true, nil
		}
		if extStart > cursor {
			hole := extStart - cursor
			if cursor+hole > end {
				hole = end - cursor
			}
			appendHole(hole)
			if cursor >= end {
				return false, nil
			}
		}

		withinStart := cursor - extStart
		withinLen := extLen - withinStart
		if cursor+withinLen > end {
			withinLen = end - cursor
		}
		if withinLen <= 0 {
			return cursor < end, nil
		}

		data, err := t.readOneExtent(val, extLen, withinStart, withinLen)
		if err != nil {
			return false, err
		}
		out = append(out, data...)
		cursor += withinLen
		return cursor < end, nil
	}

	key, value, err := t.tree.LookupFloor(t.rootAddr, fileExtentComparator(objId, uint64(offset)))
	if err == nil {
		if cont, verr := visit(key, value); verr != nil {
			return nil, verr
		} else if !cont {
			return out, nil
		}
		floorAddr, _ := decodeFileExtentLogicalAddr(key)
		if werr := t.tree.Walk(t.rootAddr, fileExtentStrictlyAfter(objId, floorAddr), famUpper, visit); werr != nil {
			return nil, werr
		}
	} else if !errors.Is(err, apfserr.ErrNotFound) {
		return nil, err
	} else {
		if werr := t.tree.Walk(t.rootAddr, famLower, famUpper, visit); werr != nil {
			return nil, werr
		}
	}

	if cursor < end {
		appendHole(end - cursor)
	}
	return out, nil
}

// readOneExtent reads the sub-range [within, within+length) of one physical
// extent, decrypting it first if it carries a crypto id and this tree was
// opened with the volume's unwrapped encryption key.
func (t *Tree) readOneExtent(val types.JFileExtentValT, extentLen, within, length int64) ([]byte, error) {
	if val.IsSparse() {
		return make([]byte, length), nil
	}

	blockSize := int64(t.blockSize)
	startBlock := val.PhysBlockNum + uint64(within)/uint64(blockSize)
	blockOffset := within % blockSize
	blocksNeeded := (blockOffset + length + blockSize - 1) / blockSize

	raw, err := t.objects.BlockReader().ReadBlocks(int64(startBlock), uint32(blocksNeeded))
	if err != nil {
		return nil, apfserr.WrapErr(apfserr.ErrShortRead, err, "reading file extent data at block %d", startBlock)
	}

	if val.CryptoId != 0 {
		raw, err = t.decryptExtent(raw, val, startBlock)
		if err != nil {
			return nil, err
		}
	}

	if blockOffset+length > int64(len(raw)) {
		return nil, apfserr.Wrap(apfserr.ErrCorruptFile, "file extent read past its decrypted block range")
	}
	return raw[blockOffset : blockOffset+length], nil
}

// decryptExtent resolves the per-file AES-XTS key for val's crypto id and
// decrypts raw in place. When crypto_id directly carries the XTS tweak
// (FextCryptoIdIsTweak), the volume encryption key is used with that tweak
// as the initial sector; otherwise crypto_id names a crypto_state record
// whose wrapped per-file key must be unwrapped with the volume key first.
func (t *Tree) decryptExtent(raw []byte, val types.JFileExtentValT, startBlock uint64) ([]byte, error) {
	if t.vek == nil {
		return nil, apfserr.Wrap(apfserr.ErrLocked, "extent at block %d is encrypted and no volume key is available", startBlock)
	}

	flags := uint32(val.LenAndFlags>>types.JFileExtentFlagShift) & 0xff
	if flags&uint32(types.FextCryptoIdIsTweak) != 0 {
		return crypto.DecryptXTS(raw, t.vek, val.CryptoId+(startBlock-val.PhysBlockNum)*uint64(t.blockSize)/crypto.SectorSize)
	}

	_, stateValue, err := t.tree.Lookup(t.rootAddr, exactRecordComparator(val.CryptoId, types.JObjTypeCryptoState))
	if err != nil {
		return nil, apfserr.AtOid(apfserr.ErrNotFound, val.CryptoId, "crypto state record for encrypted extent")
	}
	perFileKey, err := unwrapPerFileKey(stateValue, t.vek)
	if err != nil {
		return nil, err
	}
	return crypto.DecryptXTS(raw, perFileKey, startBlock*uint64(t.blockSize)/crypto.SectorSize)
}

// unwrapPerFileKey decodes a j_crypto_val_t's wrapped_crypto_state_t and
// unwraps its persistent key with the volume encryption key.
func unwrapPerFileKey(raw []byte, vek []byte) ([]byte, error) {
	const refcntSize = 4
	const wrappedHeaderSize = 2 + 2 + 4 + 4 + 4 + 2 + 2
	if len(raw) < refcntSize+wrappedHeaderSize {
		return nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "crypto state record shorter than its wrapped key header")
	}
	state := raw[refcntSize:]
	keyLen := int(leUint16(state[18:20]))
	if wrappedHeaderSize+keyLen > len(state) {
		return nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "crypto state wrapped key runs past record end")
	}
	wrapped := state[wrappedHeaderSize : wrappedHeaderSize+keyLen]
	return crypto.UnwrapKey(wrapped, vek)
}

func leUint16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
