// Package objects implements the generic object-header layer shared by
// every physical structure in the container: reading a block, verifying its
// Fletcher-64 checksum, and enforcing the transaction-visibility rule that
// an object's xid must not be newer than the checkpoint being read through.
package objects

import (
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/blockio"
	"github.com/apfscore/apfsro/internal/checksum"
	"github.com/apfscore/apfsro/internal/types"
)

// Reader reads and validates physical objects through a BlockReader.
type Reader struct {
	blocks *blockio.BlockReader
}

// NewReader constructs an object Reader over blocks.
func NewReader(blocks *blockio.BlockReader) *Reader { return &Reader{blocks: blocks} }

// ParseHeader decodes the 32-byte obj_phys_t at the start of raw.
func ParseHeader(raw []byte) (types.ObjPhysT, error) {
	var hdr types.ObjPhysT
	if len(raw) < types.ObjPhysSize {
		return hdr, apfserr.Wrap(apfserr.ErrTruncatedInput, "object header needs %d bytes, got %d", types.ObjPhysSize, len(raw))
	}
	copy(hdr.OChecksum[:], raw[0:8])
	hdr.OOid = types.OidT(binary.LittleEndian.Uint64(raw[8:16]))
	hdr.OXid = types.XidT(binary.LittleEndian.Uint64(raw[16:24]))
	hdr.OType = binary.LittleEndian.Uint32(raw[24:28])
	hdr.OSubtype = binary.LittleEndian.Uint32(raw[28:32])
	return hdr, nil
}

// ReadOptions constrain what ReadObject will accept.
type ReadOptions struct {
	// MaxXid is the newest transaction id visible through the mounted
	// checkpoint; objects with a newer xid are rejected. Zero disables
	// the check (used while locating checkpoints themselves).
	MaxXid types.XidT
	// WantType, if nonzero, must match the object's base type.
	WantType uint32
	// WantSubtype, if nonzero, must match the object's subtype.
	WantSubtype uint32
	// SkipChecksum disables Fletcher-64 verification. ObjNoheader objects
	// are never verified whether or not it is set; the container opener
	// sets it when probing block zero before the block size is known.
	SkipChecksum bool
}

// ReadBlock reads one logical block at addr, verifies its object header,
// and returns both the parsed header and the full raw block (including the
// header) for the caller to decode further.
func (r *Reader) ReadBlock(addr int64, opts ReadOptions) (types.ObjPhysT, []byte, error) {
	raw, err := r.blocks.ReadBlock(addr)
	if err != nil {
		return types.ObjPhysT{}, nil, err
	}
	return r.parse(raw, addr, opts)
}

// ReadBlocks reads count consecutive blocks starting at addr, verifying the
// object header at the start of the combined run (used for objects that
// span more than one block, such as large checkpoint-mapping lists).
func (r *Reader) ReadBlocks(addr int64, count uint32, opts ReadOptions) (types.ObjPhysT, []byte, error) {
	raw, err := r.blocks.ReadBlocks(addr, count)
	if err != nil {
		return types.ObjPhysT{}, nil, err
	}
	return r.parse(raw, addr, opts)
}

func (r *Reader) parse(raw []byte, addr int64, opts ReadOptions) (types.ObjPhysT, []byte, error) {
	hdr, err := ParseHeader(raw)
	if err != nil {
		return hdr, nil, apfserr.WrapErr(apfserr.ErrNodeCorrupt, err, "paddr=%d", addr)
	}
	if !opts.SkipChecksum && hdr.OType&types.ObjNoheader == 0 {
		if !checksum.VerifyObjectChecksum(raw) {
			return hdr, nil, apfserr.AtPaddr(apfserr.ErrChecksumMismatch, addr, "oid=%#x xid=%d", hdr.OOid, hdr.OXid)
		}
	}
	if opts.MaxXid != 0 && hdr.OXid > opts.MaxXid {
		return hdr, nil, apfserr.AtPaddr(apfserr.ErrFutureXid, addr, "object xid %d exceeds mounted xid %d", hdr.OXid, opts.MaxXid)
	}
	if opts.WantType != 0 && types.BaseType(hdr.OType) != opts.WantType {
		return hdr, nil, apfserr.AtPaddr(apfserr.ErrUnexpectedType, addr, "want type %#x got %#x", opts.WantType, types.BaseType(hdr.OType))
	}
	if opts.WantSubtype != 0 && hdr.OSubtype != opts.WantSubtype {
		return hdr, nil, apfserr.AtPaddr(apfserr.ErrUnexpectedType, addr, "want subtype %#x got %#x", opts.WantSubtype, hdr.OSubtype)
	}
	return hdr, raw, nil
}

// BlockReader exposes the underlying block reader for callers that need raw
// access (e.g. the checkpoint scanner probing candidate descriptor blocks).
func (r *Reader) BlockReader() *blockio.BlockReader { return r.blocks }
