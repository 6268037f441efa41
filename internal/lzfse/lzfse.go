package lzfse

import (
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
)

// Block magic numbers, read as little-endian uint32 from their 4-byte ASCII
// tags ("bvx-", "bvxn", "bvx1", "bvx2", "bvx$").
const (
	magicUncompressed = 0x2d787662
	magicLZVN         = 0x6e787662
	magicCompressedV1 = 0x31787662
	magicCompressedV2 = 0x32787662
	magicEndOfStream  = 0x24787662
)

// Decompress decodes one or more concatenated LZFSE blocks into exactly
// rawSize bytes. An LZFSE stream is a sequence of self-describing blocks
// terminated by an end-of-stream marker; this project decodes the
// uncompressed and LZVN-embedded block kinds in full (see DecodeLZVN for
// that format's scope) and reports the entropy-coded v1/v2 block kinds as
// unsupported rather than guessing at their bit-packed frequency tables.
func Decompress(compressed []byte, rawSize int) ([]byte, error) {
	out := make([]byte, 0, rawSize)
	pos := 0
	for pos < len(compressed) {
		if pos+4 > len(compressed) {
			return nil, apfserr.Wrap(apfserr.ErrTruncatedInput, "lzfse block header truncated at offset %d", pos)
		}
		magic := binary.LittleEndian.Uint32(compressed[pos : pos+4])

		switch magic {
		case magicEndOfStream:
			if len(out) != rawSize {
				return nil, apfserr.Wrap(apfserr.ErrCorruptCompressedStream, "lzfse stream produced %d bytes, expected %d", len(out), rawSize)
			}
			return out, nil

		case magicUncompressed:
			if pos+8 > len(compressed) {
				return nil, apfserr.Wrap(apfserr.ErrTruncatedInput, "lzfse uncompressed block header truncated")
			}
			n := int(binary.LittleEndian.Uint32(compressed[pos+4 : pos+8]))
			pos += 8
			if pos+n > len(compressed) {
				return nil, apfserr.Wrap(apfserr.ErrTruncatedInput, "lzfse uncompressed block body truncated")
			}
			out = append(out, compressed[pos:pos+n]...)
			pos += n

		case magicLZVN:
			if pos+12 > len(compressed) {
				return nil, apfserr.Wrap(apfserr.ErrTruncatedInput, "lzfse lzvn block header truncated")
			}
			nRaw := int(binary.LittleEndian.Uint32(compressed[pos+4 : pos+8]))
			nPayload := int(binary.LittleEndian.Uint32(compressed[pos+8 : pos+12]))
			pos += 12
			if pos+nPayload > len(compressed) {
				return nil, apfserr.Wrap(apfserr.ErrTruncatedInput, "lzfse lzvn block payload truncated")
			}
			decoded, err := DecodeLZVN(compressed[pos:pos+nPayload], nRaw)
			if err != nil {
				return nil, err
			}
			out = append(out, decoded...)
			pos += nPayload

		case magicCompressedV1, magicCompressedV2:
			return nil, apfserr.Wrap(apfserr.ErrUnsupportedCompression,
				"lzfse entropy-coded block (magic 0x%08x) at offset %d is not supported", magic, pos)

		default:
			return nil, apfserr.Wrap(apfserr.ErrCorruptCompressedStream, "unrecognized lzfse block magic 0x%08x at offset %d", magic, pos)
		}
	}
	if len(out) != rawSize {
		return nil, apfserr.Wrap(apfserr.ErrCorruptCompressedStream, "lzfse stream ended without end-of-stream marker")
	}
	return out, nil
}
