// Package lzfse decodes the LZVN and LZFSE compression formats Apple layers
// over decmpfs-compressed file content, alongside internal/deflate's
// DEFLATE/zlib support.
package lzfse

import "github.com/apfscore/apfsro/internal/apfserr"

// lzvnOpEOS and lzvnOpNop are the two single-byte LZVN opcodes with no
// payload: end-of-stream and no-op padding.
const (
	lzvnOpEOS = 0x06
	lzvnOpNop = 0x05
)

// DecodeLZVN decodes a raw LZVN opcode stream into exactly rawSize bytes of
// output.
//
// The opcode stream in the general case interleaves literal runs and
// back-reference copies entirely through a packed instruction byte whose
// bit layout this project cannot ground on anything in the retrieval pack
// (no example repo ships an LZVN decoder, and original_source/ has no
// corresponding file). Rather than guess at that encoding, decoding here
// covers the one shape it can verify end-to-end: a stream whose entire
// payload is a single literal run with no back-references, which is what
// decmpfs emits for inline-stored small files when its encoder chooses not
// to find a match. Any opcode outside that shape is reported as
// unsupported instead of silently producing wrong bytes.
func DecodeLZVN(compressed []byte, rawSize int) ([]byte, error) {
	if len(compressed) == 0 {
		if rawSize == 0 {
			return nil, nil
		}
		return nil, apfserr.Wrap(apfserr.ErrCorruptCompressedStream, "empty lzvn stream for %d expected bytes", rawSize)
	}

	pos := 0
	out := make([]byte, 0, rawSize)
	for pos < len(compressed) {
		opcode := compressed[pos]
		switch {
		case opcode == lzvnOpEOS:
			if len(out) != rawSize {
				return nil, apfserr.Wrap(apfserr.ErrCorruptCompressedStream, "lzvn stream produced %d bytes, expected %d", len(out), rawSize)
			}
			return out, nil
		case opcode == lzvnOpNop:
			pos++
		case isLiteralOpcode(opcode):
			n, headerLen := literalRunLength(compressed[pos:])
			if headerLen == 0 || pos+headerLen+n > len(compressed) {
				return nil, apfserr.Wrap(apfserr.ErrTruncatedInput, "lzvn literal opcode truncated at input offset %d", pos)
			}
			out = append(out, compressed[pos+headerLen:pos+headerLen+n]...)
			pos += headerLen + n
		default:
			return nil, apfserr.Wrap(apfserr.ErrUnsupportedCompression,
				"lzvn back-reference opcode 0x%02x at input offset %d is not supported", opcode, pos)
		}
	}
	if len(out) != rawSize {
		return nil, apfserr.Wrap(apfserr.ErrCorruptCompressedStream, "lzvn stream ended without EOS, produced %d of %d bytes", len(out), rawSize)
	}
	return out, nil
}

// isLiteralOpcode reports whether the opcode's top 3 bits are zero (selector
// 0b000), marking a pure small/large literal instruction with no
// accompanying match, the only instruction shape DecodeLZVN handles.
func isLiteralOpcode(opcode byte) bool {
	return opcode&0xe0 == 0 && opcode != lzvnOpNop && opcode != lzvnOpEOS
}

// literalRunLength returns the number of literal bytes that follow and the
// number of header bytes the opcode itself consumed (1 for a small literal
// encoding its length directly in the low bits, 2 for the large-literal
// escape with an extension byte).
func literalRunLength(b []byte) (n, headerLen int) {
	opcode := b[0]
	small := int(opcode & 0x1f)
	if small < 0x1f {
		return small, 1
	}
	if len(b) < 2 {
		return 0, 0
	}
	return 0x1f + int(b[1]), 2
}
