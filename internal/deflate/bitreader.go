// Package deflate implements a self-contained RFC 1951 DEFLATE decoder and
// the RFC 1950 zlib wrapper around it, the way compressed file content and
// resource-fork data streams are stored on an APFS volume. It intentionally
// does not delegate to compress/flate: the format calls for decoding exactly
// the bitstream two other implementations in this family hand-write
// themselves, keyed off a BitReader rather than an io.Reader adapter.
package deflate

import "github.com/apfscore/apfsro/internal/apfserr"

// BitReader pulls bits least-significant-bit first out of a byte slice, the
// order DEFLATE's bitstream is packed in.
type BitReader struct {
	data   []byte
	bitPos int // absolute bit offset from the start of data
}

// NewBitReader wraps data for LSB-first bit extraction.
func NewBitReader(data []byte) *BitReader {
	return &BitReader{data: data}
}

// ReadBits reads n (0..32) bits and returns them as the low bits of a
// uint32, least-significant bit first, matching DEFLATE's packing.
func (r *BitReader) ReadBits(n uint) (uint32, error) {
	var value uint32
	for i := uint(0); i < n; i++ {
		bytePos := r.bitPos >> 3
		if bytePos >= len(r.data) {
			return 0, apfserr.Wrap(apfserr.ErrTruncatedInput, "deflate bitstream exhausted after %d bits", r.bitPos)
		}
		bit := (r.data[bytePos] >> uint(r.bitPos&7)) & 1
		value |= uint32(bit) << i
		r.bitPos++
	}
	return value, nil
}

// ReadBit reads a single bit.
func (r *BitReader) ReadBit() (uint32, error) { return r.ReadBits(1) }

// AlignToByte discards any partial byte, used before a stored (type 0)
// block's length header.
func (r *BitReader) AlignToByte() {
	if r.bitPos&7 != 0 {
		r.bitPos += 8 - (r.bitPos & 7)
	}
}

// ReadByte reads one full byte after a call to AlignToByte.
func (r *BitReader) ReadByte() (byte, error) {
	bytePos := r.bitPos >> 3
	if bytePos >= len(r.data) {
		return 0, apfserr.Wrap(apfserr.ErrTruncatedInput, "deflate bitstream exhausted reading aligned byte")
	}
	r.bitPos += 8
	return r.data[bytePos], nil
}

// BytePos returns the current read position rounded up to a byte offset,
// used once the stream is byte-aligned (e.g. to find the zlib trailer).
func (r *BitReader) BytePos() int { return (r.bitPos + 7) >> 3 }
