package deflate

import (
	"encoding/binary"
	"hash/adler32"

	"github.com/apfscore/apfsro/internal/apfserr"
)

// zlib header/trailer sizes. Reference: RFC 1950 sections 2.1-2.2.
const (
	zlibHeaderSize  = 2
	zlibTrailerSize = 4
)

// DecompressZlib inflates a zlib-wrapped (RFC 1950) DEFLATE stream: a 2-byte
// CMF/FLG header, the raw DEFLATE payload, and a 4-byte big-endian Adler-32
// trailer over the decompressed output. The compression method/window-size
// and trailer checksum are the only parts this format adds around the
// DEFLATE bitstream decoded by Decompress.
func DecompressZlib(compressed []byte, maxOutput int) ([]byte, error) {
	if len(compressed) < zlibHeaderSize+zlibTrailerSize {
		return nil, apfserr.Wrap(apfserr.ErrTruncatedInput, "zlib stream too short: %d bytes", len(compressed))
	}
	cmf := compressed[0]
	flg := compressed[1]
	if cmf&0x0F != 8 {
		return nil, apfserr.Wrap(apfserr.ErrUnsupportedCompression, "zlib compression method %d is not DEFLATE", cmf&0x0F)
	}
	if (uint16(cmf)<<8|uint16(flg))%31 != 0 {
		return nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "zlib header checksum failed")
	}
	if flg&0x20 != 0 {
		return nil, apfserr.Wrap(apfserr.ErrUnsupportedFeature, "zlib preset dictionary is not supported")
	}

	payload := compressed[zlibHeaderSize : len(compressed)-zlibTrailerSize]
	out, err := Decompress(payload, maxOutput)
	if err != nil {
		return nil, err
	}

	wantAdler := binary.BigEndian.Uint32(compressed[len(compressed)-zlibTrailerSize:])
	gotAdler := adler32.Checksum(out)
	if wantAdler != gotAdler {
		return nil, apfserr.Wrap(apfserr.ErrChecksumMismatch, "zlib adler-32 mismatch: want %#x got %#x", wantAdler, gotAdler)
	}
	return out, nil
}
