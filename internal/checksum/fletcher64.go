// Package checksum implements the integrity primitives used to validate
// on-disk objects: the Fletcher-64 checksum carried in every object header,
// and the Adler-32 trailer used by the zlib wrapper around DEFLATE streams.
package checksum

import "encoding/binary"

// modulus is 2^32 - 1, the modulus Fletcher-64 reduces its two running sums
// under. Apple's implementation operates on the payload as a stream of
// little-endian 32-bit words, not 64-bit words — a block's checksum field is
// zeroed before computing over the whole block.
const modulus = 0xFFFFFFFF

// Fletcher64 computes the Apple-flavored Fletcher-64 checksum over data,
// which must have a length that is a multiple of 4 bytes. It accumulates two
// running sums mod 2^32-1 over successive little-endian uint32 words, then
// derives a pair of complement words that become the stored checksum value.
func Fletcher64(data []byte) uint64 {
	var sum1, sum2 uint64
	n := len(data) / 4
	for i := 0; i < n; i++ {
		w := uint64(binary.LittleEndian.Uint32(data[i*4 : i*4+4]))
		sum1 = (sum1 + w) % modulus
		sum2 = (sum2 + sum1) % modulus
	}
	ckLow := modulus - (sum1+sum2)%modulus
	ckHigh := modulus - (sum1+ckLow)%modulus
	return ckHigh<<32 | ckLow
}

// FletcherChecksumSize is the on-disk size, in bytes, of a Fletcher-64
// checksum field.
const FletcherChecksumSize = 8

// ComputeObjectChecksum returns the 8-byte little-endian checksum field for
// an object whose raw bytes are given in block, which must include the
// object header with its checksum field present (any value; it is ignored).
// The input length must be a multiple of 4 and at least FletcherChecksumSize.
func ComputeObjectChecksum(block []byte) ([FletcherChecksumSize]byte, bool) {
	var out [FletcherChecksumSize]byte
	if len(block) < FletcherChecksumSize || len(block)%4 != 0 {
		return out, false
	}
	scratch := make([]byte, len(block))
	copy(scratch, block)
	for i := 0; i < FletcherChecksumSize; i++ {
		scratch[i] = 0
	}
	binary.LittleEndian.PutUint64(out[:], Fletcher64(scratch))
	return out, true
}

// VerifyObjectChecksum reports whether block's stored checksum field
// (its first 8 bytes) matches the Fletcher-64 checksum computed over the
// rest of the object with that field zeroed.
func VerifyObjectChecksum(block []byte) bool {
	if len(block) < FletcherChecksumSize || len(block)%4 != 0 {
		return false
	}
	want := block[:FletcherChecksumSize]
	got, ok := ComputeObjectChecksum(block)
	if !ok {
		return false
	}
	for i := range want {
		if want[i] != got[i] {
			return false
		}
	}
	return true
}
