package lzfse

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}

func TestDecompressUncompressedBlock(t *testing.T) {
	payload := []byte("apfs read-only interpreter")
	var stream []byte
	stream = appendUint32(stream, magicUncompressed)
	stream = appendUint32(stream, uint32(len(payload)))
	stream = append(stream, payload...)
	stream = appendUint32(stream, magicEndOfStream)

	out, err := Decompress(stream, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDecompressEmbeddedLZVNBlock(t *testing.T) {
	payload := []byte("small file")
	lzvnPayload := append([]byte{byte(len(payload))}, payload...)
	lzvnPayload = append(lzvnPayload, lzvnOpEOS)

	var stream []byte
	stream = appendUint32(stream, magicLZVN)
	stream = appendUint32(stream, uint32(len(payload)))
	stream = appendUint32(stream, uint32(len(lzvnPayload)))
	stream = append(stream, lzvnPayload...)
	stream = appendUint32(stream, magicEndOfStream)

	out, err := Decompress(stream, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDecompressMultipleBlocksConcatenate(t *testing.T) {
	first := []byte("first-")
	second := []byte("second")

	var stream []byte
	stream = appendUint32(stream, magicUncompressed)
	stream = appendUint32(stream, uint32(len(first)))
	stream = append(stream, first...)
	stream = appendUint32(stream, magicUncompressed)
	stream = appendUint32(stream, uint32(len(second)))
	stream = append(stream, second...)
	stream = appendUint32(stream, magicEndOfStream)

	out, err := Decompress(stream, len(first)+len(second))
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, first...), second...), out)
}

func TestDecompressRejectsEntropyCodedBlock(t *testing.T) {
	var stream []byte
	stream = appendUint32(stream, magicCompressedV2)
	stream = append(stream, make([]byte, 16)...)

	_, err := Decompress(stream, 16)
	require.Error(t, err)
}

func TestDecompressRejectsUnknownMagic(t *testing.T) {
	var stream []byte
	stream = appendUint32(stream, 0xdeadbeef)

	_, err := Decompress(stream, 0)
	require.Error(t, err)
}
