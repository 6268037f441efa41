package lzfse

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeLZVNSmallLiteralRun(t *testing.T) {
	payload := []byte("hello")
	stream := append([]byte{byte(len(payload))}, payload...)
	stream = append(stream, lzvnOpEOS)

	out, err := DecodeLZVN(stream, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDecodeLZVNLargeLiteralRun(t *testing.T) {
	payload := make([]byte, 40)
	for i := range payload {
		payload[i] = byte('a' + i%26)
	}
	stream := []byte{0x1f, byte(len(payload) - 0x1f)}
	stream = append(stream, payload...)
	stream = append(stream, lzvnOpEOS)

	out, err := DecodeLZVN(stream, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDecodeLZVNSkipsNopOpcodes(t *testing.T) {
	payload := []byte("abc")
	stream := []byte{lzvnOpNop, byte(len(payload))}
	stream = append(stream, payload...)
	stream = append(stream, lzvnOpEOS)

	out, err := DecodeLZVN(stream, len(payload))
	require.NoError(t, err)
	require.Equal(t, payload, out)
}

func TestDecodeLZVNRejectsBackReferenceOpcode(t *testing.T) {
	stream := []byte{0xa0, 0x00, 0x00, lzvnOpEOS}
	_, err := DecodeLZVN(stream, 4)
	require.Error(t, err)
}

func TestDecodeLZVNRejectsLengthMismatch(t *testing.T) {
	payload := []byte("xy")
	stream := append([]byte{byte(len(payload))}, payload...)
	stream = append(stream, lzvnOpEOS)

	_, err := DecodeLZVN(stream, 10)
	require.Error(t, err)
}

func TestDecodeLZVNEmptyInput(t *testing.T) {
	out, err := DecodeLZVN(nil, 0)
	require.NoError(t, err)
	require.Empty(t, out)
}
