package crypto

import (
	"crypto/aes"
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
)

// keyWrapIV is the default integrity-check value from RFC 3394 section 2.2.3.1.
var keyWrapIV = [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}

// UnwrapKey reverses RFC 3394 AES key wrapping, recovering the key that was
// wrapped under kek. This is how a key-encryption key (KEK) recovered from a
// keybag entry is used to unwrap the volume encryption key (VEK).
func UnwrapKey(wrapped, kek []byte) ([]byte, error) {
	switch len(kek) {
	case 16, 24, 32:
	default:
		return nil, apfserr.Wrap(apfserr.ErrInvalidArgument, "kek must be 16, 24 or 32 bytes, got %d", len(kek))
	}
	if len(wrapped) < 24 || len(wrapped)%8 != 0 {
		return nil, apfserr.Wrap(apfserr.ErrInvalidArgument, "wrapped key must be at least 24 bytes and a multiple of 8, got %d", len(wrapped))
	}

	block, err := aes.NewCipher(kek)
	if err != nil {
		return nil, apfserr.WrapErr(apfserr.ErrInvalidArgument, err, "kek cipher")
	}

	n := len(wrapped)/8 - 1
	a := make([]byte, 8)
	copy(a, wrapped[:8])
	r := make([][]byte, n)
	for i := 0; i < n; i++ {
		r[i] = append([]byte(nil), wrapped[8+i*8:8+(i+1)*8]...)
	}

	buf := make([]byte, 16)
	for j := 5; j >= 0; j-- {
		for i := n - 1; i >= 0; i-- {
			t := uint64(n*j + i + 1)
			xorCounter(a, t)
			copy(buf[:8], a)
			copy(buf[8:], r[i])
			block.Decrypt(buf, buf)
			copy(a, buf[:8])
			copy(r[i], buf[8:])
		}
	}

	for i := range a {
		if a[i] != keyWrapIV[i] {
			return nil, apfserr.Wrap(apfserr.ErrBadPassphrase, "key unwrap integrity check failed")
		}
	}

	unwrapped := make([]byte, 0, 8*n)
	for _, ri := range r {
		unwrapped = append(unwrapped, ri...)
	}
	return unwrapped, nil
}

func xorCounter(a []byte, t uint64) {
	var tb [8]byte
	binary.BigEndian.PutUint64(tb[:], t)
	for i := range a {
		a[i] ^= tb[i]
	}
}
