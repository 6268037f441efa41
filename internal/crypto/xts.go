// Package crypto implements the cryptographic primitives needed to read an
// encrypted volume: AES-XTS sector decryption, RFC 3394 key unwrapping, and
// PBKDF2 passphrase-to-KEK derivation. There is no encryption path — this
// package only ever needs to recover plaintext that Apple's implementation
// already wrote.
package crypto

import (
	"crypto/aes"
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
)

// SectorSize is the AES-XTS sector granularity APFS encrypts file content
// in, independent of the container's logical block size.
const SectorSize = 512

// galoisMultiplyByAlpha advances a 16-byte XTS tweak to the next sector by
// multiplying it by the primitive element alpha in GF(2^128), per IEEE Std
// 1619-2007. The field's reduction polynomial is x^128+x^7+x^2+x+1, which in
// this little-endian bit ordering reduces to XORing 0x87 into the low byte
// on carry-out.
func galoisMultiplyByAlpha(x []byte) {
	carry := x[len(x)-1]&0x80 != 0
	for i := len(x) - 1; i > 0; i-- {
		x[i] = (x[i] << 1) | (x[i-1] >> 7)
	}
	x[0] <<= 1
	if carry {
		x[0] ^= 0x87
	}
}

// DecryptXTS decrypts one or more contiguous 512-byte sectors in place,
// starting at initialSector. key is the 32-byte AES-XTS-128 key: the first
// 16 bytes encrypt sector data, the second 16 bytes encrypt the tweak. APFS
// does not pad sector content the way a generic XTS implementation might;
// ciphertext must be an exact multiple of SectorSize.
func DecryptXTS(ciphertext []byte, key []byte, initialSector uint64) ([]byte, error) {
	if len(key) != 32 {
		return nil, apfserr.Wrap(apfserr.ErrInvalidArgument, "aes-xts key must be 32 bytes, got %d", len(key))
	}
	if len(ciphertext)%SectorSize != 0 || len(ciphertext) == 0 {
		return nil, apfserr.Wrap(apfserr.ErrInvalidArgument, "aes-xts input must be a nonzero multiple of %d bytes", SectorSize)
	}

	dataCipher, err := aes.NewCipher(key[:16])
	if err != nil {
		return nil, apfserr.WrapErr(apfserr.ErrInvalidArgument, err, "aes-xts data cipher")
	}
	tweakCipher, err := aes.NewCipher(key[16:])
	if err != nil {
		return nil, apfserr.WrapErr(apfserr.ErrInvalidArgument, err, "aes-xts tweak cipher")
	}

	plaintext := make([]byte, len(ciphertext))
	sector := initialSector
	for off := 0; off < len(ciphertext); off += SectorSize {
		tweak := make([]byte, aes.BlockSize)
		binary.LittleEndian.PutUint64(tweak, sector)
		tweakCipher.Encrypt(tweak, tweak)

		decryptSectorXTS(dataCipher, plaintext[off:off+SectorSize], ciphertext[off:off+SectorSize], tweak)
		sector++
	}
	return plaintext, nil
}

// decryptSectorXTS applies ciphertext-stealing-free XTS to a single
// block-size-aligned sector: XOR tweak, decrypt, XOR tweak, block by block,
// advancing the tweak by alpha after every 16-byte block within the sector.
func decryptSectorXTS(dataCipher interface{ Decrypt(dst, src []byte) }, dst, src []byte, tweak []byte) {
	block := make([]byte, aes.BlockSize)
	for off := 0; off < len(src); off += aes.BlockSize {
		for i := 0; i < aes.BlockSize; i++ {
			block[i] = src[off+i] ^ tweak[i]
		}
		dataCipher.Decrypt(block, block)
		for i := 0; i < aes.BlockSize; i++ {
			dst[off+i] = block[i] ^ tweak[i]
		}
		galoisMultiplyByAlpha(tweak)
	}
}
