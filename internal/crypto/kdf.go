package crypto

import (
	"crypto/sha256"

	"github.com/apfscore/apfsro/internal/apfserr"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2Iterations is the iteration count used to turn a user passphrase
// into a key-encryption key candidate.
const PBKDF2Iterations = 41000

// KEKSize is the length, in bytes, of a derived key-encryption key.
const KEKSize = 32

// DeriveKEK derives a candidate key-encryption key from a passphrase and
// the salt stored alongside the wrapped KEK in the volume's keybag, using
// PBKDF2-HMAC-SHA256.
func DeriveKEK(passphrase string, salt []byte) ([]byte, error) {
	if passphrase == "" {
		return nil, apfserr.Wrap(apfserr.ErrInvalidArgument, "passphrase must not be empty")
	}
	if len(salt) == 0 {
		return nil, apfserr.Wrap(apfserr.ErrInvalidArgument, "salt must not be empty")
	}
	return pbkdf2.Key([]byte(passphrase), salt, PBKDF2Iterations, KEKSize, sha256.New), nil
}
