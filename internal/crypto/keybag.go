package crypto

import (
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/types"
)

// ParseKeybag decodes a kb_locker_t (container or volume keybag) from raw
// block data. The caller is responsible for having already verified and
// stripped the surrounding obj_phys_t / decrypted the AES-CBC wrapper the
// keybag is stored under on disk.
func ParseKeybag(raw []byte) (types.KbLockerT, error) {
	var kb types.KbLockerT
	const headerSize = 16
	if len(raw) < headerSize {
		return kb, apfserr.Wrap(apfserr.ErrTruncatedInput, "keybag header needs %d bytes, got %d", headerSize, len(raw))
	}
	kb.KlVersion = binary.LittleEndian.Uint16(raw[0:2])
	kb.KlNkeys = binary.LittleEndian.Uint16(raw[2:4])
	kb.KlNbytes = binary.LittleEndian.Uint32(raw[4:8])
	copy(kb.Padding[:], raw[8:16])
	if kb.KlVersion != types.ApfsKeybagVersion {
		return kb, apfserr.Wrap(apfserr.ErrUnsupportedFeature, "keybag version %d is not supported", kb.KlVersion)
	}

	const entryHeaderSize = 24 // uuid(16) + tag(2) + keylen(2) + padding(4)
	pos := headerSize
	kb.KlEntries = make([]types.KeybagEntryT, 0, kb.KlNkeys)
	for i := uint16(0); i < kb.KlNkeys; i++ {
		if pos+entryHeaderSize > len(raw) {
			return kb, apfserr.Wrap(apfserr.ErrTruncatedInput, "keybag entry %d header truncated", i)
		}
		var e types.KeybagEntryT
		copy(e.KeUuid[:], raw[pos:pos+16])
		e.KeTag = binary.LittleEndian.Uint16(raw[pos+16 : pos+18])
		e.KeKeylen = binary.LittleEndian.Uint16(raw[pos+18 : pos+20])
		copy(e.Padding[:], raw[pos+20:pos+24])
		pos += entryHeaderSize

		dataLen := int(roundUp16(uint32(e.KeKeylen)))
		if pos+dataLen > len(raw) {
			return kb, apfserr.Wrap(apfserr.ErrTruncatedInput, "keybag entry %d data truncated", i)
		}
		e.KeKeydata = append([]byte(nil), raw[pos:pos+int(e.KeKeylen)]...)
		pos += dataLen
		kb.KlEntries = append(kb.KlEntries, e)
	}
	return kb, nil
}

// roundUp16 rounds n up to the next multiple of 16, the alignment each
// keybag entry's variable-length data is padded to.
func roundUp16(n uint32) uint32 { return (n + 15) &^ 15 }

// FindEntry returns the first keybag entry matching uuid and tag.
func FindEntry(kb types.KbLockerT, uuid types.UUID, tag types.KbTag) (types.KeybagEntryT, bool) {
	for _, e := range kb.KlEntries {
		if e.KeTag == uint16(tag) && e.KeUuid == uuid {
			return e, true
		}
	}
	return types.KeybagEntryT{}, false
}

// KekBlob is the key-encryption-key wrapping record stored as the key data
// of a KbTagVolumeUnlockRecords keybag entry: a PBKDF2 salt and iteration
// count, plus the KEK itself wrapped (RFC 3394) under a key derived from the
// user's passphrase.
type KekBlob struct {
	Version    uint16
	UUID       types.UUID
	Iterations uint32
	Salt       [16]byte
	WrappedKEK [40]byte
}

// ParseKekBlob decodes a KekBlob from a keybag entry's raw key data.
func ParseKekBlob(data []byte) (KekBlob, error) {
	var b KekBlob
	const size = 2 + 2 + 16 + 16 + 4 + 16 + 40
	if len(data) < size {
		return b, apfserr.Wrap(apfserr.ErrTruncatedInput, "kek blob needs %d bytes, got %d", size, len(data))
	}
	b.Version = binary.LittleEndian.Uint16(data[0:2])
	copy(b.UUID[:], data[4:20])
	b.Iterations = binary.LittleEndian.Uint32(data[36:40])
	copy(b.Salt[:], data[40:56])
	copy(b.WrappedKEK[:], data[56:96])
	return b, nil
}

// UnlockVEK derives the KEK for a KekBlob from passphrase, unwraps it, and
// uses the result to unwrap the wrapped volume encryption key recovered
// from the container keybag's KbTagVolumeKey entry.
func UnlockVEK(passphrase string, blob KekBlob, wrappedVEK []byte) ([]byte, error) {
	candidateKEK, err := DeriveKEK(passphrase, blob.Salt[:])
	if err != nil {
		return nil, err
	}
	kek, err := UnwrapKey(blob.WrappedKEK[:], candidateKEK)
	if err != nil {
		return nil, apfserr.WrapErr(apfserr.ErrBadPassphrase, err, "unwrapping kek")
	}
	vek, err := UnwrapKey(wrappedVEK, kek)
	if err != nil {
		return nil, apfserr.WrapErr(apfserr.ErrBadPassphrase, err, "unwrapping volume encryption key")
	}
	return vek, nil
}
