package volume

import (
	"crypto/aes"
	"encoding/binary"
	"testing"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/blockio"
	"github.com/apfscore/apfsro/internal/checkpoint"
	"github.com/apfscore/apfsro/internal/checksum"
	"github.com/apfscore/apfsro/internal/crypto"
	"github.com/apfscore/apfsro/internal/objects"
	"github.com/apfscore/apfsro/internal/omap"
	"github.com/apfscore/apfsro/internal/types"
	"github.com/stretchr/testify/require"
)

const testBlockSize = 4096

type memSource struct{ buf []byte }

func newMemSource(numBlocks int) *memSource {
	return &memSource{buf: make([]byte, numBlocks*testBlockSize)}
}

func (m *memSource) ReadAt(offset int64, buf []byte) error {
	if offset < 0 || offset+int64(len(buf)) > int64(len(m.buf)) {
		return apfserr.Wrap(apfserr.ErrOutOfBounds, "out of range")
	}
	copy(buf, m.buf[offset:offset+int64(len(buf))])
	return nil
}

func (m *memSource) Size() (int64, error) { return int64(len(m.buf)), nil }

func blockOf(m *memSource, addr int) []byte {
	return m.buf[addr*testBlockSize : (addr+1)*testBlockSize]
}

func checksumBlock(raw []byte) {
	sum, ok := checksum.ComputeObjectChecksum(raw)
	if ok {
		copy(raw[0:8], sum[:])
	}
}

func newTestReader(m *memSource) *objects.Reader {
	return objects.NewReader(blockio.NewBlockReader(m, testBlockSize))
}

func omapKey(oid uint64, xid uint64) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[0:8], oid)
	binary.LittleEndian.PutUint64(b[8:16], xid)
	return b
}

func omapVal(paddr uint64) []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint64(b[8:16], paddr)
	return b
}

// buildLeaf writes a single-node (root+leaf) B-tree, matching the layout
// internal/btree expects, into block index addr.
func buildLeaf(m *memSource, addr int, keys, values [][]byte) {
	raw := blockOf(m, addr)
	for i := range raw {
		raw[i] = 0
	}
	const nodeHeaderSize = 56
	const btreeInfoSize = 40

	binary.LittleEndian.PutUint64(raw[8:16], uint64(addr))
	binary.LittleEndian.PutUint32(raw[24:28], types.ObjectTypeBtree)
	binary.LittleEndian.PutUint16(raw[32:34], types.BtnodeRoot|types.BtnodeLeaf)
	binary.LittleEndian.PutUint32(raw[36:40], uint32(len(keys)))
	binary.LittleEndian.PutUint16(raw[40:42], 0)
	binary.LittleEndian.PutUint16(raw[42:44], uint16(len(keys)*8))

	keyBase := nodeHeaderSize + len(keys)*8
	valEnd := len(raw) - btreeInfoSize

	keyCursor, valCursor := 0, 0
	for i := range keys {
		koff := keyCursor
		copy(raw[keyBase+koff:], keys[i])
		keyCursor += len(keys[i])

		valCursor += len(values[i])
		valStart := valEnd - valCursor
		copy(raw[valStart:], values[i])
		voff := valCursor

		tocOff := nodeHeaderSize + i*8
		binary.LittleEndian.PutUint16(raw[tocOff:], uint16(koff))
		binary.LittleEndian.PutUint16(raw[tocOff+2:], uint16(len(keys[i])))
		binary.LittleEndian.PutUint16(raw[tocOff+4:], uint16(voff))
		binary.LittleEndian.PutUint16(raw[tocOff+6:], uint16(len(values[i])))
	}

	info := raw[len(raw)-btreeInfoSize:]
	binary.LittleEndian.PutUint32(info[4:8], testBlockSize)
	checksumBlock(raw)
}

func buildOmap(m *memSource, addr int, treeAddr int) {
	raw := blockOf(m, addr)
	for i := range raw {
		raw[i] = 0
	}
	le := binary.LittleEndian
	le.PutUint32(raw[24:28], types.ObjectTypeOmap)
	le.PutUint64(raw[48:56], uint64(treeAddr)) // om_tree_oid
	checksumBlock(raw)
}

// buildVolumeSuperblock writes an apfs_superblock_t into block index addr,
// following the exact offsets parseVolumeSuperblock decodes.
func buildVolumeSuperblock(m *memSource, addr int, xid uint64, omapOid, rootTreeOid uint64, volUuid types.UUID, fsFlags uint64) {
	raw := blockOf(m, addr)
	for i := range raw {
		raw[i] = 0
	}
	le := binary.LittleEndian
	le.PutUint64(raw[8:16], uint64(addr))
	le.PutUint64(raw[16:24], xid)
	le.PutUint32(raw[24:28], types.ObjectTypeFs)

	le.PutUint32(raw[32:36], types.ApfsMagicValue)
	le.PutUint64(raw[128:136], omapOid)
	le.PutUint64(raw[136:144], rootTreeOid)
	copy(raw[240:256], volUuid[:])
	le.PutUint64(raw[264:272], fsFlags)
	copy(raw[704:960], []byte("testvol"))

	checksumBlock(raw)
}

// buildKeybag writes a container keybag (a plain obj_phys_t header followed
// by a kb_locker_t) holding one KbTagVolumeKey entry (the wrapped volume
// encryption key) and one KbTagVolumeUnlockRecords entry (the KEK wrapping
// record, keyed to the same volume uuid).
func buildKeybag(m *memSource, addr int, volUuid types.UUID, wrappedVEK, kekBlob []byte) {
	raw := blockOf(m, addr)
	for i := range raw {
		raw[i] = 0
	}
	le := binary.LittleEndian
	le.PutUint32(raw[24:28], types.ObjectTypeContainerKeybag)

	body := raw[types.ObjPhysSize:]
	le.PutUint16(body[0:2], types.ApfsKeybagVersion)
	le.PutUint16(body[2:4], 2) // kl_nkeys

	pos := 16
	writeEntry := func(tag types.KbTag, data []byte) {
		copy(body[pos:pos+16], volUuid[:])
		le.PutUint16(body[pos+16:pos+18], uint16(tag))
		le.PutUint16(body[pos+18:pos+20], uint16(len(data)))
		pos += 24
		copy(body[pos:], data)
		pos += (len(data) + 15) &^ 15
	}
	writeEntry(types.KbTagVolumeKey, wrappedVEK)
	writeEntry(types.KbTagVolumeUnlockRecords, kekBlob)
	le.PutUint32(body[4:8], uint32(pos))

	checksumBlock(raw)
}

// wrapKeyRFC3394 wraps key under kek, the forward direction of the unwrap
// crypto.UnwrapKey implements — used here only to build a recoverable test
// fixture, never shipped as production code.
func wrapKeyRFC3394(key, kek []byte) []byte {
	block, err := aes.NewCipher(kek)
	if err != nil {
		panic(err)
	}
	n := len(key) / 8
	a := [8]byte{0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6, 0xA6}
	r := make([][]byte, n)
	for i := 0; i < n; i++ {
		r[i] = append([]byte(nil), key[i*8:(i+1)*8]...)
	}
	buf := make([]byte, 16)
	for j := 0; j <= 5; j++ {
		for i := 0; i < n; i++ {
			copy(buf[:8], a[:])
			copy(buf[8:], r[i])
			block.Encrypt(buf, buf)
			var t [8]byte
			binary.BigEndian.PutUint64(t[:], uint64(n*j+i+1))
			for k := range a {
				a[k] = buf[k] ^ t[k]
			}
			copy(r[i], buf[8:])
		}
	}
	out := append([]byte(nil), a[:]...)
	for _, ri := range r {
		out = append(out, ri...)
	}
	return out
}

func buildKekBlob(iterations uint32, salt [16]byte, wrappedKEK [40]byte) []byte {
	b := make([]byte, 96)
	binary.LittleEndian.PutUint32(b[36:40], iterations)
	copy(b[40:56], salt[:])
	copy(b[56:96], wrappedKEK[:])
	return b
}

// buildMountedContainer lays out an unencrypted single-volume container:
// its object map resolving one volume oid, that volume's own object map
// resolving its root tree to an empty (but valid) fs-tree root.
func buildMountedContainer(t *testing.T) (*memSource, *Container) {
	t.Helper()
	m := newMemSource(8)

	buildLeaf(m, 7, nil, nil) // empty fs-tree root

	buildLeaf(m, 5, [][]byte{omapKey(60, 10)}, [][]byte{omapVal(7)})
	buildOmap(m, 4, 5)

	var volUuid types.UUID
	copy(volUuid[:], []byte("vol-uuid-0123456"))
	buildVolumeSuperblock(m, 3, 10, 4, 60, volUuid, types.ApfsFsUnencrypted)

	buildLeaf(m, 2, [][]byte{omapKey(50, 10)}, [][]byte{omapVal(3)})
	buildOmap(m, 1, 2)

	reader := newTestReader(m)
	containerOmap, err := omap.Open(reader, 1)
	require.NoError(t, err)

	c := &Container{
		reader: reader,
		mount: &checkpoint.Mount{
			Superblock: types.NxSuperblockT{
				NxFsOid: [types.NxMaxFileSystemsConst]types.OidT{0: 50},
			},
			BlockSize: testBlockSize,
		},
		omap: containerOmap,
	}
	c.mount.Superblock.NxO.OXid = 10
	return m, c
}

func TestOpenVolumeMountsUnencryptedVolume(t *testing.T) {
	_, c := buildMountedContainer(t)
	require.Equal(t, 1, c.VolumeCount())

	v, err := c.OpenVolume(0, "")
	require.NoError(t, err)
	require.Equal(t, "testvol", v.Name())
	require.False(t, v.IsEncrypted())
	require.False(t, v.Locked())
	require.NotNil(t, v.Tree())
}

func TestOpenVolumeIndexOutOfRange(t *testing.T) {
	_, c := buildMountedContainer(t)
	_, err := c.OpenVolume(1, "")
	require.Error(t, err)
	require.ErrorIs(t, err, apfserr.ErrInvalidArgument)
}

func TestOpenVolumeEncryptedWithoutPassphraseStaysLocked(t *testing.T) {
	m, c := buildMountedContainer(t)

	var volUuid types.UUID
	copy(volUuid[:], []byte("vol-uuid-0123456"))
	buildVolumeSuperblock(m, 3, 10, 4, 60, volUuid, 0) // ApfsFsUnencrypted bit clear

	v, err := c.OpenVolume(0, "")
	require.NoError(t, err)
	require.True(t, v.IsEncrypted())
	require.True(t, v.Locked())
	require.Nil(t, v.Tree())
}

func TestOpenVolumeEncryptedUnlocksWithPassphrase(t *testing.T) {
	m, c := buildMountedContainer(t)

	var volUuid types.UUID
	copy(volUuid[:], []byte("vol-uuid-0123456"))
	buildVolumeSuperblock(m, 3, 10, 4, 60, volUuid, 0)

	const passphrase = "correct horse battery staple"
	vek := []byte("0123456789abcdef") // 16-byte test VEK
	salt := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	kek, err := crypto.DeriveKEK(passphrase, salt[:])
	require.NoError(t, err)

	wrappedVEK := wrapKeyRFC3394(vek, kek)
	// The fixture's "KEK" doubles as its own wrapping key: crypto.UnlockVEK
	// re-derives the same candidate from the passphrase and uses it
	// directly as the unwrap key, so wrapping kek under itself here is
	// what recovers kek unchanged on the other end.
	var wrappedKEKArr [40]byte
	copy(wrappedKEKArr[:], wrapKeyRFC3394(kek, kek))

	kekBlob := buildKekBlob(crypto.PBKDF2Iterations, salt, wrappedKEKArr)
	c.mount.Superblock.NxKeylocker = types.Prange{PrStartPaddr: 6, PrBlockCount: 1}
	buildKeybag(m, 6, volUuid, wrappedVEK, kekBlob)

	v, err := c.OpenVolume(0, passphrase)
	require.NoError(t, err)
	require.True(t, v.IsEncrypted())
	require.False(t, v.Locked())
	require.NotNil(t, v.Tree())
}

func TestOpenVolumeWrongPassphraseFailsUnlock(t *testing.T) {
	m, c := buildMountedContainer(t)

	var volUuid types.UUID
	copy(volUuid[:], []byte("vol-uuid-0123456"))
	buildVolumeSuperblock(m, 3, 10, 4, 60, volUuid, 0)

	const passphrase = "correct horse battery staple"
	vek := []byte("0123456789abcdef")
	salt := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	kek, err := crypto.DeriveKEK(passphrase, salt[:])
	require.NoError(t, err)
	wrappedVEK := wrapKeyRFC3394(vek, kek)
	var wrappedKEKArr [40]byte
	copy(wrappedKEKArr[:], wrapKeyRFC3394(kek, kek))
	kekBlob := buildKekBlob(crypto.PBKDF2Iterations, salt, wrappedKEKArr)
	c.mount.Superblock.NxKeylocker = types.Prange{PrStartPaddr: 6, PrBlockCount: 1}
	buildKeybag(m, 6, volUuid, wrappedVEK, kekBlob)

	_, err = c.OpenVolume(0, "wrong passphrase")
	require.Error(t, err)
	require.ErrorIs(t, err, apfserr.ErrBadPassphrase)
}

func TestUnlockRetriesAfterLockedMount(t *testing.T) {
	m, c := buildMountedContainer(t)

	var volUuid types.UUID
	copy(volUuid[:], []byte("vol-uuid-0123456"))
	buildVolumeSuperblock(m, 3, 10, 4, 60, volUuid, 0)

	const passphrase = "correct horse battery staple"
	vek := []byte("0123456789abcdef")
	salt := [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	kek, err := crypto.DeriveKEK(passphrase, salt[:])
	require.NoError(t, err)
	wrappedVEK := wrapKeyRFC3394(vek, kek)
	var wrappedKEKArr [40]byte
	copy(wrappedKEKArr[:], wrapKeyRFC3394(kek, kek))
	kekBlob := buildKekBlob(crypto.PBKDF2Iterations, salt, wrappedKEKArr)
	c.mount.Superblock.NxKeylocker = types.Prange{PrStartPaddr: 6, PrBlockCount: 1}
	buildKeybag(m, 6, volUuid, wrappedVEK, kekBlob)

	v, err := c.OpenVolume(0, "")
	require.NoError(t, err)
	require.True(t, v.Locked())

	require.NoError(t, v.Unlock(c, passphrase))
	require.False(t, v.Locked())
	require.NotNil(t, v.Tree())
}

func TestOpenSnapshotReopensTreeAtSnapshotXid(t *testing.T) {
	_, c := buildMountedContainer(t)
	v, err := c.OpenVolume(0, "")
	require.NoError(t, err)

	tree, err := v.OpenSnapshot("10")
	require.NoError(t, err)
	require.NotNil(t, tree)
}

func TestOpenSnapshotUnknownNameFails(t *testing.T) {
	_, c := buildMountedContainer(t)
	v, err := c.OpenVolume(0, "")
	require.NoError(t, err)

	_, err = v.OpenSnapshot("no-such-snapshot")
	require.Error(t, err)
	require.ErrorIs(t, err, apfserr.ErrNotFound)
}
