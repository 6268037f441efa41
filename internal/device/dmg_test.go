package device

import (
	"encoding/binary"
	"testing"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/types"
	"github.com/stretchr/testify/require"
)

type memSource struct{ buf []byte }

func newMemSource(size int) *memSource { return &memSource{buf: make([]byte, size)} }

func (m *memSource) ReadAt(offset int64, buf []byte) error {
	if offset < 0 || offset+int64(len(buf)) > int64(len(m.buf)) {
		return apfserr.Wrap(apfserr.ErrOutOfBounds, "out of range")
	}
	copy(buf, m.buf[offset:offset+int64(len(buf))])
	return nil
}

func (m *memSource) Size() (int64, error) { return int64(len(m.buf)), nil }

func writeAPFSMagic(m *memSource, offset int64) {
	binary.LittleEndian.PutUint32(m.buf[offset+types.APFSMagicOffset:], types.NxMagicValue)
}

// writeGPT lays down a minimal primary GPT header plus one partition entry
// of the APFS type GUID, starting startLBA.
func writeGPT(m *memSource, startLBA uint64) {
	copy(m.buf[types.GPTHeaderOffset:], []byte("EFI PART"))

	entry := m.buf[types.GPTEntriesStartOffset : types.GPTEntriesStartOffset+types.GPTEntrySize]
	copy(entry[0:16], apfsGptPartitionUUID)
	binary.LittleEndian.PutUint64(entry[32:40], startLBA)
	binary.LittleEndian.PutUint64(entry[40:48], startLBA+100)
}

func TestDetectViaGPT(t *testing.T) {
	m := newMemSource(1 << 20)
	writeGPT(m, 40)
	writeAPFSMagic(m, 40*512)

	cfg := &Config{AutoDetect: true, DefaultOffset: types.GPTAPFSOffset}
	offset, err := Detect(m, cfg)
	require.NoError(t, err)
	require.Equal(t, int64(40*512), offset)
}

func TestDetectFallsBackToMagicAtZero(t *testing.T) {
	m := newMemSource(1 << 16)
	writeAPFSMagic(m, 0)

	cfg := &Config{AutoDetect: true, DefaultOffset: types.GPTAPFSOffset}
	offset, err := Detect(m, cfg)
	require.NoError(t, err)
	require.Equal(t, int64(0), offset)
}

func TestDetectFallsBackToDefaultOffset(t *testing.T) {
	m := newMemSource(1 << 16)

	cfg := &Config{AutoDetect: true, DefaultOffset: 4096}
	offset, err := Detect(m, cfg)
	require.NoError(t, err)
	require.Equal(t, int64(4096), offset)
}

func TestDetectHonorsAutoDetectFalse(t *testing.T) {
	m := newMemSource(1 << 20)
	writeGPT(m, 40)
	writeAPFSMagic(m, 40*512)

	cfg := &Config{AutoDetect: false, DefaultOffset: 99}
	offset, err := Detect(m, cfg)
	require.NoError(t, err)
	require.Equal(t, int64(99), offset)
}

func TestDetectIgnoresNonAPFSPartitions(t *testing.T) {
	m := newMemSource(1 << 20)
	copy(m.buf[types.GPTHeaderOffset:], []byte("EFI PART"))
	entry := m.buf[types.GPTEntriesStartOffset : types.GPTEntriesStartOffset+types.GPTEntrySize]
	for i := range entry[0:16] {
		entry[0:16][i] = 0xAA // some unrelated type GUID
	}
	writeAPFSMagic(m, 0)

	cfg := &Config{AutoDetect: true, DefaultOffset: types.GPTAPFSOffset}
	offset, err := Detect(m, cfg)
	require.NoError(t, err)
	require.Equal(t, int64(0), offset)
}

func TestOffsetSource(t *testing.T) {
	m := newMemSource(1024)
	copy(m.buf[512:516], []byte("ABCD"))

	src, err := NewOffsetSource(m, 512)
	require.NoError(t, err)

	size, err := src.Size()
	require.NoError(t, err)
	require.Equal(t, int64(512), size)

	buf := make([]byte, 4)
	require.NoError(t, src.ReadAt(0, buf))
	require.Equal(t, "ABCD", string(buf))
}

func TestOffsetSourceRejectsOutOfRangeOffset(t *testing.T) {
	m := newMemSource(128)
	_, err := NewOffsetSource(m, 256)
	require.Error(t, err)
}
