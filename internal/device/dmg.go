// Package device locates an APFS container embedded in a raw disk image,
// partition, or .dmg: it either sits at byte offset zero, or behind a GPT
// partition table whose entries must be scanned for the APFS partition
// type GUID.
package device

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/spf13/viper"

	"github.com/apfscore/apfsro/internal/blockio"
	"github.com/apfscore/apfsro/internal/types"
)

// Config controls how an image's embedded container is located.
type Config struct {
	AutoDetect    bool  `mapstructure:"auto_detect_apfs"`
	DefaultOffset int64 `mapstructure:"default_offset"`
}

// LoadConfig reads device-detection defaults from an optional
// "apfs-config" file (searched in the working directory, ./config,
// $HOME/.apfs, and /etc/apfs) and the APFSCTL_ environment namespace,
// falling back to built-in defaults when neither is present.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("apfs-config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("$HOME/.apfs")
	v.AddConfigPath("/etc/apfs")

	v.SetDefault("auto_detect_apfs", true)
	v.SetDefault("default_offset", types.GPTAPFSOffset)

	v.SetEnvPrefix("APFSCTL")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("device: reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("device: unmarshaling config: %w", err)
	}
	return &cfg, nil
}

// apfsGptPartitionUUID is the mixed-endian on-disk encoding of
// types.ApfsGptPartitionUUID ("7C3457EF-0000-11AA-AA11-00306543ECAC"): a
// GPT entry's type GUID stores its first three fields little-endian and
// its last two big-endian.
var apfsGptPartitionUUID = []byte{
	0xEF, 0x57, 0x34, 0x7C, 0x00, 0x00, 0xAA, 0x11,
	0xAA, 0x11, 0x00, 0x30, 0x65, 0x43, 0xEC, 0xAC,
}

// Detect locates the byte offset of an APFS container within src: first by
// parsing a GPT partition table for the APFS partition type GUID, then by
// checking for the nx_superblock_t magic directly at offset zero. If
// AutoDetect is false, or if neither method finds a container, it returns
// cfg.DefaultOffset.
func Detect(src blockio.Source, cfg *Config) (int64, error) {
	if !cfg.AutoDetect {
		return cfg.DefaultOffset, nil
	}

	size, err := src.Size()
	if err != nil {
		return 0, fmt.Errorf("device: stat source: %w", err)
	}

	if offset, ok := detectViaGPT(src, size); ok {
		return offset, nil
	}
	if hasAPFSMagic(src, 0) {
		return 0, nil
	}
	if hasAPFSMagic(src, cfg.DefaultOffset) {
		return cfg.DefaultOffset, nil
	}
	return cfg.DefaultOffset, nil
}

// detectViaGPT reads the primary GPT header at LBA 1 and scans its
// partition entry array for one whose type GUID marks an APFS container,
// returning the byte offset of its first LBA.
func detectViaGPT(src blockio.Source, size int64) (int64, bool) {
	const sigLen = 8
	sig := make([]byte, sigLen)
	if err := src.ReadAt(types.GPTHeaderOffset, sig); err != nil {
		return 0, false
	}
	if string(sig) != "EFI PART" {
		return 0, false
	}

	const maxEntries = 128
	entry := make([]byte, types.GPTEntrySize)
	for i := 0; i < maxEntries; i++ {
		off := int64(types.GPTEntriesStartOffset + i*types.GPTEntrySize)
		if off+int64(types.GPTEntrySize) > size {
			break
		}
		if err := src.ReadAt(off, entry); err != nil {
			break
		}
		if bytes.Equal(entry[0:16], apfsGptPartitionUUID) {
			startLBA := binary.LittleEndian.Uint64(entry[32:40])
			return int64(startLBA) * 512, true
		}
	}
	return 0, false
}

// hasAPFSMagic reports whether src holds a valid nx_superblock_t magic at
// the given byte offset.
func hasAPFSMagic(src blockio.Source, offset int64) bool {
	buf := make([]byte, 4)
	if err := src.ReadAt(offset+types.APFSMagicOffset, buf); err != nil {
		return false
	}
	return binary.LittleEndian.Uint32(buf) == types.NxMagicValue
}

// OffsetSource adapts a blockio.Source to one that begins offset bytes into
// an underlying image, for a container embedded at a non-zero offset
// (behind a GPT partition table, typically).
type OffsetSource struct {
	base   blockio.Source
	offset int64
	size   int64
}

// NewOffsetSource wraps base so that byte zero of the returned Source is
// byte offset of base.
func NewOffsetSource(base blockio.Source, offset int64) (*OffsetSource, error) {
	baseSize, err := base.Size()
	if err != nil {
		return nil, err
	}
	if offset < 0 || offset > baseSize {
		return nil, fmt.Errorf("device: offset %d out of range for %d-byte source", offset, baseSize)
	}
	return &OffsetSource{base: base, offset: offset, size: baseSize - offset}, nil
}

// ReadAt implements blockio.Source.
func (s *OffsetSource) ReadAt(offset int64, buf []byte) error {
	return s.base.ReadAt(s.offset+offset, buf)
}

// Size implements blockio.Source.
func (s *OffsetSource) Size() (int64, error) { return s.size, nil }

// Open opens path and wraps it as a Source beginning at its detected or
// configured APFS container offset. The caller is responsible for closing
// the returned *blockio.FileSource once done with the OffsetSource built
// over it.
func Open(path string, cfg *Config) (*blockio.FileSource, *OffsetSource, error) {
	f, err := blockio.OpenFile(path)
	if err != nil {
		return nil, nil, err
	}
	offset, err := Detect(f, cfg)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	src, err := NewOffsetSource(f, offset)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, src, nil
}
