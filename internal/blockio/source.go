// Package blockio implements the read-only block source abstraction that
// every higher layer reads through: a fixed-size logical block device backed
// by a local file or raw disk image.
package blockio

import (
	"fmt"
	"os"
	"sync"

	"github.com/apfscore/apfsro/internal/apfserr"
)

// Source is the narrow role-based interface every parsing layer depends on.
// Implementations must be safe for concurrent ReadAt calls from multiple
// goroutines; this package's FileSource uses positional reads so no shared
// file offset needs locking.
type Source interface {
	// ReadAt reads len(buf) bytes starting at the given byte offset. It
	// returns apfserr.ErrShortRead if fewer bytes are available.
	ReadAt(offset int64, buf []byte) error

	// Size returns the total size of the underlying device, in bytes.
	Size() (int64, error)
}

// FileSource is a Source backed by an *os.File (a raw disk image, a
// loopback device node, or a DMG already decoded to raw blocks).
type FileSource struct {
	f    *os.File
	mu   sync.RWMutex
	size int64
}

// OpenFile opens path read-only and wraps it as a Source.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("blockio: open %s: %w", path, err)
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("blockio: stat %s: %w", path, err)
	}
	return &FileSource{f: f, size: fi.Size()}, nil
}

// Close releases the underlying file descriptor.
func (s *FileSource) Close() error { return s.f.Close() }

// Size implements Source.
func (s *FileSource) Size() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size, nil
}

// ReadAt implements Source using pread-style positional reads (see
// source_unix.go for the golang.org/x/sys fast path), so concurrent callers
// never race over a shared file cursor the way Seek+Read would.
func (s *FileSource) ReadAt(offset int64, buf []byte) error {
	if offset < 0 {
		return apfserr.Wrap(apfserr.ErrOutOfBounds, "negative offset %d", offset)
	}
	n, err := preadFull(s.f, buf, offset)
	if err != nil {
		return apfserr.WrapErr(apfserr.ErrShortRead, err, "read %d bytes at offset %d", len(buf), offset)
	}
	if n != len(buf) {
		return apfserr.Wrap(apfserr.ErrShortRead, "read %d of %d bytes at offset %d", n, len(buf), offset)
	}
	return nil
}

// BlockReader wraps a Source with a fixed logical block size, matching the
// container's nx_block_size once the superblock has been located.
type BlockReader struct {
	src       Source
	blockSize uint32
}

// NewBlockReader constructs a BlockReader over src with the given block size.
func NewBlockReader(src Source, blockSize uint32) *BlockReader {
	return &BlockReader{src: src, blockSize: blockSize}
}

// BlockSize returns the configured logical block size in bytes.
func (b *BlockReader) BlockSize() uint32 { return b.blockSize }

// ReadBlock reads exactly one logical block at the given block address.
func (b *BlockReader) ReadBlock(addr int64) ([]byte, error) {
	return b.ReadBlocks(addr, 1)
}

// ReadBlocks reads count consecutive logical blocks starting at addr.
func (b *BlockReader) ReadBlocks(addr int64, count uint32) ([]byte, error) {
	if addr < 0 || count == 0 {
		return nil, apfserr.Wrap(apfserr.ErrInvalidArgument, "invalid block range addr=%d count=%d", addr, count)
	}
	buf := make([]byte, uint64(b.blockSize)*uint64(count))
	off := addr * int64(b.blockSize)
	if err := b.src.ReadAt(off, buf); err != nil {
		return nil, fmt.Errorf("blockio: read %d block(s) at %d: %w", count, addr, err)
	}
	return buf, nil
}
