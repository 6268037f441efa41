//go:build !unix

package blockio

import "os"

// preadFull is the portable fallback for platforms without unix.Pread;
// os.File.ReadAt is itself implemented with positional syscalls on Windows.
func preadFull(f *os.File, buf []byte, offset int64) (int, error) {
	return f.ReadAt(buf, offset)
}
