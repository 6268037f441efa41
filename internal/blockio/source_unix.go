//go:build unix

package blockio

import (
	"os"

	"golang.org/x/sys/unix"
)

// preadFull issues unix.Pread in a loop until buf is filled, EOF, or an
// error occurs. Using pread(2) directly (rather than Seek+Read) means
// concurrent ReadAt calls on the same *os.File never race over the shared
// file offset.
func preadFull(f *os.File, buf []byte, offset int64) (int, error) {
	total := 0
	fd := int(f.Fd())
	for total < len(buf) {
		n, err := unix.Pread(fd, buf[total:], offset+int64(total))
		if n > 0 {
			total += n
		}
		if err != nil {
			return total, err
		}
		if n == 0 {
			break
		}
	}
	return total, nil
}
