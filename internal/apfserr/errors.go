// Package apfserr formalizes the domain-qualified error kinds produced while
// walking a read-only APFS container as sentinel values usable with
// errors.Is, and a small context-wrapping helper so every layer boundary
// attaches the object id, physical address, or offset it was working on.
package apfserr

import "fmt"

// Kind is a sentinel error identifying the class of failure. Callers compare
// against these with errors.Is rather than inspecting strings.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	ErrShortRead               Kind = "apfs: short read"
	ErrOutOfBounds             Kind = "apfs: access out of bounds"
	ErrChecksumMismatch        Kind = "apfs: fletcher-64 checksum mismatch"
	ErrUnexpectedType          Kind = "apfs: unexpected object type"
	ErrFutureXid               Kind = "apfs: object transaction id is newer than the mounted checkpoint"
	ErrNodeCorrupt             Kind = "apfs: corrupt b-tree node"
	ErrNoValidCheckpoint       Kind = "apfs: no valid checkpoint found"
	ErrCorruptFile             Kind = "apfs: corrupt file metadata"
	ErrCorruptCompressedStream Kind = "apfs: corrupt compressed stream"
	ErrTruncatedInput          Kind = "apfs: truncated input"
	ErrNotFound                Kind = "apfs: not found"
	ErrPathLoop                Kind = "apfs: path resolution loop detected"
	ErrNotADirectory           Kind = "apfs: not a directory"
	ErrNotAFile                Kind = "apfs: not a regular file"
	ErrLocked                  Kind = "apfs: volume is locked"
	ErrBadPassphrase           Kind = "apfs: incorrect passphrase"
	ErrUnsupportedKdf          Kind = "apfs: unsupported key derivation function"
	ErrUnsupportedFeature      Kind = "apfs: unsupported on-disk feature"
	ErrUnsupportedCompression  Kind = "apfs: unsupported compression method"
	ErrInvalidArgument         Kind = "apfs: invalid argument"
)

// withContext wraps a Kind sentinel with caller-supplied positional context
// while remaining matchable via errors.Is(err, ErrXxx).
type withContext struct {
	kind Kind
	msg  string
	err  error
}

func (e *withContext) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.err)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *withContext) Unwrap() error { return e.kind }

// Wrap annotates a Kind sentinel with a formatted message, without an
// underlying cause.
func Wrap(kind Kind, format string, args ...any) error {
	return &withContext{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// WrapErr annotates a Kind sentinel with a formatted message and an
// underlying cause, preserving both for errors.Is/errors.Unwrap.
func WrapErr(kind Kind, cause error, format string, args ...any) error {
	return &withContext{kind: kind, msg: fmt.Sprintf(format, args...), err: cause}
}

// AtOid is a convenience formatter for errors tied to an object identifier.
func AtOid(kind Kind, oid uint64, format string, args ...any) error {
	return Wrap(kind, "oid=%#x: %s", oid, fmt.Sprintf(format, args...))
}

// AtPaddr is a convenience formatter for errors tied to a physical block
// address.
func AtPaddr(kind Kind, paddr int64, format string, args ...any) error {
	return Wrap(kind, "paddr=%d: %s", paddr, fmt.Sprintf(format, args...))
}
