package apfs

import (
	"io"
	"time"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/types"
)

// Inode is one file-system object: a regular file, directory, or symlink.
type Inode struct {
	volume *Volume
	objId  uint64
	raw    types.JInodeValT
}

func (v *Volume) openInode(objId uint64) (*Inode, error) {
	if v.tree == nil {
		return nil, apfserr.Wrap(apfserr.ErrLocked, "volume %q is locked", v.Name())
	}
	raw, err := v.tree.Inode(objId)
	if err != nil {
		return nil, err
	}
	return &Inode{volume: v, objId: objId, raw: raw}, nil
}

// IsDir reports whether the inode is a directory.
func (i *Inode) IsDir() bool { return i.raw.IsDir() }

// IsSymlink reports whether the inode is a symbolic link.
func (i *Inode) IsSymlink() bool { return i.raw.ModeField&types.ModeIFMT == types.ModeIFLNK }

// Directory opens this inode as a directory, failing if it isn't one.
func (i *Inode) Directory() (*Directory, error) {
	if !i.IsDir() {
		return nil, apfserr.Wrap(apfserr.ErrNotADirectory, "object id %d is not a directory", i.objId)
	}
	return &Directory{Inode: *i}, nil
}

// Size returns the inode's logical content size: the declared uncompressed
// size for a decmpfs-compressed file, otherwise its default data stream's
// size.
func (i *Inode) Size() (uint64, error) {
	return i.volume.tree.Size(i.objId, i.raw)
}

// ReadAt reads len(buf) bytes of file content starting at offset,
// implementing io.ReaderAt: sparse regions read back as zero, and a short
// final read returns io.EOF alongside the bytes it did get.
func (i *Inode) ReadAt(buf []byte, offset int64) (int, error) {
	if i.IsDir() {
		return 0, apfserr.Wrap(apfserr.ErrNotAFile, "object id %d is a directory", i.objId)
	}
	data, err := i.volume.tree.ReadFile(i.objId, i.raw, offset, int64(len(buf)))
	if err != nil {
		return 0, err
	}
	n := copy(buf, data)
	if n < len(buf) {
		return n, io.EOF
	}
	return n, nil
}

// ReadLink returns a symlink's target path, read from its inline data
// stream or, failing that, its com.apple.fs.symlink extended attribute.
func (i *Inode) ReadLink() (string, error) {
	if !i.IsSymlink() {
		return "", apfserr.Wrap(apfserr.ErrInvalidArgument, "object id %d is not a symlink", i.objId)
	}
	target, err := i.volume.tree.ReadSymlinkTarget(i.objId, i.raw)
	if err != nil {
		return "", err
	}
	return string(target), nil
}

// Xattrs returns the names of every extended attribute on the inode.
func (i *Inode) Xattrs() ([]string, error) {
	return i.volume.tree.ListXattrs(i.objId)
}

// Xattr resolves one named extended attribute's value.
func (i *Inode) Xattr(name string) ([]byte, bool, error) {
	return i.volume.tree.Xattr(i.objId, name)
}

// Attributes is the subset of an inode's metadata exposed to callers:
// POSIX-ish fields plus the three APFS timestamps (create, modify, change)
// and access time, each stored on disk as nanoseconds since the Unix
// epoch.
type Attributes struct {
	Mode       types.Mode
	Size       uint64
	Uid        uint32
	Gid        uint32
	Nlink      int32
	CreateTime time.Time
	ModTime    time.Time
	ChangeTime time.Time
	AccessTime time.Time
}

// Attributes decodes the inode's metadata.
func (i *Inode) Attributes() (Attributes, error) {
	size, err := i.Size()
	if err != nil {
		return Attributes{}, err
	}
	return Attributes{
		Mode:       i.raw.ModeField,
		Size:       size,
		Uid:        uint32(i.raw.Owner),
		Gid:        uint32(i.raw.Group),
		Nlink:      i.raw.NchildrenOrNlink,
		CreateTime: apfsTime(i.raw.CreateTime),
		ModTime:    apfsTime(i.raw.ModTime),
		ChangeTime: apfsTime(i.raw.ChangeTime),
		AccessTime: apfsTime(i.raw.AccessTime),
	}, nil
}

func apfsTime(ns uint64) time.Time { return time.Unix(0, int64(ns)).UTC() }
