package apfs

import (
	"strings"

	"github.com/apfscore/apfsro/internal/apfserr"
)

// EntryKind classifies a directory entry without requiring a caller to
// inspect a raw on-disk file-type code.
type EntryKind int

const (
	EntryUnknown EntryKind = iota
	EntryFile
	EntryDirectory
	EntrySymlink
)

// These mirror the standard BSD dirent d_type values APFS directory
// records reuse (DT_REG, DT_DIR, DT_LNK); every other code maps to
// EntryUnknown.
const (
	dtReg = 8
	dtDir = 4
	dtLnk = 10
)

func entryKind(fileType uint16) EntryKind {
	switch fileType {
	case dtDir:
		return EntryDirectory
	case dtReg:
		return EntryFile
	case dtLnk:
		return EntrySymlink
	default:
		return EntryUnknown
	}
}

// DirEntry is one named entry in a directory listing.
type DirEntry struct {
	Name      string
	Kind      EntryKind
	DateAdded uint64

	fileId uint64
}

// Directory is an inode known to be a directory, with the listing and
// lookup operations that only make sense for one.
type Directory struct {
	Inode
}

// Entries lists every entry in the directory, in on-disk key order.
func (d *Directory) Entries() ([]DirEntry, error) {
	raw, err := d.volume.tree.Readdir(d.objId)
	if err != nil {
		return nil, err
	}
	out := make([]DirEntry, len(raw))
	for i, e := range raw {
		out[i] = DirEntry{Name: e.Name, Kind: entryKind(e.FileType), DateAdded: e.DateAdded, fileId: e.FileId}
	}
	return out, nil
}

// Lookup finds one named child and opens its inode. It does not dereference
// a symlink child; use Inode.ReadLink for that.
func (d *Directory) Lookup(name string) (*Inode, error) {
	entry, err := d.volume.tree.LookupEntry(d.objId, name)
	if err != nil {
		return nil, err
	}
	target, err := d.volume.tree.ResolveFileId(entry.FileId)
	if err != nil {
		return nil, err
	}
	return d.volume.openInode(target)
}

// Resolve walks a slash-separated path from this directory, following
// symlinks and hardlink indirections, and opens the inode it names.
func (d *Directory) Resolve(path string) (*Inode, error) {
	if d.volume.tree == nil {
		return nil, apfserr.Wrap(apfserr.ErrLocked, "volume %q is locked", d.volume.Name())
	}
	objId, err := d.volume.tree.Resolve(d.objId, splitPath(path))
	if err != nil {
		return nil, err
	}
	return d.volume.openInode(objId)
}

func splitPath(p string) []string {
	var parts []string
	for _, part := range strings.Split(p, "/") {
		if part != "" {
			parts = append(parts, part)
		}
	}
	return parts
}
