package fstree

import (
	"golang.org/x/text/unicode/norm"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/types"
)

// maxSymlinkDepth bounds path resolution against a symlink cycle; no real
// filesystem use case nests anywhere near this deep.
const maxSymlinkDepth = 40

// DirEntry is one decoded directory-record entry.
type DirEntry struct {
	Name      string
	FileId    uint64
	FileType  uint16
	DateAdded uint64
}

// Readdir returns every entry in the directory named by dirId, in on-disk
// (hash or name) key order.
func (t *Tree) Readdir(dirId uint64) ([]DirEntry, error) {
	lower, upper := familyBounds(dirId, types.JObjTypeDirRec)
	var entries []DirEntry
	err := t.tree.Walk(t.rootAddr, lower, upper, func(key, value []byte) (bool, error) {
		name, err := decodeDrecName(key, t.hashedNames)
		if err != nil {
			return false, err
		}
		val, err := decodeDrecVal(value)
		if err != nil {
			return false, err
		}
		entries = append(entries, DirEntry{
			Name:      name,
			FileId:    val.FileId,
			FileType:  val.FileType(),
			DateAdded: val.DateAdded,
		})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// LookupEntry finds one named entry in a directory. It scans the directory's
// full entry range rather than seeking directly to a computed name hash, so
// it works the same way whether or not the volume uses hashed directory
// keys. Names are compared under Unicode NFD normalization, matching how
// APFS stores directory entry names pre-normalized on disk; a caller
// passing an NFC-composed name (the common case on other platforms) still
// finds the entry.
func (t *Tree) LookupEntry(dirId uint64, name string) (DirEntry, error) {
	entries, err := t.Readdir(dirId)
	if err != nil {
		return DirEntry{}, err
	}
	target := norm.NFD.String(name)
	for _, e := range entries {
		if norm.NFD.String(e.Name) == target {
			return e, nil
		}
	}
	return DirEntry{}, apfserr.Wrap(apfserr.ErrNotFound, "no directory entry named %q in directory %d", name, dirId)
}

// ResolveFileId maps a directory entry's FileId to the inode it names. On a
// volume with hardlink-map records, a FileId can be a sibling id rather than
// the target inode number directly; this follows that indirection when
// hardlinkMapRecords marks it as necessary for the given id.
func (t *Tree) ResolveFileId(fileId uint64) (uint64, error) {
	if !t.hardlinkMapRecords {
		return fileId, nil
	}
	_, value, err := t.tree.Lookup(t.rootAddr, exactRecordComparator(fileId, types.JObjTypeSiblingMap))
	if err != nil {
		// Not every FileId is a sibling id even on a hardlink-map-records
		// volume (primary links still point straight at the inode).
		return fileId, nil
	}
	if len(value) < 8 {
		return 0, apfserr.Wrap(apfserr.ErrNodeCorrupt, "sibling map value shorter than 8 bytes")
	}
	return leUint64(value[0:8]), nil
}

// Sibling is one hard-link name under which an inode is reachable.
type Sibling struct {
	SiblingId uint64
	ParentId  uint64
	Name      string
}

// Siblings returns every hard-link name registered against inodeId.
func (t *Tree) Siblings(inodeId uint64) ([]Sibling, error) {
	lower, upper := familyBounds(inodeId, types.JObjTypeSiblingLink)
	var out []Sibling
	err := t.tree.Walk(t.rootAddr, lower, upper, func(key, value []byte) (bool, error) {
		if len(key) < 16 {
			return false, apfserr.Wrap(apfserr.ErrNodeCorrupt, "sibling-link key shorter than 16 bytes")
		}
		siblingId := leUint64(key[8:16])
		if len(value) < 10 {
			return false, apfserr.Wrap(apfserr.ErrNodeCorrupt, "sibling-link value shorter than 10 bytes")
		}
		parentId := leUint64(value[0:8])
		nameLen := int(leUint16(value[8:10]))
		if 10+nameLen > len(value) {
			return false, apfserr.Wrap(apfserr.ErrNodeCorrupt, "sibling-link name runs past record end")
		}
		out = append(out, Sibling{SiblingId: siblingId, ParentId: parentId, Name: readCString(value[10 : 10+nameLen])})
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve walks path (already split on "/") from rootDirId, following
// directory entries and transparently dereferencing symlinks, and returns
// the inode id it names.
func (t *Tree) Resolve(rootDirId uint64, path []string) (uint64, error) {
	current := rootDirId
	depth := 0
	for _, component := range path {
		if component == "" {
			continue
		}
		inode, err := t.Inode(current)
		if err != nil {
			return 0, err
		}
		if !inode.IsDir() {
			return 0, apfserr.AtOid(apfserr.ErrNotADirectory, current, "path component %q", component)
		}
		entry, err := t.LookupEntry(current, component)
		if err != nil {
			return 0, err
		}
		target, err := t.ResolveFileId(entry.FileId)
		if err != nil {
			return 0, err
		}
		target, err = t.followSymlinks(target, &depth)
		if err != nil {
			return 0, err
		}
		current = target
	}
	return current, nil
}

// followSymlinks dereferences target while it names a symlink, up to
// maxSymlinkDepth hops total across the whole path resolution.
func (t *Tree) followSymlinks(target uint64, depth *int) (uint64, error) {
	for {
		inode, err := t.Inode(target)
		if err != nil {
			return 0, err
		}
		if inode.ModeField&types.ModeIFMT != types.ModeIFLNK {
			return target, nil
		}
		*depth++
		if *depth > maxSymlinkDepth {
			return 0, apfserr.AtOid(apfserr.ErrPathLoop, target, "exceeded %d symlink hops", maxSymlinkDepth)
		}
		linkText, err := t.ReadSymlinkTarget(target, inode)
		if err != nil {
			return 0, err
		}
		next, err := t.Resolve(types.RootDirInoNum, splitPath(string(linkText)))
		if err != nil {
			return 0, err
		}
		target = next
	}
}

func splitPath(p string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			if i > start {
				parts = append(parts, p[start:i])
			}
			start = i + 1
		}
	}
	if start < len(p) {
		parts = append(parts, p[start:])
	}
	return parts
}
