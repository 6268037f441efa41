package apfs

import (
	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/fstree"
	"github.com/apfscore/apfsro/internal/volume"
)

// Volume is one mounted volume inside a Container.
type Volume struct {
	container *Container
	inner     *volume.Volume
	tree      *fstree.Tree
}

// Name returns the volume's name.
func (v *Volume) Name() string { return v.inner.Name() }

// UUID returns the volume's unique identifier.
func (v *Volume) UUID() [16]byte { return v.inner.UUID() }

// IsEncrypted reports whether the volume's file content is encrypted.
func (v *Volume) IsEncrypted() bool { return v.inner.IsEncrypted() }

// Locked reports whether the volume is encrypted and has not yet been
// unlocked with a passphrase.
func (v *Volume) Locked() bool { return v.inner.Locked() }

// Unlock retries unlocking an encrypted volume that was opened without a
// passphrase, or with the wrong one.
func (v *Volume) Unlock(passphrase string) error {
	if err := v.inner.Unlock(v.container.inner, passphrase); err != nil {
		return err
	}
	v.tree = v.inner.Tree()
	return nil
}

// RootDirectory returns the volume's root directory, the starting point
// for every path resolution.
func (v *Volume) RootDirectory() (*Directory, error) {
	return v.directoryAt(v.inner.RootDirectory())
}

func (v *Volume) directoryAt(objId uint64) (*Directory, error) {
	if v.tree == nil {
		return nil, apfserr.Wrap(apfserr.ErrLocked, "volume %q is locked", v.Name())
	}
	raw, err := v.tree.Inode(objId)
	if err != nil {
		return nil, err
	}
	if !raw.IsDir() {
		return nil, apfserr.Wrap(apfserr.ErrNotADirectory, "object id %d is not a directory", objId)
	}
	return &Directory{Inode: Inode{volume: v, objId: objId, raw: raw}}, nil
}

// Snapshot describes one named, immutable point-in-time view of a volume.
type Snapshot struct {
	Name       string
	Xid        uint64
	CreateTime uint64
	ChangeTime uint64
}

// Snapshots lists every snapshot recorded against this volume.
func (v *Volume) Snapshots() ([]Snapshot, error) {
	if v.tree == nil {
		return nil, apfserr.Wrap(apfserr.ErrLocked, "volume %q is locked", v.Name())
	}
	raw, err := v.tree.Snapshots()
	if err != nil {
		return nil, err
	}
	out := make([]Snapshot, len(raw))
	for i, s := range raw {
		out[i] = Snapshot{Name: s.Name, Xid: uint64(s.Xid), CreateTime: s.CreateTime, ChangeTime: s.ChangeTime}
	}
	return out, nil
}

// OpenSnapshot returns a Volume handle reading the file-system tree as it
// existed at the named snapshot, or, if no snapshot has that name, at the
// transaction id nameOrXid parses as. The returned handle shares this
// Volume's encryption state but reads through its own tree, independent of
// later Unlock calls on the live volume.
func (v *Volume) OpenSnapshot(nameOrXid string) (*Volume, error) {
	if v.tree == nil {
		return nil, apfserr.Wrap(apfserr.ErrLocked, "volume %q is locked", v.Name())
	}
	tree, err := v.inner.OpenSnapshot(nameOrXid)
	if err != nil {
		return nil, err
	}
	return &Volume{container: v.container, inner: v.inner, tree: tree}, nil
}
