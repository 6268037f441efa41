package fstree

import (
	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/types"
)

// Snapshot is one named, immutable point-in-time view of a volume. Its key
// encodes the transaction id at which it was taken; everything else about
// it is decoded straight off types.JSnapMetadataValT's field layout.
type Snapshot struct {
	Xid                 types.XidT
	Name                string
	CreateTime          uint64
	ChangeTime          uint64
	Inum                uint64
	ExtentrefTreeOid    types.OidT
	ExtentrefTreeType   uint32
	VolumeSuperblockOid types.OidT
	Flags               types.SnapMetaFlags
}

// snapMetadataFixedSize is types.JSnapMetadataValT's fixed portion, in its
// declared field order: ExtentrefTreeOid, SblockOid, CreateTime, ChangeTime,
// Inum (8 bytes each), ExtentrefTreeType, Flags (4 bytes each), NameLen (2
// bytes) — Name itself is variable-length and follows.
const snapMetadataFixedSize = 8*5 + 4*2 + 2

func decodeSnapMetadataVal(value []byte) (Snapshot, error) {
	if len(value) < snapMetadataFixedSize {
		return Snapshot{}, apfserr.Wrap(apfserr.ErrNodeCorrupt, "snapshot metadata value shorter than %d bytes", snapMetadataFixedSize)
	}
	s := Snapshot{
		ExtentrefTreeOid:    types.OidT(leUint64(value[0:8])),
		VolumeSuperblockOid: types.OidT(leUint64(value[8:16])),
		CreateTime:          leUint64(value[16:24]),
		ChangeTime:          leUint64(value[24:32]),
		Inum:                leUint64(value[32:40]),
		ExtentrefTreeType:   leUint32(value[40:44]),
		Flags:               types.SnapMetaFlags(leUint32(value[44:48])),
	}
	nameLen := int(leUint16(value[48:50]))
	if 50+nameLen > len(value) {
		return Snapshot{}, apfserr.Wrap(apfserr.ErrNodeCorrupt, "snapshot metadata name runs past record end")
	}
	s.Name = readCString(value[50 : 50+nameLen])
	return s, nil
}

// Snapshots lists every snapshot recorded against this volume, in
// transaction-id order. Snapshot metadata records share the file-system
// tree with every other record kind, keyed by the snapshot's own xid.
func (t *Tree) Snapshots() ([]Snapshot, error) {
	var out []Snapshot
	err := t.tree.Walk(t.rootAddr, nil, nil, func(key, value []byte) (bool, error) {
		hdr, err := decodeHeader(key)
		if err != nil {
			return false, err
		}
		if hdr.Type() != types.JObjTypeSnapMetadata {
			return true, nil
		}
		snap, err := decodeSnapMetadataVal(value)
		if err != nil {
			return false, err
		}
		snap.Xid = types.XidT(hdr.ObjId())
		out = append(out, snap)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// snapNameObjId is the fixed object id every snapshot-name record is keyed
// under (~0ULL, masked to the 60 bits a j_key_t header actually stores):
// these records exist purely to let a name resolve to a transaction id
// without scanning every snapshot-metadata record.
const snapNameObjId = types.ObjIdMask

// decodeSnapNameVal reads types.JSnapNameValT, whose only field is SnapXid.
func decodeSnapNameVal(value []byte) (types.XidT, error) {
	if len(value) < 8 {
		return 0, apfserr.Wrap(apfserr.ErrNodeCorrupt, "snapshot name value shorter than 8 bytes")
	}
	return types.XidT(leUint64(value[0:8])), nil
}

// SnapshotXidByName resolves a snapshot's name to the transaction id it was
// taken at, using the volume's name-to-xid index rather than scanning every
// snapshot-metadata record.
func (t *Tree) SnapshotXidByName(name string) (types.XidT, error) {
	lower, upper := familyBounds(snapNameObjId, types.JObjTypeSnapName)
	var found types.XidT
	var ok bool
	err := t.tree.Walk(t.rootAddr, lower, upper, func(key, value []byte) (bool, error) {
		if len(key) < 10 {
			return false, apfserr.Wrap(apfserr.ErrNodeCorrupt, "snapshot-name key shorter than 10 bytes")
		}
		nameLen := int(leUint16(key[8:10]))
		if 10+nameLen > len(key) {
			return false, apfserr.Wrap(apfserr.ErrNodeCorrupt, "snapshot-name key name runs past record end")
		}
		if readCString(key[10:10+nameLen]) != name {
			return true, nil
		}
		xid, err := decodeSnapNameVal(value)
		if err != nil {
			return false, err
		}
		found, ok = xid, true
		return false, nil
	})
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, apfserr.Wrap(apfserr.ErrNotFound, "no snapshot named %q", name)
	}
	return found, nil
}
