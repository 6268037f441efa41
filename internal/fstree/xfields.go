package fstree

import (
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
)

// xfieldHeaderSize is the on-disk size of one x_field_t descriptor: type,
// flags (1 byte each), then a 2-byte data size.
const xfieldHeaderSize = 4

// xfBlobHeaderSize is the fixed portion of an xf_blob_t preceding its
// x_field_t array: xf_num_exts and xf_used_data, 2 bytes each.
const xfBlobHeaderSize = 4

// Field is one decoded extended field belonging to an inode or directory
// entry record.
type Field struct {
	Type  uint8
	Flags uint8
	Data  []byte
}

// parseXfBlob decodes the extended-field blob trailing an inode or
// directory-entry record's fixed fields: a small header giving the field
// count, followed by that many fixed-size x_field_t descriptors, followed
// by their data packed back to back and individually padded to a multiple
// of 8 bytes.
func parseXfBlob(raw []byte) ([]Field, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	if len(raw) < xfBlobHeaderSize {
		return nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "extended field blob shorter than its header")
	}
	numExts := binary.LittleEndian.Uint16(raw[0:2])
	descEnd := xfBlobHeaderSize + int(numExts)*xfieldHeaderSize
	if descEnd > len(raw) {
		return nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "extended field descriptor array runs past blob end")
	}

	fields := make([]Field, 0, numExts)
	dataOff := descEnd
	for i := 0; i < int(numExts); i++ {
		descOff := xfBlobHeaderSize + i*xfieldHeaderSize
		xType := raw[descOff]
		xFlags := raw[descOff+1]
		xSize := int(binary.LittleEndian.Uint16(raw[descOff+2 : descOff+4]))

		if dataOff+xSize > len(raw) {
			return nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "extended field %d data runs past blob end", i)
		}
		fields = append(fields, Field{Type: xType, Flags: xFlags, Data: raw[dataOff : dataOff+xSize]})

		dataOff += xSize
		if pad := dataOff % 8; pad != 0 {
			dataOff += 8 - pad
		}
	}
	return fields, nil
}

// findField returns the first field of the given type, if present.
func findField(fields []Field, fieldType uint8) (Field, bool) {
	for _, f := range fields {
		if f.Type == fieldType {
			return f, true
		}
	}
	return Field{}, false
}
