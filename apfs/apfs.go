// Package apfs is the public entry point for reading an APFS container
// image: locating its checkpoint, mounting its volumes, and walking a
// volume's directory tree down to file content, without ever writing to
// the underlying source.
package apfs

import (
	"encoding/binary"

	"github.com/apfscore/apfsro/internal/apfserr"
	"github.com/apfscore/apfsro/internal/blockio"
	"github.com/apfscore/apfsro/internal/checkpoint"
	"github.com/apfscore/apfsro/internal/device"
	"github.com/apfscore/apfsro/internal/objects"
	"github.com/apfscore/apfsro/internal/types"
	"github.com/apfscore/apfsro/internal/volume"
)

// Container is a mounted APFS container image, opened read-only.
type Container struct {
	inner  *volume.Container
	closer func() error
}

// Open mounts the container found on src. src's block size is unknown in
// advance, so Open probes block zero at the on-disk minimum block size
// first to learn the container's actual nx_block_size, then builds the
// reader every later operation goes through.
func Open(src blockio.Source) (*Container, error) {
	reader, err := bootstrapReader(src)
	if err != nil {
		return nil, err
	}
	inner, err := volume.OpenContainer(reader, 0)
	if err != nil {
		return nil, err
	}
	return &Container{inner: inner}, nil
}

// OpenFile opens the raw disk image (or DMG already decoded to raw blocks)
// at path and mounts it the same way Open does.
func OpenFile(path string) (*Container, error) {
	f, err := blockio.OpenFile(path)
	if err != nil {
		return nil, err
	}
	c, err := Open(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	c.closer = f.Close
	return c, nil
}

// OpenImage opens path, whether it holds a raw APFS container, a
// partitioned disk image, or a .dmg, by first locating the container's
// byte offset (a GPT partition scan, then a direct magic check) and
// mounting from there. cfg is optional; pass nil to use device.LoadConfig's
// defaults.
func OpenImage(path string, cfg *device.Config) (*Container, error) {
	if cfg == nil {
		loaded, err := device.LoadConfig()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	f, offsetSrc, err := device.Open(path, cfg)
	if err != nil {
		return nil, err
	}
	c, err := Open(offsetSrc)
	if err != nil {
		f.Close()
		return nil, err
	}
	c.closer = f.Close
	return c, nil
}

// Close releases the source OpenFile or OpenImage opened. It is a no-op
// for a Container built over a caller-supplied Source via Open.
func (c *Container) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// UUID returns the container's unique identifier.
func (c *Container) UUID() types.UUID { return c.inner.UUID() }

// VolumeCount returns the number of volumes the container currently holds.
func (c *Container) VolumeCount() int { return c.inner.VolumeCount() }

// Counters returns the container's cumulative nx_counters_t block
// (object checksum successes/failures and other lifetime operation
// counts), exposed read-only.
func (c *Container) Counters() [types.NxNumCounters]uint64 { return c.inner.Counters() }

// CheckpointCandidate is one physical block examined while locating the
// container's checkpoint, reported by Diagnose.
type CheckpointCandidate struct {
	Addr   int64
	Xid    uint64
	Err    error
	Chosen bool
}

// Diagnose re-walks the checkpoint descriptor area and reports every
// candidate block it found there, including ones that failed validation
// and why. It is a read-only diagnostic: it never repairs anything, and a
// failed candidate here does not mean Open itself would fail, since Open
// only needs one valid checkpoint to succeed.
func (c *Container) Diagnose() ([]CheckpointCandidate, error) {
	raw, err := checkpoint.Diagnose(c.inner.Reader(), 0)
	if err != nil {
		return nil, err
	}
	out := make([]CheckpointCandidate, len(raw))
	for i, cand := range raw {
		out[i] = CheckpointCandidate{Addr: cand.Addr, Xid: uint64(cand.Xid), Err: cand.Err, Chosen: cand.Chosen}
	}
	return out, nil
}

// OpenVolume mounts the index'th volume (0-based, in on-disk order).
// passphrase unlocks an encrypted volume's file content immediately; pass
// the empty string to mount it locked and call Volume.Unlock later.
func (c *Container) OpenVolume(index int, passphrase string) (*Volume, error) {
	iv, err := c.inner.OpenVolume(index, passphrase)
	if err != nil {
		return nil, err
	}
	return &Volume{container: c, inner: iv, tree: iv.Tree()}, nil
}

// bootstrapReader reads block zero's raw bytes without checksum
// verification (a checksum covers the whole block, which is only knowable
// once nx_block_size itself has been read), decodes nx_block_size, and
// returns a reader built at the container's real block size.
func bootstrapReader(src blockio.Source) (*objects.Reader, error) {
	probe := objects.NewReader(blockio.NewBlockReader(src, types.NxMinimumBlockSize))
	_, raw, err := probe.ReadBlock(0, objects.ReadOptions{SkipChecksum: true})
	if err != nil {
		return nil, apfserr.WrapErr(apfserr.ErrNoValidCheckpoint, err, "probing block zero for container block size")
	}
	const blockSizeOffset = 36
	if len(raw) < blockSizeOffset+4 {
		return nil, apfserr.Wrap(apfserr.ErrTruncatedInput, "block zero too short to carry nx_block_size")
	}
	blockSize := binary.LittleEndian.Uint32(raw[blockSizeOffset : blockSizeOffset+4])
	if blockSize < types.NxMinimumBlockSize || blockSize > types.NxMaximumBlockSize {
		return nil, apfserr.Wrap(apfserr.ErrNodeCorrupt, "implausible block size %d", blockSize)
	}
	return objects.NewReader(blockio.NewBlockReader(src, blockSize)), nil
}
