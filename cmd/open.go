package cmd

import (
	"github.com/spf13/cobra"

	"github.com/apfscore/apfsro/apfs"
	"github.com/apfscore/apfsro/internal/types"
	"github.com/google/uuid"
)

var (
	volumeIndex  int
	snapshotName string
)

func addVolumeFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&volumeIndex, "volume", 0, "volume index to operate on")
	cmd.Flags().StringVar(&snapshotName, "snapshot", "", "operate on a named snapshot (or its transaction id) instead of the live volume")
}

// openVolume mounts imagePath and opens the selected volume (--volume,
// default 0), substituting in its named snapshot when --snapshot is set.
// The caller is responsible for closing the returned container.
func openVolume(imagePath string) (*apfs.Container, *apfs.Volume, error) {
	cfg, err := imageConfig()
	if err != nil {
		return nil, nil, err
	}
	container, err := apfs.OpenImage(imagePath, cfg)
	if err != nil {
		return nil, nil, err
	}
	verbosef("mounted container %s (%d volume(s))\n", formatUUID(container.UUID()), container.VolumeCount())

	vol, err := container.OpenVolume(volumeIndex, effectivePassphrase())
	if err != nil {
		container.Close()
		return nil, nil, err
	}
	verbosef("opened volume %q (encrypted=%v locked=%v)\n", vol.Name(), vol.IsEncrypted(), vol.Locked())

	if snapshotName != "" {
		snap, err := vol.OpenSnapshot(snapshotName)
		if err != nil {
			container.Close()
			return nil, nil, err
		}
		verbosef("reading as of snapshot %q\n", snapshotName)
		vol = snap
	}
	return container, vol, nil
}

// resolvePath opens the inode named by a slash-separated path rooted at
// vol's root directory. An empty path, or "/", opens the root directory's
// own inode.
func resolvePath(vol *apfs.Volume, path string) (*apfs.Inode, error) {
	root, err := vol.RootDirectory()
	if err != nil {
		return nil, err
	}
	if path == "" || path == "/" {
		return &root.Inode, nil
	}
	return root.Resolve(path)
}

func formatUUID(u types.UUID) string {
	return uuid.UUID(u).String()
}
