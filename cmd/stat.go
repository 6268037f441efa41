package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apfscore/apfsro/apfs"
)

var statCmd = &cobra.Command{
	Use:   "stat <image> <path>",
	Short: "Print a file or directory's metadata",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStat(args[0], args[1])
	},
}

func init() {
	addVolumeFlags(statCmd)
	rootCmd.AddCommand(statCmd)
}

func runStat(imagePath, path string) error {
	container, vol, err := openVolume(imagePath)
	if err != nil {
		return err
	}
	defer container.Close()

	node, err := resolvePath(vol, path)
	if err != nil {
		return err
	}
	attrs, err := node.Attributes()
	if err != nil {
		return err
	}

	fmt.Printf("path:         %s\n", path)
	fmt.Printf("type:         %s\n", kindLabel(node))
	fmt.Printf("mode:         %#o\n", attrs.Mode)
	fmt.Printf("size:         %d\n", attrs.Size)
	fmt.Printf("uid/gid:      %d/%d\n", attrs.Uid, attrs.Gid)
	fmt.Printf("links:        %d\n", attrs.Nlink)
	fmt.Printf("created:      %s\n", attrs.CreateTime)
	fmt.Printf("modified:     %s\n", attrs.ModTime)
	fmt.Printf("changed:      %s\n", attrs.ChangeTime)
	fmt.Printf("accessed:     %s\n", attrs.AccessTime)

	if node.IsSymlink() {
		if target, err := node.ReadLink(); err == nil {
			fmt.Printf("target:       %s\n", target)
		}
	}
	if names, err := node.Xattrs(); err == nil && len(names) > 0 {
		fmt.Printf("xattrs:       %v\n", names)
	}
	return nil
}

func kindLabel(n *apfs.Inode) string {
	switch {
	case n.IsDir():
		return "directory"
	case n.IsSymlink():
		return "symlink"
	default:
		return "file"
	}
}
