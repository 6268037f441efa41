package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apfscore/apfsro/apfs"
)

var treeCmd = &cobra.Command{
	Use:   "tree <image> [path]",
	Short: "Recursively list a directory's contents",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) == 2 {
			path = args[1]
		}
		return runTree(args[0], path)
	},
}

func init() {
	addVolumeFlags(treeCmd)
	rootCmd.AddCommand(treeCmd)
}

func runTree(imagePath, path string) error {
	container, vol, err := openVolume(imagePath)
	if err != nil {
		return err
	}
	defer container.Close()

	node, err := resolvePath(vol, path)
	if err != nil {
		return err
	}
	dir, err := node.Directory()
	if err != nil {
		return err
	}
	fmt.Println(path)
	return walkTree(dir, "")
}

func walkTree(dir *apfs.Directory, prefix string) error {
	entries, err := dir.Entries()
	if err != nil {
		return err
	}
	for i, e := range entries {
		last := i == len(entries)-1
		branch, childPrefix := "├── ", prefix+"│   "
		if last {
			branch, childPrefix = "└── ", prefix+"    "
		}
		fmt.Println(prefix + branch + formatEntry(e))

		if e.Kind != apfs.EntryDirectory {
			continue
		}
		child, err := dir.Lookup(e.Name)
		if err != nil {
			return err
		}
		childDir, err := child.Directory()
		if err != nil {
			return err
		}
		if err := walkTree(childDir, childPrefix); err != nil {
			return err
		}
	}
	return nil
}
