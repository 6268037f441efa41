package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apfscore/apfsro/apfs"
)

var lsCmd = &cobra.Command{
	Use:   "ls <image> [path]",
	Short: "List a directory's entries",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/"
		if len(args) == 2 {
			path = args[1]
		}
		return runLs(args[0], path)
	},
}

func init() {
	addVolumeFlags(lsCmd)
	rootCmd.AddCommand(lsCmd)
}

func runLs(imagePath, path string) error {
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
	entries, err := dir.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Println(formatEntry(e))
	}
	return nil
}

func formatEntry(e apfs.DirEntry) string {
	switch e.Kind {
	case apfs.EntryDirectory:
		return e.Name + "/"
	case apfs.EntrySymlink:
		return e.Name + "@"
	default:
		return e.Name
	}
}
