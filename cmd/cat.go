package cmd

import (
	"io"
	"os"

	"github.com/spf13/cobra"
)

var catCmd = &cobra.Command{
	Use:   "cat <image> <path>",
	Short: "Write a file's content to stdout",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCat(args[0], args[1])
	},
}

func init() {
	addVolumeFlags(catCmd)
	rootCmd.AddCommand(catCmd)
}

func runCat(imagePath, path string) error {
	container, vol, err := openVolume(imagePath)
	if err != nil {
		return err
	}
	defer container.Close()

	node, err := resolvePath(vol, path)
	if err != nil {
		return err
	}
	if node.IsSymlink() {
		target, err := node.ReadLink()
		if err != nil {
			return err
		}
		node, err = resolvePath(vol, target)
		if err != nil {
			return err
		}
	}

	size, err := node.Size()
	if err != nil {
		return err
	}
	_, err = io.Copy(os.Stdout, io.NewSectionReader(node, 0, int64(size)))
	return err
}
