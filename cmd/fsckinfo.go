package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apfscore/apfsro/apfs"
	"github.com/apfscore/apfsro/internal/types"
)

var fsckInfoCmd = &cobra.Command{
	Use:   "fsck-info <image>",
	Short: "Report checkpoint ring health and container counters (read-only, no repair)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFsckInfo(args[0])
	},
}

func init() {
	rootCmd.AddCommand(fsckInfoCmd)
}

func runFsckInfo(imagePath string) error {
	cfg, err := imageConfig()
	if err != nil {
		return err
	}
	container, err := apfs.OpenImage(imagePath, cfg)
	if err != nil {
		return err
	}
	defer container.Close()

	candidates, err := container.Diagnose()
	if err != nil {
		return err
	}
	fmt.Printf("checkpoint descriptor area: %d candidate block(s)\n", len(candidates))
	for _, c := range candidates {
		switch {
		case c.Chosen:
			fmt.Printf("  block %-8d xid=%-10d  MOUNTED\n", c.Addr, c.Xid)
		case c.Err != nil:
			fmt.Printf("  block %-8d                 not a superblock: %v\n", c.Addr, c.Err)
		default:
			fmt.Printf("  block %-8d xid=%-10d  superseded\n", c.Addr, c.Xid)
		}
	}

	counters := container.Counters()
	fmt.Printf("object checksums set:  %d\n", counters[types.NxCntrObjCksumSet])
	fmt.Printf("object checksums failed: %d\n", counters[types.NxCntrObjCksumFail])
	return nil
}
