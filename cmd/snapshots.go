package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots <image>",
	Short: "List a volume's snapshots",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSnapshots(args[0])
	},
}

func init() {
	snapshotsCmd.Flags().IntVar(&volumeIndex, "volume", 0, "volume index to list snapshots for")
	rootCmd.AddCommand(snapshotsCmd)
}

func runSnapshots(imagePath string) error {
	container, vol, err := openVolume(imagePath)
	if err != nil {
		return err
	}
	defer container.Close()

	snaps, err := vol.Snapshots()
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("no snapshots")
		return nil
	}
	for _, s := range snaps {
		fmt.Printf("%-40s xid=%d created=%d changed=%d\n", s.Name, s.Xid, s.CreateTime, s.ChangeTime)
	}
	return nil
}
