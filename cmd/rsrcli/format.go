package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var formatPartitionID uint8

var formatCmd = &cobra.Command{
	Use:                   "format",
	Short:                 "Erase and reinitialise a partition",
	Long:                  `Erases every page of the target partition and writes a fresh page-0 header, then prints the progress value the format reached.`,
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		req, err := system.Gate.EnqueueFormat(formatPartitionID)
		if err != nil {
			return errors.Wrap(err, "enqueue format")
		}
		<-req.Done()
		if req.Err != nil {
			return errors.Wrap(req.Err, "format")
		}
		fmt.Printf("partition %d formatted (progress reached %d%%)\n", formatPartitionID, req.FormatPct)
		return nil
	},
}

func init() {
	formatCmd.Flags().Uint8VarP(&formatPartitionID, "partition", "p", 0, "partition id to format")
	formatCmd.MarkFlagRequired("partition")
	rootCmd.AddCommand(formatCmd)
}
