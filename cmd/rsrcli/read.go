package main

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"openenterprise/rsrecorder/gatekeeper"
	"openenterprise/rsrecorder/search"
)

var (
	readPartitionID uint8
	readBackward    bool
	readInstance    int
	readFilterID    bool
	readRecordID    uint16
)

var readCmd = &cobra.Command{
	Use:                   "read",
	Short:                 "Search a partition for a record",
	Long:                  `Scans a partition forward (the default) or backward, optionally filtering by record id, and prints the nth matching instance.`,
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		direction := search.Forward
		if readBackward {
			direction = search.Backward
		}

		req, err := system.Gate.EnqueueRead(gatekeeper.ReadParams{
			PartitionID: readPartitionID,
			Direction:   direction,
			Instance:    readInstance,
			FilterID:    readFilterID,
			RecordID:    readRecordID,
		})
		if err != nil {
			return errors.Wrap(err, "enqueue read")
		}
		<-req.Done()
		if req.Err != nil {
			return errors.Wrap(req.Err, "read")
		}
		if !req.Found {
			fmt.Println("no matching record found")
			return nil
		}
		r := req.ReadResult
		fmt.Printf("record id=%#04x len=%d crc=%#04x rsr@%d tdr@%d\n", r.RecordID, r.TDRLen, r.CRC, r.RSRStart, r.TDRStart)
		fmt.Println(hex.EncodeToString(r.TDR))
		return nil
	},
}

func init() {
	readCmd.Flags().Uint8VarP(&readPartitionID, "partition", "p", 0, "partition id to search")
	readCmd.Flags().BoolVar(&readBackward, "backward", false, "scan backward from the current cursor instead of forward from the start")
	readCmd.Flags().IntVar(&readInstance, "instance", 0, "which matching occurrence to return, 0-indexed")
	readCmd.Flags().BoolVar(&readFilterID, "filter", false, "only count records matching --id")
	readCmd.Flags().Uint16VarP(&readRecordID, "id", "i", 0, "record id to filter on (requires --filter)")
	readCmd.MarkFlagRequired("partition")
	rootCmd.AddCommand(readCmd)
}
