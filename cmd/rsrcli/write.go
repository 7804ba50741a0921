package main

import (
	"encoding/hex"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"openenterprise/rsrecorder/gatekeeper"
)

var (
	writePartitionID uint8
	writeRecordID    uint16
	writeDataHex     string
	writeReadBack    bool
)

var writeCmd = &cobra.Command{
	Use:                   "write",
	Short:                 "Append a record to a partition",
	Long:                  `Encodes --data (hex-encoded TDR bytes) into an RSR frame and appends it to the target partition's cursor.`,
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		tdr, err := hex.DecodeString(writeDataHex)
		if err != nil {
			return errors.Wrap(err, "decode --data as hex")
		}

		req, err := system.Gate.EnqueueWrite(gatekeeper.WriteParams{
			PartitionID:      writePartitionID,
			RecordID:         writeRecordID,
			TDR:              tdr,
			ReadBackRequired: writeReadBack,
		})
		if err != nil {
			return errors.Wrap(err, "enqueue write")
		}
		<-req.Done()
		if req.Err != nil {
			return errors.Wrap(req.Err, "write")
		}
		fmt.Printf("wrote %d TDR bytes to partition %d: %s\n", len(tdr), writePartitionID, req.Status)
		return nil
	},
}

func init() {
	writeCmd.Flags().Uint8VarP(&writePartitionID, "partition", "p", 0, "partition id to write to")
	writeCmd.Flags().Uint16VarP(&writeRecordID, "id", "i", 0, "record id")
	writeCmd.Flags().StringVarP(&writeDataHex, "data", "d", "", "hex-encoded TDR payload")
	writeCmd.Flags().BoolVar(&writeReadBack, "verify", false, "read back the frame after programming it")
	writeCmd.MarkFlagRequired("partition")
	writeCmd.MarkFlagRequired("data")
	rootCmd.AddCommand(writeCmd)
}
