package main

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"openenterprise/rsrecorder/config"
	"openenterprise/rsrecorder/page"
)

var (
	dumpPartitionID uint8
	dumpPageIndex   int
)

var dumpPageCmd = &cobra.Command{
	Use:                   "dump-page",
	Short:                 "Print a partition's page header",
	Long:                  `Reads and classifies the 16-byte header at the start of --page within --partition.`,
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := system.Partitions.Partition(dumpPartitionID)
		if err != nil {
			return errors.Wrap(err, "partition")
		}
		if dumpPageIndex < 0 || dumpPageIndex >= p.PageCount {
			return fmt.Errorf("page %d out of range for partition %d (%d pages)", dumpPageIndex, dumpPartitionID, p.PageCount)
		}

		pageStart := p.StartAddr + uint32(dumpPageIndex)*config.PageSize
		_, physAddr, err := system.Translator.Translate(pageStart, config.HeaderSize)
		if err != nil {
			return errors.Wrap(err, "translate page address")
		}

		buf := make([]byte, config.HeaderSize)
		if err := system.HAL.Read(p.Device, physAddr, buf); err != nil {
			return errors.Wrap(err, "read header")
		}

		status, h, err := page.CheckHeader(buf, p.ID)
		if err != nil {
			return errors.Wrap(err, "check header")
		}
		fmt.Printf("partition %d page %d: status=%s format=%#02x partition-id=%d checksum=%#02x error-code=%#02x error-addr=%#04x\n",
			p.ID, dumpPageIndex, status, h.FormatCode, h.PartitionID, h.Checksum, h.ErrorCode, h.ErrorAddress)
		return nil
	},
}

func init() {
	dumpPageCmd.Flags().Uint8VarP(&dumpPartitionID, "partition", "p", 0, "partition id")
	dumpPageCmd.Flags().IntVar(&dumpPageIndex, "page", 0, "zero-based page index within the partition")
	dumpPageCmd.MarkFlagRequired("partition")
	rootCmd.AddCommand(dumpPageCmd)
}
