package main

import (
	"fmt"
	"text/tabwriter"
	"os"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:                   "status",
	Short:                 "Summarise every partition's runtime state",
	Long:                  `Prints each partition's cursor, page counters, and error status, as recovered at startup or left by the most recent format/write.`,
	DisableFlagsInUseLine: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(os.Stdout, 0, 2, 2, ' ', 0)
		fmt.Fprintln(w, "partition\tdevice\tpages\tcursor\tfree\tfull\terror\tblank\tstatus")
		for _, p := range system.Partitions.All() {
			errStatus := "ok"
			if p.ErrorStatus != nil {
				errStatus = p.ErrorStatus.Error()
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%#08x\t%d\t%d\t%d\t%d\t%s\n",
				p.ID, p.Device, p.PageCount, p.NextAvailableAddr,
				p.FreePages, p.FullPages, p.ErrorPages, p.BlankHeadersAndPages, errStatus)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
