// Package main implements rsrcli, a diagnostic command line front end for
// the recording system: format/write/read/dump-page/status against a
// demonstration deployment backed by the in-memory device simulators.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"openenterprise/rsrecorder/rsys"
	"openenterprise/rsrecorder/version"
)

// system is the wired RecordingSystem instance every subcommand operates
// against. Set once in main before Execute runs.
var system *rsys.RecordingSystem

var rootCmd = &cobra.Command{
	Use:   "rsrcli",
	Short: "Inspect and drive a recording system over the simulated device HAL",
	Long: `rsrcli is a diagnostic tool for the flash/EEPROM recording system.

It runs the recording system against an in-memory simulation of the
configured NOR/SPI/I2C devices, so every subcommand is safe to run
repeatedly without touching real hardware.`,
	DisableFlagsInUseLine: true,
	SilenceUsage:          true,
	Version:               version.String(),
}

// Execute runs the root command, exiting the process on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
