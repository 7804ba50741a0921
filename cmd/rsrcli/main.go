package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"openenterprise/rsrecorder/config"
	"openenterprise/rsrecorder/hal"
	"openenterprise/rsrecorder/rsys"
)

// demoRegistry builds a Registry of in-memory device simulators sized to
// match config.DefaultDeployment's physical arrangement. rsrcli has no
// real-hardware backend; it exists to exercise the recording system.
func demoRegistry() *hal.Registry {
	return hal.NewRegistry(map[config.DeviceKind]hal.Driver{
		config.NOR: hal.NewSimNOR(4*1024*1024, 131072),
		config.SPI: hal.NewSimSPI(1*1024*1024, config.SPIPageSize),
		config.I2C: hal.NewSimI2C(32*1024, config.I2CPageSize),
	})
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	rs, err := rsys.New(config.DefaultDeployment(), demoRegistry(), logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rsrcli: failed to start recording system:", err)
		os.Exit(1)
	}
	system = rs

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go rs.Run(ctx)

	Execute()
}
