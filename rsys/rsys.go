// Package rsys wires together the Device HAL, Address Translator, Page
// Codec, RSR Codec, Search Engine, Partition Manager, Append Engine, and
// Gatekeeper into one RecordingSystem value (spec.md's Design Notes,
// section 9: "encapsulate in a RecordingSystem value owned by one task; no
// process-wide singletons").
package rsys

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"openenterprise/rsrecorder/addr"
	"openenterprise/rsrecorder/config"
	"openenterprise/rsrecorder/gatekeeper"
	"openenterprise/rsrecorder/hal"
	"openenterprise/rsrecorder/partition"
	"openenterprise/rsrecorder/search"
)

// RecordingSystem is one fully-wired instance of the recording system.
// Construct one per deployment (or one per test); never share a package
// level singleton across goroutines that aren't the one running Run.
type RecordingSystem struct {
	Deployment config.Deployment
	HAL        *hal.HAL
	Translator *addr.Translator
	Partitions *partition.Manager
	Search     *search.Engine
	Gate       *gatekeeper.Gatekeeper

	logger *slog.Logger
}

// New lays out dep, builds the Translator/HAL/Partition Manager/Search
// Engine/Gatekeeper stack over reg, and recovers every partition's cursor
// via bisection (spec.md 4.5.2), as a cold-start recovery pass would.
func New(dep config.Deployment, reg *hal.Registry, logger *slog.Logger) (*RecordingSystem, error) {
	if logger == nil {
		logger = slog.Default()
	}

	laidOut, err := partition.Layout(dep)
	if err != nil {
		return nil, errors.Wrap(err, "rsys: layout")
	}

	tr, err := addr.NewTranslator(laidOut)
	if err != nil {
		return nil, errors.Wrap(err, "rsys: address translator")
	}

	h, err := hal.New(reg)
	if err != nil {
		return nil, errors.Wrap(err, "rsys: hal")
	}

	mgr, err := partition.NewManager(laidOut, tr, h, logger)
	if err != nil {
		return nil, errors.Wrap(err, "rsys: partition manager")
	}

	eng := search.New(h, tr, mgr, logger)
	gate := gatekeeper.New(mgr, tr, h, eng, logger)

	rs := &RecordingSystem{
		Deployment: laidOut,
		HAL:        h,
		Translator: tr,
		Partitions: mgr,
		Search:     eng,
		Gate:       gate,
		logger:     logger,
	}

	for _, p := range laidOut.Partitions {
		if err := eng.Bisect(context.Background(), p.ID); err != nil {
			logger.Warn("rsys:bisect-failed", slog.Int("partition", int(p.ID)), slog.String("err", err.Error()))
		}
	}

	return rs, nil
}

// Run starts the Gatekeeper's tick loop; blocks until ctx is cancelled.
func (rs *RecordingSystem) Run(ctx context.Context) {
	rs.Gate.Run(ctx)
}
