// Package gatekeeper is the Gatekeeper (spec.md component C8): the single
// cooperative worker that serialises every read, write, and format request
// against the recording system, rotating read -> write -> format one
// request per tick.
package gatekeeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"openenterprise/rsrecorder/addr"
	"openenterprise/rsrecorder/config"
	"openenterprise/rsrecorder/hal"
	"openenterprise/rsrecorder/partition"
	"openenterprise/rsrecorder/rsr"
	"openenterprise/rsrecorder/search"
	"openenterprise/rsrecorder/writer"
)

// Kind enumerates the three request classes the Gatekeeper serialises.
type Kind int

const (
	kindRead Kind = iota
	kindWrite
	kindFormat
)

// Enqueue-time errors (spec.md section 6, enqueue API error set).
var (
	ErrNotInitialised       = errors.New("gatekeeper: recording system not initialised")
	ErrBadPartitionID       = errors.New("gatekeeper: unknown partition id")
	ErrQueueFull            = errors.New("gatekeeper: queue full")
	ErrIncompatibleAlignment = errors.New("gatekeeper: tdr_bytes exceeds MaxTDRSize")
)

// ReadParams describes a read request's search parameters.
type ReadParams struct {
	PartitionID byte
	Direction   search.Direction
	Instance    int
	FilterID    bool
	RecordID    uint16
}

// WriteParams describes a write request.
type WriteParams struct {
	PartitionID      byte
	RecordID         uint16
	TDR              []byte
	ReadBackRequired bool
}

// Request is a handle returned by the Enqueue* calls. Done is closed once
// the Gatekeeper has processed the request (success or failure) —
// replacing the original's per-request semaphore with the idiomatic Go
// primitive (Design Notes, spec.md section 9).
type Request struct {
	kind Kind

	readParams   ReadParams
	writeParams  WriteParams
	formatPartID byte

	done       chan struct{}
	ReadResult search.Result
	Found      bool
	Status     writer.Status
	FormatPct  int
	Err        error
}

// Done returns a channel that is closed when the request completes.
func (r *Request) Done() <-chan struct{} { return r.done }

// Gatekeeper owns the bounded read/write/format queues and the single
// goroutine that drains them. Construct one per RecordingSystem instance;
// never a process-wide singleton (Design Notes).
type Gatekeeper struct {
	mgr *partition.Manager
	tr  *addr.Translator
	h   *hal.HAL
	eng *search.Engine

	logger *slog.Logger

	readQueue   chan *Request
	writeQueue  chan *Request
	formatQueue chan *Request

	initialised bool
}

// New constructs a Gatekeeper. Run must be called (typically in its own
// goroutine) to actually drain the queues.
func New(mgr *partition.Manager, tr *addr.Translator, h *hal.HAL, eng *search.Engine, logger *slog.Logger) *Gatekeeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gatekeeper{
		mgr:         mgr,
		tr:          tr,
		h:           h,
		eng:         eng,
		logger:      logger,
		readQueue:   make(chan *Request, config.ReadQueueDepth),
		writeQueue:  make(chan *Request, config.WriteQueueDepth),
		formatQueue: make(chan *Request, config.FormatQueueDepth),
		initialised: true,
	}
}

func (g *Gatekeeper) checkPartition(id byte) error {
	if !g.initialised {
		return ErrNotInitialised
	}
	if _, err := g.mgr.Partition(id); err != nil {
		return errors.Wrap(ErrBadPartitionID, err.Error())
	}
	return nil
}

// EnqueueRead validates and enqueues a read request (spec.md 4.8, 6).
func (g *Gatekeeper) EnqueueRead(p ReadParams) (*Request, error) {
	if err := g.checkPartition(p.PartitionID); err != nil {
		return nil, err
	}
	req := &Request{kind: kindRead, readParams: p, done: make(chan struct{})}
	select {
	case g.readQueue <- req:
		return req, nil
	default:
		return nil, ErrQueueFull
	}
}

// EnqueueWrite validates and enqueues a write request (spec.md 4.8, 6).
func (g *Gatekeeper) EnqueueWrite(p WriteParams) (*Request, error) {
	if err := g.checkPartition(p.PartitionID); err != nil {
		return nil, err
	}
	if len(p.TDR) > config.MaxTDRSize {
		return nil, ErrIncompatibleAlignment
	}
	req := &Request{kind: kindWrite, writeParams: p, done: make(chan struct{})}
	select {
	case g.writeQueue <- req:
		return req, nil
	default:
		return nil, ErrQueueFull
	}
}

// EnqueueFormat validates and enqueues a format request (spec.md 4.8, 6).
func (g *Gatekeeper) EnqueueFormat(partitionID byte) (*Request, error) {
	if err := g.checkPartition(partitionID); err != nil {
		return nil, err
	}
	req := &Request{kind: kindFormat, formatPartID: partitionID, done: make(chan struct{})}
	select {
	case g.formatQueue <- req:
		return req, nil
	default:
		return nil, ErrQueueFull
	}
}

// CursorQuery returns a partition's current cursor without going through
// the read queue — it's metadata, not a record fetch (spec.md's
// supplemented 0x2E subcommand 5 behavior).
func (g *Gatekeeper) CursorQuery(partitionID byte) (byte, uint32, error) {
	p, err := g.mgr.Partition(partitionID)
	if err != nil {
		return partitionID, 0, err
	}
	return partitionID, p.NextAvailableAddr, nil
}

// Run drains the three queues, rotating read -> write -> format, one
// request per tick, until ctx is cancelled (spec.md 4.8/5). Cancelling ctx
// is the Go-idiomatic form of the spec's "disable blocks until idle": Run
// finishes draining whatever request is currently in flight before
// returning, never dropping it.
func (g *Gatekeeper) Run(ctx context.Context) {
	ticker := time.NewTicker(config.TaskPeriodicity)
	defer ticker.Stop()

	queues := []chan *Request{g.readQueue, g.writeQueue, g.formatQueue}
	next := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q := queues[next]
			next = (next + 1) % len(queues)
			select {
			case req := <-q:
				g.process(context.WithoutCancel(ctx), req)
			default:
			}
		}
	}
}

func (g *Gatekeeper) process(ctx context.Context, req *Request) {
	switch req.kind {
	case kindRead:
		g.processRead(ctx, req)
	case kindWrite:
		g.processWrite(ctx, req)
	case kindFormat:
		g.processFormat(ctx, req)
	}
	close(req.done)
}

func (g *Gatekeeper) processRead(ctx context.Context, req *Request) {
	p := req.readParams
	readCtx, cancel := context.WithTimeout(ctx, config.ReadQueueTimeout)
	defer cancel()

	result, found, err := g.eng.Find(readCtx, search.Request{
		PartitionID: p.PartitionID,
		StartAddr:   req.startAddrForRead(g.mgr),
		Direction:   p.Direction,
		Instance:    p.Instance,
		FilterID:    p.FilterID,
		RecordID:    p.RecordID,
	})
	req.ReadResult = result
	req.Found = found
	req.Err = err
	if err != nil {
		g.logger.Warn("gatekeeper:read-failed", slog.String("err", err.Error()))
	}
}

// startAddrForRead resolves the scan starting point: the partition's data
// start for a forward search, or its current cursor for a backward search
// (mirroring P5's "backward search from next_available_addr").
func (r *Request) startAddrForRead(mgr *partition.Manager) uint32 {
	p, err := mgr.Partition(r.readParams.PartitionID)
	if err != nil {
		return 0
	}
	if r.readParams.Direction == search.Backward {
		return p.NextAvailableAddr
	}
	return p.StartAddr + config.HeaderSize
}

func (g *Gatekeeper) processWrite(ctx context.Context, req *Request) {
	p := req.writeParams
	writeCtx, cancel := context.WithTimeout(ctx, config.WriteQueueTimeout)
	defer cancel()

	buf := make([]byte, rsr.FrameLen(len(p.TDR)))
	copy(buf[rsr.BytesBeforeTDR:rsr.BytesBeforeTDR+len(p.TDR)], p.TDR)

	status, err := writer.WriteRecord(writeCtx, g.mgr, g.tr, g.h, g.logger, writer.WriteTarget{
		PartitionID:      p.PartitionID,
		RecordID:         p.RecordID,
		Buf:              buf,
		TDRLen:           len(p.TDR),
		ReadBackRequired: p.ReadBackRequired,
	})
	req.Status = status
	req.Err = err
	if err != nil {
		g.logger.Warn("gatekeeper:write-failed", slog.String("err", err.Error()))
	}
}

func (g *Gatekeeper) processFormat(ctx context.Context, req *Request) {
	formatCtx, cancel := context.WithTimeout(ctx, config.EraseTimeout)
	defer cancel()

	err := g.mgr.Format(formatCtx, req.formatPartID, func(pct int) { req.FormatPct = pct })
	req.Err = err
	if err != nil {
		g.logger.Warn("gatekeeper:format-failed", slog.String("err", err.Error()))
	}
}
