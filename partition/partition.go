// Package partition is the Partition Manager (spec.md component C6): it
// owns each partition's mutable runtime state exclusively (spec.md section
// 3, Ownership), computes its address layout, and runs whole-partition
// format.
package partition

import (
	"context"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"openenterprise/rsrecorder/addr"
	"openenterprise/rsrecorder/config"
	"openenterprise/rsrecorder/hal"
	"openenterprise/rsrecorder/page"
)

// Errors surfaced by the Partition Manager.
var (
	ErrNoSuchPartition = errors.New("partition: no such partition id")
	ErrBadCursor       = errors.New("partition: cursor address outside partition range")
	ErrPartitionFull   = errors.New("partition: no free pages remain")
	ErrNeedsFormat     = errors.New("partition: needs format")
	ErrEraseFailed     = errors.New("partition: erase failure")
	ErrBlankCheckFail  = errors.New("partition: partition did not read blank after erase")
	ErrHeaderWrite     = errors.New("partition: page 0 header write failed")
)

// SegmentWords and SegmentWordSize implement the 0xDB opcode's addressing
// rule (spec.md section 6): segment_index * 512 words, added to the
// partition's start address. The opcode dispatcher itself is out of scope;
// this is the pure arithmetic a future dispatcher would call.
const (
	SegmentWords    = 512
	SegmentWordSize = 2
)

// Partition is one partition's full state: the immutable layout (mirrored
// from addr.Mapping) plus the runtime counters the Manager exclusively
// mutates (spec.md section 3).
type Partition struct {
	ID        byte
	Device    config.DeviceKind
	PageCount int
	StartAddr uint32
	EndAddr   uint32

	mu sync.Mutex

	NextAvailableAddr    uint32
	ErrorStatus          error
	FreePages            int
	FullPages            int
	UnusablePages        int
	ErrorPages           int
	BlankHeadersAndPages int
}

// Manager is the Partition Manager. One Manager owns every partition in a
// deployment; constructed once, never a process-wide singleton (Design
// Notes, spec.md section 9).
type Manager struct {
	hal    *hal.HAL
	tr     *addr.Translator
	logger *slog.Logger

	partitions []*Partition
	byID       map[byte]*Partition
}

// NewManager builds a Manager over a laid-out deployment (see Layout) and
// its matching Translator. All partitions start with FreePages == PageCount
// and NextAvailableAddr == StartAddr; callers that are recovering from a
// reset should follow construction with search.Bisect per partition to
// restore the true cursor (spec.md section 4.5.2).
func NewManager(dep config.Deployment, tr *addr.Translator, h *hal.HAL, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{hal: h, tr: tr, logger: logger, byID: make(map[byte]*Partition)}

	for _, row := range dep.Partitions {
		mapping, ok := tr.MappingByID(row.ID)
		if !ok {
			return nil, errors.Wrapf(ErrNoSuchPartition, "id %d", row.ID)
		}
		p := &Partition{
			ID:                row.ID,
			Device:            row.Device,
			PageCount:         row.PageCount,
			StartAddr:         mapping.StartAddr,
			EndAddr:           mapping.EndAddr,
			NextAvailableAddr: mapping.StartAddr,
			FreePages:         row.PageCount,
		}
		m.partitions = append(m.partitions, p)
		m.byID[row.ID] = p
	}

	logger.Info("partition:manager-ready", slog.Int("partitions", len(m.partitions)))
	return m, nil
}

// Partition returns the runtime state for a partition id.
func (m *Manager) Partition(id byte) (*Partition, error) {
	p, ok := m.byID[id]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchPartition, "id %d", id)
	}
	return p, nil
}

// IndexForID returns the declaration-order index of a partition id, or
// false if unknown (spec.md 4.6, linear lookup).
func (m *Manager) IndexForID(id byte) (int, bool) {
	for i, p := range m.partitions {
		if p.ID == id {
			return i, true
		}
	}
	return 0, false
}

// All returns every managed partition, in declaration order, for
// diagnostics.
func (m *Manager) All() []*Partition {
	return m.partitions
}

// CursorSet accepts a logical address within the partition and installs it
// as NextAvailableAddr (spec.md 4.6, 4.7 step 4). Rejects anything outside
// [StartAddr, EndAddr+1].
func (m *Manager) CursorSet(id byte, logicalAddr uint32) error {
	p, err := m.Partition(id)
	if err != nil {
		return err
	}
	if logicalAddr < p.StartAddr || logicalAddr > p.EndAddr+1 {
		return ErrBadCursor
	}
	p.mu.Lock()
	p.NextAvailableAddr = logicalAddr
	p.mu.Unlock()
	return nil
}

// RecoverState installs the result of a startup bisection+scan (spec.md
// 4.5.2 "update per-partition counters accordingly"): the recovered cursor,
// the full/free/blank-page counts, and the resulting error status (nil if
// none). Apart from Format, FlagPageFull and CursorSet, it is the only way
// runtime state changes, keeping the Search Engine a pure reader (Design Notes, spec.md
// section 9) and the Partition Manager the sole mutator.
func (m *Manager) RecoverState(id byte, nextAvailableAddr uint32, fullPages, freePages, blankPages int, errStatus error) error {
	p, err := m.Partition(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.NextAvailableAddr = nextAvailableAddr
	p.FullPages = fullPages
	p.FreePages = freePages
	p.BlankHeadersAndPages = blankPages
	p.ErrorStatus = errStatus
	return nil
}

// FlagPageFull accounts for a page transitioning to full: decrements
// FreePages, increments FullPages, and sets the partition's error status to
// ErrPartitionFull once FreePages reaches zero (spec.md 4.6).
func (m *Manager) FlagPageFull(id byte) error {
	p, err := m.Partition(id)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.FreePages > 0 {
		p.FreePages--
	}
	p.FullPages++
	if p.FreePages == 0 {
		p.ErrorStatus = ErrPartitionFull
		m.logger.Warn("partition:full", slog.Int("id", int(id)))
	}
	return nil
}

// PageDetails returns the zero-based page index the cursor currently lives
// in, the page's logical start address, and the number of free bytes
// remaining to the end of that page's data region (spec.md 4.7 step 1).
func (m *Manager) PageDetails(id byte, cursor uint32) (pageIndex int, pageStart uint32, freeInPage int, err error) {
	p, err := m.Partition(id)
	if err != nil {
		return 0, 0, 0, err
	}
	if cursor < p.StartAddr || cursor > p.EndAddr+1 {
		return 0, 0, 0, ErrBadCursor
	}
	offset := cursor - p.StartAddr
	pageIndex = int(offset / config.PageSize)
	pageStart = p.StartAddr + uint32(pageIndex)*config.PageSize
	pageEnd := pageStart + config.PageSize
	freeInPage = int(pageEnd - cursor)
	return pageIndex, pageStart, freeInPage, nil
}

// SegmentAddress computes the logical address for the 0xDB segment-dump
// opcode: segmentIndex * 512 words, offset from the partition's start
// address (spec.md section 6, grounded on rspartition.c's segment helper —
// supplemented here as a pure library function since the opcode dispatcher
// itself stays out of scope).
func (m *Manager) SegmentAddress(id byte, segmentIndex int) (uint32, error) {
	p, err := m.Partition(id)
	if err != nil {
		return 0, err
	}
	return p.StartAddr + uint32(segmentIndex*SegmentWords*SegmentWordSize), nil
}

// deviceWriter adapts the Manager's HAL+device pair to page.Writer for a fixed
// device kind.
type deviceWriter struct {
	h    *hal.HAL
	kind config.DeviceKind
}

func (w deviceWriter) Program(physAddr uint32, data []byte) error {
	return w.h.Program(w.kind, physAddr, data)
}
func (w deviceWriter) Read(physAddr uint32, out []byte) error {
	return w.h.Read(w.kind, physAddr, out)
}

// Format erases a partition's whole byte range, blank-checks it, and
// writes only page 0's header (spec.md 4.6 — deliberately not every page's
// header; see DESIGN.md for why this departs from the upstream behavior).
// progress, if non-nil, is called with the sequence 0, 1, 29, 30, 49, 50,
// 100 as the operation proceeds, matching the spec's progress contract.
func (m *Manager) Format(ctx context.Context, id byte, progress func(pct int)) error {
	p, err := m.Partition(id)
	if err != nil {
		return err
	}
	report := func(pct int) {
		if progress != nil {
			progress(pct)
		}
	}

	report(0)
	m.logger.Info("partition:format-start", slog.Int("id", int(id)))

	blockSize, err := m.hal.BlockSize(p.Device)
	if err != nil {
		return err
	}

	byteSpan := p.EndAddr - p.StartAddr + 1
	device, physStart, err := m.tr.Translate(p.StartAddr, 1)
	if err != nil {
		return err
	}
	for off := uint32(0); off < byteSpan; off += uint32(blockSize) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := m.hal.EraseSector(device, physStart+off); err != nil {
			return errors.Wrap(ErrEraseFailed, err.Error())
		}
	}
	report(1)
	report(29)

	report(30)
	blank, err := m.hal.BlankCheck(device, physStart, int(byteSpan))
	if err != nil {
		return errors.Wrap(ErrBlankCheckFail, err.Error())
	}
	if !blank {
		return ErrBlankCheckFail
	}
	report(49)

	report(50)
	w := deviceWriter{h: m.hal, kind: p.Device}
	if err := page.WriteHeader(w, physStart, id, page.StatusClosed); err != nil {
		return errors.Wrap(ErrHeaderWrite, err.Error())
	}
	report(100)

	p.mu.Lock()
	p.NextAvailableAddr = p.StartAddr + config.HeaderSize
	p.ErrorStatus = nil
	p.FreePages = p.PageCount
	p.FullPages = 0
	p.UnusablePages = 0
	p.ErrorPages = 0
	p.BlankHeadersAndPages = p.PageCount - 1
	p.mu.Unlock()

	m.logger.Info("partition:format-complete", slog.Int("id", int(id)))
	return nil
}
