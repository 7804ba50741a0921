// Package search is the Search Engine (spec.md component C5): the
// next-free-address scan, the startup bisection that recovers a partition's
// write cursor, and forward/backward record search.
package search

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"openenterprise/rsrecorder/addr"
	"openenterprise/rsrecorder/config"
	"openenterprise/rsrecorder/hal"
	"openenterprise/rsrecorder/partition"
	"openenterprise/rsrecorder/rsr"
)

// SentinelAddress is returned by NextFreeAddress when a device read fails
// partway through the backward scan (spec.md 4.5.1).
const SentinelAddress uint32 = 0xFFFFFFFF

// Errors returned by the Search Engine.
var (
	ErrOutOfRange = errors.New("search: address outside partition range")
)

// Direction selects which way Find walks the partition.
type Direction int

const (
	Forward Direction = iota
	Backward
)

func (d Direction) String() string {
	if d == Backward {
		return "backward"
	}
	return "forward"
}

// Request describes one Find call (spec.md 4.5.3).
type Request struct {
	PartitionID byte
	StartAddr   uint32
	Direction   Direction
	Instance    int
	FilterID    bool
	RecordID    uint16
}

// Result is a located record, with addresses in the partition's logical
// address space rather than offsets into the scratch buffer, and its own
// copy of the TDR bytes, so it stays valid after later Find calls.
type Result struct {
	RSRStart uint32
	TDRStart uint32
	RecordID uint16
	TDRLen   int
	CRC      uint16
	TDR      []byte
}

// Engine owns the shared scratch buffer and the read-only view over the
// Translator and Partition Manager it searches through.
type Engine struct {
	hal    *hal.HAL
	tr     *addr.Translator
	mgr    *partition.Manager
	logger *slog.Logger

	scratch []byte
}

// New builds an Engine with the spec-mandated scratch buffer size,
// 2*(MaxTDRSize+8) (spec.md 4.5).
func New(h *hal.HAL, tr *addr.Translator, mgr *partition.Manager, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		hal:     h,
		tr:      tr,
		mgr:     mgr,
		logger:  logger,
		scratch: make([]byte, 2*(config.MaxTDRSize+8)),
	}
}

// NextFreeAddress finds the smallest logical address A >= logicalStart such
// that [A, logicalStart+byteCount) reads entirely blank, by scanning
// backward from the end in LocalBlockReadSize chunks (spec.md 4.5.1).
func (e *Engine) NextFreeAddress(ctx context.Context, logicalStart uint32, byteCount int) (uint32, error) {
	end := logicalStart + uint32(byteCount)
	pos := end
	totalBlank := 0

	for pos > logicalStart {
		select {
		case <-ctx.Done():
			return SentinelAddress, ctx.Err()
		default:
		}

		chunkLen := config.LocalBlockReadSize
		if uint32(chunkLen) > pos-logicalStart {
			chunkLen = int(pos - logicalStart)
		}
		chunkStart := pos - uint32(chunkLen)

		device, phys, err := e.tr.Translate(chunkStart, chunkLen)
		if err != nil {
			return SentinelAddress, err
		}
		buf := make([]byte, chunkLen)
		if err := e.hal.Read(device, phys, buf); err != nil {
			return SentinelAddress, err
		}

		nonBlankFound := false
		blankInChunk := 0
		for i := len(buf) - 1; i >= 0; i-- {
			if buf[i] != config.BlankByte {
				nonBlankFound = true
				break
			}
			blankInChunk++
		}
		totalBlank += blankInChunk
		pos = chunkStart
		if nonBlankFound {
			break
		}
	}

	return end - uint32(totalBlank), nil
}

func (e *Engine) blankCheckPage(p *partition.Partition, pageIdx int) (bool, error) {
	pageStart := p.StartAddr + uint32(pageIdx)*config.PageSize
	device, phys, err := e.tr.Translate(pageStart, config.PageSize)
	if err != nil {
		return false, err
	}
	return e.hal.BlankCheck(device, phys, config.PageSize)
}

// alignFreeAddress rounds a recovered free address up to the partition's
// device's required write alignment. The append engine pads an odd-length
// record written to a word-addressable device with one trailing blank byte
// (writer.evenWriteRequired) so every program call lands on an even,
// even-length run; that pad byte is indistinguishable from ordinary blank
// fill to NextFreeAddress's backward scan, which can therefore come back
// one byte short of the true, even write boundary. Byte-addressable
// devices have no such constraint and are returned unchanged.
func alignFreeAddress(p *partition.Partition, freeAddr uint32) uint32 {
	if p.Device == config.NOR && freeAddr%2 != 0 {
		return freeAddr + 1
	}
	return freeAddr
}

// Bisect recovers a partition's write cursor after a reset (spec.md 4.5.2):
// a page-level binary search for the boundary between written and blank
// pages, followed by a NextFreeAddress scan inside the boundary page.
func (e *Engine) Bisect(ctx context.Context, partitionID byte) error {
	p, err := e.mgr.Partition(partitionID)
	if err != nil {
		return err
	}

	// Binary search for the boundary page, terminating when the same mid
	// is recomputed twice in a row (spec.md 4.5.2) rather than on the
	// usual lo>hi condition: the repeated mid is itself the candidate,
	// whether its own blank-check came back blank or not.
	lo, hi := 0, p.PageCount-1
	prevMid := -1
	candidate := -1
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		mid := (lo + hi) / 2
		if mid == prevMid {
			candidate = mid
			break
		}
		prevMid = mid
		blank, err := e.blankCheckPage(p, mid)
		if err != nil {
			return err
		}
		if blank {
			hi = mid - 1
			if mid == 0 {
				return e.mgr.RecoverState(partitionID, p.StartAddr, 0, p.PageCount, p.PageCount, partition.ErrNeedsFormat)
			}
		} else {
			lo = mid + 1
		}
	}

	pageStart := p.StartAddr + uint32(candidate)*config.PageSize
	pageDataEnd := pageStart + config.PageSize
	dataStart := pageStart + config.HeaderSize
	freeAddr, err := e.NextFreeAddress(ctx, dataStart, config.PageSize-config.HeaderSize)
	if err != nil {
		return err
	}
	freeAddr = alignFreeAddress(p, freeAddr)

	if freeAddr >= pageDataEnd {
		// The candidate page filled completely: step into the next
		// page's post-header position.
		nextPageStart := pageStart + config.PageSize
		nextDataStart := nextPageStart + config.HeaderSize
		if nextPageStart > p.EndAddr || nextDataStart > p.EndAddr+1 {
			return e.mgr.RecoverState(partitionID, p.EndAddr+1, p.PageCount, 0, 0, partition.ErrPartitionFull)
		}
		fullPages := candidate + 1
		freePages := p.PageCount - fullPages
		return e.mgr.RecoverState(partitionID, nextDataStart, fullPages, freePages, freePages-1, nil)
	}

	fullPages := candidate
	freePages := p.PageCount - candidate
	return e.mgr.RecoverState(partitionID, freeAddr, fullPages, freePages, freePages-1, nil)
}

// fillWindow reads the given segments into e.scratch[:totalLength(segs)]
// and returns that slice.
func (e *Engine) fillWindow(segs []segment) ([]byte, error) {
	n := totalLength(segs)
	buf := e.scratch[:n]
	off := 0
	for _, s := range segs {
		device, phys, err := e.tr.Translate(s.logicalStart, s.length)
		if err != nil {
			return nil, err
		}
		if err := e.hal.Read(device, phys, buf[off:off+s.length]); err != nil {
			return nil, err
		}
		off += s.length
	}
	return buf, nil
}

// Find searches a partition for the instance'th record matching (or, if
// FilterID is false, any) record id, scanning forward or backward from
// StartAddr in scratch-buffer windows that skip page headers (spec.md
// 4.5.3). ctx cancellation (a timeout set by the caller) is polled at each
// window refill and aborts the search as "not found".
func (e *Engine) Find(ctx context.Context, req Request) (Result, bool, error) {
	p, err := e.mgr.Partition(req.PartitionID)
	if err != nil {
		return Result{}, false, err
	}

	cursor := req.StartAddr
	instanceCount := 0

	for {
		select {
		case <-ctx.Done():
			return Result{}, false, nil
		default:
		}

		if req.Direction == Forward {
			if cursor < p.StartAddr || cursor > p.EndAddr {
				return Result{}, false, nil
			}
		} else {
			if cursor <= p.StartAddr || cursor > p.EndAddr+1 {
				return Result{}, false, nil
			}
		}

		var segs []segment
		if req.Direction == Forward {
			segs, err = windowForward(p, cursor, len(e.scratch))
		} else {
			segs, err = windowBackward(p, cursor, len(e.scratch))
		}
		if err != nil {
			return Result{}, false, err
		}
		if len(segs) == 0 {
			return Result{}, false, nil
		}

		buf, err := e.fillWindow(segs)
		if err != nil {
			return Result{}, false, err
		}

		lastValidEnd := -1  // buffer offset just past the last validated RSR's ENDSYNC
		lastValidStart := -1 // buffer offset of the last validated RSR's SYNC

		scan := func(i int) (found bool, result Result) {
			rec, err := rsr.ParseAt(buf, i)
			if err != nil {
				return false, Result{}
			}
			if req.FilterID && rec.RecordID != req.RecordID {
				lastValidStart, lastValidEnd = i, i+rec.TotalLen
				return false, Result{}
			}
			if instanceCount == req.Instance {
				tdr := append([]byte(nil), buf[rec.TDRStart:rec.TDRStart+rec.TDRLen]...)
				return true, Result{
					RSRStart: logicalAt(segs, i),
					TDRStart: logicalAt(segs, rec.TDRStart),
					RecordID: rec.RecordID,
					TDRLen:   rec.TDRLen,
					CRC:      rec.CRC,
					TDR:      tdr,
				}
			}
			instanceCount++
			lastValidStart, lastValidEnd = i, i+rec.TotalLen
			return false, Result{}
		}

		if req.Direction == Forward {
			for i := 0; i < len(buf); i++ {
				if buf[i] != rsr.Sync {
					continue
				}
				if found, result := scan(i); found {
					return result, true, nil
				}
			}
			if lastValidEnd >= 0 {
				cursor = logicalAt(segs, lastValidEnd)
			} else {
				cursor = logicalAt(segs, len(buf))
			}
		} else {
			for i := len(buf) - 1; i >= 0; i-- {
				if buf[i] != rsr.Sync {
					continue
				}
				if found, result := scan(i); found {
					return result, true, nil
				}
			}
			if lastValidStart >= 0 {
				cursor = logicalAt(segs, lastValidStart)
			} else {
				cursor = logicalAt(segs, 0)
			}
		}
	}
}
