// Package writer is the Append Engine (spec.md component C7): frames a
// record into the caller's buffer and programs it at a partition's cursor,
// splitting across a page boundary when necessary.
package writer

import (
	"bytes"
	"context"
	"log/slog"

	"github.com/pkg/errors"

	"openenterprise/rsrecorder/addr"
	"openenterprise/rsrecorder/config"
	"openenterprise/rsrecorder/hal"
	"openenterprise/rsrecorder/page"
	"openenterprise/rsrecorder/partition"
	"openenterprise/rsrecorder/rsr"
)

// Status is the outcome of a WriteRecord call (spec.md 4.7 step 5).
type Status int

const (
	OK Status = iota
	OKPageFull
	InvalidAddresses
	Failed
)

func (s Status) String() string {
	switch s {
	case OK:
		return "ok"
	case OKPageFull:
		return "ok-page-full"
	case InvalidAddresses:
		return "invalid-addresses"
	case Failed:
		return "error"
	default:
		return "unknown"
	}
}

// Errors surfaced by the Append Engine.
var ErrDoesNotFit = errors.New("writer: record does not fit in current plus one more page")

// WriteTarget is the framing contract the type system enforces (Design
// Notes, spec.md section 9): Buf must be exactly
// rsr.BytesBeforeTDR+len(TDR)+rsr.BytesAfterTDR bytes, with TDR already
// copied into Buf[rsr.BytesBeforeTDR:rsr.BytesBeforeTDR+len(TDR)] — Frame
// fills in the surrounding envelope in place.
type WriteTarget struct {
	PartitionID     byte
	RecordID        uint16
	Buf             []byte
	TDRLen          int
	ReadBackRequired bool
}

func (t WriteTarget) frameLen() int { return rsr.FrameLen(t.TDRLen) }

// WriteRecord frames target.Buf in place and programs it at the
// partition's current cursor (spec.md 4.7). The cursor always advances,
// even on failure, so damaged bytes are skipped on retry.
func WriteRecord(ctx context.Context, mgr *partition.Manager, tr *addr.Translator, h *hal.HAL, logger *slog.Logger, target WriteTarget) (Status, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(target.Buf) != target.frameLen() {
		return InvalidAddresses, errors.New("writer: buffer does not match reserved envelope size")
	}

	p, err := mgr.Partition(target.PartitionID)
	if err != nil {
		return InvalidAddresses, err
	}

	frameLen := target.frameLen()
	pageIndex, pageStart, freeInPage, err := mgr.PageDetails(target.PartitionID, p.NextAvailableAddr)
	if err != nil {
		return InvalidAddresses, err
	}

	if err := rsr.Frame(target.Buf, target.Buf[rsr.BytesBeforeTDR:rsr.BytesBeforeTDR+target.TDRLen], target.RecordID); err != nil {
		return InvalidAddresses, err
	}

	// Word-addressable devices (NOR, spec.md 4.1) reject odd program
	// lengths. A record's framed length tracks its TDR length's parity, so
	// an odd-length TDR yields an odd frame; pad it with one blank byte so
	// every byte actually programmed to such a device is part of an even
	// run. The pad sits after ENDSYNC, indistinguishable from ordinary
	// blank fill to anything that scans forward for the next SYNC or
	// blank-checks the tail of a page, and keeps the cursor — which starts
	// page-aligned, hence even — even after every write, so the next
	// record's start address is even too.
	writeBuf := target.Buf
	if evenWriteRequired(p.Device) && frameLen%2 != 0 {
		padded := make([]byte, frameLen+1)
		copy(padded, target.Buf)
		padded[frameLen] = config.BlankByte
		writeBuf = padded
	}
	writeLen := len(writeBuf)

	// Fit check: the framed record must fit within the remainder of the
	// current page plus at most one more page (spec.md 4.7).
	if writeLen > freeInPage+config.PageSize-config.HeaderSize {
		return InvalidAddresses, ErrDoesNotFit
	}

	cursor := p.NextAvailableAddr
	var status Status
	var writeErr error

	if writeLen <= freeInPage {
		status, writeErr = writeSinglePage(ctx, mgr, tr, h, logger, target, writeBuf, pageIndex, pageStart, cursor, writeLen, freeInPage)
	} else {
		status, writeErr = writeSplitAcrossPage(ctx, mgr, tr, h, logger, target, writeBuf, pageStart, cursor, writeLen, freeInPage)
	}

	return status, writeErr
}

// evenWriteRequired reports whether dev's Program calls must land on an
// even address with an even byte count — true for the word-addressable
// NOR part (spec.md 4.1), false for the byte-addressable SPI/I2C parts.
func evenWriteRequired(dev config.DeviceKind) bool {
	return dev == config.NOR
}

func readBackVerify(h *hal.HAL, tr *addr.Translator, logicalAddr uint32, want []byte) error {
	remaining := len(want)
	offset := 0
	for remaining > 0 {
		chunk := config.LocalBlockReadSize
		if chunk > remaining {
			chunk = remaining
		}
		device, phys, err := tr.Translate(logicalAddr+uint32(offset), chunk)
		if err != nil {
			return err
		}
		got := make([]byte, chunk)
		if err := h.Read(device, phys, got); err != nil {
			return err
		}
		if !bytes.Equal(got, want[offset:offset+chunk]) {
			return errors.New("writer: read-back mismatch")
		}
		offset += chunk
		remaining -= chunk
	}
	return nil
}

func program(tr *addr.Translator, h *hal.HAL, logicalAddr uint32, data []byte) error {
	device, phys, err := tr.Translate(logicalAddr, len(data))
	if err != nil {
		return err
	}
	return h.Program(device, phys, data)
}

// writeSinglePage handles the case where the whole framed record fits in
// the current page (spec.md 4.7 step 2). When the record exactly fills a
// page that has a following page, the cursor ends just after that page's
// header. writeBuf is what's actually
// programmed — target.Buf, or target.Buf plus one pad byte on a
// word-addressable device (see evenWriteRequired).
func writeSinglePage(ctx context.Context, mgr *partition.Manager, tr *addr.Translator, h *hal.HAL, logger *slog.Logger, target WriteTarget, writeBuf []byte, pageIndex int, pageStart uint32, cursor uint32, writeLen, freeInPage int) (Status, error) {
	select {
	case <-ctx.Done():
		return Failed, ctx.Err()
	default:
	}

	writeErr := program(tr, h, cursor, writeBuf)
	if writeErr == nil && target.ReadBackRequired {
		writeErr = readBackVerify(h, tr, cursor, writeBuf)
	}

	newCursor := cursor + uint32(writeLen)
	_ = mgr.CursorSet(target.PartitionID, newCursor) // cursor advances even on failure

	if writeErr != nil {
		logger.Warn("writer:write-failed", slog.String("err", writeErr.Error()))
		return Failed, writeErr
	}

	if writeLen == freeInPage {
		_ = mgr.FlagPageFull(target.PartitionID)
		if err := writeNextPageHeader(mgr, tr, h, target.PartitionID, pageStart); err != nil {
			logger.Warn("writer:next-header-write-failed", slog.String("err", err.Error()))
		}
		// Step past the next page's header, if that page exists.
		nextDataStart := pageStart + config.PageSize + config.HeaderSize
		if p, err := mgr.Partition(target.PartitionID); err == nil && nextDataStart <= p.EndAddr+1 {
			_ = mgr.CursorSet(target.PartitionID, nextDataStart)
		}
		return OKPageFull, nil
	}
	return OK, nil
}

// writeSplitAcrossPage handles the case where the framed record crosses a
// page boundary (spec.md 4.7 step 3). writeBuf is what's actually
// programmed, per writeSinglePage's note above.
func writeSplitAcrossPage(ctx context.Context, mgr *partition.Manager, tr *addr.Translator, h *hal.HAL, logger *slog.Logger, target WriteTarget, writeBuf []byte, pageStart uint32, cursor uint32, writeLen, freeInPage int) (Status, error) {
	select {
	case <-ctx.Done():
		return Failed, ctx.Err()
	default:
	}

	first := writeBuf[:freeInPage]
	rest := writeBuf[freeInPage:]

	writeErr := program(tr, h, cursor, first)
	if writeErr == nil && target.ReadBackRequired {
		writeErr = readBackVerify(h, tr, cursor, first)
	}

	_ = mgr.FlagPageFull(target.PartitionID)
	nextPageStart := pageStart + config.PageSize
	if hdrErr := writeNextPageHeader(mgr, tr, h, target.PartitionID, pageStart); hdrErr != nil {
		logger.Warn("writer:next-header-write-failed", slog.String("err", hdrErr.Error()))
	}

	nextDataStart := nextPageStart + config.HeaderSize
	if writeErr == nil {
		writeErr = program(tr, h, nextDataStart, rest)
		if writeErr == nil && target.ReadBackRequired {
			writeErr = readBackVerify(h, tr, nextDataStart, rest)
		}
	}

	newCursor := nextDataStart + uint32(len(rest))
	_ = mgr.CursorSet(target.PartitionID, newCursor) // cursor advances even on failure

	if writeErr != nil {
		logger.Warn("writer:split-write-failed", slog.String("err", writeErr.Error()))
		return Failed, writeErr
	}
	return OK, nil
}

// writeNextPageHeader writes the header for the page immediately after
// pageStart. Failure here is non-fatal to the preceding record write
// (spec.md section 7).
func writeNextPageHeader(mgr *partition.Manager, tr *addr.Translator, h *hal.HAL, partitionID byte, pageStart uint32) error {
	nextPageStart := pageStart + config.PageSize
	p, err := mgr.Partition(partitionID)
	if err != nil {
		return err
	}
	if nextPageStart > p.EndAddr {
		return nil // no further page exists in this partition
	}
	device, phys, err := tr.Translate(nextPageStart, config.HeaderSize)
	if err != nil {
		return err
	}
	w := headerWriter{h: h, device: device}
	return page.WriteHeader(w, phys, partitionID, page.StatusOpen)
}

type headerWriter struct {
	h      *hal.HAL
	device config.DeviceKind
}

func (w headerWriter) Program(physAddr uint32, data []byte) error { return w.h.Program(w.device, physAddr, data) }
func (w headerWriter) Read(physAddr uint32, out []byte) error     { return w.h.Read(w.device, physAddr, out) }
