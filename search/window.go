package search

import (
	"openenterprise/rsrecorder/config"
	"openenterprise/rsrecorder/partition"
)

// segment is one contiguous logical data-region read, used to fill the
// scratch buffer while skipping page headers (spec.md 4.5.3, "window read
// setup").
type segment struct {
	logicalStart uint32
	length       int
}

// windowForward builds the (at most two) segments needed to fill want bytes
// of page *data* starting at dataAddr, skipping header bytes at page
// boundaries, clipped to the partition's end address.
func windowForward(p *partition.Partition, dataAddr uint32, want int) ([]segment, error) {
	if dataAddr < p.StartAddr || dataAddr > p.EndAddr+1 {
		return nil, ErrOutOfRange
	}
	var segs []segment
	addr := dataAddr
	remaining := want

	for pass := 0; pass < 2 && remaining > 0; pass++ {
		if addr > p.EndAddr {
			break
		}
		pageIdx := int((addr - p.StartAddr) / config.PageSize)
		pageStart := p.StartAddr + uint32(pageIdx)*config.PageSize
		pageDataEnd := pageStart + config.PageSize
		avail := int(pageDataEnd - addr)
		if avail > int(p.EndAddr+1-addr) {
			avail = int(p.EndAddr + 1 - addr)
		}
		take := remaining
		if take > avail {
			take = avail
		}
		if take <= 0 {
			break
		}
		segs = append(segs, segment{logicalStart: addr, length: take})
		remaining -= take
		addr = pageStart + config.PageSize + config.HeaderSize
	}
	return segs, nil
}

// windowBackward builds the (at most two) segments needed to fill want
// bytes of page data ending just before dataEnd (exclusive), walking
// backward across page boundaries and skipping header bytes. Per spec.md
// 4.5.3, backward windows exclude dataEnd itself from the current window.
func windowBackward(p *partition.Partition, dataEnd uint32, want int) ([]segment, error) {
	if dataEnd < p.StartAddr || dataEnd > p.EndAddr+1 {
		return nil, ErrOutOfRange
	}
	var segs []segment
	addr := dataEnd
	remaining := want

	for pass := 0; pass < 2 && remaining > 0; pass++ {
		if addr <= p.StartAddr {
			break
		}
		pageIdx := int((addr - 1 - p.StartAddr) / config.PageSize)
		pageStart := p.StartAddr + uint32(pageIdx)*config.PageSize
		pageDataStart := pageStart + config.HeaderSize
		if pageDataStart < p.StartAddr {
			pageDataStart = p.StartAddr
		}
		avail := int(addr - pageDataStart)
		take := remaining
		if take > avail {
			take = avail
		}
		if take <= 0 {
			break
		}
		start := addr - uint32(take)
		segs = append([]segment{{logicalStart: start, length: take}}, segs...)
		remaining -= take
		addr = pageStart
	}
	return segs, nil
}

// totalLength sums the lengths of a segment list.
func totalLength(segs []segment) int {
	n := 0
	for _, s := range segs {
		n += s.length
	}
	return n
}

// logicalAt maps a buffer offset (0-based across the concatenated segments)
// back to its logical data address.
func logicalAt(segs []segment, offset int) uint32 {
	for _, s := range segs {
		if offset < s.length {
			return s.logicalStart + uint32(offset)
		}
		offset -= s.length
	}
	if len(segs) == 0 {
		return 0
	}
	last := segs[len(segs)-1]
	return last.logicalStart + uint32(last.length)
}
