package writer

import (
	"context"
	"testing"

	"openenterprise/rsrecorder/addr"
	"openenterprise/rsrecorder/config"
	"openenterprise/rsrecorder/hal"
	"openenterprise/rsrecorder/page"
	"openenterprise/rsrecorder/partition"
	"openenterprise/rsrecorder/rsr"
)

func testRig(t *testing.T) (*partition.Manager, *addr.Translator, *hal.HAL) {
	t.Helper()
	dep := config.DefaultDeployment()
	laidOut, err := partition.Layout(dep)
	if err != nil {
		t.Fatalf("Layout() error = %v", err)
	}
	tr, err := addr.NewTranslator(laidOut)
	if err != nil {
		t.Fatalf("NewTranslator() error = %v", err)
	}
	reg := hal.NewRegistry(map[config.DeviceKind]hal.Driver{
		config.NOR: hal.NewSimNOR(4*1024*1024, 131072),
		config.SPI: hal.NewSimSPI(1*1024*1024, config.SPIPageSize),
		config.I2C: hal.NewSimI2C(32*1024, config.I2CPageSize),
	})
	h, err := hal.New(reg)
	if err != nil {
		t.Fatalf("hal.New() error = %v", err)
	}
	mgr, err := partition.NewManager(laidOut, tr, h, nil)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return mgr, tr, h
}

func buildTarget(id byte, recordID uint16, tdr []byte, readBack bool) WriteTarget {
	buf := make([]byte, rsr.FrameLen(len(tdr)))
	copy(buf[rsr.BytesBeforeTDR:rsr.BytesBeforeTDR+len(tdr)], tdr)
	return WriteTarget{
		PartitionID:      id,
		RecordID:         recordID,
		Buf:              buf,
		TDRLen:           len(tdr),
		ReadBackRequired: readBack,
	}
}

func TestWriteRecordSingleWriteMatchesSpecExample(t *testing.T) {
	mgr, tr, h := testRig(t)
	if err := mgr.Format(context.Background(), 11, nil); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	p, _ := mgr.Partition(11)
	cursorBefore := p.NextAvailableAddr

	target := buildTarget(11, 0x0042, []byte{0xAA, 0xBB, 0xCC}, true)
	status, err := WriteRecord(context.Background(), mgr, tr, h, nil, target)
	if err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}
	if status != OK {
		t.Errorf("status = %v, want OK", status)
	}

	device, phys, err := tr.Translate(cursorBefore, len(target.Buf))
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	got := make([]byte, len(target.Buf))
	if err := h.Read(device, phys, got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	want := []byte{0xE1, 0x42, 0x00, 0x03, 0x00, 0xAA, 0xBB, 0xCC}
	for i, b := range want {
		if got[i] != b {
			t.Errorf("byte %d = %#x, want %#x", i, got[i], b)
		}
	}
	if got[len(got)-1] != rsr.EndSync {
		t.Errorf("last byte = %#x, want ENDSYNC", got[len(got)-1])
	}

	// The framed record is 11 bytes, odd; partition 11 is on the
	// word-addressable NOR device, so the append engine pads it with one
	// blank byte before programming and advances the cursor past the pad.
	wantCursor := cursorBefore + uint32(len(target.Buf)) + 1
	if p.NextAvailableAddr != wantCursor {
		t.Errorf("NextAvailableAddr = %d, want %d", p.NextAvailableAddr, wantCursor)
	}
}

// TestWriteRecordOddLengthOnNORIsPadded covers the NOR-specific case
// directly: an odd-length TDR yields an odd frame, which the
// word-addressable NOR device (partition 11) would otherwise reject
// outright. The append engine must pad it to an even program length,
// leaving the pad byte blank and advancing the cursor past it.
func TestWriteRecordOddLengthOnNORIsPadded(t *testing.T) {
	mgr, tr, h := testRig(t)
	if err := mgr.Format(context.Background(), 11, nil); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	p, _ := mgr.Partition(11)
	cursorBefore := p.NextAvailableAddr

	tdr := []byte{1, 2, 3, 4, 5} // frameLen = 5+5+3 = 13, odd
	target := buildTarget(11, 0x55, tdr, true)
	if len(target.Buf)%2 == 0 {
		t.Fatalf("test fixture error: frame length %d is even, want odd", len(target.Buf))
	}

	status, err := WriteRecord(context.Background(), mgr, tr, h, nil, target)
	if err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}
	if status != OK {
		t.Errorf("status = %v, want OK", status)
	}

	device, phys, err := tr.Translate(cursorBefore, len(target.Buf)+1)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	got := make([]byte, len(target.Buf)+1)
	if err := h.Read(device, phys, got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got[len(got)-2] != rsr.EndSync {
		t.Errorf("byte before pad = %#x, want ENDSYNC", got[len(got)-2])
	}
	if got[len(got)-1] != config.BlankByte {
		t.Errorf("pad byte = %#x, want blank (%#x)", got[len(got)-1], config.BlankByte)
	}

	wantCursor := cursorBefore + uint32(len(target.Buf)) + 1
	if p.NextAvailableAddr != wantCursor {
		t.Errorf("NextAvailableAddr = %d, want %d (even)", p.NextAvailableAddr, wantCursor)
	}
	if p.NextAvailableAddr%2 != 0 {
		t.Errorf("NextAvailableAddr = %d, not even after a NOR write", p.NextAvailableAddr)
	}
}

// TestWriteRecordSinglePageSPI and TestWriteRecordSinglePageI2C cover the
// two byte-addressable devices end to end, alongside the NOR coverage
// above — the odd/even program-length constraint is NOR-specific, so
// these must succeed for both even- and odd-length TDRs without padding.
func TestWriteRecordSinglePageSPI(t *testing.T) {
	mgr, tr, h := testRig(t)
	if err := mgr.Format(context.Background(), 12, nil); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	p, _ := mgr.Partition(12)
	cursorBefore := p.NextAvailableAddr

	tdr := []byte{0x10, 0x20, 0x30} // frameLen = 11, odd: fine off NOR.
	target := buildTarget(12, 0x21, tdr, true)
	status, err := WriteRecord(context.Background(), mgr, tr, h, nil, target)
	if err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}
	if status != OK {
		t.Errorf("status = %v, want OK", status)
	}
	if p.NextAvailableAddr != cursorBefore+uint32(len(target.Buf)) {
		t.Errorf("NextAvailableAddr = %d, want %d", p.NextAvailableAddr, cursorBefore+uint32(len(target.Buf)))
	}

	device, phys, err := tr.Translate(cursorBefore, len(target.Buf))
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	got := make([]byte, len(target.Buf))
	if err := h.Read(device, phys, got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got[0] != rsr.Sync || got[len(got)-1] != rsr.EndSync {
		t.Errorf("frame = % x, want SYNC..ENDSYNC envelope", got)
	}
}

func TestWriteRecordSinglePageI2C(t *testing.T) {
	mgr, tr, h := testRig(t)
	if err := mgr.Format(context.Background(), 13, nil); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	p, _ := mgr.Partition(13)
	cursorBefore := p.NextAvailableAddr

	tdr := []byte{0xAA, 0xBB, 0xCC, 0xDD} // frameLen = 12, even.
	target := buildTarget(13, 0x22, tdr, true)
	status, err := WriteRecord(context.Background(), mgr, tr, h, nil, target)
	if err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}
	if status != OK {
		t.Errorf("status = %v, want OK", status)
	}
	if p.NextAvailableAddr != cursorBefore+uint32(len(target.Buf)) {
		t.Errorf("NextAvailableAddr = %d, want %d", p.NextAvailableAddr, cursorBefore+uint32(len(target.Buf)))
	}

	device, phys, err := tr.Translate(cursorBefore, len(target.Buf))
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	got := make([]byte, len(target.Buf))
	if err := h.Read(device, phys, got); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if got[0] != rsr.Sync || got[len(got)-1] != rsr.EndSync {
		t.Errorf("frame = % x, want SYNC..ENDSYNC envelope", got)
	}
}

func TestWriteRecordExactFitMarksPageFull(t *testing.T) {
	mgr, tr, h := testRig(t)
	if err := mgr.Format(context.Background(), 13, nil); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	p, _ := mgr.Partition(13)

	// Position the cursor near the page-data end so a small record's
	// framed size exactly fills the remainder of the page.
	pageDataEnd := p.StartAddr + config.PageSize
	freeInPage := 20
	if err := mgr.CursorSet(13, pageDataEnd-uint32(freeInPage)); err != nil {
		t.Fatalf("CursorSet() error = %v", err)
	}
	tdrLen := freeInPage - rsr.BytesBeforeTDR - rsr.BytesAfterTDR
	target := buildTarget(13, 1, make([]byte, tdrLen), false)

	status, err := WriteRecord(context.Background(), mgr, tr, h, nil, target)
	if err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}
	if status != OKPageFull {
		t.Errorf("status = %v, want OKPageFull", status)
	}
	if p.NextAvailableAddr != p.StartAddr+config.PageSize+config.HeaderSize {
		t.Errorf("NextAvailableAddr = %d, want %d", p.NextAvailableAddr, p.StartAddr+config.PageSize+config.HeaderSize)
	}
	if p.FullPages != 1 {
		t.Errorf("FullPages = %d, want 1", p.FullPages)
	}
}

func TestWriteRecordCrossPageSplit(t *testing.T) {
	mgr, tr, h := testRig(t)
	if err := mgr.Format(context.Background(), 11, nil); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	p, _ := mgr.Partition(11)

	// Position the cursor 6 bytes before the page-data end, per spec.md
	// scenario 2.
	pageDataEnd := p.StartAddr + config.PageSize
	if err := mgr.CursorSet(11, pageDataEnd-6); err != nil {
		t.Fatalf("CursorSet() error = %v", err)
	}

	tdr := make([]byte, 10)
	for i := range tdr {
		tdr[i] = byte(i + 1)
	}
	target := buildTarget(11, 0x77, tdr, true)

	status, err := WriteRecord(context.Background(), mgr, tr, h, nil, target)
	if err != nil {
		t.Fatalf("WriteRecord() error = %v", err)
	}
	if status != OK {
		t.Errorf("status = %v, want OK", status)
	}

	wantCursor := pageDataEnd + config.HeaderSize + 12
	if p.NextAvailableAddr != wantCursor {
		t.Errorf("NextAvailableAddr = %d, want %d", p.NextAvailableAddr, wantCursor)
	}

	// The next page's header must have been written (Open status).
	device, phys, err := tr.Translate(pageDataEnd, config.HeaderSize)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	hdrBuf := make([]byte, config.HeaderSize)
	if err := h.Read(device, phys, hdrBuf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	status2, _, err := page.CheckHeader(hdrBuf, 11)
	if err != nil {
		t.Fatalf("CheckHeader() error = %v", err)
	}
	if status2 != page.Open {
		t.Errorf("next page header status = %v, want Open", status2)
	}
}

func TestWriteRecordRejectsOversizedRecord(t *testing.T) {
	mgr, tr, h := testRig(t)
	if err := mgr.Format(context.Background(), 13, nil); err != nil {
		t.Fatalf("Format() error = %v", err)
	}
	oversized := config.PageSize*2 + 100
	target := buildTarget(13, 1, make([]byte, oversized), false)

	status, err := WriteRecord(context.Background(), mgr, tr, h, nil, target)
	if err == nil {
		t.Fatalf("WriteRecord() error = nil, want error")
	}
	if status != InvalidAddresses {
		t.Errorf("status = %v, want InvalidAddresses", status)
	}
}
