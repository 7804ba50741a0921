package page

import (
	"testing"

	"openenterprise/rsrecorder/config"
	"openenterprise/rsrecorder/hal"
)

func TestCheckHeaderBlank(t *testing.T) {
	buf := make([]byte, config.HeaderSize)
	for i := range buf {
		buf[i] = 0xFF
	}
	status, _, err := CheckHeader(buf, 11)
	if err != nil {
		t.Fatalf("CheckHeader() error = %v", err)
	}
	if status != Blank {
		t.Errorf("status = %v, want Blank", status)
	}
}

func TestCheckHeaderClassification(t *testing.T) {
	tests := []struct {
		name        string
		partitionID byte
		mutate      func(h *Header)
		want        Status
	}{
		{"closed", 11, func(h *Header) { h.StatusWord = StatusClosed }, Closed},
		{"open", 11, func(h *Header) { h.StatusWord = StatusOpen }, Open},
		{"empty status word", 11, func(h *Header) { h.StatusWord = StatusBlank }, Empty},
		{"undefined status", 11, func(h *Header) { h.StatusWord = 0x1234 }, Undefined},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := Header{FormatCode: FormatCodeValid, PartitionID: tc.partitionID, ErrorCode: ErrorCodeNone}
			tc.mutate(&h)
			encoded := Encode(h)
			status, _, err := CheckHeader(encoded[:], tc.partitionID)
			if err != nil {
				t.Fatalf("CheckHeader() error = %v", err)
			}
			if status != tc.want {
				t.Errorf("status = %v, want %v", status, tc.want)
			}
		})
	}
}

func TestCheckHeaderFailureOrder(t *testing.T) {
	// Checksum must be validated before partition id / format / error code.
	h := Header{FormatCode: FormatCodeValid, PartitionID: 5, ErrorCode: ErrorCodeNone, StatusWord: StatusClosed}
	encoded := Encode(h)
	encoded[2] ^= 0xFF // corrupt checksum
	status, _, err := CheckHeader(encoded[:], 7) // also wrong partition id
	if err != nil {
		t.Fatalf("CheckHeader() error = %v", err)
	}
	if status != ChecksumFail {
		t.Errorf("status = %v, want ChecksumFail (checksum checked before partition id)", status)
	}
}

func TestCheckHeaderShortBuffer(t *testing.T) {
	if _, _, err := CheckHeader(make([]byte, 4), 1); err != ErrShortHeader {
		t.Errorf("err = %v, want ErrShortHeader", err)
	}
}

func TestWriteHeaderRoundTrip(t *testing.T) {
	dev := hal.NewSimNOR(64*1024, 4096)
	reg := hal.NewRegistry(map[config.DeviceKind]hal.Driver{config.NOR: dev})
	h, err := hal.New(reg)
	if err != nil {
		t.Fatalf("hal.New() error = %v", err)
	}

	w := norWriter{h: h}
	if err := WriteHeader(w, 0, 11, StatusOpen); err != nil {
		t.Fatalf("WriteHeader() error = %v", err)
	}

	buf := make([]byte, config.HeaderSize)
	if err := h.Read(config.NOR, 0, buf); err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	status, parsed, err := CheckHeader(buf, 11)
	if err != nil {
		t.Fatalf("CheckHeader() error = %v", err)
	}
	if status != Open {
		t.Errorf("status = %v, want Open", status)
	}
	if parsed.PartitionID != 11 {
		t.Errorf("PartitionID = %d, want 11", parsed.PartitionID)
	}
}

// norWriter adapts *hal.HAL to the page.Writer interface for a fixed device
// kind, the way the Partition Manager does when it writes headers.
type norWriter struct{ h *hal.HAL }

func (w norWriter) Program(physAddr uint32, data []byte) error {
	return w.h.Program(config.NOR, physAddr, data)
}
func (w norWriter) Read(physAddr uint32, out []byte) error {
	return w.h.Read(config.NOR, physAddr, out)
}
