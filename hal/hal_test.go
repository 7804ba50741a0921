package hal

import (
	"testing"

	"openenterprise/rsrecorder/config"
)

func newTestHAL(t *testing.T) *HAL {
	t.Helper()
	reg := NewRegistry(map[config.DeviceKind]Driver{
		config.NOR: NewSimNOR(64*1024, 4096),
		config.SPI: NewSimSPI(16*1024, config.SPIPageSize),
		config.I2C: NewSimI2C(4*1024, config.I2CPageSize),
	})
	h, err := New(reg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return h
}

func TestHALNotInitialised(t *testing.T) {
	if _, err := New(nil); err != ErrNotInitialised {
		t.Errorf("New(nil) error = %v, want ErrNotInitialised", err)
	}
}

func TestHALProgramAndRead(t *testing.T) {
	tests := []struct {
		name string
		kind config.DeviceKind
		addr uint32
		data []byte
	}{
		{"nor even", config.NOR, 0x100, []byte{0xAA, 0xBB}},
		{"spi byte aligned", config.SPI, 0x03, []byte{0x01, 0x02, 0x03}},
		{"i2c byte aligned", config.I2C, 0x00, []byte{0x7E}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHAL(t)
			if err := h.Program(tc.kind, tc.addr, tc.data); err != nil {
				t.Fatalf("Program() error = %v", err)
			}
			out := make([]byte, len(tc.data))
			if err := h.Read(tc.kind, tc.addr, out); err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			for i := range out {
				if out[i] != tc.data[i] {
					t.Errorf("byte %d = %#x, want %#x", i, out[i], tc.data[i])
				}
			}
		})
	}
}

func TestNORRejectsOddAddressOrLength(t *testing.T) {
	h := newTestHAL(t)
	tests := []struct {
		name string
		addr uint32
		data []byte
	}{
		{"odd address", 0x101, []byte{0x01, 0x02}},
		{"odd length", 0x100, []byte{0x01}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := h.Program(config.NOR, tc.addr, tc.data)
			if err == nil {
				t.Fatalf("Program() error = nil, want ErrInvalidAddress")
			}
		})
	}
}

func TestNOREraseSector(t *testing.T) {
	h := newTestHAL(t)
	if err := h.Program(config.NOR, 0x1000, []byte{0x00, 0x00}); err != nil {
		t.Fatalf("Program() error = %v", err)
	}
	if err := h.EraseSector(config.NOR, 0x1000); err != nil {
		t.Fatalf("EraseSector() error = %v", err)
	}
	ok, err := h.BlankCheck(config.NOR, 0x1000, 4096)
	if err != nil || !ok {
		t.Errorf("BlankCheck() = (%v, %v), want (true, nil)", ok, err)
	}
}

func TestSPIEraseEmulation(t *testing.T) {
	h := newTestHAL(t)
	// Write across a page boundary, then erase-emulate the whole range and
	// confirm it reads blank even though the device never does a "true"
	// erase — it's the page-fill-with-0xFF emulation from spec.md 4.1.
	if err := h.Program(config.SPI, 120, []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}); err != nil {
		t.Fatalf("Program() error = %v", err)
	}
	for _, sector := range []uint32{0, config.SPIPageSize} {
		if err := h.EraseSector(config.SPI, sector); err != nil {
			t.Fatalf("EraseSector() error = %v", err)
		}
	}
	ok, err := h.BlankCheck(config.SPI, 0, 2*config.SPIPageSize)
	if err != nil {
		t.Fatalf("BlankCheck() error = %v", err)
	}
	if !ok {
		t.Errorf("BlankCheck() = false, want true after page-erase emulation")
	}
}

func TestReadFaultPropagates(t *testing.T) {
	reg := NewRegistry(map[config.DeviceKind]Driver{config.NOR: NewSimNOR(4096, 4096)})
	h, _ := New(reg)
	nor := reg.drivers[config.NOR].(*SimNOR)
	nor.SetReadFault(true)
	if err := h.Read(config.NOR, 0, make([]byte, 2)); err == nil {
		t.Fatalf("Read() error = nil, want failure")
	}
}

func TestUnknownDeviceKind(t *testing.T) {
	h := newTestHAL(t)
	if _, err := h.BlockSize(config.DeviceKind(99)); err == nil {
		t.Errorf("BlockSize() error = nil, want ErrUnknownDeviceKind")
	}
}
