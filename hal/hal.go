// Package hal is the Device HAL (spec.md component C1): a uniform
// read/program/erase/blank-check surface over the three physical storage
// kinds the recording system targets — word-addressable parallel NOR flash,
// byte-addressable serial SPI flash, and a byte-addressable I2C EEPROM.
//
// Real device drivers are external collaborators (spec.md section 1,
// "out of scope"); this package defines the Driver capability interface
// they must satisfy, plus in-memory simulators good enough to build and
// test the rest of the system against.
package hal

import (
	"sync"

	"github.com/pkg/errors"
	"openenterprise/rsrecorder/config"
)

// Errors returned by HAL operations.
var (
	ErrNotInitialised    = errors.New("hal: not initialised")
	ErrInvalidAddress    = errors.New("hal: invalid address")
	ErrReadFailed        = errors.New("hal: read error")
	ErrWriteFailed       = errors.New("hal: write fail")
	ErrUnknownDeviceKind = errors.New("hal: unknown device kind")
)

// Driver is the capability trait a concrete device driver implements.
// Design Notes (spec.md section 9): this replaces the original's function
// pointers (X24LC32A_memcpy, M95_memcpy, I2C_Read) with a single interface
// per device kind, constructed once into a Registry rather than scattered
// across package-level globals.
type Driver interface {
	Read(physAddr uint32, out []byte) error
	Program(physAddr uint32, data []byte) error
	EraseSector(sectorPhysAddr uint32) error
	BlankCheck(physAddr uint32, length int) (bool, error)
	BlockSize() int
	// ForceTimeout is invoked from a timer tick to break a stuck poll
	// inside the driver's erase/program implementation.
	ForceTimeout()
}

// Registry maps each DeviceKind to its concrete Driver. Built once at init
// and passed into HAL — no process-wide singleton (Design Notes).
type Registry struct {
	drivers map[config.DeviceKind]Driver
}

// NewRegistry builds a Registry from the given kind->driver pairs.
func NewRegistry(drivers map[config.DeviceKind]Driver) *Registry {
	r := &Registry{drivers: make(map[config.DeviceKind]Driver, len(drivers))}
	for k, d := range drivers {
		r.drivers[k] = d
	}
	return r
}

func (r *Registry) driver(kind config.DeviceKind) (Driver, error) {
	d, ok := r.drivers[kind]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownDeviceKind, "kind %s", kind)
	}
	return d, nil
}

// HAL is the uniform entry point used by everything above it (Address
// Translator and up). It tracks which device is currently being written so
// a timer tick can route ForceTimeout() to the right driver (spec.md
// section 5, "currently writing device").
type HAL struct {
	reg *Registry

	mu      sync.Mutex
	writing *config.DeviceKind
}

// New constructs a HAL over the given Registry. Returns ErrNotInitialised
// if reg is nil, matching the "HAL not initialised" failure mode the
// Address Translator must detect (spec.md section 4.2).
func New(reg *Registry) (*HAL, error) {
	if reg == nil {
		return nil, ErrNotInitialised
	}
	return &HAL{reg: reg}, nil
}

func (h *HAL) beginWrite(kind config.DeviceKind) {
	h.mu.Lock()
	h.writing = &kind
	h.mu.Unlock()
}

func (h *HAL) endWrite() {
	h.mu.Lock()
	h.writing = nil
	h.mu.Unlock()
}

// ForceTimeout dispatches a forced timeout to whichever device is currently
// mid-write, if any. Safe to call from a timer goroutine.
func (h *HAL) ForceTimeout() {
	h.mu.Lock()
	kind := h.writing
	h.mu.Unlock()
	if kind == nil {
		return
	}
	if d, err := h.reg.driver(*kind); err == nil {
		d.ForceTimeout()
	}
}

// Read reads length bytes at the device's physical address.
func (h *HAL) Read(kind config.DeviceKind, physAddr uint32, out []byte) error {
	d, err := h.reg.driver(kind)
	if err != nil {
		return err
	}
	if err := d.Read(physAddr, out); err != nil {
		return errors.Wrap(ErrReadFailed, err.Error())
	}
	return nil
}

// Program writes data at the device's physical address.
func (h *HAL) Program(kind config.DeviceKind, physAddr uint32, data []byte) error {
	d, err := h.reg.driver(kind)
	if err != nil {
		return err
	}
	h.beginWrite(kind)
	defer h.endWrite()
	if err := d.Program(physAddr, data); err != nil {
		return errors.Wrap(ErrWriteFailed, err.Error())
	}
	return nil
}

// EraseSector erases one erase-block-sized sector at the given physical
// sector-aligned address. The HAL does not check alignment itself: SimNOR
// rejects a non-sector-aligned address, and the SPI/I2C erase emulation
// aligns to its page on entry.
func (h *HAL) EraseSector(kind config.DeviceKind, sectorPhysAddr uint32) error {
	d, err := h.reg.driver(kind)
	if err != nil {
		return err
	}
	h.beginWrite(kind)
	defer h.endWrite()
	if err := d.EraseSector(sectorPhysAddr); err != nil {
		return errors.Wrap(ErrWriteFailed, err.Error())
	}
	return nil
}

// BlankCheck reports whether the given physical range reads entirely 0xFF.
func (h *HAL) BlankCheck(kind config.DeviceKind, physAddr uint32, length int) (bool, error) {
	d, err := h.reg.driver(kind)
	if err != nil {
		return false, err
	}
	ok, err := d.BlankCheck(physAddr, length)
	if err != nil {
		return false, errors.Wrap(ErrReadFailed, err.Error())
	}
	return ok, nil
}

// BlockSize returns the device's erase-block size in bytes.
func (h *HAL) BlockSize(kind config.DeviceKind) (int, error) {
	d, err := h.reg.driver(kind)
	if err != nil {
		return 0, err
	}
	return d.BlockSize(), nil
}
