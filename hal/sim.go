package hal

import "github.com/pkg/errors"

// simArena is the shared backing store and fault-injection machinery used
// by all three simulated drivers. Real hardware drivers are out of scope
// (spec.md section 1); these stand in for them so the rest of the module
// builds and tests without real flash/EEPROM parts attached.
type simArena struct {
	mem         []byte
	blockSize   int
	readFault   bool
	progFault   bool
	eraseFault  bool
	timedOut    bool
}

func newSimArena(size, blockSize int) *simArena {
	mem := make([]byte, size)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &simArena{mem: mem, blockSize: blockSize}
}

// SetReadFault forces the next Read to fail, for error-path tests.
func (a *simArena) SetReadFault(v bool) { a.readFault = v }

// SetProgramFault forces the next Program to fail, for error-path tests.
func (a *simArena) SetProgramFault(v bool) { a.progFault = v }

// SetEraseFault forces the next EraseSector to fail, for error-path tests.
func (a *simArena) SetEraseFault(v bool) { a.eraseFault = v }

func (a *simArena) read(physAddr uint32, out []byte) error {
	if a.readFault {
		a.readFault = false
		return errors.New("simulated read fault")
	}
	end := int(physAddr) + len(out)
	if int(physAddr) < 0 || end > len(a.mem) {
		return ErrInvalidAddress
	}
	copy(out, a.mem[physAddr:end])
	return nil
}

func (a *simArena) program(physAddr uint32, data []byte) error {
	if a.progFault {
		a.progFault = false
		return errors.New("simulated program fault")
	}
	end := int(physAddr) + len(data)
	if int(physAddr) < 0 || end > len(a.mem) {
		return ErrInvalidAddress
	}
	// Real flash/EEPROM parts can only clear bits (1->0); programming never
	// sets a bit back to 1. Model that so double-programming bugs surface.
	for i, b := range data {
		a.mem[int(physAddr)+i] &= b
	}
	return nil
}

func (a *simArena) blankCheck(physAddr uint32, length int) (bool, error) {
	end := int(physAddr) + length
	if int(physAddr) < 0 || end > len(a.mem) {
		return false, ErrInvalidAddress
	}
	for _, b := range a.mem[physAddr:end] {
		if b != 0xFF {
			return false, nil
		}
	}
	return true, nil
}

func (a *simArena) forceTimeout() { a.timedOut = true }

// SimNOR simulates the word-addressable parallel NOR device: true sector
// erase, program requires an even address and an even byte count.
type SimNOR struct{ a *simArena }

// NewSimNOR creates a simulated NOR device of the given size and sector
// (erase-block) size.
func NewSimNOR(size, sectorSize int) *SimNOR {
	return &SimNOR{a: newSimArena(size, sectorSize)}
}

func (s *SimNOR) SetReadFault(v bool)    { s.a.SetReadFault(v) }
func (s *SimNOR) SetProgramFault(v bool) { s.a.SetProgramFault(v) }
func (s *SimNOR) SetEraseFault(v bool)   { s.a.SetEraseFault(v) }

func (s *SimNOR) Read(physAddr uint32, out []byte) error {
	return s.a.read(physAddr, out)
}

func (s *SimNOR) Program(physAddr uint32, data []byte) error {
	if physAddr%2 != 0 || len(data)%2 != 0 {
		return ErrInvalidAddress
	}
	return s.a.program(physAddr, data)
}

func (s *SimNOR) EraseSector(sectorPhysAddr uint32) error {
	if s.a.eraseFault {
		s.a.eraseFault = false
		return errors.New("simulated erase fault")
	}
	if sectorPhysAddr%uint32(s.a.blockSize) != 0 {
		return ErrInvalidAddress
	}
	end := int(sectorPhysAddr) + s.a.blockSize
	if end > len(s.a.mem) {
		return ErrInvalidAddress
	}
	for i := int(sectorPhysAddr); i < end; i++ {
		s.a.mem[i] = 0xFF
	}
	return nil
}

func (s *SimNOR) BlankCheck(physAddr uint32, length int) (bool, error) {
	return s.a.blankCheck(physAddr, length)
}

func (s *SimNOR) BlockSize() int   { return s.a.blockSize }
func (s *SimNOR) ForceTimeout()    { s.a.forceTimeout() }

// pageEraseEmulated implements the shared SPI/I2C erase emulation: align to
// page on entry, stride whole pages, flush the tail. Spec.md section 4.1.
func pageEraseEmulated(a *simArena, pageSize int, offset uint32, count int) error {
	if a.eraseFault {
		a.eraseFault = false
		return errors.New("simulated erase fault")
	}
	end := int(offset) + count
	if int(offset) < 0 || end > len(a.mem) {
		return ErrInvalidAddress
	}

	pos := int(offset)
	// Align-to-page entry: partial first page if offset isn't page-aligned.
	if rem := pos % pageSize; rem != 0 {
		n := pageSize - rem
		if pos+n > end {
			n = end - pos
		}
		for i := 0; i < n; i++ {
			a.mem[pos+i] = 0xFF
		}
		pos += n
	}
	// Stride whole pages.
	for pos+pageSize <= end {
		for i := 0; i < pageSize; i++ {
			a.mem[pos+i] = 0xFF
		}
		pos += pageSize
	}
	// Flush the tail.
	for pos < end {
		a.mem[pos] = 0xFF
		pos++
	}
	return nil
}

// SimSPI simulates the byte-addressable, page-programmable SPI flash.
type SimSPI struct {
	a        *simArena
	pageSize int
}

// NewSimSPI creates a simulated SPI flash of the given size with the given
// program page size (erase sector size equals pageSize for this part, per
// spec.md's "erase is emulated by writing 0xFF in page-aligned chunks").
func NewSimSPI(size, pageSize int) *SimSPI {
	return &SimSPI{a: newSimArena(size, pageSize), pageSize: pageSize}
}

func (s *SimSPI) SetReadFault(v bool)    { s.a.SetReadFault(v) }
func (s *SimSPI) SetProgramFault(v bool) { s.a.SetProgramFault(v) }
func (s *SimSPI) SetEraseFault(v bool)   { s.a.SetEraseFault(v) }

func (s *SimSPI) Read(physAddr uint32, out []byte) error { return s.a.read(physAddr, out) }
func (s *SimSPI) Program(physAddr uint32, data []byte) error {
	return s.a.program(physAddr, data)
}
func (s *SimSPI) EraseSector(sectorPhysAddr uint32) error {
	return pageEraseEmulated(s.a, s.pageSize, sectorPhysAddr, s.pageSize)
}
func (s *SimSPI) BlankCheck(physAddr uint32, length int) (bool, error) {
	return s.a.blankCheck(physAddr, length)
}
func (s *SimSPI) BlockSize() int { return s.pageSize }
func (s *SimSPI) ForceTimeout()  { s.a.forceTimeout() }

// SimI2C simulates the byte-addressable I2C EEPROM. Identical erase
// emulation to SimSPI with its own (smaller) page size.
type SimI2C struct {
	a        *simArena
	pageSize int
}

// NewSimI2C creates a simulated I2C EEPROM of the given size and page size.
func NewSimI2C(size, pageSize int) *SimI2C {
	return &SimI2C{a: newSimArena(size, pageSize), pageSize: pageSize}
}

func (s *SimI2C) SetReadFault(v bool)    { s.a.SetReadFault(v) }
func (s *SimI2C) SetProgramFault(v bool) { s.a.SetProgramFault(v) }
func (s *SimI2C) SetEraseFault(v bool)   { s.a.SetEraseFault(v) }

func (s *SimI2C) Read(physAddr uint32, out []byte) error { return s.a.read(physAddr, out) }
func (s *SimI2C) Program(physAddr uint32, data []byte) error {
	return s.a.program(physAddr, data)
}
func (s *SimI2C) EraseSector(sectorPhysAddr uint32) error {
	return pageEraseEmulated(s.a, s.pageSize, sectorPhysAddr, s.pageSize)
}
func (s *SimI2C) BlankCheck(physAddr uint32, length int) (bool, error) {
	return s.a.blankCheck(physAddr, length)
}
func (s *SimI2C) BlockSize() int { return s.pageSize }
func (s *SimI2C) ForceTimeout()  { s.a.forceTimeout() }
