// Package page is the Page Codec (spec.md component C3): parses, validates,
// and emits the 16-byte page header that precedes every page's data region.
package page

import (
	"github.com/pkg/errors"

	"openenterprise/rsrecorder/config"
)

// Wire format constants (spec.md section 3).
const (
	FormatCodeValid  = 0x8D
	ErrorCodeNone    = 0xFF
	StatusClosed     = 0x6996
	StatusOpen       = 0x7BB7
	StatusBlank      = 0xFFFF
)

// Status is the outcome of parsing a page header.
type Status int

const (
	Blank Status = iota
	Open
	Closed
	Empty // status word 0xFFFF but header bytes are not all-0xFF: "blank status on disk"
	Undefined
	ChecksumFail
	PartitionIDFail
	FormatFail
	ErrorCodeFail
)

func (s Status) String() string {
	switch s {
	case Blank:
		return "blank"
	case Open:
		return "open"
	case Closed:
		return "closed"
	case Empty:
		return "empty"
	case Undefined:
		return "undefined"
	case ChecksumFail:
		return "checksum-fail"
	case PartitionIDFail:
		return "partition-id-fail"
	case FormatFail:
		return "format-fail"
	case ErrorCodeFail:
		return "error-code-fail"
	default:
		return "unknown"
	}
}

// ErrHeaderWrite is returned by WriteHeader when the read-back after
// programming doesn't match what was written.
var ErrHeaderWrite = errors.New("page: header write-back mismatch")

// ErrShortHeader is returned when a buffer smaller than HeaderSize is
// passed to CheckHeader.
var ErrShortHeader = errors.New("page: buffer shorter than header size")

// Header is the parsed representation of a page's 16 header bytes.
type Header struct {
	FormatCode    byte
	PartitionID   byte
	Checksum      byte
	StatusWord    uint16
	ErrorCode     byte
	ErrorAddress  uint16
}

// CheckHeader validates and classifies the 16-byte header at the start of
// buf against the expected partitionID. Validation order, per spec.md 4.3:
// all-blank check first, then checksum, then partition id, then format
// code, then error code — first failure wins. Only then is the status word
// classified.
func CheckHeader(buf []byte, partitionID byte) (Status, Header, error) {
	if len(buf) < config.HeaderSize {
		return Undefined, Header{}, ErrShortHeader
	}
	h := buf[:config.HeaderSize]

	allBlank := true
	for _, b := range h {
		if b != config.BlankByte {
			allBlank = false
			break
		}
	}
	if allBlank {
		return Blank, Header{FormatCode: h[0], PartitionID: h[1], StatusWord: StatusBlank, ErrorCode: h[5]}, nil
	}

	parsed := Header{
		FormatCode:   h[0],
		PartitionID:  h[1],
		Checksum:     h[2],
		StatusWord:   uint16(h[3])<<8 | uint16(h[4]),
		ErrorCode:    h[5],
		ErrorAddress: uint16(h[6])<<8 | uint16(h[7]),
	}

	wantChecksum := byte(h[0] + h[1])
	if parsed.Checksum != wantChecksum {
		return ChecksumFail, parsed, nil
	}
	if parsed.PartitionID != partitionID {
		return PartitionIDFail, parsed, nil
	}
	if parsed.FormatCode != FormatCodeValid {
		return FormatFail, parsed, nil
	}
	if parsed.ErrorCode != ErrorCodeNone {
		// Downgraded to "page-has-errors" by the caller (search path
		// tolerates this, spec.md 4.3) rather than treated as fatal here.
		return ErrorCodeFail, parsed, nil
	}

	switch parsed.StatusWord {
	case StatusClosed:
		return Closed, parsed, nil
	case StatusOpen:
		return Open, parsed, nil
	case StatusBlank:
		return Empty, parsed, nil
	default:
		return Undefined, parsed, nil
	}
}

// Encode renders a Header into its 16-byte wire form.
func Encode(h Header) [config.HeaderSize]byte {
	var buf [config.HeaderSize]byte
	buf[0] = h.FormatCode
	buf[1] = h.PartitionID
	buf[2] = h.FormatCode + h.PartitionID
	buf[3] = byte(h.StatusWord >> 8)
	buf[4] = byte(h.StatusWord)
	buf[5] = h.ErrorCode
	buf[6] = byte(h.ErrorAddress >> 8)
	buf[7] = byte(h.ErrorAddress)
	for i := 8; i < config.HeaderSize; i++ {
		buf[i] = config.BlankByte
	}
	return buf
}

// Writer is the minimal surface WriteHeader needs from the HAL: program
// then read back the same bytes, so the codec can verify the write.
type Writer interface {
	Program(physAddr uint32, data []byte) error
	Read(physAddr uint32, out []byte) error
}

// WriteHeader emits a header with the given status word for partitionID at physAddr and
// reads it back for verification (spec.md 4.3). Any device error, or a
// readback mismatch, is reported as ErrHeaderWrite.
func WriteHeader(w Writer, physAddr uint32, partitionID byte, status uint16) error {
	h := Header{
		FormatCode:  FormatCodeValid,
		PartitionID: partitionID,
		StatusWord:  status,
		ErrorCode:   ErrorCodeNone,
		ErrorAddress: 0xFFFF,
	}
	encoded := Encode(h)

	if err := w.Program(physAddr, encoded[:]); err != nil {
		return errors.Wrap(ErrHeaderWrite, err.Error())
	}

	readBack := make([]byte, config.HeaderSize)
	if err := w.Read(physAddr, readBack); err != nil {
		return errors.Wrap(ErrHeaderWrite, err.Error())
	}
	for i := range encoded {
		if readBack[i] != encoded[i] {
			return ErrHeaderWrite
		}
	}
	return nil
}
