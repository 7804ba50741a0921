// Package rsr is the RSR Codec (spec.md component C4): frames and parses
// one Tool Data Record wrapped in its SYNC/ID/LEN/CRC/ENDSYNC envelope.
//
//	SYNC(0xE1) | ID_LSB | ID_MSB | LEN_LSB | LEN_MSB | TDR[LEN] | CRC_MSB | CRC_LSB | ENDSYNC(0x1A)
//
// ID and LEN are little-endian; CRC is stored MSB-first. ENDSYNC is the
// spec's intentional extension over the upstream format, disambiguating
// end-of-record from blank 0xFF fill.
package rsr

import "github.com/pkg/errors"

// Wire constants.
const (
	Sync    = 0xE1
	EndSync = 0x1A

	// BytesBeforeTDR and BytesAfterTDR are the envelope sizes the caller
	// must reserve around the TDR payload when building a frame buffer.
	BytesBeforeTDR = 5
	BytesAfterTDR  = 3
)

// ErrNoRecordHere is returned by ParseAt when the byte at index is not a
// valid record start (wrong sync byte, CRC mismatch, or missing ENDSYNC).
// Spec.md section 7 surfaces this as "not-found" to the Search Engine.
var ErrNoRecordHere = errors.New("rsr: no record here")

// ErrBufferTooSmall is returned by Frame when buf is not exactly
// BytesBeforeTDR + len(tdr) + BytesAfterTDR bytes long.
var ErrBufferTooSmall = errors.New("rsr: buffer does not match reserved envelope size")

// FrameLen returns the total framed size for a TDR of the given length.
func FrameLen(tdrLen int) int {
	return BytesBeforeTDR + tdrLen + BytesAfterTDR
}

// Frame fills buf (which must be exactly FrameLen(len(tdr)) bytes) with a
// complete RSR: SYNC, little-endian id, little-endian length, the TDR
// payload, the big-endian CRC-16-CCITT over SYNC..last TDR byte, and the
// ENDSYNC trailer.
func Frame(buf []byte, tdr []byte, recordID uint16) error {
	want := FrameLen(len(tdr))
	if len(buf) != want {
		return ErrBufferTooSmall
	}

	buf[0] = Sync
	buf[1] = byte(recordID)
	buf[2] = byte(recordID >> 8)
	buf[3] = byte(len(tdr))
	buf[4] = byte(len(tdr) >> 8)
	copy(buf[BytesBeforeTDR:BytesBeforeTDR+len(tdr)], tdr)

	crcOffset := BytesBeforeTDR + len(tdr)
	crc := CRC16CCITT(buf[:crcOffset])
	buf[crcOffset] = byte(crc >> 8)
	buf[crcOffset+1] = byte(crc)
	buf[crcOffset+2] = EndSync
	return nil
}

// Record is the result of a successful ParseAt.
type Record struct {
	RecordID    uint16
	TDRLen      int
	CRC         uint16
	TDRStart    int // offset of the first TDR byte within buf
	TotalLen    int // SYNC..ENDSYNC inclusive
}

// ParseAt attempts to parse a complete RSR starting at buf[index]. It
// succeeds only if buf[index] is SYNC, the length-derived CRC/ENDSYNC
// offsets fall inside buf, the computed CRC matches the stored CRC, and the
// byte after the CRC is ENDSYNC (spec.md 4.4). Any other byte pattern,
// including a truncated or corrupted record, returns ErrNoRecordHere.
func ParseAt(buf []byte, index int) (Record, error) {
	if index < 0 || index >= len(buf) || buf[index] != Sync {
		return Record{}, ErrNoRecordHere
	}
	if index+BytesBeforeTDR > len(buf) {
		return Record{}, ErrNoRecordHere
	}

	recordID := uint16(buf[index+1]) | uint16(buf[index+2])<<8
	tdrLen := int(uint16(buf[index+3]) | uint16(buf[index+4])<<8)

	tdrStart := index + BytesBeforeTDR
	crcOffset := tdrStart + tdrLen
	endSyncOffset := crcOffset + 2
	if endSyncOffset >= len(buf) {
		return Record{}, ErrNoRecordHere
	}

	storedCRC := uint16(buf[crcOffset])<<8 | uint16(buf[crcOffset+1])
	computedCRC := CRC16CCITT(buf[index:crcOffset])
	if computedCRC != storedCRC {
		return Record{}, ErrNoRecordHere
	}
	if buf[endSyncOffset] != EndSync {
		return Record{}, ErrNoRecordHere
	}

	return Record{
		RecordID: recordID,
		TDRLen:   tdrLen,
		CRC:      storedCRC,
		TDRStart: tdrStart,
		TotalLen: endSyncOffset - index + 1,
	}, nil
}
