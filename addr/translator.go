// Package addr is the Address Translator (spec.md component C2): it maps a
// logical byte address inside a partition to (device, physical address),
// built once at init from the physical-arrangement and partition tables.
package addr

import (
	"github.com/pkg/errors"

	"openenterprise/rsrecorder/config"
)

// Errors returned by the Translator.
var (
	ErrBadPhysicalArrangement = errors.New("addr: physical arrangement row device id does not match its index")
	ErrNoSuchPartition        = errors.New("addr: logical address in no partition")
	ErrOutOfDeviceRange       = errors.New("addr: physical address exceeds device range")
)

// Mapping is the const view of one partition's placement, returned by
// PartitionMapping for diagnostics.
type Mapping struct {
	PartitionID byte
	Device      config.DeviceKind
	StartAddr   uint32
	EndAddr     uint32
	adjustment  int64 // logicalStart - nextFreePhysicalInDevice
}

// Translator performs logical->physical address translation. Constructed
// once at init; immutable thereafter (Design Notes: Search Engine reads a
// snapshot, Partition Manager/Append Engine are the only mutators of
// runtime partition state — the Translator itself never changes after
// construction).
type Translator struct {
	arrangement []config.PhysicalArrangementRow
	mappings    []Mapping
}

// NewTranslator builds a Translator from the physical arrangement and
// partition tables. It performs the build-time sanity check from spec.md
// 4.2: each arrangement row's DeviceID must equal its index in the slice.
// On failure it returns ErrBadPhysicalArrangement and the HAL must stay
// uninitialised.
func NewTranslator(dep config.Deployment) (*Translator, error) {
	for i, row := range dep.PhysicalArrangement {
		if row.DeviceID != i {
			return nil, errors.Wrapf(ErrBadPhysicalArrangement, "row %d has device id %d", i, row.DeviceID)
		}
	}

	t := &Translator{arrangement: dep.PhysicalArrangement}

	deviceNextFree := make(map[config.DeviceKind]uint32)
	for _, row := range dep.PhysicalArrangement {
		deviceNextFree[row.Kind] = row.PhysStart
	}

	logical := uint32(0)
	for _, p := range dep.Partitions {
		arrRow, err := t.rowForKind(p.Device)
		if err != nil {
			return nil, err
		}
		byteSpan := uint32(p.PageCount)*config.PageSize + uint32(p.PaddingBytes)
		start := logical
		end := start + byteSpan - 1

		physStart := deviceNextFree[p.Device]
		adjustment := int64(start) - int64(physStart)

		t.mappings = append(t.mappings, Mapping{
			PartitionID: p.ID,
			Device:      p.Device,
			StartAddr:   start,
			EndAddr:     end,
			adjustment:  adjustment,
		})

		deviceNextFree[p.Device] = physStart + byteSpan
		if deviceNextFree[p.Device]-1 > arrRow.PhysEnd {
			return nil, errors.Wrapf(ErrOutOfDeviceRange, "partition %d overflows device %s", p.ID, p.Device)
		}
		logical = end + 1
	}

	return t, nil
}

func (t *Translator) rowForKind(kind config.DeviceKind) (config.PhysicalArrangementRow, error) {
	for _, row := range t.arrangement {
		if row.Kind == kind {
			return row, nil
		}
	}
	return config.PhysicalArrangementRow{}, errors.Wrapf(ErrNoSuchPartition, "no device of kind %s", kind)
}

func (t *Translator) mappingFor(logicalAddr uint32) (*Mapping, error) {
	for i := range t.mappings {
		m := &t.mappings[i]
		if logicalAddr >= m.StartAddr && logicalAddr <= m.EndAddr {
			return m, nil
		}
	}
	return nil, ErrNoSuchPartition
}

// Translate maps a logical address and byte count to a physical device and
// address. Returns ErrOutOfDeviceRange if physAddr+count-1 would exceed the
// device's last physical address, or ErrNoSuchPartition if logicalAddr
// falls in no partition (spec.md 4.2).
func (t *Translator) Translate(logicalAddr uint32, byteCount int) (config.DeviceKind, uint32, error) {
	m, err := t.mappingFor(logicalAddr)
	if err != nil {
		return 0, 0, err
	}
	physAddr := int64(logicalAddr) - m.adjustment
	row, err := t.rowForKind(m.Device)
	if err != nil {
		return 0, 0, err
	}
	if physAddr < int64(row.PhysStart) || physAddr+int64(byteCount)-1 > int64(row.PhysEnd) {
		return 0, 0, ErrOutOfDeviceRange
	}
	return m.Device, uint32(physAddr), nil
}

// PartitionMapping returns the const mapping view for a partition by its
// position in the deployment's partition table, for diagnostics.
func (t *Translator) PartitionMapping(partitionIndex int) (Mapping, error) {
	if partitionIndex < 0 || partitionIndex >= len(t.mappings) {
		return Mapping{}, ErrNoSuchPartition
	}
	return t.mappings[partitionIndex], nil
}

// MappingByID returns the mapping for a given partition id.
func (t *Translator) MappingByID(id byte) (Mapping, bool) {
	for _, m := range t.mappings {
		if m.PartitionID == id {
			return m, true
		}
	}
	return Mapping{}, false
}
