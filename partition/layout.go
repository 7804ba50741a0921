package partition

import (
	"github.com/pkg/errors"

	"openenterprise/rsrecorder/config"
)

// ErrUnknownDevice is returned by Layout when a partition names a device
// kind absent from the physical arrangement table.
var ErrUnknownDevice = errors.New("partition: partition references unknown device")

// Layout computes each partition's final PageCount and PaddingBytes so that
// the partition occupies a whole number of its device's erase blocks
// (spec.md invariant I1), returning an adjusted copy of dep. Spec.md 4.6:
//
//   - If the device's block size is a whole multiple of the page size,
//     grow PageCount up to the next multiple of blockSize/PageSize.
//   - Otherwise, add PaddingBytes; if that padding would exceed one page,
//     convert one page of padding back into an actual page.
func Layout(dep config.Deployment) (config.Deployment, error) {
	blockSizeFor := func(kind config.DeviceKind) (int, error) {
		for _, row := range dep.PhysicalArrangement {
			if row.Kind == kind {
				return row.BlockSize, nil
			}
		}
		return 0, errors.Wrapf(ErrUnknownDevice, "device %s", kind)
	}

	out := dep
	out.Partitions = make([]config.PartitionRow, len(dep.Partitions))
	copy(out.Partitions, dep.Partitions)

	for i := range out.Partitions {
		p := &out.Partitions[i]
		blockSize, err := blockSizeFor(p.Device)
		if err != nil {
			return config.Deployment{}, err
		}

		byteSpan := p.PageCount * config.PageSize

		if blockSize >= config.PageSize && blockSize%config.PageSize == 0 {
			pagesPerBlock := blockSize / config.PageSize
			if rem := p.PageCount % pagesPerBlock; rem != 0 {
				p.PageCount += pagesPerBlock - rem
			}
			p.PaddingBytes = 0
			continue
		}

		rem := byteSpan % blockSize
		if rem == 0 {
			p.PaddingBytes = 0
			continue
		}
		padding := blockSize - rem
		if padding > config.PageSize {
			// Fold one page's worth of the padding into an actual page.
			p.PageCount++
			padding -= config.PageSize
		}
		p.PaddingBytes = padding
	}

	return out, nil
}
