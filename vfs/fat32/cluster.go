package fat32

import (
	"github.com/aos-project/aos-core/blockdev"
	"github.com/aos-project/aos-core/errors"
)

// ClusterIO bridges cluster-chain I/O to sector-addressed block device
// reads/writes.
type ClusterIO struct {
	dev               blockdev.BlockDevice
	fat               *FAT
	sectorsPerCluster uint32
	bytesPerSector    uint32
	firstDataSector   uint32
}

func NewClusterIO(dev blockdev.BlockDevice, fat *FAT, bs *BootSector) *ClusterIO {
	return &ClusterIO{
		dev:               dev,
		fat:               fat,
		sectorsPerCluster: uint32(bs.Raw.SectorsPerCluster),
		bytesPerSector:    uint32(bs.Raw.BytesPerSector),
		firstDataSector:   bs.FirstDataSector,
	}
}

// ClusterToSector converts a cluster number to the LBA of its first sector.
func (c *ClusterIO) ClusterToSector(cluster uint32) uint64 {
	return uint64(c.firstDataSector) + uint64(cluster-2)*uint64(c.sectorsPerCluster)
}

func (c *ClusterIO) bytesPerCluster() uint32 {
	return c.sectorsPerCluster * c.bytesPerSector
}

// ReadCluster reads one full cluster's worth of bytes.
func (c *ClusterIO) ReadCluster(cluster uint32, dst []byte) error {
	if uint32(len(dst)) != c.bytesPerCluster() {
		return errors.Invalid.WithMessage("buffer size does not match cluster size")
	}
	return c.dev.ReadSectors(c.ClusterToSector(cluster), uint(c.sectorsPerCluster), dst)
}

// WriteCluster writes one full cluster's worth of bytes.
func (c *ClusterIO) WriteCluster(cluster uint32, src []byte) error {
	if uint32(len(src)) != c.bytesPerCluster() {
		return errors.Invalid.WithMessage("buffer size does not match cluster size")
	}
	return c.dev.WriteSectors(c.ClusterToSector(cluster), uint(c.sectorsPerCluster), src)
}

// ReadChain reads `length` bytes starting at byte `offset` within the
// cluster chain beginning at `start`, performing the documented
// partial-cluster read-modify-write behavior is not required here since
// reads never need to preserve existing content.
func (c *ClusterIO) ReadChain(start uint32, offset int64, length int) ([]byte, error) {
	bpc := int64(c.bytesPerCluster())
	out := make([]byte, 0, length)

	cluster := start
	skip := offset
	remaining := int64(length)

	for remaining > 0 {
		if cluster < 2 || IsEOC(cluster) {
			break
		}

		if skip >= bpc {
			skip -= bpc
			next, err := c.fat.NextOf(cluster)
			if err != nil {
				return out, err
			}
			cluster = next
			continue
		}

		buf := make([]byte, bpc)
		if err := c.ReadCluster(cluster, buf); err != nil {
			return out, err
		}

		chunk := buf[skip:]
		if int64(len(chunk)) > remaining {
			chunk = chunk[:remaining]
		}
		out = append(out, chunk...)
		remaining -= int64(len(chunk))
		skip = 0

		next, err := c.fat.NextOf(cluster)
		if err != nil {
			return out, err
		}
		cluster = next
	}

	return out, nil
}

// WriteChain writes `data` starting at byte `offset` within the chain
// beginning at `start`, allocating new clusters via `allocate` as the chain
// needs to grow, and performs a read-modify-write on any cluster that is
// only partially overwritten so existing bytes outside the write window
// survive.
func (c *ClusterIO) WriteChain(start uint32, offset int64, data []byte, allocate func() (uint32, error)) (uint32, error) {
	bpc := int64(c.bytesPerCluster())

	cluster := start
	skip := offset
	remaining := data

	for len(remaining) > 0 {
		if skip >= bpc {
			skip -= bpc
			next, err := c.fat.NextOf(cluster)
			if err != nil {
				return start, err
			}
			if next < 2 || IsEOC(next) {
				newCluster, err := allocate()
				if err != nil {
					return start, err
				}
				if err := c.fat.SetNext(cluster, newCluster); err != nil {
					return start, err
				}
				if err := c.fat.SetNext(newCluster, ClusterEOC); err != nil {
					return start, err
				}
				next = newCluster
			}
			cluster = next
			continue
		}

		buf := make([]byte, bpc)
		if err := c.ReadCluster(cluster, buf); err != nil {
			return start, err
		}

		n := copy(buf[skip:], remaining)
		if err := c.WriteCluster(cluster, buf); err != nil {
			return start, err
		}
		remaining = remaining[n:]
		skip = 0

		if len(remaining) == 0 {
			break
		}

		next, err := c.fat.NextOf(cluster)
		if err != nil {
			return start, err
		}
		if next < 2 || IsEOC(next) {
			newCluster, err := allocate()
			if err != nil {
				return start, err
			}
			if err := c.fat.SetNext(cluster, newCluster); err != nil {
				return start, err
			}
			if err := c.fat.SetNext(newCluster, ClusterEOC); err != nil {
				return start, err
			}
			next = newCluster
		}
		cluster = next
	}

	return start, nil
}
