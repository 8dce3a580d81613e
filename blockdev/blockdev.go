// Package blockdev implements the opaque block-device port described in
// spec §4.A: a fixed 512-byte-sector read/write surface with no state
// visible to callers beyond that. Concrete device drivers live outside this
// module's scope; the two implementations here (memory-backed and
// file-backed) exist so the VFS/FAT32 core can be exercised without real
// hardware.
package blockdev

import (
	"io"

	"github.com/xaionaro-go/bytesextra"

	"github.com/aos-project/aos-core/errors"
)

// SectorSize is the fixed sector size the port operates on (spec §4.A).
const SectorSize = 512

// BlockDevice is the port FAT32 and the VFS dispatcher depend on. count > 1
// is equivalent to count sequential single-sector operations; implementations
// are free to batch that however they like as long as the observable result
// is the same.
type BlockDevice interface {
	ReadSectors(lba uint64, count uint, dst []byte) error
	WriteSectors(lba uint64, count uint, src []byte) error
	TotalSectors() uint64
}

// streamDevice implements BlockDevice over any io.ReadWriteSeeker, which
// covers both the memory- and file-backed cases below.
type streamDevice struct {
	stream       io.ReadWriteSeeker
	totalSectors uint64
}

func (d *streamDevice) TotalSectors() uint64 { return d.totalSectors }

func (d *streamDevice) checkBounds(lba uint64, count uint, bufLen int) error {
	if count == 0 {
		return errors.Invalid.WithMessage("sector count must be nonzero")
	}
	if bufLen != int(count)*SectorSize {
		return errors.Invalid.WithMessagef(
			"buffer length %d does not match %d sectors of %d bytes", bufLen, count, SectorSize)
	}
	if lba+uint64(count) > d.totalSectors {
		return errors.Invalid.WithMessagef(
			"sector range [%d, %d) exceeds device size of %d sectors", lba, lba+uint64(count), d.totalSectors)
	}
	return nil
}

func (d *streamDevice) ReadSectors(lba uint64, count uint, dst []byte) error {
	if err := d.checkBounds(lba, count, len(dst)); err != nil {
		return err
	}
	if _, err := d.stream.Seek(int64(lba)*SectorSize, io.SeekStart); err != nil {
		return errors.IO.Wrap(err)
	}
	if _, err := io.ReadFull(d.stream, dst); err != nil {
		return errors.IO.Wrap(err)
	}
	return nil
}

func (d *streamDevice) WriteSectors(lba uint64, count uint, src []byte) error {
	if err := d.checkBounds(lba, count, len(src)); err != nil {
		return err
	}
	if _, err := d.stream.Seek(int64(lba)*SectorSize, io.SeekStart); err != nil {
		return errors.IO.Wrap(err)
	}
	if _, err := d.stream.Write(src); err != nil {
		return errors.IO.Wrap(err)
	}
	return nil
}

// NewMemoryBlockDevice wraps a byte slice (already sized to a whole number of
// sectors) as a BlockDevice, using bytesextra the way the teacher's block
// cache wraps slice-backed images for tests and in-memory formatting.
func NewMemoryBlockDevice(storage []byte) BlockDevice {
	stream := bytesextra.NewReadWriteSeeker(storage)
	return &streamDevice{
		stream:       stream,
		totalSectors: uint64(len(storage)) / SectorSize,
	}
}

// NewFileBlockDevice wraps an *os.File (or anything ReadWriteSeeker-shaped)
// that is already sized to totalSectors*SectorSize bytes.
func NewFileBlockDevice(stream io.ReadWriteSeeker, totalSectors uint64) BlockDevice {
	return &streamDevice{stream: stream, totalSectors: totalSectors}
}
