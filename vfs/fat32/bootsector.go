// Package fat32 implements the on-disk FAT32 filesystem backend from spec
// §4.B: boot sector parsing, FAT cache, cluster chains, and short/long
// directory entries, wired to the vfs package as a vfs.Filesystem.
package fat32

import (
	"encoding/binary"
	"fmt"

	"github.com/aos-project/aos-core/blockdev"
	"github.com/aos-project/aos-core/errors"
)

const (
	BootSectorSignature = 0xAA55
	BackupBootSector    = 6
	FATEntrySize        = 4
	DirentSize          = 32

	ClusterFree     = 0x00000000
	ClusterReserved = 0x0FFFFFF0
	ClusterBad      = 0x0FFFFFF7
	ClusterEOCMin   = 0x0FFFFFF8
	ClusterEOC      = 0x0FFFFFFF
	clusterMask     = 0x0FFFFFFF
)

// RawBootSector is the on-disk layout of a FAT32 BPB, fields in the order
// they appear on disk.
type RawBootSector struct {
	JmpBoot           [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	FATSize16         uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
	FATSize32         uint32
	ExtFlags          uint16
	FSVersion         uint16
	RootCluster       uint32
	FSInfoSector      uint16
	BackupBootSector  uint16
	Reserved          [12]byte
	DriveNumber       uint8
	Reserved1         uint8
	BootSignature     uint8
	VolumeID          uint32
	VolumeLabel       [11]byte
	FSType            [8]byte
}

// BootSector is the parsed and derived boot-sector geometry (spec §4.B
// "Mount").
type BootSector struct {
	Raw RawBootSector

	BytesPerCluster  uint32
	TotalClusters    uint32
	FirstDataSector  uint32
	FATSectorsTotal  uint32
	RootDirCluster   uint32
	TotalDataSectors uint32
}

// ParseBootSector reads and validates the first sector of a FAT32 volume.
// Validation follows spec §4.B's mount-failure list exactly: missing boot
// signature, a nonzero fat_size_16/root_entry_count (FAT12/16 markers that
// must be zero on FAT32), a missing "FAT32   " type magic, bytes-per-sector
// other than 512, and a non-power-of-two cluster size all fail the mount. If
// the primary boot sector's signature is bad, and only then, the backup at
// sector [BackupBootSector] is tried before giving up.
func ParseBootSector(dev blockdev.BlockDevice) (*BootSector, error) {
	bs, err := parseBootSectorAt(dev, 0)
	if err == nil {
		return bs, nil
	}

	primary := make([]byte, blockdev.SectorSize)
	if readErr := dev.ReadSectors(0, 1, primary); readErr != nil ||
		binary.LittleEndian.Uint16(primary[510:512]) == BootSectorSignature {
		return nil, err
	}

	backup, backupErr := parseBootSectorAt(dev, BackupBootSector)
	if backupErr != nil {
		return nil, err
	}
	return backup, nil
}

func parseBootSectorAt(dev blockdev.BlockDevice, lba uint64) (*BootSector, error) {
	buf := make([]byte, blockdev.SectorSize)
	if err := dev.ReadSectors(lba, 1, buf); err != nil {
		return nil, errors.IO.Wrap(err)
	}

	var raw RawBootSector
	if err := binary.Read(sliceReader(buf), binary.LittleEndian, &raw); err != nil {
		return nil, errors.Invalid.Wrap(err)
	}

	signature := binary.LittleEndian.Uint16(buf[510:512])
	if signature != BootSectorSignature {
		return nil, errors.Invalid.WithMessagef("bad boot sector signature %#04x", signature)
	}

	if raw.FATSize16 != 0 {
		return nil, errors.Invalid.WithMessage("fat_size_16 must be zero on a FAT32 volume")
	}
	if raw.RootEntryCount != 0 {
		return nil, errors.Invalid.WithMessage("root_entry_count must be zero on a FAT32 volume")
	}
	if raw.FATSize32 == 0 {
		return nil, errors.Invalid.WithMessage("fat_size_32 must be nonzero on a FAT32 volume")
	}

	if raw.BytesPerSector != blockdev.SectorSize {
		return nil, errors.Invalid.WithMessagef("bytes_per_sector must be %d, got %d", blockdev.SectorSize, raw.BytesPerSector)
	}
	if !isPowerOfTwo(uint32(raw.SectorsPerCluster)) || raw.SectorsPerCluster > 128 {
		return nil, errors.Invalid.WithMessagef("sectors_per_cluster must be a power of two in [1,128], got %d", raw.SectorsPerCluster)
	}
	if string(raw.FSType[:]) != "FAT32   " {
		return nil, errors.Invalid.WithMessagef("missing FAT32 type magic, got %q", raw.FSType[:])
	}
	if raw.NumFATs == 0 {
		return nil, errors.Invalid.WithMessage("num_fats must be nonzero")
	}

	totalSectors := uint32(raw.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = raw.TotalSectors32
	}
	if totalSectors == 0 {
		return nil, errors.Invalid.WithMessage("total sector count is zero")
	}

	fatSectorsTotal := uint32(raw.NumFATs) * raw.FATSize32
	firstDataSector := uint32(raw.ReservedSectors) + fatSectorsTotal
	dataSectors := totalSectors - firstDataSector
	bytesPerCluster := uint32(raw.BytesPerSector) * uint32(raw.SectorsPerCluster)
	totalClusters := dataSectors / uint32(raw.SectorsPerCluster)

	if uint64(firstDataSector) >= dev.TotalSectors() {
		return nil, errors.Invalid.WithMessage("first data sector lies beyond the device")
	}

	return &BootSector{
		Raw:              raw,
		BytesPerCluster:  bytesPerCluster,
		TotalClusters:    totalClusters,
		FirstDataSector:  firstDataSector,
		FATSectorsTotal:  fatSectorsTotal,
		RootDirCluster:   raw.RootCluster,
		TotalDataSectors: dataSectors,
	}, nil
}

func isPowerOfTwo(v uint32) bool {
	return v != 0 && v&(v-1) == 0
}

// FSInfo magic values (spec §6: lead signature, struct signature at offset
// 484, trail signature at offset 508).
const (
	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000

	fsInfoUnknownFreeCount = 0xFFFFFFFF
)

// FSInfo is the decoded FSInfo sector (spec §4.B/§6): the cached free-cluster
// count and next-free-cluster hint.
type FSInfo struct {
	Sector    uint64
	InRange   bool
	Valid     bool
	FreeCount uint32
	NextFree  uint32
}

// ReadFSInfo reads and validates the FSInfo sector named by the boot sector,
// per spec §4.B: "Read FSInfo if its sector index is in range and its two
// magic values match." A missing or invalid FSInfo is not a mount failure —
// the caller falls back to scanning the FAT for free-cluster bookkeeping —
// but an in-range sector is still reported so Sync can rewrite it.
func ReadFSInfo(dev blockdev.BlockDevice, bs *BootSector) (*FSInfo, error) {
	sector := uint64(bs.Raw.FSInfoSector)
	if bs.Raw.FSInfoSector == 0 || sector >= dev.TotalSectors() {
		return &FSInfo{}, nil
	}

	buf := make([]byte, blockdev.SectorSize)
	if err := dev.ReadSectors(sector, 1, buf); err != nil {
		return nil, errors.IO.Wrap(err)
	}

	lead := binary.LittleEndian.Uint32(buf[0:4])
	structSig := binary.LittleEndian.Uint32(buf[484:488])
	if lead != fsInfoLeadSignature || structSig != fsInfoStructSignature {
		return &FSInfo{Sector: sector, InRange: true}, nil
	}

	return &FSInfo{
		Sector:    sector,
		InRange:   true,
		Valid:     true,
		FreeCount: binary.LittleEndian.Uint32(buf[488:492]),
		NextFree:  binary.LittleEndian.Uint32(buf[492:496]),
	}, nil
}

// WriteFSInfo rewrites the FSInfo sector with the current free-cluster count
// and next-free hint (spec §4.B: "Always rewrite the FSInfo sector if its
// index is in range").
func WriteFSInfo(dev blockdev.BlockDevice, sector uint64, freeCount, nextFree uint32) error {
	buf := make([]byte, blockdev.SectorSize)
	binary.LittleEndian.PutUint32(buf[0:4], fsInfoLeadSignature)
	binary.LittleEndian.PutUint32(buf[484:488], fsInfoStructSignature)
	binary.LittleEndian.PutUint32(buf[488:492], freeCount)
	binary.LittleEndian.PutUint32(buf[492:496], nextFree)
	binary.LittleEndian.PutUint32(buf[508:512], fsInfoTrailSignature)
	if err := dev.WriteSectors(sector, 1, buf); err != nil {
		return errors.IO.Wrap(err)
	}
	return nil
}

type sliceReaderT struct {
	data []byte
	pos  int
}

func sliceReader(data []byte) *sliceReaderT {
	return &sliceReaderT{data: data}
}

func (r *sliceReaderT) Read(p []byte) (int, error) {
	n := copy(p, r.data[r.pos:])
	r.pos += n
	if n == 0 {
		return 0, fmt.Errorf("short read")
	}
	return n, nil
}
