package fat32

import (
	"encoding/binary"

	"github.com/aos-project/aos-core/blockdev"
	"github.com/aos-project/aos-core/errors"
)

// FormatOptions configures FormatImage.
type FormatOptions struct {
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	VolumeLabel       string
}

// DefaultFormatOptions returns a conservative, widely-compatible set of
// format parameters.
func DefaultFormatOptions() FormatOptions {
	return FormatOptions{
		BytesPerSector:    blockdev.SectorSize,
		SectorsPerCluster: 8,
		ReservedSectors:   32,
		NumFATs:           2,
		VolumeLabel:       "AOS",
	}
}

// FormatImage writes a fresh FAT32 volume to `dev`: boot sector, FSInfo
// sector, backup boot sector, zeroed FAT copies with the first two entries
// reserved, and a single-cluster root directory.
func FormatImage(dev blockdev.BlockDevice, opts FormatOptions) error {
	totalSectors := dev.TotalSectors()
	if totalSectors > 1<<32-1 {
		return errors.Invalid.WithMessage("device too large for a 32-bit sector count")
	}

	dataSectorsEstimate := uint32(totalSectors) - uint32(opts.ReservedSectors)
	clusterCountEstimate := dataSectorsEstimate / uint32(opts.SectorsPerCluster)
	fatSize32 := (clusterCountEstimate*FATEntrySize + uint32(opts.BytesPerSector) - 1) / uint32(opts.BytesPerSector)

	raw := RawBootSector{
		JmpBoot:           [3]byte{0xEB, 0x58, 0x90},
		BytesPerSector:    opts.BytesPerSector,
		SectorsPerCluster: opts.SectorsPerCluster,
		ReservedSectors:   opts.ReservedSectors,
		NumFATs:           opts.NumFATs,
		Media:             0xF8,
		TotalSectors32:    uint32(totalSectors),
		FATSize32:         fatSize32,
		RootCluster:       2,
		FSInfoSector:      1,
		BackupBootSector:  BackupBootSector,
		BootSignature:     0x29,
		VolumeID:          0x00000000,
	}
	copy(raw.OEMName[:], "AOSBOOT ")
	copy(raw.VolumeLabel[:], padTo11(opts.VolumeLabel))
	copy(raw.FSType[:], "FAT32   ")

	bootBuf := make([]byte, opts.BytesPerSector)
	if err := encodeBootSector(&raw, bootBuf); err != nil {
		return err
	}

	if err := dev.WriteSectors(0, 1, bootBuf); err != nil {
		return errors.IO.Wrap(err)
	}
	if err := dev.WriteSectors(BackupBootSector, 1, bootBuf); err != nil {
		return errors.IO.Wrap(err)
	}

	fsInfoBuf := make([]byte, opts.BytesPerSector)
	binary.LittleEndian.PutUint32(fsInfoBuf[0:4], 0x41615252)
	binary.LittleEndian.PutUint32(fsInfoBuf[484:488], 0x61417272)
	binary.LittleEndian.PutUint32(fsInfoBuf[488:492], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(fsInfoBuf[492:496], 2)
	binary.LittleEndian.PutUint32(fsInfoBuf[508:512], 0xAA550000)
	if err := dev.WriteSectors(uint64(raw.FSInfoSector), 1, fsInfoBuf); err != nil {
		return errors.IO.Wrap(err)
	}

	fatBuf := make([]byte, uint64(fatSize32)*uint64(opts.BytesPerSector))
	binary.LittleEndian.PutUint32(fatBuf[0:4], 0x0FFFFFF8)
	binary.LittleEndian.PutUint32(fatBuf[4:8], 0x0FFFFFFF)
	binary.LittleEndian.PutUint32(fatBuf[8:12], ClusterEOC)

	for i := uint8(0); i < opts.NumFATs; i++ {
		sector := uint64(opts.ReservedSectors) + uint64(i)*uint64(fatSize32)
		if err := dev.WriteSectors(sector, uint(fatSize32), fatBuf); err != nil {
			return errors.IO.Wrap(err)
		}
	}

	firstDataSector := uint64(opts.ReservedSectors) + uint64(opts.NumFATs)*uint64(fatSize32)
	rootBuf := make([]byte, uint64(opts.SectorsPerCluster)*uint64(opts.BytesPerSector))
	if err := dev.WriteSectors(firstDataSector, uint(opts.SectorsPerCluster), rootBuf); err != nil {
		return errors.IO.Wrap(err)
	}

	return nil
}

func padTo11(s string) []byte {
	out := make([]byte, 11)
	for i := range out {
		out[i] = ' '
	}
	copy(out, s)
	return out
}

func encodeBootSector(raw *RawBootSector, buf []byte) error {
	if len(buf) < 512 {
		return errors.Invalid.WithMessage("boot sector buffer must be at least 512 bytes")
	}

	copy(buf[0:3], raw.JmpBoot[:])
	copy(buf[3:11], raw.OEMName[:])
	binary.LittleEndian.PutUint16(buf[11:13], raw.BytesPerSector)
	buf[13] = raw.SectorsPerCluster
	binary.LittleEndian.PutUint16(buf[14:16], raw.ReservedSectors)
	buf[16] = raw.NumFATs
	binary.LittleEndian.PutUint16(buf[17:19], raw.RootEntryCount)
	binary.LittleEndian.PutUint16(buf[19:21], raw.TotalSectors16)
	buf[21] = raw.Media
	binary.LittleEndian.PutUint16(buf[22:24], raw.FATSize16)
	binary.LittleEndian.PutUint16(buf[24:26], raw.SectorsPerTrack)
	binary.LittleEndian.PutUint16(buf[26:28], raw.NumHeads)
	binary.LittleEndian.PutUint32(buf[28:32], raw.HiddenSectors)
	binary.LittleEndian.PutUint32(buf[32:36], raw.TotalSectors32)
	binary.LittleEndian.PutUint32(buf[36:40], raw.FATSize32)
	binary.LittleEndian.PutUint16(buf[40:42], raw.ExtFlags)
	binary.LittleEndian.PutUint16(buf[42:44], raw.FSVersion)
	binary.LittleEndian.PutUint32(buf[44:48], raw.RootCluster)
	binary.LittleEndian.PutUint16(buf[48:50], raw.FSInfoSector)
	binary.LittleEndian.PutUint16(buf[50:52], raw.BackupBootSector)
	buf[64] = raw.DriveNumber
	buf[65] = raw.Reserved1
	buf[66] = raw.BootSignature
	binary.LittleEndian.PutUint32(buf[67:71], raw.VolumeID)
	copy(buf[71:82], raw.VolumeLabel[:])
	copy(buf[82:90], raw.FSType[:])
	binary.LittleEndian.PutUint16(buf[510:512], BootSectorSignature)
	return nil
}
