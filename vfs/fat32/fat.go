package fat32

import (
	"encoding/binary"

	"github.com/boljen/go-bitmap"

	"github.com/aos-project/aos-core/blockdev"
	"github.com/aos-project/aos-core/errors"
)

// entriesPerSector is the number of 4-byte FAT entries packed into one
// on-disk sector.
const entriesPerSector = blockdev.SectorSize / FATEntrySize

// FAT is the in-memory file allocation table cache. It is loaded in full at
// mount time; `dirty` tracks which on-disk FAT sectors have stale entries so
// Flush only rewrites the sectors that actually changed instead of the whole
// table.
type FAT struct {
	dev         blockdev.BlockDevice
	entries     []uint32
	dirty       bitmap.Bitmap
	anyDirty    bool
	firstSector uint64
	sectorsEach uint32
	numCopies   uint8
	extFlags    uint16

	nextFreeHint uint32
	freeCount    uint32

	fsInfoSector uint64
	hasFSInfo    bool
}

// markDirty flags the on-disk sector holding `cluster`'s entry as needing a
// flush.
func (f *FAT) markDirty(cluster uint32) {
	sector := int(cluster / entriesPerSector)
	f.dirty.Set(sector, true)
	f.anyDirty = true
}

// LoadFAT reads FAT copy #1 in full into memory and seeds its free-cluster
// bookkeeping from `fsInfo` when it decoded a valid FSInfo sector, falling
// back to a full-table scan otherwise (spec §4.B/§4.C runtime state: "the
// decoded FSInfo (free-cluster count, next-free hint)").
func LoadFAT(dev blockdev.BlockDevice, bs *BootSector, fsInfo *FSInfo) (*FAT, error) {
	sectorsPerFAT := bs.Raw.FATSize32
	entryCount := sectorsPerFAT * uint32(bs.Raw.BytesPerSector) / FATEntrySize

	buf := make([]byte, uint64(sectorsPerFAT)*uint64(bs.Raw.BytesPerSector))
	firstSector := uint64(bs.Raw.ReservedSectors)
	if err := dev.ReadSectors(firstSector, uint(sectorsPerFAT), buf); err != nil {
		return nil, errors.IO.Wrap(err)
	}

	entries := make([]uint32, entryCount)
	for i := range entries {
		entries[i] = binary.LittleEndian.Uint32(buf[i*4:]) & clusterMask
	}

	f := &FAT{
		dev:         dev,
		entries:     entries,
		dirty:       bitmap.New(int(sectorsPerFAT)),
		firstSector: firstSector,
		sectorsEach: sectorsPerFAT,
		numCopies:   bs.Raw.NumFATs,
		extFlags:    bs.Raw.ExtFlags,
	}

	if fsInfo != nil {
		f.hasFSInfo = fsInfo.InRange
		f.fsInfoSector = fsInfo.Sector
	}
	if fsInfo != nil && fsInfo.Valid && fsInfo.FreeCount != fsInfoUnknownFreeCount {
		f.freeCount = fsInfo.FreeCount
		f.nextFreeHint = fsInfo.NextFree
	} else {
		f.recomputeFreeCountLocked()
	}
	return f, nil
}

func (f *FAT) recomputeFreeCountLocked() {
	free := uint32(0)
	hint := uint32(0)
	haveHint := false
	for i := 2; i < len(f.entries); i++ {
		if f.entries[i] == ClusterFree {
			free++
			if !haveHint {
				hint = uint32(i)
				haveHint = true
			}
		}
	}
	f.freeCount = free
	f.nextFreeHint = hint
}

// NextOf returns the next cluster in the chain starting at cluster, or
// ClusterEOC(Min) if it terminates.
func (f *FAT) NextOf(cluster uint32) (uint32, error) {
	if int(cluster) >= len(f.entries) {
		return 0, errors.Invalid.WithMessagef("cluster %d out of range", cluster)
	}
	return f.entries[cluster], nil
}

// SetNext rewrites the FAT entry for `cluster` and marks the table dirty.
func (f *FAT) SetNext(cluster uint32, next uint32) error {
	if int(cluster) >= len(f.entries) {
		return errors.Invalid.WithMessagef("cluster %d out of range", cluster)
	}
	f.entries[cluster] = next & clusterMask
	f.markDirty(cluster)
	return nil
}

// IsEOC reports whether `value` marks the end of a cluster chain.
func IsEOC(value uint32) bool {
	return value >= ClusterEOCMin
}

// AllocateCluster finds a free cluster by scanning from the last allocation
// hint and wrapping around, marks it end-of-chain, and updates the FSInfo
// free-cluster bookkeeping.
func (f *FAT) AllocateCluster() (uint32, error) {
	n := uint32(len(f.entries))
	for offset := uint32(0); offset < n; offset++ {
		candidate := (f.nextFreeHint + offset) % n
		if candidate < 2 {
			continue
		}
		if f.entries[candidate] == ClusterFree {
			f.entries[candidate] = ClusterEOC
			f.nextFreeHint = candidate + 1
			if f.freeCount > 0 {
				f.freeCount--
			}
			f.markDirty(candidate)
			return candidate, nil
		}
	}
	return 0, errors.NoSpace.WithMessage("no free clusters remain")
}

// FreeChain walks the chain starting at `start` and marks every cluster in
// it free, tolerating a malformed chain (a cycle or an out-of-range link)
// by stopping rather than looping forever.
func (f *FAT) FreeChain(start uint32) error {
	visited := make(map[uint32]bool)
	cluster := start

	for cluster >= 2 && int(cluster) < len(f.entries) && !IsEOC(cluster) && cluster != ClusterBad {
		if visited[cluster] {
			break
		}
		visited[cluster] = true

		next := f.entries[cluster]
		f.entries[cluster] = ClusterFree
		f.freeCount++
		f.markDirty(cluster)
		cluster = next
	}
	return nil
}

// FreeCount reports the cached count of free clusters.
func (f *FAT) FreeCount() uint32 { return f.freeCount }

// Dirty reports whether any FAT entry has changed since the last Flush.
func (f *FAT) Dirty() bool { return f.anyDirty }

// extFlagsBackupFATDisabled is the ext_flags bit that says only the active
// FAT (FAT copy #1 here) should be updated, mirroring to the other copies
// suppressed (spec §4.B Sync: "unless ext_flags & 0x80 ... mirror to FAT#2").
const extFlagsBackupFATDisabled = 0x80

// Flush writes every on-disk sector flagged dirty back to the FAT copies
// (skipping the mirror copies when ext_flags disables the backup FAT), then
// clears the dirty bitmap, then unconditionally rewrites the FSInfo sector
// if one is in range (spec §4.B Sync: "Always rewrite the FSInfo sector if
// its index is in range"). It stops at the first failed sector write and
// returns that error; errors are not aggregated across FAT copies or FSInfo.
func (f *FAT) Flush() error {
	if f.anyDirty {
		copiesToWrite := f.numCopies
		if f.extFlags&extFlagsBackupFATDisabled != 0 && copiesToWrite > 1 {
			copiesToWrite = 1
		}

		sectorBuf := make([]byte, blockdev.SectorSize)
		for sectorIdx := uint32(0); sectorIdx < f.sectorsEach; sectorIdx++ {
			if !f.dirty.Get(int(sectorIdx)) {
				continue
			}

			first := sectorIdx * entriesPerSector
			last := first + entriesPerSector
			if last > uint32(len(f.entries)) {
				last = uint32(len(f.entries))
			}
			for i := range sectorBuf {
				sectorBuf[i] = 0
			}
			for i := first; i < last; i++ {
				binary.LittleEndian.PutUint32(sectorBuf[(i-first)*4:], f.entries[i]&clusterMask)
			}

			for copyIdx := uint8(0); copyIdx < copiesToWrite; copyIdx++ {
				sector := f.firstSector + uint64(copyIdx)*uint64(f.sectorsEach) + uint64(sectorIdx)
				if err := f.dev.WriteSectors(sector, 1, sectorBuf); err != nil {
					return errors.IO.Wrap(err)
				}
			}

			f.dirty.Set(int(sectorIdx), false)
		}

		f.anyDirty = false
	}

	if f.hasFSInfo {
		if err := WriteFSInfo(f.dev, f.fsInfoSector, f.freeCount, f.nextFreeHint); err != nil {
			return err
		}
	}

	return nil
}
