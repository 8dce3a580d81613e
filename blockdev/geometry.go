package blockdev

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/gocarina/gocsv"
)

// DiskGeometry describes a predefined storage medium shape, used by
// FormatImage callers to pick sane defaults without hand-computing sector
// counts. Field layout follows the historical floppy/HDD geometry tables
// used across the disko driver family.
type DiskGeometry struct {
	Name            string `csv:"name"`
	Slug            string `csv:"slug"`
	SectorSize      uint   `csv:"sector_size"`
	SectorsPerTrack uint   `csv:"sectors_per_track"`
	Heads           uint   `csv:"heads"`
	Cylinders       uint   `csv:"cylinders"`
}

// TotalSectors gives the number of SectorSize-byte sectors on a medium with
// this geometry.
func (g *DiskGeometry) TotalSectors() uint64 {
	return uint64(g.SectorsPerTrack) * uint64(g.Heads) * uint64(g.Cylinders)
}

// TotalSizeBytes rounds TotalSectors up to a byte count.
func (g *DiskGeometry) TotalSizeBytes() int64 {
	return int64(g.TotalSectors()) * int64(g.SectorSize)
}

//go:embed disk-geometries.csv
var diskGeometriesRawCSV string

var diskGeometries map[string]DiskGeometry

// GetPredefinedDiskGeometry looks up a well-known medium shape by slug, e.g.
// "1.44M" or "1.2M-5.25".
func GetPredefinedDiskGeometry(slug string) (DiskGeometry, error) {
	geometry, ok := diskGeometries[slug]
	if !ok {
		return DiskGeometry{}, fmt.Errorf("no predefined disk geometry exists with slug %q", slug)
	}
	return geometry, nil
}

func init() {
	diskGeometries = make(map[string]DiskGeometry)
	reader := strings.NewReader(diskGeometriesRawCSV)
	err := gocsv.UnmarshalToCallback(reader, func(row DiskGeometry) error {
		if _, exists := diskGeometries[row.Slug]; exists {
			return fmt.Errorf("duplicate definition for disk geometry %q", row.Slug)
		}
		diskGeometries[row.Slug] = row
		return nil
	})
	if err != nil && err != io.EOF {
		panic(err)
	}
}
