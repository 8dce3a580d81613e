package blockdev_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aos-project/aos-core/blockdev"
)

func TestMemoryBlockDeviceReadWriteRoundTrip(t *testing.T) {
	storage := make([]byte, 4*blockdev.SectorSize)
	dev := blockdev.NewMemoryBlockDevice(storage)
	require.EqualValues(t, 4, dev.TotalSectors())

	payload := make([]byte, 2*blockdev.SectorSize)
	for i := range payload {
		payload[i] = byte(i)
	}

	require.NoError(t, dev.WriteSectors(1, 2, payload))

	readBack := make([]byte, 2*blockdev.SectorSize)
	require.NoError(t, dev.ReadSectors(1, 2, readBack))
	require.Equal(t, payload, readBack)
}

func TestMemoryBlockDeviceRejectsOutOfRange(t *testing.T) {
	storage := make([]byte, 2*blockdev.SectorSize)
	dev := blockdev.NewMemoryBlockDevice(storage)

	buf := make([]byte, blockdev.SectorSize)
	err := dev.ReadSectors(5, 1, buf)
	require.Error(t, err)
}

func TestGetPredefinedDiskGeometry(t *testing.T) {
	geometry, err := blockdev.GetPredefinedDiskGeometry("1.44M")
	require.NoError(t, err)
	require.EqualValues(t, 2880, geometry.TotalSectors())

	_, err = blockdev.GetPredefinedDiskGeometry("does-not-exist")
	require.Error(t, err)
}
