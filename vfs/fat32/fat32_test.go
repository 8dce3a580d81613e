package fat32_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aos-project/aos-core/blockdev"
	"github.com/aos-project/aos-core/vfs"
	"github.com/aos-project/aos-core/vfs/fat32"
)

type rootCaller struct{}

func (rootCaller) CallerOwnerID() uint32            { return 0 }
func (rootCaller) CallerOwnerClass() vfs.OwnerClass { return vfs.OwnerRoot }

func newFormattedDevice(t *testing.T) blockdev.BlockDevice {
	t.Helper()
	storage := make([]byte, 4*1024*1024)
	dev := blockdev.NewMemoryBlockDevice(storage)
	require.NoError(t, fat32.FormatImage(dev, fat32.DefaultFormatOptions()))
	return dev
}

func TestFormatAndMount(t *testing.T) {
	dev := newFormattedDevice(t)

	driver := fat32.NewDriver(dev)
	require.NoError(t, driver.Mount("", 0))

	root, err := driver.GetRoot()
	require.NoError(t, err)
	require.True(t, root.IsDir())
}

func TestFileWriteReadRoundTrip(t *testing.T) {
	dev := newFormattedDevice(t)
	fs := fat32.NewDriver(dev)

	mounts := vfs.NewMountTable()
	_, err := mounts.Mount("/", fs, "", 0)
	require.NoError(t, err)

	d := vfs.NewDispatcher(mounts)
	caller := rootCaller{}

	fd, err := d.Open(caller, "/greeting.txt", vfs.OCreate|vfs.ORdWr)
	require.NoError(t, err)

	payload := []byte("Hello from aOS filesystem!")
	n, err := d.Write(caller, fd, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.NoError(t, d.Close(fd))

	fd2, err := d.Open(caller, "/greeting.txt", vfs.ORdOnly)
	require.NoError(t, err)
	readBack := make([]byte, len(payload))
	n, err = d.Read(caller, fd2, readBack)
	require.NoError(t, err)
	require.Equal(t, payload, readBack[:n])
}

func TestLongFileNameRoundTrip(t *testing.T) {
	dev := newFormattedDevice(t)
	fs := fat32.NewDriver(dev)

	mounts := vfs.NewMountTable()
	_, err := mounts.Mount("/", fs, "", 0)
	require.NoError(t, err)

	d := vfs.NewDispatcher(mounts)
	caller := rootCaller{}

	const longName = "a-rather-long-configuration-file.yaml"
	fd, err := d.Open(caller, "/"+longName, vfs.OCreate|vfs.OWrOnly)
	require.NoError(t, err)
	require.NoError(t, d.Close(fd))

	fd2, err := d.Open(caller, "/", vfs.ORdOnly|vfs.ODirectory)
	require.NoError(t, err)

	found := false
	for i := 0; i < 10; i++ {
		name, err := d.Readdir(caller, fd2)
		if err != nil {
			break
		}
		if name == longName {
			found = true
		}
	}
	require.True(t, found, "expected to find %q in root directory listing", longName)
}

func TestRmdirRemovesDirectoryEntry(t *testing.T) {
	dev := newFormattedDevice(t)
	fs := fat32.NewDriver(dev)

	mounts := vfs.NewMountTable()
	_, err := mounts.Mount("/", fs, "", 0)
	require.NoError(t, err)

	d := vfs.NewDispatcher(mounts)
	caller := rootCaller{}

	require.NoError(t, d.Mkdir(caller, "/tmp"))
	require.NoError(t, d.Rmdir(caller, "/tmp"))

	_, err = d.Stat("/tmp")
	require.Error(t, err)
}

func TestMountSourceLBAParsing(t *testing.T) {
	lba, err := fat32.ParseMountSource("lba=128")
	require.NoError(t, err)
	require.EqualValues(t, 128, lba)

	lba, err = fat32.ParseMountSource("lba:0")
	require.NoError(t, err)
	require.EqualValues(t, 0, lba)

	_, err = fat32.ParseMountSource("garbage")
	require.Error(t, err)
}

func TestBootSectorRejectsBadSignature(t *testing.T) {
	storage := make([]byte, 4*1024*1024)
	dev := blockdev.NewMemoryBlockDevice(storage)

	_, err := fat32.ParseBootSector(dev)
	require.Error(t, err)
}
