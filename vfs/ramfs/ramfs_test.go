package ramfs_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aos-project/aos-core/vfs"
	"github.com/aos-project/aos-core/vfs/ramfs"
)

func mountedDispatcher(t *testing.T) (*vfs.Dispatcher, vfs.Caller) {
	t.Helper()

	fs := ramfs.New()
	mounts := vfs.NewMountTable()
	_, err := mounts.Mount("/", fs, "", 0)
	require.NoError(t, err)

	return vfs.NewDispatcher(mounts), rootCaller{}
}

type rootCaller struct{}

func (rootCaller) CallerOwnerID() uint32          { return 0 }
func (rootCaller) CallerOwnerClass() vfs.OwnerClass { return vfs.OwnerRoot }

func TestRamfsRoundTrip(t *testing.T) {
	d, caller := mountedDispatcher(t)

	fd, err := d.Open(caller, "/hello.txt", vfs.OCreate|vfs.ORdWr)
	require.NoError(t, err)

	payload := []byte("Hello from aOS filesystem!")
	n, err := d.Write(caller, fd, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)

	_, err = d.Lseek(fd, 0, vfs.SeekSet)
	require.NoError(t, err)

	readBack := make([]byte, len(payload))
	n, err = d.Read(caller, fd, readBack)
	require.NoError(t, err)
	require.Equal(t, payload, readBack[:n])

	require.NoError(t, d.Close(fd))
}

func TestRamfsMkdirReaddir(t *testing.T) {
	d, caller := mountedDispatcher(t)

	require.NoError(t, d.Mkdir(caller, "/etc"))
	_, err := d.Open(caller, "/etc/motd", vfs.OCreate|vfs.OWrOnly)
	require.NoError(t, err)

	fd, err := d.Open(caller, "/etc", vfs.ORdOnly|vfs.ODirectory)
	require.NoError(t, err)

	name, err := d.Readdir(caller, fd)
	require.NoError(t, err)
	require.Equal(t, "motd", name)

	_, err = d.Readdir(caller, fd)
	require.Error(t, err)
}

func TestRamfsUnlinkNonEmptyDirFails(t *testing.T) {
	d, caller := mountedDispatcher(t)

	require.NoError(t, d.Mkdir(caller, "/data"))
	_, err := d.Open(caller, "/data/file", vfs.OCreate|vfs.OWrOnly)
	require.NoError(t, err)

	err = d.Rmdir(caller, "/data")
	require.Error(t, err)

	require.NoError(t, d.Unlink(caller, "/data/file"))
	require.NoError(t, d.Rmdir(caller, "/data"))
}

func TestRamfsWriteGrowsAndRespectsCap(t *testing.T) {
	fs := ramfs.NewSized(16, 8192)
	mounts := vfs.NewMountTable()
	_, err := mounts.Mount("/", fs, "", 0)
	require.NoError(t, err)
	d := vfs.NewDispatcher(mounts)
	caller := rootCaller{}

	fd, err := d.Open(caller, "/big", vfs.OCreate|vfs.OWrOnly)
	require.NoError(t, err)

	tooBig := make([]byte, 9000)
	_, err = d.Write(caller, fd, tooBig)
	require.Error(t, err)

	ok := make([]byte, 4096)
	n, err := d.Write(caller, fd, ok)
	require.NoError(t, err)
	require.Equal(t, len(ok), n)
}

func TestRamfsOpenDirectoryWithoutODirectoryFails(t *testing.T) {
	d, caller := mountedDispatcher(t)
	require.NoError(t, d.Mkdir(caller, "/x"))

	_, err := d.Open(caller, "/x", vfs.ORdOnly)
	require.Error(t, err)
}
