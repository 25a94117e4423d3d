package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceSizeOfRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	require.NoError(t, os.WriteFile(path, make([]byte, 8192), 0o600))

	size, err := DeviceSize(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(8192), size)
}

func TestIsBlockDeviceOnRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	isBlock, err := IsBlockDevice(path)
	require.NoError(t, err)
	assert.False(t, isBlock)

	_, err = IsBlockDevice(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestSysfsAttrAndReportedSectors(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sda", "queue"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sda", "queue", "rotational"), []byte("1\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sda", "size"), []byte("976773168\n"), 0o644))

	prev := SysfsRoot
	SysfsRoot = root
	t.Cleanup(func() { SysfsRoot = prev })

	rot, err := ReadSysfsAttr("sda", "queue/rotational")
	require.NoError(t, err)
	assert.Equal(t, "1", rot)

	sectors, err := ReportedSectors("sda")
	require.NoError(t, err)
	assert.Equal(t, uint64(976773168), sectors)

	_, err = ReadSysfsAttr("sdb", "size")
	assert.Error(t, err)
}

func TestDevName(t *testing.T) {
	assert.Equal(t, "sda", DevName("/dev/sda"))
	assert.Equal(t, "nvme0n1", DevName("/dev/nvme0n1"))
}

func TestMountedPartitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(path, []byte(`/dev/sda1 /boot ext4 rw 0 0
/dev/sdb1 /mnt/data ext4 rw 0 0
/dev/sdb2 /mnt/backup ext4 rw 0 0
tmpfs /tmp tmpfs rw 0 0
`), 0o644))

	prev := procMounts
	procMounts = path
	t.Cleanup(func() { procMounts = prev })

	mounts, err := MountedPartitions("/dev/sdb")
	require.NoError(t, err)
	assert.Equal(t, []string{"/mnt/data", "/mnt/backup"}, mounts)

	mounts, err = MountedPartitions("/dev/sdc")
	require.NoError(t, err)
	assert.Empty(t, mounts)
}

func TestFakeRunnerScripting(t *testing.T) {
	f := &FakeRunner{
		Outputs: map[string]string{"hdparm": "ok"},
		Missing: map[string]bool{"nvme": true},
	}

	out, err := f.Run(context.Background(), "hdparm", "-I", "/dev/sda")
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, []string{"hdparm -I /dev/sda"}, f.Commands)

	_, err = f.Run(context.Background(), "cryptsetup", "isLuks", "/dev/sda")
	assert.ErrorIs(t, err, ErrNotScripted)

	assert.False(t, f.LookPath("nvme"))
	assert.True(t, f.LookPath("hdparm"))
}
