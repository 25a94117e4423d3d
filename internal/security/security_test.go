package security

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"veriwipe/internal/config"
)

func fixtureMounts(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mounts")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	prev := mountsPath
	mountsPath = path
	t.Cleanup(func() { mountsPath = prev })
}

func TestIsProtectedMatchesPrefix(t *testing.T) {
	cfg := config.Default()
	cfg.Security.ProtectedDevices = []string{"/dev/sda", "/dev/nvme0n1"}

	assert.True(t, IsProtected(cfg, "/dev/sda"))
	assert.True(t, IsProtected(cfg, "/dev/sda1"))
	assert.True(t, IsProtected(cfg, "/dev/nvme0n1p2"))
	assert.False(t, IsProtected(cfg, "/dev/sdb"))
	assert.False(t, IsProtected(nil, "/dev/sda"))
}

func TestIsSystemDevice(t *testing.T) {
	fixtureMounts(t, `/dev/sda2 / ext4 rw,relatime 0 0
/dev/sdb1 /mnt/data ext4 rw 0 0
tmpfs /tmp tmpfs rw 0 0
`)

	assert.True(t, IsSystemDevice("/dev/sda"))
	assert.True(t, IsSystemDevice("/dev/sda2"))
	assert.False(t, IsSystemDevice("/dev/sdb"))
}

func TestIsSystemDeviceUnreadableMountsIsConservative(t *testing.T) {
	prev := mountsPath
	mountsPath = filepath.Join(t.TempDir(), "absent")
	t.Cleanup(func() { mountsPath = prev })

	assert.True(t, IsSystemDevice("/dev/sdb"))
}

func TestChecksRefusesProtectedDevice(t *testing.T) {
	fixtureMounts(t, "/dev/sda2 / ext4 rw 0 0\n")

	cfg := config.Default()
	cfg.Security.RequireRoot = false
	cfg.Security.ProtectedDevices = []string{"/dev/sdc"}

	err := Checks(cfg, "/dev/sdc")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefused)
}

func TestChecksRefusesRootFilesystemDevice(t *testing.T) {
	fixtureMounts(t, "/dev/sda2 / ext4 rw 0 0\n")

	cfg := config.Default()
	cfg.Security.RequireRoot = false

	err := Checks(cfg, "/dev/sda")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRefused)
}

func TestChecksAllowsDataDevice(t *testing.T) {
	fixtureMounts(t, "/dev/sda2 / ext4 rw 0 0\n")

	cfg := config.Default()
	cfg.Security.RequireRoot = false

	assert.NoError(t, Checks(cfg, "/dev/sdb"))
}
