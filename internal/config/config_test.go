package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestLoadMissingFileFallsBackToDefault(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "veriwipe.yaml")
	yaml := `
wipe:
  chunk_size: 4194304
  max_speed_mbps: 25
security:
  protected_devices:
    - /dev/sda
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4194304), cfg.Wipe.ChunkSize)
	assert.Equal(t, 25.0, cfg.Wipe.MaxSpeedMBps)
	assert.Equal(t, []string{"/dev/sda"}, cfg.Security.ProtectedDevices)
	// Untouched sections keep their defaults.
	assert.Equal(t, 32, cfg.Verify.SampleFloor)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(cfg *Config)
	}{
		{name: "zero chunk size", mutate: func(c *Config) { c.Wipe.ChunkSize = 0 }},
		{name: "oversized chunk", mutate: func(c *Config) { c.Wipe.ChunkSize = 512 * 1024 * 1024 }},
		{name: "negative speed", mutate: func(c *Config) { c.Wipe.MaxSpeedMBps = -1 }},
		{name: "zero passes", mutate: func(c *Config) { c.Wipe.HDDPasses = 0 }},
		{name: "bad watchdog format", mutate: func(c *Config) { c.Wipe.WatchdogAfter = "four hours" }},
		{name: "sub-sector region size", mutate: func(c *Config) { c.Verify.RegionSize = 100 }},
		{name: "ceiling below floor", mutate: func(c *Config) { c.Verify.SampleCeiling = 1; c.Verify.SampleFloor = 32 }},
		{name: "empty log dir", mutate: func(c *Config) { c.Audit.LogDir = "" }},
		{name: "empty key path", mutate: func(c *Config) { c.Keys.PrivateKeyPath = "" }},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "trace" }},
		{name: "root as protected device", mutate: func(c *Config) { c.Security.ProtectedDevices = []string{"/"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "veriwipe.yaml")

	cfg := Default()
	cfg.Wipe.MaxSpeedMBps = 80
	cfg.Security.ProtectedDevices = []string{"/dev/nvme0n1"}
	require.NoError(t, Save(cfg, path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestApplyProfile(t *testing.T) {
	cfg := Default()
	require.NoError(t, ApplyProfile(cfg, "safe"))
	assert.Equal(t, 50.0, cfg.Wipe.MaxSpeedMBps)
	assert.Equal(t, 64, cfg.Verify.SampleFloor)
	require.NoError(t, Validate(cfg))

	cfg = Default()
	require.NoError(t, ApplyProfile(cfg, "aggressive"))
	assert.Equal(t, 5, cfg.Wipe.HDDPasses)
	require.NoError(t, Validate(cfg))

	assert.Error(t, ApplyProfile(Default(), "turbo"))
}

func TestWatchdogDuration(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 4*time.Hour, cfg.WatchdogDuration())

	cfg.Wipe.WatchdogAfter = ""
	assert.Equal(t, time.Duration(0), cfg.WatchdogDuration())

	cfg.Wipe.WatchdogAfter = "30m"
	assert.Equal(t, 30*time.Minute, cfg.WatchdogDuration())
}
