package config

import (
	"github.com/cockroachdb/errors"
)

// ApplyProfile adjusts execution and verification aggressiveness.
// Profiles trade wipe speed against device wear and sampling depth; they
// never change which sanitization methods are eligible.
func ApplyProfile(cfg *Config, profile string) error {
	switch profile {
	case "safe":
		cfg.Wipe.MaxSpeedMBps = 50
		cfg.Wipe.ChunkSize = 8 * 1024 * 1024
		cfg.Verify.SampleFloor = 64
		cfg.Verify.SampleCeiling = 512
	case "balanced":
		cfg.Wipe.MaxSpeedMBps = 0
		cfg.Wipe.ChunkSize = 16 * 1024 * 1024
		cfg.Verify.SampleFloor = 32
		cfg.Verify.SampleCeiling = 256
	case "aggressive":
		cfg.Wipe.MaxSpeedMBps = 0
		cfg.Wipe.ChunkSize = 128 * 1024 * 1024
		cfg.Wipe.HDDPasses = 5
		cfg.Verify.SampleFloor = 128
		cfg.Verify.SampleCeiling = 1024
	default:
		return errors.Newf("unknown profile: %s", profile)
	}
	return nil
}
