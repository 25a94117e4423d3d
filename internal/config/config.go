package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// Config holds all tunables for the sanitization pipeline.
type Config struct {
	Security SecurityConfig `yaml:"security"`
	Wipe     WipeConfig     `yaml:"wipe"`
	Verify   VerifyConfig   `yaml:"verify"`
	Audit    AuditConfig    `yaml:"audit"`
	Keys     KeysConfig     `yaml:"keys"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SecurityConfig gates the irreversible operations.
type SecurityConfig struct {
	RequireRoot         bool     `yaml:"require_root"`
	RequireConfirmation bool     `yaml:"require_confirmation"`
	ProtectedDevices    []string `yaml:"protected_devices"`
}

// WipeConfig tunes overwrite execution.
type WipeConfig struct {
	ChunkSize        int64   `yaml:"chunk_size"`
	MaxSpeedMBps     float64 `yaml:"max_speed_mbps"`
	HDDPasses        int     `yaml:"hdd_passes"`
	PreflightRetries int     `yaml:"preflight_retries"`
	WatchdogAfter    string  `yaml:"watchdog_after"`
}

// VerifyConfig tunes post-wipe sampling.
type VerifyConfig struct {
	SampleFloor   int `yaml:"sample_floor"`
	SampleCeiling int `yaml:"sample_ceiling"`
	RegionSize    int `yaml:"region_size"`
}

// AuditConfig locates the persisted per-job artifacts.
type AuditConfig struct {
	LogDir         string `yaml:"log_dir"`
	CertificateDir string `yaml:"certificate_dir"`
}

// KeysConfig locates the process signing identity.
type KeysConfig struct {
	PrivateKeyPath string `yaml:"private_key_path"`
	PublicKeyPath  string `yaml:"public_key_path"`
}

// LoggingConfig controls the zap logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Security: SecurityConfig{
			RequireRoot:         true,
			RequireConfirmation: true,
			ProtectedDevices:    []string{},
		},
		Wipe: WipeConfig{
			ChunkSize:        16 * 1024 * 1024, // 16MB
			MaxSpeedMBps:     0,                // unlimited
			HDDPasses:        3,
			PreflightRetries: 1,
			WatchdogAfter:    "4h",
		},
		Verify: VerifyConfig{
			SampleFloor:   32,
			SampleCeiling: 256,
			RegionSize:    64 * 1024, // 64KB
		},
		Audit: AuditConfig{
			LogDir:         "/var/lib/veriwipe/logs",
			CertificateDir: "/var/lib/veriwipe/certificates",
		},
		Keys: KeysConfig{
			PrivateKeyPath: "/var/lib/veriwipe/keys/private_key.pem",
			PublicKeyPath:  "/var/lib/veriwipe/keys/public_key.pem",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  "",
		},
	}
}

// Load reads configuration from path, falling back to Default when the
// path is empty or the file does not exist.
func Load(path string) (*Config, error) {
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, errors.Wrapf(err, "read config file %s", path)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config file %s", path)
	}

	if err := Validate(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	return cfg, nil
}

// Validate rejects configurations that could make a wipe unsafe or
// unverifiable.
func Validate(cfg *Config) error {
	if cfg.Wipe.ChunkSize <= 0 {
		return errors.Newf("chunk size must be positive, got %d", cfg.Wipe.ChunkSize)
	}
	if cfg.Wipe.ChunkSize > 256*1024*1024 {
		return errors.Newf("chunk size too large (max 256MB), got %d", cfg.Wipe.ChunkSize)
	}
	if cfg.Wipe.MaxSpeedMBps < 0 {
		return errors.Newf("max speed cannot be negative, got %f", cfg.Wipe.MaxSpeedMBps)
	}
	if cfg.Wipe.HDDPasses <= 0 || cfg.Wipe.HDDPasses > 10 {
		return errors.Newf("hdd passes must be between 1 and 10, got %d", cfg.Wipe.HDDPasses)
	}
	if cfg.Wipe.PreflightRetries < 0 || cfg.Wipe.PreflightRetries > 5 {
		return errors.Newf("preflight retries must be between 0 and 5, got %d", cfg.Wipe.PreflightRetries)
	}
	if cfg.Wipe.WatchdogAfter != "" {
		if _, err := time.ParseDuration(cfg.Wipe.WatchdogAfter); err != nil {
			return errors.Newf("invalid watchdog_after format: %s", cfg.Wipe.WatchdogAfter)
		}
	}

	if cfg.Verify.SampleFloor <= 0 {
		return errors.Newf("sample floor must be positive, got %d", cfg.Verify.SampleFloor)
	}
	if cfg.Verify.SampleCeiling < cfg.Verify.SampleFloor {
		return errors.Newf("sample ceiling %d below floor %d", cfg.Verify.SampleCeiling, cfg.Verify.SampleFloor)
	}
	if cfg.Verify.RegionSize < 512 {
		return errors.Newf("region size must be at least one sector, got %d", cfg.Verify.RegionSize)
	}

	if cfg.Audit.LogDir == "" || cfg.Audit.CertificateDir == "" {
		return errors.New("audit log and certificate directories must be set")
	}
	if cfg.Keys.PrivateKeyPath == "" || cfg.Keys.PublicKeyPath == "" {
		return errors.New("key paths must be set")
	}

	switch cfg.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.Newf("invalid log level: %s", cfg.Logging.Level)
	}

	for _, dev := range cfg.Security.ProtectedDevices {
		if dev == "" || filepath.Clean(dev) == "/" {
			return errors.Newf("invalid protected device entry: %q", dev)
		}
	}

	return nil
}

// Save writes the configuration to path, creating the directory if needed.
func Save(cfg *Config, path string) error {
	if err := Validate(cfg); err != nil {
		return errors.Wrap(err, "cannot save invalid config")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return errors.Wrap(err, "create config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "marshal config")
	}

	return os.WriteFile(path, data, 0644)
}

// WatchdogDuration returns the parsed watchdog threshold, zero disables it.
func (c *Config) WatchdogDuration() time.Duration {
	if c.Wipe.WatchdogAfter == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Wipe.WatchdogAfter)
	if err != nil {
		return 4 * time.Hour
	}
	return d
}
