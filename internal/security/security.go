package security

import (
	"bufio"
	"os"
	"strings"

	"github.com/cockroachdb/errors"

	"veriwipe/internal/config"
)

// ErrRefused marks a guardrail rejecting the run before any device is
// touched.
var ErrRefused = errors.New("refused by safety policy")

// mountsPath is a var so tests can point it at a fixture.
var mountsPath = "/proc/mounts"

// Checks runs the pre-wipe guardrails: effective root when required, and
// the target not being a protected or system device.
func Checks(cfg *config.Config, devicePath string) error {
	if cfg == nil {
		cfg = config.Default()
	}

	if cfg.Security.RequireRoot && os.Geteuid() != 0 {
		return errors.Mark(errors.New("wiping block devices requires root"), ErrRefused)
	}

	if IsProtected(cfg, devicePath) {
		return errors.Mark(errors.Newf("%s is on the protected device list", devicePath), ErrRefused)
	}

	if IsSystemDevice(devicePath) {
		return errors.Mark(errors.Newf("%s backs the root filesystem", devicePath), ErrRefused)
	}

	return nil
}

// IsProtected reports whether the device is explicitly protected by
// configuration. Matching is by prefix so protecting /dev/sda also covers
// its partitions.
func IsProtected(cfg *config.Config, devicePath string) bool {
	if cfg == nil {
		return false
	}
	for _, protected := range cfg.Security.ProtectedDevices {
		if protected != "" && strings.HasPrefix(devicePath, protected) {
			return true
		}
	}
	return false
}

// IsSystemDevice reports whether the device (or one of its partitions)
// carries the running root filesystem. This guard is unconditional;
// no configuration flag disables it.
func IsSystemDevice(devicePath string) bool {
	f, err := os.Open(mountsPath)
	if err != nil {
		// If mounts cannot be read, assume the worst about the target.
		return true
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 || fields[1] != "/" {
			continue
		}
		return strings.HasPrefix(fields[0], devicePath)
	}
	return false
}
