package device

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"veriwipe/internal/system"
)

// ErrDeviceUnreadable means inspection itself failed; no sanitization method
// may be attempted against a device whose profile could not be captured.
var ErrDeviceUnreadable = errors.New("device unreadable")

// Block device probes are vars so tests can run inspection against
// regular scratch files.
var (
	isBlockDevice = system.IsBlockDevice
	deviceSize    = system.DeviceSize
)

// Inspector captures device capability profiles. It never mutates device
// state: all queries are reads of sysfs or read-only utility invocations.
type Inspector struct {
	runner system.Runner
	logger *zap.Logger
}

func NewInspector(runner system.Runner, logger *zap.Logger) *Inspector {
	return &Inspector{runner: runner, logger: logger}
}

// Inspect queries one device and returns its immutable profile.
func (in *Inspector) Inspect(ctx context.Context, path string) (*Profile, error) {
	isBlock, err := isBlockDevice(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "inspect %s", path), ErrDeviceUnreadable)
	}
	if !isBlock {
		return nil, errors.Mark(errors.Newf("%s is not a block device", path), ErrDeviceUnreadable)
	}

	size, err := deviceSize(path)
	if err != nil {
		return nil, errors.Mark(err, ErrDeviceUnreadable)
	}

	dev := system.DevName(path)

	p := &Profile{
		Path:      path,
		SizeBytes: size,
		Bus:       busOf(dev),
	}

	if rot, err := system.ReadSysfsAttr(dev, "queue/rotational"); err == nil {
		p.Rotational = rot == "1"
	}
	if model, err := system.ReadSysfsAttr(dev, "device/model"); err == nil {
		p.Model = model
	}

	serial, _ := system.ReadSysfsAttr(dev, "device/serial")

	p.SecureErase = in.secureEraseSupport(ctx, path, p.Bus)
	p.Encryption, p.KeystoreReachable = in.encryptionStatus(ctx, path)
	p.HiddenAreaExtent = in.hiddenAreaExtent(ctx, path, dev)

	salt, err := newSalt()
	if err != nil {
		return nil, errors.Mark(err, ErrDeviceUnreadable)
	}
	p.FingerprintSalt = salt
	p.Fingerprint = fingerprint(salt, path, serial)

	in.logger.Debug("device inspected",
		zap.String("device", path),
		zap.String("bus", string(p.Bus)),
		zap.Uint64("size_bytes", p.SizeBytes),
		zap.Bool("rotational", p.Rotational),
		zap.String("secure_erase", string(p.SecureErase)),
		zap.String("encryption", string(p.Encryption)),
		zap.Uint64("hidden_area_extent", p.HiddenAreaExtent))

	return p, nil
}

// busOf classifies the transport from the kernel device name. NVMe and eMMC
// are unambiguous from naming; sd* needs the sysfs transport attribute to
// separate SATA from USB bridges.
func busOf(dev string) Bus {
	switch {
	case strings.HasPrefix(dev, "nvme"):
		return BusNVMe
	case strings.HasPrefix(dev, "mmcblk"):
		return BusEMMC
	case strings.HasPrefix(dev, "sd"):
		if tran, err := system.ReadSysfsAttr(dev, "device/transport"); err == nil {
			if strings.Contains(strings.ToLower(tran), "usb") {
				return BusUSB
			}
		}
		return BusATA
	default:
		return BusUnknown
	}
}

// secureEraseSupport asks the controller whether it implements hardware
// secure erase. A missing utility or an unparseable reply is CapUnknown,
// never CapSupported.
func (in *Inspector) secureEraseSupport(ctx context.Context, path string, bus Bus) Capability {
	switch bus {
	case BusNVMe:
		if !in.runner.LookPath("nvme") {
			return CapUnknown
		}
		out, err := in.runner.Run(ctx, "nvme", "id-ctrl", path)
		if err != nil {
			return CapUnknown
		}
		// fna bit 1: format applies to all namespaces; any fna line means
		// the controller answered the Format NVM capability query.
		if strings.Contains(out, "fna") {
			return CapSupported
		}
		return CapUnsupported
	case BusATA:
		if !in.runner.LookPath("hdparm") {
			return CapUnknown
		}
		out, err := in.runner.Run(ctx, "hdparm", "-I", path)
		if err != nil {
			return CapUnknown
		}
		lower := strings.ToLower(out)
		if !strings.Contains(lower, "security") {
			return CapUnknown
		}
		if strings.Contains(lower, "supported: enhanced erase") ||
			strings.Contains(lower, "erase_unit") {
			return CapSupported
		}
		if strings.Contains(lower, "not	supported") || strings.Contains(lower, "not supported") {
			return CapUnsupported
		}
		return CapUnknown
	default:
		return CapUnsupported
	}
}

// encryptionStatus detects full-disk encryption and whether its key store is
// reachable for a crypto-erase.
func (in *Inspector) encryptionStatus(ctx context.Context, path string) (EncryptionScheme, bool) {
	if !in.runner.LookPath("cryptsetup") {
		return EncryptionNone, false
	}
	if _, err := in.runner.Run(ctx, "cryptsetup", "isLuks", path); err == nil {
		// isLuks succeeding means the LUKS header (the key store) is intact
		// on-device and reachable for luksErase.
		return EncryptionLUKS, true
	}
	return EncryptionNone, false
}

var nativeMaxRe = regexp.MustCompile(`max sectors\s*=\s*(\d+)/(\d+)`)

// hiddenAreaExtent compares the reported addressable sector count with the
// drive's native maximum. A discrepancy means an HPA (or DCO) hides part of
// the device from the OS.
func (in *Inspector) hiddenAreaExtent(ctx context.Context, path, dev string) uint64 {
	if !in.runner.LookPath("hdparm") {
		return 0
	}
	out, err := in.runner.Run(ctx, "hdparm", "-N", path)
	if err != nil {
		return 0
	}
	m := nativeMaxRe.FindStringSubmatch(out)
	if m == nil {
		return 0
	}
	visible, err1 := strconv.ParseUint(m[1], 10, 64)
	native, err2 := strconv.ParseUint(m[2], 10, 64)
	if err1 != nil || err2 != nil {
		return 0
	}
	// Prefer the kernel's view of the addressable range; a firmware that
	// misreports its own visible count should not mask a clipped device.
	if reported, err := system.ReportedSectors(dev); err == nil && reported > 0 {
		visible = reported
	}
	if native <= visible {
		return 0
	}
	extent := native - visible
	in.logger.Warn("hidden area detected",
		zap.String("device", path),
		zap.Uint64("visible_sectors", visible),
		zap.Uint64("native_sectors", native),
		zap.Uint64("hidden_area_extent", extent))
	return extent
}
