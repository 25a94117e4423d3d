package system

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// LogicalSectorSize is the addressing unit used throughout; modern drives
// may expose 4K physical sectors but LBA math stays 512-based.
const LogicalSectorSize = 512

// DeviceSize returns the addressable size of a block device in bytes.
func DeviceSize(path string) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	if sz, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64); err == nil && sz > 0 {
		return uint64(sz), nil
	}

	// Regular files (test fixtures) and exotic devices have no BLKGETSIZE64;
	// seeking to the end works for both.
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, errors.Wrapf(err, "determine size of %s", path)
	}
	return uint64(end), nil
}

// IsBlockDevice reports whether path names a block special file.
func IsBlockDevice(path string) (bool, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false, errors.Wrapf(err, "stat %s", path)
	}
	return st.Mode&unix.S_IFMT == unix.S_IFBLK, nil
}

// SysfsRoot is swappable in tests to point at a fixture tree.
var SysfsRoot = "/sys/block"

// ReadSysfsAttr reads a single sysfs attribute for a device, e.g.
// ReadSysfsAttr("sda", "queue/rotational").
func ReadSysfsAttr(devName, attr string) (string, error) {
	data, err := os.ReadFile(filepath.Join(SysfsRoot, devName, attr))
	if err != nil {
		return "", errors.Wrapf(err, "read sysfs attr %s for %s", attr, devName)
	}
	return strings.TrimSpace(string(data)), nil
}

// ReportedSectors returns the sector count the kernel sees for a device.
func ReportedSectors(devName string) (uint64, error) {
	raw, err := ReadSysfsAttr(devName, "size")
	if err != nil {
		return 0, err
	}
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "parse sector count %q", raw)
	}
	return n, nil
}

// DevName extracts the kernel device name from a /dev path.
func DevName(path string) string {
	return filepath.Base(path)
}

// MountedPartitions returns the mount points of every mounted filesystem
// backed by the given device or one of its partitions.
func MountedPartitions(devPath string) ([]string, error) {
	f, err := os.Open(procMounts)
	if err != nil {
		return nil, errors.Wrap(err, "open mounts table")
	}
	defer f.Close()

	var mounts []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 {
			continue
		}
		if strings.HasPrefix(fields[0], devPath) {
			mounts = append(mounts, fields[1])
		}
	}
	return mounts, sc.Err()
}

// procMounts is swappable in tests.
var procMounts = "/proc/mounts"

// Unmount detaches every filesystem backed by devPath. Lazy detach is not
// used: a busy filesystem must fail preflight, not linger half-attached
// while destructive writes begin.
func Unmount(devPath string) error {
	mounts, err := MountedPartitions(devPath)
	if err != nil {
		return err
	}
	for _, mp := range mounts {
		if err := unix.Unmount(mp, 0); err != nil {
			return errors.Wrapf(err, "unmount %s", mp)
		}
	}
	return nil
}

// OpenExclusive opens the device with O_EXCL so the kernel refuses the open
// while any partition is in use. The caller owns the returned file.
func OpenExclusive(devPath string) (*os.File, error) {
	fd, err := unix.Open(devPath, unix.O_RDWR|unix.O_EXCL, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "exclusive open %s", devPath)
	}
	return os.NewFile(uintptr(fd), devPath), nil
}
