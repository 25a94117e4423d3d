package device

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"

	"github.com/cockroachdb/errors"
)

// Bus identifies the transport a device is attached through.
type Bus string

const (
	BusATA     Bus = "ata"
	BusNVMe    Bus = "nvme"
	BusUSB     Bus = "usb"
	BusEMMC    Bus = "emmc"
	BusUnknown Bus = "unknown"
)

// Capability is a tri-state answer to a hardware feature query. A controller
// that does not answer yields CapUnknown, which must never be treated as
// CapSupported when deciding on an irreversible method.
type Capability string

const (
	CapSupported   Capability = "supported"
	CapUnsupported Capability = "unsupported"
	CapUnknown     Capability = "unknown"
)

// EncryptionScheme names the full-disk encryption detected on a device.
type EncryptionScheme string

const (
	EncryptionNone      EncryptionScheme = "none"
	EncryptionLUKS      EncryptionScheme = "luks"
	EncryptionBitLocker EncryptionScheme = "bitlocker"
)

// Profile is the capability snapshot of one physical storage unit, captured
// once per job. The raw path and serial never leave the process; only the
// salted fingerprint appears in persisted artifacts.
type Profile struct {
	Path        string
	Model       string
	Bus         Bus
	SizeBytes   uint64
	Rotational  bool
	SecureErase Capability

	Encryption        EncryptionScheme
	KeystoreReachable bool

	// HiddenAreaExtent is the sector count hidden by HPA/DCO: native max
	// minus reported size. Zero means no hidden area was detected.
	HiddenAreaExtent uint64

	FingerprintSalt string
	Fingerprint     string
}

// EncryptionActive reports whether a recognized full-disk encryption scheme
// covers the device.
func (p *Profile) EncryptionActive() bool {
	return p.Encryption != EncryptionNone && p.Encryption != ""
}

// SizeGB returns the device capacity in whole gigabytes, minimum 1.
func (p *Profile) SizeGB() uint64 {
	gb := p.SizeBytes / (1024 * 1024 * 1024)
	if gb == 0 {
		gb = 1
	}
	return gb
}

// fingerprint derives the salted identifier certificates carry instead of
// the raw path and serial.
func fingerprint(salt, path, serial string) string {
	sum := sha256.Sum256([]byte(salt + "|" + path + "|" + serial))
	return hex.EncodeToString(sum[:])
}

func newSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", errors.Wrap(err, "generate fingerprint salt")
	}
	return hex.EncodeToString(b), nil
}
