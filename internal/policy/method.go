package policy

import "fmt"

// MethodKind tags one sanitization technique.
type MethodKind string

const (
	KindHardwareSecureErase MethodKind = "hardware_secure_erase"
	KindCryptographicErase  MethodKind = "cryptographic_erase"
	KindMultiPassOverwrite  MethodKind = "multipass_overwrite"
	KindSinglePassRandom    MethodKind = "single_pass_random"
	KindHiddenAreaRemoval   MethodKind = "hidden_area_removal"
)

// NISTClass is the SP 800-88 assurance tier a method satisfies.
type NISTClass string

const (
	ClassClear NISTClass = "clear"
	ClassPurge NISTClass = "purge"
)

// classRank orders assurance tiers; higher is stronger.
func classRank(c NISTClass) int {
	if c == ClassPurge {
		return 1
	}
	return 0
}

// PatternScheme names the byte patterns an overwrite method writes, in pass
// order.
type PatternScheme string

const (
	// PatternZeroFFRandom is the rotational-media 3-pass scheme: zeros,
	// 0xFF, then random.
	PatternZeroFFRandom PatternScheme = "zero-ff-random"
	// PatternRandom is a single random pass.
	PatternRandom PatternScheme = "random"
)

// SecureEraseVariant distinguishes the hardware erase command set.
type SecureEraseVariant string

const (
	VariantATA  SecureEraseVariant = "ata"
	VariantNVMe SecureEraseVariant = "nvme"
)

// Method is one candidate sanitization method with the assurance tier it
// satisfies. Instances are values; the selector returns them in execution
// order, highest assurance first.
type Method struct {
	Kind    MethodKind         `json:"kind"`
	Variant SecureEraseVariant `json:"variant,omitempty"`
	Passes  int                `json:"passes,omitempty"`
	Pattern PatternScheme      `json:"pattern,omitempty"`
	Class   NISTClass          `json:"class"`
	// Warning carries a caveat that must surface in the log and
	// certificate, e.g. weakened guarantees on wear-leveled flash.
	Warning string `json:"warning,omitempty"`
}

func (m Method) String() string {
	switch m.Kind {
	case KindHardwareSecureErase:
		return fmt.Sprintf("%s(%s)", m.Kind, m.Variant)
	case KindMultiPassOverwrite:
		return fmt.Sprintf("%s(%d,%s)", m.Kind, m.Passes, m.Pattern)
	default:
		return string(m.Kind)
	}
}
