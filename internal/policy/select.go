package policy

import (
	"go.uber.org/zap"

	"veriwipe/internal/config"
	"veriwipe/internal/device"
)

// ssdOverwriteWarning surfaces in the log and certificate whenever flash
// media is overwritten instead of hardware-erased: wear-leveling can retain
// remapped blocks the host cannot address.
const ssdOverwriteWarning = "overwrite on solid-state media cannot reach wear-leveled spare blocks; physical guarantees are weaker than hardware erase"

// Advisor may suggest a reordering of the candidate list. It is advisory
// data, never control flow: suggestions that change the candidate set, touch
// the hidden-area step, or promote a weaker assurance tier are discarded.
type Advisor interface {
	Rank(profile *device.Profile, candidates []Method) []Method
}

// Selector maps a device profile to its ordered sanitization method queue.
type Selector struct {
	advisor   Advisor
	logger    *zap.Logger
	hddPasses int
}

func NewSelector(cfg *config.Config, advisor Advisor, logger *zap.Logger) *Selector {
	passes := 0
	if cfg != nil {
		passes = cfg.Wipe.HDDPasses
	}
	if passes <= 0 {
		passes = 3
	}
	return &Selector{advisor: advisor, logger: logger, hddPasses: passes}
}

// Select applies the deterministic decision policy:
//
//  1. Active full-disk encryption with a reachable key store: crypto-erase
//     alone. Destroying the key store renders the ciphertext unrecoverable;
//     no fallback is queued because a failed header write means the device
//     is not accepting writes at all.
//  2. Hardware secure erase supported: that variant first, with an
//     overwrite fallback for controllers that reject the command.
//  3. Otherwise overwrite: multi-pass for rotational media (pass count from
//     config), single random pass with an explicit warning for solid-state.
//
// A detected hidden area unconditionally prepends HiddenAreaRemoval so the
// full native capacity is exposed before any method is credited with
// covering the device.
func (s *Selector) Select(p *device.Profile) []Method {
	var queue []Method

	switch {
	case p.EncryptionActive() && p.KeystoreReachable:
		queue = []Method{{Kind: KindCryptographicErase, Class: ClassPurge}}

	case p.SecureErase == device.CapSupported:
		variant := VariantATA
		if p.Bus == device.BusNVMe {
			variant = VariantNVMe
		}
		queue = []Method{
			{Kind: KindHardwareSecureErase, Variant: variant, Class: ClassPurge},
			s.overwriteFor(p),
		}

	default:
		queue = []Method{s.overwriteFor(p)}
	}

	if p.HiddenAreaExtent > 0 {
		queue = append([]Method{{Kind: KindHiddenAreaRemoval, Class: ClassPurge}}, queue...)
	}

	return s.applyAdvice(p, queue)
}

// overwriteFor picks the overwrite variant by media type.
func (s *Selector) overwriteFor(p *device.Profile) Method {
	if p.Rotational {
		return Method{
			Kind:    KindMultiPassOverwrite,
			Passes:  s.hddPasses,
			Pattern: PatternZeroFFRandom,
			Class:   ClassPurge,
		}
	}
	return Method{
		Kind:    KindSinglePassRandom,
		Passes:  1,
		Pattern: PatternRandom,
		Class:   ClassClear,
		Warning: ssdOverwriteWarning,
	}
}

// applyAdvice runs the advisory ranker and keeps its suggestion only when it
// respects every invariant of the deterministic policy.
func (s *Selector) applyAdvice(p *device.Profile, queue []Method) []Method {
	if s.advisor == nil {
		return queue
	}

	suggested := s.advisor.Rank(p, append([]Method(nil), queue...))
	if !validSuggestion(queue, suggested) {
		s.logger.Warn("advisory ranking violated policy invariants, ignoring",
			zap.String("device", p.Fingerprint))
		return queue
	}
	return suggested
}

// validSuggestion checks that a suggested ordering is a permutation of the
// original queue, keeps HiddenAreaRemoval first, and never places a weaker
// assurance tier ahead of a stronger one.
func validSuggestion(original, suggested []Method) bool {
	if len(suggested) != len(original) {
		return false
	}

	counts := make(map[string]int, len(original))
	for _, m := range original {
		counts[m.String()]++
	}
	for _, m := range suggested {
		counts[m.String()]--
		if counts[m.String()] < 0 {
			return false
		}
	}

	if original[0].Kind == KindHiddenAreaRemoval && suggested[0].Kind != KindHiddenAreaRemoval {
		return false
	}

	for i := 1; i < len(suggested); i++ {
		if classRank(suggested[i].Class) > classRank(suggested[i-1].Class) {
			return false
		}
	}

	// Overwrite methods never run ahead of an available crypto or hardware
	// erase, regardless of class labels: the firmware-level methods reach
	// remapped and wear-leveled blocks that host writes cannot.
	for i, m := range suggested {
		if !isOverwrite(m.Kind) {
			continue
		}
		for _, later := range suggested[i+1:] {
			if later.Kind == KindHardwareSecureErase || later.Kind == KindCryptographicErase {
				return false
			}
		}
	}

	return true
}

func isOverwrite(k MethodKind) bool {
	return k == KindMultiPassOverwrite || k == KindSinglePassRandom
}
