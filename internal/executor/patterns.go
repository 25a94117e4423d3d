package executor

import (
	"crypto/rand"

	"github.com/cockroachdb/errors"

	"veriwipe/internal/policy"
)

// PassPattern identifies the byte content of one overwrite pass.
type PassPattern int

const (
	PassZero PassPattern = iota
	PassFF
	PassRandom
)

func (p PassPattern) String() string {
	switch p {
	case PassZero:
		return "zero"
	case PassFF:
		return "0xFF"
	case PassRandom:
		return "random"
	default:
		return "unknown"
	}
}

// passesFor expands a pattern scheme into its ordered pass list. The
// zero/0xFF/random scheme alternates fixed fills and always finishes with a
// random pass so the post-wipe sampler has entropy to check.
func passesFor(scheme policy.PatternScheme, passes int) ([]PassPattern, error) {
	switch scheme {
	case policy.PatternZeroFFRandom:
		if passes <= 0 {
			passes = 3
		}
		out := make([]PassPattern, passes)
		for i := 0; i < passes-1; i++ {
			if i%2 == 0 {
				out[i] = PassZero
			} else {
				out[i] = PassFF
			}
		}
		out[passes-1] = PassRandom
		return out, nil
	case policy.PatternRandom:
		if passes <= 0 {
			passes = 1
		}
		out := make([]PassPattern, passes)
		for i := range out {
			out[i] = PassRandom
		}
		return out, nil
	default:
		return nil, errors.Newf("unknown pattern scheme: %s", scheme)
	}
}

// FillPattern fills buf with the pass's byte pattern.
func FillPattern(pass PassPattern, buf []byte) error {
	switch pass {
	case PassZero:
		for i := range buf {
			buf[i] = 0
		}
	case PassFF:
		for i := range buf {
			buf[i] = 0xFF
		}
	case PassRandom:
		if _, err := rand.Read(buf); err != nil {
			return errors.Wrap(err, "generate random pattern")
		}
	default:
		return errors.Newf("unknown pass pattern: %d", pass)
	}
	return nil
}
