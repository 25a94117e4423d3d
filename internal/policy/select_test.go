package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"veriwipe/internal/config"
	"veriwipe/internal/device"
)

func selector(t *testing.T, advisor Advisor) *Selector {
	t.Helper()
	return NewSelector(config.Default(), advisor, zaptest.NewLogger(t))
}

func TestSelectEncryptedDeviceGetsCryptoEraseOnly(t *testing.T) {
	p := &device.Profile{
		Path:              "/dev/sdb",
		Bus:               device.BusATA,
		Encryption:        device.EncryptionLUKS,
		KeystoreReachable: true,
		SecureErase:       device.CapSupported,
		Rotational:        true,
	}

	queue := selector(t, nil).Select(p)
	require.Len(t, queue, 1)
	assert.Equal(t, KindCryptographicErase, queue[0].Kind)
	assert.Equal(t, ClassPurge, queue[0].Class)
}

func TestSelectEncryptedWithUnreachableKeystoreFallsThrough(t *testing.T) {
	p := &device.Profile{
		Path:              "/dev/sdb",
		Bus:               device.BusATA,
		Encryption:        device.EncryptionLUKS,
		KeystoreReachable: false,
		Rotational:        true,
	}

	queue := selector(t, nil).Select(p)
	require.Len(t, queue, 1)
	assert.Equal(t, KindMultiPassOverwrite, queue[0].Kind)
}

func TestSelectSecureEraseWithOverwriteFallback(t *testing.T) {
	tests := []struct {
		name    string
		bus     device.Bus
		variant SecureEraseVariant
	}{
		{name: "ata drive", bus: device.BusATA, variant: VariantATA},
		{name: "nvme drive", bus: device.BusNVMe, variant: VariantNVMe},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &device.Profile{
				Path:        "/dev/sdc",
				Bus:         tt.bus,
				SecureErase: device.CapSupported,
				Rotational:  false,
			}

			queue := selector(t, nil).Select(p)
			require.Len(t, queue, 2)
			assert.Equal(t, KindHardwareSecureErase, queue[0].Kind)
			assert.Equal(t, tt.variant, queue[0].Variant)
			assert.Equal(t, KindSinglePassRandom, queue[1].Kind)
		})
	}
}

func TestSelectUnknownCapabilityIsNotSupported(t *testing.T) {
	p := &device.Profile{
		Path:        "/dev/sdd",
		Bus:         device.BusATA,
		SecureErase: device.CapUnknown,
		Rotational:  true,
	}

	queue := selector(t, nil).Select(p)
	require.Len(t, queue, 1)
	assert.Equal(t, KindMultiPassOverwrite, queue[0].Kind)
	assert.Equal(t, 3, queue[0].Passes)
	assert.Equal(t, PatternZeroFFRandom, queue[0].Pattern)
}

func TestSelectSSDOverwriteCarriesWarning(t *testing.T) {
	p := &device.Profile{
		Path:        "/dev/sde",
		Bus:         device.BusUSB,
		SecureErase: device.CapUnsupported,
		Rotational:  false,
	}

	queue := selector(t, nil).Select(p)
	require.Len(t, queue, 1)
	assert.Equal(t, KindSinglePassRandom, queue[0].Kind)
	assert.Equal(t, ClassClear, queue[0].Class)
	assert.NotEmpty(t, queue[0].Warning)
}

func TestSelectHiddenAreaRemovalComesFirst(t *testing.T) {
	p := &device.Profile{
		Path:             "/dev/sdf",
		Bus:              device.BusATA,
		SecureErase:      device.CapSupported,
		Rotational:       true,
		HiddenAreaExtent: 1048576,
	}

	queue := selector(t, nil).Select(p)
	require.Len(t, queue, 3)
	assert.Equal(t, KindHiddenAreaRemoval, queue[0].Kind)
	assert.Equal(t, KindHardwareSecureErase, queue[1].Kind)
	assert.Equal(t, KindMultiPassOverwrite, queue[2].Kind)
}

// scriptedAdvisor returns a fixed suggestion regardless of input.
type scriptedAdvisor struct {
	suggestion func(candidates []Method) []Method
}

func (a *scriptedAdvisor) Rank(_ *device.Profile, candidates []Method) []Method {
	return a.suggestion(candidates)
}

func TestAdvisorCannotChangeCandidateSet(t *testing.T) {
	p := &device.Profile{
		Path:        "/dev/sdg",
		Bus:         device.BusATA,
		SecureErase: device.CapSupported,
		Rotational:  true,
	}

	advisor := &scriptedAdvisor{suggestion: func(candidates []Method) []Method {
		// Try to smuggle in a method the policy never produced.
		return []Method{{Kind: KindCryptographicErase, Class: ClassPurge}, candidates[1]}
	}}

	queue := selector(t, advisor).Select(p)
	require.Len(t, queue, 2)
	assert.Equal(t, KindHardwareSecureErase, queue[0].Kind)
}

func TestAdvisorCannotPromoteWeakerTier(t *testing.T) {
	p := &device.Profile{
		Path:        "/dev/sdh",
		Bus:         device.BusATA,
		SecureErase: device.CapSupported,
		Rotational:  false,
	}

	advisor := &scriptedAdvisor{suggestion: func(candidates []Method) []Method {
		// Clear-class overwrite ahead of purge-class secure erase.
		return []Method{candidates[1], candidates[0]}
	}}

	queue := selector(t, advisor).Select(p)
	assert.Equal(t, KindHardwareSecureErase, queue[0].Kind)
}

func TestAdvisorCannotDisplaceHiddenAreaRemoval(t *testing.T) {
	p := &device.Profile{
		Path:             "/dev/sdi",
		Bus:              device.BusATA,
		SecureErase:      device.CapSupported,
		Rotational:       true,
		HiddenAreaExtent: 4096,
	}

	advisor := &scriptedAdvisor{suggestion: func(candidates []Method) []Method {
		return []Method{candidates[1], candidates[0], candidates[2]}
	}}

	queue := selector(t, advisor).Select(p)
	assert.Equal(t, KindHiddenAreaRemoval, queue[0].Kind)
}

func TestAdvisorCannotPlaceOverwriteBeforeFirmwareErase(t *testing.T) {
	p := &device.Profile{
		Path:        "/dev/sdj",
		Bus:         device.BusATA,
		SecureErase: device.CapSupported,
		Rotational:  true,
	}

	// Both candidates carry the purge class, but an overwrite cannot reach
	// remapped sectors a firmware erase would; the swap must be discarded.
	advisor := &scriptedAdvisor{suggestion: func(candidates []Method) []Method {
		return []Method{candidates[1], candidates[0]}
	}}

	queue := selector(t, advisor).Select(p)
	require.Len(t, queue, 2)
	assert.Equal(t, KindHardwareSecureErase, queue[0].Kind)
	assert.Equal(t, KindMultiPassOverwrite, queue[1].Kind)
}

func TestSelectHonorsConfiguredHDDPasses(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, config.ApplyProfile(cfg, "aggressive"))

	p := &device.Profile{
		Path:       "/dev/sdk",
		Bus:        device.BusATA,
		Rotational: true,
	}

	queue := NewSelector(cfg, nil, zaptest.NewLogger(t)).Select(p)
	require.Len(t, queue, 1)
	assert.Equal(t, KindMultiPassOverwrite, queue[0].Kind)
	assert.Equal(t, cfg.Wipe.HDDPasses, queue[0].Passes)
	assert.Equal(t, 5, queue[0].Passes)
}

func TestMethodString(t *testing.T) {
	m := Method{Kind: KindMultiPassOverwrite, Passes: 3, Pattern: PatternZeroFFRandom}
	assert.Equal(t, "multipass_overwrite(3,zero-ff-random)", m.String())

	m = Method{Kind: KindHardwareSecureErase, Variant: VariantNVMe}
	assert.Contains(t, m.String(), "hardware_secure_erase")
}
