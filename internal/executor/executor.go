package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"veriwipe/internal/config"
	"veriwipe/internal/device"
	"veriwipe/internal/policy"
	"veriwipe/internal/sampler"
	"veriwipe/internal/system"
)

// Error taxonomy for one method attempt. MethodUnsupported advances to the
// next candidate; ExecutionFailed means destructive commands may have run
// and the device state is indeterminate.
var (
	ErrMethodUnsupported = errors.New("method unsupported by device")
	ErrPreflightFailed   = errors.New("preflight failed")
	ErrExecutionFailed   = errors.New("execution failed")
	// ErrCancelled is returned only when cancellation arrived before the
	// first destructive command of the attempt.
	ErrCancelled = errors.New("attempt cancelled before destructive start")
)

// AttemptState tracks one method attempt through its lifecycle.
type AttemptState string

const (
	StatePending          AttemptState = "pending"
	StatePreflightChecked AttemptState = "preflight_checked"
	StateRunning          AttemptState = "running"
	StateVerifying        AttemptState = "verifying"
	StateSucceeded        AttemptState = "succeeded"
	StateFailed           AttemptState = "failed"
)

// Attempt is the record of executing one method against one device.
type Attempt struct {
	Method policy.Method
	State  AttemptState
	// PreWipeSample is the SHA-256 of the device's leading content captured
	// during preflight, used by the verification sampler afterwards.
	PreWipeSample string
	// DestructiveStarted flips once the first irreversible command is
	// issued; from then on cancellation is refused.
	DestructiveStarted bool
	Error              string
}

const preSampleSize = sampler.PreSampleWindow

// Executor carries out one sanitization method against one device.
type Executor struct {
	cfg    *config.Config
	runner system.Runner
	logger *zap.Logger

	// Overridable for tests that run against scratch files instead of
	// block devices.
	OpenDevice func(path string) (*os.File, error)
	Unmount    func(path string) error
}

func New(cfg *config.Config, runner system.Runner, logger *zap.Logger) *Executor {
	return &Executor{
		cfg:        cfg,
		runner:     runner,
		logger:     logger,
		OpenDevice: system.OpenExclusive,
		Unmount:    system.Unmount,
	}
}

// Run attempts one method. The returned Attempt always reflects the final
// state; err is nil on success, or one of ErrMethodUnsupported,
// ErrPreflightFailed, ErrExecutionFailed, ErrCancelled.
//
// Cancellation contract: ctx cancellation is honored up to and including
// PreflightChecked. Once a destructive command has been issued the attempt
// runs to an outcome regardless of ctx, because a partially destroyed
// device left unresolved is worse than a completed wipe.
func (e *Executor) Run(ctx context.Context, p *device.Profile, m policy.Method, progress chan<- Progress) (*Attempt, error) {
	attempt := &Attempt{Method: m, State: StatePending}
	rep := newReporter(progress, p.Path, m.String())

	if err := ctx.Err(); err != nil {
		attempt.State = StateFailed
		attempt.Error = ErrCancelled.Error()
		return attempt, ErrCancelled
	}

	f, err := e.preflight(ctx, p, attempt)
	if err != nil {
		attempt.State = StateFailed
		attempt.Error = err.Error()
		return attempt, err
	}
	attempt.State = StatePreflightChecked
	rep.report(10, "preflight checks passed")

	// Last cancellation gate: nothing irreversible has happened yet.
	if err := ctx.Err(); err != nil {
		f.Close()
		attempt.State = StateFailed
		attempt.Error = ErrCancelled.Error()
		return attempt, ErrCancelled
	}

	attempt.State = StateRunning
	err = e.execute(ctx, p, m, f, attempt, rep)
	f.Close()
	if err != nil {
		attempt.State = StateFailed
		attempt.Error = err.Error()
		e.logger.Error("method attempt failed",
			zap.String("device", p.Path),
			zap.String("method", m.String()),
			zap.Error(err))
		return attempt, err
	}

	attempt.State = StateVerifying
	rep.report(90, "execution complete, awaiting verification")
	attempt.State = StateSucceeded
	return attempt, nil
}

// preflight unmounts the device's filesystems, takes exclusive access and
// captures the pre-wipe content sample. Exclusive-access failures are
// retried per configuration before giving up.
func (e *Executor) preflight(ctx context.Context, p *device.Profile, attempt *Attempt) (*os.File, error) {
	tries := e.cfg.Wipe.PreflightRetries + 1
	var lastErr error

	for i := 0; i < tries; i++ {
		if err := ctx.Err(); err != nil {
			return nil, ErrCancelled
		}

		if err := e.Unmount(p.Path); err != nil {
			lastErr = err
			continue
		}

		f, err := e.OpenDevice(p.Path)
		if err != nil {
			lastErr = err
			continue
		}

		attempt.PreWipeSample = sampleHash(f)
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			f.Close()
			lastErr = err
			continue
		}
		return f, nil
	}

	return nil, errors.Mark(errors.Wrapf(lastErr, "exclusive access to %s", p.Path), ErrPreflightFailed)
}

// sampleHash hashes the device's leading megabyte. An unreadable device
// yields an empty sample; the sampler treats that as "no pre-wipe signature".
func sampleHash(r io.Reader) string {
	buf := GetBuffer(preSampleSize)
	defer PutBuffer(buf)

	n, err := io.ReadFull(r, buf)
	if n == 0 && err != nil {
		return ""
	}
	sum := sha256.Sum256(buf[:n])
	return hex.EncodeToString(sum[:])
}

func (e *Executor) execute(ctx context.Context, p *device.Profile, m policy.Method, f *os.File, attempt *Attempt, rep *reporter) error {
	switch m.Kind {
	case policy.KindHardwareSecureErase:
		return e.hardwareSecureErase(ctx, p, m, attempt, rep)
	case policy.KindCryptographicErase:
		return e.cryptographicErase(ctx, p, attempt, rep)
	case policy.KindMultiPassOverwrite, policy.KindSinglePassRandom:
		return e.overwrite(p, m, f, attempt, rep)
	case policy.KindHiddenAreaRemoval:
		return e.hiddenAreaRemoval(ctx, p, attempt, rep)
	default:
		return errors.Mark(errors.Newf("unknown method kind: %s", m.Kind), ErrMethodUnsupported)
	}
}

// overwrite writes every pass of the scheme across the whole device, in
// order. A write error fails the attempt immediately: passes are never
// retried mid-pass.
func (e *Executor) overwrite(p *device.Profile, m policy.Method, f *os.File, attempt *Attempt, rep *reporter) error {
	passes, err := passesFor(m.Pattern, m.Passes)
	if err != nil {
		return errors.Mark(err, ErrMethodUnsupported)
	}

	tw := NewThrottledWriter(f, e.cfg.Wipe.MaxSpeedMBps)
	chunkSize := int(e.cfg.Wipe.ChunkSize)
	buf := GetBuffer(chunkSize)
	defer PutBuffer(buf)

	total := p.SizeBytes
	progressPerPass := 80.0 / float64(len(passes))

	for passIdx, pass := range passes {
		if _, err := tw.Seek(0, io.SeekStart); err != nil {
			return errors.Mark(errors.Wrap(err, "seek to start of pass"), ErrExecutionFailed)
		}

		attempt.DestructiveStarted = true
		base := 10 + float64(passIdx)*progressPerPass

		var written uint64
		for written < total {
			toWrite := uint64(chunkSize)
			if remaining := total - written; remaining < toWrite {
				toWrite = remaining
			}

			b := buf[:toWrite]
			if err := FillPattern(pass, b); err != nil {
				return errors.Mark(err, ErrExecutionFailed)
			}

			off := 0
			for off < int(toWrite) {
				n, err := tw.Write(b[off:])
				if n > 0 {
					off += n
					written += uint64(n)
				}
				if err != nil {
					return errors.Mark(errors.Wrapf(err, "pass %d write at %d", passIdx+1, written), ErrExecutionFailed)
				}
				if n == 0 {
					return errors.Mark(errors.New("write returned 0 bytes without error"), ErrExecutionFailed)
				}
			}

			rep.report(base+progressPerPass*float64(written)/float64(total),
				fmt.Sprintf("pass %d/%d (%s)", passIdx+1, len(passes), pass))
		}

		if err := tw.Sync(); err != nil {
			return errors.Mark(errors.Wrapf(err, "sync after pass %d", passIdx+1), ErrExecutionFailed)
		}

		e.logger.Info("overwrite pass complete",
			zap.String("device", p.Path),
			zap.Int("pass", passIdx+1),
			zap.Int("total_passes", len(passes)),
			zap.String("pattern", pass.String()))
	}

	return nil
}

// hardwareSecureErase drives the controller's own erase command. Arming the
// security feature is not destructive; issuing the erase is.
func (e *Executor) hardwareSecureErase(ctx context.Context, p *device.Profile, m policy.Method, attempt *Attempt, rep *reporter) error {
	switch m.Variant {
	case policy.VariantATA:
		if !e.runner.LookPath("hdparm") {
			return errors.Mark(errors.New("hdparm not available"), ErrMethodUnsupported)
		}
		if out, err := e.runner.Run(ctx, "hdparm", "--user-master", "u", "--security-set-pass", "veriwipe", p.Path); err != nil {
			return errors.Mark(errors.Wrapf(err, "arm ATA security: %s", strings.TrimSpace(out)), ErrMethodUnsupported)
		}
		rep.report(30, "ATA security armed")

		// The erase command must not be killed by a cancellation arriving
		// mid-flight; an interrupted secure erase leaves the drive frozen
		// in security mode with indeterminate content.
		attempt.DestructiveStarted = true
		if out, err := e.runner.Run(context.WithoutCancel(ctx), "hdparm", "--user-master", "u", "--security-erase", "veriwipe", p.Path); err != nil {
			return errors.Mark(errors.Wrapf(err, "ATA secure erase: %s", strings.TrimSpace(out)), ErrExecutionFailed)
		}

	case policy.VariantNVMe:
		if !e.runner.LookPath("nvme") {
			return errors.Mark(errors.New("nvme-cli not available"), ErrMethodUnsupported)
		}
		rep.report(30, "issuing NVMe format")

		attempt.DestructiveStarted = true
		if out, err := e.runner.Run(context.WithoutCancel(ctx), "nvme", "format", p.Path, "--namespace-id=1", "--ses=1"); err != nil {
			return errors.Mark(errors.Wrapf(err, "NVMe secure format: %s", strings.TrimSpace(out)), ErrExecutionFailed)
		}

	default:
		return errors.Mark(errors.Newf("unknown secure erase variant: %s", m.Variant), ErrMethodUnsupported)
	}

	rep.report(85, "hardware secure erase complete")
	return nil
}

// cryptographicErase destroys the on-device key store, rendering the
// ciphertext permanently unrecoverable without touching the data area.
func (e *Executor) cryptographicErase(ctx context.Context, p *device.Profile, attempt *Attempt, rep *reporter) error {
	switch p.Encryption {
	case device.EncryptionLUKS:
		if !e.runner.LookPath("cryptsetup") {
			return errors.Mark(errors.New("cryptsetup not available"), ErrMethodUnsupported)
		}
		rep.report(30, "destroying LUKS key slots")

		attempt.DestructiveStarted = true
		if out, err := e.runner.Run(context.WithoutCancel(ctx), "cryptsetup", "-q", "luksErase", p.Path); err != nil {
			return errors.Mark(errors.Wrapf(err, "luksErase: %s", strings.TrimSpace(out)), ErrExecutionFailed)
		}

	default:
		if p.Bus != device.BusNVMe {
			return errors.Mark(errors.Newf("no crypto-erase path for scheme %q on bus %q", p.Encryption, p.Bus), ErrMethodUnsupported)
		}
		if !e.runner.LookPath("nvme") {
			return errors.Mark(errors.New("nvme-cli not available"), ErrMethodUnsupported)
		}
		rep.report(30, "issuing NVMe cryptographic format")

		attempt.DestructiveStarted = true
		if out, err := e.runner.Run(context.WithoutCancel(ctx), "nvme", "format", p.Path, "--namespace-id=1", "--ses=2"); err != nil {
			return errors.Mark(errors.Wrapf(err, "NVMe crypto format: %s", strings.TrimSpace(out)), ErrExecutionFailed)
		}
	}

	rep.report(85, "cryptographic erase complete")
	return nil
}

// hiddenAreaRemoval resets the HPA to the native maximum and restores DCO
// so the sectors the firmware hid become addressable for the following
// method. Both commands alter device configuration, hence destructive.
func (e *Executor) hiddenAreaRemoval(ctx context.Context, p *device.Profile, attempt *Attempt, rep *reporter) error {
	if !e.runner.LookPath("hdparm") {
		return errors.Mark(errors.New("hdparm not available for HPA/DCO removal"), ErrMethodUnsupported)
	}

	reported, err := system.ReportedSectors(system.DevName(p.Path))
	if err != nil {
		reported = p.SizeBytes / system.LogicalSectorSize
	}
	native := reported + p.HiddenAreaExtent

	rep.report(20, "removing host protected area")

	attempt.DestructiveStarted = true
	detached := context.WithoutCancel(ctx)
	if out, err := e.runner.Run(detached, "hdparm", "-N", fmt.Sprintf("p%d", native), p.Path); err != nil {
		return errors.Mark(errors.Wrapf(err, "reset HPA: %s", strings.TrimSpace(out)), ErrExecutionFailed)
	}
	if out, err := e.runner.Run(detached, "hdparm", "--yes-i-know-what-i-am-doing", "--dco-restore", p.Path); err != nil {
		// Not every drive implements DCO; a rejected restore after a
		// successful HPA reset still exposes the hidden range.
		e.logger.Warn("DCO restore rejected",
			zap.String("device", p.Path),
			zap.String("output", strings.TrimSpace(out)),
			zap.Error(err))
	}

	rep.report(85, "hidden area exposed")
	return nil
}
