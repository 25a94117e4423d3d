package job

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"veriwipe/internal/auditlog"
	"veriwipe/internal/certificate"
	"veriwipe/internal/config"
	"veriwipe/internal/device"
	"veriwipe/internal/executor"
	"veriwipe/internal/policy"
	"veriwipe/internal/sampler"
)

// Stage dependencies. Declared as interfaces here so pipeline tests can
// substitute scripted implementations without touching real hardware.
type (
	Inspector interface {
		Inspect(ctx context.Context, path string) (*device.Profile, error)
	}
	Planner interface {
		Select(p *device.Profile) []policy.Method
	}
	MethodRunner interface {
		Run(ctx context.Context, p *device.Profile, m policy.Method, progress chan<- executor.Progress) (*executor.Attempt, error)
	}
	Verifier interface {
		Verify(ctx context.Context, p *device.Profile, m policy.Method, preSample string) (*sampler.Report, error)
	}
)

// Pipeline runs one device through inspect, plan, execute, verify and
// certify, recording every stage in a per-job audit chain.
type Pipeline struct {
	cfg       *config.Config
	inspector Inspector
	planner   Planner
	runner    MethodRunner
	verifier  Verifier
	store     *auditlog.Store
	signer    *certificate.Signer
	registry  *Registry
	logger    *zap.Logger
}

func NewPipeline(cfg *config.Config, inspector Inspector, planner Planner, runner MethodRunner, verifier Verifier, store *auditlog.Store, signer *certificate.Signer, registry *Registry, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		inspector: inspector,
		planner:   planner,
		runner:    runner,
		verifier:  verifier,
		store:     store,
		signer:    signer,
		registry:  registry,
		logger:    logger,
	}
}

// Run executes one job. The returned Job always carries a terminal
// outcome and, except when log persistence itself fails, a saved audit
// trail. err is non-nil only for outcomes other than CompletedVerified
// and CompletedUnverified.
func (pl *Pipeline) Run(ctx context.Context, devicePath string, progress chan<- executor.Progress) (*Job, error) {
	j := newJob(devicePath)

	if err := pl.registry.Claim(devicePath, j.ID); err != nil {
		j.Outcome = OutcomeFailed
		j.Error = err.Error()
		j.FinishedAt = time.Now().UTC()
		return j, err
	}
	defer pl.registry.Release(devicePath)

	chain := auditlog.NewChain()
	chain.Append("job_created", map[string]string{
		"job_id": j.ID,
		"device": devicePath,
	})

	j.State = StateInspecting
	profile, err := pl.inspector.Inspect(ctx, devicePath)
	if err != nil {
		chain.Append("inspection_failed", map[string]string{"error": err.Error()})
		return pl.finish(j, chain, OutcomeFailed, err)
	}
	j.Profile = profile
	chain.Append("device_inspected", map[string]string{
		"fingerprint": profile.Fingerprint,
		"bus":         string(profile.Bus),
		"size_bytes":  strconv.FormatUint(profile.SizeBytes, 10),
		"rotational":  strconv.FormatBool(profile.Rotational),
	})

	j.State = StatePlanning
	j.Plan = pl.planner.Select(profile)
	chain.Append("plan_selected", map[string]string{"methods": methodNames(j.Plan)})
	pl.checkpoint(j, chain)

	j.State = StateExecuting
	destructive := false
	for _, m := range j.Plan {
		chain.Append("attempt_started", map[string]string{"method": m.String()})
		wd := startWatchdog(pl.logger, pl.cfg.WatchdogDuration(), j.ID, devicePath, m.String())
		// Once any attempt has issued a destructive command the job runs
		// to an outcome: cancellation no longer reaches later candidates,
		// so a partially destroyed device is never abandoned as Cancelled.
		runCtx := ctx
		if destructive {
			runCtx = context.WithoutCancel(ctx)
		}
		attempt, runErr := pl.runner.Run(runCtx, profile, m, progress)
		wd.stop()
		j.Attempts = append(j.Attempts, attempt)
		if attempt != nil && attempt.DestructiveStarted {
			destructive = true
		}

		detail := map[string]string{
			"method": m.String(),
			"state":  string(attempt.State),
		}
		if attempt.PreWipeSample != "" {
			detail["pre_sample_hash"] = attempt.PreWipeSample
		}
		if runErr != nil {
			detail["error"] = runErr.Error()
		}
		chain.Append("attempt_finished", detail)
		pl.checkpoint(j, chain)

		if runErr == nil {
			method := m
			j.Succeeded = &method
			break
		}
		if errors.Is(runErr, executor.ErrCancelled) && !destructive {
			return pl.finish(j, chain, OutcomeCancelled, runErr)
		}

		// Any other attempt error falls through to the next candidate.
		// An execution failure after destructive start leaves the device
		// indeterminate, which the following method can only improve on.
		pl.logger.Warn("method attempt did not complete, trying next candidate",
			zap.String("job_id", j.ID),
			zap.String("method", m.String()),
			zap.Error(runErr))
	}

	if j.Succeeded == nil {
		err := errors.New("all candidate methods exhausted")
		chain.Append("methods_exhausted", nil)
		// A failed wipe still gets a signed record: the certificate is an
		// attestation of what was attempted and how it ended, not a claim
		// of success. Cancelled jobs attempted nothing destructive and get
		// only the audit log.
		j.State = StateCertifying
		pl.certify(j, chain, OutcomeFailed)
		return pl.finish(j, chain, OutcomeFailed, err)
	}

	j.State = StateVerifying
	preSample := ""
	if last := j.Attempts[len(j.Attempts)-1]; last != nil {
		preSample = last.PreWipeSample
	}
	report, verr := pl.verifier.Verify(ctx, profile, *j.Succeeded, preSample)
	j.Report = report

	outcome := OutcomeCompletedVerified
	detail := map[string]string{}
	if report != nil {
		detail["regions"] = strconv.Itoa(report.Regions)
		detail["failed"] = strconv.Itoa(report.Failed)
		if report.PostSample != "" {
			detail["post_sample_hash"] = report.PostSample
		}
	}
	if verr != nil {
		outcome = OutcomeCompletedUnverified
		detail["error"] = verr.Error()
	}
	chain.Append("verification_finished", detail)

	j.State = StateCertifying
	pl.certify(j, chain, outcome)

	return pl.finish(j, chain, outcome, nil)
}

// certify issues the job's certificate. A signing failure downgrades
// nothing: the audit log remains the evidence and the job keeps its
// outcome, with the failure recorded on the job and in the chain.
func (pl *Pipeline) certify(j *Job, chain *auditlog.Chain, outcome Outcome) {
	manifest := certificate.Manifest{
		CertificateID: uuid.New().String(),
		JobID:         j.ID,
		Device: certificate.DeviceSummary{
			Fingerprint: j.Profile.Fingerprint,
			Model:       j.Profile.Model,
			Bus:         string(j.Profile.Bus),
			SizeBytes:   j.Profile.SizeBytes,
			Rotational:  j.Profile.Rotational,
		},
		Methods:    methodRecords(j.Attempts),
		NISTClass:  j.NISTClass(),
		Outcome:    string(outcome),
		StartedAt:  j.StartedAt,
		FinishedAt: time.Now().UTC(),
	}
	if n := len(j.Attempts); n > 0 && j.Attempts[n-1] != nil {
		manifest.PreSampleHash = j.Attempts[n-1].PreWipeSample
	}
	if j.Report != nil {
		manifest.PostSampleHash = j.Report.PostSample
	}

	_, path, err := pl.signer.Issue(manifest, chain)
	if err != nil {
		j.CertificateErr = err.Error()
		chain.Append("certificate_failed", map[string]string{"error": err.Error()})
		pl.logger.Error("certificate issuance failed, audit log is the record",
			zap.String("job_id", j.ID),
			zap.Error(err))
		return
	}
	j.CertificatePath = path
	chain.Append("certificate_issued", map[string]string{
		"certificate_id": manifest.CertificateID,
		"path":           path,
	})
}

// checkpoint persists the chain mid-job so a crash never loses recorded
// history. Persistence failures are logged; the in-memory chain remains
// authoritative until finish.
func (pl *Pipeline) checkpoint(j *Job, chain *auditlog.Chain) {
	if _, err := pl.store.Save(j.ID, chain); err != nil {
		pl.logger.Warn("audit log checkpoint failed",
			zap.String("job_id", j.ID),
			zap.Error(err))
	}
}

func (pl *Pipeline) finish(j *Job, chain *auditlog.Chain, outcome Outcome, cause error) (*Job, error) {
	j.Outcome = outcome
	j.FinishedAt = time.Now().UTC()
	if cause != nil {
		j.Error = cause.Error()
	}
	chain.Append("job_finished", map[string]string{"outcome": string(outcome)})

	path, err := pl.store.Save(j.ID, chain)
	if err != nil {
		pl.logger.Error("audit log persistence failed",
			zap.String("job_id", j.ID),
			zap.Error(err))
	} else {
		j.AuditLogPath = path
	}

	j.State = StateDone
	pl.logger.Info("job finished",
		zap.String("job_id", j.ID),
		zap.String("device", j.DevicePath),
		zap.String("outcome", string(outcome)))
	return j, cause
}

func methodNames(plan []policy.Method) string {
	s := ""
	for i, m := range plan {
		if i > 0 {
			s += ","
		}
		s += m.String()
	}
	return s
}

func methodRecords(attempts []*executor.Attempt) []certificate.MethodRecord {
	records := make([]certificate.MethodRecord, 0, len(attempts))
	for _, a := range attempts {
		if a == nil {
			continue
		}
		records = append(records, certificate.MethodRecord{
			Method: a.Method.String(),
			Status: string(a.State),
			Error:  a.Error,
		})
	}
	return records
}
