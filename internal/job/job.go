package job

import (
	"time"

	"github.com/google/uuid"

	"veriwipe/internal/device"
	"veriwipe/internal/executor"
	"veriwipe/internal/policy"
	"veriwipe/internal/sampler"
)

// State tracks a job through the pipeline stages.
type State string

const (
	StateCreated    State = "created"
	StateInspecting State = "inspecting"
	StatePlanning   State = "planning"
	StateExecuting  State = "executing"
	StateVerifying  State = "verifying"
	StateCertifying State = "certifying"
	StateDone       State = "done"
)

// Outcome is the terminal result of a job.
type Outcome string

const (
	// OutcomeCompletedVerified means a method succeeded and the sampler
	// confirmed the device content was destroyed.
	OutcomeCompletedVerified Outcome = "completed_verified"
	// OutcomeCompletedUnverified means a method reported success but the
	// sampler could not confirm it. The job is not retried automatically;
	// the operator decides whether to rerun.
	OutcomeCompletedUnverified Outcome = "completed_unverified"
	OutcomeFailed              Outcome = "failed"
	OutcomeCancelled           Outcome = "cancelled"
)

// Job is one sanitization run against one device.
type Job struct {
	ID         string
	DevicePath string
	State      State
	Outcome    Outcome

	Profile  *device.Profile
	Plan     []policy.Method
	Attempts []*executor.Attempt

	// Succeeded is the method that completed, if any.
	Succeeded *policy.Method
	Report    *sampler.Report

	StartedAt  time.Time
	FinishedAt time.Time

	AuditLogPath    string
	CertificatePath string
	// CertificateErr records why no certificate was issued. The audit log
	// is still persisted in that case.
	CertificateErr string

	Error string
}

func newJob(devicePath string) *Job {
	return &Job{
		ID:         uuid.New().String(),
		DevicePath: devicePath,
		State:      StateCreated,
		StartedAt:  time.Now().UTC(),
	}
}

// NISTClass reports the sanitization class actually achieved, which is
// the class of the method that succeeded.
func (j *Job) NISTClass() string {
	if j.Succeeded == nil {
		return ""
	}
	return string(j.Succeeded.Class)
}
