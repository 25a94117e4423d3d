package job

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrDeviceBusy means another job already holds the device.
var ErrDeviceBusy = errors.New("device already claimed by another job")

// Registry enforces one active job per device path. Two concurrent wipes
// of the same device would corrupt each other's audit trails, so the
// second claim is refused rather than queued.
type Registry struct {
	mu     sync.Mutex
	active map[string]string
}

func NewRegistry() *Registry {
	return &Registry{active: make(map[string]string)}
}

// Claim reserves a device path for a job.
func (r *Registry) Claim(devicePath, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if holder, ok := r.active[devicePath]; ok {
		return errors.Wrapf(ErrDeviceBusy, "%s held by job %s", devicePath, holder)
	}
	r.active[devicePath] = jobID
	return nil
}

// Release frees the device path. Releasing an unclaimed path is a no-op.
func (r *Registry) Release(devicePath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, devicePath)
}

// Holder returns the job holding a device path, if any.
func (r *Registry) Holder(devicePath string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.active[devicePath]
	return id, ok
}
