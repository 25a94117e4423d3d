package job

import (
	"time"

	"go.uber.org/zap"
)

// watchdog flags attempts that run far beyond their expected duration.
// It only ever logs; a hardware secure erase can legitimately take hours
// and killing it mid-flight would leave the device indeterminate.
type watchdog struct {
	timer *time.Timer
}

func startWatchdog(logger *zap.Logger, after time.Duration, jobID, devicePath, method string) *watchdog {
	if after <= 0 {
		return &watchdog{}
	}
	t := time.AfterFunc(after, func() {
		logger.Warn("attempt running longer than expected",
			zap.String("job_id", jobID),
			zap.String("device", devicePath),
			zap.String("method", method),
			zap.Duration("threshold", after))
	})
	return &watchdog{timer: t}
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
}
