package executor

// Progress is a one-way notification from the executor to the observing
// collaborator. Percent is monotonically non-decreasing per attempt.
type Progress struct {
	Device  string
	Method  string
	Percent float64
	Message string
}

// reporter clamps progress to be monotone and never blocks on the observer:
// a slow or absent GUI must not stall a destructive operation.
type reporter struct {
	ch      chan<- Progress
	device  string
	method  string
	percent float64
}

func newReporter(ch chan<- Progress, device, method string) *reporter {
	return &reporter{ch: ch, device: device, method: method}
}

func (r *reporter) report(percent float64, message string) {
	if percent < r.percent {
		percent = r.percent
	}
	if percent > 100 {
		percent = 100
	}
	r.percent = percent

	if r.ch == nil {
		return
	}
	select {
	case r.ch <- Progress{Device: r.device, Method: r.method, Percent: percent, Message: message}:
	default:
	}
}
