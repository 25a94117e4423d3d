package executor

import (
	"io"
	"os"
	"sync"
	"time"
)

// ThrottledWriter caps write throughput so a background wipe does not
// starve an operator station, and serializes access to the device handle.
type ThrottledWriter struct {
	file         *os.File
	maxSpeedMBps float64
	lastWrite    time.Time
	mu           sync.Mutex
	closed       bool
}

func NewThrottledWriter(file *os.File, maxSpeedMBps float64) *ThrottledWriter {
	return &ThrottledWriter{
		file:         file,
		maxSpeedMBps: maxSpeedMBps,
		lastWrite:    time.Now(),
	}
}

func (tw *ThrottledWriter) Write(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return 0, io.ErrClosedPipe
	}

	if tw.maxSpeedMBps > 0 {
		bytesPerSec := tw.maxSpeedMBps * 1024 * 1024
		expected := time.Duration(float64(len(data)) / bytesPerSec * float64(time.Second))
		if actual := time.Since(tw.lastWrite); actual < expected {
			time.Sleep(expected - actual)
		}
	}

	n, err := tw.file.Write(data)
	tw.lastWrite = time.Now()
	return n, err
}

// Seek repositions the underlying device handle; pass N restarts at 0.
func (tw *ThrottledWriter) Seek(offset int64, whence int) (int64, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return 0, io.ErrClosedPipe
	}
	return tw.file.Seek(offset, whence)
}

func (tw *ThrottledWriter) Sync() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return io.ErrClosedPipe
	}
	return tw.file.Sync()
}

func (tw *ThrottledWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return nil
	}
	tw.closed = true
	return tw.file.Close()
}
