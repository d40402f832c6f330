package monitoring

import (
	"fmt"
	"sync"
	"time"
)

// Monitor defines methods used for error reporting.
type Monitor interface {
	CaptureException(err error, tags map[string]string)
	// CapturePanic reports a value obtained from recover.
	CapturePanic(v any, tags map[string]string)
	Flush(timeout time.Duration)
}

type NopMonitor struct{}

func (NopMonitor) CaptureException(error, map[string]string) {}
func (NopMonitor) CapturePanic(any, map[string]string)       {}
func (NopMonitor) Flush(time.Duration)                       {}

var (
	mu      sync.RWMutex
	current Monitor = NopMonitor{}
)

// Init sets the global monitor implementation.
func Init(m Monitor) {
	if m == nil {
		return
	}
	mu.Lock()
	current = m
	mu.Unlock()
}

func get() Monitor {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// CaptureException records the error with optional tags.
func CaptureException(err error, tags map[string]string) {
	if err == nil {
		return
	}
	get().CaptureException(err, tags)
}

// CapturePanic records a recovered panic value.
func CapturePanic(v any, tags map[string]string) {
	get().CapturePanic(v, tags)
}

// Flush flushes buffered events.
func Flush(d time.Duration) {
	get().Flush(d)
}

// Guard wraps fn so a panic is reported and returned as an error instead of
// crashing the process. Errors returned by fn are reported too.
func Guard(component string, fn func() error) func() error {
	return func() (err error) {
		tags := map[string]string{"component": component}
		defer func() {
			if r := recover(); r != nil {
				CapturePanic(r, tags)
				err = fmt.Errorf("%s panicked: %v", component, r)
			}
		}()
		if err = fn(); err != nil {
			CaptureException(err, tags)
		}
		return err
	}
}
