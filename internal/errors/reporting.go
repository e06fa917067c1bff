package errors

import (
	"sync"
	"sync/atomic"
)

// Reporter receives every EnhancedError built while it is installed.
// Implementations must be safe for concurrent use and must not block.
type Reporter interface {
	ReportError(err *EnhancedError)
}

// ReporterFunc adapts a plain function to the Reporter interface
type ReporterFunc func(err *EnhancedError)

// ReportError calls f(err)
func (f ReporterFunc) ReportError(err *EnhancedError) {
	f(err)
}

var (
	reporterMu         sync.RWMutex
	activeReporter     Reporter
	hasActiveReporting atomic.Bool
)

// SetReporter installs r as the process-wide error reporter. Passing nil
// disables reporting and restores the fast build path.
func SetReporter(r Reporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	activeReporter = r
	hasActiveReporting.Store(r != nil)
}

func report(ee *EnhancedError) {
	reporterMu.RLock()
	r := activeReporter
	reporterMu.RUnlock()

	if r == nil || ee.IsReported() {
		return
	}
	ee.MarkReported()
	r.ReportError(ee)
}
