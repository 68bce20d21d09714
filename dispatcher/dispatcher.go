// Package dispatcher abstracts how workers wait for new task work to
// become available, so the executor's claim loop never busy-polls harder
// than the configured backend allows.
package dispatcher

import "context"

// Dispatcher lets a caller block until work might be available, or until
// shutdown is requested.
type Dispatcher interface {
	// WaitForWork blocks until a notification arrives, a fallback timeout
	// elapses, or ctx is cancelled. The caller should attempt to claim
	// work after this returns, handling the case where nothing is
	// actually available.
	WaitForWork(ctx context.Context)

	// Shutdown causes every blocked and future WaitForWork call to return
	// promptly.
	Shutdown()
}
