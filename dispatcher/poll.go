package dispatcher

import (
	"context"
	"sync"
	"time"

	"github.com/colliery-io/cloacina-go/internal/metrics"
)

// PollDistributor wakes its caller on a fixed interval. Used for the
// sqlite backend, which has no notification mechanism.
type PollDistributor struct {
	interval time.Duration

	mu       sync.Mutex
	shutdown bool
	wake     chan struct{}
}

// DefaultPollInterval is the fallback period used when the caller does not
// configure one explicitly.
const DefaultPollInterval = 500 * time.Millisecond

// NewPollDistributor returns a Dispatcher that wakes every interval. An
// interval <= 0 uses DefaultPollInterval.
func NewPollDistributor(interval time.Duration) *PollDistributor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &PollDistributor{interval: interval, wake: make(chan struct{})}
}

func (p *PollDistributor) WaitForWork(ctx context.Context) {
	timer := time.NewTimer(p.interval)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-p.wake:
	case <-ctx.Done():
	}
	metrics.DispatcherWakes.WithLabelValues("poll").Inc()
}

func (p *PollDistributor) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return
	}
	p.shutdown = true
	close(p.wake)
}
