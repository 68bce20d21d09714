package dispatcher

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/colliery-io/cloacina-go/internal/metrics"
	"github.com/colliery-io/cloacina-go/store/db/postgres"
)

// pollFallback bounds how long PushDistributor waits for a NOTIFY before
// checking for work anyway, in case a notification was missed while the
// listener connection was re-establishing.
const pollFallback = 30 * time.Second

// PushDistributor wakes its caller instantly on a Postgres NOTIFY, falling
// back to a periodic poll so a missed or delayed notification (e.g. during
// a listener reconnect) never stalls work indefinitely.
type PushDistributor struct {
	listener *pq.Listener

	mu       sync.Mutex
	shutdown bool
	notifyCh chan struct{}
}

// NewPushDistributor opens a dedicated LISTEN connection against dsn and
// starts forwarding NOTIFY events to WaitForWork callers.
func NewPushDistributor(dsn string) (*PushDistributor, error) {
	p := &PushDistributor{notifyCh: make(chan struct{}, 1)}

	listener, err := postgres.NewListener(dsn, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			slog.Warn("postgres listener event error", "error", err)
		}
	})
	if err != nil {
		return nil, err
	}
	p.listener = listener

	go p.forward()
	return p, nil
}

func (p *PushDistributor) forward() {
	for n := range p.listener.Notify {
		if n == nil {
			// nil notification signals the connection was dropped and
			// reconnected; treat it as a wake so the caller re-polls.
			slog.Debug("postgres listener reconnected")
		}
		select {
		case p.notifyCh <- struct{}{}:
		default:
		}
	}
	// The listener's Notify channel closes once Shutdown closes the
	// listener; closing notifyCh then releases every current and future
	// WaitForWork caller.
	close(p.notifyCh)
}

func (p *PushDistributor) WaitForWork(ctx context.Context) {
	timer := time.NewTimer(pollFallback)
	defer timer.Stop()
	select {
	case <-p.notifyCh:
	case <-timer.C:
	case <-ctx.Done():
	}
	metrics.DispatcherWakes.WithLabelValues("push").Inc()
}

func (p *PushDistributor) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.shutdown {
		return
	}
	p.shutdown = true
	p.listener.Close()
}
