package dispatcher

import (
	"context"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"
)

// redisChannel is the pub/sub channel used to fan a single process's work
// notification out to every other cloacinad instance sharing the database,
// for deployments where Postgres LISTEN/NOTIFY alone isn't reachable
// across the whole fleet (e.g. connection poolers that don't forward it).
const redisChannel = "cloacina:task_ready"

// RedisFanoutDispatcher wraps an inner Dispatcher and additionally wakes
// on messages published to a shared Redis channel, and publishes to that
// channel whenever it itself wakes from the inner dispatcher. This gives
// every process in a fleet a near-instant wake regardless of which one
// actually observed the database change.
type RedisFanoutDispatcher struct {
	inner Dispatcher
	rdb   *redis.Client
	sub   *redis.PubSub

	mu       sync.Mutex
	shutdown bool
	wake     chan struct{}
}

// NewRedisFanoutDispatcher wraps inner with cross-process fanout over rdb.
func NewRedisFanoutDispatcher(ctx context.Context, inner Dispatcher, rdb *redis.Client) *RedisFanoutDispatcher {
	d := &RedisFanoutDispatcher{
		inner: inner,
		rdb:   rdb,
		sub:   rdb.Subscribe(ctx, redisChannel),
		wake:  make(chan struct{}, 1),
	}
	go d.forward(ctx)
	return d
}

func (d *RedisFanoutDispatcher) forward(ctx context.Context) {
	ch := d.sub.Channel()
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
			select {
			case d.wake <- struct{}{}:
			default:
			}
		case <-ctx.Done():
			return
		}
	}
}

func (d *RedisFanoutDispatcher) WaitForWork(ctx context.Context) {
	innerDone := make(chan struct{})
	go func() {
		d.inner.WaitForWork(ctx)
		close(innerDone)
	}()

	select {
	case <-innerDone:
		if err := d.rdb.Publish(ctx, redisChannel, "").Err(); err != nil {
			slog.Warn("failed to publish redis wake fanout", "error", err)
		}
	case <-d.wake:
	case <-ctx.Done():
	}
}

func (d *RedisFanoutDispatcher) Shutdown() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shutdown {
		return
	}
	d.shutdown = true
	d.inner.Shutdown()
	d.sub.Close()
	close(d.wake)
}
