package dispatcher

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config selects and tunes the Dispatcher for one executor/scheduler
// process.
type Config struct {
	Backend      string // "postgres" or "sqlite"
	DSN          string // used by the postgres push listener
	PollInterval int64  // milliseconds; sqlite backend only
	Redis        *redis.Client
}

// New builds the Dispatcher matching cfg.Backend, optionally wrapping it
// with cross-process Redis fanout when cfg.Redis is set.
func New(ctx context.Context, cfg Config) (Dispatcher, error) {
	var d Dispatcher
	switch cfg.Backend {
	case "postgres":
		push, err := NewPushDistributor(cfg.DSN)
		if err != nil {
			return nil, err
		}
		d = push
	default:
		d = NewPollDistributor(time.Duration(cfg.PollInterval) * time.Millisecond)
	}

	if cfg.Redis != nil {
		d = NewRedisFanoutDispatcher(ctx, d, cfg.Redis)
	}

	return d, nil
}
