package postgres

import (
	"time"

	"github.com/lib/pq"
)

// NotifyChannel is the Postgres NOTIFY channel the claim path signals on
// every MarkTaskReady, and the one the push dispatcher listens on.
const NotifyChannel = "cloacina_task_ready"

// NewListener returns a lib/pq Listener subscribed to NotifyChannel. The
// dispatcher owns its lifecycle (Listen/Close); reported connection errors
// are surfaced through eventCallback so the dispatcher can fall back to
// polling while the connection re-establishes.
func NewListener(dsn string, eventCallback func(pq.ListenerEventType, error)) (*pq.Listener, error) {
	listener := pq.NewListener(dsn, 10*time.Second, time.Minute, eventCallback)
	if err := listener.Listen(NotifyChannel); err != nil {
		return nil, err
	}
	return listener, nil
}

// Notify emits a NOTIFY on NotifyChannel so any listening dispatcher wakes
// immediately instead of waiting for its next poll tick.
func (d *DB) Notify() error {
	_, err := d.db.Exec(`SELECT pg_notify($1, '')`, NotifyChannel)
	return err
}
