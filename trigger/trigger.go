// Package trigger polls user-supplied conditions and submits new pipeline
// executions when they fire, deduplicating bursty sources within a cooldown
// window.
package trigger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/colliery-io/cloacina-go/store"
)

// Outcome is the result of one poll of a Trigger function.
type Outcome int

const (
	// Skip indicates the condition did not fire this poll.
	Skip Outcome = iota
	// Fire indicates the condition fired, carrying seed Context values for
	// the new pipeline execution.
	Fire
	// Error indicates the poll function itself failed.
	Error
)

// Result is returned by a Trigger poll.
type Result struct {
	Outcome Outcome
	Context map[string]any
	Err     error
}

// Trigger is a user-supplied polling function.
type Trigger func(ctx context.Context) Result

// Submitter creates a new pipeline execution for workflowName seeded with
// seed, mirroring cronsched.Submitter.
type Submitter func(ctx context.Context, workflowName string, seed map[string]any) (pipelineID store.UUID, err error)

// Registration binds one Trigger to the workflow it fires and its polling
// policy.
type Registration struct {
	Name            string
	WorkflowName    string
	PollInterval    time.Duration
	AllowConcurrent bool
	Timeout         time.Duration
	Cooldown        time.Duration
	Fn              Trigger
}

// Evaluator owns a schedule per registered trigger and polls each on its own
// interval, submitting new executions on Fire. An Error outcome is logged
// and the trigger is polled again at its normal interval; there is no
// backoff and no persisted error record.
type Evaluator struct {
	store   *store.Store
	submit  Submitter
	mu      sync.RWMutex
	regs    map[string]Registration
	running map[string]bool
}

// New returns an Evaluator with no registered triggers.
func New(st *store.Store, submit Submitter) *Evaluator {
	return &Evaluator{store: st, submit: submit, regs: make(map[string]Registration), running: make(map[string]bool)}
}

// Register adds a trigger, persisting its polling schedule if not already
// present.
func (e *Evaluator) Register(ctx context.Context, reg Registration) error {
	if reg.PollInterval <= 0 {
		reg.PollInterval = 500 * time.Millisecond
	}
	if reg.Timeout <= 0 {
		reg.Timeout = 10 * time.Second
	}
	e.mu.Lock()
	e.regs[reg.Name] = reg
	e.mu.Unlock()

	existing, err := e.store.ListTriggerSchedules(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to list trigger schedules")
	}
	for _, ts := range existing {
		if ts.TriggerName == reg.Name {
			return nil
		}
	}
	return e.store.CreateTriggerSchedule(ctx, &store.TriggerSchedule{
		ID:              reg.Name,
		TriggerName:     reg.Name,
		WorkflowName:    reg.WorkflowName,
		PollIntervalMs:  reg.PollInterval.Milliseconds(),
		AllowConcurrent: reg.AllowConcurrent,
	})
}

// Run blocks, polling every registered trigger on its own ticker until ctx
// is cancelled.
func (e *Evaluator) Run(ctx context.Context) error {
	e.mu.RLock()
	names := make([]string, 0, len(e.regs))
	for name := range e.regs {
		names = append(names, name)
	}
	sort.Strings(names)
	e.mu.RUnlock()

	var wg sync.WaitGroup
	for _, name := range names {
		e.mu.RLock()
		reg := e.regs[name]
		e.mu.RUnlock()
		wg.Add(1)
		go func(reg Registration) {
			defer wg.Done()
			e.runOne(ctx, reg)
		}(reg)
	}
	wg.Wait()
	return ctx.Err()
}

func (e *Evaluator) runOne(ctx context.Context, reg Registration) {
	ticker := time.NewTicker(reg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.poll(ctx, reg); err != nil {
				slog.Error("trigger poll failed", "trigger", reg.Name, "error", err)
			}
		}
	}
}

// poll invokes reg.Fn once, enforcing allow_concurrent and firing/dedup
// rules.
func (e *Evaluator) poll(ctx context.Context, reg Registration) error {
	if !reg.AllowConcurrent {
		e.mu.Lock()
		if e.running[reg.Name] {
			e.mu.Unlock()
			return nil
		}
		e.running[reg.Name] = true
		e.mu.Unlock()
		defer func() {
			e.mu.Lock()
			e.running[reg.Name] = false
			e.mu.Unlock()
		}()
	}

	pollCtx, cancel := context.WithTimeout(ctx, reg.Timeout)
	defer cancel()

	now := time.Now().UTC()
	res := reg.Fn(pollCtx)
	if err := e.store.UpdateTriggerPolledAt(ctx, reg.Name, now); err != nil {
		slog.Error("failed to update trigger poll timestamp", "trigger", reg.Name, "error", err)
	}

	switch res.Outcome {
	case Skip:
		return nil
	case Error:
		slog.Warn("trigger poll returned error outcome", "trigger", reg.Name, "error", res.Err)
		return nil
	case Fire:
		dedup := dedupHash(res.Context)
		active, err := e.store.HasActiveFiringWithin(ctx, reg.Name, dedup, reg.Cooldown, now)
		if err != nil {
			return errors.Wrap(err, "failed to check trigger dedup cooldown")
		}
		if active {
			slog.Debug("trigger firing suppressed by cooldown dedup", "trigger", reg.Name, "dedup", dedup)
			return nil
		}
		if _, err := e.submit(ctx, reg.WorkflowName, res.Context); err != nil {
			return errors.Wrapf(err, "failed to submit pipeline for trigger %q", reg.Name)
		}
		return nil
	default:
		return errors.Errorf("trigger %q: unknown poll outcome %d", reg.Name, res.Outcome)
	}
}

// dedupHash derives a stable hash of a fired Context, used as the firing's
// dedup key within the cooldown window. encoding/json sorts map
// keys when marshaling, so this is stable regardless of iteration order.
func dedupHash(ctxValues map[string]any) string {
	if ctxValues == nil {
		ctxValues = map[string]any{}
	}
	data, err := json.Marshal(ctxValues)
	if err != nil {
		data = []byte(errors.Wrap(err, "failed to marshal trigger context for dedup").Error())
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
