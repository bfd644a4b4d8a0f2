// Package dispatch matches lifecycle events to triggers and runs their
// actions phase by phase, combining the outcomes into a single decision.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pbaity/hubscript/internal/action"
	"github.com/pbaity/hubscript/internal/audit"
	"github.com/pbaity/hubscript/internal/host"
	"github.com/pbaity/hubscript/internal/logger"
	"github.com/pbaity/hubscript/internal/metrics"
	"github.com/pbaity/hubscript/internal/retry"
	"github.com/pbaity/hubscript/pkg/models"
)

// ErrInvalidEvent marks an event whose shape does not match its kind.
var ErrInvalidEvent = errors.New("invalid event")

// Decision is the combined result of every action run for one event.
type Decision struct {
	EventID    string           `json:"event_id"`
	Kind       models.EventKind `json:"kind"`
	TriggerIDs []string         `json:"trigger_ids,omitempty"`
	DecidedBy  string           `json:"decided_by,omitempty"` // Action whose Reject or Fatal ended the run
	Outcome    models.Outcome   `json:"outcome"`
	// Pending holds mutations the host still has to apply with the
	// triggering operation. Mutations already saved by their handler are
	// only listed in Outcome.Mutations.
	Pending []models.Mutation `json:"pending,omitempty"`
	Retries int               `json:"retries,omitempty"`
}

// Dispatcher owns the trigger set and runs events through it.
type Dispatcher struct {
	executor *action.Executor
	host     host.Host
	audit    audit.Store
	validate *validator.Validate

	mu           sync.RWMutex
	triggers     []models.TriggerConfig
	defaultRetry models.RetryPolicy
}

// New creates a dispatcher and loads the triggers and actions of cfg.
func New(cfg *models.Config, exec *action.Executor, h host.Host, store audit.Store) (*Dispatcher, error) {
	if store == nil {
		store = audit.NopStore{}
	}
	d := &Dispatcher{
		executor: exec,
		host:     h,
		audit:    store,
		validate: newValidator(),
	}
	if err := d.Reload(cfg); err != nil {
		return nil, err
	}
	return d, nil
}

func newValidator() *validator.Validate {
	v := validator.New()
	// Registration only fails for an empty tag or nil func.
	_ = v.RegisterValidation("event_kind", func(fl validator.FieldLevel) bool {
		return models.EventKind(fl.Field().String()).Valid()
	})
	return v
}

// Reload swaps in the triggers and actions of cfg. Nothing changes when any
// action fails to build or a trigger references an unknown action.
func (d *Dispatcher) Reload(cfg *models.Config) error {
	known := make(map[string]bool, len(cfg.Actions))
	for _, a := range cfg.Actions {
		known[a.ID] = true
	}
	for _, t := range cfg.Triggers {
		for _, id := range t.AllActionIDs() {
			if !known[id] {
				return fmt.Errorf("trigger '%s': unknown action '%s'", t.ID, id)
			}
		}
	}
	if err := d.executor.Load(cfg.Actions); err != nil {
		return err
	}

	triggers := slices.Clone(cfg.Triggers)
	d.mu.Lock()
	d.triggers = triggers
	d.defaultRetry = cfg.Application.DefaultRetry
	d.mu.Unlock()

	logger.L().Info("Triggers loaded", "triggers", len(triggers), "actions", len(cfg.Actions))
	return nil
}

// Triggers returns a copy of the loaded trigger set.
func (d *Dispatcher) Triggers() []models.TriggerConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return slices.Clone(d.triggers)
}

// Validate checks the event shape against its kind.
func (d *Dispatcher) Validate(ev models.Event) error {
	if err := d.validate.Struct(ev); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, err)
	}
	return nil
}

// Match returns the enabled triggers that fire for ev.
func (d *Dispatcher) Match(ev models.Event) []models.TriggerConfig {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var matched []models.TriggerConfig
	for _, t := range d.triggers {
		if t.Disabled || !slices.Contains(t.Objectives, ev.Kind) {
			continue
		}
		if t.Definition != "" {
			subject := ev.Subject()
			if subject == nil || subject.Definition != t.Definition {
				continue
			}
		}
		matched = append(matched, t)
	}
	return matched
}

// Dispatch runs ev through every matching trigger and returns the decision.
// Invalid events yield a Fatal decision wrapping ErrInvalidEvent.
func (d *Dispatcher) Dispatch(ctx context.Context, ev models.Event) Decision {
	return d.run(ctx, ev, false)
}

// Process is the queued path: it dispatches ev, retrying actions whose
// failure was caused by an unavailable host. It returns an error only for a
// Fatal decision.
func (d *Dispatcher) Process(ctx context.Context, ev models.Event) error {
	dec := d.run(ctx, ev, true)
	switch dec.Outcome.Kind {
	case models.OutcomeFatal:
		return fmt.Errorf("event %s: %w", dec.EventID, dec.Outcome.Cause)
	case models.OutcomeReject:
		logger.L().Warn("Queued event rejected", "event_id", dec.EventID, "action_id", dec.DecidedBy, "reason", dec.Outcome.Reason)
	}
	return nil
}

func (d *Dispatcher) run(ctx context.Context, ev models.Event, withRetry bool) Decision {
	ev = cloneEvent(ev)
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	start := time.Now()
	dec := Decision{EventID: ev.ID, Kind: ev.Kind}
	l := logger.L().With("event_id", ev.ID, "kind", ev.Kind, "source", ev.SourceID)

	if err := d.Validate(ev); err != nil {
		dec.Outcome = models.Fatal(err)
		d.finish(ctx, ev, &dec, start)
		return dec
	}

	triggers := d.Match(ev)
	for _, t := range triggers {
		dec.TriggerIDs = append(dec.TriggerIDs, t.ID)
	}
	if len(triggers) == 0 {
		l.Debug("No trigger matched event")
		dec.Outcome = models.Allow()
		d.finish(ctx, ev, &dec, start)
		return dec
	}
	l.Debug("Dispatching event", "triggers", dec.TriggerIDs)

	var all []models.Mutation
	for _, phase := range models.Phases {
		for _, t := range triggers {
			for _, id := range t.ActionIDs(phase) {
				out := d.runAction(ctx, ev, id, withRetry, &dec)
				if out.Blocking() {
					dec.DecidedBy = id
					dec.Outcome = out
					dec.Pending = nil
					d.finish(ctx, ev, &dec, start)
					return dec
				}
				if out.Kind == models.OutcomeAllowWithMutation {
					all = append(all, out.Mutations...)
					if !out.Persisted {
						dec.Pending = append(dec.Pending, out.Mutations...)
					}
				}
			}
		}
	}

	dec.Outcome = models.Mutate(all...)
	dec.Outcome.Persisted = len(all) > 0 && len(dec.Pending) == 0
	d.finish(ctx, ev, &dec, start)
	return dec
}

func (d *Dispatcher) runAction(ctx context.Context, ev models.Event, id string, withRetry bool, dec *Decision) models.Outcome {
	a, ok := d.executor.Lookup(id)
	if !ok {
		return models.Fatal(&models.ConfigurationError{Object: "action", Name: id})
	}
	if !withRetry {
		return d.executor.Execute(ctx, ev, a, d.host)
	}

	d.mu.RLock()
	policy := retry.MergePolicies(a.Config.RetryPolicy, &d.defaultRetry)
	d.mu.RUnlock()

	var out models.Outcome
	attempt := 0
	err := retry.Do(ctx, "action "+id, policy, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			dec.Retries++
			metrics.RecordRetry(id)
		}
		out = d.executor.Execute(ctx, ev, a, d.host)
		if out.Kind != models.OutcomeFatal {
			return nil
		}
		if errors.Is(out.Cause, host.ErrUnavailable) {
			return out.Cause
		}
		return retry.Permanent(out.Cause)
	})
	if err != nil && attempt == 0 {
		// Context ended before the first attempt.
		return models.Fatal(fmt.Errorf("action not started: %w", err))
	}
	return out
}

func (d *Dispatcher) finish(ctx context.Context, ev models.Event, dec *Decision, start time.Time) {
	duration := time.Since(start)
	metrics.RecordEvent(string(ev.Kind), dec.Outcome.Kind.String())

	entry := &audit.Entry{
		EventID:    ev.ID,
		Kind:       ev.Kind,
		SourceID:   ev.SourceID,
		TriggerIDs: dec.TriggerIDs,
		ActionID:   dec.DecidedBy,
		Outcome:    dec.Outcome.Kind,
		RejectKind: dec.Outcome.RejectKind,
		Reason:     dec.Outcome.Reason,
		Failures:   dec.Outcome.Failures,
		Mutations:  len(dec.Outcome.Mutations),
		Retries:    dec.Retries,
		Duration:   duration.String(),
		Timestamp:  time.Now().UTC(),
	}
	if s := ev.Subject(); s != nil {
		entry.EntityID = s.ID
	}
	if err := d.audit.Append(context.WithoutCancel(ctx), entry); err != nil {
		logger.L().Error("Failed to write audit entry", "event_id", ev.ID, "error", err)
	}

	logger.L().Info("Event dispatched",
		"event_id", ev.ID,
		"kind", ev.Kind,
		"outcome", dec.Outcome.Kind.String(),
		"decided_by", dec.DecidedBy,
		"mutations", len(dec.Outcome.Mutations),
		"pending", len(dec.Pending),
		"duration", duration.String())
}

// cloneEvent copies the entity snapshots so lazy loads during dispatch do
// not leak into the caller's event.
func cloneEvent(ev models.Event) models.Event {
	ev.Target = ev.Target.Clone()
	ev.User = ev.User.Clone()
	ev.Asset = ev.Asset.Clone()
	ev.File = ev.File.Clone()
	ev.Metadata = slices.Clone(ev.Metadata)
	if ev.ExternalUserInfo != nil {
		info := *ev.ExternalUserInfo
		info.Claims = slices.Clone(info.Claims)
		ev.ExternalUserInfo = &info
	}
	return ev
}
