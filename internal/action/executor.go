package action

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/pbaity/hubscript/internal/handlers"
	"github.com/pbaity/hubscript/internal/host"
	"github.com/pbaity/hubscript/internal/logger"
	"github.com/pbaity/hubscript/internal/metrics"
	"github.com/pbaity/hubscript/pkg/models"
)

// Action is a configured handler instance ready to run.
type Action struct {
	Config     models.ActionConfig
	Definition handlers.Definition
	Handler    handlers.Handler
}

// Executor builds actions from configuration and runs them.
type Executor struct {
	registry *handlers.Registry
	mu       sync.RWMutex
	actions  map[string]*Action
}

// NewExecutor creates a new action executor backed by registry.
func NewExecutor(registry *handlers.Registry) *Executor {
	return &Executor{
		registry: registry,
		actions:  make(map[string]*Action),
	}
}

// Load builds every configured action. The executor's action set is replaced
// only when all of them build; on error the previous set stays in place.
func (e *Executor) Load(configs []models.ActionConfig) error {
	next := make(map[string]*Action, len(configs))
	for i := range configs {
		cfg := configs[i]
		a, err := e.Build(cfg)
		if err != nil {
			return fmt.Errorf("action '%s': %w", cfg.ID, err)
		}
		if _, dup := next[cfg.ID]; dup {
			return fmt.Errorf("action '%s': duplicate id", cfg.ID)
		}
		next[cfg.ID] = a
	}

	e.mu.Lock()
	e.actions = next
	e.mu.Unlock()
	logger.L().Debug("Actions loaded", "count", len(next))
	return nil
}

// Build creates a single action from its configuration.
func (e *Executor) Build(cfg models.ActionConfig) (*Action, error) {
	def, ok := e.registry.Lookup(cfg.Handler)
	if !ok {
		return nil, fmt.Errorf("%w: %q", handlers.ErrUnknownHandler, cfg.Handler)
	}
	h, err := e.registry.Build(cfg.Handler, &cfg.Options)
	if err != nil {
		return nil, err
	}
	return &Action{Config: cfg, Definition: def, Handler: h}, nil
}

// Lookup returns the loaded action with the given id.
func (e *Executor) Lookup(id string) (*Action, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	a, ok := e.actions[id]
	return a, ok
}

// Execute runs the action against event. Failures of any kind come back as
// a Fatal outcome; Execute itself never panics.
func (e *Executor) Execute(ctx context.Context, event models.Event, a *Action, h host.Host) (out models.Outcome) {
	l := logger.L().With("event_id", event.ID, "action_id", a.Config.ID, "handler", a.Config.Handler)
	l.Debug("Executing action")

	startTime := time.Now()
	defer func() {
		if r := recover(); r != nil {
			l.Error("Handler panicked", "panic", r, "stack", string(debug.Stack()))
			out = models.Fatal(fmt.Errorf("handler %q panicked: %v", a.Config.Handler, r))
		}
		duration := time.Since(startTime)
		metrics.RecordAction(a.Config.ID, out.Kind.String(), string(out.RejectKind), duration)
		logOutcome(l, out, duration)
	}()

	if !a.Definition.Accepts(event.Kind) {
		return models.Fatal(fmt.Errorf("handler %q does not handle %s events: %w", a.Config.Handler, event.Kind, models.ErrConfiguration))
	}
	if err := ctx.Err(); err != nil {
		return models.Fatal(fmt.Errorf("action not started: %w", err))
	}
	return a.Handler.Handle(ctx, event, h)
}

func logOutcome(l *slog.Logger, out models.Outcome, d time.Duration) {
	switch out.Kind {
	case models.OutcomeFatal:
		l.Error("Action failed", "error", out.Cause, "configuration_error", out.IsConfigurationError(), "duration", d.String())
	case models.OutcomeReject:
		l.Warn("Action rejected event", "reject_kind", out.RejectKind, "reason", out.Reason, "duration", d.String())
	default:
		l.Info("Action executed successfully", "outcome", out.Kind.String(), "mutations", len(out.Mutations), "persisted", out.Persisted, "duration", d.String())
	}
}
