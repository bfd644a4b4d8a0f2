package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/pbaity/hubscript/internal/handlers"
	"github.com/pbaity/hubscript/pkg/models"
)

// ValidateConfig checks the entire configuration for logical consistency and
// required fields. Every action is built against registry so invalid handler
// options fail here rather than on the first event.
func ValidateConfig(cfg *models.Config, registry *handlers.Registry) error {
	if cfg == nil {
		return errors.New("config cannot be nil")
	}
	if registry == nil {
		registry = handlers.DefaultRegistry()
	}

	if err := validateApplicationSettings(&cfg.Application); err != nil {
		return fmt.Errorf("invalid application settings: %w", err)
	}

	actions := make(map[string]handlers.Definition)
	for i := range cfg.Actions {
		action := &cfg.Actions[i]
		def, err := validateActionConfig(action, i, registry)
		if err != nil {
			return fmt.Errorf("invalid action config at index %d (ID: %s): %w", i, action.ID, err)
		}
		if _, exists := actions[action.ID]; exists {
			return fmt.Errorf("duplicate action ID found: %s", action.ID)
		}
		actions[action.ID] = def
	}

	listenerIDs := make(map[string]bool)
	listenerPaths := make(map[string]bool)
	for i := range cfg.Listeners {
		listener := &cfg.Listeners[i]
		if err := validateListenerConfig(listener, i); err != nil {
			return fmt.Errorf("invalid listener config at index %d (ID: %s): %w", i, listener.ID, err)
		}
		if listenerIDs[listener.ID] {
			return fmt.Errorf("duplicate listener ID found: %s", listener.ID)
		}
		listenerIDs[listener.ID] = true
		if listenerPaths[listener.Path] {
			return fmt.Errorf("duplicate listener path found: %s", listener.Path)
		}
		listenerPaths[listener.Path] = true
	}

	triggerIDs := make(map[string]bool)
	for i := range cfg.Triggers {
		trigger := &cfg.Triggers[i]
		if err := validateTriggerConfig(trigger, i, actions); err != nil {
			return fmt.Errorf("invalid trigger config at index %d (ID: %s): %w", i, trigger.ID, err)
		}
		if triggerIDs[trigger.ID] {
			return fmt.Errorf("duplicate trigger ID found: %s", trigger.ID)
		}
		triggerIDs[trigger.ID] = true
	}
	return nil
}

func validateApplicationSettings(app *models.ApplicationSettings) error {
	if app.LogLevel != "" {
		level := strings.ToLower(app.LogLevel)
		if level != "debug" && level != "info" && level != "warn" && level != "error" {
			return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", app.LogLevel)
		}
	}
	if app.LogFormat != "" {
		format := strings.ToLower(app.LogFormat)
		if format != "text" && format != "json" {
			return fmt.Errorf("invalid log_format: %s (must be text or json)", app.LogFormat)
		}
	}
	if app.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency cannot be negative: %d", app.MaxConcurrency)
	}
	if app.ShutdownTimeout.Duration < 0 {
		return fmt.Errorf("shutdown_timeout cannot be negative: %s", app.ShutdownTimeout.Duration)
	}
	if app.ShutdownTimeout.Duration > 0 && app.ShutdownTimeout.Duration < time.Second {
		return fmt.Errorf("shutdown_timeout must be at least 1s: %s", app.ShutdownTimeout.Duration)
	}
	if err := validateRetryPolicy(&app.DefaultRetry, "default_retry"); err != nil {
		return err
	}
	return nil
}

func validateActionConfig(action *models.ActionConfig, index int, registry *handlers.Registry) (handlers.Definition, error) {
	if action.ID == "" {
		return handlers.Definition{}, fmt.Errorf("action at index %d must have an ID", index)
	}
	if action.Handler == "" {
		return handlers.Definition{}, fmt.Errorf("handler cannot be empty")
	}
	def, ok := registry.Lookup(action.Handler)
	if !ok {
		return handlers.Definition{}, fmt.Errorf("%w: %q", handlers.ErrUnknownHandler, action.Handler)
	}
	if _, err := registry.Build(action.Handler, &action.Options); err != nil {
		return handlers.Definition{}, err
	}
	if action.RetryPolicy != nil {
		if err := validateRetryPolicy(action.RetryPolicy, "retry_policy"); err != nil {
			return handlers.Definition{}, err
		}
	}
	return def, nil
}

func validateListenerConfig(listener *models.ListenerConfig, index int) error {
	if listener.ID == "" {
		return fmt.Errorf("listener at index %d must have an ID", index)
	}
	if listener.Path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if !strings.HasPrefix(listener.Path, "/") {
		return fmt.Errorf("path must start with '/'")
	}
	if _, err := url.Parse(listener.Path); err != nil {
		return fmt.Errorf("invalid path format: %w", err)
	}
	if strings.HasPrefix(listener.Path, "/hubscript/") || listener.Path == "/healthz" || listener.Path == "/metrics" {
		return fmt.Errorf("path %s is reserved", listener.Path)
	}

	if listener.RateLimit != nil && *listener.RateLimit <= 0 {
		return fmt.Errorf("rate_limit must be positive if set")
	}
	if listener.Burst != nil && *listener.Burst <= 0 {
		return fmt.Errorf("burst must be positive if set")
	}
	if listener.RateLimit == nil && listener.Burst != nil {
		return fmt.Errorf("burst cannot be set without rate_limit")
	}
	return nil
}

// validateTriggerConfig checks objectives, that every referenced action
// exists and that its handler can run for every objective, and that phase
// lists match the kind of event: security, validation and pre_commit run for
// entity events, actions for sign-in and processing events.
func validateTriggerConfig(trigger *models.TriggerConfig, index int, actions map[string]handlers.Definition) error {
	if trigger.ID == "" {
		return fmt.Errorf("trigger at index %d must have an ID", index)
	}
	if len(trigger.Objectives) == 0 {
		return fmt.Errorf("objectives cannot be empty")
	}
	seen := make(map[models.EventKind]bool)
	for _, k := range trigger.Objectives {
		if !k.Valid() {
			return fmt.Errorf("unknown objective %q", k)
		}
		if seen[k] {
			return fmt.Errorf("duplicate objective %q", k)
		}
		seen[k] = true
	}

	for _, phase := range models.Phases {
		ids := trigger.ActionIDs(phase)
		for _, k := range trigger.Objectives {
			if len(ids) > 0 && (phase == models.PhaseActions) == k.IsEntityEvent() {
				return fmt.Errorf("phase %s does not run for %s events", phase, k)
			}
		}
		for _, id := range ids {
			def, exists := actions[id]
			if !exists {
				return fmt.Errorf("%s: action ID '%s' not found in defined actions", phase, id)
			}
			for _, k := range trigger.Objectives {
				if !def.Accepts(k) {
					return fmt.Errorf("%s: action '%s' (handler %s) does not handle %s events", phase, id, def.Name, k)
				}
			}
		}
	}
	return nil
}

func validateRetryPolicy(policy *models.RetryPolicy, fieldName string) error {
	if policy == nil {
		return nil
	}
	if policy.MaxRetries != nil && *policy.MaxRetries < 0 {
		return fmt.Errorf("%s: max_retries cannot be negative", fieldName)
	}
	if policy.Delay != nil && *policy.Delay < 0 {
		return fmt.Errorf("%s: delay cannot be negative", fieldName)
	}
	if policy.BackoffFactor != nil && *policy.BackoffFactor < 1.0 {
		return fmt.Errorf("%s: backoff_factor cannot be less than 1.0", fieldName)
	}
	return nil
}
