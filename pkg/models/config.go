package models

import (
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for hubscript.
type Config struct {
	Application ApplicationSettings `yaml:"application"`
	Listeners   []ListenerConfig    `yaml:"listeners"`
	Triggers    []TriggerConfig     `yaml:"triggers"`
	Actions     []ActionConfig      `yaml:"actions"`
}

// ApplicationSettings holds global configuration settings for the daemon.
type ApplicationSettings struct {
	LogLevel         string      `yaml:"log_level"`          // e.g., "debug", "info", "warn", "error"
	LogFormat        string      `yaml:"log_format"`         // e.g., "text", "json"
	DefaultRetry     RetryPolicy `yaml:"default_retry"`      // Default retry policy for queued events
	MaxConcurrency   int         `yaml:"max_concurrency"`    // Number of workers for queued events
	QueuePersistPath string      `yaml:"queue_persist_path"` // Path to save queue state
	PIDFilePath      string      `yaml:"pid_file_path"`      // Path to store the process ID
	ListenAddr       string      `yaml:"listen_addr"`        // HTTP listen address, default ":8080"
	FixturePath      string      `yaml:"fixture_path"`       // Host fixture seeding the in-memory host
	AuditLogPath     string      `yaml:"audit_log_path"`     // JSONL decision log; empty disables it
	ShutdownTimeout  Duration    `yaml:"shutdown_timeout"`   // Grace period on shutdown, default 30s
}

// RetryPolicy defines the parameters for retrying failed operations.
// Pointers are used to distinguish between a value being explicitly set (even to 0 or 0.0)
// and not being set at all, allowing for proper merging with default policies.
type RetryPolicy struct {
	MaxRetries    *int     `yaml:"max_retries"`    // Max number of retries
	Delay         *float64 `yaml:"delay"`          // Initial delay in seconds
	BackoffFactor *float64 `yaml:"backoff_factor"` // Multiplier for exponential backoff (e.g., 2.0)
}

// ListenerConfig defines a webhook the host platform delivers events to.
type ListenerConfig struct {
	ID          string   `yaml:"id"`          // Unique identifier for the listener
	Path        string   `yaml:"path"`        // HTTP path to listen on (e.g., "/events/assets")
	AuthToken   string   `yaml:"auth_token"`  // Optional bearer token for authentication
	RateLimit   *float64 `yaml:"rate_limit"`  // Optional requests per second limit (token bucket rate)
	Burst       *int     `yaml:"burst"`       // Optional burst size for rate limiting (token bucket capacity)
	Description string   `yaml:"description"` // Optional description
}

// TriggerConfig binds event kinds to the actions run for them, phase by phase.
// Declarative conditions beyond kind and entity definition are evaluated by
// the host before the event is delivered.
type TriggerConfig struct {
	ID          string      `yaml:"id"`
	Description string      `yaml:"description"`
	Objectives  []EventKind `yaml:"objectives"`  // Event kinds that fire the trigger
	Definition  string      `yaml:"definition"`  // Optional entity definition filter (e.g. "M.Asset")
	Disabled    bool        `yaml:"disabled"`    // Skip the trigger without removing it
	Security    []string    `yaml:"security"`    // Action IDs run first
	Validation  []string    `yaml:"validation"`  // Action IDs run after security
	PreCommit   []string    `yaml:"pre_commit"`  // Action IDs run just before commit
	Actions     []string    `yaml:"actions"`     // Action IDs for sign-in and processing events
}

// Phase is a named stage of trigger execution.
type Phase string

const (
	PhaseSecurity   Phase = "security"
	PhaseValidation Phase = "validation"
	PhasePreCommit  Phase = "pre_commit"
	PhaseActions    Phase = "actions"
)

// Phases lists the phases in execution order.
var Phases = []Phase{PhaseSecurity, PhaseValidation, PhasePreCommit, PhaseActions}

// ActionIDs returns the action IDs bound to phase.
func (t TriggerConfig) ActionIDs(phase Phase) []string {
	switch phase {
	case PhaseSecurity:
		return t.Security
	case PhaseValidation:
		return t.Validation
	case PhasePreCommit:
		return t.PreCommit
	case PhaseActions:
		return t.Actions
	}
	return nil
}

// AllActionIDs returns every action ID the trigger references, in phase order.
func (t TriggerConfig) AllActionIDs() []string {
	var ids []string
	for _, p := range Phases {
		ids = append(ids, t.ActionIDs(p)...)
	}
	return ids
}

// ActionConfig defines a handler instance and its options.
type ActionConfig struct {
	ID          string       `yaml:"id"`           // Unique identifier for the action
	Description string       `yaml:"description"`  // Description of what the action does
	Handler     string       `yaml:"handler"`      // Registered handler name
	Options     yaml.Node    `yaml:"options"`      // Handler specific options, decoded by the handler factory
	RetryPolicy *RetryPolicy `yaml:"retry_policy"` // Optional retry override for queued events
}

// Duration is a wrapper around time.Duration to allow parsing from YAML strings
// like "10s", "5m", "1h".
type Duration struct {
	time.Duration
}

// UnmarshalYAML implements the yaml.Unmarshaler interface for Duration.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	var err error
	d.Duration, err = time.ParseDuration(s)
	return err
}
