package config

import (
	"testing"

	"github.com/pbaity/hubscript/internal/handlers"
	"github.com/pbaity/hubscript/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Helper to create a basic valid config for modification in tests
func createValidTestConfig(t *testing.T) *models.Config {
	t.Helper()
	cfg, err := Parse([]byte(fullYAML))
	require.NoError(t, err)
	return cfg
}

func TestValidateConfig_Valid(t *testing.T) {
	cfg := createValidTestConfig(t)
	assert.NoError(t, ValidateConfig(cfg, nil))
	assert.NoError(t, ValidateConfig(cfg, handlers.DefaultRegistry()))
}

func TestValidateConfig_NilConfig(t *testing.T) {
	err := ValidateConfig(nil, nil)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "config cannot be nil")
}

func TestValidateConfig_DuplicateIDs(t *testing.T) {
	testCases := []struct {
		name        string
		modify      func(cfg *models.Config)
		expectedErr string
	}{
		{
			name: "Duplicate Listener ID",
			modify: func(cfg *models.Config) {
				cfg.Listeners = append(cfg.Listeners, models.ListenerConfig{ID: "assets", Path: "/l2"})
			},
			expectedErr: "duplicate listener ID found: assets",
		},
		{
			name: "Duplicate Listener Path",
			modify: func(cfg *models.Config) {
				cfg.Listeners = append(cfg.Listeners, models.ListenerConfig{ID: "other", Path: "/events/assets"})
			},
			expectedErr: "duplicate listener path found: /events/assets",
		},
		{
			name: "Duplicate Trigger ID",
			modify: func(cfg *models.Config) {
				cfg.Triggers = append(cfg.Triggers, models.TriggerConfig{ID: "sso", Objectives: []models.EventKind{models.EventKindSignIn}})
			},
			expectedErr: "duplicate trigger ID found: sso",
		},
		{
			name: "Duplicate Action ID",
			modify: func(cfg *models.Config) {
				cfg.Actions = append(cfg.Actions, models.ActionConfig{ID: "web-type", Handler: handlers.ExtensionClassificationName})
			},
			expectedErr: "duplicate action ID found: web-type",
		},
		{
			name: "Duplicate Objective",
			modify: func(cfg *models.Config) {
				cfg.Triggers[1].Objectives = []models.EventKind{models.EventKindSignIn, models.EventKindSignIn}
			},
			expectedErr: `duplicate objective "user_sign_in"`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := createValidTestConfig(t)
			tc.modify(cfg)
			err := ValidateConfig(cfg, nil)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}

func TestValidateConfig_TriggerReferences(t *testing.T) {
	testCases := []struct {
		name        string
		modify      func(cfg *models.Config)
		expectedErr string
	}{
		{
			name:        "Trigger references missing action",
			modify:      func(cfg *models.Config) { cfg.Triggers[0].Validation = []string{"nonexistent_action"} },
			expectedErr: "invalid trigger config at index 0 (ID: web-assets): validation: action ID 'nonexistent_action' not found in defined actions",
		},
		{
			name:        "Handler does not accept objective",
			modify:      func(cfg *models.Config) { cfg.Triggers[2].Actions = []string{"sync-groups"} },
			expectedErr: "actions: action 'sync-groups' (handler claim_group_sync) does not handle asset_processing events",
		},
		{
			name:        "Entity phase on sign-in trigger",
			modify:      func(cfg *models.Config) { cfg.Triggers[1].Security = []string{"agency-gate"} },
			expectedErr: "phase security does not run for user_sign_in events",
		},
		{
			name:        "Actions phase on entity trigger",
			modify:      func(cfg *models.Config) { cfg.Triggers[0].Actions = []string{"web-type"} },
			expectedErr: "phase actions does not run for entity_creation events",
		},
		{
			name:        "Unknown objective",
			modify:      func(cfg *models.Config) { cfg.Triggers[0].Objectives = []models.EventKind{"entity_deletion"} },
			expectedErr: `unknown objective "entity_deletion"`,
		},
		{
			name: "Disabled triggers are still checked",
			modify: func(cfg *models.Config) {
				cfg.Triggers[0].Disabled = true
				cfg.Triggers[0].PreCommit = []string{"gone"}
			},
			expectedErr: "pre_commit: action ID 'gone' not found",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := createValidTestConfig(t)
			tc.modify(cfg)
			err := ValidateConfig(cfg, nil)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}

func TestValidateConfig_MissingRequiredFields(t *testing.T) {
	testCases := []struct {
		name        string
		modify      func(cfg *models.Config)
		expectedErr string
	}{
		{
			name:        "Listener missing ID",
			modify:      func(cfg *models.Config) { cfg.Listeners[0].ID = "" },
			expectedErr: "invalid listener config at index 0 (ID: ): listener at index 0 must have an ID",
		},
		{
			name:        "Listener missing Path",
			modify:      func(cfg *models.Config) { cfg.Listeners[0].Path = "" },
			expectedErr: "invalid listener config at index 0 (ID: assets): path cannot be empty",
		},
		{
			name:        "Trigger missing ID",
			modify:      func(cfg *models.Config) { cfg.Triggers[1].ID = "" },
			expectedErr: "invalid trigger config at index 1 (ID: ): trigger at index 1 must have an ID",
		},
		{
			name:        "Trigger missing objectives",
			modify:      func(cfg *models.Config) { cfg.Triggers[1].Objectives = nil },
			expectedErr: "invalid trigger config at index 1 (ID: sso): objectives cannot be empty",
		},
		{
			name:        "Action missing ID",
			modify:      func(cfg *models.Config) { cfg.Actions[0].ID = "" },
			expectedErr: "invalid action config at index 0 (ID: ): action at index 0 must have an ID",
		},
		{
			name:        "Action missing Handler",
			modify:      func(cfg *models.Config) { cfg.Actions[0].Handler = "" },
			expectedErr: "invalid action config at index 0 (ID: agency-gate): handler cannot be empty",
		},
		{
			name:        "Action unknown Handler",
			modify:      func(cfg *models.Config) { cfg.Actions[0].Handler = "shell" },
			expectedErr: `unknown handler: "shell"`,
		},
		{
			name: "Action with invalid options",
			modify: func(cfg *models.Config) {
				cfg.Actions[3].Options = cfg.Actions[2].Options // claim_group_sync without claim_type
			},
			expectedErr: "invalid action config at index 3 (ID: sync-groups)",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := createValidTestConfig(t)
			tc.modify(cfg)
			err := ValidateConfig(cfg, nil)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}

func TestValidateConfig_InvalidValues(t *testing.T) {
	negRetry := -1
	negDelay := -1.0
	lowFactor := 0.5
	negRateLimit := -10.0
	zeroBurst := 0
	burst := 5

	testCases := []struct {
		name        string
		modify      func(cfg *models.Config)
		expectedErr string
	}{
		{"Invalid log level", func(cfg *models.Config) { cfg.Application.LogLevel = "verbose" }, "invalid log_level: verbose"},
		{"Invalid log format", func(cfg *models.Config) { cfg.Application.LogFormat = "xml" }, "invalid log_format: xml"},
		{"Negative concurrency", func(cfg *models.Config) { cfg.Application.MaxConcurrency = -1 }, "max_concurrency cannot be negative"},
		{"Short shutdown timeout", func(cfg *models.Config) { cfg.Application.ShutdownTimeout.Duration = 1 }, "shutdown_timeout must be at least 1s"},
		{"Negative default retries", func(cfg *models.Config) { cfg.Application.DefaultRetry.MaxRetries = &negRetry }, "default_retry: max_retries cannot be negative"},
		{"Negative default delay", func(cfg *models.Config) { cfg.Application.DefaultRetry.Delay = &negDelay }, "default_retry: delay cannot be negative"},
		{"Low backoff factor", func(cfg *models.Config) { cfg.Application.DefaultRetry.BackoffFactor = &lowFactor }, "default_retry: backoff_factor cannot be less than 1.0"},
		{"Action retry policy", func(cfg *models.Config) { cfg.Actions[4].RetryPolicy.MaxRetries = &negRetry }, "retry_policy: max_retries cannot be negative"},
		{"Relative listener path", func(cfg *models.Config) { cfg.Listeners[0].Path = "events" }, "path must start with '/'"},
		{"Reserved listener path", func(cfg *models.Config) { cfg.Listeners[0].Path = "/hubscript/trigger" }, "path /hubscript/trigger is reserved"},
		{"Negative rate limit", func(cfg *models.Config) { cfg.Listeners[0].RateLimit = &negRateLimit }, "rate_limit must be positive if set"},
		{"Zero burst", func(cfg *models.Config) { cfg.Listeners[0].Burst = &zeroBurst }, "burst must be positive if set"},
		{"Burst without rate", func(cfg *models.Config) {
			cfg.Listeners[0].RateLimit = nil
			cfg.Listeners[0].Burst = &burst
		}, "burst cannot be set without rate_limit"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := createValidTestConfig(t)
			tc.modify(cfg)
			err := ValidateConfig(cfg, nil)
			assert.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}
