package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pbaity/hubscript/internal/handlers"
	"github.com/pbaity/hubscript/pkg/models"
	"gopkg.in/yaml.v3"
)

// Defaults applied to unset application settings.
const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxConcurrency  = 4
)

// LoadConfig reads a YAML configuration file from the given path, applies
// defaults and validates it against the built-in handlers.
func LoadConfig(configPath string) (*models.Config, error) {
	return LoadConfigWith(configPath, handlers.DefaultRegistry())
}

// LoadConfigWith is LoadConfig with an explicit handler registry.
func LoadConfigWith(configPath string, registry *handlers.Registry) (*models.Config, error) {
	yamlFile, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}
	cfg, err := Parse(yamlFile)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal config file '%s': %w", configPath, err)
	}
	if err := ValidateConfig(cfg, registry); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration and applies defaults. Unknown keys are
// rejected so typos surface at startup.
func Parse(data []byte) (*models.Config, error) {
	var cfg models.Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

// ApplyDefaults fills unset application settings. Retry defaults are merged
// when a policy is used, not here.
func ApplyDefaults(cfg *models.Config) {
	app := &cfg.Application
	if app.LogLevel == "" {
		app.LogLevel = "info"
	}
	if app.LogFormat == "" {
		app.LogFormat = "text"
	}
	if app.ListenAddr == "" {
		app.ListenAddr = DefaultListenAddr
	}
	if app.MaxConcurrency == 0 {
		app.MaxConcurrency = DefaultMaxConcurrency
	}
	if app.ShutdownTimeout.Duration == 0 {
		app.ShutdownTimeout.Duration = DefaultShutdownTimeout
	}
}
