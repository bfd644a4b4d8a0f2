// Package handlers implements the trigger handlers and the registry that
// builds them from action configuration.
package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/pbaity/hubscript/internal/host"
	"github.com/pbaity/hubscript/pkg/models"
	"gopkg.in/yaml.v3"
)

// Handler decides the outcome of a single event. Implementations hold no
// state between invocations and reach the host only through h.
type Handler interface {
	Handle(ctx context.Context, ev models.Event, h host.Host) models.Outcome
}

// HandlerFunc adapts an ordinary function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev models.Event, h host.Host) models.Outcome

// Handle calls f(ctx, ev, h).
func (f HandlerFunc) Handle(ctx context.Context, ev models.Event, h host.Host) models.Outcome {
	return f(ctx, ev, h)
}

// Factory builds a handler from its raw YAML options. A nil or empty node
// means no options were given.
type Factory func(options *yaml.Node) (Handler, error)

// Definition describes a registered handler.
type Definition struct {
	Name        string
	Description string
	Kinds       []models.EventKind // Event kinds the handler accepts
	Factory     Factory
}

// Accepts reports whether the handler is defined for events of kind k.
func (d Definition) Accepts(k models.EventKind) bool {
	return slices.Contains(d.Kinds, k)
}

// ErrUnknownHandler is returned when building a handler that is not registered.
var ErrUnknownHandler = errors.New("unknown handler")

// Registry maps handler names to their definitions.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// DefaultRegistry returns a registry holding the built-in handlers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, d := range builtins() {
		if err := r.Register(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a handler definition. Names must be unique.
func (r *Registry) Register(d Definition) error {
	if d.Name == "" {
		return errors.New("handler name is required")
	}
	if d.Factory == nil {
		return fmt.Errorf("handler %q: factory is required", d.Name)
	}
	if len(d.Kinds) == 0 {
		return fmt.Errorf("handler %q: at least one event kind is required", d.Name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[d.Name]; exists {
		return fmt.Errorf("handler %q is already registered", d.Name)
	}
	r.defs[d.Name] = d
	return nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	return d, ok
}

// Build creates a handler instance from its registered name and options.
func (r *Registry) Build(name string, options *yaml.Node) (Handler, error) {
	d, ok := r.Lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, name)
	}
	h, err := d.Factory(options)
	if err != nil {
		return nil, fmt.Errorf("handler %q: invalid options: %w", name, err)
	}
	return h, nil
}

// Definitions returns all registered definitions sorted by name.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// decodeOptions decodes node into out, rejecting unknown keys. Fields of out
// keep their preset values when node is nil or empty.
func decodeOptions(node *yaml.Node, out any) error {
	if node == nil || node.Kind == 0 {
		return nil
	}
	if node.Kind == yaml.ScalarNode && node.Tag == "!!null" {
		return nil
	}
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("options must be a mapping (line %d)", node.Line)
	}
	raw, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	return dec.Decode(out)
}

func builtins() []Definition {
	entityEvents := []models.EventKind{models.EventKindCreation, models.EventKindModification}
	return []Definition{
		{
			Name:        AuthorizationGateName,
			Description: "Rejects entity changes by principals outside a required user group",
			Kinds:       entityEvents,
			Factory:     newAuthorizationGate,
		},
		{
			Name:        ExtensionValidationName,
			Description: "Rejects entities whose file extension is not in the allowed set",
			Kinds:       entityEvents,
			Factory:     newExtensionValidation,
		},
		{
			Name:        ExtensionClassificationName,
			Description: "Links entities with a matching file extension to a classification entity",
			Kinds:       entityEvents,
			Factory:     newExtensionClassification,
		},
		{
			Name:        MetadataAggregationName,
			Description: "Writes extracted metadata as two-row CSV text onto the processed asset",
			Kinds:       []models.EventKind{models.EventKindProcessing},
			Factory:     newMetadataAggregation,
		},
		{
			Name:        ClaimGroupSyncName,
			Description: "Replaces an externally authenticated user's groups with those named in their claims",
			Kinds:       []models.EventKind{models.EventKindSignIn},
			Factory:     newClaimGroupSync,
		},
	}
}
