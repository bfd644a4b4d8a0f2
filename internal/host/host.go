// Package host defines the collaborators a trigger handler reaches the host
// platform through, plus an in-memory implementation of them.
package host

import (
	"context"
	"errors"
	"fmt"

	"github.com/pbaity/hubscript/pkg/models"
)

var (
	// ErrNotFound is returned by lookups that found nothing.
	ErrNotFound = errors.New("not found")
	// ErrUnavailable marks transient host failures worth retrying.
	ErrUnavailable = errors.New("host unavailable")
)

// EntityStore loads, lazily extends and persists entities.
type EntityStore interface {
	// Get returns the entity with the members named in spec resident.
	Get(ctx context.Context, id int64, spec models.LoadSpec) (*models.Entity, error)
	// Load makes the members named in spec resident on e. Members already
	// resident are left as they are.
	Load(ctx context.Context, e *models.Entity, spec models.LoadSpec) error
	// Save persists e's resident members.
	Save(ctx context.Context, e *models.Entity) error
}

// GroupResolver looks up user groups.
type GroupResolver interface {
	GroupByName(ctx context.Context, name string) (*models.Group, error)
	// GroupIDs resolves names to ids. Names that do not resolve are absent
	// from the result; that is not an error.
	GroupIDs(ctx context.Context, names []string) (map[string]int64, error)
}

// Querier runs identifier lookups.
type Querier interface {
	// SingleIDByIdentifier returns the id of the one entity carrying identifier.
	SingleIDByIdentifier(ctx context.Context, identifier string) (int64, error)
}

// Host bundles the collaborators handed to every handler invocation.
type Host struct {
	Entities EntityStore
	Groups   GroupResolver
	Query    Querier
}

// Ensure returns e with the members in spec resident, loading through the
// store only when something is missing.
func (h Host) Ensure(ctx context.Context, e *models.Entity, spec models.LoadSpec) error {
	if e == nil {
		return errors.New("ensure members: nil entity")
	}
	if e.HasMembers(spec) {
		return nil
	}
	if err := h.Entities.Load(ctx, e, spec); err != nil {
		return fmt.Errorf("load members of entity %d: %w", e.ID, err)
	}
	return nil
}
