package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/pbaity/hubscript/pkg/models"
)

// Operation names accepted by MemoryHost.SetFailure.
const (
	OpGet    = "get"
	OpLoad   = "load"
	OpSave   = "save"
	OpGroups = "groups"
	OpQuery  = "query"
)

// MemoryHost is an in-memory host. It backs local evaluation and tests and
// implements EntityStore, GroupResolver and Querier.
type MemoryHost struct {
	mu       sync.RWMutex
	entities map[int64]*models.Entity
	groups   map[string]models.Group
	failures map[string]error
	saves    map[int64]int
}

// NewMemoryHost creates an empty in-memory host.
func NewMemoryHost() *MemoryHost {
	return &MemoryHost{
		entities: make(map[int64]*models.Entity),
		groups:   make(map[string]models.Group),
		failures: make(map[string]error),
		saves:    make(map[int64]int),
	}
}

// Host returns the collaborator bundle backed by m.
func (m *MemoryHost) Host() Host {
	return Host{Entities: m, Groups: m, Query: m}
}

// PutEntity stores a copy of e, replacing any entity with the same id.
func (m *MemoryHost) PutEntity(e *models.Entity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entities[e.ID] = e.Clone()
}

// PutGroup registers a user group.
func (m *MemoryHost) PutGroup(g models.Group) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groups[g.Name] = g
}

// Entity returns a copy of the stored entity.
func (m *MemoryHost) Entity(id int64) (*models.Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	return e.Clone(), ok
}

// SaveCount returns how many times entity id has been saved.
func (m *MemoryHost) SaveCount(id int64) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[id]
}

// SetFailure makes every call of op return err until cleared with a nil err.
func (m *MemoryHost) SetFailure(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

func (m *MemoryHost) failure(op string) error {
	return m.failures[op]
}

// Get implements EntityStore.
func (m *MemoryHost) Get(ctx context.Context, id int64, spec models.LoadSpec) (*models.Entity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure(OpGet); err != nil {
		return nil, err
	}
	stored, ok := m.entities[id]
	if !ok {
		return nil, fmt.Errorf("entity %d: %w", id, ErrNotFound)
	}
	e := &models.Entity{ID: stored.ID, Definition: stored.Definition, Identifier: stored.Identifier}
	copyMembers(e, stored, spec)
	return e, nil
}

// Load implements EntityStore.
func (m *MemoryHost) Load(ctx context.Context, e *models.Entity, spec models.LoadSpec) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure(OpLoad); err != nil {
		return err
	}
	stored, ok := m.entities[e.ID]
	if !ok {
		return fmt.Errorf("entity %d: %w", e.ID, ErrNotFound)
	}
	copyMembers(e, stored, spec)
	return nil
}

// copyMembers makes the members in spec resident on dst without overwriting
// members dst already holds. Properties the schema lacks load as nil;
// relations the schema lacks stay absent.
func copyMembers(dst, src *models.Entity, spec models.LoadSpec) {
	for _, name := range spec.Properties {
		if _, ok := dst.Property(name); ok {
			continue
		}
		v, _ := src.Property(name)
		dst.SetProperty(name, v)
	}
	for _, name := range spec.Relations {
		if dst.Relation(name) != nil {
			continue
		}
		r := src.Relation(name)
		if r == nil {
			continue
		}
		if dst.Relations == nil {
			dst.Relations = make(map[string]*models.Relation)
		}
		dst.Relations[name] = r.Clone()
	}
}

// Save implements EntityStore. Resident members of e overwrite the stored ones.
func (m *MemoryHost) Save(ctx context.Context, e *models.Entity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpSave); err != nil {
		return err
	}
	stored, ok := m.entities[e.ID]
	if !ok {
		return fmt.Errorf("save entity %d: %w", e.ID, ErrNotFound)
	}
	next := stored.Clone()
	for k, v := range e.Properties {
		next.SetProperty(k, v)
	}
	for k, r := range e.Relations {
		if next.Relations == nil {
			next.Relations = make(map[string]*models.Relation)
		}
		next.Relations[k] = r.Clone()
	}
	m.entities[e.ID] = next
	m.saves[e.ID]++
	return nil
}

// GroupByName implements GroupResolver.
func (m *MemoryHost) GroupByName(ctx context.Context, name string) (*models.Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure(OpGroups); err != nil {
		return nil, err
	}
	g, ok := m.groups[name]
	if !ok {
		return nil, fmt.Errorf("user group %q: %w", name, ErrNotFound)
	}
	return &g, nil
}

// GroupIDs implements GroupResolver.
func (m *MemoryHost) GroupIDs(ctx context.Context, names []string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure(OpGroups); err != nil {
		return nil, err
	}
	ids := make(map[string]int64, len(names))
	for _, n := range names {
		if g, ok := m.groups[n]; ok {
			ids[n] = g.ID
		}
	}
	return ids, nil
}

// SingleIDByIdentifier implements Querier.
func (m *MemoryHost) SingleIDByIdentifier(ctx context.Context, identifier string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.failure(OpQuery); err != nil {
		return 0, err
	}
	var (
		found int64
		count int
	)
	for id, e := range m.entities {
		if e.Identifier == identifier {
			found = id
			count++
		}
	}
	switch count {
	case 0:
		return 0, fmt.Errorf("identifier %q: %w", identifier, ErrNotFound)
	case 1:
		return found, nil
	default:
		return 0, fmt.Errorf("identifier %q matches %d entities", identifier, count)
	}
}

// Apply applies pending mutations as one unit: either all of them land or
// none do.
func (m *MemoryHost) Apply(ctx context.Context, mutations []models.Mutation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failure(OpSave); err != nil {
		return err
	}

	staged := make(map[int64]*models.Entity)
	for i, mut := range mutations {
		e, ok := staged[mut.EntityID]
		if !ok {
			stored, exists := m.entities[mut.EntityID]
			if !exists {
				return fmt.Errorf("mutation %d: entity %d: %w", i, mut.EntityID, ErrNotFound)
			}
			e = stored.Clone()
			staged[mut.EntityID] = e
		}
		switch mut.Kind {
		case models.MutationSetProperty:
			e.SetProperty(mut.Member, mut.Value)
		case models.MutationSetParent, models.MutationSetParents:
			r := e.Relation(mut.Member)
			if r == nil {
				return fmt.Errorf("mutation %d: entity %d has no relation %q", i, mut.EntityID, mut.Member)
			}
			if mut.Kind == models.MutationSetParent {
				r.SetParent(mut.Parent)
			} else {
				r.SetIDs(mut.Parents)
			}
		default:
			return fmt.Errorf("mutation %d: unknown kind %q", i, mut.Kind)
		}
	}
	for id, e := range staged {
		m.entities[id] = e
		m.saves[id]++
	}
	return nil
}
