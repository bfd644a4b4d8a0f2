package host

import (
	"fmt"
	"os"

	"github.com/pbaity/hubscript/internal/logger"
	"github.com/pbaity/hubscript/pkg/models"
	"gopkg.in/yaml.v3"
)

// Fixture is the on-disk seed of an in-memory host.
type Fixture struct {
	Groups   []models.Group   `yaml:"groups"`
	Entities []*models.Entity `yaml:"entities"`
}

// LoadFixture reads a YAML fixture file and returns a host seeded with it.
// An empty path yields an empty host.
func LoadFixture(path string) (*MemoryHost, error) {
	h := NewMemoryHost()
	if path == "" {
		return h, nil
	}

	l := logger.L().With("fixture_path", path)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read fixture file %s: %w", path, err)
	}

	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse fixture YAML from %s: %w", path, err)
	}
	if err := h.Seed(f); err != nil {
		return nil, fmt.Errorf("invalid fixture %s: %w", path, err)
	}
	l.Info("Host fixture loaded", "groups", len(f.Groups), "entities", len(f.Entities))
	return h, nil
}

// Seed adds the fixture's groups and entities to the host.
func (m *MemoryHost) Seed(f Fixture) error {
	seenGroups := make(map[string]bool)
	for i, g := range f.Groups {
		if g.Name == "" {
			return fmt.Errorf("groups[%d]: name is required", i)
		}
		if seenGroups[g.Name] {
			return fmt.Errorf("groups[%d]: duplicate group name %q", i, g.Name)
		}
		seenGroups[g.Name] = true
		m.PutGroup(g)
	}

	seenEntities := make(map[int64]bool)
	for i, e := range f.Entities {
		if e == nil || e.ID == 0 {
			return fmt.Errorf("entities[%d]: id is required", i)
		}
		if seenEntities[e.ID] {
			return fmt.Errorf("entities[%d]: duplicate entity id %d", i, e.ID)
		}
		seenEntities[e.ID] = true
		for name, r := range e.Relations {
			if r == nil {
				return fmt.Errorf("entities[%d].relations.%s: empty relation", i, name)
			}
			switch r.Cardinality {
			case models.ToOneParent, models.ToManyParents:
			case "":
				if r.Parent != nil {
					r.Cardinality = models.ToOneParent
				} else {
					r.Cardinality = models.ToManyParents
				}
			default:
				return fmt.Errorf("entities[%d].relations.%s: invalid cardinality %q", i, name, r.Cardinality)
			}
		}
		m.PutEntity(e)
	}
	return nil
}
