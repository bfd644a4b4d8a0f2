package models

import (
	"fmt"
	"slices"
)

// Well-known relation and property names used by the default handler options.
const (
	RelationUserGroupToUser  = "UserGroupToUser"
	RelationAssetTypeToAsset = "AssetTypeToAsset"
	RelationMasterFile       = "MasterFile"
	PropertyFileName         = "FileName"
	PropertyMetadata         = "Metadata"
)

// Entity is a host-managed record. Only the members present in Properties and
// Relations are resident; anything else must be loaded through the entity store.
type Entity struct {
	ID         int64                `json:"id" yaml:"id"`
	Definition string               `json:"definition,omitempty" yaml:"definition,omitempty"`
	Identifier string               `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	Properties map[string]any       `json:"properties,omitempty" yaml:"properties,omitempty"`
	Relations  map[string]*Relation `json:"relations,omitempty" yaml:"relations,omitempty"`
}

// Property returns a resident property value.
func (e *Entity) Property(name string) (any, bool) {
	if e == nil || e.Properties == nil {
		return nil, false
	}
	v, ok := e.Properties[name]
	return v, ok
}

// PropertyString returns a resident property as a string. Missing and nil
// values yield "".
func (e *Entity) PropertyString(name string) string {
	v, ok := e.Property(name)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// SetProperty sets a property value, making it resident.
func (e *Entity) SetProperty(name string, value any) {
	if e.Properties == nil {
		e.Properties = make(map[string]any)
	}
	e.Properties[name] = value
}

// Relation returns a resident relation, or nil.
func (e *Entity) Relation(name string) *Relation {
	if e == nil || e.Relations == nil {
		return nil
	}
	return e.Relations[name]
}

// HasMembers reports whether every member named in spec is already resident.
func (e *Entity) HasMembers(spec LoadSpec) bool {
	for _, p := range spec.Properties {
		if _, ok := e.Property(p); !ok {
			return false
		}
	}
	for _, r := range spec.Relations {
		if e.Relation(r) == nil {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	c := &Entity{ID: e.ID, Definition: e.Definition, Identifier: e.Identifier}
	if e.Properties != nil {
		c.Properties = make(map[string]any, len(e.Properties))
		for k, v := range e.Properties {
			c.Properties[k] = v
		}
	}
	if e.Relations != nil {
		c.Relations = make(map[string]*Relation, len(e.Relations))
		for k, r := range e.Relations {
			c.Relations[k] = r.Clone()
		}
	}
	return c
}

// Cardinality distinguishes single-parent from multi-parent relations.
type Cardinality string

const (
	ToOneParent   Cardinality = "to_one"
	ToManyParents Cardinality = "to_many"
)

// Relation is a typed link from a child entity to its parent(s).
type Relation struct {
	Cardinality Cardinality `json:"cardinality" yaml:"cardinality"`
	Parent      *int64      `json:"parent,omitempty" yaml:"parent,omitempty"`
	Parents     []int64     `json:"parents,omitempty" yaml:"parents,omitempty"`
}

// NewToOne returns a single-parent relation, optionally already linked.
func NewToOne(parent *int64) *Relation {
	return &Relation{Cardinality: ToOneParent, Parent: parent}
}

// NewToMany returns a multi-parent relation holding ids.
func NewToMany(ids ...int64) *Relation {
	return &Relation{Cardinality: ToManyParents, Parents: ids}
}

// SetParent replaces the parent of a single-parent relation.
func (r *Relation) SetParent(id int64) {
	r.Parent = &id
}

// SetIDs replaces the whole parent set. Previous parents are dropped.
func (r *Relation) SetIDs(ids []int64) {
	r.Parents = slices.Clone(ids)
	if r.Parents == nil {
		r.Parents = []int64{}
	}
}

// Contains reports whether id is a parent of this relation, whatever its cardinality.
func (r *Relation) Contains(id int64) bool {
	if r == nil {
		return false
	}
	if r.Parent != nil && *r.Parent == id {
		return true
	}
	return slices.Contains(r.Parents, id)
}

// Empty reports whether the relation has no parents.
func (r *Relation) Empty() bool {
	return r == nil || (r.Parent == nil && len(r.Parents) == 0)
}

// Clone returns a deep copy of the relation.
func (r *Relation) Clone() *Relation {
	if r == nil {
		return nil
	}
	c := &Relation{Cardinality: r.Cardinality, Parents: slices.Clone(r.Parents)}
	if r.Parent != nil {
		p := *r.Parent
		c.Parent = &p
	}
	return c
}

// LoadSpec names the members a handler needs resident on an entity.
type LoadSpec struct {
	Properties []string
	Relations  []string
}

// Group is a user group known to the host.
type Group struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}
