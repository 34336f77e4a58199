package model

import (
	"sort"

	"github.com/google/uuid"

	"github.com/facet-io/facet/errors"
)

// HierarchyType is the closed set of hierarchy encodings.
type HierarchyType int

const (
	// HierarchyList is an ordered entity sequence, duplicates allowed.
	HierarchyList HierarchyType = iota
	// HierarchySet is an unordered unique entity collection.
	HierarchySet
	// HierarchyDirectory maps unique string keys to entities.
	HierarchyDirectory
	// HierarchyTree is a rooted tree of named edges, nodes optionally
	// holding an entity.
	HierarchyTree
	// HierarchyAspectMap maps entities to aspects sharing one AspectDef.
	HierarchyAspectMap
)

var hierarchyTypeTags = map[HierarchyType]string{
	HierarchyList:      "entity-list",
	HierarchySet:       "entity-set",
	HierarchyDirectory: "entity-directory",
	HierarchyTree:      "entity-tree",
	HierarchyAspectMap: "aspect-map",
}

var hierarchyTypesByTag = func() map[string]HierarchyType {
	m := make(map[string]HierarchyType, len(hierarchyTypeTags))
	for t, tag := range hierarchyTypeTags {
		m[tag] = t
	}
	return m
}()

// Tag returns the stable storage tag for t.
func (t HierarchyType) Tag() string { return hierarchyTypeTags[t] }

func (t HierarchyType) String() string {
	if tag, ok := hierarchyTypeTags[t]; ok {
		return tag
	}
	return "invalid"
}

// ParseHierarchyType resolves a storage tag back to its HierarchyType.
func ParseHierarchyType(tag string) (HierarchyType, error) {
	t, ok := hierarchyTypesByTag[tag]
	if !ok {
		return 0, errors.NewValidationError("unknown hierarchy type tag %q", tag)
	}
	return t, nil
}

// Hierarchy is a named, typed entity collection scoped to one catalog.
type Hierarchy interface {
	Name() string
	Type() HierarchyType
	// Version is an advisory counter persisted alongside content. The
	// engine never compares it; callers use it to detect staleness.
	Version() int64
	SetVersion(v int64)
}

type hierarchyBase struct {
	name    string
	version int64
}

func (h *hierarchyBase) Name() string       { return h.name }
func (h *hierarchyBase) Version() int64     { return h.version }
func (h *hierarchyBase) SetVersion(v int64) { h.version = v }

// EntityList is an ordered sequence of entities; duplicates are allowed and
// order is semantically meaningful.
type EntityList struct {
	hierarchyBase
	entries []*Entity
}

// NewEntityList creates an empty named list.
func NewEntityList(name string) *EntityList {
	return &EntityList{hierarchyBase: hierarchyBase{name: name}}
}

func (l *EntityList) Type() HierarchyType { return HierarchyList }

// Append adds an entity at the end of the list.
func (l *EntityList) Append(e *Entity) { l.entries = append(l.entries, e) }

// At returns the entity at index i.
func (l *EntityList) At(i int) *Entity { return l.entries[i] }

// Len returns the number of entries.
func (l *EntityList) Len() int { return len(l.entries) }

// Entities returns the entries in order.
func (l *EntityList) Entities() []*Entity {
	out := make([]*Entity, len(l.entries))
	copy(out, l.entries)
	return out
}

// Clear removes all entries.
func (l *EntityList) Clear() { l.entries = nil }

// EntitySet is an unordered unique entity collection. Insertion order is
// retained only so iteration is deterministic.
type EntitySet struct {
	hierarchyBase
	entries []*Entity
	index   map[uuid.UUID]struct{}
}

// NewEntitySet creates an empty named set.
func NewEntitySet(name string) *EntitySet {
	return &EntitySet{
		hierarchyBase: hierarchyBase{name: name},
		index:         make(map[uuid.UUID]struct{}),
	}
}

func (s *EntitySet) Type() HierarchyType { return HierarchySet }

// Add inserts an entity, reporting whether it was newly added.
func (s *EntitySet) Add(e *Entity) bool {
	if _, ok := s.index[e.ID()]; ok {
		return false
	}
	s.index[e.ID()] = struct{}{}
	s.entries = append(s.entries, e)
	return true
}

// Contains reports membership by entity identity.
func (s *EntitySet) Contains(e *Entity) bool {
	_, ok := s.index[e.ID()]
	return ok
}

// Len returns the number of members.
func (s *EntitySet) Len() int { return len(s.entries) }

// Entities returns the members in insertion order.
func (s *EntitySet) Entities() []*Entity {
	out := make([]*Entity, len(s.entries))
	copy(out, s.entries)
	return out
}

// Clear removes all members.
func (s *EntitySet) Clear() {
	s.entries = nil
	s.index = make(map[uuid.UUID]struct{})
}

// EntityDirectory maps unique string keys to entities.
type EntityDirectory struct {
	hierarchyBase
	entries map[string]*Entity
}

// NewEntityDirectory creates an empty named directory.
func NewEntityDirectory(name string) *EntityDirectory {
	return &EntityDirectory{
		hierarchyBase: hierarchyBase{name: name},
		entries:       make(map[string]*Entity),
	}
}

func (d *EntityDirectory) Type() HierarchyType { return HierarchyDirectory }

// Put binds key to e, replacing any previous binding.
func (d *EntityDirectory) Put(key string, e *Entity) { d.entries[key] = e }

// Get returns the entity bound to key.
func (d *EntityDirectory) Get(key string) (*Entity, bool) {
	e, ok := d.entries[key]
	return e, ok
}

// Keys returns the bound keys in sorted order.
func (d *EntityDirectory) Keys() []string {
	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of bindings.
func (d *EntityDirectory) Len() int { return len(d.entries) }

// Clear removes all bindings.
func (d *EntityDirectory) Clear() { d.entries = make(map[string]*Entity) }

// AspectMap maps entities to aspects that all share one AspectDef. A
// catalog auto-creates one per extended AspectDef, sharing its name.
type AspectMap struct {
	hierarchyBase
	def     *AspectDef
	entries map[uuid.UUID]*Aspect
	order   []uuid.UUID
}

// NewAspectMap creates an empty aspect map named after its definition.
func NewAspectMap(def *AspectDef) *AspectMap {
	return &AspectMap{
		hierarchyBase: hierarchyBase{name: def.Name()},
		def:           def,
		entries:       make(map[uuid.UUID]*Aspect),
	}
}

func (m *AspectMap) Type() HierarchyType { return HierarchyAspectMap }

// Def returns the shared aspect definition.
func (m *AspectMap) Def() *AspectDef { return m.def }

// Put stores an aspect under its entity's identity. The aspect must be an
// instance of the map's definition.
func (m *AspectMap) Put(a *Aspect) error {
	if a.Def() != m.def && a.Def().Name() != m.def.Name() {
		return errors.NewValidationError("aspect map %q cannot hold aspect of definition %q", m.name, a.Def().Name())
	}
	id := a.Entity().ID()
	if _, exists := m.entries[id]; !exists {
		m.order = append(m.order, id)
	}
	m.entries[id] = a
	return nil
}

// Get returns the aspect for an entity identity.
func (m *AspectMap) Get(id uuid.UUID) (*Aspect, bool) {
	a, ok := m.entries[id]
	return a, ok
}

// Aspects returns the stored aspects in insertion order.
func (m *AspectMap) Aspects() []*Aspect {
	out := make([]*Aspect, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id])
	}
	return out
}

// Len returns the number of entries.
func (m *AspectMap) Len() int { return len(m.entries) }

// Clear removes all entries.
func (m *AspectMap) Clear() {
	m.entries = make(map[uuid.UUID]*Aspect)
	m.order = nil
}
