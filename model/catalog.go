package model

import (
	"sort"

	"github.com/google/uuid"

	"github.com/facet-io/facet/errors"
)

// Species classifies a catalog's role in replication.
type Species int

const (
	// SpeciesSink consumes content.
	SpeciesSink Species = iota
	// SpeciesSource produces content.
	SpeciesSource
	// SpeciesMirror replicates an upstream catalog.
	SpeciesMirror
)

var speciesTags = map[Species]string{
	SpeciesSink:   "sink",
	SpeciesSource: "source",
	SpeciesMirror: "mirror",
}

var speciesByTag = func() map[string]Species {
	m := make(map[string]Species, len(speciesTags))
	for s, tag := range speciesTags {
		m[tag] = s
	}
	return m
}()

func (s Species) String() string {
	if tag, ok := speciesTags[s]; ok {
		return tag
	}
	return "invalid"
}

// Tag returns the stable storage tag for s.
func (s Species) Tag() string { return speciesTags[s] }

// ParseSpecies resolves a storage tag back to its Species.
func ParseSpecies(tag string) (Species, error) {
	s, ok := speciesByTag[tag]
	if !ok {
		return 0, errors.NewValidationError("unknown catalog species tag %q", tag)
	}
	return s, nil
}

// Catalog is the root aggregate: an entity owning aspect definitions and
// named hierarchies, with species/upstream/version metadata. Hierarchy
// names are unique per catalog.
type Catalog struct {
	entity      *Entity
	species     Species
	uri         string
	upstream    *uuid.UUID
	version     int64
	aspectDefs  map[string]*AspectDef
	hierarchies map[string]Hierarchy
}

// NewCatalog creates a catalog with a fresh entity identity.
func NewCatalog(species Species) *Catalog {
	return NewCatalogWithID(uuid.New(), species)
}

// NewCatalogWithID creates a catalog with a known identity. The storage
// layer uses this when reloading.
func NewCatalogWithID(id uuid.UUID, species Species) *Catalog {
	return &Catalog{
		entity:      EntityWithID(id),
		species:     species,
		aspectDefs:  make(map[string]*AspectDef),
		hierarchies: make(map[string]Hierarchy),
	}
}

// ID returns the catalog's entity identity.
func (c *Catalog) ID() uuid.UUID { return c.entity.ID() }

// Entity returns the catalog's own entity. A catalog is itself an entity.
func (c *Catalog) Entity() *Entity { return c.entity }

// Species returns the catalog's species tag.
func (c *Catalog) Species() Species { return c.species }

// URI returns the catalog's optional URI.
func (c *Catalog) URI() string { return c.uri }

// SetURI sets the catalog's URI.
func (c *Catalog) SetURI(uri string) { c.uri = uri }

// Upstream returns the optional upstream catalog reference.
func (c *Catalog) Upstream() *uuid.UUID { return c.upstream }

// SetUpstream sets the upstream catalog reference.
func (c *Catalog) SetUpstream(id uuid.UUID) { c.upstream = &id }

// Version returns the advisory version counter. The engine persists it but
// never enforces it; callers use it to detect staleness themselves.
func (c *Catalog) Version() int64 { return c.version }

// SetVersion sets the advisory version counter.
func (c *Catalog) SetVersion(v int64) { c.version = v }

// BumpVersion increments the advisory version counter.
func (c *Catalog) BumpVersion() { c.version++ }

// Extend attaches an aspect definition to the catalog, auto-creating the
// definition's AspectMap hierarchy under the same name. Re-extending with
// the same definition returns the existing map.
func (c *Catalog) Extend(def *AspectDef) (*AspectMap, error) {
	if def == nil {
		return nil, errors.NewValidationError("aspect definition is nil")
	}
	if existing, ok := c.aspectDefs[def.Name()]; ok {
		if existing != def {
			return nil, errors.NewValidationError("catalog already extended with a different definition named %q", def.Name())
		}
		return c.hierarchies[def.Name()].(*AspectMap), nil
	}
	if _, taken := c.hierarchies[def.Name()]; taken {
		return nil, errors.NewValidationError("hierarchy name %q already in use", def.Name())
	}
	m := NewAspectMap(def)
	c.aspectDefs[def.Name()] = def
	c.hierarchies[def.Name()] = m
	return m, nil
}

// AspectDef returns the named attached definition, or nil.
func (c *Catalog) AspectDef(name string) *AspectDef {
	return c.aspectDefs[name]
}

// AspectDefs returns the attached definitions sorted by name.
func (c *Catalog) AspectDefs() []*AspectDef {
	names := make([]string, 0, len(c.aspectDefs))
	for n := range c.aspectDefs {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*AspectDef, len(names))
	for i, n := range names {
		out[i] = c.aspectDefs[n]
	}
	return out
}

// AddHierarchy attaches a hierarchy. Names are unique per catalog; aspect
// maps must be attached via Extend so their definition travels with them.
func (c *Catalog) AddHierarchy(h Hierarchy) error {
	if h == nil {
		return errors.NewValidationError("hierarchy is nil")
	}
	if h.Type() == HierarchyAspectMap {
		return errors.NewValidationError("aspect maps are attached via Extend")
	}
	if _, taken := c.hierarchies[h.Name()]; taken {
		return errors.NewValidationError("hierarchy name %q already in use", h.Name())
	}
	c.hierarchies[h.Name()] = h
	return nil
}

// Hierarchy returns the named hierarchy, or nil.
func (c *Catalog) Hierarchy(name string) Hierarchy {
	return c.hierarchies[name]
}

// Hierarchies returns the attached hierarchies sorted by name.
func (c *Catalog) Hierarchies() []Hierarchy {
	names := make([]string, 0, len(c.hierarchies))
	for n := range c.hierarchies {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]Hierarchy, len(names))
	for i, n := range names {
		out[i] = c.hierarchies[n]
	}
	return out
}
