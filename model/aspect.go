package model

import (
	"github.com/facet-io/facet/errors"
)

// PropertyDef declares one property within an AspectDef: its name (unique
// within the def), value type, cardinality, and access flags.
type PropertyDef struct {
	Name        string
	Type        PropertyType
	Multivalued bool
	Nullable    bool
	// DefaultValue is applied by AspectDef.NewAspect when no value is set.
	// Only scalar defaults are supported.
	DefaultValue interface{}
	Readable     bool
	Writable     bool
	Removable    bool
}

// NewPropertyDef creates a scalar, nullable, fully accessible property
// definition. Callers adjust the flags after construction.
func NewPropertyDef(name string, t PropertyType) *PropertyDef {
	return &PropertyDef{
		Name:      name,
		Type:      t,
		Nullable:  true,
		Readable:  true,
		Writable:  true,
		Removable: true,
	}
}

// Validate checks the definition's internal consistency.
func (d *PropertyDef) Validate() error {
	if d.Name == "" {
		return errors.NewValidationError("property definition has no name")
	}
	if !d.Type.Valid() {
		return errors.NewValidationError("property %q: invalid type %d", d.Name, int(d.Type))
	}
	if d.DefaultValue != nil {
		if d.Multivalued {
			return errors.NewValidationError("property %q: multivalued properties cannot declare a default", d.Name)
		}
		if err := d.Type.ValidateValue(d.DefaultValue); err != nil {
			return errors.Wrapf(err, "property %q: default value", d.Name)
		}
	}
	return nil
}

// AspectDef is the schema for an aspect: a named, ordered set of property
// definitions, with flags controlling post-creation mutation.
type AspectDef struct {
	name        string
	immutable   bool
	allowAdd    bool
	allowRemove bool
	defs        []*PropertyDef
	byName      map[string]*PropertyDef
}

// NewAspectDef creates a mutable aspect definition allowing properties to be
// added and removed after creation.
func NewAspectDef(name string) *AspectDef {
	return &AspectDef{
		name:        name,
		allowAdd:    true,
		allowRemove: true,
		byName:      make(map[string]*PropertyDef),
	}
}

// NewImmutableAspectDef creates a definition whose property set is frozen
// once built: properties may be added during construction but the flags
// forbid later addition or removal by aspect holders.
func NewImmutableAspectDef(name string) *AspectDef {
	return &AspectDef{
		name:      name,
		immutable: true,
		byName:    make(map[string]*PropertyDef),
	}
}

// RestoreAspectDef rebuilds a definition with explicit flags. Used by the
// storage layer when reloading persisted definitions.
func RestoreAspectDef(name string, immutable, allowAdd, allowRemove bool) *AspectDef {
	return &AspectDef{
		name:        name,
		immutable:   immutable,
		allowAdd:    allowAdd,
		allowRemove: allowRemove,
		byName:      make(map[string]*PropertyDef),
	}
}

// Name returns the definition's name, unique within a catalog.
func (d *AspectDef) Name() string { return d.name }

// Immutable reports whether aspect instances of this def are frozen.
func (d *AspectDef) Immutable() bool { return d.immutable }

// AllowsAdd reports whether properties may be added post-creation.
func (d *AspectDef) AllowsAdd() bool { return d.allowAdd }

// AllowsRemove reports whether properties may be removed post-creation.
func (d *AspectDef) AllowsRemove() bool { return d.allowRemove }

// AddProperty appends a property definition. Names are unique within the
// def; order of addition is the persisted order.
func (d *AspectDef) AddProperty(p *PropertyDef) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if _, exists := d.byName[p.Name]; exists {
		return errors.NewValidationError("aspect definition %q already has property %q", d.name, p.Name)
	}
	d.defs = append(d.defs, p)
	d.byName[p.Name] = p
	return nil
}

// Property returns the named property definition, or nil.
func (d *AspectDef) Property(name string) *PropertyDef {
	return d.byName[name]
}

// Properties returns the property definitions in declaration order.
func (d *AspectDef) Properties() []*PropertyDef {
	out := make([]*PropertyDef, len(d.defs))
	copy(out, d.defs)
	return out
}

// NewAspect instantiates the definition for one entity, applying declared
// default values.
func (d *AspectDef) NewAspect(e *Entity) *Aspect {
	a := d.EmptyAspect(e)
	for _, p := range d.defs {
		if p.DefaultValue != nil {
			// Default values are validated at AddProperty time.
			a.props[p.Name] = &Property{Def: p, value: p.DefaultValue}
		}
	}
	return a
}

// EmptyAspect instantiates the definition without applying defaults. The
// storage layer uses this to reconstruct exactly what was persisted.
func (d *AspectDef) EmptyAspect(e *Entity) *Aspect {
	return &Aspect{
		def:    d,
		entity: e,
		props:  make(map[string]*Property),
	}
}

// Property binds a PropertyDef to a concrete value (or ordered sequence,
// if multivalued) within one aspect instance.
type Property struct {
	Def    *PropertyDef
	value  interface{}
	values []interface{}
}

// Value returns the scalar value; nil when declared null.
func (p *Property) Value() interface{} {
	return p.value
}

// Values returns the ordered sequence for a multivalued property. A
// property saved as null and one saved as an empty sequence are
// indistinguishable: both return an empty, non-nil slice.
func (p *Property) Values() []interface{} {
	if p.values == nil {
		return []interface{}{}
	}
	return p.values
}

// IsNull reports whether a scalar property holds a declared null.
func (p *Property) IsNull() bool {
	return !p.Def.Multivalued && p.value == nil
}

// Aspect is one entity's instance of an AspectDef: properties keyed by name.
type Aspect struct {
	def    *AspectDef
	entity *Entity
	props  map[string]*Property
}

// Def returns the aspect's definition.
func (a *Aspect) Def() *AspectDef { return a.def }

// Entity returns the entity this aspect belongs to.
func (a *Aspect) Entity() *Entity { return a.entity }

// Set assigns a scalar value to the named property. The value's dynamic
// type must match the declared PropertyType; nil requires the property to
// be nullable.
func (a *Aspect) Set(name string, v interface{}) error {
	def := a.def.Property(name)
	if def == nil {
		return errors.NewValidationError("aspect %q has no property %q", a.def.Name(), name)
	}
	if def.Multivalued {
		return errors.NewValidationError("property %q is multivalued, use SetList", name)
	}
	if v == nil && !def.Nullable {
		return errors.NewValidationError("property %q is not nullable", name)
	}
	if err := def.Type.ValidateValue(v); err != nil {
		return err
	}
	a.props[name] = &Property{Def: def, value: v}
	return nil
}

// SetList assigns an ordered sequence to the named multivalued property.
// nil and an empty slice persist identically (zero rows) and reload as an
// empty sequence.
func (a *Aspect) SetList(name string, vs []interface{}) error {
	def := a.def.Property(name)
	if def == nil {
		return errors.NewValidationError("aspect %q has no property %q", a.def.Name(), name)
	}
	if !def.Multivalued {
		return errors.NewValidationError("property %q is scalar, use Set", name)
	}
	for i, v := range vs {
		if err := def.Type.ValidateValue(v); err != nil {
			return errors.Wrapf(err, "element %d", i)
		}
	}
	a.props[name] = &Property{Def: def, values: vs}
	return nil
}

// Property returns the named property instance, or nil if unset.
func (a *Aspect) Property(name string) *Property {
	return a.props[name]
}

// Properties returns the set properties in the def's declaration order.
func (a *Aspect) Properties() []*Property {
	var out []*Property
	for _, d := range a.def.defs {
		if p, ok := a.props[d.Name]; ok {
			out = append(out, p)
		}
	}
	return out
}
