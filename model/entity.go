// Package model defines the in-memory catalog object graph: entities,
// aspect definitions, aspects, hierarchies, and catalogs. It is pure data
// with invariants; all persistence lives in the storage package.
package model

import (
	"github.com/google/uuid"
)

// Entity is an identity-only object addressed by a 128-bit UUID. Entities
// carry no other intrinsic state and are shared by reference across all
// hierarchies of one catalog.
type Entity struct {
	id uuid.UUID
}

// NewEntity creates an entity with a fresh random UUID.
func NewEntity() *Entity {
	return &Entity{id: uuid.New()}
}

// EntityWithID creates an entity with a known UUID.
func EntityWithID(id uuid.UUID) *Entity {
	return &Entity{id: id}
}

// ID returns the entity's immutable identity.
func (e *Entity) ID() uuid.UUID {
	return e.id
}

// EntityRegistry deduplicates entity instances by UUID so that a reloaded
// graph shares one *Entity per identity, exactly like the graph that was
// saved. One registry is used per load operation.
type EntityRegistry struct {
	entities map[uuid.UUID]*Entity
}

// NewEntityRegistry creates an empty registry.
func NewEntityRegistry() *EntityRegistry {
	return &EntityRegistry{entities: make(map[uuid.UUID]*Entity)}
}

// Obtain returns the registered entity for id, creating and registering it
// on first use (register-or-create-by-UUID lookup).
func (r *EntityRegistry) Obtain(id uuid.UUID) *Entity {
	if e, ok := r.entities[id]; ok {
		return e
	}
	e := EntityWithID(id)
	r.entities[id] = e
	return e
}

// Register records an existing entity instance under its UUID.
func (r *EntityRegistry) Register(e *Entity) {
	r.entities[e.ID()] = e
}

// Len returns the number of registered entities.
func (r *EntityRegistry) Len() int {
	return len(r.entities)
}
