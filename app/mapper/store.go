package mapper

import (
	"context"
	"strconv"
)

// Kind names an entity kind known to a Store (e.g. "item").
type Kind string

type FieldType uint8

const (
	Scalar FieldType = iota
	// ForeignKey is written with the scalar fields; the value is an *Entity
	// or nil.
	ForeignKey
	// ManyToMany is resolved after the owner is persisted, through a
	// Relation handle.
	ManyToMany
)

func (t FieldType) String() string {
	switch t {
	case ForeignKey:
		return "foreign_key"
	case ManyToMany:
		return "many_to_many"
	default:
		return "scalar"
	}
}

// Field describes one field of an entity kind.
type Field struct {
	Name       string
	Type       FieldType
	Null       bool
	Blank      bool
	HasDefault bool
	Unique     bool
	// Auto marks store-generated identity fields. Mappers never write them.
	Auto bool
}

func (f Field) IsRelation() bool {
	return f.Type == ManyToMany
}

// Entity is a persisted record of some kind.
type Entity struct {
	Kind   Kind
	ID     int64
	Fields map[string]any
}

// Get returns a field value, nil when unset.
func (e *Entity) Get(name string) any {
	if e == nil || e.Fields == nil {
		return nil
	}
	return e.Fields[name]
}

func (e *Entity) String() string {
	if e == nil {
		return "<nil>"
	}
	return string(e.Kind) + "#" + strconv.FormatInt(e.ID, 10)
}

// Relation is a handle on the many-to-many set of one owner entity.
type Relation interface {
	Clear(ctx context.Context) error
	Add(ctx context.Context, entities ...*Entity) error
	All(ctx context.Context) ([]*Entity, error)
}

// Store is the persistence contract the mappers are written against.
type Store interface {
	// Fields returns the ordered field descriptors of kind.
	Fields(kind Kind) ([]Field, error)
	// GetOrCreate returns the entity matching every unique field, creating it
	// from unique+defaults when none exists. The bool reports creation.
	GetOrCreate(ctx context.Context, kind Kind, unique, defaults map[string]any) (*Entity, bool, error)
	Create(ctx context.Context, kind Kind, fields map[string]any) (*Entity, error)
	Save(ctx context.Context, entity *Entity) error
	Get(ctx context.Context, kind Kind, id int64) (*Entity, error)
	Filter(ctx context.Context, kind Kind, where map[string]any) ([]*Entity, error)
	Relation(ctx context.Context, entity *Entity, field string) (Relation, error)
}
