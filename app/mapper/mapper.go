package mapper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
)

// Transform replaces the default resolution of one field.
type Transform func(ctx context.Context, rec Record, field Field) (Value, error)

type Options struct {
	// Exclude lists fields the mapper never writes.
	Exclude []string
	// Unique lists the fields used as the get-or-create key.
	Unique []string
	// Transforms maps field names to their transform hooks.
	Transforms map[string]Transform
}

// Mapper converts records into entities of one kind.
type Mapper struct {
	store      Store
	kind       Kind
	fields     []Field
	unique     map[string]bool
	transforms map[string]Transform
}

func New(store Store, kind Kind, opts Options) (*Mapper, error) {
	all, err := store.Fields(kind)
	if err != nil {
		return nil, fmt.Errorf("failed to load fields of %s: %w", kind, err)
	}

	fields := make([]Field, 0, len(all))
	for _, f := range all {
		if f.Auto || slices.Contains(opts.Exclude, f.Name) {
			continue
		}
		fields = append(fields, f)
	}

	m := &Mapper{
		store:      store,
		kind:       kind,
		fields:     fields,
		unique:     make(map[string]bool, len(opts.Unique)),
		transforms: make(map[string]Transform, len(opts.Transforms)),
	}

	for _, name := range opts.Unique {
		if _, ok := m.Field(name); !ok {
			return nil, &ConfigurationError{Kind: kind, Field: name, Reason: "unknown field in the list of unique fields"}
		}
		m.unique[name] = true
	}

	for name, transform := range opts.Transforms {
		if _, ok := m.Field(name); !ok {
			return nil, &ConfigurationError{Kind: kind, Field: name, Reason: "transform registered for unknown field"}
		}
		if transform == nil {
			return nil, &ConfigurationError{Kind: kind, Field: name, Reason: "nil transform"}
		}
		m.transforms[name] = transform
	}

	return m, nil
}

// Fields returns the mapped fields in descriptor order.
func (m *Mapper) Fields() []Field {
	return slices.Clone(m.fields)
}

func (m *Mapper) Field(name string) (Field, bool) {
	for _, f := range m.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// HasTransform reports whether field is resolved through a registered hook.
func (m *Mapper) HasTransform(field string) bool {
	_, ok := m.transforms[field]
	return ok
}

// ProcessEntry maps one record into a persisted entity.
func (m *Mapper) ProcessEntry(ctx context.Context, rec Record) (*Entity, error) {
	scalars := make(map[string]any)
	unique := make(map[string]any)
	relations := make(map[string][]*Entity)
	var relationOrder []string

	for _, field := range m.fields {
		value, err := m.resolve(ctx, rec, field)
		if err != nil {
			return nil, err
		}

		if value.IsOmit() {
			continue
		}

		switch {
		case field.IsRelation():
			related, err := asEntities(field, value)
			if err != nil {
				return nil, fmt.Errorf("field '%s': %w", field.Name, err)
			}
			relations[field.Name] = related
			relationOrder = append(relationOrder, field.Name)
		case m.unique[field.Name] && !value.IsNull():
			unique[field.Name] = value.Get()
		default:
			scalars[field.Name] = value.Get()
		}
	}

	var (
		entity *Entity
		err    error
	)
	if len(unique) > 0 {
		var created bool
		entity, created, err = m.store.GetOrCreate(ctx, m.kind, unique, scalars)
		if err != nil {
			return nil, fmt.Errorf("failed to get or create %s: %w", m.kind, err)
		}
		if !created {
			slog.Debug("Matched existing entity", "kind", m.kind, "id", entity.ID)
		}
	} else {
		entity, err = m.store.Create(ctx, m.kind, scalars)
		if err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", m.kind, err)
		}
	}

	for _, name := range relationOrder {
		relation, err := m.store.Relation(ctx, entity, name)
		if err != nil {
			return nil, fmt.Errorf("failed to open relation '%s': %w", name, err)
		}
		if err := relation.Clear(ctx); err != nil {
			return nil, fmt.Errorf("failed to clear relation '%s': %w", name, err)
		}
		if related := relations[name]; len(related) > 0 {
			if err := relation.Add(ctx, related...); err != nil {
				return nil, fmt.Errorf("failed to add to relation '%s': %w", name, err)
			}
		}
	}

	return entity, nil
}

// Process maps records in order. The first failure aborts the batch.
func (m *Mapper) Process(ctx context.Context, records []Record) ([]*Entity, error) {
	result := make([]*Entity, 0, len(records))
	for i, rec := range records {
		slog.Debug("Processing entry", "kind", m.kind, "index", i)

		entity, err := m.ProcessEntry(ctx, rec)
		if err != nil {
			return result, fmt.Errorf("entry %d: %w", i, err)
		}
		result = append(result, entity)
	}
	return result, nil
}

func (m *Mapper) resolve(ctx context.Context, rec Record, field Field) (Value, error) {
	transform, ok := m.transforms[field.Name]
	if !ok {
		value, err := Resolve(rec, field, "")
		return value, m.annotate(err)
	}

	value, err := transform(ctx, rec, field)
	if err != nil {
		return Value{}, fmt.Errorf("transform '%s': %w", field.Name, m.annotate(err))
	}
	return value, nil
}

func (m *Mapper) annotate(err error) error {
	var missing *MissingFieldError
	if errors.As(err, &missing) && missing.Kind == "" {
		missing.Kind = m.kind
	}
	return err
}

func asEntities(field Field, value Value) ([]*Entity, error) {
	if value.IsNull() {
		return nil, nil
	}
	switch v := value.Get().(type) {
	case []*Entity:
		return v, nil
	case *Entity:
		return []*Entity{v}, nil
	default:
		return nil, fmt.Errorf("%s value must be []*Entity, got %T", field.Type, v)
	}
}
