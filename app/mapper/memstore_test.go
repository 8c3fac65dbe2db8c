package mapper

import (
	"context"
	"fmt"
	"maps"
	"slices"
)

// memStore is an in-memory Store used by the mapper tests.
type memStore struct {
	schemas   map[Kind][]Field
	entities  map[Kind][]*Entity
	relations map[string][]*Entity
	nextID    int64

	creates int
	saves   int
}

func newMemStore() *memStore {
	return &memStore{
		schemas: map[Kind][]Field{
			"tag": {
				{Name: "id", Auto: true},
				{Name: "label", Unique: true},
			},
			"post": {
				{Name: "id", Auto: true},
				{Name: "title", Blank: true, HasDefault: true},
				{Name: "body", Null: true},
				{Name: "slug", Unique: true, Null: true, Blank: true},
				{Name: "published"},
				{Name: "tags", Type: ManyToMany},
			},
		},
		entities:  make(map[Kind][]*Entity),
		relations: make(map[string][]*Entity),
	}
}

func (s *memStore) Fields(kind Kind) ([]Field, error) {
	fields, ok := s.schemas[kind]
	if !ok {
		return nil, fmt.Errorf("unknown kind %q", kind)
	}
	return slices.Clone(fields), nil
}

func (s *memStore) GetOrCreate(ctx context.Context, kind Kind, unique, defaults map[string]any) (*Entity, bool, error) {
	matches, err := s.Filter(ctx, kind, unique)
	if err != nil {
		return nil, false, err
	}
	if len(matches) > 0 {
		return matches[0], false, nil
	}

	fields := maps.Clone(defaults)
	if fields == nil {
		fields = make(map[string]any)
	}
	maps.Copy(fields, unique)

	entity, err := s.Create(ctx, kind, fields)
	return entity, err == nil, err
}

func (s *memStore) Create(_ context.Context, kind Kind, fields map[string]any) (*Entity, error) {
	s.nextID++
	s.creates++
	entity := &Entity{Kind: kind, ID: s.nextID, Fields: maps.Clone(fields)}
	if entity.Fields == nil {
		entity.Fields = make(map[string]any)
	}
	s.entities[kind] = append(s.entities[kind], entity)
	return entity, nil
}

func (s *memStore) Save(_ context.Context, entity *Entity) error {
	s.saves++
	return nil
}

func (s *memStore) Get(_ context.Context, kind Kind, id int64) (*Entity, error) {
	for _, e := range s.entities[kind] {
		if e.ID == id {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%s #%d not found", kind, id)
}

func (s *memStore) Filter(_ context.Context, kind Kind, where map[string]any) ([]*Entity, error) {
	var result []*Entity
	for _, e := range s.entities[kind] {
		match := true
		for k, v := range where {
			if e.Fields[k] != v {
				match = false
				break
			}
		}
		if match {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *memStore) Relation(_ context.Context, entity *Entity, field string) (Relation, error) {
	return &memRelation{store: s, key: fmt.Sprintf("%s/%d/%s", entity.Kind, entity.ID, field)}, nil
}

type memRelation struct {
	store *memStore
	key   string
}

func (r *memRelation) Clear(context.Context) error {
	delete(r.store.relations, r.key)
	return nil
}

func (r *memRelation) Add(_ context.Context, entities ...*Entity) error {
	for _, e := range entities {
		if !slices.Contains(r.store.relations[r.key], e) {
			r.store.relations[r.key] = append(r.store.relations[r.key], e)
		}
	}
	return nil
}

func (r *memRelation) All(context.Context) ([]*Entity, error) {
	return slices.Clone(r.store.relations[r.key]), nil
}
