package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/lysyi3m/rss-mapper/app/mapper"
)

// Timestamps are stored as fixed-width UTC text so they sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

var timeLayouts = []string{
	timeLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

// Store persists mapper entities in the SQLite schema.
type Store struct {
	db *DB
}

var _ mapper.Store = (*Store)(nil)

func NewStore(db *DB) *Store {
	return &Store{db: db}
}

func (s *Store) Fields(kind mapper.Kind) ([]mapper.Field, error) {
	sc, err := schemaOf(kind)
	if err != nil {
		return nil, err
	}
	return sc.fields(), nil
}

func (s *Store) GetOrCreate(ctx context.Context, kind mapper.Kind, unique, defaults map[string]any) (*mapper.Entity, bool, error) {
	sc, err := schemaOf(kind)
	if err != nil {
		return nil, false, err
	}
	if len(unique) == 0 {
		return nil, false, fmt.Errorf("get or create %s: no lookup fields", kind)
	}

	var (
		entity  *mapper.Entity
		created bool
	)
	err = withTx(ctx, s.db, func(q querier) error {
		found, err := s.filter(ctx, q, sc, unique)
		if err != nil {
			return err
		}
		if len(found) > 0 {
			entity = found[0]
			return nil
		}

		fields := maps.Clone(defaults)
		if fields == nil {
			fields = make(map[string]any, len(unique))
		}
		maps.Copy(fields, unique)

		entity, err = s.insert(ctx, q, sc, fields)
		created = err == nil
		return err
	})
	if err != nil {
		return nil, false, err
	}

	return entity, created, nil
}

func (s *Store) Create(ctx context.Context, kind mapper.Kind, fields map[string]any) (*mapper.Entity, error) {
	sc, err := schemaOf(kind)
	if err != nil {
		return nil, err
	}

	var entity *mapper.Entity
	err = withTx(ctx, s.db, func(q querier) error {
		entity, err = s.insert(ctx, q, sc, fields)
		return err
	})
	return entity, err
}

// Save writes every stored field present in entity.Fields back to its row.
func (s *Store) Save(ctx context.Context, entity *mapper.Entity) error {
	if entity == nil || entity.ID == 0 {
		return errors.New("save: entity is not persisted")
	}
	sc, err := schemaOf(entity.Kind)
	if err != nil {
		return err
	}

	var (
		sets []string
		args []any
	)
	for _, c := range sc.stored() {
		if c.field.Auto {
			continue
		}
		v, ok := entity.Fields[c.field.Name]
		if !ok {
			continue
		}
		bound, err := bindValue(c, v)
		if err != nil {
			return err
		}
		sets = append(sets, c.name+" = ?")
		args = append(args, bound)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, entity.ID)

	result, err := s.db.ExecContext(ctx,
		fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", sc.table, strings.Join(sets, ", ")),
		args...)
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", entity, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to save %s: %w", entity, sql.ErrNoRows)
	}
	return nil
}

// Get returns the entity with the given id, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, kind mapper.Kind, id int64) (*mapper.Entity, error) {
	sc, err := schemaOf(kind)
	if err != nil {
		return nil, err
	}
	return s.get(ctx, s.db, sc, id)
}

// Filter returns the entities whose fields equal every value in where,
// ordered by id. A nil value matches NULL.
func (s *Store) Filter(ctx context.Context, kind mapper.Kind, where map[string]any) ([]*mapper.Entity, error) {
	sc, err := schemaOf(kind)
	if err != nil {
		return nil, err
	}
	return s.filter(ctx, s.db, sc, where)
}

func (s *Store) Relation(ctx context.Context, entity *mapper.Entity, field string) (mapper.Relation, error) {
	if entity == nil || entity.ID == 0 {
		return nil, errors.New("relation: entity is not persisted")
	}
	sc, err := schemaOf(entity.Kind)
	if err != nil {
		return nil, err
	}
	c, ok := sc.column(field)
	if !ok || c.field.Type != mapper.ManyToMany {
		return nil, fmt.Errorf("relation: %s has no many-to-many field '%s'", entity.Kind, field)
	}
	return &relation{store: s, owner: entity, col: c}, nil
}

func (s *Store) insert(ctx context.Context, q querier, sc *schema, fields map[string]any) (*mapper.Entity, error) {
	for name := range fields {
		c, ok := sc.column(name)
		if !ok {
			return nil, fmt.Errorf("create %s: unknown field '%s'", sc.kind, name)
		}
		if c.field.Auto || c.field.Type == mapper.ManyToMany {
			return nil, fmt.Errorf("create %s: field '%s' cannot be written directly", sc.kind, name)
		}
	}

	var (
		names        []string
		placeholders []string
		args         []any
	)
	for _, c := range sc.stored() {
		v, ok := fields[c.field.Name]
		if !ok {
			continue
		}
		bound, err := bindValue(c, v)
		if err != nil {
			return nil, err
		}
		names = append(names, c.name)
		placeholders = append(placeholders, "?")
		args = append(args, bound)
	}

	query := fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", sc.table)
	if len(names) > 0 {
		query = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
			sc.table, strings.Join(names, ", "), strings.Join(placeholders, ", "))
	}

	result, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", sc.kind, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read id of new %s: %w", sc.kind, err)
	}

	return s.get(ctx, q, sc, id)
}

func (s *Store) get(ctx context.Context, q querier, sc *schema, id int64) (*mapper.Entity, error) {
	found, err := s.filter(ctx, q, sc, map[string]any{"id": id})
	if err != nil || len(found) == 0 {
		return nil, err
	}
	return found[0], nil
}

func (s *Store) filter(ctx context.Context, q querier, sc *schema, where map[string]any) ([]*mapper.Entity, error) {
	var (
		conds []string
		args  []any
	)
	for _, name := range slices.Sorted(maps.Keys(where)) {
		c, ok := sc.column(name)
		if !ok || c.field.Type == mapper.ManyToMany {
			return nil, fmt.Errorf("filter %s: cannot filter on '%s'", sc.kind, name)
		}
		bound, err := bindValue(c, where[name])
		if err != nil {
			return nil, err
		}
		if bound == nil {
			conds = append(conds, c.name+" IS NULL")
			continue
		}
		conds = append(conds, c.name+" = ?")
		args = append(args, bound)
	}

	query := fmt.Sprintf("SELECT %s FROM %s", selectList(sc, ""), sc.table)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", sc.kind, err)
	}
	return s.collect(ctx, q, sc, rows)
}

// collect drains rows before resolving references; the pool has a single
// connection so no query may run while rows are open.
func (s *Store) collect(ctx context.Context, q querier, sc *schema, rows *sql.Rows) ([]*mapper.Entity, error) {
	cols := sc.stored()

	var raws [][]any
	for rows.Next() {
		raw := make([]any, len(cols))
		dest := make([]any, len(cols))
		for i := range raw {
			dest[i] = &raw[i]
		}
		if err := rows.Scan(dest...); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan %s: %w", sc.kind, err)
		}
		raws = append(raws, raw)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to read %s rows: %w", sc.kind, err)
	}
	rows.Close()

	entities := make([]*mapper.Entity, 0, len(raws))
	for _, raw := range raws {
		entity, err := s.build(ctx, q, sc, cols, raw)
		if err != nil {
			return nil, err
		}
		entities = append(entities, entity)
	}
	return entities, nil
}

func (s *Store) build(ctx context.Context, q querier, sc *schema, cols []column, raw []any) (*mapper.Entity, error) {
	entity := &mapper.Entity{Kind: sc.kind, Fields: make(map[string]any, len(cols))}

	for i, c := range cols {
		v := raw[i]
		if c.field.Auto {
			id, err := scanInt(v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", sc.table, c.name, err)
			}
			entity.ID = id
			continue
		}

		if v == nil {
			entity.Fields[c.field.Name] = nil
			continue
		}

		switch {
		case c.field.Type == mapper.ForeignKey:
			id, err := scanInt(v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", sc.table, c.name, err)
			}
			target, err := schemaOf(c.target)
			if err != nil {
				return nil, err
			}
			ref, err := s.get(ctx, q, target, id)
			if err != nil {
				return nil, err
			}
			entity.Fields[c.field.Name] = ref
		case c.kind == timeColumn:
			t, err := scanTime(v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", sc.table, c.name, err)
			}
			entity.Fields[c.field.Name] = t
		case c.kind == intColumn:
			n, err := scanInt(v)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", sc.table, c.name, err)
			}
			entity.Fields[c.field.Name] = n
		default:
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			entity.Fields[c.field.Name] = v
		}
	}

	return entity, nil
}

func selectList(sc *schema, alias string) string {
	cols := sc.stored()
	names := make([]string, len(cols))
	for i, c := range cols {
		if alias != "" {
			names[i] = alias + "." + c.name
		} else {
			names[i] = c.name
		}
	}
	return strings.Join(names, ", ")
}

func bindValue(c column, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	if c.field.Type == mapper.ForeignKey {
		switch ref := v.(type) {
		case *mapper.Entity:
			if ref == nil {
				return nil, nil
			}
			if ref.Kind != c.target {
				return nil, fmt.Errorf("field '%s' references %s, got %s", c.field.Name, c.target, ref.Kind)
			}
			return ref.ID, nil
		case int64:
			return ref, nil
		case int:
			return int64(ref), nil
		default:
			return nil, fmt.Errorf("field '%s' expects *mapper.Entity, got %T", c.field.Name, v)
		}
	}

	if c.kind == timeColumn {
		switch t := v.(type) {
		case time.Time:
			return formatTime(t), nil
		case *time.Time:
			if t == nil {
				return nil, nil
			}
			return formatTime(*t), nil
		default:
			return nil, fmt.Errorf("field '%s' expects time.Time, got %T", c.field.Name, v)
		}
	}

	return v, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func scanTime(v any) (time.Time, error) {
	var s string
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		s = t
	case []byte:
		s = string(t)
	default:
		return time.Time{}, fmt.Errorf("cannot scan %T into time.Time", v)
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time value %q", s)
}

func scanInt(v any) (int64, error) {
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case float64:
		return int64(n), nil
	default:
		return 0, fmt.Errorf("cannot scan %T into int64", v)
	}
}

type relation struct {
	store *Store
	owner *mapper.Entity
	col   column
}

func (r *relation) Clear(ctx context.Context) error {
	_, err := r.store.db.ExecContext(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE %s = ?", r.col.joinTable, r.col.ownerColumn),
		r.owner.ID)
	if err != nil {
		return fmt.Errorf("failed to clear %s of %s: %w", r.col.field.Name, r.owner, err)
	}
	return nil
}

func (r *relation) Add(ctx context.Context, entities ...*mapper.Entity) error {
	query := fmt.Sprintf("INSERT OR IGNORE INTO %s (%s, %s) VALUES (?, ?)",
		r.col.joinTable, r.col.ownerColumn, r.col.targetColumn)

	return withTx(ctx, r.store.db, func(q querier) error {
		for _, e := range entities {
			if e == nil || e.ID == 0 {
				return fmt.Errorf("add to %s of %s: entity is not persisted", r.col.field.Name, r.owner)
			}
			if e.Kind != r.col.target {
				return fmt.Errorf("add to %s of %s: expected %s, got %s", r.col.field.Name, r.owner, r.col.target, e.Kind)
			}
			if _, err := q.ExecContext(ctx, query, r.owner.ID, e.ID); err != nil {
				return fmt.Errorf("failed to add %s to %s: %w", e, r.owner, err)
			}
		}
		return nil
	})
}

// All returns the related entities in insertion order.
func (r *relation) All(ctx context.Context) ([]*mapper.Entity, error) {
	target, err := schemaOf(r.col.target)
	if err != nil {
		return nil, err
	}

	rows, err := r.store.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s FROM %s t JOIN %s j ON j.%s = t.id WHERE j.%s = ? ORDER BY j.rowid",
			selectList(target, "t"), target.table, r.col.joinTable, r.col.targetColumn, r.col.ownerColumn),
		r.owner.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s of %s: %w", r.col.field.Name, r.owner, err)
	}
	return r.store.collect(ctx, r.store.db, target, rows)
}
