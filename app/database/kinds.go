package database

import (
	"fmt"

	"github.com/lysyi3m/rss-mapper/app/mapper"
)

const (
	KindAuthor   mapper.Kind = "author"
	KindCategory mapper.Kind = "category"
	KindItem     mapper.Kind = "item"
)

type columnKind uint8

const (
	textColumn columnKind = iota
	intColumn
	timeColumn
)

// column maps one mapper field onto the table layout.
type column struct {
	field  mapper.Field
	name   string
	kind   columnKind
	target mapper.Kind

	// many-to-many only
	joinTable    string
	ownerColumn  string
	targetColumn string
}

type schema struct {
	kind    mapper.Kind
	table   string
	columns []column
}

var idField = mapper.Field{Name: "id", Auto: true, Unique: true}

var schemas = map[mapper.Kind]*schema{
	KindAuthor: {
		kind:  KindAuthor,
		table: "authors",
		columns: []column{
			{field: idField, name: "id", kind: intColumn},
			{field: mapper.Field{Name: "name", Unique: true}, name: "name"},
		},
	},
	KindCategory: {
		kind:  KindCategory,
		table: "categories",
		columns: []column{
			{field: idField, name: "id", kind: intColumn},
			{field: mapper.Field{Name: "title", Unique: true}, name: "title"},
		},
	},
	KindItem: {
		kind:  KindItem,
		table: "items",
		columns: []column{
			{field: idField, name: "id", kind: intColumn},
			{field: mapper.Field{Name: "date_published"}, name: "date_published", kind: timeColumn},
			{field: mapper.Field{Name: "title", Blank: true, HasDefault: true}, name: "title"},
			{field: mapper.Field{Name: "description", Blank: true, HasDefault: true}, name: "description"},
			{field: mapper.Field{Name: "link", Blank: true, HasDefault: true}, name: "link"},
			{field: mapper.Field{Name: "guid", Unique: true, Null: true, Blank: true}, name: "guid"},
			{
				field:  mapper.Field{Name: "author", Type: mapper.ForeignKey, Null: true, Blank: true},
				name:   "author_id",
				kind:   intColumn,
				target: KindAuthor,
			},
			{
				field:        mapper.Field{Name: "categories", Type: mapper.ManyToMany},
				target:       KindCategory,
				joinTable:    "item_categories",
				ownerColumn:  "item_id",
				targetColumn: "category_id",
			},
		},
	},
}

func schemaOf(kind mapper.Kind) (*schema, error) {
	s, ok := schemas[kind]
	if !ok {
		return nil, fmt.Errorf("unknown entity kind %q", kind)
	}
	return s, nil
}

func (s *schema) fields() []mapper.Field {
	fields := make([]mapper.Field, 0, len(s.columns))
	for _, c := range s.columns {
		fields = append(fields, c.field)
	}
	return fields
}

func (s *schema) column(field string) (column, bool) {
	for _, c := range s.columns {
		if c.field.Name == field {
			return c, true
		}
	}
	return column{}, false
}

// stored returns the columns that live on the table itself, id first.
func (s *schema) stored() []column {
	cols := make([]column, 0, len(s.columns))
	for _, c := range s.columns {
		if c.field.Type != mapper.ManyToMany {
			cols = append(cols, c)
		}
	}
	return cols
}
