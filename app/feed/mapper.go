package feed

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/lysyi3m/rss-mapper/app/database"
	"github.com/lysyi3m/rss-mapper/app/mapper"
)

const (
	DefaultDateFormat = "Mon, 02 Jan 2006 15:04:05 -0700"

	// rfc822Layout is the zone-abbreviation form many feeds still emit.
	rfc822Layout = "Mon, 02 Jan 2006 15:04:05 MST"
)

// rfc822Zones holds the named zones of RFC 822 section 5.1 in seconds east
// of UTC.
var rfc822Zones = map[string]int{
	"UT":  0,
	"GMT": 0,
	"EST": -5 * 3600,
	"EDT": -4 * 3600,
	"CST": -6 * 3600,
	"CDT": -5 * 3600,
	"MST": -7 * 3600,
	"MDT": -6 * 3600,
	"PST": -8 * 3600,
	"PDT": -7 * 3600,
}

type Options struct {
	// DateFormat is the Go time layout tried first for entry publish dates.
	DateFormat string
	Exclude    []string
}

// Mapper maps feed documents into items, authors and categories.
type Mapper struct {
	records    *mapper.Mapper
	store      mapper.Store
	parser     *Parser
	dateFormat string
}

func NewMapper(store mapper.Store, opts Options) (*Mapper, error) {
	m := &Mapper{
		store:      store,
		parser:     NewParser(),
		dateFormat: cmp.Or(opts.DateFormat, DefaultDateFormat),
	}

	records, err := mapper.New(store, database.KindItem, mapper.Options{
		Exclude: opts.Exclude,
		Unique:  []string{"guid"},
		Transforms: map[string]mapper.Transform{
			"date_published": m.transformDatePublished,
			"author":         m.transformAuthor,
			"categories":     m.transformCategories,
		},
	})
	if err != nil {
		return nil, err
	}
	m.records = records

	return m, nil
}

// ProcessString parses document and maps its entries. When watermark is set
// and the feed declares a publish date that is not after it, nothing is
// processed and an empty result is returned.
func (m *Mapper) ProcessString(ctx context.Context, document []byte, watermark *time.Time) ([]*mapper.Entity, error) {
	doc, err := m.parser.Run(document)
	if err != nil {
		return nil, err
	}

	if watermark != nil && doc.Published != nil && !doc.Published.After(*watermark) {
		slog.Debug("Skipping feed as not modified", "feed", doc.Title, "published", doc.Published, "watermark", watermark)
		return []*mapper.Entity{}, nil
	}

	slog.Debug("Saving feed", "feed", doc.Title, "link", doc.Link, "entries", len(doc.Entries))
	return m.Process(ctx, doc.Entries)
}

func (m *Mapper) Process(ctx context.Context, records []mapper.Record) ([]*mapper.Entity, error) {
	items, err := m.records.Process(ctx, records)
	for _, item := range items {
		slog.Debug("Item stored", "id", item.ID, "title", item.Get("title"))
	}
	return items, err
}

func (m *Mapper) transformDatePublished(_ context.Context, rec mapper.Record, _ mapper.Field) (mapper.Value, error) {
	raw, ok := rec.Lookup("published")
	if !ok || raw == nil {
		return mapper.Null(), nil
	}

	switch v := raw.(type) {
	case time.Time:
		return mapper.Of(v), nil
	case *time.Time:
		if v == nil {
			return mapper.Null(), nil
		}
		return mapper.Of(*v), nil
	case string:
		if strings.TrimSpace(v) == "" {
			return mapper.Null(), nil
		}
		t, err := m.parseDate(strings.TrimSpace(v))
		if err != nil {
			return mapper.Value{}, err
		}
		return mapper.Of(t), nil
	default:
		return mapper.Value{}, fmt.Errorf("unsupported publish date type %T", raw)
	}
}

func (m *Mapper) parseDate(s string) (time.Time, error) {
	if t, err := time.Parse(m.dateFormat, s); err == nil {
		if t, ok := resolveZone(t); ok {
			return t, nil
		}
	}
	if t, err := time.Parse(rfc822Layout, s); err == nil {
		if t, ok := resolveZone(t); ok {
			return t.Local(), nil
		}
	}
	if t, err := dateparse.ParseLocal(s); err == nil {
		if t, ok := resolveZone(t); ok {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized publish date %q", s)
}

// resolveZone applies the real offset to a zone abbreviation that time.Parse
// did not know and recorded at offset zero. It reports false when the
// abbreviation is not an RFC 822 zone either.
func resolveZone(t time.Time) (time.Time, bool) {
	name, offset := t.Zone()
	if offset != 0 || name == "" || t.Location() == time.UTC || t.Location() == time.Local {
		return t, true
	}

	known, ok := rfc822Zones[strings.ToUpper(name)]
	if !ok {
		return t, name == "UTC" || name == "Z"
	}
	year, month, day := t.Date()
	hour, minute, sec := t.Clock()
	return time.Date(year, month, day, hour, minute, sec, t.Nanosecond(), time.FixedZone(name, known)), true
}

func (m *Mapper) transformAuthor(ctx context.Context, rec mapper.Record, field mapper.Field) (mapper.Value, error) {
	value, err := mapper.Resolve(rec, field, "")
	if err != nil || value.IsOmit() || value.IsNull() {
		return value, err
	}

	name := strings.TrimSpace(fmt.Sprint(value.Get()))
	if name == "" {
		return mapper.Null(), nil
	}

	author, _, err := m.store.GetOrCreate(ctx, database.KindAuthor, map[string]any{"name": name}, nil)
	if err != nil {
		return mapper.Value{}, fmt.Errorf("failed to get or create author %q: %w", name, err)
	}
	return mapper.Of(author), nil
}

func (m *Mapper) transformCategories(ctx context.Context, rec mapper.Record, field mapper.Field) (mapper.Value, error) {
	raw, ok := rec.Lookup(field.Name)
	if !ok {
		raw, ok = rec.Lookup("tags")
	}
	if !ok {
		return mapper.Of([]*mapper.Entity{}), nil
	}

	terms, err := tagTerms(raw)
	if err != nil {
		return mapper.Value{}, err
	}

	categories := make([]*mapper.Entity, 0, len(terms))
	for _, term := range terms {
		category, _, err := m.store.GetOrCreate(ctx, database.KindCategory, map[string]any{"title": term}, nil)
		if err != nil {
			return mapper.Value{}, fmt.Errorf("failed to get or create category %q: %w", term, err)
		}
		categories = append(categories, category)
	}
	return mapper.Of(categories), nil
}

// tagTerms extracts the distinct non-blank terms of a tag collection.
func tagTerms(raw any) ([]string, error) {
	var terms []string
	add := func(term string) {
		term = strings.TrimSpace(term)
		if term != "" && !slices.Contains(terms, term) {
			terms = append(terms, term)
		}
	}

	switch tags := raw.(type) {
	case nil:
	case []Tag:
		for _, tag := range tags {
			add(tag.Term)
		}
	case []string:
		for _, tag := range tags {
			add(tag)
		}
	case []map[string]any:
		for _, tag := range tags {
			term, _ := tag["term"].(string)
			add(term)
		}
	case []any:
		for _, tag := range tags {
			switch t := tag.(type) {
			case string:
				add(t)
			case Tag:
				add(t.Term)
			case map[string]any:
				term, _ := t["term"].(string)
				add(term)
			default:
				return nil, fmt.Errorf("unsupported tag type %T", tag)
			}
		}
	default:
		return nil, fmt.Errorf("unsupported tag collection type %T", raw)
	}

	return terms, nil
}
