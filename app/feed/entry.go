package feed

import (
	"cmp"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/lysyi3m/rss-mapper/app/mapper"
)

// Entry exposes a gofeed item as a mapper.Record. Empty values are reported
// as absent so the store defaults apply.
type Entry struct {
	item *gofeed.Item
}

var _ mapper.Record = Entry{}

func NewEntry(item *gofeed.Item) Entry {
	return Entry{item: item}
}

func (e Entry) Lookup(name string) (any, bool) {
	var v string

	switch name {
	case "title":
		v = e.item.Title
	case "description":
		v = cmp.Or(e.item.Description, e.item.Content)
	case "content":
		v = e.item.Content
	case "link":
		v = e.item.Link
	case "guid":
		v = cmp.Or(e.item.GUID, e.item.Link)
	case "published":
		v = cmp.Or(e.item.Published, e.item.Updated)
	case "updated":
		v = e.item.Updated
	case "author":
		v = e.author()
	case "tags":
		tags := e.tags()
		if len(tags) == 0 {
			return nil, false
		}
		return tags, true
	}

	v = strings.TrimSpace(v)
	if v == "" {
		return nil, false
	}
	return v, true
}

func (e Entry) author() string {
	people := e.item.Authors
	if len(people) == 0 && e.item.Author != nil {
		people = []*gofeed.Person{e.item.Author}
	}

	for _, person := range people {
		if person == nil {
			continue
		}
		if name := cmp.Or(strings.TrimSpace(person.Name), strings.TrimSpace(person.Email)); name != "" {
			return name
		}
	}
	return ""
}

func (e Entry) tags() []Tag {
	tags := make([]Tag, 0, len(e.item.Categories))
	for _, category := range e.item.Categories {
		if term := strings.TrimSpace(category); term != "" {
			tags = append(tags, Tag{Term: term})
		}
	}
	return tags
}
