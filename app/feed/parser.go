package feed

import (
	"bytes"

	"github.com/mmcdole/gofeed"

	"github.com/lysyi3m/rss-mapper/app/mapper"
)

type Parser struct {
	gofeedParser *gofeed.Parser
}

func NewParser() *Parser {
	return &Parser{
		gofeedParser: gofeed.NewParser(),
	}
}

// Run parses an RSS, Atom or JSON feed document.
func (p *Parser) Run(data []byte) (*Document, error) {
	feed, err := p.gofeedParser.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, &ParseError{Err: err}
	}

	doc := &Document{
		Title: feed.Title,
		Link:  feed.Link,
	}

	if feed.PublishedParsed != nil {
		doc.Published = feed.PublishedParsed
	} else if feed.UpdatedParsed != nil {
		doc.Published = feed.UpdatedParsed
	}

	doc.Entries = make([]mapper.Record, 0, len(feed.Items))
	for _, item := range feed.Items {
		if item == nil {
			continue
		}
		doc.Entries = append(doc.Entries, NewEntry(item))
	}

	return doc, nil
}
