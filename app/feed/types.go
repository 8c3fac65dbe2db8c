package feed

import (
	"fmt"
	"time"

	"github.com/lysyi3m/rss-mapper/app/mapper"
)

// Document is a parsed feed: channel metadata plus entries in document order.
type Document struct {
	Title     string
	Link      string
	Published *time.Time // channel pubDate, else updated/lastBuildDate
	Entries   []mapper.Record
}

// Tag is one entry category.
type Tag struct {
	Term string
}

type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse feed: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
