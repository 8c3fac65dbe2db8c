package sources

import (
	"time"

	"github.com/lysyi3m/rss-mapper/app/database"
)

// File is the layout of the sources seed file.
type File struct {
	Sources []Seed `yaml:"sources"`
}

type Seed struct {
	Title         string `yaml:"title"`
	URL           string `yaml:"url"`
	PollFrequency int    `yaml:"poll_frequency"` // seconds
}

func (s Seed) toDatabase() database.SourceSeed {
	return database.SourceSeed{
		Title:         s.Title,
		URL:           s.URL,
		PollFrequency: time.Duration(s.PollFrequency) * time.Second,
	}
}

type SyncResult struct {
	Created int
	Updated int
}
