package database

import (
	"time"
)

type Source struct {
	ID                   int64
	Title                string
	URL                  string
	PollFrequency        time.Duration // stored in whole seconds
	PollCount            int64
	LastSuccessfulUpdate *time.Time // watermark; nil until the first successful poll
}

func (s *Source) String() string {
	return s.Title + "[" + s.URL + "]"
}

// Due reports whether the watermark is older than the poll frequency at now.
// Sources that were never updated are not due unless includeNew is set.
func (s *Source) Due(now time.Time, includeNew bool) bool {
	if s.LastSuccessfulUpdate == nil {
		return includeNew
	}
	return s.LastSuccessfulUpdate.Add(s.PollFrequency).Before(now)
}

// SourceSeed is an operator-provided source definition.
type SourceSeed struct {
	Title         string
	URL           string
	PollFrequency time.Duration
}
