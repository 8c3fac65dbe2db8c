package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lysyi3m/rss-mapper/app/database"
	"github.com/lysyi3m/rss-mapper/app/mapper"
)

const DefaultDelay = 10 * time.Second

var ErrNoSources = errors.New("no sources configured")

type SourceRepository interface {
	ListSources(ctx context.Context) ([]database.Source, error)
	RecordPoll(ctx context.Context, id int64, updatedAt *time.Time) error
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Processor interface {
	ProcessString(ctx context.Context, document []byte, watermark *time.Time) ([]*mapper.Entity, error)
}

type Options struct {
	// Infinite repeats cycles until the context is cancelled.
	Infinite bool
	// Delay is the pause between cycles in infinite mode.
	Delay time.Duration
	// PollNeverUpdated treats sources without a successful update as due.
	PollNeverUpdated bool
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// CycleReport summarizes one fetch-evaluate-update cycle.
type CycleReport struct {
	ID          string
	Fetched     int
	FetchFailed int
	Due         int
	Processed   int
	Failed      int
	Entities    int
}

type Scheduler struct {
	repo      SourceRepository
	fetcher   Fetcher
	processor Processor
	opts      Options
}

func New(repo SourceRepository, fetcher Fetcher, processor Processor, opts Options) *Scheduler {
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Scheduler{
		repo:      repo,
		fetcher:   fetcher,
		processor: processor,
		opts:      opts,
	}
}

// Run loads the source list once and runs one cycle, or cycles until ctx is
// cancelled in infinite mode. Sources added while running are not picked up.
func (s *Scheduler) Run(ctx context.Context) error {
	sources, err := s.repo.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sources: %w", err)
	}
	if len(sources) == 0 {
		slog.Error("No sources configured, nothing to poll")
		return ErrNoSources
	}

	s.reportNeverUpdated(sources)
	slog.Info("Scheduler started", "sources", len(sources), "infinite", s.opts.Infinite, "delay", s.opts.Delay)

	for {
		s.RunCycle(ctx, sources)

		if !s.opts.Infinite {
			return nil
		}

		timer := time.NewTimer(s.opts.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("Scheduler stopped")
			return nil
		case <-timer.C:
		}
	}
}

// RunCycle fetches every source concurrently, then processes and records the
// due ones in list order. Poll bookkeeping is applied to sources in place.
func (s *Scheduler) RunCycle(ctx context.Context, sources []database.Source) CycleReport {
	report := CycleReport{ID: uuid.NewString()}
	start := time.Now()

	results := s.fetchAll(ctx, report.ID, sources)
	for _, r := range results {
		if r.err != nil {
			report.FetchFailed++
		} else {
			report.Fetched++
		}
	}

	now := s.opts.Now()

	for i := range sources {
		source := &sources[i]
		if !source.Due(now, s.opts.PollNeverUpdated) {
			slog.Debug("Source not due", "cycle", report.ID, "source", source.Title, "last_update", source.LastSuccessfulUpdate)
			continue
		}
		report.Due++

		var updatedAt *time.Time
		if results[i].err == nil {
			entities, err := s.processor.ProcessString(ctx, results[i].data, source.LastSuccessfulUpdate)
			if err != nil {
				slog.Error("Failed to process source", "cycle", report.ID, "source", source.Title, "url", source.URL, "error", err)
				report.Failed++
			} else {
				t := s.opts.Now()
				updatedAt = &t
				report.Processed++
				report.Entities += len(entities)
				slog.Debug("Source processed", "cycle", report.ID, "source", source.Title, "entities", len(entities))
			}
		}

		if err := s.repo.RecordPoll(ctx, source.ID, updatedAt); err != nil {
			slog.Error("Failed to record poll", "cycle", report.ID, "source", source.Title, "error", err)
			continue
		}
		source.PollCount++
		if updatedAt != nil {
			source.LastSuccessfulUpdate = updatedAt
		}
	}

	slog.Info("Cycle completed",
		"cycle", report.ID,
		"fetched", report.Fetched,
		"fetch_failed", report.FetchFailed,
		"due", report.Due,
		"processed", report.Processed,
		"failed", report.Failed,
		"entities", report.Entities,
		"duration", time.Since(start))

	return report
}

type fetchResult struct {
	data []byte
	err  error
}

// fetchAll returns one result per source at the source's index.
func (s *Scheduler) fetchAll(ctx context.Context, cycleID string, sources []database.Source) []fetchResult {
	results := make([]fetchResult, len(sources))

	var wg sync.WaitGroup
	for i, source := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()

			data, err := s.fetcher.Fetch(ctx, source.URL)
			if err != nil {
				slog.Warn("Failed to fetch source", "cycle", cycleID, "source", source.Title, "url", source.URL, "error", err)
			}
			results[i] = fetchResult{data: data, err: err}
		}()
	}
	wg.Wait()

	return results
}

func (s *Scheduler) reportNeverUpdated(sources []database.Source) {
	count := 0
	for _, source := range sources {
		if source.LastSuccessfulUpdate == nil {
			count++
		}
	}
	if count == 0 {
		return
	}

	if s.opts.PollNeverUpdated {
		slog.Info("Polling sources without a successful update", "count", count)
		return
	}
	slog.Warn("Sources without a successful update are skipped until seeded (see --poll-new-sources)", "count", count)
}
