package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SourceRepository handles database operations for polled sources
type SourceRepository struct {
	db *DB
}

func NewSourceRepository(db *DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// ListSources returns every configured source ordered by title, then id.
func (r *SourceRepository) ListSources(ctx context.Context) ([]Source, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, title, url, poll_frequency, poll_count, last_successful_update
		FROM sources
		ORDER BY title, id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sources: %w", err)
	}
	defer rows.Close()

	var sources []Source
	for rows.Next() {
		source, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		sources = append(sources, *source)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read sources: %w", err)
	}

	return sources, nil
}

// GetSourceByURL returns nil when no source has the given URL.
func (r *SourceRepository) GetSourceByURL(ctx context.Context, url string) (*Source, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, url, poll_frequency, poll_count, last_successful_update
		FROM sources
		WHERE url = ?
	`, url)

	source, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return source, nil
}

// UpsertSource creates the source or updates its title and poll frequency.
// Poll counters and the watermark of an existing source are kept.
func (r *SourceRepository) UpsertSource(ctx context.Context, seed SourceSeed) (int64, bool, error) {
	existing, err := r.GetSourceByURL(ctx, seed.URL)
	if err != nil {
		return 0, false, fmt.Errorf("failed to check existing source: %w", err)
	}

	freq := int64(seed.PollFrequency / time.Second)

	if existing != nil {
		_, err = r.db.ExecContext(ctx, `
			UPDATE sources
			SET title = ?, poll_frequency = ?
			WHERE id = ?
		`, seed.Title, freq, existing.ID)
		if err != nil {
			return 0, false, fmt.Errorf("failed to update source: %w", err)
		}
		return existing.ID, false, nil
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO sources (title, url, poll_frequency)
		VALUES (?, ?, ?)
	`, seed.Title, seed.URL, freq)
	if err != nil {
		return 0, false, fmt.Errorf("failed to insert source: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("failed to read source id: %w", err)
	}
	return id, true, nil
}

// RecordPoll increments the poll counter of a source and, when updatedAt is
// non-nil, moves its watermark.
func (r *SourceRepository) RecordPoll(ctx context.Context, id int64, updatedAt *time.Time) error {
	var watermark any
	if updatedAt != nil {
		watermark = formatTime(*updatedAt)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE sources
		SET poll_count = poll_count + 1,
		    last_successful_update = COALESCE(?, last_successful_update)
		WHERE id = ?
	`, watermark, id)
	if err != nil {
		return fmt.Errorf("failed to record poll: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("failed to record poll: source %d not found", id)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*Source, error) {
	var (
		source    Source
		freq      int64
		watermark sql.NullString
	)
	err := row.Scan(&source.ID, &source.Title, &source.URL, &freq, &source.PollCount, &watermark)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan source: %w", err)
	}

	source.PollFrequency = time.Duration(freq) * time.Second
	if watermark.Valid {
		t, err := scanTime(watermark.String)
		if err != nil {
			return nil, fmt.Errorf("source %d: %w", source.ID, err)
		}
		source.LastSuccessfulUpdate = &t
	}

	return &source, nil
}
