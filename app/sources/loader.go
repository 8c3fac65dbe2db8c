package sources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lysyi3m/rss-mapper/app/database"
)

type Repository interface {
	UpsertSource(ctx context.Context, seed database.SourceSeed) (int64, bool, error)
}

// Loader reads operator-maintained source definitions from a YAML file.
type Loader struct {
	path string
}

func NewLoader(path string) *Loader {
	return &Loader{path: path}
}

// Load returns the validated seeds. A missing file yields no seeds.
func (l *Loader) Load() ([]Seed, error) {
	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	seeds, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("invalid sources file %s: %w", l.path, err)
	}
	return seeds, nil
}

// Sync upserts every seed by URL. Poll counters of known sources are kept.
func (l *Loader) Sync(ctx context.Context, repo Repository) (SyncResult, error) {
	var result SyncResult

	seeds, err := l.Load()
	if err != nil {
		return result, err
	}

	for _, seed := range seeds {
		id, created, err := repo.UpsertSource(ctx, seed.toDatabase())
		if err != nil {
			return result, fmt.Errorf("failed to sync source %s: %w", seed.URL, err)
		}
		if created {
			result.Created++
		} else {
			result.Updated++
		}
		slog.Debug("Source synced", "id", id, "title", seed.Title, "url", seed.URL, "created", created)
	}

	return result, nil
}

func Parse(data []byte) ([]Seed, error) {
	var file File

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	seen := make(map[string]int, len(file.Sources))
	for i := range file.Sources {
		seed := &file.Sources[i]
		seed.Title = strings.TrimSpace(seed.Title)
		seed.URL = strings.TrimSpace(seed.URL)

		if err := validateSeed(seed); err != nil {
			return nil, fmt.Errorf("source at index %d: %w", i, err)
		}
		if j, ok := seen[seed.URL]; ok {
			return nil, fmt.Errorf("source at index %d: duplicate URL %s (first at index %d)", i, seed.URL, j)
		}
		seen[seed.URL] = i
	}

	return file.Sources, nil
}

func validateSeed(seed *Seed) error {
	requiredFields := map[string]string{
		"title": seed.Title,
		"url":   seed.URL,
	}
	for fieldName, fieldValue := range requiredFields {
		if fieldValue == "" {
			return fmt.Errorf("%s is required", fieldName)
		}
	}

	if seed.PollFrequency < 0 {
		return fmt.Errorf("poll frequency must be non-negative")
	}

	u, err := url.Parse(seed.URL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("url must be an absolute http(s) URL: %s", seed.URL)
	}

	return nil
}
