package sources

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-mapper/app/database"
)

func writeSources(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sources.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadValidFile(t *testing.T) {
	path := writeSources(t, `
sources:
  - title: "Feed #1"
    url: "http://localhost:18000/feed/1/"
    poll_frequency: 60
  - title: "  Feed #2  "
    url: "https://example.com/rss"
`)

	seeds, err := NewLoader(path).Load()
	require.NoError(t, err)
	require.Len(t, seeds, 2)

	assert.Equal(t, Seed{Title: "Feed #1", URL: "http://localhost:18000/feed/1/", PollFrequency: 60}, seeds[0])
	assert.Equal(t, "Feed #2", seeds[1].Title)
	assert.Zero(t, seeds[1].PollFrequency)
}

func TestLoadMissingFile(t *testing.T) {
	seeds, err := NewLoader(filepath.Join(t.TempDir(), "absent.yml")).Load()
	require.NoError(t, err)
	assert.Empty(t, seeds)
}

func TestLoadEmptyFile(t *testing.T) {
	seeds, err := NewLoader(writeSources(t, "")).Load()
	require.NoError(t, err)
	assert.Empty(t, seeds)
}

func TestParseValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "missing title", content: "sources:\n  - url: http://a.example/rss\n", wantErr: "title is required"},
		{name: "missing url", content: "sources:\n  - title: A\n", wantErr: "url is required"},
		{name: "relative url", content: "sources:\n  - title: A\n    url: /rss\n", wantErr: "absolute http(s) URL"},
		{name: "unsupported scheme", content: "sources:\n  - title: A\n    url: ftp://a.example/rss\n", wantErr: "absolute http(s) URL"},
		{name: "negative frequency", content: "sources:\n  - title: A\n    url: http://a.example/rss\n    poll_frequency: -5\n", wantErr: "non-negative"},
		{name: "duplicate url", content: "sources:\n  - title: A\n    url: http://a.example/rss\n  - title: B\n    url: http://a.example/rss\n", wantErr: "duplicate URL"},
		{name: "unknown key", content: "sources:\n  - title: A\n    url: http://a.example/rss\n    enabled: true\n", wantErr: "failed to parse YAML"},
		{name: "malformed yaml", content: "sources: [", wantErr: "failed to parse YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

type fakeRepository struct {
	known map[string]database.SourceSeed
	err   error
}

func (r *fakeRepository) UpsertSource(_ context.Context, seed database.SourceSeed) (int64, bool, error) {
	if r.err != nil {
		return 0, false, r.err
	}
	_, exists := r.known[seed.URL]
	r.known[seed.URL] = seed
	return int64(len(r.known)), !exists, nil
}

func TestSync(t *testing.T) {
	path := writeSources(t, `
sources:
  - title: A
    url: http://a.example/rss
    poll_frequency: 300
  - title: B
    url: http://b.example/rss
`)

	repo := &fakeRepository{known: map[string]database.SourceSeed{
		"http://b.example/rss": {Title: "Old B", URL: "http://b.example/rss"},
	}}

	result, err := NewLoader(path).Sync(context.Background(), repo)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Created: 1, Updated: 1}, result)
	assert.Equal(t, 5*time.Minute, repo.known["http://a.example/rss"].PollFrequency)
	assert.Equal(t, "B", repo.known["http://b.example/rss"].Title)
}

func TestSyncRepositoryError(t *testing.T) {
	path := writeSources(t, "sources:\n  - title: A\n    url: http://a.example/rss\n")

	_, err := NewLoader(path).Sync(context.Background(), &fakeRepository{err: errors.New("readonly")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "http://a.example/rss")
}

func TestSyncWithDatabase(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "sources.db"))
	require.NoError(t, err)
	defer db.Close()
	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	repo := database.NewSourceRepository(db)
	ctx := context.Background()
	path := writeSources(t, "sources:\n  - title: A\n    url: http://a.example/rss\n    poll_frequency: 30\n")

	result, err := NewLoader(path).Sync(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Created)

	result, err = NewLoader(path).Sync(ctx, repo)
	require.NoError(t, err)
	assert.Equal(t, SyncResult{Updated: 1}, result)

	list, err := repo.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 30*time.Second, list[0].PollFrequency)
}
