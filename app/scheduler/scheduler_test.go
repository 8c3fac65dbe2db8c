package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lysyi3m/rss-mapper/app/database"
	"github.com/lysyi3m/rss-mapper/app/feed"
	"github.com/lysyi3m/rss-mapper/app/fetcher"
	"github.com/lysyi3m/rss-mapper/app/mapper"
)

var testNow = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type pollRecord struct {
	id        int64
	updatedAt *time.Time
}

type fakeRepo struct {
	mu        sync.Mutex
	sources   []database.Source
	listErr   error
	recordErr error
	polls     []pollRecord
	lists     int
}

func (r *fakeRepo) ListSources(context.Context) ([]database.Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lists++
	if r.listErr != nil {
		return nil, r.listErr
	}
	return append([]database.Source(nil), r.sources...), nil
}

func (r *fakeRepo) RecordPoll(_ context.Context, id int64, updatedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.recordErr != nil {
		return r.recordErr
	}
	r.polls = append(r.polls, pollRecord{id: id, updatedAt: updatedAt})
	return nil
}

type fakeFetcher struct {
	docs  map[string]string
	calls atomic.Int32
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.calls.Add(1)
	doc, ok := f.docs[url]
	if !ok {
		return nil, &fetcher.FetchError{URL: url, StatusCode: http.StatusInternalServerError}
	}
	return []byte(doc), nil
}

type processCall struct {
	doc       string
	watermark *time.Time
}

type fakeProcessor struct {
	mu    sync.Mutex
	calls []processCall
	fail  map[string]error
}

func (p *fakeProcessor) ProcessString(_ context.Context, document []byte, watermark *time.Time) ([]*mapper.Entity, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, processCall{doc: string(document), watermark: watermark})
	if err := p.fail[string(document)]; err != nil {
		return nil, err
	}
	return []*mapper.Entity{{Kind: "item", ID: int64(len(p.calls))}}, nil
}

func stale() *time.Time {
	t := testNow.Add(-24 * time.Hour)
	return &t
}

func newTestScheduler(repo *fakeRepo, f Fetcher, p Processor, opts Options) *Scheduler {
	opts.Now = func() time.Time { return testNow }
	return New(repo, f, p, opts)
}

func TestRunWithoutSources(t *testing.T) {
	repo := &fakeRepo{}
	f := &fakeFetcher{}

	err := newTestScheduler(repo, f, &fakeProcessor{}, Options{}).Run(context.Background())
	assert.ErrorIs(t, err, ErrNoSources)
	assert.Zero(t, f.calls.Load())
}

func TestRunListError(t *testing.T) {
	repo := &fakeRepo{listErr: errors.New("disk on fire")}

	err := newTestScheduler(repo, &fakeFetcher{}, &fakeProcessor{}, Options{}).Run(context.Background())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSources)
}

func TestRunCycleIsolatesFailures(t *testing.T) {
	sources := []database.Source{
		{ID: 1, Title: "A", URL: "http://a", LastSuccessfulUpdate: stale()},
		{ID: 2, Title: "B", URL: "http://b", LastSuccessfulUpdate: stale()},
		{ID: 3, Title: "C", URL: "http://c", LastSuccessfulUpdate: stale()},
	}
	repo := &fakeRepo{}
	f := &fakeFetcher{docs: map[string]string{"http://a": "doc-a", "http://c": "doc-c"}}
	p := &fakeProcessor{fail: map[string]error{"doc-c": &feed.ParseError{Err: errors.New("bad xml")}}}

	report := newTestScheduler(repo, f, p, Options{}).RunCycle(context.Background(), sources)

	assert.NotEmpty(t, report.ID)
	assert.Equal(t, 2, report.Fetched)
	assert.Equal(t, 1, report.FetchFailed)
	assert.Equal(t, 3, report.Due)
	assert.Equal(t, 1, report.Processed)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Entities)

	require.Len(t, repo.polls, 3)
	assert.Equal(t, int64(1), repo.polls[0].id)
	require.NotNil(t, repo.polls[0].updatedAt)
	assert.Equal(t, testNow, *repo.polls[0].updatedAt)
	assert.Equal(t, int64(2), repo.polls[1].id)
	assert.Nil(t, repo.polls[1].updatedAt)
	assert.Equal(t, int64(3), repo.polls[2].id)
	assert.Nil(t, repo.polls[2].updatedAt)

	for _, s := range sources {
		assert.Equal(t, int64(1), s.PollCount, s.Title)
	}
	assert.Equal(t, testNow, *sources[0].LastSuccessfulUpdate)
	assert.Equal(t, *stale(), *sources[1].LastSuccessfulUpdate)
	assert.Equal(t, *stale(), *sources[2].LastSuccessfulUpdate)

	require.Len(t, p.calls, 2)
	assert.Equal(t, "doc-a", p.calls[0].doc)
	assert.Equal(t, *stale(), *p.calls[0].watermark)
}

func TestRunCycleDueFilter(t *testing.T) {
	fresh := testNow.Add(-time.Minute)
	sources := []database.Source{
		{ID: 1, Title: "never", URL: "http://never"},
		{ID: 2, Title: "fresh", URL: "http://fresh", PollFrequency: time.Hour, LastSuccessfulUpdate: &fresh},
		{ID: 3, Title: "stale", URL: "http://stale", PollFrequency: time.Hour, LastSuccessfulUpdate: stale()},
	}
	docs := map[string]string{"http://never": "n", "http://fresh": "f", "http://stale": "s"}

	t.Run("observed behaviour", func(t *testing.T) {
		repo := &fakeRepo{}
		f := &fakeFetcher{docs: docs}
		p := &fakeProcessor{}
		list := append([]database.Source(nil), sources...)

		report := newTestScheduler(repo, f, p, Options{}).RunCycle(context.Background(), list)

		assert.Equal(t, int32(3), f.calls.Load(), "every source is fetched")
		assert.Equal(t, 1, report.Due)
		require.Len(t, repo.polls, 1)
		assert.Equal(t, int64(3), repo.polls[0].id)
		assert.Zero(t, list[0].PollCount)
		assert.Nil(t, list[0].LastSuccessfulUpdate)
	})

	t.Run("poll never updated", func(t *testing.T) {
		repo := &fakeRepo{}
		p := &fakeProcessor{}
		list := append([]database.Source(nil), sources...)

		report := newTestScheduler(repo, &fakeFetcher{docs: docs}, p, Options{PollNeverUpdated: true}).RunCycle(context.Background(), list)

		assert.Equal(t, 2, report.Due)
		require.Len(t, p.calls, 2)
		assert.Equal(t, "n", p.calls[0].doc)
		assert.Nil(t, p.calls[0].watermark)
		assert.Equal(t, testNow, *list[0].LastSuccessfulUpdate)
	})
}

// barrierFetcher blocks every call until all expected calls have arrived.
type barrierFetcher struct {
	expected int32
	arrived  atomic.Int32
	all      chan struct{}
	once     sync.Once
}

func (f *barrierFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if f.arrived.Add(1) == f.expected {
		f.once.Do(func() { close(f.all) })
	}
	select {
	case <-f.all:
		return []byte(url), nil
	case <-time.After(5 * time.Second):
		return nil, errors.New("fetches were not concurrent")
	}
}

func TestRunCycleFetchesConcurrentlyAndKeepsOrder(t *testing.T) {
	const n = 8
	sources := make([]database.Source, n)
	for i := range sources {
		sources[i] = database.Source{ID: int64(i + 1), Title: fmt.Sprint(i), URL: fmt.Sprintf("http://s%d", i), LastSuccessfulUpdate: stale()}
	}

	repo := &fakeRepo{}
	p := &fakeProcessor{}
	f := &barrierFetcher{expected: n, all: make(chan struct{})}

	report := newTestScheduler(repo, f, p, Options{}).RunCycle(context.Background(), sources)
	assert.Equal(t, n, report.Fetched)
	assert.Equal(t, n, report.Processed)

	require.Len(t, p.calls, n)
	for i, call := range p.calls {
		assert.Equal(t, sources[i].URL, call.doc)
	}
}

func TestRunCycleRecordPollFailure(t *testing.T) {
	sources := []database.Source{{ID: 1, Title: "A", URL: "http://a", LastSuccessfulUpdate: stale()}}
	repo := &fakeRepo{recordErr: errors.New("locked")}

	report := newTestScheduler(repo, &fakeFetcher{docs: map[string]string{"http://a": "doc"}}, &fakeProcessor{}, Options{}).
		RunCycle(context.Background(), sources)

	assert.Equal(t, 1, report.Processed)
	assert.Zero(t, sources[0].PollCount)
	assert.Equal(t, *stale(), *sources[0].LastSuccessfulUpdate)
}

func TestRunInfiniteStopsOnCancel(t *testing.T) {
	repo := &fakeRepo{sources: []database.Source{{ID: 1, Title: "A", URL: "http://a", LastSuccessfulUpdate: stale()}}}
	f := &fakeFetcher{docs: map[string]string{"http://a": "doc"}}

	ctx, cancel := context.WithCancel(context.Background())
	s := New(repo, f, &fakeProcessor{}, Options{Infinite: true, Delay: 10 * time.Millisecond})

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return f.calls.Load() >= 3 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
	}

	repo.mu.Lock()
	defer repo.mu.Unlock()
	assert.Equal(t, 1, repo.lists, "source list is loaded once")
}

func TestRunOnceRunsSingleCycle(t *testing.T) {
	repo := &fakeRepo{sources: []database.Source{{ID: 1, Title: "A", URL: "http://a", LastSuccessfulUpdate: stale()}}}
	f := &fakeFetcher{docs: map[string]string{"http://a": "doc"}}

	require.NoError(t, newTestScheduler(repo, f, &fakeProcessor{}, Options{}).Run(context.Background()))
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Len(t, repo.polls, 1)
}

const cycleRSS = `<?xml version="1.0" encoding="utf-8"?>
<rss version="2.0">
    <channel>
        <title>Feed #11211</title>
        <pubDate>Mon, 21 May 2018 21:58:52 +0300</pubDate>
        <item>
            <title>An Ship, Demolished,</title>
            <pubDate>Mon, 21 May 2018 21:58:52 +0300</pubDate>
            <guid>http://localhost:18000/feed/11211/#an%20ship%2C%20demolished%2C</guid>
            <author>Ford Prefect</author>
            <category>Solar System</category>
        </item>
    </channel>
</rss>
`

func TestCycleEndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/a" {
			w.Write([]byte(cycleRSS))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	db, err := database.Open(filepath.Join(t.TempDir(), "cycle.db"))
	require.NoError(t, err)
	defer db.Close()
	_, _, err = database.RunMigrations(db)
	require.NoError(t, err)

	ctx := context.Background()
	repo := database.NewSourceRepository(db)
	store := database.NewStore(db)

	watermark := time.Date(2018, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, seed := range []database.SourceSeed{
		{Title: "A", URL: server.URL + "/a"},
		{Title: "B", URL: server.URL + "/b"},
	} {
		id, _, err := repo.UpsertSource(ctx, seed)
		require.NoError(t, err)
		require.NoError(t, repo.RecordPoll(ctx, id, &watermark))
	}

	processor, err := feed.NewMapper(store, feed.Options{})
	require.NoError(t, err)

	s := New(repo, fetcher.New(server.Client(), "", time.Second), processor, Options{
		Now: func() time.Time { return testNow },
	})
	require.NoError(t, s.Run(ctx))

	a, err := repo.GetSourceByURL(ctx, server.URL+"/a")
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.PollCount)
	require.NotNil(t, a.LastSuccessfulUpdate)
	assert.True(t, testNow.Equal(*a.LastSuccessfulUpdate))

	b, err := repo.GetSourceByURL(ctx, server.URL+"/b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.PollCount)
	require.NotNil(t, b.LastSuccessfulUpdate)
	assert.True(t, watermark.Equal(*b.LastSuccessfulUpdate))

	items, err := store.Filter(ctx, database.KindItem, nil)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
