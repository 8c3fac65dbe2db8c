package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/lysyi3m/rss-mapper/app/cfg"
	"github.com/lysyi3m/rss-mapper/app/database"
	"github.com/lysyi3m/rss-mapper/app/feed"
	"github.com/lysyi3m/rss-mapper/app/fetcher"
	"github.com/lysyi3m/rss-mapper/app/scheduler"
	"github.com/lysyi3m/rss-mapper/app/sources"
)

func main() {
	loaded, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if loaded == nil {
		return
	}

	appCfg := cfg.Get()
	setupLogger(appCfg.Debug)

	if err := run(); err != nil {
		if errors.Is(err, scheduler.ErrNoSources) {
			slog.Warn("Nothing to do, add sources to the sources file", "file", appCfg.SourcesFile)
			return
		}
		slog.Error("Worker failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	appCfg := cfg.Get()

	slog.Info("Starting RSS Mapper worker", "version", appCfg.Version, "db", appCfg.DBPath)

	db, err := database.Open(appCfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}
	slog.Info("Database ready", "schema_version", version, "dirty", dirty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sourceRepo := database.NewSourceRepository(db)

	synced, err := sources.NewLoader(appCfg.SourcesFile).Sync(ctx, sourceRepo)
	if err != nil {
		return err
	}
	slog.Info("Sources synced", "file", appCfg.SourcesFile, "created", synced.Created, "updated", synced.Updated)

	mapper, err := feed.NewMapper(database.NewStore(db), feed.Options{DateFormat: appCfg.DateFormat})
	if err != nil {
		return err
	}

	httpFetcher := fetcher.New(&http.Client{}, appCfg.UserAgent, appCfg.FetchTimeoutDuration())

	worker := scheduler.New(sourceRepo, httpFetcher, mapper, scheduler.Options{
		Infinite:         appCfg.Infinite,
		Delay:            appCfg.Delay(),
		PollNeverUpdated: appCfg.PollNewSources,
	})

	if err := worker.Run(ctx); err != nil {
		return err
	}

	slog.Info("RSS Mapper worker finished")
	return nil
}

func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
}
