package cfg

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Version is set at build time via -ldflags
var Version = "dev"

func GetVersion() string {
	return cmp.Or(Version, "unknown")
}

type rawCfg struct {
	Infinite       bool `short:"i" long:"infinite" env:"WORKER_INFINITE" description:"Keep polling until interrupted instead of running a single cycle"`
	Timeout        int  `short:"t" long:"timeout" env:"WORKER_TIMEOUT" default:"10" description:"Delay between cycles in seconds"`
	PollNewSources bool `long:"poll-new-sources" env:"POLL_NEW_SOURCES" description:"Also poll sources that never had a successful update"`

	DBPath      string `long:"db-path" env:"DB_PATH" default:"./rss-mapper.db" description:"SQLite database file"`
	SourcesFile string `long:"sources" env:"SOURCES_FILE" default:"./sources.yml" description:"YAML file with source definitions to sync on startup"`

	FetchTimeout int    `long:"fetch-timeout" env:"FETCH_TIMEOUT" default:"30" description:"Per-source fetch timeout in seconds"`
	UserAgent    string `long:"user-agent" env:"USER_AGENT" default:"RSS Mapper/1.0" description:"User agent string for HTTP requests"`
	DateFormat   string `long:"date-format" env:"DATE_FORMAT" default:"Mon, 02 Jan 2006 15:04:05 -0700" description:"Go time layout tried first for entry publish dates"`

	Timezone string `long:"timezone" env:"TZ" default:"UTC" description:"Timezone for timestamps (e.g., UTC, America/New_York)"`
	Debug    bool   `long:"debug" env:"DEBUG" description:"Enable debug logging"`
}

var globalCfg *Cfg

// Load reads an optional .env file, then parses os.Args and the environment.
// It returns nil, nil when help was requested.
func Load() (*Cfg, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadArgs(os.Args[1:])
}

func LoadArgs(args []string) (*Cfg, error) {
	var raw rawCfg

	parser := flags.NewParser(&raw, flags.Default)

	if _, err := parser.ParseArgs(args); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok {
			if flagsErr.Type == flags.ErrHelp {
				return nil, nil
			}
		}
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	if raw.Timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %d", raw.Timeout)
	}
	if raw.FetchTimeout <= 0 {
		return nil, fmt.Errorf("fetch timeout must be positive, got %d", raw.FetchTimeout)
	}

	cfg := &Cfg{
		Infinite:       raw.Infinite,
		Timeout:        raw.Timeout,
		PollNewSources: raw.PollNewSources,
		DBPath:         raw.DBPath,
		SourcesFile:    raw.SourcesFile,
		FetchTimeout:   raw.FetchTimeout,
		UserAgent:      raw.UserAgent,
		DateFormat:     raw.DateFormat,
		Timezone:       raw.Timezone,
		Debug:          raw.Debug,
		Version:        GetVersion(),
	}

	if err := applyTimezone(cfg.Timezone); err != nil {
		fmt.Printf("Warning: Invalid timezone '%s', using system default: %v\n", cfg.Timezone, err)
	}

	globalCfg = cfg

	return cfg, nil
}

func Get() *Cfg {
	if globalCfg == nil {
		panic("configuration not loaded - call cfg.Load() first")
	}
	return globalCfg
}

func (c *Cfg) Delay() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

func (c *Cfg) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

func applyTimezone(timezone string) error {
	if timezone == "" {
		return nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return err
	}
	time.Local = loc
	return nil
}
