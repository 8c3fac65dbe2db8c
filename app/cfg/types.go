package cfg

type Cfg struct {
	// Scheduling
	Infinite       bool
	Timeout        int // seconds between cycles
	PollNewSources bool

	// Storage
	DBPath      string
	SourcesFile string

	// Fetching and mapping
	FetchTimeout int // seconds
	UserAgent    string
	DateFormat   string

	// Application metadata
	Timezone string
	Debug    bool
	Version  string
}
