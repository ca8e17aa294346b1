package broadcast

import (
	"context"
	"errors"
	"time"

	"morningbot/internal/prefs"
	"morningbot/internal/transport"
	logx "morningbot/pkg/logx"
)

// ErrRunning is returned by Run while another run is in progress.
var ErrRunning = errors.New("broadcast already running")

// Prefs is the read side of the preference store used by a run.
type Prefs interface {
	ListBlacklist(ctx context.Context) []prefs.Record
	ListWeather(ctx context.Context) []prefs.Record
}

// Enricher produces the optional message blocks. Both methods return
// enrich.Unavailable on failure.
type Enricher interface {
	HistoryToday(ctx context.Context, limit int) string
	Weather(ctx context.Context, city string) string
}

type Deps struct {
	Directory transport.Directory
	Sender    transport.Sender
	Prefs     Prefs
	Enricher  Enricher
	Log       logx.Logger
}

type Config struct {
	Enabled      bool
	DefaultCity  string
	HistoryLimit int
	// Greetings are multi-line templates; one is picked per destination.
	Greetings   [][]string
	PaceMin     time.Duration
	PaceMax     time.Duration
	GroupSuffix string
}

const (
	DefaultCity    = "重庆"
	DefaultPaceMin = time.Second
	DefaultPaceMax = 5 * time.Second

	defaultHistoryLimit = 3
	// maxPages bounds the contact listing loop against a gateway that never
	// clears its continuation flag.
	maxPages = 1000
)

func (c Config) normalize() Config {
	if c.DefaultCity == "" {
		c.DefaultCity = DefaultCity
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = defaultHistoryLimit
	}
	if c.PaceMin <= 0 && c.PaceMax <= 0 {
		c.PaceMin, c.PaceMax = DefaultPaceMin, DefaultPaceMax
	}
	if c.PaceMin < 0 {
		c.PaceMin = 0
	}
	if c.PaceMax < c.PaceMin {
		c.PaceMax = c.PaceMin
	}
	if c.GroupSuffix == "" {
		c.GroupSuffix = transport.GroupSuffix
	}
	return c
}

// Snapshot is the enrichment fetched once per run and shared by every
// destination of that run.
type Snapshot struct {
	History string
	Weather map[string]string
}

type Failure struct {
	DestinationID string
	Err           string
}

// Report summarizes one run.
type Report struct {
	RunID       string
	Total       int
	Blacklisted int
	Sent        int
	Failed      int
	Failures    []Failure
	Cities      []string
	StartedAt   time.Time
	FinishedAt  time.Time
}
