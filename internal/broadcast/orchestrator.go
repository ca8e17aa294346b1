// Package broadcast runs the daily morning message: enumerate group
// destinations, drop blacklisted ones, fetch enrichment once, then compose
// and send one message per destination, pacing sends with a random delay.
package broadcast

import (
	"context"
	"fmt"
	"math/rand"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	logx "morningbot/pkg/logx"
)

const weatherFetchConcurrency = 4

type Orchestrator struct {
	deps Deps
	log  logx.Logger

	mu  sync.RWMutex
	cfg Config

	running atomic.Bool

	now    func() time.Time
	intN   func(n int) int
	int64N func(n int64) int64
	sleep  func(ctx context.Context, d time.Duration) error
}

type Option func(*Orchestrator)

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRand replaces the random sources used for greeting selection and pacing.
func WithRand(intN func(int) int, int64N func(int64) int64) Option {
	return func(o *Orchestrator) {
		if intN != nil {
			o.intN = intN
		}
		if int64N != nil {
			o.int64N = int64N
		}
	}
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

func New(deps Deps, cfg Config, opts ...Option) *Orchestrator {
	log := deps.Log
	if log.IsZero() {
		log = logx.Nop()
	}
	o := &Orchestrator{
		deps:   deps,
		log:    log.With(logx.String("comp", "broadcast")),
		cfg:    cfg.normalize(),
		now:    time.Now,
		intN:   rand.Intn,
		int64N: rand.Int63n,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Apply swaps the configuration used by subsequent runs.
func (o *Orchestrator) Apply(cfg Config) {
	o.mu.Lock()
	o.cfg = cfg.normalize()
	o.mu.Unlock()
}

func (o *Orchestrator) config() Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cfg
}

// Run performs one broadcast. Only a failed destination listing is returned
// as an error; per-destination failures are recorded in the report.
func (o *Orchestrator) Run(ctx context.Context) (Report, error) {
	if !o.running.CompareAndSwap(false, true) {
		return Report{}, ErrRunning
	}
	defer o.running.Store(false)

	cfg := o.config()
	rep := Report{RunID: uuid.NewString(), StartedAt: o.now()}
	log := o.log.With(logx.String("run_id", rep.RunID))

	if !cfg.Enabled {
		log.Info("broadcast disabled, skipping run")
		rep.FinishedAt = o.now()
		return rep, nil
	}

	groups, err := o.enumerate(ctx, cfg.GroupSuffix)
	if err != nil {
		log.Error("destination listing failed", logx.Err(err))
		rep.FinishedAt = o.now()
		return rep, fmt.Errorf("list destinations: %w", err)
	}

	targets := o.filter(ctx, groups)
	rep.Total = len(targets)
	rep.Blacklisted = len(groups) - len(targets)

	cityOf, cities := o.resolveCities(ctx, targets, cfg.DefaultCity)
	rep.Cities = cities

	snap := o.enrich(ctx, cfg.HistoryLimit, cities)
	log.Info("broadcast starting",
		logx.Int("destinations", rep.Total),
		logx.Int("blacklisted", rep.Blacklisted),
		logx.Strings("cities", cities),
	)

	for i, id := range targets {
		if err := o.deliver(ctx, cfg, snap, id, cityOf[id]); err != nil {
			rep.Failed++
			rep.Failures = append(rep.Failures, Failure{DestinationID: id, Err: err.Error()})
			log.Warn("send failed", logx.String("destination", id), logx.Err(err))
		} else {
			rep.Sent++
			log.Debug("sent", logx.String("destination", id), logx.String("city", cityOf[id]))
		}
		if i == len(targets)-1 {
			break
		}
		if err := o.sleep(ctx, o.pace(cfg)); err != nil {
			log.Warn("broadcast interrupted", logx.Err(err), logx.Int("remaining", len(targets)-i-1))
			break
		}
	}

	rep.FinishedAt = o.now()
	fields := []logx.Field{
		logx.Int("sent", rep.Sent),
		logx.Int("failed", rep.Failed),
		logx.Duration("took", rep.FinishedAt.Sub(rep.StartedAt)),
	}
	if rep.Failed > 0 {
		log.Warn("broadcast finished with failures", fields...)
	} else {
		log.Info("broadcast finished", fields...)
	}
	return rep, nil
}

// enumerate pages through the contact listing and keeps group ids in
// listing order, first occurrence wins.
func (o *Orchestrator) enumerate(ctx context.Context, suffix string) ([]string, error) {
	var (
		groups []string
		seen   = map[string]struct{}{}
		a, b   int64
	)
	for page := 0; ; page++ {
		if page >= maxPages {
			o.log.Warn("contact listing truncated", logx.Int("pages", page))
			break
		}
		p, err := o.deps.Directory.ListContacts(ctx, a, b)
		if err != nil {
			return nil, err
		}
		for _, id := range p.IDs {
			if !strings.HasSuffix(id, suffix) {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			groups = append(groups, id)
		}
		a, b = p.CursorA, p.CursorB
		if !p.HasMore {
			break
		}
	}
	return groups, nil
}

func (o *Orchestrator) filter(ctx context.Context, ids []string) []string {
	blocked := map[string]struct{}{}
	for _, r := range o.deps.Prefs.ListBlacklist(ctx) {
		blocked[r.DestinationID] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := blocked[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// resolveCities maps each destination to its override or the default city.
// The returned city set always contains the default.
func (o *Orchestrator) resolveCities(ctx context.Context, ids []string, def string) (map[string]string, []string) {
	override := map[string]string{}
	for _, r := range o.deps.Prefs.ListWeather(ctx) {
		if city := strings.TrimSpace(r.City); city != "" {
			override[r.DestinationID] = city
		}
	}
	cityOf := make(map[string]string, len(ids))
	cities := []string{def}
	for _, id := range ids {
		city, ok := override[id]
		if !ok {
			city = def
		}
		cityOf[id] = city
		if !slices.Contains(cities, city) {
			cities = append(cities, city)
		}
	}
	return cityOf, cities
}

func (o *Orchestrator) enrich(ctx context.Context, limit int, cities []string) Snapshot {
	snap := Snapshot{Weather: make(map[string]string, len(cities))}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(weatherFetchConcurrency)
	g.Go(func() error {
		h := o.deps.Enricher.HistoryToday(gctx, limit)
		mu.Lock()
		snap.History = h
		mu.Unlock()
		return nil
	})
	for _, city := range cities {
		city := city
		g.Go(func() error {
			w := o.deps.Enricher.Weather(gctx, city)
			mu.Lock()
			snap.Weather[city] = w
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return snap
}

// deliver composes and sends one message, turning a panic into an error so
// the run continues with the next destination.
func (o *Orchestrator) deliver(ctx context.Context, cfg Config, snap Snapshot, id, city string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	text := Compose(o.now(), snap, city, o.pickGreeting(cfg.Greetings))
	return o.deps.Sender.SendText(ctx, id, text)
}

func (o *Orchestrator) pickGreeting(all [][]string) []string {
	if len(all) == 0 {
		return nil
	}
	return all[o.intN(len(all))]
}

// pace returns a uniform delay in [PaceMin, PaceMax].
func (o *Orchestrator) pace(cfg Config) time.Duration {
	span := int64(cfg.PaceMax - cfg.PaceMin)
	if span <= 0 {
		return cfg.PaceMin
	}
	return cfg.PaceMin + time.Duration(o.int64N(span+1))
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
