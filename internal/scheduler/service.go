// Package scheduler triggers named jobs on cron schedules in a configured timezone.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	logx "morningbot/pkg/logx"
)

// DefaultBroadcastSchedule is weekdays at 07:00.
const DefaultBroadcastSchedule = "0 7 * * 1-5"

var ErrUnknownJob = errors.New("unknown job")

type Config struct {
	Timezone string // IANA name, empty means local
}

// SecondOptional allows both 5-field and 6-field (with seconds) specs.
var parser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ValidateSchedule reports whether schedule can be registered.
func ValidateSchedule(schedule string) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	_, err = parser.Parse(ps.Spec())
	return err
}

type jobDef struct {
	name    string
	spec    string
	timeout time.Duration
	run     cron.Job // wrapped: skip-if-running + recover
	entryID cron.EntryID
}

type Service struct {
	mu   sync.Mutex
	cfg  Config
	log  logx.Logger
	loc  *time.Location
	c    *cron.Cron
	defs map[string]*jobDef

	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg Config, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		cfg:    cfg,
		log:    log.With(logx.String("comp", "scheduler")),
		defs:   map[string]*jobDef{},
		ctx:    ctx,
		cancel: cancel,
	}
	s.loc = s.loadLocation()
	return s
}

// AddSchedule registers job under name, replacing any previous job of that name.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	return s.AddCron(name, ps.Spec(), timeout, job)
}

func (s *Service) AddCron(name, spec string, timeout time.Duration, job func(ctx context.Context) error) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.New("name required")
	}
	if job == nil {
		return errors.New("job required")
	}
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.removeLocked(name)

	cl := cronLogger{log: s.log.With(logx.String("job", name))}
	d := &jobDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		run:     cron.NewChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)).Then(s.jobFunc(name, timeout, job)),
	}
	s.defs[name] = d
	if s.c != nil {
		if err := s.addLocked(d); err != nil {
			return err
		}
	}
	s.log.Info("schedule registered", logx.String("job", name), logx.String("spec", spec), logx.Duration("timeout", timeout))
	return nil
}

func (s *Service) jobFunc(name string, timeout time.Duration, job func(ctx context.Context) error) cron.FuncJob {
	return func() {
		ctx := s.ctx
		var cancel context.CancelFunc = func() {}
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, timeout)
		}
		defer cancel()

		start := time.Now()
		s.log.Info("job started", logx.String("job", name))
		if err := job(ctx); err != nil {
			s.log.Warn("job failed", logx.String("job", name), logx.Duration("took", time.Since(start)), logx.Err(err))
			return
		}
		s.log.Info("job finished", logx.String("job", name), logx.Duration("took", time.Since(start)))
	}
}

func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(name)
}

func (s *Service) removeLocked(name string) bool {
	d, ok := s.defs[name]
	if !ok {
		return false
	}
	if s.c != nil && d.entryID != 0 {
		s.c.Remove(d.entryID)
	}
	delete(s.defs, name)
	return true
}

func (s *Service) addLocked(d *jobDef) error {
	id, err := s.c.AddJob(d.spec, d.run)
	if err != nil {
		return err
	}
	d.entryID = id
	return nil
}

// RunNow runs a registered job immediately in the background. An in-flight
// run of the same job makes this a no-op.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	d, ok := s.defs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	go d.run.Run()
	return nil
}

// Next returns the next scheduled run of name, or zero if not scheduled.
func (s *Service) Next(name string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.defs[name]
	if !ok || s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(d.entryID).Next
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return
	}
	s.startLocked()
	s.log.Info("service started", logx.String("tz", s.loc.String()), logx.Int("schedules", len(s.defs)))
}

func (s *Service) startLocked() {
	s.c = cron.New(cron.WithParser(parser), cron.WithLocation(s.loc))
	for _, d := range s.defs {
		if err := s.addLocked(d); err != nil {
			s.log.Error("schedule register failed", logx.String("job", d.name), logx.String("spec", d.spec), logx.Err(err))
		}
	}
	s.c.Start()
}

// Apply restarts triggering when the timezone changes.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed := strings.TrimSpace(s.cfg.Timezone) != strings.TrimSpace(cfg.Timezone)
	s.cfg = cfg
	if !changed {
		return
	}
	s.loc = s.loadLocation()
	if s.c == nil {
		return
	}
	// In-flight jobs keep running on s.ctx; only triggering moves.
	s.c.Stop()
	s.startLocked()
	s.log.Info("service restarted", logx.String("tz", s.loc.String()))
}

// Stop stops triggering, cancels running jobs and waits for them until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()

	s.cancel()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
	s.log.Info("service stopped")
}

func (s *Service) loadLocation() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// cronLogger adapts logx to cron.Logger.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.log.Debug("cron: "+msg, logx.Any("kv", kv))
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron: "+msg, logx.Err(err), logx.Any("kv", kv))
}
