// Package prefs is the preference store used by broadcast runs and admin commands.
//
// It wraps a storage.Backend with the failure contract callers rely on:
// mutations report success as a bool (errors are logged, never returned),
// lists degrade to an empty slice. All mutations go through a single writer
// lock so concurrent commands never interleave their writes.
package prefs

import (
	"context"
	"strings"
	"sync"
	"time"

	"morningbot/internal/storage"
	logx "morningbot/pkg/logx"
)

type Record = storage.Record

type Store struct {
	backend storage.Backend
	log     logx.Logger
	now     func() time.Time

	// wmu is the single-writer serialization point.
	wmu sync.Mutex
}

type Option func(*Store)

// WithClock overrides the timestamp source for updated_at.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

func New(backend storage.Backend, log logx.Logger, opts ...Option) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Store{backend: backend, log: log, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) UpsertBlacklist(ctx context.Context, destinationID, displayName string) bool {
	destinationID = strings.TrimSpace(destinationID)
	if destinationID == "" {
		s.log.Warn("blacklist upsert rejected: empty destination id")
		return false
	}
	return s.write("blacklist.upsert", destinationID, func(at time.Time) error {
		return s.backend.UpsertBlacklist(ctx, destinationID, displayName, at)
	}, logx.String("name", displayName))
}

func (s *Store) RemoveBlacklist(ctx context.Context, destinationID string) bool {
	destinationID = strings.TrimSpace(destinationID)
	if destinationID == "" {
		s.log.Warn("blacklist remove rejected: empty destination id")
		return false
	}
	return s.write("blacklist.remove", destinationID, func(time.Time) error {
		return s.backend.DeleteBlacklist(ctx, destinationID)
	})
}

func (s *Store) ListBlacklist(ctx context.Context) []Record {
	return s.read("blacklist.list", func() ([]Record, error) { return s.backend.ListBlacklist(ctx) })
}

func (s *Store) UpsertWeather(ctx context.Context, city, destinationID, displayName string) bool {
	city = strings.TrimSpace(city)
	destinationID = strings.TrimSpace(destinationID)
	if destinationID == "" || city == "" {
		s.log.Warn("weather upsert rejected: empty destination id or city",
			logx.String("to", destinationID), logx.String("city", city))
		return false
	}
	return s.write("weather.upsert", destinationID, func(at time.Time) error {
		return s.backend.UpsertWeather(ctx, city, destinationID, displayName, at)
	}, logx.String("name", displayName), logx.String("city", city))
}

func (s *Store) RemoveWeather(ctx context.Context, destinationID string) bool {
	destinationID = strings.TrimSpace(destinationID)
	if destinationID == "" {
		s.log.Warn("weather remove rejected: empty destination id")
		return false
	}
	return s.write("weather.remove", destinationID, func(time.Time) error {
		return s.backend.DeleteWeather(ctx, destinationID)
	})
}

func (s *Store) ListWeather(ctx context.Context) []Record {
	return s.read("weather.list", func() ([]Record, error) { return s.backend.ListWeather(ctx) })
}

// WeatherCities maps destination id to its configured city.
func (s *Store) WeatherCities(ctx context.Context) map[string]string {
	recs := s.ListWeather(ctx)
	out := make(map[string]string, len(recs))
	for _, r := range recs {
		out[r.DestinationID] = r.City
	}
	return out
}

func (s *Store) write(op, destinationID string, fn func(at time.Time) error, fields ...logx.Field) bool {
	if s.backend == nil {
		s.log.Error("preference write failed: no backend", logx.String("op", op), logx.String("to", destinationID))
		return false
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()

	fields = append([]logx.Field{logx.String("op", op), logx.String("to", destinationID)}, fields...)
	if err := fn(s.now()); err != nil {
		s.log.Error("preference write failed", append(fields, logx.Err(err))...)
		return false
	}
	s.log.Info("preference written", fields...)
	return true
}

func (s *Store) read(op string, fn func() ([]Record, error)) []Record {
	if s.backend == nil {
		return []Record{}
	}
	recs, err := fn()
	if err != nil {
		s.log.Error("preference read failed", logx.String("op", op), logx.Err(err))
		return []Record{}
	}
	if recs == nil {
		return []Record{}
	}
	return recs
}
