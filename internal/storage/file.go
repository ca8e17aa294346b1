package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	logx "morningbot/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Both tables live in one JSON snapshot. Every mutation rewrites the snapshot
// (temp file + rename) while holding mu; if the write fails the in-memory state
// is restored, so a call either fully applies or not at all.
type fileStore struct {
	log  logx.Logger
	path string

	mu     sync.Mutex
	closed bool
	data   snapshot
}

type snapshot struct {
	Blacklist map[string]Record `json:"blacklist"`
	Weather   map[string]Record `json:"weather"`
}

func openFile(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}

	st := &fileStore{log: log, path: path, data: snapshot{Blacklist: map[string]Record{}, Weather: map[string]Record{}}}
	if err := st.load(); err != nil {
		return nil, err
	}
	log.Debug("file storage opened", logx.String("path", path),
		logx.Int("blacklist", len(st.data.Blacklist)), logx.Int("weather", len(st.data.Weather)))
	return st, nil
}

func (s *fileStore) load() error {
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if len(strings.TrimSpace(string(b))) == 0 {
		return nil
	}
	var snap snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return fmt.Errorf("decode snapshot %s: %w", s.path, err)
	}
	if snap.Blacklist != nil {
		s.data.Blacklist = snap.Blacklist
	}
	if snap.Weather != nil {
		s.data.Weather = snap.Weather
	}
	return nil
}

func (s *fileStore) persistLocked() error {
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.data); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// mutate applies fn to one table and persists; on failure the previous row state is restored.
func (s *fileStore) mutate(table func(*snapshot) map[string]Record, id string, fn func(m map[string]Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	m := table(&s.data)
	prev, had := m[id]
	fn(m)
	if err := s.persistLocked(); err != nil {
		if had {
			m[id] = prev
		} else {
			delete(m, id)
		}
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

func blacklistTable(s *snapshot) map[string]Record { return s.Blacklist }
func weatherTable(s *snapshot) map[string]Record   { return s.Weather }

func (s *fileStore) UpsertBlacklist(_ context.Context, destinationID, displayName string, at time.Time) error {
	return s.mutate(blacklistTable, destinationID, func(m map[string]Record) {
		m[destinationID] = Record{DestinationID: destinationID, DisplayName: displayName, UpdatedAt: at}
	})
}

func (s *fileStore) DeleteBlacklist(_ context.Context, destinationID string) error {
	return s.mutate(blacklistTable, destinationID, func(m map[string]Record) { delete(m, destinationID) })
}

func (s *fileStore) ListBlacklist(_ context.Context) ([]Record, error) {
	return s.list(blacklistTable)
}

func (s *fileStore) UpsertWeather(_ context.Context, city, destinationID, displayName string, at time.Time) error {
	return s.mutate(weatherTable, destinationID, func(m map[string]Record) {
		m[destinationID] = Record{DestinationID: destinationID, DisplayName: displayName, City: city, UpdatedAt: at}
	})
}

func (s *fileStore) DeleteWeather(_ context.Context, destinationID string) error {
	return s.mutate(weatherTable, destinationID, func(m map[string]Record) { delete(m, destinationID) })
}

func (s *fileStore) ListWeather(_ context.Context) ([]Record, error) {
	return s.list(weatherTable)
}

func (s *fileStore) list(table func(*snapshot) map[string]Record) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	m := table(&s.data)
	out := make([]Record, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].DestinationID < out[j].DestinationID
	})
	return out, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
