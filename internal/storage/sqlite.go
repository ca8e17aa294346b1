package storage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go SQLite driver

	logx "morningbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sqlx.DB
	log logx.Logger
}

// row mirrors a table row; updated_at is stored as unix nanoseconds so ORDER BY is exact.
type row struct {
	DestinationID string `db:"destination_id"`
	DisplayName   string `db:"display_name"`
	City          string `db:"city"`
	UpdatedAt     int64  `db:"updated_at"`
}

func (r row) record() Record {
	return Record{
		DestinationID: r.DestinationID,
		DisplayName:   r.DisplayName,
		City:          r.City,
		UpdatedAt:     time.Unix(0, r.UpdatedAt),
	}
}

func openSQLite(cfg Config, log logx.Logger) (Backend, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite prefers a single writer connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("execute %s: %w", p, err)
		}
	}

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite storage opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, string(b)); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// inTx runs fn in a transaction; any error rolls the whole call back.
func (s *sqliteStore) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	if s == nil || s.db == nil {
		return ErrClosed
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed: %w (rollback also failed: %s)", err, rbErr.Error())
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *sqliteStore) UpsertBlacklist(ctx context.Context, destinationID, displayName string, at time.Time) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO good_morning_blacklist(destination_id, display_name, updated_at) VALUES(?,?,?)
			 ON CONFLICT(destination_id) DO UPDATE SET
			   display_name = excluded.display_name,
			   updated_at = excluded.updated_at`,
			destinationID, displayName, at.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("upsert blacklist %s: %w", destinationID, err)
		}
		return nil
	})
}

func (s *sqliteStore) DeleteBlacklist(ctx context.Context, destinationID string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM good_morning_blacklist WHERE destination_id = ?`, destinationID); err != nil {
			return fmt.Errorf("delete blacklist %s: %w", destinationID, err)
		}
		return nil
	})
}

func (s *sqliteStore) ListBlacklist(ctx context.Context) ([]Record, error) {
	return s.list(ctx,
		`SELECT destination_id, display_name, '' AS city, updated_at
		 FROM good_morning_blacklist ORDER BY updated_at DESC, id DESC`)
}

func (s *sqliteStore) UpsertWeather(ctx context.Context, city, destinationID, displayName string, at time.Time) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO good_morning_weather(city, destination_id, display_name, updated_at) VALUES(?,?,?,?)
			 ON CONFLICT(destination_id) DO UPDATE SET
			   city = excluded.city,
			   display_name = excluded.display_name,
			   updated_at = excluded.updated_at`,
			city, destinationID, displayName, at.UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("upsert weather %s: %w", destinationID, err)
		}
		return nil
	})
}

func (s *sqliteStore) DeleteWeather(ctx context.Context, destinationID string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM good_morning_weather WHERE destination_id = ?`, destinationID); err != nil {
			return fmt.Errorf("delete weather %s: %w", destinationID, err)
		}
		return nil
	})
}

func (s *sqliteStore) ListWeather(ctx context.Context) ([]Record, error) {
	return s.list(ctx,
		`SELECT destination_id, display_name, city, updated_at
		 FROM good_morning_weather ORDER BY updated_at DESC, id DESC`)
}

func (s *sqliteStore) list(ctx context.Context, query string) ([]Record, error) {
	if s == nil || s.db == nil {
		return nil, ErrClosed
	}
	var rows []row
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("list: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.record())
	}
	return out, nil
}
