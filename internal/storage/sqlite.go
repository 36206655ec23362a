package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "github.com/Shirozy/Globot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	path := cfg.Path
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	if cfg.BusyTimeout > 0 {
		ms := cfg.BusyTimeout.Milliseconds()
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", ms))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) RecordRelay(ctx context.Context, e RelayEntry) error {
	if s == nil || s.db == nil {
		return ErrDisabled
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO relay_audit(at, guild_id, channel_id, author_id, outcome, destinations, failures)
		 VALUES(?,?,?,?,?,?,?)`,
		e.At.UnixMilli(), e.GuildID, e.ChannelID, e.AuthorID, e.Outcome, e.Destinations, e.Failures,
	)
	return err
}

func (s *sqliteStore) Totals(ctx context.Context, since time.Time) (Totals, error) {
	return s.totalsWhere(ctx, `at >= ?`, since.UnixMilli())
}

func (s *sqliteStore) GuildTotals(ctx context.Context, guildID string, since time.Time) (Totals, error) {
	return s.totalsWhere(ctx, `at >= ? AND guild_id = ?`, since.UnixMilli(), guildID)
}

func (s *sqliteStore) totalsWhere(ctx context.Context, where string, args ...any) (Totals, error) {
	if s == nil || s.db == nil {
		return Totals{}, ErrDisabled
	}
	q := `SELECT
		COALESCE(SUM(CASE WHEN outcome = 'relayed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN outcome = 'blocked' THEN 1 ELSE 0 END), 0)
	FROM relay_audit WHERE ` + where
	var t Totals
	if err := s.db.QueryRowContext(ctx, q, args...).Scan(&t.Relayed, &t.Blocked); err != nil {
		return Totals{}, err
	}
	return t, nil
}
