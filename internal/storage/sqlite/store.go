// Package sqlite persists definition tables and actor progress in SQLite.
//
// Progress is keyed by actor key and mission tag; numeric mission ids are
// local to one catalog load and are never written.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"MissionCore/internal/catalog"
	"MissionCore/internal/mission"
	"MissionCore/internal/session"
	"MissionCore/internal/storage/sqlite/migrations"
	"MissionCore/internal/storage/sqlitemigrate"
	"MissionCore/internal/tags"

	_ "modernc.org/sqlite"
)

// Store persists mission tables and progress in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(context.Background(), sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) ready(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return nil
}

// ImportTable replaces the stored rows of table with its current rows. A
// table imported for the first time is ordered after existing ones.
func (s *Store) ImportTable(ctx context.Context, table catalog.Table) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	name := strings.TrimSpace(table.Name())
	if name == "" {
		return fmt.Errorf("table name is required")
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO mission_tables (name, position, imported_at)
		 VALUES (?, (SELECT COALESCE(MAX(position), -1) + 1 FROM mission_tables), ?)
		 ON CONFLICT(name) DO UPDATE SET imported_at = excluded.imported_at`,
		name, toMillis(time.Now()),
	); err != nil {
		return fmt.Errorf("upsert table %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM mission_rows WHERE table_name = ?`, name); err != nil {
		return fmt.Errorf("clear table %s: %w", name, err)
	}
	for i, row := range table.Rows() {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("encode row %s/%s: %w", name, row.Name, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO mission_rows (table_name, position, name, tag, start_state, row_json)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			name, i, row.Name, row.Tag, row.StartState, string(data),
		); err != nil {
			return fmt.Errorf("insert row %s/%s: %w", name, row.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import %s: %w", name, err)
	}
	return nil
}

// DeleteTable removes a table and its rows.
func (s *Store) DeleteTable(ctx context.Context, name string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx, `DELETE FROM mission_tables WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete table %s: %w", name, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return mission.Errorf(mission.CodeNotFound, "table %q not found", name)
	}
	return nil
}

// TableNames returns stored table names in load order.
func (s *Store) TableNames(ctx context.Context) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT name FROM mission_tables ORDER BY position, name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) tableRows(ctx context.Context, name string) ([]catalog.Row, error) {
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT row_json FROM mission_rows WHERE table_name = ? ORDER BY position`, name)
	if err != nil {
		return nil, fmt.Errorf("query rows of %s: %w", name, err)
	}
	defer rows.Close()
	var out []catalog.Row
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan row of %s: %w", name, err)
		}
		var row catalog.Row
		if err := json.Unmarshal([]byte(raw), &row); err != nil {
			return nil, fmt.Errorf("decode row of %s: %w", name, err)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Tables loads every stored table into memory, in load order.
func (s *Store) Tables(ctx context.Context) ([]*catalog.MemTable, error) {
	names, err := s.TableNames(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*catalog.MemTable, 0, len(names))
	for _, name := range names {
		rows, err := s.tableRows(ctx, name)
		if err != nil {
			return nil, err
		}
		out = append(out, catalog.NewMemTable(name, rows))
	}
	return out, nil
}

// RefreshTable replaces the rows of an in-memory table with the stored ones
// when they differ, which marks the table changed for its catalog.
func (s *Store) RefreshTable(ctx context.Context, table *catalog.MemTable) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	rows, err := s.tableRows(ctx, table.Name())
	if err != nil {
		return err
	}
	if reflect.DeepEqual(table.Rows(), rows) {
		return nil
	}
	table.Replace(rows)
	return nil
}

// SaveProgress implements session.ProgressStore. It replaces everything
// stored for actorKey.
func (s *Store) SaveProgress(ctx context.Context, actorKey string, entries []session.SavedProgress) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	if strings.TrimSpace(actorKey) == "" {
		return fmt.Errorf("actor key is required")
	}
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save %s: %w", actorKey, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM actor_progress WHERE actor_key = ?`, actorKey); err != nil {
		return fmt.Errorf("clear progress %s: %w", actorKey, err)
	}
	now := toMillis(time.Now())
	for _, e := range entries {
		required, err := json.Marshal(e.Progress.Conditions.Required)
		if err != nil {
			return fmt.Errorf("encode required tags %s: %w", e.Tag, err)
		}
		optional, err := json.Marshal(e.Progress.Conditions.Optional)
		if err != nil {
			return fmt.Errorf("encode optional tags %s: %w", e.Tag, err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO actor_progress (
			   actor_key, tag, state, required_json, optional_json,
			   tick_delta, tick_interval, tick_paused, updated_at
			 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			actorKey, string(e.Tag), string(e.Progress.Current), string(required), string(optional),
			e.Tick.DeltaValue, e.Tick.Interval, boolToInt(e.Tick.Paused), now,
		); err != nil {
			return fmt.Errorf("insert progress %s/%s: %w", actorKey, e.Tag, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save %s: %w", actorKey, err)
	}
	return nil
}

// LoadProgress implements session.ProgressStore. Entries come back ordered
// by tag; an unknown key yields no entries.
func (s *Store) LoadProgress(ctx context.Context, actorKey string) ([]session.SavedProgress, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT tag, state, required_json, optional_json, tick_delta, tick_interval, tick_paused
		 FROM actor_progress WHERE actor_key = ? ORDER BY tag`, actorKey)
	if err != nil {
		return nil, fmt.Errorf("query progress %s: %w", actorKey, err)
	}
	defer rows.Close()

	var out []session.SavedProgress
	for rows.Next() {
		var (
			tag, state, required, optional string
			paused                         int
			e                              session.SavedProgress
		)
		if err := rows.Scan(&tag, &state, &required, &optional, &e.Tick.DeltaValue, &e.Tick.Interval, &paused); err != nil {
			return nil, fmt.Errorf("scan progress %s: %w", actorKey, err)
		}
		current, err := mission.ParseState(state)
		if err != nil {
			return nil, fmt.Errorf("progress %s/%s: %w", actorKey, tag, err)
		}
		e.Tag = tags.Tag(tag)
		e.Progress.Current = current
		if err := json.Unmarshal([]byte(required), &e.Progress.Conditions.Required); err != nil {
			return nil, fmt.Errorf("decode required tags %s/%s: %w", actorKey, tag, err)
		}
		if err := json.Unmarshal([]byte(optional), &e.Progress.Conditions.Optional); err != nil {
			return nil, fmt.Errorf("decode optional tags %s/%s: %w", actorKey, tag, err)
		}
		e.Tick.Paused = paused != 0
		out = append(out, e)
	}
	return out, rows.Err()
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
