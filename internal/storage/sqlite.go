package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"meshmate/internal/schedule"
	logx "meshmate/pkg/logx"

	_ "modernc.org/sqlite"
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
	// Single writer: the registry lock already serializes saves.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
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

func (s *sqliteStore) Load(ctx context.Context) (Snapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT owner_id, id, time, content, channel, created_at, is_command, active,
		        weekdays, weekday_names, is_recurring, executed_dates
		   FROM schedules ORDER BY owner_id, id`)
	if err != nil {
		s.log.Error("query schedules failed", logx.Err(err))
		return Snapshot{}, fmt.Errorf("%w: query: %v", schedule.ErrPersistence, err)
	}
	defer rows.Close()

	raw := map[string][]record{}
	for rows.Next() {
		var (
			owner    string
			r        record
			weekdays sql.NullString
			names    string
			executed string
		)
		if err := rows.Scan(&owner, &r.ID, &r.Time, &r.Content, &r.Channel, &r.CreatedAt,
			&r.IsCommand, &r.Active, &weekdays, &names, &r.IsRecurring, &executed); err != nil {
			return Snapshot{}, fmt.Errorf("%w: scan: %v", schedule.ErrPersistence, err)
		}
		if weekdays.Valid && weekdays.String != "" {
			if err := json.Unmarshal([]byte(weekdays.String), &r.Weekdays); err != nil {
				return Snapshot{}, fmt.Errorf("%w: owner %s schedule #%d weekdays: %v", schedule.ErrPersistence, owner, r.ID, err)
			}
		}
		if err := json.Unmarshal([]byte(names), &r.WeekdayNames); err != nil {
			return Snapshot{}, fmt.Errorf("%w: owner %s schedule #%d weekday_names: %v", schedule.ErrPersistence, owner, r.ID, err)
		}
		if err := json.Unmarshal([]byte(executed), &r.ExecutedDates); err != nil {
			return Snapshot{}, fmt.Errorf("%w: owner %s schedule #%d executed_dates: %v", schedule.ErrPersistence, owner, r.ID, err)
		}
		raw[owner] = append(raw[owner], r)
	}
	if err := rows.Err(); err != nil {
		return Snapshot{}, fmt.Errorf("%w: rows: %v", schedule.ErrPersistence, err)
	}

	snap, err := decodeSnapshot(raw)
	if err != nil {
		s.log.Error("schedule table is corrupt, starting empty", logx.Err(err))
		return Snapshot{}, fmt.Errorf("%w: %v", schedule.ErrPersistence, err)
	}
	return snap, nil
}

func (s *sqliteStore) Save(ctx context.Context, snap Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", schedule.ErrPersistence, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM schedules`); err != nil {
		return fmt.Errorf("%w: clear: %v", schedule.ErrPersistence, err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO schedules(owner_id, id, time, content, channel, created_at, is_command, active,
		                       weekdays, weekday_names, is_recurring, executed_dates)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare: %v", schedule.ErrPersistence, err)
	}
	defer stmt.Close()

	for owner, recs := range encodeSnapshot(snap) {
		for _, r := range recs {
			var weekdays any
			if r.Weekdays != nil {
				b, _ := json.Marshal(r.Weekdays)
				weekdays = string(b)
			}
			names, _ := json.Marshal(r.WeekdayNames)
			executed, _ := json.Marshal(r.ExecutedDates)
			if _, err := stmt.ExecContext(ctx, owner, r.ID, r.Time, r.Content, r.Channel, r.CreatedAt,
				r.IsCommand, r.Active, weekdays, string(names), r.IsRecurring, string(executed)); err != nil {
				return fmt.Errorf("%w: insert %s #%d: %v", schedule.ErrPersistence, owner, r.ID, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", schedule.ErrPersistence, err)
	}
	return nil
}
