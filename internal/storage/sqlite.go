//go:build sqlite

package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"

	"popgenval/internal/model"

	_ "modernc.org/sqlite"
)

const sqliteAvailable = true

// SQLiteStore serializes all writers through a single connection. Worker
// goroutines never hold their own handle, so appends from one run cannot
// contend for the database lock; separate processes are covered by WAL and
// the busy timeout.
type SQLiteStore struct {
	path string

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string) *SQLiteStore {
	return &SQLiteStore{path: path}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return err
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, `
		DROP TABLE IF EXISTS results;
		DROP TABLE IF EXISTS runs;
	`); err != nil {
		return fmt.Errorf("drop tables: %w", err)
	}
	return createTables(ctx, db)
}

func (s *SQLiteStore) AppendRows(ctx context.Context, table string, rows []model.Row) error {
	if err := ValidateTableName(table); err != nil {
		return err
	}
	db, err := s.getDB()
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO results (
			table_name, run_id, scenario_key, population_size, alpha, rho, split,
			migration_0, migration_1, dominance, theta, sample_size, generations,
			statistic, class, value
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		sc := row.Scenario
		if _, err := stmt.ExecContext(ctx,
			table, row.RunID, sc.Key(), sc.PopulationSize, sc.Alpha, sc.Rho, sc.Split,
			sc.Migration[0], sc.Migration[1], sc.Dominance, sc.Theta, sc.SampleSize, sc.Generations,
			row.Statistic, row.Class, row.Value,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append %s row: %w", table, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) LoadRows(ctx context.Context, table string) ([]model.Row, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rs, err := db.QueryContext(ctx, `
		SELECT run_id, population_size, alpha, rho, split, migration_0, migration_1,
			dominance, theta, sample_size, generations, statistic, class, value
		FROM results WHERE table_name = ? ORDER BY id
	`, table)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	out := make([]model.Row, 0, 256)
	for rs.Next() {
		row := model.Row{Table: table}
		sc := &row.Scenario
		if err := rs.Scan(
			&row.RunID, &sc.PopulationSize, &sc.Alpha, &sc.Rho, &sc.Split, &sc.Migration[0], &sc.Migration[1],
			&sc.Dominance, &sc.Theta, &sc.SampleSize, &sc.Generations, &row.Statistic, &row.Class, &row.Value,
		); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", table, err)
		}
		out = append(out, row)
	}
	return out, rs.Err()
}

func (s *SQLiteStore) CountRows(ctx context.Context, table string) (int, error) {
	db, err := s.getDB()
	if err != nil {
		return 0, err
	}
	var count int
	err = db.QueryRowContext(ctx, `SELECT COUNT(*) FROM results WHERE table_name = ?`, table).Scan(&count)
	return count, err
}

func (s *SQLiteStore) Tables(ctx context.Context) ([]string, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rs, err := db.QueryContext(ctx, `SELECT DISTINCT table_name FROM results ORDER BY table_name`)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var names []string
	for rs.Next() {
		var name string
		if err := rs.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rs.Err()
}

func (s *SQLiteStore) SaveRunMeta(ctx context.Context, meta model.RunMeta) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	payload, err := EncodeRunMeta(meta)
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (run_id, created_at, schema_version, codec_version, payload)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			created_at = excluded.created_at,
			schema_version = excluded.schema_version,
			codec_version = excluded.codec_version,
			payload = excluded.payload
	`, meta.RunID, meta.CreatedAtUTC.UnixNano(), meta.SchemaVersion, meta.CodecVersion, payload)
	return err
}

func (s *SQLiteStore) GetRunMeta(ctx context.Context, runID string) (model.RunMeta, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return model.RunMeta{}, false, err
	}

	var payload []byte
	err = db.QueryRowContext(ctx, `SELECT payload FROM runs WHERE run_id = ?`, runID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.RunMeta{}, false, nil
		}
		return model.RunMeta{}, false, err
	}

	meta, err := DecodeRunMeta(payload)
	if err != nil {
		return model.RunMeta{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return meta, true, nil
}

func (s *SQLiteStore) ListRunMeta(ctx context.Context) ([]model.RunMeta, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}
	rs, err := db.QueryContext(ctx, `SELECT run_id, payload FROM runs`)
	if err != nil {
		return nil, err
	}
	defer rs.Close()

	var out []model.RunMeta
	for rs.Next() {
		var (
			runID   string
			payload []byte
		)
		if err := rs.Scan(&runID, &payload); err != nil {
			return nil, err
		}
		meta, err := DecodeRunMeta(payload)
		if err != nil {
			return nil, fmt.Errorf("decode run %s: %w", runID, err)
		}
		out = append(out, meta)
	}
	if err := rs.Err(); err != nil {
		return nil, err
	}
	sortRunsNewestFirst(out)
	return out, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, strings.TrimSpace(`
		CREATE TABLE IF NOT EXISTS results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			table_name TEXT NOT NULL,
			run_id TEXT NOT NULL,
			scenario_key TEXT NOT NULL,
			population_size INTEGER NOT NULL,
			alpha REAL NOT NULL,
			rho REAL NOT NULL,
			split REAL NOT NULL,
			migration_0 REAL NOT NULL,
			migration_1 REAL NOT NULL,
			dominance REAL NOT NULL,
			theta REAL NOT NULL,
			sample_size INTEGER NOT NULL,
			generations INTEGER NOT NULL,
			statistic TEXT NOT NULL,
			class INTEGER NOT NULL,
			value REAL NOT NULL
		);
		CREATE INDEX IF NOT EXISTS results_by_table ON results (table_name, scenario_key);
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			schema_version INTEGER NOT NULL,
			codec_version INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`))
	return err
}
