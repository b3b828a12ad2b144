package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/state"
)

// SQLConfig configures the SQL backend. Driver is "postgres" or "sqlite3".
type SQLConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

const schema = `CREATE TABLE IF NOT EXISTS planner_checkpoints (
	run_id     TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	node       TEXT NOT NULL,
	state      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
)`

// Both postgres and sqlite accept ON CONFLICT upserts; only bind vars differ.
const upsert = `INSERT INTO planner_checkpoints (run_id, status, node, state, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (run_id) DO UPDATE SET status = excluded.status, node = excluded.node, state = excluded.state, updated_at = excluded.updated_at`

// SQLStore keeps checkpoints in a single table
type SQLStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewSQLStore opens the database, configures the pool and creates the table.
func NewSQLStore(ctx context.Context, cfg SQLConfig, logger *zap.Logger) (*SQLStore, error) {
	switch cfg.Driver {
	case "postgres", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported checkpoint driver %q", cfg.Driver)
	}
	db, err := sqlx.ConnectContext(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxConnections == 0 {
		cfg.MaxConnections = 10
	}
	if cfg.IdleConnections == 0 {
		cfg.IdleConnections = 2
	}
	if cfg.MaxLifetime == 0 {
		cfg.MaxLifetime = 5 * time.Minute
	}
	if cfg.Driver == "sqlite3" {
		// A shared in-memory database only lives as long as one connection.
		cfg.MaxConnections = 1
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.IdleConnections)
	db.SetConnMaxLifetime(cfg.MaxLifetime)

	s := NewSQLStoreWithDB(db, logger)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStoreWithDB wraps an open handle without migrating
func NewSQLStoreWithDB(db *sqlx.DB, logger *zap.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger}
}

// Migrate creates the checkpoint table if needed
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return nil
}

func (s *SQLStore) Save(ctx context.Context, st *state.RunState) (err error) {
	defer func() { observe("sql", "save", err) }()
	b, err := encode(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(upsert),
		st.RunID, string(st.Status), st.Node.String(), string(b), st.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", st.RunID, err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, runID string) (st *state.RunState, err error) {
	defer func() { observe("sql", "load", err) }()
	var raw string
	err = s.db.GetContext(ctx, &raw, s.db.Rebind(`SELECT state FROM planner_checkpoints WHERE run_id = ?`), runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint %s: %w", runID, err)
	}
	return decode(runID, []byte(raw))
}

func (s *SQLStore) Delete(ctx context.Context, runID string) (err error) {
	defer func() { observe("sql", "delete", err) }()
	_, err = s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM planner_checkpoints WHERE run_id = ?`), runID)
	return err
}

func (s *SQLStore) List(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT run_id FROM planner_checkpoints ORDER BY run_id`); err != nil {
		return nil, fmt.Errorf("failed to list checkpoints: %w", err)
	}
	return ids, nil
}

func (s *SQLStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }
func (s *SQLStore) Close() error                   { return s.db.Close() }
