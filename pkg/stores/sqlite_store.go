package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/ledgerexec/ledgerexec/pkg/engine"
	"github.com/ledgerexec/ledgerexec/pkg/hapi"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when an execution does not exist.
var ErrNotFound = errors.New("execution not found")

const defaultListLimit = 50

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	path string
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	// Set defaults
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens a separate database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
	}, nil
}

// Init opens the database and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := s.path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate"
	if s.path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordExecution implements engine.Recorder. The execution and its
// attempts are written in one transaction.
func (s *SQLiteStore) RecordExecution(ctx context.Context, rec *engine.ExecutionRecord) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (id, kind, method, transaction_id, cost, outcome, status, error, attempt_count, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID,
		rec.Kind,
		rec.Method,
		rec.TransactionID,
		int64(rec.Cost),
		rec.Outcome,
		int32(rec.Status),
		nullString(rec.Error),
		len(rec.Attempts),
		rec.StartedAt.UnixNano(),
		rec.CompletedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert execution: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO attempts (execution_id, number, kind, node, outcome, status, error, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare attempt insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range rec.Attempts {
		_, err := stmt.ExecContext(ctx,
			rec.ID,
			a.Number,
			a.Kind,
			a.Node.String(),
			a.Outcome.String(),
			int32(a.Status),
			nullString(a.Error),
			int64(a.Duration),
		)
		if err != nil {
			return fmt.Errorf("failed to insert attempt %d: %w", a.Number, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit execution: %w", err)
	}
	return nil
}

const executionColumns = `id, kind, method, transaction_id, cost, outcome, status, error, attempt_count, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var (
		e                  Execution
		cost               int64
		status             int32
		errMsg             sql.NullString
		started, completed int64
	)
	err := row.Scan(
		&e.ID,
		&e.Kind,
		&e.Method,
		&e.TransactionID,
		&cost,
		&e.Outcome,
		&status,
		&errMsg,
		&e.AttemptCount,
		&started,
		&completed,
	)
	if err != nil {
		return nil, err
	}
	e.Cost = uint64(cost)
	e.Status = hapi.Status(status)
	if errMsg.Valid {
		e.Error = &errMsg.String
	}
	e.StartedAt = time.Unix(0, started).UTC()
	e.CompletedAt = time.Unix(0, completed).UTC()
	return &e, nil
}

// GetExecution retrieves an execution and its attempts by ID
func (s *SQLiteStore) GetExecution(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution: %w", err)
	}

	attempts, err := s.listAttempts(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Attempts = attempts
	return e, nil
}

func (s *SQLiteStore) listAttempts(ctx context.Context, executionID string) ([]Attempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT number, kind, node, outcome, status, error, duration_ns
		FROM attempts
		WHERE execution_id = ?
		ORDER BY number
	`, executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	defer rows.Close()

	attempts := []Attempt{}
	for rows.Next() {
		var (
			a        Attempt
			status   int32
			errMsg   sql.NullString
			duration int64
		)
		if err := rows.Scan(&a.Number, &a.Kind, &a.Node, &a.Outcome, &status, &errMsg, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Status = hapi.Status(status)
		if errMsg.Valid {
			a.Error = &errMsg.String
		}
		a.Duration = time.Duration(duration)
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating attempts: %w", err)
	}
	return attempts, nil
}

// ListExecutions lists executions newest first. Attempts are not loaded.
func (s *SQLiteStore) ListExecutions(ctx context.Context, filter ListFilter) ([]*Execution, error) {
	var (
		where []string
		args  []any
	)
	if filter.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Outcome != "" {
		where = append(where, "outcome = ?")
		args = append(args, filter.Outcome)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	query := `SELECT ` + executionColumns + ` FROM executions`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limit, filter.Offset)

	return s.queryExecutions(ctx, query, args...)
}

// FindByTransactionID returns every execution that used txID, oldest first.
func (s *SQLiteStore) FindByTransactionID(ctx context.Context, txID string) ([]*Execution, error) {
	return s.queryExecutions(ctx,
		`SELECT `+executionColumns+` FROM executions WHERE transaction_id = ? ORDER BY started_at`, txID)
}

func (s *SQLiteStore) queryExecutions(ctx context.Context, query string, args ...any) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	executions := []*Execution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return executions, nil
}

// DeleteExecutionsBefore removes executions started before the cutoff along
// with their attempts.
func (s *SQLiteStore) DeleteExecutionsBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE started_at < ?`, before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to delete executions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
