package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openfroyo/stratum/pkg/fault"
	"github.com/openfroyo/stratum/pkg/process"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	cfg  Config
	now  func() time.Time
	path string
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fault.NewInvalidArgument("database path is required", nil)
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 8
	}
	// every connection to :memory: opens a distinct database
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns = 1
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	return &SQLiteStore{
		cfg:  cfg,
		path: cfg.Path,
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) dsn() string {
	params := []string{
		fmt.Sprintf("_pragma=busy_timeout(%d)", s.cfg.BusyTimeout.Milliseconds()),
		"_pragma=foreign_keys(1)",
		"_txlock=immediate",
	}
	if s.path != memoryPath {
		params = append(params, "_pragma=journal_mode(WAL)", "_pragma=synchronous(NORMAL)")
	}
	return fmt.Sprintf("file:%s?%s", s.path, strings.Join(params, "&"))
}

// Init opens the database connection and verifies it.
func (s *SQLiteStore) Init(ctx context.Context) error {
	db, err := sql.Open("sqlite", s.dsn())
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)
	if s.path == memoryPath {
		// closing the last connection would drop the database
		db.SetConnMaxLifetime(0)
		db.SetMaxIdleConns(1)
	}

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

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// GetSettings returns the settings of an instance, or ResourceNotFound.
func (s *SQLiteStore) GetSettings(ctx context.Context, instanceID string) (*Settings, error) {
	query := `
		SELECT instance_id, settings, created_at, updated_at
		FROM instance_settings
		WHERE instance_id = ?
	`

	var (
		st   Settings
		data string
	)
	err := s.db.QueryRowContext(ctx, query, instanceID).Scan(&st.InstanceID, &data, &st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.NewNotFound(fmt.Sprintf("settings for instance %q not found", instanceID), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	st.Data = json.RawMessage(data)
	return &st, nil
}

// PutSettings creates or replaces the settings of an instance. data must
// be a JSON document.
func (s *SQLiteStore) PutSettings(ctx context.Context, instanceID string, data []byte) error {
	if instanceID == "" {
		return fault.NewInvalidArgument("instance id is required", nil)
	}
	if !json.Valid(data) {
		return fault.NewInvalidArgument(fmt.Sprintf("settings for instance %q are not valid JSON", instanceID), nil)
	}

	query := `
		INSERT INTO instance_settings (instance_id, settings, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(instance_id) DO UPDATE SET
			settings = excluded.settings,
			updated_at = excluded.updated_at
	`

	now := s.now()
	if _, err := s.db.ExecContext(ctx, query, instanceID, string(data), now, now); err != nil {
		return fmt.Errorf("failed to put settings: %w", err)
	}
	return nil
}

// DeleteSettings removes the settings of an instance. Deleting absent
// settings succeeds.
func (s *SQLiteStore) DeleteSettings(ctx context.Context, instanceID string) error {
	query := `DELETE FROM instance_settings WHERE instance_id = ?`

	if _, err := s.db.ExecContext(ctx, query, instanceID); err != nil {
		return fmt.Errorf("failed to delete settings: %w", err)
	}
	return nil
}

// ListInstances returns the ids of every instance with settings.
func (s *SQLiteStore) ListInstances(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instance_id FROM instance_settings ORDER BY instance_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan instance id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating instances: %w", err)
	}
	return ids, nil
}

// RecordCall appends one dispatched call to the audit trail.
func (s *SQLiteStore) RecordCall(ctx context.Context, rec process.CallRecord) error {
	query := `
		INSERT INTO cpi_calls (
			request_id, caller, backend, operation, outcome,
			error_kind, message, started_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.RequestID,
		rec.Caller,
		rec.Backend,
		rec.Operation,
		rec.Outcome,
		rec.ErrorKind,
		rec.Message,
		rec.StartedAt.UTC(),
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}
	return nil
}

// ListCalls returns audited calls, newest first.
func (s *SQLiteStore) ListCalls(ctx context.Context, filter CallFilter) ([]process.CallRecord, error) {
	query := `
		SELECT request_id, caller, backend, operation, outcome,
			error_kind, message, started_at, duration_ms
		FROM cpi_calls
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.RequestID != "" {
		query += " AND request_id = ?"
		args = append(args, filter.RequestID)
	}
	if filter.Operation != "" {
		query += " AND operation = ?"
		args = append(args, filter.Operation)
	}
	if filter.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, filter.Outcome)
	}
	query += " ORDER BY started_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list calls: %w", err)
	}
	defer rows.Close()

	calls := []process.CallRecord{}
	for rows.Next() {
		var (
			rec        process.CallRecord
			durationMS int64
		)
		err := rows.Scan(
			&rec.RequestID,
			&rec.Caller,
			&rec.Backend,
			&rec.Operation,
			&rec.Outcome,
			&rec.ErrorKind,
			&rec.Message,
			&rec.StartedAt,
			&durationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		calls = append(calls, rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating calls: %w", err)
	}

	return calls, nil
}
