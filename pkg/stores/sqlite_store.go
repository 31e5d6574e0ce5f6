package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

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

	return &SQLiteStore{
		path: cfg.Path,
		cfg:  cfg,
	}, nil
}

// Init initializes the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

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

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
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

// CreateDeployment creates a new deployment record
func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *Deployment) error {
	query := `
		INSERT INTO deployments (id, source, status, policies, changed, failed, started_at, completed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		d.ID,
		d.Source,
		d.Status,
		d.Policies,
		d.Changed,
		d.Failed,
		d.StartedAt,
		d.CompletedAt,
		d.CreatedAt,
		d.UpdatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	return nil
}

// CompleteDeployment finalizes a deployment with its outcome counters
func (s *SQLiteStore) CompleteDeployment(ctx context.Context, id string, status DeploymentStatus, changed, failed int) error {
	query := `
		UPDATE deployments
		SET status = ?, changed = ?, failed = ?, completed_at = ?, updated_at = ?
		WHERE id = ?
	`

	now := time.Now()
	result, err := s.db.ExecContext(ctx, query, status, changed, failed, now, now, id)
	if err != nil {
		return fmt.Errorf("failed to complete deployment: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("deployment not found: %s", id)
	}

	return nil
}

// GetDeployment retrieves a deployment by ID
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	query := `
		SELECT id, source, status, policies, changed, failed, started_at, completed_at, created_at, updated_at
		FROM deployments
		WHERE id = ?
	`

	d := &Deployment{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&d.ID,
		&d.Source,
		&d.Status,
		&d.Policies,
		&d.Changed,
		&d.Failed,
		&d.StartedAt,
		&d.CompletedAt,
		&d.CreatedAt,
		&d.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deployment not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	return d, nil
}

// ListDeployments lists deployments with pagination, newest first
func (s *SQLiteStore) ListDeployments(ctx context.Context, limit, offset int) ([]*Deployment, error) {
	query := `
		SELECT id, source, status, policies, changed, failed, started_at, completed_at, created_at, updated_at
		FROM deployments
		ORDER BY started_at DESC
		LIMIT ? OFFSET ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	var deployments []*Deployment
	for rows.Next() {
		d := &Deployment{}
		err := rows.Scan(
			&d.ID,
			&d.Source,
			&d.Status,
			&d.Policies,
			&d.Changed,
			&d.Failed,
			&d.StartedAt,
			&d.CompletedAt,
			&d.CreatedAt,
			&d.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		deployments = append(deployments, d)
	}

	return deployments, rows.Err()
}

// RecordRevision appends a per-policy outcome to a deployment
func (s *SQLiteStore) RecordRevision(ctx context.Context, rev *FunctionRevision) error {
	query := `
		INSERT INTO function_revisions (id, deployment_id, policy, action, code_sha256, version, alias_arn, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rev.ID,
		rev.DeploymentID,
		rev.Policy,
		rev.Action,
		rev.CodeSha256,
		rev.Version,
		rev.AliasArn,
		rev.Error,
		rev.CreatedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to record revision: %w", err)
	}

	return nil
}

// ListRevisions lists the per-policy outcomes of a deployment
func (s *SQLiteStore) ListRevisions(ctx context.Context, deploymentID string) ([]*FunctionRevision, error) {
	query := `
		SELECT id, deployment_id, policy, action, code_sha256, version, alias_arn, error, created_at
		FROM function_revisions
		WHERE deployment_id = ?
		ORDER BY policy
	`

	rows, err := s.db.QueryContext(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list revisions: %w", err)
	}
	defer rows.Close()

	var revisions []*FunctionRevision
	for rows.Next() {
		rev := &FunctionRevision{}
		err := rows.Scan(
			&rev.ID,
			&rev.DeploymentID,
			&rev.Policy,
			&rev.Action,
			&rev.CodeSha256,
			&rev.Version,
			&rev.AliasArn,
			&rev.Error,
			&rev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan revision: %w", err)
		}
		revisions = append(revisions, rev)
	}

	return revisions, rows.Err()
}

// LatestRevision returns the most recent outcome for a policy function
func (s *SQLiteStore) LatestRevision(ctx context.Context, policy string) (*FunctionRevision, error) {
	query := `
		SELECT id, deployment_id, policy, action, code_sha256, version, alias_arn, error, created_at
		FROM function_revisions
		WHERE policy = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	rev := &FunctionRevision{}
	err := s.db.QueryRowContext(ctx, query, policy).Scan(
		&rev.ID,
		&rev.DeploymentID,
		&rev.Policy,
		&rev.Action,
		&rev.CodeSha256,
		&rev.Version,
		&rev.AliasArn,
		&rev.Error,
		&rev.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("no revisions for policy: %s", policy)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest revision: %w", err)
	}

	return rev, nil
}

// HealthCheck verifies the database connection
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
