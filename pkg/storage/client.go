// Package storage is the persistence gateway: the only component that
// speaks SQL. It owns connection pooling, schema migrations, and a set
// of typed repositories, one per schema partition named in the data
// model (sessions, archive, model rate/circuit state, cron, skill
// telemetry). The only other package that imports database/sql is
// pkg/events, which reads and writes its own events table.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
)

//go:embed migrations
var migrationsFS embed.FS

// Client wraps the pooled database handle and exposes one repository
// per owned collection, mirroring the teacher's Client-wraps-Ent shape
// without the generated ORM layer.
type Client struct {
	db *sql.DB

	Sessions  *SessionRepo
	Messages  *MessageRepo
	Archive   *ArchiveRepo
	Models    *ModelStateRepo
	Circuits  *CircuitStateRepo
	CronJobs  *CronJobRepo
	Skills    *SkillInvocationRepo
}

// DB returns the underlying pooled connection for health checks.
func (c *Client) DB() *sql.DB { return c.db }

// Close releases the connection pool.
func (c *Client) Close() error { return c.db.Close() }

// Ping is the gateway's liveness check (a SELECT 1 equivalent), used by
// the health endpoint and the maintenance skill.
func (c *Client) Ping(ctx context.Context) error { return c.db.PingContext(ctx) }

// NewClient opens a pooled connection, applies pending migrations, and
// constructs every typed repository.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	db, err := sql.Open("pgx", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(db, cfg.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Client{
		db:       db,
		Sessions: &SessionRepo{db: db},
		Messages: &MessageRepo{db: db},
		Archive:  &ArchiveRepo{db: db},
		Models:   &ModelStateRepo{db: db},
		Circuits: &CircuitStateRepo{db: db},
		CronJobs: &CronJobRepo{db: db},
		Skills:   &SkillInvocationRepo{db: db},
	}, nil
}

// NewClientFromDB wraps an already-open, already-migrated connection
// (used by tests against a disposable database).
func NewClientFromDB(db *sql.DB) *Client {
	return &Client{
		db:       db,
		Sessions: &SessionRepo{db: db},
		Messages: &MessageRepo{db: db},
		Archive:  &ArchiveRepo{db: db},
		Models:   &ModelStateRepo{db: db},
		Circuits: &CircuitStateRepo{db: db},
		CronJobs: &CronJobRepo{db: db},
		Skills:   &SkillInvocationRepo{db: db},
	}
}

func runMigrations(db *sql.DB, database string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create postgres driver: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, database, driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	// Close only the source driver. Calling m.Close() would also close
	// the database driver, which calls db.Close() on the shared *sql.DB.
	if err := sourceDriver.Close(); err != nil {
		return fmt.Errorf("failed to close migration source: %w", err)
	}

	return nil
}
