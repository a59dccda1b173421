// Package sqlstore implements the repository interfaces on top of
// database/sql.
//
// Two drivers are supported:
//   - "sqlite"   → modernc.org/sqlite, a pure Go SQLite (no cgo). Default.
//   - "postgres" → github.com/jackc/pgx/v5 through its database/sql adapter.
//
// Queries are written once with "?" placeholders and rebound to "$1, $2, …"
// for Postgres. The schema is owned by goose migrations embedded in the
// binary, one directory per dialect.
package sqlstore

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// DB owns the connection pool. Repositories are obtained through Users()
// and Transcripts(); they share the pool.
type DB struct {
	conn   *sql.DB
	driver string
}

// Open connects to the database, applies driver-specific settings and runs
// all pending migrations.
//
// For SQLite the pool is limited to a single connection: SQLite allows one
// writer at a time, and per-connection pragmas (foreign_keys) then hold for
// every statement.
func Open(ctx context.Context, driver, dsn string) (*DB, error) {
	var (
		conn *sql.DB
		err  error
	)

	switch driver {
	case DriverSQLite:
		conn, err = sql.Open("sqlite", sqliteDSN(dsn))
	case DriverPostgres:
		conn, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("sqlstore: unsupported driver %q", driver)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: opening database: %w", err)
	}

	if driver == DriverSQLite {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: pinging database: %w", err)
	}

	if driver == DriverSQLite {
		// WAL lets readers proceed while a write is in progress. In-memory
		// databases answer "memory" here, which is fine.
		if _, err := conn.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlstore: setting WAL mode: %w", err)
		}
	}

	db := &DB{conn: conn, driver: driver}

	if err := db.migrate(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlstore: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Users returns the credential store backed by this database.
func (db *DB) Users() *UserDB {
	return &UserDB{db: db}
}

// Transcripts returns the transcript store backed by this database.
func (db *DB) Transcripts() *TranscriptDB {
	return &TranscriptDB{db: db}
}

func (db *DB) migrate(ctx context.Context) error {
	dialect, dir := "sqlite3", "migrations/sqlite"
	if db.driver == DriverPostgres {
		dialect, dir = "postgres", "migrations/postgres"
	}

	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}

	return goose.UpContext(ctx, db.conn, dir)
}

// sqliteDSN appends the pragmas every connection needs. SQLite leaves
// foreign keys off by default, which would disable ON DELETE CASCADE.
func sqliteDSN(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}
