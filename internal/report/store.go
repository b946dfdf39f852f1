package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/kjstillabower/aqi-watch/internal/models"
)

// Store is the append-only report log.
type Store interface {
	Append(ctx context.Context, r models.Report) error
	Recent(ctx context.Context, limit int) ([]models.Report, error)
	Close() error
}

const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const schema = `CREATE TABLE IF NOT EXISTS reports (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	email        TEXT NOT NULL,
	location     TEXT NOT NULL,
	complaint    TEXT NOT NULL,
	submitted_at TIMESTAMP NOT NULL
)`

// SQLStore keeps reports in SQLite or PostgreSQL.
type SQLStore struct {
	db *sqlx.DB
}

// ParseDSN picks the driver for dsn. postgres:// and postgresql:// URLs use
// PostgreSQL; anything else is a SQLite path, with an optional sqlite3:// prefix.
func ParseDSN(dsn string) (driver, source string) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return DriverPostgres, dsn
	case strings.HasPrefix(dsn, "sqlite3://"):
		return DriverSQLite, strings.TrimPrefix(dsn, "sqlite3://")
	default:
		return DriverSQLite, dsn
	}
}

// OpenSQLStore connects, pings and creates the reports table if needed.
func OpenSQLStore(ctx context.Context, dsn string) (*SQLStore, error) {
	driver, source := ParseDSN(dsn)
	if driver == DriverSQLite && source != ":memory:" && !strings.HasPrefix(source, "file:") {
		if err := os.MkdirAll(filepath.Dir(source), 0o755); err != nil {
			return nil, fmt.Errorf("create report store directory: %w", err)
		}
	}
	db, err := sqlx.Open(driver, source)
	if err != nil {
		return nil, fmt.Errorf("open %s report store: %w", driver, err)
	}
	if driver == DriverSQLite {
		// SQLite serializes writers; one connection also keeps :memory: databases shared.
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s report store: %w", driver, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate report store: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Append inserts r.
func (s *SQLStore) Append(ctx context.Context, r models.Report) error {
	r.Timestamp = r.Timestamp.UTC()
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO reports (id, name, email, location, complaint, submitted_at)
		 VALUES (:id, :name, :email, :location, :complaint, :submitted_at)`, r)
	if err != nil {
		return fmt.Errorf("insert report %s: %w", r.ID, err)
	}
	return nil
}

// Recent returns up to limit reports, newest first.
func (s *SQLStore) Recent(ctx context.Context, limit int) ([]models.Report, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []models.Report
	query := s.db.Rebind(`SELECT id, name, email, location, complaint, submitted_at
		FROM reports ORDER BY submitted_at DESC, id LIMIT ?`)
	if err := s.db.SelectContext(ctx, &out, query, limit); err != nil {
		return nil, fmt.Errorf("select reports: %w", err)
	}
	for i := range out {
		out[i].Timestamp = out[i].Timestamp.UTC()
	}
	return out, nil
}

// Ping checks the database connection. Used for health checks.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
