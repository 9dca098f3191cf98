// Package database opens the SQLite databases used by the pipeline and applies
// their embedded schemas.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed schemas/*.sql
var schemaFS embed.FS

// Database names with an embedded schema
const (
	NameSnapshots  = "snapshots"
	NameClientData = "client_data"
)

var schemaFiles = map[string]string{
	NameSnapshots:  "schemas/snapshots_schema.sql",
	NameClientData: "schemas/client_data_schema.sql",
}

// DatabaseProfile defines different configuration profiles for databases
type DatabaseProfile string

const (
	// ProfileLedger - maximum durability for append-only fact tables
	ProfileLedger DatabaseProfile = "ledger"
	// ProfileCache - maximum speed for data that can be refetched
	ProfileCache DatabaseProfile = "cache"
	// ProfileStandard - balanced settings
	ProfileStandard DatabaseProfile = "standard"
)

// DB wraps a *sql.DB opened with profile-specific PRAGMAs
type DB struct {
	conn    *sql.DB
	path    string
	profile DatabaseProfile
	name    string
}

// Config holds database configuration
type Config struct {
	Path    string
	Profile DatabaseProfile
	Name    string // used in logs and to find the embedded schema
}

// New opens (creating if needed) the database described by cfg.
func New(cfg Config) (*DB, error) {
	if !strings.HasPrefix(cfg.Path, "file:") {
		absPath, err := filepath.Abs(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve database path %s: %w", cfg.Path, err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		cfg.Path = absPath
	}

	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	conn, err := sql.Open("sqlite", buildConnectionString(cfg.Path, cfg.Profile))
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
	}
	configureConnectionPool(conn, cfg.Profile)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{
		conn:    conn,
		path:    cfg.Path,
		profile: cfg.Profile,
		name:    cfg.Name,
	}, nil
}

// buildConnectionString appends the profile PRAGMAs to path
func buildConnectionString(path string, profile DatabaseProfile) string {
	pragmas := []string{"journal_mode(WAL)", "busy_timeout(5000)"}

	switch profile {
	case ProfileLedger:
		pragmas = append(pragmas,
			"synchronous(FULL)", // fsync every commit
			"auto_vacuum(NONE)", // append-only, never shrinks
		)
	case ProfileCache:
		pragmas = append(pragmas,
			"synchronous(OFF)",
			"auto_vacuum(FULL)",
			"temp_store(MEMORY)",
		)
	default:
		pragmas = append(pragmas,
			"synchronous(NORMAL)",
			"auto_vacuum(INCREMENTAL)",
			"temp_store(MEMORY)",
		)
	}

	pragmas = append(pragmas,
		"foreign_keys(1)",
		"wal_autocheckpoint(1000)",
		"cache_size(-32000)", // 32MB
	)

	return path + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
}

func configureConnectionPool(conn *sql.DB, profile DatabaseProfile) {
	conn.SetMaxOpenConns(16)
	conn.SetMaxIdleConns(4)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	if profile == ProfileCache {
		conn.SetMaxOpenConns(8)
		conn.SetMaxIdleConns(2)
	}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying sql.DB used by repositories
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Name returns the database name
func (db *DB) Name() string {
	return db.name
}

// Profile returns the database profile
func (db *DB) Profile() DatabaseProfile {
	return db.profile
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// Migrate applies the embedded schema for this database, if it has one.
// Schemas only use IF NOT EXISTS statements, so running it again is a no-op.
func (db *DB) Migrate() error {
	schemaFile, ok := schemaFiles[db.name]
	if !ok {
		return nil
	}

	content, err := schemaFS.ReadFile(schemaFile)
	if err != nil {
		return fmt.Errorf("failed to read schema %s: %w", schemaFile, err)
	}

	return WithTransaction(context.Background(), db.conn, func(tx *sql.Tx) error {
		if _, err := tx.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute schema %s for %s: %w", schemaFile, db.name, err)
		}
		return nil
	})
}

// WithTransaction runs fn inside a transaction, committing on success and
// rolling back when fn returns an error or panics.
func WithTransaction(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
			return
		}
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rbErr)
			} else {
				err = fmt.Errorf("transaction failed: %w", err)
			}
			return
		}
		if commitErr := tx.Commit(); commitErr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", commitErr)
		}
	}()

	return fn(tx)
}

// HealthCheck pings the database and runs PRAGMA quick_check
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", db.name, err)
	}

	var result string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&result); err != nil {
		return fmt.Errorf("quick check query failed for %s: %w", db.name, err)
	}
	if result != "ok" {
		return fmt.Errorf("quick check failed for %s: %s", db.name, result)
	}

	return nil
}

// WALCheckpoint forces a WAL checkpoint. Mode defaults to TRUNCATE.
func (db *DB) WALCheckpoint(ctx context.Context, mode string) error {
	switch mode {
	case "":
		mode = "TRUNCATE"
	case "PASSIVE", "FULL", "RESTART", "TRUNCATE":
	default:
		return fmt.Errorf("invalid WAL checkpoint mode %q", mode)
	}

	if _, err := db.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)); err != nil {
		return fmt.Errorf("WAL checkpoint failed for %s: %w", db.name, err)
	}

	return nil
}

// VacuumInto writes a compacted, consistent copy of the database to dest.
// dest must not exist.
func (db *DB) VacuumInto(ctx context.Context, dest string) error {
	if _, err := db.conn.ExecContext(ctx, "VACUUM INTO ?", dest); err != nil {
		return fmt.Errorf("vacuum into %s failed for %s: %w", dest, db.name, err)
	}

	return nil
}

// Stats returns database statistics
type Stats struct {
	Name          string `json:"name"`
	Profile       string `json:"profile"`
	SizeBytes     int64  `json:"size_bytes"`
	WALSizeBytes  int64  `json:"wal_size_bytes"`
	PageCount     int64  `json:"page_count"`
	PageSize      int64  `json:"page_size"`
	FreelistCount int64  `json:"freelist_count"`
}

// GetStats retrieves file sizes and page statistics
func (db *DB) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{Name: db.name, Profile: string(db.profile)}

	if fi, err := os.Stat(db.path); err == nil {
		stats.SizeBytes = fi.Size()
	}
	if fi, err := os.Stat(db.path + "-wal"); err == nil {
		stats.WALSizeBytes = fi.Size()
	}

	for pragma, dest := range map[string]*int64{
		"page_count":     &stats.PageCount,
		"page_size":      &stats.PageSize,
		"freelist_count": &stats.FreelistCount,
	} {
		if err := db.conn.QueryRowContext(ctx, "PRAGMA "+pragma).Scan(dest); err != nil {
			return nil, fmt.Errorf("failed to get %s for %s: %w", pragma, db.name, err)
		}
	}

	return stats, nil
}
