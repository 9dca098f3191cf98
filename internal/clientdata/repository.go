// Package clientdata provides persistent caching for external API client responses.
// Payloads are stored as msgpack blobs with expiration timestamps for cache-first behavior.
package clientdata

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
)

// Cache tables in client_data.db
const (
	TableExchangeRate  = "exchangerate"
	TableBinancePrices = "binance_prices"
	TableNAVQuotes     = "nav_quotes"
)

// AllTables lists all tables in client_data.db for cleanup operations.
var AllTables = []string{
	TableExchangeRate,
	TableBinancePrices,
	TableNAVQuotes,
}

// keyColumns maps every cache table to its primary key column.
var keyColumns = map[string]string{
	TableExchangeRate:  "pair",
	TableBinancePrices: "symbol",
	TableNAVQuotes:     "code",
}

// Repository provides cache operations for client data.
type Repository struct {
	db  *sql.DB
	now func() time.Time
}

// NewRepository creates a new client data repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// validateTable ensures the table name is in our allowed list.
// Table names are interpolated into SQL, so nothing else may pass.
func validateTable(table string) (string, error) {
	keyCol, ok := keyColumns[table]
	if !ok {
		return "", fmt.Errorf("invalid table name: %s", table)
	}
	return keyCol, nil
}

// Store saves data with expiration = now + ttl.
// Uses INSERT OR REPLACE to upsert data.
func (r *Repository) Store(ctx context.Context, table, key string, data interface{}, ttl time.Duration) error {
	keyCol, err := validateTable(table)
	if err != nil {
		return err
	}

	blob, err := msgpack.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode data for %s: %w", table, err)
	}

	expiresAt := r.now().Add(ttl).Unix()

	query := fmt.Sprintf(
		"INSERT OR REPLACE INTO %s (%s, data, expires_at) VALUES (?, ?, ?)",
		table, keyCol,
	)
	if _, err := r.db.ExecContext(ctx, query, key, blob, expiresAt); err != nil {
		return fmt.Errorf("failed to store data in %s: %w", table, err)
	}

	return nil
}

// GetIfFresh decodes the entry for key into out if it has not expired.
// It reports whether a fresh entry was found.
func (r *Repository) GetIfFresh(ctx context.Context, table, key string, out interface{}) (bool, error) {
	found, expiresAt, err := r.load(ctx, table, key, out)
	if err != nil || !found {
		return false, err
	}
	return expiresAt > r.now().Unix(), nil
}

// Get decodes the entry for key into out regardless of expiration and
// returns the entry's expiry. Use it as a fallback when an API call fails.
func (r *Repository) Get(ctx context.Context, table, key string, out interface{}) (bool, time.Time, error) {
	found, expiresAt, err := r.load(ctx, table, key, out)
	if err != nil || !found {
		return false, time.Time{}, err
	}
	return true, time.Unix(expiresAt, 0), nil
}

func (r *Repository) load(ctx context.Context, table, key string, out interface{}) (bool, int64, error) {
	keyCol, err := validateTable(table)
	if err != nil {
		return false, 0, err
	}

	query := fmt.Sprintf("SELECT data, expires_at FROM %s WHERE %s = ?", table, keyCol)

	var (
		blob      []byte
		expiresAt int64
	)
	err = r.db.QueryRowContext(ctx, query, key).Scan(&blob, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, 0, nil
	}
	if err != nil {
		return false, 0, fmt.Errorf("failed to get data from %s: %w", table, err)
	}

	if err := msgpack.Unmarshal(blob, out); err != nil {
		return false, 0, fmt.Errorf("failed to decode %s entry %s: %w", table, key, err)
	}
	return true, expiresAt, nil
}

// Delete removes a specific entry.
func (r *Repository) Delete(ctx context.Context, table, key string) error {
	keyCol, err := validateTable(table)
	if err != nil {
		return err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, keyCol)
	if _, err := r.db.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", table, err)
	}

	return nil
}

// DeleteExpired removes all rows where expires_at < now.
// Returns the number of rows deleted.
func (r *Repository) DeleteExpired(ctx context.Context, table string) (int64, error) {
	if _, err := validateTable(table); err != nil {
		return 0, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE expires_at < ?", table)

	result, err := r.db.ExecContext(ctx, query, r.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired from %s: %w", table, err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected for %s: %w", table, err)
	}

	return deleted, nil
}

// DeleteAllExpired removes all expired entries from all tables.
// Returns a map of table name to number of rows deleted.
func (r *Repository) DeleteAllExpired(ctx context.Context) (map[string]int64, error) {
	results := make(map[string]int64)

	for _, table := range AllTables {
		deleted, err := r.DeleteExpired(ctx, table)
		if err != nil {
			return results, err
		}
		results[table] = deleted
	}

	return results, nil
}

// Count returns the number of entries in table, expired or not.
func (r *Repository) Count(ctx context.Context, table string) (int, error) {
	if _, err := validateTable(table); err != nil {
		return 0, err
	}

	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", table, err)
	}
	return n, nil
}
