// Package snapshots extracts exchange rate and asset snapshots and persists
// them as append-only rows.
package snapshots

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/networth/internal/database"
	"github.com/aristath/networth/internal/domain"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Snapshot tables
const (
	TableRates  = "exchange_rate_snapshots"
	TableAssets = "asset_snapshots"
)

// Repository reads and appends snapshot rows in snapshots.db.
// It never updates or deletes rows.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new snapshot repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "snapshots").Logger(),
	}
}

// NextSnapshotTime returns now (UTC) or, if a row of table already has a
// snapshot time at or after now, one nanosecond past it. This keeps snapshot
// times strictly increasing across cycles.
func (r *Repository) NextSnapshotTime(ctx context.Context, table string, now time.Time) (time.Time, error) {
	if table != TableRates && table != TableAssets {
		return time.Time{}, fmt.Errorf("invalid snapshot table: %s", table)
	}

	var last sql.NullInt64
	err := r.db.QueryRowContext(ctx, "SELECT MAX(snapshot_time) FROM "+table).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to read latest snapshot time from %s: %w", table, err)
	}

	now = now.UTC()
	if last.Valid && now.UnixNano() <= last.Int64 {
		return time.Unix(0, last.Int64+1).UTC(), nil
	}
	return now, nil
}

// InsertRateBatch appends one rate extraction batch in a single transaction.
// All rows must share the same snapshot time.
func (r *Repository) InsertRateBatch(ctx context.Context, rows []domain.ExchangeRateSnapshot) error {
	if len(rows) == 0 {
		return fmt.Errorf("refusing to insert an empty rate batch")
	}

	ts := rows[0].SnapshotTime
	for i := range rows {
		row := &rows[i]
		if !row.SnapshotTime.Equal(ts) {
			return fmt.Errorf("rate batch mixes snapshot times %s and %s", ts, row.SnapshotTime)
		}
		if row.FromCurrency == "" || row.ToCurrency == "" || row.FromCurrency == row.ToCurrency {
			return fmt.Errorf("invalid rate pair %s/%s", row.FromCurrency, row.ToCurrency)
		}
		if !row.Rate.IsPositive() {
			return fmt.Errorf("rate %s/%s must be positive, got %s", row.FromCurrency, row.ToCurrency, row.Rate)
		}
		if err := domain.ValidateRateExtra(row.Extra); err != nil {
			return err
		}
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
	}

	createdAt := time.Now().UnixNano()

	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO exchange_rate_snapshots
			(id, from_currency, to_currency, rate, snapshot_time, source, extra, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare rate insert: %w", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			extra, err := marshalExtra(row.Extra)
			if err != nil {
				return err
			}
			_, err = stmt.ExecContext(ctx,
				row.ID,
				row.FromCurrency,
				row.ToCurrency,
				row.Rate.String(),
				row.SnapshotTime.UnixNano(),
				row.Source,
				extra,
				createdAt,
			)
			if err != nil {
				return fmt.Errorf("failed to insert rate %s/%s: %w", row.FromCurrency, row.ToCurrency, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().Int("rows", len(rows)).Time("snapshot_time", ts).Msg("Rate batch inserted")
	return nil
}

// LatestRateBatch returns every row of the most recent rate batch.
// An empty slice (and zero time) means no batch has been written yet.
func (r *Repository) LatestRateBatch(ctx context.Context) ([]domain.ExchangeRateSnapshot, time.Time, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, from_currency, to_currency, rate, snapshot_time, source, extra
		FROM exchange_rate_snapshots
		WHERE snapshot_time = (SELECT MAX(snapshot_time) FROM exchange_rate_snapshots)
		ORDER BY from_currency, to_currency
	`)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to query latest rate batch: %w", err)
	}
	defer rows.Close()

	var batch []domain.ExchangeRateSnapshot
	for rows.Next() {
		var (
			row      domain.ExchangeRateSnapshot
			rate     string
			snapshot int64
			extra    sql.NullString
		)
		if err := rows.Scan(&row.ID, &row.FromCurrency, &row.ToCurrency, &rate, &snapshot, &row.Source, &extra); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scan rate row: %w", err)
		}
		if row.Rate, err = decimal.NewFromString(rate); err != nil {
			return nil, time.Time{}, fmt.Errorf("invalid stored rate %q for %s: %w", rate, row.ID, err)
		}
		row.SnapshotTime = time.Unix(0, snapshot).UTC()
		if row.Extra, err = unmarshalExtra(extra); err != nil {
			return nil, time.Time{}, err
		}
		batch = append(batch, row)
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, fmt.Errorf("error iterating rate rows: %w", err)
	}

	if len(batch) == 0 {
		return nil, time.Time{}, nil
	}
	return batch, batch[0].SnapshotTime, nil
}

// InsertAssetBatch appends one asset extraction batch in a single transaction.
// Every row is validated against the baseline set before anything is written.
func (r *Repository) InsertAssetBatch(ctx context.Context, rows []domain.AssetSnapshot, baselines []string) error {
	if len(rows) == 0 {
		return nil
	}

	ts := rows[0].SnapshotTime
	for i := range rows {
		row := &rows[i]
		if !row.SnapshotTime.Equal(ts) {
			return fmt.Errorf("asset batch mixes snapshot times %s and %s", ts, row.SnapshotTime)
		}
		if err := row.Validate(baselines); err != nil {
			return err
		}
		if row.ID == "" {
			row.ID = uuid.New().String()
		}
	}

	createdAt := time.Now().UTC()

	err := database.WithTransaction(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO asset_snapshots
			(id, platform, asset_type, asset_code, asset_name, currency, balance,
			 base_values, snapshot_time, extra, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return fmt.Errorf("failed to prepare asset insert: %w", err)
		}
		defer stmt.Close()

		for i := range rows {
			row := &rows[i]
			baseValues, err := json.Marshal(row.BaseValues)
			if err != nil {
				return fmt.Errorf("failed to encode base values for %s/%s: %w", row.Platform, row.AssetCode, err)
			}
			extra, err := marshalExtra(row.Extra)
			if err != nil {
				return err
			}
			_, err = stmt.ExecContext(ctx,
				row.ID,
				row.Platform,
				string(row.AssetType),
				row.AssetCode,
				row.AssetName,
				row.Currency,
				row.Balance.String(),
				string(baseValues),
				row.SnapshotTime.UnixNano(),
				extra,
				createdAt.UnixNano(),
			)
			if err != nil {
				return fmt.Errorf("failed to insert asset %s/%s: %w", row.Platform, row.AssetCode, err)
			}
			row.CreatedAt = createdAt
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.log.Debug().Int("rows", len(rows)).Time("snapshot_time", ts).Msg("Asset batch inserted")
	return nil
}

const assetColumns = `id, platform, asset_type, asset_code, asset_name, currency, balance,
	base_values, snapshot_time, extra, created_at`

// LatestAssetsAsOf returns, per (platform, asset_code), the most recent row
// with snapshot_time <= asOf. Rows sharing a snapshot time are resolved by
// the last write.
func (r *Repository) LatestAssetsAsOf(ctx context.Context, asOf time.Time) ([]domain.AssetSnapshot, error) {
	query := `
		SELECT ` + assetColumns + ` FROM (
			SELECT *, ROW_NUMBER() OVER (
				PARTITION BY platform, asset_code
				ORDER BY snapshot_time DESC, rowid DESC
			) AS rn
			FROM asset_snapshots
			WHERE snapshot_time <= ?
		)
		WHERE rn = 1
		ORDER BY platform, asset_code
	`
	return r.queryAssets(ctx, query, asOf.UnixNano())
}

// AssetsInWindow returns every row with from <= snapshot_time < to, ordered
// by snapshot time and insertion order.
func (r *Repository) AssetsInWindow(ctx context.Context, from, to time.Time) ([]domain.AssetSnapshot, error) {
	query := `SELECT ` + assetColumns + ` FROM asset_snapshots
		WHERE snapshot_time >= ? AND snapshot_time < ?
		ORDER BY snapshot_time, rowid`
	return r.queryAssets(ctx, query, from.UnixNano(), to.UnixNano())
}

// AssetsAt returns the rows of one snapshot batch.
func (r *Repository) AssetsAt(ctx context.Context, snapshotTime time.Time) ([]domain.AssetSnapshot, error) {
	query := `SELECT ` + assetColumns + ` FROM asset_snapshots
		WHERE snapshot_time = ?
		ORDER BY rowid`
	return r.queryAssets(ctx, query, snapshotTime.UnixNano())
}

func (r *Repository) queryAssets(ctx context.Context, query string, args ...any) ([]domain.AssetSnapshot, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query asset snapshots: %w", err)
	}
	defer rows.Close()

	var out []domain.AssetSnapshot
	for rows.Next() {
		snap, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset snapshots: %w", err)
	}
	return out, nil
}

func scanAsset(rows *sql.Rows) (domain.AssetSnapshot, error) {
	var (
		snap       domain.AssetSnapshot
		assetType  string
		balance    string
		baseValues string
		snapshot   int64
		extra      sql.NullString
		createdAt  int64
	)
	err := rows.Scan(
		&snap.ID, &snap.Platform, &assetType, &snap.AssetCode, &snap.AssetName,
		&snap.Currency, &balance, &baseValues, &snapshot, &extra, &createdAt,
	)
	if err != nil {
		return snap, fmt.Errorf("failed to scan asset snapshot: %w", err)
	}

	snap.AssetType = domain.AssetType(assetType)
	if snap.Balance, err = decimal.NewFromString(balance); err != nil {
		return snap, fmt.Errorf("invalid stored balance %q for %s: %w", balance, snap.ID, err)
	}
	if err := json.Unmarshal([]byte(baseValues), &snap.BaseValues); err != nil {
		return snap, fmt.Errorf("invalid stored base values for %s: %w", snap.ID, err)
	}
	snap.SnapshotTime = time.Unix(0, snapshot).UTC()
	snap.CreatedAt = time.Unix(0, createdAt).UTC()
	if snap.Extra, err = unmarshalExtra(extra); err != nil {
		return snap, err
	}
	return snap, nil
}

// Counts returns the number of rate and asset rows.
func (r *Repository) Counts(ctx context.Context) (rates, assets int, err error) {
	if err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM exchange_rate_snapshots").Scan(&rates); err != nil {
		return 0, 0, fmt.Errorf("failed to count rate snapshots: %w", err)
	}
	if err = r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM asset_snapshots").Scan(&assets); err != nil {
		return 0, 0, fmt.Errorf("failed to count asset snapshots: %w", err)
	}
	return rates, assets, nil
}

func marshalExtra(e domain.Extra) (sql.NullString, error) {
	if len(e) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode extra: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalExtra(s sql.NullString) (domain.Extra, error) {
	if !s.Valid || strings.TrimSpace(s.String) == "" {
		return nil, nil
	}
	var e domain.Extra
	if err := json.Unmarshal([]byte(s.String), &e); err != nil {
		return nil, fmt.Errorf("invalid stored extra: %w", err)
	}
	return e, nil
}
