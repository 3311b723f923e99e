package pvdb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS pv_readings (
	ts      INTEGER NOT NULL,
	site_id INTEGER NOT NULL,
	reading REAL    NOT NULL,
	PRIMARY KEY (site_id, ts)
);
`

// SQLiteStore is the persistent PV series store. Written once by the data
// acquisition step, read-only during training.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if necessary) a PV reading database. Failure to
// open is fatal to the caller; there is no recovery without the source data.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open pv database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open pv database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init pv schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Insert adds readings in a single transaction. Duplicate (site, ts) pairs
// are replaced, keeping re-ingestion idempotent.
func (s *SQLiteStore) Insert(ctx context.Context, readings []Reading) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO pv_readings (ts, site_id, reading) VALUES (?, ?, ?)")
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, r := range readings {
		if _, err := stmt.ExecContext(ctx, r.Timestamp.UTC().Unix(), r.SiteID, r.Value); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Range returns readings for a site in [from, to], ascending by timestamp.
func (s *SQLiteStore) Range(ctx context.Context, siteID int64, from, to time.Time) ([]Reading, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT ts, reading FROM pv_readings WHERE site_id = ? AND ts BETWEEN ? AND ? ORDER BY ts",
		siteID, from.UTC().Unix(), to.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var ts int64
		var value float64
		if err := rows.Scan(&ts, &value); err != nil {
			return nil, err
		}
		out = append(out, Reading{
			Timestamp: time.Unix(ts, 0).UTC(),
			SiteID:    siteID,
			Value:     value,
		})
	}
	return out, rows.Err()
}

// SiteIDs lists the distinct sites present in the store, ascending.
func (s *SQLiteStore) SiteIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT site_id FROM pv_readings ORDER BY site_id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
