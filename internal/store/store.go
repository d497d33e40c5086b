package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/Feberdin/ha-wallbox-billing/pkg/models"
)

// DB wraps the database connection holding billing baselines
type DB struct {
	conn *sql.DB
}

// New creates a new database connection and initializes the schema
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db := &DB{conn: conn}
	if err := db.initSchema(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	return db, nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// initSchema creates the necessary tables
func (db *DB) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS billing_baseline (
		installation_id TEXT PRIMARY KEY,
		last_reading TEXT NOT NULL,
		last_date TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	`

	_, err := db.conn.Exec(schema)
	return err
}

// Load retrieves the baseline for an installation. A nil result with a nil
// error means no invoice has ever been sent for this installation.
func (db *DB) Load(installationID string) (*models.Baseline, error) {
	query := `
	SELECT last_reading, last_date
	FROM billing_baseline
	WHERE installation_id = ?
	`

	row := db.conn.QueryRow(query, installationID)

	var readingStr, dateStr string
	err := row.Scan(&readingStr, &dateStr)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying baseline: %w", err)
	}

	var b models.Baseline
	b.LastReading, err = decimal.NewFromString(readingStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_reading: %w", err)
	}

	// An empty date is tolerated; the engine applies its own fallback
	if dateStr != "" {
		b.LastDate, err = time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("parsing last_date: %w", err)
		}
	}

	return &b, nil
}

// Save upserts the baseline for an installation (last-write-wins). Exactly
// one row exists per installation; no history is kept.
func (db *DB) Save(installationID string, b models.Baseline) error {
	query := `
	INSERT INTO billing_baseline (installation_id, last_reading, last_date, updated_at)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(installation_id) DO UPDATE SET
		last_reading = excluded.last_reading,
		last_date = excluded.last_date,
		updated_at = excluded.updated_at
	`

	var dateStr string
	if !b.LastDate.IsZero() {
		dateStr = b.LastDate.Format("2006-01-02")
	}
	updatedAt := time.Now().UTC().Format(time.RFC3339)

	_, err := db.conn.Exec(query, installationID, b.LastReading.String(), dateStr, updatedAt)
	if err != nil {
		return fmt.Errorf("saving baseline: %w", err)
	}

	return nil
}

// Delete removes the baseline for an installation. The next billing cycle
// falls back to the configured initial values (administrative reset).
func (db *DB) Delete(installationID string) error {
	_, err := db.conn.Exec(`DELETE FROM billing_baseline WHERE installation_id = ?`, installationID)
	if err != nil {
		return fmt.Errorf("deleting baseline: %w", err)
	}
	return nil
}

// List returns the stored baselines keyed by installation id
func (db *DB) List() (map[string]models.Baseline, error) {
	rows, err := db.conn.Query(`SELECT installation_id, last_reading, last_date FROM billing_baseline`)
	if err != nil {
		return nil, fmt.Errorf("querying baselines: %w", err)
	}
	defer rows.Close()

	results := make(map[string]models.Baseline)
	for rows.Next() {
		var id, readingStr, dateStr string
		if err := rows.Scan(&id, &readingStr, &dateStr); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		var b models.Baseline
		b.LastReading, err = decimal.NewFromString(readingStr)
		if err != nil {
			return nil, fmt.Errorf("parsing last_reading: %w", err)
		}
		if dateStr != "" {
			b.LastDate, err = time.Parse("2006-01-02", dateStr)
			if err != nil {
				return nil, fmt.Errorf("parsing last_date: %w", err)
			}
		}
		results[id] = b
	}

	return results, rows.Err()
}
