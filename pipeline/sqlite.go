package pipeline

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/aluiziolira/go-scrape-engine/models"
)

// SQLiteWriter persists records into a fixed-schema table.
type SQLiteWriter struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteWriter opens (or creates) the database file and ensures the
// schema exists.
func NewSQLiteWriter(filename string) (*SQLiteWriter, error) {
	if err := ensureDir(filename); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", filename+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// SQLite only supports one writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable wal mode: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS scrape_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		status_code INTEGER,
		data TEXT,
		timestamp TEXT,
		processing_time REAL,
		success BOOLEAN,
		error TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_scrape_results_url ON scrape_results(url);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteWriter{db: db}, nil
}

// Write inserts the records in a single transaction; either all rows land
// or none do.
func (sw *SQLiteWriter) Write(records []*models.ScrapeRecord) error {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	tx, err := sw.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO scrape_results
		(url, status_code, data, timestamp, processing_time, success, error)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, record := range records {
		data, err := json.Marshal(record.Data)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("encode record data: %w", err)
		}

		var recordErr sql.NullString
		if record.Error != "" {
			recordErr = sql.NullString{String: record.Error, Valid: true}
		}

		if _, err := stmt.Exec(
			record.URL,
			record.StatusCode,
			string(data),
			record.Timestamp.Format(time.RFC3339Nano),
			record.Elapsed.Seconds(),
			record.Success,
			recordErr,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("insert record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (sw *SQLiteWriter) Close() error {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	return sw.db.Close()
}

// Validate ensures at least one row was persisted.
func (sw *SQLiteWriter) Validate() error {
	var count int
	if err := sw.db.QueryRow("SELECT COUNT(*) FROM scrape_results").Scan(&count); err != nil {
		return fmt.Errorf("count rows: %w", err)
	}
	if count == 0 {
		return fmt.Errorf("scrape_results table is empty")
	}
	return nil
}
