// Package pipeline persists collected scrape records.
package pipeline

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/aluiziolira/go-scrape-engine/config"
	"github.com/aluiziolira/go-scrape-engine/models"
)

// OutputWriter defines the interface for record output. Writers never
// mutate the records they are handed.
type OutputWriter interface {
	Write(records []*models.ScrapeRecord) error
	Close() error
	Validate() error
}

// NewWriter builds a writer for the given format and destination.
func NewWriter(format, filename string) (OutputWriter, error) {
	switch format {
	case config.FormatJSONL:
		return NewJSONLWriter(filename)
	case config.FormatCSV:
		return NewCSVWriter(filename)
	case config.FormatSQLite:
		return NewSQLiteWriter(filename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

// Save persists the full record set to destination in the given format.
// Open and write failures are surfaced to the caller; nothing is left
// half-written on success.
func Save(records []*models.ScrapeRecord, destination, format string) error {
	writer, err := NewWriter(format, destination)
	if err != nil {
		return err
	}

	if err := writer.Write(records); err != nil {
		writer.Close()
		return fmt.Errorf("write records: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}

func ensureDir(filename string) error {
	dir := filepath.Dir(filename)
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %q: %w", dir, err)
	}
	return nil
}
