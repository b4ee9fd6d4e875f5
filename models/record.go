// Package models defines data structures for the scrape engine.
package models

import (
	"encoding/json"
	"time"
)

// ScrapeRecord is the immutable outcome of processing one URL. Error is
// populated exactly when Success is false.
type ScrapeRecord struct {
	URL        string         `json:"url"`
	StatusCode int            `json:"status_code"`
	Content    string         `json:"content,omitempty"`
	Data       map[string]any `json:"data"`
	Timestamp  time.Time      `json:"timestamp"`
	Elapsed    time.Duration  `json:"-"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
}

// MarshalJSON emits the elapsed time as float seconds under the
// processing_time key, matching the persisted formats.
func (r ScrapeRecord) MarshalJSON() ([]byte, error) {
	type alias ScrapeRecord
	return json.Marshal(struct {
		alias
		ProcessingTime float64 `json:"processing_time"`
	}{alias(r), r.Elapsed.Seconds()})
}

// BatchResult summarizes one orchestrator run.
type BatchResult struct {
	StartTime    time.Time
	EndTime      time.Time
	RequestCount int
	SuccessCount int
	ErrorCount   int
	RetryCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
}
