package etl

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
)

// TransactionRow is the Parquet layout of an extracted bank transaction.
type TransactionRow struct {
	ID          string  `parquet:"id" json:"id"`
	Date        string  `parquet:"date" json:"date"`
	Description string  `parquet:"description,optional" json:"description"`
	Concept     string  `parquet:"concept,optional" json:"concept"`
	Notes       string  `parquet:"notes,optional" json:"notes"`
	Amount      float64 `parquet:"amount" json:"amount"`
	Currency    string  `parquet:"currency,optional" json:"currency"`
	Category    string  `parquet:"category,optional" json:"category"`
}

func (r TransactionRow) record() anonymizer.Record {
	return anonymizer.Record{
		"id":          r.ID,
		"date":        r.Date,
		"description": r.Description,
		"concept":     r.Concept,
		"notes":       r.Notes,
		"amount":      r.Amount,
		"currency":    r.Currency,
		"category":    r.Category,
	}
}

// withText returns r with the text fields taken from rec. Every other field
// keeps its original value.
func (r TransactionRow) withText(rec anonymizer.Record) TransactionRow {
	if s, ok := rec["description"].(string); ok {
		r.Description = s
	}
	if s, ok := rec["concept"].(string); ok {
		r.Concept = s
	}
	if s, ok := rec["notes"].(string); ok {
		r.Notes = s
	}
	return r
}

// ProcessingResult represents the result of anonymizing a transaction file
type ProcessingResult struct {
	RunID          string                        `json:"run_id"`
	TotalRecords   int64                         `json:"total_records"`
	Processed      int64                         `json:"processed"`
	Failed         int64                         `json:"failed"`
	FailedIDs      []string                      `json:"failed_ids"`
	EntitiesByType map[anonymizer.EntityType]int `json:"entities_by_type"`
	ReviewCount    int64                         `json:"review_count"`
	Duration       time.Duration                 `json:"duration"`
	Errors         []string                      `json:"errors,omitempty"`
	Cancelled      bool                          `json:"cancelled,omitempty"`
}

// Config contains batch pipeline configuration
type Config struct {
	WorkerCount    int `yaml:"workers" mapstructure:"workers"`                 // 4
	QueueSize      int `yaml:"queue_size" mapstructure:"queue_size"`           // 256
	ProgressReport int `yaml:"progress_report" mapstructure:"progress_report"` // 1000
}

// ProcessingStats tracks real-time processing statistics
type ProcessingStats struct {
	RunID          string    `json:"run_id"`
	StartTime      time.Time `json:"start_time"`
	RecordsRead    int64     `json:"records_read"`
	RecordsDone    int64     `json:"records_done"`
	RecordsFailed  int64     `json:"records_failed"`
	ProcessingRate float64   `json:"processing_rate"` // records per second
}

// FileFormat represents supported file formats
type FileFormat string

const (
	FormatCSV     FileFormat = "csv"
	FormatParquet FileFormat = "parquet"
	FormatJSON    FileFormat = "json"
)

// DetectFileFormat detects file format from extension. JSON-lines files
// (.jsonl, .ndjson) are read as JSON.
func DetectFileFormat(filename string) FileFormat {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".parquet":
		return FormatParquet
	case ".json", ".jsonl", ".ndjson":
		return FormatJSON
	default:
		return FormatCSV
	}
}
