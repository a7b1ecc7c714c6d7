package stats

import (
	"math"
	"time"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
)

// Config contains processing-stats configuration
type Config struct {
	JSONLPath       string        `yaml:"jsonl_path" mapstructure:"jsonl_path"`
	DatabaseDriver  string        `yaml:"database_driver" mapstructure:"database_driver"` // postgres or sqlite3
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	QueueSize       int           `yaml:"queue_size" mapstructure:"queue_size"`
	KeepUncertain   int           `yaml:"keep_uncertain" mapstructure:"keep_uncertain"`
	FlushSchedule   string        `yaml:"flush_schedule" mapstructure:"flush_schedule"` // cron spec, serve mode only
}

// Summary aggregates every record seen by a Log.
type Summary struct {
	TotalProcessed         int64   `json:"total_processed"`
	AverageConfidence      float64 `json:"average_confidence"`
	AverageTimeMS          float64 `json:"average_time_ms"`
	AverageEntitiesPerText float64 `json:"average_entities_per_text"`
	UncertainCases         int64   `json:"uncertain_cases"`
	LearnedPatterns        int     `json:"learned_patterns"`
}

// Sink persists stats entries. Sinks are only called from the Log's writer
// goroutine.
type Sink interface {
	WriteRecord(anonymizer.ProcessingRecord) error
	WriteUncertain(anonymizer.UncertainCase) error
	Flush() error
	Close() error
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
