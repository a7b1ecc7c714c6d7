package stats

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS processing_records (
	ts           TIMESTAMP NOT NULL,
	text_length  INTEGER NOT NULL,
	entity_count INTEGER NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL,
	method       TEXT NOT NULL,
	latency_ms   DOUBLE PRECISION NOT NULL
);
CREATE TABLE IF NOT EXISTS uncertain_cases (
	ts           TIMESTAMP NOT NULL,
	prefix       TEXT NOT NULL,
	entity_types TEXT NOT NULL,
	confidence   DOUBLE PRECISION NOT NULL
)`

type uncertainRow struct {
	Timestamp   time.Time `db:"ts"`
	Prefix      string    `db:"prefix"`
	EntityTypes string    `db:"entity_types"`
	Confidence  float64   `db:"confidence"`
}

// SQLSink writes stats into Postgres or SQLite.
type SQLSink struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// OpenSQL connects with cfg.DatabaseDriver (postgres by default) and creates
// the tables if needed.
func OpenSQL(cfg *Config, logger *zap.Logger) (*SQLSink, error) {
	driver := cfg.DatabaseDriver
	if driver == "" {
		driver = "postgres"
	}

	db, err := sqlx.Connect(driver, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to connect to database: %v", anonymizer.ErrPersistence, err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: failed to create stats schema: %v", anonymizer.ErrPersistence, err)
		}
	}

	logger.Info("Stats store initialized",
		zap.String("driver", driver),
		zap.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return &SQLSink{db: db, logger: logger}, nil
}

func (s *SQLSink) WriteRecord(r anonymizer.ProcessingRecord) error {
	_, err := s.db.NamedExec(`
		INSERT INTO processing_records (ts, text_length, entity_count, confidence, method, latency_ms)
		VALUES (:ts, :text_length, :entity_count, :confidence, :method, :latency_ms)`, r)
	if err != nil {
		return fmt.Errorf("failed to insert processing record: %w", err)
	}
	return nil
}

func (s *SQLSink) WriteUncertain(c anonymizer.UncertainCase) error {
	types := make([]string, len(c.EntityTypes))
	for i, t := range c.EntityTypes {
		types[i] = string(t)
	}
	_, err := s.db.NamedExec(`
		INSERT INTO uncertain_cases (ts, prefix, entity_types, confidence)
		VALUES (:ts, :prefix, :entity_types, :confidence)`, uncertainRow{
		Timestamp:   c.Timestamp,
		Prefix:      c.Prefix,
		EntityTypes: strings.Join(types, ","),
		Confidence:  c.Confidence,
	})
	if err != nil {
		return fmt.Errorf("failed to insert uncertain case: %w", err)
	}
	return nil
}

// Totals returns the persisted record count and mean confidence.
func (s *SQLSink) Totals(ctx context.Context) (int64, float64, error) {
	var row struct {
		Count int64   `db:"total"`
		Avg   float64 `db:"avg_confidence"`
	}
	err := s.db.GetContext(ctx, &row,
		`SELECT COUNT(*) AS total, COALESCE(AVG(confidence), 0) AS avg_confidence FROM processing_records`)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get stats totals: %w", err)
	}
	return row.Count, row.Avg, nil
}

func (s *SQLSink) Flush() error { return nil }

// Close closes the database connection
func (s *SQLSink) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}
	userPart := url[:at]
	scheme := strings.Index(userPart, "://")
	if idx := strings.LastIndex(userPart, ":"); idx > scheme+2 {
		userPart = userPart[:idx+1] + "***"
	}
	return userPart + url[at:]
}
