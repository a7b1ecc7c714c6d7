package config

import (
	"time"

	"github.com/raaihank/txn-sentinel/internal/cache"
	"github.com/raaihank/txn-sentinel/internal/etl"
	"github.com/raaihank/txn-sentinel/internal/llm"
	"github.com/raaihank/txn-sentinel/internal/ner"
	"github.com/raaihank/txn-sentinel/internal/stats"
)

// Config represents the main configuration structure
type Config struct {
	Server      ServerConfig     `yaml:"server" mapstructure:"server"`
	Anonymizer  AnonymizerConfig `yaml:"anonymizer" mapstructure:"anonymizer"`
	Statistical ner.Config       `yaml:"statistical" mapstructure:"statistical"`
	Adjudicator llm.Config       `yaml:"adjudicator" mapstructure:"adjudicator"`
	Learning    LearningConfig   `yaml:"learning" mapstructure:"learning"`
	Stats       stats.Config     `yaml:"stats" mapstructure:"stats"`
	Batch       etl.Config       `yaml:"batch" mapstructure:"batch"`
	Logging     LoggingConfig    `yaml:"logging" mapstructure:"logging"`
	WebSocket   WebSocketConfig  `yaml:"websocket" mapstructure:"websocket"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port         int             `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration   `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration   `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration   `yaml:"idle_timeout" mapstructure:"idle_timeout"`
	MaxBodyBytes int64           `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
	RateLimit    RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// RateLimitConfig contains per-client API rate limiting
type RateLimitConfig struct {
	Enabled        bool `yaml:"enabled" mapstructure:"enabled"`
	RequestsPerMin int  `yaml:"requests_per_min" mapstructure:"requests_per_min"`
	Burst          int  `yaml:"burst" mapstructure:"burst"`
}

// AnonymizerConfig contains tier thresholds and replacement settings
type AnonymizerConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold" mapstructure:"confidence_threshold"`
	LLMThreshold        float64 `yaml:"llm_threshold" mapstructure:"llm_threshold"`
	ReviewThreshold     float64 `yaml:"review_threshold" mapstructure:"review_threshold"`
	Method              string  `yaml:"method" mapstructure:"method"` // mask, replace or hash
	Language            string  `yaml:"language" mapstructure:"language"`
	ExtensionsFile      string  `yaml:"extensions_file" mapstructure:"extensions_file"`
}

// LearningConfig contains learned-pattern store configuration
type LearningConfig struct {
	Path              string  `yaml:"path" mapstructure:"path"`
	UseLearned        bool    `yaml:"use_learned" mapstructure:"use_learned"`
	LearnedConfidence float64 `yaml:"learned_confidence" mapstructure:"learned_confidence"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"` // json or console
	File   struct {
		Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
		Path    string `yaml:"path" mapstructure:"path"`
	} `yaml:"file" mapstructure:"file"`
}

// WebSocketConfig contains WebSocket configuration
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled" mapstructure:"enabled"`
	Path            string        `yaml:"path" mapstructure:"path"`
	MaxConnections  int           `yaml:"max_connections" mapstructure:"max_connections"`
	ReadBufferSize  int           `yaml:"read_buffer_size" mapstructure:"read_buffer_size"`
	WriteBufferSize int           `yaml:"write_buffer_size" mapstructure:"write_buffer_size"`
	PingInterval    time.Duration `yaml:"ping_interval" mapstructure:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout" mapstructure:"pong_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	MaxMessageSize  int64         `yaml:"max_message_size" mapstructure:"max_message_size"`
	AllowedOrigins  []string      `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	Username        string        `yaml:"username" mapstructure:"username"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Events          struct {
		BroadcastDetections bool `yaml:"broadcast_detections" mapstructure:"broadcast_detections"`
		BroadcastBatches    bool `yaml:"broadcast_batches" mapstructure:"broadcast_batches"`
		BroadcastSystem     bool `yaml:"broadcast_system" mapstructure:"broadcast_system"`
	} `yaml:"events" mapstructure:"events"`
}

// GetDefaults returns a configuration with sensible defaults
func GetDefaults() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
			MaxBodyBytes: 10 << 20,
			RateLimit: RateLimitConfig{
				Enabled:        false,
				RequestsPerMin: 600,
				Burst:          50,
			},
		},
		Anonymizer: AnonymizerConfig{
			ConfidenceThreshold: 0.85,
			LLMThreshold:        0.50,
			ReviewThreshold:     0.50,
			Method:              "mask",
			Language:            "es",
		},
		Statistical: ner.Config{
			Enabled:   false,
			Backend:   "presidio",
			Endpoint:  "http://localhost:5002",
			Language:  "es",
			Timeout:   5 * time.Second,
			MaxLength: 128,
			MinScore:  0.5,
		},
		Adjudicator: llm.Config{
			Enabled:   false,
			Provider:  "ollama",
			Endpoint:  "http://localhost:11434",
			Model:     "qwen2.5:3b",
			APIKeyEnv: "ANTHROPIC_API_KEY",
			Timeout:   20 * time.Second,
			RateLimit: 2,
			Burst:     1,
			Boost:     0.3,
			Breaker: llm.BreakerConfig{
				Threshold: 5,
				Cooldown:  30 * time.Second,
			},
			Cache: cache.Config{
				Backend:        "memory",
				Path:           "data/verdicts.db",
				MaxConnections: 10,
				MinIdleConns:   2,
				KeyPrefix:      "txn-sentinel",
				Staleness:      cache.DefaultStaleness,
			},
		},
		Learning: LearningConfig{
			Path:              "data/learned_patterns.json",
			UseLearned:        false,
			LearnedConfidence: 0.6,
		},
		Stats: stats.Config{
			DatabaseDriver: "postgres",
			MaxOpenConns:   5,
			MaxIdleConns:   2,
			QueueSize:      1024,
			KeepUncertain:  1000,
			FlushSchedule:  "@every 1m",
		},
		Batch: etl.Config{
			WorkerCount:    4,
			QueueSize:      256,
			ProgressReport: 1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		WebSocket: WebSocketConfig{
			Enabled:         true,
			Path:            "/ws",
			MaxConnections:  100,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			PingInterval:    30 * time.Second,
			PongTimeout:     60 * time.Second,
			WriteTimeout:    10 * time.Second,
			MaxMessageSize:  512,
			AllowedOrigins:  []string{"*"},
		},
	}
	cfg.Logging.File.Path = "logs/txn-sentinel.log"
	cfg.WebSocket.Events.BroadcastDetections = true
	cfg.WebSocket.Events.BroadcastBatches = true
	cfg.WebSocket.Events.BroadcastSystem = true
	return cfg
}
