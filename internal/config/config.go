package config

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
)

var (
	mu      sync.Mutex
	current *viper.Viper
)

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	config := GetDefaults()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/txn-sentinel/")
	v.AddConfigPath("$HOME/.txn-sentinel/")

	// Environment variable overrides, e.g. SENTINEL_ANONYMIZER_LLM_THRESHOLD
	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	registerDefaults(v, "", reflect.ValueOf(config).Elem())

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mu.Lock()
	current = v
	mu.Unlock()

	return config, nil
}

// registerDefaults declares every leaf key so AutomaticEnv can override keys
// that are absent from the config file.
func registerDefaults(v *viper.Viper, prefix string, val reflect.Value) {
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		key := field.Tag.Get("mapstructure")
		if key == "" || key == "-" {
			continue
		}
		if prefix != "" {
			key = prefix + "." + key
		}
		fv := val.Field(i)
		if fv.Kind() == reflect.Struct {
			registerDefaults(v, key, fv)
			continue
		}
		v.SetDefault(key, fv.Interface())
	}
}

// validateConfig validates the loaded configuration
func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if rl := config.Server.RateLimit; rl.Enabled && rl.RequestsPerMin <= 0 {
		return fmt.Errorf("invalid rate_limit requests_per_min: %d", rl.RequestsPerMin)
	}

	a := config.Anonymizer
	for name, v := range map[string]float64{
		"confidence_threshold": a.ConfidenceThreshold,
		"llm_threshold":        a.LLMThreshold,
		"review_threshold":     a.ReviewThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("invalid anonymizer %s: %v (must be within [0, 1])", name, v)
		}
	}
	if a.LLMThreshold > a.ConfidenceThreshold {
		return fmt.Errorf("llm_threshold %v above confidence_threshold %v", a.LLMThreshold, a.ConfidenceThreshold)
	}
	if _, err := anonymizer.ParseReplaceMethod(a.Method); err != nil {
		return err
	}

	if l := config.Learning.LearnedConfidence; l < 0 || l > 1 {
		return fmt.Errorf("invalid learned_confidence: %v (must be within [0, 1])", l)
	}

	switch config.Statistical.Backend {
	case "presidio", "onnx":
	default:
		return fmt.Errorf("invalid statistical backend: %s (must be presidio or onnx)", config.Statistical.Backend)
	}

	switch config.Adjudicator.Provider {
	case "ollama", "anthropic":
	default:
		return fmt.Errorf("invalid adjudicator provider: %s (must be ollama or anthropic)", config.Adjudicator.Provider)
	}

	switch config.Adjudicator.Cache.Backend {
	case "", "memory", "bbolt", "redis":
	default:
		return fmt.Errorf("invalid cache backend: %s (must be memory, bbolt, or redis)", config.Adjudicator.Cache.Backend)
	}

	switch config.Stats.DatabaseDriver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid stats database driver: %s (must be postgres or sqlite3)", config.Stats.DatabaseDriver)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Thresholds converts the anonymizer section into engine thresholds.
func (c *Config) Thresholds() anonymizer.Thresholds {
	return anonymizer.Thresholds{
		Confidence: c.Anonymizer.ConfidenceThreshold,
		LLM:        c.Anonymizer.LLMThreshold,
		Review:     c.Anonymizer.ReviewThreshold,
	}
}

// Watch starts watching the configuration file loaded by the last Load call.
// Invalid reloads are logged and ignored.
func Watch(logger *zap.Logger, callback func(*Config)) error {
	mu.Lock()
	v := current
	mu.Unlock()
	if v == nil {
		return fmt.Errorf("config not loaded")
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			logger.Warn("Failed to reload config", zap.String("file", e.Name), zap.Error(err))
			return
		}

		if err := validateConfig(newConfig); err != nil {
			logger.Warn("Ignoring invalid config change", zap.String("file", e.Name), zap.Error(err))
			return
		}

		logger.Info("Configuration reloaded", zap.String("file", e.Name))
		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
