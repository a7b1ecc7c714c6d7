package llm

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/raaihank/txn-sentinel/internal/anonymizer"
	"github.com/raaihank/txn-sentinel/internal/cache"
)

// Config contains adjudicator configuration
type Config struct {
	Enabled   bool          `yaml:"enabled" mapstructure:"enabled"`
	Provider  string        `yaml:"provider" mapstructure:"provider"` // ollama or anthropic
	Endpoint  string        `yaml:"endpoint" mapstructure:"endpoint"`
	Model     string        `yaml:"model" mapstructure:"model"`
	APIKeyEnv string        `yaml:"api_key_env" mapstructure:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout" mapstructure:"timeout"`
	RateLimit float64       `yaml:"rate_limit" mapstructure:"rate_limit"` // requests per second
	Burst     int           `yaml:"burst" mapstructure:"burst"`
	Boost     float64       `yaml:"boost" mapstructure:"boost"`
	Breaker   BreakerConfig `yaml:"breaker" mapstructure:"breaker"`
	Cache     cache.Config  `yaml:"cache" mapstructure:"cache"`
}

// BreakerConfig contains circuit breaker configuration
type BreakerConfig struct {
	Threshold int           `yaml:"threshold" mapstructure:"threshold"`
	Cooldown  time.Duration `yaml:"cooldown" mapstructure:"cooldown"`
}

// classify maps a transport outcome onto the anonymizer error kinds:
// network failures, 429 and 5xx are transient; other statuses mean the
// collaborator cannot serve the request.
func classify(err error, status int) error {
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return fmt.Errorf("%w: %v", anonymizer.ErrCollaboratorUnavailable, err)
		}
		return fmt.Errorf("%w: %v", anonymizer.ErrTransient, err)
	}
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return fmt.Errorf("%w: status %d", anonymizer.ErrTransient, status)
	case status != http.StatusOK:
		return fmt.Errorf("%w: status %d", anonymizer.ErrCollaboratorUnavailable, status)
	}
	return nil
}
