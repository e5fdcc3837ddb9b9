package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// RuntimeConfig holds runtime key sets other packages may query after startup.
type RuntimeConfig struct {
	SigningKeys map[string]struct{}
}

// Config is the main configuration struct.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Completion  CompletionConfig  `yaml:"completion"`
	Guard       GuardConfig       `yaml:"guard"`
	Idempotency IdempotencyConfig `yaml:"idempotency"`
	Workers     WorkersConfig     `yaml:"workers"`
	Mirror      MirrorConfig      `yaml:"mirror"`
	Security    SecurityConfig    `yaml:"security"`
	Logging     LoggingConfig     `yaml:"logging"`
	Sweep       SweepConfig       `yaml:"sweep"`
	Characters  CharactersConfig  `yaml:"characters"`
}

// ServerConfig holds http, tls and storage settings.
type ServerConfig struct {
	Address string    `yaml:"address"`
	Port    int       `yaml:"port"`
	DBPath  string    `yaml:"db_path"`
	TLS     TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate configuration.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// CompletionConfig configures the upstream text-completion service.
type CompletionConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	// FallbackModels are tried in order when the preferred model is
	// reported unavailable
	FallbackModels []string `yaml:"fallback_models"`
	Timeout        Duration `yaml:"timeout"`
	MaxAttempts    int      `yaml:"max_attempts"`
	// Base decoding profile; per-attempt nudges are derived from it
	Temperature       float64  `yaml:"temperature"`
	TopP              float64  `yaml:"top_p"`
	RepetitionPenalty float64  `yaml:"repetition_penalty"`
	PresencePenalty   float64  `yaml:"presence_penalty"`
	FrequencyPenalty  float64  `yaml:"frequency_penalty"`
	Stop              []string `yaml:"stop"`
	MaxTokens         int      `yaml:"max_tokens"`
}

// GuardConfig tunes prompt composition and reply validation.
type GuardConfig struct {
	// PacingThreshold is the user-turn count below which NSFW sessions get
	// the slow-burn pacing directive
	PacingThreshold int `yaml:"pacing_threshold"`
	HistoryMessages int `yaml:"history_messages"`
	HistoryBudget   int `yaml:"history_budget"`
	ItemTrim        int `yaml:"item_trim"`
	UserTurnTrim    int `yaml:"user_turn_trim"`
	// Free-tier format band
	FreeMinWords     int `yaml:"free_min_words"`
	FreeMaxWords     int `yaml:"free_max_words"`
	FreeMinSentences int `yaml:"free_min_sentences"`
	FreeMaxSentences int `yaml:"free_max_sentences"`
}

// IdempotencyConfig controls the duplicate-submission window.
type IdempotencyConfig struct {
	TTL Duration `yaml:"ttl"`
	// RedisAddr enables the shared redis window; empty means the
	// in-process cache
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

// WorkersConfig bounds concurrent upstream completions.
type WorkersConfig struct {
	PerUser int      `yaml:"per_user"`
	Global  int      `yaml:"global"`
	Wait    Duration `yaml:"wait"`
	// IdleEvict reclaims per-user entries unused for this long
	IdleEvict Duration `yaml:"idle_evict"`
}

// MirrorConfig tunes the best-effort mirror fan-out.
type MirrorConfig struct {
	QueueCapacity int `yaml:"queue_capacity"`
	Workers       int `yaml:"workers"`
}

// SecurityConfig holds security related settings.
type SecurityConfig struct {
	CORS struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	SigningKeys []string `yaml:"signing_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SweepConfig schedules background maintenance (idle worker eviction,
// expired cache keys).
type SweepConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// CharactersConfig points at the read-only persona seed file.
type CharactersConfig struct {
	SeedFile string `yaml:"seed_file"`
}

// Addr returns host:port for the HTTP server.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	p := c.Server.Port
	if p == 0 {
		p = 8080
	}
	return fmt.Sprintf("%s:%d", addr, p)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from
// strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
