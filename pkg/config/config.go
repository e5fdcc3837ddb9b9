package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	runtimeMu  sync.RWMutex
	runtimeCfg *RuntimeConfig
)

// SetRuntime sets the canonical runtime config used by the running server.
func SetRuntime(rc *RuntimeConfig) {
	runtimeMu.Lock()
	defer runtimeMu.Unlock()
	runtimeCfg = rc
}

// GetSigningKeys returns a copy of configured signing keys.
func GetSigningKeys() map[string]struct{} {
	runtimeMu.RLock()
	defer runtimeMu.RUnlock()
	out := map[string]struct{}{}
	if runtimeCfg == nil || runtimeCfg.SigningKeys == nil {
		return out
	}
	for k := range runtimeCfg.SigningKeys {
		out[k] = struct{}{}
	}
	return out
}

// Load reads the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero-valued tunables with the documented defaults so
// callers always see usable numbers.
func ApplyDefaults(cfg *Config) {
	if cfg.Completion.Timeout == 0 {
		cfg.Completion.Timeout = Duration(60 * time.Second)
	}
	if cfg.Completion.MaxAttempts == 0 {
		cfg.Completion.MaxAttempts = 3
	}
	if cfg.Completion.Temperature == 0 {
		cfg.Completion.Temperature = 0.8
	}
	if cfg.Completion.TopP == 0 {
		cfg.Completion.TopP = 0.9
	}
	if cfg.Completion.RepetitionPenalty == 0 {
		cfg.Completion.RepetitionPenalty = 1.1
	}
	if cfg.Completion.MaxTokens == 0 {
		cfg.Completion.MaxTokens = 512
	}
	if cfg.Guard.PacingThreshold == 0 {
		cfg.Guard.PacingThreshold = 8
	}
	if cfg.Guard.HistoryMessages == 0 {
		cfg.Guard.HistoryMessages = 10
	}
	if cfg.Guard.HistoryBudget == 0 {
		cfg.Guard.HistoryBudget = 3500
	}
	if cfg.Guard.ItemTrim == 0 {
		cfg.Guard.ItemTrim = 600
	}
	if cfg.Guard.UserTurnTrim == 0 {
		cfg.Guard.UserTurnTrim = 2000
	}
	if cfg.Guard.FreeMinWords == 0 {
		cfg.Guard.FreeMinWords = 40
	}
	if cfg.Guard.FreeMaxWords == 0 {
		cfg.Guard.FreeMaxWords = 90
	}
	if cfg.Guard.FreeMinSentences == 0 {
		cfg.Guard.FreeMinSentences = 3
	}
	if cfg.Guard.FreeMaxSentences == 0 {
		cfg.Guard.FreeMaxSentences = 4
	}
	if cfg.Idempotency.TTL == 0 {
		cfg.Idempotency.TTL = Duration(15 * time.Second)
	}
	if cfg.Workers.PerUser == 0 {
		cfg.Workers.PerUser = 2
	}
	if cfg.Workers.Global == 0 {
		cfg.Workers.Global = 32
	}
	if cfg.Workers.Wait == 0 {
		cfg.Workers.Wait = Duration(30 * time.Second)
	}
	if cfg.Workers.IdleEvict == 0 {
		cfg.Workers.IdleEvict = Duration(10 * time.Minute)
	}
	if cfg.Mirror.QueueCapacity == 0 {
		cfg.Mirror.QueueCapacity = 1024
	}
	if cfg.Mirror.Workers == 0 {
		cfg.Mirror.Workers = 2
	}
	if cfg.Sweep.Cron == "" {
		cfg.Sweep.Cron = "*/5 * * * *"
	}
}

// ParseCommandFlags defines and parses command-line flags and returns their
// values along with a map indicating which flags were explicitly set.
func ParseCommandFlags() (addr string, dbPath string, cfgPath string, setFlags map[string]bool) {
	addrPtr := flag.String("addr", ":8080", "HTTP listen address")
	dbPtr := flag.String("db", "./.database", "Pebble DB path")
	cfgPtr := flag.String("config", "./config.yaml", "Path to config file")
	flag.Parse()
	setFlags = map[string]bool{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return *addrPtr, *dbPtr, *cfgPtr, setFlags
}

// LoadEnvOverrides applies environment overrides onto the provided cfg and
// returns the derived signing key set plus whether env vars were used.
func LoadEnvOverrides(cfg *Config) (map[string]struct{}, bool) {
	envUsed := false
	parseList := func(v string) []string {
		if v == "" {
			return nil
		}
		parts := []string{}
		for _, p := range strings.Split(v, ",") {
			if s := strings.TrimSpace(p); s != "" {
				parts = append(parts, s)
			}
		}
		return parts
	}

	if v := os.Getenv("PARLEY_ADDR"); v != "" {
		envUsed = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("PARLEY_DB_PATH"); v != "" {
		envUsed = true
		cfg.Server.DBPath = v
	}
	if v := os.Getenv("PARLEY_COMPLETION_URL"); v != "" {
		envUsed = true
		cfg.Completion.BaseURL = v
	}
	if v := os.Getenv("PARLEY_COMPLETION_API_KEY"); v != "" {
		envUsed = true
		cfg.Completion.APIKey = v
	}
	if v := os.Getenv("PARLEY_COMPLETION_MODEL"); v != "" {
		envUsed = true
		cfg.Completion.Model = v
	}
	if v := os.Getenv("PARLEY_COMPLETION_FALLBACKS"); v != "" {
		envUsed = true
		cfg.Completion.FallbackModels = parseList(v)
	}
	if v := os.Getenv("PARLEY_REDIS_ADDR"); v != "" {
		envUsed = true
		cfg.Idempotency.RedisAddr = v
	}
	if v := os.Getenv("PARLEY_SIGNING_KEYS"); v != "" {
		envUsed = true
		cfg.Security.SigningKeys = parseList(v)
	}
	if v := os.Getenv("PARLEY_CORS_ORIGINS"); v != "" {
		envUsed = true
		cfg.Security.CORS.AllowedOrigins = parseList(v)
	}
	if v := os.Getenv("PARLEY_RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			envUsed = true
			cfg.Security.RateLimit.RPS = f
		}
	}
	if v := os.Getenv("PARLEY_RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			envUsed = true
			cfg.Security.RateLimit.Burst = n
		}
	}
	if v := os.Getenv("PARLEY_CHARACTER_SEED"); v != "" {
		envUsed = true
		cfg.Characters.SeedFile = v
	}
	if c := os.Getenv("PARLEY_TLS_CERT"); c != "" {
		envUsed = true
		cfg.Server.TLS.CertFile = c
	}
	if k := os.Getenv("PARLEY_TLS_KEY"); k != "" {
		envUsed = true
		cfg.Server.TLS.KeyFile = k
	}

	signingKeys := map[string]struct{}{}
	for _, k := range cfg.Security.SigningKeys {
		signingKeys[k] = struct{}{}
	}
	return signingKeys, envUsed
}

// LoadEffective loads config from the given path and applies environment
// overrides and defaults. A missing file is not fatal; env and defaults
// still apply.
func LoadEffective(path string) (*Config, map[string]struct{}, bool, error) {
	cfg, err := Load(path)
	if err != nil {
		cfg = &Config{}
	}
	signingKeys, envUsed := LoadEnvOverrides(cfg)
	ApplyDefaults(cfg)
	return cfg, signingKeys, envUsed, nil
}

// ResolveConfigPath decides the config file path using the flag-provided
// value and the PARLEY_CONFIG env var when the flag was not set.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("PARLEY_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
