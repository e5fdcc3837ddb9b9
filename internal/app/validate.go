package app

import (
	"fmt"
	"os"

	"parley/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services. Keep checks light
// and focused so callers can surface user-friendly errors.
func validateConfig(cfg *config.Config, dbPath string) error {
	if cfg == nil {
		return fmt.Errorf("no configuration loaded")
	}
	if dbPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, PARLEY_DB_PATH env, or server.db_path in config")
	}

	cert := cfg.Server.TLS.CertFile
	key := cfg.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	if cfg.Completion.BaseURL == "" {
		return fmt.Errorf("completion.base_url is empty: set PARLEY_COMPLETION_URL or completion.base_url in config")
	}
	if cfg.Completion.Model == "" {
		return fmt.Errorf("completion.model is empty: set PARLEY_COMPLETION_MODEL or completion.model in config")
	}

	if p := cfg.Characters.SeedFile; p != "" {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("character seed file not accessible: %w", err)
		}
	}

	return nil
}
