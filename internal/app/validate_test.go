package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"parley/pkg/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Completion.BaseURL = "http://llm.local"
	cfg.Completion.Model = "chat-large"
	return cfg
}

func TestValidateConfig(t *testing.T) {
	dir := t.TempDir()
	cert := filepath.Join(dir, "cert.pem")
	key := filepath.Join(dir, "key.pem")
	require.NoError(t, os.WriteFile(cert, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(key, []byte("x"), 0o600))

	t.Run("ok", func(t *testing.T) {
		require.NoError(t, validateConfig(baseConfig(), dir))
	})

	t.Run("nil config", func(t *testing.T) {
		require.Error(t, validateConfig(nil, dir))
	})

	t.Run("missing db path", func(t *testing.T) {
		require.ErrorContains(t, validateConfig(baseConfig(), ""), "database path")
	})

	t.Run("missing completion url", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Completion.BaseURL = ""
		require.ErrorContains(t, validateConfig(cfg, dir), "completion.base_url")
	})

	t.Run("missing model", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Completion.Model = ""
		require.ErrorContains(t, validateConfig(cfg, dir), "completion.model")
	})

	t.Run("half tls pair", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Server.TLS.CertFile = cert
		require.ErrorContains(t, validateConfig(cfg, dir), "TLS")
	})

	t.Run("full tls pair", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Server.TLS.CertFile = cert
		cfg.Server.TLS.KeyFile = key
		require.NoError(t, validateConfig(cfg, dir))
	})

	t.Run("unreadable seed file", func(t *testing.T) {
		cfg := baseConfig()
		cfg.Characters.SeedFile = filepath.Join(dir, "nope.yaml")
		require.ErrorContains(t, validateConfig(cfg, dir), "seed")
	})
}
