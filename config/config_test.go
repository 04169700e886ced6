package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/reminsight/feature"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, "training_provenance.json", cfg.Artifacts.ProvenanceFile)
	assert.Equal(t, feature.PolicyStrict, cfg.Policy())
	assert.True(t, cfg.Explain.Enabled)
	assert.Len(t, cfg.GuardRules(), 10)
}

func TestLoad_YAMLThenEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, `
server:
  port: 9000
  allowed_origins: ["https://a.example"]
artifacts:
  root: /srv/models
  debounce: 5s
preprocess:
  policy: lenient
explain:
  enabled: false
  top_k: 3
schema:
  rules:
    - name: tst
      expr: "row.TST_min <= 900.0"
history:
  backend: redis
`)
	t.Setenv("PORT", "9100")
	t.Setenv("MODEL_VERSION", "v20250101")
	t.Setenv("SHAP_ENABLED", "true")
	t.Setenv("ALLOWED_ORIGINS", "https://b.example,https://c.example")
	t.Setenv("PROVENANCE_PATH", "/abs/path/to/provenance.json")
	t.Setenv("REDIS_ADDR", "redis:6380")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.Port)
	assert.Equal(t, []string{"https://b.example", "https://c.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "/srv/models", cfg.Artifacts.Root)
	assert.Equal(t, 5*time.Second, cfg.Artifacts.Debounce)
	assert.Equal(t, "v20250101", cfg.Artifacts.PinnedVersion)
	assert.Equal(t, "provenance.json", cfg.Artifacts.ProvenanceFile)
	assert.Equal(t, feature.PolicyLenient, cfg.Policy())
	assert.True(t, cfg.Explain.Enabled)
	assert.Equal(t, 3, cfg.Explain.TopK)
	assert.Equal(t, "redis", cfg.History.Backend)
	assert.Equal(t, "redis:6380", cfg.History.Redis.Addr)
	require.Len(t, cfg.GuardRules(), 1)
	assert.Equal(t, "tst", cfg.GuardRules()[0].Name)
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("RELOAD_SECRET=s3cret\nLOG_LEVEL=debug\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("RELOAD_SECRET")
		os.Unsetenv("LOG_LEVEL")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Server.ReloadSecret)
	assert.Equal(t, "debug", cfg.App.LogLevel)
}

func TestLoad_Errors(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "server: [not a map"))
	assert.Error(t, err)

	t.Setenv("PORT", "not-a-number")
	_, err = Load("")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty root", func(c *Config) { c.Artifacts.Root = "" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"bad policy", func(c *Config) { c.Preprocess.Policy = "yolo" }},
		{"bad backend", func(c *Config) { c.History.Backend = "etcd" }},
		{"zero top k", func(c *Config) { c.Explain.TopK = 0 }},
		{"negative samples", func(c *Config) { c.Explain.Samples = -1 }},
		{"feast without host", func(c *Config) { c.Feast.Enabled = true }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
