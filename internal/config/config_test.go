package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, ":8000", cfg.Addr())
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, "uploads", cfg.UploadDir)
	assert.Equal(t, "HS256", cfg.JWTAlgorithm)
	assert.Equal(t, 7*24*time.Hour, cfg.TokenTTL())
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.CORSOrigins)
	assert.Equal(t, "local", cfg.Transcriber)
	assert.Equal(t, "base", cfg.WhisperModel)
	assert.Equal(t, "cpu", cfg.WhisperDevice)
	assert.Equal(t, "int8", cfg.WhisperComputeType)
	assert.Equal(t, 10*time.Minute, cfg.TranscribeTimeout)
	assert.Equal(t, "65534:65534", cfg.DockerUser)
	assert.Equal(t, int64(50<<20), cfg.MaxUploadBytes())
	assert.False(t, cfg.GitHubEnabled())
	assert.False(t, cfg.ArchiveEnabled())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("JWT_SECRET", "a-much-longer-production-secret")
	t.Setenv("JWT_ALGORITHM", "hs512")
	t.Setenv("ACCESS_TOKEN_EXPIRE_MINUTES", "30")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TRANSCRIBE_TIMEOUT", "90s")
	t.Setenv("S3_BUCKET", "voice-archive")

	cfg, err := load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "a-much-longer-production-secret", cfg.JWTSecret)
	assert.Equal(t, "HS512", cfg.JWTAlgorithm)
	assert.Equal(t, 30*time.Minute, cfg.TokenTTL())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 90*time.Second, cfg.TranscribeTimeout)
	assert.True(t, cfg.ArchiveEnabled())
}

func TestLoad_ConfigFile(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
port: 7000
whisper_model: small
cors_origins:
  - https://app.example
`), 0o644))

	cfg, err := load(viper.New(), yamlPath)
	require.NoError(t, err)
	assert.Equal(t, 7000, cfg.Port)
	assert.Equal(t, "small", cfg.WhisperModel)
	assert.Equal(t, []string{"https://app.example"}, cfg.CORSOrigins)

	envPath := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envPath, []byte("PORT=7100\nTRANSCRIBER=docker\n"), 0o644))

	cfg, err = load(viper.New(), envPath)
	require.NoError(t, err)
	assert.Equal(t, 7100, cfg.Port)
	assert.Equal(t, "docker", cfg.Transcriber)
}

func TestLoad_EnvironmentBeatsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: 7000\n"), 0o644))
	t.Setenv("PORT", "7001")

	cfg, err := load(viper.New(), path)
	require.NoError(t, err)
	assert.Equal(t, 7001, cfg.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := load(viper.New(), "")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"short secret", func(c *Config) { c.JWTSecret = "short" }},
		{"bad algorithm", func(c *Config) { c.JWTAlgorithm = "RS256" }},
		{"bad driver", func(c *Config) { c.DBDriver = "mysql" }},
		{"bad transcriber", func(c *Config) { c.Transcriber = "cloud" }},
		{"zero port", func(c *Config) { c.Port = 0 }},
		{"zero upload cap", func(c *Config) { c.MaxUploadMB = 0 }},
		{"zero expiry", func(c *Config) { c.AccessTokenExpireMinutes = 0 }},
		{"empty pool", func(c *Config) { c.Transcriber = "docker"; c.DockerPoolSize = 0 }},
		{"half github", func(c *Config) { c.GitHubClientID = "id" }},
		{"bad log level", func(c *Config) { c.LogLevel = "loud" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestSlogLevel(t *testing.T) {
	cfg := &Config{LogLevel: "debug"}
	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}
