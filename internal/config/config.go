// Package config loads the server configuration.
//
// Sources, lowest to highest precedence:
//  1. built-in defaults
//  2. a config file: $CONFIG_FILE if set, else ./.env if it exists
//     (yaml, json, toml or dotenv, chosen by extension)
//  3. environment variables (PORT, JWT_SECRET, ...)
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DevJWTSecret is the signing secret used when JWT_SECRET is not set.
// Fine for local use only; cmd/server warns when it is in effect.
const DevJWTSecret = "dev-secret-change-me"

// Config is the flat set of settings. The mapstructure tags are the viper
// keys; the matching environment variable is the upper-cased key.
type Config struct {
	Port     int    `mapstructure:"port"`
	LogLevel string `mapstructure:"log_level"`

	DBDriver string `mapstructure:"db_driver"`
	DBDSN    string `mapstructure:"db_dsn"`

	UploadDir   string `mapstructure:"upload_dir"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb"`

	JWTSecret                string   `mapstructure:"jwt_secret"`
	JWTAlgorithm             string   `mapstructure:"jwt_algorithm"`
	AccessTokenExpireMinutes int      `mapstructure:"access_token_expire_minutes"`
	CORSOrigins              []string `mapstructure:"cors_origins"`

	Transcriber        string        `mapstructure:"transcriber"`
	WhisperModel       string        `mapstructure:"whisper_model"`
	WhisperDevice      string        `mapstructure:"whisper_device"`
	WhisperComputeType string        `mapstructure:"whisper_compute_type"`
	PythonBin          string        `mapstructure:"python_bin"`
	TranscribeTimeout  time.Duration `mapstructure:"transcribe_timeout"`

	DockerImage      string `mapstructure:"docker_image"`
	DockerPoolSize   int    `mapstructure:"docker_pool_size"`
	DockerMemoryMB   int64  `mapstructure:"docker_memory_mb"`
	DockerCPUs       int64  `mapstructure:"docker_cpus"`
	DockerNetwork    string `mapstructure:"docker_network"`
	DockerModelCache string `mapstructure:"docker_model_cache"`
	DockerUser       string `mapstructure:"docker_user"`

	S3Bucket    string `mapstructure:"s3_bucket"`
	S3Region    string `mapstructure:"s3_region"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`

	GitHubClientID     string `mapstructure:"github_client_id"`
	GitHubClientSecret string `mapstructure:"github_client_secret"`
	GitHubCallbackURL  string `mapstructure:"github_callback_url"`
}

// defaults doubles as the list of known keys: AutomaticEnv only reaches
// keys viper already knows about when Unmarshal runs.
var defaults = map[string]any{
	"port":      8000,
	"log_level": "info",

	"db_driver": "sqlite",
	"db_dsn":    "data/voice-notes.db",

	"upload_dir":    "uploads",
	"max_upload_mb": 50,

	"jwt_secret":                  DevJWTSecret,
	"jwt_algorithm":               "HS256",
	"access_token_expire_minutes": 10080,
	"cors_origins":                "http://localhost:5173",

	"transcriber":          "local",
	"whisper_model":        "base",
	"whisper_device":       "cpu",
	"whisper_compute_type": "int8",
	"python_bin":           "python3",
	"transcribe_timeout":   "10m",

	"docker_image":       "voice-notes-whisper:latest",
	"docker_pool_size":   1,
	"docker_memory_mb":   2048,
	"docker_cpus":        2,
	"docker_network":     "bridge",
	"docker_model_cache": "data/models",
	"docker_user":        "65534:65534",

	"s3_bucket":     "",
	"s3_region":     "us-east-1",
	"s3_endpoint":   "",
	"s3_access_key": "",
	"s3_secret_key": "",

	"github_client_id":     "",
	"github_client_secret": "",
	"github_callback_url":  "http://localhost:8000/auth/github/callback",
}

// Load reads the configuration and validates it.
func Load() (*Config, error) {
	file := os.Getenv("CONFIG_FILE")
	if file == "" {
		if _, err := os.Stat(".env"); err == nil {
			file = ".env"
		}
	}
	return load(viper.New(), file)
}

func load(v *viper.Viper, file string) (*Config, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", file, err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	origins := make([]string, 0, len(c.CORSOrigins))
	for _, o := range c.CORSOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSOrigins = origins

	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.Transcriber = strings.ToLower(strings.TrimSpace(c.Transcriber))
	c.JWTAlgorithm = strings.ToUpper(strings.TrimSpace(c.JWTAlgorithm))
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if !slices.Contains([]string{"sqlite", "postgres"}, c.DBDriver) {
		errs = append(errs, fmt.Errorf("DB_DRIVER %q: want sqlite or postgres", c.DBDriver))
	}
	if c.DBDSN == "" {
		errs = append(errs, errors.New("DB_DSN is empty"))
	}
	if c.UploadDir == "" {
		errs = append(errs, errors.New("UPLOAD_DIR is empty"))
	}
	if c.MaxUploadMB <= 0 {
		errs = append(errs, fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB))
	}
	if len(c.JWTSecret) < 16 {
		errs = append(errs, errors.New("JWT_SECRET must be at least 16 characters"))
	}
	if !slices.Contains([]string{"HS256", "HS384", "HS512"}, c.JWTAlgorithm) {
		errs = append(errs, fmt.Errorf("JWT_ALGORITHM %q: want HS256, HS384 or HS512", c.JWTAlgorithm))
	}
	if c.AccessTokenExpireMinutes <= 0 {
		errs = append(errs, fmt.Errorf("ACCESS_TOKEN_EXPIRE_MINUTES must be positive, got %d", c.AccessTokenExpireMinutes))
	}
	if !slices.Contains([]string{"local", "docker"}, c.Transcriber) {
		errs = append(errs, fmt.Errorf("TRANSCRIBER %q: want local or docker", c.Transcriber))
	}
	if c.TranscribeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("TRANSCRIBE_TIMEOUT must be positive, got %s", c.TranscribeTimeout))
	}
	if c.Transcriber == "docker" && c.DockerPoolSize < 1 {
		errs = append(errs, fmt.Errorf("DOCKER_POOL_SIZE must be at least 1, got %d", c.DockerPoolSize))
	}
	if (c.GitHubClientID == "") != (c.GitHubClientSecret == "") {
		errs = append(errs, errors.New("GITHUB_CLIENT_ID and GITHUB_CLIENT_SECRET must be set together"))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// TokenTTL is the bearer token lifetime.
func (c *Config) TokenTTL() time.Duration {
	return time.Duration(c.AccessTokenExpireMinutes) * time.Minute
}

// MaxUploadBytes is the request body cap for POST /transcribe.
func (c *Config) MaxUploadBytes() int64 {
	return c.MaxUploadMB << 20
}

// GitHubEnabled reports whether the GitHub login routes should be mounted.
func (c *Config) GitHubEnabled() bool {
	return c.GitHubClientID != "" && c.GitHubClientSecret != ""
}

// ArchiveEnabled reports whether uploads are mirrored to S3.
func (c *Config) ArchiveEnabled() bool {
	return c.S3Bucket != ""
}

func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("LOG_LEVEL %q: want debug, info, warn or error", c.LogLevel)
	}
	return level, nil
}
