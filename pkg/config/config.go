package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap/zapcore"
)

// Machine translation providers.
const (
	ProviderNone      = ""
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config holds all configuration for ekaya-translator.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3480"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL" env-default:"info"`

	// Database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Redis configuration (optional manifest cache)
	Redis RedisConfig `yaml:"redis"`

	// Machine translation backend used as an external suggestion source
	MachineTranslation MachineTranslationConfig `yaml:"machine_translation"`

	// Manifest extraction from registered applications
	Manifest ManifestConfig `yaml:"manifest"`

	// Reconciliation engine tuning
	Engine EngineConfig `yaml:"engine"`

	// LanguagesFile optionally overrides the built-in language and audience tables.
	LanguagesFile string `yaml:"languages_file" env:"LANGUAGES_FILE" env-default:""`
}

// DatabaseConfig holds PostgreSQL database configuration.
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ekaya"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ekaya_translator"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
	MigrationsPath string `yaml:"migrations_path" env:"MIGRATIONS_PATH" env-default:"migrations"`
}

// RedisConfig holds Redis configuration. An empty host disables the manifest cache.
type RedisConfig struct {
	Host        string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port        int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password    string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB          int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	ManifestTTL time.Duration `yaml:"manifest_ttl" env:"REDIS_MANIFEST_TTL" env-default:"1h"`
}

// MachineTranslationConfig selects the external machine translation backend.
// An empty provider disables machine translated suggestions.
type MachineTranslationConfig struct {
	Provider       string        `yaml:"provider" env:"MT_PROVIDER" env-default:""`
	BaseURL        string        `yaml:"base_url" env:"MT_BASE_URL" env-default:""`
	Model          string        `yaml:"model" env:"MT_MODEL" env-default:""`
	APIKey         string        `yaml:"-" env:"MT_API_KEY"` // Secret - not in YAML
	MaxConcurrency int           `yaml:"max_concurrency" env:"MT_MAX_CONCURRENCY" env-default:"4"`
	Timeout        time.Duration `yaml:"timeout" env:"MT_TIMEOUT" env-default:"30s"`
}

// IsAvailable returns true if a machine translation provider is configured.
func (c *MachineTranslationConfig) IsAvailable() bool {
	return c.Provider != ProviderNone && c.APIKey != ""
}

// ManifestConfig controls how application manifests are fetched.
type ManifestConfig struct {
	// Path is resolved against each application URL.
	Path    string        `yaml:"path" env:"MANIFEST_PATH" env-default:"translations/manifest.json"`
	Timeout time.Duration `yaml:"timeout" env:"MANIFEST_TIMEOUT" env-default:"30s"`
	// ResolveDockerHosts rewrites loopback application URLs to the Docker host alias.
	ResolveDockerHosts bool `yaml:"resolve_docker_hosts" env:"MANIFEST_RESOLVE_DOCKER_HOSTS" env-default:"true"`
}

// EngineConfig holds reconciliation, presence and digest settings.
type EngineConfig struct {
	// DefaultAuthorEmail identifies the service account used for structural resyncs.
	DefaultAuthorEmail string `yaml:"default_author_email" env:"DEFAULT_AUTHOR_EMAIL" env-default:"translator@ekaya.ai"`
	DefaultAuthorName  string `yaml:"default_author_name" env:"DEFAULT_AUTHOR_NAME" env-default:"Ekaya Translator"`

	// PresenceWindow is how recently a user must have been seen to count as editing.
	PresenceWindow time.Duration `yaml:"presence_window" env:"PRESENCE_WINDOW" env-default:"1m"`

	// DigestInterval is how often subscription digests are computed. Zero disables them.
	DigestInterval time.Duration `yaml:"digest_interval" env:"DIGEST_INTERVAL" env-default:"1h"`
	// DigestStillWorking holds back changes younger than this window.
	DigestStillWorking time.Duration `yaml:"digest_still_working" env:"DIGEST_STILL_WORKING" env-default:"5m"`

	// SkipSuggestionsIfStored omits suggestions for keys the bundle already holds.
	SkipSuggestionsIfStored bool `yaml:"skip_suggestions_if_stored" env:"SKIP_SUGGESTIONS_IF_STORED" env-default:"false"`

	// SyncConcurrency bounds concurrent application synchronization.
	SyncConcurrency int `yaml:"sync_concurrency" env:"SYNC_CONCURRENCY" env-default:"4"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Secrets (PGPASSWORD, REDIS_PASSWORD, MT_API_KEY) must come from environment
// variables (yaml:"-" fields).
func Load(version string) (*Config, error) {
	return LoadFile("config.yaml", version)
}

// LoadFile reads configuration from the given YAML file with environment variable overrides.
func LoadFile(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg.Database.Host = ResolveHostForDocker(cfg.Database.Host)
	cfg.Redis.Host = ResolveHostForDocker(cfg.Redis.Host)

	// Auto-derive BaseURL from Port if not explicitly set
	if cfg.BaseURL == "" {
		cfg.BaseURL = (&url.URL{
			Scheme: "http",
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if _, err := zapcore.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	c.MachineTranslation.Provider = strings.ToLower(strings.TrimSpace(c.MachineTranslation.Provider))
	switch c.MachineTranslation.Provider {
	case ProviderNone, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("unknown machine_translation.provider %q", c.MachineTranslation.Provider)
	}
	if c.MachineTranslation.MaxConcurrency < 1 {
		return fmt.Errorf("machine_translation.max_concurrency must be at least 1")
	}
	if c.Engine.SyncConcurrency < 1 {
		return fmt.Errorf("engine.sync_concurrency must be at least 1")
	}
	if strings.TrimSpace(c.Engine.DefaultAuthorEmail) == "" {
		return fmt.Errorf("engine.default_author_email is required")
	}
	if c.Engine.PresenceWindow <= 0 {
		return fmt.Errorf("engine.presence_window must be positive")
	}
	if c.Engine.DigestInterval < 0 || c.Engine.DigestStillWorking < 0 {
		return fmt.Errorf("engine digest durations must not be negative")
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the connection string in URL form, as required by database/sql drivers.
func (c *DatabaseConfig) URL() string {
	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + url.QueryEscape(c.SSLMode),
	}
	return u.String()
}
