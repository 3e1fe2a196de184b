package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	authapi "ticketline/cmd/internal/auth/api"
	"ticketline/cmd/internal/auth/session"
)

// ErrConfig marks invalid runtime configuration.
var ErrConfig = errors.New("invalid config")

// Storage backends for the persisted auth snapshot.
const (
	StorageFile     = "file"
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config contains all runtime configuration.
//
// Precedence: defaults, then the optional YAML file (TICKETLINE_CONFIG_FILE),
// then environment variables.
type Config struct {
	HTTPAddr  string `yaml:"http_addr"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`

	// Storage selects the snapshot backend: file, memory or postgres.
	Storage         string `yaml:"storage"`
	StateFile       string `yaml:"state_file"`
	CredentialsFile string `yaml:"credentials_file"`
	// WatchStateFile rehydrates when another process rewrites the state file.
	WatchStateFile bool `yaml:"watch_state_file"`

	DatabaseURL string `yaml:"database_url"`
	DBMaxConns  int32  `yaml:"db_max_conns"`
	DBMinConns  int32  `yaml:"db_min_conns"`

	// RequireStateKey refuses to start without TICKETLINE_STATE_KEY, so
	// snapshots and renewal cookies are never written in the clear.
	RequireStateKey bool `yaml:"require_state_key"`

	// PasetoPublicKeyHex enables verified expiry decoding of v4.public tokens.
	PasetoPublicKeyHex string `yaml:"paseto_public_key_hex"`

	CORSAllowedOrigins   []string `yaml:"cors_allowed_origins"`
	CORSAllowCredentials bool     `yaml:"cors_allow_credentials"`
	CORSMaxAgeSeconds    int      `yaml:"cors_max_age_seconds"`

	Session session.Config `yaml:"session"`
	Backend authapi.Config `yaml:"backend"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	return Config{
		HTTPAddr:  "127.0.0.1:7420",
		LogLevel:  "info",
		LogFormat: "json",

		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,

		Storage:         StorageFile,
		StateFile:       defaultStatePath("auth.json"),
		CredentialsFile: defaultStatePath("credentials.json"),
		WatchStateFile:  true,

		DBMaxConns: 4,
		DBMinConns: 0,

		CORSAllowedOrigins: []string{"http://localhost:*", "http://127.0.0.1:*"},
		CORSMaxAgeSeconds:  600,

		Session: session.DefaultConfig(),
		Backend: authapi.DefaultConfig(),
	}
}

// LoadConfig builds Config from defaults, the optional YAML file and env.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()

	if path := EnvString("TICKETLINE_CONFIG_FILE", ""); path != "" {
		fileCfg, err := LoadConfigFile(path, cfg)
		if err != nil {
			return Config{}, err
		}
		cfg = fileCfg
	}

	cfg.HTTPAddr = EnvString("TICKETLINE_HTTP_ADDR", cfg.HTTPAddr)
	cfg.LogLevel = EnvString("TICKETLINE_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = EnvString("TICKETLINE_LOG_FORMAT", cfg.LogFormat)

	cfg.ReadHeaderTimeout = EnvDuration("TICKETLINE_HTTP_READ_HEADER_TIMEOUT", cfg.ReadHeaderTimeout)
	cfg.ReadTimeout = EnvDuration("TICKETLINE_HTTP_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = EnvDuration("TICKETLINE_HTTP_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = EnvDuration("TICKETLINE_HTTP_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.MaxHeaderBytes = EnvInt("TICKETLINE_HTTP_MAX_HEADER_BYTES", cfg.MaxHeaderBytes)

	cfg.Storage = strings.ToLower(EnvString("TICKETLINE_STORAGE", cfg.Storage))
	cfg.StateFile = EnvString("TICKETLINE_STATE_FILE", cfg.StateFile)
	cfg.CredentialsFile = EnvString("TICKETLINE_CREDENTIALS_FILE", cfg.CredentialsFile)
	cfg.WatchStateFile = EnvBool("TICKETLINE_WATCH_STATE_FILE", cfg.WatchStateFile)

	cfg.DatabaseURL = EnvString("TICKETLINE_DATABASE_URL", cfg.DatabaseURL)
	cfg.DBMaxConns = EnvInt32("TICKETLINE_DB_MAX_CONNS", cfg.DBMaxConns)
	cfg.DBMinConns = EnvInt32("TICKETLINE_DB_MIN_CONNS", cfg.DBMinConns)

	cfg.RequireStateKey = EnvBool("TICKETLINE_REQUIRE_STATE_KEY", cfg.RequireStateKey)
	cfg.PasetoPublicKeyHex = EnvString("TICKETLINE_PASETO_V4_PUBLIC_KEY_HEX", cfg.PasetoPublicKeyHex)

	cfg.CORSAllowedOrigins = EnvCSV("TICKETLINE_CORS_ALLOWED_ORIGINS", cfg.CORSAllowedOrigins)
	cfg.CORSAllowCredentials = EnvBool("TICKETLINE_CORS_ALLOW_CREDENTIALS", cfg.CORSAllowCredentials)
	cfg.CORSMaxAgeSeconds = EnvInt("TICKETLINE_CORS_MAX_AGE_SECONDS", cfg.CORSMaxAgeSeconds)

	sess, err := session.LoadConfigFromEnv(cfg.Session)
	if err != nil {
		return Config{}, err
	}
	cfg.Session = sess

	backend, err := authapi.LoadConfigFromEnv(cfg.Backend)
	if err != nil {
		return Config{}, err
	}
	cfg.Backend = backend

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile overlays a YAML file on base. Keys missing from the file keep
// their base values.
func LoadConfigFile(path string, base Config) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := base
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: parse %s: %v", ErrConfig, path, err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if strings.TrimSpace(c.HTTPAddr) == "" {
		return fmt.Errorf("%w: http addr is required", ErrConfig)
	}

	switch c.Storage {
	case StorageFile:
		if strings.TrimSpace(c.StateFile) == "" {
			return fmt.Errorf("%w: state file is required for file storage", ErrConfig)
		}
	case StorageMemory:
	case StoragePostgres:
		if strings.TrimSpace(c.DatabaseURL) == "" {
			return fmt.Errorf("%w: database url is required for postgres storage", ErrConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage %q", ErrConfig, c.Storage)
	}

	if err := c.Session.Validate(); err != nil {
		return err
	}
	return c.Backend.Validate()
}

func defaultStatePath(name string) string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "ticketline", name)
}
