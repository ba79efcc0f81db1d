package app

import (
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/user"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"

	"github.com/florianilch/dashauth/internal/authclient"
	"github.com/florianilch/dashauth/internal/tokenstore"
)

// LogFormat represents the logging output format.
type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// TokenStorageType represents the different storage types supported for the token set.
type TokenStorageType string

const (
	TokenStorageTypeFile    TokenStorageType = "file"
	TokenStorageTypeEnv     TokenStorageType = "env"
	TokenStorageTypeKeyring TokenStorageType = "keyring"
	TokenStorageTypeRedis   TokenStorageType = "redis"
	TokenStorageTypeMemory  TokenStorageType = "memory"
)

// TelemetryExporter selects where logs are exported in addition to stderr.
type TelemetryExporter string

const (
	TelemetryExporterNone     TelemetryExporter = "none"
	TelemetryExporterStdout   TelemetryExporter = "stdout"
	TelemetryExporterOTLPHTTP TelemetryExporter = "otlphttp"
	TelemetryExporterOTLPGRPC TelemetryExporter = "otlpgrpc"
)

// Default configuration values
const (
	DefaultConfigLogFormat         = LogFormatText
	DefaultConfigTelemetryExporter = TelemetryExporterNone
	DefaultConfigServerHost        = "127.0.0.1"
	DefaultConfigServerPort        = 3001
	DefaultConfigShutdownTimeout   = 5 * time.Second
	DefaultConfigBackendBaseURL    = "http://127.0.0.1:8080"
	DefaultConfigBackendTimeout    = authclient.DefaultTimeout
	DefaultConfigStorage           = TokenStorageTypeFile
	DefaultConfigRedisKeyPrefix    = "dashauth:"
)

// TelemetryConfig holds optional OpenTelemetry log export settings.
type TelemetryConfig struct {
	Exporter TelemetryExporter `json:"exporter" validate:"oneof=none stdout otlphttp otlpgrpc"`
	// Endpoint overrides the OTLP endpoint (host:port); empty uses the OTEL_* environment.
	Endpoint string `json:"endpoint,omitempty"`
}

// ServerConfig holds gateway server configuration.
type ServerConfig struct {
	Host string `json:"host" validate:"hostname_rfc1123|ip"`
	Port uint16 `json:"port"` // Port range 0-65535 handled by uint16 type
}

// ShutdownConfig holds shutdown behavior configuration.
type ShutdownConfig struct {
	// Timeout for graceful shutdown.
	Timeout time.Duration `json:"timeout"`
}

// BackendConfig describes the monitoring backend whose auth API issues the tokens.
type BackendConfig struct {
	BaseURL     string        `json:"base_url" validate:"required,url"`
	AuthPath    string        `json:"auth_path,omitempty"`
	RefreshPath string        `json:"refresh_path,omitempty"`
	LogoutPath  string        `json:"logout_path,omitempty"`
	Timeout     time.Duration `json:"timeout" validate:"gte=0"`

	// TLSSkipVerify accepts self-signed backend certificates, for local test stacks.
	TLSSkipVerify bool `json:"tls_skip_verify,omitempty"`
}

// Transport returns the base transport shared by the backend client and the gateway.
func (b *BackendConfig) Transport() http.RoundTripper {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: b.TLSSkipVerify, //nolint:gosec // opt-in for self-signed local backends
	}
	return transport
}

// RedisConfig holds settings for redis token storage.
type RedisConfig struct {
	Addr      string `json:"addr,omitempty"`
	Password  string `json:"password,omitempty"`
	DB        int    `json:"db" validate:"gte=0"`
	KeyPrefix string `json:"key_prefix,omitempty"`
}

// StorageConfig describes where the token set is persisted.
type StorageConfig struct {
	Type TokenStorageType `json:"type" validate:"required,oneof=file env keyring redis memory"`

	// Storage-specific settings (mutually exclusive based on Type)
	File        string      `json:"file,omitempty"`         // For file storage: path to token file
	EnvKey      string      `json:"env_key,omitempty"`      // For env storage: environment variable name
	KeyringUser string      `json:"keyring_user,omitempty"` // For keyring storage: user identifier
	Redis       RedisConfig `json:"redis"`
}

// Writable reports whether login and logout can persist to this storage.
func (s *StorageConfig) Writable() bool {
	return s.Type != TokenStorageTypeEnv
}

// NewTokenStore creates a TokenStore from the storage configuration.
// The returned close function releases backend connections.
func (s *StorageConfig) NewTokenStore() (tokenstore.TokenStore, func() error, error) {
	noop := func() error { return nil }

	switch s.Type {
	case TokenStorageTypeFile:
		store, err := tokenstore.NewFileStore(s.File)
		return store, noop, err
	case TokenStorageTypeEnv:
		store, err := tokenstore.NewEnvStore(s.EnvKey)
		return store, noop, err
	case TokenStorageTypeKeyring:
		store, err := tokenstore.NewKeyringStore(tokenstore.KeyringService, s.KeyringUser)
		return store, noop, err
	case TokenStorageTypeRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     s.Redis.Addr,
			Password: s.Redis.Password,
			DB:       s.Redis.DB,
		})
		store, err := tokenstore.NewRedisStore(rdb, s.Redis.KeyPrefix)
		if err != nil {
			_ = rdb.Close()
			return nil, noop, err
		}
		return store, rdb.Close, nil
	case TokenStorageTypeMemory:
		return tokenstore.NewMemoryStore(), noop, nil
	default:
		return nil, noop, fmt.Errorf("unsupported storage type: %s", s.Type)
	}
}

// Config holds the application's configuration.
type Config struct {
	// LogLevel for logging output (defaults to Info if unset).
	LogLevel  slog.Level      `json:"log_level"`
	LogFormat LogFormat       `json:"log_format" validate:"oneof=text json"`
	Telemetry TelemetryConfig `json:"telemetry"`
	Server    ServerConfig    `json:"server"`
	Shutdown  ShutdownConfig  `json:"shutdown"`
	Backend   BackendConfig   `json:"backend"`
	Storage   StorageConfig   `json:"storage"`
}

// Default creates a new Config with default values applied.
func Default() (*Config, error) {
	cfg := &Config{}
	if err := cfg.ApplyDefaults(); err != nil {
		return nil, fmt.Errorf("failed to apply defaults: %w", err)
	}
	return cfg, nil
}

// ApplyDefaults fills unset config fields with sensible defaults.
func (c *Config) ApplyDefaults() error {
	if c.LogFormat == "" {
		c.LogFormat = DefaultConfigLogFormat
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = DefaultConfigTelemetryExporter
	}
	if c.Server.Host == "" {
		c.Server.Host = DefaultConfigServerHost
	}
	if c.Server.Port == 0 {
		c.Server.Port = DefaultConfigServerPort
	}
	if c.Shutdown.Timeout == 0 {
		c.Shutdown.Timeout = DefaultConfigShutdownTimeout
	}
	if c.Backend.BaseURL == "" {
		c.Backend.BaseURL = DefaultConfigBackendBaseURL
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = DefaultConfigBackendTimeout
	}
	if c.Storage.Type == "" {
		c.Storage.Type = DefaultConfigStorage
	}

	// Dynamic defaults based on storage type
	switch c.Storage.Type {
	case TokenStorageTypeFile:
		if c.Storage.File == "" {
			configDir, err := os.UserConfigDir()
			if err != nil {
				return fmt.Errorf("storage.file required (auto-detect failed: %w)", err)
			}
			c.Storage.File = filepath.Join(configDir, "dashauth", tokenstore.StorageKey)
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			currentUser, err := user.Current()
			if err != nil {
				return fmt.Errorf("storage.keyring_user required (auto-detect failed: %w)", err)
			}
			c.Storage.KeyringUser = currentUser.Username
		}
	case TokenStorageTypeRedis:
		if c.Storage.Redis.KeyPrefix == "" {
			c.Storage.Redis.KeyPrefix = DefaultConfigRedisKeyPrefix
		}
	case TokenStorageTypeEnv, TokenStorageTypeMemory:
		// env_key must be explicitly configured (no sensible default)
	}

	return nil
}

// Validate validates the configuration using struct tags and enum values.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}

	switch c.Storage.Type {
	case TokenStorageTypeFile:
		if c.Storage.File == "" {
			return errors.New("file path required for file storage")
		}
	case TokenStorageTypeEnv:
		if c.Storage.EnvKey == "" {
			return errors.New("env_key required for env storage")
		}
	case TokenStorageTypeKeyring:
		if c.Storage.KeyringUser == "" {
			return errors.New("keyring_user required for keyring storage")
		}
	case TokenStorageTypeRedis:
		if c.Storage.Redis.Addr == "" {
			return errors.New("redis.addr required for redis storage")
		}
	}

	return nil
}
