// Package platform provides configuration loading and the dependency
// container constructed once at startup and handed to the HTTP server, the
// expiration listener, and the shutdown drain. There are no ambient
// singletons: everything that used to be process-global state lives here and
// is passed explicitly.
package platform

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backend names accepted by SessionConfig.Store.
const (
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

// Config holds the complete backend configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Session     SessionConfig     `yaml:"session"`
	Redis       RedisConfig       `yaml:"redis"`
	Database    DatabaseConfig    `yaml:"database"`
	VectorStore VectorStoreConfig `yaml:"vectorstore"`
	Auth        AuthConfig        `yaml:"auth"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// SessionConfig configures session lifetime and storage.
type SessionConfig struct {
	// Store selects the backend: "redis" or "memory".
	Store string `yaml:"store"`

	// TTL is the sliding expiration window.
	TTL time.Duration `yaml:"ttl"`

	// CookieName carries the session identifier to the client.
	CookieName string `yaml:"cookie_name"`

	// JanitorInterval is the sweep interval of the memory store. Ignored for
	// redis, where the server expires keys itself.
	JanitorInterval time.Duration `yaml:"janitor_interval"`
}

// RedisConfig configures the Redis connection.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DatabaseConfig configures the PostgreSQL connections.
type DatabaseConfig struct {
	// AdminDSN connects to the maintenance database with privileges to
	// create and drop databases and terminate backends. Distinct from the
	// per-tenant connections used for query execution.
	AdminDSN string `yaml:"admin_dsn"`

	// UserDSN connects to the durable user database.
	UserDSN string `yaml:"user_dsn"`

	// TenantDSNBase is the connection string base for per-session temporary
	// databases, without a database name.
	TenantDSNBase string `yaml:"tenant_dsn_base"`

	// TenantDSNParams holds trailing connection parameters for tenant DSNs.
	TenantDSNParams string `yaml:"tenant_dsn_params"`

	// TempDBPrefix is prepended to derived temporary database names.
	TempDBPrefix string `yaml:"temp_db_prefix"`

	MaxOpenConns int `yaml:"max_open_conns"`
}

// VectorStoreConfig configures per-session vector index storage.
type VectorStoreConfig struct {
	// Root is the directory all per-session index paths live under. The
	// index reclaimer refuses to delete anything outside it.
	Root string `yaml:"root"`
}

// AuthConfig configures user account handling.
type AuthConfig struct {
	// BcryptCost is the bcrypt work factor; 0 selects the library default.
	BcryptCost int `yaml:"bcrypt_cost"`
}

// LoadConfig loads configuration from a file.
// The path is expected to come from command line arguments, controlled by
// the administrator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by admin
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Session.Store == "" {
		cfg.Session.Store = StoreRedis
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = 30 * time.Minute
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = "session_id"
	}
	if cfg.Session.JanitorInterval == 0 {
		cfg.Session.JanitorInterval = 10 * time.Second
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Database.TempDBPrefix == "" {
		cfg.Database.TempDBPrefix = "temporary_database_"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	if c.Session.Store != StoreRedis && c.Session.Store != StoreMemory {
		errs = append(errs, fmt.Sprintf("session.store must be %q or %q", StoreRedis, StoreMemory))
	}
	if c.Session.TTL < time.Second {
		errs = append(errs, "session.ttl must be at least one second")
	}
	if c.Database.AdminDSN == "" {
		errs = append(errs, "database.admin_dsn is required")
	}
	if c.Database.UserDSN == "" {
		errs = append(errs, "database.user_dsn is required")
	}
	if c.Database.TenantDSNBase == "" {
		errs = append(errs, "database.tenant_dsn_base is required")
	}
	if c.VectorStore.Root == "" {
		errs = append(errs, "vectorstore.root is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}
