package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/gravitas-games/forge/internal/synth"
)

// Ledger backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config holds all server configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	JWT      JWTConfig      `yaml:"jwt"`
	Redis    RedisConfig    `yaml:"redis"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Crafting CraftingConfig `yaml:"crafting"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Journal  JournalConfig  `yaml:"journal"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds server-specific settings
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"` // empty allows any origin
}

// JWTConfig holds JWT authentication settings. The ES256 public key comes
// from PublicKeyPath when set, otherwise from PublicKeyURL.
type JWTConfig struct {
	Issuer              string `yaml:"issuer"`
	PublicKeyPath       string `yaml:"public_key_path"`
	PublicKeyURL        string `yaml:"public_key_url"`
	PublicKeyRefreshHrs int    `yaml:"public_key_refresh_hours"`
	AdminPermission     int64  `yaml:"admin_permission"` // bit in the permissions claim
}

// RedisConfig holds Redis connection settings. An empty address disables
// Redis; the token blacklist is then skipped.
type RedisConfig struct {
	Address         string `yaml:"address"`
	Password        string `yaml:"password"`
	DB              int    `yaml:"db"`
	BlacklistPrefix string `yaml:"blacklist_prefix"`
}

// LedgerConfig selects where material quantities live.
type LedgerConfig struct {
	Backend      string `yaml:"backend"`
	SQLitePath   string `yaml:"sqlite_path"`
	RedisPrefix  string `yaml:"redis_prefix"`
	RedisRetries int    `yaml:"redis_retries"`
}

// CraftingConfig holds transaction and synthesis settings.
type CraftingConfig struct {
	TemplatesPath       string         `yaml:"templates_path"` // empty uses the built-in templates
	SynthesizerURL      string         `yaml:"synthesizer_url"`
	SynthesisTimeout    time.Duration  `yaml:"synthesis_timeout"`
	CompensationTimeout time.Duration  `yaml:"compensation_timeout"`
	Scaling             *synth.Scaling `yaml:"scaling"`
}

// CatalogConfig points at the material catalog.
type CatalogConfig struct {
	Path    string `yaml:"path"` // empty uses the built-in catalog
	Enforce bool   `yaml:"enforce"`
}

// JournalConfig enables the craft journal when Dir is set.
type JournalConfig struct {
	Dir    string `yaml:"dir"`
	Prefix string `yaml:"prefix"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.MaxBodyBytes == 0 {
		cfg.Server.MaxBodyBytes = 64 << 10
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.JWT.PublicKeyRefreshHrs == 0 {
		cfg.JWT.PublicKeyRefreshHrs = 24
	}
	if cfg.JWT.AdminPermission == 0 {
		cfg.JWT.AdminPermission = 1 << 0
	}
	if cfg.Redis.BlacklistPrefix == "" {
		cfg.Redis.BlacklistPrefix = "blacklist:user:"
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = BackendMemory
	}
	if cfg.Ledger.SQLitePath == "" {
		cfg.Ledger.SQLitePath = "./data/ledger.db"
	}
	if cfg.Ledger.RedisPrefix == "" {
		cfg.Ledger.RedisPrefix = "forge:ledger:"
	}
	if cfg.Ledger.RedisRetries == 0 {
		cfg.Ledger.RedisRetries = 8
	}
	if cfg.Crafting.SynthesisTimeout == 0 {
		cfg.Crafting.SynthesisTimeout = 5 * time.Second
	}
	if cfg.Crafting.CompensationTimeout == 0 {
		cfg.Crafting.CompensationTimeout = 10 * time.Second
	}
	if cfg.Crafting.Scaling == nil {
		s := synth.DefaultScaling()
		cfg.Crafting.Scaling = &s
	}
	if cfg.Journal.Prefix == "" {
		cfg.Journal.Prefix = "crafts"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate reports settings that cannot work together.
func (cfg *Config) Validate() error {
	switch cfg.Ledger.Backend {
	case BackendMemory, BackendSQLite:
	case BackendRedis:
		if cfg.Redis.Address == "" {
			return fmt.Errorf("ledger backend %q requires redis.address", BackendRedis)
		}
	default:
		return fmt.Errorf("unknown ledger backend %q", cfg.Ledger.Backend)
	}
	if cfg.JWT.PublicKeyPath == "" && cfg.JWT.PublicKeyURL == "" {
		return fmt.Errorf("jwt.public_key_path or jwt.public_key_url is required")
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port %d", cfg.Server.Port)
	}
	return nil
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
