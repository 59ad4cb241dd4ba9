// Package config loads gateway configuration from an optional YAML file and
// the process environment, with environment variables always taking
// precedence — the same override order the rest of this codebase's teacher
// lineage uses for its own service configuration.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the full process configuration. The YAML file covers tunables
// that are safe to ship in a repo (timeouts, TTLs, cost factors); secrets
// and deployment-specific values always come from the environment (§6).
type Config struct {
	Server     ServerConfig   `yaml:"server"`
	Session    SessionConfig  `yaml:"session"`
	Crypto     CryptoConfig   `yaml:"crypto"`
	Audit      AuditConfig    `yaml:"audit"`
	Redis      RedisConfig    `yaml:"redis"`
	Operator   OperatorConfig `yaml:"operator"`
	Intent     IntentConfig   `yaml:"intent"`
	Identity   IdentityConfig `yaml:"identity"`
	PubSub     PubSubConfig   `yaml:"pubsub"`
	BcryptCost int            `yaml:"bcrypt_cost"`
}

type ServerConfig struct {
	Port            string `yaml:"port"`
	Env             string `yaml:"env"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	IdleTimeoutSec  int    `yaml:"idle_timeout_sec"`
}

// SessionConfig carries the two-tier TTL and signing identity from §3/§4.4.
type SessionConfig struct {
	JWTSecretKey        string        `yaml:"-"` // env-only, never written to a config file
	JWTAlgorithm        string        `yaml:"jwt_algorithm"`
	JWTExpiryMinutes    int           `yaml:"jwt_expiry_minutes"`
	DelegationTTLMin    int           `yaml:"delegation_ttl_minutes"`
	ServerID            string        `yaml:"-"`
	PreviousSecretGrace time.Duration `yaml:"previous_secret_grace"`
}

type CryptoConfig struct {
	PrivateKeyPath string `yaml:"private_key_path"`
	PublicKeyPath  string `yaml:"public_key_path"`
	KeyPassphrase  string `yaml:"-"`
}

type AuditConfig struct {
	DatabaseURL      string `yaml:"-"`
	EncryptionKey    string `yaml:"-"`
	InsertTimeoutSec int    `yaml:"insert_timeout_sec"`
}

type RedisConfig struct {
	URL string `yaml:"-"`
}

type OperatorConfig struct {
	DatabaseURL string `yaml:"-"`
}

type IntentConfig struct {
	LLMAPIKey      string        `yaml:"-"`
	LLMEndpoint    string        `yaml:"-"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type IdentityConfig struct {
	SPIFFESocket string        `yaml:"-"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
}

type PubSubConfig struct {
	ProjectID string `yaml:"-"`
	TopicID   string `yaml:"-"`
}

var (
	instance *Config
	once     sync.Once
)

// Get returns the process-wide config singleton, loading it on first use.
func Get() *Config {
	once.Do(func() {
		_ = godotenv.Load() // best-effort .env; absence is not an error

		cfg, err := LoadFile(getEnv("CONFIG_PATH", "config.yaml"))
		if err != nil {
			slog.Warn("config: no config.yaml found, using built-in defaults", "error", err)
			cfg = &Config{}
		}
		cfg.applyDefaults()
		cfg.applyEnvOverrides()
		instance = cfg
	})
	return instance
}

// LoadFile reads and parses a YAML config file. A missing file is a normal,
// reported-but-not-fatal condition — env vars can supply everything.
func LoadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Session.JWTAlgorithm == "" {
		c.Session.JWTAlgorithm = "HS256"
	}
	if c.Session.JWTExpiryMinutes == 0 {
		c.Session.JWTExpiryMinutes = 10
	}
	if c.Session.DelegationTTLMin == 0 {
		c.Session.DelegationTTLMin = 2
	}
	if c.Session.PreviousSecretGrace == 0 {
		c.Session.PreviousSecretGrace = 24 * time.Hour
	}
	if c.Crypto.PrivateKeyPath == "" {
		c.Crypto.PrivateKeyPath = "keys/private_key.pem"
	}
	if c.Crypto.PublicKeyPath == "" {
		c.Crypto.PublicKeyPath = "keys/public_key.pem"
	}
	if c.Audit.InsertTimeoutSec == 0 {
		c.Audit.InsertTimeoutSec = 5
	}
	if c.Intent.RequestTimeout == 0 {
		c.Intent.RequestTimeout = 15 * time.Second
	}
	if c.Identity.FetchTimeout == 0 {
		c.Identity.FetchTimeout = 3 * time.Second
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = 10 // bcrypt.DefaultCost, spelled out so config.yaml can override it
	}
}

// applyEnvOverrides applies environment variables per §6; these always win
// over whatever config.yaml set, matching the teacher's convention.
func (c *Config) applyEnvOverrides() {
	c.Server.Port = getEnv("PORT", c.Server.Port)
	c.Server.Env = getEnv("OCX_ENV", getEnv("GATEWAY_ENV", c.Server.Env))

	c.Session.JWTSecretKey = os.Getenv("JWT_SECRET_KEY")
	c.Session.JWTAlgorithm = getEnv("JWT_ALGORITHM", c.Session.JWTAlgorithm)
	c.Session.JWTExpiryMinutes = getEnvInt("JWT_EXPIRY_MINUTES", c.Session.JWTExpiryMinutes)
	c.Session.ServerID = getEnv("SERVER_ID", "trusted_FinLLM_server_1975")

	c.Crypto.KeyPassphrase = os.Getenv("KEY_PASSPHRASE")

	c.Audit.DatabaseURL = getEnv("DATABASE_URL", c.Audit.DatabaseURL)
	c.Audit.EncryptionKey = os.Getenv("DB_ENCRYPTION_KEY")

	c.Redis.URL = os.Getenv("REDIS_URL")

	c.Operator.DatabaseURL = getEnv("DATABASE_URL", c.Operator.DatabaseURL)

	c.Intent.LLMAPIKey = os.Getenv("LLM_API_KEY")
	c.Intent.LLMEndpoint = os.Getenv("LLM_ENDPOINT")

	c.Identity.SPIFFESocket = os.Getenv("SPIFFE_ENDPOINT_SOCKET")

	c.PubSub.ProjectID = getEnv("GOOGLE_CLOUD_PROJECT", c.PubSub.ProjectID)
	c.PubSub.TopicID = os.Getenv("OCX_AUDIT_PUBSUB_TOPIC")

	c.BcryptCost = getEnvInt("BCRYPT_COST", c.BcryptCost)
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.JWTExpiryMinutes) * time.Minute
}

func (c *Config) DelegationTTL() time.Duration {
	return time.Duration(c.Session.DelegationTTLMin) * time.Minute
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultVal
}
