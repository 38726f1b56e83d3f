// Package config loads receiptkitd settings from a YAML file with
// RECEIPTKIT_* environment overrides.
package config

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/PaulFidika/receiptkit/ratelimit"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath = "RECEIPTKIT_CONFIG"

	EnvLogLevel        = "RECEIPTKIT_LOG_LEVEL"
	EnvLogFormat       = "RECEIPTKIT_LOG_FORMAT"
	EnvHTTPAddr        = "RECEIPTKIT_HTTP_ADDR"
	EnvStorageDriver   = "RECEIPTKIT_STORAGE_DRIVER"
	EnvPostgresDSN     = "RECEIPTKIT_POSTGRES_DSN"
	EnvPostgresSchema  = "RECEIPTKIT_POSTGRES_SCHEMA"
	EnvBadgerPath      = "RECEIPTKIT_BADGER_PATH"
	EnvRedisAddr       = "RECEIPTKIT_REDIS_ADDR"
	EnvRedisPassword   = "RECEIPTKIT_REDIS_PASSWORD"
	EnvRedisDB         = "RECEIPTKIT_REDIS_DB"
	EnvPREMode         = "RECEIPTKIT_PRE_MODE"
	EnvPREMasterKey    = "RECEIPTKIT_PRE_MASTER_KEY"
	EnvPREBaseURL      = "RECEIPTKIT_PRE_BASE_URL"
	EnvPRETokenURL     = "RECEIPTKIT_PRE_TOKEN_URL"
	EnvPREClientID     = "RECEIPTKIT_PRE_CLIENT_ID"
	EnvPREClientSecret = "RECEIPTKIT_PRE_CLIENT_SECRET"
	EnvAuthIssuer      = "RECEIPTKIT_AUTH_ISSUER"
	EnvAuthAudience    = "RECEIPTKIT_AUTH_AUDIENCE"
	EnvAuthTokenTTL    = "RECEIPTKIT_AUTH_TOKEN_TTL"
	EnvAuthKeysPath    = "RECEIPTKIT_AUTH_KEYS_PATH"
	EnvSIWSDomain      = "RECEIPTKIT_SIWS_DOMAIN"
	EnvExpirySchedule  = "RECEIPTKIT_EXPIRY_SCHEDULE"
	EnvAsyncAudit      = "RECEIPTKIT_ASYNC_AUDIT"

	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverBadger   = "badger"

	PREModeLocal  = "local"
	PREModeRemote = "remote"
)

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json or text
}

type HTTP struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type Storage struct {
	Driver      string `yaml:"driver"`
	PostgresDSN string `yaml:"postgres_dsn"`
	Schema      string `yaml:"schema"`
	BadgerPath  string `yaml:"badger_path"`
	// Migrate applies schema migrations on start (postgres only).
	Migrate bool `yaml:"migrate"`
}

// Redis is optional. With no address the SIWS nonce cache and the rate
// limiter stay in process.
type Redis struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type PRE struct {
	Mode string `yaml:"mode"`
	// MasterKey is the base64 master secret of the local network. Empty
	// generates a random one, which only makes sense for development.
	MasterKey    string        `yaml:"master_key"`
	BaseURL      string        `yaml:"base_url"`
	Timeout      time.Duration `yaml:"timeout"`
	TokenURL     string        `yaml:"token_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	Scopes       []string      `yaml:"scopes"`
}

type Auth struct {
	Issuer         string        `yaml:"issuer"`
	Audience       string        `yaml:"audience"`
	AccessTokenTTL time.Duration `yaml:"access_token_ttl"`
	ClockSkew      time.Duration `yaml:"clock_skew"`
	KeysPath       string        `yaml:"keys_path"`
}

type SIWS struct {
	Domain       string        `yaml:"domain"`
	Statement    string        `yaml:"statement"`
	ChallengeTTL time.Duration `yaml:"challenge_ttl"`
}

type Jobs struct {
	// ExpirySchedule is a cron spec; empty disables the expiry reporter.
	ExpirySchedule string `yaml:"expiry_schedule"`
	// AsyncAudit routes access events through the River queue (postgres only).
	AsyncAudit   bool `yaml:"async_audit"`
	AuditWorkers int  `yaml:"audit_workers"`
}

// SeedReceipt is a development receipt loaded into the in-memory store and
// sealed with the local network on start.
type SeedReceipt struct {
	ID          string `yaml:"id"`
	Owner       string `yaml:"owner"`
	OwnerKeyRef string `yaml:"owner_key_ref"`
	Plaintext   string `yaml:"plaintext"`
}

type Config struct {
	Log        Log                        `yaml:"log"`
	HTTP       HTTP                       `yaml:"http"`
	Storage    Storage                    `yaml:"storage"`
	Redis      Redis                      `yaml:"redis"`
	PRE        PRE                        `yaml:"pre"`
	Auth       Auth                       `yaml:"auth"`
	SIWS       SIWS                       `yaml:"siws"`
	Jobs       Jobs                       `yaml:"jobs"`
	RateLimits map[string]ratelimit.Limit `yaml:"rate_limits"`
	Seed       []SeedReceipt              `yaml:"seed"`
}

// Default returns a configuration that runs entirely in memory.
func Default() Config {
	return Config{
		Log: Log{Level: "info", Format: "json"},
		HTTP: HTTP{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Storage: Storage{Driver: DriverMemory, Schema: "receiptkit", Migrate: true},
		PRE:     PRE{Mode: PREModeLocal, Timeout: 10 * time.Second},
		Auth: Auth{
			Issuer:         "receiptkit",
			Audience:       "receiptkit",
			AccessTokenTTL: time.Hour,
			ClockSkew:      30 * time.Second,
		},
		SIWS:       SIWS{Domain: "localhost", ChallengeTTL: 15 * time.Minute},
		Jobs:       Jobs{ExpirySchedule: "@every 1m", AuditWorkers: 4},
		RateLimits: ratelimit.DefaultLimits(),
	}
}

// Load reads path (or $RECEIPTKIT_CONFIG when path is empty) over the
// defaults, applies environment overrides and validates the result. No file
// at all is fine: defaults plus environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := decode(b, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %q: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(b []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	// Buckets missing from the file keep their defaults.
	for bucket, l := range ratelimit.DefaultLimits() {
		if _, ok := cfg.RateLimits[bucket]; !ok {
			if cfg.RateLimits == nil {
				cfg.RateLimits = map[string]ratelimit.Limit{}
			}
			cfg.RateLimits[bucket] = l
		}
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogFormat, &c.Log.Format)
	str(EnvHTTPAddr, &c.HTTP.Addr)
	str(EnvStorageDriver, &c.Storage.Driver)
	str(EnvPostgresDSN, &c.Storage.PostgresDSN)
	str(EnvPostgresSchema, &c.Storage.Schema)
	str(EnvBadgerPath, &c.Storage.BadgerPath)
	str(EnvRedisAddr, &c.Redis.Addr)
	str(EnvRedisPassword, &c.Redis.Password)
	str(EnvPREMode, &c.PRE.Mode)
	str(EnvPREMasterKey, &c.PRE.MasterKey)
	str(EnvPREBaseURL, &c.PRE.BaseURL)
	str(EnvPRETokenURL, &c.PRE.TokenURL)
	str(EnvPREClientID, &c.PRE.ClientID)
	str(EnvPREClientSecret, &c.PRE.ClientSecret)
	str(EnvAuthIssuer, &c.Auth.Issuer)
	str(EnvAuthAudience, &c.Auth.Audience)
	str(EnvAuthKeysPath, &c.Auth.KeysPath)
	str(EnvSIWSDomain, &c.SIWS.Domain)
	str(EnvExpirySchedule, &c.Jobs.ExpirySchedule)

	if v, ok := os.LookupEnv(EnvRedisDB); ok {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvRedisDB, err)
		}
		c.Redis.DB = n
	}
	if v, ok := os.LookupEnv(EnvAuthTokenTTL); ok {
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvAuthTokenTTL, err)
		}
		c.Auth.AccessTokenTTL = d
	}
	if v, ok := os.LookupEnv(EnvAsyncAudit); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid %s: %w", EnvAsyncAudit, err)
		}
		c.Jobs.AsyncAudit = b
	}
	return nil
}

// Validate checks that the configuration is coherent.
func (c Config) Validate() error {
	if c.HTTP.Addr == "" {
		return errors.New("invalid http.addr: must not be empty")
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log.format %q: must be json or text", c.Log.Format)
	}

	switch c.Storage.Driver {
	case DriverMemory:
	case DriverPostgres:
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("invalid storage.postgres_dsn: required for driver %q", DriverPostgres)
		}
	case DriverBadger:
	default:
		return fmt.Errorf("invalid storage.driver %q: must be %s, %s or %s", c.Storage.Driver, DriverMemory, DriverPostgres, DriverBadger)
	}
	if c.Jobs.AsyncAudit && c.Storage.Driver != DriverPostgres {
		return errors.New("invalid jobs.async_audit: requires the postgres storage driver")
	}

	switch c.PRE.Mode {
	case PREModeLocal:
		if c.PRE.MasterKey != "" {
			if _, err := c.MasterKey(); err != nil {
				return err
			}
		}
	case PREModeRemote:
		if c.PRE.BaseURL == "" {
			return fmt.Errorf("invalid pre.base_url: required for mode %q", PREModeRemote)
		}
		if c.PRE.TokenURL != "" && c.PRE.ClientID == "" {
			return errors.New("invalid pre.client_id: required when pre.token_url is set")
		}
	default:
		return fmt.Errorf("invalid pre.mode %q: must be %s or %s", c.PRE.Mode, PREModeLocal, PREModeRemote)
	}

	if c.Auth.AccessTokenTTL <= 0 {
		return errors.New("invalid auth.access_token_ttl: must be > 0")
	}
	if c.Auth.Issuer == "" || c.Auth.Audience == "" {
		return errors.New("invalid auth: issuer and audience are required")
	}
	if c.SIWS.Domain == "" {
		return errors.New("invalid siws.domain: must not be empty")
	}
	for bucket, l := range c.RateLimits {
		if l.Limit <= 0 || l.Window <= 0 {
			return fmt.Errorf("invalid rate_limits.%s: limit and window must be > 0", bucket)
		}
	}
	for i, s := range c.Seed {
		if s.ID == "" || s.Owner == "" {
			return fmt.Errorf("invalid seed[%d]: id and owner are required", i)
		}
	}
	return nil
}

// MasterKey decodes PRE.MasterKey. A nil key means "generate one".
func (c Config) MasterKey() ([]byte, error) {
	if c.PRE.MasterKey == "" {
		return nil, nil
	}
	k, err := base64.StdEncoding.DecodeString(c.PRE.MasterKey)
	if err != nil {
		return nil, fmt.Errorf("invalid pre.master_key: %w", err)
	}
	if len(k) < 32 {
		return nil, errors.New("invalid pre.master_key: need at least 32 bytes")
	}
	return k, nil
}
