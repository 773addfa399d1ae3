// Package config loads crmsync settings from defaults, an optional YAML file,
// a .env file and CRMSYNC_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CRMSYNC_"

type HTTP struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type Database struct {
	DSN             string        `yaml:"dsn"`
	MaxConns        int32         `yaml:"max_conns"`
	MinConns        int32         `yaml:"min_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// Redis configures the cross-process token refresh lock. An empty URL disables it.
type Redis struct {
	URL      string        `yaml:"url"`
	LockTTL  time.Duration `yaml:"lock_ttl"`
	LockWait time.Duration `yaml:"lock_wait"`
}

// Auth configures bearer tokens accepted by the HTTP API.
type Auth struct {
	JWTKey   string        `yaml:"jwt_key"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

type CRM struct {
	BaseURL      string        `yaml:"base_url"`
	ClientID     string        `yaml:"client_id"`
	ClientSecret string        `yaml:"client_secret"`
	AuthURL      string        `yaml:"auth_url"`
	TokenURL     string        `yaml:"token_url"`
	RedirectURL  string        `yaml:"redirect_url"`
	Scopes       []string      `yaml:"scopes"`
	Timeout      time.Duration `yaml:"timeout"`
	TokenSkew    time.Duration `yaml:"token_skew"`
	PageSize     int           `yaml:"page_size"`
	MaxPages     int           `yaml:"max_pages"`
	MaxRecords   int           `yaml:"max_records"`
}

type Backoff struct {
	Window      time.Duration `yaml:"window"`
	MaxFailures int           `yaml:"max_failures"`
	BlockFor    time.Duration `yaml:"block_for"`
}

type Sync struct {
	Workers    int           `yaml:"workers"`
	RunTimeout time.Duration `yaml:"run_timeout"`
	Backoff    Backoff       `yaml:"backoff"`
}

// Seal holds the secret OAuth tokens are encrypted with at rest.
type Seal struct {
	Secret string `yaml:"secret"`
	Salt   string `yaml:"salt"`
}

type Log struct {
	Dev bool `yaml:"dev"`
}

// Config is the full process configuration.
type Config struct {
	HTTP      HTTP     `yaml:"http"`
	AdminAddr string   `yaml:"admin_addr"`
	Database  Database `yaml:"database"`
	Redis     Redis    `yaml:"redis"`
	Auth      Auth     `yaml:"auth"`
	CRM       CRM      `yaml:"crm"`
	Sync      Sync     `yaml:"sync"`
	Seal      Seal     `yaml:"seal"`
	Log       Log      `yaml:"log"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		HTTP:      HTTP{Addr: ":8080", ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Minute},
		AdminAddr: ":9090",
		Database: Database{
			MaxConns:        10,
			MinConns:        2,
			MaxConnLifetime: 10 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
		},
		Redis: Redis{LockTTL: 30 * time.Second, LockWait: 10 * time.Second},
		Auth:  Auth{TokenTTL: 15 * time.Minute},
		CRM:   CRM{Timeout: 30 * time.Second, TokenSkew: time.Minute},
		Sync: Sync{
			Workers:    1,
			RunTimeout: 10 * time.Minute,
			Backoff:    Backoff{Window: 15 * time.Minute, MaxFailures: 5, BlockFor: 15 * time.Minute},
		},
		Seal: Seal{Salt: "crmsync-token-seal"},
	}
}

// Load builds a Config. path is an optional YAML file; envFile is an optional
// dotenv file whose variables never override ones already set.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := readYAML(path, &cfg); err != nil {
			return nil, err
		}
	}
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if err := applyEnv(&cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.CRM.BaseURL = strings.TrimRight(cfg.CRM.BaseURL, "/")
	if cfg.CRM.BaseURL != "" {
		if cfg.CRM.AuthURL == "" {
			cfg.CRM.AuthURL = cfg.CRM.BaseURL + "/oauth/authorize"
		}
		if cfg.CRM.TokenURL == "" {
			cfg.CRM.TokenURL = cfg.CRM.BaseURL + "/oauth/token"
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func readYAML(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer func() { _ = f.Close() }()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	return nil
}

type setter func(v string) error

func str(dst *string) setter {
	return func(v string) error { *dst = v; return nil }
}

func list(dst *[]string) setter {
	return func(v string) error {
		*dst = nil
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				*dst = append(*dst, s)
			}
		}
		return nil
	}
}

func integer(dst *int) setter {
	return func(v string) error {
		n, err := strconv.Atoi(v)
		if err != nil {
			return err
		}
		*dst = n
		return nil
	}
}

func int32v(dst *int32) setter {
	return func(v string) error {
		n, err := strconv.ParseInt(v, 10, 32)
		if err != nil {
			return err
		}
		*dst = int32(n)
		return nil
	}
}

func duration(dst *time.Duration) setter {
	return func(v string) error {
		d, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*dst = d
		return nil
	}
}

func boolean(dst *bool) setter {
	return func(v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		*dst = b
		return nil
	}
}

func (c *Config) envSetters() map[string]setter {
	return map[string]setter{
		"HTTP_ADDR":                 str(&c.HTTP.Addr),
		"HTTP_READ_TIMEOUT":         duration(&c.HTTP.ReadTimeout),
		"HTTP_WRITE_TIMEOUT":        duration(&c.HTTP.WriteTimeout),
		"ADMIN_ADDR":                str(&c.AdminAddr),
		"DATABASE_DSN":              str(&c.Database.DSN),
		"DATABASE_MAX_CONNS":        int32v(&c.Database.MaxConns),
		"DATABASE_MIN_CONNS":        int32v(&c.Database.MinConns),
		"REDIS_URL":                 str(&c.Redis.URL),
		"REDIS_LOCK_TTL":            duration(&c.Redis.LockTTL),
		"REDIS_LOCK_WAIT":           duration(&c.Redis.LockWait),
		"AUTH_JWT_KEY":              str(&c.Auth.JWTKey),
		"AUTH_TOKEN_TTL":            duration(&c.Auth.TokenTTL),
		"CRM_BASE_URL":              str(&c.CRM.BaseURL),
		"CRM_CLIENT_ID":             str(&c.CRM.ClientID),
		"CRM_CLIENT_SECRET":         str(&c.CRM.ClientSecret),
		"CRM_AUTH_URL":              str(&c.CRM.AuthURL),
		"CRM_TOKEN_URL":             str(&c.CRM.TokenURL),
		"CRM_REDIRECT_URL":          str(&c.CRM.RedirectURL),
		"CRM_SCOPES":                list(&c.CRM.Scopes),
		"CRM_TIMEOUT":               duration(&c.CRM.Timeout),
		"CRM_TOKEN_SKEW":            duration(&c.CRM.TokenSkew),
		"CRM_PAGE_SIZE":             integer(&c.CRM.PageSize),
		"CRM_MAX_PAGES":             integer(&c.CRM.MaxPages),
		"CRM_MAX_RECORDS":           integer(&c.CRM.MaxRecords),
		"SYNC_WORKERS":              integer(&c.Sync.Workers),
		"SYNC_RUN_TIMEOUT":          duration(&c.Sync.RunTimeout),
		"SYNC_BACKOFF_WINDOW":       duration(&c.Sync.Backoff.Window),
		"SYNC_BACKOFF_MAX_FAILURES": integer(&c.Sync.Backoff.MaxFailures),
		"SYNC_BACKOFF_BLOCK_FOR":    duration(&c.Sync.Backoff.BlockFor),
		"SEAL_SECRET":               str(&c.Seal.Secret),
		"SEAL_SALT":                 str(&c.Seal.Salt),
		"LOG_DEV":                   boolean(&c.Log.Dev),
	}
}

func applyEnv(c *Config, lookup func(string) (string, bool)) error {
	for key, set := range c.envSetters() {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			continue
		}
		if err := set(v); err != nil {
			return fmt.Errorf("invalid %s%s: %w", EnvPrefix, key, err)
		}
	}
	return nil
}

// Validate reports every missing or out-of-range setting at once.
func (c *Config) Validate() error {
	var problems []error
	required := func(v, name string) {
		if strings.TrimSpace(v) == "" {
			problems = append(problems, fmt.Errorf("%s is required", name))
		}
	}
	required(c.Database.DSN, "database.dsn")
	required(c.Auth.JWTKey, "auth.jwt_key")
	required(c.CRM.BaseURL, "crm.base_url")
	required(c.CRM.ClientID, "crm.client_id")
	required(c.CRM.ClientSecret, "crm.client_secret")
	required(c.Seal.Secret, "seal.secret")
	if c.Sync.Workers < 1 {
		problems = append(problems, errors.New("sync.workers must be >= 1"))
	}
	if c.Sync.RunTimeout <= 0 {
		problems = append(problems, errors.New("sync.run_timeout must be positive"))
	}
	if c.Sync.Backoff.MaxFailures < 1 {
		problems = append(problems, errors.New("sync.backoff.max_failures must be >= 1"))
	}
	return errors.Join(problems...)
}
