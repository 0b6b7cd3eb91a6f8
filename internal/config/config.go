package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values. CLINIC_API_URL plays the
// role of the public API base URL the browser bundle used to read.
const (
	EnvAPIURL   = "CLINIC_API_URL"
	EnvListen   = "CLINIC_LISTEN"
	EnvTimezone = "CLINIC_TIMEZONE"
	EnvLogLevel = "CLINIC_LOG_LEVEL"
)

const (
	defaultListen         = "127.0.0.1:3000"
	defaultAPIURL         = "http://localhost:8080"
	defaultTimezone       = "America/Mexico_City"
	defaultWeekStart      = "sunday"
	defaultRefresh        = "@every 10s"
	defaultRequestTimeout = 15
	defaultTokenPath      = "./var/clinica_token"
	defaultSnapshotPath   = "./var/preview.png"
	defaultLoginRPS       = 1.0
	defaultLoginBurst     = 5
	defaultLimiterClients = 1024
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// RateLimitConfig throttles login/register submissions per client address.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" json:"rps"`
	Burst int     `yaml:"burst" json:"burst"`
	// MaxClients bounds the per-address limiter table.
	MaxClients int `yaml:"max_clients" json:"max_clients"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the patient UI.
	Listen string `yaml:"listen" json:"listen"`

	// APIURL is the clinic REST API base URL (no trailing slash).
	APIURL string `yaml:"api_url" json:"api_url"`

	// RequestTimeoutSeconds bounds every outbound API call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds" json:"request_timeout_seconds"`

	// Timezone is the clinic's IANA zone. Appointment times carry no zone
	// and are always interpreted here.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls the first column of the month grid:
	//   - "sunday" (default)
	//   - "monday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// Refresh is a cron spec for the dashboard's periodic re-fetch.
	Refresh string `yaml:"refresh" json:"refresh"`

	// TokenPath is where the bearer token is persisted between runs.
	TokenPath string `yaml:"token_path" json:"token_path"`

	// SnapshotPath is where the printable calendar PNG is written.
	SnapshotPath string `yaml:"snapshot_path" json:"snapshot_path"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	LoginRateLimit RateLimitConfig `yaml:"login_rate_limit" json:"login_rate_limit"`

	// BasicAuth, if set, guards every endpoint except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:                defaultListen,
		APIURL:                defaultAPIURL,
		RequestTimeoutSeconds: defaultRequestTimeout,
		Timezone:              defaultTimezone,
		WeekStart:             defaultWeekStart,
		Refresh:               defaultRefresh,
		TokenPath:             defaultTokenPath,
		SnapshotPath:          defaultSnapshotPath,
		LogLevel:              "info",
		LoginRateLimit: RateLimitConfig{
			RPS:        defaultLoginRPS,
			Burst:      defaultLoginBurst,
			MaxClients: defaultLimiterClients,
		},
	}
}

// Normalize fills in missing/zero values so partially-filled configs still
// behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.APIURL == "" {
		c.APIURL = defaultAPIURL
	}
	for len(c.APIURL) > 0 && c.APIURL[len(c.APIURL)-1] == '/' {
		c.APIURL = c.APIURL[:len(c.APIURL)-1]
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = defaultRequestTimeout
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch c.WeekStart {
	case "monday", "sunday":
	default:
		c.WeekStart = defaultWeekStart
	}
	if c.Refresh == "" {
		c.Refresh = defaultRefresh
	}
	if c.TokenPath == "" {
		c.TokenPath = defaultTokenPath
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = defaultSnapshotPath
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LoginRateLimit.RPS <= 0 {
		c.LoginRateLimit.RPS = defaultLoginRPS
	}
	if c.LoginRateLimit.Burst <= 0 {
		c.LoginRateLimit.Burst = defaultLoginBurst
	}
	if c.LoginRateLimit.MaxClients <= 0 {
		c.LoginRateLimit.MaxClients = defaultLimiterClients
	}
}

// RequestTimeout returns the outbound API timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// Location resolves the clinic timezone, falling back to time.Local.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local, err
	}
	return loc, nil
}

// ApplyEnv loads an optional .env file and applies CLINIC_* overrides.
// A missing .env file is not an error.
func (c *Config) ApplyEnv(envFiles ...string) error {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if v := os.Getenv(EnvAPIURL); v != "" {
		c.APIURL = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvTimezone); v != "" {
		c.Timezone = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("CLINIC_REQUEST_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RequestTimeoutSeconds = n
		}
	}
	c.Normalize()
	return nil
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is decoded and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename, 0600).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return WriteFileAtomic(path, data, ".clinicweb-config-*.tmp")
}

// WriteFileAtomic writes data next to path and renames it into place with
// 0600 permissions. The parent directory is created with 0700.
func WriteFileAtomic(path string, data []byte, pattern string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
