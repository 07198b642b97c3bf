// Package config loads process-wide settings from a YAML file with an
// SKW_-prefixed environment overlay, and supports atomic hot-reload.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// Redis holds connection settings for the shared coordination store.
type Redis struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password" log:"-"`
	DB       int    `yaml:"db"`
}

// Config is the full set of operator-tunable settings enumerated by the
// external interfaces table.
type Config struct {
	Token          string `yaml:"token" log:"-"`
	UpstreamAPIKey string `yaml:"upstreamApiKey" log:"-"`

	OAuthClientID     string `yaml:"oauthClientId"`
	OAuthClientSecret string `yaml:"oauthClientSecret" log:"-"`

	Shards string `yaml:"shards"` // numeric string, or "auto"

	MaxAccountsPerUser int `yaml:"maxAccountsPerUser"`

	RefreshSkins     string `yaml:"refreshSkins"`
	CheckGameVersion string `yaml:"checkGameVersion"`
	RefreshPrices    string `yaml:"refreshPrices"`
	UpdateUserAgent  string `yaml:"updateUserAgent"`

	DelayBetweenAlerts int `yaml:"delayBetweenAlerts"` // milliseconds
	AlertConcurrency   int `yaml:"alertConcurrency"`
	AlertsPerPage      int `yaml:"alertsPerPage"`

	CareerCacheExpirationSeconds  int `yaml:"careerCacheExpiration"`
	EmojiCacheExpirationSeconds   int `yaml:"emojiCacheExpiration"`
	LoadoutCacheExpirationSeconds int `yaml:"loadoutCacheExpiration"`

	DeferInteractions bool `yaml:"deferInteractions"`
	UseShopCache       bool `yaml:"useShopCache"`

	UseLoginQueue       bool `yaml:"useLoginQueue"`
	LoginQueueInterval  int  `yaml:"loginQueueInterval"` // milliseconds
	LoginQueuePollRate  int  `yaml:"loginQueuePollRate"` // milliseconds

	AuthFailureStrikes int `yaml:"authFailureStrikes"`

	AutoRefreshTokens        bool `yaml:"autoRefreshTokens"`
	TokenRefreshBufferMinutes int `yaml:"tokenRefreshBufferMinutes"`

	RateLimitBackoffSeconds int `yaml:"rateLimitBackoff"`
	RateLimitCapSeconds     int `yaml:"rateLimitCap"`

	MaintenanceMode bool   `yaml:"maintenanceMode"`
	Status          string `yaml:"status"`

	ShardReadyTimeoutSeconds int `yaml:"shardReadyTimeout"`

	StatsExpirationDays int  `yaml:"statsExpirationDays"`
	TrackStoreStats     bool `yaml:"trackStoreStats"`

	LogToChannel   string   `yaml:"logToChannel"`
	LogFrequency   string   `yaml:"logFrequency"`
	LogUrls        []string `yaml:"logUrls"`
	VerboseLogging bool     `yaml:"verboseLogging"`

	Store Redis `yaml:"store"`

	DatabasePath string `yaml:"databasePath"`
	CatalogPath  string `yaml:"catalogPath"`
	StatsPath    string `yaml:"statsPath"`
}

// Default returns the zero-value-safe defaults matching the behavior
// described for each key when unset.
func Default() *Config {
	return &Config{
		Shards:                    "auto",
		MaxAccountsPerUser:        5,
		RefreshSkins:              "0 0 * * *",
		CheckGameVersion:          "*/15 * * * *",
		RefreshPrices:             "*/5 * * * *",
		UpdateUserAgent:           "0 */6 * * *",
		DelayBetweenAlerts:        1500,
		AlertConcurrency:          1,
		AlertsPerPage:             10,
		CareerCacheExpirationSeconds:  300,
		EmojiCacheExpirationSeconds:   3600,
		LoadoutCacheExpirationSeconds: 300,
		UseShopCache:              true,
		LoginQueueInterval:        1000,
		LoginQueuePollRate:        500,
		AuthFailureStrikes:        3,
		AutoRefreshTokens:         true,
		TokenRefreshBufferMinutes: 5,
		RateLimitBackoffSeconds:   2,
		RateLimitCapSeconds:       300,
		ShardReadyTimeoutSeconds:  60,
		StatsExpirationDays:       30,
		TrackStoreStats:           true,
		DatabasePath:              "users.db",
		CatalogPath:               "skins.json",
		StatsPath:                 "stats.json",
	}
}

// Load reads path as YAML into Default(), then applies any SKW_-prefixed
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverlay(cfg)
	return cfg, nil
}

func applyEnvOverlay(cfg *Config) {
	const prefix = "SKW_"
	for _, kv := range os.Environ() {
		if !strings.HasPrefix(kv, prefix) {
			continue
		}
		parts := strings.SplitN(kv, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimPrefix(parts[0], prefix)
		switch key {
		case "TOKEN":
			cfg.Token = parts[1]
		case "UPSTREAM_API_KEY":
			cfg.UpstreamAPIKey = parts[1]
		case "OAUTH_CLIENT_ID":
			cfg.OAuthClientID = parts[1]
		case "OAUTH_CLIENT_SECRET":
			cfg.OAuthClientSecret = parts[1]
		case "SHARDS":
			cfg.Shards = parts[1]
		case "STORE_PASSWORD":
			cfg.Store.Password = parts[1]
		case "MAINTENANCE_MODE":
			if b, err := strconv.ParseBool(parts[1]); err == nil {
				cfg.MaintenanceMode = b
			}
		}
	}
}

// String renders a log-safe summary of cfg, eliding fields tagged log:"-".
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{shards=%s maxAccounts=%d alertConcurrency=%d useLoginQueue=%v maintenanceMode=%v}",
		c.Shards, c.MaxAccountsPerUser, c.AlertConcurrency, c.UseLoginQueue, c.MaintenanceMode,
	)
}

// Manager holds the process's active configuration behind an atomic
// pointer so readers never observe a torn reload.
type Manager struct {
	path    string
	current atomic.Pointer[Config]
}

// NewManager loads path and returns a Manager wrapping the result.
func NewManager(path string) (*Manager, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path}
	m.current.Store(cfg)
	return m, nil
}

// Current returns the active configuration snapshot.
func (m *Manager) Current() *Config {
	return m.current.Load()
}

// Reload re-reads the config file, atomically swaps it in, and returns the
// previous value so callers can diff what changed (e.g. to decide whether
// the scheduler needs restarting).
func (m *Manager) Reload() (previous *Config, err error) {
	next, err := Load(m.path)
	if err != nil {
		return nil, err
	}
	previous = m.current.Swap(next)
	return previous, nil
}
