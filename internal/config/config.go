// Package config handles configuration loading, validation, and persistence
// for the Portal proxy.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultBind       = "0.0.0.0:25565"
	DefaultAPIPort    = 5000

	DefaultWriteQueueSize = 64
)

// Config is the root configuration structure for Portal.
type Config struct {
	mu   sync.RWMutex
	path string

	Proxy           ProxyConfig     `json:"proxy"`
	ApplicationData ApplicationData `json:"application_data"`
}

// ProxyConfig controls the client-facing listener and connection lifecycle.
type ProxyConfig struct {
	Bind string `json:"bind"`

	// Pool and throttling
	MaxConnections       int     `json:"max_connections"`
	ConnectionsPerSecond float64 `json:"connections_per_second"`
	ConnectionBurst      int     `json:"connection_burst"`
	WriteQueueSize       int     `json:"write_queue_size"`

	// Timers
	IdleTimeoutSec       int `json:"idle_timeout_sec"`
	KeepAliveIntervalSec int `json:"keepalive_interval_sec"`
	ShutdownGraceSec     int `json:"shutdown_grace_sec"`

	// Protocol behaviour
	StrictDecoding  bool `json:"strict_decoding"`
	AcceptTransfers bool `json:"accept_transfers"`
	TrustClientUUID bool `json:"trust_client_uuid"`

	Status   StatusConfig   `json:"status"`
	Routing  RoutingConfig  `json:"routing"`
	Messages MessagesConfig `json:"messages"`
}

// StatusConfig holds the server list entry.
type StatusConfig struct {
	MOTD        string `json:"motd"`
	MaxPlayers  int    `json:"max_players"`
	VersionName string `json:"version_name"`
	Favicon     string `json:"favicon"`
	Cache       bool   `json:"cache"`
}

// RoutingConfig decides where ready players are sent.
type RoutingConfig struct {
	DefaultTarget string `json:"default_target"`
	OriginCookie  bool   `json:"origin_cookie"`
}

// MessagesConfig holds the disconnect reasons shown to players.
type MessagesConfig struct {
	NoTarget           string `json:"no_target"`
	UnsupportedVersion string `json:"unsupported_version"`
	TransfersDisabled  string `json:"transfers_disabled"`
	Shutdown           string `json:"shutdown"`
}

// ApplicationData contains the admin surface and ambient service settings.
type ApplicationData struct {
	API      APIConfig      `json:"api"`
	Database DatabaseConfig `json:"database"`
	MQTT     MQTTConfig     `json:"mqtt"`
	Logging  LoggingConfig  `json:"logging"`
}

// APIConfig holds admin REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	TLSEnabled     bool     `json:"tls_enabled"`
	TLSCertFile    string   `json:"tls_cert_file"`
	TLSKeyFile     string   `json:"tls_key_file"`
	AdminToken     string   `json:"admin_token"`
	IPWhitelist    []string `json:"ip_whitelist"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
}

// DatabaseConfig holds session store settings.
type DatabaseConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"` // 0 keeps history forever
	PruneTime     string `json:"prune_time"`     // HH:MM local time
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled   bool   `json:"enabled"`
	BrokerURL string `json:"broker_url"`
	Port      int    `json:"port"`
	UseTLS    bool   `json:"use_tls"`
	CertFile  string `json:"cert_file"`
	KeyFile   string `json:"key_file"`
	CAFile    string `json:"ca_file"`
	ClientID  string `json:"client_id"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level"`
	Directory string `json:"directory"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Proxy: ProxyConfig{
			Bind:                 DefaultBind,
			MaxConnections:       1024,
			ConnectionsPerSecond: 5,
			ConnectionBurst:      10,
			WriteQueueSize:       DefaultWriteQueueSize,
			IdleTimeoutSec:       30,
			KeepAliveIntervalSec: 10,
			ShutdownGraceSec:     5,
			StrictDecoding:       true,
			AcceptTransfers:      true,
			Status: StatusConfig{
				MOTD:        "A Portal proxy",
				MaxPlayers:  100,
				VersionName: "Portal",
				Cache:       true,
			},
			Routing: RoutingConfig{
				OriginCookie: true,
			},
			Messages: MessagesConfig{
				NoTarget:           "No server is available to take you right now.",
				UnsupportedVersion: "Unsupported client version.",
				TransfersDisabled:  "Transfers are not accepted by this server.",
				Shutdown:           "The proxy is shutting down.",
			},
		},
		ApplicationData: ApplicationData{
			API: APIConfig{
				Enabled:      true,
				Port:         DefaultAPIPort,
				TLSCertFile:  filepath.Join("data", "api.crt"),
				TLSKeyFile:   filepath.Join("data", "api.key"),
				RateLimitRPS: 20,
			},
			Database: DatabaseConfig{
				Enabled:       true,
				Path:          filepath.Join("data", "portal.db"),
				RetentionDays: 30,
				PruneTime:     "04:00",
			},
			MQTT: MQTTConfig{
				Enabled: false,
				Port:    8883,
				UseTLS:  true,
			},
			Logging: LoggingConfig{
				Level:     "info",
				Directory: "logs",
			},
		},
	}
}

// Load reads configuration from a JSON file.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", configPath).Msg("config file not found, creating default")
			cfg := DefaultConfig()
			cfg.path = configPath
			if saveErr := cfg.Save(); saveErr != nil {
				return nil, fmt.Errorf("failed to save default config: %w", saveErr)
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig() // Start with defaults, then overlay
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Re-save so config.json always lists every option.
	if saveErr := cfg.Save(); saveErr != nil {
		log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
	}

	return cfg, nil
}

// Save writes the current configuration to disk.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetProxy returns a copy of the proxy configuration.
func (c *Config) GetProxy() ProxyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Proxy
}

// SetDefaultTarget changes where ready players are transferred to.
func (c *Config) SetDefaultTarget(target string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Proxy.Routing.DefaultTarget = target
}

// SetMOTD changes the server list description.
func (c *Config) SetMOTD(motd string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Proxy.Status.MOTD = motd
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// IdleTimeout returns the read idle timeout.
func (p ProxyConfig) IdleTimeout() time.Duration {
	return time.Duration(p.IdleTimeoutSec) * time.Second
}

// KeepAliveInterval returns the CONFIG keep-alive period.
func (p ProxyConfig) KeepAliveInterval() time.Duration {
	return time.Duration(p.KeepAliveIntervalSec) * time.Second
}

// ShutdownGrace returns how long queued writes may flush on shutdown.
func (p ProxyConfig) ShutdownGrace() time.Duration {
	return time.Duration(p.ShutdownGraceSec) * time.Second
}
