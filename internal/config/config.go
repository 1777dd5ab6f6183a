// Package config handles configuration loading, validation, and persistence
// for an aresnet node.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir  = "config"
	DefaultConfigFile = "config.json"
	DefaultAPIPort    = 5080
	DefaultGamePort   = 7650
	DefaultTickRate   = 30
)

// Network modes.
const (
	ModeHost = "host"
	ModeJoin = "join"
	ModeDemo = "demo"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Player          PlayerConfig    `json:"player"`
	Network         NetworkConfig   `json:"network"`
	Scenario        ScenarioConfig  `json:"scenario"`
	ApplicationData ApplicationData `json:"application_data"`
}

// PlayerConfig is the local player's identity.
type PlayerConfig struct {
	Name  string `json:"name"`
	Race  int    `json:"race"`
	Color int    `json:"color"`
}

// NetworkConfig holds session and transport settings.
type NetworkConfig struct {
	Mode       string `json:"mode"`
	GameName   string `json:"game_name"`
	ListenAddr string `json:"listen_addr"`
	Address    string `json:"join_address"`
	Password   string `json:"password"`
	MaxPlayers int    `json:"max_players"`

	// Lock-step tuning
	TickRate          int  `json:"tick_rate"`
	Latency           int  `json:"latency_ticks"`
	BackupTicks       int  `json:"backup_ticks"`
	ThrottleLatency   int  `json:"throttle_latency_ticks"`
	ResendDelay       int  `json:"resend_delay_frames"`
	RegistrationLevel int  `json:"registration_level"`
	ResendOnRequest   bool `json:"resend_on_request"`
	BandwidthReduce   bool `json:"bandwidth_reduction"`
	DesyncGraceTicks  int  `json:"desync_grace_ticks"`

	// SubstituteFrames lets a stalled game repeat missing input after this
	// many frames. Zero waits forever.
	SubstituteFrames int `json:"substitute_after_frames"`

	// UDP transport
	RetransmitMillis int     `json:"retransmit_ms"`
	PeerTimeoutSec   int     `json:"peer_timeout_sec"`
	JoinTimeoutSec   int     `json:"join_timeout_sec"`
	InboundRate      float64 `json:"inbound_rate"`
}

// ScenarioConfig identifies the scenario offered when hosting.
type ScenarioConfig struct {
	File    string `json:"file"`
	URL     string `json:"url"`
	Version int    `json:"version"`
}

// ApplicationData contains node-wide services.
type ApplicationData struct {
	Database DatabaseConfig `json:"database"`
	MQTT     MQTTConfig     `json:"mqtt"`
	API      APIConfig      `json:"api"`
	Logging  LoggingConfig  `json:"logging"`
}

// DatabaseConfig locates the SQLite database.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CertFile    string `json:"cert_file"`
	KeyFile     string `json:"key_file"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// APIConfig holds REST API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`
	// Token, when set, is required as a bearer token on control routes.
	Token string `json:"token"`

	// UseTLS serves HTTPS. A self-signed pair is generated when the files
	// do not exist.
	UseTLS   bool   `json:"use_tls"`
	CertFile string `json:"cert_file"`
	KeyFile  string `json:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxSizeMB  int    `json:"max_size_mb"`
	MaxBackups int    `json:"max_backups"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Player: PlayerConfig{
			Race:  0,
			Color: 1,
		},
		Network: NetworkConfig{
			Mode:              ModeDemo,
			ListenAddr:        fmt.Sprintf("0.0.0.0:%d", DefaultGamePort),
			MaxPlayers:        4,
			TickRate:          DefaultTickRate,
			Latency:           0,
			BackupTicks:       1,
			ThrottleLatency:   6,
			ResendDelay:       10,
			RegistrationLevel: 1,
			ResendOnRequest:   true,
			DesyncGraceTicks:  60,
			RetransmitMillis:  150,
			PeerTimeoutSec:    10,
			JoinTimeoutSec:    5,
			InboundRate:       600,
		},
		Scenario: ScenarioConfig{
			File:    "scenarios/skirmish.ares",
			Version: 1,
		},
		ApplicationData: ApplicationData{
			Database: DatabaseConfig{
				Path: "data/aresnet.db",
			},
			MQTT: MQTTConfig{
				Enabled:     false,
				BrokerURL:   "localhost",
				Port:        1883,
				TopicPrefix: "aresnet",
			},
			API: APIConfig{
				Enabled:      true,
				Port:         DefaultAPIPort,
				RateLimitRPS: 20,
				CertFile:     "config/api.crt",
				KeyFile:      "config/api.key",
			},
			Logging: LoggingConfig{
				Level:      "info",
				Directory:  "logs",
				MaxSizeMB:  10,
				MaxBackups: 5,
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

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
	}

	cfg.path = configPath
	log.Info().Str("path", configPath).Msg("configuration loaded")

	// Persist fields added since the file was written.
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

// GetNetwork returns a copy of the network configuration.
func (c *Config) GetNetwork() NetworkConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Network
}

// SetNetwork updates the network configuration.
func (c *Config) SetNetwork(n NetworkConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Network = n
}

// GetPlayer returns a copy of the player identity.
func (c *Config) GetPlayer() PlayerConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Player
}

// GetApplicationData returns a copy of the application data configuration.
func (c *Config) GetApplicationData() ApplicationData {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ApplicationData
}

// UpdateNetworkField sets one network field by its JSON key.
func (c *Config) UpdateNetworkField(key string, value interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, _ := json.Marshal(c.Network)
	m := make(map[string]interface{})
	json.Unmarshal(data, &m)

	if _, ok := m[key]; !ok {
		return fmt.Errorf("unknown network field %q", key)
	}
	m[key] = value

	updated, _ := json.Marshal(m)
	var n NetworkConfig
	if err := json.Unmarshal(updated, &n); err != nil {
		return fmt.Errorf("failed to update field %s: %w", key, err)
	}
	c.Network = n
	return nil
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}

// SetPath sets where Save writes.
func (c *Config) SetPath(path string) {
	c.path = path
}

// IsFirstRun returns true if the configuration needs initial setup.
func (c *Config) IsFirstRun() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Player.Name == ""
}
