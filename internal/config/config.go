// Package config handles configuration loading, validation, and persistence
// for the lobby client.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog/log"
)

const (
	DefaultConfigDir         = "config"
	DefaultConfigFile        = "config.json"
	DefaultServerAddr        = "127.0.0.1:9000"
	DefaultAPIPort           = 5080
	DefaultReconnectInterval = 10
	DefaultTickRate          = 60

	// EnvPrefix namespaces environment overrides (LOBBY_SERVER_ADDR, ...).
	EnvPrefix = "LOBBY"
)

// Config is the root configuration structure.
type Config struct {
	mu   sync.RWMutex
	path string

	Lobby   LobbyConfig   `json:"lobby"`
	API     APIConfig     `json:"api"`
	MQTT    MQTTConfig    `json:"mqtt"`
	History HistoryConfig `json:"history"`
	Logging LoggingConfig `json:"logging"`
}

// LobbyConfig holds the connection and session settings.
type LobbyConfig struct {
	ServerAddr           string `json:"server_addr"`
	ReconnectIntervalSec int    `json:"reconnect_interval_sec"`
	TargetBufferSize     int    `json:"target_buffer_size"`
	TickRate             int    `json:"tick_rate"`

	// Credentials used for automatic login after the handshake.
	Email     string `json:"email"`
	Password  string `json:"password"`
	AutoLogin bool   `json:"auto_login"`

	// TraceWire adds a hex-dumping stage to every socket pipeline.
	TraceWire bool `json:"trace_wire"`
}

// APIConfig holds the HTTP API settings.
type APIConfig struct {
	Enabled        bool     `json:"enabled"`
	Host           string   `json:"host"`
	Port           int      `json:"port"`
	AllowedOrigins []string `json:"allowed_origins"`
	RateLimitRPS   int      `json:"rate_limit_rps"`

	// Token, when set, is required as a Bearer token on /api routes.
	Token       string   `json:"token"`
	IPWhitelist []string `json:"ip_whitelist"`
}

// MQTTConfig holds MQTT telemetry settings.
type MQTTConfig struct {
	Enabled     bool   `json:"enabled"`
	BrokerURL   string `json:"broker_url"`
	Port        int    `json:"port"`
	UseTLS      bool   `json:"use_tls"`
	CAFile      string `json:"ca_file"`
	ClientID    string `json:"client_id"`
	TopicPrefix string `json:"topic_prefix"`
}

// HistoryConfig holds the local event history settings.
type HistoryConfig struct {
	Enabled       bool   `json:"enabled"`
	Path          string `json:"path"`
	RetentionDays int    `json:"retention_days"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// envOverrides are the LOBBY_* variables applied on top of the file.
type envOverrides struct {
	ServerAddr string `envconfig:"SERVER_ADDR"`
	Email      string `envconfig:"EMAIL"`
	Password   string `envconfig:"PASSWORD"`
	AutoLogin  *bool  `envconfig:"AUTO_LOGIN"`
	APIPort    int    `envconfig:"API_PORT"`
	APIToken   string `envconfig:"API_TOKEN"`
	LogLevel   string `envconfig:"LOG_LEVEL"`
	MQTTBroker string `envconfig:"MQTT_BROKER"`
	HistoryDB  string `envconfig:"HISTORY_PATH"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Lobby: LobbyConfig{
			ServerAddr:           DefaultServerAddr,
			ReconnectIntervalSec: DefaultReconnectInterval,
			TargetBufferSize:     8 * 1024,
			TickRate:             DefaultTickRate,
		},
		API: APIConfig{
			Enabled:        true,
			Host:           "127.0.0.1",
			Port:           DefaultAPIPort,
			AllowedOrigins: []string{"http://localhost:3000"},
			RateLimitRPS:   50,
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			BrokerURL:   "localhost",
			Port:        1883,
			TopicPrefix: "lobby",
		},
		History: HistoryConfig{
			Enabled:       true,
			Path:          filepath.Join("data", "history.db"),
			RetentionDays: 30,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Directory:  "logs",
			MaxBackups: 5,
			Console:    true,
		},
	}
}

// Load reads configuration from a JSON file, creating it with defaults when
// missing, then applies .env and LOBBY_* environment overrides. Overrides
// are not written back to disk.
func Load(configDir string) (*Config, error) {
	configPath := filepath.Join(configDir, DefaultConfigFile)

	cfg := DefaultConfig()
	cfg.path = configPath

	data, err := os.ReadFile(configPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info().Str("path", configPath).Msg("config file not found, creating default")
		if saveErr := cfg.Save(); saveErr != nil {
			return nil, fmt.Errorf("failed to save default config: %w", saveErr)
		}
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", configPath, err)
		}
		log.Info().Str("path", configPath).Msg("configuration loaded")

		// Persist any default fields added since the file was written.
		if saveErr := cfg.Save(); saveErr != nil {
			log.Warn().Err(saveErr).Msg("failed to re-save config with updated defaults")
		}
	}

	if err := cfg.ApplyEnv(filepath.Join(configDir, ".env")); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv loads dotenv (when the file exists) and applies LOBBY_*
// variables to the in-memory configuration.
func (c *Config) ApplyEnv(dotenv string) error {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", dotenv, err)
		}
	}

	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return fmt.Errorf("failed to process environment: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if env.ServerAddr != "" {
		c.Lobby.ServerAddr = env.ServerAddr
	}
	if env.Email != "" {
		c.Lobby.Email = env.Email
	}
	if env.Password != "" {
		c.Lobby.Password = env.Password
	}
	if env.AutoLogin != nil {
		c.Lobby.AutoLogin = *env.AutoLogin
	}
	if env.APIPort != 0 {
		c.API.Port = env.APIPort
	}
	if env.APIToken != "" {
		c.API.Token = env.APIToken
	}
	if env.LogLevel != "" {
		c.Logging.Level = env.LogLevel
	}
	if env.MQTTBroker != "" {
		c.MQTT.BrokerURL = env.MQTTBroker
		c.MQTT.Enabled = true
	}
	if env.HistoryDB != "" {
		c.History.Path = env.HistoryDB
	}
	return nil
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

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	log.Debug().Str("path", c.path).Msg("configuration saved")
	return nil
}

// GetLobby returns a copy of the lobby configuration.
func (c *Config) GetLobby() LobbyConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Lobby
}

// SetCredentials updates the login credentials.
func (c *Config) SetCredentials(email, password string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Lobby.Email = email
	c.Lobby.Password = password
}

// GetAPI returns a copy of the API configuration.
func (c *Config) GetAPI() APIConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.API
}

// GetMQTT returns a copy of the MQTT configuration.
func (c *Config) GetMQTT() MQTTConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MQTT
}

// GetHistory returns a copy of the history configuration.
func (c *Config) GetHistory() HistoryConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.History
}

// GetLogging returns a copy of the logging configuration.
func (c *Config) GetLogging() LoggingConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Logging
}

// ReconnectInterval returns the reconnect interval as a duration.
func (l LobbyConfig) ReconnectInterval() time.Duration {
	return time.Duration(l.ReconnectIntervalSec) * time.Second
}

// TickInterval returns the target duration of one network tick.
func (l LobbyConfig) TickInterval() time.Duration {
	if l.TickRate <= 0 {
		return time.Second / DefaultTickRate
	}
	return time.Second / time.Duration(l.TickRate)
}

// HasCredentials reports whether automatic login can run.
func (l LobbyConfig) HasCredentials() bool {
	return l.Email != "" && l.Password != ""
}

// Path returns the config file path.
func (c *Config) Path() string {
	return c.path
}
