package config

import (
	"fmt"
	"net"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation error [%s]: %s", e.Field, e.Message)
}

// ValidationResult holds the results of configuration validation.
type ValidationResult struct {
	Errors   []ValidationError
	Warnings []ValidationError
}

// IsValid returns true if there are no validation errors.
func (r *ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// AddError adds a validation error.
func (r *ValidationResult) AddError(field, message string) {
	r.Errors = append(r.Errors, ValidationError{Field: field, Message: message})
}

// AddWarning adds a validation warning.
func (r *ValidationResult) AddWarning(field, message string) {
	r.Warnings = append(r.Warnings, ValidationError{Field: field, Message: message})
}

// Validate performs comprehensive validation of the configuration.
func Validate(cfg *Config) *ValidationResult {
	result := &ValidationResult{}

	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	validateLobby(&cfg.Lobby, result)
	validateAPI(&cfg.API, result)
	validateMQTT(&cfg.MQTT, result)

	if cfg.History.Enabled && strings.TrimSpace(cfg.History.Path) == "" {
		result.AddError("history.path", "history database path is required when enabled")
	}

	return result
}

func validateLobby(l *LobbyConfig, result *ValidationResult) {
	if strings.TrimSpace(l.ServerAddr) == "" {
		result.AddError("lobby.server_addr", "server address is required")
	} else if _, port, err := net.SplitHostPort(l.ServerAddr); err != nil {
		result.AddError("lobby.server_addr", fmt.Sprintf("invalid server address %q: %v", l.ServerAddr, err))
	} else if port == "0" {
		result.AddError("lobby.server_addr", "server port must not be 0")
	}

	if l.ReconnectIntervalSec < 0 {
		result.AddError("lobby.reconnect_interval_sec", "reconnect interval must not be negative")
	} else if l.ReconnectIntervalSec == 0 {
		result.AddWarning("lobby.reconnect_interval_sec", "automatic reconnection is disabled")
	}

	if l.TargetBufferSize < 64 {
		result.AddError("lobby.target_buffer_size", "target buffer size must be at least 64 bytes")
	}

	if l.TickRate < 1 || l.TickRate > 1000 {
		result.AddError("lobby.tick_rate", fmt.Sprintf("tick rate %d out of range (1-1000)", l.TickRate))
	}

	if l.AutoLogin && (l.Email == "" || l.Password == "") {
		result.AddWarning("lobby.auto_login", "auto login is enabled but credentials are missing")
	}
}

func validateAPI(a *APIConfig, result *ValidationResult) {
	if !a.Enabled {
		return
	}
	validatePort(a.Port, "api.port", result)
	if a.RateLimitRPS < 1 {
		result.AddWarning("api.rate_limit_rps",
			"rate limit is disabled (0 RPS), this may expose the API to abuse")
	}
	local := a.Host == "127.0.0.1" || a.Host == "localhost" || a.Host == "::1"
	if !local && a.Token == "" {
		result.AddWarning("api.host",
			fmt.Sprintf("API bound to %q is reachable from other hosts and has no token", a.Host))
	}
	for _, entry := range a.IPWhitelist {
		if net.ParseIP(entry) != nil {
			continue
		}
		if _, _, err := net.ParseCIDR(entry); err != nil {
			result.AddError("api.ip_whitelist", fmt.Sprintf("invalid IP or CIDR %q", entry))
		}
	}
}

func validateMQTT(m *MQTTConfig, result *ValidationResult) {
	if !m.Enabled {
		return
	}
	if strings.TrimSpace(m.BrokerURL) == "" {
		result.AddError("mqtt.broker_url", "MQTT broker URL is required when enabled")
	}
	if m.Port < 1 || m.Port > 65535 {
		result.AddError("mqtt.port", "invalid MQTT port")
	}
}

func validatePort(port int, field string, result *ValidationResult) {
	if port < 1 || port > 65535 {
		result.AddError(field, fmt.Sprintf("invalid port number: %d (must be 1-65535)", port))
		return
	}
	if port < 1024 {
		result.AddWarning(field,
			fmt.Sprintf("port %d is a privileged port, may require elevated permissions", port))
	}
}
