package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
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

	validatePlayer(&cfg.Player, result)
	validateNetwork(&cfg.Network, result)
	validateScenario(&cfg.Scenario, cfg.Network.Mode, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validatePlayer(p *PlayerConfig, result *ValidationResult) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		result.AddError("player.name", "player name is required")
	} else if len(name) > 31 {
		result.AddError("player.name", "player name must be at most 31 characters")
	}
}

func validateNetwork(n *NetworkConfig, result *ValidationResult) {
	switch n.Mode {
	case ModeHost:
		if strings.TrimSpace(n.GameName) == "" {
			result.AddError("network.game_name", "game name is required when hosting")
		}
		validateAddr(n.ListenAddr, "network.listen_addr", result)
	case ModeJoin:
		if strings.TrimSpace(n.Address) == "" {
			result.AddError("network.join_address", "join address is required in join mode")
		} else {
			validateAddr(n.Address, "network.join_address", result)
		}
	case ModeDemo:
	default:
		result.AddError("network.mode", fmt.Sprintf("unknown mode %q (host, join or demo)", n.Mode))
	}

	if n.MaxPlayers < 2 || n.MaxPlayers > 16 {
		result.AddError("network.max_players", "max players must be between 2 and 16")
	}
	if n.TickRate < 1 || n.TickRate > 120 {
		result.AddError("network.tick_rate", fmt.Sprintf("tick rate %d out of range (1-120)", n.TickRate))
	}
	if n.Latency < 0 || n.Latency > 255 {
		result.AddError("network.latency_ticks", "latency must be between 0 (measure) and 255 ticks")
	}
	if n.BackupTicks < 0 || n.BackupTicks > 2 {
		result.AddError("network.backup_ticks", "backup ticks must be 0, 1 or 2")
	}
	if n.RegistrationLevel < 0 || n.RegistrationLevel > 2 {
		result.AddError("network.registration_level", "registration level must be 0, 1 or 2")
	}
	if n.ResendDelay < 1 {
		result.AddError("network.resend_delay_frames", "resend delay must be at least 1 frame")
	}
	if n.DesyncGraceTicks < 1 {
		result.AddWarning("network.desync_grace_ticks", "desync grace of 0 stops the game on the first mismatch")
	}
	if n.SubstituteFrames < 0 {
		result.AddError("network.substitute_after_frames", "substitute frames cannot be negative")
	}
	if n.BandwidthReduce && n.BackupTicks == 0 {
		result.AddWarning("network.backup_ticks",
			"bandwidth reduction forces one backup on throttled ticks")
	}
	if n.RetransmitMillis < 20 {
		result.AddWarning("network.retransmit_ms", "retransmit interval under 20ms may flood the link")
	}
	if n.PeerTimeoutSec < 2 {
		result.AddWarning("network.peer_timeout_sec", "peer timeout under 2s drops players on short stalls")
	}
}

func validateScenario(s *ScenarioConfig, mode string, result *ValidationResult) {
	if mode == ModeJoin {
		return
	}
	if strings.TrimSpace(s.File) == "" {
		result.AddError("scenario.file", "scenario file is required when hosting")
		return
	}
	if _, err := os.Stat(s.File); os.IsNotExist(err) {
		result.AddWarning("scenario.file",
			fmt.Sprintf("scenario file does not exist: %s (checksum falls back to the file name)", s.File))
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if strings.TrimSpace(data.Database.Path) == "" {
		result.AddError("application_data.database.path", "database path is required")
	}

	// MQTT
	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	// API
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if data.API.RateLimitRPS < 1 {
			result.AddWarning("application_data.api.rate_limit_rps",
				"rate limit is disabled (0 RPS), this may expose the API to abuse")
		}
		if data.API.UseTLS && (data.API.CertFile == "" || data.API.KeyFile == "") {
			result.AddError("application_data.api.cert_file", "cert and key files are required when TLS is enabled")
		}
	}
}

func validateAddr(addr, field string, result *ValidationResult) {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		result.AddError(field, fmt.Sprintf("invalid address %q: %v", addr, err))
		return
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		result.AddError(field, fmt.Sprintf("invalid port %q", portStr))
		return
	}
	validatePort(port, field, result)
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

// IsPortAvailable checks if a UDP port is free for the game socket.
func IsPortAvailable(port int) bool {
	pc, err := net.ListenPacket("udp", fmt.Sprintf(":%d", port))
	if err != nil {
		return false
	}
	pc.Close()
	return true
}
