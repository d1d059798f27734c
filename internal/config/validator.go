package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
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

	validateProxy(&cfg.Proxy, result)
	validateApplicationData(&cfg.ApplicationData, result)

	return result
}

func validateProxy(p *ProxyConfig, result *ValidationResult) {
	if _, err := SplitHostPort(p.Bind); err != nil {
		result.AddError("proxy.bind", err.Error())
	}

	if p.MaxConnections < 1 {
		result.AddError("proxy.max_connections", "must allow at least 1 connection")
	}
	if p.ConnectionsPerSecond <= 0 {
		result.AddWarning("proxy.connections_per_second",
			"per-IP connection throttle is disabled")
	} else if p.ConnectionBurst < 1 {
		result.AddError("proxy.connection_burst", "burst must be at least 1 when throttling is enabled")
	}
	if p.WriteQueueSize < 1 {
		result.AddError("proxy.write_queue_size", "write queue must hold at least 1 frame")
	}

	if p.IdleTimeoutSec < 1 {
		result.AddError("proxy.idle_timeout_sec", "idle timeout must be at least 1 second")
	}
	if p.KeepAliveIntervalSec < 1 {
		result.AddError("proxy.keepalive_interval_sec", "keep-alive interval must be at least 1 second")
	} else if p.KeepAliveIntervalSec >= p.IdleTimeoutSec {
		result.AddWarning("proxy.keepalive_interval_sec",
			"keep-alive interval is not shorter than the idle timeout, clients in CONFIG may time out")
	}
	if p.ShutdownGraceSec < 0 {
		result.AddError("proxy.shutdown_grace_sec", "shutdown grace cannot be negative")
	}

	if p.Status.MaxPlayers < 0 {
		result.AddError("proxy.status.max_players", "max players cannot be negative")
	}
	if p.Status.Favicon != "" && !strings.HasPrefix(p.Status.Favicon, "data:image/png;base64,") {
		result.AddWarning("proxy.status.favicon", "favicon should be a data:image/png;base64 URI")
	}

	if p.Routing.DefaultTarget != "" {
		if _, err := SplitHostPort(p.Routing.DefaultTarget); err != nil {
			result.AddError("proxy.routing.default_target", err.Error())
		}
	} else {
		result.AddWarning("proxy.routing.default_target",
			"no default target, ready players are disconnected unless an event handler routes them")
	}
	if !p.StrictDecoding {
		result.AddWarning("proxy.strict_decoding", "leftover bytes after decoding are ignored")
	}
}

func validateApplicationData(data *ApplicationData, result *ValidationResult) {
	if data.API.Enabled {
		validatePort(data.API.Port, "application_data.api.port", result)
		if data.API.AdminToken == "" {
			result.AddWarning("application_data.api.admin_token",
				"no admin token set, connection control endpoints are unauthenticated")
		}
		for _, entry := range data.API.IPWhitelist {
			if net.ParseIP(entry) == nil {
				if _, _, err := net.ParseCIDR(entry); err != nil {
					result.AddError("application_data.api.ip_whitelist",
						fmt.Sprintf("%q is neither an IP nor a CIDR", entry))
				}
			}
		}
		if data.API.TLSEnabled {
			if strings.TrimSpace(data.API.TLSCertFile) == "" {
				result.AddError("application_data.api.tls_cert_file",
					"TLS certificate file is required when TLS is enabled")
			}
			if strings.TrimSpace(data.API.TLSKeyFile) == "" {
				result.AddError("application_data.api.tls_key_file",
					"TLS key file is required when TLS is enabled")
			}
		}
	}

	if data.Database.Enabled && strings.TrimSpace(data.Database.Path) == "" {
		result.AddError("application_data.database.path", "database path is required when enabled")
	}
	if data.Database.RetentionDays < 0 {
		result.AddError("application_data.database.retention_days", "retention days cannot be negative")
	}
	if data.Database.PruneTime != "" {
		if _, err := time.Parse("15:04", data.Database.PruneTime); err != nil {
			result.AddError("application_data.database.prune_time", "prune time must be HH:MM")
		}
	}

	if data.MQTT.Enabled {
		if strings.TrimSpace(data.MQTT.BrokerURL) == "" {
			result.AddError("application_data.mqtt.broker_url", "MQTT broker URL is required when enabled")
		}
		if data.MQTT.Port < 1 || data.MQTT.Port > 65535 {
			result.AddError("application_data.mqtt.port", "invalid MQTT port")
		}
	}

	if _, err := zerolog.ParseLevel(data.Logging.Level); err != nil {
		result.AddWarning("application_data.logging.level",
			fmt.Sprintf("unknown log level %q, falling back to info", data.Logging.Level))
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

// Target is a host and port parsed from a "host:port" setting.
type Target struct {
	Host string
	Port int
}

// SplitHostPort parses and validates a "host:port" setting.
func SplitHostPort(addr string) (Target, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return Target{}, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return Target{}, fmt.Errorf("invalid port in %q (must be 1-65535)", addr)
	}
	return Target{Host: host, Port: port}, nil
}
