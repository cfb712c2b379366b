// Package settings manages persistent defaults for the srv6orch CLI.
package settings

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Settings holds persistent operator preferences. Command-line flags
// override every field.
type Settings struct {
	// RedisAddr is the address of the SONiC redis server
	RedisAddr string `json:"redis_addr,omitempty"`

	// SSHHost, when set, tunnels redis through SSH to this switch
	SSHHost string `json:"ssh_host,omitempty"`
	SSHUser string `json:"ssh_user,omitempty"`
	SSHPass string `json:"ssh_pass,omitempty"`
	SSHPort int    `json:"ssh_port,omitempty"`

	// MetricsAddr is the listen address of the /metrics endpoint
	MetricsAddr string `json:"metrics_addr,omitempty"`

	// AuditLog is the path of the task journal
	AuditLog string `json:"audit_log,omitempty"`

	LogLevel string `json:"log_level,omitempty"`

	// EncapSource and UnderlayRIF seed the engine configuration
	EncapSource string `json:"encap_source,omitempty"`
	UnderlayRIF string `json:"underlay_rif,omitempty"`
}

// DefaultSettingsPath returns the default path for the settings file
func DefaultSettingsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "srv6orch_settings.json"
	}
	return filepath.Join(home, ".srv6orch", "settings.json")
}

// Load reads settings from the default location
func Load() (*Settings, error) {
	return LoadFrom(DefaultSettingsPath())
}

// LoadFrom reads settings from a specific path
func LoadFrom(path string) (*Settings, error) {
	s := &Settings{}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}

	return s, nil
}

// Save writes settings to the default location
func (s *Settings) Save() error {
	return s.SaveTo(DefaultSettingsPath())
}

// SaveTo writes settings to a specific path. The file may hold an SSH
// password, so it is readable by the owner only.
func (s *Settings) SaveTo(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

// GetRedisAddr returns the redis address (with fallback)
func (s *Settings) GetRedisAddr() string {
	if s.RedisAddr != "" {
		return s.RedisAddr
	}
	return "127.0.0.1:6379"
}

// GetMetricsAddr returns the metrics listen address (with fallback)
func (s *Settings) GetMetricsAddr() string {
	if s.MetricsAddr != "" {
		return s.MetricsAddr
	}
	return ":9108"
}

// GetSSHPort returns the SSH port (with fallback)
func (s *Settings) GetSSHPort() int {
	if s.SSHPort != 0 {
		return s.SSHPort
	}
	return 22
}

// Keys lists the names accepted by Set and Get, in display order.
var Keys = []string{
	"redis_addr", "ssh_host", "ssh_user", "ssh_pass", "ssh_port",
	"metrics_addr", "audit_log", "log_level", "encap_source", "underlay_rif",
}

// Set assigns a setting by its JSON name. ok is false for unknown names.
func (s *Settings) Set(key, value string) (ok bool) {
	if key == "ssh_port" {
		port, err := strconv.Atoi(value)
		if err != nil || port < 0 || port > 65535 {
			return false
		}
		s.SSHPort = port
		return true
	}
	p := s.field(key)
	if p == nil {
		return false
	}
	*p = value
	return true
}

// Get returns a setting by its JSON name.
func (s *Settings) Get(key string) (string, bool) {
	if key == "ssh_port" {
		if s.SSHPort == 0 {
			return "", true
		}
		return strconv.Itoa(s.SSHPort), true
	}
	p := s.field(key)
	if p == nil {
		return "", false
	}
	return *p, true
}

func (s *Settings) field(key string) *string {
	switch key {
	case "redis_addr":
		return &s.RedisAddr
	case "ssh_host":
		return &s.SSHHost
	case "ssh_user":
		return &s.SSHUser
	case "ssh_pass":
		return &s.SSHPass
	case "metrics_addr":
		return &s.MetricsAddr
	case "audit_log":
		return &s.AuditLog
	case "log_level":
		return &s.LogLevel
	case "encap_source":
		return &s.EncapSource
	case "underlay_rif":
		return &s.UnderlayRIF
	}
	return nil
}

// Clear resets all settings to defaults
func (s *Settings) Clear() {
	*s = Settings{}
}
