// Package config provides configuration management for the input
// transport: channel buffer sizing, resampling, and diagnostics.
package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"sync"
)

// Config holds the tunables that shape a Channel/Publisher/Consumer
// deployment.
type Config struct {
	Transport TransportConfig `json:"transport"`
	Debug     DebugConfig     `json:"debug"`
}

// TransportConfig controls the wire-level and batching behavior.
type TransportConfig struct {
	// SocketBufferSize is a SO_SNDBUF/SO_RCVBUF size in bytes. It is
	// stored and persisted only: channel.OpenPair always requests
	// channel.SocketBufferSize and does not read this field.
	SocketBufferSize int `json:"socket_buffer_size"`

	// ResampleEnabled turns on touch-sample interpolation/extrapolation
	// in the consumer.
	ResampleEnabled bool `json:"resample_enabled"`

	// DispatchTimeoutMillis is a WaitForMessage timeout in milliseconds.
	// It is stored and persisted only; nothing in this module reads it.
	DispatchTimeoutMillis int64 `json:"dispatch_timeout_millis"`
}

// DebugConfig controls optional diagnostics surfaces.
type DebugConfig struct {
	// Verbose enables per-message trace logging.
	Verbose bool `json:"verbose"`

	// DashboardEnabled starts the websocket diagnostics dashboard.
	DashboardEnabled bool `json:"dashboard_enabled"`

	// DashboardAddr is the listen address for the dashboard, e.g.
	// ":7070".
	DashboardAddr string `json:"dashboard_addr"`
}

// DefaultConfig returns a Config with sensible defaults for a local
// development deployment.
func DefaultConfig() *Config {
	return &Config{
		Transport: TransportConfig{
			SocketBufferSize:      32 * 1024,
			ResampleEnabled:       true,
			DispatchTimeoutMillis: 0,
		},
		Debug: DebugConfig{
			Verbose:          false,
			DashboardEnabled: false,
			DashboardAddr:    ":7070",
		},
	}
}

// Manager owns the on-disk config and guards it with a mutex. Get
// returns the live struct itself, not a copy, so edits must go through
// Set rather than mutating what Get returned.
type Manager struct {
	mu         sync.Mutex
	configPath string
	config     *Config
	onChanged  func()
}

// NewManager creates a Manager backed by the platform-appropriate
// config directory, seeded with DefaultConfig. Call Load to pull in
// any config already on disk.
func NewManager() (*Manager, error) {
	configPath, err := configPath()
	if err != nil {
		return nil, err
	}
	return &Manager{configPath: configPath, config: DefaultConfig()}, nil
}

func configPath() (string, error) {
	var dir string
	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, "Library", "Application Support", "inputtransport")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		dir = filepath.Join(appData, "inputtransport")
	default:
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = filepath.Join(home, ".config", "inputtransport")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the configuration from disk, leaving defaults in place
// if no file exists yet.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, m.config); err != nil {
		return err
	}
	if m.onChanged != nil {
		m.onChanged()
	}
	return nil
}

// Save writes the current configuration to disk.
func (m *Manager) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return err
	}
	log.Printf("config: saving configuration to %s (%d bytes)", m.configPath, len(data))
	return os.WriteFile(m.configPath, data, 0644)
}

// Get returns the current configuration. The caller must not mutate
// the returned value in place; use Set.
func (m *Manager) Get() *Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// Set replaces the configuration and fires the change callback, if
// one is registered.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	if m.onChanged != nil {
		m.onChanged()
	}
}

// RegisterChangeCallback registers fn to run after every Set, and after
// every Load that actually reads a config file (a missing file does not
// fire it).
func (m *Manager) RegisterChangeCallback(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChanged = fn
}
