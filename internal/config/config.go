package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"citadel/pkg/types"
)

// Manager manages node configuration loading, validation, and watching.
type Manager struct {
	config     *types.NodeConfig
	configPath string
	mutex      sync.RWMutex
	watchers   []chan types.Event
}

// NewManager creates a new configuration manager.
func NewManager() *Manager {
	return &Manager{
		config:   types.DefaultConfig(),
		watchers: make([]chan types.Event, 0),
	}
}

// LoadFromFile loads configuration from a file, dispatching by extension.
func (m *Manager) LoadFromFile(path string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	config := types.DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			if jsonErr := json.Unmarshal(data, config); jsonErr != nil {
				return fmt.Errorf("failed to parse config as YAML or JSON: YAML error: %v, JSON error: %v", err, jsonErr)
			}
		}
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	oldConfig := m.config
	m.config = config
	m.configPath = path

	if oldConfig != nil {
		m.notifyWatchers(types.NewEvent(types.EventTypeConfigChanged, config, "config.manager"))
	}

	return nil
}

// LoadFromData loads configuration from raw bytes in a known format.
func (m *Manager) LoadFromData(data []byte, format string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	config := types.DefaultConfig()

	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, config); err != nil {
			return fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported format: %s", format)
	}

	if err := config.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	oldConfig := m.config
	m.config = config

	if oldConfig != nil {
		m.notifyWatchers(types.NewEvent(types.EventTypeConfigChanged, config, "config.manager"))
	}

	return nil
}

// Get returns the current configuration (a thread-safe copy).
func (m *Manager) Get() *types.NodeConfig {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	configCopy := *m.config
	configCopy.StunServers = append([]string(nil), m.config.StunServers...)
	return &configCopy
}

// Watch returns a channel that receives configuration change events.
func (m *Manager) Watch() <-chan types.Event {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	watcher := make(chan types.Event, 10)
	m.watchers = append(m.watchers, watcher)
	return watcher
}

func (m *Manager) notifyWatchers(event types.Event) {
	for _, watcher := range m.watchers {
		select {
		case watcher <- event:
		default:
		}
	}
}

// SaveToFile saves the current configuration to a file.
func (m *Manager) SaveToFile(path string) error {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var data []byte
	var err error

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		data, err = json.MarshalIndent(m.config, "", "  ")
	default:
		data, err = yaml.Marshal(m.config)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Close closes all watchers.
func (m *Manager) Close() {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for _, watcher := range m.watchers {
		close(watcher)
	}
	m.watchers = make([]chan types.Event, 0)
}
