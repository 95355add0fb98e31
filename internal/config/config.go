/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package config provides configuration management for qataar.

CONFIGURATION SOURCES (in order of precedence):
===============================================
1. Command-line flags (highest priority)
2. Environment variables (QATAAR_* prefix)
3. Configuration file (YAML or JSON, chosen by extension)
4. Default values (lowest priority)

EXAMPLE CONFIGURATION FILE (qataar.yaml):
=========================================

	bind_addr: 127.0.0.1:8020
	log_level: info
	queue:
	  capacity: 100
	  max_batch_bytes: 10000000
	auth:
	  enabled: true
	  username: aaa
	  password_hash: $2a$10$...
	metrics:
	  enabled: true
	  addr: 127.0.0.1:9100

ENVIRONMENT VARIABLES:
======================
Example: QATAAR_BIND_ADDR="0.0.0.0:8020" QATAAR_LOG_LEVEL="debug"
*/
package config

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"qataar/internal/protocol"
)

// Environment variable names
const (
	EnvBindAddr             = "QATAAR_BIND_ADDR"
	EnvLogLevel             = "QATAAR_LOG_LEVEL"
	EnvLogJSON              = "QATAAR_LOG_JSON"
	EnvIdleTimeout          = "QATAAR_IDLE_TIMEOUT"
	EnvReusePort            = "QATAAR_REUSE_PORT"
	EnvQueueCapacity        = "QATAAR_QUEUE_CAPACITY"
	EnvMaxBatchBytes        = "QATAAR_MAX_BATCH_BYTES"
	EnvCompressionThreshold = "QATAAR_COMPRESSION_THRESHOLD"

	// Authentication
	EnvAuthEnabled      = "QATAAR_AUTH_ENABLED"
	EnvAuthUsername     = "QATAAR_AUTH_USERNAME"
	EnvAuthPassword     = "QATAAR_AUTH_PASSWORD"
	EnvAuthPasswordHash = "QATAAR_AUTH_PASSWORD_HASH"

	// TLS
	EnvTLSEnabled  = "QATAAR_TLS_ENABLED"
	EnvTLSCertFile = "QATAAR_TLS_CERT_FILE"
	EnvTLSKeyFile  = "QATAAR_TLS_KEY_FILE"
	EnvTLSCAFile   = "QATAAR_TLS_CA_FILE"

	// Gateways and observability
	EnvMetricsEnabled    = "QATAAR_METRICS_ENABLED"
	EnvMetricsAddr       = "QATAAR_METRICS_ADDR"
	EnvWebSocketEnabled  = "QATAAR_WS_ENABLED"
	EnvWebSocketAddr     = "QATAAR_WS_ADDR"
	EnvGRPCEnabled       = "QATAAR_GRPC_ENABLED"
	EnvGRPCAddr          = "QATAAR_GRPC_ADDR"
	EnvDiscoveryEnabled  = "QATAAR_DISCOVERY_ENABLED"
	EnvDiscoveryInstance = "QATAAR_DISCOVERY_INSTANCE"
)

// DefaultConfigPaths are searched in order by FindConfigFile.
var DefaultConfigPaths = []string{
	"/etc/qataar/qataar.yaml",
	"$HOME/.config/qataar/qataar.yaml",
	"./qataar.yaml",
	"./qataar.json",
}

// QueueConfig holds queue engine settings.
type QueueConfig struct {
	Capacity             int `yaml:"capacity" json:"capacity"`                           // Outstanding submissions before Submit blocks
	MaxBatchBytes        int `yaml:"max_batch_bytes" json:"max_batch_bytes"`             // Value-byte cap for one ReadBatch
	CompressionThreshold int `yaml:"compression_threshold" json:"compression_threshold"` // Compress batch replies at least this large (0=off)
}

// AuthConfig holds handshake credential settings.
type AuthConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	Username     string `yaml:"username" json:"username"`
	Password     string `yaml:"password,omitempty" json:"password,omitempty"`           // Plaintext; hashed at startup
	PasswordHash string `yaml:"password_hash,omitempty" json:"password_hash,omitempty"` // bcrypt hash, preferred over password
}

// SecurityConfig holds TLS settings for the TCP listener.
type SecurityConfig struct {
	TLSEnabled  bool   `yaml:"tls_enabled" json:"tls_enabled"`
	TLSCertFile string `yaml:"tls_cert_file" json:"tls_cert_file"`
	TLSKeyFile  string `yaml:"tls_key_file" json:"tls_key_file"`
	TLSCAFile   string `yaml:"tls_ca_file" json:"tls_ca_file"` // Enables client certificate verification
}

// MetricsConfig holds Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// WebSocketConfig holds WebSocket gateway settings.
type WebSocketConfig struct {
	Enabled        bool     `yaml:"enabled" json:"enabled"`
	Addr           string   `yaml:"addr" json:"addr"`
	Path           string   `yaml:"path" json:"path"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"` // Empty allows any origin
}

// GRPCConfig holds gRPC gateway settings.
type GRPCConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Addr    string `yaml:"addr" json:"addr"`
}

// DiscoveryConfig holds mDNS advertisement settings.
type DiscoveryConfig struct {
	Enabled      bool   `yaml:"enabled" json:"enabled"`
	InstanceName string `yaml:"instance_name" json:"instance_name"` // Defaults to the hostname
}

// Config is the complete server configuration.
type Config struct {
	BindAddr    string `yaml:"bind_addr" json:"bind_addr"`
	LogLevel    string `yaml:"log_level" json:"log_level"`
	LogJSON     bool   `yaml:"log_json" json:"log_json"`
	IdleTimeout int64  `yaml:"idle_timeout" json:"idle_timeout"` // Seconds without a frame before a session is dropped (0=never)
	ReusePort   bool   `yaml:"reuse_port" json:"reuse_port"`     // Set SO_REUSEPORT on the TCP listener where supported

	Queue     QueueConfig     `yaml:"queue" json:"queue"`
	Auth      AuthConfig      `yaml:"auth" json:"auth"`
	Security  SecurityConfig  `yaml:"security" json:"security"`
	Metrics   MetricsConfig   `yaml:"metrics" json:"metrics"`
	WebSocket WebSocketConfig `yaml:"websocket" json:"websocket"`
	GRPC      GRPCConfig      `yaml:"grpc" json:"grpc"`
	Discovery DiscoveryConfig `yaml:"discovery" json:"discovery"`

	ConfigFile string `yaml:"-" json:"-"`
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		BindAddr: "127.0.0.1:8020",
		LogLevel: "info",
		Queue: QueueConfig{
			Capacity:             100,
			MaxBatchBytes:        10_000_000,
			CompressionThreshold: 64 * 1024,
		},
		Auth: AuthConfig{
			Enabled:  true,
			Username: "aaa",
			Password: "bbb",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9100",
		},
		WebSocket: WebSocketConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8021",
			Path:    "/ws",
		},
		GRPC: GRPCConfig{
			Enabled: false,
			Addr:    "127.0.0.1:8022",
		},
	}
}

// Manager handles configuration loading.
type Manager struct {
	config *Config
	mu     sync.RWMutex
}

// NewManager returns a manager holding the default configuration.
func NewManager() *Manager {
	return &Manager{config: DefaultConfig()}
}

// Get returns a copy of current config.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg := *m.config
	cfg.WebSocket.AllowedOrigins = append([]string(nil), m.config.WebSocket.AllowedOrigins...)
	return &cfg
}

// Set updates the config.
func (m *Manager) Set(cfg *Config) {
	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
}

// LoadFromFile loads configuration from a YAML (.yaml, .yml) or JSON file.
// Fields missing from the file keep their default values.
func (m *Manager) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	cfg.ConfigFile = path
	m.Set(cfg)
	return nil
}

// FindConfigFile returns the first of DefaultConfigPaths that exists, or "".
func FindConfigFile() string {
	for _, p := range DefaultConfigPaths {
		p = os.ExpandEnv(p)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

func envBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes"
}

// LoadFromEnv overlays QATAAR_* environment variables onto the current config.
// Unparseable numeric values are ignored.
func (m *Manager) LoadFromEnv() {
	cfg := m.Get()

	if v := os.Getenv(EnvBindAddr); v != "" {
		cfg.BindAddr = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		cfg.LogJSON = envBool(v)
	}
	if v := os.Getenv(EnvIdleTimeout); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.IdleTimeout = i
		}
	}
	if v := os.Getenv(EnvReusePort); v != "" {
		cfg.ReusePort = envBool(v)
	}
	if v := os.Getenv(EnvQueueCapacity); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Queue.Capacity = i
		}
	}
	if v := os.Getenv(EnvMaxBatchBytes); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Queue.MaxBatchBytes = i
		}
	}
	if v := os.Getenv(EnvCompressionThreshold); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Queue.CompressionThreshold = i
		}
	}

	if v := os.Getenv(EnvAuthEnabled); v != "" {
		cfg.Auth.Enabled = envBool(v)
	}
	if v := os.Getenv(EnvAuthUsername); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv(EnvAuthPassword); v != "" {
		cfg.Auth.Password = v
	}
	if v := os.Getenv(EnvAuthPasswordHash); v != "" {
		cfg.Auth.PasswordHash = v
	}

	if v := os.Getenv(EnvTLSEnabled); v != "" {
		cfg.Security.TLSEnabled = envBool(v)
	}
	if v := os.Getenv(EnvTLSCertFile); v != "" {
		cfg.Security.TLSCertFile = v
	}
	if v := os.Getenv(EnvTLSKeyFile); v != "" {
		cfg.Security.TLSKeyFile = v
	}
	if v := os.Getenv(EnvTLSCAFile); v != "" {
		cfg.Security.TLSCAFile = v
	}

	if v := os.Getenv(EnvMetricsEnabled); v != "" {
		cfg.Metrics.Enabled = envBool(v)
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.Metrics.Addr = v
	}
	if v := os.Getenv(EnvWebSocketEnabled); v != "" {
		cfg.WebSocket.Enabled = envBool(v)
	}
	if v := os.Getenv(EnvWebSocketAddr); v != "" {
		cfg.WebSocket.Addr = v
	}
	if v := os.Getenv(EnvGRPCEnabled); v != "" {
		cfg.GRPC.Enabled = envBool(v)
	}
	if v := os.Getenv(EnvGRPCAddr); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv(EnvDiscoveryEnabled); v != "" {
		cfg.Discovery.Enabled = envBool(v)
	}
	if v := os.Getenv(EnvDiscoveryInstance); v != "" {
		cfg.Discovery.InstanceName = v
	}

	m.Set(cfg)
}

func validateAddr(field, addr string) error {
	if addr == "" {
		return fmt.Errorf("%s is required", field)
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s %q is not a host:port address: %w", field, addr, err)
	}
	return nil
}

// Validate checks configuration validity.
func (c *Config) Validate() error {
	if err := validateAddr("bind_addr", c.BindAddr); err != nil {
		return err
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}

	if c.IdleTimeout < 0 {
		return fmt.Errorf("idle_timeout must be non-negative")
	}
	if c.Queue.Capacity <= 0 {
		return fmt.Errorf("queue.capacity must be positive")
	}
	if c.Queue.MaxBatchBytes <= 0 {
		return fmt.Errorf("queue.max_batch_bytes must be positive")
	}
	// A batch may overshoot the cap by one item, which can be as large as a
	// request frame; the whole batch must still fit in a batch frame.
	if limit := protocol.MaxBatchSize - protocol.MaxMessageSize; c.Queue.MaxBatchBytes > limit {
		return fmt.Errorf("queue.max_batch_bytes must be at most %d", limit)
	}
	if c.Queue.CompressionThreshold < 0 {
		return fmt.Errorf("queue.compression_threshold must be non-negative")
	}

	if c.Auth.Enabled {
		if c.Auth.Username == "" {
			return fmt.Errorf("auth.username is required when auth is enabled")
		}
		if c.Auth.Password == "" && c.Auth.PasswordHash == "" {
			return fmt.Errorf("auth.password or auth.password_hash is required when auth is enabled")
		}
	}

	if c.Security.TLSEnabled {
		if c.Security.TLSCertFile == "" {
			return fmt.Errorf("tls_cert_file is required when TLS is enabled")
		}
		if c.Security.TLSKeyFile == "" {
			return fmt.Errorf("tls_key_file is required when TLS is enabled")
		}
	}

	if c.Metrics.Enabled {
		if err := validateAddr("metrics.addr", c.Metrics.Addr); err != nil {
			return err
		}
	}
	if c.WebSocket.Enabled {
		if err := validateAddr("websocket.addr", c.WebSocket.Addr); err != nil {
			return err
		}
		if !strings.HasPrefix(c.WebSocket.Path, "/") {
			return fmt.Errorf("websocket.path must start with '/'")
		}
	}
	if c.GRPC.Enabled {
		if err := validateAddr("grpc.addr", c.GRPC.Addr); err != nil {
			return err
		}
	}

	return nil
}

// IsTLSEnabled returns true if TLS is properly configured and enabled.
func (c *Config) IsTLSEnabled() bool {
	return c.Security.TLSEnabled &&
		c.Security.TLSCertFile != "" &&
		c.Security.TLSKeyFile != ""
}

// Port returns the numeric port of BindAddr, or 0 if it cannot be parsed.
func (c *Config) Port() int {
	_, port, err := net.SplitHostPort(c.BindAddr)
	if err != nil {
		return 0
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0
	}
	return p
}
