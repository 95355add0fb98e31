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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:8020", cfg.BindAddr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, 100, cfg.Queue.Capacity)
	assert.Equal(t, 10_000_000, cfg.Queue.MaxBatchBytes)
	assert.True(t, cfg.Auth.Enabled)
	assert.Equal(t, "aaa", cfg.Auth.Username)
	assert.Equal(t, "bbb", cfg.Auth.Password)
	assert.Equal(t, 8020, cfg.Port())
	assert.NoError(t, cfg.Validate())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing bind_addr",
			modify:  func(c *Config) { c.BindAddr = "" },
			wantErr: true,
		},
		{
			name:    "bind_addr without port",
			modify:  func(c *Config) { c.BindAddr = "localhost" },
			wantErr: true,
		},
		{
			name:    "unknown log level",
			modify:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: true,
		},
		{
			name:    "zero queue capacity",
			modify:  func(c *Config) { c.Queue.Capacity = 0 },
			wantErr: true,
		},
		{
			name:    "zero batch cap",
			modify:  func(c *Config) { c.Queue.MaxBatchBytes = 0 },
			wantErr: true,
		},
		{
			name:    "batch cap too large for a batch frame",
			modify:  func(c *Config) { c.Queue.MaxBatchBytes = 200 * 1024 * 1024 },
			wantErr: true,
		},
		{
			name:    "largest batch cap",
			modify:  func(c *Config) { c.Queue.MaxBatchBytes = 192 * 1024 * 1024 },
			wantErr: false,
		},
		{
			name:    "negative compression threshold",
			modify:  func(c *Config) { c.Queue.CompressionThreshold = -1 },
			wantErr: true,
		},
		{
			name:    "negative idle timeout",
			modify:  func(c *Config) { c.IdleTimeout = -5 },
			wantErr: true,
		},
		{
			name:    "auth without username",
			modify:  func(c *Config) { c.Auth.Username = "" },
			wantErr: true,
		},
		{
			name: "auth without any password",
			modify: func(c *Config) {
				c.Auth.Password = ""
				c.Auth.PasswordHash = ""
			},
			wantErr: true,
		},
		{
			name: "auth disabled ignores credentials",
			modify: func(c *Config) {
				c.Auth.Enabled = false
				c.Auth.Username = ""
				c.Auth.Password = ""
			},
			wantErr: false,
		},
		{
			name: "TLS enabled without cert",
			modify: func(c *Config) {
				c.Security.TLSEnabled = true
				c.Security.TLSKeyFile = "/path/to/key"
			},
			wantErr: true,
		},
		{
			name: "TLS enabled without key",
			modify: func(c *Config) {
				c.Security.TLSEnabled = true
				c.Security.TLSCertFile = "/path/to/cert"
			},
			wantErr: true,
		},
		{
			name: "metrics enabled with bad addr",
			modify: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.Addr = "nope"
			},
			wantErr: true,
		},
		{
			name: "websocket path without slash",
			modify: func(c *Config) {
				c.WebSocket.Enabled = true
				c.WebSocket.Path = "ws"
			},
			wantErr: true,
		},
		{
			name: "grpc enabled without addr",
			modify: func(c *Config) {
				c.GRPC.Enabled = true
				c.GRPC.Addr = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qataar.yaml")
	content := `
bind_addr: 0.0.0.0:9000
log_level: debug
queue:
  capacity: 8
auth:
  username: ops
  password_hash: "$2a$04$abcdefghijklmnopqrstuu"
websocket:
  enabled: true
  allowed_origins: [https://example.com]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	m := NewManager()
	require.NoError(t, m.LoadFromFile(path))
	cfg := m.Get()

	assert.Equal(t, "0.0.0.0:9000", cfg.BindAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 8, cfg.Queue.Capacity)
	assert.Equal(t, 10_000_000, cfg.Queue.MaxBatchBytes, "unset fields keep defaults")
	assert.Equal(t, "ops", cfg.Auth.Username)
	assert.True(t, cfg.Auth.Enabled)
	assert.True(t, cfg.WebSocket.Enabled)
	assert.Equal(t, "/ws", cfg.WebSocket.Path)
	assert.Equal(t, []string{"https://example.com"}, cfg.WebSocket.AllowedOrigins)
	assert.Equal(t, path, cfg.ConfigFile)
}

func TestLoadFromJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qataar.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"bind_addr":"127.0.0.1:7000","metrics":{"enabled":true}}`), 0o600))

	m := NewManager()
	require.NoError(t, m.LoadFromFile(path))
	cfg := m.Get()

	assert.Equal(t, "127.0.0.1:7000", cfg.BindAddr)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9100", cfg.Metrics.Addr)
}

func TestLoadFromFileErrors(t *testing.T) {
	m := NewManager()
	assert.Error(t, m.LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")))

	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))
	assert.Error(t, m.LoadFromFile(path))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv(EnvBindAddr, "0.0.0.0:8100")
	t.Setenv(EnvLogJSON, "true")
	t.Setenv(EnvQueueCapacity, "16")
	t.Setenv(EnvMaxBatchBytes, "not-a-number")
	t.Setenv(EnvAuthEnabled, "0")
	t.Setenv(EnvMetricsEnabled, "yes")
	t.Setenv(EnvGRPCAddr, "127.0.0.1:9999")
	t.Setenv(EnvDiscoveryInstance, "node-a")

	m := NewManager()
	m.LoadFromEnv()
	cfg := m.Get()

	assert.Equal(t, "0.0.0.0:8100", cfg.BindAddr)
	assert.True(t, cfg.LogJSON)
	assert.Equal(t, 16, cfg.Queue.Capacity)
	assert.Equal(t, 10_000_000, cfg.Queue.MaxBatchBytes)
	assert.False(t, cfg.Auth.Enabled)
	assert.True(t, cfg.Metrics.Enabled)
	assert.Equal(t, "127.0.0.1:9999", cfg.GRPC.Addr)
	assert.Equal(t, "node-a", cfg.Discovery.InstanceName)
}

func TestManagerGetReturnsCopy(t *testing.T) {
	m := NewManager()
	cfg := m.Get()
	cfg.BindAddr = "changed:1"
	assert.Equal(t, "127.0.0.1:8020", m.Get().BindAddr)
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "qataar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: warn\n"), 0o600))

	orig := DefaultConfigPaths
	t.Cleanup(func() { DefaultConfigPaths = orig })

	DefaultConfigPaths = []string{filepath.Join(dir, "absent.yaml"), path}
	assert.Equal(t, path, FindConfigFile())

	DefaultConfigPaths = []string{filepath.Join(dir, "absent.yaml")}
	assert.Empty(t, FindConfigFile())
}
