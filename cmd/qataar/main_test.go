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

package main

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	o, err := parseFlags([]string{"-config", "q.yaml", "-bind", "0.0.0.0:9000", "-log-level", "debug", "-json-logs", "-quiet"})
	require.NoError(t, err)
	assert.Equal(t, options{
		configPath: "q.yaml",
		bindAddr:   "0.0.0.0:9000",
		logLevel:   "debug",
		jsonLogs:   true,
		quiet:      true,
	}, o)

	_, err = parseFlags([]string{"-nope"})
	assert.Error(t, err)

	_, err = parseFlags([]string{"-h"})
	assert.ErrorIs(t, err, flag.ErrHelp)
}

func TestLoadConfigLayers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "qataar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bind_addr: 127.0.0.1:7000
log_level: warn
queue:
  capacity: 7
auth:
  username: alice
  password: secret
`), 0o600))

	cfg, err := loadConfig(options{configPath: path})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", cfg.BindAddr)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, 7, cfg.Queue.Capacity)
	assert.Equal(t, "alice", cfg.Auth.Username)
	assert.Equal(t, 10_000_000, cfg.Queue.MaxBatchBytes)

	t.Setenv("QATAAR_BIND_ADDR", "127.0.0.1:7100")
	cfg, err = loadConfig(options{configPath: path})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7100", cfg.BindAddr)

	cfg, err = loadConfig(options{configPath: path, bindAddr: "127.0.0.1:7200", logLevel: "debug", jsonLogs: true})
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7200", cfg.BindAddr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.True(t, cfg.LogJSON)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig(options{configPath: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)

	_, err = loadConfig(options{configPath: "", bindAddr: "no-port"})
	assert.Error(t, err)
}
