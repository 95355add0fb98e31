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

package banner

import (
	"bytes"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"

	"qataar/internal/config"
)

func init() {
	color.NoColor = true
}

func TestGetBannerLines(t *testing.T) {
	assert.NotEmpty(t, GetBanner())
	lines := GetBannerLines()
	assert.Len(t, lines, 6)
}

func TestPrintTo(t *testing.T) {
	var buf bytes.Buffer
	PrintTo(&buf)

	out := buf.String()
	assert.Contains(t, out, "qataar v"+Version)
	assert.Contains(t, out, Copyright)
}

func TestPrintServerWithConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.ConfigFile = "/etc/qataar/qataar.yaml"
	cfg.GRPC.Enabled = true

	var buf bytes.Buffer
	PrintServerWithConfigTo(&buf, cfg)
	out := buf.String()

	assert.Contains(t, out, "/etc/qataar/qataar.yaml")
	assert.Contains(t, out, "Listen: 127.0.0.1:8020")
	assert.Contains(t, out, "Batch: 10MB")
	assert.Contains(t, out, "Compress: >= 64KB")
	assert.Contains(t, out, "TLS: off")
	assert.Contains(t, out, "Auth: aaa")
	assert.Contains(t, out, "gRPC: 127.0.0.1:8022")
	assert.Contains(t, out, "WebSocket: off")
	assert.True(t, strings.HasSuffix(strings.TrimSpace(out), Copyright))
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		0:               "unlimited",
		512:             "512 B",
		2048:            "2KB",
		10_000_000:      "10MB",
		3 * 1024 * 1024: "3MB",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatBytes(in), in)
	}
}

func TestFormatIdle(t *testing.T) {
	assert.Equal(t, "never", formatIdle(0))
	assert.Equal(t, "300s", formatIdle(300))
}
