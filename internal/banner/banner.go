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
Package banner prints the qataar startup banner.

USAGE:
======

	banner.PrintTo(os.Stdout)                    // Logo and version
	banner.PrintServerWithConfigTo(os.Stdout, cfg) // Logo plus listener summary

The logo is embedded at compile time from banner.txt. Colour follows
github.com/fatih/color, so it switches off for non-terminals and NO_COLOR.
*/
package banner

import (
	_ "embed"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"qataar/internal/config"
)

//go:embed banner.txt
var bannerText string

// Version information
const (
	Version   = "0.1.0"
	Copyright = "Copyright (c) 2026 Firefly Software Solutions Inc."
	License   = "Licensed under Apache License 2.0"
)

var (
	logo    = color.New(color.FgCyan, color.Bold)
	title   = color.New(color.FgGreen, color.Bold)
	dim     = color.New(color.Faint)
	on      = color.New(color.FgGreen)
	warn    = color.New(color.FgYellow)
	section = color.New(color.FgCyan, color.Bold)
)

// GetBanner returns the raw ASCII banner text.
func GetBanner() string {
	return bannerText
}

// GetBannerLines returns the banner as individual lines.
func GetBannerLines() []string {
	return strings.Split(strings.TrimRight(bannerText, "\n"), "\n")
}

func printLogo(w io.Writer, name, tagline string) {
	fmt.Fprintln(w)
	for _, line := range GetBannerLines() {
		fmt.Fprintln(w, "  "+logo.Sprint(line))
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "  "+title.Sprint(name)+" "+dim.Sprint("v"+Version))
	if tagline != "" {
		fmt.Fprintln(w, "  "+dim.Sprint(tagline))
	}
	fmt.Fprintln(w)
}

// PrintTo writes the banner with version and copyright to w.
func PrintTo(w io.Writer) {
	printLogo(w, "qataar", "Minimal Message Queue")
	fmt.Fprintln(w, "  "+dim.Sprint(Copyright))
	fmt.Fprintln(w)
}

// PrintCLI writes the banner used by the command line client.
func PrintCLI(w io.Writer) {
	printLogo(w, "qataar CLI", "")
}

// PrintServerWithConfigTo writes the server banner followed by a summary of
// the listeners and security settings in cfg.
func PrintServerWithConfigTo(w io.Writer, cfg *config.Config) {
	printLogo(w, "qataar Server", "Minimal Message Queue")

	fmt.Fprint(w, "  "+dim.Sprint("Config: "))
	if cfg.ConfigFile != "" {
		fmt.Fprintln(w, warn.Sprint(cfg.ConfigFile))
	} else {
		fmt.Fprintln(w, dim.Sprint("defaults + environment"))
	}
	fmt.Fprintln(w)

	printSectionHeader(w, "Server")
	printRow3(w,
		fmtKV("Listen", on.Sprint(cfg.BindAddr)),
		fmtKV("Log", cfg.LogLevel),
		fmtKV("Idle", formatIdle(cfg.IdleTimeout)))
	printRow3(w,
		fmtKV("Queue", fmt.Sprintf("%d", cfg.Queue.Capacity)),
		fmtKV("Batch", formatBytes(int64(cfg.Queue.MaxBatchBytes))),
		fmtKV("Compress", formatThreshold(cfg.Queue.CompressionThreshold)))
	fmt.Fprintln(w)

	printSectionHeader(w, "Security")
	tlsState := warn.Sprint("off")
	if cfg.IsTLSEnabled() {
		tlsState = on.Sprint("on")
		if cfg.Security.TLSCAFile != "" {
			tlsState = on.Sprint("mutual")
		}
	}
	authState := warn.Sprint("off")
	if cfg.Auth.Enabled {
		authState = on.Sprint(cfg.Auth.Username)
	}
	printRow3(w, fmtKV("TLS", tlsState), fmtKV("Auth", authState), "")
	fmt.Fprintln(w)

	printSectionHeader(w, "Endpoints")
	printEndpoint(w, "WebSocket", cfg.WebSocket.Enabled, "ws://"+cfg.WebSocket.Addr+cfg.WebSocket.Path)
	printEndpoint(w, "gRPC", cfg.GRPC.Enabled, cfg.GRPC.Addr)
	printEndpoint(w, "Metrics", cfg.Metrics.Enabled, "http://"+cfg.Metrics.Addr+"/metrics")
	printEndpoint(w, "mDNS", cfg.Discovery.Enabled, "_qataar._tcp")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "  "+dim.Sprint(Copyright))
	fmt.Fprintln(w)
}

func printSectionHeader(w io.Writer, name string) {
	const width = 78
	rightPad := width - 2 - len(name) - 4
	if rightPad < 0 {
		rightPad = 0
	}
	fmt.Fprintf(w, "  %s[ %s ]%s\n", dim.Sprint("--"), section.Sprint(name), dim.Sprint(strings.Repeat("-", rightPad)))
}

func printEndpoint(w io.Writer, name string, enabled bool, addr string) {
	if !enabled {
		fmt.Fprintln(w, "  "+dim.Sprint(name+": off"))
		return
	}
	fmt.Fprintln(w, "  "+fmtKV(name, on.Sprint(addr)))
}

func fmtKV(key, value string) string {
	return dim.Sprint(key+":") + " " + value
}

func printRow3(w io.Writer, col1, col2, col3 string) {
	fmt.Fprintf(w, "  %-32s %-26s %s\n", col1, col2, col3)
}

func formatIdle(seconds int64) string {
	if seconds <= 0 {
		return "never"
	}
	return fmt.Sprintf("%ds", seconds)
}

func formatThreshold(n int) string {
	if n <= 0 {
		return "off"
	}
	return ">= " + formatBytes(int64(n))
}

func formatBytes(bytes int64) string {
	if bytes == 0 {
		return "unlimited"
	}
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.0f%cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
