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
Package cli provides shared terminal output helpers for the qataar tools.

ICONS:
======
  - IconSuccess (✓), IconError (✗), IconWarning (⚠)
  - IconInfo (ℹ), IconArrow (→), IconDot (●)

USAGE:
======

	cli.Success("Topic %s created", name)
	cli.ErrorWithHint("connection refused", "is the server running?")

Colour comes from github.com/fatih/color and is disabled automatically when
stdout is not a terminal or NO_COLOR is set. Messages go to Out, errors to
Err; both can be replaced in tests.
*/
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

// Icons for CLI output
const (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "⚠"
	IconInfo    = "ℹ"
	IconArrow   = "→"
	IconDot     = "●"
)

var (
	Out io.Writer = os.Stdout
	Err io.Writer = os.Stderr
)

var (
	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	dim    = color.New(color.Faint)
	header = color.New(color.FgCyan, color.Bold)
)

// SetColorsEnabled enables or disables color output.
func SetColorsEnabled(enabled bool) {
	color.NoColor = !enabled
}

// Success prints a success message.
func Success(format string, args ...interface{}) {
	fmt.Fprintln(Out, green.Sprint(IconSuccess+" "+fmt.Sprintf(format, args...)))
}

// Error prints an error message.
func Error(format string, args ...interface{}) {
	fmt.Fprintln(Err, red.Sprint(IconError+" "+fmt.Sprintf(format, args...)))
}

// ErrorWithHint prints an error message with a helpful hint.
func ErrorWithHint(message string, hint string) {
	fmt.Fprintln(Err, red.Sprint(IconError+" "+message))
	if hint != "" {
		fmt.Fprintln(Err, dim.Sprint("  "+IconArrow+" Hint: "+hint))
	}
}

// Warning prints a warning message.
func Warning(format string, args ...interface{}) {
	fmt.Fprintln(Out, yellow.Sprint(IconWarning+" "+fmt.Sprintf(format, args...)))
}

// Info prints an info message.
func Info(format string, args ...interface{}) {
	fmt.Fprintln(Out, cyan.Sprint(IconInfo+" "+fmt.Sprintf(format, args...)))
}

// Hint prints a dimmed hint line.
func Hint(format string, args ...interface{}) {
	fmt.Fprintln(Out, dim.Sprint("  "+IconArrow+" "+fmt.Sprintf(format, args...)))
}

// Header prints a header/title.
func Header(text string) {
	fmt.Fprintln(Out, header.Sprint(text))
}

// KeyValue prints a key-value pair.
func KeyValue(key string, value interface{}) {
	fmt.Fprintf(Out, "  %s: %v\n", dim.Sprint(key), value)
}

// Separator prints a horizontal line.
func Separator() {
	fmt.Fprintln(Out, dim.Sprint("────────────────────────────────────────"))
}

// Example prints an example command.
func Example(description, command string) {
	fmt.Fprintf(Out, "  %s\n", dim.Sprint("# "+description))
	fmt.Fprintf(Out, "  %s\n", cyan.Sprint(command))
}

// Dim returns s rendered faint.
func Dim(s string) string {
	return dim.Sprint(s)
}

// Highlight returns s rendered in the accent colour.
func Highlight(s string) string {
	return cyan.Sprint(s)
}
