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
Connection and operation logging helpers.

Every session gets a connection id when it is accepted. The helpers below
attach that id to each entry so the lifecycle of a single client can be
followed through the log: accepted, authenticated (or rejected), each
operation it submitted, and finally closed.

Item values are never logged; only their sizes are.
*/
package logging

import (
	"time"
)

// ConnectionLogger logs connection lifecycle events.
type ConnectionLogger struct {
	logger *Logger
}

// NewConnectionLogger creates a new connection logger.
func NewConnectionLogger(logger *Logger) *ConnectionLogger {
	return &ConnectionLogger{logger: logger}
}

// LogNewConnection logs an accepted client connection.
func (cl *ConnectionLogger) LogNewConnection(connID, remoteAddr, transport string, tlsEnabled bool) {
	cl.logger.Info("Client connection established",
		"connection_id", connID,
		"remote_addr", remoteAddr,
		"transport", transport,
		"tls_enabled", tlsEnabled,
	)
}

// LogAuthenticated logs a successful handshake.
func (cl *ConnectionLogger) LogAuthenticated(connID, username string) {
	cl.logger.Info("Client authenticated",
		"connection_id", connID,
		"username", username,
	)
}

// LogAuthRejected logs a failed handshake. The password is never logged.
func (cl *ConnectionLogger) LogAuthRejected(connID, remoteAddr, username string) {
	cl.logger.Warn("Authentication rejected",
		"connection_id", connID,
		"remote_addr", remoteAddr,
		"username", username,
	)
}

// LogConnectionClosed logs a closed connection.
func (cl *ConnectionLogger) LogConnectionClosed(connID, remoteAddr, reason string, duration time.Duration) {
	cl.logger.Info("Client connection closed",
		"connection_id", connID,
		"remote_addr", remoteAddr,
		"reason", reason,
		"duration_seconds", duration.Seconds(),
	)
}

// OperationLogger logs queue operations submitted by a connection.
type OperationLogger struct {
	logger *Logger
}

// NewOperationLogger creates a new operation logger.
func NewOperationLogger(logger *Logger) *OperationLogger {
	return &OperationLogger{logger: logger}
}

// LogOperation logs a completed operation at DEBUG level.
func (ol *OperationLogger) LogOperation(connID, kind, topic string, latency time.Duration, batchLen int) {
	if !ol.logger.Enabled(DEBUG) {
		return
	}
	ol.logger.Debug("Operation completed",
		"connection_id", connID,
		"operation", kind,
		"topic", topic,
		"latency_ms", float64(latency.Microseconds())/1000,
		"batch_items", batchLen,
	)
}

// LogOperationFailed logs an operation the queue rejected.
func (ol *OperationLogger) LogOperationFailed(connID, kind, topic string, err error) {
	ol.logger.Warn("Operation failed",
		"connection_id", connID,
		"operation", kind,
		"topic", topic,
		"error", err,
	)
}

// LogDecodeFailure logs a malformed inbound message.
func (ol *OperationLogger) LogDecodeFailure(connID string, size int, err error) {
	ol.logger.Warn("Discarding malformed message",
		"connection_id", connID,
		"size_bytes", size,
		"error", err,
	)
}
