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

package session

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"qataar/internal/protocol"
)

// MaxLineLength bounds a handshake line.
const MaxLineLength = 4096

// ErrLineTooLong is returned when a handshake line exceeds MaxLineLength.
var ErrLineTooLong = errors.New("handshake line too long")

// StreamConn adapts a byte stream (TCP or TLS) to Conn. Handshake lines are
// newline terminated; frames follow directly on the same stream.
type StreamConn struct {
	conn net.Conn
	r    *bufio.Reader
	wmu  sync.Mutex
}

// NewStreamConn wraps c.
func NewStreamConn(c net.Conn) *StreamConn {
	return &StreamConn{
		conn: c,
		r:    bufio.NewReaderSize(c, MaxLineLength),
	}
}

// ReadLine reads up to the next newline. A final unterminated line before
// EOF is returned as a line.
func (c *StreamConn) ReadLine() (string, error) {
	line, err := c.r.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return "", ErrLineTooLong
	case err != nil && len(line) == 0:
		return "", err
	}
	return strings.TrimRight(string(line), "\r\n"), nil
}

// WriteLine writes line followed by a newline.
func (c *StreamConn) WriteLine(line string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_, err := c.conn.Write([]byte(line + "\n"))
	return err
}

// ReadFrame reads the next frame. An oversized frame is skipped in full and
// reported as protocol.ErrMessageTooLarge.
func (c *StreamConn) ReadFrame() (*protocol.Message, error) {
	return protocol.ReadRequest(c.r)
}

// WriteFrame writes one frame in a single write.
func (c *StreamConn) WriteFrame(op protocol.OpCode, flags byte, payload []byte) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return protocol.WriteMessageFlags(c.conn, op, flags, payload)
}

// RemoteAddr returns the peer address.
func (c *StreamConn) RemoteAddr() string {
	if addr := c.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return fmt.Sprintf("%T", c.conn)
}

// SetReadDeadline sets the deadline for the next read.
func (c *StreamConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close closes the underlying connection.
func (c *StreamConn) Close() error {
	return c.conn.Close()
}
