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
Package client provides the qataar Go client library.

QUICK START:
============

	// Connect and authenticate
	c, err := client.NewClient("127.0.0.1:8020")
	defer c.Close()

	// Create a topic, append an item, register a consumer
	err = c.AddTopic("orders")
	err = c.AddItem("orders", "a", []byte{1, 2, 3})
	err = c.AddConsumer("c1", "orders", nil)

	// Pull a batch from offset 0
	items, err := c.ReadBatch("c1", "orders", 0)

TLS CONNECTION:
===============

	c, err := client.NewClientWithOptions("127.0.0.1:8020", client.ClientOptions{
	    TLSEnabled: true,
	    TLSCAFile:  "/path/to/ca.crt",
	})

REPLIES:
========
The server only answers ReadBatch. AddTopic, AddConsumer, AddItem and
SetReadOffset are fire-and-forget: a nil error means the frame was written,
not that the server accepted it. Follow with a ReadBatch to observe the
effect.

THREAD SAFETY:
==============
The client is safe for concurrent use by multiple goroutines. Requests on
one client are serialized.
*/
package client

import (
	"bufio"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"qataar/internal/auth"
	"qataar/internal/crypto"
	"qataar/internal/protocol"
	"qataar/internal/queue"
)

const (
	expectedBanner = "Connected to server qataar"
	authAck        = "Auth done"
)

var (
	// ErrAuthRejected is returned when the server closes the connection
	// instead of acknowledging the credentials.
	ErrAuthRejected = errors.New("authentication rejected by server")

	// ErrUnexpectedGreeting is returned when the peer does not greet like a
	// qataar server.
	ErrUnexpectedGreeting = errors.New("unexpected server greeting")

	// ErrClosed is returned by requests on a closed client.
	ErrClosed = errors.New("client closed")
)

// ServerError carries the message of an error reply.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "server error: " + e.Message
}

// ClientOptions configures the client connection.
type ClientOptions struct {
	// TLS configuration
	TLSEnabled            bool   // Enable TLS connection
	TLSCertFile           string // Client certificate file (for mTLS)
	TLSKeyFile            string // Client key file (for mTLS)
	TLSCAFile             string // CA certificate file for server verification
	TLSServerName         string // Overrides the name checked against the server certificate
	TLSInsecureSkipVerify bool   // Skip server certificate verification (testing only)

	// Credentials sent during the handshake. Defaults to the server's
	// built-in pair.
	Username string
	Password string

	// Connection behavior
	MaxRetries     int // Maximum connection attempts (default: 3)
	RetryDelayMs   int // Delay between attempts in milliseconds (default: 500)
	ConnectTimeout int // Dial and handshake timeout in seconds (default: 10)
}

// Client is an authenticated connection to a qataar server.
type Client struct {
	addr      string
	conn      net.Conn
	r         *bufio.Reader
	tlsConfig *tls.Config
	opts      ClientOptions
	mu        sync.Mutex
	closed    bool
}

// NewClient connects to addr with the default credentials.
func NewClient(addr string) (*Client, error) {
	return NewClientWithOptions(addr, ClientOptions{})
}

// NewClientWithOptions connects to addr and completes the handshake.
func NewClientWithOptions(addr string, opts ClientOptions) (*Client, error) {
	if opts.MaxRetries == 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryDelayMs == 0 {
		opts.RetryDelayMs = 500
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = 10
	}
	if opts.Username == "" && opts.Password == "" {
		opts.Username = auth.DefaultUsername
		opts.Password = auth.DefaultPassword
	}

	c := &Client{addr: addr, opts: opts}

	if opts.TLSEnabled {
		tlsCfg, err := crypto.NewClientTLSConfig(crypto.TLSConfig{
			CertFile:           opts.TLSCertFile,
			KeyFile:            opts.TLSKeyFile,
			CAFile:             opts.TLSCAFile,
			ServerName:         opts.TLSServerName,
			InsecureSkipVerify: opts.TLSInsecureSkipVerify,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS: %w", err)
		}
		c.tlsConfig = tlsCfg
	}

	if err := c.connectWithRetry(); err != nil {
		return nil, err
	}
	if err := c.handshake(); err != nil {
		c.conn.Close()
		return nil, err
	}
	return c, nil
}

// connectWithRetry dials the server, retrying on failure.
func (c *Client) connectWithRetry() error {
	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		if err := c.connect(); err != nil {
			lastErr = err
			if attempt < c.opts.MaxRetries-1 {
				time.Sleep(time.Duration(c.opts.RetryDelayMs) * time.Millisecond)
			}
			continue
		}
		return nil
	}
	return fmt.Errorf("failed to connect after %d attempts: %w", c.opts.MaxRetries, lastErr)
}

func (c *Client) connect() error {
	dialer := &net.Dialer{Timeout: time.Duration(c.opts.ConnectTimeout) * time.Second}

	var (
		conn net.Conn
		err  error
	)
	if c.tlsConfig != nil {
		conn, err = tls.DialWithDialer(dialer, "tcp", c.addr, c.tlsConfig)
	} else {
		conn, err = dialer.Dial("tcp", c.addr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", c.addr, err)
	}

	c.conn = conn
	c.r = bufio.NewReader(conn)
	return nil
}

// handshake reads the banner and prompt, sends the credentials and waits
// for the acknowledgement.
func (c *Client) handshake() error {
	deadline := time.Now().Add(time.Duration(c.opts.ConnectTimeout) * time.Second)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return err
	}
	defer c.conn.SetDeadline(time.Time{})

	banner, err := c.readLine()
	if err != nil {
		return fmt.Errorf("reading banner: %w", err)
	}
	if banner != expectedBanner {
		return fmt.Errorf("%w: %q", ErrUnexpectedGreeting, banner)
	}
	if _, err := c.readLine(); err != nil {
		return fmt.Errorf("reading prompt: %w", err)
	}

	if _, err := io.WriteString(c.conn, c.opts.Username+","+c.opts.Password+"\n"); err != nil {
		return fmt.Errorf("sending credentials: %w", err)
	}

	ack, err := c.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || isConnReset(err) {
			return ErrAuthRejected
		}
		return fmt.Errorf("reading acknowledgement: %w", err)
	}
	if ack != authAck {
		return fmt.Errorf("%w: %q", ErrUnexpectedGreeting, ack)
	}
	return nil
}

func (c *Client) readLine() (string, error) {
	line, err := c.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func isConnReset(err error) bool {
	return strings.Contains(err.Error(), "connection reset")
}

// Close closes the client connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.conn.Close()
}

// IsTLS returns true if the client is using TLS.
func (c *Client) IsTLS() bool {
	return c.tlsConfig != nil
}

// Addr returns the server address the client dialed.
func (c *Client) Addr() string {
	return c.addr
}

// Submit sends op and, for ReadBatch, waits for the reply. The returned
// batch is nil for every other operation.
func (c *Client) Submit(op queue.Operation) ([]queue.Item, error) {
	payload, err := protocol.EncodeOperation(op)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	if err := protocol.WriteMessage(c.conn, protocol.OpOperation, payload); err != nil {
		return nil, fmt.Errorf("sending %s: %w", op.Kind(), err)
	}
	if _, isRead := op.(queue.ReadBatch); !isRead {
		return nil, nil
	}
	return c.readBatch()
}

func (c *Client) readBatch() ([]queue.Item, error) {
	msg, err := protocol.ReadMessage(c.r)
	if err != nil {
		return nil, fmt.Errorf("reading reply: %w", err)
	}

	switch msg.Header.Op {
	case protocol.OpBatch:
		body, err := msg.Body()
		if err != nil {
			return nil, err
		}
		return protocol.DecodeBatch(body)
	case protocol.OpError:
		return nil, &ServerError{Message: string(msg.Payload)}
	default:
		return nil, fmt.Errorf("unexpected reply opcode %s", msg.Header.Op)
	}
}

// AddTopic creates topic, or empties it if it already exists.
func (c *Client) AddTopic(topic string) error {
	_, err := c.Submit(queue.AddTopic{Topic: topic})
	return err
}

// AddConsumer registers a consumer group on topic. A nil offset starts at 0.
func (c *Client) AddConsumer(consumer, topic string, offset *uint64) error {
	_, err := c.Submit(queue.AddConsumer{Consumer: consumer, Topic: topic, Offset: offset})
	return err
}

// AddItem appends an item to topic.
func (c *Client) AddItem(topic, key string, value []byte) error {
	_, err := c.Submit(queue.AddItem{Topic: topic, Key: key, Value: value})
	return err
}

// SetReadOffset moves a consumer group's stored offset.
func (c *Client) SetReadOffset(consumer, topic string, offset uint64) error {
	_, err := c.Submit(queue.SetReadOffset{Consumer: consumer, Topic: topic, Offset: offset})
	return err
}

// ReadBatch pulls the items of topic starting at offset.
func (c *Client) ReadBatch(consumer, topic string, offset uint64) ([]queue.Item, error) {
	return c.Submit(queue.ReadBatch{Consumer: consumer, Topic: topic, Offset: offset})
}
