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

// Package ws implements the WebSocket gateway for browser and
// proxy-friendly clients.
//
// The gateway speaks the same conversation as the TCP listener, carried in
// WebSocket messages:
//
//   - every handshake line (banner, prompt, credentials, acknowledgement)
//     is one text message without a line terminator;
//   - every frame (operation, batch, error) is one binary message holding
//     the 8-byte header followed by the payload.
//
// Each upgraded connection runs a session.Session, so authentication and
// request handling are identical on both transports.
package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"qataar/internal/config"
	"qataar/internal/crypto"
	"qataar/internal/logging"
	"qataar/internal/metrics"
	"qataar/internal/protocol"
	"qataar/internal/queue"
	"qataar/internal/session"
)

// Default configuration values for WebSocket gateway
const (
	// DefaultReadBufferSize is the default size of the read buffer
	DefaultReadBufferSize = 4096
	// DefaultWriteBufferSize is the default size of the write buffer
	DefaultWriteBufferSize = 4096
	// DefaultPingInterval is the interval for sending ping frames
	DefaultPingInterval = 30 * time.Second
	// DefaultPongTimeout is the timeout for receiving pong responses
	DefaultPongTimeout = 10 * time.Second
	// DefaultWriteTimeout is the timeout for write operations
	DefaultWriteTimeout = 10 * time.Second
	// MaxMessageSize is the largest WebSocket message accepted from a client
	MaxMessageSize = protocol.HeaderSize + protocol.MaxMessageSize
)

// createUpgrader creates a WebSocket upgrader with the given configuration.
// The allowedOrigins parameter specifies which origins are allowed to connect.
// If empty or contains "*", all origins are allowed.
func createUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  DefaultReadBufferSize,
		WriteBufferSize: DefaultWriteBufferSize,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			for _, origin := range allowedOrigins {
				if origin == "*" {
					return true
				}
			}

			origin := r.Header.Get("Origin")
			if origin == "" {
				// No origin header - likely not a browser request
				return true
			}

			return originAllowed(origin, allowedOrigins)
		},
	}
}

// originAllowed matches an Origin header against the allow-list. Entries
// are full origins ("https://app.example.com") or host names; a host name
// also admits its subdomains.
func originAllowed(origin string, allowedOrigins []string) bool {
	u, err := url.Parse(origin)
	host := ""
	if err == nil {
		host = strings.ToLower(u.Hostname())
	}
	for _, allowed := range allowedOrigins {
		if origin == allowed {
			return true
		}
		allowed = strings.ToLower(allowed)
		if host != "" && (host == allowed || strings.HasSuffix(host, "."+allowed)) {
			return true
		}
	}
	return false
}

// wsConn adapts a websocket.Conn to session.Conn.
//
// It provides:
//   - Serialized writes (WebSocket writes are not concurrent-safe)
//   - Ping/pong heartbeat for connection health monitoring
//   - Write timeouts to prevent blocking on slow clients
type wsConn struct {
	conn       *websocket.Conn
	mu         sync.Mutex
	lastPong   time.Time
	pingTicker *time.Ticker
	done       chan struct{}
	closeOnce  sync.Once
}

// newWSConn creates a new wsConn wrapper with ping/pong support.
func newWSConn(conn *websocket.Conn, pingInterval time.Duration) *wsConn {
	c := &wsConn{
		conn:     conn,
		lastPong: time.Now(),
		done:     make(chan struct{}),
	}

	conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastPong = time.Now()
		c.mu.Unlock()
		return nil
	})

	c.pingTicker = time.NewTicker(pingInterval)
	go c.pingLoop(pingInterval)

	return c
}

// pingLoop sends periodic ping frames and closes the connection when the
// peer stops answering.
func (c *wsConn) pingLoop(interval time.Duration) {
	for {
		select {
		case <-c.done:
			return
		case <-c.pingTicker.C:
			c.mu.Lock()
			if time.Since(c.lastPong) > interval+DefaultPongTimeout {
				c.mu.Unlock()
				c.conn.Close()
				return
			}

			_ = c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.mu.Unlock()

			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) read(want int) ([]byte, error) {
	mt, data, err := c.conn.ReadMessage()
	if err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, io.EOF
		}
		return nil, err
	}
	if mt != want {
		return nil, fmt.Errorf("%w: unexpected websocket message type %d", session.ErrMalformedFrame, mt)
	}
	return data, nil
}

func (c *wsConn) write(mt int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(DefaultWriteTimeout))
	return c.conn.WriteMessage(mt, data)
}

func (c *wsConn) ReadLine() (string, error) {
	data, err := c.read(websocket.TextMessage)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func (c *wsConn) WriteLine(line string) error {
	return c.write(websocket.TextMessage, []byte(line))
}

func (c *wsConn) ReadFrame() (*protocol.Message, error) {
	data, err := c.read(websocket.BinaryMessage)
	if err != nil {
		return nil, err
	}
	msg, err := protocol.ParseMessage(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", session.ErrMalformedFrame, err)
	}
	return msg, nil
}

func (c *wsConn) WriteFrame(op protocol.OpCode, flags byte, payload []byte) error {
	if maxLen := protocol.PayloadLimit(op); len(payload) > maxLen {
		return fmt.Errorf("%w: %s payload of %d bytes, limit %d", protocol.ErrMessageTooLarge, op, len(payload), maxLen)
	}
	return c.write(websocket.BinaryMessage, protocol.EncodeMessage(op, flags, payload))
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

// Close sends a close frame when possible, stops the ping loop and closes
// the underlying connection.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.pingTicker.Stop()

		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()

		err = c.conn.Close()
	})
	return err
}

// Gateway accepts WebSocket connections and runs a session on each one.
type Gateway struct {
	config   *config.Config
	queue    queue.Submitter
	auth     session.Authenticator
	metrics  *metrics.Metrics
	logger   *logging.Logger
	upgrader websocket.Upgrader

	// PingInterval overrides DefaultPingInterval. Set before Start.
	PingInterval time.Duration

	server *http.Server
	ln     net.Listener
	tls    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	conns   map[*wsConn]struct{}
}

// NewGateway creates a new WebSocket gateway. m may be nil.
func NewGateway(cfg *config.Config, q queue.Submitter, a session.Authenticator, m *metrics.Metrics) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		config:       cfg,
		queue:        q,
		auth:         a,
		metrics:      m,
		logger:       logging.NewLogger("websocket"),
		upgrader:     createUpgrader(cfg.WebSocket.AllowedOrigins),
		PingInterval: DefaultPingInterval,
		ctx:          ctx,
		cancel:       cancel,
		conns:        make(map[*wsConn]struct{}),
	}
}

// Handler returns the HTTP handler serving the WebSocket endpoint.
func (g *Gateway) Handler() http.Handler {
	path := g.config.WebSocket.Path
	if path == "" {
		path = "/ws"
	}
	mux := http.NewServeMux()
	mux.HandleFunc(path, g.handleWebSocket)
	return mux
}

// Start binds the gateway address and serves in the background. The TLS
// settings of the TCP listener apply here too.
func (g *Gateway) Start() error {
	ln, err := net.Listen("tcp", g.config.WebSocket.Addr)
	if err != nil {
		return err
	}

	if g.config.IsTLSEnabled() {
		tlsCfg, err := crypto.NewServerTLSConfig(crypto.TLSConfig{
			CertFile: g.config.Security.TLSCertFile,
			KeyFile:  g.config.Security.TLSKeyFile,
			CAFile:   g.config.Security.TLSCAFile,
		})
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to configure TLS for WebSocket: %w", err)
		}
		ln = tls.NewListener(ln, tlsCfg)
	}

	g.mu.Lock()
	g.ln = ln
	g.tls = g.config.IsTLSEnabled()
	g.server = &http.Server{
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := g.server
	g.mu.Unlock()

	g.logger.Info("WebSocket gateway listening", "addr", ln.Addr().String(), "tls", g.tls)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			g.logger.Error("WebSocket server failed", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or "" before Start.
func (g *Gateway) Addr() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.ln == nil {
		return ""
	}
	return g.ln.Addr().String()
}

// Stop stops accepting upgrades, closes live WebSocket connections and
// waits for their sessions to finish. It also covers a gateway that was only
// mounted through Handler.
func (g *Gateway) Stop() error {
	g.mu.Lock()
	if g.stopped {
		g.mu.Unlock()
		return nil
	}
	g.stopped = true
	srv := g.server
	for c := range g.conns {
		c.Close()
	}
	g.mu.Unlock()

	var err error
	if srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = srv.Shutdown(ctx)
	}

	g.cancel()
	g.wg.Wait()
	g.logger.Info("WebSocket gateway stopped")
	return err
}

func (g *Gateway) track(c *wsConn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return false
	}
	g.conns[c] = struct{}{}
	g.wg.Add(1)
	return true
}

func (g *Gateway) untrack(c *wsConn) {
	g.mu.Lock()
	delete(g.conns, c)
	g.mu.Unlock()
	g.wg.Done()
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("Failed to upgrade to WebSocket", "remote", r.RemoteAddr, "error", err)
		return
	}

	// Client frames are bounded like on the TCP listener.
	conn.SetReadLimit(MaxMessageSize)

	ws := newWSConn(conn, g.PingInterval)
	if !g.track(ws) {
		ws.Close()
		return
	}
	defer g.untrack(ws)

	sess := session.New(ws, g.queue, g.auth, session.Options{
		Transport:            "ws",
		TLS:                  g.tls,
		IdleTimeout:          time.Duration(g.config.IdleTimeout) * time.Second,
		CompressionThreshold: g.config.Queue.CompressionThreshold,
		Metrics:              g.metrics,
	})
	if err := sess.Run(g.ctx); err != nil {
		g.logger.Debug("WebSocket session ended with error", "connection_id", sess.ID(), "error", err)
	}
}
