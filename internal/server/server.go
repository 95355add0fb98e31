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
Package server implements the qataar TCP listener.

ARCHITECTURE OVERVIEW:
======================
The server is the network-facing component of qataar. It:

 1. Binds the configured address (with optional TLS encryption)
 2. Accepts client connections in a single accept loop
 3. Runs one session.Session per connection in its own goroutine
 4. Shares one queue.Submitter handle between all sessions

The server never touches queue state directly. Every operation goes through
the Submitter, so the actor goroutine remains the only owner of the store.

SHUTDOWN:
=========
Stop closes the listener, closes every live connection, cancels the context
handed to sessions and waits for their goroutines. It does not close the
queue actor; the owner of the actor does that once all listeners are down.
*/
package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"qataar/internal/config"
	"qataar/internal/crypto"
	"qataar/internal/logging"
	"qataar/internal/metrics"
	"qataar/internal/queue"
	"qataar/internal/session"
)

// keepAlivePeriod is applied to accepted TCP connections.
const keepAlivePeriod = 30 * time.Second

// Server accepts TCP (or TLS) connections and runs the handshake and request
// loop on each of them.
type Server struct {
	config  *config.Config
	queue   queue.Submitter
	auth    session.Authenticator
	metrics *metrics.Metrics
	logger  *logging.Logger

	// ln is the network listener (TCP or TLS)
	ln net.Listener

	// tlsConfig holds TLS configuration when TLS is enabled
	tlsConfig *tls.Config

	// stopCh is closed to signal the accept loop to stop.
	stopCh chan struct{}

	// ctx is handed to every session and cancelled by Stop.
	ctx    context.Context
	cancel context.CancelFunc

	// wg tracks the accept loop and active connection handlers.
	wg sync.WaitGroup

	// mu protects running and conns
	mu      sync.Mutex
	running bool
	conns   map[net.Conn]struct{}
}

// NewServer creates a server for cfg. m may be nil.
func NewServer(cfg *config.Config, q queue.Submitter, a session.Authenticator, m *metrics.Metrics) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:  cfg,
		queue:   q,
		auth:    a,
		metrics: m,
		logger:  logging.NewLogger("server"),
		stopCh:  make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
		conns:   make(map[net.Conn]struct{}),
	}
}

// Start binds the listener and starts the accept loop in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("server already started")
	}

	ln, err := listen(s.config.BindAddr, s.config.ReusePort)
	if err != nil {
		return err
	}

	// Configure TLS if enabled in configuration.
	if s.config.IsTLSEnabled() {
		tlsCfg, err := crypto.NewServerTLSConfig(crypto.TLSConfig{
			CertFile: s.config.Security.TLSCertFile,
			KeyFile:  s.config.Security.TLSKeyFile,
			CAFile:   s.config.Security.TLSCAFile,
		})
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to configure TLS: %w", err)
		}
		s.tlsConfig = tlsCfg
		ln = tls.NewListener(ln, tlsCfg)
		s.logger.Info("Server started with TLS", "addr", ln.Addr().String())
	} else {
		s.logger.Info("Server started", "addr", ln.Addr().String())
	}

	s.ln = ln
	s.running = true

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// IsTLS returns true if the server is using TLS.
func (s *Server) IsTLS() bool {
	return s.tlsConfig != nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop shuts the listener down and waits for every connection handler to
// return. It is safe to call more than once.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	close(s.stopCh)
	err := s.ln.Close()

	// Unblock handlers parked in a read.
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()

	s.logger.Info("Server stopped")
	return err
}

// acceptLoop accepts connections until Stop. Accept errors outside shutdown
// are logged and the loop continues.
func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				s.logger.Error("Accept error", "error", err)
				// Back off briefly so a persistent failure does not spin.
				time.Sleep(10 * time.Millisecond)
				continue
			}
		}

		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

// track registers conn as live. It reports false once Stop has begun.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

// handleConn runs one session to completion.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer s.untrack(conn)

	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
		_ = tcp.SetKeepAlive(true)
		_ = tcp.SetKeepAlivePeriod(keepAlivePeriod)
	}

	sess := session.New(session.NewStreamConn(conn), s.queue, s.auth, session.Options{
		Transport:            "tcp",
		TLS:                  s.IsTLS(),
		IdleTimeout:          time.Duration(s.config.IdleTimeout) * time.Second,
		CompressionThreshold: s.config.Queue.CompressionThreshold,
		Metrics:              s.metrics,
	})
	if err := sess.Run(s.ctx); err != nil {
		s.logger.Debug("Session ended with error", "connection_id", sess.ID(), "error", err)
	}
}

// ActiveConnections returns the number of live client connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}
