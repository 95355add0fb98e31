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
Package session runs one client connection through the qataar handshake
and request loop.

STATE MACHINE:
==============

	Greeting ──> Authenticating ──> Ready ──> Closed
	                   │                        ^
	                   └──── bad credentials ───┘

  - Greeting: the server sends the banner line and the credential prompt.
  - Authenticating: one "<username>,<password>" line is read. A mismatch
    closes the connection; there is no retry.
  - Ready: frames are read one at a time. Each OpOperation frame is decoded
    and submitted to the queue actor. ReadBatch answers with an OpBatch
    frame; other operations produce no reply. Malformed frames are logged
    and skipped. A rejected ReadBatch is answered with an OpError frame so
    the client is not left waiting; other rejected operations are only
    logged.
  - Closed: the transport is closed. Reached on peer close, read/write
    failure, authentication failure, or when the actor is gone.

The transport is abstracted by Conn so the same machine serves raw TCP
(see stream.go) and the WebSocket gateway.
*/
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"qataar/internal/auth"
	"qataar/internal/logging"
	"qataar/internal/metrics"
	"qataar/internal/protocol"
	"qataar/internal/queue"
)

// Handshake lines.
const (
	Banner  = "Connected to server qataar"
	Prompt  = "Enter username,password (comma separated)"
	AuthAck = "Auth done"
)

// ErrMalformedFrame is returned by a Conn for an inbound message that cannot
// be a frame at all. The session skips it like any other decode failure.
var ErrMalformedFrame = errors.New("malformed frame")

// State is a session's position in the connection state machine.
type State int32

const (
	StateGreeting State = iota
	StateAuthenticating
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateGreeting:
		return "greeting"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Conn is the transport a session runs over.
type Conn interface {
	// ReadLine returns the next handshake line without its terminator.
	ReadLine() (string, error)
	WriteLine(line string) error
	// ReadFrame returns io.EOF once the peer has closed the connection.
	ReadFrame() (*protocol.Message, error)
	WriteFrame(op protocol.OpCode, flags byte, payload []byte) error
	RemoteAddr() string
	Close() error
}

// deadliner is implemented by transports that support read deadlines.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Authenticator checks the credential line sent during the handshake.
type Authenticator interface {
	Authenticate(line string) (username string, err error)
}

// Options configures a Session.
type Options struct {
	// Transport names the listener in logs and metric labels, e.g. "tcp" or "ws".
	Transport string
	TLS       bool
	// IdleTimeout drops a session that sends nothing for this long. Zero disables it.
	IdleTimeout time.Duration
	// CompressionThreshold is the batch payload size from which replies are
	// snappy compressed. Zero disables compression.
	CompressionThreshold int
	Metrics              *metrics.Metrics
}

// Session serves one client connection.
type Session struct {
	id    string
	conn  Conn
	queue queue.Submitter
	auth  Authenticator
	opts  Options
	state atomic.Int32

	logger  *logging.Logger
	connLog *logging.ConnectionLogger
	opLog   *logging.OperationLogger
}

// New creates a session for conn. The session owns conn and closes it when
// Run returns.
func New(conn Conn, q queue.Submitter, a Authenticator, opts Options) *Session {
	if opts.Transport == "" {
		opts.Transport = "tcp"
	}
	id := uuid.NewString()
	logger := logging.NewLogger("session").With("connection_id", id)
	return &Session{
		id:      id,
		conn:    conn,
		queue:   q,
		auth:    a,
		opts:    opts,
		logger:  logger,
		connLog: logging.NewConnectionLogger(logging.NewLogger("session")),
		opLog:   logging.NewOperationLogger(logging.NewLogger("session")),
	}
}

// ID returns the session's connection id.
func (s *Session) ID() string {
	return s.id
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.logger.Debug("Session state changed", "state", st.String())
}

// Run drives the session to completion. It returns nil when the peer closes
// the connection, auth.ErrAuthRejected for bad credentials,
// queue.ErrChannelClosed when the actor has stopped, or the transport error
// that ended the session.
func (s *Session) Run(ctx context.Context) error {
	start := time.Now()
	remote := s.conn.RemoteAddr()
	s.connLog.LogNewConnection(s.id, remote, s.opts.Transport, s.opts.TLS)
	s.opts.Metrics.ConnectionOpened(s.opts.Transport)

	err := s.run(ctx)

	s.setState(StateClosed)
	s.conn.Close()
	s.opts.Metrics.ConnectionClosed(s.opts.Transport)
	s.connLog.LogConnectionClosed(s.id, remote, closeReason(err), time.Since(start))
	return err
}

func (s *Session) run(ctx context.Context) error {
	s.setState(StateGreeting)
	if err := s.conn.WriteLine(Banner); err != nil {
		return err
	}
	if err := s.conn.WriteLine(Prompt); err != nil {
		return err
	}

	s.setState(StateAuthenticating)
	s.extendDeadline()
	line, err := s.conn.ReadLine()
	if err != nil {
		return normalizeEOF(err)
	}
	username, err := s.auth.Authenticate(line)
	if err != nil {
		presented, _, _ := auth.ParseCredentials(line)
		s.connLog.LogAuthRejected(s.id, s.conn.RemoteAddr(), presented)
		s.opts.Metrics.AuthFailed(s.opts.Transport)
		return err
	}
	if err := s.conn.WriteLine(AuthAck); err != nil {
		return err
	}
	s.connLog.LogAuthenticated(s.id, username)

	s.setState(StateReady)
	for {
		s.extendDeadline()
		msg, err := s.conn.ReadFrame()
		switch {
		case err == nil:
		case errors.Is(err, ErrMalformedFrame), errors.Is(err, protocol.ErrMessageTooLarge):
			// The transport has already skipped past the bad frame.
			s.decodeFailed(0, err)
			continue
		case protocol.IsFramingError(err):
			// Bad magic or version: there is no frame boundary to resume from.
			s.decodeFailed(0, err)
			return err
		default:
			return normalizeEOF(err)
		}
		if err := s.handle(ctx, msg); err != nil {
			return err
		}
	}
}

// handle processes one frame. Only errors that must end the session are returned.
func (s *Session) handle(ctx context.Context, msg *protocol.Message) error {
	if msg.Header.Op != protocol.OpOperation {
		s.decodeFailed(len(msg.Payload), fmt.Errorf("%w: unexpected opcode %s", protocol.ErrDecodeFailure, msg.Header.Op))
		return nil
	}
	body, err := msg.Body()
	if err != nil {
		s.decodeFailed(len(msg.Payload), err)
		return nil
	}
	op, err := protocol.DecodeOperation(body)
	if err != nil {
		s.decodeFailed(len(body), err)
		return nil
	}

	start := time.Now()
	res, err := s.queue.Submit(ctx, op)
	if err != nil {
		if errors.Is(err, queue.ErrChannelClosed) || ctx.Err() != nil {
			return err
		}
		s.opLog.LogOperationFailed(s.id, op.Kind(), op.TopicName(), err)
		if _, isRead := op.(queue.ReadBatch); isRead {
			return s.conn.WriteFrame(protocol.OpError, 0, []byte(err.Error()))
		}
		return nil
	}

	if res.Batched {
		payload, flags := protocol.MaybeCompress(protocol.EncodeBatch(res.Batch), s.opts.CompressionThreshold)
		err := s.conn.WriteFrame(protocol.OpBatch, flags, payload)
		if errors.Is(err, protocol.ErrMessageTooLarge) {
			// Nothing was written; release the client with an error instead.
			s.opLog.LogOperationFailed(s.id, op.Kind(), op.TopicName(), err)
			return s.conn.WriteFrame(protocol.OpError, 0, []byte(err.Error()))
		}
		if err != nil {
			return err
		}
		s.opts.Metrics.BatchSent(len(res.Batch), len(payload))
	}
	s.opLog.LogOperation(s.id, op.Kind(), op.TopicName(), time.Since(start), len(res.Batch))
	return nil
}

func (s *Session) decodeFailed(size int, err error) {
	s.opLog.LogDecodeFailure(s.id, size, err)
	s.opts.Metrics.DecodeFailed(s.opts.Transport)
}

func (s *Session) extendDeadline() {
	if s.opts.IdleTimeout <= 0 {
		return
	}
	if d, ok := s.conn.(deadliner); ok {
		_ = d.SetReadDeadline(time.Now().Add(s.opts.IdleTimeout))
	}
}

// normalizeEOF maps a peer hang-up, including one in the middle of a frame,
// to a clean close.
func normalizeEOF(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func closeReason(err error) string {
	var netErr net.Error
	switch {
	case err == nil:
		return "peer closed"
	case errors.Is(err, auth.ErrAuthRejected):
		return "authentication rejected"
	case errors.Is(err, queue.ErrChannelClosed):
		return "queue unavailable"
	case errors.As(err, &netErr) && netErr.Timeout():
		return "idle timeout"
	default:
		return err.Error()
	}
}
