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

// Package grpc exposes the queue as a unary gRPC service.
//
// The service is qataar.v1.Queue with a single method, Submit. Requests and
// responses are Frame values carried by a raw codec registered under the
// "qataar" content-subtype, so the wire payloads are exactly those of the
// TCP protocol without its 8-byte header. Credentials travel in the
// "username" and "password" metadata keys on every call.
//
// Unlike the TCP transport every call gets an answer: a rejected
// operation returns a status error whatever its kind.
package grpc

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"qataar/internal/config"
	"qataar/internal/crypto"
	"qataar/internal/logging"
	"qataar/internal/metrics"
	"qataar/internal/protocol"
	"qataar/internal/queue"
)

const (
	ServiceName  = "qataar.v1.Queue"
	SubmitMethod = "/" + ServiceName + "/Submit"
)

// QueueServer is the server API of the Queue service.
type QueueServer interface {
	Submit(ctx context.Context, in *Frame) (*Frame, error)
}

// Verifier checks a username/password pair.
type Verifier interface {
	Verify(username, password string) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*QueueServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Submit", Handler: submitHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "qataar/v1/queue.proto",
}

func submitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(Frame)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(QueueServer).Submit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SubmitMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(QueueServer).Submit(ctx, req.(*Frame))
	}
	return interceptor(ctx, in, info, handler)
}

// RegisterQueueServer registers srv on s.
func RegisterQueueServer(s *grpc.Server, srv QueueServer) {
	s.RegisterService(&serviceDesc, srv)
}

type contextKey string

const usernameKey contextKey = "username"

// Server implements the Queue gRPC service on top of a queue.Submitter.
type Server struct {
	queue   queue.Submitter
	config  *config.Config
	auth    Verifier
	metrics *metrics.Metrics
	logger  *logging.Logger
	opLog   *logging.OperationLogger
	gs      *grpc.Server
	health  *health.Server

	mu sync.Mutex
	ln net.Listener
}

// NewServer creates a new gRPC server. auth may be nil to accept every call;
// m may be nil.
func NewServer(cfg *config.Config, q queue.Submitter, auth Verifier, m *metrics.Metrics) (*Server, error) {
	logger := logging.NewLogger("grpc")
	s := &Server{
		queue:   q,
		config:  cfg,
		auth:    auth,
		metrics: m,
		logger:  logger,
		opLog:   logging.NewOperationLogger(logger),
	}

	// Requests carry one encoded operation and replies one encoded batch,
	// sized like frames on the TCP listener.
	opts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(protocol.MaxMessageSize),
		grpc.MaxSendMsgSize(protocol.MaxBatchSize),
	}

	if cfg.IsTLSEnabled() {
		tlsCfg, err := crypto.NewServerTLSConfig(crypto.TLSConfig{
			CertFile: cfg.Security.TLSCertFile,
			KeyFile:  cfg.Security.TLSKeyFile,
			CAFile:   cfg.Security.TLSCAFile,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure TLS for gRPC: %w", err)
		}
		opts = append(opts, grpc.Creds(credentials.NewTLS(tlsCfg)))
		logger.Info("gRPC server configured with TLS")
	}

	if auth != nil {
		opts = append(opts, grpc.UnaryInterceptor(s.unaryAuthInterceptor))
	}

	gs := grpc.NewServer(opts...)
	RegisterQueueServer(gs, s)

	s.health = health.NewServer()
	s.health.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, s.health)
	reflection.Register(gs)

	s.gs = gs
	return s, nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	lis, err := net.Listen("tcp", s.config.GRPC.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.logger.Info("gRPC server listening", "addr", lis.Addr().String())
	go func() {
		if err := s.Serve(lis); err != nil {
			s.logger.Error("gRPC server failed", "error", err)
		}
	}()
	return nil
}

// Serve serves on lis until Stop.
func (s *Server) Serve(lis net.Listener) error {
	s.mu.Lock()
	s.ln = lis
	s.mu.Unlock()
	return s.gs.Serve(lis)
}

// Addr returns the listener address, or "" before serving.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop marks the service not serving and waits for in-flight calls.
func (s *Server) Stop() {
	if s.gs == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.gs.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		s.gs.Stop()
	}
}

func (s *Server) unaryAuthInterceptor(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
	// Health and reflection stay open.
	if info.FullMethod != SubmitMethod {
		return handler(ctx, req)
	}

	username, password, ok := getCredentials(ctx)
	if !ok {
		s.metrics.AuthFailed("grpc")
		return nil, status.Error(codes.Unauthenticated, "missing credentials")
	}
	if err := s.auth.Verify(username, password); err != nil {
		s.metrics.AuthFailed("grpc")
		s.logger.Warn("gRPC authentication rejected", "username", username, "peer", peerAddr(ctx))
		return nil, status.Error(codes.Unauthenticated, "invalid credentials")
	}

	ctx = context.WithValue(ctx, usernameKey, username)
	return handler(ctx, req)
}

func getCredentials(ctx context.Context) (string, string, bool) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", "", false
	}
	usernames := md.Get("username")
	passwords := md.Get("password")
	if len(usernames) > 0 && len(passwords) > 0 {
		return usernames[0], passwords[0], true
	}
	return "", "", false
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// Submit decodes one operation, runs it through the queue and returns the
// encoded batch for ReadBatch.
func (s *Server) Submit(ctx context.Context, in *Frame) (*Frame, error) {
	caller := peerAddr(ctx)

	op, err := protocol.DecodeOperation(in.Data)
	if err != nil {
		s.metrics.DecodeFailed("grpc")
		s.opLog.LogDecodeFailure(caller, len(in.Data), err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	start := time.Now()
	res, err := s.queue.Submit(ctx, op)
	if err != nil {
		s.opLog.LogOperationFailed(caller, op.Kind(), op.TopicName(), err)
		return nil, toStatus(err)
	}
	s.opLog.LogOperation(caller, op.Kind(), op.TopicName(), time.Since(start), len(res.Batch))

	if !res.Batched {
		return &Frame{}, nil
	}
	s.metrics.BatchSent(len(res.Batch), 0)
	return &Frame{Data: protocol.EncodeBatch(res.Batch)}, nil
}

// toStatus maps queue errors to gRPC status codes.
func toStatus(err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, queue.ErrUnknownTopic), errors.Is(err, queue.ErrUnknownConsumer):
		code = codes.NotFound
	case errors.Is(err, queue.ErrTopicMismatch):
		code = codes.FailedPrecondition
	case errors.Is(err, queue.ErrChannelClosed):
		code = codes.Unavailable
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

// DialOptions configures a Client.
type DialOptions struct {
	Username string
	Password string
	// TLS enables transport security. Nil dials in plaintext.
	TLS *tls.Config
	// Dialer replaces the default network dialer, e.g. for in-memory listeners.
	Dialer func(ctx context.Context, addr string) (net.Conn, error)
}

// Client calls the Queue service.
type Client struct {
	conn     *grpc.ClientConn
	username string
	password string
}

// Dial connects to a Queue service at addr.
func Dial(ctx context.Context, addr string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithDefaultCallOptions(
			grpc.CallContentSubtype(CodecName),
			grpc.MaxCallSendMsgSize(protocol.MaxMessageSize),
			grpc.MaxCallRecvMsgSize(protocol.MaxBatchSize),
		),
	}
	if opts.TLS != nil {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(credentials.NewTLS(opts.TLS)))
	} else {
		dialOpts = append(dialOpts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if opts.Dialer != nil {
		dialOpts = append(dialOpts, grpc.WithContextDialer(opts.Dialer))
	}

	conn, err := grpc.DialContext(ctx, addr, dialOpts...)
	if err != nil {
		return nil, err
	}
	return &Client{conn: conn, username: opts.Username, password: opts.Password}, nil
}

// Conn returns the underlying client connection.
func (c *Client) Conn() *grpc.ClientConn {
	return c.conn
}

// Submit runs op remotely. The batch is nil unless op is a ReadBatch.
func (c *Client) Submit(ctx context.Context, op queue.Operation) ([]queue.Item, error) {
	payload, err := protocol.EncodeOperation(op)
	if err != nil {
		return nil, err
	}
	if c.username != "" || c.password != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, "username", c.username, "password", c.password)
	}

	out := new(Frame)
	if err := c.conn.Invoke(ctx, SubmitMethod, &Frame{Data: payload}, out); err != nil {
		return nil, err
	}
	if _, isRead := op.(queue.ReadBatch); !isRead {
		return nil, nil
	}
	return protocol.DecodeBatch(out.Data)
}

// Close closes the client connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
