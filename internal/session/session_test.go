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
	"bytes"
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"qataar/internal/auth"
	"qataar/internal/metrics"
	"qataar/internal/protocol"
	"qataar/internal/queue"
)

// peer is the client end of a piped connection.
type peer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (p *peer) readLine() string {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	line, err := p.r.ReadString('\n')
	require.NoError(p.t, err)
	return line[:len(line)-1]
}

func (p *peer) writeLine(s string) {
	p.t.Helper()
	_, err := p.conn.Write([]byte(s + "\n"))
	require.NoError(p.t, err)
}

func (p *peer) writeRaw(b []byte) {
	p.t.Helper()
	_, err := p.conn.Write(b)
	require.NoError(p.t, err)
}

func (p *peer) send(op queue.Operation) {
	p.t.Helper()
	payload, err := protocol.EncodeOperation(op)
	require.NoError(p.t, err)
	p.writeRaw(protocol.EncodeMessage(protocol.OpOperation, 0, payload))
}

func (p *peer) readFrame() *protocol.Message {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	msg, err := protocol.ReadMessage(p.r)
	require.NoError(p.t, err)
	return msg
}

func (p *peer) readBatch() []queue.Item {
	p.t.Helper()
	msg := p.readFrame()
	require.Equal(p.t, protocol.OpBatch, msg.Header.Op, "payload: %q", msg.Payload)
	body, err := msg.Body()
	require.NoError(p.t, err)
	items, err := protocol.DecodeBatch(body)
	require.NoError(p.t, err)
	return items
}

func (p *peer) handshake(creds string) string {
	p.t.Helper()
	assert.Equal(p.t, Banner, p.readLine())
	assert.Equal(p.t, Prompt, p.readLine())
	p.writeLine(creds)
	return p.readLine()
}

type harness struct {
	session *Session
	peer    *peer
	actor   *queue.Actor
	done    chan error
}

func newAuthenticator(t *testing.T) *auth.Authenticator {
	t.Helper()
	a, err := auth.NewAuthenticator(auth.Options{
		Enabled:  true,
		Username: auth.DefaultUsername,
		Password: auth.DefaultPassword,
		Cost:     bcrypt.MinCost,
	})
	require.NoError(t, err)
	return a
}

func start(t *testing.T, opts Options) *harness {
	t.Helper()
	actor := queue.NewActor(queue.NewStore(), queue.DefaultCapacity)
	actor.Start()
	t.Cleanup(actor.Close)
	return startWith(t, actor, opts)
}

func startWith(t *testing.T, actor *queue.Actor, opts Options) *harness {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })

	s := New(NewStreamConn(server), actor, newAuthenticator(t), opts)
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	return &harness{
		session: s,
		peer:    &peer{t: t, conn: client, r: bufio.NewReader(client)},
		actor:   actor,
		done:    done,
	}
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("session did not finish")
		return nil
	}
}

func counter(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestSessionOrdersScenario(t *testing.T) {
	h := start(t, Options{})
	p := h.peer

	assert.Equal(t, AuthAck, p.handshake("aaa,bbb"))

	p.send(queue.AddTopic{Topic: "orders"})
	p.send(queue.AddItem{Topic: "orders", Key: "a", Value: []byte{1, 2, 3}})
	p.send(queue.AddItem{Topic: "orders", Key: "b", Value: []byte{4, 5}})
	p.send(queue.AddConsumer{Consumer: "c1", Topic: "orders"})

	p.send(queue.ReadBatch{Consumer: "c1", Topic: "orders", Offset: 0})
	batch := p.readBatch()
	require.Len(t, batch, 2)
	assert.Equal(t, "a", batch[0].Key)
	assert.Equal(t, []byte{1, 2, 3}, batch[0].Value)
	assert.Equal(t, "b", batch[1].Key)
	assert.Equal(t, []byte{4, 5}, batch[1].Value)

	p.send(queue.SetReadOffset{Consumer: "c1", Topic: "orders", Offset: 1})
	p.send(queue.ReadBatch{Consumer: "c1", Topic: "orders", Offset: 1})
	batch = p.readBatch()
	require.Len(t, batch, 1)
	assert.Equal(t, "b", batch[0].Key)

	assert.Equal(t, StateReady, h.session.State())

	require.NoError(t, p.conn.Close())
	assert.NoError(t, h.wait(t))
	assert.Equal(t, StateClosed, h.session.State())
}

func TestSessionRejectsBadCredentials(t *testing.T) {
	m := metrics.New()
	h := start(t, Options{Metrics: m})
	p := h.peer

	assert.Equal(t, Banner, p.readLine())
	assert.Equal(t, Prompt, p.readLine())
	p.writeLine("aaa,wrong")

	err := h.wait(t)
	assert.ErrorIs(t, err, auth.ErrAuthRejected)
	assert.Equal(t, StateClosed, h.session.State())

	_, err = p.r.ReadByte()
	assert.Error(t, err, "connection must be closed without an acknowledgement")
	assert.Equal(t, 1.0, counter(t, m.AuthFailures.WithLabelValues("tcp")))
}

func TestSessionClosedDuringHandshake(t *testing.T) {
	h := start(t, Options{})
	p := h.peer

	assert.Equal(t, Banner, p.readLine())
	assert.Equal(t, Prompt, p.readLine())
	require.NoError(t, p.conn.Close())

	assert.NoError(t, h.wait(t))
}

func TestSessionSkipsMalformedMessages(t *testing.T) {
	m := metrics.New()
	h := start(t, Options{Metrics: m})
	p := h.peer
	require.Equal(t, AuthAck, p.handshake("aaa,bbb"))

	p.send(queue.AddTopic{Topic: "t"})

	// Unknown operation tag.
	p.writeRaw(protocol.EncodeMessage(protocol.OpOperation, 0, []byte{0x7F, 0, 0}))
	// Truncated operation.
	p.writeRaw(protocol.EncodeMessage(protocol.OpOperation, 0, []byte{protocol.TagAddItem, 0, 0, 0, 5, 'x'}))
	// Wrong opcode.
	p.writeRaw(protocol.EncodeMessage(protocol.OpBatch, 0, []byte{0, 0, 0, 0}))
	// Compressed flag on garbage.
	p.writeRaw(protocol.EncodeMessage(protocol.OpOperation, protocol.FlagCompressed, []byte{0xFF, 0xFF, 0xFF}))

	p.send(queue.AddItem{Topic: "t", Key: "k", Value: []byte("v")})
	p.send(queue.ReadBatch{Consumer: "c", Topic: "t"})

	batch := p.readBatch()
	require.Len(t, batch, 1)
	assert.Equal(t, "k", batch[0].Key)
	assert.Equal(t, StateReady, h.session.State())
	assert.Equal(t, 4.0, counter(t, m.DecodeFailures.WithLabelValues("tcp")))
}

func TestSessionSkipsOversizedFrame(t *testing.T) {
	m := metrics.New()
	h := start(t, Options{Metrics: m})
	p := h.peer
	require.Equal(t, AuthAck, p.handshake("aaa,bbb"))

	// A well-formed AddTopic hidden inside the rejected payload must never
	// reach the queue.
	hidden, err := protocol.EncodeOperation(queue.AddTopic{Topic: "injected"})
	require.NoError(t, err)
	length := protocol.MaxMessageSize + 1
	frame := make([]byte, protocol.HeaderSize+length)
	copy(frame, []byte{protocol.MagicByte, protocol.ProtocolVersion, byte(protocol.OpOperation), protocol.FlagBinary})
	binary.BigEndian.PutUint32(frame[4:], uint32(length))
	copy(frame[protocol.HeaderSize:], protocol.EncodeMessage(protocol.OpOperation, 0, hidden))
	p.writeRaw(frame)

	p.send(queue.ReadBatch{Consumer: "c", Topic: "injected"})
	msg := p.readFrame()
	assert.Equal(t, protocol.OpError, msg.Header.Op)
	assert.Contains(t, string(msg.Payload), "unknown topic")

	p.send(queue.AddTopic{Topic: "t"})
	p.send(queue.ReadBatch{Consumer: "c", Topic: "t"})
	assert.Empty(t, p.readBatch())
	assert.Equal(t, StateReady, h.session.State())
	assert.Equal(t, 1.0, counter(t, m.DecodeFailures.WithLabelValues("tcp")))
}

func TestSessionClosesOnBadMagic(t *testing.T) {
	m := metrics.New()
	h := start(t, Options{Metrics: m})
	p := h.peer
	require.Equal(t, AuthAck, p.handshake("aaa,bbb"))

	p.writeRaw([]byte{0x00, protocol.ProtocolVersion, byte(protocol.OpOperation), 0, 0, 0, 0, 0})

	err := h.wait(t)
	assert.ErrorIs(t, err, protocol.ErrInvalidMagic)
	assert.Equal(t, StateClosed, h.session.State())
	assert.Equal(t, 1.0, counter(t, m.DecodeFailures.WithLabelValues("tcp")))
}

func TestSessionClosesOnBadVersion(t *testing.T) {
	h := start(t, Options{})
	p := h.peer
	require.Equal(t, AuthAck, p.handshake("aaa,bbb"))

	p.writeRaw([]byte{protocol.MagicByte, 0x7F, byte(protocol.OpOperation), 0, 0, 0, 0, 0})
	assert.ErrorIs(t, h.wait(t), protocol.ErrInvalidVersion)
}

func TestSessionSendsBatchAboveRequestLimit(t *testing.T) {
	h := start(t, Options{})
	p := h.peer
	require.Equal(t, AuthAck, p.handshake("aaa,bbb"))

	small := make([]byte, 9_999_999)
	large := make([]byte, 60_000_000)
	_, err := rand.Read(small)
	require.NoError(t, err)
	_, err = rand.Read(large)
	require.NoError(t, err)

	p.send(queue.AddTopic{Topic: "big"})
	p.send(queue.AddItem{Topic: "big", Key: "a", Value: small})
	p.send(queue.AddItem{Topic: "big", Key: "b", Value: large})
	p.send(queue.ReadBatch{Consumer: "c", Topic: "big"})

	// The first item stays under the cap, so the read takes the second one
	// too and the reply is larger than any request frame may be.
	batch := p.readBatch()
	require.Len(t, batch, 2)
	assert.True(t, bytes.Equal(small, batch[0].Value))
	assert.True(t, bytes.Equal(large, batch[1].Value))

	p.send(queue.ReadBatch{Consumer: "c", Topic: "big", Offset: 2})
	assert.Empty(t, p.readBatch())
	assert.Equal(t, StateReady, h.session.State())
}

func TestSessionOperationErrors(t *testing.T) {
	h := start(t, Options{})
	p := h.peer
	require.Equal(t, AuthAck, p.handshake("aaa,bbb"))

	// Mutating failures produce no reply bytes.
	p.send(queue.AddItem{Topic: "missing", Key: "k"})
	p.send(queue.SetReadOffset{Consumer: "ghost", Topic: "missing", Offset: 1})

	// A failed read is answered so the client is not left waiting.
	p.send(queue.ReadBatch{Consumer: "c", Topic: "missing"})
	msg := p.readFrame()
	assert.Equal(t, protocol.OpError, msg.Header.Op)
	assert.Contains(t, string(msg.Payload), "unknown topic")

	p.send(queue.AddTopic{Topic: "t"})
	p.send(queue.ReadBatch{Consumer: "c", Topic: "t", Offset: 10})
	assert.Empty(t, p.readBatch())
}

func TestSessionEndsWhenActorClosed(t *testing.T) {
	actor := queue.NewActor(queue.NewStore(), 1)
	actor.Start()
	h := startWith(t, actor, Options{})
	p := h.peer
	require.Equal(t, AuthAck, p.handshake("aaa,bbb"))

	actor.Close()
	<-actor.Done()

	p.send(queue.AddTopic{Topic: "t"})
	assert.ErrorIs(t, h.wait(t), queue.ErrChannelClosed)

	_, err := p.r.ReadByte()
	assert.ErrorIs(t, err, io.EOF)
}

func TestSessionCompressesLargeBatches(t *testing.T) {
	h := start(t, Options{CompressionThreshold: 256})
	p := h.peer
	require.Equal(t, AuthAck, p.handshake("aaa,bbb"))

	value := bytes.Repeat([]byte("compressible "), 100)
	p.send(queue.AddTopic{Topic: "t"})
	p.send(queue.AddItem{Topic: "t", Key: "k", Value: value})
	p.send(queue.ReadBatch{Consumer: "c", Topic: "t"})

	msg := p.readFrame()
	require.Equal(t, protocol.OpBatch, msg.Header.Op)
	assert.True(t, msg.Compressed())
	assert.Less(t, len(msg.Payload), len(value))

	body, err := msg.Body()
	require.NoError(t, err)
	items, err := protocol.DecodeBatch(body)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, value, items[0].Value)
}

func TestSessionIdleTimeout(t *testing.T) {
	h := start(t, Options{IdleTimeout: 50 * time.Millisecond})
	p := h.peer
	require.Equal(t, AuthAck, p.handshake("aaa,bbb"))

	err := h.wait(t)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr), "got %v", err)
	assert.True(t, netErr.Timeout())
	assert.Equal(t, "idle timeout", closeReason(err))
}

func TestSessionIDsAreUnique(t *testing.T) {
	a, b := net.Pipe()
	defer a.Close()
	defer b.Close()

	s1 := New(NewStreamConn(a), nil, nil, Options{})
	s2 := New(NewStreamConn(b), nil, nil, Options{})
	assert.NotEqual(t, s1.ID(), s2.ID())
	assert.Len(t, s1.ID(), 36)
	assert.Equal(t, StateGreeting, s1.State())
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "greeting", StateGreeting.String())
	assert.Equal(t, "authenticating", StateAuthenticating.String())
	assert.Equal(t, "ready", StateReady.String())
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "state(9)", State(9).String())
}

func TestStreamConnReadLine(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := NewStreamConn(a)
	defer c.Close()

	go func() {
		b.Write([]byte("first\r\nsecond"))
		b.Close()
	}()

	line, err := c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "first", line)

	line, err = c.ReadLine()
	require.NoError(t, err)
	assert.Equal(t, "second", line)

	_, err = c.ReadLine()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamConnRejectsLongLine(t *testing.T) {
	a, b := net.Pipe()
	defer b.Close()
	c := NewStreamConn(a)
	defer c.Close()

	go b.Write(bytes.Repeat([]byte("x"), MaxLineLength+10))

	_, err := c.ReadLine()
	assert.ErrorIs(t, err, ErrLineTooLong)
}
