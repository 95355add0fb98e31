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

package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultCapacity is the number of submissions that may wait for the actor
// before Submit blocks.
const DefaultCapacity = 100

// ErrChannelClosed is returned by Submit once the actor has stopped.
var ErrChannelClosed = errors.New("queue actor is closed")

// Backend is the state an Actor executes operations against. *Store is the
// production implementation.
type Backend interface {
	AddTopic(name string)
	AddConsumer(name, topic string, offset *uint64)
	AddItem(topic, key string, value []byte) error
	SetReadOffset(consumer, topic string, offset uint64) error
	ReadBatch(consumer, topic string, offset uint64) ([]Item, error)
}

// Submitter is the handle connections use to reach the queue.
type Submitter interface {
	Submit(ctx context.Context, op Operation) (Result, error)
}

// Observer receives per-operation measurements from the actor loop.
type Observer interface {
	ObserveOperation(kind string, latency time.Duration, err error)
	ObserveQueueDepth(depth int)
}

// Result is the outcome of a successful operation. Batched is true only for
// ReadBatch, in which case Batch holds the items read (possibly none).
type Result struct {
	Batch   []Item
	Batched bool
}

type reply struct {
	result Result
	err    error
}

type request struct {
	op    Operation
	reply chan reply
}

// Actor owns a Backend and applies operations to it one at a time.
type Actor struct {
	backend  Backend
	requests chan request
	observer Observer

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	startOnce sync.Once
}

// ActorOption configures an Actor.
type ActorOption func(*Actor)

// WithObserver attaches an Observer to the actor loop.
func WithObserver(o Observer) ActorOption {
	return func(a *Actor) { a.observer = o }
}

// NewActor creates an actor over backend with a request queue of the given
// capacity. A capacity <= 0 uses DefaultCapacity.
func NewActor(backend Backend, capacity int, opts ...ActorOption) *Actor {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	a := &Actor{
		backend:  backend,
		requests: make(chan request, capacity),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start runs the actor loop in a new goroutine. Calling Start more than once
// has no effect.
func (a *Actor) Start() {
	a.startOnce.Do(func() { go a.run() })
}

// Run runs the actor loop on the calling goroutine until Close is called.
func (a *Actor) Run() {
	a.startOnce.Do(a.run)
}

func (a *Actor) run() {
	defer close(a.done)
	for {
		select {
		case <-a.quit:
			return
		case req := <-a.requests:
			a.handle(req)
		}
	}
}

func (a *Actor) handle(req request) {
	start := time.Now()
	res, err := a.apply(req.op)
	if a.observer != nil {
		a.observer.ObserveOperation(req.op.Kind(), time.Since(start), err)
		a.observer.ObserveQueueDepth(len(a.requests))
	}
	req.reply <- reply{result: res, err: err}
}

func (a *Actor) apply(op Operation) (Result, error) {
	switch op := op.(type) {
	case AddTopic:
		a.backend.AddTopic(op.Topic)
		return Result{}, nil
	case AddConsumer:
		a.backend.AddConsumer(op.Consumer, op.Topic, op.Offset)
		return Result{}, nil
	case AddItem:
		return Result{}, a.backend.AddItem(op.Topic, op.Key, op.Value)
	case SetReadOffset:
		return Result{}, a.backend.SetReadOffset(op.Consumer, op.Topic, op.Offset)
	case ReadBatch:
		items, err := a.backend.ReadBatch(op.Consumer, op.Topic, op.Offset)
		if err != nil {
			return Result{}, err
		}
		return Result{Batch: items, Batched: true}, nil
	default:
		return Result{}, fmt.Errorf("unsupported operation %T", op)
	}
}

// Submit queues op for the actor and waits for its result. It blocks while
// the request queue is full. Operation failures are returned as errors
// wrapping the store's sentinel errors.
func (a *Actor) Submit(ctx context.Context, op Operation) (Result, error) {
	if op == nil {
		return Result{}, errors.New("nil operation")
	}

	req := request{op: op, reply: make(chan reply, 1)}

	select {
	case <-a.quit:
		return Result{}, ErrChannelClosed
	default:
	}

	select {
	case a.requests <- req:
	case <-a.quit:
		return Result{}, ErrChannelClosed
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}

	select {
	case r := <-req.reply:
		return r.result, r.err
	case <-a.done:
		select {
		case r := <-req.reply:
			return r.result, r.err
		default:
			return Result{}, ErrChannelClosed
		}
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Pending returns the number of submissions waiting for the actor.
func (a *Actor) Pending() int {
	return len(a.requests)
}

// Close stops the actor loop. Requests still queued are abandoned and their
// submitters receive ErrChannelClosed. Close does not wait for the loop to
// exit; use Done for that. An actor that was never started can no longer be.
func (a *Actor) Close() {
	a.closeOnce.Do(func() {
		close(a.quit)
		a.startOnce.Do(func() { close(a.done) })
	})
}

// Done is closed once the actor loop has exited.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}
