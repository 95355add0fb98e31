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
Package queue implements the in-memory queue engine.

DATA MODEL:
===========
  - Topic: a name mapped to an append-only sequence of Items. Offsets are
    positions into that sequence, starting at zero.
  - Item: key, value and the Unix second it was appended. Never mutated.
  - ConsumerGroup: a named cursor bound to exactly one topic.

CONCURRENCY:
============
Store is not safe for concurrent use. It is owned by a single Actor
goroutine (see actor.go) and every connection reaches it only through
Actor.Submit, so operations are applied one at a time without locks.

BATCH READS:
============
ReadBatch walks the topic from the requested offset and keeps taking items
while the running sum of value bytes is below the batch cap. The check runs
before each item is taken, so a batch always holds at least one item when
any remain, even if that item alone is larger than the cap.
*/
package queue

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// MaxBatchBytes caps the summed value size of one ReadBatch result.
const MaxBatchBytes = 10_000_000

var (
	// ErrUnknownTopic is returned for operations on a topic that was never added.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrUnknownConsumer is returned for operations on a consumer that was never added.
	ErrUnknownConsumer = errors.New("unknown consumer")

	// ErrTopicMismatch is returned when an operation names a topic other than
	// the one the consumer group is bound to.
	ErrTopicMismatch = errors.New("consumer bound to a different topic")
)

// Item is a single keyed value appended to a topic.
type Item struct {
	Key     string
	Value   []byte
	Created uint64
}

// ConsumerGroup tracks the next offset a named consumer should read from.
type ConsumerGroup struct {
	Name   string
	Topic  string
	Offset uint64
}

// Store holds all topics and consumer groups.
type Store struct {
	topics    map[string][]Item
	consumers map[string]*ConsumerGroup
	now       func() time.Time
	maxBatch  int
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock sets the clock used to stamp new items.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithBatchLimit overrides MaxBatchBytes. Values <= 0 are ignored.
func WithBatchLimit(n int) StoreOption {
	return func(s *Store) {
		if n > 0 {
			s.maxBatch = n
		}
	}
}

// NewStore creates an empty store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		topics:    make(map[string][]Item),
		consumers: make(map[string]*ConsumerGroup),
		now:       time.Now,
		maxBatch:  MaxBatchBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddTopic creates an empty topic. Adding an existing name resets it to empty.
func (s *Store) AddTopic(name string) {
	s.topics[name] = make([]Item, 0)
}

// AddConsumer creates or replaces a consumer group. A nil offset starts at 0.
func (s *Store) AddConsumer(name, topic string, offset *uint64) {
	var start uint64
	if offset != nil {
		start = *offset
	}
	s.consumers[name] = &ConsumerGroup{Name: name, Topic: topic, Offset: start}
}

// AddItem appends an item to topic, stamped with the current time.
func (s *Store) AddItem(topic, key string, value []byte) error {
	items, ok := s.topics[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	s.topics[topic] = append(items, Item{
		Key:     key,
		Value:   value,
		Created: uint64(s.now().Unix()),
	})
	return nil
}

// SetReadOffset overwrites a consumer's offset. The offset is not checked
// against the topic length.
func (s *Store) SetReadOffset(consumer, topic string, offset uint64) error {
	group, ok := s.consumers[consumer]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownConsumer, consumer)
	}
	if group.Topic != topic {
		return fmt.Errorf("%w: %s is bound to %s, not %s", ErrTopicMismatch, consumer, group.Topic, topic)
	}
	group.Offset = offset
	return nil
}

// ReadBatch returns items of topic starting at offset, bounded by the batch
// cap. The consumer name is accepted but not used, and its stored offset is
// neither read nor advanced; callers persist progress with SetReadOffset.
func (s *Store) ReadBatch(consumer, topic string, offset uint64) ([]Item, error) {
	items, ok := s.topics[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	batch := make([]Item, 0)
	if offset >= uint64(len(items)) {
		return batch, nil
	}

	size := 0
	for _, item := range items[offset:] {
		if size >= s.maxBatch {
			break
		}
		batch = append(batch, item)
		size += len(item.Value)
	}
	return batch, nil
}

// Len returns the number of items in topic and whether it exists.
func (s *Store) Len(topic string) (int, bool) {
	items, ok := s.topics[topic]
	return len(items), ok
}

// Consumer returns a copy of the named consumer group.
func (s *Store) Consumer(name string) (ConsumerGroup, bool) {
	group, ok := s.consumers[name]
	if !ok {
		return ConsumerGroup{}, false
	}
	return *group, true
}

// Topics returns all topic names in sorted order.
func (s *Store) Topics() []string {
	names := make([]string, 0, len(s.topics))
	for name := range s.topics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
