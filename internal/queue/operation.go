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

// Operation is a request to the queue engine. The set of implementations is
// closed: AddTopic, AddConsumer, AddItem, SetReadOffset and ReadBatch.
type Operation interface {
	// Kind returns the operation name, e.g. "AddItem".
	Kind() string
	// TopicName returns the topic the operation addresses.
	TopicName() string

	operation()
}

// Operation kinds.
const (
	KindAddTopic      = "AddTopic"
	KindAddConsumer   = "AddConsumer"
	KindAddItem       = "AddItem"
	KindSetReadOffset = "SetReadOffset"
	KindReadBatch     = "ReadBatch"
)

// AddTopic creates or resets a topic.
type AddTopic struct {
	Topic string
}

// AddConsumer creates or replaces a consumer group. Offset is optional.
type AddConsumer struct {
	Consumer string
	Topic    string
	Offset   *uint64
}

// AddItem appends a keyed value to a topic.
type AddItem struct {
	Topic string
	Key   string
	Value []byte
}

// SetReadOffset stores a consumer's read position.
type SetReadOffset struct {
	Consumer string
	Topic    string
	Offset   uint64
}

// ReadBatch reads items from Offset onward.
type ReadBatch struct {
	Consumer string
	Topic    string
	Offset   uint64
}

func (AddTopic) Kind() string      { return KindAddTopic }
func (AddConsumer) Kind() string   { return KindAddConsumer }
func (AddItem) Kind() string       { return KindAddItem }
func (SetReadOffset) Kind() string { return KindSetReadOffset }
func (ReadBatch) Kind() string     { return KindReadBatch }

func (o AddTopic) TopicName() string      { return o.Topic }
func (o AddConsumer) TopicName() string   { return o.Topic }
func (o AddItem) TopicName() string       { return o.Topic }
func (o SetReadOffset) TopicName() string { return o.Topic }
func (o ReadBatch) TopicName() string     { return o.Topic }

func (AddTopic) operation()      {}
func (AddConsumer) operation()   {}
func (AddItem) operation()       {}
func (SetReadOffset) operation() {}
func (ReadBatch) operation()     {}

// Offset returns a pointer to v, for AddConsumer.Offset.
func Offset(v uint64) *uint64 {
	return &v
}
