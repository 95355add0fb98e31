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
Payload encoding for operations and batches.

PRIMITIVES:
===========
  Strings and byte slices: [uint32 length][bytes]
  Offsets and timestamps:  uint64, big-endian
  Optional offset:         [1 byte presence: 0x00 absent, 0x01 present][uint64]

OPERATION PAYLOAD (OpOperation):
================================
  [1 byte tag][fields...]

  0x01 AddTopic       topic
  0x02 AddConsumer    consumer, topic, optional offset
  0x03 AddItem        topic, key, value
  0x04 SetReadOffset  consumer, topic, offset
  0x05 ReadBatch      consumer, topic, offset

BATCH PAYLOAD (OpBatch):
========================
  [uint32 count] then count times: key, value, created

Decoding is strict: a payload must be consumed exactly, so truncated data,
unknown tags, bad presence bytes and trailing garbage are all rejected with
an error wrapping ErrDecodeFailure.
*/
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"qataar/internal/queue"
)

// ErrDecodeFailure wraps every payload decoding error.
var ErrDecodeFailure = errors.New("decode failure")

// Operation tags.
const (
	TagAddTopic      byte = 0x01
	TagAddConsumer   byte = 0x02
	TagAddItem       byte = 0x03
	TagSetReadOffset byte = 0x04
	TagReadBatch     byte = 0x05
)

// minItemSize is the encoded size of an item with empty key and value.
const minItemSize = 4 + 4 + 8

// encoder appends big-endian primitives to a growing buffer.
type encoder struct {
	buf []byte
}

func newEncoder(capacity int) *encoder {
	return &encoder{buf: make([]byte, 0, capacity)}
}

func (e *encoder) writeUint8(v byte) {
	e.buf = append(e.buf, v)
}

func (e *encoder) writeUint32(v uint32) {
	e.buf = binary.BigEndian.AppendUint32(e.buf, v)
}

func (e *encoder) writeUint64(v uint64) {
	e.buf = binary.BigEndian.AppendUint64(e.buf, v)
}

func (e *encoder) writeBytes(data []byte) {
	e.writeUint32(uint32(len(data)))
	e.buf = append(e.buf, data...)
}

func (e *encoder) writeString(s string) {
	e.writeUint32(uint32(len(s)))
	e.buf = append(e.buf, s...)
}

// decoder reads primitives and remembers the first error.
type decoder struct {
	data []byte
	off  int
	err  error
}

func (d *decoder) fail(format string, args ...interface{}) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: "+format, append([]interface{}{ErrDecodeFailure}, args...)...)
	}
}

func (d *decoder) need(n int, what string) bool {
	if d.err != nil {
		return false
	}
	if n < 0 || len(d.data)-d.off < n {
		d.fail("truncated %s at byte %d", what, d.off)
		return false
	}
	return true
}

func (d *decoder) readUint8(what string) byte {
	if !d.need(1, what) {
		return 0
	}
	v := d.data[d.off]
	d.off++
	return v
}

func (d *decoder) readUint32(what string) uint32 {
	if !d.need(4, what) {
		return 0
	}
	v := binary.BigEndian.Uint32(d.data[d.off:])
	d.off += 4
	return v
}

func (d *decoder) readUint64(what string) uint64 {
	if !d.need(8, what) {
		return 0
	}
	v := binary.BigEndian.Uint64(d.data[d.off:])
	d.off += 8
	return v
}

func (d *decoder) readBytes(what string) []byte {
	n := d.readUint32(what + " length")
	if n > math.MaxInt32 || !d.need(int(n), what) {
		if d.err == nil {
			d.fail("%s length %d out of range", what, n)
		}
		return nil
	}
	out := make([]byte, n)
	copy(out, d.data[d.off:])
	d.off += int(n)
	return out
}

func (d *decoder) readString(what string) string {
	return string(d.readBytes(what))
}

func (d *decoder) finish() error {
	if d.err == nil && d.off != len(d.data) {
		d.fail("%d trailing bytes", len(d.data)-d.off)
	}
	return d.err
}

// EncodeOperation encodes op as an OpOperation payload.
func EncodeOperation(op queue.Operation) ([]byte, error) {
	e := newEncoder(64)
	switch op := op.(type) {
	case queue.AddTopic:
		e.writeUint8(TagAddTopic)
		e.writeString(op.Topic)
	case queue.AddConsumer:
		e.writeUint8(TagAddConsumer)
		e.writeString(op.Consumer)
		e.writeString(op.Topic)
		if op.Offset == nil {
			e.writeUint8(0)
		} else {
			e.writeUint8(1)
			e.writeUint64(*op.Offset)
		}
	case queue.AddItem:
		e.buf = make([]byte, 0, 16+len(op.Topic)+len(op.Key)+len(op.Value))
		e.writeUint8(TagAddItem)
		e.writeString(op.Topic)
		e.writeString(op.Key)
		e.writeBytes(op.Value)
	case queue.SetReadOffset:
		e.writeUint8(TagSetReadOffset)
		e.writeString(op.Consumer)
		e.writeString(op.Topic)
		e.writeUint64(op.Offset)
	case queue.ReadBatch:
		e.writeUint8(TagReadBatch)
		e.writeString(op.Consumer)
		e.writeString(op.Topic)
		e.writeUint64(op.Offset)
	default:
		return nil, fmt.Errorf("cannot encode operation %T", op)
	}
	return e.buf, nil
}

// DecodeOperation decodes an OpOperation payload.
func DecodeOperation(data []byte) (queue.Operation, error) {
	d := &decoder{data: data}
	tag := d.readUint8("tag")

	var op queue.Operation
	switch {
	case d.err != nil:
	case tag == TagAddTopic:
		op = queue.AddTopic{Topic: d.readString("topic")}
	case tag == TagAddConsumer:
		o := queue.AddConsumer{
			Consumer: d.readString("consumer"),
			Topic:    d.readString("topic"),
		}
		switch present := d.readUint8("offset presence"); {
		case d.err != nil:
		case present == 1:
			off := d.readUint64("offset")
			o.Offset = &off
		case present != 0:
			d.fail("invalid offset presence byte 0x%02X", present)
		}
		op = o
	case tag == TagAddItem:
		op = queue.AddItem{
			Topic: d.readString("topic"),
			Key:   d.readString("key"),
			Value: d.readBytes("value"),
		}
	case tag == TagSetReadOffset:
		op = queue.SetReadOffset{
			Consumer: d.readString("consumer"),
			Topic:    d.readString("topic"),
			Offset:   d.readUint64("offset"),
		}
	case tag == TagReadBatch:
		op = queue.ReadBatch{
			Consumer: d.readString("consumer"),
			Topic:    d.readString("topic"),
			Offset:   d.readUint64("offset"),
		}
	default:
		d.fail("unknown operation tag 0x%02X", tag)
	}

	if err := d.finish(); err != nil {
		return nil, err
	}
	return op, nil
}

// EncodeBatch encodes items as an OpBatch payload.
func EncodeBatch(items []queue.Item) []byte {
	size := 4
	for _, item := range items {
		size += minItemSize + len(item.Key) + len(item.Value)
	}
	e := newEncoder(size)
	e.writeUint32(uint32(len(items)))
	for _, item := range items {
		e.writeString(item.Key)
		e.writeBytes(item.Value)
		e.writeUint64(item.Created)
	}
	return e.buf
}

// DecodeBatch decodes an OpBatch payload. An empty batch decodes to a
// non-nil, zero-length slice.
func DecodeBatch(data []byte) ([]queue.Item, error) {
	d := &decoder{data: data}
	count := d.readUint32("item count")
	if d.err == nil && uint64(count)*minItemSize > uint64(len(data)-d.off) {
		d.fail("item count %d exceeds payload size", count)
	}
	if d.err != nil {
		return nil, d.err
	}

	items := make([]queue.Item, 0, count)
	for i := uint32(0); i < count && d.err == nil; i++ {
		items = append(items, queue.Item{
			Key:     d.readString("key"),
			Value:   d.readBytes("value"),
			Created: d.readUint64("created"),
		})
	}
	if err := d.finish(); err != nil {
		return nil, err
	}
	return items, nil
}
