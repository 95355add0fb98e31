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
Package protocol defines the qataar binary wire protocol.

A connection starts with a short newline-delimited text handshake (see the
session package). Once authenticated, every message in either direction is
a frame: a fixed 8-byte header followed by a binary payload.

MESSAGE FORMAT:
===============

	+-------+-------+-------+-------+-------+-------+-------+-------+
	| Magic | Ver   | Op    | Flags | Length (4 bytes, big-endian) |
	+-------+-------+-------+-------+-------+-------+-------+-------+
	|                  Binary Payload (Length bytes)                |
	+---------------------------------------------------------------+

HEADER FIELDS:
==============
- Magic (1 byte): 0xAF
- Version (1 byte): 0x01
- Op (1 byte): OpOperation, OpBatch or OpError
- Flags (1 byte): 0x01 binary (always set), 0x02 snappy-compressed payload
- Length (4 bytes): payload length in bytes

OPCODES:
========
- 0x01 OpOperation: client to server, payload is an encoded Operation
- 0x02 OpBatch: server to client, payload is an encoded item batch
- 0xFF OpError: server to client, payload is a UTF-8 error message

Only ReadBatch produces a reply. Mutating operations are fire-and-forget
from the client's point of view. See codec.go for the payload layouts.
*/
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	// MagicByte identifies qataar protocol frames.
	MagicByte byte = 0xAF

	// ProtocolVersion is the current protocol version.
	ProtocolVersion byte = 0x01

	// MaxMessageSize limits request and error payloads to prevent memory
	// exhaustion.
	MaxMessageSize = 64 * 1024 * 1024

	// MaxBatchSize limits OpBatch payloads. A batch holds up to the store's
	// byte cap plus the item that crosses it, and that item's value arrived
	// in a frame of at most MaxMessageSize.
	MaxBatchSize = 256 * 1024 * 1024

	// HeaderSize is the fixed size of the message header in bytes.
	HeaderSize = 8
)

// OpCode identifies the kind of frame.
type OpCode byte

const (
	OpOperation OpCode = 0x01 // Encoded queue operation
	OpBatch     OpCode = 0x02 // Encoded ReadBatch result
	OpError     OpCode = 0xFF // Error response from server
)

// String returns the opcode name.
func (o OpCode) String() string {
	switch o {
	case OpOperation:
		return "operation"
	case OpBatch:
		return "batch"
	case OpError:
		return "error"
	default:
		return fmt.Sprintf("op(0x%02X)", byte(o))
	}
}

// Flag constants for the header Flags field.
const (
	FlagBinary     byte = 0x01 // Payload is binary encoded
	FlagCompressed byte = 0x02 // Payload is snappy compressed
)

// Header is the fixed-size header that precedes every frame.
type Header struct {
	Magic   byte
	Version byte
	Op      OpCode
	Flags   byte
	Length  uint32
}

// Message is a complete frame.
type Message struct {
	Header  Header
	Payload []byte
}

// Compressed reports whether the payload is flagged as compressed.
func (m *Message) Compressed() bool {
	return m.Header.Flags&FlagCompressed != 0
}

var (
	// ErrInvalidMagic indicates the magic byte doesn't match.
	ErrInvalidMagic = errors.New("invalid magic byte")

	// ErrInvalidVersion indicates an unsupported protocol version.
	ErrInvalidVersion = errors.New("invalid protocol version")

	// ErrMessageTooLarge indicates the payload exceeds the limit for its opcode.
	ErrMessageTooLarge = errors.New("message too large")
)

// IsFramingError reports whether err came from header validation rather
// than from the underlying reader.
func IsFramingError(err error) bool {
	return errors.Is(err, ErrInvalidMagic) ||
		errors.Is(err, ErrInvalidVersion) ||
		errors.Is(err, ErrMessageTooLarge)
}

// PayloadLimit returns the largest payload accepted for op.
func PayloadLimit(op OpCode) int {
	if op == OpBatch {
		return MaxBatchSize
	}
	return MaxMessageSize
}

func requestLimit(OpCode) int {
	return MaxMessageSize
}

// ReadHeader reads and validates a message header from r. When the declared
// length is over the limit for its opcode, the parsed header is returned
// together with ErrMessageTooLarge so the caller can skip the payload.
func ReadHeader(r io.Reader) (Header, error) {
	return readHeader(r, PayloadLimit)
}

func readHeader(r io.Reader, limit func(OpCode) int) (Header, error) {
	buf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, err
	}
	return parseHeader(buf, limit)
}

func parseHeader(buf []byte, limit func(OpCode) int) (Header, error) {
	h := Header{
		Magic:   buf[0],
		Version: buf[1],
		Op:      OpCode(buf[2]),
		Flags:   buf[3],
		Length:  binary.BigEndian.Uint32(buf[4:]),
	}

	if h.Magic != MagicByte {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != ProtocolVersion {
		return Header{}, ErrInvalidVersion
	}
	if maxLen := limit(h.Op); int64(h.Length) > int64(maxLen) {
		return h, fmt.Errorf("%w: %s payload of %d bytes, limit %d", ErrMessageTooLarge, h.Op, h.Length, maxLen)
	}
	return h, nil
}

// WriteHeader writes a message header to w.
func WriteHeader(w io.Writer, h Header) error {
	buf := make([]byte, HeaderSize)
	putHeader(buf, h)
	_, err := w.Write(buf)
	return err
}

func putHeader(buf []byte, h Header) {
	buf[0] = h.Magic
	buf[1] = h.Version
	buf[2] = byte(h.Op)
	buf[3] = h.Flags
	binary.BigEndian.PutUint32(buf[4:], h.Length)
}

// ReadMessage reads a complete frame from r, accepting OpBatch payloads up
// to MaxBatchSize. Clients read server replies with it.
func ReadMessage(r io.Reader) (*Message, error) {
	return readMessage(r, PayloadLimit)
}

// ReadRequest reads a complete frame from r, limiting every opcode to
// MaxMessageSize. Servers read client frames with it.
func ReadRequest(r io.Reader) (*Message, error) {
	return readMessage(r, requestLimit)
}

// readMessage reads one frame. An oversized payload is read and discarded
// before ErrMessageTooLarge is returned, so the stream stays positioned at
// the next frame.
func readMessage(r io.Reader, limit func(OpCode) int) (*Message, error) {
	h, err := readHeader(r, limit)
	if errors.Is(err, ErrMessageTooLarge) {
		if _, derr := io.CopyN(io.Discard, r, int64(h.Length)); derr != nil {
			if derr == io.EOF {
				derr = io.ErrUnexpectedEOF
			}
			return nil, derr
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	msg := &Message{Header: h}
	if h.Length > 0 {
		msg.Payload = make([]byte, h.Length)
		if _, err := io.ReadFull(r, msg.Payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, err
		}
	}
	return msg, nil
}

// ParseMessage decodes a frame held entirely in data, as delivered by
// message-oriented transports. Trailing bytes are an error.
func ParseMessage(data []byte) (*Message, error) {
	if len(data) < HeaderSize {
		return nil, io.ErrUnexpectedEOF
	}
	h, err := parseHeader(data[:HeaderSize], PayloadLimit)
	if err != nil {
		return nil, err
	}
	body := data[HeaderSize:]
	if uint32(len(body)) != h.Length {
		return nil, fmt.Errorf("%w: header declares %d payload bytes, frame has %d",
			ErrDecodeFailure, h.Length, len(body))
	}
	return &Message{Header: h, Payload: body}, nil
}

// EncodeMessage returns header and payload as one contiguous frame.
func EncodeMessage(op OpCode, flags byte, payload []byte) []byte {
	buf := make([]byte, HeaderSize+len(payload))
	putHeader(buf, Header{
		Magic:   MagicByte,
		Version: ProtocolVersion,
		Op:      op,
		Flags:   flags | FlagBinary,
		Length:  uint32(len(payload)),
	})
	copy(buf[HeaderSize:], payload)
	return buf
}

// WriteMessage writes a frame with the binary flag set. Header and payload
// go out in a single Write.
func WriteMessage(w io.Writer, op OpCode, payload []byte) error {
	return WriteMessageFlags(w, op, 0, payload)
}

// WriteMessageFlags writes a frame with additional header flags.
func WriteMessageFlags(w io.Writer, op OpCode, flags byte, payload []byte) error {
	if maxLen := PayloadLimit(op); len(payload) > maxLen {
		return fmt.Errorf("%w: %s payload of %d bytes, limit %d", ErrMessageTooLarge, op, len(payload), maxLen)
	}
	_, err := w.Write(EncodeMessage(op, flags, payload))
	return err
}

// WriteError sends an error frame carrying err's message.
func WriteError(w io.Writer, err error) error {
	return WriteMessage(w, OpError, []byte(err.Error()))
}
