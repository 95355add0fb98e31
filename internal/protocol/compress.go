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

package protocol

import (
	"fmt"

	"github.com/golang/snappy"
)

// Compress returns the snappy block encoding of payload.
func Compress(payload []byte) []byte {
	return snappy.Encode(nil, payload)
}

// Decompress reverses Compress, refusing output larger than MaxBatchSize.
func Decompress(payload []byte) ([]byte, error) {
	return decompress(payload, MaxBatchSize)
}

func decompress(payload []byte, limit int) ([]byte, error) {
	n, err := snappy.DecodedLen(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	if n > limit {
		return nil, fmt.Errorf("%w: %d bytes decompressed, limit %d", ErrMessageTooLarge, n, limit)
	}
	out, err := snappy.Decode(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailure, err)
	}
	return out, nil
}

// MaybeCompress compresses payload when it is at least threshold bytes and
// compression actually shrinks it. It returns the payload to send and the
// header flags to send it with. A threshold <= 0 disables compression.
func MaybeCompress(payload []byte, threshold int) ([]byte, byte) {
	if threshold <= 0 || len(payload) < threshold {
		return payload, 0
	}
	compressed := Compress(payload)
	if len(compressed) >= len(payload) {
		return payload, 0
	}
	return compressed, FlagCompressed
}

// Body returns the message payload, decompressed if the frame says so. The
// decompressed size is held to the limit for the frame's opcode.
func (m *Message) Body() ([]byte, error) {
	if !m.Compressed() {
		return m.Payload, nil
	}
	return decompress(m.Payload, PayloadLimit(m.Header.Op))
}
