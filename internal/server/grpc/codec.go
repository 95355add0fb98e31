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

package grpc

import (
	"fmt"

	"google.golang.org/grpc/encoding"
)

// CodecName is the content-subtype clients select with
// grpc.CallContentSubtype to reach the Queue service.
const CodecName = "qataar"

func init() {
	encoding.RegisterCodec(frameCodec{})
}

// Frame is the message of the Queue service in both directions. A request
// carries one encoded operation; a response carries an encoded batch for
// ReadBatch and is empty otherwise.
type Frame struct {
	Data []byte
}

// frameCodec moves Frame bytes through gRPC unchanged.
type frameCodec struct{}

func (frameCodec) Marshal(v interface{}) ([]byte, error) {
	f, ok := v.(*Frame)
	if !ok {
		return nil, fmt.Errorf("qataar codec: cannot marshal %T", v)
	}
	return f.Data, nil
}

func (frameCodec) Unmarshal(data []byte, v interface{}) error {
	f, ok := v.(*Frame)
	if !ok {
		return fmt.Errorf("qataar codec: cannot unmarshal into %T", v)
	}
	// The transport may reuse data after Unmarshal returns.
	f.Data = append([]byte(nil), data...)
	return nil
}

func (frameCodec) Name() string {
	return CodecName
}
