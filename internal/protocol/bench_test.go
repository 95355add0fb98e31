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
	"bytes"
	"fmt"
	"testing"

	"qataar/internal/queue"
)

func BenchmarkWriteMessage(b *testing.B) {
	payload, _ := EncodeOperation(queue.AddItem{
		Topic: "benchmark-topic",
		Key:   "key",
		Value: []byte("benchmark message payload for testing performance"),
	})

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var buf bytes.Buffer
		if err := WriteMessage(&buf, OpOperation, payload); err != nil {
			b.Fatalf("WriteMessage failed: %v", err)
		}
	}
}

func BenchmarkReadMessage(b *testing.B) {
	payload, _ := EncodeOperation(queue.ReadBatch{Consumer: "c", Topic: "benchmark-topic", Offset: 42})
	var buf bytes.Buffer
	WriteMessage(&buf, OpOperation, payload)
	encoded := buf.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := ReadMessage(bytes.NewReader(encoded)); err != nil {
			b.Fatalf("ReadMessage failed: %v", err)
		}
	}
}

func BenchmarkBatchSizes(b *testing.B) {
	for _, size := range []int{64, 1024, 16 * 1024} {
		items := make([]queue.Item, 100)
		for i := range items {
			items[i] = queue.Item{Key: "k", Value: bytes.Repeat([]byte{'x'}, size), Created: 1}
		}

		b.Run(fmt.Sprintf("encode-%d", size), func(b *testing.B) {
			b.SetBytes(int64(size * len(items)))
			for i := 0; i < b.N; i++ {
				EncodeBatch(items)
			}
		})

		encoded := EncodeBatch(items)
		b.Run(fmt.Sprintf("decode-%d", size), func(b *testing.B) {
			b.SetBytes(int64(len(encoded)))
			for i := 0; i < b.N; i++ {
				if _, err := DecodeBatch(encoded); err != nil {
					b.Fatalf("DecodeBatch failed: %v", err)
				}
			}
		})

		b.Run(fmt.Sprintf("compress-%d", size), func(b *testing.B) {
			b.SetBytes(int64(len(encoded)))
			for i := 0; i < b.N; i++ {
				Compress(encoded)
			}
		})
	}
}
