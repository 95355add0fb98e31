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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOperation(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  Operation
	}{
		{"add topic", "add-topic,orders", AddTopic{Topic: "orders"}},
		{"add topic pascal", "AddTopic,orders\n", AddTopic{Topic: "orders"}},
		{"add consumer default offset", "add-consumer,c1,orders", AddConsumer{Consumer: "c1", Topic: "orders"}},
		{"add consumer with offset", "AddConsumer,c1,orders,42", AddConsumer{Consumer: "c1", Topic: "orders", Offset: Offset(42)}},
		{"add consumer blank offset", "add-consumer,c1,orders,", AddConsumer{Consumer: "c1", Topic: "orders"}},
		{"add item", "add-item,orders,a,hello", AddItem{Topic: "orders", Key: "a", Value: []byte("hello")}},
		{"add item value keeps commas", "add-item,orders,a,x,y,,z", AddItem{Topic: "orders", Key: "a", Value: []byte("x,y,,z")}},
		{"add item empty value", "add-item,orders,a,", AddItem{Topic: "orders", Key: "a", Value: []byte{}}},
		{"set read offset", "set-read-offset,c1,orders,1", SetReadOffset{Consumer: "c1", Topic: "orders", Offset: 1}},
		{"set read offset pascal", "SetReadOffset,c1,orders,1", SetReadOffset{Consumer: "c1", Topic: "orders", Offset: 1}},
		{"read batch", "read-batch,c1,orders,0", ReadBatch{Consumer: "c1", Topic: "orders"}},
		{"read batch max offset", "ReadBatch,c1,orders,18446744073709551615", ReadBatch{Consumer: "c1", Topic: "orders", Offset: ^uint64(0)}},
		{"trims names", " add-topic , orders \r\n", AddTopic{Topic: "orders"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOperation(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseOperationErrors(t *testing.T) {
	tests := []struct {
		input   string
		wantErr error
	}{
		{"", ErrUnknownCommand},
		{"drop-topic,orders", ErrUnknownCommand},
		{"add-topic", ErrMissingArgument},
		{"add-consumer,c1", ErrMissingArgument},
		{"add-item,orders,a", ErrMissingArgument},
		{"read-batch,c1,orders", ErrMissingArgument},
		{"read-batch,c1,orders,-1", ErrInvalidOffset},
		{"set-read-offset,c1,orders,abc", ErrInvalidOffset},
		{"add-consumer,c1,orders,1.5", ErrInvalidOffset},
	}

	for _, tt := range tests {
		_, err := ParseOperation(tt.input)
		assert.ErrorIs(t, err, tt.wantErr, tt.input)
	}
}

func TestFormatOperationParsesBack(t *testing.T) {
	ops := []Operation{
		AddTopic{Topic: "orders"},
		AddConsumer{Consumer: "c1", Topic: "orders"},
		AddConsumer{Consumer: "c1", Topic: "orders", Offset: Offset(9)},
		AddItem{Topic: "orders", Key: "a", Value: []byte("v,1")},
		SetReadOffset{Consumer: "c1", Topic: "orders", Offset: 3},
		ReadBatch{Consumer: "c1", Topic: "orders", Offset: 4},
	}

	for _, op := range ops {
		got, err := ParseOperation(FormatOperation(op))
		require.NoError(t, err, FormatOperation(op))
		assert.Equal(t, op, got)
	}
}
