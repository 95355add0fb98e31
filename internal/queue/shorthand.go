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
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Shorthand parse errors.
var (
	ErrUnknownCommand  = errors.New("unknown command")
	ErrMissingArgument = errors.New("missing argument")
	ErrInvalidOffset   = errors.New("invalid offset")
)

// ParseOperation parses the comma separated shorthand used by interactive
// clients. The command may be written in kebab case or as the operation
// name:
//
//	add-topic,<topic>                      AddTopic,<topic>
//	add-consumer,<consumer>,<topic>[,<offset>]
//	add-item,<topic>,<key>,<value>
//	set-read-offset,<consumer>,<topic>,<offset>
//	read-batch,<consumer>,<topic>,<offset>
//
// The add-item value is everything after the key and may itself contain commas.
func ParseOperation(line string) (Operation, error) {
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Split(line, ",")
	command := normalizeCommand(fields[0])
	args := fields[1:]

	need := func(n int, usage string) error {
		if len(args) < n {
			return fmt.Errorf("%w: usage %s", ErrMissingArgument, usage)
		}
		return nil
	}

	switch command {
	case "addtopic":
		if err := need(1, "add-topic,<topic>"); err != nil {
			return nil, err
		}
		return AddTopic{Topic: name(args[0])}, nil

	case "addconsumer":
		if err := need(2, "add-consumer,<consumer>,<topic>[,<offset>]"); err != nil {
			return nil, err
		}
		op := AddConsumer{Consumer: name(args[0]), Topic: name(args[1])}
		if len(args) > 2 && strings.TrimSpace(args[2]) != "" {
			off, err := parseOffset(args[2])
			if err != nil {
				return nil, err
			}
			op.Offset = &off
		}
		return op, nil

	case "additem":
		if err := need(3, "add-item,<topic>,<key>,<value>"); err != nil {
			return nil, err
		}
		return AddItem{
			Topic: name(args[0]),
			Key:   name(args[1]),
			Value: []byte(strings.Join(args[2:], ",")),
		}, nil

	case "setreadoffset":
		if err := need(3, "set-read-offset,<consumer>,<topic>,<offset>"); err != nil {
			return nil, err
		}
		off, err := parseOffset(args[2])
		if err != nil {
			return nil, err
		}
		return SetReadOffset{Consumer: name(args[0]), Topic: name(args[1]), Offset: off}, nil

	case "readbatch":
		if err := need(3, "read-batch,<consumer>,<topic>,<offset>"); err != nil {
			return nil, err
		}
		off, err := parseOffset(args[2])
		if err != nil {
			return nil, err
		}
		return ReadBatch{Consumer: name(args[0]), Topic: name(args[1]), Offset: off}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, strings.TrimSpace(fields[0]))
}

// FormatOperation renders op in kebab-case shorthand. ParseOperation accepts
// the result for any operation whose names contain no commas.
func FormatOperation(op Operation) string {
	switch op := op.(type) {
	case AddTopic:
		return "add-topic," + op.Topic
	case AddConsumer:
		if op.Offset == nil {
			return fmt.Sprintf("add-consumer,%s,%s", op.Consumer, op.Topic)
		}
		return fmt.Sprintf("add-consumer,%s,%s,%d", op.Consumer, op.Topic, *op.Offset)
	case AddItem:
		return fmt.Sprintf("add-item,%s,%s,%s", op.Topic, op.Key, op.Value)
	case SetReadOffset:
		return fmt.Sprintf("set-read-offset,%s,%s,%d", op.Consumer, op.Topic, op.Offset)
	case ReadBatch:
		return fmt.Sprintf("read-batch,%s,%s,%d", op.Consumer, op.Topic, op.Offset)
	default:
		return fmt.Sprintf("%T", op)
	}
}

func normalizeCommand(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer("-", "", "_", "").Replace(s)
}

func name(s string) string {
	return strings.TrimSpace(s)
}

func parseOffset(s string) (uint64, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOffset, strings.TrimSpace(s))
	}
	return v, nil
}
