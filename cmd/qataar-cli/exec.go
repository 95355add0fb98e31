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

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"

	"qataar/internal/queue"
	"qataar/pkg/cli"
	"qataar/pkg/client"
)

func newExecCmd(g *globalFlags) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "exec <operation>...",
		Short: "Run operations written in shorthand and exit",
		Long: `Run each operation in order over one connection.

Only read-batch produces output; the other operations are not acknowledged
by the server.`,
		Example: "  qataar-cli exec add-topic,orders add-item,orders,a,hello read-batch,c1,orders,0",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ops := make([]queue.Operation, 0, len(args))
			for _, arg := range args {
				op, err := queue.ParseOperation(arg)
				if err != nil {
					return fmt.Errorf("%q: %w", arg, err)
				}
				ops = append(ops, op)
			}

			c, err := g.dial()
			if err != nil {
				return connectError(g.addr, err)
			}
			defer c.Close()

			out := cmd.OutOrStdout()
			for _, op := range ops {
				batch, err := c.Submit(op)
				if err != nil {
					return fmt.Errorf("%s: %w", queue.FormatOperation(op), err)
				}
				read, ok := op.(queue.ReadBatch)
				if !ok {
					continue
				}
				if asJSON {
					if err := writeBatchJSON(out, read, batch); err != nil {
						return err
					}
					continue
				}
				printBatch(out, read.Offset, batch)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print batches as JSON lines")
	return cmd
}

type jsonItem struct {
	Offset  uint64 `json:"offset"`
	Key     string `json:"key"`
	Value   []byte `json:"value"`
	Created string `json:"created"`
}

type jsonBatch struct {
	Topic string     `json:"topic"`
	Items []jsonItem `json:"items"`
}

func writeBatchJSON(w io.Writer, read queue.ReadBatch, batch []queue.Item) error {
	out := jsonBatch{Topic: read.Topic, Items: make([]jsonItem, 0, len(batch))}
	for i, item := range batch {
		out.Items = append(out.Items, jsonItem{
			Offset:  read.Offset + uint64(i),
			Key:     item.Key,
			Value:   item.Value,
			Created: time.Unix(int64(item.Created), 0).UTC().Format(time.RFC3339),
		})
	}
	return json.NewEncoder(w).Encode(out)
}

// printBatch writes a batch as a table. Offsets count from the requested
// start offset.
func printBatch(w io.Writer, start uint64, batch []queue.Item) {
	if len(batch) == 0 {
		fmt.Fprintln(w, cli.Dim("(empty batch)"))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OFFSET\tKEY\tVALUE\tCREATED")
	for i, item := range batch {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n",
			start+uint64(i),
			item.Key,
			formatValue(item.Value),
			time.Unix(int64(item.Created), 0).UTC().Format(time.RFC3339))
	}
	tw.Flush()
	fmt.Fprintln(w, cli.Dim(fmt.Sprintf("%d item(s)", len(batch))))
}

// formatValue renders printable UTF-8 as is and anything else as hex.
func formatValue(v []byte) string {
	if utf8.Valid(v) && !strings.ContainsFunc(string(v), isControl) {
		return string(v)
	}
	return fmt.Sprintf("0x%x", v)
}

func isControl(r rune) bool {
	return r < 0x20 || r == 0x7f
}

// isServerError reports whether err is a rejected operation rather than a
// broken connection.
func isServerError(err error) bool {
	var serr *client.ServerError
	return errors.As(err, &serr)
}
