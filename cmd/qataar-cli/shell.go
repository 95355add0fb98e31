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
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"qataar/internal/protocol"
	"qataar/internal/queue"
	"qataar/pkg/cli"
)

const shellPrompt = "qataar> "

func newShellCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Start an interactive session",
		Long: `Connect, authenticate and read operations from standard input, one
per line, in the shorthand form. Type "help" for the forms and "exit" to
leave.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := g.dial()
			if err != nil {
				return connectError(g.addr, err)
			}
			defer c.Close()

			cli.Success("Connected to %s", g.addr)
			return runShell(cmd.InOrStdin(), cmd.OutOrStdout(), c)
		},
	}
}

// submitter is the part of the client the shell needs.
type submitter interface {
	Submit(op queue.Operation) ([]queue.Item, error)
}

// runShell reads operations from in until EOF or "exit". Parse errors and
// rejected reads are reported and the loop continues; a broken connection
// ends it.
func runShell(in io.Reader, out io.Writer, c submitter) error {
	scanner := bufio.NewScanner(in)
	// A line carries one operation, so it may be as long as a request frame.
	scanner.Buffer(make([]byte, 0, bufio.MaxScanTokenSize), protocol.MaxMessageSize)
	for {
		fmt.Fprint(out, shellPrompt)
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "help", "?":
			printShellHelp(out)
			continue
		}

		op, err := queue.ParseOperation(line)
		if err != nil {
			cli.ErrorWithHint(fmt.Sprintf("invalid operation %q: %v", line, err), `type "help" for the accepted forms`)
			continue
		}

		batch, err := c.Submit(op)
		if err != nil {
			if isServerError(err) {
				cli.Error("%v", err)
				continue
			}
			return err
		}

		if read, ok := op.(queue.ReadBatch); ok {
			printBatch(out, read.Offset, batch)
		} else {
			cli.Success("sent %s", op.Kind())
		}
	}
}

func printShellHelp(out io.Writer) {
	fmt.Fprintln(out, "Operations:")
	for _, form := range []string{
		"add-topic,<topic>",
		"add-consumer,<consumer>,<topic>[,<offset>]",
		"add-item,<topic>,<key>,<value>",
		"set-read-offset,<consumer>,<topic>,<offset>",
		"read-batch,<consumer>,<topic>,<offset>",
	} {
		fmt.Fprintln(out, "  "+cli.Highlight(form))
	}
	fmt.Fprintln(out, "Commands: help, exit")
}
