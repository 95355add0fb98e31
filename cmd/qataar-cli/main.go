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
qataar-cli - command line client.

COMMANDS:
=========

	shell           Interactive session speaking the operation shorthand
	exec            Run one or more operations and exit
	discover        Find servers on the local network (mDNS)
	hash-password   Print a bcrypt hash for auth.password_hash
	gen-cert        Write a self-signed certificate for TLS testing
	version         Show version information

SHORTHAND:
==========

	add-topic,<topic>
	add-consumer,<consumer>,<topic>[,<offset>]
	add-item,<topic>,<key>,<value>
	set-read-offset,<consumer>,<topic>,<offset>
	read-batch,<consumer>,<topic>,<offset>

EXAMPLES:
=========

	qataar-cli exec add-topic,orders add-item,orders,a,hello read-batch,c1,orders,0
	qataar-cli shell --addr 10.0.0.5:8020 --username aaa --password bbb
	qataar-cli discover --timeout 5s
*/
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"qataar/internal/auth"
	"qataar/internal/banner"
	"qataar/pkg/cli"
	"qataar/pkg/client"
)

const (
	defaultAddr = "127.0.0.1:8020"
	envAddr     = "QATAAR_ADDR"
)

// globalFlags are shared by every command that talks to a server.
type globalFlags struct {
	addr     string
	username string
	password string
	tls      bool
	caFile   string
	certFile string
	keyFile  string
	insecure bool
	timeout  time.Duration
	noColor  bool
}

func (g *globalFlags) dial() (*client.Client, error) {
	return client.NewClientWithOptions(g.addr, client.ClientOptions{
		TLSEnabled:            g.tls,
		TLSCAFile:             g.caFile,
		TLSCertFile:           g.certFile,
		TLSKeyFile:            g.keyFile,
		TLSInsecureSkipVerify: g.insecure,
		Username:              g.username,
		Password:              g.password,
		MaxRetries:            1,
		ConnectTimeout:        int(g.timeout / time.Second),
	})
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           "qataar-cli",
		Short:         "Command line client for the qataar message queue",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cli.Out = cmd.OutOrStdout()
			cli.Err = cmd.ErrOrStderr()
			if g.noColor {
				cli.SetColorsEnabled(false)
			}
		},
	}

	addr := os.Getenv(envAddr)
	if addr == "" {
		addr = defaultAddr
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&g.addr, "addr", "a", addr, "Server address (env "+envAddr+")")
	pf.StringVarP(&g.username, "username", "u", auth.DefaultUsername, "Handshake username")
	pf.StringVarP(&g.password, "password", "p", auth.DefaultPassword, "Handshake password")
	pf.BoolVar(&g.tls, "tls", false, "Connect with TLS")
	pf.StringVar(&g.caFile, "ca-file", "", "CA certificate used to verify the server")
	pf.StringVar(&g.certFile, "cert-file", "", "Client certificate for mutual TLS")
	pf.StringVar(&g.keyFile, "key-file", "", "Client key for mutual TLS")
	pf.BoolVar(&g.insecure, "insecure", false, "Skip server certificate verification")
	pf.DurationVar(&g.timeout, "timeout", 10*time.Second, "Dial and handshake timeout")
	pf.BoolVar(&g.noColor, "no-color", false, "Disable coloured output")

	root.AddCommand(
		newShellCmd(g),
		newExecCmd(g),
		newDiscoverCmd(),
		newHashPasswordCmd(),
		newGenCertCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			banner.PrintCLI(cmd.OutOrStdout())
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		cli.Error("%v", err)
		os.Exit(1)
	}
}

// connectError adds a hint to dial failures.
func connectError(addr string, err error) error {
	cli.ErrorWithHint(fmt.Sprintf("cannot connect to %s", addr), "check --addr and that the server is running")
	return err
}
