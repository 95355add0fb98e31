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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"qataar/internal/auth"
	"qataar/internal/crypto"
	"qataar/internal/discovery"
	"qataar/pkg/cli"
)

func newDiscoverCmd() *cobra.Command {
	var (
		timeout time.Duration
		asJSON  bool
		quiet   bool
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Find qataar servers on the local network",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if !quiet && !asJSON {
				cli.Info("Scanning for qataar servers (timeout: %s)...", timeout)
			}

			endpoints, err := discovery.Browse(timeout)
			if err != nil {
				return err
			}

			switch {
			case asJSON:
				return json.NewEncoder(out).Encode(endpoints)
			case quiet:
				for _, ep := range endpoints {
					fmt.Fprintln(out, ep.Addr)
				}
			case len(endpoints) == 0:
				cli.Warning("No qataar servers found.")
				cli.Hint("servers advertise only with discovery.enabled; mDNS uses UDP port 5353")
			default:
				for _, ep := range endpoints {
					tls := ""
					if ep.TLS {
						tls = " (tls)"
					}
					fmt.Fprintf(out, "  %s %s  %s%s\n", cli.IconDot, cli.Highlight(ep.Instance), ep.Addr, tls)
					if ep.Version != "" {
						cli.KeyValue("version", ep.Version)
					}
				}
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", discovery.DefaultBrowseTimeout, "How long to listen for answers")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print endpoints as JSON")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Print addresses only")
	return cmd
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for auth.password_hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newGenCertCmd() *cobra.Command {
	var (
		certFile string
		keyFile  string
		hosts    []string
		validFor time.Duration
	)

	cmd := &cobra.Command{
		Use:   "gen-cert",
		Short: "Write a self-signed certificate and key",
		Long: `Write a self-signed certificate usable both as the server certificate
and as the client's --ca-file. Intended for testing only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := crypto.WriteSelfSigned(certFile, keyFile, hosts, validFor); err != nil {
				return err
			}
			cli.Success("Wrote %s and %s", certFile, keyFile)
			return nil
		},
	}

	cmd.Flags().StringVar(&certFile, "cert", "server.crt", "Certificate output path")
	cmd.Flags().StringVar(&keyFile, "key", "server.key", "Private key output path")
	cmd.Flags().StringSliceVar(&hosts, "hosts", []string{"127.0.0.1", "localhost"}, "DNS names and IPs the certificate covers")
	cmd.Flags().DurationVar(&validFor, "valid-for", 365*24*time.Hour, "Certificate lifetime")
	return cmd
}
