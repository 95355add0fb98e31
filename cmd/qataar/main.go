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
qataar server - main entry point.

USAGE:
======

	qataar [options]

OPTIONS:
========

	-config string      Path to configuration file (YAML or JSON)
	-bind string        Override the TCP bind address
	-log-level string   Override the log level (debug, info, warn, error)
	-json-logs          Write logs as JSON
	-quiet              Skip banner and config display
	-version            Show version information

STARTUP SEQUENCE:
=================
 1. Load configuration: defaults, then file, then QATAAR_* environment,
    then flags
 2. Configure logging
 3. Start the queue actor over an in-memory store
 4. Start the TCP listener and the optional WebSocket and gRPC gateways
 5. Start metrics and mDNS advertisement when enabled
 6. Wait for SIGINT or SIGTERM

SHUTDOWN:
=========
Listeners and gateways stop first, so no connection can submit anything
further. The queue actor is closed last.
*/
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"qataar/internal/auth"
	"qataar/internal/banner"
	"qataar/internal/config"
	"qataar/internal/discovery"
	"qataar/internal/logging"
	"qataar/internal/metrics"
	"qataar/internal/queue"
	"qataar/internal/server"
	grpcserver "qataar/internal/server/grpc"
	"qataar/internal/server/ws"
)

type options struct {
	configPath string
	bindAddr   string
	logLevel   string
	jsonLogs   bool
	quiet      bool
	version    bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("qataar", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "Path to configuration file (YAML or JSON)")
	fs.StringVar(&o.bindAddr, "bind", "", "Override the TCP bind address")
	fs.StringVar(&o.logLevel, "log-level", "", "Override the log level")
	fs.BoolVar(&o.jsonLogs, "json-logs", false, "Write logs as JSON")
	fs.BoolVar(&o.quiet, "quiet", false, "Skip banner and config display")
	fs.BoolVar(&o.version, "version", false, "Show version information")
	err := fs.Parse(args)
	return o, err
}

// loadConfig layers defaults, file, environment and flags.
func loadConfig(o options) (*config.Config, error) {
	mgr := config.NewManager()

	path := o.configPath
	if path == "" {
		path = config.FindConfigFile()
	}
	if path != "" {
		if err := mgr.LoadFromFile(path); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}
	mgr.LoadFromEnv()

	cfg := mgr.Get()
	if o.bindAddr != "" {
		cfg.BindAddr = o.bindAddr
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}
	if o.jsonLogs {
		cfg.LogJSON = true
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// stopper is anything main shuts down in reverse start order.
type stopper struct {
	name string
	stop func() error
}

func main() {
	o, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			return
		}
		os.Exit(2)
	}
	if o.version {
		banner.PrintTo(os.Stdout)
		return
	}

	cfg, err := loadConfig(o)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !o.quiet {
		banner.PrintServerWithConfigTo(os.Stdout, cfg)
	}

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	logger := logging.NewLogger("main")
	logger.Info("Starting qataar", "version", banner.Version)

	authenticator, err := auth.NewAuthenticator(auth.Options{
		Enabled:      cfg.Auth.Enabled,
		Username:     cfg.Auth.Username,
		Password:     cfg.Auth.Password,
		PasswordHash: cfg.Auth.PasswordHash,
	})
	if err != nil {
		logger.Error("Failed to configure authentication", "error", err)
		os.Exit(1)
	}

	m := metrics.New()
	store := queue.NewStore(queue.WithBatchLimit(cfg.Queue.MaxBatchBytes))
	actor := queue.NewActor(store, cfg.Queue.Capacity, queue.WithObserver(m))
	actor.Start()

	var stoppers []stopper
	fail := func(msg string, err error) {
		logger.Error(msg, "error", err)
		shutdown(logger, stoppers, actor)
		os.Exit(1)
	}

	srv := server.NewServer(cfg, actor, authenticator, m)
	if err := srv.Start(); err != nil {
		fail("Failed to start server", err)
	}
	stoppers = append(stoppers, stopper{"server", srv.Stop})

	if cfg.WebSocket.Enabled {
		gw := ws.NewGateway(cfg, actor, authenticator, m)
		if err := gw.Start(); err != nil {
			fail("Failed to start WebSocket gateway", err)
		}
		stoppers = append(stoppers, stopper{"websocket", gw.Stop})
	}

	if cfg.GRPC.Enabled {
		gs, err := grpcserver.NewServer(cfg, actor, authenticator, m)
		if err != nil {
			fail("Failed to configure gRPC server", err)
		}
		if err := gs.Start(); err != nil {
			fail("Failed to start gRPC server", err)
		}
		stoppers = append(stoppers, stopper{"grpc", func() error { gs.Stop(); return nil }})
	}

	if cfg.Metrics.Enabled {
		ms := metrics.NewServer(&cfg.Metrics, m)
		if err := ms.Start(); err != nil {
			logger.Error("Failed to start metrics server", "error", err)
		} else {
			stoppers = append(stoppers, stopper{"metrics", ms.Stop})
		}
	}

	if cfg.Discovery.Enabled {
		adv := discovery.NewAdvertiser(discovery.AdvertiseConfig{
			InstanceName: cfg.Discovery.InstanceName,
			BindAddr:     srv.Addr(),
			Version:      banner.Version,
			TLS:          srv.IsTLS(),
		})
		if err := adv.Start(); err != nil {
			logger.Warn("mDNS advertisement unavailable", "error", err)
		} else {
			stoppers = append(stoppers, stopper{"discovery", adv.Stop})
		}
	}

	logger.Info("qataar ready", "addr", srv.Addr(), "tls", srv.IsTLS(), "auth", authenticator.Enabled())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("Shutting down...", "signal", sig.String())
	shutdown(logger, stoppers, actor)
}

// shutdown stops components in reverse start order, then the actor.
func shutdown(logger *logging.Logger, stoppers []stopper, actor *queue.Actor) {
	for i := len(stoppers) - 1; i >= 0; i-- {
		if err := stoppers[i].stop(); err != nil {
			logger.Error("Error stopping component", "component", stoppers[i].name, "error", err)
		}
	}
	actor.Close()
	<-actor.Done()
	logger.Info("Shutdown complete")
}
