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

// Package discovery advertises a qataar server on the local network with
// mDNS and finds advertised servers.
//
// Servers register the service type "_qataar._tcp" in the "local." domain.
// TXT records carry the version and whether the listener expects TLS.
package discovery

import (
	"fmt"
	"io"
	"log"
	"net"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/mdns"

	"qataar/internal/logging"
)

const (
	ServiceType = "_qataar._tcp"
	Domain      = "local."

	// DefaultBrowseTimeout bounds a Browse call when no timeout is given.
	DefaultBrowseTimeout = 3 * time.Second
)

// Endpoint is one discovered server.
type Endpoint struct {
	Instance string            `json:"instance"`
	Host     string            `json:"host"`
	Addr     string            `json:"addr"`
	Port     int               `json:"port"`
	Version  string            `json:"version,omitempty"`
	TLS      bool              `json:"tls"`
	Info     map[string]string `json:"info,omitempty"`
}

// AdvertiseConfig describes the listener being advertised.
type AdvertiseConfig struct {
	// InstanceName defaults to the hostname.
	InstanceName string
	// BindAddr is the listener address. A specific IP is advertised as is;
	// an unspecified host lets mDNS resolve the machine's addresses.
	BindAddr string
	Version  string
	TLS      bool
}

// Advertiser answers mDNS queries for one server until stopped.
type Advertiser struct {
	config AdvertiseConfig
	logger *logging.Logger

	mu     sync.Mutex
	server *mdns.Server
}

// NewAdvertiser creates an Advertiser. Nothing is sent before Start.
func NewAdvertiser(cfg AdvertiseConfig) *Advertiser {
	return &Advertiser{config: cfg, logger: logging.NewLogger("discovery")}
}

// Start registers the service and starts answering queries.
func (a *Advertiser) Start() error {
	host, port, ips, err := splitBindAddr(a.config.BindAddr)
	if err != nil {
		return err
	}

	instance := a.config.InstanceName
	if instance == "" {
		if instance, err = os.Hostname(); err != nil {
			return fmt.Errorf("discovery: hostname: %w", err)
		}
	}

	service, err := mdns.NewMDNSService(instance, ServiceType, Domain, "", port, ips, TXTRecords(a.config))
	if err != nil {
		return fmt.Errorf("discovery: create service: %w", err)
	}

	server, err := mdns.NewServer(&mdns.Config{Zone: service, Logger: quietLogger()})
	if err != nil {
		return fmt.Errorf("discovery: start responder: %w", err)
	}

	a.mu.Lock()
	a.server = server
	a.mu.Unlock()

	a.logger.Info("Advertising service", "instance", instance, "service", ServiceType, "host", host, "port", port)
	return nil
}

// Stop withdraws the advertisement. It is safe to call more than once.
func (a *Advertiser) Stop() error {
	a.mu.Lock()
	server := a.server
	a.server = nil
	a.mu.Unlock()

	if server == nil {
		return nil
	}
	a.logger.Info("Stopping service advertisement")
	return server.Shutdown()
}

// TXTRecords returns the TXT record strings published for cfg.
func TXTRecords(cfg AdvertiseConfig) []string {
	txt := []string{"tls=" + strconv.FormatBool(cfg.TLS)}
	if cfg.Version != "" {
		txt = append(txt, "version="+cfg.Version)
	}
	return txt
}

// Browse queries the local network for servers for up to timeout and
// returns them sorted by instance name.
func Browse(timeout time.Duration) ([]Endpoint, error) {
	if timeout <= 0 {
		timeout = DefaultBrowseTimeout
	}

	entries := make(chan *mdns.ServiceEntry, 16)
	seen := make(map[string]Endpoint)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			if ep, ok := EndpointFromEntry(entry); ok {
				seen[ep.Instance] = ep
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Domain = strings.TrimSuffix(Domain, ".")
	params.Timeout = timeout
	params.Entries = entries
	params.DisableIPv6 = true
	params.Logger = quietLogger()

	err := mdns.Query(params)
	close(entries)
	<-done
	if err != nil {
		return nil, fmt.Errorf("discovery: query: %w", err)
	}

	endpoints := make([]Endpoint, 0, len(seen))
	for _, ep := range seen {
		endpoints = append(endpoints, ep)
	}
	sort.Slice(endpoints, func(i, j int) bool { return endpoints[i].Instance < endpoints[j].Instance })
	return endpoints, nil
}

// EndpointFromEntry converts an mDNS answer. It reports false for entries
// of other services or without a usable address.
func EndpointFromEntry(e *mdns.ServiceEntry) (Endpoint, bool) {
	if e == nil || e.Port == 0 {
		return Endpoint{}, false
	}
	suffix := "." + ServiceType + "." + Domain
	if !strings.HasSuffix(e.Name, suffix) {
		return Endpoint{}, false
	}

	var ip net.IP
	switch {
	case e.AddrV4 != nil:
		ip = e.AddrV4
	case e.AddrV6 != nil:
		ip = e.AddrV6
	default:
		return Endpoint{}, false
	}

	info := ParseTXT(e.InfoFields)
	tlsEnabled, _ := strconv.ParseBool(info["tls"])

	return Endpoint{
		Instance: unescapeInstance(strings.TrimSuffix(e.Name, suffix)),
		Host:     strings.TrimSuffix(e.Host, "."),
		Addr:     net.JoinHostPort(ip.String(), strconv.Itoa(e.Port)),
		Port:     e.Port,
		Version:  info["version"],
		TLS:      tlsEnabled,
		Info:     info,
	}, true
}

// ParseTXT splits key=value TXT strings. Keys without a value map to "".
func ParseTXT(fields []string) map[string]string {
	info := make(map[string]string, len(fields))
	for _, f := range fields {
		k, v, _ := strings.Cut(f, "=")
		if k = strings.TrimSpace(k); k != "" {
			info[strings.ToLower(k)] = v
		}
	}
	return info
}

// splitBindAddr extracts the advertised host, port and IPs from a listener
// address.
func splitBindAddr(addr string) (string, int, []net.IP, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, nil, fmt.Errorf("discovery: invalid bind address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > 65535 {
		return "", 0, nil, fmt.Errorf("discovery: invalid port in %q", addr)
	}

	ip := net.ParseIP(host)
	if ip == nil || ip.IsUnspecified() {
		return host, port, nil, nil
	}
	return host, port, []net.IP{ip}, nil
}

func unescapeInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}

// quietLogger drops the library's own logging; errors surface as returned
// values.
func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}
