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
qataar-bench - load generator for a running qataar server.

Producers append checksummed items to a fresh topic over their own
connections, then one consumer reads the topic back in batches and verifies
every payload.

USAGE:
======

	qataar-bench [options]

	-addr string         Server address (default "127.0.0.1:8020")
	-messages int        Items to produce (default 10000)
	-size int            Value size in bytes (default 1024)
	-concurrency int     Producer connections (default 4)
	-warmup int          Items written before measuring (default 100)
	-json string         Also write results to this file

AddItem is not acknowledged by the server, so produce latency measures the
time to write a frame. Consume latency is the ReadBatch round trip.
*/
package main

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"qataar/internal/auth"
	"qataar/internal/queue"
	"qataar/pkg/cli"
	"qataar/pkg/client"
)

// Config describes one benchmark run.
type Config struct {
	Addr        string
	Username    string
	Password    string
	Messages    int
	Size        int
	Concurrency int
	Warmup      int
	// DrainTimeout bounds how long the consumer waits for items that are
	// still in flight after the producers finish.
	DrainTimeout time.Duration
}

// Result contains the measurements of one phase.
type Result struct {
	Phase          string   `json:"phase"`
	Messages       int      `json:"messages"`
	MessageSize    int      `json:"message_size_bytes"`
	Concurrency    int      `json:"concurrency"`
	DurationSec    float64  `json:"duration_seconds"`
	ThroughputMsgs float64  `json:"throughput_msgs_per_sec"`
	ThroughputMB   float64  `json:"throughput_mb_per_sec"`
	LatencyP50Ms   float64  `json:"latency_p50_ms"`
	LatencyP95Ms   float64  `json:"latency_p95_ms"`
	LatencyP99Ms   float64  `json:"latency_p99_ms"`
	LatencyAvgMs   float64  `json:"latency_avg_ms"`
	LatencyMaxMs   float64  `json:"latency_max_ms"`
	Errors         int      `json:"errors"`
	ErrorMessages  []string `json:"error_messages,omitempty"`
	Verified       int      `json:"verified,omitempty"`
}

// Report is the JSON document written with -json.
type Report struct {
	Timestamp string   `json:"timestamp"`
	Topic     string   `json:"topic"`
	Results   []Result `json:"results"`
}

var errVerification = errors.New("verification failed")

func main() {
	cfg := Config{DrainTimeout: 10 * time.Second}
	var jsonPath string

	flag.StringVar(&cfg.Addr, "addr", "127.0.0.1:8020", "Server address")
	flag.StringVar(&cfg.Username, "username", auth.DefaultUsername, "Handshake username")
	flag.StringVar(&cfg.Password, "password", auth.DefaultPassword, "Handshake password")
	flag.IntVar(&cfg.Messages, "messages", 10000, "Items to produce")
	flag.IntVar(&cfg.Size, "size", 1024, "Value size in bytes")
	flag.IntVar(&cfg.Concurrency, "concurrency", 4, "Producer connections")
	flag.IntVar(&cfg.Warmup, "warmup", 100, "Items written before measuring")
	flag.StringVar(&jsonPath, "json", "", "Also write results to this file")
	flag.Parse()

	report, err := Run(cfg, os.Stdout)
	if report != nil && jsonPath != "" {
		if werr := writeReport(jsonPath, report); werr != nil {
			cli.Error("writing %s: %v", jsonPath, werr)
		}
	}
	if err != nil {
		cli.Error("%v", err)
		os.Exit(1)
	}
}

// Run executes the produce and consume phases against cfg.Addr.
func Run(cfg Config, out io.Writer) (*Report, error) {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Size < 8 {
		cfg.Size = 8
	}
	if cfg.Messages < cfg.Concurrency {
		cfg.Messages = cfg.Concurrency
	}

	report := &Report{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Topic:     fmt.Sprintf("bench-%d", time.Now().UnixNano()),
	}

	fmt.Fprintf(out, "%s %d x %s, %d producer(s) against %s\n",
		cli.Highlight("qataar-bench"), cfg.Messages, formatBytes(cfg.Size), cfg.Concurrency, cfg.Addr)

	setup, err := dial(cfg)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer setup.Close()

	if cfg.Warmup > 0 {
		warm := report.Topic + "-warmup"
		if err := setup.AddTopic(warm); err != nil {
			return nil, err
		}
		for i := 0; i < cfg.Warmup; i++ {
			payload, _ := generatePayload(cfg.Size, i)
			if err := setup.AddItem(warm, strconv.Itoa(i), payload); err != nil {
				return nil, err
			}
		}
		// A read forces the warmup writes through the actor.
		if _, err := setup.ReadBatch("bench", warm, 0); err != nil {
			return nil, err
		}
	}

	if err := setup.AddTopic(report.Topic); err != nil {
		return nil, err
	}

	checksums := make([][32]byte, cfg.Messages)
	produce := runProducers(cfg, report.Topic, checksums)
	printInlineResult(out, produce)
	report.Results = append(report.Results, produce)

	consume := runConsumer(cfg, setup, report.Topic, checksums)
	printInlineResult(out, consume)
	report.Results = append(report.Results, consume)

	if consume.Errors > 0 {
		return report, fmt.Errorf("%w: %d of %d items", errVerification, consume.Errors, cfg.Messages)
	}
	if produce.Errors > 0 {
		return report, fmt.Errorf("%d produce errors", produce.Errors)
	}
	return report, nil
}

func dial(cfg Config) (*client.Client, error) {
	return client.NewClientWithOptions(cfg.Addr, client.ClientOptions{
		Username:   cfg.Username,
		Password:   cfg.Password,
		MaxRetries: 1,
	})
}

func runProducers(cfg Config, topic string, checksums [][32]byte) Result {
	result := Result{Phase: "produce", MessageSize: cfg.Size, Concurrency: cfg.Concurrency}

	var (
		latencies  []time.Duration
		latMu      sync.Mutex
		errorCount int64
		errorMsgs  []string
		errMu      sync.Mutex
		wg         sync.WaitGroup
	)
	addError := func(msg string) {
		errMu.Lock()
		if len(errorMsgs) < 10 {
			errorMsgs = append(errorMsgs, msg)
		}
		errMu.Unlock()
	}

	perWorker := cfg.Messages / cfg.Concurrency
	total := perWorker * cfg.Concurrency

	start := time.Now()
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()

			c, err := dial(cfg)
			if err != nil {
				atomic.AddInt64(&errorCount, int64(perWorker))
				addError(fmt.Sprintf("worker %d: connection failed: %v", workerID, err))
				return
			}
			defer c.Close()

			local := make([]time.Duration, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				id := workerID*perWorker + i
				payload, sum := generatePayload(cfg.Size, id)
				checksums[id] = sum

				t := time.Now()
				err := c.AddItem(topic, strconv.Itoa(id), payload)
				if err != nil {
					atomic.AddInt64(&errorCount, 1)
					addError(fmt.Sprintf("worker %d: %v", workerID, err))
					continue
				}
				local = append(local, time.Since(t))
			}

			latMu.Lock()
			latencies = append(latencies, local...)
			latMu.Unlock()
		}(w)
	}
	wg.Wait()

	result.Messages = total
	result.Errors = int(errorCount)
	result.ErrorMessages = errorMsgs
	fillTimings(&result, time.Since(start), total-int(errorCount), cfg.Size, latencies)
	return result
}

func runConsumer(cfg Config, c *client.Client, topic string, checksums [][32]byte) Result {
	result := Result{Phase: "consume", MessageSize: cfg.Size, Concurrency: 1}
	expected := (cfg.Messages / cfg.Concurrency) * cfg.Concurrency
	seen := make([]bool, len(checksums))

	var (
		latencies []time.Duration
		offset    uint64
		received  int
	)
	start := time.Now()
	deadline := start.Add(cfg.DrainTimeout)

	for received < expected {
		t := time.Now()
		batch, err := c.ReadBatch("bench", topic, offset)
		if err != nil {
			result.ErrorMessages = append(result.ErrorMessages, err.Error())
			break
		}
		latencies = append(latencies, time.Since(t))

		if len(batch) == 0 {
			if time.Now().After(deadline) {
				result.ErrorMessages = append(result.ErrorMessages,
					fmt.Sprintf("timed out with %d of %d items", received, expected))
				break
			}
			time.Sleep(5 * time.Millisecond)
			continue
		}

		for _, item := range batch {
			if verifyItem(item, checksums, seen) {
				result.Verified++
			}
		}
		received += len(batch)
		offset += uint64(len(batch))
	}

	result.Messages = received
	result.Errors = expected - result.Verified
	fillTimings(&result, time.Since(start), received, cfg.Size, latencies)
	return result
}

// generatePayload returns size bytes of random data with the message id in
// the first 8 bytes, and its checksum.
func generatePayload(size, id int) ([]byte, [32]byte) {
	payload := make([]byte, size)
	rand.Read(payload)
	copy(payload[:8], fmt.Sprintf("%08d", id))
	return payload, sha256.Sum256(payload)
}

func verifyItem(item queue.Item, checksums [][32]byte, seen []bool) bool {
	id, err := strconv.Atoi(item.Key)
	if err != nil || id < 0 || id >= len(checksums) || seen[id] {
		return false
	}
	if sha256.Sum256(item.Value) != checksums[id] {
		return false
	}
	seen[id] = true
	return true
}

func fillTimings(r *Result, d time.Duration, ok, size int, latencies []time.Duration) {
	r.DurationSec = d.Seconds()
	if d > 0 {
		r.ThroughputMsgs = float64(ok) / d.Seconds()
		r.ThroughputMB = float64(ok*size) / d.Seconds() / 1024 / 1024
	}
	if len(latencies) > 0 {
		r.LatencyP50Ms = millis(percentile(latencies, 0.50))
		r.LatencyP95Ms = millis(percentile(latencies, 0.95))
		r.LatencyP99Ms = millis(percentile(latencies, 0.99))
		r.LatencyAvgMs = millis(avgDuration(latencies))
		r.LatencyMaxMs = millis(maxDuration(latencies))
	}
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000.0
}

func percentile(latencies []time.Duration, p float64) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(latencies))
	copy(sorted, latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func avgDuration(latencies []time.Duration) time.Duration {
	if len(latencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, l := range latencies {
		total += l
	}
	return total / time.Duration(len(latencies))
}

func maxDuration(latencies []time.Duration) time.Duration {
	var m time.Duration
	for _, l := range latencies {
		if l > m {
			m = l
		}
	}
	return m
}

func printInlineResult(w io.Writer, r Result) {
	label := fmt.Sprintf("  %-8s", r.Phase)
	if r.Errors > 0 {
		fmt.Fprintf(w, "%s %s\n", label, cli.Dim(fmt.Sprintf("%s %d errors", cli.IconError, r.Errors)))
		for _, msg := range r.ErrorMessages {
			fmt.Fprintf(w, "           %s\n", msg)
		}
		return
	}
	fmt.Fprintf(w, "%s %s | %.2f MB/s | p50=%.2fms p99=%.2fms max=%.2fms\n",
		label,
		cli.Highlight(fmt.Sprintf("%.0f msgs/s", r.ThroughputMsgs)),
		r.ThroughputMB, r.LatencyP50Ms, r.LatencyP99Ms, r.LatencyMaxMs)
}

func writeReport(path string, report *Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func formatBytes(b int) string {
	if b >= 1024*1024 {
		return fmt.Sprintf("%.1fMB", float64(b)/1024/1024)
	}
	if b >= 1024 {
		return fmt.Sprintf("%.1fKB", float64(b)/1024)
	}
	return fmt.Sprintf("%dB", b)
}
