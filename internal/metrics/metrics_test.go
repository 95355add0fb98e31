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

package metrics

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qataar/internal/config"
	"qataar/internal/queue"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, g.Write(m))
	return m.GetGauge().GetValue()
}

func histogramCount(t *testing.T, h prometheus.Observer) uint64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, h.(prometheus.Metric).Write(m))
	return m.GetHistogram().GetSampleCount()
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, ResultOK, ResultLabel(nil))
	assert.Equal(t, ResultUnknownTopic, ResultLabel(fmt.Errorf("%w: x", queue.ErrUnknownTopic)))
	assert.Equal(t, ResultUnknownConsumer, ResultLabel(queue.ErrUnknownConsumer))
	assert.Equal(t, ResultTopicMismatch, ResultLabel(queue.ErrTopicMismatch))
	assert.Equal(t, ResultError, ResultLabel(errors.New("other")))
}

func TestObserveOperation(t *testing.T) {
	m := New()

	m.ObserveOperation(queue.KindAddItem, time.Millisecond, nil)
	m.ObserveOperation(queue.KindAddItem, time.Millisecond, queue.ErrUnknownTopic)
	m.ObserveOperation(queue.KindAddItem, time.Millisecond, nil)
	m.ObserveQueueDepth(7)

	assert.Equal(t, 2.0, counterValue(t, m.Operations.WithLabelValues(queue.KindAddItem, ResultOK)))
	assert.Equal(t, 1.0, counterValue(t, m.Operations.WithLabelValues(queue.KindAddItem, ResultUnknownTopic)))
	assert.Equal(t, uint64(3), histogramCount(t, m.OperationDuration.WithLabelValues(queue.KindAddItem)))
	assert.Equal(t, 7.0, gaugeValue(t, m.ActorQueueDepth))
}

func TestConnectionMetrics(t *testing.T) {
	m := New()

	m.ConnectionOpened("tcp")
	m.ConnectionOpened("tcp")
	m.ConnectionClosed("tcp")
	m.AuthFailed("tcp")
	m.DecodeFailed("ws")
	m.BatchSent(3, 120)

	assert.Equal(t, 2.0, counterValue(t, m.ConnectionsTotal.WithLabelValues("tcp")))
	assert.Equal(t, 1.0, gaugeValue(t, m.ConnectionsActive.WithLabelValues("tcp")))
	assert.Equal(t, 1.0, counterValue(t, m.AuthFailures.WithLabelValues("tcp")))
	assert.Equal(t, 1.0, counterValue(t, m.DecodeFailures.WithLabelValues("ws")))
	assert.Equal(t, 3.0, counterValue(t, m.BatchItems))
	assert.Equal(t, 120.0, counterValue(t, m.BatchBytes))
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveOperation(queue.KindReadBatch, time.Second, nil)
		m.ObserveQueueDepth(1)
		m.ConnectionOpened("tcp")
		m.ConnectionClosed("tcp")
		m.AuthFailed("tcp")
		m.DecodeFailed("tcp")
		m.BatchSent(1, 1)
	})
	assert.Nil(t, m.Registry())
}

func TestMetricsAreIsolated(t *testing.T) {
	a, b := New(), New()
	a.ConnectionOpened("tcp")
	assert.Equal(t, 0.0, counterValue(t, b.ConnectionsTotal.WithLabelValues("tcp")))
}

func TestHandlerServesMetricsAndHealth(t *testing.T) {
	m := New()
	m.ObserveOperation(queue.KindAddTopic, time.Microsecond, nil)

	srv := httptest.NewServer(NewServer(&config.MetricsConfig{Enabled: true}, m).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `qataar_operations_total{operation="AddTopic",result="ok"} 1`)
	assert.Contains(t, string(body), "go_goroutines")

	resp, err = http.Get(srv.URL + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestServerStartStop(t *testing.T) {
	s := NewServer(&config.MetricsConfig{Enabled: true, Addr: "127.0.0.1:0"}, New())
	require.NoError(t, s.Start())
	require.NotEmpty(t, s.Addr())

	resp, err := http.Get("http://" + s.Addr() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
}

func TestServerDisabled(t *testing.T) {
	s := NewServer(&config.MetricsConfig{Enabled: false}, New())
	require.NoError(t, s.Start())
	assert.Empty(t, s.Addr())
	assert.NoError(t, s.Stop())
}
