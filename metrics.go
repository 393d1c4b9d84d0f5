// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fingerprint

import (
	"github.com/blinklabs-io/gofingerprint/wire"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the server's Prometheus collectors. A nil *Metrics records
// nothing.
type Metrics struct {
	queries  *prometheus.CounterVec
	active   prometheus.Gauge
	rejected prometheus.Counter
}

// NewMetrics creates the server collectors and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		queries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fingerprint_api_queries_total",
				Help: "Queries answered, by protocol version and response status",
			},
			[]string{"version", "status"},
		),
		active: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fingerprint_api_connections_active",
				Help: "Open API connections",
			},
		),
		rejected: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fingerprint_api_connections_rejected_total",
				Help: "Connections closed on accept because the connection limit was reached",
			},
		),
	}
}

func (m *Metrics) observeQuery(q wire.Query, status wire.Status) {
	if m == nil {
		return
	}
	m.queries.WithLabelValues(queryVersion(q), status.String()).Inc()
}

func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) connectionRejected() {
	if m == nil {
		return
	}
	m.rejected.Inc()
}

func queryVersion(q wire.Query) string {
	if q == nil {
		return "unknown"
	}
	switch q.Tag() {
	case wire.QueryMagicV1:
		return "1"
	case wire.QueryMagicV2:
		return "2"
	}
	return "unknown"
}
