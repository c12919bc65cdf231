// Copyright 2026 Blink Labs Software
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

package restore

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the restore counters shared across runs. Create one
// per registry and pass it to every Restorer.
type Metrics struct {
	itemsRestored *prometheus.CounterVec
	itemsSkipped  *prometheus.CounterVec
	activeReplays prometheus.Gauge
	runsTotal     *prometheus.CounterVec
}

// NewMetrics registers and returns restore metrics. A nil registry
// returns nil, which disables metrics on the restorer.
func NewMetrics(promRegistry prometheus.Registerer) *Metrics {
	if promRegistry == nil {
		return nil
	}
	m := &Metrics{
		itemsRestored: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restore_items_restored_total",
				Help: "Items successfully restored per stage",
			},
			[]string{"stage"},
		),
		itemsSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restore_items_skipped_total",
				Help: "Items skipped due to per-item failures per stage",
			},
			[]string{"stage"},
		),
		activeReplays: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "restore_active_channel_replays",
				Help: "Channel message replays currently holding an admission slot",
			},
		),
		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "restore_runs_total",
				Help: "Completed restore runs per outcome",
			},
			[]string{"outcome"},
		),
	}
	promRegistry.MustRegister(
		m.itemsRestored,
		m.itemsSkipped,
		m.activeReplays,
		m.runsTotal,
	)
	return m
}

func (m *Metrics) restored(stage string) {
	if m == nil {
		return
	}
	m.itemsRestored.WithLabelValues(stage).Inc()
}

func (m *Metrics) skipped(stage string) {
	if m == nil {
		return
	}
	m.itemsSkipped.WithLabelValues(stage).Inc()
}

func (m *Metrics) replayStarted() {
	if m == nil {
		return
	}
	m.activeReplays.Inc()
}

func (m *Metrics) replayFinished() {
	if m == nil {
		return
	}
	m.activeReplays.Dec()
}

func (m *Metrics) runFinished(outcome string) {
	if m == nil {
		return
	}
	m.runsTotal.WithLabelValues(outcome).Inc()
}
