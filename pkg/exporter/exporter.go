/**
 * Copyright (c) 2022, Xerra Earth Observation Institute.
 * Copyright (c) 2025, Simeon Miteff.
 *
 * See LICENSE.TXT in the root directory of this source tree.
 */

// Package exporter exposes vmtoolsd.Agent's observability counters as
// Prometheus metrics.
package exporter

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vorteil/vmtoolsd"
)

// Source is the subset of *vmtoolsd.Agent the collector depends on. It is
// an interface so tests can substitute a fake without starting a real
// backdoor dispatch loop.
type Source interface {
	Snapshot() vmtoolsd.Snapshot
}

// AgentCollector adapts an Agent's Snapshot into the Prometheus collector
// interface: one gauge for the current backoff delay, one counter vector
// for commands dispatched by name, and plain counters for unknown commands
// and recovered transport errors.
type AgentCollector struct {
	mu     sync.Mutex
	source Source

	delayDesc   *prometheus.Desc
	commandDesc *prometheus.Desc
	unknownDesc *prometheus.Desc
	errorDesc   *prometheus.Desc
}

func (c *AgentCollector) Describe(descs chan<- *prometheus.Desc) {
	descs <- c.delayDesc
	descs <- c.commandDesc
	descs <- c.unknownDesc
	descs <- c.errorDesc
}

func (c *AgentCollector) Collect(metrics chan<- prometheus.Metric) {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := c.source.Snapshot()

	metrics <- prometheus.MustNewConstMetric(c.delayDesc, prometheus.GaugeValue, float64(snap.DelayMs))
	metrics <- prometheus.MustNewConstMetric(c.unknownDesc, prometheus.CounterValue, float64(snap.UnknownCount))
	metrics <- prometheus.MustNewConstMetric(c.errorDesc, prometheus.CounterValue, float64(snap.ErrorCount))

	for name, count := range snap.CommandCounts {
		metrics <- prometheus.MustNewConstMetric(c.commandDesc, prometheus.CounterValue, float64(count), name)
	}
}

// NewAgentCollector builds a collector backed by source. constLabels carries
// process-wide identifying labels (e.g. hostname).
func NewAgentCollector(
	source Source,
	constLabels prometheus.Labels,
) *AgentCollector {
	return &AgentCollector{
		source: source,
		delayDesc: prometheus.NewDesc(
			"vmtoolsd_dispatch_delay_milliseconds",
			"Current backoff delay before the next TCLO poll.",
			nil, constLabels,
		),
		commandDesc: prometheus.NewDesc(
			"vmtoolsd_commands_total",
			"Number of TCLO commands dispatched, by command name.",
			[]string{"command"}, constLabels,
		),
		unknownDesc: prometheus.NewDesc(
			"vmtoolsd_unknown_commands_total",
			"Number of TCLO commands received with no matching handler.",
			nil, constLabels,
		),
		errorDesc: prometheus.NewDesc(
			"vmtoolsd_errors_total",
			"Number of transport errors that forced a TCLO channel reopen.",
			nil, constLabels,
		),
	}
}
