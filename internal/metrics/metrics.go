// Package metrics exposes the Prometheus collectors hostctld registers
// at startup: tool executions, pipeline turns, and journal appends.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the daemon's Prometheus collector set.
type Metrics struct {
	// ToolExecutionCounter counts tool invocations by name and outcome.
	ToolExecutionCounter *prometheus.CounterVec

	// ToolExecutionDuration measures tool execution latency in seconds.
	ToolExecutionDuration *prometheus.HistogramVec

	// TurnCounter counts forced-tool pipeline turns by outcome
	// (verified|corrected|rejected).
	TurnCounter *prometheus.CounterVec

	// TurnDuration measures end-to-end turn latency in seconds.
	TurnDuration prometheus.Histogram

	// JournalAppendCounter counts change journal writes by operation.
	JournalAppendCounter *prometheus.CounterVec

	// PluginApplyCounter counts state-engine ApplyDiff calls by plugin
	// and outcome.
	PluginApplyCounter *prometheus.CounterVec

	// ActiveSessions tracks the current number of in-memory sessions.
	ActiveSessions prometheus.Gauge
}

// New creates and registers all collectors against the default registry.
func New() *Metrics {
	return &Metrics{
		ToolExecutionCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostctl_tool_executions_total",
				Help: "Total number of tool executions by tool name and status",
			},
			[]string{"tool_name", "status"},
		),
		ToolExecutionDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hostctl_tool_execution_duration_seconds",
				Help:    "Duration of tool executions in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
			},
			[]string{"tool_name"},
		),
		TurnCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostctl_pipeline_turns_total",
				Help: "Total number of forced-tool pipeline turns by outcome",
			},
			[]string{"outcome"},
		),
		TurnDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "hostctl_pipeline_turn_duration_seconds",
				Help:    "Duration of a full pipeline turn in seconds",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		JournalAppendCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostctl_journal_appends_total",
				Help: "Total number of change journal records appended, by operation",
			},
			[]string{"operation"},
		),
		PluginApplyCounter: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hostctl_plugin_apply_total",
				Help: "Total number of plugin ApplyDiff calls by plugin and outcome",
			},
			[]string{"plugin", "outcome"},
		),
		ActiveSessions: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "hostctl_active_sessions",
				Help: "Current number of sessions held in memory",
			},
		),
	}
}

// RecordToolExecution records one tool call's outcome and latency.
func (m *Metrics) RecordToolExecution(toolName, status string, durationSeconds float64) {
	m.ToolExecutionCounter.WithLabelValues(toolName, status).Inc()
	m.ToolExecutionDuration.WithLabelValues(toolName).Observe(durationSeconds)
}

// RecordTurn records one pipeline turn's outcome and latency.
func (m *Metrics) RecordTurn(outcome string, durationSeconds float64) {
	m.TurnCounter.WithLabelValues(outcome).Inc()
	m.TurnDuration.Observe(durationSeconds)
}

// RecordJournalAppend records one change journal write.
func (m *Metrics) RecordJournalAppend(operation string) {
	m.JournalAppendCounter.WithLabelValues(operation).Inc()
}

// RecordPluginApply records one plugin ApplyDiff call.
func (m *Metrics) RecordPluginApply(plugin, outcome string) {
	m.PluginApplyCounter.WithLabelValues(plugin, outcome).Inc()
}
