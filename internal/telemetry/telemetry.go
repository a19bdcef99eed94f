// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package telemetry holds the OpenTelemetry metric instruments irb-engine
// records. Without a configured MeterProvider the global no-op provider
// absorbs every measurement.
package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

const meterName = "github.com/pdiddy/irb-engine"

// Metrics groups the instruments. A nil *Metrics records nothing.
type Metrics struct {
	analysisRuns     metric.Int64Counter
	analysisDuration metric.Float64Histogram
	agentFailures    metric.Int64Counter
	decisions        metric.Int64Counter
	notifications    metric.Int64Counter
	evidence         metric.Int64Counter
	jobs             metric.Int64Counter
}

// New creates the instruments on mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(meterName)
	m := &Metrics{}
	var err error

	if m.analysisRuns, err = meter.Int64Counter("irb.analysis.runs",
		metric.WithDescription("Analysis reviews closed, by final status")); err != nil {
		return nil, err
	}
	if m.analysisDuration, err = meter.Float64Histogram("irb.analysis.duration",
		metric.WithDescription("Wall-clock time of analysis runs"),
		metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if m.agentFailures, err = meter.Int64Counter("irb.analysis.agent_failures",
		metric.WithDescription("Agents that failed or timed out during a run")); err != nil {
		return nil, err
	}
	if m.decisions, err = meter.Int64Counter("irb.submission.decisions",
		metric.WithDescription("Decisions recorded on submissions and amendments")); err != nil {
		return nil, err
	}
	if m.notifications, err = meter.Int64Counter("irb.notifications",
		metric.WithDescription("Notification dispatch attempts")); err != nil {
		return nil, err
	}
	if m.evidence, err = meter.Int64Counter("irb.monitor.recomputations",
		metric.WithDescription("Evidence recomputations, by outcome")); err != nil {
		return nil, err
	}
	if m.jobs, err = meter.Int64Counter("irb.jobs",
		metric.WithDescription("Background jobs processed, by kind and outcome")); err != nil {
		return nil, err
	}
	return m, nil
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns instruments bound to the global MeterProvider.
func Default() *Metrics {
	defaultOnce.Do(func() {
		m, err := New(otel.GetMeterProvider())
		if err != nil {
			m, _ = New(noop.NewMeterProvider())
		}
		defaultMetrics = m
	})
	return defaultMetrics
}

// AnalysisRun records a closed analysis review.
func (m *Metrics) AnalysisRun(ctx context.Context, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.analysisRuns.Add(ctx, 1, attrs)
	m.analysisDuration.Record(ctx, elapsed.Seconds(), attrs)
}

// AgentFailure records an agent that produced no result.
func (m *Metrics) AgentFailure(ctx context.Context, agent string) {
	if m == nil {
		return
	}
	m.agentFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("agent", agent)))
}

// Decision records a decision of the given kind ("submission" or "amendment").
func (m *Metrics) Decision(ctx context.Context, kind, reviewType, decision string) {
	if m == nil {
		return
	}
	m.decisions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("review_type", reviewType),
		attribute.String("decision", decision),
	))
}

// Notification records a dispatch attempt.
func (m *Metrics) Notification(ctx context.Context, kind string, delivered bool) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("delivered", delivered),
	))
}

// Recomputation records an evidence recomputation outcome.
func (m *Metrics) Recomputation(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.evidence.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// Job records a processed background job.
func (m *Metrics) Job(ctx context.Context, kind, outcome string) {
	if m == nil {
		return
	}
	m.jobs.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}
