// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package monitor implements sequential evidence monitoring. Every ingested
// response schedules a recomputation of the study's evidence statistic;
// the first time the statistic reaches the study's threshold the owner is
// notified, exactly once.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/pdiddy/irb-engine/internal/logging"
	"github.com/pdiddy/irb-engine/internal/notify"
	"github.com/pdiddy/irb-engine/internal/store"
	"github.com/pdiddy/irb-engine/internal/telemetry"
	"github.com/pdiddy/irb-engine/pkg/types"
)

// ErrUnknownStrategy is returned when a study names an unregistered strategy.
var ErrUnknownStrategy = errors.New("unknown evidence strategy")

// Monitor recomputes evidence and sends threshold notifications.
type Monitor struct {
	store           *store.Store
	registry        *Registry
	dispatcher      notify.Dispatcher
	siteURL         string
	defaultStrategy string
	logger          *slog.Logger
	metrics         *telemetry.Metrics
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithRegistry replaces the built-in strategy registry.
func WithRegistry(r *Registry) Option { return func(m *Monitor) { m.registry = r } }

// WithSiteURL sets the link base placed in notifications.
func WithSiteURL(url string) Option { return func(m *Monitor) { m.siteURL = url } }

// WithDefaultStrategy sets the strategy used by studies that name none.
func WithDefaultStrategy(name string) Option { return func(m *Monitor) { m.defaultStrategy = name } }

// WithLogger sets the monitor logger.
func WithLogger(l *slog.Logger) Option { return func(m *Monitor) { m.logger = l } }

// WithMetrics sets the metric instruments.
func WithMetrics(mt *telemetry.Metrics) Option { return func(m *Monitor) { m.metrics = mt } }

// New returns a Monitor that notifies through d.
func New(st *store.Store, d notify.Dispatcher, opts ...Option) *Monitor {
	m := &Monitor{store: st, dispatcher: d, defaultStrategy: StrategyPlaceholder}
	for _, o := range opts {
		o(m)
	}
	if m.registry == nil {
		m.registry = NewRegistry()
	}
	if m.logger == nil {
		m.logger = logging.New("monitor")
	}
	if m.metrics == nil {
		m.metrics = telemetry.Default()
	}
	return m
}

// Recompute evaluates the study's strategy over all its responses and
// stores the result. It returns nil without computing when monitoring is
// disabled or fewer than MinSampleSize responses exist. A value computed
// from fewer responses than the stored one is returned but not stored.
func (m *Monitor) Recompute(ctx context.Context, studyID string) (*float64, error) {
	study, err := m.store.Study(ctx, studyID)
	if err != nil {
		return nil, err
	}
	if !study.Monitoring.Enabled {
		m.metrics.Recomputation(ctx, "disabled")
		return nil, nil
	}

	payloads, err := m.store.ResponsePayloads(ctx, studyID)
	if err != nil {
		return nil, err
	}
	n := len(payloads)
	if n < study.Monitoring.MinSampleSize {
		m.metrics.Recomputation(ctx, "below_minimum")
		m.logger.Debug("below minimum sample size", "study", studyID, "n", n, "min", study.Monitoring.MinSampleSize)
		return nil, nil
	}

	name := study.Monitoring.Strategy
	if name == "" {
		name = m.defaultStrategy
	}
	strategy, ok := m.registry.Lookup(name)
	if !ok {
		m.metrics.Recomputation(ctx, "error")
		return nil, fmt.Errorf("study %s: %w %q", studyID, ErrUnknownStrategy, name)
	}
	value, err := strategy.Compute(payloads, study.Monitoring.Params)
	if err == nil && (math.IsNaN(value) || math.IsInf(value, 0)) {
		err = fmt.Errorf("strategy returned %v", value)
	}
	if err != nil {
		m.metrics.Recomputation(ctx, "error")
		return nil, fmt.Errorf("computing evidence for %s with %s: %w", studyID, name, err)
	}

	written, err := m.store.UpdateEvidence(ctx, studyID, value, n)
	if err != nil {
		return nil, err
	}
	if !written {
		m.metrics.Recomputation(ctx, "stale")
		m.logger.Debug("discarded stale evidence", "study", studyID, "n", n, "value", value)
		return &value, nil
	}
	m.metrics.Recomputation(ctx, "computed")
	m.logger.Info("evidence updated", "study", studyID, "strategy", name, "n", n, "value", value)
	return &value, nil
}

// MaybeNotify sends the threshold notification if the stored evidence has
// reached the study's threshold and no notification was ever sent. The
// notified flag is claimed atomically before sending, so concurrent calls
// send at most one message. A failed send still counts as notified. It
// reports whether this call claimed the notification.
func (m *Monitor) MaybeNotify(ctx context.Context, studyID string) (bool, error) {
	study, err := m.store.Study(ctx, studyID)
	if err != nil {
		return false, err
	}
	if !study.Monitoring.Enabled || study.Notified {
		return false, nil
	}
	claimed, err := m.store.ClaimNotification(ctx, studyID, study.Monitoring.Threshold)
	if err != nil || !claimed {
		return false, err
	}

	study, err = m.store.Study(ctx, studyID)
	if err != nil {
		return true, err
	}
	recipients, err := m.recipients(ctx, study)
	if err != nil {
		m.logger.Warn("resolving alert recipients", "study", studyID, "error", err)
	}
	subject, body := notify.EvidenceAlert(study, study.EvidenceN, m.siteURL)
	sent, err := m.dispatcher.Send(ctx, recipients, subject, body)
	m.metrics.Notification(ctx, "evidence", err == nil && sent > 0)
	if err != nil {
		m.logger.Warn("evidence alert not delivered", "study", studyID, "error", err)
		return true, nil
	}
	m.logger.Info("evidence alert sent", "study", studyID, "recipients", sent)
	return true, nil
}

// recipients is the study owner, or every admin when the owner is unknown.
func (m *Monitor) recipients(ctx context.Context, study types.Study) ([]string, error) {
	owner, err := m.store.User(ctx, study.ResearcherID)
	if err == nil {
		return []string{owner.Email}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	admins, err := m.store.UsersByRole(ctx, types.RoleAdmin)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(admins))
	for _, u := range admins {
		out = append(out, u.Email)
	}
	return out, nil
}

// Handler returns the job handler for recompute_evidence jobs. A study
// deleted since the job was scheduled completes the job.
func (m *Monitor) Handler() func(context.Context, types.Job) error {
	return func(ctx context.Context, job types.Job) error {
		studyID := job.StudyID
		if studyID == "" {
			studyID = job.TargetID
		}
		if _, err := m.Recompute(ctx, studyID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil
			}
			return err
		}
		_, err := m.MaybeNotify(ctx, studyID)
		return err
	}
}
