// Package monitor is the single entry point for the security monitoring
// engine. Every security-relevant occurrence flows through Monitor.Log,
// which records the event and runs detection; query, export, and config
// operations are exposed for dashboard callers.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/watchtowerhq/watchtower/internal/alerting"
	"github.com/watchtowerhq/watchtower/internal/audit"
	"github.com/watchtowerhq/watchtower/internal/config"
	"github.com/watchtowerhq/watchtower/internal/detect"
	"github.com/watchtowerhq/watchtower/internal/observability"
	"github.com/watchtowerhq/watchtower/internal/risk"
)

// EventContext carries the actor/IP/geo context of a logged event.
type EventContext struct {
	UserID         string         `json:"user_id,omitempty"`
	CompanyID      string         `json:"company_id,omitempty"`
	PlatformUserID string         `json:"platform_user_id,omitempty"`
	IPAddress      string         `json:"ip_address,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	Country        string         `json:"country,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// Monitor orchestrates the event store, detectors, scorer, and alert
// manager behind one facade.
type Monitor struct {
	store     audit.Store
	threshold *detect.ThresholdDetector
	anomaly   *detect.AnomalyDetector
	scorer    *risk.Scorer
	alerts    *alerting.Manager
	metrics   *observability.Metrics
	logger    *zap.Logger

	mu  sync.RWMutex
	cfg config.Monitoring

	alertHook func(*alerting.Alert)
}

// New wires a complete monitor over the given stores. metrics may be nil.
func New(events audit.Store, alertStore alerting.Store, registry *alerting.Registry, cfg config.Monitoring, metrics *observability.Metrics, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Monitor{
		store:     events,
		threshold: detect.NewThresholdDetector(events),
		anomaly:   detect.NewAnomalyDetector(events),
		scorer:    risk.NewScorer(events),
		metrics:   metrics,
		logger:    logger,
		cfg:       cfg,
	}
	m.alerts = alerting.NewManager(alertStore, registry, events, m.Config, metrics, logger)
	return m
}

// SetAlertHook registers a callback invoked for every created alert,
// after creation, on the logging goroutine. Used for live dashboards.
func (m *Monitor) SetAlertHook(fn func(*alerting.Alert)) {
	m.alertHook = fn
}

// Config returns a snapshot of the current monitoring configuration.
func (m *Monitor) Config() config.Monitoring {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// UpdateConfig validates and applies a partial update, preserving every
// unspecified nested field, and returns the resulting configuration.
func (m *Monitor) UpdateConfig(ctx context.Context, patch config.MonitoringPatch) (config.Monitoring, error) {
	m.mu.Lock()
	merged := m.cfg.Merge(patch)
	if err := merged.Validate(); err != nil {
		m.mu.Unlock()
		return config.Monitoring{}, fmt.Errorf("rejected config update: %w", err)
	}
	m.cfg = merged
	m.mu.Unlock()

	if err := m.store.Append(ctx, &audit.Event{
		EventType: audit.EventTypeConfigChange,
		Action:    "MONITORING_CONFIG_UPDATED",
		Outcome:   audit.OutcomeSuccess,
		Severity:  audit.SeverityInfo,
	}); err != nil {
		m.logger.Warn("failed to audit config change", zap.Error(err))
	}
	m.logger.Info("monitoring config updated")
	return merged, nil
}

// Log records a security event and runs detection over it. The returned
// error reflects only the event append: detector and alerting failures
// are logged and swallowed so monitoring side effects can never block
// the business operation that produced the event.
func (m *Monitor) Log(ctx context.Context, eventType, action string, outcome audit.Outcome, severity audit.Severity, evCtx EventContext, description string) (*audit.Event, error) {
	if severity == "" {
		severity = audit.SeverityInfo
	}

	ev := &audit.Event{
		EventType:      eventType,
		Action:         action,
		Outcome:        outcome,
		Severity:       severity,
		UserID:         evCtx.UserID,
		CompanyID:      evCtx.CompanyID,
		PlatformUserID: evCtx.PlatformUserID,
		IPAddress:      evCtx.IPAddress,
		UserAgent:      evCtx.UserAgent,
		Country:        evCtx.Country,
		SessionID:      evCtx.SessionID,
		RequestID:      evCtx.RequestID,
		Metadata:       evCtx.Metadata,
		ErrorMessage:   description,
	}

	if err := m.store.Append(ctx, ev); err != nil {
		return nil, fmt.Errorf("failed to record security event: %w", err)
	}
	if m.metrics != nil {
		m.metrics.EventsLogged.WithLabelValues(ev.EventType, string(ev.Outcome)).Inc()
	}

	cfg := m.Config()
	triggers := m.runDetector(ctx, "threshold", func() ([]detect.Trigger, error) {
		return m.threshold.Check(ctx, cfg, ev)
	})
	triggers = append(triggers, m.runDetector(ctx, "anomaly", func() ([]detect.Trigger, error) {
		return m.anomaly.Check(ctx, cfg, ev)
	})...)

	for _, trig := range triggers {
		m.raiseAlert(ctx, ev, trig)
	}
	return ev, nil
}

// runDetector executes one detector pass, logging and absorbing any
// store failure so the other detector still runs.
func (m *Monitor) runDetector(ctx context.Context, name string, fn func() ([]detect.Trigger, error)) []detect.Trigger {
	start := time.Now()
	triggers, err := fn()
	if m.metrics != nil {
		m.metrics.DetectorDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if m.metrics != nil {
			m.metrics.DetectorFailures.WithLabelValues(name).Inc()
		}
		m.logger.Warn("detector pass aborted", zap.String("detector", name), zap.Error(err))
		return nil
	}
	return triggers
}

// raiseAlert converts a trigger into an alert. Creation failures are
// logged, never propagated.
func (m *Monitor) raiseAlert(ctx context.Context, ev *audit.Event, trig detect.Trigger) {
	alert, err := m.alerts.CreateAlert(ctx, alerting.Data{
		Type:        trig.AlertType,
		Severity:    trig.Severity,
		Title:       trig.Title,
		Description: trig.Description,
		EventType:   ev.EventType,
		Context: alerting.Context{
			UserID:    ev.UserID,
			CompanyID: ev.CompanyID,
			IPAddress: ev.IPAddress,
			UserAgent: ev.UserAgent,
			Country:   ev.Country,
		},
		Metadata: map[string]any{
			"detector":      string(trig.Kind),
			"matched_count": trig.MatchedCount,
			"threshold":     trig.Threshold,
		},
	})
	if err != nil {
		m.logger.Warn("alert creation failed",
			zap.String("alert_type", string(trig.AlertType)),
			zap.Error(err))
		return
	}
	if alert != nil && m.alertHook != nil {
		m.alertHook(alert)
	}
}

// SecurityMetrics computes the aggregate metrics projection for a range.
func (m *Monitor) SecurityMetrics(ctx context.Context, r audit.TimeRange) (*risk.Metrics, error) {
	alerts, err := m.alerts.GetAlertsInRange(ctx, r)
	if err != nil {
		return nil, err
	}
	return m.scorer.Compute(ctx, r, alerts)
}

// IPThreatLevel analyzes one IP's recent activity.
func (m *Monitor) IPThreatLevel(ctx context.Context, ip string) (*risk.IPThreatAnalysis, error) {
	return m.scorer.AnalyzeIP(ctx, ip)
}

// ActiveAlerts returns unacknowledged alerts, optionally one severity.
func (m *Monitor) ActiveAlerts(ctx context.Context, severity alerting.Severity) ([]*alerting.Alert, error) {
	return m.alerts.GetActiveAlerts(ctx, severity)
}

// AlertsInRange returns alerts inside the inclusive range.
func (m *Monitor) AlertsInRange(ctx context.Context, r audit.TimeRange) ([]*alerting.Alert, error) {
	return m.alerts.GetAlertsInRange(ctx, r)
}

// AcknowledgeAlert marks an alert acknowledged; false for unknown ids.
func (m *Monitor) AcknowledgeAlert(ctx context.Context, id, who string) (bool, error) {
	return m.alerts.Acknowledge(ctx, id, who)
}

// ExportSecurityData serializes alerts in the range as "json" or "csv".
func (m *Monitor) ExportSecurityData(ctx context.Context, format string, r audit.TimeRange) (string, error) {
	return m.alerts.Export(ctx, format, r)
}

// AlertStats summarizes the alert collection.
func (m *Monitor) AlertStats(ctx context.Context) (*alerting.Stats, error) {
	return m.alerts.Stats(ctx)
}

// CleanupOldAlerts prunes alerts past retention. Invoked by an external
// scheduler, not by event flow.
func (m *Monitor) CleanupOldAlerts(ctx context.Context) (int, error) {
	return m.alerts.CleanupOldAlerts(ctx)
}
