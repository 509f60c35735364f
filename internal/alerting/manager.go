package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/watchtowerhq/watchtower/internal/audit"
	"github.com/watchtowerhq/watchtower/internal/config"
	"github.com/watchtowerhq/watchtower/internal/observability"
)

// dispatchTimeout bounds a single channel delivery. Dispatch runs
// detached from the caller, so a slow channel never delays CreateAlert.
const dispatchTimeout = 15 * time.Second

// ErrUnknownFormat is returned by Export for unsupported formats.
var ErrUnknownFormat = errors.New("unsupported export format")

// Manager owns the alert collection and its lifecycle.
type Manager struct {
	store    Store
	registry *Registry
	audit    audit.Store
	cfg      func() config.Monitoring
	metrics  *observability.Metrics
	logger   *zap.Logger
}

// NewManager creates an alert manager. cfg is read on every operation so
// runtime config updates take effect immediately. metrics may be nil.
func NewManager(store Store, registry *Registry, auditStore audit.Store, cfg func() config.Monitoring, metrics *observability.Metrics, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Manager{
		store:    store,
		registry: registry,
		audit:    auditStore,
		cfg:      cfg,
		metrics:  metrics,
		logger:   logger,
	}
}

// CreateAlert creates an alert unless a duplicate of the same type and IP
// exists within the suppression window. Suppression is not an error: the
// returned alert is nil. Notifications are dispatched fire-and-forget.
func (m *Manager) CreateAlert(ctx context.Context, d Data) (*Alert, error) {
	cfg := m.cfg()
	suppress := time.Duration(cfg.Alerting.SuppressDuplicateMinutes) * time.Minute

	fresh, err := m.store.Reserve(ctx, dedupeKey(d), suppress)
	if err != nil {
		return nil, fmt.Errorf("duplicate check failed: %w", err)
	}
	if !fresh {
		if m.metrics != nil {
			m.metrics.AlertsSuppressed.WithLabelValues(string(d.Type)).Inc()
		}
		m.logger.Debug("alert suppressed as duplicate",
			zap.String("type", string(d.Type)),
			zap.String("ip", d.Context.IPAddress))
		return nil, nil
	}

	alert := &Alert{
		ID:          uuid.New().String(),
		Timestamp:   time.Now(),
		Severity:    d.Severity,
		Type:        d.Type,
		Title:       d.Title,
		Description: d.Description,
		EventType:   d.EventType,
		Context:     d.Context,
		Metadata:    d.Metadata,
	}

	if err := m.store.Insert(ctx, alert); err != nil {
		return nil, fmt.Errorf("failed to store alert: %w", err)
	}

	if m.metrics != nil {
		m.metrics.AlertsCreated.WithLabelValues(string(alert.Type), string(alert.Severity)).Inc()
	}
	m.auditLog(ctx, "ALERT_CREATED", alert, "")

	if cfg.Alerting.Enabled {
		m.dispatch(alert, cfg.Alerting.Channels)
	}
	return alert, nil
}

// dedupeKey groups duplicates by type plus IP, falling back to user and
// then a global bucket when the context carries no identifier.
func dedupeKey(d Data) string {
	ident := d.Context.IPAddress
	if ident == "" {
		ident = d.Context.UserID
	}
	if ident == "" {
		ident = "global"
	}
	return string(d.Type) + "|" + ident
}

// dispatch delivers the alert to every configured channel concurrently.
// Each channel is independent; failures are logged and counted, never
// returned.
func (m *Manager) dispatch(alert *Alert, channels []string) {
	for _, name := range channels {
		notifier := m.registry.Get(name)
		if notifier == nil {
			m.logger.Warn("unknown alert channel configured", zap.String("channel", name))
			continue
		}
		go func(n Notifier) {
			ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
			defer cancel()

			if err := n.Send(ctx, alert); err != nil {
				if m.metrics != nil {
					m.metrics.NotificationsFailed.WithLabelValues(n.Name()).Inc()
				}
				m.logger.Warn("alert notification failed",
					zap.String("channel", n.Name()),
					zap.String("alert_id", alert.ID),
					zap.Error(err))
				return
			}
			if m.metrics != nil {
				m.metrics.NotificationsSent.WithLabelValues(n.Name()).Inc()
			}
		}(notifier)
	}
}

// GetActiveAlerts returns unacknowledged alerts, newest first, optionally
// filtered to one severity.
func (m *Manager) GetActiveAlerts(ctx context.Context, severity Severity) ([]*Alert, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*Alert, 0, len(all))
	for _, a := range all {
		if a.Acknowledged {
			continue
		}
		if severity != "" && a.Severity != severity {
			continue
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// GetAlertsInRange returns alerts with timestamps inside the inclusive
// range, oldest first.
func (m *Manager) GetAlertsInRange(ctx context.Context, r audit.TimeRange) ([]*Alert, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]*Alert, 0, len(all))
	for _, a := range all {
		if r.Contains(a.Timestamp) {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

// Acknowledge marks an alert acknowledged. Unknown ids return false with
// no side effect; re-acknowledging keeps the original acknowledger and
// still returns true.
func (m *Manager) Acknowledge(ctx context.Context, id, acknowledgedBy string) (bool, error) {
	alert, err := m.store.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if alert == nil {
		return false, nil
	}
	if alert.Acknowledged {
		return true, nil
	}

	now := time.Now()
	alert.Acknowledged = true
	alert.AcknowledgedBy = acknowledgedBy
	alert.AcknowledgedAt = &now
	if err := m.store.Update(ctx, alert); err != nil {
		return false, err
	}

	if m.metrics != nil {
		m.metrics.AlertsAcknowledged.Inc()
	}
	m.auditLog(ctx, "ALERT_ACKNOWLEDGED", alert, acknowledgedBy)
	return true, nil
}

// CleanupOldAlerts removes alerts older than the retention period and
// returns how many were pruned. Alerts exactly at the cutoff are kept.
func (m *Manager) CleanupOldAlerts(ctx context.Context) (int, error) {
	days := m.cfg().Retention.AlertRetentionDays
	cutoff := time.Now().AddDate(0, 0, -days)

	removed, err := m.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("alert cleanup failed: %w", err)
	}
	if removed > 0 {
		if m.metrics != nil {
			m.metrics.AlertsPruned.Add(float64(removed))
		}
		m.logger.Info("pruned expired alerts", zap.Int("count", removed))
	}
	return removed, nil
}

// Stats returns total/active/acknowledged counts and a per-severity
// breakdown.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	all, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}

	stats := &Stats{BySeverity: make(map[Severity]int)}
	for _, a := range all {
		stats.Total++
		if a.Acknowledged {
			stats.Acknowledged++
		} else {
			stats.Active++
		}
		stats.BySeverity[a.Severity]++
	}
	return stats, nil
}

// Export serializes alerts in the range as "json" (2-space indented
// array) or "csv" (fixed header plus one row per alert). Zero matching
// alerts yield an empty array or a header-only CSV.
func (m *Manager) Export(ctx context.Context, format string, r audit.TimeRange) (string, error) {
	alerts, err := m.GetAlertsInRange(ctx, r)
	if err != nil {
		return "", err
	}

	switch format {
	case "json":
		data, err := json.MarshalIndent(alerts, "", "  ")
		if err != nil {
			return "", fmt.Errorf("failed to marshal alerts: %w", err)
		}
		return string(data), nil
	case "csv":
		return exportCSV(alerts), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// csvHeader is the fixed export header; consumers parse by position.
const csvHeader = "timestamp,severity,type,title,description,eventType,userId,companyId,ipAddress,userAgent,acknowledged"

func exportCSV(alerts []*Alert) string {
	var b strings.Builder
	b.WriteString(csvHeader)
	b.WriteByte('\n')

	for _, a := range alerts {
		fields := []string{
			a.Timestamp.Format(time.RFC3339),
			string(a.Severity),
			string(a.Type),
			csvQuote(a.Title),
			csvQuote(a.Description),
			a.EventType,
			a.Context.UserID,
			a.Context.CompanyID,
			a.Context.IPAddress,
			a.Context.UserAgent,
			csvQuote(fmt.Sprintf("%t", a.Acknowledged)),
		}
		b.WriteString(strings.Join(fields, ","))
		b.WriteByte('\n')
	}
	return b.String()
}

// csvQuote wraps a field in double quotes, doubling embedded quotes.
func csvQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// auditLog appends an alert lifecycle entry to the audit store. Failures
// are logged; the lifecycle operation itself already succeeded.
func (m *Manager) auditLog(ctx context.Context, action string, a *Alert, actor string) {
	if m.audit == nil {
		return
	}
	ev := &audit.Event{
		EventType: audit.EventTypeAlertLifecycle,
		Action:    action,
		Outcome:   audit.OutcomeSuccess,
		Severity:  audit.SeverityInfo,
		UserID:    actor,
		IPAddress: a.Context.IPAddress,
		Metadata: map[string]any{
			"alert_id":   a.ID,
			"alert_type": a.Type,
		},
	}
	if err := m.audit.Append(ctx, ev); err != nil {
		m.logger.Warn("failed to audit alert lifecycle", zap.String("action", action), zap.Error(err))
	}
}
