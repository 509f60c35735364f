package detect

import (
	"context"
	"fmt"

	"github.com/watchtowerhq/watchtower/internal/alerting"
	"github.com/watchtowerhq/watchtower/internal/audit"
	"github.com/watchtowerhq/watchtower/internal/config"
)

// AnomalyDetector flags behavioral deviations simple window counts miss:
// logins from a new country and per-actor event rates far above the
// actor's own recent baseline. Tuning lives in config.Anomaly.
type AnomalyDetector struct {
	store audit.Store
}

// NewAnomalyDetector creates an anomaly detector over the store.
func NewAnomalyDetector(store audit.Store) *AnomalyDetector {
	return &AnomalyDetector{store: store}
}

// Check runs both anomaly checks against ev. A store query failure aborts
// this pass and is returned for the caller to log.
func (d *AnomalyDetector) Check(ctx context.Context, cfg config.Monitoring, ev *audit.Event) ([]Trigger, error) {
	var triggers []Trigger

	geo, err := d.checkGeographic(ctx, cfg.Anomaly, ev)
	if err != nil {
		return nil, err
	}
	if geo != nil {
		triggers = append(triggers, *geo)
	}

	temporal, err := d.checkTemporal(ctx, cfg.Anomaly, ev)
	if err != nil {
		return nil, err
	}
	if temporal != nil {
		triggers = append(triggers, *temporal)
	}
	return triggers, nil
}

// checkGeographic compares the event's country against the most recent
// prior successful authentication for the same user inside the lookback
// window. A different country suggests impossible travel.
func (d *AnomalyDetector) checkGeographic(ctx context.Context, cfg config.Anomaly, ev *audit.Event) (*Trigger, error) {
	if ev.UserID == "" || ev.Country == "" {
		return nil, nil
	}

	history, err := d.store.List(ctx, audit.Filter{
		EventType: audit.EventTypeAuth,
		Outcome:   audit.OutcomeSuccess,
		UserID:    ev.UserID,
	}, audit.LastHours(cfg.GeoLookbackHours))
	if err != nil {
		return nil, fmt.Errorf("geo lookback query failed: %w", err)
	}

	// The incoming event is already persisted; scan newest-first for the
	// latest prior login that carries a country.
	for i := len(history) - 1; i >= 0; i-- {
		prior := history[i]
		if prior.ID == ev.ID || prior.Country == "" {
			continue
		}
		if prior.Country == ev.Country {
			return nil, nil
		}
		return &Trigger{
			Kind:        KindAnomaly,
			AlertType:   alerting.TypeGeoAnomaly,
			Severity:    alerting.SeverityHigh,
			Title:       "Geographic anomaly",
			Description: fmt.Sprintf("user %s active from %s after last successful login from %s", ev.UserID, ev.Country, prior.Country),
		}, nil
	}
	return nil, nil
}

// checkTemporal compares the actor's short-window event rate against
// their baseline rate over the longer lookback. Both windows include the
// incoming event, which slightly dampens the ratio.
func (d *AnomalyDetector) checkTemporal(ctx context.Context, cfg config.Anomaly, ev *audit.Event) (*Trigger, error) {
	actor := audit.Filter{UserID: ev.UserID}
	if ev.UserID == "" {
		if ev.IPAddress == "" {
			return nil, nil
		}
		actor = audit.Filter{IPAddress: ev.IPAddress}
	}

	recent, err := d.store.Count(ctx, actor, audit.LastMinutes(cfg.TemporalWindowMinutes))
	if err != nil {
		return nil, fmt.Errorf("temporal window query failed: %w", err)
	}
	if recent < cfg.TemporalMinEvents {
		return nil, nil
	}

	baselineTotal, err := d.store.Count(ctx, actor, audit.LastHours(cfg.TemporalBaselineHours))
	if err != nil {
		return nil, fmt.Errorf("temporal baseline query failed: %w", err)
	}

	recentRate := float64(recent) / float64(cfg.TemporalWindowMinutes)
	baselineRate := float64(baselineTotal) / float64(cfg.TemporalBaselineHours*60)
	if baselineRate <= 0 {
		return nil, nil
	}
	if recentRate <= cfg.TemporalMultiplier*baselineRate {
		return nil, nil
	}

	subject := ev.UserID
	if subject == "" {
		subject = ev.IPAddress
	}
	return &Trigger{
		Kind:         KindAnomaly,
		AlertType:    alerting.TypeTemporalAnomaly,
		Severity:     alerting.SeverityMedium,
		Title:        "Temporal anomaly",
		Description:  fmt.Sprintf("%s generated %.1f events/min over the last %dm against a baseline of %.2f events/min", subject, recentRate, cfg.TemporalWindowMinutes, baselineRate),
		MatchedCount: recent,
	}, nil
}
