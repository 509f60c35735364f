package detect

import (
	"context"
	"fmt"

	"github.com/watchtowerhq/watchtower/internal/alerting"
	"github.com/watchtowerhq/watchtower/internal/audit"
	"github.com/watchtowerhq/watchtower/internal/config"
)

// groupBy selects the identifier a signature's window count is scoped to.
type groupBy int

const (
	groupByIP groupBy = iota // prefer IP, fall back to user
	groupByUser              // prefer user, fall back to IP
)

// signature is one rolling-window pattern: which events it matches, how
// wide the window is, and where its limit lives in the config.
type signature struct {
	name          string
	matches       func(ev *audit.Event) bool
	filter        func(ev *audit.Event) audit.Filter
	windowMinutes int
	limit         func(t config.Thresholds) int
	group         groupBy
	alertType     alerting.Type
	severity      alerting.Severity
	title         string
}

var signatures = []signature{
	{
		name: "brute_force_minute",
		matches: func(ev *audit.Event) bool {
			return ev.EventType == audit.EventTypeAuth && ev.Outcome == audit.OutcomeFailure
		},
		filter: func(ev *audit.Event) audit.Filter {
			return audit.Filter{EventType: audit.EventTypeAuth, Outcome: audit.OutcomeFailure}
		},
		windowMinutes: 1,
		limit:         func(t config.Thresholds) int { return t.FailedLoginsPerMinute },
		group:         groupByIP,
		alertType:     alerting.TypeBruteForce,
		severity:      alerting.SeverityHigh,
		title:         "Possible brute force attack",
	},
	{
		name: "brute_force_hour",
		matches: func(ev *audit.Event) bool {
			return ev.EventType == audit.EventTypeAuth && ev.Outcome == audit.OutcomeFailure
		},
		filter: func(ev *audit.Event) audit.Filter {
			return audit.Filter{EventType: audit.EventTypeAuth, Outcome: audit.OutcomeFailure}
		},
		windowMinutes: 60,
		limit:         func(t config.Thresholds) int { return t.FailedLoginsPerHour },
		group:         groupByIP,
		alertType:     alerting.TypeBruteForce,
		severity:      alerting.SeverityCritical,
		title:         "Sustained brute force attack",
	},
	{
		name: "rate_limit_storm",
		matches: func(ev *audit.Event) bool {
			return ev.Outcome == audit.OutcomeRateLimited || ev.EventType == audit.EventTypeRateLimit
		},
		filter: func(ev *audit.Event) audit.Filter {
			return audit.Filter{Outcome: audit.OutcomeRateLimited}
		},
		windowMinutes: 1,
		limit:         func(t config.Thresholds) int { return t.RateLimitViolationsPerMinute },
		group:         groupByIP,
		alertType:     alerting.TypeRateLimitAbuse,
		severity:      alerting.SeverityMedium,
		title:         "Excessive rate limit violations",
	},
	{
		name: "csp_violation_storm",
		matches: func(ev *audit.Event) bool {
			return ev.EventType == audit.EventTypeCSPViolation
		},
		filter: func(ev *audit.Event) audit.Filter {
			return audit.Filter{EventType: audit.EventTypeCSPViolation}
		},
		windowMinutes: 1,
		limit:         func(t config.Thresholds) int { return t.CSPViolationsPerMinute },
		group:         groupByIP,
		alertType:     alerting.TypeCSPViolationStorm,
		severity:      alerting.SeverityMedium,
		title:         "CSP violation storm",
	},
	{
		name: "excessive_admin_activity",
		matches: func(ev *audit.Event) bool {
			return ev.EventType == audit.EventTypeAdminAction
		},
		filter: func(ev *audit.Event) audit.Filter {
			return audit.Filter{EventType: audit.EventTypeAdminAction}
		},
		windowMinutes: 60,
		limit:         func(t config.Thresholds) int { return t.AdminActionsPerHour },
		group:         groupByUser,
		alertType:     alerting.TypeExcessiveAdmin,
		severity:      alerting.SeverityMedium,
		title:         "Unusually high admin activity",
	},
	{
		name: "mass_data_access",
		matches: func(ev *audit.Event) bool {
			return ev.EventType == audit.EventTypeDataAccess
		},
		filter: func(ev *audit.Event) audit.Filter {
			return audit.Filter{EventType: audit.EventTypeDataAccess}
		},
		windowMinutes: 60,
		limit:         func(t config.Thresholds) int { return t.MassDataAccessThreshold },
		group:         groupByUser,
		alertType:     alerting.TypeMassDataAccess,
		severity:      alerting.SeverityHigh,
		title:         "Mass data access",
	},
}

// ThresholdDetector counts recent events per signature and triggers when
// a window count strictly exceeds its configured limit.
type ThresholdDetector struct {
	store audit.Store
}

// NewThresholdDetector creates a threshold detector over the store.
func NewThresholdDetector(store audit.Store) *ThresholdDetector {
	return &ThresholdDetector{store: store}
}

// Check evaluates every signature matching ev. The returned triggers may
// be empty. A store query failure aborts this pass and is returned for
// the caller to log; the event itself is already recorded.
func (d *ThresholdDetector) Check(ctx context.Context, cfg config.Monitoring, ev *audit.Event) ([]Trigger, error) {
	var triggers []Trigger

	for _, sig := range signatures {
		if !sig.matches(ev) {
			continue
		}

		f := sig.filter(ev)
		if !applyGrouping(&f, sig.group, ev) {
			// No identifying key at all: nothing meaningful to count.
			continue
		}

		count, err := d.store.Count(ctx, f, audit.LastMinutes(sig.windowMinutes))
		if err != nil {
			return nil, fmt.Errorf("%s window query failed: %w", sig.name, err)
		}

		limit := sig.limit(cfg.Thresholds)
		if count > limit {
			triggers = append(triggers, Trigger{
				Kind:         KindThreshold,
				AlertType:    sig.alertType,
				Severity:     sig.severity,
				Title:        sig.title,
				Description:  describeBreach(sig, f, count, limit),
				MatchedCount: count,
				Threshold:    limit,
			})
		}
	}

	spray, err := d.checkSuspiciousIP(ctx, cfg.Thresholds, ev)
	if err != nil {
		return nil, err
	}
	if spray != nil {
		triggers = append(triggers, *spray)
	}
	return triggers, nil
}

// checkSuspiciousIP flags credential stuffing: one IP failing logins
// against more distinct accounts than suspiciousIPThreshold within the
// last hour. Distinct-user counting needs the full event list, so it
// sits outside the signature table.
func (d *ThresholdDetector) checkSuspiciousIP(ctx context.Context, t config.Thresholds, ev *audit.Event) (*Trigger, error) {
	if ev.EventType != audit.EventTypeAuth || ev.Outcome != audit.OutcomeFailure || ev.IPAddress == "" {
		return nil, nil
	}

	failures, err := d.store.List(ctx, audit.Filter{
		EventType: audit.EventTypeAuth,
		Outcome:   audit.OutcomeFailure,
		IPAddress: ev.IPAddress,
	}, audit.LastMinutes(60))
	if err != nil {
		return nil, fmt.Errorf("suspicious_ip window query failed: %w", err)
	}

	users := make(map[string]bool)
	for _, f := range failures {
		if f.UserID != "" {
			users[f.UserID] = true
		}
	}
	if len(users) <= t.SuspiciousIPThreshold {
		return nil, nil
	}
	return &Trigger{
		Kind:         KindThreshold,
		AlertType:    alerting.TypeSuspiciousIP,
		Severity:     alerting.SeverityHigh,
		Title:        "Suspicious IP activity",
		Description:  fmt.Sprintf("%s failed logins against %d distinct accounts in the last hour (limit %d)", ev.IPAddress, len(users), t.SuspiciousIPThreshold),
		MatchedCount: len(users),
		Threshold:    t.SuspiciousIPThreshold,
	}, nil
}

// applyGrouping scopes the filter to the signature's preferred key,
// falling back to the other identifier. Returns false when the event
// carries neither.
func applyGrouping(f *audit.Filter, group groupBy, ev *audit.Event) bool {
	primary, fallback := ev.IPAddress, ev.UserID
	if group == groupByUser {
		primary, fallback = ev.UserID, ev.IPAddress
	}

	switch {
	case primary != "":
		if group == groupByUser {
			f.UserID = primary
		} else {
			f.IPAddress = primary
		}
	case fallback != "":
		if group == groupByUser {
			f.IPAddress = fallback
		} else {
			f.UserID = fallback
		}
	default:
		return false
	}
	return true
}

func describeBreach(sig signature, f audit.Filter, count, limit int) string {
	subject := f.IPAddress
	if subject == "" {
		subject = f.UserID
	}
	window := "minute"
	if sig.windowMinutes >= 60 {
		window = "hour"
	}
	return fmt.Sprintf("%d matching events from %s in the last %s (limit %d)", count, subject, window, limit)
}
