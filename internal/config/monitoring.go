package config

import "fmt"

// Monitoring is the runtime-tunable portion of the configuration. It is
// read by every detection pass and may be replaced at runtime through
// Merge; updates never mutate the value they were merged from.
type Monitoring struct {
	Thresholds Thresholds `yaml:"thresholds" json:"thresholds"`
	Alerting   Alerting   `yaml:"alerting" json:"alerting"`
	Retention  Retention  `yaml:"retention" json:"retention"`
	Anomaly    Anomaly    `yaml:"anomaly" json:"anomaly"`
}

// Thresholds holds rolling-window limits. A window count must strictly
// exceed its limit to trigger an alert.
type Thresholds struct {
	FailedLoginsPerMinute        int `yaml:"failed_logins_per_minute" json:"failedLoginsPerMinute"`
	FailedLoginsPerHour          int `yaml:"failed_logins_per_hour" json:"failedLoginsPerHour"`
	RateLimitViolationsPerMinute int `yaml:"rate_limit_violations_per_minute" json:"rateLimitViolationsPerMinute"`
	CSPViolationsPerMinute       int `yaml:"csp_violations_per_minute" json:"cspViolationsPerMinute"`
	AdminActionsPerHour          int `yaml:"admin_actions_per_hour" json:"adminActionsPerHour"`
	MassDataAccessThreshold      int `yaml:"mass_data_access_threshold" json:"massDataAccessThreshold"`
	SuspiciousIPThreshold        int `yaml:"suspicious_ip_threshold" json:"suspiciousIPThreshold"`
}

// Alerting controls alert dispatch behavior.
type Alerting struct {
	Enabled                  bool     `yaml:"enabled" json:"enabled"`
	Channels                 []string `yaml:"channels" json:"channels"`
	SuppressDuplicateMinutes int      `yaml:"suppress_duplicate_minutes" json:"suppressDuplicateMinutes"`
}

// Retention controls alert pruning.
type Retention struct {
	AlertRetentionDays int `yaml:"alert_retention_days" json:"alertRetentionDays"`
}

// Anomaly holds behavioral detection tuning. These are the documented
// defaults for parameters the detectors would otherwise hard-code.
type Anomaly struct {
	// GeoLookbackHours bounds the search for the previous successful
	// authentication when checking for a country change.
	GeoLookbackHours int `yaml:"geo_lookback_hours" json:"geoLookbackHours"`
	// TemporalWindowMinutes is the short window whose per-minute event
	// rate is compared against the baseline.
	TemporalWindowMinutes int `yaml:"temporal_window_minutes" json:"temporalWindowMinutes"`
	// TemporalBaselineHours is the lookback used to establish the
	// actor's baseline per-minute rate.
	TemporalBaselineHours int `yaml:"temporal_baseline_hours" json:"temporalBaselineHours"`
	// TemporalMultiplier flags an actor whose short-window rate exceeds
	// this multiple of their baseline rate.
	TemporalMultiplier float64 `yaml:"temporal_multiplier" json:"temporalMultiplier"`
	// TemporalMinEvents suppresses the temporal check below this event
	// count to avoid flagging idle actors on their first burst.
	TemporalMinEvents int `yaml:"temporal_min_events" json:"temporalMinEvents"`
}

// DefaultMonitoring returns the default monitoring configuration.
func DefaultMonitoring() Monitoring {
	return Monitoring{
		Thresholds: Thresholds{
			FailedLoginsPerMinute:        5,
			FailedLoginsPerHour:          20,
			RateLimitViolationsPerMinute: 10,
			CSPViolationsPerMinute:       20,
			AdminActionsPerHour:          50,
			MassDataAccessThreshold:      100,
			SuspiciousIPThreshold:        3,
		},
		Alerting: Alerting{
			Enabled:                  true,
			Channels:                 []string{},
			SuppressDuplicateMinutes: 30,
		},
		Retention: Retention{
			AlertRetentionDays: 90,
		},
		Anomaly: Anomaly{
			GeoLookbackHours:      24,
			TemporalWindowMinutes: 5,
			TemporalBaselineHours: 1,
			TemporalMultiplier:    4.0,
			TemporalMinEvents:     10,
		},
	}
}

// MonitoringPatch is a partial update to Monitoring. Nil fields leave the
// current value untouched.
type MonitoringPatch struct {
	Thresholds *ThresholdsPatch `json:"thresholds,omitempty"`
	Alerting   *AlertingPatch   `json:"alerting,omitempty"`
	Retention  *RetentionPatch  `json:"retention,omitempty"`
	Anomaly    *AnomalyPatch    `json:"anomaly,omitempty"`
}

// ThresholdsPatch is a partial update to Thresholds.
type ThresholdsPatch struct {
	FailedLoginsPerMinute        *int `json:"failedLoginsPerMinute,omitempty"`
	FailedLoginsPerHour          *int `json:"failedLoginsPerHour,omitempty"`
	RateLimitViolationsPerMinute *int `json:"rateLimitViolationsPerMinute,omitempty"`
	CSPViolationsPerMinute       *int `json:"cspViolationsPerMinute,omitempty"`
	AdminActionsPerHour          *int `json:"adminActionsPerHour,omitempty"`
	MassDataAccessThreshold      *int `json:"massDataAccessThreshold,omitempty"`
	SuspiciousIPThreshold        *int `json:"suspiciousIPThreshold,omitempty"`
}

// AlertingPatch is a partial update to Alerting.
type AlertingPatch struct {
	Enabled                  *bool     `json:"enabled,omitempty"`
	Channels                 *[]string `json:"channels,omitempty"`
	SuppressDuplicateMinutes *int      `json:"suppressDuplicateMinutes,omitempty"`
}

// RetentionPatch is a partial update to Retention.
type RetentionPatch struct {
	AlertRetentionDays *int `json:"alertRetentionDays,omitempty"`
}

// AnomalyPatch is a partial update to Anomaly.
type AnomalyPatch struct {
	GeoLookbackHours      *int     `json:"geoLookbackHours,omitempty"`
	TemporalWindowMinutes *int     `json:"temporalWindowMinutes,omitempty"`
	TemporalBaselineHours *int     `json:"temporalBaselineHours,omitempty"`
	TemporalMultiplier    *float64 `json:"temporalMultiplier,omitempty"`
	TemporalMinEvents     *int     `json:"temporalMinEvents,omitempty"`
}

// Merge returns a copy of m with the patch applied. Unset patch fields
// preserve the current values, including nested ones.
func (m Monitoring) Merge(p MonitoringPatch) Monitoring {
	out := m
	out.Alerting.Channels = append([]string(nil), m.Alerting.Channels...)

	if p.Thresholds != nil {
		t := p.Thresholds
		setInt(&out.Thresholds.FailedLoginsPerMinute, t.FailedLoginsPerMinute)
		setInt(&out.Thresholds.FailedLoginsPerHour, t.FailedLoginsPerHour)
		setInt(&out.Thresholds.RateLimitViolationsPerMinute, t.RateLimitViolationsPerMinute)
		setInt(&out.Thresholds.CSPViolationsPerMinute, t.CSPViolationsPerMinute)
		setInt(&out.Thresholds.AdminActionsPerHour, t.AdminActionsPerHour)
		setInt(&out.Thresholds.MassDataAccessThreshold, t.MassDataAccessThreshold)
		setInt(&out.Thresholds.SuspiciousIPThreshold, t.SuspiciousIPThreshold)
	}
	if p.Alerting != nil {
		a := p.Alerting
		if a.Enabled != nil {
			out.Alerting.Enabled = *a.Enabled
		}
		if a.Channels != nil {
			out.Alerting.Channels = append([]string(nil), (*a.Channels)...)
		}
		setInt(&out.Alerting.SuppressDuplicateMinutes, a.SuppressDuplicateMinutes)
	}
	if p.Retention != nil {
		setInt(&out.Retention.AlertRetentionDays, p.Retention.AlertRetentionDays)
	}
	if p.Anomaly != nil {
		an := p.Anomaly
		setInt(&out.Anomaly.GeoLookbackHours, an.GeoLookbackHours)
		setInt(&out.Anomaly.TemporalWindowMinutes, an.TemporalWindowMinutes)
		setInt(&out.Anomaly.TemporalBaselineHours, an.TemporalBaselineHours)
		if an.TemporalMultiplier != nil {
			out.Anomaly.TemporalMultiplier = *an.TemporalMultiplier
		}
		setInt(&out.Anomaly.TemporalMinEvents, an.TemporalMinEvents)
	}
	return out
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// Validate rejects malformed monitoring values. A bad config is a system
// misconfiguration and must fail loudly at update time.
func (m Monitoring) Validate() error {
	checks := []struct {
		name  string
		value int
	}{
		{"thresholds.failedLoginsPerMinute", m.Thresholds.FailedLoginsPerMinute},
		{"thresholds.failedLoginsPerHour", m.Thresholds.FailedLoginsPerHour},
		{"thresholds.rateLimitViolationsPerMinute", m.Thresholds.RateLimitViolationsPerMinute},
		{"thresholds.cspViolationsPerMinute", m.Thresholds.CSPViolationsPerMinute},
		{"thresholds.adminActionsPerHour", m.Thresholds.AdminActionsPerHour},
		{"thresholds.massDataAccessThreshold", m.Thresholds.MassDataAccessThreshold},
		{"thresholds.suspiciousIPThreshold", m.Thresholds.SuspiciousIPThreshold},
		{"alerting.suppressDuplicateMinutes", m.Alerting.SuppressDuplicateMinutes},
		{"retention.alertRetentionDays", m.Retention.AlertRetentionDays},
		{"anomaly.geoLookbackHours", m.Anomaly.GeoLookbackHours},
		{"anomaly.temporalWindowMinutes", m.Anomaly.TemporalWindowMinutes},
		{"anomaly.temporalBaselineHours", m.Anomaly.TemporalBaselineHours},
		{"anomaly.temporalMinEvents", m.Anomaly.TemporalMinEvents},
	}
	for _, c := range checks {
		if c.value <= 0 {
			return fmt.Errorf("%s must be positive, got %d", c.name, c.value)
		}
	}
	if m.Anomaly.TemporalMultiplier <= 1 {
		return fmt.Errorf("anomaly.temporalMultiplier must be greater than 1, got %v", m.Anomaly.TemporalMultiplier)
	}
	for _, ch := range m.Alerting.Channels {
		if !knownChannels[ch] {
			return fmt.Errorf("unknown alert channel %q", ch)
		}
	}
	return nil
}

// knownChannels lists the recognized notification channel kinds.
var knownChannels = map[string]bool{
	"email":     true,
	"slack":     true,
	"webhook":   true,
	"discord":   true,
	"pagerduty": true,
}
