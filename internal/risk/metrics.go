// Package risk computes derived security metrics: the system-wide
// security score, per-user risk scores, and per-IP threat analysis. All
// outputs are read-time projections over the event and alert stores.
package risk

import (
	"context"
	"sort"
	"time"

	"github.com/watchtowerhq/watchtower/internal/alerting"
	"github.com/watchtowerhq/watchtower/internal/audit"
)

// ThreatLevel is a coarse ordinal risk classification.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "LOW"
	ThreatModerate ThreatLevel = "MODERATE"
	ThreatHigh     ThreatLevel = "HIGH"
	ThreatCritical ThreatLevel = "CRITICAL"
)

// Scoring constants. The score starts at 100 and loses a fixed penalty
// per critical and high-severity event, floored at zero.
const (
	criticalPenalty = 10
	highPenalty     = 5

	// Threat level bands over the security score.
	bandLow      = 80
	bandModerate = 60
	bandHigh     = 40
)

// Per-event user risk weights, capped at maxUserRisk.
const (
	weightFailure     = 8
	weightRateLimited = 10
	weightCritical    = 15
	weightHigh        = 10
	weightMedium      = 5
	maxUserRisk       = 100
)

// UserRisk is one user's bounded risk aggregate.
type UserRisk struct {
	UserID string `json:"user_id"`
	Score  int    `json:"score"`
	Events int    `json:"events"`
}

// Threat is an alert type ranked by frequency.
type Threat struct {
	Type  alerting.Type `json:"type"`
	Count int           `json:"count"`
}

// TimeBucket is an hourly event count.
type TimeBucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
}

// Metrics is the aggregate security picture for a time range. Every
// field is populated even for an empty range.
type Metrics struct {
	TimeRange        audit.TimeRange        `json:"time_range"`
	TotalEvents      int                    `json:"total_events"`
	CriticalEvents   int                    `json:"critical_events"`
	ActiveAlerts     int                    `json:"active_alerts"`
	ResolvedAlerts   int                    `json:"resolved_alerts"`
	SecurityScore    int                    `json:"security_score"`
	ThreatLevel      ThreatLevel            `json:"threat_level"`
	EventsByType     map[string]int         `json:"events_by_type"`
	AlertsByType     map[alerting.Type]int  `json:"alerts_by_type"`
	TopThreats       []Threat               `json:"top_threats"`
	GeoDistribution  map[string]int         `json:"geo_distribution"`
	TimeDistribution []TimeBucket           `json:"time_distribution"`
	UserRiskScores   []UserRisk             `json:"user_risk_scores"`
}

// Scorer computes metrics over the event store and alert collection.
type Scorer struct {
	events audit.Store
}

// NewScorer creates a scorer over the event store.
func NewScorer(events audit.Store) *Scorer {
	return &Scorer{events: events}
}

// Compute builds the full metrics projection for the range. alerts are
// the alerts whose timestamps fall inside the same range.
func (s *Scorer) Compute(ctx context.Context, r audit.TimeRange, alerts []*alerting.Alert) (*Metrics, error) {
	events, err := s.events.List(ctx, audit.Filter{}, r)
	if err != nil {
		return nil, err
	}

	m := &Metrics{
		TimeRange:        r,
		EventsByType:     make(map[string]int),
		AlertsByType:     make(map[alerting.Type]int),
		GeoDistribution:  make(map[string]int),
		TopThreats:       []Threat{},
		TimeDistribution: []TimeBucket{},
		UserRiskScores:   []UserRisk{},
		SecurityScore:    100,
	}

	score := 100
	userScores := make(map[string]*UserRisk)
	hourly := make(map[time.Time]int)

	for _, ev := range events {
		m.TotalEvents++
		m.EventsByType[ev.EventType]++
		if ev.Country != "" {
			m.GeoDistribution[ev.Country]++
		}
		hourly[ev.Timestamp.Truncate(time.Hour)]++

		switch ev.Severity {
		case audit.SeverityCritical:
			m.CriticalEvents++
			score -= criticalPenalty
		case audit.SeverityHigh:
			score -= highPenalty
		}

		if ev.UserID != "" {
			if delta := userWeight(ev); delta > 0 {
				ur, ok := userScores[ev.UserID]
				if !ok {
					ur = &UserRisk{UserID: ev.UserID}
					userScores[ev.UserID] = ur
				}
				ur.Events++
				ur.Score += delta
				if ur.Score > maxUserRisk {
					ur.Score = maxUserRisk
				}
			}
		}
	}

	if score < 0 {
		score = 0
	}
	m.SecurityScore = score
	m.ThreatLevel = LevelForScore(score)

	for _, a := range alerts {
		m.AlertsByType[a.Type]++
		if a.Acknowledged {
			m.ResolvedAlerts++
		} else {
			m.ActiveAlerts++
		}
	}

	for t, count := range m.AlertsByType {
		m.TopThreats = append(m.TopThreats, Threat{Type: t, Count: count})
	}
	sort.Slice(m.TopThreats, func(i, j int) bool {
		if m.TopThreats[i].Count != m.TopThreats[j].Count {
			return m.TopThreats[i].Count > m.TopThreats[j].Count
		}
		return m.TopThreats[i].Type < m.TopThreats[j].Type
	})

	for start, count := range hourly {
		m.TimeDistribution = append(m.TimeDistribution, TimeBucket{Start: start, Count: count})
	}
	sort.Slice(m.TimeDistribution, func(i, j int) bool {
		return m.TimeDistribution[i].Start.Before(m.TimeDistribution[j].Start)
	})

	for _, ur := range userScores {
		m.UserRiskScores = append(m.UserRiskScores, *ur)
	}
	sort.Slice(m.UserRiskScores, func(i, j int) bool {
		if m.UserRiskScores[i].Score != m.UserRiskScores[j].Score {
			return m.UserRiskScores[i].Score > m.UserRiskScores[j].Score
		}
		return m.UserRiskScores[i].UserID < m.UserRiskScores[j].UserID
	})

	return m, nil
}

// userWeight is the per-event contribution to a user's risk score.
// Failures and rate-limit hits weigh more than anything a success does.
func userWeight(ev *audit.Event) int {
	w := 0
	switch ev.Outcome {
	case audit.OutcomeFailure:
		w += weightFailure
	case audit.OutcomeRateLimited:
		w += weightRateLimited
	}
	switch ev.Severity {
	case audit.SeverityCritical:
		w += weightCritical
	case audit.SeverityHigh:
		w += weightHigh
	case audit.SeverityMedium:
		w += weightMedium
	}
	return w
}

// LevelForScore maps a security score to its threat band.
func LevelForScore(score int) ThreatLevel {
	switch {
	case score >= bandLow:
		return ThreatLow
	case score >= bandModerate:
		return ThreatModerate
	case score >= bandHigh:
		return ThreatHigh
	default:
		return ThreatCritical
	}
}
