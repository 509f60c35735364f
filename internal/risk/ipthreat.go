package risk

import (
	"context"
	"fmt"

	"github.com/watchtowerhq/watchtower/internal/audit"
)

// ipLookbackHours bounds the event history considered per IP.
const ipLookbackHours = 24

// IPThreatAnalysis is the on-demand risk assessment of one IP address.
type IPThreatAnalysis struct {
	IPAddress       string      `json:"ip_address"`
	ThreatLevel     ThreatLevel `json:"threat_level"`
	RiskFactors     []string    `json:"risk_factors"`
	Recommendations []string    `json:"recommendations"`
}

// AnalyzeIP aggregates the last day of activity from one IP into risk
// factors, a threat level, and recommendations. An IP with no recorded
// activity is LOW with empty factors.
func (s *Scorer) AnalyzeIP(ctx context.Context, ip string) (*IPThreatAnalysis, error) {
	events, err := s.events.List(ctx, audit.Filter{IPAddress: ip}, audit.LastHours(ipLookbackHours))
	if err != nil {
		return nil, err
	}

	out := &IPThreatAnalysis{
		IPAddress:       ip,
		ThreatLevel:     ThreatLow,
		RiskFactors:     []string{},
		Recommendations: []string{},
	}
	if len(events) == 0 {
		return out, nil
	}

	failures := 0
	rateLimited := 0
	critical := 0
	users := make(map[string]bool)
	for _, ev := range events {
		switch ev.Outcome {
		case audit.OutcomeFailure:
			failures++
		case audit.OutcomeRateLimited:
			rateLimited++
		}
		if ev.Severity == audit.SeverityCritical {
			critical++
		}
		if ev.UserID != "" {
			users[ev.UserID] = true
		}
	}

	if failures >= 2 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("multiple failed logins (%d in 24h)", failures))
	}
	if rateLimited >= 1 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("rate limit violations (%d in 24h)", rateLimited))
	}
	if len(users) >= 2 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("activity affects %d distinct users", len(users)))
	}
	if critical >= 1 {
		out.RiskFactors = append(out.RiskFactors, fmt.Sprintf("critical severity events (%d in 24h)", critical))
	}

	highSignals := failures >= 10 || len(users) >= 3 || critical >= 1
	mediumSignals := failures >= 3 || rateLimited >= 1

	switch {
	case highSignals && mediumSignals:
		out.ThreatLevel = ThreatCritical
	case highSignals:
		out.ThreatLevel = ThreatHigh
	case mediumSignals || len(out.RiskFactors) >= 2:
		out.ThreatLevel = ThreatModerate
	}

	switch out.ThreatLevel {
	case ThreatCritical:
		out.Recommendations = append(out.Recommendations,
			"Block this IP at the edge immediately",
			"Force password resets for affected accounts",
			"Review all sessions originating from this IP")
	case ThreatHigh:
		out.Recommendations = append(out.Recommendations,
			"Consider blocking this IP",
			"Enable step-up authentication for affected accounts")
	case ThreatModerate:
		out.Recommendations = append(out.Recommendations,
			"Monitor this IP closely",
			"Tighten rate limits for this client")
	}

	return out, nil
}
