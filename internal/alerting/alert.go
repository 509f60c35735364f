// Package alerting owns the security alert lifecycle: creation with
// duplicate suppression, notification dispatch, acknowledgement, export,
// and retention cleanup.
package alerting

import (
	"time"
)

// Type identifies what pattern produced an alert.
type Type string

const (
	TypeBruteForce        Type = "BRUTE_FORCE"
	TypeRateLimitAbuse    Type = "RATE_LIMIT_ABUSE"
	TypeCSPViolationStorm Type = "CSP_VIOLATION_STORM"
	TypeExcessiveAdmin    Type = "EXCESSIVE_ADMIN_ACTIVITY"
	TypeMassDataAccess    Type = "MASS_DATA_ACCESS"
	TypeSuspiciousIP      Type = "SUSPICIOUS_IP"
	TypeGeoAnomaly        Type = "GEO_ANOMALY"
	TypeTemporalAnomaly   Type = "TEMPORAL_ANOMALY"
)

// Severity mirrors audit severity for alerts.
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Context is the actor/IP/geo snapshot captured when the alert fired.
type Context struct {
	UserID    string `json:"user_id,omitempty"`
	CompanyID string `json:"company_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	Country   string `json:"country,omitempty"`
}

// Alert is a derived, actionable notification with an acknowledgement
// lifecycle: created unacknowledged, optionally acknowledged, eventually
// pruned by retention cleanup.
type Alert struct {
	ID             string         `json:"id"`
	Timestamp      time.Time      `json:"timestamp"`
	Severity       Severity       `json:"severity"`
	Type           Type           `json:"type"`
	Title          string         `json:"title"`
	Description    string         `json:"description"`
	EventType      string         `json:"event_type"`
	Context        Context        `json:"context"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
}

// Data describes an alert to be created. The manager assigns id,
// timestamp, and acknowledgement state.
type Data struct {
	Type        Type
	Severity    Severity
	Title       string
	Description string
	EventType   string
	Context     Context
	Metadata    map[string]any
}

// Stats summarizes the alert collection.
type Stats struct {
	Total        int              `json:"total"`
	Active       int              `json:"active"`
	Acknowledged int              `json:"acknowledged"`
	BySeverity   map[Severity]int `json:"by_severity"`
}
