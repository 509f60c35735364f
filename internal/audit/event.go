// Package audit provides the append-only security event store consumed by
// the detection and scoring layers.
package audit

import (
	"context"
	"time"
)

// Severity classifies how serious an event is.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Outcome is the result of the audited action.
type Outcome string

const (
	OutcomeSuccess     Outcome = "SUCCESS"
	OutcomeFailure     Outcome = "FAILURE"
	OutcomeRateLimited Outcome = "RATE_LIMITED"
	OutcomeBlocked     Outcome = "BLOCKED"
)

// Common event types produced by the surrounding application.
const (
	EventTypeAuth           = "AUTH"
	EventTypeAdminAction    = "ADMIN_ACTION"
	EventTypeDataAccess     = "DATA_ACCESS"
	EventTypeRateLimit      = "RATE_LIMIT"
	EventTypeCSPViolation   = "CSP_VIOLATION"
	EventTypeConfigChange   = "CONFIG_CHANGE"
	EventTypeAlertLifecycle = "ALERT_LIFECYCLE"
)

// Event is an immutable record of a security-relevant occurrence. Events
// are created once and never mutated; detectors only read them.
type Event struct {
	ID             string         `json:"id"`
	EventType      string         `json:"event_type"`
	Action         string         `json:"action"`
	Outcome        Outcome        `json:"outcome"`
	Severity       Severity       `json:"severity"`
	UserID         string         `json:"user_id,omitempty"`
	CompanyID      string         `json:"company_id,omitempty"`
	PlatformUserID string         `json:"platform_user_id,omitempty"`
	IPAddress      string         `json:"ip_address,omitempty"`
	UserAgent      string         `json:"user_agent,omitempty"`
	Country        string         `json:"country,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	ErrorMessage   string         `json:"error_message,omitempty"`
	SessionID      string         `json:"session_id,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// TimeRange is an inclusive [Start, End] interval.
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the range, boundaries included.
func (r TimeRange) Contains(t time.Time) bool {
	return !t.Before(r.Start) && !t.After(r.End)
}

// LastMinutes returns a range covering the last n minutes up to now.
func LastMinutes(n int) TimeRange {
	now := time.Now()
	return TimeRange{Start: now.Add(-time.Duration(n) * time.Minute), End: now}
}

// LastHours returns a range covering the last n hours up to now.
func LastHours(n int) TimeRange {
	now := time.Now()
	return TimeRange{Start: now.Add(-time.Duration(n) * time.Hour), End: now}
}

// Filter selects events by exact field match. Zero-valued fields match
// any event.
type Filter struct {
	EventType string
	Action    string
	Outcome   Outcome
	Severity  Severity
	UserID    string
	IPAddress string
}

// Matches reports whether ev satisfies every set field of the filter.
func (f Filter) Matches(ev *Event) bool {
	if f.EventType != "" && ev.EventType != f.EventType {
		return false
	}
	if f.Action != "" && ev.Action != f.Action {
		return false
	}
	if f.Outcome != "" && ev.Outcome != f.Outcome {
		return false
	}
	if f.Severity != "" && ev.Severity != f.Severity {
		return false
	}
	if f.UserID != "" && ev.UserID != f.UserID {
		return false
	}
	if f.IPAddress != "" && ev.IPAddress != f.IPAddress {
		return false
	}
	return true
}

// Store is the audit event store boundary. Append is the only write;
// Count and List are windowed reads used by the detectors and scorer.
type Store interface {
	Append(ctx context.Context, ev *Event) error
	Count(ctx context.Context, f Filter, r TimeRange) (int, error)
	List(ctx context.Context, f Filter, r TimeRange) ([]*Event, error)
}
