package detect

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/watchtowerhq/watchtower/internal/alerting"
	"github.com/watchtowerhq/watchtower/internal/audit"
	"github.com/watchtowerhq/watchtower/internal/config"
)

func failedLogin(ip, user string, age time.Duration) *audit.Event {
	return &audit.Event{
		EventType: audit.EventTypeAuth,
		Action:    "LOGIN",
		Outcome:   audit.OutcomeFailure,
		Severity:  audit.SeverityMedium,
		IPAddress: ip,
		UserID:    user,
		Timestamp: time.Now().Add(-age),
	}
}

func seed(t *testing.T, store *audit.MemoryStore, events ...*audit.Event) {
	t.Helper()
	for _, ev := range events {
		if err := store.Append(context.Background(), ev); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func triggerTypes(triggers []Trigger) []alerting.Type {
	out := make([]alerting.Type, 0, len(triggers))
	for _, tr := range triggers {
		out = append(out, tr.AlertType)
	}
	return out
}

func hasType(triggers []Trigger, want alerting.Type) bool {
	for _, tr := range triggers {
		if tr.AlertType == want {
			return true
		}
	}
	return false
}

// TestCheck_StrictlyGreaterThanThreshold verifies the comparison is
// count > threshold: a count equal to the threshold must not trigger.
func TestCheck_StrictlyGreaterThanThreshold(t *testing.T) {
	store := audit.NewMemoryStore()
	cfg := config.DefaultMonitoring()
	cfg.Thresholds.FailedLoginsPerMinute = 5
	d := NewThresholdDetector(store)

	// Exactly 5 failures inside the minute: at the threshold, not over.
	for i := 0; i < 5; i++ {
		seed(t, store, failedLogin("10.0.0.1", "", time.Duration(i)*time.Second))
	}
	latest := failedLogin("10.0.0.1", "", 0)

	triggers, err := d.Check(context.Background(), cfg, latest)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if hasType(triggers, alerting.TypeBruteForce) {
		t.Errorf("count == threshold should not trigger, got %v", triggerTypes(triggers))
	}

	// The sixth failure pushes the window count to 6 > 5.
	seed(t, store, latest)
	triggers, err = d.Check(context.Background(), cfg, latest)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !hasType(triggers, alerting.TypeBruteForce) {
		t.Errorf("count > threshold should trigger, got %v", triggerTypes(triggers))
	}

	for _, tr := range triggers {
		if tr.AlertType == alerting.TypeBruteForce && tr.Severity != alerting.SeverityHigh {
			t.Errorf("minute-window brute force severity = %s, want HIGH", tr.Severity)
		}
	}
}

// TestCheck_HourWindowEscalatesToCritical verifies the sustained
// brute-force signature fires at CRITICAL once the hourly count is over.
func TestCheck_HourWindowEscalatesToCritical(t *testing.T) {
	store := audit.NewMemoryStore()
	cfg := config.DefaultMonitoring()
	cfg.Thresholds.FailedLoginsPerMinute = 1000 // keep the minute signature quiet
	cfg.Thresholds.FailedLoginsPerHour = 20
	d := NewThresholdDetector(store)

	for i := 0; i < 21; i++ {
		seed(t, store, failedLogin("10.0.0.9", "", time.Duration(i)*time.Minute))
	}
	latest := failedLogin("10.0.0.9", "", 0)
	seed(t, store, latest)

	triggers, err := d.Check(context.Background(), cfg, latest)
	if err != nil {
		t.Fatalf("check: %v", err)
	}

	found := false
	for _, tr := range triggers {
		if tr.AlertType == alerting.TypeBruteForce && tr.Severity == alerting.SeverityCritical {
			found = true
		}
	}
	if !found {
		t.Errorf("expected CRITICAL brute force trigger, got %v", triggers)
	}
}

// TestCheck_FallsBackToUserIDWhenIPMissing verifies the grouping fallback:
// IP-grouped signatures count by user when the event has no IP.
func TestCheck_FallsBackToUserIDWhenIPMissing(t *testing.T) {
	store := audit.NewMemoryStore()
	cfg := config.DefaultMonitoring()
	cfg.Thresholds.FailedLoginsPerMinute = 2
	d := NewThresholdDetector(store)

	for i := 0; i < 3; i++ {
		seed(t, store, failedLogin("", "user-7", time.Duration(i)*time.Second))
	}
	latest := failedLogin("", "user-7", 0)

	triggers, err := d.Check(context.Background(), cfg, latest)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !hasType(triggers, alerting.TypeBruteForce) {
		t.Errorf("expected brute force via user fallback, got %v", triggerTypes(triggers))
	}
}

// TestCheck_SkipsWhenNoIdentifyingKey verifies events with neither IP nor
// user never trigger grouped signatures.
func TestCheck_SkipsWhenNoIdentifyingKey(t *testing.T) {
	store := audit.NewMemoryStore()
	cfg := config.DefaultMonitoring()
	cfg.Thresholds.FailedLoginsPerMinute = 1
	d := NewThresholdDetector(store)

	for i := 0; i < 5; i++ {
		seed(t, store, failedLogin("", "", time.Duration(i)*time.Second))
	}

	triggers, err := d.Check(context.Background(), cfg, failedLogin("", "", 0))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if len(triggers) != 0 {
		t.Errorf("expected no triggers without identifying key, got %v", triggerTypes(triggers))
	}
}

// TestCheck_MassDataAccessGroupsByUser verifies the data-access signature
// counts per user, not per IP.
func TestCheck_MassDataAccessGroupsByUser(t *testing.T) {
	store := audit.NewMemoryStore()
	cfg := config.DefaultMonitoring()
	cfg.Thresholds.MassDataAccessThreshold = 10
	d := NewThresholdDetector(store)

	ctx := context.Background()
	for i := 0; i < 11; i++ {
		// Different IPs each time; only the user is constant.
		seed(t, store, &audit.Event{
			EventType: audit.EventTypeDataAccess,
			Action:    "EXPORT",
			Outcome:   audit.OutcomeSuccess,
			UserID:    "user-3",
			IPAddress: fmt.Sprintf("10.0.0.%d", i),
			Timestamp: time.Now().Add(-time.Duration(i) * time.Minute),
		})
	}
	latest := &audit.Event{
		EventType: audit.EventTypeDataAccess,
		Action:    "EXPORT",
		Outcome:   audit.OutcomeSuccess,
		UserID:    "user-3",
		IPAddress: "10.0.0.99",
		Timestamp: time.Now(),
	}
	seed(t, store, latest)

	triggers, err := d.Check(ctx, cfg, latest)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !hasType(triggers, alerting.TypeMassDataAccess) {
		t.Errorf("expected mass data access trigger, got %v", triggerTypes(triggers))
	}
}

// TestCheck_SuspiciousIPCountsDistinctAccounts verifies the credential
// stuffing check: one IP failing logins against more distinct users than
// the limit triggers, repeated failures against one account do not.
func TestCheck_SuspiciousIPCountsDistinctAccounts(t *testing.T) {
	store := audit.NewMemoryStore()
	cfg := config.DefaultMonitoring()
	cfg.Thresholds.FailedLoginsPerMinute = 1000
	cfg.Thresholds.FailedLoginsPerHour = 1000
	cfg.Thresholds.SuspiciousIPThreshold = 3
	d := NewThresholdDetector(store)

	// Three distinct accounts: at the limit, quiet.
	for i := 0; i < 3; i++ {
		seed(t, store, failedLogin("203.0.113.5", fmt.Sprintf("user-%d", i), time.Duration(i)*time.Minute))
	}
	latest := failedLogin("203.0.113.5", "user-2", 0)
	seed(t, store, latest)

	triggers, err := d.Check(context.Background(), cfg, latest)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if hasType(triggers, alerting.TypeSuspiciousIP) {
		t.Errorf("distinct users == limit should not trigger, got %v", triggerTypes(triggers))
	}

	// A fourth account pushes the distinct count over.
	latest = failedLogin("203.0.113.5", "user-3", 0)
	seed(t, store, latest)
	triggers, err = d.Check(context.Background(), cfg, latest)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !hasType(triggers, alerting.TypeSuspiciousIP) {
		t.Errorf("expected suspicious IP trigger, got %v", triggerTypes(triggers))
	}
}
