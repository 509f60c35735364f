package alerting

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/watchtowerhq/watchtower/internal/audit"
	"github.com/watchtowerhq/watchtower/internal/config"
)

func testManager(t *testing.T) (*Manager, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	cfg := config.DefaultMonitoring()
	cfg.Alerting.Enabled = false // no channel dispatch in unit tests
	m := NewManager(store, NewRegistry(), audit.NewMemoryStore(), func() config.Monitoring { return cfg }, nil, nil)
	return m, store
}

func bruteForceData(ip string) Data {
	return Data{
		Type:        TypeBruteForce,
		Severity:    SeverityHigh,
		Title:       "Possible brute force attack",
		Description: "many failed logins",
		EventType:   audit.EventTypeAuth,
		Context:     Context{IPAddress: ip},
	}
}

// =============================================================================
// Creation and Deduplication Tests
// =============================================================================

func TestCreateAlert_AssignsIDAndTimestamp(t *testing.T) {
	m, _ := testManager(t)

	alert, err := m.CreateAlert(context.Background(), bruteForceData("10.0.0.1"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if alert == nil {
		t.Fatal("first alert was suppressed")
	}
	if alert.ID == "" {
		t.Error("ID not assigned")
	}
	if alert.Timestamp.IsZero() {
		t.Error("Timestamp not assigned")
	}
	if alert.Acknowledged {
		t.Error("new alert must start unacknowledged")
	}
}

// TestCreateAlert_SuppressesDuplicateInWindow verifies a second alert of
// the same type and IP inside the suppression window is merged: nil
// alert, nil error, nothing stored.
func TestCreateAlert_SuppressesDuplicateInWindow(t *testing.T) {
	m, store := testManager(t)
	ctx := context.Background()

	first, err := m.CreateAlert(ctx, bruteForceData("10.0.0.1"))
	if err != nil || first == nil {
		t.Fatalf("first create: alert=%v err=%v", first, err)
	}

	dup, err := m.CreateAlert(ctx, bruteForceData("10.0.0.1"))
	if err != nil {
		t.Fatalf("duplicate create errored: %v", err)
	}
	if dup != nil {
		t.Error("duplicate inside suppression window should be nil")
	}

	all, _ := store.List(ctx)
	if len(all) != 1 {
		t.Errorf("stored alerts = %d, want 1", len(all))
	}
}

// TestCreateAlert_DifferentKeyIsNotDuplicate verifies suppression is
// scoped to type+identifier, not global.
func TestCreateAlert_DifferentKeyIsNotDuplicate(t *testing.T) {
	m, store := testManager(t)
	ctx := context.Background()

	m.CreateAlert(ctx, bruteForceData("10.0.0.1"))

	other, err := m.CreateAlert(ctx, bruteForceData("10.0.0.2"))
	if err != nil || other == nil {
		t.Fatalf("different IP suppressed: alert=%v err=%v", other, err)
	}

	rateLimit, err := m.CreateAlert(ctx, Data{
		Type:     TypeRateLimitAbuse,
		Severity: SeverityMedium,
		Title:    "Excessive rate limit violations",
		Context:  Context{IPAddress: "10.0.0.1"},
	})
	if err != nil || rateLimit == nil {
		t.Fatalf("different type suppressed: alert=%v err=%v", rateLimit, err)
	}

	all, _ := store.List(ctx)
	if len(all) != 3 {
		t.Errorf("stored alerts = %d, want 3", len(all))
	}
}

// TestCreateAlert_ConcurrentDuplicatesYieldOne verifies the reserve step
// makes concurrent duplicate creation race-safe: exactly one caller wins.
func TestCreateAlert_ConcurrentDuplicatesYieldOne(t *testing.T) {
	m, store := testManager(t)
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	created := make(chan *Alert, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			alert, err := m.CreateAlert(ctx, bruteForceData("10.0.0.1"))
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			if alert != nil {
				created <- alert
			}
		}()
	}
	wg.Wait()
	close(created)

	winners := 0
	for range created {
		winners++
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
	all, _ := store.List(ctx)
	if len(all) != 1 {
		t.Errorf("stored alerts = %d, want 1", len(all))
	}
}

// =============================================================================
// Query and Acknowledgement Tests
// =============================================================================

func TestGetActiveAlerts_FiltersAndSortsNewestFirst(t *testing.T) {
	m, store := testManager(t)
	ctx := context.Background()

	now := time.Now()
	store.Insert(ctx, &Alert{ID: "old", Severity: SeverityHigh, Type: TypeBruteForce, Timestamp: now.Add(-time.Hour)})
	store.Insert(ctx, &Alert{ID: "new", Severity: SeverityHigh, Type: TypeBruteForce, Timestamp: now})
	store.Insert(ctx, &Alert{ID: "acked", Severity: SeverityHigh, Type: TypeBruteForce, Timestamp: now, Acknowledged: true})
	store.Insert(ctx, &Alert{ID: "medium", Severity: SeverityMedium, Type: TypeRateLimitAbuse, Timestamp: now})

	active, err := m.GetActiveAlerts(ctx, SeverityHigh)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("active HIGH = %d, want 2", len(active))
	}
	if active[0].ID != "new" || active[1].ID != "old" {
		t.Errorf("order = [%s %s], want [new old]", active[0].ID, active[1].ID)
	}

	all, err := m.GetActiveAlerts(ctx, "")
	if err != nil {
		t.Fatalf("active all: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("active any severity = %d, want 3", len(all))
	}
}

// TestAcknowledge_Lifecycle verifies the full acknowledgement contract:
// unknown ids report false, first ack sets the fields, re-ack is a no-op
// that keeps the original acknowledger.
func TestAcknowledge_Lifecycle(t *testing.T) {
	m, store := testManager(t)
	ctx := context.Background()

	ok, err := m.Acknowledge(ctx, "no-such-id", "admin")
	if err != nil {
		t.Fatalf("ack unknown: %v", err)
	}
	if ok {
		t.Error("unknown id should report false")
	}

	alert, _ := m.CreateAlert(ctx, bruteForceData("10.0.0.1"))

	ok, err = m.Acknowledge(ctx, alert.ID, "alice")
	if err != nil || !ok {
		t.Fatalf("first ack: ok=%v err=%v", ok, err)
	}

	stored, _ := store.Get(ctx, alert.ID)
	if !stored.Acknowledged || stored.AcknowledgedBy != "alice" || stored.AcknowledgedAt == nil {
		t.Errorf("ack fields not set: %+v", stored)
	}

	ok, err = m.Acknowledge(ctx, alert.ID, "bob")
	if err != nil || !ok {
		t.Fatalf("re-ack: ok=%v err=%v", ok, err)
	}
	stored, _ = store.Get(ctx, alert.ID)
	if stored.AcknowledgedBy != "alice" {
		t.Errorf("re-ack replaced acknowledger: %s", stored.AcknowledgedBy)
	}
}

// =============================================================================
// Retention Tests
// =============================================================================

// TestCleanupOldAlerts_BoundaryAtCutoff verifies alerts strictly older
// than retention are pruned while an alert exactly at the cutoff and
// newer alerts survive.
func TestCleanupOldAlerts_BoundaryAtCutoff(t *testing.T) {
	store := NewMemoryStore()
	cfg := config.DefaultMonitoring()
	cfg.Alerting.Enabled = false
	cfg.Retention.AlertRetentionDays = 30
	m := NewManager(store, NewRegistry(), nil, func() config.Monitoring { return cfg }, nil, nil)
	ctx := context.Background()

	cutoff := time.Now().AddDate(0, 0, -30)
	store.Insert(ctx, &Alert{ID: "ancient", Type: TypeBruteForce, Timestamp: cutoff.Add(-time.Hour)})
	store.Insert(ctx, &Alert{ID: "at-cutoff", Type: TypeBruteForce, Timestamp: cutoff.Add(time.Second)})
	store.Insert(ctx, &Alert{ID: "recent", Type: TypeBruteForce, Timestamp: time.Now()})

	removed, err := m.CleanupOldAlerts(ctx)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	if a, _ := store.Get(ctx, "ancient"); a != nil {
		t.Error("ancient alert survived cleanup")
	}
	for _, id := range []string{"at-cutoff", "recent"} {
		if a, _ := store.Get(ctx, id); a == nil {
			t.Errorf("%s alert was pruned", id)
		}
	}
}

// =============================================================================
// Export Tests
// =============================================================================

func TestExport_JSONRoundTrips(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.CreateAlert(ctx, bruteForceData(fmt.Sprintf("10.0.0.%d", i)))
	}

	out, err := m.Export(ctx, "json", audit.LastHours(1))
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	var parsed []Alert
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("exported JSON does not parse: %v", err)
	}
	if len(parsed) != 3 {
		t.Errorf("parsed alerts = %d, want 3", len(parsed))
	}
}

func TestExport_JSONEmptyRangeIsEmptyArray(t *testing.T) {
	m, _ := testManager(t)

	out, err := m.Export(context.Background(), "json", audit.LastHours(1))
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	var parsed []Alert
	if err := json.Unmarshal([]byte(out), &parsed); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(parsed) != 0 {
		t.Errorf("parsed alerts = %d, want 0", len(parsed))
	}
}

// TestExport_CSVHeaderAndRows verifies the fixed header, one row per
// alert, and that a standard CSV parser recovers the same count.
func TestExport_CSVHeaderAndRows(t *testing.T) {
	m, _ := testManager(t)
	ctx := context.Background()

	empty, err := m.Export(ctx, "csv", audit.LastHours(1))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if empty != csvHeader+"\n" {
		t.Errorf("empty export = %q, want header only", empty)
	}

	for i := 0; i < 3; i++ {
		data := bruteForceData(fmt.Sprintf("10.0.0.%d", i))
		data.Description = `contains "quotes", and commas`
		if _, err := m.CreateAlert(ctx, data); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	out, err := m.Export(ctx, "csv", audit.LastHours(1))
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(out, csvHeader+"\n") {
		t.Errorf("missing header: %q", out)
	}

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	if err != nil {
		t.Fatalf("exported CSV does not parse: %v", err)
	}
	if len(records) != 4 { // header + 3 rows
		t.Errorf("records = %d, want 4", len(records))
	}
	for i, rec := range records {
		if len(rec) != 11 {
			t.Errorf("row %d has %d fields, want 11", i, len(rec))
		}
	}
	if records[1][4] != `contains "quotes", and commas` {
		t.Errorf("description not recovered: %q", records[1][4])
	}
}

func TestExport_UnknownFormatErrors(t *testing.T) {
	m, _ := testManager(t)

	_, err := m.Export(context.Background(), "xml", audit.LastHours(1))
	if err == nil {
		t.Fatal("expected error for unknown format")
	}
}

// =============================================================================
// Stats Tests
// =============================================================================

func TestStats_CountsBySeverityAndState(t *testing.T) {
	m, store := testManager(t)
	ctx := context.Background()

	now := time.Now()
	store.Insert(ctx, &Alert{ID: "1", Severity: SeverityHigh, Type: TypeBruteForce, Timestamp: now})
	store.Insert(ctx, &Alert{ID: "2", Severity: SeverityHigh, Type: TypeBruteForce, Timestamp: now, Acknowledged: true})
	store.Insert(ctx, &Alert{ID: "3", Severity: SeverityMedium, Type: TypeRateLimitAbuse, Timestamp: now})

	stats, err := m.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Total != 3 || stats.Active != 2 || stats.Acknowledged != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.BySeverity[SeverityHigh] != 2 || stats.BySeverity[SeverityMedium] != 1 {
		t.Errorf("by severity = %v", stats.BySeverity)
	}
}
