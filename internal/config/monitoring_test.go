package config

import (
	"encoding/json"
	"testing"
)

// =============================================================================
// Merge Tests
// =============================================================================

// TestMerge_DeepMergePreservesUnspecifiedFields verifies that patching one
// threshold leaves every other threshold, and every other section, at its
// prior value.
func TestMerge_DeepMergePreservesUnspecifiedFields(t *testing.T) {
	base := DefaultMonitoring()

	three := 3
	merged := base.Merge(MonitoringPatch{
		Thresholds: &ThresholdsPatch{FailedLoginsPerMinute: &three},
	})

	if merged.Thresholds.FailedLoginsPerMinute != 3 {
		t.Errorf("FailedLoginsPerMinute = %d, want 3", merged.Thresholds.FailedLoginsPerMinute)
	}
	if merged.Thresholds.FailedLoginsPerHour != base.Thresholds.FailedLoginsPerHour {
		t.Errorf("FailedLoginsPerHour changed: %d", merged.Thresholds.FailedLoginsPerHour)
	}
	if merged.Thresholds.MassDataAccessThreshold != base.Thresholds.MassDataAccessThreshold {
		t.Errorf("MassDataAccessThreshold changed: %d", merged.Thresholds.MassDataAccessThreshold)
	}
	if merged.Alerting.SuppressDuplicateMinutes != base.Alerting.SuppressDuplicateMinutes {
		t.Errorf("SuppressDuplicateMinutes changed: %d", merged.Alerting.SuppressDuplicateMinutes)
	}
	if merged.Retention.AlertRetentionDays != base.Retention.AlertRetentionDays {
		t.Errorf("AlertRetentionDays changed: %d", merged.Retention.AlertRetentionDays)
	}
}

// TestMerge_DoesNotMutateReceiver verifies Merge is pure: the original
// value, including its channel slice, is untouched.
func TestMerge_DoesNotMutateReceiver(t *testing.T) {
	base := DefaultMonitoring()
	base.Alerting.Channels = []string{"slack"}

	newChannels := []string{"email", "pagerduty"}
	merged := base.Merge(MonitoringPatch{
		Alerting: &AlertingPatch{Channels: &newChannels},
	})

	if len(base.Alerting.Channels) != 1 || base.Alerting.Channels[0] != "slack" {
		t.Errorf("receiver channels mutated: %v", base.Alerting.Channels)
	}
	if len(merged.Alerting.Channels) != 2 {
		t.Errorf("merged channels = %v, want [email pagerduty]", merged.Alerting.Channels)
	}

	// Mutating the merged copy must not reach through to the original.
	merged.Alerting.Channels[0] = "webhook"
	if base.Alerting.Channels[0] != "slack" {
		t.Error("merged and base share a channel slice")
	}
}

// TestMerge_EmptyPatchIsIdentity verifies an all-nil patch reproduces the
// original configuration.
func TestMerge_EmptyPatchIsIdentity(t *testing.T) {
	base := DefaultMonitoring()
	merged := base.Merge(MonitoringPatch{})

	a, _ := json.Marshal(base)
	b, _ := json.Marshal(merged)
	if string(a) != string(b) {
		t.Errorf("identity merge changed config:\n%s\n%s", a, b)
	}
}

// TestMonitoringPatch_DecodesCamelCase verifies the PATCH body wire format
// maps onto the patch struct.
func TestMonitoringPatch_DecodesCamelCase(t *testing.T) {
	raw := `{"thresholds":{"failedLoginsPerMinute":3},"alerting":{"enabled":false}}`

	var patch MonitoringPatch
	if err := json.Unmarshal([]byte(raw), &patch); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if patch.Thresholds == nil || patch.Thresholds.FailedLoginsPerMinute == nil {
		t.Fatal("thresholds.failedLoginsPerMinute not decoded")
	}
	if *patch.Thresholds.FailedLoginsPerMinute != 3 {
		t.Errorf("failedLoginsPerMinute = %d, want 3", *patch.Thresholds.FailedLoginsPerMinute)
	}
	if patch.Alerting == nil || patch.Alerting.Enabled == nil || *patch.Alerting.Enabled {
		t.Error("alerting.enabled not decoded as false")
	}
}

// =============================================================================
// Validation Tests
// =============================================================================

func TestValidate_DefaultsAreValid(t *testing.T) {
	if err := DefaultMonitoring().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestValidate_RejectsNonPositiveThreshold(t *testing.T) {
	m := DefaultMonitoring()
	m.Thresholds.FailedLoginsPerMinute = 0
	if err := m.Validate(); err == nil {
		t.Error("expected error for zero threshold")
	}

	m = DefaultMonitoring()
	m.Retention.AlertRetentionDays = -1
	if err := m.Validate(); err == nil {
		t.Error("expected error for negative retention")
	}
}

func TestValidate_RejectsUnknownChannel(t *testing.T) {
	m := DefaultMonitoring()
	m.Alerting.Channels = []string{"slack", "carrier-pigeon"}
	if err := m.Validate(); err == nil {
		t.Error("expected error for unknown channel")
	}
}

func TestValidate_RejectsLowMultiplier(t *testing.T) {
	m := DefaultMonitoring()
	m.Anomaly.TemporalMultiplier = 1.0
	if err := m.Validate(); err == nil {
		t.Error("expected error for multiplier <= 1")
	}
}
