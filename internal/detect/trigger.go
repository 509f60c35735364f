// Package detect evaluates incoming audit events against rolling-window
// thresholds and behavioral baselines. Both detector families emit the
// same Trigger shape so the orchestration layer treats them uniformly.
package detect

import (
	"github.com/watchtowerhq/watchtower/internal/alerting"
)

// Kind distinguishes the detector family that produced a trigger.
type Kind string

const (
	KindThreshold Kind = "threshold"
	KindAnomaly   Kind = "anomaly"
)

// Trigger describes one detection hit. MatchedCount and Threshold carry
// the evidence for threshold triggers; anomaly triggers describe their
// evidence in the description.
type Trigger struct {
	Kind         Kind
	AlertType    alerting.Type
	Severity     alerting.Severity
	Title        string
	Description  string
	MatchedCount int
	Threshold    int
}
