// Package observability provides structured logging and Prometheus
// metrics for the monitoring engine.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/watchtowerhq/watchtower/internal/config"
)

// BuildLogger constructs a zap logger from logging config. Format
// "console" is for development; anything else builds production JSON.
func BuildLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zcfg zap.Config

	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
		zcfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zcfg = zap.NewProductionConfig()
		zcfg.EncoderConfig.TimeKey = "timestamp"
		zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	switch cfg.Level {
	case "debug":
		zcfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		zcfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		zcfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		zcfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	zcfg.InitialFields = map[string]interface{}{
		"service": "watchtower",
	}

	return zcfg.Build()
}

// Metrics holds Prometheus metrics for the engine.
type Metrics struct {
	EventsLogged        *prometheus.CounterVec
	AlertsCreated       *prometheus.CounterVec
	AlertsSuppressed    *prometheus.CounterVec
	AlertsAcknowledged  prometheus.Counter
	AlertsPruned        prometheus.Counter
	NotificationsSent   *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec
	DetectorDuration    *prometheus.HistogramVec
	DetectorFailures    *prometheus.CounterVec
}

// NewMetrics registers and returns the engine metrics. Call at most once
// per process; promauto panics on duplicate registration.
func NewMetrics() *Metrics {
	namespace := "watchtower"

	return &Metrics{
		EventsLogged: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_logged_total",
				Help:      "Security events recorded, by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		AlertsCreated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_created_total",
				Help:      "Alerts created, by type and severity",
			},
			[]string{"type", "severity"},
		),
		AlertsSuppressed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_suppressed_total",
				Help:      "Duplicate alerts merged into the suppression window",
			},
			[]string{"type"},
		),
		AlertsAcknowledged: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_acknowledged_total",
				Help:      "Alert acknowledgements",
			},
		),
		AlertsPruned: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "alerts_pruned_total",
				Help:      "Alerts removed by retention cleanup",
			},
		),
		NotificationsSent: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_sent_total",
				Help:      "Successful channel dispatches",
			},
			[]string{"channel"},
		),
		NotificationsFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifications_failed_total",
				Help:      "Failed channel dispatches",
			},
			[]string{"channel"},
		),
		DetectorDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "detector_duration_seconds",
				Help:      "Detection pass duration",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"detector"},
		),
		DetectorFailures: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detector_failures_total",
				Help:      "Detection passes aborted by store errors",
			},
			[]string{"detector"},
		),
	}
}
