package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/watchtowerhq/watchtower/internal/alerting"
	"github.com/watchtowerhq/watchtower/internal/audit"
	"github.com/watchtowerhq/watchtower/internal/config"
	"github.com/watchtowerhq/watchtower/internal/monitor"
)

type server struct {
	monitor *monitor.Monitor
	hub     *alertHub
	logger  *zap.Logger
}

// logEventRequest is the ingest payload for one security event.
type logEventRequest struct {
	EventType   string               `json:"event_type"`
	Action      string               `json:"action"`
	Outcome     audit.Outcome        `json:"outcome"`
	Severity    audit.Severity       `json:"severity"`
	Description string               `json:"description"`
	Context     monitor.EventContext `json:"context"`
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": Version})
}

func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	// The stores are wired at startup; reaching this handler means the
	// engine is serving.
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *server) handleLogEvent(w http.ResponseWriter, r *http.Request) {
	var req logEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.EventType == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "event_type and action are required")
		return
	}
	if req.Context.RequestID == "" {
		req.Context.RequestID = middleware.GetReqID(r.Context())
	}

	ev, err := s.monitor.Log(r.Context(), req.EventType, req.Action, req.Outcome, req.Severity, req.Context, req.Description)
	if err != nil {
		s.logger.Error("event ingest failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to record event")
		return
	}
	writeJSON(w, http.StatusCreated, ev)
}

// recordRateLimitBreach turns a gateway rejection into a security event
// so the rate-limit detectors see abusive ingest clients too.
func (s *server) recordRateLimitBreach(r *http.Request, clientID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	go func() {
		defer cancel()
		_, err := s.monitor.Log(ctx, audit.EventTypeRateLimit, "RATE_LIMIT_EXCEEDED",
			audit.OutcomeRateLimited, audit.SeverityLow,
			monitor.EventContext{
				IPAddress: clientID,
				UserAgent: r.UserAgent(),
				RequestID: middleware.GetReqID(r.Context()),
			}, "ingest rate limit exceeded")
		if err != nil {
			s.logger.Warn("failed to record rate limit breach", zap.Error(err))
		}
	}()
}

func (s *server) handleSecurityMetrics(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r, audit.LastHours(24))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	m, err := s.monitor.SecurityMetrics(r.Context(), tr)
	if err != nil {
		s.logger.Error("metrics computation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute metrics")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (s *server) handleExport(w http.ResponseWriter, r *http.Request) {
	tr, err := parseTimeRange(r, audit.LastHours(24))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}

	data, err := s.monitor.ExportSecurityData(r.Context(), format, tr)
	if err != nil {
		if errors.Is(err, alerting.ErrUnknownFormat) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("export failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "export failed")
		return
	}

	switch format {
	case "csv":
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="alerts.csv"`)
	default:
		w.Header().Set("Content-Type", "application/json")
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(data))
}

func (s *server) handleIPThreat(w http.ResponseWriter, r *http.Request) {
	ip := chi.URLParam(r, "ip")
	if ip == "" {
		writeError(w, http.StatusBadRequest, "ip is required")
		return
	}

	analysis, err := s.monitor.IPThreatLevel(r.Context(), ip)
	if err != nil {
		s.logger.Error("ip threat analysis failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, analysis)
}

func (s *server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	// With explicit bounds the endpoint returns the historical range;
	// otherwise the active (unacknowledged) set.
	if q.Get("start") != "" || q.Get("end") != "" {
		tr, err := parseTimeRange(r, audit.LastHours(24))
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		alerts, err := s.monitor.AlertsInRange(r.Context(), tr)
		if err != nil {
			s.logger.Error("alert range query failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list alerts")
			return
		}
		writeJSON(w, http.StatusOK, alerts)
		return
	}

	alerts, err := s.monitor.ActiveAlerts(r.Context(), alerting.Severity(q.Get("severity")))
	if err != nil {
		s.logger.Error("active alert query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list alerts")
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *server) handleAlertStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.monitor.AlertStats(r.Context())
	if err != nil {
		s.logger.Error("alert stats failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *server) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var body struct {
		AcknowledgedBy string `json:"acknowledged_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.AcknowledgedBy == "" {
		writeError(w, http.StatusBadRequest, "acknowledged_by is required")
		return
	}

	ok, err := s.monitor.AcknowledgeAlert(r.Context(), id, body.AcknowledgedBy)
	if err != nil {
		s.logger.Error("acknowledge failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "acknowledge failed")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"acknowledged": true})
}

func (s *server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.monitor.Config())
}

func (s *server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch config.MonitoringPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	updated, err := s.monitor.UpdateConfig(r.Context(), patch)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// parseTimeRange reads optional RFC 3339 start/end query parameters,
// falling back to def when neither is given.
func parseTimeRange(r *http.Request, def audit.TimeRange) (audit.TimeRange, error) {
	q := r.URL.Query()
	tr := def

	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.TimeRange{}, errors.New("start must be RFC 3339")
		}
		tr.Start = t
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return audit.TimeRange{}, errors.New("end must be RFC 3339")
		}
		tr.End = t
	}
	if tr.End.Before(tr.Start) {
		return audit.TimeRange{}, errors.New("end precedes start")
	}
	return tr, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
