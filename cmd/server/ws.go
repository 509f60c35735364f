package main

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/watchtowerhq/watchtower/internal/alerting"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The dashboard fronts this service behind its own auth proxy.
		return true
	},
}

// alertHub pushes created alerts to connected dashboard clients. Slow
// clients are dropped rather than allowed to back up the hub.
type alertHub struct {
	logger *zap.Logger

	mu      sync.Mutex
	clients map[*websocket.Conn]bool

	broadcastCh chan *alerting.Alert
}

func newAlertHub(logger *zap.Logger) *alertHub {
	return &alertHub{
		logger:      logger,
		clients:     make(map[*websocket.Conn]bool),
		broadcastCh: make(chan *alerting.Alert, 64),
	}
}

// run fans broadcast alerts out to every connected client.
func (h *alertHub) run() {
	for alert := range h.broadcastCh {
		payload, err := json.Marshal(map[string]any{
			"type":  "alert",
			"alert": alert,
		})
		if err != nil {
			continue
		}

		h.mu.Lock()
		for conn := range h.clients {
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				conn.Close()
				delete(h.clients, conn)
			}
		}
		h.mu.Unlock()
	}
}

// broadcast queues an alert for delivery. A full queue drops the alert;
// the store remains the source of truth, the socket is best-effort.
func (h *alertHub) broadcast(alert *alerting.Alert) {
	select {
	case h.broadcastCh <- alert:
	default:
		h.logger.Warn("alert broadcast queue full, dropping",
			zap.String("alert_id", alert.ID))
	}
}

func (h *alertHub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	// Reader loop exists only to observe close; inbound frames are
	// ignored.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
