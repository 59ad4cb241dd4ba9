// Package stream implements the admin audit-stream websocket: a best-effort,
// purely observational fan-out of audit notifications, adapted from the
// teacher's origin-allowlist pattern (internal/fabric/websocket.go).
package stream

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/finllm/gateway/internal/audit"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     buildCheckOrigin(),
}

// buildCheckOrigin allows every origin outside production; in production it
// enforces the OCX_ALLOWED_ORIGINS allowlist, refusing to silently open up
// if the operator forgot to set it.
func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("OCX_ENV")
	allowedRaw := os.Getenv("OCX_ALLOWED_ORIGINS")

	if env == "production" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			if o := strings.TrimSpace(origin); o != "" {
				allowed[o] = true
			}
		}
		return func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		}
	}
	return func(r *http.Request) bool { return true }
}

// Hub fans out audit.Notification values to connected admin subscribers. It
// implements audit.Notifier so a Ledger can register it directly.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*websocket.Conn]chan audit.Notification
}

func NewHub() *Hub {
	return &Hub{subscribers: make(map[*websocket.Conn]chan audit.Notification)}
}

// Notify is fire-and-forget: a full subscriber channel drops the
// notification rather than blocking the audit write path.
func (h *Hub) Notify(n audit.Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- n:
		default:
		}
	}
}

// ServeHTTP upgrades the connection and streams notifications until the
// client disconnects. Callers must have already authorized the request
// (session token with the audit_reader role) before routing here.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("stream: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ch := make(chan audit.Notification, 32)
	h.mu.Lock()
	h.subscribers[conn] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.subscribers, conn)
		h.mu.Unlock()
	}()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case n := <-ch:
			payload, _ := json.Marshal(n)
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-pingTicker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}
