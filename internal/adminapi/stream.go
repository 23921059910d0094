package adminapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ocx/botdetect/internal/core"
)

// upgrader validates the WebSocket handshake's Origin header against an
// allowlist in production, mirroring the Hub's spoke-connection upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     buildCheckOrigin(),
}

func buildCheckOrigin() func(r *http.Request) bool {
	env := os.Getenv("BOTDETECT_ENV")
	allowedRaw := os.Getenv("BOTDETECT_ADMIN_ALLOWED_ORIGINS")

	if env == "production" && allowedRaw != "" {
		allowed := make(map[string]bool)
		for _, origin := range strings.Split(allowedRaw, ",") {
			allowed[strings.TrimSpace(origin)] = true
		}
		return func(r *http.Request) bool {
			return allowed[r.Header.Get("Origin")]
		}
	}
	if env == "production" {
		slog.Warn("BOTDETECT_ADMIN_ALLOWED_ORIGINS not set in production, allowing all origins for admin stream")
	}
	return func(r *http.Request) bool { return true }
}

// VerdictStream fans out recent AggregatedEvidence verdicts to connected
// admin websocket clients, for a live dashboard view. Each client gets its
// own bounded send channel so a slow dashboard tab can't back-pressure the
// request path — the same per-subscriber queue shape as the Learning Bus's
// LocalBus.
type VerdictStream struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]chan []byte
}

func NewVerdictStream() *VerdictStream {
	return &VerdictStream{clients: make(map[*websocket.Conn]chan []byte)}
}

// Publish is called from the detection middleware with every resolved
// verdict. Never blocks the request path.
func (s *VerdictStream) Publish(requestID string, evidence core.AggregatedEvidence) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.clients) == 0 {
		return
	}

	payload, err := json.Marshal(map[string]interface{}{
		"request_id":      requestID,
		"bot_probability": evidence.BotProbability,
		"risk_band":       evidence.RiskBand.String(),
		"bot_type":        evidence.BotType,
		"bot_name":        evidence.BotName,
		"action":          evidence.Action.String(),
		"timestamp":       time.Now(),
	})
	if err != nil {
		return
	}

	for _, ch := range s.clients {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Handle upgrades the connection and streams verdicts until the client
// disconnects.
func (s *VerdictStream) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("admin verdict stream upgrade failed", "error", err)
		return
	}

	ch := make(chan []byte, 64)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		close(ch)
		conn.Close()
	}()

	go s.drainReads(conn)

	for payload := range ch {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
}

// drainReads discards any client-sent frames (this is a publish-only
// stream) and exits when the connection closes, so the write loop above
// learns of disconnects promptly.
func (s *VerdictStream) drainReads(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			conn.Close()
			return
		}
	}
}
