// Package ws serves the realtime chat endpoint. One goroutine reads
// client frames, one writes fan-out frames; the connection dies when
// either stops.
package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"

	"github.com/guildhall-dev/guildhall/internal/apperr"
	"github.com/guildhall-dev/guildhall/internal/auth"
	"github.com/guildhall-dev/guildhall/internal/chat"
	"github.com/guildhall-dev/guildhall/internal/metrics"
	"github.com/guildhall-dev/guildhall/internal/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Connection tuning.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 4096
)

// Wire frame types.
const (
	frameSend    = "send"
	frameMessage = "message"
	frameError   = "error"
)

type clientFrame struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type serverFrame struct {
	Type     string `json:"type"`
	ID       string `json:"id,omitempty"`
	SenderID string `json:"senderId,omitempty"`
	Text     string `json:"text,omitempty"`
	TS       int64  `json:"ts,omitempty"`
	Code     string `json:"code,omitempty"`
	Message  string `json:"message,omitempty"`
}

func messageFrame(m model.Message) serverFrame {
	return serverFrame{Type: frameMessage, ID: m.ID, SenderID: m.SenderID, Text: m.Text, TS: m.TS}
}

func errorFrame(err error) serverFrame {
	ae := apperr.As(err)
	return serverFrame{Type: frameError, Code: ae.Code, Message: ae.Message}
}

// Authorizer is the slice of the auth layer the handler needs.
type Authorizer interface {
	Authorize(ctx context.Context, raw string) (auth.Policy, error)
}

// Handler upgrades /ws/rooms/{roomId} connections.
type Handler struct {
	chat       *chat.Service
	authorizer Authorizer
	metrics    *metrics.Metrics
	upgrader   websocket.Upgrader
	log        zerolog.Logger
}

// NewHandler builds the websocket handler. checkOrigin nil allows all
// origins; CORS for the REST surface is enforced separately.
func NewHandler(chatSvc *chat.Service, authorizer Authorizer, m *metrics.Metrics, checkOrigin func(*http.Request) bool, log zerolog.Logger) *Handler {
	return &Handler{
		chat:       chatSvc,
		authorizer: authorizer,
		metrics:    m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     checkOrigin,
		},
		log: log.With().Str("component", "ws").Logger(),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "roomId")

	// Browsers cannot set Authorization on the upgrade request, so the
	// token also rides the query string.
	raw := r.Header.Get("Authorization")
	if raw == "" {
		raw = r.URL.Query().Get("token")
	}
	policy, err := h.authorizer.Authorize(r.Context(), raw)
	if err != nil {
		ae := apperr.As(err)
		http.Error(w, ae.Message, http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	if h.metrics != nil {
		h.metrics.WSConnections.Inc()
		defer h.metrics.WSConnections.Dec()
	}

	h.serve(r.Context(), conn, roomID, policy.Principal)
}

func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, roomID string, p auth.Principal) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer conn.Close()

	closeSlow := func() {
		if h.metrics != nil {
			h.metrics.WSDropped.Inc()
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, chat.ReasonSlowConsumer),
			time.Now().Add(writeWait))
		cancel()
	}
	sub, unsubscribe, err := h.chat.Subscribe(ctx, model.ScopeRoom, roomID, p.Sub, closeSlow)
	if err != nil {
		_ = h.writeFrame(conn, errorFrame(err))
		return
	}
	defer unsubscribe()

	go h.readPump(ctx, cancel, conn, roomID, p)
	h.writePump(ctx, conn, sub)
}

// readPump consumes send frames until the peer goes away.
func (h *Handler) readPump(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, roomID string, p auth.Principal) {
	defer cancel()
	conn.SetReadLimit(maxFrame)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil || frame.Type != frameSend {
			_ = h.writeFrame(conn, errorFrame(apperr.Validation("type", "expected a send frame")))
			continue
		}
		if _, err := h.chat.Send(ctx, model.ScopeRoom, roomID, p.Sub, frame.Text); err != nil {
			_ = h.writeFrame(conn, errorFrame(err))
		}
	}
}

// writePump owns all writes to the connection: fan-out messages and
// keepalive pings.
func (h *Handler) writePump(ctx context.Context, conn *websocket.Conn, sub *chat.Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-sub.C:
			if err := h.writeFrame(conn, messageFrame(msg)); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) writeFrame(conn *websocket.Conn, frame serverFrame) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	raw, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return conn.WriteMessage(websocket.TextMessage, raw)
}
