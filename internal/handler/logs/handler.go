package logs

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-link/backend/internal/logging"
	"github.com/zhouzirui/tavern-link/backend/pkg/utils"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
	subBuffer    = 128
)

// Handler 实时日志查看器，提供 WebSocket 与 SSE 两种订阅方式
type Handler struct {
	broadcaster *logging.Broadcaster
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

type outgoingMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// New 创建日志处理器
func New(broadcaster *logging.Broadcaster) *Handler {
	return &Handler{
		broadcaster: broadcaster,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		logger: log.With().Str("component", "logs").Logger(),
	}
}

// RegisterRoutes 注册 REST 与 SSE 路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/logs/recent", h.handleRecent)
	r.Get("/logs/stream", h.handleStream)
}

// RegisterWebSocketRoutes 注册WebSocket路由
func (h *Handler) RegisterWebSocketRoutes(r chi.Router) {
	r.Get("/ws/logs", h.handleWebSocket)
}

func (h *Handler) handleRecent(w http.ResponseWriter, r *http.Request) {
	recent := h.broadcaster.Recent()
	if recent == nil {
		recent = []logging.Entry{}
	}
	utils.RespondJSON(w, http.StatusOK, recent)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	entries, cancel := h.broadcaster.Subscribe(subBuffer)
	defer cancel()

	utils.SetupSSEHeaders(w)
	if err := utils.SendSSEEvent(w, flusher, "history", h.broadcaster.Recent()); err != nil {
		return
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if err := utils.SendSSEEvent(w, flusher, "log", entry); err != nil {
				return
			}
		}
	}
}

func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	entries, cancel := h.broadcaster.Subscribe(subBuffer)
	defer cancel()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()
	go h.readLoop(conn, stop)

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("log viewer connected")

	if err := h.write(conn, outgoingMessage{Type: "history", Data: h.broadcaster.Recent()}); err != nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-entries:
			if !ok {
				return
			}
			if err := h.write(conn, outgoingMessage{Type: "log", Data: entry}); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop drains control frames and stops the writer when the viewer goes away.
func (h *Handler) readLoop(conn *websocket.Conn, stop context.CancelFunc) {
	defer stop()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug().Err(err).Msg("log viewer read error")
			}
			return
		}
	}
}

func (h *Handler) write(conn *websocket.Conn, msg outgoingMessage) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(msg)
}
