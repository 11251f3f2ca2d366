package memory

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tavern-link/backend/internal/model/chat"
	memoryService "github.com/zhouzirui/tavern-link/backend/internal/service/memory"
	"github.com/zhouzirui/tavern-link/backend/internal/service/sticky"
	"github.com/zhouzirui/tavern-link/backend/pkg/utils"
)

const defaultMaxIdle = 24 * time.Hour

// Handler 全局记忆与粘性状态的HTTP处理器
type Handler struct {
	store  *memoryService.Store
	ledger *sticky.Ledger
}

// New 创建记忆处理器
func New(store *memoryService.Store, ledger *sticky.Ledger) *Handler {
	return &Handler{store: store, ledger: ledger}
}

// RegisterRoutes 注册记忆相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/memory", func(m chi.Router) {
		m.Get("/stats", h.handleStats)
		m.Get("/history", h.handleHistory)
		m.Get("/search", h.handleSearch)
		m.Get("/export", h.handleExport)
		m.Get("/conversations", h.handleConversations)
		m.Delete("/", h.handleReset)
		m.Delete("/conversations/{id}", h.handleClearConversation)
		m.Post("/cleanup", h.handleCleanup)
	})
	r.Get("/sticky/{conversationID}", h.handleSticky)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.store.Stats(r.Context()))
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}
	turns := h.store.History(r.URL.Query().Get("conversation"), limit)
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": nonNil(turns), "count": len(turns)})
}

func (h *Handler) handleSearch(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		utils.RespondError(w, http.StatusBadRequest, "q query parameter is required")
		return
	}
	limit, ok := intQuery(w, r, "limit")
	if !ok {
		return
	}
	turns := h.store.Search(query, limit)
	utils.RespondJSON(w, http.StatusOK, map[string]any{"messages": nonNil(turns), "count": len(turns)})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	export := h.store.Export(r.Context())
	name := "global_memory_" + time.Now().Format("20060102_150405") + ".json"
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	utils.RespondJSON(w, http.StatusOK, export)
}

func (h *Handler) handleConversations(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, nonNil(h.store.Conversations()))
}

// handleReset 清空全部记忆以及粘性状态
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	removed := h.store.Len()
	h.store.Reset(r.Context())
	h.ledger.Reset(r.Context())
	utils.RespondJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (h *Handler) handleClearConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	removed := h.store.Clear(r.Context(), id)
	h.ledger.Forget(r.Context(), id)
	utils.RespondJSON(w, http.StatusOK, map[string]any{"conversation": id, "removed": removed})
}

// handleCleanup 清理空闲会话，maxIdle 接受 Go 时长（如 12h）或毫秒数
func (h *Handler) handleCleanup(w http.ResponseWriter, r *http.Request) {
	maxIdle := defaultMaxIdle
	if raw := strings.TrimSpace(r.URL.Query().Get("maxIdle")); raw != "" {
		parsed, err := parseIdle(raw)
		if err != nil || parsed <= 0 {
			utils.RespondError(w, http.StatusBadRequest, "maxIdle must be a positive duration")
			return
		}
		maxIdle = parsed
	}

	removed := h.store.CleanupIdle(r.Context(), maxIdle)
	for _, id := range removed {
		h.ledger.Forget(r.Context(), id)
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"removed": nonNil(removed)})
}

func (h *Handler) handleSticky(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "conversationID")
	if id == "global" {
		id = chat.GlobalConversation
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{"conversation": id, "entries": h.ledger.Entries(id)})
}

func parseIdle(raw string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	return time.ParseDuration(raw)
}

func intQuery(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		utils.RespondError(w, http.StatusBadRequest, name+" must be a non-negative integer")
		return 0, false
	}
	return n, true
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
