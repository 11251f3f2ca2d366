package settings

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
	"github.com/zhouzirui/tavern-link/backend/pkg/utils"
)

const maxBodyBytes = 1 << 20

// CheckFunc rejects settings that pass validation but cannot be applied, such as
// reply rules whose patterns do not compile.
type CheckFunc func(config.ChatSettings) error

// Handler 运行时聊天设置的HTTP处理器
type Handler struct {
	runtime *config.Runtime
	check   CheckFunc
}

// New 创建设置处理器，check 可以为 nil
func New(runtime *config.Runtime, check CheckFunc) *Handler {
	return &Handler{runtime: runtime, check: check}
}

// RegisterRoutes 注册设置相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/settings/chat", h.handleGet)
	r.Put("/settings/chat", h.handlePut)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.runtime.Snapshot())
}

// handlePut 将请求体覆盖到当前设置之上，缺省字段保持原值
func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	next := h.runtime.Snapshot()
	if err := json.Unmarshal(body, &next); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	normalized := next.Normalize()
	if err := normalized.Validate(); err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if h.check != nil {
		if err := h.check(normalized); err != nil {
			utils.RespondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	updated, err := h.runtime.Update(func(s *config.ChatSettings) { *s = next })
	if err != nil {
		log.Error().Err(err).Str("component", "settings").Msg("apply chat settings failed")
		utils.RespondError(w, http.StatusInternalServerError, "failed to save settings")
		return
	}

	log.Info().Str("component", "settings").
		Str("triggerMode", updated.TriggerMode).
		Int("historyLimit", updated.HistoryLimit).
		Int("maxGlobalMessages", updated.MaxGlobalMessages).
		Msg("chat settings updated")
	utils.RespondJSON(w, http.StatusOK, updated)
}
