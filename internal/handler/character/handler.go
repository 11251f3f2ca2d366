package character

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
	"github.com/zhouzirui/tavern-link/backend/internal/model/character"
	"github.com/zhouzirui/tavern-link/backend/pkg/utils"
)

// Handler 角色卡的HTTP处理器
type Handler struct {
	characters character.Store
	runtime    *config.Runtime
}

type summary struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Title          string `json:"title,omitempty"`
	Description    string `json:"description,omitempty"`
	Voice          string `json:"voice,omitempty"`
	WorldBookCount int    `json:"worldBookCount"`
	Active         bool   `json:"active"`
}

// New 创建角色处理器
func New(characters character.Store, runtime *config.Runtime) *Handler {
	return &Handler{characters: characters, runtime: runtime}
}

// RegisterRoutes 注册角色相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/characters", h.handleList)
	r.Get("/characters/{id}", h.handleGet)
}

// handleList 列出所有角色卡，并标记当前生效的默认角色
func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	active := h.runtime.Snapshot().DefaultCharacter

	items := h.characters.List()
	out := make([]summary, 0, len(items))
	for _, c := range items {
		out = append(out, summary{
			ID:             c.ID,
			Name:           c.Name,
			Title:          c.Title,
			Description:    c.Description,
			Voice:          c.Voice,
			WorldBookCount: len(c.WorldBook),
			Active:         c.ID == active || c.Name == active,
		})
	}
	utils.RespondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	card, ok := h.characters.FindByID(chi.URLParam(r, "id"))
	if !ok {
		utils.RespondError(w, http.StatusNotFound, "character not found")
		return
	}
	utils.RespondJSON(w, http.StatusOK, card)
}
