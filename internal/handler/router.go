package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
	characterHandler "github.com/zhouzirui/tavern-link/backend/internal/handler/character"
	logsHandler "github.com/zhouzirui/tavern-link/backend/internal/handler/logs"
	memoryHandler "github.com/zhouzirui/tavern-link/backend/internal/handler/memory"
	settingsHandler "github.com/zhouzirui/tavern-link/backend/internal/handler/settings"
	"github.com/zhouzirui/tavern-link/backend/internal/logging"
	middlewarePkg "github.com/zhouzirui/tavern-link/backend/internal/middleware"
	"github.com/zhouzirui/tavern-link/backend/internal/model/character"
	"github.com/zhouzirui/tavern-link/backend/internal/observability"
	memoryService "github.com/zhouzirui/tavern-link/backend/internal/service/memory"
	"github.com/zhouzirui/tavern-link/backend/internal/service/sticky"
	"github.com/zhouzirui/tavern-link/backend/pkg/utils"
)

// HealthReporter exposes the bridge connection state to /healthz.
type HealthReporter interface {
	Connected() bool
}

// Deps lists what the control panel needs. Nil optional fields drop their routes.
type Deps struct {
	AllowedOrigins []string
	Runtime        *config.Runtime
	Characters     character.Store
	Memory         *memoryService.Store
	Ledger         *sticky.Ledger
	Logs           *logging.Broadcaster
	Metrics        *observability.Metrics
	Health         HealthReporter
	// AudioDir is served under /audio/ so the bridge can fetch synthesized clips by URL.
	AudioDir      string
	CheckSettings settingsHandler.CheckFunc
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.AccessLog(log.With().Str("component", "http").Logger()))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS(deps.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{"status": "ok"}
		if deps.Health != nil {
			body["onebotConnected"] = deps.Health.Connected()
		}
		if deps.Memory != nil {
			body["memoryInSync"] = deps.Memory.InSync()
		}
		if deps.Ledger != nil {
			body["ledgerInSync"] = deps.Ledger.InSync()
		}
		utils.RespondJSON(w, http.StatusOK, body)
	})

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}
	if deps.AudioDir != "" {
		r.Handle("/audio/*", http.StripPrefix("/audio/", http.FileServer(http.Dir(deps.AudioDir))))
	}

	var logs *logsHandler.Handler
	if deps.Logs != nil {
		logs = logsHandler.New(deps.Logs)
		logs.RegisterWebSocketRoutes(r)
	}

	r.Route("/api", func(api chi.Router) {
		if deps.Memory != nil && deps.Ledger != nil {
			memoryHandler.New(deps.Memory, deps.Ledger).RegisterRoutes(api)
		}
		if deps.Runtime != nil {
			settingsHandler.New(deps.Runtime, deps.CheckSettings).RegisterRoutes(api)
			if deps.Characters != nil {
				characterHandler.New(deps.Characters, deps.Runtime).RegisterRoutes(api)
			}
		}
		if logs != nil {
			logs.RegisterRoutes(api)
		}
	})

	return r
}
