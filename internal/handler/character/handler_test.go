package character

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
	"github.com/zhouzirui/tavern-link/backend/internal/model/character"
)

func setupRouter(t *testing.T) *chi.Mux {
	t.Helper()
	runtime, err := config.NewRuntime("", config.DefaultChatSettings())
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	store := character.NewMemoryStore(append(character.Seed(), character.Character{ID: "bard", Name: "吟游诗人"}))

	r := chi.NewRouter()
	New(store, runtime).RegisterRoutes(r)
	return r
}

func TestListMarksActiveCharacter(t *testing.T) {
	r := setupRouter(t)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/characters", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var items []summary
	if err := json.Unmarshal(resp.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 characters, got %d", len(items))
	}
	if !items[0].Active || items[1].Active {
		t.Fatalf("expected only tavern-keeper active, got %+v", items)
	}
	if items[0].WorldBookCount != 1 {
		t.Fatalf("expected world book count 1, got %d", items[0].WorldBookCount)
	}
}

func TestGetByName(t *testing.T) {
	r := setupRouter(t)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/characters/bard", nil))
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
}

func TestGetMissing(t *testing.T) {
	r := setupRouter(t)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/characters/nobody", nil))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}
