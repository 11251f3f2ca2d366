package settings

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/tavern-link/backend/internal/config"
	"github.com/zhouzirui/tavern-link/backend/internal/service/rewrite"
)

func setupRouter(t *testing.T, check CheckFunc) (*chi.Mux, *config.Runtime) {
	t.Helper()
	runtime, err := config.NewRuntime(filepath.Join(t.TempDir(), "settings.json"), config.DefaultChatSettings())
	require.NoError(t, err)

	r := chi.NewRouter()
	New(runtime, check).RegisterRoutes(r)
	return r, runtime
}

func put(r http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPut, "/settings/chat", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestGetReturnsSnapshot(t *testing.T) {
	r, _ := setupRouter(t, nil)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/settings/chat", nil))
	require.Equal(t, http.StatusOK, resp.Code)

	var got config.ChatSettings
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &got))
	require.Equal(t, config.DefaultChatSettings().HistoryLimit, got.HistoryLimit)
}

func TestPutMergesPartialUpdate(t *testing.T) {
	r, runtime := setupRouter(t, nil)

	resp := put(r, `{"triggerMode":"KEYWORD","triggerKeywords":[" 老板 ",""]}`)
	require.Equal(t, http.StatusOK, resp.Code)

	current := runtime.Snapshot()
	require.Equal(t, config.TriggerKeyword, current.TriggerMode)
	require.Equal(t, []string{"老板"}, current.TriggerKeywords)
	require.Equal(t, config.DefaultChatSettings().AITimeoutMs, current.AITimeoutMs)
}

func TestPutRejectsInvalidSettings(t *testing.T) {
	r, runtime := setupRouter(t, nil)

	require.Equal(t, http.StatusBadRequest, put(r, `{"triggerMode":"sometimes"}`).Code)
	require.Equal(t, http.StatusBadRequest, put(r, `not json`).Code)
	require.Equal(t, config.TriggerAlways, runtime.Snapshot().TriggerMode)
}

func TestPutRunsCheck(t *testing.T) {
	check := func(s config.ChatSettings) error {
		_, err := rewrite.New(s.ReplyRules)
		return err
	}
	r, runtime := setupRouter(t, check)

	resp := put(r, `{"replyRules":[{"find":"(unclosed","replace":"x","flags":"g"}]}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Empty(t, runtime.Snapshot().ReplyRules)

	resp = put(r, `{"replyRules":[{"find":"\\*[^*]+\\*","replace":"","flags":"g"}]}`)
	require.Equal(t, http.StatusOK, resp.Code)
	require.Len(t, runtime.Snapshot().ReplyRules, 1)
}

func TestPutCheckErrorIsReported(t *testing.T) {
	r, _ := setupRouter(t, func(config.ChatSettings) error { return errors.New("nope") })

	resp := put(r, `{"historyLimit":10}`)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	require.Contains(t, resp.Body.String(), "nope")
}
