package routes

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"actionrecorder/backend/internal/api/handlers"
	"actionrecorder/backend/internal/coordinator"
	"actionrecorder/backend/internal/models"
	"actionrecorder/backend/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu        sync.Mutex
	recording bool
	assertion map[int]bool
	settings  models.Settings
	actions   []models.Action
	err       error
}

func (f *fakeRecorder) SetRecording(_ context.Context, tabID int, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.recording = enabled
	return nil
}

func (f *fakeRecorder) SetAssertionMode(_ context.Context, tabID int, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.assertion[tabID] = enabled
	return nil
}

func (f *fakeRecorder) UpdateSettings(_ context.Context, settings models.Settings) {
	f.mu.Lock()
	f.settings = settings
	f.mu.Unlock()
}

func (f *fakeRecorder) Settings() models.Settings {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.settings
}

func (f *fakeRecorder) Actions() []models.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Action(nil), f.actions...)
}

func (f *fakeRecorder) Status() coordinator.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return coordinator.Status{IsRecording: f.recording, ActionCount: len(f.actions), Settings: f.settings}
}

type fakeBrowser struct {
	mu   sync.Mutex
	tabs map[int]coordinator.Tab
	next int
}

func (f *fakeBrowser) Tabs() []coordinator.Tab {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []coordinator.Tab
	for id := 1; id <= f.next; id++ {
		if t, ok := f.tabs[id]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (f *fakeBrowser) OpenTab(_ context.Context, url string) (coordinator.Tab, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next++
	t := coordinator.Tab{ID: f.next, URL: url, WindowID: 1}
	f.tabs[t.ID] = t
	return t, nil
}

func (f *fakeBrowser) ActivateTab(_ context.Context, tabID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tabs[tabID]; !ok {
		return fmt.Errorf("%w: %d", coordinator.ErrTabUnavailable, tabID)
	}
	return nil
}

func (f *fakeBrowser) CloseTab(_ context.Context, tabID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tabs[tabID]; !ok {
		return fmt.Errorf("%w: %d", coordinator.ErrTabUnavailable, tabID)
	}
	delete(f.tabs, tabID)
	return nil
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type fixture struct {
	router   *gin.Engine
	recorder *fakeRecorder
	browser  *fakeBrowser
	token    string
}

func setup(t *testing.T, passwordHash string) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := &fakeRecorder{assertion: map[int]bool{}}
	br := &fakeBrowser{tabs: map[int]coordinator.Tab{}}
	h := handlers.New(rec, br, handlers.Auth{Secret: "secret", ExpireTime: 60, PasswordHash: passwordHash}, nil)
	return &fixture{
		router:   SetupRoutes(h, handlers.NewHub(nil), "secret", passwordHash != ""),
		recorder: rec,
		browser:  br,
	}
}

func (f *fixture) do(t *testing.T, method, path, body string) envelope {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return env
}

func TestHealth(t *testing.T) {
	f := setup(t, "")
	env := f.do(t, http.MethodGet, "/api/v1/health", "")
	assert.Equal(t, 200, env.Code)
	assert.Contains(t, string(env.Data), "healthy")
}

func TestRecordingLifecycle(t *testing.T) {
	f := setup(t, "")

	env := f.do(t, http.MethodPost, "/api/v1/recording/start", `{"tab_id": 1}`)
	assert.Equal(t, 200, env.Code)
	assert.Equal(t, "recording started", env.Message)
	assert.True(t, f.recorder.recording)

	env = f.do(t, http.MethodGet, "/api/v1/recording/status", "")
	var status coordinator.Status
	require.NoError(t, json.Unmarshal(env.Data, &status))
	assert.True(t, status.IsRecording)

	env = f.do(t, http.MethodPost, "/api/v1/recording/stop", `{"tab_id": 1}`)
	assert.Equal(t, "recording stopped", env.Message)
	assert.False(t, f.recorder.recording)

	env = f.do(t, http.MethodPost, "/api/v1/recording/start", `{}`)
	assert.Equal(t, 400, env.Code)
}

func TestRecordingErrors(t *testing.T) {
	f := setup(t, "")

	f.recorder.err = fmt.Errorf("%w: tab 9", coordinator.ErrTabUnavailable)
	env := f.do(t, http.MethodPost, "/api/v1/recording/start", `{"tab_id": 9}`)
	assert.Equal(t, 404, env.Code)

	f.recorder.err = fmt.Errorf("%w: tab 1: timeout", coordinator.ErrInjectionFailed)
	env = f.do(t, http.MethodPost, "/api/v1/recording/start", `{"tab_id": 1}`)
	assert.Equal(t, 502, env.Code)

	f.recorder.err = fmt.Errorf("disk full")
	env = f.do(t, http.MethodPost, "/api/v1/recording/assertion", `{"tab_id": 1, "enabled": true}`)
	assert.Equal(t, 500, env.Code)
}

func TestActionsPaginationAndCode(t *testing.T) {
	f := setup(t, "")
	for i := 0; i < 5; i++ {
		f.recorder.actions = append(f.recorder.actions, models.Action{
			Type:        models.ActionClick,
			Element:     &models.ElementDescriptor{TagName: "button", Text: fmt.Sprintf("Button %d", i)},
			PageContext: models.PageContext{PageNumber: 1, URL: "https://example.com/"},
		})
	}

	env := f.do(t, http.MethodGet, "/api/v1/recording/actions?page=2&page_size=2", "")
	var page struct {
		List     []models.Action `json:"list"`
		Total    int64           `json:"total"`
		Page     int             `json:"page"`
		PageSize int             `json:"page_size"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Equal(t, int64(5), page.Total)
	assert.Equal(t, 2, page.Page)
	require.Len(t, page.List, 2)
	assert.Equal(t, "Button 2", page.List[0].Element.Text)

	env = f.do(t, http.MethodGet, "/api/v1/recording/actions?page=9", "")
	require.NoError(t, json.Unmarshal(env.Data, &page))
	assert.Empty(t, page.List)

	env = f.do(t, http.MethodGet, "/api/v1/recording/code", "")
	assert.Contains(t, string(env.Data), "BUTTON_0")
}

func TestSettingsAndAssertion(t *testing.T) {
	f := setup(t, "")

	env := f.do(t, http.MethodPut, "/api/v1/settings", `{"capture_hover": true, "capture_blur_focus": true}`)
	assert.Equal(t, 200, env.Code)
	assert.True(t, f.recorder.settings.CaptureHover)

	env = f.do(t, http.MethodGet, "/api/v1/settings", "")
	var settings models.Settings
	require.NoError(t, json.Unmarshal(env.Data, &settings))
	assert.True(t, settings.CaptureBlurFocus)

	f.do(t, http.MethodPost, "/api/v1/recording/assertion", `{"tab_id": 3, "enabled": true}`)
	assert.True(t, f.recorder.assertion[3])
}

func TestTabs(t *testing.T) {
	f := setup(t, "")

	env := f.do(t, http.MethodPost, "/api/v1/tabs", `{"url": "https://example.com/"}`)
	var tab coordinator.Tab
	require.NoError(t, json.Unmarshal(env.Data, &tab))
	assert.Equal(t, 1, tab.ID)

	env = f.do(t, http.MethodGet, "/api/v1/tabs", "")
	var tabs []coordinator.Tab
	require.NoError(t, json.Unmarshal(env.Data, &tabs))
	assert.Len(t, tabs, 1)

	assert.Equal(t, 200, f.do(t, http.MethodPost, "/api/v1/tabs/1/activate", "").Code)
	assert.Equal(t, 404, f.do(t, http.MethodPost, "/api/v1/tabs/7/activate", "").Code)
	assert.Equal(t, 400, f.do(t, http.MethodDelete, "/api/v1/tabs/abc", "").Code)
	assert.Equal(t, 200, f.do(t, http.MethodDelete, "/api/v1/tabs/1", "").Code)
	assert.Equal(t, 404, f.do(t, http.MethodDelete, "/api/v1/tabs/1", "").Code)
}

func TestLoginGuardsProtectedRoutes(t *testing.T) {
	hash, err := utils.HashPassword("operator-pass")
	require.NoError(t, err)
	f := setup(t, hash)

	assert.Equal(t, 401, f.do(t, http.MethodGet, "/api/v1/recording/status", "").Code)
	assert.Equal(t, 401, f.do(t, http.MethodPost, "/api/v1/auth/token", `{"password": "wrong"}`).Code)

	env := f.do(t, http.MethodPost, "/api/v1/auth/token", `{"password": "operator-pass"}`)
	require.Equal(t, 200, env.Code)
	var login handlers.LoginResponse
	require.NoError(t, json.Unmarshal(env.Data, &login))
	require.NotEmpty(t, login.Token)

	f.token = login.Token
	assert.Equal(t, 200, f.do(t, http.MethodGet, "/api/v1/recording/status", "").Code)
}

func TestLoginWithoutAuthConfigured(t *testing.T) {
	f := setup(t, "")
	env := f.do(t, http.MethodPost, "/api/v1/auth/token", `{"password": "anything"}`)
	assert.Equal(t, 400, env.Code)
}
