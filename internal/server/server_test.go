package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/site_mon/internal/clock"
	"github.com/eliteGoblin/focusd/site_mon/internal/domain"
	"github.com/eliteGoblin/focusd/site_mon/internal/policy"
	"github.com/eliteGoblin/focusd/site_mon/internal/usecase"
	"github.com/eliteGoblin/focusd/site_mon/test/fixtures"
)

var testNoon = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, *fixtures.MemoryStore, *clock.MockClock, policy.BlockPage) {
	t.Helper()
	page, err := policy.NewBlockPage("http://127.0.0.1:7770/blocked")
	require.NoError(t, err)

	store := fixtures.NewMemoryStore()
	clk := clock.NewMockClock(testNoon)
	breaker := usecase.NewBreaker(store, clk, zap.NewNop())
	return New("127.0.0.1:0", page, breaker, zap.NewNop()), store, clk, page
}

func serve(s *Server, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func postBreak(s *Server, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/break", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return serve(s, req)
}

func TestHealthz(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestBlockedPage_ShowsOriginalEscaped(t *testing.T) {
	s, _, _, page := newTestServer(t)
	original := "https://youtube.com/watch?v=<script>"
	addr := page.Address(original, testNoon)
	path := strings.TrimPrefix(addr, "http://127.0.0.1:7770")

	w := serve(s, httptest.NewRequest(http.MethodGet, path, nil))

	assert.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, "This site is blocked")
	assert.Contains(t, body, "youtube.com/watch?v=&lt;script&gt;")
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, `action="/break"`)
}

func TestBlockedPage_DuringBreak(t *testing.T) {
	s, store, _, _ := newTestServer(t)
	require.NoError(t, store.SetBreak(domain.BreakState{Active: true, EndTimeEpochMs: testNoon.Add(10 * time.Minute).UnixMilli()}))

	w := serve(s, httptest.NewRequest(http.MethodGet, "/blocked", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "A break is active")
	assert.NotContains(t, w.Body.String(), "<form")
}

func TestBreakStart_RedirectsToOriginal(t *testing.T) {
	s, store, _, _ := newTestServer(t)

	w := postBreak(s, url.Values{"minutes": {"15"}, "originalUrl": {"https://youtube.com/feed"}})

	assert.Equal(t, http.StatusSeeOther, w.Code)
	assert.Equal(t, "https://youtube.com/feed", w.Header().Get("Location"))

	cfg, err := store.Load()
	require.NoError(t, err)
	assert.True(t, cfg.Break.InEffect(testNoon))
	assert.Equal(t, testNoon.Add(15*time.Minute).UnixMilli(), cfg.Break.EndTimeEpochMs)
}

func TestBreakStart_NonWebOriginalGetsJSON(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	w := postBreak(s, url.Values{"minutes": {"5"}, "originalUrl": {"javascript:alert(1)"}})

	assert.Equal(t, http.StatusOK, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["active"])
}

func TestBreakStart_Errors(t *testing.T) {
	tests := []struct {
		name    string
		minutes string
		want    int
	}{
		{"not a number", "ten", http.StatusBadRequest},
		{"zero", "0", http.StatusBadRequest},
		{"too long", "61", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _, _, _ := newTestServer(t)
			w := postBreak(s, url.Values{"minutes": {tt.minutes}})
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestBreakStart_ConflictWhileActive(t *testing.T) {
	s, _, _, _ := newTestServer(t)

	require.Equal(t, http.StatusOK, postBreak(s, url.Values{"minutes": {"10"}}).Code)
	w := postBreak(s, url.Values{"minutes": {"10"}})

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestBreakStatusAndEnd(t *testing.T) {
	s, _, clk, _ := newTestServer(t)
	require.Equal(t, http.StatusOK, postBreak(s, url.Values{"minutes": {"10"}}).Code)
	clk.Advance(4 * time.Minute)

	w := serve(s, httptest.NewRequest(http.MethodGet, "/break", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var status struct {
		Active           bool `json:"active"`
		RemainingSeconds int  `json:"remainingSeconds"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.True(t, status.Active)
	assert.Equal(t, 360, status.RemainingSeconds)

	w = serve(s, httptest.NewRequest(http.MethodDelete, "/break", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(s, httptest.NewRequest(http.MethodGet, "/break", nil))
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.False(t, status.Active)
}

func TestBlockPath(t *testing.T) {
	for base, want := range map[string]string{
		"http://127.0.0.1:7770/blocked":     "/blocked",
		"http://127.0.0.1:7770/x/stop.html": "/x/stop.html",
		"http://localhost/blocked/":         "/blocked/",
	} {
		page, err := policy.NewBlockPage(base)
		require.NoError(t, err)
		assert.Equal(t, want, blockPath(page), base)
	}
}
