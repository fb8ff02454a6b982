package http_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	router "github.com/dkeye/Tasting/internal/adapters/http"
	"github.com/dkeye/Tasting/internal/adapters/signal"
	"github.com/dkeye/Tasting/internal/adapters/store/memstore"
	"github.com/dkeye/Tasting/internal/app"
	"github.com/dkeye/Tasting/internal/app/orch"
	"github.com/dkeye/Tasting/internal/config"
	"github.com/dkeye/Tasting/internal/core"
	"github.com/dkeye/Tasting/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"
)

type api struct {
	t     *testing.T
	r     *gin.Engine
	store *memstore.Store
}

func newAPI(t *testing.T, fixtures bool) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg, err := config.LoadFile("does-not-exist.yaml")
	require.NoError(t, err)
	cfg.Mode = "test"
	cfg.Secret = "test-secret"
	cfg.Dev.Fixtures = fixtures

	store := memstore.New()
	reg := app.NewRegistry()
	o := orch.New(reg, store, app.SimplePolicy{}, core.NewMessageRateLimiter(15, time.Minute, time.Minute), orch.DefaultOptions())
	life := app.NewLifecycle(store, 6*time.Hour)
	life.SetNotifier(o)

	r := router.SetupRouter(context.Background(), cfg, router.Deps{
		Orch:      o,
		Lifecycle: life,
		Signal:    signal.NewSignalWSController(o, signal.DefaultOptions()),
	})
	return &api{t: t, r: r, store: store}
}

func (a *api) do(method, path string, body any, cookies []*http.Cookie) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	w := httptest.NewRecorder()
	a.r.ServeHTTP(w, req)
	return w
}

func (a *api) login(uid, name string) []*http.Cookie {
	a.t.Helper()
	w := a.do(http.MethodPost, "/api/dev/login", map[string]string{"userId": uid, "displayName": name}, nil)
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	cookies := w.Result().Cookies()
	require.NotEmpty(a.t, cookies)
	return cookies
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRouter_RequiresIdentity(t *testing.T) {
	a := newAPI(t, false)

	w := a.do(http.MethodPost, "/api/sessions", map[string]any{"title": "x"}, nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(http.MethodPost, "/api/dev/login", map[string]string{"userId": "u1"}, nil)
	require.Equal(t, http.StatusNotFound, w.Code, "fixture routes are off by default")
}

func TestRouter_SessionLifecycle(t *testing.T) {
	a := newAPI(t, true)
	host := a.login("host", "Host")
	guest := a.login("guest", "Guest")

	w := a.do(http.MethodPost, "/api/sessions", map[string]any{
		"title":    "Highland flight",
		"products": []map[string]string{{"name": "Clynelish 14"}},
	}, host)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	id := decode(t, w)["id"].(string)

	w = a.do(http.MethodPost, "/api/sessions/"+id+"/end", nil, guest)
	require.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodPut, "/api/sessions/"+id+"/tags", map[string]any{"tags": []string{"sherried"}}, host)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(http.MethodPost, "/api/sessions/"+id+"/archive", nil, host)
	require.Equal(t, http.StatusBadRequest, w.Code, "active sessions cannot be archived")

	w = a.do(http.MethodPost, "/api/sessions/"+id+"/end", nil, host)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, string(domain.StatusEnded), decode(t, w)["status"])

	w = a.do(http.MethodPost, "/api/sessions/"+id+"/archive", nil, host)
	require.Equal(t, http.StatusOK, w.Code)
	w = a.do(http.MethodPost, "/api/sessions/"+id+"/unarchive", nil, host)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, string(domain.StatusEnded), decode(t, w)["status"])

	w = a.do(http.MethodGet, "/api/sessions/missing", nil, host)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_TooManyProducts(t *testing.T) {
	a := newAPI(t, true)
	host := a.login("host", "Host")

	w := a.do(http.MethodPost, "/api/sessions", map[string]any{
		"products": []map[string]string{{"name": "a"}, {"name": "b"}, {"name": "c"}, {"name": "d"}},
	}, host)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_DevSeed(t *testing.T) {
	a := newAPI(t, true)
	host := a.login("host", "Host")
	w := a.do(http.MethodPost, "/api/sessions", map[string]any{"title": "Seeded"}, host)
	require.Equal(t, http.StatusCreated, w.Code)
	id := domain.SessionID(decode(t, w)["id"].(string))

	w = a.do(http.MethodPost, "/api/dev/sessions/"+string(id)+"/seed", map[string]any{
		"author":   map[string]string{"id": "bot", "displayName": "Sommelier"},
		"messages": []map[string]string{{"content": "Nose first."}, {"content": "Now a drop of water.", "phase": "palate"}},
	}, host)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	msgs, err := a.store.ListMessages(context.Background(), id, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "Nose first.", msgs[0].Content)
	require.Equal(t, "palate", msgs[1].Phase)
}

func TestRouter_AutoModerator(t *testing.T) {
	a := newAPI(t, true)
	host := a.login("host", "Host")

	w := a.do(http.MethodPut, "/api/me/auto-moderators/friend", nil, host)
	require.Equal(t, http.StatusOK, w.Code)
	ok, err := a.store.IsAutoModerator(context.Background(), "host", "friend")
	require.NoError(t, err)
	require.True(t, ok)

	w = a.do(http.MethodPut, "/api/me/auto-moderators/host", nil, host)
	require.Equal(t, http.StatusBadRequest, w.Code)
}
