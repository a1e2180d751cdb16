package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dkeye/Classroom/internal/adapters/signal"
	"github.com/dkeye/Classroom/internal/app"
	"github.com/dkeye/Classroom/internal/config"
	"github.com/dkeye/Classroom/internal/core"
	"github.com/dkeye/Classroom/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close() {}

func newRouter(t *testing.T) (http.Handler, *app.Relay) {
	t.Helper()
	relay := app.NewRelay(app.NewGroupManager(), app.SimplePolicy{})
	ctl := signal.NewRelayWSController(relay, signal.Options{})
	cfg := &config.Config{Mode: "release", Secret: "test-secret"}
	return SetupRouter(context.Background(), cfg, ctl), relay
}

func TestGroupsEndpoint(t *testing.T) {
	h, relay := newRouter(t)
	ms := core.NewMemberSession(domain.NewMember("u1", "class", time.Now()), nopConn{})
	relay.Join("c1", "class", ms, nil)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/groups", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var groups []core.GroupInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.Equal(t, domain.GroupID("class"), groups[0].ID)
	assert.Equal(t, 1, groups[0].MemberCount)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/groups/class", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"u1"`)

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/groups/nope", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClientTokenCookie(t *testing.T) {
	h, _ := newRouter(t)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok","connections":0}`, w.Body.String())

	var found bool
	for _, c := range w.Result().Cookies() {
		if c.Name == "ct" && c.Value != "" {
			found = true
		}
	}
	assert.True(t, found, "ct cookie issued")
}
