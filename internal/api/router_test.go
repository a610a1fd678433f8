package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentswarm/swarmnode/internal/api/handlers"
	"github.com/agentswarm/swarmnode/internal/busylock"
	"github.com/agentswarm/swarmnode/internal/cancel"
	"github.com/agentswarm/swarmnode/internal/registry"
	"github.com/agentswarm/swarmnode/internal/runtime"
	"github.com/agentswarm/swarmnode/internal/skills"
	"github.com/agentswarm/swarmnode/internal/store"
	"github.com/agentswarm/swarmnode/pkg/models"
)

type routerNoopCompactor struct{}

func (routerNoopCompactor) MaybeCompact(ctx context.Context, key models.SessionKey) error {
	return nil
}
func (routerNoopCompactor) CompactReactive(ctx context.Context, key models.SessionKey) error {
	return nil
}

type routerEchoModel struct{}

func (routerEchoModel) Stream(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error {
	emit(models.TextPart("ok"))
	return nil
}

type routerNoopTools struct{}

func (routerNoopTools) Invoke(ctx context.Context, key models.SessionKey, name string, args map[string]any) (any, error) {
	return nil, nil
}

type routerNoopSkillCatalog struct{}

func (routerNoopSkillCatalog) Discover() []skills.Manifest { return nil }

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	s := store.NewMemoryStore()
	reg := registry.New(s, 8000, "http://localhost:8000")
	rt := runtime.New(
		s, s.AppendEvent, s.SetTitle,
		routerEchoModel{}, routerNoopTools{},
		func(models.SessionKey) []models.ToolSchema { return nil },
		routerNoopSkillCatalog{},
		routerNoopCompactor{}, busylock.New(), cancel.NewMailboxes(),
	)
	h := handlers.New(rt, s, cancel.NewMailboxes(), reg, "0.1.0-test")
	return NewRouter(h)
}

func TestRouter_HealthAndVersion(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/version", nil)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRouter_UnknownRouteIs404(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/does-not-exist", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRouter_SessionsListRequiresQueryParams(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
