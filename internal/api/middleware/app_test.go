package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppNameExtractor_FromHeader(t *testing.T) {
	var got string
	handler := AppNameExtractor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetAppName(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-App-Name", "orchestrator-cli")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "orchestrator-cli", got)
}

func TestAppNameExtractor_FromQueryParam(t *testing.T) {
	var got string
	handler := AppNameExtractor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetAppName(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/?app_name=dashboard", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "dashboard", got)
}

func TestAppNameExtractor_DefaultsWhenAbsent(t *testing.T) {
	var got string
	handler := AppNameExtractor(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetAppName(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, DefaultAppName, got)
}

func TestGetAppName_NoValueInContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Equal(t, DefaultAppName, GetAppName(req.Context()))
}
