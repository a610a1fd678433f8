package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const appNameKey contextKey = "app_name"

// DefaultAppName is used when a request carries no app identity at all,
// matching the teacher's "default" tenant fallback but for a single-field
// app name rather than a kitchen/tenant pair (spec's Non-goals exclude
// multi-tenant isolation beyond (app, user, session) keying, so there is
// no separate tenant concept to extract here).
const DefaultAppName = "default"

// AppNameExtractor reads X-App-Name (falling back to an app_name query
// param, then DefaultAppName) into the request context, mirroring the
// teacher's TenantExtractor but scoped to this domain's single app-name
// axis. The chat handler still reads the authoritative (app, user,
// session) triple from the JSON body; this only supplies a value for
// middleware that runs before the body is parsed, like Telemetry.
func AppNameExtractor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		appName := r.Header.Get("X-App-Name")
		if appName == "" {
			appName = r.URL.Query().Get("app_name")
		}
		if appName == "" {
			appName = DefaultAppName
		}
		ctx := context.WithValue(r.Context(), appNameKey, appName)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetAppName reads the app name stashed by AppNameExtractor.
func GetAppName(ctx context.Context) string {
	if v, ok := ctx.Value(appNameKey).(string); ok {
		return v
	}
	return DefaultAppName
}
