package llm

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentswarm/swarmnode/pkg/models"
)

// Router tries a primary client, falling back to a backup on failure, the
// same fallback shape as the teacher's ModelRouter.Route/RouteWithBackup,
// generalized from a list of HTTP providers down to two Client instances
// since a single node only needs "primary model, backup model" rather than
// a full provider marketplace.
type Router struct {
	primary Client
	backup  Client // nil if no backup configured

	latencyNs atomic.Int64 // last successful call's latency, for diagnostics
}

func NewRouter(primary, backup Client) *Router {
	return &Router{primary: primary, backup: backup}
}

func (r *Router) Stream(ctx context.Context, systemInstruction string, contents []models.Content, tools []models.ToolSchema, emit func(models.Part)) error {
	start := time.Now()
	err := r.primary.Stream(ctx, systemInstruction, contents, tools, emit)
	if err == nil {
		r.latencyNs.Store(int64(time.Since(start)))
		return nil
	}

	if r.backup == nil {
		return fmt.Errorf("llm: primary failed, no backup configured: %w", err)
	}

	log.Warn().Err(err).Msg("primary model failed, falling back to backup")
	start = time.Now()
	if err2 := r.backup.Stream(ctx, systemInstruction, contents, tools, emit); err2 != nil {
		return fmt.Errorf("llm: primary and backup both failed: primary=%v backup=%w", err, err2)
	}
	r.latencyNs.Store(int64(time.Since(start)))
	return nil
}

func (r *Router) LastLatency() time.Duration {
	return time.Duration(r.latencyNs.Load())
}
