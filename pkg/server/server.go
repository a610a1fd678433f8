// Package server is the public entry point for composing a swarm node:
// config, telemetry, storage, registry, skills, tools, model client,
// compaction, cancellation, the busy lock, the ReAct runtime, the
// dispatcher, and the HTTP facade. Grounded on the teacher's
// pkg/server/server.go composition root, generalized from the teacher's
// single in-memory-only OSS wiring to this domain's pluggable
// SQLite/Postgres backend and LLM client selection.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/agentswarm/swarmnode/internal/api"
	"github.com/agentswarm/swarmnode/internal/api/handlers"
	"github.com/agentswarm/swarmnode/internal/busylock"
	"github.com/agentswarm/swarmnode/internal/cancel"
	"github.com/agentswarm/swarmnode/internal/compaction"
	"github.com/agentswarm/swarmnode/internal/config"
	"github.com/agentswarm/swarmnode/internal/dispatcher"
	"github.com/agentswarm/swarmnode/internal/guardrail"
	"github.com/agentswarm/swarmnode/internal/llm"
	"github.com/agentswarm/swarmnode/internal/registry"
	"github.com/agentswarm/swarmnode/internal/runtime"
	"github.com/agentswarm/swarmnode/internal/skills"
	"github.com/agentswarm/swarmnode/internal/store"
	"github.com/agentswarm/swarmnode/internal/telemetry"
	"github.com/agentswarm/swarmnode/internal/tools"
	"github.com/agentswarm/swarmnode/pkg/models"
)

// Server holds an initialized node ready to serve.
type Server struct {
	Handler      http.Handler
	Store        store.Store
	Registry     *registry.Registry
	Config       config.Config
	Port         int
	ShutdownFunc func(context.Context) error
}

// New wires every component together from a loaded configuration. Callers
// are expected to have already called config.Load and to drive the
// returned Server's lifecycle (registry.Register, http.Serve, then
// Registry.Deregister + ShutdownFunc on the way out).
func New(ctx context.Context, cfg config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	log.Info().Str("backend", storeBackendName(cfg)).Msg("store initialized")

	reg := registry.New(dataStore, cfg.Port, cfg.BaseURL)

	skillMgr := skills.NewManager(cfg.Skills.Dir, dataStore)
	if err := skillMgr.Scan(ctx); err != nil {
		log.Warn().Err(err).Msg("skill directory scan failed, continuing with empty catalog")
	}

	toolRegistry := tools.NewRegistry(skillMgr)

	primary, err := llm.NewGenAIClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	if err != nil {
		return nil, fmt.Errorf("init model client: %w", err)
	}
	var backup llm.Client
	if cfg.LLM.BackupModel != "" {
		backupClient, err := llm.NewGenAIClient(ctx, cfg.LLM.APIKey, cfg.LLM.BackupModel)
		if err != nil {
			log.Warn().Err(err).Msg("backup model client init failed, running without failover")
		} else {
			backup = backupClient
		}
	}
	modelRouter := llm.NewRouter(primary, backup)

	compactionModel := cfg.LLM.Model
	if cfg.LLM.CompactionModel != "" {
		compactionModel = cfg.LLM.CompactionModel
	}
	summarizerClient, err := llm.NewGenAIClient(ctx, cfg.LLM.APIKey, compactionModel)
	if err != nil {
		return nil, fmt.Errorf("init compaction model client: %w", err)
	}
	summarizer := compaction.NewModelSummarizer(summarizerClient.Stream)
	compactionEngine := compaction.NewEngine(dataStore, summarizer)

	cancelMailboxes := cancel.NewMailboxes()
	busyLock := busylock.New()

	dispatchFilter := guardrail.DefaultDispatchFilter()
	dispatch := dispatcher.New(reg, dispatchFilter)
	toolRegistry.RegisterBuiltin(dispatcher.DispatchTaskSchema, dispatch.ToolHandlerDispatchTask)
	toolRegistry.RegisterBuiltin(dispatcher.DispatchBatchSchema, dispatch.ToolHandlerDispatchBatch)
	toolRegistry.RegisterSkillTool(skills.CompactorSkillID, compaction.SmartCompactSchema, compactionEngine.ToolHandlerSmartCompact)
	toolRegistry.RegisterSkillTool(skills.CompactorSkillID, compaction.CompressionStatusSchema, compactionEngine.ToolHandlerCompressionStatus)

	rt := runtime.New(
		dataStore,
		func(ctx context.Context, key models.SessionKey, ev models.Event) error {
			return dataStore.AppendEvent(ctx, key, ev)
		},
		func(ctx context.Context, key models.SessionKey, title string) error {
			return dataStore.SetTitle(ctx, key, title)
		},
		modelRouter,
		toolRegistry,
		toolRegistry.Bound,
		skillMgr,
		compactionEngine,
		busyLock,
		cancelMailboxes,
	).WithMaxTurns(cfg.LLM.MaxTurns)

	h := handlers.New(rt, dataStore, cancelMailboxes, reg, cfg.Version)
	router := api.NewRouter(h)

	return &Server{
		Handler:      router,
		Store:        dataStore,
		Registry:     reg,
		Config:       cfg,
		Port:         cfg.Port,
		ShutdownFunc: shutdown,
	}, nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, error) {
	if cfg.Database.URL != "" {
		return store.NewPostgresStore(ctx, cfg.Database.URL, cfg.Database.MaxConnections)
	}
	return store.NewSQLiteStore(cfg.Database.SQLitePath)
}

func storeBackendName(cfg config.Config) string {
	if cfg.Database.URL != "" {
		return "postgres"
	}
	return "sqlite"
}
