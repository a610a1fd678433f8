// Command node runs a single swarm node: the ReAct runtime, the tool
// registry and skill loader, the compaction engine, and the HTTP facade
// other nodes and clients talk to. Several of these can run side by side
// on one machine (see cmd/swarmctl) or spread across a network, each
// registering itself into the same shared registry backend.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/agentswarm/swarmnode/internal/config"
	"github.com/agentswarm/swarmnode/pkg/server"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize node")
	}
	defer srv.Store.Close()
	defer srv.ShutdownFunc(context.Background())

	registerCtx, cancelRegister := context.WithCancel(context.Background())
	defer cancelRegister()
	go func() {
		if err := srv.Registry.Register(registerCtx); err != nil && registerCtx.Err() == nil {
			log.Error().Err(err).Msg("registry heartbeat loop exited")
		}
	}()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // chat turns stream and can run long
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("shutting down")

		cancelRegister()
		deregisterCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Registry.Deregister(deregisterCtx); err != nil {
			log.Warn().Err(err).Msg("failed to deregister from swarm")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("graceful shutdown timed out")
		}
	}()

	log.Info().
		Int("port", srv.Port).
		Str("base_url", cfg.BaseURL).
		Str("model", cfg.LLM.Model).
		Msg("node ready")

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}
