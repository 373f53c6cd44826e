// Package server builds a fully wired agentdesk server from configuration.
//
// It lives in pkg/ so other binaries can embed the API:
//
//	srv, err := server.New(ctx, cfg)
//	http.ListenAndServe(":8080", srv.Handler)
//	defer srv.Shutdown(ctx)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/agentoven/agentdesk/internal/agentsync"
	"github.com/agentoven/agentdesk/internal/api"
	"github.com/agentoven/agentdesk/internal/api/handlers"
	"github.com/agentoven/agentdesk/internal/auth"
	"github.com/agentoven/agentdesk/internal/besteffort"
	"github.com/agentoven/agentdesk/internal/blob"
	"github.com/agentoven/agentdesk/internal/chat"
	"github.com/agentoven/agentdesk/internal/config"
	"github.com/agentoven/agentdesk/internal/integrations/observability"
	"github.com/agentoven/agentdesk/internal/integrations/platform"
	"github.com/agentoven/agentdesk/internal/knowledge"
	"github.com/agentoven/agentdesk/internal/store"
	"github.com/agentoven/agentdesk/internal/telemetry"
	"github.com/rs/zerolog/log"
)

// Server holds the initialized components.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Store is the primary record store.
	Store store.Store

	// Port is the port the server should listen on.
	Port int

	orchestrator      *chat.Orchestrator
	stopReconciler    context.CancelFunc
	reconcilerDone    sync.WaitGroup
	shutdownTelemetry telemetry.ShutdownFunc
}

// New builds every component from cfg and starts the mirror reconciler.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := store.Open(ctx, cfg.Database)
	if err != nil {
		shutdownTelemetry(ctx)
		return nil, fmt.Errorf("open store: %w", err)
	}

	blobs, err := blob.New(ctx, cfg.Blob)
	if err != nil {
		dataStore.Close()
		shutdownTelemetry(ctx)
		return nil, fmt.Errorf("init blob storage: %w", err)
	}
	log.Info().Str("backend", cfg.Blob.Backend).Msg("Blob storage initialized")

	// Left as a nil interface when disabled; services treat nil as "no platform".
	var platformClient platform.Client
	if cfg.Platform.Enabled() {
		platformClient = platform.NewHTTPClient(cfg.Platform.BaseURL, cfg.Platform.APIKey, cfg.Platform.Timeout, nil)
		log.Info().Str("base_url", cfg.Platform.BaseURL).Msg("Execution platform client initialized")
	} else {
		log.Warn().Msg("No execution platform configured, agents will not be mirrored and replies are simulated")
	}

	tracker := observability.NewTracker(observability.New(cfg.Observability))

	agents := agentsync.NewService(dataStore, platformClient, agentsync.WithBlobStore(blobs))
	reconciler := agentsync.NewReconciler(agents, agentsync.OptionsFromConfig(cfg.Reconcile))
	knowledgeSvc := knowledge.NewService(dataStore, platformClient, blobs)
	orchestrator := chat.NewOrchestrator(dataStore, platformClient, tracker,
		besteffort.NewRunner(cfg.Tracking.Async, cfg.Tracking.Timeout), cfg.Platform.InvokeTimeout)

	chain := auth.NewProviderChain()
	chain.RegisterProvider(auth.NewAPIKeyProvider(cfg.Auth.APIKeys))
	chain.RegisterProvider(auth.NewHeaderProvider(cfg.Auth.UserHeader, cfg.Auth.TrustUserHeader))
	log.Info().Strs("providers", chain.ListProviders()).Msg("Auth chain ready")

	h := &handlers.Handlers{
		Agents:        agents,
		Knowledge:     knowledgeSvc,
		Conversations: orchestrator,
		Traces:        tracker,
		Reconciler:    reconciler,
	}
	if platformClient != nil {
		h.Tools = platformClient
	}

	var blobHandler http.Handler
	if local, ok := blobs.(*blob.LocalStore); ok {
		blobHandler = local.Handler()
	}

	srv := &Server{
		Handler:           api.NewRouter(cfg, h, chain, blobHandler),
		Store:             dataStore,
		Port:              cfg.Port,
		orchestrator:      orchestrator,
		shutdownTelemetry: shutdownTelemetry,
	}

	reconcileCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	srv.stopReconciler = cancel
	srv.reconcilerDone.Add(1)
	go func() {
		defer srv.reconcilerDone.Done()
		reconciler.Start(reconcileCtx)
	}()

	return srv, nil
}

// Shutdown stops the reconciler, drains in-flight tracking, closes the store
// and flushes telemetry.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopReconciler()
	s.reconcilerDone.Wait()

	drained := make(chan struct{})
	go func() {
		s.orchestrator.Close()
		close(drained)
	}()
	select {
	case <-drained:
	case <-ctx.Done():
		log.Warn().Msg("Shutdown deadline reached before tracking drained")
	}

	return errors.Join(s.Store.Close(), s.shutdownTelemetry(ctx))
}
