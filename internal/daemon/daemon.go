// Package daemon is the composition root: it constructs the store,
// search index, tool router, providers, session manager and gateway
// from configuration and runs them until shutdown.
package daemon

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reverie-labs/reverie/internal/config"
	"github.com/reverie-labs/reverie/internal/logger"
	"github.com/reverie-labs/reverie/internal/observability"
	"github.com/reverie-labs/reverie/internal/tracing"
	"github.com/reverie-labs/reverie/pkg/assembler"
	"github.com/reverie-labs/reverie/pkg/engine"
	"github.com/reverie-labs/reverie/pkg/gateway"
	"github.com/reverie-labs/reverie/pkg/graph"
	"github.com/reverie-labs/reverie/pkg/provider"
	"github.com/reverie-labs/reverie/pkg/search"
	"github.com/reverie-labs/reverie/pkg/sessions"
	"github.com/reverie-labs/reverie/pkg/toolrouter"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Daemon owns the long-running components of the service.
type Daemon struct {
	cfg    *config.Config
	log    *logger.Logger
	logger zerolog.Logger

	store       *graph.SQLiteStore
	maintenance *graph.Maintenance
	index       *search.VecIndex
	prompt      *assembler.PromptSource
	router      *toolrouter.Router
	adapters    []*toolrouter.MCPAdapter
	recorder    *Recorder
	manager     *sessions.Manager
	gateway     *gateway.Server
	metricsSrv  *http.Server
}

// New builds every component from cfg. Nothing is started yet; call
// Run.
func New(cfg *config.Config) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if len(cfg.Providers) == 0 {
		return nil, fmt.Errorf("at least one provider must be configured")
	}

	log, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: cfg.Logging.Console,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}
	root := log.Root()

	if err := tracing.Init("reverie"); err != nil {
		root.Warn().Err(err).Msg("Tracing init failed, continuing without it")
	}
	observability.EnsureRegistered()

	d := &Daemon{cfg: cfg, log: log, logger: root}
	if err := d.build(); err != nil {
		log.Close()
		return nil, err
	}
	return d, nil
}

func (d *Daemon) build() error {
	cfg := d.cfg

	store, err := graph.NewSQLiteStore(graph.SQLiteConfig{
		Path:   cfg.Graph.DBPath,
		Logger: d.logger.With().Str("component", "graph").Logger(),
	})
	if err != nil {
		return fmt.Errorf("failed to create graph store: %w", err)
	}
	d.store = store

	d.maintenance, err = graph.NewMaintenance(graph.MaintenanceConfig{
		Store:     store,
		Logger:    d.logger.With().Str("component", "maintenance").Logger(),
		Schedule:  cfg.Graph.MaintenanceSchedule,
		Retention: time.Duration(cfg.Graph.RetentionDays) * 24 * time.Hour,
	})
	if err != nil {
		return fmt.Errorf("failed to create graph maintenance: %w", err)
	}

	var embedder search.Embedder
	if cfg.Memory.EmbeddingAPIKey != "" {
		embedder = search.NewOpenAIEmbedder(cfg.Memory.EmbeddingAPIKey, cfg.Memory.EmbeddingModel)
	}
	d.index, err = search.NewVecIndex(search.IndexConfig{
		Path:     cfg.Memory.DBPath,
		Embedder: embedder,
		Logger:   d.logger.With().Str("component", "search").Logger(),
	})
	if err != nil {
		return fmt.Errorf("failed to open memory index: %w", err)
	}

	prov, err := provider.New(cfg.Providers[0].Name, cfg.Providers[0].APIKey, cfg.Providers[0].Model)
	if err != nil {
		return fmt.Errorf("failed to create provider: %w", err)
	}

	d.router = toolrouter.New(toolrouter.Config{
		Logger: d.logger.With().Str("component", "toolrouter").Logger(),
	})
	if err := toolrouter.RegisterBuiltins(d.router, cfg.Tools.WorkspacePath); err != nil {
		return fmt.Errorf("failed to register builtin tools: %w", err)
	}

	var promptSource assembler.SystemPromptSource
	if cfg.Agent.SystemPromptFile != "" {
		d.prompt, err = assembler.NewPromptSource(cfg.Agent.SystemPromptFile, d.logger)
		if err != nil {
			return fmt.Errorf("failed to load system prompt: %w", err)
		}
		promptSource = d.prompt
	} else {
		promptSource = assembler.StaticPrompt(cfg.Agent.SystemPrompt)
	}

	asm, err := assembler.New(assembler.Config{
		Store:         store,
		Search:        d.index,
		Prompt:        promptSource,
		Logger:        d.logger.With().Str("component", "assembler").Logger(),
		TokenLimit:    cfg.Agent.TokenLimit,
		TruncateFloor: cfg.Agent.TruncateFloor,
		HistoryLimit:  cfg.Agent.HistoryLimit,
		MemoryLimit:   cfg.Agent.MemoryLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to create assembler: %w", err)
	}

	d.recorder = NewRecorder(store, d.index, nil, d.logger.With().Str("component", "recorder").Logger())

	factory := func(sessionID string) (sessions.Engine, error) {
		return engine.New(engine.Config{
			SessionID:        sessionID,
			Assembler:        asm,
			Provider:         prov,
			Tools:            d.router,
			Responder:        d.recorder.Deliver,
			Logger:           d.logger.With().Str("component", "engine").Logger(),
			ContextTimeout:   cfg.Agent.ContextTimeout,
			ReasoningTimeout: cfg.Agent.ReasoningTimeout,
			ToolTimeout:      cfg.Agent.ToolTimeout,
			MaxPasses:        cfg.Agent.MaxPasses,
		})
	}

	d.manager, err = sessions.NewManager(sessions.Config{
		Store:         store,
		Factory:       factory,
		Logger:        d.logger.With().Str("component", "sessions").Logger(),
		TTL:           cfg.Sessions.TTL,
		SweepInterval: cfg.Sessions.SweepInterval,
	})
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	if cfg.Gateway.Enabled {
		d.gateway, err = gateway.NewServer(gateway.Config{
			Addr:       cfg.Gateway.Addr,
			Dispatcher: d.dispatch,
			Logger:     d.logger.With().Str("component", "gateway").Logger(),
		})
		if err != nil {
			return fmt.Errorf("failed to create gateway: %w", err)
		}
		d.recorder.publish = d.gateway
	}

	return nil
}

// dispatch is the gateway's path into the core: hand the input to the
// session layer, then persist the user turn. An input the manager
// rejects is never written to the lineage chain.
func (d *Daemon) dispatch(ctx context.Context, sessionID, input string) error {
	ctx = tracing.NewRequestContext(ctx)

	if err := d.manager.HandleInput(ctx, sessionID, input); err != nil {
		return err
	}
	if err := d.recorder.RecordUserTurn(ctx, sessionID, input); err != nil {
		d.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to persist user turn")
	}
	return nil
}

// Run starts every component and blocks until ctx is cancelled or a
// termination signal arrives, then shuts down in reverse order.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.store.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect graph store: %w", err)
	}
	if err := d.maintenance.Start(); err != nil {
		return fmt.Errorf("failed to start graph maintenance: %w", err)
	}
	if err := d.startMCPServers(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	if d.gateway != nil {
		if err := d.gateway.Start(); err != nil {
			return err
		}
	}
	if d.cfg.Metrics.Enabled {
		if err := d.startMetrics(g); err != nil {
			return err
		}
	}

	d.logger.Info().Msg("Daemon running")

	g.Go(func() error {
		<-gctx.Done()
		return gctx.Err()
	})
	err := g.Wait()

	d.shutdown()
	if err == context.Canceled {
		return nil
	}
	return err
}

func (d *Daemon) startMCPServers(ctx context.Context) error {
	for _, mcp := range d.cfg.Tools.MCPServers {
		adapter := toolrouter.NewMCPAdapter(mcp.ID, mcp.Command, mcp.Args)
		if err := adapter.Start(ctx); err != nil {
			d.logger.Warn().Err(err).Str("server_id", mcp.ID).Msg("MCP server failed to start, skipping")
			continue
		}
		if err := d.router.AddAdapter(ctx, adapter); err != nil {
			d.logger.Warn().Err(err).Str("server_id", mcp.ID).Msg("Failed to add MCP adapter")
			adapter.Stop()
			continue
		}
		d.adapters = append(d.adapters, adapter)
		d.logger.Info().Str("server_id", mcp.ID).Msg("MCP server connected")
	}
	return nil
}

func (d *Daemon) startMetrics(g *errgroup.Group) error {
	ln, err := net.Listen("tcp", d.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	d.metricsSrv = &http.Server{Handler: mux}

	d.logger.Info().Str("addr", d.cfg.Metrics.Addr).Msg("Metrics listening")
	g.Go(func() error {
		if err := d.metricsSrv.Serve(ln); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	return nil
}

func (d *Daemon) shutdown() {
	d.logger.Info().Msg("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if d.gateway != nil {
		if err := d.gateway.Shutdown(ctx); err != nil {
			d.logger.Warn().Err(err).Msg("Gateway shutdown error")
		}
	}
	if d.metricsSrv != nil {
		_ = d.metricsSrv.Shutdown(ctx)
	}

	d.manager.Shutdown()

	for _, adapter := range d.adapters {
		adapter.Stop()
	}
	if d.prompt != nil {
		d.prompt.Close()
	}
	d.maintenance.Stop()
	if err := d.index.Close(); err != nil {
		d.logger.Warn().Err(err).Msg("Memory index close error")
	}
	if err := d.store.Close(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Graph store close error")
	}
	if err := tracing.Shutdown(ctx); err != nil {
		d.logger.Warn().Err(err).Msg("Tracing shutdown error")
	}
	d.logger.Info().Msg("Shutdown complete")
	d.log.Close()
}
