package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/agentkernel/agentkernel/cmd/server/config"
	"github.com/agentkernel/agentkernel/internal/application/command"
	orchapp "github.com/agentkernel/agentkernel/internal/application/orchestration"
	"github.com/agentkernel/agentkernel/internal/application/query"
	"github.com/agentkernel/agentkernel/internal/application/service"
	"github.com/agentkernel/agentkernel/internal/domain/agent"
	"github.com/agentkernel/agentkernel/internal/infrastructure/auth"
	"github.com/agentkernel/agentkernel/internal/infrastructure/cache"
	infra_exec "github.com/agentkernel/agentkernel/internal/infrastructure/execution"
	"github.com/agentkernel/agentkernel/internal/infrastructure/graph"
	"github.com/agentkernel/agentkernel/internal/infrastructure/http/handlers"
	"github.com/agentkernel/agentkernel/internal/infrastructure/http/middleware"
	"github.com/agentkernel/agentkernel/internal/infrastructure/messaging"
	"github.com/agentkernel/agentkernel/internal/infrastructure/messaging/nats"
	"github.com/agentkernel/agentkernel/internal/infrastructure/monitoring"
	"github.com/agentkernel/agentkernel/internal/infrastructure/persistence/memory"
	"github.com/agentkernel/agentkernel/internal/infrastructure/persistence/postgres"
	"github.com/agentkernel/agentkernel/internal/infrastructure/streaming"
	"github.com/agentkernel/agentkernel/internal/infrastructure/tools"
)

var (
	flagEmbeddedDB bool
	flagAgentsDir  string
)

var rootCmd = &cobra.Command{
	Use:   "agentkernel",
	Short: "Multi-tenant agent execution platform",
	Long:  "agentkernel compiles agent graphs into executable workflows and runs them with streaming output, human-in-the-loop pauses, and hierarchical orchestration.",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(GetVersion().String())
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agentkernel HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&flagEmbeddedDB, "embedded-db", false, "start an embedded PostgreSQL for local development")
	serveCmd.Flags().StringVar(&flagAgentsDir, "agents-dir", "", "directory of agent definition JSON files to seed at startup")
	replayCmd.Flags().StringVar(&flagResumePayload, "payload", "", "resume payload as a JSON object")

	rootCmd.AddCommand(serveCmd, migrateCmd, replayCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired core: everything serve and replay share.
type app struct {
	cfg        *config.Config
	pool       *pgxpool.Pool
	embedded   *embeddedpostgres.EmbeddedPostgres
	agentRepo  agent.Repository
	runService *service.RunService
	kernel     *orchapp.Kernel
	sweeper    *orchapp.TimeoutSweeper
	queues     *streaming.QueueRegistry
	metrics    *monitoring.Metrics
	redis      *cache.RedisCache
	closers    []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires the execution core: repositories, tool invocation layer,
// node executor registry, engine, orchestration kernel, and run service.
// The HTTP surface is layered on top by serve; replay drives the same core
// without it.
func buildApp(ctx context.Context, cfg *config.Config, embeddedDB bool) (*app, error) {
	a := &app{cfg: cfg}

	if embeddedDB {
		a.embedded = embeddedpostgres.NewDatabase(embeddedpostgres.DefaultConfig().
			Username(cfg.Database.User).
			Password(cfg.Database.Password).
			Database(cfg.Database.Database).
			Port(uint32(cfg.Database.Port)))
		if err := a.embedded.Start(); err != nil {
			return nil, fmt.Errorf("start embedded postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = a.embedded.Stop() })
		fmt.Println("✅ Embedded PostgreSQL started")
		if err := runMigrations(cfg); err != nil {
			a.close()
			return nil, fmt.Errorf("migrate embedded postgres: %w", err)
		}
	}

	pool, err := postgres.NewPool(ctx, postgres.Config{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Database: cfg.Database.Database,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() { postgres.Close(pool) })
	fmt.Println("✅ Database connected")

	eventStore := postgres.NewEventStore(pool)
	runRepo := postgres.NewRunRepository(pool, eventStore)
	interruptRepo := postgres.NewInterruptRepository(pool, eventStore)
	checkpointRepo := postgres.NewCheckpointRepository(pool)

	// Agent definitions and orchestration groups/grants live in-process;
	// seed definitions from --agents-dir for multi-command workflows.
	var agentRepo agent.Repository = memory.NewAgentRepository()
	groupRepo := memory.NewGroupRepository()
	grantRepo := memory.NewGrantRepository()

	if redisCache, err := cache.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err == nil {
		a.redis = redisCache
		agentRepo = cache.NewCachedAgentRepository(agentRepo, redisCache, 5*time.Minute)
		fmt.Println("✅ Redis cache connected")
	} else {
		log.Printf("redis unavailable, running uncached: %v", err)
	}
	a.agentRepo = agentRepo

	toolRegistry := tools.NewRegistry()
	if err := tools.RegisterBuiltinTools(toolRegistry); err != nil {
		a.close()
		return nil, fmt.Errorf("register built-in tools: %w", err)
	}
	breaker := tools.NewCircuitBreaker()
	invoker := tools.NewInvoker(toolRegistry, tools.DefaultRetryPolicy, breaker)
	fmt.Println("✅ Tool registry initialized")

	agentsExec := infra_exec.NewAgentExecutor(cfg.LLM.OpenAIAPIKey, cfg.LLM.AnthropicAPIKey)

	a.queues = streaming.NewQueueRegistry()
	orchQueue := streaming.NewBoundedQueue("orchestration", 0)
	a.queues.Register("orchestration", orchQueue)

	// RunService and Kernel reference each other (the kernel starts child
	// runs through the service, the service wires kernel callbacks into
	// every run's ExecutionContext), so the starter closes over the
	// service variable assigned below.
	var runService *service.RunService
	starter := func(ctx context.Context, childRunID string) {
		go func() {
			if err := runService.ExecuteRun(ctx, childRunID); err != nil {
				log.Printf("child run %s failed to execute: %v", childRunID, err)
			}
		}()
	}
	kernel := orchapp.NewKernel(runRepo, groupRepo, grantRepo, streaming.NewEmitter(orchQueue), starter).
		WithLimits(orchapp.Limits{
			MaxChildrenPerParent:         cfg.Orchestration.MaxChildrenPerParent,
			MaxSubtreeDepth:              cfg.Orchestration.MaxSubtreeDepth,
			MaxConcurrentChildrenPerRoot: cfg.Orchestration.MaxConcurrentChildrenPerRoot,
		}).
		WithTokenSecret([]byte(cfg.Orchestration.DelegationTokenSecret))
	a.kernel = kernel

	execRegistry := infra_exec.BuildRegistry(agentsExec, nil)
	engine := graph.NewEngine(execRegistry, checkpointRepo)

	catalog := &graph.Catalog{KnownTools: toolRegistry.Slugs(), KnownModels: knownModels()}

	runService = service.NewRunService(
		runRepo, agentRepo, interruptRepo, checkpointRepo,
		engine, invoker, kernel, a.queues, catalog,
	)
	a.runService = runService

	a.sweeper = orchapp.NewTimeoutSweeper(kernel, groupRepo)
	if err := a.sweeper.Start("@every 30s"); err != nil {
		a.close()
		return nil, fmt.Errorf("start group timeout sweeper: %w", err)
	}
	a.closers = append(a.closers, a.sweeper.Stop)

	a.metrics = monitoring.NewMetrics("agentkernel")
	streaming.SetDropHook(func(string) { a.metrics.RecordEventDropped() })

	if flagAgentsDir != "" {
		n, err := seedAgents(ctx, flagAgentsDir, agentRepo)
		if err != nil {
			log.Printf("agent seed load failed: %v", err)
		} else if n > 0 {
			fmt.Printf("✅ Seeded %d agent definition(s) from %s\n", n, flagAgentsDir)
		}
	}

	return a, nil
}

// knownModels is the model catalog the compiler validates agent/llm nodes
// against. Kept as configuration rather than discovery — providers don't
// expose a stable listing API for this.
func knownModels() map[string]bool {
	return map[string]bool{
		"gpt-4o": true, "gpt-4o-mini": true, "gpt-4-turbo": true, "o1-mini": true,
		"claude-3-5-sonnet-latest": true, "claude-3-5-haiku-latest": true, "claude-3-opus-latest": true,
	}
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	fmt.Println("🚀 agentkernel server")
	fmt.Printf("📍 Server: %s\n", cfg.ServerAddr())
	fmt.Printf("🗄️  Database: %s:%d/%s\n", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)

	ctx := context.Background()

	shutdownTracer, err := monitoring.InitTracer(ctx, "agentkernel", cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	a, err := buildApp(ctx, cfg, flagEmbeddedDB)
	if err != nil {
		return err
	}
	defer a.close()

	// The NATS bridge republishes committed domain events out of the
	// transactional outbox; the server still works without a broker, the
	// events just stay local.
	outbox := postgres.NewOutbox(a.pool)
	logger := watermill.NewStdLogger(false, false)
	if publisher, err := nats.NewPublisher(cfg.NATS.URL, logger); err == nil {
		defer publisher.Close()
		outboxRelay := messaging.NewOutboxRelay(outbox, publisher, 1*time.Second, 10)
		go func() {
			if err := outboxRelay.Start(ctx); err != nil {
				log.Printf("outbox relay error: %v", err)
			}
		}()
		defer outboxRelay.Stop()

		cleanupWorker := messaging.NewCleanupWorker(outbox, 1*time.Hour, 7)
		go func() {
			if err := cleanupWorker.Start(ctx); err != nil {
				log.Printf("cleanup worker error: %v", err)
			}
		}()
		defer cleanupWorker.Stop()
		fmt.Println("✅ NATS outbox relay started")
	} else {
		log.Printf("NATS unavailable, events stay local: %v", err)
	}

	e := buildRouter(a)

	go func() {
		fmt.Printf("🌐 Server listening on %s\n", cfg.ServerAddr())
		if err := e.Start(cfg.ServerAddr()); err != nil {
			log.Printf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	fmt.Println("\n🛑 Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	fmt.Println("👋 Shutdown complete")
	return nil
}

// buildRouter assembles the echo server: middleware, auth, and the full
// Runtime API surface over the wired core.
func buildRouter(a *app) *echo.Echo {
	eventStore := postgres.NewEventStore(a.pool)
	runRepo := postgres.NewRunRepository(a.pool, eventStore)

	// Command/query handlers
	startRun := command.NewStartRunHandler(a.runService)
	resumeRun := command.NewResumeRunHandler(a.runService)
	cancelRun := command.NewCancelRunHandler(a.runService)
	getRun := query.NewGetRunHandler(runRepo)
	listByAgent := query.NewListRunsByAgentHandler(runRepo)
	listByStatus := query.NewListRunsByStatusHandler(runRepo)
	getChildren := query.NewGetRunChildrenHandler(runRepo)

	createAgent := command.NewCreateAgentHandler(a.agentRepo)
	updateDraft := command.NewUpdateAgentDraftHandler(a.agentRepo)
	publishAgent := command.NewPublishAgentHandler(a.agentRepo)
	createVersion := command.NewCreateAgentVersionHandler(a.agentRepo)
	deprecateAgent := command.NewDeprecateAgentHandler(a.agentRepo)
	deleteAgent := command.NewDeleteAgentHandler(a.agentRepo)
	getAgent := query.NewGetAgentHandler(a.agentRepo)
	getBySlug := query.NewGetAgentBySlugHandler(a.agentRepo)
	getVersions := query.NewGetAgentVersionsHandler(a.agentRepo)
	listAgents := query.NewListAgentsHandler(a.agentRepo)
	searchAgents := query.NewSearchAgentsHandler(a.agentRepo)
	countAgents := query.NewCountAgentsHandler(a.agentRepo)

	runHandler := handlers.NewRunHandler(startRun, resumeRun, cancelRun, getRun, listByAgent, listByStatus, getChildren, a.runService)
	agentHandler := handlers.NewAgentHandler(createAgent, updateDraft, publishAgent, createVersion, deprecateAgent, deleteAgent, getAgent, getBySlug, getVersions, listAgents, searchAgents, countAgents)
	streamHandler := handlers.NewStreamHandler(a.queues)
	orchHandler := handlers.NewOrchestrationHandler(a.kernel, middleware.TenantFromContext)
	systemHandler := handlers.NewSystemHandler(GetVersion().ShortVersion())

	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = middleware.ErrorHandler()

	e.Use(middleware.Logger())
	e.Use(middleware.Metrics(a.metrics))
	e.Use(otelecho.Middleware("agentkernel"))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())

	if a.cfg.Auth.Enabled {
		e.Use(middleware.OptionalAuth(a.cfg.Auth.JWTSecret))
		fmt.Println("✅ Authentication enabled")

		oauthCfg := auth.OAuthConfig{
			GoogleClientID:     a.cfg.Auth.GoogleClientID,
			GoogleClientSecret: a.cfg.Auth.GoogleClientSecret,
			GitHubClientID:     a.cfg.Auth.GitHubClientID,
			GitHubClientSecret: a.cfg.Auth.GitHubClientSecret,
			RedirectURL:        a.cfg.Auth.OAuthRedirectURL,
			JWTSecret:          a.cfg.Auth.JWTSecret,
			DefaultTenantID:    a.cfg.Auth.DefaultTenantID,
		}
		if a.redis != nil {
			oauthCfg.StateStore = cache.NewRedisStateStore(a.redis)
			oauthManager := auth.NewOAuthManager(oauthCfg)
			e.GET("/auth/google/login", oauthManager.LoginHandler(auth.ProviderGoogle))
			e.GET("/auth/google/callback", oauthManager.CallbackHandler(auth.ProviderGoogle))
			e.GET("/auth/github/login", oauthManager.LoginHandler(auth.ProviderGitHub))
			e.GET("/auth/github/callback", oauthManager.CallbackHandler(auth.ProviderGitHub))

			auth.ConfigureSessionAuth(oauthCfg, a.cfg.Auth.JWTSecret)
			e.GET("/auth/session/:provider", auth.SessionLoginHandler())
			e.GET("/auth/session/:provider/callback", auth.SessionCallbackHandler(oauthManager))
			e.GET("/auth/session/:provider/logout", auth.SessionLogoutHandler())
		}
	}

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{"status": "healthy", "version": GetVersion().ShortVersion()})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/ok", systemHandler.Ok)
	e.GET("/info", systemHandler.Info)

	api := e.Group("/api/v1")

	// Runs (Runtime API: start_run, resume_run, cancel, queries)
	api.POST("/runs", runHandler.StartRun)
	api.GET("/runs", runHandler.ListRunsByStatus)
	api.GET("/runs/:run_id", runHandler.GetRun)
	api.POST("/runs/:run_id/resume", runHandler.ResumeRun)
	api.POST("/runs/:run_id/cancel", runHandler.CancelRun)
	api.GET("/runs/:run_id/children", runHandler.GetRunChildren)
	api.GET("/agents/:agent_id/runs", runHandler.ListRunsByAgent)

	// Streaming (run_and_stream consumer side)
	api.GET("/runs/:run_id/stream", streamHandler.StreamRun)
	api.GET("/stream", streamHandler.Stream)

	// Orchestration kernel surface
	api.POST("/runs/:run_id/spawn", orchHandler.SpawnRun)
	api.POST("/runs/:run_id/spawn-group", orchHandler.SpawnGroup)
	api.POST("/groups/:group_id/join", orchHandler.Join)
	api.POST("/runs/:run_id/cancel-subtree", orchHandler.CancelSubtree)

	// Agent definitions
	api.POST("/agents", agentHandler.CreateAgent)
	api.GET("/agents", agentHandler.ListAgents)
	api.GET("/agents/count", agentHandler.CountAgents)
	api.GET("/agents/slug/:slug", agentHandler.GetAgentBySlug)
	api.GET("/agents/:agent_id", agentHandler.GetAgent)
	api.PATCH("/agents/:agent_id", agentHandler.UpdateAgentDraft)
	api.DELETE("/agents/:agent_id", agentHandler.DeleteAgent)
	api.POST("/agents/:agent_id/publish", agentHandler.PublishAgent)
	api.POST("/agents/:agent_id/versions", agentHandler.CreateAgentVersion)
	api.GET("/agents/:agent_id/versions", agentHandler.GetAgentVersions)
	api.POST("/agents/:agent_id/deprecate", agentHandler.DeprecateAgent)

	return e
}

// seedAgents loads agent definition JSON files from dir into the
// repository, publishing each so runs can target them immediately.
func seedAgents(ctx context.Context, dir string, repo agent.Repository) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}

	type seed struct {
		TenantID     string                 `json:"tenant_id"`
		Slug         string                 `json:"slug"`
		Name         string                 `json:"name"`
		Graph        agent.Graph            `json:"graph"`
		MemoryConfig map[string]interface{} `json:"memory_config"`
	}

	count := 0
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return count, err
		}
		var s seed
		if err := json.Unmarshal(raw, &s); err != nil {
			return count, fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		def, err := agent.NewAgentDefinition(s.TenantID, s.Slug, s.Name, s.Graph, s.MemoryConfig, agent.ExecutionConstraints{})
		if err != nil {
			return count, fmt.Errorf("build %s: %w", entry.Name(), err)
		}
		if err := def.Publish(); err != nil {
			return count, err
		}
		if err := repo.Save(ctx, def); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}
