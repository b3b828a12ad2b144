package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Kocoro-lab/Shannon/go/planner/internal/activities"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/auth"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/checkpoint"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/circuitbreaker"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/config"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/health"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/httpapi"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/models"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/policy"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/ratecontrol"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/streaming"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/temporal"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/tools"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/tracing"
	"github.com/Kocoro-lab/Shannon/go/planner/internal/workflows"
)

func main() {
	configPath := flag.String("config", os.Getenv("PLANNER_CONFIG"), "optional YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Planner exited", zap.Error(err))
	}
	logger.Info("Planner stopped")
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Environment == "dev" {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("log_level: %w", err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	shutdownTracing, err := tracing.Initialize(cfg.Tracing, logger)
	if err != nil {
		logger.Warn("Tracing disabled", zap.Error(err))
		shutdownTracing = func(context.Context) error { return nil }
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(sctx)
	}()

	store, err := checkpoint.Open(ctx, cfg.Checkpoint, logger)
	if err != nil {
		return fmt.Errorf("open checkpoint store: %w", err)
	}
	defer store.Close()

	limiter := ratecontrol.NewLimiter(cfg.RateLimits, logger)
	model := models.NewOpenAIClient(cfg.LLM, limiter, cfg.CircuitBreaker.Model.Merge(circuitbreaker.ModelSettings()), logger)
	registry := tools.NewRegistry(model, cfg.CircuitBreaker.Tool.Merge(circuitbreaker.ToolSettings()), logger)
	defer registry.Close()

	approvals, err := policy.NewApprovalPolicy(cfg.Policy, logger)
	if err != nil {
		return fmt.Errorf("load approval policy: %w", err)
	}

	mcpPath := cfg.MCP.ConfigFile
	if mcpPath != "" && !filepath.IsAbs(mcpPath) {
		mcpPath = filepath.Join(cfg.ConfigDir, mcpPath)
	}
	mcp, err := loadMCP(mcpPath)
	if err != nil {
		return err
	}
	builder := activities.NewBuilder(model, registry, approvals, cfg.Settings(), cfg.Connection(mcp), logger)

	events := streaming.NewManager(cfg.Streaming.Capacity, logger)
	if cfg.Streaming.NATS.Enabled {
		closeNATS, err := attachNATS(cfg.Streaming.NATS, events, logger)
		if err != nil {
			return err
		}
		defer closeNATS()
	}

	engine := workflows.NewEngine(builder, store, logger, workflows.WithEvents(events))

	var authMW func(http.Handler) http.Handler
	if cfg.Auth.Enabled {
		var jwtManager *auth.JWTManager
		if cfg.Auth.JWTSecret != "" {
			jwtManager = auth.NewJWTManager(cfg.Auth.JWTSecret, 24*time.Hour)
		}
		authMW = auth.NewAuthenticator(cfg.Auth, jwtManager, logger).HTTPMiddleware
	}

	mux := http.NewServeMux()
	httpapi.NewRunHandler(engine, logger).WithBaseContext(ctx).RegisterRoutes(mux, authMW)
	httpapi.NewStreamingHandler(events, logger).RegisterRoutes(mux, authMW)

	if cfg.Temporal.Enabled {
		tc, err := temporal.Dial(temporal.ClientConfig{HostPort: cfg.Temporal.HostPort, Namespace: cfg.Temporal.Namespace}, logger)
		if err != nil {
			return err
		}
		defer tc.Close()
		w := temporal.NewWorker(tc, cfg.Temporal.TaskQueue, activities.NewActivities(builder, logger))
		if err := w.Start(); err != nil {
			return fmt.Errorf("start temporal worker: %w", err)
		}
		defer w.Stop()
		httpapi.NewWorkflowHandler(tc, cfg.Temporal.TaskQueue, logger).RegisterRoutes(mux, authMW)
		logger.Info("Temporal worker started", zap.String("task_queue", cfg.Temporal.TaskQueue))
	}

	hm := health.NewManager(logger)
	if err := registerHealth(hm, cfg, store, logger); err != nil {
		return err
	}
	admin := http.NewServeMux()
	health.NewHTTPHandler(hm, logger).RegisterRoutes(admin)
	admin.Handle("/metrics", promhttp.Handler())

	watcher, err := config.NewWatcher(logger, cfg.ConfigDir, policyDir(cfg.Policy.Path))
	if err != nil {
		return err
	}
	watcher.RegisterHandler(filepath.Base(mcpPath), func(ev config.ChangeEvent) error {
		mcp, err := loadMCP(mcpPath)
		if err != nil {
			return err
		}
		builder.Update(builder.Settings(), cfg.Connection(mcp))
		registry.Invalidate()
		return nil
	})
	watcher.RegisterPolicyHandler(approvals.Reload)
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	servers := []*http.Server{
		{Addr: fmt.Sprintf(":%d", cfg.HTTP.Port), Handler: mux, ReadHeaderTimeout: 10 * time.Second},
		{Addr: fmt.Sprintf(":%d", cfg.HTTP.AdminPort), Handler: admin, ReadHeaderTimeout: 10 * time.Second},
	}
	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		srv := srv
		go func() {
			logger.Info("HTTP server listening", zap.String("addr", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("serve %s: %w", srv.Addr, err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("Shutting down")
	sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(sctx); err != nil {
			logger.Warn("HTTP shutdown", zap.String("addr", srv.Addr), zap.Error(err))
		}
	}
	return nil
}

// loadMCP treats a missing file as no MCP servers.
func loadMCP(path string) (tools.MCPConfig, error) {
	if path == "" {
		return tools.MCPConfig{}, nil
	}
	mcp, err := tools.LoadMCPConfig(path)
	if errors.Is(err, fs.ErrNotExist) {
		return tools.MCPConfig{}, nil
	}
	return mcp, err
}

func policyDir(path string) string {
	if path == "" {
		return ""
	}
	if filepath.Ext(path) == ".rego" {
		return filepath.Dir(path)
	}
	return path
}

func attachNATS(cfg streaming.NATSConfig, events *streaming.Manager, logger *zap.Logger) (func(), error) {
	url := cfg.URL
	var embedded *streaming.EmbeddedServer
	if cfg.Embedded {
		var err error
		if embedded, err = streaming.StartEmbeddedServer(cfg.Port); err != nil {
			return nil, fmt.Errorf("start embedded nats: %w", err)
		}
		url = embedded.ClientURL()
	}
	bridge, err := streaming.NewNATSBridge(url, cfg.SubjectPrefix, logger)
	if err != nil {
		if embedded != nil {
			embedded.Close()
		}
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	bridge.Attach(events)
	logger.Info("Run events bridged to NATS", zap.String("url", url))
	return func() {
		bridge.Close()
		if embedded != nil {
			embedded.Close()
		}
	}, nil
}

func registerHealth(hm *health.Manager, cfg *config.Config, store checkpoint.Store, logger *zap.Logger) error {
	if err := hm.RegisterChecker(health.NewStoreHealthChecker(store, cfg.Checkpoint.Backend, logger)); err != nil {
		return err
	}
	httpClient := &http.Client{Timeout: 5 * time.Second}
	return hm.RegisterChecker(health.NewModelEndpointHealthChecker(cfg.LLM.BaseURL, cfg.LLM.APIKey, httpClient, logger))
}
