// Fabric is an event-sourced control plane for multi-tenant workloads: HTTP
// command handlers append domain events to a durable NATS JetStream log, and
// a set of projectors consume the log to maintain the Postgres read model,
// the Kubernetes orchestrator state, and an outbound webhook mirror.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/demeter-run/fabric-sub000/internal/auth"
	"github.com/demeter-run/fabric-sub000/internal/config"
	"github.com/demeter-run/fabric-sub000/internal/event"
	"github.com/demeter-run/fabric-sub000/internal/metadata"
	"github.com/demeter-run/fabric-sub000/internal/project"
	"github.com/demeter-run/fabric-sub000/internal/projector/cache"
	"github.com/demeter-run/fabric-sub000/internal/projector/cluster"
	"github.com/demeter-run/fabric-sub000/internal/projector/notify"
	"github.com/demeter-run/fabric-sub000/internal/repository"
	"github.com/demeter-run/fabric-sub000/internal/resource"
	"github.com/demeter-run/fabric-sub000/internal/secret"
	"github.com/demeter-run/fabric-sub000/internal/usage"
	"github.com/demeter-run/fabric-sub000/internal/vault"
)

func main() {
	// --- Structured Logger ---
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("configuration load failed", zap.Error(err))
	}

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	// --- Vault Secret Loading (optional) ---
	pepper := cfg.Secret.Pepper
	if cfg.Vault.Address != "" {
		vaultClient, err := vault.New(cfg.Vault.Address, cfg.Vault.Token, logger)
		if err != nil {
			logger.Fatal("Vault connection failed", zap.Error(err))
		}
		secrets, err := vaultClient.GetKV2(cfg.Vault.SecretPath)
		if err != nil {
			logger.Fatal("Vault secret load failed", zap.Error(err))
		}
		if v, ok := secrets["SECRET_PEPPER"].(string); ok {
			pepper = v
		}
		if v, ok := secrets["PG_URL"].(string); ok && cfg.Database.URL == "" {
			cfg.Database.URL = v
		}
		vaultClient.StartRenewer(rootCtx)
		logger.Info("Vault secrets loaded", zap.String("path", cfg.Vault.SecretPath))
	}
	if pepper == "" {
		logger.Fatal("no secret pepper configured (secret.pepper or Vault SECRET_PEPPER)")
	}

	// --- Database Connection Pool (OTel-instrumented) ---
	pool, err := repository.NewPool(rootCtx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	store := repository.New(pool)
	if err := store.Migrate(rootCtx); err != nil {
		logger.Fatal("schema migration failed", zap.Error(err))
	}
	logger.Info("read model ready")

	// --- NATS JetStream ---
	bus, err := event.NewBus(cfg.NATS.URL, cfg.NATS.Topic, logger)
	if err != nil {
		logger.Fatal("NATS initialization failed", zap.Error(err))
	}
	defer bus.Close()
	if err := bus.Provision(); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}

	// --- Resource Metadata ---
	registry, err := metadata.LoadDir(cfg.Metadata.Path)
	if err != nil {
		logger.Fatal("metadata load failed", zap.Error(err))
	}
	logger.Info("resource metadata loaded", zap.Strings("kinds", registry.Kinds()))

	// --- Aggregates ---
	idp := auth.NewOIDCClient(cfg.Auth.URL, cfg.Auth.ClientID, cfg.Auth.ClientSecret, cfg.Auth.Audience, logger)
	gate := auth.NewGate(store)
	secretSvc := secret.NewService(store, gate, bus, []byte(pepper), logger)
	projectSvc := project.NewService(store, gate, bus, project.NewLogEmailSender(logger), idp, logger)
	resourceSvc := resource.NewService(store, gate, bus, registry, logger)
	usageSvc := usage.NewService(store, gate, registry, logger)

	// --- Projectors ---
	cacheProjector := cache.NewProjector(store, logger)
	if err := bus.Subscribe(rootCtx, cache.Group, cacheProjector.Apply); err != nil {
		logger.Fatal("cache projector start failed", zap.Error(err))
	}

	if cfg.Kubeconfig != "" || inCluster() {
		client, err := cluster.NewDynamicClient(cfg.Kubeconfig)
		if err != nil {
			logger.Fatal("orchestrator client failed", zap.Error(err))
		}
		clusterProjector := cluster.NewProjector(client, logger)
		if err := bus.Subscribe(rootCtx, cluster.Group, clusterProjector.Apply); err != nil {
			logger.Fatal("cluster projector start failed", zap.Error(err))
		}
	} else {
		logger.Warn("cluster projector disabled: no kubeconfig and not in-cluster")
	}

	if cfg.Webhook.URL != "" {
		notifyProjector := notify.NewProjector(cfg.Webhook.URL, cfg.Webhook.Secret, cfg.Webhook.Events, logger)
		if err := bus.Subscribe(rootCtx, notify.Group, notifyProjector.Apply); err != nil {
			logger.Fatal("notify projector start failed", zap.Error(err))
		}
	}

	// --- Usage Scheduler (one worker per cluster) ---
	if cfg.ClusterID != "" && cfg.Prometheus.URL != "" {
		source, err := usage.NewPrometheusClient(cfg.Prometheus.URL, logger)
		if err != nil {
			logger.Fatal("prometheus client failed", zap.Error(err))
		}
		go usage.NewScheduler(cfg.ClusterID, cfg.Usage.Delay, source, bus, logger).Run(rootCtx)
	}

	// --- Cron (invite-expiry sweep) ---
	runner := cron.New()
	if err := project.NewInviteSweeper(store, logger).Register(runner); err != nil {
		logger.Fatal("invite sweeper registration failed", zap.Error(err))
	}
	runner.Start()
	defer runner.Stop()

	// --- HTTP Server (Echo) ---
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("fabric"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	e.Use(auth.Middleware(idp, secretSvc, logger))

	e.GET("/healthz", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"status": "degraded"})
		}
		return c.JSON(http.StatusOK, echo.Map{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	auth.NewHandler(idp, logger).Register(e)
	project.NewHandler(projectSvc, logger).Register(e)
	secret.NewHandler(secretSvc, logger).Register(e)
	resource.NewHandler(resourceSvc, logger).Register(e)
	usage.NewHandler(usageSvc, logger).Register(e)

	go func() {
		logger.Info("fabric HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := e.Start(cfg.Server.Addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("initiating graceful shutdown")
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error", zap.Error(err))
	}
}

// inCluster reports whether the process runs inside a Kubernetes pod.
func inCluster() bool {
	_, err := os.Stat("/var/run/secrets/kubernetes.io/serviceaccount/token")
	return err == nil
}
