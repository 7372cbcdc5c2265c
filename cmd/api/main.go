package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"call-scheduler/internal/accounts"
	"call-scheduler/internal/audit"
	"call-scheduler/internal/auth"
	"call-scheduler/internal/config"
	"call-scheduler/internal/directory"
	"call-scheduler/internal/dispatch"
	"call-scheduler/internal/httpapi"
	"call-scheduler/internal/mediaauth"
	"call-scheduler/internal/migrations"
	"call-scheduler/internal/provisioning"
	"call-scheduler/internal/reporting"
	"call-scheduler/internal/scheduler"
	"call-scheduler/internal/tasks"
	"call-scheduler/internal/telephony"
	"call-scheduler/pkg/logger"
	"call-scheduler/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)
	rootCtx = logger.With(rootCtx, log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := migrations.Run(rootCtx, db); err != nil {
		log.Error("migrations failed", "err", err)
		os.Exit(1)
	}

	var rdb *redis.Client
	if cfg.RedisEnabled() {
		rdb, err = utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr(), Password: cfg.Redis.Password})
		if err != nil {
			log.Error("redis init failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
	}

	provider, err := telephony.NewClient(telephony.ClientConfig{
		BaseURL:         cfg.Provider.APIURL,
		ParentAccountID: cfg.Provider.ParentAccountID,
		ParentAPIKey:    cfg.Provider.ParentAPIKey,
		Timeout:         cfg.Provider.Timeout,
		RatePerSec:      cfg.Provider.RatePerSec,
	})
	if err != nil {
		log.Error("provider client init failed", "err", err)
		os.Exit(1)
	}

	// Stores and collaborators
	registry := accounts.NewPostgresRegistry(db)
	taskRepo := tasks.NewPostgresRepo(db)
	auditSvc := audit.NewService(audit.NewPostgresRepo(db))
	contacts := directory.NewContacts(db)
	assistantDir := directory.NewAssistants(db)
	legacy := directory.NewLegacyConfigs(db)

	// Services
	accountSvc := accounts.NewService(registry)
	taskSvc := tasks.NewService(taskRepo, directory.NewReferences(contacts, assistantDir), auditSvc)
	orchestrator := provisioning.NewOrchestrator(registry, provider, auditSvc, provisioning.Config{
		TemplateAccountID: cfg.Provider.TemplateAccountID,
		CallbackURL:       cfg.Provider.CallbackURL,
		CallbackSecret:    cfg.Provider.CallbackSecret,
	})
	accountOps := provisioning.NewAccountOps(registry, provider, cfg.Provider.CountryCode)
	verification := provisioning.NewVerificationSync(registry, accountSvc, provider, 0)
	dispatcher := dispatch.NewDispatcher(dispatch.NewRouter(registry, legacy), assistantDir, contacts, provider, cfg.Dispatch.Timezone)

	handlers := httpapi.Handlers{
		Auth:         authManager,
		Tasks:        taskSvc,
		Accounts:     accountSvc,
		Provisioner:  orchestrator,
		AccountOps:   accountOps,
		Assistants:   assistantDir,
		Reporting:    reporting.NewService(taskRepo, registry),
		Audit:        auditSvc,
		Recordings:   mediaauth.NewRecordingAuthorizer(registry, mediaauth.NewIssuer()),
		AllowDevAuth: !cfg.IsProduction(),
	}
	callbacks := telephony.CallbackHandler{Sink: verification, Secret: cfg.Provider.CallbackSecret}

	// Gin router
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	registerRoutes(r, routeDeps{
		handlers:  handlers,
		authMW:    auth.RequireAccessToken(authManager),
		callbacks: callbacks,
		health: func(ctx context.Context) error {
			return utils.HealthCheck(ctx, db, 2*time.Second)
		},
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.Scheduler.Enabled {
		var lock scheduler.TickLock
		if cfg.Scheduler.SingleOwner {
			if rdb != nil {
				lock = scheduler.NewRedisTickLock(rdb, 2*cfg.Scheduler.Interval)
			} else {
				lock = scheduler.NewPostgresTickLock(db)
			}
		}
		loop := scheduler.NewLoop(taskRepo, dispatcher, lock, auditSvc, scheduler.Config{
			Interval:          cfg.Scheduler.Interval,
			StartDelay:        cfg.Scheduler.StartDelay,
			BatchSize:         cfg.Scheduler.BatchSize,
			Concurrency:       cfg.Scheduler.Concurrency,
			StoreTimeout:      cfg.Scheduler.StoreTimeout,
			StalePendingAfter: cfg.Scheduler.StalePendingAfter,
		})
		g.Go(func() error { return loop.Run(gctx) })
	}

	if spec := cfg.Scheduler.VerificationSyncSchedule; spec != "" {
		c := cron.New()
		if _, err := verification.Schedule(gctx, c, spec); err != nil {
			log.Error("verification sync schedule invalid", "err", err, "spec", spec)
			os.Exit(1)
		}
		g.Go(func() error {
			c.Start()
			<-gctx.Done()
			<-c.Stop().Done()
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown initiated")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "err", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("service stopped with error", "err", err)
		os.Exit(1)
	}
	log.Info("service stopped")
}
