package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	invitationshandler "github.com/opsgate-labs/backoffice-core/domains/invitations/be/handler"
	invitationsrepo "github.com/opsgate-labs/backoffice-core/domains/invitations/be/repo"
	invitationsservice "github.com/opsgate-labs/backoffice-core/domains/invitations/be/service"
	organizationshandler "github.com/opsgate-labs/backoffice-core/domains/organizations/be/handler"
	organizationsrepo "github.com/opsgate-labs/backoffice-core/domains/organizations/be/repo"
	organizationsservice "github.com/opsgate-labs/backoffice-core/domains/organizations/be/service"
	transfershandler "github.com/opsgate-labs/backoffice-core/domains/transfers/be/handler"
	transfersrepo "github.com/opsgate-labs/backoffice-core/domains/transfers/be/repo"
	transfersservice "github.com/opsgate-labs/backoffice-core/domains/transfers/be/service"
	platformauth "github.com/opsgate-labs/backoffice-core/platform/go/auth"
	platformlogging "github.com/opsgate-labs/backoffice-core/platform/go/logging"
	platformmiddleware "github.com/opsgate-labs/backoffice-core/platform/go/middleware"
	"github.com/opsgate-labs/backoffice-core/platform/go/notify"
	"github.com/opsgate-labs/backoffice-core/platform/go/persistence"
)

type config struct {
	Port            string        `env:"PORT" envDefault:"3000"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RequestTimeout  time.Duration `env:"REQUEST_TIMEOUT" envDefault:"15s"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL     string        `env:"DATABASE_URL,required"`
	AuthSecret      string        `env:"AUTH_SECRET,required"`
	GracePeriod     time.Duration `env:"DELETION_GRACE_PERIOD" envDefault:"720h"`
	TransferExpiry  time.Duration `env:"TRANSFER_EXPIRY" envDefault:"72h"`
	InvitationTTL   time.Duration `env:"INVITATION_TTL" envDefault:"168h"`
	NotifyWebhook   string        `env:"NOTIFY_WEBHOOK_URL"`
	NotifyTimeout   time.Duration `env:"NOTIFY_TIMEOUT" envDefault:"5s"`
}

func main() {
	ctx := context.Background()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "api-server",
		Level:     cfg.LogLevel,
	})
	if err != nil {
		log.Fatalf("init zap logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	pool, err := persistence.NewPool(ctx, persistence.PoolConfig{ConnString: cfg.DatabaseURL})
	if err != nil {
		logger.Fatal("init postgres pool", zap.Error(err))
	}
	defer persistence.ClosePool(pool)

	if err := persistence.Bootstrap(ctx, pool); err != nil {
		logger.Fatal("apply schema", zap.Error(err))
	}

	db := persistence.NewDB(pool)

	organizationStore, err := persistence.NewOrganizationStore(pool, db)
	if err != nil {
		logger.Fatal("init organization store", zap.Error(err))
	}
	membershipStore, err := persistence.NewMembershipStore(pool, db)
	if err != nil {
		logger.Fatal("init membership store", zap.Error(err))
	}
	transferStore, err := persistence.NewTransferStore(pool, db)
	if err != nil {
		logger.Fatal("init transfer store", zap.Error(err))
	}
	invitationStore, err := persistence.NewInvitationStore(pool, db)
	if err != nil {
		logger.Fatal("init invitation store", zap.Error(err))
	}

	var notifier notify.Notifier
	if strings.TrimSpace(cfg.NotifyWebhook) != "" {
		notifier = notify.NewWebhookNotifier(cfg.NotifyWebhook, cfg.NotifyTimeout)
	} else {
		notifier = notify.NewLogNotifier(logger)
	}

	organizationService := organizationsservice.New(
		organizationsrepo.NewPostgresRepository(organizationStore, membershipStore),
		notifier,
		logger,
		organizationsservice.WithGracePeriod(cfg.GracePeriod),
	)
	organizationHandler := organizationshandler.New(organizationService, logger)

	transferService := transfersservice.New(
		transfersrepo.NewPostgresRepository(transferStore, membershipStore),
		notifier,
		logger,
		transfersservice.WithExpiry(cfg.TransferExpiry),
	)
	transferHandler := transfershandler.New(transferService, logger)

	invitationService := invitationsservice.New(
		invitationsrepo.NewPostgresRepository(invitationStore),
		notifier,
		logger,
		invitationsservice.WithTTL(cfg.InvitationTTL),
	)
	invitationHandler := invitationshandler.New(invitationService, logger)

	sessions, err := platformauth.NewSessions(cfg.AuthSecret)
	if err != nil {
		logger.Fatal("init sessions", zap.Error(err))
	}

	platformmiddleware.RegisterMetrics()

	rootRouter := chi.NewRouter()
	rootRouter.Use(
		chimw.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		chimw.Timeout(cfg.RequestTimeout),
		platformmiddleware.DefaultCORS(),
	)
	rootRouter.Use(platformlogging.RequestLogger(logger))
	rootRouter.Use(platformmiddleware.Metrics)

	rootRouter.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	rootRouter.Handle("/metrics", platformmiddleware.MetricsHandler())

	apiRouter := chi.NewRouter()
	apiRouter.Use(platformauth.Middleware(sessions, logger))
	apiRouter.Use(platformmiddleware.RequestTrace)

	organizationHandler.Mount(apiRouter)
	transferHandler.MountOrganizationRoutes(apiRouter)
	transferHandler.MountTransferRoutes(apiRouter)
	invitationHandler.MountOrganizationRoutes(apiRouter)
	invitationHandler.MountInvitationRoutes(apiRouter)

	rootRouter.Mount("/api/v1", apiRouter)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      rootRouter,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	go func() {
		logger.Info("starting api server", zap.String("port", cfg.Port))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server listen failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)
	<-stop

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}
