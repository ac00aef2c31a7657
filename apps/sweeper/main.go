package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/caarlos0/env/v11"
	"go.uber.org/zap"

	organizationsrepo "github.com/opsgate-labs/backoffice-core/domains/organizations/be/repo"
	organizationsservice "github.com/opsgate-labs/backoffice-core/domains/organizations/be/service"
	platformlogging "github.com/opsgate-labs/backoffice-core/platform/go/logging"
	"github.com/opsgate-labs/backoffice-core/platform/go/notify"
	"github.com/opsgate-labs/backoffice-core/platform/go/persistence"
)

type config struct {
	LogLevel    string        `env:"LOG_LEVEL" envDefault:"info"`
	DatabaseURL string        `env:"DATABASE_URL,required"`
	Interval    time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
	RunOnce     bool          `env:"SWEEP_ONCE" envDefault:"false"`
}

// The sweeper catches stored state up with derived state: it purges
// organizations whose deletion schedule has passed and rewrites pending
// transfers and invitations that are past their deadline. Reads never depend
// on it; every manager derives expiry at read time.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger, err := platformlogging.NewLogger(platformlogging.Config{
		Component: "sweeper",
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

	organizationService := organizationsservice.New(
		organizationsrepo.NewPostgresRepository(organizationStore, membershipStore),
		notify.NewLogNotifier(logger),
		logger,
	)

	sweep := func() {
		now := time.Now().UTC()

		purged, err := organizationService.SweepDue(ctx)
		if err != nil {
			logger.Error("sweep organizations", zap.Error(err))
		} else if len(purged) > 0 {
			logger.Info("purged organizations", zap.Int("count", len(purged)))
		}

		n, err := transferStore.MarkExpired(ctx, now)
		if err != nil {
			logger.Error("expire transfers", zap.Error(err))
		} else if n > 0 {
			logger.Info("expired transfers", zap.Int64("count", n))
		}

		n, err = invitationStore.MarkExpired(ctx, now)
		if err != nil {
			logger.Error("expire invitations", zap.Error(err))
		} else if n > 0 {
			logger.Info("expired invitations", zap.Int64("count", n))
		}
	}

	logger.Info("sweeper started", zap.Duration("interval", cfg.Interval), zap.Bool("once", cfg.RunOnce))
	sweep()
	if cfg.RunOnce {
		return
	}

	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			sweep()
		}
	}
}
