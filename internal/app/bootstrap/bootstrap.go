package bootstrap

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	billingledger "github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger"
	postgresadapter "github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/adapters/postgres"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/application/workers"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/entities"
	"github.com/DandaAkhilReddy/agentchains-sub001/internal/platform/config"
	"github.com/DandaAkhilReddy/agentchains-sub001/internal/platform/db"
	"github.com/DandaAkhilReddy/agentchains-sub001/internal/platform/httpserver"
	"github.com/DandaAkhilReddy/agentchains-sub001/internal/platform/messaging"
)

// Package bootstrap is the composition root. Keep construction/wiring
// here so module code stays framework-agnostic.

type APIApp struct {
	Module   billingledger.Module
	server   *httpserver.Server
	postgres *db.Postgres
	logger   *slog.Logger
}

type WorkerApp struct {
	postgres     *db.Postgres
	kafka        *messaging.Kafka
	outboxRelay  workers.OutboxRelay
	pollInterval time.Duration
	logger       *slog.Logger
}

func BuildAPI() (*APIApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "api")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	if err := repo.Migrate(); err != nil {
		_ = pg.Close()
		return nil, err
	}

	module := billingledger.NewModule(billingledger.Dependencies{
		Accounts:     repo,
		Ledger:       repo,
		UnitOfWork:   repo,
		CreatorLinks: postgresadapter.NewCreatorLinks(pg.DB),
		Outbox:       repo,
		Clock:        postgresadapter.SystemClock{},
		IDGenerator:  postgresadapter.UUIDGenerator{},
		FeePct:       cfg.FeePct,
		RoyaltyPct:   cfg.RoyaltyPct,
		LockWait:     cfg.LockWaitTimeout,
		Logger:       logger,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if _, err := module.Service.EnsureAccount(ctx, entities.PlatformOwner()); err != nil {
		_ = pg.Close()
		return nil, err
	}

	return &APIApp{
		Module:   module,
		server:   httpserver.New(module, logger, cfg.HTTPAddr),
		postgres: pg,
		logger:   logger,
	}, nil
}

// Run serves HTTP until the listener fails or the context is cancelled.
func (a *APIApp) Run(ctx context.Context) error {
	a.logger.Info("billing ledger ready",
		"event", "billing_ledger_ready",
		"module", "internal/app/bootstrap",
		"layer", "platform",
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

func (a *APIApp) Close() error {
	return a.postgres.Close()
}

func BuildWorker() (*WorkerApp, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := slog.Default().With("service", cfg.ServiceName, "process", "worker")
	if strings.TrimSpace(cfg.PostgresDSN) == "" {
		return nil, errors.New("POSTGRES_DSN is required")
	}

	pg, err := db.Connect(cfg.PostgresDSN)
	if err != nil {
		return nil, err
	}

	kafka, err := messaging.NewKafka(cfg.KafkaBrokers, logger)
	if err != nil {
		_ = pg.Close()
		return nil, err
	}

	repo := postgresadapter.NewRepository(pg.DB, logger)
	return &WorkerApp{
		postgres: pg,
		kafka:    kafka,
		outboxRelay: workers.OutboxRelay{
			Outbox:    repo,
			Publisher: kafka,
			Clock:     postgresadapter.SystemClock{},
			Topic:     cfg.LedgerTopic,
			BatchSize: cfg.OutboxBatchSize,
			Logger:    logger,
		},
		pollInterval: cfg.OutboxPollInterval,
		logger:       logger,
	}, nil
}

func (w *WorkerApp) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := w.outboxRelay.RunOnce(ctx); err != nil {
				w.logger.Warn("outbox relay cycle failed",
					"event", "outbox_relay_cycle_failed",
					"module", "internal/app/bootstrap",
					"layer", "worker",
					"error", err.Error(),
				)
			}
		}
	}
}

func (w *WorkerApp) Close() error {
	if err := w.kafka.Close(); err != nil {
		w.logger.Warn("kafka close failed",
			"event", "kafka_close_failed",
			"module", "internal/app/bootstrap",
			"layer", "worker",
			"error", err.Error(),
		)
	}
	return w.postgres.Close()
}
