package billingledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	httpadapter "github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/adapters/http"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/adapters/memory"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/application"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/entities"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/ports"
)

type Module struct {
	Handler httpadapter.Handler
	Service application.Service
	Store   *memory.Store
	Links   *memory.CreatorLinks
}

type Dependencies struct {
	Accounts     ports.AccountStore
	Ledger       ports.LedgerReader
	UnitOfWork   ports.UnitOfWork
	CreatorLinks ports.CreatorLinkLookup
	Outbox       ports.OutboxWriter
	Clock        ports.Clock
	IDGenerator  ports.IDGenerator
	FeePct       decimal.Decimal
	RoyaltyPct   decimal.Decimal
	LockWait     time.Duration
	Logger       *slog.Logger
}

func NewModule(deps Dependencies) Module {
	service := application.Service{
		Accounts:     deps.Accounts,
		Ledger:       deps.Ledger,
		UnitOfWork:   deps.UnitOfWork,
		CreatorLinks: deps.CreatorLinks,
		Outbox:       deps.Outbox,
		Clock:        deps.Clock,
		IDGen:        deps.IDGenerator,
		FeePct:       deps.FeePct,
		RoyaltyPct:   deps.RoyaltyPct,
		LockWait:     deps.LockWait,
		Logger:       deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Service: service,
			Logger:  deps.Logger,
		},
		Service: service,
	}
}

// NewInMemoryModule wires the module against the in-memory adapters and
// bootstraps the platform treasury account.
func NewInMemoryModule(logger *slog.Logger) Module {
	store := memory.NewStore()
	links := memory.NewCreatorLinks()
	module := NewModule(Dependencies{
		Accounts:     store,
		Ledger:       store,
		UnitOfWork:   store,
		CreatorLinks: links,
		Outbox:       store,
		Clock:        store,
		IDGenerator:  store,
		FeePct:       decimal.NewFromFloat(0.02),
		RoyaltyPct:   decimal.NewFromFloat(0.20),
		LockWait:     5 * time.Second,
		Logger:       logger,
	})
	module.Store = store
	module.Links = links
	if _, err := module.Service.EnsureAccount(context.Background(), entities.PlatformOwner()); err != nil {
		application.ResolveLogger(logger).Error("platform account bootstrap failed",
			"event", "ledger_platform_bootstrap_failed",
			"module", "finance-core/billing-ledger",
			"layer", "module",
			"error", err.Error(),
		)
	}
	return module
}
