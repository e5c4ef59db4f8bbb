package memory

import (
	"context"
	"sync"

	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/entities"
)

// CreatorLinks is an in-memory owner graph for tests and single-process
// wiring. The real graph is owned by the creator-linking collaborator;
// the ledger only queries it.
type CreatorLinks struct {
	mu    sync.RWMutex
	links map[string]entities.Owner
}

func NewCreatorLinks() *CreatorLinks {
	return &CreatorLinks{links: make(map[string]entities.Owner)}
}

func (c *CreatorLinks) Link(agentID string, creator entities.Owner) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.links[agentID] = creator
}

func (c *CreatorLinks) LinkedCreator(_ context.Context, agentID string) (entities.Owner, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	creator, ok := c.links[agentID]
	return creator, ok, nil
}
