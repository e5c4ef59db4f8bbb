package postgresadapter

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/entities"
)

// CreatorLinks reads the agent-to-creator graph maintained by the
// creator-linking service. The ledger never writes this table.
type CreatorLinks struct {
	db *gorm.DB
}

func NewCreatorLinks(db *gorm.DB) *CreatorLinks {
	return &CreatorLinks{db: db}
}

func (c *CreatorLinks) LinkedCreator(ctx context.Context, agentID string) (entities.Owner, bool, error) {
	var row creatorLinkModel
	err := c.db.WithContext(ctx).
		Where("agent_id = ?", agentID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Owner{}, false, nil
		}
		return entities.Owner{}, false, err
	}
	return entities.CreatorOwner(row.CreatorID), true, nil
}

type creatorLinkModel struct {
	AgentID   string `gorm:"column:agent_id;primaryKey"`
	CreatorID string `gorm:"column:creator_id"`
}

func (creatorLinkModel) TableName() string {
	return "agent_creator_links"
}
