package postgresadapter

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/entities"
	domainerrors "github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/domain/errors"
	"github.com/DandaAkhilReddy/agentchains-sub001/contexts/finance-core/billing-ledger/ports"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"

	// Advisory lock key serializing the chain append point. Reading the
	// tail hash and inserting the new entry happen under this lock, so
	// every entry sees a consistent predecessor.
	chainAppendLockKey int64 = 0x6c65646765720001

	pgUniqueViolation = "23505"
)

type Repository struct {
	db     *gorm.DB
	logger *slog.Logger
}

func NewRepository(db *gorm.DB, logger *slog.Logger) *Repository {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{db: db, logger: logger}
}

// Migrate creates the ledger tables. The unique index on idempotency_key
// is the real exactly-once guarantee; the guard in the service is only a
// fast path.
func (r *Repository) Migrate() error {
	return r.db.AutoMigrate(&accountModel{}, &ledgerEntryModel{}, &outboxModel{})
}

func (r *Repository) EnsureAccount(ctx context.Context, owner entities.Owner, accountID string, now time.Time) (entities.Account, bool, error) {
	if !owner.Valid() {
		return entities.Account{}, false, domainerrors.ErrInvalidOwner
	}
	row := accountModel{
		AccountID: accountID,
		OwnerType: string(owner.Type),
		OwnerRef:  owner.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	insert := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_type"}, {Name: "owner_ref"}},
			DoNothing: true,
		}).
		Create(&row)
	if insert.Error != nil {
		return entities.Account{}, false, insert.Error
	}
	created := insert.RowsAffected == 1

	var existing accountModel
	if err := r.db.WithContext(ctx).
		Where("owner_type = ? AND owner_ref = ?", string(owner.Type), owner.ID).
		First(&existing).
		Error; err != nil {
		return entities.Account{}, false, err
	}
	return existing.toEntity(), created, nil
}

func (r *Repository) GetAccountByOwner(ctx context.Context, owner entities.Owner) (entities.Account, error) {
	var row accountModel
	err := r.db.WithContext(ctx).
		Where("owner_type = ? AND owner_ref = ?", string(owner.Type), owner.ID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Account{}, domainerrors.ErrAccountNotFound
		}
		return entities.Account{}, err
	}
	return row.toEntity(), nil
}

// WithAccountLocks opens one transaction, takes SELECT ... FOR UPDATE row
// locks in exactly the order given, and runs fn against the transaction.
// Lock waits honor the caller's context deadline.
func (r *Repository) WithAccountLocks(ctx context.Context, accountIDs []string, fn func(tx ports.LedgerTx) error) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, accountID := range accountIDs {
			var row accountModel
			if err := tx.
				Clauses(clause.Locking{Strength: "UPDATE"}).
				Where("account_id = ?", accountID).
				First(&row).
				Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return domainerrors.ErrAccountNotFound
				}
				return err
			}
		}
		return fn(&pgTx{tx: tx})
	})
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domainerrors.ErrLockTimeout
	}
	return err
}

type pgTx struct {
	tx *gorm.DB
}

func (t *pgTx) GetAccountForUpdate(ctx context.Context, accountID string) (entities.Account, error) {
	var row accountModel
	err := t.tx.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ?", accountID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.Account{}, domainerrors.ErrAccountNotFound
		}
		return entities.Account{}, err
	}
	return row.toEntity(), nil
}

func (t *pgTx) ApplyDelta(ctx context.Context, accountID string, delta ports.AccountDelta, now time.Time) error {
	result := t.tx.WithContext(ctx).
		Model(&accountModel{}).
		Where("account_id = ?", accountID).
		Updates(map[string]any{
			"balance":         gorm.Expr("balance + ?", delta.Balance),
			"total_earned":    gorm.Expr("total_earned + ?", delta.Earned),
			"total_spent":     gorm.Expr("total_spent + ?", delta.Spent),
			"total_deposited": gorm.Expr("total_deposited + ?", delta.Deposited),
			"total_fees_paid": gorm.Expr("total_fees_paid + ?", delta.FeesPaid),
			"updated_at":      now,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) AppendEntry(ctx context.Context, entry entities.LedgerEntry) (entities.LedgerEntry, error) {
	if err := t.tx.WithContext(ctx).
		Exec("SELECT pg_advisory_xact_lock(?)", chainAppendLockKey).
		Error; err != nil {
		return entities.LedgerEntry{}, err
	}

	prev := entities.GenesisHash
	var tail ledgerEntryModel
	err := t.tx.WithContext(ctx).
		Select("entry_hash").
		Order("seq DESC").
		First(&tail).
		Error
	switch {
	case err == nil:
		prev = tail.EntryHash
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return entities.LedgerEntry{}, err
	}

	chained := entities.ChainEntry(prev, entry)
	row := entryModelFromEntity(chained)
	if err := t.tx.WithContext(ctx).Create(&row).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return entities.LedgerEntry{}, domainerrors.ErrDuplicateIdempotencyKey
		}
		return entities.LedgerEntry{}, err
	}
	return chained, nil
}

func (r *Repository) FindEntryByIdempotencyKey(ctx context.Context, key string) (entities.LedgerEntry, bool, error) {
	var row ledgerEntryModel
	err := r.db.WithContext(ctx).
		Where("idempotency_key = ?", key).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.LedgerEntry{}, false, nil
		}
		return entities.LedgerEntry{}, false, err
	}
	return row.toEntity(), true, nil
}

func (r *Repository) ListEntriesByAccount(ctx context.Context, accountID string, limit int, offset int) ([]entities.LedgerEntry, error) {
	tx := r.db.WithContext(ctx).
		Where("from_account_id = ? OR to_account_id = ?", accountID, accountID).
		Order("seq DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if offset > 0 {
		tx = tx.Offset(offset)
	}
	var rows []ledgerEntryModel
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toEntities(rows), nil
}

func (r *Repository) ListEntries(ctx context.Context, limit int) ([]entities.LedgerEntry, error) {
	tx := r.db.WithContext(ctx).Order("seq ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var rows []ledgerEntryModel
	if err := tx.Find(&rows).Error; err != nil {
		return nil, err
	}
	return toEntities(rows), nil
}

func (r *Repository) FindRoyaltyForEntry(ctx context.Context, parentEntryID string) (entities.LedgerEntry, bool, error) {
	var row ledgerEntryModel
	err := r.db.WithContext(ctx).
		Where("tx_type = ? AND reference_id = ?", string(entities.TxTypeCreatorRoyalty), parentEntryID).
		First(&row).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return entities.LedgerEntry{}, false, nil
		}
		return entities.LedgerEntry{}, false, err
	}
	return row.toEntity(), true, nil
}

func (r *Repository) AppendOutbox(ctx context.Context, envelope ports.EventEnvelope) error {
	payload, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	row := outboxModel{
		OutboxID:     envelope.EventID,
		EventType:    envelope.EventType,
		PartitionKey: envelope.EntityID,
		Payload:      payload,
		Status:       outboxStatusPending,
		CreatedAt:    envelope.OccurredAtUTC,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r *Repository) ListPendingOutbox(ctx context.Context, limit int) ([]ports.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []outboxModel
	if err := r.db.WithContext(ctx).
		Where("status = ?", outboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&rows).
		Error; err != nil {
		return nil, err
	}
	messages := make([]ports.OutboxMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, ports.OutboxMessage{
			OutboxID:     row.OutboxID,
			EventType:    row.EventType,
			PartitionKey: row.PartitionKey,
			Payload:      row.Payload,
			CreatedAt:    row.CreatedAt.UTC(),
		})
	}
	return messages, nil
}

func (r *Repository) MarkOutboxSent(ctx context.Context, outboxID string, sentAt time.Time) error {
	result := r.db.WithContext(ctx).
		Model(&outboxModel{}).
		Where("outbox_id = ?", outboxID).
		Updates(map[string]any{
			"status":  outboxStatusSent,
			"sent_at": sentAt,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return domainerrors.ErrEntryNotFound
	}
	return nil
}

type accountModel struct {
	AccountID      string          `gorm:"column:account_id;primaryKey"`
	OwnerType      string          `gorm:"column:owner_type;uniqueIndex:idx_ledger_accounts_owner"`
	OwnerRef       string          `gorm:"column:owner_ref;uniqueIndex:idx_ledger_accounts_owner"`
	Balance        decimal.Decimal `gorm:"column:balance;type:numeric(20,6)"`
	TotalEarned    decimal.Decimal `gorm:"column:total_earned;type:numeric(20,6)"`
	TotalSpent     decimal.Decimal `gorm:"column:total_spent;type:numeric(20,6)"`
	TotalDeposited decimal.Decimal `gorm:"column:total_deposited;type:numeric(20,6)"`
	TotalFeesPaid  decimal.Decimal `gorm:"column:total_fees_paid;type:numeric(20,6)"`
	CreatedAt      time.Time       `gorm:"column:created_at"`
	UpdatedAt      time.Time       `gorm:"column:updated_at"`
}

func (accountModel) TableName() string {
	return "ledger_accounts"
}

func (m accountModel) toEntity() entities.Account {
	return entities.Account{
		AccountID:      m.AccountID,
		Owner:          entities.Owner{Type: entities.OwnerType(m.OwnerType), ID: m.OwnerRef},
		Balance:        m.Balance,
		TotalEarned:    m.TotalEarned,
		TotalSpent:     m.TotalSpent,
		TotalDeposited: m.TotalDeposited,
		TotalFeesPaid:  m.TotalFeesPaid,
		CreatedAt:      m.CreatedAt.UTC(),
		UpdatedAt:      m.UpdatedAt.UTC(),
	}
}

type ledgerEntryModel struct {
	EntryID        string          `gorm:"column:entry_id;primaryKey"`
	Seq            int64           `gorm:"column:seq;autoIncrement;uniqueIndex"`
	FromAccountID  string          `gorm:"column:from_account_id;index"`
	ToAccountID    string          `gorm:"column:to_account_id;index"`
	Amount         decimal.Decimal `gorm:"column:amount;type:numeric(20,6)"`
	FeeAmount      decimal.Decimal `gorm:"column:fee_amount;type:numeric(20,6)"`
	TxType         string          `gorm:"column:tx_type"`
	ReferenceID    string          `gorm:"column:reference_id"`
	ReferenceType  string          `gorm:"column:reference_type"`
	IdempotencyKey *string         `gorm:"column:idempotency_key;uniqueIndex"`
	Memo           string          `gorm:"column:memo"`
	CreatedAt      time.Time       `gorm:"column:created_at;index"`
	PrevHash       string          `gorm:"column:prev_hash"`
	EntryHash      string          `gorm:"column:entry_hash"`
}

func (ledgerEntryModel) TableName() string {
	return "ledger_entries"
}

func entryModelFromEntity(entry entities.LedgerEntry) ledgerEntryModel {
	var key *string
	if entry.IdempotencyKey != "" {
		value := entry.IdempotencyKey
		key = &value
	}
	return ledgerEntryModel{
		EntryID:        entry.EntryID,
		FromAccountID:  entry.FromAccountID,
		ToAccountID:    entry.ToAccountID,
		Amount:         entry.Amount,
		FeeAmount:      entry.FeeAmount,
		TxType:         string(entry.TxType),
		ReferenceID:    entry.ReferenceID,
		ReferenceType:  entry.ReferenceType,
		IdempotencyKey: key,
		Memo:           entry.Memo,
		CreatedAt:      entry.CreatedAt.UTC(),
		PrevHash:       entry.PrevHash,
		EntryHash:      entry.EntryHash,
	}
}

func (m ledgerEntryModel) toEntity() entities.LedgerEntry {
	key := ""
	if m.IdempotencyKey != nil {
		key = *m.IdempotencyKey
	}
	return entities.LedgerEntry{
		EntryID:        m.EntryID,
		FromAccountID:  m.FromAccountID,
		ToAccountID:    m.ToAccountID,
		Amount:         m.Amount,
		FeeAmount:      m.FeeAmount,
		TxType:         entities.TxType(m.TxType),
		ReferenceID:    m.ReferenceID,
		ReferenceType:  m.ReferenceType,
		IdempotencyKey: key,
		Memo:           m.Memo,
		CreatedAt:      m.CreatedAt.UTC(),
		PrevHash:       m.PrevHash,
		EntryHash:      m.EntryHash,
	}
}

func toEntities(rows []ledgerEntryModel) []entities.LedgerEntry {
	items := make([]entities.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		items = append(items, row.toEntity())
	}
	return items
}

type outboxModel struct {
	OutboxID     string     `gorm:"column:outbox_id;primaryKey"`
	EventType    string     `gorm:"column:event_type"`
	PartitionKey string     `gorm:"column:partition_key"`
	Payload      []byte     `gorm:"column:payload"`
	Status       string     `gorm:"column:status;index"`
	SentAt       *time.Time `gorm:"column:sent_at"`
	CreatedAt    time.Time  `gorm:"column:created_at;index"`
}

func (outboxModel) TableName() string {
	return "ledger_outbox"
}
