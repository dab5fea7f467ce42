// internal/database/repository.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/javajoker/imi-market/internal/models"
)

// ErrNoSnapshot is returned by LatestSnapshot when none has been stored.
var ErrNoSnapshot = errors.New("no engine snapshot stored")

type JournalRepository struct {
	db *gorm.DB
}

func NewJournalRepository(db *gorm.DB) *JournalRepository {
	return &JournalRepository{db: db}
}

// Append stores the events and settlements of one commit atomically.
func (r *JournalRepository) Append(ctx context.Context, events []models.JournalEvent, settlements []models.SettlementRecord) error {
	if len(events) == 0 && len(settlements) == 0 {
		return nil
	}
	return WithTransaction(r.db.WithContext(ctx), func(tx *gorm.DB) error {
		if len(events) > 0 {
			if err := tx.Create(&events).Error; err != nil {
				return fmt.Errorf("failed to append journal events: %w", err)
			}
		}
		if len(settlements) > 0 {
			if err := tx.Create(&settlements).Error; err != nil {
				return fmt.Errorf("failed to append settlements: %w", err)
			}
		}
		return nil
	})
}

type JournalFilter struct {
	EntityKey string
	Type      string
	Offset    int
	Limit     int
}

func (r *JournalRepository) Events(ctx context.Context, f JournalFilter) ([]models.JournalEvent, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.JournalEvent{})
	if f.EntityKey != "" {
		query = query.Where("entity_key = ?", f.EntityKey)
	}
	if f.Type != "" {
		query = query.Where("type = ?", f.Type)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count journal events: %w", err)
	}
	var events []models.JournalEvent
	if err := query.Order("seq ASC").Offset(f.Offset).Limit(f.Limit).Find(&events).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to load journal events: %w", err)
	}
	return events, total, nil
}

func (r *JournalRepository) Settlements(ctx context.Context, royaltyAssetID uint64, offset, limit int) ([]models.SettlementRecord, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.SettlementRecord{}).Where("royalty_asset_id = ?", royaltyAssetID)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count settlements: %w", err)
	}
	var out []models.SettlementRecord
	if err := query.Order("settled_at DESC").Offset(offset).Limit(limit).Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to load settlements: %w", err)
	}
	return out, total, nil
}

type SnapshotRepository struct {
	db *gorm.DB
}

func NewSnapshotRepository(db *gorm.DB) *SnapshotRepository {
	return &SnapshotRepository{db: db}
}

func (r *SnapshotRepository) Save(ctx context.Context, version int, takenAt time.Time, data []byte) error {
	snap := models.EngineSnapshot{Version: version, TakenAt: takenAt, Data: data}
	if err := r.db.WithContext(ctx).Create(&snap).Error; err != nil {
		return fmt.Errorf("failed to save engine snapshot: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) Latest(ctx context.Context) (*models.EngineSnapshot, error) {
	var snap models.EngineSnapshot
	err := r.db.WithContext(ctx).Order("taken_at DESC").First(&snap).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load engine snapshot: %w", err)
	}
	return &snap, nil
}

// Prune keeps the newest keep snapshots.
func (r *SnapshotRepository) Prune(ctx context.Context, keep int) error {
	sub := r.db.Model(&models.EngineSnapshot{}).Select("id").Order("taken_at DESC").Limit(keep)
	err := r.db.WithContext(ctx).Unscoped().Where("id NOT IN (?)", sub).Delete(&models.EngineSnapshot{}).Error
	if err != nil {
		return fmt.Errorf("failed to prune engine snapshots: %w", err)
	}
	return nil
}

type PayoutRepository struct {
	db *gorm.DB
}

func NewPayoutRepository(db *gorm.DB) *PayoutRepository {
	return &PayoutRepository{db: db}
}

// UpsertAccount sets the payout destination of address.
func (r *PayoutRepository) UpsertAccount(ctx context.Context, address, stripeAccountID string) (*models.PayoutAccount, error) {
	var acct models.PayoutAccount
	err := r.db.WithContext(ctx).Where("address = ?", address).
		Assign(models.PayoutAccount{StripeAccountID: stripeAccountID}).
		FirstOrCreate(&acct, models.PayoutAccount{Address: address}).Error
	if err != nil {
		return nil, fmt.Errorf("failed to save payout account: %w", err)
	}
	return &acct, nil
}

func (r *PayoutRepository) Account(ctx context.Context, address string) (*models.PayoutAccount, error) {
	var acct models.PayoutAccount
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&acct).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load payout account: %w", err)
	}
	return &acct, nil
}

func (r *PayoutRepository) Create(ctx context.Context, p *models.Payout) error {
	if err := r.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("failed to record payout: %w", err)
	}
	return nil
}

func (r *PayoutRepository) Update(ctx context.Context, p *models.Payout) error {
	if err := r.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("failed to update payout: %w", err)
	}
	return nil
}

func (r *PayoutRepository) ForAddress(ctx context.Context, address string, offset, limit int) ([]models.Payout, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Payout{}).Where("address = ?", address)
	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count payouts: %w", err)
	}
	var out []models.Payout
	if err := query.Order("created_at DESC").Offset(offset).Limit(limit).Find(&out).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to load payouts: %w", err)
	}
	return out, total, nil
}

type AuditRepository struct {
	db *gorm.DB
}

func NewAuditRepository(db *gorm.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Create(ctx context.Context, entry *models.AuditLog) error {
	if err := r.db.WithContext(ctx).Create(entry).Error; err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}
