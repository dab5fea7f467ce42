// internal/services/journal_service.go
package services

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/javajoker/imi-market/internal/apperr"
	"github.com/javajoker/imi-market/internal/database"
	"github.com/javajoker/imi-market/internal/ledger"
	"github.com/javajoker/imi-market/internal/marketplace"
	"github.com/javajoker/imi-market/internal/models"
	"github.com/javajoker/imi-market/internal/store"
	"github.com/javajoker/imi-market/internal/utils"
)

const journalWriteTimeout = 10 * time.Second

type JournalStore interface {
	Append(ctx context.Context, events []models.JournalEvent, settlements []models.SettlementRecord) error
	Events(ctx context.Context, f database.JournalFilter) ([]models.JournalEvent, int64, error)
	Settlements(ctx context.Context, royaltyAssetID uint64, offset, limit int) ([]models.SettlementRecord, int64, error)
}

// JournalService persists every committed engine event and settlement.
type JournalService struct {
	store JournalStore
	log   *logrus.Logger
}

func NewJournalService(store JournalStore, log *logrus.Logger) *JournalService {
	return &JournalService{store: store, log: log}
}

// Record is an engine commit hook. Write failures are logged; the engine
// state is already committed and is recovered from snapshots.
func (s *JournalService) Record(op string, events []store.Event) {
	rows := make([]models.JournalEvent, 0, len(events))
	var settlements []models.SettlementRecord
	for _, ev := range events {
		payload, err := models.ToJSONB(ev.Payload)
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"op": op, "event": ev.Type}).Warn("Event payload not journaled")
		}
		rows = append(rows, models.JournalEvent{
			Op:         op,
			Type:       ev.Type,
			EntityKey:  ev.Key,
			Payload:    payload,
			OccurredAt: ev.OccurredAt,
		})
		if st, ok := ev.Payload.(marketplace.Settlement); ok {
			settlements = append(settlements, SettlementRecord(st))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), journalWriteTimeout)
	defer cancel()
	if err := s.store.Append(ctx, rows, settlements); err != nil {
		s.log.WithError(err).WithFields(logrus.Fields{"op": op, "events": len(rows)}).Error("Failed to journal committed events")
	}
}

// SettlementRecord flattens a settlement for storage.
func SettlementRecord(st marketplace.Settlement) models.SettlementRecord {
	rec := models.SettlementRecord{
		Source:               string(st.Source),
		OfferID:              st.OfferID,
		LicenseID:            st.LicenseID,
		AssetKind:            string(st.Asset.Kind),
		AssetID:              st.Asset.ID,
		Units:                st.Asset.Units,
		RoyaltyAssetID:       st.RoyaltyAssetID,
		Seller:               st.Seller.Hex(),
		Buyer:                st.Buyer.Hex(),
		Price:                st.Price,
		PlatformFee:          st.Distribution.PlatformFee,
		Royalty:              st.Distribution.Royalty,
		SellerProceeds:       st.Distribution.SellerProceeds,
		SaleKind:             string(st.Kind),
		ClassificationReason: st.ClassificationReason,
		SettledAt:            st.SettledAt,
	}
	if st.ListingID != (common.Hash{}) {
		rec.ListingID = st.ListingID.Hex()
	}
	for _, c := range st.Distribution.RoyaltyCredits {
		if c.Role != ledger.RoleRoyalty {
			continue
		}
		rec.RoyaltyRecipients = append(rec.RoyaltyRecipients, c.Account.Hex())
		rec.RoyaltyAmounts = append(rec.RoyaltyAmounts, c.Amount.String())
	}
	return rec
}

func (s *JournalService) Events(ctx context.Context, entityKey, eventType string, params utils.PaginationParams) (utils.PaginationResult, error) {
	events, total, err := s.store.Events(ctx, database.JournalFilter{
		EntityKey: entityKey,
		Type:      eventType,
		Offset:    params.Offset(),
		Limit:     params.Limit,
	})
	if err != nil {
		return utils.PaginationResult{}, apperr.Wrap("journal.events", err)
	}
	return utils.CreatePaginationResult(events, total, params), nil
}

// Settlements lists the sales that paid royalties to royaltyAssetID.
func (s *JournalService) Settlements(ctx context.Context, royaltyAssetID uint64, params utils.PaginationParams) (utils.PaginationResult, error) {
	rows, total, err := s.store.Settlements(ctx, royaltyAssetID, params.Offset(), params.Limit)
	if err != nil {
		return utils.PaginationResult{}, apperr.Wrap("journal.settlements", err)
	}
	return utils.CreatePaginationResult(rows, total, params), nil
}
