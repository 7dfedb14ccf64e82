package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/craftlinedata/factory_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormInventoryStore adapts the relational store to the posting engine's
// InventoryStore boundary, scoped to one business.
//
// It deliberately holds a plain *gorm.DB, not an open transaction: the
// posting loop's partial-completion policy depends on every item update
// standing on its own.
type GormInventoryStore struct {
	db         *gorm.DB
	businessId string
}

func NewGormInventoryStore(db *gorm.DB, businessId string) *GormInventoryStore {
	return &GormInventoryStore{db: db, businessId: businessId}
}

var _ workflow.InventoryStore = (*GormInventoryStore)(nil)

func (s *GormInventoryStore) ReadMaterial(ctx context.Context, materialId int) (*workflow.MaterialState, error) {
	var material Material
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND id = ?", s.businessId, materialId).
		First(&material).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.New("material not found")
		}
		return nil, err
	}
	return &workflow.MaterialState{
		ID:           material.ID,
		Name:         material.Name,
		Unit:         material.Unit,
		StockQty:     material.StockQty,
		PurchaseRate: material.PurchaseRate,
	}, nil
}

func (s *GormInventoryStore) WriteMaterialStock(ctx context.Context, materialId int, stockQty decimal.Decimal, purchaseRate decimal.Decimal) error {
	// Partial update by column: unrelated material fields must survive.
	result := s.db.WithContext(ctx).Model(&Material{}).
		Where("business_id = ? AND id = ?", s.businessId, materialId).
		Updates(map[string]interface{}{
			"stock_qty":     stockQty,
			"purchase_rate": purchaseRate,
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return errors.New("material not found")
	}
	return nil
}

func (s *GormInventoryStore) AppendTransaction(ctx context.Context, entry *workflow.LedgerEntry) error {
	row := InventoryTransaction{
		BusinessId:            s.businessId,
		MaterialId:            entry.MaterialId,
		TransactionType:       entry.TransactionType,
		Qty:                   entry.Qty,
		PreviousQty:           entry.PreviousQty,
		NewQty:                entry.NewQty,
		ReferenceType:         entry.ReferenceType,
		ReferenceID:           entry.ReferenceID,
		ReferenceNumber:       entry.ReferenceNumber,
		TransactionDate:       entry.TransactionDate,
		Unit:                  entry.Unit,
		UpdateSource:          entry.UpdateSource,
		IsReversal:            entry.IsReversal,
		ReversesTransactionId: entry.ReversesTransactionId,
		ReversalReason:        entry.ReversalReason,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return err
	}
	entry.ID = row.ID
	return nil
}

func (s *GormInventoryStore) MarkTransactionReversed(ctx context.Context, originalId int, reversalId int, reason string, at time.Time) error {
	return s.db.WithContext(ctx).Model(&InventoryTransaction{}).
		Where("business_id = ? AND id = ?", s.businessId, originalId).
		Updates(map[string]interface{}{
			"reversed_by_transaction_id": reversalId,
			"reversal_reason":            reason,
			"reversed_at":                at,
		}).Error
}

func (s *GormInventoryStore) ListTransactionsByReference(ctx context.Context, referenceType string, referenceId int) ([]*workflow.LedgerEntry, error) {
	var rows []*InventoryTransaction
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?", s.businessId, referenceType, referenceId).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return ledgerEntriesFromRows(rows), nil
}

func (s *GormInventoryStore) ListTransactionsByMaterial(ctx context.Context, materialId int) ([]*workflow.LedgerEntry, error) {
	var rows []*InventoryTransaction
	err := s.db.WithContext(ctx).
		Where("business_id = ? AND material_id = ?", s.businessId, materialId).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return ledgerEntriesFromRows(rows), nil
}

func ledgerEntriesFromRows(rows []*InventoryTransaction) []*workflow.LedgerEntry {
	entries := make([]*workflow.LedgerEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, &workflow.LedgerEntry{
			ID:                      row.ID,
			MaterialId:              row.MaterialId,
			TransactionType:         row.TransactionType,
			Qty:                     row.Qty,
			PreviousQty:             row.PreviousQty,
			NewQty:                  row.NewQty,
			ReferenceType:           row.ReferenceType,
			ReferenceID:             row.ReferenceID,
			ReferenceNumber:         row.ReferenceNumber,
			TransactionDate:         row.TransactionDate,
			Unit:                    row.Unit,
			UpdateSource:            row.UpdateSource,
			IsReversal:              row.IsReversal,
			ReversesTransactionId:   row.ReversesTransactionId,
			ReversedByTransactionId: row.ReversedByTransactionId,
			ReversalReason:          row.ReversalReason,
		})
	}
	return entries
}
