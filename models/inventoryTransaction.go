package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/craftlinedata/factory_backend/config"
	"bitbucket.org/craftlinedata/factory_backend/utils"
	"github.com/shopspring/decimal"
)

// InventoryTransaction is the append-only inventory ledger. One row per stock
// mutation, written by the posting engine and never updated afterwards except
// for the reversed-by marker. This is the sole mechanism for reconstructing
// what changed inventory and why.
type InventoryTransaction struct {
	ID              int             `gorm:"primary_key" json:"id"`
	BusinessId      string          `gorm:"index;not null" json:"business_id"`
	MaterialId      int             `gorm:"index;not null" json:"material_id"`
	TransactionType string          `gorm:"size:50;index;not null" json:"transaction_type"`
	Qty             decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	PreviousQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"previous_qty"`
	NewQty          decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"new_qty"`
	ReferenceType   string          `gorm:"size:50;index" json:"reference_type"`
	ReferenceID     int             `gorm:"index" json:"reference_id"`
	ReferenceNumber string          `gorm:"size:100" json:"reference_number"`
	TransactionDate time.Time       `gorm:"not null" json:"transaction_date"`
	Unit            string          `gorm:"size:50" json:"unit"`
	UpdateSource    string          `gorm:"size:100" json:"update_source"`

	// Reversal metadata (append-only ledger: reversals are new rows, the
	// original is only stamped, never rewritten).
	IsReversal              bool       `gorm:"not null;default:false;index" json:"is_reversal"`
	ReversesTransactionId   *int       `gorm:"index" json:"reverses_transaction_id"`
	ReversedByTransactionId *int       `gorm:"index" json:"reversed_by_transaction_id"`
	ReversalReason          *string    `gorm:"type:text" json:"reversal_reason"`
	ReversedAt              *time.Time `gorm:"index" json:"reversed_at"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}

func (t *InventoryTransaction) GetBusinessId() string { return t.BusinessId }

func GetInventoryTransactions(ctx context.Context, materialId int, limit int) ([]*InventoryTransaction, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	query := db.WithContext(ctx).Where("business_id = ?", businessId)
	if materialId > 0 {
		query = query.Where("material_id = ?", materialId)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}

	var entries []*InventoryTransaction
	if err := query.Order("id DESC").Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func GetInventoryTransactionsByReference(ctx context.Context, referenceType string, referenceId int) ([]*InventoryTransaction, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var entries []*InventoryTransaction
	err := db.WithContext(ctx).
		Where("business_id = ? AND reference_type = ? AND reference_id = ?", businessId, referenceType, referenceId).
		Order("id").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// PurgeInventoryTransaction hard-deletes a ledger row. Normal operation never
// deletes ledger entries; this exists only for explicitly gated admin cleanup
// and refuses non-admin contexts outright.
func PurgeInventoryTransaction(ctx context.Context, id int) (*InventoryTransaction, error) {
	isAdmin, ok := utils.GetIsAdminFromContext(ctx)
	if !ok || !isAdmin {
		return nil, utils.ErrorAdminRequired
	}
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	entry, err := utils.FetchModel[InventoryTransaction](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(entry).Error; err != nil {
		return nil, err
	}

	username, _ := utils.GetUsernameFromContext(ctx)
	config.GetLogger().WithField("transaction_id", id).
		WithField("purged_by", username).
		Warn("inventory ledger entry purged by admin")
	return entry, nil
}
