package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/craftlinedata/factory_backend/config"
	"bitbucket.org/craftlinedata/factory_backend/utils"
	"bitbucket.org/craftlinedata/factory_backend/workflow"
	"github.com/shopspring/decimal"
)

// Material is a long-lived inventory aggregate. StockQty and PurchaseRate are
// mutated exclusively through signed delta application by the posting engine;
// the CRUD below never touches them after creation.
type Material struct {
	ID             int             `gorm:"primary_key" json:"id"`
	BusinessId     string          `gorm:"index;not null" json:"business_id"`
	Name           string          `gorm:"size:255;not null" json:"name"`
	Sku            string          `gorm:"size:100;index" json:"sku"`
	Unit           string          `gorm:"size:50;not null" json:"unit"`
	AlternateUnit  string          `gorm:"size:50" json:"alternate_unit"`
	ConversionRate decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"conversion_rate"`
	StockQty       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"stock_qty"`
	PurchaseRate   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"purchase_rate"`
	CreatedAt      time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

func (m *Material) GetBusinessId() string { return m.BusinessId }

type NewMaterial struct {
	Name           string          `json:"name" binding:"required"`
	Sku            string          `json:"sku"`
	Unit           string          `json:"unit" binding:"required"`
	AlternateUnit  string          `json:"alternate_unit"`
	ConversionRate decimal.Decimal `json:"conversion_rate"`
	OpeningQty     decimal.Decimal `json:"opening_qty"`
	OpeningRate    decimal.Decimal `json:"opening_rate"`
}

func (input *NewMaterial) validate() error {
	if input.ConversionRate.IsNegative() {
		return errors.New("conversion rate must not be negative")
	}
	if input.OpeningQty.IsNegative() {
		return errors.New("opening qty must not be negative")
	}
	if input.OpeningRate.IsNegative() {
		return errors.New("opening rate must not be negative")
	}
	return nil
}

func CreateMaterial(ctx context.Context, input *NewMaterial) (*Material, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	material := Material{
		BusinessId:     businessId,
		Name:           input.Name,
		Sku:            input.Sku,
		Unit:           input.Unit,
		AlternateUnit:  input.AlternateUnit,
		ConversionRate: input.ConversionRate,
		StockQty:       input.OpeningQty,
		PurchaseRate:   input.OpeningRate,
	}

	db := config.GetDB()
	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Create(&material).Error; err != nil {
		return nil, err
	}

	// Opening stock enters through the ledger like any other movement, so a
	// replay of the material's transactions reproduces the stored quantity.
	if !input.OpeningQty.IsZero() {
		opening := InventoryTransaction{
			BusinessId:      businessId,
			MaterialId:      material.ID,
			TransactionType: workflow.TransactionTypeManualAdjustment,
			Qty:             input.OpeningQty,
			PreviousQty:     decimal.Zero,
			NewQty:          input.OpeningQty,
			ReferenceType:   workflow.ReferenceTypeManual,
			ReferenceNumber: "opening-stock",
			TransactionDate: time.Now().UTC(),
			Unit:            material.Unit,
			UpdateSource:    "opening-stock",
		}
		if err := tx.WithContext(ctx).Create(&opening).Error; err != nil {
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &material, nil
}

func UpdateMaterial(ctx context.Context, id int, input *NewMaterial) (*Material, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	material, err := utils.FetchModel[Material](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	// Stock qty and purchase rate are owned by the posting engine and are
	// deliberately absent from this update map.
	err = db.WithContext(ctx).Model(material).Updates(map[string]interface{}{
		"Name":           input.Name,
		"Sku":            input.Sku,
		"Unit":           input.Unit,
		"AlternateUnit":  input.AlternateUnit,
		"ConversionRate": input.ConversionRate,
	}).Error
	if err != nil {
		return nil, err
	}
	_ = utils.RemoveRedis[Material](id)
	return material, nil
}

func DeleteMaterial(ctx context.Context, id int) (*Material, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	material, err := utils.FetchModel[Material](ctx, businessId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var refs int64
	if err := db.WithContext(ctx).Model(&PurchaseItem{}).
		Joins("JOIN purchases ON purchases.id = purchase_items.purchase_id").
		Where("purchases.business_id = ? AND purchase_items.material_id = ?", businessId, id).
		Count(&refs).Error; err != nil {
		return nil, err
	}
	if refs > 0 {
		return nil, errors.New("material is referenced by purchases and cannot be deleted")
	}

	if err := db.WithContext(ctx).Delete(material).Error; err != nil {
		return nil, err
	}
	_ = utils.RemoveRedis[Material](id)
	return material, nil
}

func GetMaterial(ctx context.Context, id int) (*Material, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	cached, err := utils.RetrieveRedis[Material](id)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		if cached.BusinessId != businessId {
			return nil, errors.New("cannot access resource owned by other business")
		}
		return cached, nil
	}

	material, err := utils.FetchModel[Material](ctx, businessId, id)
	if err != nil {
		return nil, err
	}
	if err := utils.StoreRedis[Material](material, id); err != nil {
		return nil, err
	}
	return material, nil
}

func GetMaterials(ctx context.Context, name *string) ([]*Material, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	query := db.WithContext(ctx).Where("business_id = ?", businessId)
	if name != nil && *name != "" {
		query = query.Where("name LIKE ?", "%"+*name+"%").Limit(config.SearchLimit)
	}

	var materials []*Material
	if err := query.Order("name").Find(&materials).Error; err != nil {
		return nil, err
	}
	return materials, nil
}
