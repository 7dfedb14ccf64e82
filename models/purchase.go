package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/craftlinedata/factory_backend/config"
	"bitbucket.org/craftlinedata/factory_backend/utils"
	"bitbucket.org/craftlinedata/factory_backend/workflow"
	"github.com/shopspring/decimal"
)

type Purchase struct {
	ID             int       `gorm:"primary_key" json:"id"`
	BusinessId     string    `gorm:"index;not null" json:"business_id"`
	PurchaseNumber string    `gorm:"size:100;not null" json:"purchase_number"`
	VendorId       int       `gorm:"index;not null" json:"vendor_id"`
	PurchaseDate   time.Time `gorm:"not null" json:"purchase_date"`

	TransportCharge decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"transport_charge"`
	// IsTaxInclusive declares whether item alt unit rates were entered GST
	// inclusive. Required on input; both conventions exist in this domain and
	// the engine refuses to infer one.
	IsTaxInclusive *bool `gorm:"not null;default:false" json:"is_tax_inclusive"`
	// ProrationBasis: 'Q' distributes transport over alt quantities, 'W' over
	// alt qty x material conversion rate.
	ProrationBasis string `gorm:"type:enum('Q','W');default:'Q'" json:"proration_basis"`

	Subtotal       decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"subtotal"`
	TotalTaxAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_tax_amount"`
	TotalAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`

	CurrentStatus PurchaseStatus `gorm:"type:enum('Pending','Completed','Cancelled');default:Pending" json:"current_status"`

	Details   []PurchaseItem `json:"purchase_items"`
	CreatedAt time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (p *Purchase) GetBusinessId() string { return p.BusinessId }

type PurchaseItem struct {
	ID         int `gorm:"primary_key" json:"id"`
	PurchaseId int `gorm:"index;not null" json:"purchase_id"`
	MaterialId int `gorm:"index;not null" json:"material_id"`

	AltQty      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"alt_qty"`
	AltUnitRate decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"alt_unit_rate"`
	GstRate     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gst_rate"`
	MainQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"main_qty"`
	// ActualMeter is the measured intake; when positive it is posted to
	// inventory instead of MainQty.
	ActualMeter decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"actual_meter"`

	// Derived by the allocator. DetailTotalAmount is base + GST only; the
	// transport share is tracked beside it, never folded in.
	BaseAmount        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"base_amount"`
	GstAmount         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"gst_amount"`
	TransportShare    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"transport_share"`
	DetailTotalAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"detail_total_amount"`
	UnitPrice         decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewPurchase struct {
	VendorId        int               `json:"vendor_id" binding:"required"`
	PurchaseDate    time.Time         `json:"purchase_date" binding:"required"`
	TransportCharge decimal.Decimal   `json:"transport_charge"`
	IsTaxInclusive  *bool             `json:"is_tax_inclusive" binding:"required"`
	ProrationBasis  string            `json:"proration_basis"`
	Details         []NewPurchaseItem `json:"details" binding:"required"`
}

type NewPurchaseItem struct {
	MaterialId  int             `json:"material_id" binding:"required"`
	AltQty      decimal.Decimal `json:"alt_qty"`
	AltUnitRate decimal.Decimal `json:"alt_unit_rate"`
	GstRate     decimal.Decimal `json:"gst_rate"`
	MainQty     decimal.Decimal `json:"main_qty"`
	ActualMeter decimal.Decimal `json:"actual_meter"`
}

func (input *NewPurchase) validate(ctx context.Context, businessId string) error {
	if err := utils.ValidateResourceId[Vendor](ctx, businessId, input.VendorId); err != nil {
		return errors.New("vendor not found")
	}
	if len(input.Details) == 0 {
		return errors.New("purchase requires at least one item")
	}
	switch input.ProrationBasis {
	case "", string(workflow.ProrationBasisQuantity), string(workflow.ProrationBasisWeight):
	default:
		return fmt.Errorf("invalid proration basis %q", input.ProrationBasis)
	}
	for _, item := range input.Details {
		if err := utils.ValidateResourceId[Material](ctx, businessId, item.MaterialId); err != nil {
			return fmt.Errorf("material %d not found", item.MaterialId)
		}
	}
	return nil
}

// allocationItems resolves materials (for conversion rates) and shapes the
// input lines for the allocator.
func (input *NewPurchase) allocationItems(ctx context.Context, businessId string) ([]workflow.AllocationItem, error) {
	items := make([]workflow.AllocationItem, 0, len(input.Details))
	for _, d := range input.Details {
		material, err := utils.FetchModel[Material](ctx, businessId, d.MaterialId)
		if err != nil {
			return nil, fmt.Errorf("material %d: %w", d.MaterialId, err)
		}
		items = append(items, workflow.AllocationItem{
			MaterialId:     d.MaterialId,
			AltQty:         d.AltQty,
			AltUnitRate:    d.AltUnitRate,
			GstRate:        d.GstRate,
			MainQty:        d.MainQty,
			ActualMeter:    d.ActualMeter,
			ConversionRate: material.ConversionRate,
		})
	}
	return items, nil
}

func (input *NewPurchase) allocate(ctx context.Context, businessId string) (*workflow.AllocationResult, error) {
	items, err := input.allocationItems(ctx, businessId)
	if err != nil {
		return nil, err
	}
	basis := workflow.ProrationBasis(input.ProrationBasis)
	if basis == "" {
		basis = workflow.ProrationBasisQuantity
	}
	result, err := workflow.Allocate(items, input.TransportCharge, workflow.AllocationOptions{
		TaxInclusive: utils.DereferencePtr(input.IsTaxInclusive),
		Basis:        basis,
	})
	if err != nil {
		return nil, err
	}
	if result.ZeroBasisTransport {
		config.GetLogger().WithField("business_id", businessId).
			Warn("transport charge entered but proration basis is zero; no item absorbed the charge")
	}
	return result, nil
}

func nextPurchaseNumber(ctx context.Context, businessId string) (string, error) {
	db := config.GetDB()
	var maxSeq int64
	err := db.WithContext(ctx).Model(&Purchase{}).
		Where("business_id = ?", businessId).
		Select("COALESCE(MAX(id), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("PUR-%06d", maxSeq+1), nil
}

// CreatePurchase records the purchase with allocator-derived figures.
//
// IMPORTANT (correctness): purchases are always created Pending. Completion
// goes through UpdatePurchaseStatus so stock movement happens through the
// same status-transition path everywhere.
func CreatePurchase(ctx context.Context, input *NewPurchase) (*Purchase, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	alloc, err := input.allocate(ctx, businessId)
	if err != nil {
		return nil, err
	}

	details := make([]PurchaseItem, 0, len(alloc.Items))
	for i, a := range alloc.Items {
		d := input.Details[i]
		details = append(details, PurchaseItem{
			MaterialId:        d.MaterialId,
			AltQty:            d.AltQty,
			AltUnitRate:       d.AltUnitRate,
			GstRate:           d.GstRate,
			MainQty:           d.MainQty,
			ActualMeter:       d.ActualMeter,
			BaseAmount:        a.BaseAmount,
			GstAmount:         a.GstAmount,
			TransportShare:    a.TransportShare,
			DetailTotalAmount: a.LineTotal,
			UnitPrice:         a.UnitPrice,
		})
	}

	basis := input.ProrationBasis
	if basis == "" {
		basis = string(workflow.ProrationBasisQuantity)
	}

	purchaseNumber, err := nextPurchaseNumber(ctx, businessId)
	if err != nil {
		return nil, err
	}

	purchase := Purchase{
		BusinessId:      businessId,
		PurchaseNumber:  purchaseNumber,
		VendorId:        input.VendorId,
		PurchaseDate:    input.PurchaseDate,
		TransportCharge: input.TransportCharge,
		IsTaxInclusive:  input.IsTaxInclusive,
		ProrationBasis:  basis,
		Subtotal:        alloc.SubtotalBeforeTax,
		TotalTaxAmount:  alloc.TotalTax,
		TotalAmount:     alloc.GrandTotal,
		CurrentStatus:   PurchaseStatusPending,
		Details:         details,
	}

	db := config.GetDB()
	tx := db.Begin()
	// Always rollback on early-return or panic to avoid leaking DB locks.
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Create(&purchase).Error; err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return &purchase, nil
}

// UpdatePurchase replaces the header and line items of a Pending purchase and
// re-runs the allocator. A Completed purchase is not editable: it must be
// reversed (deleted) and re-entered, otherwise stock would double-post.
func UpdatePurchase(ctx context.Context, id int, input *NewPurchase) (*Purchase, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	purchase, err := utils.FetchModel[Purchase](ctx, businessId, id, "Details")
	if err != nil {
		return nil, err
	}
	if purchase.CurrentStatus == PurchaseStatusCompleted {
		return nil, workflow.ErrRepostBlocked
	}
	if purchase.CurrentStatus == PurchaseStatusCancelled {
		return nil, errors.New("cancelled purchase cannot be edited")
	}

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}
	alloc, err := input.allocate(ctx, businessId)
	if err != nil {
		return nil, err
	}

	details := make([]PurchaseItem, 0, len(alloc.Items))
	for i, a := range alloc.Items {
		d := input.Details[i]
		details = append(details, PurchaseItem{
			PurchaseId:        purchase.ID,
			MaterialId:        d.MaterialId,
			AltQty:            d.AltQty,
			AltUnitRate:       d.AltUnitRate,
			GstRate:           d.GstRate,
			MainQty:           d.MainQty,
			ActualMeter:       d.ActualMeter,
			BaseAmount:        a.BaseAmount,
			GstAmount:         a.GstAmount,
			TransportShare:    a.TransportShare,
			DetailTotalAmount: a.LineTotal,
			UnitPrice:         a.UnitPrice,
		})
	}

	basis := input.ProrationBasis
	if basis == "" {
		basis = string(workflow.ProrationBasisQuantity)
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

	if err := tx.WithContext(ctx).
		Where("purchase_id = ?", purchase.ID).
		Delete(&PurchaseItem{}).Error; err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Create(&details).Error; err != nil {
		return nil, err
	}
	err = tx.WithContext(ctx).Model(purchase).Updates(map[string]interface{}{
		"VendorId":        input.VendorId,
		"PurchaseDate":    input.PurchaseDate,
		"TransportCharge": input.TransportCharge,
		"IsTaxInclusive":  input.IsTaxInclusive,
		"ProrationBasis":  basis,
		"Subtotal":        alloc.SubtotalBeforeTax,
		"TotalTaxAmount":  alloc.TotalTax,
		"TotalAmount":     alloc.GrandTotal,
	}).Error
	if err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	purchase.VendorId = input.VendorId
	purchase.PurchaseDate = input.PurchaseDate
	purchase.TransportCharge = input.TransportCharge
	purchase.IsTaxInclusive = input.IsTaxInclusive
	purchase.ProrationBasis = basis
	purchase.Subtotal = alloc.SubtotalBeforeTax
	purchase.TotalTaxAmount = alloc.TotalTax
	purchase.TotalAmount = alloc.GrandTotal
	purchase.Details = details
	return purchase, nil
}

func postingItemsFromDetails(details []PurchaseItem) []workflow.PostingItem {
	items := make([]workflow.PostingItem, 0, len(details))
	for _, d := range details {
		items = append(items, workflow.PostingItem{
			MaterialId:  d.MaterialId,
			MainQty:     d.MainQty,
			ActualMeter: d.ActualMeter,
			UnitPrice:   d.UnitPrice,
		})
	}
	return items
}

// UpdatePurchaseStatus drives the purchase state machine. Pending ->
// Completed posts stock; the posting loop runs outside any database
// transaction, so a partial failure leaves the applied items applied and is
// returned in the report for the operator.
func UpdatePurchaseStatus(ctx context.Context, id int, status PurchaseStatus) (*Purchase, *workflow.PostingReport, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, nil, errors.New("business id is required")
	}
	if !status.Valid() {
		return nil, nil, fmt.Errorf("invalid purchase status %q", status)
	}

	purchase, err := utils.FetchModel[Purchase](ctx, businessId, id, "Details")
	if err != nil {
		return nil, nil, err
	}
	if err := workflow.ValidatePurchaseStatusTransition(string(purchase.CurrentStatus), string(status)); err != nil {
		return nil, nil, err
	}
	if purchase.CurrentStatus == status {
		return purchase, nil, nil
	}

	db := config.GetDB()
	if status == PurchaseStatusCompleted {
		if err := workflow.EnsurePurchasePostable(string(purchase.CurrentStatus)); err != nil {
			return nil, nil, err
		}
		if err := utils.BusinessLock(ctx, businessId, "stockLock", "purchase.go", "UpdatePurchaseStatus"); err != nil {
			return nil, nil, err
		}
		if err := workflow.AcquireBusinessPostingLock(db, businessId); err != nil {
			return nil, nil, err
		}
		defer workflow.ReleaseBusinessPostingLock(db, businessId)
	}

	err = db.WithContext(ctx).Model(purchase).
		Update("CurrentStatus", status).Error
	if err != nil {
		return nil, nil, err
	}
	purchase.CurrentStatus = status

	if status != PurchaseStatusCompleted {
		return purchase, nil, nil
	}

	store := NewGormInventoryStore(db, businessId)
	ref := workflow.DocumentRef{
		Type:   workflow.ReferenceTypePurchase,
		ID:     purchase.ID,
		Number: purchase.PurchaseNumber,
		Date:   purchase.PurchaseDate,
	}
	report := workflow.PostPurchaseCompletion(ctx, store, config.GetLogger(), ref, postingItemsFromDetails(purchase.Details))

	for _, d := range purchase.Details {
		_ = utils.RemoveRedis[Material](d.MaterialId)
	}
	return purchase, report, nil
}

// DeletePurchase removes the record. A Completed purchase first gets a
// best-effort stock reversal; reversal failure is reported but never blocks
// the deletion, because an un-deletable orphan is worse than a ledger-visible
// stock discrepancy.
func DeletePurchase(ctx context.Context, id int) (*Purchase, *workflow.PostingReport, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, nil, errors.New("business id is required")
	}

	purchase, err := utils.FetchModel[Purchase](ctx, businessId, id, "Details")
	if err != nil {
		return nil, nil, err
	}
	if purchase.CurrentStatus == PurchaseStatusCompleted && config.StrictPurchaseImmutability() {
		return nil, nil, errors.New("completed purchase deletion is disabled; cancel the stock through a manual adjustment first")
	}

	db := config.GetDB()
	var report *workflow.PostingReport
	if purchase.CurrentStatus == PurchaseStatusCompleted {
		if err := utils.BusinessLock(ctx, businessId, "stockLock", "purchase.go", "DeletePurchase"); err == nil {
			store := NewGormInventoryStore(db, businessId)
			ref := workflow.DocumentRef{
				Type:   workflow.ReferenceTypePurchase,
				ID:     purchase.ID,
				Number: purchase.PurchaseNumber,
				Date:   purchase.PurchaseDate,
			}
			report = workflow.ReversePurchaseCompletion(ctx, store, config.GetLogger(), ref, "purchase deleted")
		} else {
			config.LogError(config.GetLogger(), "purchase.go", "DeletePurchase", "stock lock not acquired; deleting without reversal", id, err)
		}
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Where("purchase_id = ?", purchase.ID).Delete(&PurchaseItem{}).Error; err != nil {
		return nil, report, err
	}
	if err := tx.WithContext(ctx).Delete(purchase).Error; err != nil {
		return nil, report, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, report, err
	}

	for _, d := range purchase.Details {
		_ = utils.RemoveRedis[Material](d.MaterialId)
	}
	return purchase, report, nil
}

func GetPurchase(ctx context.Context, id int) (*Purchase, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[Purchase](ctx, businessId, id, "Details")
}

func GetPurchases(ctx context.Context, status *PurchaseStatus) ([]*Purchase, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	query := db.WithContext(ctx).Preload("Details").Where("business_id = ?", businessId)
	if status != nil {
		query = query.Where("current_status = ?", *status)
	}

	var purchases []*Purchase
	if err := query.Order("id DESC").Find(&purchases).Error; err != nil {
		return nil, err
	}
	return purchases, nil
}
