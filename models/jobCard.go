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

type JobCard struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id"`
	JobCardNumber string          `gorm:"size:100;not null" json:"job_card_number"`
	OrderId       int             `gorm:"index;not null" json:"order_id"`
	StageName     string          `gorm:"size:100" json:"stage_name"`
	ProducedQty   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"produced_qty"`
	JobDate       time.Time       `gorm:"not null" json:"job_date"`

	CurrentStatus JobCardStatus `gorm:"type:enum('Open','InProgress','Completed');default:Open" json:"current_status"`

	Consumptions []JobCardConsumption `json:"consumptions"`
	CreatedAt    time.Time            `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time            `gorm:"autoUpdateTime" json:"updated_at"`
}

func (j *JobCard) GetBusinessId() string { return j.BusinessId }

// JobCardConsumption is the materialized issue quantity for one material on
// one job card. It is frozen at creation; later order edits do not rewrite it.
type JobCardConsumption struct {
	ID         int             `gorm:"primary_key" json:"id"`
	JobCardId  int             `gorm:"index;not null" json:"job_card_id"`
	MaterialId int             `gorm:"index;not null" json:"material_id"`
	Qty        decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"qty"`
	Unit       string          `gorm:"size:50" json:"unit"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type NewJobCard struct {
	OrderId     int             `json:"order_id" binding:"required"`
	StageName   string          `json:"stage_name"`
	ProducedQty decimal.Decimal `json:"produced_qty" binding:"required"`
	JobDate     time.Time       `json:"job_date" binding:"required"`
	// Consumptions overrides the order-derived quantities; leave empty to
	// issue component consumption x produced qty.
	Consumptions []NewJobCardConsumption `json:"consumptions"`
}

type NewJobCardConsumption struct {
	MaterialId int             `json:"material_id" binding:"required"`
	Qty        decimal.Decimal `json:"qty"`
}

func (input *NewJobCard) consumptions(order *Order) ([]JobCardConsumption, error) {
	if len(input.Consumptions) > 0 {
		rows := make([]JobCardConsumption, 0, len(input.Consumptions))
		for _, c := range input.Consumptions {
			if c.Qty.IsNegative() {
				return nil, fmt.Errorf("consumption qty for material %d must not be negative", c.MaterialId)
			}
			rows = append(rows, JobCardConsumption{MaterialId: c.MaterialId, Qty: c.Qty})
		}
		return rows, nil
	}

	rows := make([]JobCardConsumption, 0, len(order.Components))
	for _, component := range order.Components {
		rows = append(rows, JobCardConsumption{
			MaterialId: component.MaterialId,
			Qty:        component.Consumption.Mul(input.ProducedQty),
		})
	}
	return rows, nil
}

func consumptionItemsFromRows(rows []JobCardConsumption) []workflow.ConsumptionItem {
	items := make([]workflow.ConsumptionItem, 0, len(rows))
	for _, row := range rows {
		items = append(items, workflow.ConsumptionItem{
			MaterialId: row.MaterialId,
			Qty:        row.Qty,
		})
	}
	return items
}

func nextJobCardNumber(ctx context.Context, businessId string) (string, error) {
	db := config.GetDB()
	var maxSeq int64
	err := db.WithContext(ctx).Model(&JobCard{}).
		Where("business_id = ?", businessId).
		Select("COALESCE(MAX(id), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("JC-%06d", maxSeq+1), nil
}

// CreateJobCard records the job card and issues its material consumption to
// inventory. The posting report carries any per-material failures; the job
// card itself is created either way so the operator can see what was issued.
func CreateJobCard(ctx context.Context, input *NewJobCard) (*JobCard, *workflow.PostingReport, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, nil, errors.New("business id is required")
	}
	if !input.ProducedQty.IsPositive() {
		return nil, nil, errors.New("produced qty must be positive")
	}

	order, err := utils.FetchModel[Order](ctx, businessId, input.OrderId, "Components")
	if err != nil {
		return nil, nil, errors.New("order not found")
	}
	if order.CurrentStatus == OrderStatusCancelled {
		return nil, nil, errors.New("cancelled order cannot take job cards")
	}

	rows, err := input.consumptions(order)
	if err != nil {
		return nil, nil, err
	}
	for i := range rows {
		material, err := utils.FetchModel[Material](ctx, businessId, rows[i].MaterialId)
		if err != nil {
			return nil, nil, fmt.Errorf("material %d not found", rows[i].MaterialId)
		}
		rows[i].Unit = material.Unit
	}

	jobCardNumber, err := nextJobCardNumber(ctx, businessId)
	if err != nil {
		return nil, nil, err
	}

	jobCard := JobCard{
		BusinessId:    businessId,
		JobCardNumber: jobCardNumber,
		OrderId:       order.ID,
		StageName:     input.StageName,
		ProducedQty:   input.ProducedQty,
		JobDate:       input.JobDate,
		CurrentStatus: JobCardStatusOpen,
		Consumptions:  rows,
	}

	db := config.GetDB()
	if err := utils.BusinessLock(ctx, businessId, "stockLock", "jobCard.go", "CreateJobCard"); err != nil {
		return nil, nil, err
	}
	if err := workflow.AcquireBusinessPostingLock(db, businessId); err != nil {
		return nil, nil, err
	}
	defer workflow.ReleaseBusinessPostingLock(db, businessId)

	if err := db.WithContext(ctx).Create(&jobCard).Error; err != nil {
		return nil, nil, err
	}

	store := NewGormInventoryStore(db, businessId)
	ref := workflow.DocumentRef{
		Type:   workflow.ReferenceTypeJobCard,
		ID:     jobCard.ID,
		Number: jobCard.JobCardNumber,
		Date:   jobCard.JobDate,
	}
	report := workflow.PostJobCardConsumption(ctx, store, config.GetLogger(), ref, consumptionItemsFromRows(jobCard.Consumptions))

	for _, row := range jobCard.Consumptions {
		_ = utils.RemoveRedis[Material](row.MaterialId)
	}
	return &jobCard, report, nil
}

func UpdateJobCardStatus(ctx context.Context, id int, status JobCardStatus) (*JobCard, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid job card status %q", status)
	}

	jobCard, err := utils.FetchModel[JobCard](ctx, businessId, id, "Consumptions")
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(jobCard).Update("CurrentStatus", status).Error; err != nil {
		return nil, err
	}
	jobCard.CurrentStatus = status
	return jobCard, nil
}

// DeleteJobCard returns the issued material with a best-effort reversal, then
// deletes the record. Reversal failure is reported, never blocking: the
// ledger keeps the evidence either way.
func DeleteJobCard(ctx context.Context, id int) (*JobCard, *workflow.PostingReport, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, nil, errors.New("business id is required")
	}

	jobCard, err := utils.FetchModel[JobCard](ctx, businessId, id, "Consumptions")
	if err != nil {
		return nil, nil, err
	}

	db := config.GetDB()
	var report *workflow.PostingReport
	if err := utils.BusinessLock(ctx, businessId, "stockLock", "jobCard.go", "DeleteJobCard"); err == nil {
		store := NewGormInventoryStore(db, businessId)
		ref := workflow.DocumentRef{
			Type:   workflow.ReferenceTypeJobCard,
			ID:     jobCard.ID,
			Number: jobCard.JobCardNumber,
			Date:   jobCard.JobDate,
		}
		report = workflow.ReverseJobCardConsumption(ctx, store, config.GetLogger(), ref, "job card deleted")
	} else {
		config.LogError(config.GetLogger(), "jobCard.go", "DeleteJobCard", "stock lock not acquired; deleting without reversal", id, err)
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Where("job_card_id = ?", jobCard.ID).Delete(&JobCardConsumption{}).Error; err != nil {
		return nil, report, err
	}
	if err := tx.WithContext(ctx).Delete(jobCard).Error; err != nil {
		return nil, report, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, report, err
	}

	for _, row := range jobCard.Consumptions {
		_ = utils.RemoveRedis[Material](row.MaterialId)
	}
	return jobCard, report, nil
}

func GetJobCard(ctx context.Context, id int) (*JobCard, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModel[JobCard](ctx, businessId, id, "Consumptions")
}

func GetJobCards(ctx context.Context, orderId int) ([]*JobCard, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	query := db.WithContext(ctx).Preload("Consumptions").Where("business_id = ?", businessId)
	if orderId > 0 {
		query = query.Where("order_id = ?", orderId)
	}

	var jobCards []*JobCard
	if err := query.Order("id DESC").Find(&jobCards).Error; err != nil {
		return nil, err
	}
	return jobCards, nil
}
