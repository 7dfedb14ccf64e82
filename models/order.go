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

type Order struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id"`
	OrderNumber  string          `gorm:"size:100;not null" json:"order_number"`
	CustomerName string          `gorm:"size:255" json:"customer_name"`
	ProductName  string          `gorm:"size:255;not null" json:"product_name"`
	OrderQty     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"order_qty"`
	OrderDate    time.Time       `gorm:"not null" json:"order_date"`

	CurrentStatus OrderStatus `gorm:"type:enum('Draft','Confirmed','Cancelled');default:Draft" json:"current_status"`

	Components []OrderComponent `json:"components"`
	CreatedAt  time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (o *Order) GetBusinessId() string { return o.BusinessId }

// OrderComponent is one bill-of-materials line. Consumption is stored per
// single order unit, always; the per-order figure shown on entry screens is
// derived on read and never persisted.
type OrderComponent struct {
	ID         int    `gorm:"primary_key" json:"id"`
	OrderId    int    `gorm:"index;not null" json:"order_id"`
	MaterialId int    `gorm:"index;not null" json:"material_id"`
	Formula    string `gorm:"size:100;not null" json:"formula"`
	// IsManualConsumption duplicates Formula == "manual" in stored data; the
	// classification helper accepts either signal.
	IsManualConsumption bool            `gorm:"not null;default:false" json:"is_manual_consumption"`
	Consumption         decimal.Decimal `gorm:"type:decimal(20,6);default:0" json:"consumption"`

	DisplayConsumption decimal.Decimal `gorm:"-" json:"display_consumption"`

	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *OrderComponent) Kind() workflow.ComponentKind {
	return workflow.ComponentKindOf(c.IsManualConsumption, c.Formula)
}

func fixedPerUnit(value string) workflow.FormulaFunc {
	perUnit := decimal.RequireFromString(value)
	return func(decimal.Decimal) (decimal.Decimal, error) {
		return perUnit, nil
	}
}

// DefaultFormulaCatalog holds the built-in consumption formulas. Tiered
// formulas depend on the order quantity (bulk runs waste less), which is why
// per-unit figures are recomputed rather than scaled.
var DefaultFormulaCatalog = workflow.StaticCatalog{
	"fabric-per-piece":   fixedPerUnit("1.6"),
	"lining-per-piece":   fixedPerUnit("0.8"),
	"zipper-per-piece":   fixedPerUnit("1"),
	"button-per-piece":   fixedPerUnit("6"),
	"label-per-piece":    fixedPerUnit("2"),
	"packaging-per-unit": fixedPerUnit("1"),
	"thread-tiered": func(orderQty decimal.Decimal) (decimal.Decimal, error) {
		if orderQty.GreaterThanOrEqual(decimal.NewFromInt(100)) {
			return decimal.RequireFromString("0.9"), nil
		}
		return decimal.NewFromInt(1), nil
	},
}

type NewOrder struct {
	CustomerName string              `json:"customer_name"`
	ProductName  string              `json:"product_name" binding:"required"`
	OrderQty     decimal.Decimal     `json:"order_qty" binding:"required"`
	OrderDate    time.Time           `json:"order_date" binding:"required"`
	Components   []NewOrderComponent `json:"components" binding:"required"`
}

// NewOrderComponent carries what the entry screen had at submit time.
// PerUnitConsumption is the retained per-unit baseline; it is nil when the
// client lost it (reload mid-edit), in which case DisplayConsumption is the
// per-order figure the screen showed and the baseline is recovered from it.
type NewOrderComponent struct {
	MaterialId          int              `json:"material_id" binding:"required"`
	Formula             string           `json:"formula" binding:"required"`
	IsManualConsumption bool             `json:"is_manual_consumption"`
	PerUnitConsumption  *decimal.Decimal `json:"per_unit_consumption"`
	DisplayConsumption  decimal.Decimal  `json:"display_consumption"`
}

func (input *NewOrder) validate(ctx context.Context, businessId string) error {
	if !input.OrderQty.IsPositive() {
		return errors.New("order qty must be positive")
	}
	if len(input.Components) == 0 {
		return errors.New("order requires at least one component")
	}
	for _, c := range input.Components {
		if err := utils.ValidateResourceId[Material](ctx, businessId, c.MaterialId); err != nil {
			return fmt.Errorf("material %d not found", c.MaterialId)
		}
	}
	return nil
}

// resolveComponents runs every submitted component through the consumption
// resolver so that only per-unit figures reach the database.
func (input *NewOrder) resolveComponents(catalog workflow.FormulaCatalog) ([]OrderComponent, error) {
	components := make([]OrderComponent, 0, len(input.Components))
	for i, c := range input.Components {
		state := workflow.ComponentState{
			Kind:       workflow.ComponentKindOf(c.IsManualConsumption, c.Formula),
			FormulaRef: c.Formula,
			Display:    c.DisplayConsumption,
		}
		if c.PerUnitConsumption != nil {
			state.PerUnitBaseline = *c.PerUnitConsumption
			state.HasBaseline = true
		}
		perUnit, err := workflow.OnSubmit(state, catalog, input.OrderQty)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		components = append(components, OrderComponent{
			MaterialId:          c.MaterialId,
			Formula:             c.Formula,
			IsManualConsumption: state.Kind == workflow.ComponentManual,
			Consumption:         perUnit,
		})
	}
	return components, nil
}

// fillDisplayConsumption derives the per-order figure for entry screens.
func (o *Order) fillDisplayConsumption() {
	for i := range o.Components {
		o.Components[i].DisplayConsumption = o.Components[i].Consumption.Mul(o.OrderQty)
	}
}

func nextOrderNumber(ctx context.Context, businessId string) (string, error) {
	db := config.GetDB()
	var maxSeq int64
	err := db.WithContext(ctx).Model(&Order{}).
		Where("business_id = ?", businessId).
		Select("COALESCE(MAX(id), 0)").
		Scan(&maxSeq).Error
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ORD-%06d", maxSeq+1), nil
}

func CreateOrder(ctx context.Context, input *NewOrder) (*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}

	components, err := input.resolveComponents(DefaultFormulaCatalog)
	if err != nil {
		return nil, err
	}

	orderNumber, err := nextOrderNumber(ctx, businessId)
	if err != nil {
		return nil, err
	}

	order := Order{
		BusinessId:    businessId,
		OrderNumber:   orderNumber,
		CustomerName:  input.CustomerName,
		ProductName:   input.ProductName,
		OrderQty:      input.OrderQty,
		OrderDate:     input.OrderDate,
		CurrentStatus: OrderStatusDraft,
		Components:    components,
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Create(&order).Error; err != nil {
		return nil, err
	}
	order.fillDisplayConsumption()
	return &order, nil
}

func UpdateOrder(ctx context.Context, id int, input *NewOrder) (*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	order, err := utils.FetchModel[Order](ctx, businessId, id, "Components")
	if err != nil {
		return nil, err
	}
	if order.CurrentStatus == OrderStatusCancelled {
		return nil, errors.New("cancelled order cannot be edited")
	}

	if err := input.validate(ctx, businessId); err != nil {
		return nil, err
	}
	components, err := input.resolveComponents(DefaultFormulaCatalog)
	if err != nil {
		return nil, err
	}
	for i := range components {
		components[i].OrderId = order.ID
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

	if err := tx.WithContext(ctx).Where("order_id = ?", order.ID).Delete(&OrderComponent{}).Error; err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Create(&components).Error; err != nil {
		return nil, err
	}
	err = tx.WithContext(ctx).Model(order).Updates(map[string]interface{}{
		"CustomerName": input.CustomerName,
		"ProductName":  input.ProductName,
		"OrderQty":     input.OrderQty,
		"OrderDate":    input.OrderDate,
	}).Error
	if err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	order.CustomerName = input.CustomerName
	order.ProductName = input.ProductName
	order.OrderQty = input.OrderQty
	order.OrderDate = input.OrderDate
	order.Components = components
	order.fillDisplayConsumption()
	return order, nil
}

func UpdateOrderStatus(ctx context.Context, id int, status OrderStatus) (*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid order status %q", status)
	}

	order, err := utils.FetchModel[Order](ctx, businessId, id, "Components")
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(order).Update("CurrentStatus", status).Error; err != nil {
		return nil, err
	}
	order.CurrentStatus = status
	order.fillDisplayConsumption()
	return order, nil
}

// DeleteOrder refuses while job cards reference the order; order deletion
// itself never touches stock (consumption is posted and reversed by job
// cards).
func DeleteOrder(ctx context.Context, id int) (*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	order, err := utils.FetchModel[Order](ctx, businessId, id, "Components")
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var refs int64
	if err := db.WithContext(ctx).Model(&JobCard{}).
		Where("business_id = ? AND order_id = ?", businessId, id).
		Count(&refs).Error; err != nil {
		return nil, err
	}
	if refs > 0 {
		return nil, errors.New("order is referenced by job cards and cannot be deleted")
	}

	tx := db.Begin()
	defer func() {
		if r := recover(); r != nil {
			_ = tx.Rollback().Error
			panic(r)
		}
	}()
	defer func() { _ = tx.Rollback().Error }()

	if err := tx.WithContext(ctx).Where("order_id = ?", order.ID).Delete(&OrderComponent{}).Error; err != nil {
		return nil, err
	}
	if err := tx.WithContext(ctx).Delete(order).Error; err != nil {
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return order, nil
}

func GetOrder(ctx context.Context, id int) (*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	order, err := utils.FetchModel[Order](ctx, businessId, id, "Components")
	if err != nil {
		return nil, err
	}
	order.fillDisplayConsumption()
	return order, nil
}

func GetOrders(ctx context.Context, status *OrderStatus) ([]*Order, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	query := db.WithContext(ctx).Preload("Components").Where("business_id = ?", businessId)
	if status != nil {
		query = query.Where("current_status = ?", *status)
	}

	var orders []*Order
	if err := query.Order("id DESC").Find(&orders).Error; err != nil {
		return nil, err
	}
	for _, o := range orders {
		o.fillDisplayConsumption()
	}
	return orders, nil
}

// ComponentPreview is what the entry screen renders for one component after a
// product selection or quantity change.
type ComponentPreview struct {
	MaterialId         int             `json:"material_id"`
	Formula            string          `json:"formula"`
	Kind               string          `json:"kind"`
	PerUnitConsumption decimal.Decimal `json:"per_unit_consumption"`
	DisplayConsumption decimal.Decimal `json:"display_consumption"`
}

// PreviewOrderComponents recomputes display figures for an in-progress entry
// screen at the given order quantity. Nothing is persisted.
func PreviewOrderComponents(ctx context.Context, orderQty decimal.Decimal, inputs []NewOrderComponent) ([]ComponentPreview, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	previews := make([]ComponentPreview, 0, len(inputs))
	for i, c := range inputs {
		if err := utils.ValidateResourceId[Material](ctx, businessId, c.MaterialId); err != nil {
			return nil, fmt.Errorf("material %d not found", c.MaterialId)
		}
		kind := workflow.ComponentKindOf(c.IsManualConsumption, c.Formula)
		var state workflow.ComponentState
		if c.PerUnitConsumption != nil {
			state = workflow.OnProductSelect(kind, c.Formula, *c.PerUnitConsumption)
		} else {
			state = workflow.ComponentState{Kind: kind, FormulaRef: c.Formula, Display: c.DisplayConsumption}
		}
		state, err := workflow.OnQuantityChange(state, DefaultFormulaCatalog, orderQty)
		if err != nil {
			return nil, fmt.Errorf("component %d: %w", i, err)
		}
		previews = append(previews, ComponentPreview{
			MaterialId:         c.MaterialId,
			Formula:            c.Formula,
			Kind:               string(state.Kind),
			PerUnitConsumption: state.PerUnitBaseline,
			DisplayConsumption: state.Display,
		})
	}
	return previews, nil
}
