package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/craftlinedata/factory_backend/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// DocumentRef identifies the source document of a posting or reversal.
type DocumentRef struct {
	Type   string
	ID     int
	Number string
	Date   time.Time
}

// PostingItem is one line to post: quantities plus the transport-and-GST
// adjusted unit price already derived by the allocator.
type PostingItem struct {
	MaterialId  int
	MainQty     decimal.Decimal
	ActualMeter decimal.Decimal
	UnitPrice   decimal.Decimal
}

// ConsumptionItem is one material draw on a job card.
type ConsumptionItem struct {
	MaterialId int
	Qty        decimal.Decimal
}

type ItemError struct {
	Index      int    `json:"index"`
	MaterialId int    `json:"material_id"`
	Message    string `json:"message"`
}

// PostingReport is the structured outcome of a multi-item posting loop.
// Already-applied items stay applied when a later item fails; there is no
// ambient database transaction wrapped around the loop, so partial completion
// is surfaced here for the operator to reconcile.
type PostingReport struct {
	SuccessCount int            `json:"success_count"`
	ErrorCount   int            `json:"error_count"`
	Errors       []ItemError    `json:"errors,omitempty"`
	Transactions []*LedgerEntry `json:"-"`
}

func (r *PostingReport) Ok() bool {
	return r.ErrorCount == 0
}

func (r *PostingReport) addError(index int, materialId int, err error) {
	r.ErrorCount++
	r.Errors = append(r.Errors, ItemError{Index: index, MaterialId: materialId, Message: err.Error()})
}

// InventoryDelta returns the quantity a purchase line posts to inventory.
// Actual measured intake takes priority over the ordered main quantity; this
// preference is a deliberate business rule.
func InventoryDelta(item PostingItem) decimal.Decimal {
	if item.ActualMeter.IsPositive() {
		return item.ActualMeter
	}
	return item.MainQty
}

// PostPurchaseCompletion applies one purchase's stock increases, line by line
// in array order. Each line bumps the material's stock by its inventory delta
// and overwrites the purchase rate with the allocator's unit price (last
// price, not a weighted average), then appends one ledger entry.
//
// Per-item failures are accumulated and reported after the loop; the loop
// never aborts mid-way silently.
func PostPurchaseCompletion(ctx context.Context, store InventoryStore, logger *logrus.Logger, ref DocumentRef, items []PostingItem) *PostingReport {
	if logger == nil {
		logger = config.GetLogger()
	}
	report := &PostingReport{}

	for i, item := range items {
		delta := InventoryDelta(item)
		if delta.IsZero() {
			report.SuccessCount++
			continue
		}

		material, err := store.ReadMaterial(ctx, item.MaterialId)
		if err != nil {
			report.addError(i, item.MaterialId, fmt.Errorf("read material: %w", err))
			continue
		}

		previousQty := material.StockQty
		newQty := previousQty.Add(delta)

		if err := store.WriteMaterialStock(ctx, item.MaterialId, newQty, item.UnitPrice); err != nil {
			report.addError(i, item.MaterialId, fmt.Errorf("write stock: %w", err))
			continue
		}

		entry := &LedgerEntry{
			MaterialId:      item.MaterialId,
			TransactionType: TransactionTypePurchase,
			Qty:             delta,
			PreviousQty:     previousQty,
			NewQty:          newQty,
			ReferenceType:   ref.Type,
			ReferenceID:     ref.ID,
			ReferenceNumber: ref.Number,
			TransactionDate: ref.Date,
			Unit:            material.Unit,
			UpdateSource:    "purchase-completion",
		}
		if err := store.AppendTransaction(ctx, entry); err != nil {
			// Stock already moved; report so the operator can reconcile
			// against the missing audit row.
			report.addError(i, item.MaterialId, fmt.Errorf("append ledger entry: %w", err))
			continue
		}

		report.Transactions = append(report.Transactions, entry)
		report.SuccessCount++
	}

	if !report.Ok() {
		logger.WithFields(logrus.Fields{
			"reference_type": ref.Type,
			"reference_id":   ref.ID,
			"success_count":  report.SuccessCount,
			"error_count":    report.ErrorCount,
		}).Warn("purchase posting completed partially")
	}
	return report
}

// PostJobCardConsumption applies material draws for a job card as negative
// stock deltas. The material's purchase rate is left untouched.
func PostJobCardConsumption(ctx context.Context, store InventoryStore, logger *logrus.Logger, ref DocumentRef, items []ConsumptionItem) *PostingReport {
	if logger == nil {
		logger = config.GetLogger()
	}
	report := &PostingReport{}

	for i, item := range items {
		if item.Qty.IsZero() {
			report.SuccessCount++
			continue
		}
		if item.Qty.IsNegative() {
			report.addError(i, item.MaterialId, fmt.Errorf("%w: consumption qty must not be negative", ErrInvalidInput))
			continue
		}

		material, err := store.ReadMaterial(ctx, item.MaterialId)
		if err != nil {
			report.addError(i, item.MaterialId, fmt.Errorf("read material: %w", err))
			continue
		}

		previousQty := material.StockQty
		newQty := previousQty.Sub(item.Qty)

		if err := store.WriteMaterialStock(ctx, item.MaterialId, newQty, material.PurchaseRate); err != nil {
			report.addError(i, item.MaterialId, fmt.Errorf("write stock: %w", err))
			continue
		}

		entry := &LedgerEntry{
			MaterialId:      item.MaterialId,
			TransactionType: TransactionTypeConsumption,
			Qty:             item.Qty.Neg(),
			PreviousQty:     previousQty,
			NewQty:          newQty,
			ReferenceType:   ref.Type,
			ReferenceID:     ref.ID,
			ReferenceNumber: ref.Number,
			TransactionDate: ref.Date,
			Unit:            material.Unit,
			UpdateSource:    "job-card",
		}
		if err := store.AppendTransaction(ctx, entry); err != nil {
			report.addError(i, item.MaterialId, fmt.Errorf("append ledger entry: %w", err))
			continue
		}

		report.Transactions = append(report.Transactions, entry)
		report.SuccessCount++
	}

	if !report.Ok() {
		logger.WithFields(logrus.Fields{
			"reference_type": ref.Type,
			"reference_id":   ref.ID,
			"success_count":  report.SuccessCount,
			"error_count":    report.ErrorCount,
		}).Warn("job card consumption posted partially")
	}
	return report
}
