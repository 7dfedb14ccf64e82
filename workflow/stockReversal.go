package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/craftlinedata/factory_backend/config"
	"github.com/sirupsen/logrus"
)

// ReversePurchaseCompletion undoes the stock effect of a completed purchase
// by appending sign-inverted ledger entries for every non-reversed purchase
// entry of the document. Original entries are never deleted; they are marked
// reversed so the pair stays auditable.
//
// Reversal is best effort: failures land in the report and must not block the
// deletion that triggered it.
func ReversePurchaseCompletion(ctx context.Context, store InventoryStore, logger *logrus.Logger, ref DocumentRef, reason string) *PostingReport {
	return reverseReferenceEntries(ctx, store, logger, ref, TransactionTypePurchase, TransactionTypePurchaseReversal, "purchase-deletion", reason)
}

// ReverseJobCardConsumption returns materials consumed by a deleted job card
// back to stock, symmetrically to how the consumption was posted.
func ReverseJobCardConsumption(ctx context.Context, store InventoryStore, logger *logrus.Logger, ref DocumentRef, reason string) *PostingReport {
	return reverseReferenceEntries(ctx, store, logger, ref, TransactionTypeConsumption, TransactionTypeJobCardReversal, "job-card-deletion", reason)
}

func reverseReferenceEntries(
	ctx context.Context,
	store InventoryStore,
	logger *logrus.Logger,
	ref DocumentRef,
	originalType string,
	reversalType string,
	updateSource string,
	reason string,
) *PostingReport {
	if logger == nil {
		logger = config.GetLogger()
	}
	report := &PostingReport{}

	originals, err := store.ListTransactionsByReference(ctx, ref.Type, ref.ID)
	if err != nil {
		report.addError(0, 0, fmt.Errorf("list ledger entries: %w", err))
		logReversalOutcome(logger, ref, report)
		return report
	}

	now := time.Now().UTC()
	for i, o := range originals {
		if o == nil || o.TransactionType != originalType || o.IsReversal {
			continue
		}
		// Already reversed: skip quietly so reversal stays idempotent.
		if o.ReversedByTransactionId != nil && *o.ReversedByTransactionId > 0 {
			continue
		}

		material, err := store.ReadMaterial(ctx, o.MaterialId)
		if err != nil {
			report.addError(i, o.MaterialId, fmt.Errorf("read material: %w", err))
			continue
		}

		previousQty := material.StockQty
		newQty := previousQty.Sub(o.Qty)

		// Quantity is restored; the last-price purchase rate is deliberately
		// left as-is. Average cost is derivable from the ledger.
		if err := store.WriteMaterialStock(ctx, o.MaterialId, newQty, material.PurchaseRate); err != nil {
			report.addError(i, o.MaterialId, fmt.Errorf("write stock: %w", err))
			continue
		}

		reasonCopy := reason
		originalId := o.ID
		rev := &LedgerEntry{
			MaterialId:            o.MaterialId,
			TransactionType:       reversalType,
			Qty:                   o.Qty.Neg(),
			PreviousQty:           previousQty,
			NewQty:                newQty,
			ReferenceType:         ref.Type,
			ReferenceID:           ref.ID,
			ReferenceNumber:       ref.Number,
			TransactionDate:       ref.Date,
			Unit:                  o.Unit,
			UpdateSource:          updateSource,
			IsReversal:            true,
			ReversesTransactionId: &originalId,
			ReversalReason:        &reasonCopy,
		}
		if err := store.AppendTransaction(ctx, rev); err != nil {
			report.addError(i, o.MaterialId, fmt.Errorf("append reversal entry: %w", err))
			continue
		}
		if err := store.MarkTransactionReversed(ctx, o.ID, rev.ID, reason, now); err != nil {
			report.addError(i, o.MaterialId, fmt.Errorf("mark original reversed: %w", err))
			continue
		}

		report.Transactions = append(report.Transactions, rev)
		report.SuccessCount++
	}

	logReversalOutcome(logger, ref, report)
	return report
}

func logReversalOutcome(logger *logrus.Logger, ref DocumentRef, report *PostingReport) {
	if report.Ok() {
		return
	}
	logger.WithFields(logrus.Fields{
		"reference_type": ref.Type,
		"reference_id":   ref.ID,
		"success_count":  report.SuccessCount,
		"error_count":    report.ErrorCount,
	}).Warn("stock reversal completed partially; ledger shows the discrepancy")
}
