package workflow

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/craftlinedata/factory_backend/config"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// RebuildReport describes one material's ledger replay against stored stock.
type RebuildReport struct {
	MaterialId  int             `json:"material_id"`
	StoredQty   decimal.Decimal `json:"stored_qty"`
	ReplayedQty decimal.Decimal `json:"replayed_qty"`
	Drift       decimal.Decimal `json:"drift"`
	Fixed       bool            `json:"fixed"`
}

// RebuildMaterialFromLedger replays every ledger entry for one material and
// compares the summed signed quantities against the stored stock figure.
// Reversal entries are ordinary signed rows, so a plain sum reproduces the
// balance the posting engine should have left behind.
//
// With fix set, a correcting manual-adjustment entry is appended and the
// stored stock is aligned to the replayed balance.
func RebuildMaterialFromLedger(ctx context.Context, store InventoryStore, logger *logrus.Logger, materialId int, fix bool) (*RebuildReport, error) {
	if logger == nil {
		logger = config.GetLogger()
	}

	material, err := store.ReadMaterial(ctx, materialId)
	if err != nil {
		return nil, fmt.Errorf("read material: %w", err)
	}

	entries, err := store.ListTransactionsByMaterial(ctx, materialId)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}

	replayed := decimal.Zero
	for _, e := range entries {
		if e == nil {
			continue
		}
		// Correction rows document a past stored-vs-ledger repair; they are
		// not stock movements and must not feed back into the replay.
		if e.UpdateSource == "inventory-rebuild" {
			continue
		}
		replayed = replayed.Add(e.Qty)
	}

	report := &RebuildReport{
		MaterialId:  materialId,
		StoredQty:   material.StockQty,
		ReplayedQty: replayed,
		Drift:       material.StockQty.Sub(replayed),
	}
	if report.Drift.IsZero() {
		return report, nil
	}

	logger.WithFields(logrus.Fields{
		"material_id":  materialId,
		"stored_qty":   report.StoredQty.String(),
		"replayed_qty": report.ReplayedQty.String(),
		"drift":        report.Drift.String(),
	}).Warn("inventory drift detected between ledger and stored stock")

	if !fix {
		return report, nil
	}

	correction := replayed.Sub(material.StockQty)
	if err := store.WriteMaterialStock(ctx, materialId, replayed, material.PurchaseRate); err != nil {
		return report, fmt.Errorf("write corrected stock: %w", err)
	}
	entry := &LedgerEntry{
		MaterialId:      materialId,
		TransactionType: TransactionTypeManualAdjustment,
		Qty:             correction,
		PreviousQty:     material.StockQty,
		NewQty:          replayed,
		ReferenceType:   ReferenceTypeManual,
		ReferenceNumber: "inventory-rebuild",
		TransactionDate: time.Now().UTC(),
		Unit:            material.Unit,
		UpdateSource:    "inventory-rebuild",
	}
	if err := store.AppendTransaction(ctx, entry); err != nil {
		return report, fmt.Errorf("append correction entry: %w", err)
	}
	report.Fixed = true
	return report, nil
}
