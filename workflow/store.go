package workflow

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Transaction types recorded in the inventory ledger.
const (
	TransactionTypePurchase         = "purchase"
	TransactionTypePurchaseReversal = "purchase-reversal"
	TransactionTypeConsumption      = "consumption"
	TransactionTypeJobCardReversal  = "job-card-reversal"
	TransactionTypeManualAdjustment = "manual-stock-adjustment"
)

// Reference types pointing a ledger entry back at its source document.
const (
	ReferenceTypePurchase = "Purchase"
	ReferenceTypeJobCard  = "JobCard"
	ReferenceTypeOrder    = "Order"
	ReferenceTypeManual   = "Manual"
)

// MaterialState is the engine's view of one inventory item.
type MaterialState struct {
	ID           int
	Name         string
	Unit         string
	StockQty     decimal.Decimal
	PurchaseRate decimal.Decimal
}

// LedgerEntry is one immutable inventory audit record. Entries are created
// once per mutation and never updated afterwards, except for the
// reversed-by marker set when a later entry reverses this one.
type LedgerEntry struct {
	ID                      int
	MaterialId              int
	TransactionType         string
	Qty                     decimal.Decimal
	PreviousQty             decimal.Decimal
	NewQty                  decimal.Decimal
	ReferenceType           string
	ReferenceID             int
	ReferenceNumber         string
	TransactionDate         time.Time
	Unit                    string
	UpdateSource            string
	IsReversal              bool
	ReversesTransactionId   *int
	ReversedByTransactionId *int
	ReversalReason          *string
}

// InventoryStore is the engine's only external interface: the data-access
// boundary to the relational store. The gorm-backed implementation lives in
// models; tests use an in-memory one.
type InventoryStore interface {
	ReadMaterial(ctx context.Context, materialId int) (*MaterialState, error)

	// WriteMaterialStock is a partial update: stock qty and purchase rate
	// only, never clobbering unrelated material fields.
	WriteMaterialStock(ctx context.Context, materialId int, stockQty decimal.Decimal, purchaseRate decimal.Decimal) error

	// AppendTransaction persists the entry and fills in entry.ID.
	AppendTransaction(ctx context.Context, entry *LedgerEntry) error

	// MarkTransactionReversed stamps reversal metadata onto the original
	// entry. This is the single permitted post-hoc touch of a ledger row.
	MarkTransactionReversed(ctx context.Context, originalId int, reversalId int, reason string, at time.Time) error

	ListTransactionsByReference(ctx context.Context, referenceType string, referenceId int) ([]*LedgerEntry, error)
	ListTransactionsByMaterial(ctx context.Context, materialId int) ([]*LedgerEntry, error)
}
