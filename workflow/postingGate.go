package workflow

import (
	"errors"
	"fmt"
)

// Purchase statuses as stored on the header. Declared here as plain strings
// so the gate stays usable from models without an import cycle.
const (
	PurchaseStatusPending   = "Pending"
	PurchaseStatusCompleted = "Completed"
	PurchaseStatusCancelled = "Cancelled"
)

// ErrRepostBlocked rejects any attempt to post a purchase that was already
// posted. A completed purchase must go through reverse-then-repost; there is
// no silent double posting.
var ErrRepostBlocked = errors.New("purchase already completed; reverse it before reposting")

// EnsurePurchasePostable gates the posting trigger.
func EnsurePurchasePostable(currentStatus string) error {
	switch currentStatus {
	case PurchaseStatusPending:
		return nil
	case PurchaseStatusCompleted:
		return ErrRepostBlocked
	default:
		return fmt.Errorf("purchase in status %q cannot be posted", currentStatus)
	}
}

// ValidatePurchaseStatusTransition enforces the purchase state machine:
// Pending -> Completed (posts stock, one way) and Pending -> Cancelled.
// Completed -> Pending is not modeled; editing a completed purchase requires
// an explicit reversal-then-repost workflow.
func ValidatePurchaseStatusTransition(oldStatus, newStatus string) error {
	if oldStatus == newStatus {
		return nil
	}
	switch {
	case oldStatus == PurchaseStatusPending && newStatus == PurchaseStatusCompleted:
		return nil
	case oldStatus == PurchaseStatusPending && newStatus == PurchaseStatusCancelled:
		return nil
	case oldStatus == PurchaseStatusCompleted:
		return ErrRepostBlocked
	}
	return fmt.Errorf("status transition %q -> %q is not allowed", oldStatus, newStatus)
}
