package config

import (
	"os"
	"strings"
)

// StrictPurchaseImmutability forbids editing a Completed purchase entirely.
// When off, a Completed purchase may still only be re-posted through the
// reverse-then-repost workflow; it is never silently re-posted.
//
// Set via env:
// - STRICT_PURCHASE_IMMUTABLE=true
func StrictPurchaseImmutability() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_PURCHASE_IMMUTABLE")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// RebuildAutoFix lets the inventory rebuild workflow write correcting
// manual-adjustment transactions instead of only reporting drift.
//
// Set via env:
// - INVENTORY_REBUILD_AUTOFIX=true
func RebuildAutoFix() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("INVENTORY_REBUILD_AUTOFIX")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
