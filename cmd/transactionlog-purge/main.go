package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/craftlinedata/factory_backend/config"
	"bitbucket.org/craftlinedata/factory_backend/models"
	"bitbucket.org/craftlinedata/factory_backend/utils"
)

// Admin cleanup for inventory ledger rows, e.g. entries left behind by a
// bad import. Every purge goes through the admin-gated model path so the
// deletion is logged with who ran it.
func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	operator := flag.String("operator", "", "Required: who is running the purge (recorded in logs)")
	ids := flag.String("ids", "", "Required: comma separated ledger entry ids")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" || strings.TrimSpace(*operator) == "" || strings.TrimSpace(*ids) == "" {
		fmt.Fprintln(os.Stderr, "--business-id, --operator and --ids are required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	if config.GetDB() == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	ctx := context.Background()
	ctx = utils.SetBusinessIdInContext(ctx, *businessID)
	ctx = utils.SetUsernameInContext(ctx, *operator)
	ctx = utils.SetIsAdminInContext(ctx, true)

	purged := 0
	for _, raw := range strings.Split(*ids, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		var id int
		if _, err := fmt.Sscanf(raw, "%d", &id); err != nil {
			fmt.Fprintf(os.Stderr, "invalid id %q: %v\n", raw, err)
			os.Exit(1)
		}
		entry, err := models.PurgeInventoryTransaction(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "purge %d: %v\n", id, err)
			os.Exit(1)
		}
		fmt.Printf("purged entry %d (material=%d type=%s qty=%s)\n",
			entry.ID, entry.MaterialId, entry.TransactionType, entry.Qty)
		purged++
	}
	fmt.Printf("transaction log purge complete: %d entries removed\n", purged)
}
