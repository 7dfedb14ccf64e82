package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/craftlinedata/factory_backend/config"
	"bitbucket.org/craftlinedata/factory_backend/models"
	"bitbucket.org/craftlinedata/factory_backend/workflow"
	"github.com/sirupsen/logrus"
)

func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	materialID := flag.Int("material-id", 0, "Optional: single material id; defaults to every material with ledger entries")
	fix := flag.Bool("fix", false, "Align stored stock to the ledger replay and append a correction entry")
	continueOnError := flag.Bool("continue-on-error", false, "Skip failing materials and continue rebuilding others")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}
	if !*fix && config.RebuildAutoFix() {
		*fix = true
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}
	logger := logrus.New()

	var materialIDs []int
	if *materialID > 0 {
		materialIDs = append(materialIDs, *materialID)
	} else {
		err := db.Raw(`
			SELECT DISTINCT material_id
			FROM inventory_transactions
			WHERE business_id = ?
			ORDER BY material_id
		`, *businessID).Scan(&materialIDs).Error
		if err != nil {
			fmt.Fprintf(os.Stderr, "discover materials: %v\n", err)
			os.Exit(1)
		}
	}

	ctx := context.Background()
	store := models.NewGormInventoryStore(db, *businessID)
	drifted := 0

	for _, id := range materialIDs {
		if err := workflow.AcquireMaterialRebuildLock(db, *businessID, id); err != nil {
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "lock failed (skipping): %v\n", err)
				continue
			}
			fmt.Fprintf(os.Stderr, "lock failed: %v\n", err)
			os.Exit(1)
		}
		report, err := workflow.RebuildMaterialFromLedger(ctx, store, logger, id, *fix)
		workflow.ReleaseMaterialRebuildLock(db, *businessID, id)
		if err != nil {
			if *continueOnError {
				fmt.Fprintf(os.Stderr, "rebuild failed (skipping): %v\n", err)
				continue
			}
			fmt.Fprintf(os.Stderr, "rebuild failed: %v\n", err)
			os.Exit(1)
		}
		if report.Drift.IsZero() {
			fmt.Printf("material=%d stored=%s replayed=%s OK\n", id, report.StoredQty, report.ReplayedQty)
			continue
		}
		drifted++
		status := "DRIFT"
		if report.Fixed {
			status = "FIXED"
		}
		fmt.Printf("material=%d stored=%s replayed=%s drift=%s %s\n",
			id, report.StoredQty, report.ReplayedQty, report.Drift, status)
	}

	fmt.Printf("inventory rebuild complete: %d materials checked, %d drifted\n", len(materialIDs), drifted)
	if drifted > 0 && !*fix {
		os.Exit(2)
	}
}
