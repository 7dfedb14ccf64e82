package models_test

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/craftlinedata/factory_backend/config"
	"bitbucket.org/craftlinedata/factory_backend/models"
	"bitbucket.org/craftlinedata/factory_backend/utils"
	"bitbucket.org/craftlinedata/factory_backend/workflow"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Full lifecycle against real MySQL and Redis: purchase completion posts
// stock and cost basis, deletion reverses through the ledger, job cards issue
// consumption, and a ledger replay agrees with the cached stock at every
// step.
func TestPurchaseLifecycleStockAndLedger(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "factory_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	businessID := uuid.NewString()
	ctx = utils.SetBusinessIdInContext(ctx, businessID)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUsernameInContext(ctx, "test@local")

	// Materials: a fabric measured in meters with an alternate roll unit, and
	// a thread measured in pieces.
	fabric, err := models.CreateMaterial(ctx, &models.NewMaterial{
		Name:           "Grey Fabric",
		Sku:            "FAB-001",
		Unit:           "m",
		AlternateUnit:  "kg",
		ConversionRate: decimal.RequireFromString("4.5"),
	})
	if err != nil {
		t.Fatalf("CreateMaterial(fabric): %v", err)
	}
	thread, err := models.CreateMaterial(ctx, &models.NewMaterial{
		Name:        "Poly Thread",
		Sku:         "THR-001",
		Unit:        "pcs",
		OpeningQty:  decimal.NewFromInt(20),
		OpeningRate: decimal.NewFromInt(30),
	})
	if err != nil {
		t.Fatalf("CreateMaterial(thread): %v", err)
	}

	vendor, err := models.CreateVendor(ctx, &models.NewVendor{Name: "Textile Traders"})
	if err != nil {
		t.Fatalf("CreateVendor: %v", err)
	}

	// Purchase: 100 kg fabric @ 50 (GST 18%), 60 pcs thread @ 100 (GST 12%),
	// transport 500 prorated over alt quantities.
	purchase, err := models.CreatePurchase(ctx, &models.NewPurchase{
		VendorId:        vendor.ID,
		PurchaseDate:    time.Now(),
		TransportCharge: decimal.NewFromInt(500),
		IsTaxInclusive:  utils.NewFalse(),
		Details: []models.NewPurchaseItem{
			{
				MaterialId:  fabric.ID,
				AltQty:      decimal.NewFromInt(100),
				AltUnitRate: decimal.NewFromInt(50),
				GstRate:     decimal.NewFromInt(18),
				MainQty:     decimal.NewFromInt(50),
				ActualMeter: decimal.NewFromInt(52),
			},
			{
				MaterialId:  thread.ID,
				AltQty:      decimal.NewFromInt(60),
				AltUnitRate: decimal.NewFromInt(100),
				GstRate:     decimal.NewFromInt(12),
				MainQty:     decimal.NewFromInt(60),
			},
		},
	})
	if err != nil {
		t.Fatalf("CreatePurchase: %v", err)
	}
	if purchase.CurrentStatus != models.PurchaseStatusPending {
		t.Fatalf("new purchase status = %s, want Pending", purchase.CurrentStatus)
	}
	assertDecimalEq(t, "subtotal", purchase.Subtotal, decimal.NewFromInt(11000))
	assertDecimalEq(t, "total tax", purchase.TotalTaxAmount, decimal.NewFromInt(1620))
	assertDecimalEq(t, "grand total", purchase.TotalAmount, decimal.NewFromInt(13120))

	// Creation must not move stock.
	m, err := models.GetMaterial(ctx, fabric.ID)
	if err != nil {
		t.Fatalf("GetMaterial(fabric): %v", err)
	}
	assertDecimalEq(t, "fabric stock before completion", m.StockQty, decimal.Zero)

	// Complete: fabric posts the measured 52 m, not the nominal 50; thread
	// adds to its opening 20.
	purchase, report, err := models.UpdatePurchaseStatus(ctx, purchase.ID, models.PurchaseStatusCompleted)
	if err != nil {
		t.Fatalf("UpdatePurchaseStatus(Completed): %v", err)
	}
	if report == nil || !report.Ok() {
		t.Fatalf("posting report not clean: %+v", report)
	}

	m, err = models.GetMaterial(ctx, fabric.ID)
	if err != nil {
		t.Fatalf("GetMaterial(fabric): %v", err)
	}
	assertDecimalEq(t, "fabric stock after completion", m.StockQty, decimal.NewFromInt(52))
	if m.PurchaseRate.IsZero() {
		t.Fatalf("fabric purchase rate not updated")
	}

	m, err = models.GetMaterial(ctx, thread.ID)
	if err != nil {
		t.Fatalf("GetMaterial(thread): %v", err)
	}
	assertDecimalEq(t, "thread stock after completion", m.StockQty, decimal.NewFromInt(80))

	// Re-completing a completed purchase is blocked.
	if _, _, err := models.UpdatePurchaseStatus(ctx, purchase.ID, models.PurchaseStatusCompleted); err != nil {
		t.Fatalf("same-status transition should be a no-op, got %v", err)
	}
	if _, err := models.UpdatePurchase(ctx, purchase.ID, &models.NewPurchase{
		VendorId:       vendor.ID,
		PurchaseDate:   time.Now(),
		IsTaxInclusive: utils.NewFalse(),
		Details:        []models.NewPurchaseItem{{MaterialId: fabric.ID}},
	}); err != workflow.ErrRepostBlocked {
		t.Fatalf("editing completed purchase: err = %v, want ErrRepostBlocked", err)
	}

	// Ledger replay agrees with the cached stock.
	db := config.GetDB()
	store := models.NewGormInventoryStore(db, businessID)
	rebuild, err := workflow.RebuildMaterialFromLedger(ctx, store, config.GetLogger(), thread.ID, false)
	if err != nil {
		t.Fatalf("RebuildMaterialFromLedger: %v", err)
	}
	// The opening 20 is itself a ledger row, so replay reproduces the full 80.
	assertDecimalEq(t, "replayed thread qty", rebuild.ReplayedQty, decimal.NewFromInt(80))
	if !rebuild.Drift.IsZero() {
		t.Fatalf("thread drift = %s, want 0", rebuild.Drift.String())
	}

	// Order with one manual and one calculated component, then a job card.
	order, err := models.CreateOrder(ctx, &models.NewOrder{
		ProductName: "Work Jacket",
		OrderQty:    decimal.NewFromInt(10),
		OrderDate:   time.Now(),
		Components: []models.NewOrderComponent{
			{
				MaterialId:          fabric.ID,
				Formula:             workflow.FormulaManual,
				IsManualConsumption: true,
				PerUnitConsumption:  decimalPtr("2.5"),
			},
			{
				MaterialId: thread.ID,
				Formula:    "thread-tiered",
			},
		},
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	assertDecimalEq(t, "manual per-unit persisted", order.Components[0].Consumption, decimal.RequireFromString("2.5"))
	assertDecimalEq(t, "calculated per-unit persisted", order.Components[1].Consumption, decimal.NewFromInt(1))

	jobCard, jcReport, err := models.CreateJobCard(ctx, &models.NewJobCard{
		OrderId:     order.ID,
		ProducedQty: decimal.NewFromInt(10),
		JobDate:     time.Now(),
	})
	if err != nil {
		t.Fatalf("CreateJobCard: %v", err)
	}
	if jcReport == nil || !jcReport.Ok() {
		t.Fatalf("job card posting report not clean: %+v", jcReport)
	}

	m, _ = models.GetMaterial(ctx, fabric.ID)
	assertDecimalEq(t, "fabric stock after job card", m.StockQty, decimal.NewFromInt(27))
	m, _ = models.GetMaterial(ctx, thread.ID)
	assertDecimalEq(t, "thread stock after job card", m.StockQty, decimal.NewFromInt(70))

	// Delete the job card: consumption comes back.
	_, jcReport, err = models.DeleteJobCard(ctx, jobCard.ID)
	if err != nil {
		t.Fatalf("DeleteJobCard: %v", err)
	}
	if jcReport == nil || !jcReport.Ok() {
		t.Fatalf("job card reversal report not clean: %+v", jcReport)
	}
	m, _ = models.GetMaterial(ctx, fabric.ID)
	assertDecimalEq(t, "fabric stock after job card reversal", m.StockQty, decimal.NewFromInt(52))

	// Delete the purchase: stock returns to pre-completion levels and every
	// original ledger row carries a reversed-by marker.
	_, delReport, err := models.DeletePurchase(ctx, purchase.ID)
	if err != nil {
		t.Fatalf("DeletePurchase: %v", err)
	}
	if delReport == nil || !delReport.Ok() {
		t.Fatalf("purchase reversal report not clean: %+v", delReport)
	}
	m, _ = models.GetMaterial(ctx, fabric.ID)
	assertDecimalEq(t, "fabric stock after purchase reversal", m.StockQty, decimal.Zero)
	m, _ = models.GetMaterial(ctx, thread.ID)
	assertDecimalEq(t, "thread stock after purchase reversal", m.StockQty, decimal.NewFromInt(20))

	entries, err := models.GetInventoryTransactionsByReference(ctx, workflow.ReferenceTypePurchase, purchase.ID)
	if err != nil {
		t.Fatalf("GetInventoryTransactionsByReference: %v", err)
	}
	if len(entries) != 4 {
		t.Fatalf("ledger entries for purchase = %d, want 4 (2 posts + 2 reversals)", len(entries))
	}
	for _, e := range entries {
		if e.IsReversal {
			continue
		}
		if e.ReversedByTransactionId == nil {
			t.Fatalf("original ledger entry %d not marked reversed", e.ID)
		}
	}
}

func assertDecimalEq(t *testing.T, label string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Fatalf("%s = %s, want %s", label, got.String(), want.String())
	}
}

func decimalPtr(value string) *decimal.Decimal {
	d := decimal.RequireFromString(value)
	return &d
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("factory-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("factory-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=factory_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
