package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/craftlinedata/factory_backend/config"
	"bitbucket.org/craftlinedata/factory_backend/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Exports the current stock position and valuation of a business to an xlsx
// workbook. Valuation is stock qty x last purchase rate, the same cost basis
// the posting engine maintains.
func main() {
	businessID := flag.String("business-id", "", "Required: business id (uuid)")
	output := flag.String("out", "stock-valuation.xlsx", "Output xlsx path")
	flag.Parse()

	if strings.TrimSpace(*businessID) == "" {
		fmt.Fprintln(os.Stderr, "--business-id is required")
		os.Exit(1)
	}

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	var materials []*models.Material
	err := db.Where("business_id = ?", *businessID).
		Order("name").
		Find(&materials).Error
	if err != nil {
		fmt.Fprintf(os.Stderr, "fetch materials: %v\n", err)
		os.Exit(1)
	}

	f := excelize.NewFile()
	sheetName := "Stock Valuation"
	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		fmt.Fprintf(os.Stderr, "rename sheet: %v\n", err)
		os.Exit(1)
	}

	// Add headers
	f.SetCellValue(sheetName, "A1", "Material")
	f.SetCellValue(sheetName, "B1", "SKU")
	f.SetCellValue(sheetName, "C1", "Unit")
	f.SetCellValue(sheetName, "D1", "StockQty")
	f.SetCellValue(sheetName, "E1", "PurchaseRate")
	f.SetCellValue(sheetName, "F1", "StockValue")

	// Add data
	totalValue := decimal.Zero
	for i, m := range materials {
		row := fmt.Sprint(i + 2)
		value := m.StockQty.Mul(m.PurchaseRate)
		totalValue = totalValue.Add(value)
		f.SetCellValue(sheetName, "A"+row, m.Name)
		f.SetCellValue(sheetName, "B"+row, m.Sku)
		f.SetCellValue(sheetName, "C"+row, m.Unit)
		f.SetCellValue(sheetName, "D"+row, m.StockQty.InexactFloat64())
		f.SetCellValue(sheetName, "E"+row, m.PurchaseRate.InexactFloat64())
		f.SetCellValue(sheetName, "F"+row, value.InexactFloat64())
	}
	totalRow := fmt.Sprint(len(materials) + 2)
	f.SetCellValue(sheetName, "A"+totalRow, "Total")
	f.SetCellValue(sheetName, "F"+totalRow, totalValue.InexactFloat64())

	if err := f.SaveAs(*output); err != nil {
		fmt.Fprintf(os.Stderr, "write workbook: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("exported %d materials to %s (total value %s)\n", len(materials), *output, totalValue)
}
