package models

import (
	"testing"

	"bitbucket.org/craftlinedata/factory_backend/workflow"
	"github.com/shopspring/decimal"
)

func d(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func TestResolveComponentsPersistsPerUnit(t *testing.T) {
	perUnit := d("2.5")
	input := &NewOrder{
		OrderQty: decimal.NewFromInt(8),
		Components: []NewOrderComponent{
			{
				MaterialId:          1,
				Formula:             workflow.FormulaManual,
				IsManualConsumption: true,
				PerUnitConsumption:  &perUnit,
				DisplayConsumption:  d("20"),
			},
			{
				MaterialId: 2,
				Formula:    "fabric-per-piece",
			},
		},
	}

	components, err := input.resolveComponents(DefaultFormulaCatalog)
	if err != nil {
		t.Fatalf("resolveComponents: %v", err)
	}

	if !components[0].Consumption.Equal(d("2.5")) {
		t.Errorf("manual component persisted %s, want the 2.5 baseline, not the per-order display", components[0].Consumption)
	}
	if !components[0].IsManualConsumption {
		t.Errorf("manual component lost its manual flag")
	}
	if !components[1].Consumption.Equal(d("1.6")) {
		t.Errorf("calculated component persisted %s, want catalog value 1.6", components[1].Consumption)
	}
}

func TestResolveComponentsRecoversLostBaseline(t *testing.T) {
	// Reload mid-edit: the client only has the per-order display figure.
	input := &NewOrder{
		OrderQty: decimal.NewFromInt(5),
		Components: []NewOrderComponent{
			{
				MaterialId:          1,
				Formula:             workflow.FormulaManual,
				IsManualConsumption: true,
				DisplayConsumption:  d("12.5"),
			},
		},
	}

	components, err := input.resolveComponents(DefaultFormulaCatalog)
	if err != nil {
		t.Fatalf("resolveComponents: %v", err)
	}
	if !components[0].Consumption.Equal(d("2.5")) {
		t.Errorf("recovered baseline = %s, want 12.5/5 = 2.5", components[0].Consumption)
	}
}

func TestResolveComponentsTieredFormulaUsesOrderQty(t *testing.T) {
	input := &NewOrder{
		OrderQty: decimal.NewFromInt(150),
		Components: []NewOrderComponent{
			{MaterialId: 1, Formula: "thread-tiered"},
		},
	}
	components, err := input.resolveComponents(DefaultFormulaCatalog)
	if err != nil {
		t.Fatalf("resolveComponents: %v", err)
	}
	if !components[0].Consumption.Equal(d("0.9")) {
		t.Errorf("tiered per-unit at qty 150 = %s, want 0.9", components[0].Consumption)
	}
}

func TestResolveComponentsUnknownFormula(t *testing.T) {
	input := &NewOrder{
		OrderQty: decimal.NewFromInt(10),
		Components: []NewOrderComponent{
			{MaterialId: 1, Formula: "no-such-formula"},
		},
	}
	if _, err := input.resolveComponents(DefaultFormulaCatalog); err == nil {
		t.Fatalf("expected error for unknown formula")
	}
}

func TestComponentKindFromStoredRow(t *testing.T) {
	manualByFlag := OrderComponent{Formula: "fabric-per-piece", IsManualConsumption: true}
	if manualByFlag.Kind() != workflow.ComponentManual {
		t.Errorf("flagged component should classify manual")
	}
	manualByFormula := OrderComponent{Formula: workflow.FormulaManual}
	if manualByFormula.Kind() != workflow.ComponentManual {
		t.Errorf("formula 'manual' should classify manual")
	}
	calculated := OrderComponent{Formula: "fabric-per-piece"}
	if calculated.Kind() != workflow.ComponentCalculated {
		t.Errorf("catalog formula should classify calculated")
	}
}
