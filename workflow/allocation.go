package workflow

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ErrInvalidInput marks allocation inputs rejected before any computation.
var ErrInvalidInput = errors.New("invalid allocation input")

// ProrationBasis selects the denominator used to distribute the transport
// charge across line items. Both conventions exist in this domain, so the
// choice is an explicit input, never inferred from the call site.
type ProrationBasis string

const (
	// ProrationBasisQuantity prorates over the sum of alternate-unit quantities.
	ProrationBasisQuantity ProrationBasis = "Q"
	// ProrationBasisWeight prorates over alt qty x material conversion rate.
	ProrationBasisWeight ProrationBasis = "W"
)

// AllocationItem is one purchase line as entered, before derivation.
type AllocationItem struct {
	MaterialId     int
	AltQty         decimal.Decimal
	AltUnitRate    decimal.Decimal
	GstRate        decimal.Decimal
	MainQty        decimal.Decimal
	ConversionRate decimal.Decimal
	ActualMeter    decimal.Decimal
}

// AllocatedItem carries the derived figures for one line.
//
// LineTotal is base + GST only. Transport is tracked separately; callers that
// need a grand line figure add TransportShare themselves, exactly once.
type AllocatedItem struct {
	MaterialId     int
	AltQty         decimal.Decimal
	MainQty        decimal.Decimal
	ActualMeter    decimal.Decimal
	BaseAmount     decimal.Decimal
	GstAmount      decimal.Decimal
	TransportShare decimal.Decimal
	LineTotal      decimal.Decimal
	UnitPrice      decimal.Decimal
}

type AllocationOptions struct {
	// TaxInclusive declares whether AltUnitRate was captured GST-inclusive.
	// The source screens are inconsistent about this, so it is a required,
	// purchase-level flag applied uniformly to every line.
	TaxInclusive bool
	Basis        ProrationBasis
}

type AllocationResult struct {
	Items []AllocatedItem

	SubtotalBeforeTax decimal.Decimal
	TotalTax          decimal.Decimal
	SubtotalAfterTax  decimal.Decimal
	TransportCharge   decimal.Decimal
	GrandTotal        decimal.Decimal

	// ZeroBasisTransport is set when transportCharge > 0 but the proration
	// basis summed to zero: no line absorbed the charge. Surfaced to the
	// caller as a warning state, never silently swallowed.
	ZeroBasisTransport bool
}

var (
	decimalZero    = decimal.Zero
	decimalHundred = decimal.NewFromInt(100)
)

func validateAllocationItem(i int, item AllocationItem) error {
	if item.AltQty.IsNegative() {
		return fmt.Errorf("%w: item %d: alt qty must not be negative", ErrInvalidInput, i)
	}
	if item.AltUnitRate.IsNegative() {
		return fmt.Errorf("%w: item %d: alt unit rate must not be negative", ErrInvalidInput, i)
	}
	if item.MainQty.IsNegative() {
		return fmt.Errorf("%w: item %d: main qty must not be negative", ErrInvalidInput, i)
	}
	if item.ActualMeter.IsNegative() {
		return fmt.Errorf("%w: item %d: actual meter must not be negative", ErrInvalidInput, i)
	}
	if item.ConversionRate.IsNegative() {
		return fmt.Errorf("%w: item %d: conversion rate must not be negative", ErrInvalidInput, i)
	}
	if item.GstRate.IsNegative() || item.GstRate.GreaterThan(decimalHundred) {
		return fmt.Errorf("%w: item %d: gst rate must be within [0,100]", ErrInvalidInput, i)
	}
	return nil
}

func prorationQty(item AllocationItem, basis ProrationBasis) decimal.Decimal {
	if basis == ProrationBasisWeight {
		return item.AltQty.Mul(item.ConversionRate)
	}
	return item.AltQty
}

// Allocate computes per-line base, GST, transport share and per-main-unit
// price for a purchase, plus the purchase-level aggregates.
//
// The single proration denominator is computed once from opts.Basis and used
// for every line; mixing per-alt-unit and per-weight bases across lines of one
// purchase is exactly the bug class this function exists to close.
func Allocate(items []AllocationItem, transportCharge decimal.Decimal, opts AllocationOptions) (*AllocationResult, error) {
	if transportCharge.IsNegative() {
		return nil, fmt.Errorf("%w: transport charge must not be negative", ErrInvalidInput)
	}
	basis := opts.Basis
	if basis == "" {
		basis = ProrationBasisQuantity
	}
	for i, item := range items {
		if err := validateAllocationItem(i, item); err != nil {
			return nil, err
		}
	}

	totalBasis := decimalZero
	for _, item := range items {
		totalBasis = totalBasis.Add(prorationQty(item, basis))
	}

	result := &AllocationResult{
		Items:           make([]AllocatedItem, 0, len(items)),
		TransportCharge: transportCharge,
	}
	if totalBasis.IsZero() && transportCharge.IsPositive() {
		result.ZeroBasisTransport = true
	}

	for _, item := range items {
		gross := item.AltQty.Mul(item.AltUnitRate)

		var baseAmount decimal.Decimal
		if opts.TaxInclusive {
			baseAmount = gross.DivRound(decimal.NewFromInt(1).Add(item.GstRate.Div(decimalHundred)), 4)
		} else {
			baseAmount = gross
		}
		gstAmount := baseAmount.Mul(item.GstRate).Div(decimalHundred)

		// Multiply before dividing so the shares conserve the total charge.
		transportShare := decimalZero
		if !totalBasis.IsZero() {
			transportShare = prorationQty(item, basis).Mul(transportCharge).DivRound(totalBasis, 4)
		}

		lineTotal := baseAmount.Add(gstAmount)

		unitPrice := decimalZero
		if item.MainQty.IsPositive() {
			unitPrice = baseAmount.Add(gstAmount).Add(transportShare).DivRound(item.MainQty, 4)
		}

		result.Items = append(result.Items, AllocatedItem{
			MaterialId:     item.MaterialId,
			AltQty:         item.AltQty,
			MainQty:        item.MainQty,
			ActualMeter:    item.ActualMeter,
			BaseAmount:     baseAmount,
			GstAmount:      gstAmount,
			TransportShare: transportShare,
			LineTotal:      lineTotal,
			UnitPrice:      unitPrice,
		})

		result.SubtotalBeforeTax = result.SubtotalBeforeTax.Add(baseAmount)
		result.TotalTax = result.TotalTax.Add(gstAmount)
		result.SubtotalAfterTax = result.SubtotalAfterTax.Add(lineTotal)
	}

	result.GrandTotal = result.SubtotalAfterTax.Add(transportCharge)

	return result, nil
}
