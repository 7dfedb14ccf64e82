package workflow

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

var tolerance = decimal.NewFromFloat(0.01)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func assertNear(t *testing.T, name string, got, want decimal.Decimal) {
	t.Helper()
	if got.Sub(want).Abs().GreaterThan(tolerance) {
		t.Fatalf("%s: got %s, want %s", name, got.String(), want.String())
	}
}

func twoItemPurchase() []AllocationItem {
	return []AllocationItem{
		{MaterialId: 1, AltQty: dec("100"), AltUnitRate: dec("50"), GstRate: dec("18"), MainQty: dec("50"), ConversionRate: dec("1")},
		{MaterialId: 2, AltQty: dec("200"), AltUnitRate: dec("30"), GstRate: dec("12"), MainQty: dec("100"), ConversionRate: dec("1")},
	}
}

func TestAllocateTwoItemScenario(t *testing.T) {
	result, err := Allocate(twoItemPurchase(), dec("500"), AllocationOptions{TaxInclusive: false, Basis: ProrationBasisQuantity})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if len(result.Items) != 2 {
		t.Fatalf("expected 2 allocated items, got %d", len(result.Items))
	}
	a, b := result.Items[0], result.Items[1]

	assertNear(t, "baseAmount A", a.BaseAmount, dec("5000"))
	assertNear(t, "gstAmount A", a.GstAmount, dec("900"))
	assertNear(t, "transportShare A", a.TransportShare, dec("166.67"))
	assertNear(t, "lineTotal A", a.LineTotal, dec("5900"))
	assertNear(t, "unitPrice A", a.UnitPrice, dec("121.33"))

	assertNear(t, "baseAmount B", b.BaseAmount, dec("6000"))
	assertNear(t, "gstAmount B", b.GstAmount, dec("720"))
	assertNear(t, "transportShare B", b.TransportShare, dec("333.33"))
	assertNear(t, "lineTotal B", b.LineTotal, dec("6720"))
	assertNear(t, "unitPrice B", b.UnitPrice, dec("70.53"))

	assertNear(t, "subtotalBeforeTax", result.SubtotalBeforeTax, dec("11000"))
	assertNear(t, "totalTax", result.TotalTax, dec("1620"))
	assertNear(t, "subtotalAfterTax", result.SubtotalAfterTax, dec("12620"))
	assertNear(t, "grandTotal", result.GrandTotal, dec("13120"))
}

func TestAllocateTransportConservation(t *testing.T) {
	cases := []struct {
		name      string
		items     []AllocationItem
		transport string
		basis     ProrationBasis
	}{
		{"even split", twoItemPurchase(), "500", ProrationBasisQuantity},
		{"awkward thirds", []AllocationItem{
			{MaterialId: 1, AltQty: dec("1"), AltUnitRate: dec("10"), GstRate: dec("5"), MainQty: dec("1"), ConversionRate: dec("1")},
			{MaterialId: 2, AltQty: dec("1"), AltUnitRate: dec("10"), GstRate: dec("5"), MainQty: dec("1"), ConversionRate: dec("1")},
			{MaterialId: 3, AltQty: dec("1"), AltUnitRate: dec("10"), GstRate: dec("5"), MainQty: dec("1"), ConversionRate: dec("1")},
		}, "100", ProrationBasisQuantity},
		{"weight basis", []AllocationItem{
			{MaterialId: 1, AltQty: dec("10"), AltUnitRate: dec("7.25"), GstRate: dec("18"), MainQty: dec("40"), ConversionRate: dec("0.25")},
			{MaterialId: 2, AltQty: dec("3"), AltUnitRate: dec("120"), GstRate: dec("12"), MainQty: dec("3"), ConversionRate: dec("2.5")},
		}, "333.33", ProrationBasisWeight},
		{"zero transport", twoItemPurchase(), "0", ProrationBasisQuantity},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			result, err := Allocate(tc.items, dec(tc.transport), AllocationOptions{Basis: tc.basis})
			if err != nil {
				t.Fatalf("Allocate: %v", err)
			}
			sum := decimal.Zero
			for _, item := range result.Items {
				sum = sum.Add(item.TransportShare)
			}
			assertNear(t, "sum of transport shares", sum, dec(tc.transport))
		})
	}
}

func TestAllocateGstConsistency(t *testing.T) {
	result, err := Allocate(twoItemPurchase(), dec("999.99"), AllocationOptions{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	for i, item := range result.Items {
		var want decimal.Decimal
		switch i {
		case 0:
			want = item.BaseAmount.Mul(dec("18")).Div(dec("100"))
		case 1:
			want = item.BaseAmount.Mul(dec("12")).Div(dec("100"))
		}
		assertNear(t, "gst vs base*rate/100", item.GstAmount, want)
	}
}

// LineTotal must never include the transport share; the only path to a grand
// line figure is lineTotal + transportShare, and summing those grand figures
// must reproduce the purchase grand total.
func TestAllocateNoDoubleCounting(t *testing.T) {
	result, err := Allocate(twoItemPurchase(), dec("500"), AllocationOptions{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	grand := decimal.Zero
	for _, item := range result.Items {
		assertNear(t, "lineTotal = base + gst", item.LineTotal, item.BaseAmount.Add(item.GstAmount))
		grand = grand.Add(item.LineTotal.Add(item.TransportShare))
	}
	assertNear(t, "sum of grand line figures", grand, result.GrandTotal)
}

func TestAllocateTaxInclusive(t *testing.T) {
	items := []AllocationItem{
		{MaterialId: 1, AltQty: dec("10"), AltUnitRate: dec("118"), GstRate: dec("18"), MainQty: dec("10"), ConversionRate: dec("1")},
	}
	result, err := Allocate(items, decimal.Zero, AllocationOptions{TaxInclusive: true})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	item := result.Items[0]
	assertNear(t, "base extracted from gross", item.BaseAmount, dec("1000"))
	assertNear(t, "gst on extracted base", item.GstAmount, dec("180"))
	assertNear(t, "lineTotal", item.LineTotal, dec("1180"))
}

func TestAllocateZeroBasisTransportWarns(t *testing.T) {
	items := []AllocationItem{
		{MaterialId: 1, AltQty: dec("0"), AltUnitRate: dec("50"), GstRate: dec("18"), MainQty: dec("0"), ConversionRate: dec("1")},
	}
	result, err := Allocate(items, dec("250"), AllocationOptions{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if !result.ZeroBasisTransport {
		t.Fatalf("expected ZeroBasisTransport warning")
	}
	if !result.Items[0].TransportShare.IsZero() {
		t.Fatalf("expected zero transport share, got %s", result.Items[0].TransportShare.String())
	}
	// The charge still appears in the grand total even though no item absorbed it.
	assertNear(t, "grandTotal", result.GrandTotal, dec("250"))
}

func TestAllocateRejectsInvalidInput(t *testing.T) {
	cases := []struct {
		name string
		item AllocationItem
	}{
		{"negative qty", AllocationItem{AltQty: dec("-1"), AltUnitRate: dec("10"), GstRate: dec("5"), MainQty: dec("1")}},
		{"negative rate", AllocationItem{AltQty: dec("1"), AltUnitRate: dec("-10"), GstRate: dec("5"), MainQty: dec("1")}},
		{"gst over 100", AllocationItem{AltQty: dec("1"), AltUnitRate: dec("10"), GstRate: dec("101"), MainQty: dec("1")}},
		{"negative gst", AllocationItem{AltQty: dec("1"), AltUnitRate: dec("10"), GstRate: dec("-1"), MainQty: dec("1")}},
		{"negative main qty", AllocationItem{AltQty: dec("1"), AltUnitRate: dec("10"), GstRate: dec("5"), MainQty: dec("-1")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Allocate([]AllocationItem{tc.item}, decimal.Zero, AllocationOptions{})
			if !errors.Is(err, ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
		})
	}

	if _, err := Allocate(twoItemPurchase(), dec("-5"), AllocationOptions{}); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for negative transport, got %v", err)
	}
}

func TestAllocateZeroMainQtyUnitPrice(t *testing.T) {
	items := []AllocationItem{
		{MaterialId: 1, AltQty: dec("5"), AltUnitRate: dec("10"), GstRate: dec("0"), MainQty: dec("0"), ConversionRate: dec("1")},
	}
	result, err := Allocate(items, dec("50"), AllocationOptions{})
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if !result.Items[0].UnitPrice.IsZero() {
		t.Fatalf("expected zero unit price when main qty is zero, got %s", result.Items[0].UnitPrice.String())
	}
}
