package workflow

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// FormulaManual is the formula name marking a component whose per-unit
// consumption is entered by the user instead of computed from the catalog.
const FormulaManual = "manual"

// ComponentKind is the tagged classification of a bill-of-materials
// component. It is decided exactly once (ComponentKindOf) and carried on the
// component, so no call site re-derives "is this manual" from loose fields.
type ComponentKind string

const (
	ComponentManual     ComponentKind = "manual"
	ComponentCalculated ComponentKind = "calculated"
)

// ComponentKindOf consolidates the manual check. Either the explicit flag or
// the formula name makes a component manual; both appear in stored data.
func ComponentKindOf(isManualConsumption bool, formula string) ComponentKind {
	if isManualConsumption || formula == FormulaManual {
		return ComponentManual
	}
	return ComponentCalculated
}

// FormulaFunc computes the per-single-unit consumption of a calculated
// component for the given order quantity. The per-unit value may legitimately
// depend on the quantity (wastage tiers), which is why it is recomputed at
// every transition instead of scaled.
type FormulaFunc func(orderQty decimal.Decimal) (decimal.Decimal, error)

// FormulaCatalog resolves a formula reference from an order component.
type FormulaCatalog interface {
	Resolve(ref string) (FormulaFunc, error)
}

// StaticCatalog is a plain map-backed catalog.
type StaticCatalog map[string]FormulaFunc

func (c StaticCatalog) Resolve(ref string) (FormulaFunc, error) {
	f, ok := c[ref]
	if !ok {
		return nil, fmt.Errorf("%w: unknown formula %q", ErrInvalidInput, ref)
	}
	return f, nil
}

// ComponentState is the resolver's view of one component during editing.
//
// PerUnitBaseline is the per-single-unit figure as persisted; Display is what
// the entry screen shows (per-order for manual components). The persisted
// value must never be the already-multiplied display value.
type ComponentState struct {
	Kind            ComponentKind
	FormulaRef      string
	PerUnitBaseline decimal.Decimal
	HasBaseline     bool
	Display         decimal.Decimal
}

// OnProductSelect seeds the state from the fetched component. The fetched
// consumption is the per-unit baseline verbatim; initial display equals the
// baseline since the order quantity may still be 1 or unset.
func OnProductSelect(kind ComponentKind, formulaRef string, fetchedConsumption decimal.Decimal) ComponentState {
	return ComponentState{
		Kind:            kind,
		FormulaRef:      formulaRef,
		PerUnitBaseline: fetchedConsumption,
		HasBaseline:     true,
		Display:         fetchedConsumption,
	}
}

// OnQuantityChange recomputes the displayed figure for a new order quantity.
// Manual components scale the retained baseline; calculated components go
// back to the catalog. The two paths never fall through to each other.
func OnQuantityChange(c ComponentState, catalog FormulaCatalog, newOrderQty decimal.Decimal) (ComponentState, error) {
	if newOrderQty.IsNegative() {
		return c, fmt.Errorf("%w: order quantity must not be negative", ErrInvalidInput)
	}
	switch c.Kind {
	case ComponentManual:
		c.Display = c.PerUnitBaseline.Mul(newOrderQty)
		return c, nil
	case ComponentCalculated:
		f, err := catalog.Resolve(c.FormulaRef)
		if err != nil {
			return c, err
		}
		perUnit, err := f(newOrderQty)
		if err != nil {
			return c, err
		}
		c.PerUnitBaseline = perUnit
		c.HasBaseline = true
		c.Display = perUnit.Mul(newOrderQty)
		return c, nil
	}
	return c, fmt.Errorf("%w: unknown component kind %q", ErrInvalidInput, c.Kind)
}

// OnSubmit derives the value to persist: always per single order unit.
//
// Manual components prefer the retained baseline; when it was lost (page
// reload mid-edit) the baseline is recovered by dividing the displayed
// per-order figure by the current quantity. Calculated components persist the
// freshly computed per-unit value, with no division, since their display was
// never the stored representation.
func OnSubmit(c ComponentState, catalog FormulaCatalog, orderQty decimal.Decimal) (decimal.Decimal, error) {
	switch c.Kind {
	case ComponentManual:
		if c.HasBaseline {
			return c.PerUnitBaseline, nil
		}
		if !orderQty.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: order quantity must be positive to recover per-unit consumption", ErrInvalidInput)
		}
		return c.Display.DivRound(orderQty, 6), nil
	case ComponentCalculated:
		f, err := catalog.Resolve(c.FormulaRef)
		if err != nil {
			return decimal.Zero, err
		}
		return f(orderQty)
	}
	return decimal.Zero, fmt.Errorf("%w: unknown component kind %q", ErrInvalidInput, c.Kind)
}
