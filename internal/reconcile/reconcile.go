// Package reconcile compares the measured cart weight with what the cart
// contents should weigh.
package reconcile

import (
	"github.com/angelmondragon/shoppad-backend/pkg/enums"
	"github.com/shopspring/decimal"
)

// DefaultToleranceKG is the inclusive band around the expected weight.
const DefaultToleranceKG = 0.15

type Result struct {
	Status   enums.WeightMatchStatus `json:"status"`
	Diff     *float64                `json:"diff,omitempty"`
	Actual   *float64                `json:"actual,omitempty"`
	Expected float64                 `json:"expected"`
}

// Classify is total: every input maps to exactly one status. A nil actual
// means no sample has been seen yet.
func Classify(actual *float64, expected, tolerance float64) Result {
	res := Result{Status: enums.WeightUnknown, Expected: expected}
	if actual == nil {
		return res
	}
	measured := *actual
	res.Actual = &measured

	diff := decimal.NewFromFloat(measured).Sub(decimal.NewFromFloat(expected))
	band := decimal.NewFromFloat(tolerance).Abs()
	d := diff.InexactFloat64()
	res.Diff = &d

	switch {
	case diff.GreaterThan(band):
		res.Status = enums.WeightOverweight
	case diff.LessThan(band.Neg()):
		res.Status = enums.WeightUnderweight
	default:
		res.Status = enums.WeightMatching
	}
	return res
}
