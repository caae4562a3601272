// Package flows splits aggregate import and export totals into the
// pairwise flows between solar, battery, grid and home.
package flows

import (
	"math"

	"github.com/wattflow/wattflow/pkg/types"
)

// Input is the measured energy of one bucket, all in the same units.
type Input struct {
	Solar         float64
	BatteryImport float64
	BatteryExport float64
	GridImport    float64
	GridExport    float64
}

// InputFromTotals builds an Input from aggregated totals.
func InputFromTotals(t types.AggregateTotals) Input {
	return Input{
		Solar:         t.SolarProduction,
		BatteryImport: t.BatteryImport,
		BatteryExport: t.BatteryExport,
		GridImport:    t.GridImport,
		GridExport:    t.GridExport,
	}
}

// Allocate assigns the energy of one bucket to flows. It returns the flows
// and the energy that was consumed by the home.
//
// The meters only see net import and export so the split is a heuristic:
// the grid charges the battery with whatever it imports beyond the home's
// needs, then solar fills the battery and grid export, the battery covers
// the rest of the export, and the home is supplied by solar, battery and
// grid in that order.
func Allocate(in Input) (types.FlowSet, float64) {
	sp := nonNegative(in.Solar)
	bi := nonNegative(in.BatteryImport)
	be := nonNegative(in.BatteryExport)
	gi := nonNegative(in.GridImport)
	ge := nonNegative(in.GridExport)

	var f types.FlowSet

	energyIn := gi + sp + bi
	energyOut := ge + be
	remaining := math.Max(0, energyIn-energyOut)
	home := remaining

	excess := math.Max(0, math.Min(be, gi-remaining))
	f.GridToBattery = excess
	be -= excess
	gi -= excess

	f.SolarToBattery = math.Min(sp, be)
	be -= f.SolarToBattery
	sp -= f.SolarToBattery

	f.SolarToGrid = math.Min(sp, ge)
	ge -= f.SolarToGrid
	sp -= f.SolarToGrid

	f.BatteryToGrid = math.Min(bi, ge)
	bi -= f.BatteryToGrid

	topUp := math.Min(gi, be)
	f.GridToBattery += topUp
	gi -= topUp

	f.SolarToHome = math.Min(remaining, sp)
	remaining -= f.SolarToHome
	f.BatteryToHome = math.Min(bi, remaining)
	remaining -= f.BatteryToHome
	f.GridToHome = math.Min(remaining, gi)

	return f, home
}

func nonNegative(f float64) float64 {
	if f < 0 || math.IsNaN(f) {
		return 0
	}
	return f
}
