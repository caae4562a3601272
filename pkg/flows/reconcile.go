package flows

import (
	"math"

	"github.com/wattflow/wattflow/pkg/types"
)

// Reconcile scales each group of flows so it adds up to the measured total
// of its sink. Groups with no flow, or a measured total that can't be
// scaled to, are left as they are.
func Reconcile(f types.FlowSet, homeElectric, gridExport, batteryExport float64) types.FlowSet {
	if scale, ok := scaleFor(homeElectric, f.ToHome()); ok {
		f.SolarToHome *= scale
		f.BatteryToHome *= scale
		f.GridToHome *= scale
	}
	if scale, ok := scaleFor(gridExport, f.ToGrid()); ok {
		f.SolarToGrid *= scale
		f.BatteryToGrid *= scale
	}
	if scale, ok := scaleFor(batteryExport, f.ToBattery()); ok {
		f.GridToBattery *= scale
		f.SolarToBattery *= scale
	}
	return f
}

func scaleFor(measured, sum float64) (float64, bool) {
	if sum <= 0 {
		return 0, false
	}
	scale := measured / sum
	if scale <= 0 || math.IsNaN(scale) || math.IsInf(scale, 0) {
		return 0, false
	}
	return scale, true
}
