package flows

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/wattflow/wattflow/pkg/types"
)

const epsilon = 1e-9

func assertInvariants(t *testing.T, in Input, f types.FlowSet) {
	t.Helper()
	for name, v := range map[string]float64{
		"solarToHome":    f.SolarToHome,
		"solarToGrid":    f.SolarToGrid,
		"solarToBattery": f.SolarToBattery,
		"gridToHome":     f.GridToHome,
		"gridToBattery":  f.GridToBattery,
		"batteryToHome":  f.BatteryToHome,
		"batteryToGrid":  f.BatteryToGrid,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
	}
	assert.LessOrEqual(t, f.SolarToHome+f.SolarToGrid+f.SolarToBattery, in.Solar+epsilon, "solar")
	assert.LessOrEqual(t, f.GridToHome+f.GridToBattery, in.GridImport+epsilon, "grid import")
	assert.LessOrEqual(t, f.BatteryToHome+f.BatteryToGrid, in.BatteryImport+epsilon, "battery import")
	assert.LessOrEqual(t, f.SolarToGrid+f.BatteryToGrid, in.GridExport+epsilon, "grid export")
	assert.LessOrEqual(t, f.GridToBattery+f.SolarToBattery, in.BatteryExport+epsilon, "battery export")
}

func TestAllocate(t *testing.T) {
	t.Run("solar charges battery before home", func(t *testing.T) {
		in := Input{Solar: 10, GridImport: 5, BatteryExport: 3}
		f, home := Allocate(in)
		assert.Equal(t, types.FlowSet{
			SolarToBattery: 3,
			SolarToHome:    7,
			GridToHome:     5,
		}, f)
		assert.Equal(t, 12.0, home)
		// everything measured is accounted for
		assert.Equal(t, in.Solar, f.SolarToHome+f.SolarToBattery)
		assert.Equal(t, in.BatteryExport, f.GridToBattery+f.SolarToBattery)
		assert.Equal(t, in.GridImport, f.GridToHome+f.GridToBattery)
	})

	t.Run("excess grid import charges battery", func(t *testing.T) {
		f, home := Allocate(Input{GridImport: 10, BatteryExport: 5})
		assert.Equal(t, types.FlowSet{GridToBattery: 5, GridToHome: 5}, f)
		assert.Equal(t, 5.0, home)
	})

	t.Run("battery covers export solar can't", func(t *testing.T) {
		f, home := Allocate(Input{Solar: 2, BatteryImport: 6, GridExport: 5})
		assert.Equal(t, types.FlowSet{SolarToGrid: 2, BatteryToGrid: 3, BatteryToHome: 3}, f)
		assert.Equal(t, 3.0, home)
	})

	t.Run("home is fed solar then battery then grid", func(t *testing.T) {
		f, home := Allocate(Input{Solar: 1, BatteryImport: 2, GridImport: 4})
		assert.Equal(t, types.FlowSet{SolarToHome: 1, BatteryToHome: 2, GridToHome: 4}, f)
		assert.Equal(t, 7.0, home)
	})

	t.Run("grid and solar share battery charge", func(t *testing.T) {
		f, _ := Allocate(Input{Solar: 1, GridImport: 4, BatteryExport: 5})
		assert.Equal(t, 1.0, f.SolarToBattery)
		assert.Equal(t, 4.0, f.GridToBattery)
		assert.Equal(t, 0.0, f.GridToHome)
	})

	t.Run("zero input", func(t *testing.T) {
		f, home := Allocate(Input{})
		assert.Equal(t, types.FlowSet{}, f)
		assert.Equal(t, 0.0, home)
	})

	t.Run("negative input is clamped", func(t *testing.T) {
		f, home := Allocate(Input{Solar: -5, GridImport: 3, GridExport: -1})
		assert.Equal(t, types.FlowSet{GridToHome: 3}, f)
		assert.Equal(t, 3.0, home)
	})
}

func TestAllocateInvariants(t *testing.T) {
	values := []float64{0, 0.5, 1, 3, 7.25, 12}
	for _, sp := range values {
		for _, bi := range values {
			for _, be := range values {
				for _, gi := range values {
					for _, ge := range values {
						in := Input{Solar: sp, BatteryImport: bi, BatteryExport: be, GridImport: gi, GridExport: ge}
						f, home := Allocate(in)
						name := fmt.Sprintf("%+v", in)
						assertInvariants(t, in, f)
						assert.InDelta(t, home, f.ToHome(), epsilon, name)
					}
				}
			}
		}
	}
}

func TestReconcile(t *testing.T) {
	t.Run("scales each group to its measured total", func(t *testing.T) {
		f := types.FlowSet{
			SolarToHome:    2,
			BatteryToHome:  1,
			GridToHome:     1,
			SolarToGrid:    3,
			BatteryToGrid:  1,
			SolarToBattery: 1,
			GridToBattery:  1,
		}
		r := Reconcile(f, 8, 2, 6)
		assert.InDelta(t, 8, r.ToHome(), epsilon)
		assert.InDelta(t, 4, r.SolarToHome, epsilon)
		assert.InDelta(t, 2, r.ToGrid(), epsilon)
		assert.InDelta(t, 1.5, r.SolarToGrid, epsilon)
		assert.InDelta(t, 6, r.ToBattery(), epsilon)
		assert.InDelta(t, 3, r.GridToBattery, epsilon)
	})

	t.Run("idempotent", func(t *testing.T) {
		f, _ := Allocate(Input{Solar: 7, BatteryImport: 2, BatteryExport: 4, GridImport: 6, GridExport: 3})
		once := Reconcile(f, 9.5, 2.5, 5)
		twice := Reconcile(once, 9.5, 2.5, 5)
		assert.InDelta(t, once.SolarToHome, twice.SolarToHome, epsilon)
		assert.InDelta(t, once.BatteryToHome, twice.BatteryToHome, epsilon)
		assert.InDelta(t, once.GridToHome, twice.GridToHome, epsilon)
		assert.InDelta(t, once.SolarToGrid, twice.SolarToGrid, epsilon)
		assert.InDelta(t, once.BatteryToGrid, twice.BatteryToGrid, epsilon)
		assert.InDelta(t, once.SolarToBattery, twice.SolarToBattery, epsilon)
		assert.InDelta(t, once.GridToBattery, twice.GridToBattery, epsilon)
	})

	t.Run("empty group stays zero", func(t *testing.T) {
		f := types.FlowSet{SolarToHome: 2}
		r := Reconcile(f, 4, 10, 10)
		assert.Equal(t, 4.0, r.SolarToHome)
		assert.Equal(t, 0.0, r.ToGrid())
		assert.Equal(t, 0.0, r.ToBattery())
		assert.False(t, math.IsNaN(r.SolarToGrid))
	})

	t.Run("non-positive measured total leaves group", func(t *testing.T) {
		f := types.FlowSet{SolarToGrid: 2, BatteryToGrid: 1}
		assert.Equal(t, f, Reconcile(f, 0, 0, 0))
		assert.Equal(t, f, Reconcile(f, 0, -3, 0))
	})
}
