// Package units converts energy and gas volume readings between units.
package units

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Base units understood by the converter.
const (
	WattHours = "Wh"
	Joules    = "J"
	Calories  = "cal"

	CubicMetres = "m³"
	CubicFeet   = "ft³"
	CCF         = "CCF"
	MCF         = "MCF"
	Litres      = "L"
)

const (
	caloriesToJoules   = 4.184
	wattHoursToJoules  = 3600.0
	wattHoursToCalorie = wattHoursToJoules / caloriesToJoules

	cubicFeetToCubicMetres = 0.028316846592
	litresToCubicMetres    = 0.001

	megajoulesToWattHours = 1e6 / wattHoursToJoules
)

// prefixes in order of increasing magnitude, each 1000x the previous
var prefixes = []string{"", "k", "M", "G", "T"}

var energyUnits = []string{WattHours, Joules, Calories}

var volumeUnits = map[string]float64{
	CubicMetres: 1,
	"m3":        1,
	CubicFeet:   cubicFeetToCubicMetres,
	"ft3":       cubicFeetToCubicMetres,
	CCF:         100 * cubicFeetToCubicMetres,
	MCF:         1000 * cubicFeetToCubicMetres,
	Litres:      litresToCubicMetres,
	"l":         litresToCubicMetres,
}

// energyToWattHours is how many Wh one of the unit is.
var energyToWattHours = map[string]float64{
	WattHours: 1,
	Joules:    1 / wattHoursToJoules,
	Calories:  1 / wattHoursToCalorie,
}

// Converter converts readings to a requested unit. The zero value treats
// gas as having no energy content.
type Converter struct {
	// GasCalorificValue is the energy content of gas in MJ/m³.
	GasCalorificValue float64
}

type parsedUnit struct {
	base       string
	multiplier float64
	volume     bool
}

// parse splits a unit like "kWh" into its base and prefix multiplier.
func parse(unit string) (parsedUnit, bool) {
	unit = strings.TrimSpace(unit)
	if unit == "" {
		return parsedUnit{}, false
	}
	if f, ok := volumeUnits[unit]; ok {
		return parsedUnit{base: unit, multiplier: f, volume: true}, true
	}
	multiplier := 1.0
	for _, p := range prefixes {
		for _, base := range energyUnits {
			if unit == p+base {
				return parsedUnit{base: base, multiplier: multiplier}, true
			}
		}
		multiplier *= 1000
	}
	return parsedUnit{}, false
}

// factor returns how many target base units one source base unit is.
func (c Converter) factor(src, dst parsedUnit) float64 {
	switch {
	case !src.volume && !dst.volume:
		return energyToWattHours[src.base] / energyToWattHours[dst.base]
	case src.volume && dst.volume:
		// volume multipliers are already in m³
		return 1
	case src.volume && !dst.volume:
		// m³ -> MJ -> Wh -> target
		return c.GasCalorificValue * megajoulesToWattHours / energyToWattHours[dst.base]
	default:
		if c.GasCalorificValue <= 0 {
			return 0
		}
		return energyToWattHours[src.base] / (c.GasCalorificValue * megajoulesToWattHours)
	}
}

// Convert converts value from sourceUnit into targetUnit. The value is
// rounded to a whole number of the target's base unit. If either unit is
// unknown the value is returned unchanged.
func (c Converter) Convert(value float64, sourceUnit, targetUnit string) float64 {
	src, ok := parse(sourceUnit)
	if !ok {
		return value
	}
	dst, ok := parse(targetUnit)
	if !ok {
		return value
	}

	// volume units carry their m³ factor in the multiplier, energy units
	// their SI prefix
	if dst.volume {
		// whole m³ would be far too coarse for a household meter
		return finite(round(value*src.multiplier*c.factor(src, dst)/dst.multiplier, 6))
	}
	base := round(value*src.multiplier*c.factor(src, dst), 0)
	return finite(base / dst.multiplier)
}

// Round rounds f to places decimal places, half away from zero.
func Round(f float64, places int32) float64 {
	return round(f, places)
}

func round(f float64, places int32) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return f
	}
	r, _ := decimal.NewFromFloat(f).Round(places).Float64()
	return r
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
