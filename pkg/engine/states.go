package engine

import (
	"math"
	"time"

	"github.com/wattflow/wattflow/pkg/aggregate"
	"github.com/wattflow/wattflow/pkg/flows"
	"github.com/wattflow/wattflow/pkg/hass"
	"github.com/wattflow/wattflow/pkg/types"
	"github.com/wattflow/wattflow/pkg/units"
)

// Input is the validated data a snapshot is built from.
type Input struct {
	Period types.Period
	// OpenEnded is set when Period ends at the time of the refresh. Live
	// states are then counted up to the time the snapshot is built.
	OpenEnded bool
	Primary   types.Statistics
	Secondary types.Statistics
	// Co2 is nil when no CO2 data was fetched.
	Co2 map[string]float64
}

// BuildStates builds the snapshot for cfg from in. Live states from
// registry extrapolate the current bucket unless cfg is in history mode.
func BuildStates(cfg types.Config, in Input, registry hass.EntityRegistry, now time.Time) types.States {
	conv := units.Converter{GasCalorificValue: cfg.GasCalorificValue}
	eu := cfg.ElectricUnits

	s := types.States{
		Timestamp:   now,
		PeriodStart: in.Period.Start,
		PeriodEnd:   in.Period.End,
	}

	var flowIDs []string
	flowIDs = append(flowIDs, cfg.Grid.ImportEntities...)
	flowIDs = append(flowIDs, cfg.Grid.ExportEntities...)
	flowIDs = append(flowIDs, cfg.Battery.ImportEntities...)
	flowIDs = append(flowIDs, cfg.Battery.ExportEntities...)
	flowIDs = append(flowIDs, cfg.Solar.ImportEntities...)

	for _, b := range aggregate.CombineBuckets(in.Primary, flowIDs, registry, conv, eu, in.Period.Start, in.Period.End) {
		t := types.AggregateTotals{
			SolarProduction: b.Sum(cfg.Solar.ImportEntities),
			BatteryImport:   b.Sum(cfg.Battery.ImportEntities),
			BatteryExport:   b.Sum(cfg.Battery.ExportEntities),
			GridImport:      b.Sum(cfg.Grid.ImportEntities),
			GridExport:      b.Sum(cfg.Grid.ExportEntities),
		}
		f, _ := flows.Allocate(flows.InputFromTotals(t))
		s.AggregateTotals = s.AggregateTotals.Add(t)
		s.Flows = s.Flows.Add(f)
	}
	s.GasImport = aggregate.SumChanges(in.Primary, cfg.Gas.ImportEntities, registry, conv, "", cfg.GasUnits)

	if cfg.LowCarbon.Present() && in.Co2 != nil {
		var kwh float64
		for _, v := range in.Co2 {
			kwh += v
		}
		s.HighCarbon = conv.Convert(kwh, "k"+units.WattHours, eu)
	} else {
		s.HighCarbon = s.GridImport
	}

	secondary := func(n types.NodeConfig) float64 {
		if n.Secondary == nil {
			return 0
		}
		return aggregate.SumChanges(in.Secondary, n.SecondaryEntities(), registry, conv, n.Secondary.Units, "")
	}
	s.BatterySecondary = secondary(cfg.Battery)
	s.GasSecondary = secondary(cfg.Gas)
	s.GridSecondary = secondary(cfg.Grid)
	s.HomeSecondary = secondary(cfg.Home)
	s.LowCarbonSecondary = secondary(cfg.LowCarbon)
	s.SolarSecondary = secondary(cfg.Solar)
	s.DevicesSecondary = make([]float64, len(cfg.Devices))
	for i, d := range cfg.Devices {
		s.DevicesSecondary[i] = secondary(d)
	}

	if cfg.DisplayMode != types.DisplayModeHistory {
		s = addLiveDeltas(cfg, in, registry, conv, s, now)
	}

	if gridOutage(cfg, registry) {
		s.GridOutage = true
		s.GridImport = 0
		s.GridExport = 0
		s.HighCarbon = 0
		s.Flows.GridToHome = 0
		s.Flows.GridToBattery = 0
		s.Flows.SolarToGrid = 0
		s.Flows.BatteryToGrid = 0
	}

	s.HomeElectric = s.BatteryImport + s.GridImport + s.SolarProduction - s.BatteryExport - s.GridExport
	s.HomeGas = s.GasImport
	s.LowCarbon = s.GridImport - s.HighCarbon
	s.LowCarbonPercentage = 0
	if s.GridImport != 0 {
		s.LowCarbonPercentage = finite(100 * s.LowCarbon / s.GridImport)
	}

	// the buckets are allocated independently so the flows drift from the
	// measured totals when sensors update out of sync
	s.Flows = flows.Reconcile(s.Flows, s.HomeElectric, s.GridExport, s.BatteryExport)

	s.LargestElectricValue = max(
		s.BatteryImport,
		s.BatteryExport,
		s.GridImport,
		s.GridExport,
		s.HomeElectric,
		s.LowCarbon,
		s.SolarProduction,
	)
	s.LargestGasValue = s.GasImport
	return s
}

// livePeriod is the window an entity has to have changed in for its live
// state to count.
func livePeriod(cfg types.Config, in Input, now time.Time) types.Period {
	if cfg.DisplayMode == types.DisplayModeToday {
		loc := cfg.Location()
		return types.Period{Start: startOfDay(now, loc), End: endOfDay(now, loc)}
	}
	p := in.Period
	if p.End.IsZero() || (in.OpenEnded && now.After(p.End)) {
		p.End = now
	}
	return p
}

func addLiveDeltas(cfg types.Config, in Input, registry hass.EntityRegistry, conv units.Converter, s types.States, now time.Time) types.States {
	p := livePeriod(cfg, in, now)
	eu := cfg.ElectricUnits
	delta := func(stats types.Statistics, ids []string, unit string) float64 {
		return aggregate.LiveDelta(stats, ids, registry, conv, unit, p.Start, p.End)
	}

	d := types.AggregateTotals{
		SolarProduction: delta(in.Primary, cfg.Solar.ImportEntities, eu),
		BatteryImport:   delta(in.Primary, cfg.Battery.ImportEntities, eu),
		BatteryExport:   delta(in.Primary, cfg.Battery.ExportEntities, eu),
		GridImport:      delta(in.Primary, cfg.Grid.ImportEntities, eu),
		GridExport:      delta(in.Primary, cfg.Grid.ExportEntities, eu),
		GasImport:       delta(in.Primary, cfg.Gas.ImportEntities, cfg.GasUnits),
	}
	f, _ := flows.Allocate(flows.InputFromTotals(d))
	s.AggregateTotals = s.AggregateTotals.Add(d)
	s.Flows = s.Flows.Add(f)

	if cfg.LowCarbon.Present() && in.Co2 != nil {
		if e, ok := registry.Entity(cfg.LowCarbon.FirstImportEntity()); ok {
			if pct, ok := aggregate.ParseState(e.State); ok {
				s.HighCarbon += d.GridImport * pct / 100
			}
		}
	} else {
		s.HighCarbon += d.GridImport
	}

	secondary := func(n types.NodeConfig) float64 {
		return delta(in.Secondary, n.SecondaryEntities(), "")
	}
	s.BatterySecondary += secondary(cfg.Battery)
	s.GasSecondary += secondary(cfg.Gas)
	s.GridSecondary += secondary(cfg.Grid)
	s.HomeSecondary += secondary(cfg.Home)
	s.LowCarbonSecondary += secondary(cfg.LowCarbon)
	s.SolarSecondary += secondary(cfg.Solar)
	devices := make([]float64, len(s.DevicesSecondary))
	for i, dev := range cfg.Devices {
		devices[i] = s.DevicesSecondary[i] + secondary(dev)
	}
	s.DevicesSecondary = devices
	return s
}

func gridOutage(cfg types.Config, registry hass.EntityRegistry) bool {
	po := cfg.Grid.PowerOutage
	if !cfg.Grid.Present() || po == nil || po.EntityID == "" {
		return false
	}
	e, ok := registry.Entity(po.EntityID)
	if !ok {
		return false
	}
	alert := po.AlertState
	if alert == "" {
		alert = types.DefaultPowerOutageState
	}
	return e.State == alert
}

func finite(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
