package main

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/wattflow/wattflow/pkg/config"
	"github.com/wattflow/wattflow/pkg/engine"
	"github.com/wattflow/wattflow/pkg/hass"
	"github.com/wattflow/wattflow/pkg/log"
	"github.com/wattflow/wattflow/pkg/storage"
	"github.com/wattflow/wattflow/pkg/types"
)

const seedConfig = `
display_mode = "today"

[grid]
import_entities = ["sensor.grid_import"]
export_entities = ["sensor.grid_export"]

[solar]
import_entities = ["sensor.solar_production"]

[battery]
import_entities = ["sensor.battery_discharge"]
export_entities = ["sensor.battery_charge"]

[gas]
import_entities = ["sensor.gas_consumption"]
`

// meter is a cumulative kWh counter.
type meter struct {
	id      string
	unit    string
	state   float64
	samples []types.StatisticSample
}

func (m *meter) add(start time.Time, v float64) {
	m.state += v
	m.samples = append(m.samples, types.StatisticSample{
		Start:  start,
		State:  m.state,
		Change: types.Float(v),
	})
}

func main() {
	s := storage.Configured()
	cardID := lflag.String("card-id", "default", "ID to store the snapshot under")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	cfg, err := config.Parse(ctx, seedConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid seed config: %v\n", err)
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data", slog.String("cardID", *cardID))

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	loc := cfg.Location()
	now := time.Now().In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	const (
		batteryCapacityKWH = 13.5
		maxBatteryKW       = 5.0
		homeAvgKW          = 0.6
		solarPeakKW        = 4.5
	)
	soc := batteryCapacityKWH * 0.4

	gridImport := &meter{id: "sensor.grid_import", unit: "kWh", state: 10452.1}
	gridExport := &meter{id: "sensor.grid_export", unit: "kWh", state: 2210.7}
	solar := &meter{id: "sensor.solar_production", unit: "kWh", state: 8731.4}
	discharge := &meter{id: "sensor.battery_discharge", unit: "kWh", state: 1502.2}
	charge := &meter{id: "sensor.battery_charge", unit: "kWh", state: 1640.9}
	gas := &meter{id: "sensor.gas_consumption", unit: "m³", state: 3120.5}
	meters := []*meter{gridImport, gridExport, solar, discharge, charge, gas}

	// yesterday is needed to classify the sensors
	for t := today.AddDate(0, 0, -1); t.Before(now.Truncate(time.Hour)); t = t.Add(time.Hour) {
		hour := t.Hour()

		solarKWH := 0.0
		if hour > 6 && hour < 20 {
			dist := math.Abs(float64(hour) - 13.0)
			solarKWH = solarPeakKW * math.Exp(-(dist*dist)/10.0) * (0.8 + rng.Float64()*0.2)
		}

		homeKWH := homeAvgKW + rng.Float64()*0.4
		switch {
		case hour >= 7 && hour < 9:
			homeKWH += 1.2
		case hour >= 17 && hour < 22:
			homeKWH += 2.0
		}

		var chargeKWH, dischargeKWH, importKWH, exportKWH float64
		surplus := solarKWH - homeKWH
		if surplus > 0 {
			chargeKWH = math.Min(surplus, math.Min(maxBatteryKW, batteryCapacityKWH-soc))
			exportKWH = surplus - chargeKWH
		} else {
			dischargeKWH = math.Min(-surplus, math.Min(maxBatteryKW, soc))
			importKWH = -surplus - dischargeKWH
		}
		soc += chargeKWH - dischargeKWH

		gasM3 := 0.0
		if hour >= 6 && hour < 9 || hour >= 18 && hour < 22 {
			gasM3 = 0.3 + rng.Float64()*0.4
		}

		solar.add(t, round(solarKWH))
		charge.add(t, round(chargeKWH))
		discharge.add(t, round(dischargeKWH))
		gridImport.add(t, round(importKWH))
		gridExport.add(t, round(exportKWH))
		gas.add(t, round(gasM3))
	}

	src := hass.NewStatic(loc)
	for _, m := range meters {
		src.SetStatistics(m.id, m.samples)
		src.SetEntity(types.EntityState{
			EntityID:    m.id,
			State:       strconv.FormatFloat(m.state, 'f', 3, 64),
			Unit:        m.unit,
			LastChanged: now,
		})
	}

	e := engine.New(cfg, src)
	e.SetSnapshotStore(*cardID, s)
	if err := e.Refresh(ctx, types.Period{}); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to refresh", slog.Any("error", err))
		os.Exit(1)
	}
	states, err := e.States()
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build states", slog.Any("error", err))
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(
		ctx,
		"seeded snapshot",
		slog.Float64("homeElectric", states.HomeElectric),
		slog.Float64("solarProduction", states.SolarProduction),
		slog.Float64("gridImport", states.GridImport),
		slog.Float64("homeGas", states.HomeGas),
	)
}

func round(f float64) float64 {
	return math.Round(f*1000) / 1000
}
