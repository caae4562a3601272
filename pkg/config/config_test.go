package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattflow/wattflow/pkg/types"
)

const fullConfig = `
display_mode = "hybrid"
use_hourly_stats = true
electric_units = "kWh"
timezone = "Europe/London"
period_start = 2025-05-01T00:00:00Z

[grid]
import_entities = ["sensor.grid_in_day", "sensor.grid_in_night"]
export_entities = ["sensor.grid_out"]
power_outage = { entity_id = "binary_sensor.grid_outage" }

[solar]
import_entities = ["sensor.solar"]
secondary = { entity_id = "sensor.solar_income", units = "GBP" }

[battery]
import_entities = ["sensor.battery_out"]
export_entities = ["sensor.battery_in"]

[gas]
import_entities = ["sensor.gas"]

[low_carbon]
import_entities = ["sensor.co2_signal"]

[[devices]]
name = "Car"
import_entities = ["sensor.car"]
`

func TestParse(t *testing.T) {
	cfg, err := Parse(context.Background(), fullConfig)
	require.NoError(t, err)

	assert.Equal(t, types.CurrentConfigVersion, cfg.Version)
	assert.Equal(t, types.DisplayModeHybrid, cfg.DisplayMode)
	assert.True(t, cfg.UseHourlyStats)
	assert.Equal(t, "kWh", cfg.ElectricUnits)
	// same_as_electric is resolved
	assert.Equal(t, "kWh", cfg.GasUnits)
	assert.Equal(t, types.DefaultGasCalorificValue, cfg.GasCalorificValue)
	assert.Equal(t, "Europe/London", cfg.Location().String())
	assert.True(t, cfg.PeriodStart.Equal(time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)))

	assert.Equal(t, types.NodeGrid, cfg.Grid.Kind)
	require.NotNil(t, cfg.Grid.PowerOutage)
	assert.Equal(t, types.DefaultPowerOutageState, cfg.Grid.PowerOutage.AlertState)
	require.NotNil(t, cfg.Solar.Secondary)
	assert.Equal(t, "GBP", cfg.Solar.Secondary.Units)
	require.Len(t, cfg.Devices, 1)
	assert.Equal(t, types.NodeDevice, cfg.Devices[0].Kind)
	assert.Equal(t, "Car", cfg.Devices[0].Name)

	assert.Equal(t, []string{
		"sensor.battery_out",
		"sensor.battery_in",
		"sensor.gas",
		"sensor.grid_in_day",
		"sensor.grid_in_night",
		"sensor.grid_out",
		"sensor.solar",
		"sensor.car",
	}, cfg.PrimaryEntityIDs())
	assert.Equal(t, []string{"sensor.solar_income"}, cfg.SecondaryEntityIDs())
}

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse(context.Background(), `
[grid]
import_entities = ["sensor.grid_in"]
`)
	require.NoError(t, err)
	assert.Equal(t, types.DisplayModeToday, cfg.DisplayMode)
	assert.Equal(t, "Wh", cfg.ElectricUnits)
	assert.Equal(t, "Wh", cfg.GasUnits)
	assert.False(t, cfg.LowCarbon.Present())
}

func TestParseErrors(t *testing.T) {
	ctx := context.Background()

	_, err := Parse(ctx, `display_mode = `)
	assert.Error(t, err)

	_, err = Parse(ctx, `display_mode = "weekly"`)
	assert.ErrorContains(t, err, "unknown display mode")

	_, err = Parse(ctx, `timezone = "Mars/Olympus"`)
	assert.ErrorContains(t, err, "invalid timezone")
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wattflow.toml")
	require.NoError(t, os.WriteFile(path, []byte(fullConfig+"\nunknown_key = 1\n"), 0o644))

	cfg, err := Load(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, types.DisplayModeHybrid, cfg.DisplayMode)

	_, err = Load(ctx, filepath.Join(t.TempDir(), "missing.toml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
