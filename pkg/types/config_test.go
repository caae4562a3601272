package types

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrateConfig(t *testing.T) {
	t.Run("v1: initial defaults", func(t *testing.T) {
		c, changed, err := MigrateConfig(Config{}, 0)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, DisplayModeToday, c.DisplayMode)
		assert.Equal(t, "Wh", c.ElectricUnits)
		assert.Equal(t, GasUnitsSameAsElectric, c.GasUnits)
		assert.Equal(t, DefaultGasCalorificValue, c.GasCalorificValue)
		assert.Equal(t, CurrentConfigVersion, c.Version)
	})

	t.Run("v1: keeps explicit values", func(t *testing.T) {
		c, _, err := MigrateConfig(Config{
			DisplayMode:   DisplayModeHistory,
			ElectricUnits: "kWh",
			GasUnits:      "m³",
		}, 0)
		require.NoError(t, err)
		assert.Equal(t, DisplayModeHistory, c.DisplayMode)
		assert.Equal(t, "kWh", c.ElectricUnits)
		assert.Equal(t, "m³", c.GasUnits)
	})

	t.Run("v2 to v3: power outage alert state", func(t *testing.T) {
		c, changed, err := MigrateConfig(Config{
			Grid: NodeConfig{PowerOutage: &PowerOutageConfig{EntityID: "binary_sensor.outage"}},
		}, 2)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, "on", c.Grid.PowerOutage.AlertState)
	})

	t.Run("current version is a no-op", func(t *testing.T) {
		c, changed, err := MigrateConfig(Config{}, CurrentConfigVersion)
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, Config{}, c)
	})
}

func TestConfigResolve(t *testing.T) {
	base, _, err := MigrateConfig(Config{
		Timezone: "Europe/London",
		Grid: NodeConfig{
			ImportEntities: []string{"sensor.grid_in"},
			ExportEntities: []string{"sensor.grid_out"},
			Secondary:      &SecondaryConfig{EntityID: "sensor.grid_cost"},
		},
		Solar:     NodeConfig{ImportEntities: []string{"sensor.solar", "sensor.grid_in"}},
		LowCarbon: NodeConfig{ImportEntities: []string{"sensor.co2_signal"}},
		Devices:   []NodeConfig{{Name: "EV", Secondary: &SecondaryConfig{EntityID: "sensor.ev"}}},
	}, 0)
	require.NoError(t, err)

	c, err := base.Resolve()
	require.NoError(t, err)

	assert.Equal(t, "Wh", c.GasUnits)
	assert.Equal(t, NodeGrid, c.Grid.Kind)
	assert.Equal(t, NodeDevice, c.Devices[0].Kind)
	assert.Equal(t, "Europe/London", c.Location().String())
	assert.Equal(t, []string{"sensor.grid_in", "sensor.grid_out", "sensor.solar"}, c.PrimaryEntityIDs())
	assert.Equal(t, []string{"sensor.grid_cost", "sensor.ev"}, c.SecondaryEntityIDs())

	t.Run("bad display mode", func(t *testing.T) {
		bad := base
		bad.DisplayMode = "weekly"
		_, err := bad.Resolve()
		assert.ErrorContains(t, err, "unknown display mode")
	})

	t.Run("bad timezone", func(t *testing.T) {
		bad := base
		bad.Timezone = "Mars/Olympus"
		_, err := bad.Resolve()
		assert.ErrorContains(t, err, "invalid timezone")
	})

	t.Run("default location", func(t *testing.T) {
		assert.Equal(t, time.Local, Config{}.Location())
	})
}

func TestStatesNodes(t *testing.T) {
	c, err := Config{
		DisplayMode: DisplayModeToday,
		Battery:     NodeConfig{Name: "Battery", ImportEntities: []string{"sensor.bat_out"}, ExportEntities: []string{"sensor.bat_in"}},
		Solar:       NodeConfig{Name: "Solar", ImportEntities: []string{"sensor.solar"}, Secondary: &SecondaryConfig{EntityID: "sensor.solar_cost"}},
	}.Resolve()
	require.NoError(t, err)

	s := States{
		AggregateTotals: AggregateTotals{SolarProduction: 10, BatteryImport: 2, BatteryExport: 3},
		HomeElectric:    9,
		SolarSecondary:  1.5,
	}
	nodes := s.Nodes(c)
	require.Len(t, nodes, 3)

	assert.Equal(t, NodeBattery, nodes[0].Kind)
	assert.Equal(t, 2.0, *nodes[0].Import)
	assert.Equal(t, 3.0, *nodes[0].Export)
	assert.Nil(t, nodes[0].Secondary)

	assert.Equal(t, NodeHome, nodes[1].Kind)
	assert.Equal(t, 9.0, *nodes[1].Import)
	assert.Nil(t, nodes[1].Export)

	assert.Equal(t, NodeSolar, nodes[2].Kind)
	assert.Equal(t, 10.0, *nodes[2].Import)
	assert.Nil(t, nodes[2].Export)
	assert.Equal(t, 1.5, *nodes[2].Secondary)
}
