package types

import (
	"fmt"
	"time"
)

// CurrentConfigVersion is the current version of the card config.
// Increment this value when adding new fields that require default values.
const CurrentConfigVersion = 3

// DisplayMode controls which period is shown and whether live deltas are
// added on top of the statistics.
type DisplayMode string

const (
	// DisplayModeToday shows today and extrapolates the current bucket.
	DisplayModeToday DisplayMode = "today"
	// DisplayModeHistory shows the selected period from statistics only.
	DisplayModeHistory DisplayMode = "history"
	// DisplayModeHybrid shows the selected period and extrapolates the
	// current bucket.
	DisplayModeHybrid DisplayMode = "hybrid"
)

const (
	// GasUnitsSameAsElectric makes gas use the electric units.
	GasUnitsSameAsElectric = "same_as_electric"

	DefaultElectricUnits     = "Wh"
	DefaultGasCalorificValue = 39.5
	DefaultPowerOutageState  = "on"
)

// Config is the card configuration. It's loaded once and then treated as
// read-only.
type Config struct {
	Version int `toml:"version"`

	DisplayMode DisplayMode `toml:"display_mode"`
	// Always fetch hourly statistics so flows are computed per hour.
	UseHourlyStats bool `toml:"use_hourly_stats"`

	// Units everything electric is converted to (e.g. Wh, kWh, J)
	ElectricUnits string `toml:"electric_units"`
	// Units gas is converted to, or same_as_electric
	GasUnits string `toml:"gas_units"`
	// Gas calorific value in MJ/m³, it's on your gas statement.
	GasCalorificValue float64 `toml:"gas_calorific_value"`

	// Timezone used to find local midnight. Empty means the process local zone.
	Timezone string `toml:"timezone"`

	// Fixed date range for history/hybrid mode when no collection period is
	// provided.
	PeriodStart time.Time `toml:"period_start,omitempty"`
	PeriodEnd   time.Time `toml:"period_end,omitempty"`

	Battery   NodeConfig   `toml:"battery"`
	Gas       NodeConfig   `toml:"gas"`
	Grid      NodeConfig   `toml:"grid"`
	Home      NodeConfig   `toml:"home"`
	LowCarbon NodeConfig   `toml:"low_carbon"`
	Solar     NodeConfig   `toml:"solar"`
	Devices   []NodeConfig `toml:"devices"`

	location *time.Location
}

// NodeConfig configures the entities behind one node.
type NodeConfig struct {
	Kind NodeKind `toml:"-"`
	Name string   `toml:"name"`
	// ImportEntities are the "from" meters (e.g. grid consumption, battery
	// discharge, solar production). For the low carbon node the first entity
	// is the CO2 signal percentage.
	ImportEntities []string `toml:"import_entities"`
	// ExportEntities are the "to" meters (grid return, battery charge).
	ExportEntities []string           `toml:"export_entities"`
	Secondary      *SecondaryConfig   `toml:"secondary"`
	PowerOutage    *PowerOutageConfig `toml:"power_outage"`
}

// Present returns true if the node has any import entities.
func (n NodeConfig) Present() bool {
	return len(n.ImportEntities) > 0
}

// FirstImportEntity returns the first import entity or "".
func (n NodeConfig) FirstImportEntity() string {
	if len(n.ImportEntities) == 0 {
		return ""
	}
	return n.ImportEntities[0]
}

// SecondaryEntities returns the secondary entity as a slice.
func (n NodeConfig) SecondaryEntities() []string {
	if n.Secondary == nil || n.Secondary.EntityID == "" {
		return nil
	}
	return []string{n.Secondary.EntityID}
}

// SecondaryConfig is an extra value shown under a node.
type SecondaryConfig struct {
	EntityID string `toml:"entity_id"`
	// Units override the entity's unit_of_measurement.
	Units string `toml:"units"`
}

// PowerOutageConfig is an entity signalling the grid is down.
type PowerOutageConfig struct {
	EntityID   string `toml:"entity_id"`
	AlertState string `toml:"alert_state"`
}

// Location returns the resolved timezone.
func (c Config) Location() *time.Location {
	if c.location == nil {
		return time.Local
	}
	return c.location
}

// AllNodes returns every configured node including devices.
func (c Config) AllNodes() []NodeConfig {
	nodes := []NodeConfig{c.Battery, c.Gas, c.Grid, c.Home, c.LowCarbon, c.Solar}
	return append(nodes, c.Devices...)
}

// PrimaryEntityIDs are the entities whose statistics drive the totals.
func (c Config) PrimaryEntityIDs() []string {
	var ids []string
	for _, n := range c.AllNodes() {
		// the low carbon entity is a percentage and is only read live
		if n.Kind == NodeLowCarbon {
			continue
		}
		ids = append(ids, n.ImportEntities...)
		ids = append(ids, n.ExportEntities...)
	}
	return dedupe(ids)
}

// SecondaryEntityIDs are the entities shown as secondary info.
func (c Config) SecondaryEntityIDs() []string {
	var ids []string
	for _, n := range c.AllNodes() {
		ids = append(ids, n.SecondaryEntities()...)
	}
	return dedupe(ids)
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Resolve fills in the derived fields of the config so nothing has to fall
// back to defaults when it's read later.
func (c Config) Resolve() (Config, error) {
	c.Battery.Kind = NodeBattery
	c.Gas.Kind = NodeGas
	c.Grid.Kind = NodeGrid
	c.Home.Kind = NodeHome
	c.LowCarbon.Kind = NodeLowCarbon
	c.Solar.Kind = NodeSolar
	devices := make([]NodeConfig, len(c.Devices))
	for i, d := range c.Devices {
		d.Kind = NodeDevice
		devices[i] = d
	}
	c.Devices = devices

	switch c.DisplayMode {
	case DisplayModeToday, DisplayModeHistory, DisplayModeHybrid:
	default:
		return c, fmt.Errorf("unknown display mode: %q", c.DisplayMode)
	}

	if c.GasUnits == GasUnitsSameAsElectric {
		c.GasUnits = c.ElectricUnits
	}

	if c.Timezone != "" {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return c, fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
		c.location = loc
	}
	return c, nil
}

// MigrateConfig migrates the config to the current version.
// It returns the migrated config, a boolean indicating if changes were made, and an error if migration failed.
func MigrateConfig(c Config, currentVersion int) (Config, bool, error) {
	if currentVersion >= CurrentConfigVersion {
		return c, false, nil
	}

	migrated := false
	// Loop through versions to apply migrations sequentially
	for version := currentVersion + 1; version <= CurrentConfigVersion; version++ {
		switch version {
		case 1:
			// version 1: initial
			if c.DisplayMode == "" {
				c.DisplayMode = DisplayModeToday
				migrated = true
			}
			if c.ElectricUnits == "" {
				c.ElectricUnits = DefaultElectricUnits
				migrated = true
			}
			if c.GasUnits == "" {
				c.GasUnits = GasUnitsSameAsElectric
				migrated = true
			}
		case 2:
			// version 2: add gas calorific value
			if c.GasCalorificValue == 0 {
				c.GasCalorificValue = DefaultGasCalorificValue
				migrated = true
			}
		case 3:
			// version 3: add grid power outage
			if c.Grid.PowerOutage != nil && c.Grid.PowerOutage.AlertState == "" {
				c.Grid.PowerOutage.AlertState = DefaultPowerOutageState
				migrated = true
			}
		default:
			return c, false, fmt.Errorf("unknown config version: %d", version)
		}
	}
	c.Version = CurrentConfigVersion

	return c, migrated, nil
}
