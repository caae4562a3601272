package types

import "time"

// AggregateTotals are the summed meter deltas for one period, all in the
// configured base units.
type AggregateTotals struct {
	SolarProduction float64 `json:"solarProduction"`
	// BatteryImport is energy discharged from the battery.
	BatteryImport float64 `json:"batteryImport"`
	// BatteryExport is energy charged into the battery.
	BatteryExport float64 `json:"batteryExport"`
	GridImport    float64 `json:"gridImport"`
	GridExport    float64 `json:"gridExport"`
	GasImport     float64 `json:"gasImport"`
}

// Add returns the element-wise sum of t and o.
func (t AggregateTotals) Add(o AggregateTotals) AggregateTotals {
	return AggregateTotals{
		SolarProduction: t.SolarProduction + o.SolarProduction,
		BatteryImport:   t.BatteryImport + o.BatteryImport,
		BatteryExport:   t.BatteryExport + o.BatteryExport,
		GridImport:      t.GridImport + o.GridImport,
		GridExport:      t.GridExport + o.GridExport,
		GasImport:       t.GasImport + o.GasImport,
	}
}

// FlowSet holds the seven inferred pairwise flows.
type FlowSet struct {
	SolarToHome    float64 `json:"solarToHome"`
	SolarToGrid    float64 `json:"solarToGrid"`
	SolarToBattery float64 `json:"solarToBattery"`
	GridToHome     float64 `json:"gridToHome"`
	GridToBattery  float64 `json:"gridToBattery"`
	BatteryToHome  float64 `json:"batteryToHome"`
	BatteryToGrid  float64 `json:"batteryToGrid"`
}

// Add returns the element-wise sum of f and o.
func (f FlowSet) Add(o FlowSet) FlowSet {
	return FlowSet{
		SolarToHome:    f.SolarToHome + o.SolarToHome,
		SolarToGrid:    f.SolarToGrid + o.SolarToGrid,
		SolarToBattery: f.SolarToBattery + o.SolarToBattery,
		GridToHome:     f.GridToHome + o.GridToHome,
		GridToBattery:  f.GridToBattery + o.GridToBattery,
		BatteryToHome:  f.BatteryToHome + o.BatteryToHome,
		BatteryToGrid:  f.BatteryToGrid + o.BatteryToGrid,
	}
}

// ToHome is the sum of the flows ending at the home.
func (f FlowSet) ToHome() float64 {
	return f.SolarToHome + f.BatteryToHome + f.GridToHome
}

// ToGrid is the sum of the flows ending at the grid.
func (f FlowSet) ToGrid() float64 {
	return f.SolarToGrid + f.BatteryToGrid
}

// ToBattery is the sum of the flows ending at the battery.
func (f FlowSet) ToBattery() float64 {
	return f.GridToBattery + f.SolarToBattery
}

// States is the snapshot handed to the rendering layer. It is rebuilt on
// every render and never modified afterwards.
type States struct {
	Timestamp   time.Time `json:"timestamp"`
	PeriodStart time.Time `json:"periodStart"`
	PeriodEnd   time.Time `json:"periodEnd"`

	AggregateTotals
	Flows FlowSet `json:"flows"`

	HomeElectric        float64 `json:"homeElectric"`
	HomeGas             float64 `json:"homeGas"`
	HighCarbon          float64 `json:"highCarbon"`
	LowCarbon           float64 `json:"lowCarbon"`
	LowCarbonPercentage float64 `json:"lowCarbonPercentage"`
	GridOutage          bool    `json:"gridOutage"`

	BatterySecondary   float64   `json:"batterySecondary"`
	GasSecondary       float64   `json:"gasSecondary"`
	GridSecondary      float64   `json:"gridSecondary"`
	HomeSecondary      float64   `json:"homeSecondary"`
	LowCarbonSecondary float64   `json:"lowCarbonSecondary"`
	SolarSecondary     float64   `json:"solarSecondary"`
	DevicesSecondary   []float64 `json:"devicesSecondary"`

	LargestElectricValue float64 `json:"largestElectricValue"`
	LargestGasValue      float64 `json:"largestGasValue"`
}

// NodeKind identifies one of the nodes drawn by the card.
type NodeKind int

const (
	NodeBattery NodeKind = iota
	NodeGas
	NodeGrid
	NodeHome
	NodeLowCarbon
	NodeSolar
	NodeDevice
)

func (k NodeKind) String() string {
	switch k {
	case NodeBattery:
		return "battery"
	case NodeGas:
		return "gas"
	case NodeGrid:
		return "grid"
	case NodeHome:
		return "home"
	case NodeLowCarbon:
		return "lowCarbon"
	case NodeSolar:
		return "solar"
	case NodeDevice:
		return "device"
	default:
		return "unknown"
	}
}

// HasImport returns true if the node has an import (source side) value.
func (k NodeKind) HasImport() bool {
	switch k {
	case NodeBattery, NodeGas, NodeGrid, NodeHome, NodeLowCarbon, NodeSolar, NodeDevice:
		return true
	}
	return false
}

// HasExport returns true if the node has an export (sink side) value.
func (k NodeKind) HasExport() bool {
	return k == NodeBattery || k == NodeGrid
}

// HasSecondary returns true if the node can show secondary info.
func (k NodeKind) HasSecondary() bool {
	return k.HasImport()
}

// NodeState is a per-node view of a States snapshot. Values are nil when
// the node kind lacks the capability.
type NodeState struct {
	Kind      NodeKind `json:"-"`
	KindName  string   `json:"kind"`
	Name      string   `json:"name"`
	Import    *float64 `json:"import,omitempty"`
	Export    *float64 `json:"export,omitempty"`
	Secondary *float64 `json:"secondary,omitempty"`
}

// Nodes returns the configured nodes of cfg with their values from s.
func (s States) Nodes(cfg Config) []NodeState {
	var nodes []NodeState
	add := func(n NodeConfig, imp, exp, sec float64) {
		ns := NodeState{
			Kind:     n.Kind,
			KindName: n.Kind.String(),
			Name:     n.Name,
		}
		if n.Kind.HasImport() {
			ns.Import = Float(imp)
		}
		if n.Kind.HasExport() {
			ns.Export = Float(exp)
		}
		if n.Kind.HasSecondary() && n.Secondary != nil {
			ns.Secondary = Float(sec)
		}
		nodes = append(nodes, ns)
	}

	if cfg.Battery.Present() {
		add(cfg.Battery, s.BatteryImport, s.BatteryExport, s.BatterySecondary)
	}
	if cfg.Gas.Present() {
		add(cfg.Gas, s.GasImport, 0, s.GasSecondary)
	}
	if cfg.Grid.Present() {
		add(cfg.Grid, s.GridImport, s.GridExport, s.GridSecondary)
	}
	add(cfg.Home, s.HomeElectric, 0, s.HomeSecondary)
	if cfg.LowCarbon.Present() {
		add(cfg.LowCarbon, s.LowCarbon, 0, s.LowCarbonSecondary)
	}
	if cfg.Solar.Present() {
		add(cfg.Solar, s.SolarProduction, 0, s.SolarSecondary)
	}
	for i, d := range cfg.Devices {
		var sec float64
		if i < len(s.DevicesSecondary) {
			sec = s.DevicesSecondary[i]
		}
		add(d, 0, 0, sec)
	}
	return nodes
}
