package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Granularity is the bucket size used when fetching long-term statistics.
type Granularity string

const (
	GranularityHour  Granularity = "hour"
	GranularityDay   Granularity = "day"
	GranularityMonth Granularity = "month"
)

// StatisticSample is one bucket of a cumulative meter's history.
type StatisticSample struct {
	Start time.Time `json:"start"`
	// State is the cumulative meter reading at the end of the bucket.
	State float64 `json:"state"`
	// Change is the increment over the bucket. It is supplied by the recorder
	// but is not always correct, see stats.Validate.
	Change    *float64   `json:"change"`
	LastReset *time.Time `json:"lastReset,omitempty"`
	// Synthetic is set on the leading sample inserted to seed delta
	// calculations. It never contributes to sums.
	Synthetic bool `json:"synthetic,omitempty"`
}

// ChangeOrZero returns the change of the sample or 0 if it's missing.
func (s StatisticSample) ChangeOrZero() float64 {
	if s.Change == nil {
		return 0
	}
	return *s.Change
}

// Float returns a pointer to f. It is a convenience for building samples.
func Float(f float64) *float64 {
	return &f
}

// Statistics maps an entity id to its samples ordered by start time.
type Statistics map[string][]StatisticSample

// SensorMode describes how a cumulative sensor counts.
type SensorMode int

const (
	// SensorModeTotalising is a counter that never resets.
	SensorModeTotalising SensorMode = iota
	// SensorModeResetting is a counter that periodically resets to zero.
	SensorModeResetting
	// SensorModeMisconfiguredResetting is a resetting counter whose first
	// change after a reset is reported incorrectly.
	SensorModeMisconfiguredResetting
)

func (m SensorMode) String() string {
	switch m {
	case SensorModeTotalising:
		return "totalising"
	case SensorModeResetting:
		return "resetting"
	case SensorModeMisconfiguredResetting:
		return "misconfiguredResetting"
	default:
		return fmt.Sprintf("SensorMode(%d)", int(m))
	}
}

// MarshalJSON encodes the mode as its string name.
func (m SensorMode) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// EntityState is the live state of an entity as reported by Home Assistant.
type EntityState struct {
	EntityID    string    `json:"entityID"`
	State       string    `json:"state"`
	Unit        string    `json:"unit"`
	LastChanged time.Time `json:"lastChanged"`
}

// Period is the time range a collection wants statistics for. A zero End
// means "until now".
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
