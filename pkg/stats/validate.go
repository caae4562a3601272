package stats

import (
	"time"

	"github.com/wattflow/wattflow/pkg/types"
)

// Validate returns a repaired copy of samples for the period starting at
// periodStart. previous is the statistics of the hour before
// periodStart and is only used to seed the running baseline.
//
// The change values reported by the recorder aren't reliable across resets
// so they're recomputed from the state differences, except at local
// midnight where the state becomes the new baseline.
func Validate(samples, previous []types.StatisticSample, mode types.SensorMode, periodStart time.Time, loc *time.Location) []types.StatisticSample {
	if loc == nil {
		loc = time.Local
	}

	out := make([]types.StatisticSample, 0, len(samples)+1)
	if len(samples) == 0 || samples[0].Start.After(periodStart) {
		out = append(out, leadingSample(previous, mode, periodStart))
	}
	for _, s := range samples {
		// copy the change so the caller's samples are left alone
		if s.Change != nil {
			s.Change = types.Float(*s.Change)
		}
		out = append(out, s)
	}

	var baseline float64
	for i := range out {
		s := &out[i]
		switch {
		case s.Synthetic:
			s.Change = types.Float(0)
		case s.Start.In(loc).Hour() == 0:
			if mode == types.SensorModeMisconfiguredResetting {
				s.Change = types.Float(s.State)
			}
		default:
			diff := s.State - baseline
			if mode != types.SensorModeTotalising && diff < 0 {
				diff = 0
			}
			s.Change = types.Float(diff)
		}
		baseline = s.State
	}
	return out
}

// leadingSample builds the synthetic sample placed before a period that
// has no statistic at its start yet, e.g. just after midnight.
func leadingSample(previous []types.StatisticSample, mode types.SensorMode, periodStart time.Time) types.StatisticSample {
	if len(previous) == 0 {
		return types.StatisticSample{
			Start:     periodStart,
			Change:    types.Float(0),
			Synthetic: true,
		}
	}
	prev := previous[len(previous)-1]
	s := types.StatisticSample{
		Start:     prev.Start,
		Change:    types.Float(0),
		LastReset: prev.LastReset,
		Synthetic: true,
	}
	// resetting sensors have reset at midnight so their baseline is 0
	if mode == types.SensorModeTotalising {
		s.State = prev.State
	}
	return s
}

// ValidateAll validates the statistics of every entity in entityIDs and
// returns a new Statistics. Entities missing from current get a single
// synthetic sample.
func ValidateAll(entityIDs []string, current, previous types.Statistics, modes map[string]types.SensorMode, periodStart time.Time, loc *time.Location) types.Statistics {
	out := make(types.Statistics, len(entityIDs))
	for _, id := range entityIDs {
		out[id] = Validate(current[id], previous[id], modes[id], periodStart, loc)
	}
	return out
}
