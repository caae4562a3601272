// Package stats classifies cumulative sensors and repairs their long-term
// statistics before they're aggregated.
package stats

import (
	"context"
	"log/slog"

	"github.com/wattflow/wattflow/pkg/log"
	"github.com/wattflow/wattflow/pkg/types"
	"github.com/wattflow/wattflow/pkg/units"
)

// Classify infers the counting behaviour of a sensor from its first
// statistic of the most recent day.
func Classify(samples []types.StatisticSample) types.SensorMode {
	if len(samples) == 0 {
		return types.SensorModeTotalising
	}
	first := samples[0]
	change := units.Round(first.ChangeOrZero(), 6)
	state := units.Round(first.State, 6)

	switch {
	case change > state || change < 0:
		return types.SensorModeMisconfiguredResetting
	case change < state:
		return types.SensorModeResetting
	default:
		return types.SensorModeTotalising
	}
}

// ClassifyAll classifies every entity in entityIDs. Entities without
// statistics are totalising.
func ClassifyAll(ctx context.Context, entityIDs []string, statistics types.Statistics) map[string]types.SensorMode {
	modes := make(map[string]types.SensorMode, len(entityIDs))
	for _, id := range entityIDs {
		samples := statistics[id]
		mode := Classify(samples)
		modes[id] = mode
		if len(samples) > 0 {
			log.Ctx(ctx).DebugContext(
				ctx,
				"classified sensor",
				slog.String("entityID", id),
				slog.String("mode", mode.String()),
				slog.Float64("change", samples[0].ChangeOrZero()),
				slog.Float64("state", samples[0].State),
			)
		}
	}
	return modes
}
