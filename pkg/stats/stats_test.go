package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattflow/wattflow/pkg/types"
)

func sample(start time.Time, state, change float64) types.StatisticSample {
	return types.StatisticSample{Start: start, State: state, Change: types.Float(change)}
}

func TestClassify(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name   string
		state  float64
		change float64
		expect types.SensorMode
	}{
		{"change equals state", 5, 5, types.SensorModeTotalising},
		{"change below state", 10, 5, types.SensorModeResetting},
		{"zero change", 10, 0, types.SensorModeResetting},
		{"change above state", 10, 15, types.SensorModeMisconfiguredResetting},
		{"negative change", 10, -2, types.SensorModeMisconfiguredResetting},
		{"equal after rounding", 5.0000001, 5.0000004, types.SensorModeTotalising},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := []types.StatisticSample{sample(start, tt.state, tt.change)}
			assert.Equal(t, tt.expect, Classify(samples))
		})
	}

	t.Run("no samples", func(t *testing.T) {
		assert.Equal(t, types.SensorModeTotalising, Classify(nil))
	})

	t.Run("only the first sample counts", func(t *testing.T) {
		samples := []types.StatisticSample{
			sample(start, 10, 5),
			sample(start.Add(time.Hour), 10, 50),
		}
		assert.Equal(t, types.SensorModeResetting, Classify(samples))
	})

	t.Run("missing change is zero", func(t *testing.T) {
		samples := []types.StatisticSample{{Start: start, State: 10}}
		assert.Equal(t, types.SensorModeResetting, Classify(samples))
	})
}

func TestClassifyAll(t *testing.T) {
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	modes := ClassifyAll(context.Background(), []string{"sensor.a", "sensor.b", "sensor.c"}, types.Statistics{
		"sensor.a": {sample(start, 5, 5)},
		"sensor.b": {sample(start, 10, 15)},
	})
	assert.Equal(t, map[string]types.SensorMode{
		"sensor.a": types.SensorModeTotalising,
		"sensor.b": types.SensorModeMisconfiguredResetting,
		"sensor.c": types.SensorModeTotalising,
	}, modes)
}

func changes(samples []types.StatisticSample) []float64 {
	out := make([]float64, len(samples))
	for i, s := range samples {
		out[i] = s.ChangeOrZero()
	}
	return out
}

func TestValidate(t *testing.T) {
	loc := time.UTC
	midnight := time.Date(2025, 6, 1, 0, 0, 0, 0, loc)

	t.Run("misconfigured midnight sample uses state", func(t *testing.T) {
		out := Validate(
			[]types.StatisticSample{sample(midnight, 12, 3)},
			nil,
			types.SensorModeMisconfiguredResetting,
			midnight,
			loc,
		)
		require.Len(t, out, 1)
		assert.Equal(t, 12.0, out[0].ChangeOrZero())
	})

	t.Run("resetting midnight sample keeps reported change", func(t *testing.T) {
		out := Validate(
			[]types.StatisticSample{sample(midnight, 12, 3)},
			nil,
			types.SensorModeResetting,
			midnight,
			loc,
		)
		require.Len(t, out, 1)
		assert.Equal(t, 3.0, out[0].ChangeOrZero())
	})

	t.Run("recomputes change from state", func(t *testing.T) {
		out := Validate(
			[]types.StatisticSample{
				sample(midnight, 2, 2),
				sample(midnight.Add(time.Hour), 5, 100),
				sample(midnight.Add(2*time.Hour), 9, 0),
			},
			nil,
			types.SensorModeResetting,
			midnight,
			loc,
		)
		assert.Equal(t, []float64{2, 3, 4}, changes(out))
	})

	t.Run("clamps resets for resetting sensors", func(t *testing.T) {
		out := Validate(
			[]types.StatisticSample{
				sample(midnight, 8, 8),
				sample(midnight.Add(time.Hour), 2, 2),
				sample(midnight.Add(2*time.Hour), 5, 3),
			},
			nil,
			types.SensorModeResetting,
			midnight,
			loc,
		)
		assert.Equal(t, []float64{8, 0, 3}, changes(out))
	})

	t.Run("keeps negative adjustments for totalising sensors", func(t *testing.T) {
		out := Validate(
			[]types.StatisticSample{
				sample(midnight, 100, 1),
				sample(midnight.Add(time.Hour), 98, 0),
			},
			nil,
			types.SensorModeTotalising,
			midnight,
			loc,
		)
		assert.Equal(t, []float64{1, -2}, changes(out))
	})

	t.Run("empty series without previous gets a dummy", func(t *testing.T) {
		out := Validate(nil, nil, types.SensorModeTotalising, midnight, loc)
		require.Len(t, out, 1)
		assert.True(t, out[0].Synthetic)
		assert.Equal(t, midnight, out[0].Start)
		assert.Equal(t, 0.0, out[0].State)
		assert.Equal(t, 0.0, out[0].ChangeOrZero())
	})

	t.Run("late series carries totalising state forward", func(t *testing.T) {
		periodStart := midnight.Add(5 * time.Hour)
		prev := []types.StatisticSample{sample(periodStart.Add(-time.Hour), 1000, 4)}
		out := Validate(
			[]types.StatisticSample{sample(periodStart.Add(time.Hour), 1007, 7)},
			prev,
			types.SensorModeTotalising,
			periodStart,
			loc,
		)
		require.Len(t, out, 2)
		assert.True(t, out[0].Synthetic)
		assert.Equal(t, prev[0].Start, out[0].Start)
		assert.Equal(t, 1000.0, out[0].State)
		assert.Equal(t, []float64{0, 7}, changes(out))
	})

	t.Run("late series starts resetting sensors from zero", func(t *testing.T) {
		periodStart := midnight.Add(5 * time.Hour)
		prev := []types.StatisticSample{sample(periodStart.Add(-time.Hour), 40, 4)}
		out := Validate(
			[]types.StatisticSample{sample(periodStart.Add(time.Hour), 43, 3)},
			prev,
			types.SensorModeResetting,
			periodStart,
			loc,
		)
		require.Len(t, out, 2)
		assert.Equal(t, 0.0, out[0].State)
		assert.Equal(t, []float64{0, 43}, changes(out))
	})

	t.Run("uses the local midnight", func(t *testing.T) {
		ny, err := time.LoadLocation("America/New_York")
		require.NoError(t, err)
		local := time.Date(2025, 6, 1, 0, 0, 0, 0, ny)
		out := Validate(
			[]types.StatisticSample{sample(local, 12, 3)},
			nil,
			types.SensorModeMisconfiguredResetting,
			local,
			ny,
		)
		assert.Equal(t, []float64{12}, changes(out))
	})

	t.Run("does not modify the input", func(t *testing.T) {
		in := []types.StatisticSample{
			sample(midnight, 12, 3),
			sample(midnight.Add(time.Hour), 20, 1),
		}
		out := Validate(in, nil, types.SensorModeMisconfiguredResetting, midnight, loc)
		assert.Equal(t, []float64{12, 8}, changes(out))
		assert.Equal(t, []float64{3, 1}, changes(in))
	})
}

func TestValidateAll(t *testing.T) {
	midnight := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	out := ValidateAll(
		[]string{"sensor.a", "sensor.b"},
		types.Statistics{"sensor.a": {sample(midnight, 12, 3)}},
		nil,
		map[string]types.SensorMode{"sensor.a": types.SensorModeMisconfiguredResetting},
		midnight,
		time.UTC,
	)
	require.Len(t, out, 2)
	assert.Equal(t, []float64{12}, changes(out["sensor.a"]))
	require.Len(t, out["sensor.b"], 1)
	assert.True(t, out["sensor.b"][0].Synthetic)
}
