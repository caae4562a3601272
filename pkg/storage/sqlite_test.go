package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wattflow/wattflow/pkg/types"
)

func testSnapshot(ts time.Time, gridImport float64) types.States {
	return types.States{
		Timestamp:   ts,
		PeriodStart: ts.Truncate(24 * time.Hour),
		PeriodEnd:   ts,
		AggregateTotals: types.AggregateTotals{
			GridImport:      gridImport,
			SolarProduction: 2000,
		},
		Flows:            types.FlowSet{GridToHome: gridImport, SolarToHome: 2000},
		HomeElectric:     gridImport + 2000,
		DevicesSecondary: []float64{1.5},
	}
}

func TestSQLiteProvider(t *testing.T) {
	ctx := context.Background()
	s := NewSQLite(filepath.Join(t.TempDir(), "data", "wattflow.db"))
	require.NoError(t, s.Validate())
	require.NoError(t, s.Init(ctx))
	defer s.Close()

	t.Run("NotFound", func(t *testing.T) {
		_, err := s.GetSnapshot(ctx, "missing")
		assert.ErrorIs(t, err, ErrSnapshotNotFound)
	})

	t.Run("EmptyCardID", func(t *testing.T) {
		assert.ErrorIs(t, s.PutSnapshot(ctx, "", types.States{}), ErrEmptyCardID)
		_, err := s.GetSnapshot(ctx, "")
		assert.ErrorIs(t, err, ErrEmptyCardID)
	})

	t.Run("PutGet", func(t *testing.T) {
		ts := time.Date(2025, 6, 1, 12, 30, 0, 0, time.UTC)
		require.NoError(t, s.PutSnapshot(ctx, "home", testSnapshot(ts, 1500)))

		got, err := s.GetSnapshot(ctx, "home")
		require.NoError(t, err)
		assert.True(t, ts.Equal(got.Timestamp))
		assert.Equal(t, 1500.0, got.GridImport)
		assert.Equal(t, 3500.0, got.HomeElectric)
		assert.Equal(t, 1500.0, got.Flows.GridToHome)
		assert.Equal(t, []float64{1.5}, got.DevicesSecondary)

		// overwrites
		require.NoError(t, s.PutSnapshot(ctx, "home", testSnapshot(ts.Add(time.Minute), 1600)))
		got, err = s.GetSnapshot(ctx, "home")
		require.NoError(t, err)
		assert.Equal(t, 1600.0, got.GridImport)
		assert.True(t, ts.Add(time.Minute).Equal(got.Timestamp))
	})

	t.Run("ListCards", func(t *testing.T) {
		require.NoError(t, s.PutSnapshot(ctx, "cabin", testSnapshot(time.Now(), 10)))
		ids, err := s.ListCards(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"cabin", "home"}, ids)
	})
}

func TestSQLiteReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "wattflow.db")

	s := NewSQLite(path)
	require.NoError(t, s.Init(ctx))
	require.NoError(t, s.PutSnapshot(ctx, "home", testSnapshot(time.Now(), 42)))
	require.NoError(t, s.Close())

	// migrations are only applied once
	s = NewSQLite(path)
	require.NoError(t, s.Init(ctx))
	defer s.Close()
	got, err := s.GetSnapshot(ctx, "home")
	require.NoError(t, err)
	assert.Equal(t, 42.0, got.GridImport)
}

func TestSQLiteValidate(t *testing.T) {
	assert.Error(t, NewSQLite("").Validate())
}
