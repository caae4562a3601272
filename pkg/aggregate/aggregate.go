// Package aggregate sums validated statistics into totals in the
// configured units.
package aggregate

import (
	"math"
	"sort"
	"strconv"
	"time"

	"github.com/wattflow/wattflow/pkg/types"
	"github.com/wattflow/wattflow/pkg/units"
)

// Registry looks up the live state of an entity.
type Registry interface {
	Entity(id string) (types.EntityState, bool)
}

// Bucket is the converted change of every entity for one statistics bucket.
type Bucket struct {
	Start  time.Time
	Values map[string]float64
}

// Sum returns the total of the given entities in the bucket.
func (b Bucket) Sum(entityIDs []string) float64 {
	var sum float64
	for _, id := range entityIDs {
		sum += b.Values[id]
	}
	return sum
}

// CombineBuckets groups the changes of entityIDs by bucket start, converting
// each change from the entity's unit into targetUnit. Samples outside
// [periodStart, periodEnd) are ignored, as are synthetic samples and entities
// the registry doesn't know. A zero periodEnd has no upper bound.
func CombineBuckets(stats types.Statistics, entityIDs []string, registry Registry, conv units.Converter, targetUnit string, periodStart, periodEnd time.Time) []Bucket {
	byStart := make(map[int64]*Bucket)
	for _, id := range entityIDs {
		entity, ok := registry.Entity(id)
		if !ok {
			continue
		}
		for _, s := range stats[id] {
			if s.Synthetic || !inPeriod(s.Start, periodStart, periodEnd) {
				continue
			}
			key := s.Start.UnixNano()
			b, ok := byStart[key]
			if !ok {
				b = &Bucket{Start: s.Start, Values: make(map[string]float64)}
				byStart[key] = b
			}
			b.Values[id] += conv.Convert(s.ChangeOrZero(), entity.Unit, targetUnit)
		}
	}

	buckets := make([]Bucket, 0, len(byStart))
	for _, b := range byStart {
		buckets = append(buckets, *b)
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].Start.Before(buckets[j].Start)
	})
	return buckets
}

func inPeriod(t, start, end time.Time) bool {
	if t.Before(start) {
		return false
	}
	return end.IsZero() || t.Before(end)
}

// SumChanges sums the changes of entityIDs converted into targetUnit. If
// unitOverride is set it's used as the source unit instead of the entity's
// unit, and the entity doesn't need to be known by the registry.
func SumChanges(stats types.Statistics, entityIDs []string, registry Registry, conv units.Converter, unitOverride, targetUnit string) float64 {
	var total float64
	for _, id := range entityIDs {
		unit := unitOverride
		if unit == "" {
			entity, ok := registry.Entity(id)
			if !ok {
				continue
			}
			unit = entity.Unit
		}
		var sum float64
		for _, s := range stats[id] {
			if s.Synthetic {
				continue
			}
			sum += s.ChangeOrZero()
		}
		total += conv.Convert(sum, unit, targetUnit)
	}
	return total
}

// LiveDelta returns how far the live state of entityIDs has moved past
// their last statistic, converted into targetUnit. Only entities that
// changed within [periodStart, periodEnd] count.
func LiveDelta(stats types.Statistics, entityIDs []string, registry Registry, conv units.Converter, targetUnit string, periodStart, periodEnd time.Time) float64 {
	var total float64
	for _, id := range entityIDs {
		entity, ok := registry.Entity(id)
		if !ok {
			continue
		}
		if entity.LastChanged.Before(periodStart) || entity.LastChanged.After(periodEnd) {
			continue
		}
		samples := stats[id]
		if len(samples) == 0 {
			continue
		}
		state, ok := ParseState(entity.State)
		if !ok {
			continue
		}
		total += conv.Convert(state-samples[len(samples)-1].State, entity.Unit, targetUnit)
	}
	return total
}

// ParseState parses a numeric entity state. States like "unavailable"
// return false.
func ParseState(state string) (float64, bool) {
	f, err := strconv.ParseFloat(state, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
