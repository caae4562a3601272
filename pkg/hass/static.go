package hass

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wattflow/wattflow/pkg/types"
)

// Static is an in-memory Source. Statistics are stored hourly and rolled up
// when a coarser granularity is requested.
type Static struct {
	mu       sync.Mutex
	location *time.Location
	stats    types.Statistics
	co2      map[string]float64
	states   map[string]types.EntityState
	period   types.Period
	ready    bool
	fetchErr error
	subs     []chan types.Period
	fetches  int
}

// NewStatic returns an empty Static that reports it's ready. loc is used to
// find day and month boundaries.
func NewStatic(loc *time.Location) *Static {
	if loc == nil {
		loc = time.Local
	}
	return &Static{
		location: loc,
		stats:    make(types.Statistics),
		states:   make(map[string]types.EntityState),
		ready:    true,
	}
}

// SetStatistics replaces the hourly statistics of id.
func (s *Static) SetStatistics(id string, samples []types.StatisticSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats[id] = append([]types.StatisticSample(nil), samples...)
}

// SetEntity sets the live state of an entity.
func (s *Static) SetEntity(state types.EntityState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[state.EntityID] = state
}

// SetCo2 sets the data returned by FetchCo2.
func (s *Static) SetCo2(co2 map[string]float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.co2 = co2
}

// SetReady controls whether Collection returns the collection.
func (s *Static) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// SetFetchError makes every fetch fail with err.
func (s *Static) SetFetchError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetchErr = err
}

// Fetches returns how many fetches have been made.
func (s *Static) Fetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches
}

// FetchStatistics implements StatisticsFetcher.
func (s *Static) FetchStatistics(ctx context.Context, start time.Time, end *time.Time, ids []string, g types.Granularity) (types.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}

	out := make(types.Statistics, len(ids))
	for _, id := range ids {
		var samples []types.StatisticSample
		for _, sample := range s.stats[id] {
			if sample.Start.Before(start) || (end != nil && !sample.Start.Before(*end)) {
				continue
			}
			samples = append(samples, sample)
		}
		if len(samples) == 0 {
			continue
		}
		out[id] = rollup(samples, g, s.location)
	}
	return out, nil
}

// rollup sums the changes of hourly samples into buckets of g, keeping the
// last state of each bucket.
func rollup(samples []types.StatisticSample, g types.Granularity, loc *time.Location) []types.StatisticSample {
	if g == types.GranularityHour {
		return samples
	}
	var out []types.StatisticSample
	for _, sample := range samples {
		start := bucketStart(sample.Start, g, loc)
		if n := len(out); n > 0 && out[n-1].Start.Equal(start) {
			out[n-1].State = sample.State
			out[n-1].Change = types.Float(out[n-1].ChangeOrZero() + sample.ChangeOrZero())
			continue
		}
		out = append(out, types.StatisticSample{
			Start:     start,
			State:     sample.State,
			Change:    types.Float(sample.ChangeOrZero()),
			LastReset: sample.LastReset,
		})
	}
	return out
}

func bucketStart(t time.Time, g types.Granularity, loc *time.Location) time.Time {
	t = t.In(loc)
	switch g {
	case types.GranularityMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	default:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	}
}

// FetchCo2 implements Co2Fetcher. Entries outside [start, end) are dropped.
func (s *Static) FetchCo2(ctx context.Context, start time.Time, end *time.Time, gridIDs []string, co2ID string, g types.Granularity) (map[string]float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetches++
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	out := make(map[string]float64, len(s.co2))
	for k, v := range s.co2 {
		if ts, err := time.Parse(time.RFC3339, k); err == nil {
			if ts.Before(start) || (end != nil && !ts.Before(*end)) {
				continue
			}
		}
		out[k] = v
	}
	return out, nil
}

// Entity implements EntityRegistry.
func (s *Static) Entity(id string) (types.EntityState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.states[id]
	return e, ok
}

// EntityIDs returns the ids of every entity with a live state.
func (s *Static) EntityIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Collection implements CollectionProvider.
func (s *Static) Collection() (Collection, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready {
		return nil, false
	}
	return s, true
}

// Subscribe emits the current period once. Emit sends it again.
func (s *Static) Subscribe(ctx context.Context) (<-chan types.Period, error) {
	ch := make(chan types.Period, 1)
	s.mu.Lock()
	ch <- s.period
	s.subs = append(s.subs, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, sub := range s.subs {
			if sub == ch {
				s.subs = append(s.subs[:i], s.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// Emit sets the period and sends it to every subscriber. Subscribers that
// haven't read the previous period yet are skipped.
func (s *Static) Emit(p types.Period) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.period = p
	for _, ch := range s.subs {
		select {
		case ch <- p:
		default:
		}
	}
}
