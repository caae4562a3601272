// Package engine loads energy statistics from Home Assistant and turns them
// into flow card states.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wattflow/wattflow/pkg/hass"
	"github.com/wattflow/wattflow/pkg/log"
	"github.com/wattflow/wattflow/pkg/stats"
	"github.com/wattflow/wattflow/pkg/types"
)

const (
	// EnergyDataTimeout is how long to wait for the energy collection.
	// Statistics have to arrive within twice this.
	EnergyDataTimeout = 10 * time.Second

	collectionPollInterval = 100 * time.Millisecond
)

var (
	// ErrNoEnergyData is returned when the energy collection or its
	// statistics don't arrive in time.
	ErrNoEnergyData = errors.New("no energy data received")

	// ErrNotLoaded is returned by States before the first refresh finished.
	ErrNotLoaded = errors.New("energy statistics not loaded yet")

	errCollectionNotReady = errors.New("energy collection not ready")
)

// SnapshotStore persists the latest snapshot of a card.
type SnapshotStore interface {
	PutSnapshot(ctx context.Context, cardID string, s types.States) error
}

// Engine refreshes statistics whenever the collection asks for it and builds
// states from the latest statistics on demand.
type Engine struct {
	cfg     types.Config
	source  hass.Source
	clock   Clock
	timeout time.Duration

	cardID string
	store  SnapshotStore

	// refreshMu serializes refreshes
	refreshMu sync.Mutex

	mu    sync.RWMutex
	modes map[string]types.SensorMode
	input *Input
	err   error
}

// New returns an Engine for the resolved cfg.
func New(cfg types.Config, source hass.Source) *Engine {
	return &Engine{
		cfg:     cfg,
		source:  source,
		clock:   RealClock(),
		timeout: EnergyDataTimeout,
	}
}

// SetClock replaces the clock. This is primarily used for testing.
func (e *Engine) SetClock(c Clock) {
	e.clock = c
}

// SetTimeout replaces EnergyDataTimeout.
func (e *Engine) SetTimeout(d time.Duration) {
	e.timeout = d
}

// SetSnapshotStore makes every successful refresh store the new snapshot
// under cardID.
func (e *Engine) SetSnapshotStore(cardID string, store SnapshotStore) {
	e.cardID = cardID
	e.store = store
}

// Config returns the config the engine was created with.
func (e *Engine) Config() types.Config {
	return e.cfg
}

// Run waits for the energy collection, classifies the sensors and then
// refreshes every time the collection emits a period, until ctx is
// cancelled. It fails with ErrNoEnergyData if the collection doesn't become
// available in time or no statistics were loaded within twice the timeout.
func (e *Engine) Run(ctx context.Context) error {
	watchdog := e.clock.After(2 * e.timeout)

	col, err := e.waitForCollection(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		e.setErr(err)
		return err
	}

	e.Classify(ctx)

	periods, err := col.Subscribe(ctx)
	if err != nil {
		err = fmt.Errorf("failed to subscribe to energy collection: %w", err)
		e.setErr(err)
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case p, ok := <-periods:
			if !ok {
				return nil
			}
			if err := e.Refresh(ctx, p); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to refresh statistics", slog.Any("error", err))
			}
		case <-watchdog:
			watchdog = nil
			if !e.loaded() {
				log.Ctx(ctx).ErrorContext(ctx, "no statistics loaded in time", slog.Duration("timeout", 2*e.timeout))
				e.setErr(ErrNoEnergyData)
				return ErrNoEnergyData
			}
		}
	}
}

// waitForCollection polls the source until the collection is available.
func (e *Engine) waitForCollection(ctx context.Context) (hass.Collection, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = collectionPollInterval
	b.MaxInterval = collectionPollInterval
	b.Multiplier = 1
	b.RandomizationFactor = 0
	b.MaxElapsedTime = e.timeout
	b.Clock = e.clock
	b.Reset()

	var col hass.Collection
	err := backoff.RetryNotifyWithTimer(
		func() error {
			c, ok := e.source.Collection()
			if !ok {
				return errCollectionNotReady
			}
			col = c
			return nil
		},
		backoff.WithContext(b, ctx),
		nil,
		backoffTimer(e.clock),
	)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		log.Ctx(ctx).ErrorContext(ctx, "energy collection not available", slog.Duration("timeout", e.timeout))
		return nil, ErrNoEnergyData
	}
	return col, nil
}

// Classify infers the mode of every configured sensor from yesterday's and
// today's daily statistics. Sensors default to totalising when the
// statistics can't be fetched. It only classifies once.
func (e *Engine) Classify(ctx context.Context) map[string]types.SensorMode {
	e.mu.RLock()
	modes := e.modes
	e.mu.RUnlock()
	if modes != nil {
		return modes
	}

	ids := append(e.cfg.PrimaryEntityIDs(), e.cfg.SecondaryEntityIDs()...)
	start := startOfDay(e.clock.Now(), e.cfg.Location()).AddDate(0, 0, -1)
	statistics, err := e.source.FetchStatistics(ctx, start, nil, ids, types.GranularityDay)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to fetch statistics to classify sensors", slog.Any("error", err))
		statistics = nil
	}
	modes = stats.ClassifyAll(ctx, ids, statistics)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.modes == nil {
		e.modes = modes
	}
	return e.modes
}

// Modes returns a copy of the classified sensor modes.
func (e *Engine) Modes() map[string]types.SensorMode {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]types.SensorMode, len(e.modes))
	for k, v := range e.modes {
		out[k] = v
	}
	return out
}

// resolvePeriod turns the period emitted by the collection into the period
// to load. openEnded reports that the period runs up to now rather than to a
// fixed end.
func (e *Engine) resolvePeriod(p types.Period, now time.Time) (period types.Period, openEnded bool) {
	loc := e.cfg.Location()
	today := types.Period{Start: startOfDay(now, loc), End: now}
	if e.cfg.DisplayMode == types.DisplayModeToday {
		return today, true
	}
	if p.Start.IsZero() {
		p = types.Period{Start: e.cfg.PeriodStart, End: e.cfg.PeriodEnd}
	}
	if p.Start.IsZero() {
		return today, true
	}
	if p.End.IsZero() {
		p.End = now
		return p, true
	}
	return p, false
}

// Refresh loads and validates the statistics for p. On failure the
// previously loaded statistics are kept.
func (e *Engine) Refresh(ctx context.Context, p types.Period) error {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	ctx = log.WithAttrs(ctx, slog.String("refreshID", uuid.NewString()))
	modes := e.Classify(ctx)

	now := e.clock.Now()
	period, openEnded := e.resolvePeriod(p, now)
	g := ChooseGranularity(period.Start, period.End, e.cfg.UseHourlyStats)
	prevStart := period.Start.Add(-time.Hour)
	end := period.End

	primaryIDs := e.cfg.PrimaryEntityIDs()
	secondaryIDs := e.cfg.SecondaryEntityIDs()

	var (
		primary, prevPrimary     types.Statistics
		secondary, prevSecondary types.Statistics
		co2                      map[string]float64
	)
	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		prevPrimary, err = e.source.FetchStatistics(egCtx, prevStart, &period.Start, primaryIDs, types.GranularityHour)
		return err
	})
	eg.Go(func() error {
		var err error
		primary, err = e.source.FetchStatistics(egCtx, period.Start, &end, primaryIDs, g)
		return err
	})
	if len(secondaryIDs) > 0 {
		eg.Go(func() error {
			var err error
			prevSecondary, err = e.source.FetchStatistics(egCtx, prevStart, &period.Start, secondaryIDs, types.GranularityHour)
			return err
		})
		eg.Go(func() error {
			var err error
			secondary, err = e.source.FetchStatistics(egCtx, period.Start, &end, secondaryIDs, types.GranularityDay)
			return err
		})
	}
	if e.cfg.LowCarbon.Present() {
		eg.Go(func() error {
			var err error
			co2, err = e.source.FetchCo2(egCtx, period.Start, &end, e.cfg.Grid.ImportEntities, e.cfg.LowCarbon.FirstImportEntity(), g)
			return err
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("failed to load statistics: %w", err)
	}

	loc := e.cfg.Location()
	in := &Input{
		Period:    period,
		OpenEnded: openEnded,
		Primary:   stats.ValidateAll(primaryIDs, primary, prevPrimary, modes, period.Start, loc),
		Secondary: stats.ValidateAll(secondaryIDs, secondary, prevSecondary, modes, period.Start, loc),
		Co2:       co2,
	}

	e.mu.Lock()
	e.input = in
	e.err = nil
	e.mu.Unlock()

	log.Ctx(ctx).InfoContext(
		ctx,
		"loaded statistics",
		slog.Time("start", period.Start),
		slog.Time("end", period.End),
		slog.String("granularity", string(g)),
		slog.Int("primary", len(primaryIDs)),
		slog.Int("secondary", len(secondaryIDs)),
	)

	if e.store != nil {
		states := BuildStates(e.cfg, *in, e.source, now)
		if err := e.store.PutSnapshot(ctx, e.cardID, states); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to store snapshot", slog.Any("error", err))
		}
	}
	return nil
}

// States builds a new snapshot from the latest statistics and live states.
// It returns the error that stopped Run, or ErrNotLoaded if nothing has been
// loaded yet.
func (e *Engine) States() (types.States, error) {
	e.mu.RLock()
	in, err := e.input, e.err
	e.mu.RUnlock()
	if err != nil {
		return types.States{}, err
	}
	if in == nil {
		return types.States{}, ErrNotLoaded
	}
	return BuildStates(e.cfg, *in, e.source, e.clock.Now()), nil
}

func (e *Engine) loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.input != nil
}

func (e *Engine) setErr(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}
