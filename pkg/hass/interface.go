// Package hass talks to Home Assistant: long-term statistics, CO2 data and
// live entity states.
package hass

import (
	"context"
	"errors"
	"time"

	"github.com/wattflow/wattflow/pkg/types"
)

var (
	// ErrNotConnected is returned by requests made while there is no open
	// connection to Home Assistant.
	ErrNotConnected = errors.New("not connected to home assistant")

	// ErrAuth is returned when Home Assistant rejects the access token.
	ErrAuth = errors.New("home assistant authentication failed")
)

// StatisticsFetcher fetches long-term statistics.
type StatisticsFetcher interface {
	// FetchStatistics returns the statistics of ids bucketed by g starting at
	// start. A nil end fetches up to now.
	FetchStatistics(ctx context.Context, start time.Time, end *time.Time, ids []string, g types.Granularity) (types.Statistics, error)
}

// Co2Fetcher fetches the fossil fuel share of grid consumption.
type Co2Fetcher interface {
	// FetchCo2 returns the high carbon energy in kWh keyed by bucket start.
	FetchCo2(ctx context.Context, start time.Time, end *time.Time, gridIDs []string, co2ID string, g types.Granularity) (map[string]float64, error)
}

// EntityRegistry looks up live entity states.
type EntityRegistry interface {
	Entity(id string) (types.EntityState, bool)
}

// CollectionProvider returns the energy collection once it's available.
type CollectionProvider interface {
	Collection() (Collection, bool)
}

// Collection emits the period to refresh every time new data should be
// loaded. A zero Start means today.
type Collection interface {
	Subscribe(ctx context.Context) (<-chan types.Period, error)
}

// Source is everything needed from Home Assistant to build states.
type Source interface {
	StatisticsFetcher
	Co2Fetcher
	EntityRegistry
	CollectionProvider
}
