package engine

import (
	"time"

	"github.com/wattflow/wattflow/pkg/types"
)

// ChooseGranularity picks the statistics bucket size for a period. Whole
// months spanning more than 35 days use monthly buckets, anything longer
// than 2 days daily buckets, and everything else hourly buckets.
func ChooseGranularity(start, end time.Time, forceHourly bool) types.Granularity {
	if forceHourly {
		return types.GranularityHour
	}
	days := wholeDays(start, end)
	switch {
	case isFirstDayOfMonth(start) && isLastDayOfMonth(end) && days > 35:
		return types.GranularityMonth
	case days > 2:
		return types.GranularityDay
	default:
		return types.GranularityHour
	}
}

// wholeDays returns the number of full days between start and end using
// calendar days in end's location, so DST changes don't lose a day.
func wholeDays(start, end time.Time) int {
	start = start.In(end.Location())
	days := 0
	for d := start.AddDate(0, 0, 1); !d.After(end); d = d.AddDate(0, 0, 1) {
		days++
	}
	return days
}

func isFirstDayOfMonth(t time.Time) bool {
	return t.Day() == 1
}

func isLastDayOfMonth(t time.Time) bool {
	return t.AddDate(0, 0, 1).Day() == 1
}
