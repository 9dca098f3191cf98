package aggregation

import (
	"fmt"
	"time"
)

// Granularity is the bucket size of a trend series
type Granularity string

const (
	GranularityDay     Granularity = "day"
	GranularityHalfDay Granularity = "half_day"
	GranularityHour    Granularity = "hour"
)

// ParseGranularity validates a granularity name. Empty means day.
func ParseGranularity(s string) (Granularity, error) {
	switch g := Granularity(s); g {
	case "":
		return GranularityDay, nil
	case GranularityDay, GranularityHalfDay, GranularityHour:
		return g, nil
	}
	return "", fmt.Errorf("%w: granularity %q (want day, half_day or hour)", ErrInvalidQuery, s)
}

// BucketStart returns the start of the bucket containing t, in loc.
func (g Granularity) BucketStart(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	y, m, d := t.Date()
	switch g {
	case GranularityHour:
		return time.Date(y, m, d, t.Hour(), 0, 0, 0, loc)
	case GranularityHalfDay:
		h := 0
		if t.Hour() >= 12 {
			h = 12
		}
		return time.Date(y, m, d, h, 0, 0, 0, loc)
	default:
		return time.Date(y, m, d, 0, 0, 0, 0, loc)
	}
}

// Next returns the start of the bucket after the one starting at start.
func (g Granularity) Next(start time.Time) time.Time {
	switch g {
	case GranularityHour:
		return start.Add(time.Hour)
	case GranularityHalfDay:
		y, m, d := start.Date()
		if start.Hour() < 12 {
			return time.Date(y, m, d, 12, 0, 0, 0, start.Location())
		}
		return time.Date(y, m, d+1, 0, 0, 0, 0, start.Location())
	default:
		y, m, d := start.Date()
		return time.Date(y, m, d+1, 0, 0, 0, 0, start.Location())
	}
}
