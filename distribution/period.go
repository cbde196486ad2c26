// Package distribution assembles submitted exposure keys into signed daily
// and two-hourly export archives and maintains the distribution store.
package distribution

import (
	"fmt"
	"path"
	"strings"
	"time"
)

// Distribution store prefixes, fixed by the client protocol.
const (
	DailyPrefix     = "distribution/daily"
	TwoHourlyPrefix = "distribution/two-hourly"
)

const keyTimeLayout = "2006010215"

// Period is a half-open interval [Start, End) aligned to two-hour or 24-hour
// boundaries. Its storage key is derived from the end boundary.
type Period struct {
	Start time.Time
	End   time.Time
	Daily bool
}

// TwoHourlyEndingAt returns the two-hourly period with the given exclusive
// end boundary.
func TwoHourlyEndingAt(end time.Time) Period {
	end = end.UTC()
	return Period{Start: end.Add(-2 * time.Hour), End: end}
}

// DailyEndingAt returns the daily period with the given exclusive end
// boundary.
func DailyEndingAt(end time.Time) Period {
	end = end.UTC()
	return Period{Start: end.AddDate(0, 0, -1), End: end, Daily: true}
}

// ObjectKey returns the deterministic distribution store key for the period.
func (p Period) ObjectKey() string {
	prefix := TwoHourlyPrefix
	if p.Daily {
		prefix = DailyPrefix
	}
	return path.Join(prefix, p.End.UTC().Format(keyTimeLayout)+".zip")
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// TwoHourlyParts decomposes a daily period into its twelve constituent
// two-hourly periods, oldest first.
func (p Period) TwoHourlyParts() []Period {
	parts := make([]Period, 0, 12)
	for t := p.Start; t.Before(p.End); t = t.Add(2 * time.Hour) {
		parts = append(parts, Period{Start: t, End: t.Add(2 * time.Hour)})
	}
	return parts
}

// TrailingTwoHourly returns count two-hourly periods ending at boundary,
// oldest first.
func TrailingTwoHourly(boundary time.Time, count int) []Period {
	boundary = boundary.UTC()
	periods := make([]Period, count)
	for i := 0; i < count; i++ {
		periods[count-1-i] = TwoHourlyEndingAt(boundary.Add(-2 * time.Hour * time.Duration(i)))
	}
	return periods
}

// TrailingDaily returns count daily periods oldest first, the newest being
// the day containing boundary (its archive fills as the day progresses).
func TrailingDaily(boundary time.Time, count int) []Period {
	boundary = boundary.UTC()
	end := boundary.Truncate(24 * time.Hour)
	if end.Before(boundary) {
		end = end.Add(24 * time.Hour)
	}

	periods := make([]Period, count)
	for i := 0; i < count; i++ {
		periods[count-1-i] = DailyEndingAt(end.AddDate(0, 0, -i))
	}
	return periods
}

// ParseKeyEnd extracts the period end boundary encoded in a distribution
// store key. The garbage collector uses it to leave objects beyond the
// maintained horizon untouched.
func ParseKeyEnd(key string) (time.Time, error) {
	base := path.Base(key)
	stamp, ok := strings.CutSuffix(base, ".zip")
	if !ok {
		return time.Time{}, fmt.Errorf("not an archive key: %s", key)
	}
	t, err := time.Parse(keyTimeLayout, stamp)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid archive key timestamp %s: %w", key, err)
	}
	return t, nil
}
