package timerange

import (
	"errors"
	"fmt"
	"time"

	"github.com/pulseboard/pulseboard/internal/core"
)

var ErrUnknownRange = errors.New("unknown range")

const (
	RangeLastWeek    = "lastWeek"
	RangeLastMonth   = "lastMonth"
	RangeLastQuarter = "lastQuarter"
)

// Resolver maps named rolling ranges to concrete boundaries, anchored to the
// business timezone regardless of where the process runs.
type Resolver struct {
	loc *time.Location
	now func() time.Time
}

func NewResolver(loc *time.Location) *Resolver {
	return &Resolver{loc: loc, now: time.Now}
}

// NewResolverAt pins "now" for deterministic resolution in tests.
func NewResolverAt(loc *time.Location, now func() time.Time) *Resolver {
	return &Resolver{loc: loc, now: now}
}

// Names returns the supported range names in display order.
func Names() []string {
	return []string{RangeLastWeek, RangeLastMonth, RangeLastQuarter}
}

// Location returns the business timezone the resolver is anchored to.
func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Resolve computes the closed [start, end] interval for name. Boundaries are
// business-timezone wall-clock instants; resolving twice within the same
// business calendar day yields identical specs.
func (r *Resolver) Resolve(name string) (core.RangeSpec, error) {
	now := r.now().In(r.loc)
	y, m, d := now.Date()

	var start, end time.Time
	switch name {
	case RangeLastWeek:
		// Most recently completed Sunday-Saturday week. Today never counts,
		// so on a Saturday the week ending today is still "in progress".
		daysSinceSaturday := int(now.Weekday()) + 1
		end = time.Date(y, m, d-daysSinceSaturday, 23, 59, 59, 0, r.loc)
		start = time.Date(end.Year(), end.Month(), end.Day()-6, 0, 0, 0, 0, r.loc)
	case RangeLastMonth:
		start = time.Date(y, m-1, 1, 0, 0, 0, 0, r.loc)
		end = time.Date(y, m, 0, 23, 59, 59, 0, r.loc)
	case RangeLastQuarter:
		// time.Date normalizes out-of-range months, which rolls the year
		// back when the previous quarter is Q4.
		quarterStartMonth := ((int(m)-1)/3)*3 + 1
		start = time.Date(y, time.Month(quarterStartMonth-3), 1, 0, 0, 0, 0, r.loc)
		end = time.Date(y, time.Month(quarterStartMonth), 0, 23, 59, 59, 0, r.loc)
	default:
		return core.RangeSpec{}, fmt.Errorf("%w: %q", ErrUnknownRange, name)
	}

	return core.RangeSpec{
		Name:  name,
		Label: label(start, end),
		Start: start.Unix(),
		End:   end.Unix(),
	}, nil
}

func label(start, end time.Time) string {
	if start.Year() == end.Year() {
		return fmt.Sprintf("%s - %s, %d", start.Format("Jan 2"), end.Format("Jan 2"), end.Year())
	}
	return fmt.Sprintf("%s - %s", start.Format("Jan 2, 2006"), end.Format("Jan 2, 2006"))
}
