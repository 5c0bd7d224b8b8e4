// Package release decides whether crediting tokens for a purchase has to wait
// for the location's business hours.
//
// Two location categories exist:
//   - morning (A): purchases in [03:00, 11:00) are released at 11:00 the next day
//   - overnight (B): purchases in [23:00, 24:00) ∪ [00:00, 10:00) are released
//     at 10:00, next day for the evening part and same day for the morning part
//
// All clock times are in the business's civil time zone. Locations that
// match neither category are never delayed.
package release

import (
	"time"

	"serotonyl.ru/token-shop/internal/common"
)

// Category classifies a location by its release rule.
type Category int

const (
	CategoryNone Category = iota
	CategoryMorning
	CategoryOvernight
)

func (c Category) String() string {
	switch c {
	case CategoryMorning:
		return "morning"
	case CategoryOvernight:
		return "overnight"
	default:
		return "none"
	}
}

// Release hours per category, local time.
const (
	MorningWindowStart   = 3
	MorningReleaseHour   = 11
	OvernightWindowStart = 23
	OvernightReleaseHour = 10
)

// Decision is the evaluator's answer for one purchase.
type Decision struct {
	ShouldDelay bool
	ReleaseAt   *time.Time // nil when ShouldDelay is false
	Category    Category
}

// Evaluator is a pure function of (location, timestamp). It holds only
// configuration and is safe for concurrent use.
type Evaluator struct {
	loc       *time.Location
	morning   []string
	overnight []string
}

// NewEvaluator creates an evaluator for the given business zone and
// per-category location match lists.
func NewEvaluator(loc *time.Location, morning, overnight []string) *Evaluator {
	if loc == nil {
		loc = time.UTC
	}
	return &Evaluator{
		loc:       loc,
		morning:   append([]string(nil), morning...),
		overnight: append([]string(nil), overnight...),
	}
}

// Location returns the business time zone.
func (e *Evaluator) Location() *time.Location {
	return e.loc
}

// Classify returns the category of a location name. Morning patterns are
// checked first.
func (e *Evaluator) Classify(location string) Category {
	switch {
	case common.LocationMatches(location, e.morning):
		return CategoryMorning
	case common.LocationMatches(location, e.overnight):
		return CategoryOvernight
	default:
		return CategoryNone
	}
}

// Evaluate decides whether a purchase completed at `at` for `location` must
// wait, and until when.
func (e *Evaluator) Evaluate(location string, at time.Time) Decision {
	category := e.Classify(location)
	local := at.In(e.loc)
	hour := local.Hour()

	switch category {
	case CategoryMorning:
		if hour >= MorningWindowStart && hour < MorningReleaseHour {
			return e.delayed(category, local, 1, MorningReleaseHour)
		}
	case CategoryOvernight:
		if hour >= OvernightWindowStart {
			return e.delayed(category, local, 1, OvernightReleaseHour)
		}
		if hour < OvernightReleaseHour {
			return e.delayed(category, local, 0, OvernightReleaseHour)
		}
	}
	return Decision{Category: category}
}

// delayed builds a release at `hour`:00 local time, `days` after local's date.
// time.Date normalizes month/year overflow and DST gaps.
func (e *Evaluator) delayed(category Category, local time.Time, days, hour int) Decision {
	releaseAt := time.Date(local.Year(), local.Month(), local.Day()+days, hour, 0, 0, 0, e.loc)
	return Decision{ShouldDelay: true, ReleaseAt: &releaseAt, Category: category}
}
