package engine

import (
	"math"
	"time"
)

// Evaluate reports whether the rule's condition holds for the campaign metrics.
//
// A primary condition that cannot be evaluated makes the rule not fire. For composite rules a
// missing or invalid secondary condition fails the rule under AND and is ignored under OR.
// The == operator compares floats exactly, with no tolerance.
func Evaluate(r Rule, m Metrics) bool {
	primary, ok := compare(r.Primary, m)
	if !ok {
		return false
	}
	if !r.Composite {
		return primary
	}

	var secondary, secondaryOK bool
	if r.Secondary != nil {
		secondary, secondaryOK = compare(*r.Secondary, m)
	}

	switch r.Join {
	case JoinAnd, "":
		return secondaryOK && primary && secondary
	case JoinOr:
		if !secondaryOK {
			return primary
		}
		return primary || secondary
	}
	return false
}

func compare(c Condition, m Metrics) (result, ok bool) {
	if !c.Valid() {
		return false, false
	}
	v, ok := m.Value(c.Metric)
	if !ok || math.IsNaN(v) {
		return false, false
	}
	switch c.Operator {
	case OpLess:
		return v < c.Value, true
	case OpLessEqual:
		return v <= c.Value, true
	case OpGreater:
		return v > c.Value, true
	case OpGreaterEqual:
		return v >= c.Value, true
	case OpEqual:
		return v == c.Value, true
	}
	return false, false
}

// IsDue reports whether an automatic rule's interval has elapsed since its last completed sweep.
// Timestamps are compared in UTC; storage reads naive timestamps as UTC. The boundary is inclusive.
func IsDue(mode ExecutionMode, intervalHours *int, lastRunAt *time.Time, now time.Time) bool {
	if mode != ModeAutomatic || intervalHours == nil || *intervalHours <= 0 {
		return false
	}
	if lastRunAt == nil || lastRunAt.IsZero() {
		return true
	}
	next := asUTC(*lastRunAt).Add(time.Duration(*intervalHours) * time.Hour)
	return !now.UTC().Before(next)
}

// Due is IsDue applied to a rule.
func (r Rule) Due(now time.Time) bool {
	return IsDue(r.Mode, r.IntervalHours, r.LastAutomaticRunAt, now)
}

// NextRunAt is the earliest instant the rule becomes due again, or nil when it never runs automatically.
func (r Rule) NextRunAt() *time.Time {
	if r.Mode != ModeAutomatic || r.IntervalHours == nil || *r.IntervalHours <= 0 {
		return nil
	}
	if r.LastAutomaticRunAt == nil {
		return nil
	}
	next := asUTC(*r.LastAutomaticRunAt).Add(time.Duration(*r.IntervalHours) * time.Hour)
	return &next
}

func asUTC(t time.Time) time.Time { return t.UTC() }
