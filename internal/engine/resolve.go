package engine

import (
	"fmt"
	"math"
)

// MinBudget is the floor, in minor currency units, applied to every resulting budget.
const MinBudget int64 = 100

// Resolution is the outcome of translating an action into a campaign mutation.
// A nil Mutation with OK set is a no-op success (e.g. pausing an already paused campaign).
type Resolution struct {
	Mutation  *Mutation `json:"mutation,omitempty"`
	NewBudget *int64    `json:"new_budget,omitempty"`
	Message   string    `json:"message"`
	OK        bool      `json:"ok"`
}

// Resolve computes the mutation for an action against the campaign's current budgets and status.
// It is shared by simulation (mutation discarded) and execution (mutation applied).
func Resolve(action ActionType, actionValue *float64, dailyBudget, lifetimeBudget int64, status string) Resolution {
	switch action {
	case ActionDuplicateBudget:
		return scaleBudget(dailyBudget, lifetimeBudget, "doubled", times(2))
	case ActionTripleBudget:
		return scaleBudget(dailyBudget, lifetimeBudget, "tripled", times(3))
	case ActionHalveBudget:
		return scaleBudget(dailyBudget, lifetimeBudget, "halved", func(b int64) (int64, bool) { return b / 2, true })
	case ActionCustomBudgetMultiplier:
		if actionValue == nil || !(*actionValue > 0) || math.IsInf(*actionValue, 1) {
			return Resolution{Message: fmt.Sprintf("invalid budget multiplier %s on rule", formatOptional(actionValue))}
		}
		m := *actionValue
		return scaleBudget(dailyBudget, lifetimeBudget, fmt.Sprintf("multiplied by %.2f", m), func(b int64) (int64, bool) {
			return multiply(b, m)
		})
	case ActionPauseCampaign:
		if status != StatusActive {
			return Resolution{OK: true, Message: fmt.Sprintf("campaign already had status %q, nothing to do", status)}
		}
		s := StatusPaused
		return Resolution{OK: true, Mutation: &Mutation{Status: &s}, Message: "campaign paused"}
	case ActionActivateCampaign:
		if status != StatusPaused {
			return Resolution{OK: true, Message: fmt.Sprintf("campaign already had status %q, nothing to do", status)}
		}
		s := StatusActive
		return Resolution{OK: true, Mutation: &Mutation{Status: &s}, Message: "campaign activated"}
	}
	return Resolution{Message: fmt.Sprintf("unknown action type %q", action)}
}

// ResolveFor is Resolve applied to a rule and a campaign snapshot.
func ResolveFor(r Rule, c Campaign) Resolution {
	return Resolve(r.Action, r.ActionValue, c.DailyBudget, c.LifetimeBudget, c.Status)
}

func times(k int64) func(int64) (int64, bool) {
	return func(b int64) (int64, bool) {
		if b > math.MaxInt64/k {
			return 0, false
		}
		return b * k, true
	}
}

// multiply scales a budget by m, truncating toward zero. ok is false when the product does
// not fit in an int64.
func multiply(b int64, m float64) (int64, bool) {
	v := float64(b) * m
	if math.IsNaN(v) || v >= math.MaxInt64 || v < 0 {
		return 0, false
	}
	return int64(v), true
}

func scaleBudget(daily, lifetime int64, verb string, scale func(int64) (int64, bool)) Resolution {
	var (
		kind    string
		current int64
	)
	switch {
	case daily > 0:
		kind, current = "daily", daily
	case lifetime > 0:
		kind, current = "lifetime", lifetime
	default:
		return Resolution{Message: "no budget found"}
	}

	scaled, ok := scale(current)
	if !ok {
		return Resolution{Message: fmt.Sprintf("new %s budget out of range", kind)}
	}
	next := max(MinBudget, scaled)
	mut := &Mutation{}
	if kind == "daily" {
		mut.DailyBudget = &next
	} else {
		mut.LifetimeBudget = &next
	}
	return Resolution{
		OK:        true,
		Mutation:  mut,
		NewBudget: &next,
		Message:   fmt.Sprintf("%s budget %s to %s", kind, verb, FormatMinor(next)),
	}
}

// FormatMinor renders minor currency units with two decimals.
func FormatMinor(v int64) string {
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func formatOptional(v *float64) string {
	if v == nil {
		return "<unset>"
	}
	return fmt.Sprintf("%g", *v)
}
