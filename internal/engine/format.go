package engine

import (
	"fmt"
	"strings"
)

var metricLabels = map[Metric]string{
	MetricCPA:       "CPA",
	MetricPurchases: "Purchases",
	MetricROAS:      "ROAS",
	MetricSpend:     "Spend",
	MetricClicks:    "Clicks",
	MetricCTR:       "CTR",
	MetricCPC:       "CPC",
}

var actionLabels = map[ActionType]string{
	ActionDuplicateBudget:        "double budget",
	ActionTripleBudget:           "triple budget",
	ActionHalveBudget:            "halve budget",
	ActionCustomBudgetMultiplier: "multiply budget by",
	ActionPauseCampaign:          "pause campaign",
	ActionActivateCampaign:       "activate campaign",
}

// Describe renders a rule as "IF <condition> [AND|OR <condition>], THEN <action>".
func Describe(r Rule) string {
	var b strings.Builder
	b.WriteString("IF ")
	b.WriteString(describeCondition(&r.Primary, "condition 1"))
	if r.Composite {
		join := r.Join
		if join == "" {
			join = JoinAnd
		}
		fmt.Fprintf(&b, " %s %s", join, describeCondition(r.Secondary, "condition 2"))
	}
	b.WriteString(", THEN ")
	b.WriteString(ActionText(r))
	return b.String()
}

// ActionText is the short label of the rule's action.
func ActionText(r Rule) string {
	label, ok := actionLabels[r.Action]
	if !ok {
		return fmt.Sprintf("unknown action (%s)", r.Action)
	}
	if r.Action == ActionCustomBudgetMultiplier {
		if r.ActionValue == nil {
			return label + " ?"
		}
		return fmt.Sprintf("%s %.2f", label, *r.ActionValue)
	}
	return label
}

func describeCondition(c *Condition, name string) string {
	if c == nil || !c.Valid() {
		return "[invalid " + name + "]"
	}
	value := fmt.Sprintf("%d", int64(c.Value))
	if c.Metric.Fractional() {
		value = fmt.Sprintf("%.2f", c.Value)
	}
	return fmt.Sprintf("%s %s %s", metricLabels[c.Metric], c.Operator, value)
}
