package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDraft() RuleDraft {
	return RuleDraft{
		Name:            "Pause expensive",
		PrimaryMetric:   MetricCPA,
		PrimaryOperator: OpLessEqual,
		PrimaryValue:    f(5),
		ActionType:      ActionPauseCampaign,
	}
}

func fieldsOf(t *testing.T, err error) []string {
	t.Helper()
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
	out := make([]string, 0, len(verr.Fields))
	for _, fe := range verr.Fields {
		out = append(out, fe.Field)
	}
	return out
}

func TestRuleDraft_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(d *RuleDraft)
		fields []string
	}{
		{"valid", func(d *RuleDraft) {}, nil},
		{"missing name", func(d *RuleDraft) { d.Name = "" }, []string{"name"}},
		{"blank name", func(d *RuleDraft) { d.Name = " \t  " }, []string{"name"}},
		{"missing primary metric", func(d *RuleDraft) { d.PrimaryMetric = "" }, []string{"primary_metric"}},
		{"unknown primary metric", func(d *RuleDraft) { d.PrimaryMetric = "likes" }, []string{"primary_metric"}},
		{"missing operator", func(d *RuleDraft) { d.PrimaryOperator = "" }, []string{"primary_operator"}},
		{"missing value", func(d *RuleDraft) { d.PrimaryValue = nil }, []string{"primary_value"}},
		{"unknown action", func(d *RuleDraft) { d.ActionType = "boost" }, []string{"action_type"}},
		{"automatic without interval", func(d *RuleDraft) { d.ExecutionMode = ModeAutomatic }, []string{"execution_interval_hours"}},
		{"automatic with zero interval", func(d *RuleDraft) {
			d.ExecutionMode = ModeAutomatic
			d.ExecutionIntervalHours = i(0)
		}, []string{"execution_interval_hours"}},
		{"custom without value", func(d *RuleDraft) { d.ActionType = ActionCustomBudgetMultiplier }, []string{"action_value"}},
		{"custom with zero value", func(d *RuleDraft) {
			d.ActionType = ActionCustomBudgetMultiplier
			d.ActionValue = f(0)
		}, []string{"action_value"}},
		{"infinite threshold", func(d *RuleDraft) { d.PrimaryValue = f(math.Inf(1)) }, []string{"primary_value"}},
		{"NaN threshold", func(d *RuleDraft) { d.PrimaryValue = f(math.NaN()) }, []string{"primary_value"}},
		{"infinite multiplier", func(d *RuleDraft) {
			d.ActionType = ActionCustomBudgetMultiplier
			d.ActionValue = f(math.Inf(1))
		}, []string{"action_value"}},
		{"NaN secondary", func(d *RuleDraft) {
			d.IsComposite = true
			d.SecondaryMetric = MetricSpend
			d.SecondaryOperator = OpGreater
			d.SecondaryValue = f(math.NaN())
		}, []string{"secondary_value"}},
		{"composite without secondary", func(d *RuleDraft) { d.IsComposite = true }, []string{"secondary_metric", "secondary_operator", "secondary_value"}},
		{"bad join", func(d *RuleDraft) { d.JoinOperator = "XOR" }, []string{"join_operator"}},
		{"bad mode", func(d *RuleDraft) { d.ExecutionMode = "cron" }, []string{"execution_mode"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDraft()
			tt.mutate(&d)
			err := d.Validate()
			if tt.fields == nil {
				assert.NoError(t, err)
				return
			}
			assert.ElementsMatch(t, tt.fields, fieldsOf(t, err))
		})
	}
}

func TestRuleDraft_ReasonForNonFinite(t *testing.T) {
	d := validDraft()
	d.PrimaryValue = f(math.Inf(-1))

	var verr *ValidationError
	require.True(t, errors.As(d.Validate(), &verr))
	require.Len(t, verr.Fields, 1)
	assert.Equal(t, "must be a finite number", verr.Fields[0].Reason)
}

func TestRuleDraft_RuleNormalizes(t *testing.T) {
	d := validDraft()
	d.SecondaryMetric = MetricSpend
	d.SecondaryOperator = OpGreater
	d.SecondaryValue = f(10)
	d.ActionValue = f(3)
	d.ExecutionIntervalHours = i(24)

	r, err := d.Rule()
	require.NoError(t, err)
	assert.False(t, r.Composite)
	assert.Nil(t, r.Secondary)
	assert.Nil(t, r.ActionValue)
	assert.Nil(t, r.IntervalHours)
	assert.Equal(t, ModeManual, r.Mode)
	assert.Equal(t, JoinAnd, r.Join)
	assert.True(t, r.IsActive)
}

func TestRuleDraft_RuleAutomaticComposite(t *testing.T) {
	d := validDraft()
	d.IsComposite = true
	d.SecondaryMetric = MetricPurchases
	d.SecondaryOperator = OpGreaterEqual
	d.SecondaryValue = f(2)
	d.JoinOperator = JoinOr
	d.ActionType = ActionCustomBudgetMultiplier
	d.ActionValue = f(1.2)
	d.ExecutionMode = ModeAutomatic
	d.ExecutionIntervalHours = i(12)
	inactive := false
	d.IsActive = &inactive

	r, err := d.Rule()
	require.NoError(t, err)
	require.NotNil(t, r.Secondary)
	assert.Equal(t, Condition{MetricPurchases, OpGreaterEqual, 2}, *r.Secondary)
	assert.Equal(t, JoinOr, r.Join)
	assert.Equal(t, 1.2, *r.ActionValue)
	assert.Equal(t, 12, *r.IntervalHours)
	assert.False(t, r.IsActive)
}
