package engine

import (
	"errors"
	"math"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// RuleDraft carries the fields of a rule to be created. Pointers distinguish "absent" from zero.
type RuleDraft struct {
	Name        string `json:"name" yaml:"name" validate:"required"`
	Description string `json:"description" yaml:"description"`

	IsComposite     bool     `json:"is_composite" yaml:"is_composite"`
	PrimaryMetric   Metric   `json:"primary_metric" yaml:"primary_metric" validate:"required,metric"`
	PrimaryOperator Operator `json:"primary_operator" yaml:"primary_operator" validate:"required,operator"`
	PrimaryValue    *float64 `json:"primary_value" yaml:"primary_value" validate:"required,finite"`

	SecondaryMetric   Metric       `json:"secondary_metric" yaml:"secondary_metric" validate:"required_if=IsComposite true,omitempty,metric"`
	SecondaryOperator Operator     `json:"secondary_operator" yaml:"secondary_operator" validate:"required_if=IsComposite true,omitempty,operator"`
	SecondaryValue    *float64     `json:"secondary_value" yaml:"secondary_value" validate:"required_if=IsComposite true,omitempty,finite"`
	JoinOperator      JoinOperator `json:"join_operator" yaml:"join_operator" validate:"omitempty,oneof=AND OR"`

	ActionType  ActionType `json:"action_type" yaml:"action_type" validate:"required,action"`
	ActionValue *float64   `json:"action_value" yaml:"action_value" validate:"required_if=ActionType custom_budget_multiplier,omitempty,finite,gt=0"`

	IsActive               *bool         `json:"is_active" yaml:"is_active"`
	ExecutionMode          ExecutionMode `json:"execution_mode" yaml:"execution_mode" validate:"omitempty,oneof=manual automatic"`
	ExecutionIntervalHours *int          `json:"execution_interval_hours" yaml:"execution_interval_hours" validate:"required_if=ExecutionMode automatic,omitempty,gt=0"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func ruleValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return f.Name
			}
			return name
		})
		_ = validate.RegisterValidation("metric", func(fl validator.FieldLevel) bool {
			return Metric(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("operator", func(fl validator.FieldLevel) bool {
			return Operator(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("action", func(fl validator.FieldLevel) bool {
			return ActionType(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("finite", func(fl validator.FieldLevel) bool {
			if fl.Field().Kind() != reflect.Float64 {
				return true
			}
			v := fl.Field().Float()
			return !math.IsNaN(v) && !math.IsInf(v, 0)
		})
	})
	return validate
}

// Validate checks the draft and returns a *ValidationError describing every rejected field.
// A name of only whitespace counts as missing.
func (d RuleDraft) Validate() error {
	d.Name = strings.TrimSpace(d.Name)
	return structErrors(ruleValidator().Struct(d))
}

func structErrors(err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.add(fe.Field(), reason(fe))
	}
	return out
}

// Validate checks that the credential fields an account needs are present.
func (a Account) Validate() error {
	return structErrors(ruleValidator().Struct(a))
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return "is required when " + fe.Param()
	case "gt":
		return "must be greater than " + fe.Param()
	case "excludes":
		return "must not contain " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	case "metric":
		return "unknown metric"
	case "operator":
		return "unknown operator"
	case "action":
		return "unknown action type"
	case "finite":
		return "must be a finite number"
	}
	return "failed " + fe.Tag()
}

// Rule validates the draft and converts it into a normalized rule: fields that do not apply to the
// chosen composite flag, action and execution mode are dropped.
func (d RuleDraft) Rule() (Rule, error) {
	if err := d.Validate(); err != nil {
		return Rule{}, err
	}
	r := Rule{
		Name:        strings.TrimSpace(d.Name),
		Description: d.Description,
		Composite:   d.IsComposite,
		Primary:     Condition{Metric: d.PrimaryMetric, Operator: d.PrimaryOperator, Value: *d.PrimaryValue},
		Join:        d.JoinOperator,
		Action:      d.ActionType,
		IsActive:    true,
		Mode:        d.ExecutionMode,
	}
	if r.Join == "" {
		r.Join = JoinAnd
	}
	if r.Mode == "" {
		r.Mode = ModeManual
	}
	if d.IsActive != nil {
		r.IsActive = *d.IsActive
	}
	if d.IsComposite {
		r.Secondary = &Condition{Metric: d.SecondaryMetric, Operator: d.SecondaryOperator, Value: *d.SecondaryValue}
	}
	if d.ActionType == ActionCustomBudgetMultiplier {
		v := *d.ActionValue
		r.ActionValue = &v
	}
	if r.Mode == ModeAutomatic {
		h := *d.ExecutionIntervalHours
		r.IntervalHours = &h
	}
	return r, nil
}
