package engine

import (
	"math"
	"time"
)

// Metric names a campaign performance figure a condition can compare.
type Metric string

const (
	MetricCPA       Metric = "cpa"
	MetricPurchases Metric = "purchases"
	MetricROAS      Metric = "roas"
	MetricSpend     Metric = "spend"
	MetricClicks    Metric = "clicks"
	MetricCTR       Metric = "ctr"
	MetricCPC       Metric = "cpc"
)

var metrics = []Metric{MetricCPA, MetricPurchases, MetricROAS, MetricSpend, MetricClicks, MetricCTR, MetricCPC}

func (m Metric) Valid() bool {
	for _, v := range metrics {
		if v == m {
			return true
		}
	}
	return false
}

// Fractional reports whether the metric is rendered with decimals.
func (m Metric) Fractional() bool {
	switch m {
	case MetricCPA, MetricROAS, MetricCPC, MetricCTR, MetricSpend:
		return true
	}
	return false
}

type Operator string

const (
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpEqual        Operator = "=="
)

func (o Operator) Valid() bool {
	switch o {
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpEqual:
		return true
	}
	return false
}

type JoinOperator string

const (
	JoinAnd JoinOperator = "AND"
	JoinOr  JoinOperator = "OR"
)

type ActionType string

const (
	ActionDuplicateBudget        ActionType = "duplicate_budget"
	ActionTripleBudget           ActionType = "triple_budget"
	ActionHalveBudget            ActionType = "halve_budget"
	ActionCustomBudgetMultiplier ActionType = "custom_budget_multiplier"
	ActionPauseCampaign          ActionType = "pause_campaign"
	ActionActivateCampaign       ActionType = "activate_campaign"
)

func (a ActionType) Valid() bool {
	switch a {
	case ActionDuplicateBudget, ActionTripleBudget, ActionHalveBudget,
		ActionCustomBudgetMultiplier, ActionPauseCampaign, ActionActivateCampaign:
		return true
	}
	return false
}

type ExecutionMode string

const (
	ModeManual    ExecutionMode = "manual"
	ModeAutomatic ExecutionMode = "automatic"
)

// Condition is a single "metric <op> value" comparison.
type Condition struct {
	Metric   Metric   `json:"metric" yaml:"metric"`
	Operator Operator `json:"operator" yaml:"operator"`
	Value    float64  `json:"value" yaml:"value"`
}

// Valid reports whether the condition can be evaluated at all.
func (c Condition) Valid() bool {
	return c.Metric.Valid() && c.Operator.Valid() && !math.IsNaN(c.Value) && !math.IsInf(c.Value, 0)
}

// Rule is a persisted decision policy over campaign metrics.
//
// Secondary is only meaningful when Composite is set; a composite rule whose
// Secondary is nil is treated as having a missing secondary condition.
type Rule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Composite bool         `json:"is_composite"`
	Primary   Condition    `json:"primary"`
	Secondary *Condition   `json:"secondary,omitempty"`
	Join      JoinOperator `json:"join_operator"`

	Action      ActionType `json:"action_type"`
	ActionValue *float64   `json:"action_value,omitempty"`

	IsActive           bool          `json:"is_active"`
	Mode               ExecutionMode `json:"execution_mode"`
	IntervalHours      *int          `json:"execution_interval_hours,omitempty"`
	LastAutomaticRunAt *time.Time    `json:"last_automatic_run_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Metrics is the fixed-shape performance bundle of a campaign. Absent values are zero.
type Metrics struct {
	CPA           float64 `json:"cpa"`
	Purchases     float64 `json:"purchases"`
	ROAS          float64 `json:"roas"`
	PurchaseValue float64 `json:"purchase_value"`
	Spend         float64 `json:"spend"`
	Clicks        float64 `json:"clicks"`
	Impressions   float64 `json:"impressions"`
	CTR           float64 `json:"ctr"`
	CPC           float64 `json:"cpc"`
}

// Value returns the figure a rule metric refers to.
func (m Metrics) Value(metric Metric) (float64, bool) {
	switch metric {
	case MetricCPA:
		return m.CPA, true
	case MetricPurchases:
		return m.Purchases, true
	case MetricROAS:
		return m.ROAS, true
	case MetricSpend:
		return m.Spend, true
	case MetricClicks:
		return m.Clicks, true
	case MetricCTR:
		return m.CTR, true
	case MetricCPC:
		return m.CPC, true
	}
	return 0, false
}

// Campaign statuses as reported by the ads platform.
const (
	StatusActive   = "ACTIVE"
	StatusPaused   = "PAUSED"
	StatusArchived = "ARCHIVED"
	StatusDeleted  = "DELETED"
)

// Campaign is an ephemeral snapshot of a live campaign. Budgets are in minor currency units.
type Campaign struct {
	ID              string  `json:"id"`
	Name            string  `json:"name"`
	Status          string  `json:"status"`
	EffectiveStatus string  `json:"effective_status"`
	DailyBudget     int64   `json:"daily_budget"`
	LifetimeBudget  int64   `json:"lifetime_budget"`
	Metrics         Metrics `json:"insights"`
}

// CurrentBudget is the positive budget of the campaign, daily preferred.
func (c Campaign) CurrentBudget() int64 {
	if c.DailyBudget > 0 {
		return c.DailyBudget
	}
	return c.LifetimeBudget
}

// Eligible reports whether automatic rules may touch the campaign.
func (c Campaign) Eligible() bool {
	return c.EffectiveStatus != StatusArchived && c.EffectiveStatus != StatusDeleted
}

// Insight is one campaign's row from the metrics provider.
type Insight struct {
	CampaignID string `json:"campaign_id"`
	Metrics
}

// MergeInsights attaches insights to their campaigns. Campaigns without a row keep zero metrics.
func MergeInsights(campaigns []Campaign, insights []Insight) []Campaign {
	byID := make(map[string]Metrics, len(insights))
	for _, in := range insights {
		if in.CampaignID != "" {
			byID[in.CampaignID] = in.Metrics
		}
	}
	out := make([]Campaign, len(campaigns))
	for i, c := range campaigns {
		c.Metrics = byID[c.ID]
		out[i] = c
	}
	return out
}

// Window is the trailing period insights are aggregated over.
type Window string

const (
	WindowYesterday Window = "yesterday"
	WindowLast7d    Window = "last_7d"
	WindowLast30d   Window = "last_30d"
)

func ParseWindow(s string) Window {
	switch Window(s) {
	case WindowYesterday, WindowLast30d:
		return Window(s)
	}
	return WindowLast7d
}

// Mutation is a concrete change to apply to one campaign. Exactly one field is set.
type Mutation struct {
	DailyBudget    *int64  `json:"daily_budget,omitempty"`
	LifetimeBudget *int64  `json:"lifetime_budget,omitempty"`
	Status         *string `json:"status,omitempty"`
}

// AdObjectCampaign is the only ad object type rules act on.
const AdObjectCampaign = "campaign"

// Execution is one attempted action, manual or automatic.
type Execution struct {
	ID            string    `json:"id"`
	RuleID        string    `json:"rule_id"`
	RuleName      string    `json:"rule_name,omitempty"`
	AdObjectID    string    `json:"ad_object_id"`
	AdObjectType  string    `json:"ad_object_type"`
	AdObjectName  string    `json:"ad_object_name"`
	ExecutedAt    time.Time `json:"executed_at"`
	WasSuccessful bool      `json:"was_successful"`
	Message       string    `json:"message"`
}

// Account is one ads platform credential set.
type Account struct {
	ID             string     `json:"id"`
	Name           string     `json:"name" validate:"required"`
	AppID          string     `json:"app_id" validate:"required"`
	AppSecret      string     `json:"app_secret,omitempty" validate:"required"`
	AccessToken    string     `json:"access_token,omitempty" validate:"required"`
	AccountID      string     `json:"account_id" validate:"required,excludes=/"`
	BusinessID     string     `json:"business_id,omitempty"`
	PageID         string     `json:"page_id,omitempty"`
	IsActive       bool       `json:"is_active"`
	TokenExpiresAt *time.Time `json:"token_expires_at,omitempty"`
	UpdatedAt      time.Time  `json:"last_updated"`
}

// TokenExpired reports whether the token expiry date lies before the calendar day of now (UTC).
func (a Account) TokenExpired(now time.Time) bool {
	if a.TokenExpiresAt == nil {
		return false
	}
	today := truncateDay(now.UTC())
	return truncateDay(a.TokenExpiresAt.UTC()).Before(today)
}

// Redacted drops the secrets so the account can be shown to a user.
func (a Account) Redacted() Account {
	a.AppSecret = ""
	a.AccessToken = ""
	return a
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
