package orchestrator

import (
	"context"
	"fmt"

	"github.com/vndarlan/chegou-autoads/internal/engine"
)

// Match is one rule that would fire on one campaign. Nothing is sent to the platform.
type Match struct {
	RuleID       string `json:"rule_id"`
	RuleName     string `json:"rule_name"`
	CampaignID   string `json:"campaign_id"`
	CampaignName string `json:"campaign_name"`
	Action       string `json:"action"`
	NewBudget    *int64 `json:"new_budget,omitempty"`
	Message      string `json:"message"`
	OK           bool   `json:"ok"`
}

// Campaigns lists the account's eligible campaigns with insights over the window.
func (o *Orchestrator) Campaigns(ctx context.Context, accountID string, w engine.Window) ([]engine.Campaign, error) {
	account, err := o.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	client, err := o.client(ctx, account, o.opts.Now())
	if err != nil {
		return nil, err
	}
	return o.campaigns(ctx, client, w)
}

// Simulate evaluates every active rule against every eligible campaign of the account and
// reports what each match would do.
func (o *Orchestrator) Simulate(ctx context.Context, accountID string) ([]Match, error) {
	rules, err := o.rules.ListRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	campaigns, err := o.Campaigns(ctx, accountID, o.opts.Window)
	if err != nil {
		return nil, err
	}

	matches := []Match{}
	for _, c := range campaigns {
		for _, r := range rules {
			if !r.IsActive || !engine.Evaluate(r, c.Metrics) {
				continue
			}
			res := engine.ResolveFor(r, c)
			matches = append(matches, Match{
				RuleID:       r.ID,
				RuleName:     r.Name,
				CampaignID:   c.ID,
				CampaignName: c.Name,
				Action:       engine.ActionText(r),
				NewBudget:    res.NewBudget,
				Message:      res.Message,
				OK:           res.OK,
			})
		}
	}
	return matches, nil
}
