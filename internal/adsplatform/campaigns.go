package adsplatform

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	fb "github.com/huandu/facebook/v2"

	"github.com/vndarlan/chegou-autoads/internal/engine"
)

const campaignFields = "id,name,status,effective_status,daily_budget,lifetime_budget"

// ListedStatuses are the effective statuses requested when listing campaigns.
var ListedStatuses = []string{"ACTIVE", "PAUSED", "PENDING_REVIEW", "WITH_ISSUES", "DISAPPROVED"}

type campaignPayload struct {
	ID              string     `json:"id"`
	Name            string     `json:"name"`
	Status          string     `json:"status"`
	EffectiveStatus string     `json:"effective_status"`
	DailyBudget     minorUnits `json:"daily_budget"`
	LifetimeBudget  minorUnits `json:"lifetime_budget"`
}

func (p campaignPayload) campaign() engine.Campaign {
	return engine.Campaign{
		ID:              p.ID,
		Name:            p.Name,
		Status:          p.Status,
		EffectiveStatus: p.EffectiveStatus,
		DailyBudget:     int64(p.DailyBudget),
		LifetimeBudget:  int64(p.LifetimeBudget),
	}
}

// ListCampaigns returns the account's campaigns in the listed statuses, following paging.
func (c *Client) ListCampaigns(ctx context.Context) ([]engine.Campaign, error) {
	statuses, _ := json.Marshal(ListedStatuses)
	params := fb.Params{
		"fields":           campaignFields,
		"limit":            500,
		"effective_status": string(statuses),
	}

	payloads, err := collect[campaignPayload](ctx, c, c.accountNode()+"/campaigns", params)
	if err != nil {
		return nil, fmt.Errorf("list campaigns of %s: %w", c.accountID, err)
	}
	out := make([]engine.Campaign, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, p.campaign())
	}
	return out, nil
}

// GetCampaign reads the current state of one campaign.
func (c *Client) GetCampaign(ctx context.Context, id string) (engine.Campaign, error) {
	var p campaignPayload
	if err := c.get(ctx, id, fb.Params{"fields": campaignFields}, &p); err != nil {
		if errorCode(err) == codeInvalidParameter {
			return engine.Campaign{}, fmt.Errorf("campaign %s: %w: %v", id, engine.ErrNotFound, err)
		}
		return engine.Campaign{}, fmt.Errorf("get campaign %s: %w", id, err)
	}
	if p.ID == "" {
		p.ID = id
	}
	return p.campaign(), nil
}

// ApplyMutation sends the budget or status change of m to the campaign.
func (c *Client) ApplyMutation(ctx context.Context, campaignID string, m engine.Mutation) error {
	form := fb.Params{}
	if m.DailyBudget != nil {
		form["daily_budget"] = strconv.FormatInt(*m.DailyBudget, 10)
	}
	if m.LifetimeBudget != nil {
		form["lifetime_budget"] = strconv.FormatInt(*m.LifetimeBudget, 10)
	}
	if m.Status != nil {
		form["status"] = *m.Status
	}
	if len(form) == 0 {
		return errors.New("empty mutation")
	}

	var out struct {
		Success bool `json:"success"`
	}
	if err := c.post(ctx, campaignID, form, &out); err != nil {
		return fmt.Errorf("update campaign %s: %w", campaignID, err)
	}
	if !out.Success {
		return fmt.Errorf("update campaign %s: platform did not confirm the change", campaignID)
	}
	return nil
}
