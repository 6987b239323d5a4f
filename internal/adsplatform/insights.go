package adsplatform

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	fb "github.com/huandu/facebook/v2"

	"github.com/vndarlan/chegou-autoads/internal/engine"
)

const insightFields = "campaign_id,campaign_name,spend,impressions,clicks,ctr,cpc," +
	"actions,action_values,cost_per_action_type,purchase_roas"

type actionStat struct {
	ActionType string `json:"action_type"`
	Value      number `json:"value"`
}

type insightPayload struct {
	CampaignID        string       `json:"campaign_id"`
	Spend             number       `json:"spend"`
	Impressions       number       `json:"impressions"`
	Clicks            number       `json:"clicks"`
	CTR               number       `json:"ctr"`
	CPC               number       `json:"cpc"`
	Actions           []actionStat `json:"actions"`
	ActionValues      []actionStat `json:"action_values"`
	CostPerActionType []actionStat `json:"cost_per_action_type"`
	PurchaseROAS      []actionStat `json:"purchase_roas"`
}

func isPurchase(a actionStat) bool { return strings.Contains(a.ActionType, "purchase") }

func (p insightPayload) insight() engine.Insight {
	m := engine.Metrics{
		Spend:       float64(p.Spend),
		Impressions: float64(int64(p.Impressions)),
		Clicks:      float64(int64(p.Clicks)),
		CTR:         float64(p.CTR),
		CPC:         float64(p.CPC),
	}
	var purchases int64
	for _, a := range p.Actions {
		if isPurchase(a) {
			purchases += int64(a.Value)
		}
	}
	m.Purchases = float64(purchases)
	for _, a := range p.ActionValues {
		if isPurchase(a) {
			m.PurchaseValue += float64(a.Value)
		}
	}
	for _, a := range p.CostPerActionType {
		if isPurchase(a) {
			m.CPA = float64(a.Value)
			break
		}
	}
	if len(p.PurchaseROAS) > 0 {
		m.ROAS = float64(p.PurchaseROAS[0].Value)
	}
	return engine.Insight{CampaignID: p.CampaignID, Metrics: m}
}

// FetchInsights returns campaign-level insights for the given campaigns over the window.
// Campaigns without delivery in the window have no row.
func (c *Client) FetchInsights(ctx context.Context, campaignIDs []string, w engine.Window) ([]engine.Insight, error) {
	if len(campaignIDs) == 0 {
		return nil, nil
	}
	filtering, err := json.Marshal([]map[string]any{
		{"field": "campaign.id", "operator": "IN", "value": campaignIDs},
	})
	if err != nil {
		return nil, fmt.Errorf("encode filtering: %w", err)
	}
	params := fb.Params{
		"level":     "campaign",
		"fields":    insightFields,
		"filtering": string(filtering),
		"limit":     500,
	}
	switch w {
	case engine.WindowYesterday:
		day := c.now().AddDate(0, 0, -1).Format("2006-01-02")
		tr, _ := json.Marshal(map[string]string{"since": day, "until": day})
		params["time_range"] = string(tr)
	case engine.WindowLast30d:
		params["date_preset"] = string(engine.WindowLast30d)
	default:
		params["date_preset"] = string(engine.WindowLast7d)
	}

	payloads, err := collect[insightPayload](ctx, c, c.accountNode()+"/insights", params)
	if err != nil {
		return nil, fmt.Errorf("insights of %s: %w", c.accountID, err)
	}
	out := make([]engine.Insight, 0, len(payloads))
	for _, p := range payloads {
		out = append(out, p.insight())
	}
	return out, nil
}
