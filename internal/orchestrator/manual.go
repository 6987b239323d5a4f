package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/vndarlan/chegou-autoads/internal/engine"
	"github.com/vndarlan/chegou-autoads/internal/observability"
)

// Outcome is the user-visible result of running one rule on one campaign.
type Outcome struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
	// Skipped is set when nothing was attempted, e.g. the rule is inactive.
	Skipped bool `json:"skipped,omitempty"`
}

// RunManual runs one rule on one campaign of the given account. A missing rule fails with
// engine.ErrNotFound after a failed entry is logged; an inactive rule is a skipped outcome.
// Every attempt reaching the platform is logged.
func (o *Orchestrator) RunManual(ctx context.Context, accountID, campaignID, ruleID string) (Outcome, error) {
	rule, err := o.rules.GetRule(ctx, ruleID)
	if errors.Is(err, engine.ErrNotFound) {
		msg := fmt.Sprintf("rule %s not found", ruleID)
		o.append(ctx, engine.Execution{RuleID: ruleID, AdObjectID: campaignID, AdObjectName: campaignID, Message: msg})
		return Outcome{Message: msg}, err
	}
	if err != nil {
		return Outcome{}, fmt.Errorf("load rule: %w", err)
	}
	if !rule.IsActive {
		return Outcome{Skipped: true, Message: fmt.Sprintf("rule %q is inactive, nothing executed", rule.Name)}, nil
	}

	account, err := o.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return Outcome{}, fmt.Errorf("load account: %w", err)
	}
	client, err := o.client(ctx, account, o.opts.Now())
	if err != nil {
		msg := fmt.Sprintf("platform client unavailable: %v", err)
		o.append(ctx, engine.Execution{RuleID: rule.ID, AdObjectID: campaignID, AdObjectName: campaignID, Message: msg})
		observability.ObserveAction(string(engine.ModeManual), false)
		return Outcome{Message: msg}, nil
	}
	return o.execute(ctx, client, engine.ModeManual, rule, campaignID, campaignID), nil
}

// execute reads the campaign's current state, resolves the rule's action against it, applies
// the resulting mutation if any and logs the attempt.
func (o *Orchestrator) execute(ctx context.Context, c Client, mode engine.ExecutionMode, rule engine.Rule, campaignID, campaignName string) Outcome {
	entry := engine.Execution{
		RuleID:       rule.ID,
		AdObjectID:   campaignID,
		AdObjectType: engine.AdObjectCampaign,
		AdObjectName: campaignName,
	}
	logger := log.With().Str("rule_id", rule.ID).Str("campaign_id", campaignID).
		Str("action", string(rule.Action)).Str("mode", string(mode)).Logger()

	out := func(ok bool, msg string) Outcome {
		entry.WasSuccessful, entry.Message = ok, msg
		o.append(ctx, entry)
		observability.ObserveAction(string(mode), ok)
		logger.Info().Bool("ok", ok).Msg(msg)
		return Outcome{OK: ok, Message: msg}
	}

	cctx, cancel := o.call(ctx)
	campaign, err := c.GetCampaign(cctx, campaignID)
	cancel()
	if err != nil {
		return out(false, fmt.Sprintf("could not read campaign %s: %v", campaignID, err))
	}
	if campaign.Name != "" {
		entry.AdObjectName = campaign.Name
	}

	res := engine.ResolveFor(rule, campaign)
	if !res.OK || res.Mutation == nil {
		return out(res.OK, res.Message)
	}

	cctx, cancel = o.call(ctx)
	err = c.ApplyMutation(cctx, campaignID, *res.Mutation)
	cancel()
	if err != nil {
		return out(false, fmt.Sprintf("%s failed: %v", engine.ActionText(rule), err))
	}
	return out(true, res.Message)
}

// append writes a log entry. A storage failure is reported but never aborts the caller.
func (o *Orchestrator) append(ctx context.Context, e engine.Execution) {
	if e.AdObjectType == "" {
		e.AdObjectType = engine.AdObjectCampaign
	}
	if err := o.log.AppendExecution(context.WithoutCancel(ctx), e); err != nil {
		log.Error().Err(err).Str("rule_id", e.RuleID).Str("campaign_id", e.AdObjectID).Msg("execution log append failed")
	}
}
