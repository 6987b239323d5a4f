package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/vndarlan/chegou-autoads/internal/engine"
	"github.com/vndarlan/chegou-autoads/internal/observability"
)

// ErrSweepRunning means another automatic sweep holds the sweep lock.
var ErrSweepRunning = errors.New("an automatic sweep is already running")

// AccountFailure is an account skipped by a sweep.
type AccountFailure struct {
	AccountID string `json:"account_id"`
	Name      string `json:"name"`
	Stage     string `json:"stage"`
	Reason    string `json:"reason"`
}

// SweepReport summarizes one automatic sweep.
type SweepReport struct {
	StartedAt         time.Time        `json:"started_at"`
	FinishedAt        time.Time        `json:"finished_at"`
	RulesChecked      int              `json:"rules_checked"`
	RulesDue          []string         `json:"rules_due"`
	RulesMarked       []string         `json:"rules_marked"`
	AccountsProcessed int              `json:"accounts_processed"`
	AccountsFailed    int              `json:"accounts_failed"`
	Failures          []AccountFailure `json:"failures,omitempty"`
	CampaignsChecked  int              `json:"campaigns_checked"`
	Matches           int              `json:"matches"`
	ActionsSucceeded  int              `json:"actions_succeeded"`
	ActionsFailed     int              `json:"actions_failed"`
	Cancelled         bool             `json:"cancelled,omitempty"`
}

type accountResult struct {
	failure   *AccountFailure
	campaigns int
	matches   int
	ok        int
	failed    int
}

// RunAutomaticSweep evaluates every due automatic rule against every configured account and
// acts on matches. Failing to list rules or accounts is the only error; per-account and
// per-campaign failures are logged and skipped. Due rules are marked as run at now once every
// account has been attempted, unless ctx was cancelled first. Sweeps never overlap: while one
// runs, here or in another process on the same database, the next fails with ErrSweepRunning.
func (o *Orchestrator) RunAutomaticSweep(ctx context.Context, now time.Time) (SweepReport, error) {
	now = now.UTC()
	report := SweepReport{StartedAt: o.opts.Now().UTC(), RulesDue: []string{}, RulesMarked: []string{}}

	if !o.sweeping.TryLock() {
		return report, ErrSweepRunning
	}
	defer o.sweeping.Unlock()
	if o.opts.Lock != nil {
		release, ok, err := o.opts.Lock.TryLockSweep(ctx)
		if err != nil {
			return report, fmt.Errorf("sweep lock: %w", err)
		}
		if !ok {
			return report, ErrSweepRunning
		}
		defer release()
	}
	start := time.Now()
	defer func() { observability.SweepDuration.Observe(time.Since(start).Seconds()) }()

	rules, err := o.rules.ListRules(ctx)
	if err != nil {
		return report, fmt.Errorf("list rules: %w", err)
	}
	accounts, err := o.accounts.ListAccounts(ctx)
	if err != nil {
		return report, fmt.Errorf("list accounts: %w", err)
	}

	var due []engine.Rule
	for _, r := range rules {
		if r.IsActive && r.Due(now) {
			due = append(due, r)
			report.RulesDue = append(report.RulesDue, r.ID)
		}
	}
	report.RulesChecked = len(rules)
	observability.RulesDue.Set(float64(len(due)))

	logger := log.With().Time("sweep_at", now).Logger()
	if len(due) == 0 {
		logger.Info().Int("rules", len(rules)).Msg("no automatic rule due")
		report.FinishedAt = o.opts.Now().UTC()
		return report, nil
	}
	if len(accounts) == 0 {
		logger.Warn().Int("rules_due", len(due)).Msg("no account configured; due rules left unmarked")
		report.FinishedAt = o.opts.Now().UTC()
		return report, nil
	}
	logger.Info().Int("rules_due", len(due)).Int("accounts", len(accounts)).Msg("sweep started")

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.opts.AccountConcurrency)
	for _, a := range accounts {
		a := a
		g.Go(func() error {
			res := o.sweepAccount(ctx, a, due, now)
			mu.Lock()
			defer mu.Unlock()
			report.CampaignsChecked += res.campaigns
			report.Matches += res.matches
			report.ActionsSucceeded += res.ok
			report.ActionsFailed += res.failed
			if res.failure != nil {
				report.AccountsFailed++
				report.Failures = append(report.Failures, *res.failure)
			} else {
				report.AccountsProcessed++
			}
			return nil
		})
	}
	_ = g.Wait()

	if ctx.Err() != nil {
		report.Cancelled = true
		report.FinishedAt = o.opts.Now().UTC()
		logger.Warn().Err(ctx.Err()).Msg("sweep interrupted; due rules left unmarked")
		return report, nil
	}

	for _, r := range due {
		if err := o.rules.MarkAutomaticRun(ctx, r.ID, now); err != nil {
			logger.Error().Err(err).Str("rule_id", r.ID).Msg("mark rule run")
			continue
		}
		report.RulesMarked = append(report.RulesMarked, r.ID)
	}

	report.FinishedAt = o.opts.Now().UTC()
	logger.Info().
		Int("accounts_processed", report.AccountsProcessed).
		Int("accounts_failed", report.AccountsFailed).
		Int("rules_checked", report.RulesChecked).
		Int("rules_due", len(due)).
		Int("matches", report.Matches).
		Int("actions_ok", report.ActionsSucceeded).
		Int("actions_failed", report.ActionsFailed).
		Dur("took", time.Since(start)).
		Msg("sweep finished")
	return report, nil
}

func (o *Orchestrator) sweepAccount(ctx context.Context, a engine.Account, due []engine.Rule, now time.Time) accountResult {
	logger := log.With().Str("account_id", a.ID).Str("account", a.Name).Logger()
	fail := func(stage, reason string, err error) accountResult {
		logger.Warn().Err(err).Str("stage", stage).Msg("account skipped")
		observability.AccountFailures.WithLabelValues(reason).Inc()
		return accountResult{failure: &AccountFailure{AccountID: a.ID, Name: a.Name, Stage: stage, Reason: err.Error()}}
	}

	client, err := o.client(ctx, a, now)
	if err != nil {
		reason := "client"
		var cerr *engine.CredentialError
		if errors.As(err, &cerr) {
			reason = "credentials"
		}
		return fail("client", reason, err)
	}
	campaigns, err := o.campaigns(ctx, client, o.opts.Window)
	if err != nil {
		return fail("campaigns", "campaigns", err)
	}

	res := accountResult{campaigns: len(campaigns)}
	for _, r := range due {
		for _, c := range campaigns {
			if ctx.Err() != nil {
				return res
			}
			if !engine.Evaluate(r, c.Metrics) {
				continue
			}
			res.matches++
			if out := o.execute(ctx, client, engine.ModeAutomatic, r, c.ID, c.Name); out.OK {
				res.ok++
			} else {
				res.failed++
			}
		}
	}
	logger.Info().Int("campaigns", len(campaigns)).Int("matches", res.matches).Msg("account swept")
	return res
}
