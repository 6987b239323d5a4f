// Package orchestrator runs rules against live campaigns: one rule on one campaign on demand,
// a dry-run simulation for an account, and the unattended sweep over every due automatic rule
// and every configured account.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/vndarlan/chegou-autoads/internal/engine"
)

type RuleStore interface {
	ListRules(ctx context.Context) ([]engine.Rule, error)
	GetRule(ctx context.Context, id string) (engine.Rule, error)
	MarkAutomaticRun(ctx context.Context, id string, at time.Time) error
}

type ExecutionLog interface {
	AppendExecution(ctx context.Context, e engine.Execution) error
}

type AccountStore interface {
	ListAccounts(ctx context.Context) ([]engine.Account, error)
	GetAccount(ctx context.Context, id string) (engine.Account, error)
}

// Client is the ads platform bound to one account: campaign repository and metrics provider.
type Client interface {
	ListCampaigns(ctx context.Context) ([]engine.Campaign, error)
	FetchInsights(ctx context.Context, campaignIDs []string, w engine.Window) ([]engine.Insight, error)
	GetCampaign(ctx context.Context, id string) (engine.Campaign, error)
	ApplyMutation(ctx context.Context, campaignID string, m engine.Mutation) error
}

// ClientFactory initializes a client for an account. Refusals should be *engine.CredentialError.
type ClientFactory interface {
	ForAccount(ctx context.Context, a engine.Account) (Client, error)
}

type ClientFactoryFunc func(ctx context.Context, a engine.Account) (Client, error)

func (f ClientFactoryFunc) ForAccount(ctx context.Context, a engine.Account) (Client, error) {
	return f(ctx, a)
}

// SweepLocker serializes automatic sweeps across processes sharing one database.
type SweepLocker interface {
	TryLockSweep(ctx context.Context) (release func(), ok bool, err error)
}

type Options struct {
	// Window is the insights period rules are evaluated over.
	Window engine.Window
	// AccountConcurrency bounds how many accounts a sweep processes at once.
	AccountConcurrency int
	// CallTimeout bounds every single platform call.
	CallTimeout time.Duration
	// Lock, when set, is taken for the duration of every automatic sweep.
	Lock SweepLocker
	Now  func() time.Time
}

type Orchestrator struct {
	rules    RuleStore
	log      ExecutionLog
	accounts AccountStore
	clients  ClientFactory
	opts     Options

	sweeping sync.Mutex
}

func New(rules RuleStore, log ExecutionLog, accounts AccountStore, clients ClientFactory, opts Options) *Orchestrator {
	if opts.Window == "" {
		opts.Window = engine.WindowLast7d
	}
	if opts.AccountConcurrency <= 0 {
		opts.AccountConcurrency = 1
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{rules: rules, log: log, accounts: accounts, clients: clients, opts: opts}
}

func (o *Orchestrator) call(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.opts.CallTimeout)
}

// client loads an account and initializes its platform client, refusing expired tokens.
func (o *Orchestrator) client(ctx context.Context, a engine.Account, now time.Time) (Client, error) {
	if a.TokenExpired(now) {
		return nil, &engine.CredentialError{
			AccountID: a.ID,
			Reason:    "access token expired on " + a.TokenExpiresAt.UTC().Format("2006-01-02"),
		}
	}
	cctx, cancel := o.call(ctx)
	defer cancel()
	return o.clients.ForAccount(cctx, a)
}

// campaigns lists the account's eligible campaigns with their insights attached.
func (o *Orchestrator) campaigns(ctx context.Context, c Client, w engine.Window) ([]engine.Campaign, error) {
	cctx, cancel := o.call(ctx)
	listed, err := c.ListCampaigns(cctx)
	cancel()
	if err != nil {
		return nil, err
	}

	eligible := make([]engine.Campaign, 0, len(listed))
	ids := make([]string, 0, len(listed))
	for _, cp := range listed {
		if cp.Eligible() {
			eligible = append(eligible, cp)
			ids = append(ids, cp.ID)
		}
	}
	if len(eligible) == 0 {
		return nil, nil
	}

	cctx, cancel = o.call(ctx)
	insights, err := c.FetchInsights(cctx, ids, w)
	cancel()
	if err != nil {
		return nil, err
	}
	return engine.MergeInsights(eligible, insights), nil
}
