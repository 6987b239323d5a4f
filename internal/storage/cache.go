package storage

import (
	"context"
	"sync"
	"time"

	"github.com/vndarlan/chegou-autoads/internal/engine"
)

// RuleCache keeps the rule listing in memory until a local mutation or a change
// notification from the database invalidates it.
type RuleCache struct {
	store *Store

	mu     sync.RWMutex
	rules  []engine.Rule
	loaded bool
	gen    uint64
}

func NewRuleCache(store *Store) *RuleCache {
	return &RuleCache{store: store}
}

func (c *RuleCache) ListRules(ctx context.Context) ([]engine.Rule, error) {
	c.mu.RLock()
	if c.loaded {
		out := append([]engine.Rule(nil), c.rules...)
		c.mu.RUnlock()
		return out, nil
	}
	gen := c.gen
	c.mu.RUnlock()

	rules, err := c.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// an invalidation raced the load; serve the result but do not keep it
	if c.gen == gen {
		c.rules, c.loaded = rules, true
	}
	c.mu.Unlock()
	return append([]engine.Rule(nil), rules...), nil
}

// Invalidate drops the cached listing.
func (c *RuleCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rules, c.loaded = nil, false
	c.gen++
}

func (c *RuleCache) GetRule(ctx context.Context, id string) (engine.Rule, error) {
	return c.store.GetRule(ctx, id)
}

func (c *RuleCache) CreateRule(ctx context.Context, d engine.RuleDraft) (string, error) {
	defer c.Invalidate()
	return c.store.CreateRule(ctx, d)
}

func (c *RuleCache) DeleteRule(ctx context.Context, id string) (bool, error) {
	defer c.Invalidate()
	return c.store.DeleteRule(ctx, id)
}

func (c *RuleCache) SetRuleActive(ctx context.Context, id string, active bool) (bool, error) {
	defer c.Invalidate()
	return c.store.SetRuleActive(ctx, id, active)
}

func (c *RuleCache) MarkAutomaticRun(ctx context.Context, id string, at time.Time) error {
	defer c.Invalidate()
	return c.store.MarkAutomaticRun(ctx, id, at)
}

// Direct is a view of the cache for readers that must see other processes' writes, such as the
// automatic sweep's due check. Reads go to the store; writes still invalidate the listing.
func (c *RuleCache) Direct() *DirectRules { return &DirectRules{cache: c} }

type DirectRules struct {
	cache *RuleCache
}

func (d *DirectRules) ListRules(ctx context.Context) ([]engine.Rule, error) {
	return d.cache.store.ListRules(ctx)
}

func (d *DirectRules) GetRule(ctx context.Context, id string) (engine.Rule, error) {
	return d.cache.store.GetRule(ctx, id)
}

func (d *DirectRules) MarkAutomaticRun(ctx context.Context, id string, at time.Time) error {
	return d.cache.MarkAutomaticRun(ctx, id, at)
}
