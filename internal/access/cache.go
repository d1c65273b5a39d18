package access

import (
	"sync"
	"time"

	"github.com/raysh454/scanflow/internal/model"
	"github.com/raysh454/scanflow/internal/session"
)

// Cache is the session-scoped store for pricing, balance, subscription and
// per-feature results. Entries older than the TTL are stale; negative
// results are never served from it.
type Cache struct {
	mu  sync.Mutex
	ttl time.Duration
	now func() time.Time

	pricing   map[model.Module]model.FeaturePricing
	pricingAt time.Time

	balance   *model.CreditBalance
	balanceAt time.Time

	subscription   *model.Subscription
	subscriptionAt time.Time

	results map[model.Module]cachedResult

	// gen advances on every invalidation. User-scoped writes carry the
	// generation they were read under and are dropped once it moved on.
	gen uint64
}

type cachedResult struct {
	res model.FeatureAccessResult
	at  time.Time
}

// NewCache returns an empty cache. ttl <= 0 disables expiry.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{
		ttl:     ttl,
		now:     time.Now,
		results: make(map[model.Module]cachedResult),
	}
}

func (c *Cache) fresh(at time.Time) bool {
	if at.IsZero() {
		return false
	}
	return c.ttl <= 0 || c.now().Sub(at) < c.ttl
}

func (c *Cache) Pricing() (map[model.Module]model.FeaturePricing, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pricing == nil || !c.fresh(c.pricingAt) {
		return nil, false
	}
	return c.pricing, true
}

func (c *Cache) SetPricing(list []model.FeaturePricing) map[model.Module]model.FeaturePricing {
	m := make(map[model.Module]model.FeaturePricing, len(list))
	for _, p := range list {
		m[p.FeatureCode] = p
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pricing = m
	c.pricingAt = c.now()
	return m
}

func (c *Cache) Balance() (*model.CreditBalance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.balance == nil || !c.fresh(c.balanceAt) {
		return nil, false
	}
	return c.balance, true
}

// Generation identifies the current invalidation epoch.
func (c *Cache) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// SetBalance stores b unless the cache was invalidated after gen.
func (c *Cache) SetBalance(b *model.CreditBalance, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.balance = b
	c.balanceAt = c.now()
	return true
}

func (c *Cache) Subscription() (*model.Subscription, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscription == nil || !c.fresh(c.subscriptionAt) {
		return nil, false
	}
	return c.subscription, true
}

func (c *Cache) SetSubscription(s *model.Subscription, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.subscription = s
	c.subscriptionAt = c.now()
	return true
}

// Result returns a cached positive result for code.
func (c *Cache) Result(code model.Module) (model.FeatureAccessResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.results[code]
	if !ok || !e.res.CanAccess || !c.fresh(e.at) {
		return model.FeatureAccessResult{}, false
	}
	return e.res, true
}

func (c *Cache) SetResult(code model.Module, res model.FeatureAccessResult, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen {
		return false
	}
	c.results[code] = cachedResult{res: res, at: c.now()}
	return true
}

// Invalidate drops what the event makes untrustworthy. Login, logout and
// purchase all change the user-scoped entries; pricing survives every event.
func (c *Cache) Invalidate(ev session.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch ev {
	case session.EventLogin, session.EventLogout, session.EventPurchase:
		c.gen++
		c.balance, c.balanceAt = nil, time.Time{}
		c.subscription, c.subscriptionAt = nil, time.Time{}
		c.results = make(map[model.Module]cachedResult)
	}
}

// Clear empties everything, pricing included.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.pricing, c.pricingAt = nil, time.Time{}
	c.balance, c.balanceAt = nil, time.Time{}
	c.subscription, c.subscriptionAt = nil, time.Time{}
	c.results = make(map[model.Module]cachedResult)
}
