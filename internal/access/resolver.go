// Package access decides whether the current user may run a feature, from
// pricing metadata, login state and credit balance.
package access

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/raysh454/scanflow/internal/apiclient"
	"github.com/raysh454/scanflow/internal/logging"
	"github.com/raysh454/scanflow/internal/model"
	"github.com/raysh454/scanflow/internal/session"
)

// Backend is the subset of the API client the resolver reads from.
type Backend interface {
	GetFeaturePricing(ctx context.Context) ([]model.FeaturePricing, error)
	GetCreditBalance(ctx context.Context) (*model.CreditBalance, error)
	GetSubscriptionStatus(ctx context.Context) (*model.Subscription, error)
}

// Checker is what the scan controller needs from a resolver.
type Checker interface {
	CheckAccess(ctx context.Context, code model.Module) model.FeatureAccessResult
	Refresh(ctx context.Context, code model.Module) model.FeatureAccessResult
}

type Resolver struct {
	backend Backend
	session *session.Session
	cache   *Cache
	logger  logging.Logger
}

// NewResolver wires the cache to the session so login, logout and purchase
// events invalidate user-scoped entries.
func NewResolver(backend Backend, sess *session.Session, cache *Cache, logger logging.Logger) *Resolver {
	if cache == nil {
		cache = NewCache(0)
	}
	if sess == nil {
		sess = session.New("")
	}
	r := &Resolver{
		backend: backend,
		session: sess,
		cache:   cache,
		logger:  logger.With(logging.Field{Key: "component", Value: "access"}),
	}
	sess.Subscribe(func(ev session.Event) {
		r.logger.Debug("invalidating access cache", logging.Field{Key: "event", Value: string(ev)})
		cache.Invalidate(ev)
	})
	return r
}

func (r *Resolver) Cache() *Cache { return r.cache }

// CheckAccess answers from cache when a fresh positive result exists.
func (r *Resolver) CheckAccess(ctx context.Context, code model.Module) model.FeatureAccessResult {
	if res, ok := r.cache.Result(code); ok {
		return res
	}
	return r.check(ctx, code, false)
}

// Refresh re-checks code against a freshly fetched balance. Used right
// before submission, when a toggle-time answer may be out of date.
func (r *Resolver) Refresh(ctx context.Context, code model.Module) model.FeatureAccessResult {
	return r.check(ctx, code, true)
}

// CheckMultipleFeatures checks every code concurrently. Each code always
// gets a result; one lookup failing never aborts the others.
func (r *Resolver) CheckMultipleFeatures(ctx context.Context, codes []model.Module) map[model.Module]model.FeatureAccessResult {
	out := make(map[model.Module]model.FeatureAccessResult, len(codes))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for _, code := range codes {
		g.Go(func() error {
			res := r.CheckAccess(gctx, code)
			mu.Lock()
			out[code] = res
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Resolver) check(ctx context.Context, code model.Module, force bool) model.FeatureAccessResult {
	gen := r.cache.Generation()
	pricing, ok := r.cache.Pricing()
	if !ok {
		list, err := r.backend.GetFeaturePricing(ctx)
		if err != nil {
			// Fail open on pricing.
			r.logger.Warn("pricing lookup failed, treating feature as free",
				logging.Field{Key: "feature", Value: string(code)}, logging.Err(err))
			return model.FeatureAccessResult{CanAccess: true, Reason: model.ReasonFree}
		}
		pricing = r.cache.SetPricing(list)
	}

	p, known := pricing[code]
	if !known || p.Free() {
		res := model.FeatureAccessResult{CanAccess: true, Reason: model.ReasonFree}
		r.cache.SetResult(code, res, gen)
		return res
	}

	required := p.CreditsCost
	if !r.session.Authenticated() {
		return model.FeatureAccessResult{Reason: model.ReasonNotLoggedIn, CreditsRequired: &required}
	}

	bal, err := r.balance(ctx, force, gen)
	if err != nil {
		return r.failClosed(code, required, err)
	}
	sub, err := r.subscription(ctx, force, gen)
	if err != nil {
		return r.failClosed(code, required, err)
	}
	if sub.Active {
		r.logger.Debug("active subscription does not bypass credit check",
			logging.Field{Key: "feature", Value: string(code)},
			logging.Field{Key: "plan", Value: sub.Plan})
	}

	current := bal.Credits
	res := model.FeatureAccessResult{
		CanAccess:       current >= required,
		Reason:          model.ReasonAvailable,
		CreditsRequired: &required,
		CurrentCredits:  &current,
	}
	if !res.CanAccess {
		res.Reason = model.ReasonInsufficientCredits
	}
	r.cache.SetResult(code, res, gen)
	return res
}

func (r *Resolver) failClosed(code model.Module, required int, err error) model.FeatureAccessResult {
	if errors.Is(err, apiclient.ErrUnauthenticated) {
		return model.FeatureAccessResult{Reason: model.ReasonNotLoggedIn, CreditsRequired: &required}
	}
	r.logger.Warn("credit lookup failed, denying feature",
		logging.Field{Key: "feature", Value: string(code)}, logging.Err(err))
	return model.FeatureAccessResult{Reason: model.ReasonInsufficientCredits, CreditsRequired: &required}
}

func (r *Resolver) balance(ctx context.Context, force bool, gen uint64) (*model.CreditBalance, error) {
	if !force {
		if b, ok := r.cache.Balance(); ok {
			return b, nil
		}
	}
	b, err := r.backend.GetCreditBalance(ctx)
	if err != nil {
		return nil, err
	}
	r.cache.SetBalance(b, gen)
	return b, nil
}

func (r *Resolver) subscription(ctx context.Context, force bool, gen uint64) (*model.Subscription, error) {
	if !force {
		if s, ok := r.cache.Subscription(); ok {
			return s, nil
		}
	}
	s, err := r.backend.GetSubscriptionStatus(ctx)
	if err != nil {
		return nil, err
	}
	r.cache.SetSubscription(s, gen)
	return s, nil
}
