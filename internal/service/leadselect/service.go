package leadselect

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/lead"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/leadfilter"
)

const (
	// Claims outlive the longest plausible call so a crashed dispatcher
	// cannot strand a lead forever.
	defaultClaimTTL = 30 * time.Minute

	// Overdraw factor when fetching from the store, to absorb leads lost
	// to claims and in-memory filtering.
	fetchMultiplier = 3
)

type service struct {
	leads     LeadRepository
	campaigns CampaignRepository
	claims    *claimRegistry
	logger    *zap.Logger
	now       func() time.Time

	// compiled filter cache, keyed by filter ID
	mu        sync.Mutex
	compiled  map[uuid.UUID]leadfilter.Predicate
}

// Option configures the service
type Option func(*service)

// WithNowFunc injects a time source for tests
func WithNowFunc(now func() time.Time) Option {
	return func(s *service) {
		s.now = now
		s.claims.now = now
	}
}

// WithClaimTTL overrides the claim expiry
func WithClaimTTL(ttl time.Duration) Option {
	return func(s *service) { s.claims.ttl = ttl }
}

// NewService creates a lead selector
func NewService(leads LeadRepository, campaigns CampaignRepository, logger *zap.Logger, opts ...Option) Service {
	s := &service{
		leads:     leads,
		campaigns: campaigns,
		logger:    logger,
		now:       time.Now,
		compiled:  make(map[uuid.UUID]leadfilter.Predicate),
	}
	s.claims = newClaimRegistry(defaultClaimTTL, time.Now)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Next draws up to n candidates across the campaign's lists, weighted by
// allocation percentage, honoring list then lead priority. Every returned
// candidate is claimed.
func (s *service) Next(ctx context.Context, c *campaign.Campaign, n int) ([]Candidate, error) {
	if n <= 0 {
		return nil, nil
	}
	s.claims.Sweep()

	assignments, err := s.campaigns.Assignments(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("loading list assignments: %w", err)
	}

	active := assignments[:0]
	for _, a := range assignments {
		if a.List.IsActive {
			active = append(active, a)
		}
	}
	if len(active) == 0 {
		return nil, nil
	}

	// Higher-priority lists drain their quota first; allocation decides
	// how the round is split, not which list is exhausted first.
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Link.Priority > active[j].Link.Priority
	})

	predicate, err := s.filterPredicate(ctx, c)
	if err != nil {
		// Fails closed: a broken filter matches nothing.
		s.logger.Warn("filter compilation failed, selecting no leads",
			zap.String("campaign_id", c.ID.String()),
			zap.Error(err))
		return nil, nil
	}

	quotas := allocate(active, n)
	out := make([]Candidate, 0, n)
	for i, a := range active {
		if len(out) >= n {
			break
		}
		// Spill unused quota from earlier lists into later ones.
		want := (n - len(out)) - remaining(quotas[i+1:])
		if want <= 0 {
			continue
		}
		picked, err := s.drawFromList(ctx, c, a, predicate, want)
		if err != nil {
			s.logger.Error("list draw failed",
				zap.String("list_id", a.List.ID.String()),
				zap.Error(err))
			continue
		}
		out = append(out, picked...)
	}
	return out, nil
}

func remaining(quotas []int) int {
	total := 0
	for _, q := range quotas {
		total += q
	}
	return total
}

// allocate splits n across lists proportional to AllocationPercentage,
// using equal shares when no allocation is configured. Largest-remainder
// rounding keeps the total at n.
func allocate(assignments []ListAssignment, n int) []int {
	weights := make([]float64, len(assignments))
	total := 0.0
	for i, a := range assignments {
		w := float64(a.Link.AllocationPercentage)
		if w <= 0 {
			w = 0
		}
		weights[i] = w
		total += w
	}
	if total == 0 {
		for i := range weights {
			weights[i] = 1
		}
		total = float64(len(weights))
	}

	quotas := make([]int, len(assignments))
	type frac struct {
		idx int
		rem float64
	}
	fracs := make([]frac, 0, len(assignments))
	assigned := 0
	for i, w := range weights {
		exact := float64(n) * w / total
		quotas[i] = int(exact)
		assigned += quotas[i]
		fracs = append(fracs, frac{idx: i, rem: exact - float64(quotas[i])})
	}
	sort.SliceStable(fracs, func(i, j int) bool { return fracs[i].rem > fracs[j].rem })
	for i := 0; assigned < n && i < len(fracs); i++ {
		quotas[fracs[i].idx]++
		assigned++
	}
	return quotas
}

func (s *service) drawFromList(ctx context.Context, c *campaign.Campaign, a ListAssignment, predicate leadfilter.Predicate, want int) ([]Candidate, error) {
	now := s.now()
	maxAttempts := a.List.EffectiveMaxAttempts(c)
	minInterval := a.List.EffectiveMinInterval(c)

	pool, err := s.leads.FindDialable(ctx, a.List.ID, now, maxAttempts, a.Link.CallInOrder, want*fetchMultiplier)
	if err != nil {
		return nil, err
	}

	// Higher lead priority first; the store already ordered within equal
	// priorities (creation order or random draw).
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Priority > pool[j].Priority
	})

	out := make([]Candidate, 0, want)
	for _, l := range pool {
		if len(out) >= want {
			break
		}
		if !s.selectable(l, now, maxAttempts, minInterval, predicate) {
			continue
		}
		if !s.claims.Claim(l.ID) {
			continue
		}
		phone, ok := s.pickPhone(ctx, l)
		if !ok {
			s.claims.Release(l.ID)
			continue
		}
		out = append(out, Candidate{Lead: l, List: a.List, Phone: phone})
	}
	return out, nil
}

// selectable re-checks the exclusion predicate in memory; the store query
// is a superset and may race with concurrent mutation.
func (s *service) selectable(l *lead.Lead, now time.Time, maxAttempts int, minInterval time.Duration, predicate leadfilter.Predicate) bool {
	if !l.Callable() {
		return false
	}
	if l.CallAttempts >= maxAttempts {
		return false
	}
	if l.DueAt().After(now) {
		return false
	}
	if l.LastCalledAt != nil && l.LastCalledAt.Add(minInterval).After(now) {
		return false
	}
	return predicate(l)
}

// pickPhone returns the primary number, falling back to the best alternate
// when the primary is unusable.
func (s *service) pickPhone(ctx context.Context, l *lead.Lead) (phone values.PhoneNumber, ok bool) {
	alternates, err := s.leads.AlternatePhones(ctx, l.ID)
	if err != nil {
		s.logger.Warn("loading alternate phones failed, using primary only",
			zap.String("lead_id", l.ID.String()),
			zap.Error(err))
		alternates = nil
	}
	phones := lead.DialablePhones(l, alternates, true)
	if len(phones) == 0 {
		return phone, false
	}
	return phones[0], true
}

func (s *service) filterPredicate(ctx context.Context, c *campaign.Campaign) (leadfilter.Predicate, error) {
	if c.FilterID == nil {
		return leadfilter.MatchAll, nil
	}

	s.mu.Lock()
	if p, ok := s.compiled[*c.FilterID]; ok {
		s.mu.Unlock()
		return p, nil
	}
	s.mu.Unlock()

	f, err := s.campaigns.Filter(ctx, c.ID)
	if err != nil {
		return nil, fmt.Errorf("loading filter: %w", err)
	}
	p, err := leadfilter.Compile(f)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.compiled[*c.FilterID] = p
	s.mu.Unlock()
	return p, nil
}

// Release frees a claimed lead for re-selection
func (s *service) Release(leadID uuid.UUID) {
	s.claims.Release(leadID)
}

// Claimed reports whether a lead is currently reserved
func (s *service) Claimed(leadID uuid.UUID) bool {
	return s.claims.Held(leadID)
}
