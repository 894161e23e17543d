package pacing

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
)

// service implements the predictive pacing core: it intentionally starts
// more calls than there are agents when the dialing ratio exceeds 1,
// betting on the statistical answer rate.
type service struct {
	agents  AgentProvider
	active  ActiveCallCounter
	budget  HourlyBudget
	global  *rate.Limiter // system-wide dial ceiling across campaigns
	logger  *zap.Logger
	now     func() time.Time

	mu    sync.Mutex
	stats map[uuid.UUID]*OutcomeStats
}

// Option configures the service
type Option func(*service)

// WithNowFunc injects a time source for tests
func WithNowFunc(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a pacing controller. globalDialsPerSecond bounds dial
// starts across all campaigns; 0 disables the global ceiling.
func NewService(agents AgentProvider, active ActiveCallCounter, budget HourlyBudget, globalDialsPerSecond float64, logger *zap.Logger, opts ...Option) Service {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if globalDialsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(globalDialsPerSecond), int(math.Ceil(globalDialsPerSecond)))
	}
	s := &service{
		agents: agents,
		active: active,
		budget: budget,
		global: limiter,
		logger: logger,
		now:    time.Now,
		stats:  make(map[uuid.UUID]*OutcomeStats),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) PermittedNewCalls(ctx context.Context, c *campaign.Campaign, links []*campaign.CampaignList) (int, error) {
	if !c.Dialable() {
		return 0, nil
	}
	if !c.WithinWindow(s.now(), c.Location()) {
		return 0, nil
	}

	pool, err := s.agentPool(ctx, c)
	if err != nil {
		return 0, fmt.Errorf("agent pool: %w", err)
	}

	target := int(math.Floor(float64(pool) * c.DialingRatio))
	if target <= 0 {
		return 0, nil
	}

	activeCalls, err := s.active.ActiveCalls(ctx, c.ID)
	if err != nil {
		return 0, fmt.Errorf("active calls: %w", err)
	}
	if headroom := c.MaxConcurrentCalls - activeCalls; target > headroom {
		target = headroom
	}
	if target <= 0 {
		return 0, nil
	}

	budget, err := s.hourlyRemaining(ctx, c.ID, links)
	if err != nil {
		return 0, err
	}
	if budget >= 0 && target > budget {
		target = budget
	}
	if target <= 0 {
		return 0, nil
	}

	// Tokens() reports burst-capped tokens even for an infinite limit, so
	// the clamp only applies when a ceiling is actually configured.
	if s.global.Limit() != rate.Inf {
		if tokens := int(s.global.Tokens()); target > tokens {
			target = tokens
		}
	}
	if target < 0 {
		target = 0
	}
	return target, nil
}

// agentPool counts idle agents, or all logged-in qualified agents when the
// ratio applies to the whole pool.
func (s *service) agentPool(ctx context.Context, c *campaign.Campaign) (int, error) {
	agents, err := s.agents.AgentsFor(ctx, c.ID)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, a := range agents {
		if !a.IsLoggedIn || !a.QualifiedFor(c.ID) {
			continue
		}
		if c.ApplyRatioToIdleAgentsOnly && !a.Idle() {
			continue
		}
		count++
	}
	return count, nil
}

// hourlyRemaining sums the per-list budgets. Returns -1 when every list is
// unlimited.
func (s *service) hourlyRemaining(ctx context.Context, campaignID uuid.UUID, links []*campaign.CampaignList) (int, error) {
	limited := false
	total := 0
	for _, link := range links {
		if link.MaxCallsPerHour <= 0 {
			return -1, nil // one unlimited list lifts the campaign cap
		}
		limited = true
		remaining, err := s.budget.Remaining(ctx, s.budgetKey(campaignID, link.ListID), link.MaxCallsPerHour)
		if err != nil {
			return 0, fmt.Errorf("hourly budget: %w", err)
		}
		total += remaining
	}
	if !limited {
		return -1, nil
	}
	return total, nil
}

func (s *service) budgetKey(campaignID, listID uuid.UUID) string {
	hour := s.now().UTC().Format("2006010215")
	return fmt.Sprintf("dial_budget:%s:%s:%s", campaignID, listID, hour)
}

func (s *service) RecordDial(ctx context.Context, campaignID, listID uuid.UUID) error {
	if !s.global.Allow() {
		return fmt.Errorf("global dial rate exceeded")
	}
	if err := s.budget.Increment(ctx, s.budgetKey(campaignID, listID)); err != nil {
		// Budget accounting failure must not stop dialing; it only loosens
		// the cap until the store recovers.
		s.logger.Error("hourly budget increment failed",
			zap.String("campaign_id", campaignID.String()),
			zap.Error(err))
	}
	s.mu.Lock()
	s.counters(campaignID).Dials++
	s.mu.Unlock()
	return nil
}

func (s *service) RecordOutcome(campaignID uuid.UUID, connected, abandoned bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.counters(campaignID)
	if connected {
		c.Connects++
	}
	if abandoned {
		c.Abandons++
	}
}

func (s *service) Stats(campaignID uuid.UUID) OutcomeStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.counters(campaignID)
}

// counters must be called with s.mu held
func (s *service) counters(campaignID uuid.UUID) *OutcomeStats {
	c, ok := s.stats[campaignID]
	if !ok {
		c = &OutcomeStats{}
		s.stats[campaignID] = c
	}
	return c
}
