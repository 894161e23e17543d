package pacing

import (
	"context"

	"github.com/google/uuid"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/agent"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
)

// Service decides how many new outbound calls a campaign may start right
// now. Invoked once per engine tick.
type Service interface {
	// PermittedNewCalls returns the number of dials allowed this tick,
	// never negative, 0 when the campaign is inactive or outside its
	// calling window.
	PermittedNewCalls(ctx context.Context, c *campaign.Campaign, links []*campaign.CampaignList) (int, error)
	// RecordDial consumes one unit of the list's hourly budget and the
	// global dial rate.
	RecordDial(ctx context.Context, campaignID, listID uuid.UUID) error
	// RecordOutcome feeds answer/abandon statistics back into reporting.
	RecordOutcome(campaignID uuid.UUID, connected, abandoned bool)
	// Stats returns the running outcome counters for a campaign.
	Stats(campaignID uuid.UUID) OutcomeStats
}

// AgentProvider supplies the campaign's agent pool.
type AgentProvider interface {
	AgentsFor(ctx context.Context, campaignID uuid.UUID) ([]*agent.Agent, error)
}

// ActiveCallCounter reports in-flight calls per campaign.
type ActiveCallCounter interface {
	ActiveCalls(ctx context.Context, campaignID uuid.UUID) (int, error)
}

// HourlyBudget tracks fixed-window per-hour dial counters, typically backed
// by Redis so multiple engine instances share one budget.
type HourlyBudget interface {
	// Remaining returns how many dials are left this hour for the key.
	// A limit of 0 means unlimited.
	Remaining(ctx context.Context, key string, limit int) (int, error)
	// Increment consumes one unit from the current hour window.
	Increment(ctx context.Context, key string) error
}

// OutcomeStats is the per-campaign answer/abandon tally since engine start.
type OutcomeStats struct {
	Dials     int64
	Connects  int64
	Abandons  int64
}

// AnswerRate returns connects per dial, 0 when nothing was dialed
func (s OutcomeStats) AnswerRate() float64 {
	if s.Dials == 0 {
		return 0
	}
	return float64(s.Connects) / float64(s.Dials)
}

// AbandonRate returns abandons per connect, 0 when nothing connected
func (s OutcomeStats) AbandonRate() float64 {
	if s.Connects == 0 {
		return 0
	}
	return float64(s.Abandons) / float64(s.Connects)
}
