package reporting

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/agent"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/calllog"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/pacing"
)

// Service exposes read-only operational snapshots for dashboards. All
// numbers are derived state; the repositories stay authoritative.
type Service interface {
	Statistics(ctx context.Context) (*DialingStatistics, error)
	ActiveCalls(ctx context.Context) ([]ActiveCall, error)
}

// DialingStatistics is the dashboard headline snapshot.
type DialingStatistics struct {
	ActiveCampaigns int       `json:"active_campaigns"`
	AvailableAgents int       `json:"available_agents"`
	ActiveCalls     int       `json:"active_calls"`
	CallsToday      int64     `json:"calls_today"`
	Connects        int64     `json:"connects"`
	Abandons        int64     `json:"abandons"`
	AnswerRate      float64   `json:"answer_rate"`
	AbandonRate     float64   `json:"abandon_rate"`
	GeneratedAt     time.Time `json:"generated_at"`
}

// ActiveCall is one in-flight attempt for the live-calls board.
type ActiveCall struct {
	CallID     uuid.UUID  `json:"call_id"`
	CampaignID uuid.UUID  `json:"campaign_id"`
	LeadID     uuid.UUID  `json:"lead_id"`
	Phone      string     `json:"phone"`
	Status     string     `json:"status"`
	AgentID    *uuid.UUID `json:"agent_id,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	DurationS  int        `json:"duration_seconds"`
}

// CampaignProvider lists campaigns for the snapshot.
type CampaignProvider interface {
	ActiveCampaigns(ctx context.Context) ([]*campaign.Campaign, error)
}

// AgentProvider lists the full agent pool.
type AgentProvider interface {
	AllAgents(ctx context.Context) ([]*agent.Agent, error)
}

// CallSource supplies the in-flight call logs, typically the dispatcher.
type CallSource interface {
	Snapshot() []calllog.CallLog
}

// PacingStats supplies per-campaign outcome counters.
type PacingStats interface {
	Stats(campaignID uuid.UUID) pacing.OutcomeStats
}

type service struct {
	campaigns CampaignProvider
	agents    AgentProvider
	calls     CallSource
	stats     PacingStats
	now       func() time.Time
}

// Option customizes the service
type Option func(*service)

// WithNowFunc injects a time source for tests
func WithNowFunc(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates a reporting facade over the live engine state
func NewService(campaigns CampaignProvider, agents AgentProvider, calls CallSource, stats PacingStats, opts ...Option) Service {
	s := &service{
		campaigns: campaigns,
		agents:    agents,
		calls:     calls,
		stats:     stats,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) Statistics(ctx context.Context) (*DialingStatistics, error) {
	campaigns, err := s.campaigns.ActiveCampaigns(ctx)
	if err != nil {
		return nil, err
	}
	agents, err := s.agents.AllAgents(ctx)
	if err != nil {
		return nil, err
	}

	out := &DialingStatistics{
		ActiveCampaigns: len(campaigns),
		ActiveCalls:     len(s.calls.Snapshot()),
		GeneratedAt:     s.now(),
	}
	for _, a := range agents {
		if a.Idle() {
			out.AvailableAgents++
		}
	}
	for _, c := range campaigns {
		st := s.stats.Stats(c.ID)
		out.CallsToday += st.Dials
		out.Connects += st.Connects
		out.Abandons += st.Abandons
	}
	if out.CallsToday > 0 {
		out.AnswerRate = float64(out.Connects) / float64(out.CallsToday)
	}
	if out.Connects > 0 {
		out.AbandonRate = float64(out.Abandons) / float64(out.Connects)
	}
	return out, nil
}

func (s *service) ActiveCalls(_ context.Context) ([]ActiveCall, error) {
	logs := s.calls.Snapshot()
	now := s.now()
	out := make([]ActiveCall, 0, len(logs))
	for _, l := range logs {
		out = append(out, ActiveCall{
			CallID:     l.ID,
			CampaignID: l.CampaignID,
			LeadID:     l.LeadID,
			Phone:      l.Phone.String(),
			Status:     l.CallStatus.String(),
			AgentID:    l.AgentID,
			StartedAt:  l.InitiatedAt,
			DurationS:  int(now.Sub(l.InitiatedAt).Seconds()),
		})
	}
	return out, nil
}
