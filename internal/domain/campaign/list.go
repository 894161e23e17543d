package campaign

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// List is a container of leads. It may override campaign compliance and
// retry settings; nil override fields defer to the campaign.
type List struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`

	IsActive bool `json:"is_active"`

	// Overrides (nil = inherit from campaign)
	CallStartTime   *string        `json:"call_start_time,omitempty"`
	CallEndTime     *string        `json:"call_end_time,omitempty"`
	TimeZone        *string        `json:"time_zone,omitempty"`
	MaxCallAttempts *int           `json:"max_call_attempts,omitempty"`
	MinCallInterval *time.Duration `json:"min_call_interval,omitempty"`

	// Rollup counters, kept consistent by the disposition engine.
	TotalLeads     int `json:"total_leads"`
	CalledLeads    int `json:"called_leads"`
	ContactedLeads int `json:"contacted_leads"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewList creates an empty active list
func NewList(name string) (*List, error) {
	if name == "" {
		return nil, fmt.Errorf("list name cannot be empty")
	}
	now := time.Now().UTC()
	return &List{
		ID:        uuid.New(),
		Name:      name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// EffectiveMaxAttempts resolves the attempt ceiling for leads in this list
func (l *List) EffectiveMaxAttempts(c *Campaign) int {
	if l.MaxCallAttempts != nil {
		return *l.MaxCallAttempts
	}
	return c.MaxCallAttempts
}

// EffectiveMinInterval resolves the minimum redial interval
func (l *List) EffectiveMinInterval(c *Campaign) time.Duration {
	if l.MinCallInterval != nil {
		return *l.MinCallInterval
	}
	return c.MinCallInterval
}

// EffectiveWindow returns a campaign copy with list window overrides applied,
// suitable for WithinWindow checks.
func (l *List) EffectiveWindow(c *Campaign) *Campaign {
	eff := *c
	if l.CallStartTime != nil {
		eff.CallStartTime = *l.CallStartTime
	}
	if l.CallEndTime != nil {
		eff.CallEndTime = *l.CallEndTime
	}
	if l.TimeZone != nil {
		eff.TimeZone = *l.TimeZone
	}
	return &eff
}

// CampaignList joins a campaign to a list with per-assignment dialing
// weight and budget.
type CampaignList struct {
	CampaignID uuid.UUID `json:"campaign_id"`
	ListID     uuid.UUID `json:"list_id"`

	AllocationPercentage int  `json:"allocation_percentage"` // share of each selection round, 0-100
	MaxCallsPerHour      int  `json:"max_calls_per_hour"`    // 0 = unlimited
	Priority             int  `json:"priority"`              // higher drains first on ties
	CallInOrder          bool `json:"call_in_order"`         // true = creation order, false = random draw

	CreatedAt time.Time `json:"created_at"`
}

// NewCampaignList validates and creates a campaign/list assignment
func NewCampaignList(campaignID, listID uuid.UUID, allocation int) (*CampaignList, error) {
	if campaignID == uuid.Nil || listID == uuid.Nil {
		return nil, fmt.Errorf("campaign and list IDs cannot be nil")
	}
	if allocation < 0 || allocation > 100 {
		return nil, fmt.Errorf("allocation percentage must be 0-100, got %d", allocation)
	}
	return &CampaignList{
		CampaignID:           campaignID,
		ListID:               listID,
		AllocationPercentage: allocation,
		CreatedAt:            time.Now().UTC(),
	}, nil
}
