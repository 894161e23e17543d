package leadselect

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/lead"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/leadfilter"
)

// Service chooses the next leads to dial for a campaign.
type Service interface {
	// Next proposes up to n claimed (lead, phone) candidates. Every returned
	// candidate holds a claim; the caller must Release leads it does not
	// dial, and Release fires automatically when a claim expires.
	Next(ctx context.Context, c *campaign.Campaign, n int) ([]Candidate, error)
	// Release frees a claimed lead for re-selection
	Release(leadID uuid.UUID)
	// Claimed reports whether a lead is currently reserved
	Claimed(leadID uuid.UUID) bool
}

// Candidate is a claimed lead with the number to dial.
type Candidate struct {
	Lead  *lead.Lead
	List  *campaign.List
	Phone values.PhoneNumber
}

// ListAssignment pairs a list with its campaign link settings.
type ListAssignment struct {
	List *campaign.List
	Link *campaign.CampaignList
}

// LeadRepository provides lead pools per list.
type LeadRepository interface {
	// FindDialable returns callable leads in a list due at or before the
	// given time with fewer than maxAttempts attempts. inOrder selects
	// creation order; otherwise the store returns an unbiased random draw.
	FindDialable(ctx context.Context, listID uuid.UUID, dueBefore time.Time, maxAttempts int, inOrder bool, limit int) ([]*lead.Lead, error)
	// AlternatePhones returns the extra numbers for a lead
	AlternatePhones(ctx context.Context, leadID uuid.UUID) ([]*lead.AlternatePhone, error)
}

// CampaignRepository resolves list assignments and filters.
type CampaignRepository interface {
	// Assignments returns the active lists attached to a campaign
	Assignments(ctx context.Context, campaignID uuid.UUID) ([]ListAssignment, error)
	// Filter returns the lead filter assigned to a campaign, or nil
	Filter(ctx context.Context, campaignID uuid.UUID) (*leadfilter.Filter, error)
}
