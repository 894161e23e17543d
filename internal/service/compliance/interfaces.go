package compliance

import (
	"context"

	"github.com/google/uuid"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/lead"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
)

// Service scrubs a candidate phone number before any dial attempt.
type Service interface {
	// Check runs the compliance checks in order and returns the first deny,
	// or an allow decision. A deny only removes the candidate from the
	// current round.
	Check(ctx context.Context, req CheckRequest) (Decision, error)
}

// DNCChecker answers whether a phone is on any DNC list applicable to the
// campaign/list pair. Implementations are expected to consult a cache in
// front of the authoritative store.
type DNCChecker interface {
	IsListed(ctx context.Context, phone values.PhoneNumber, campaignID, listID uuid.UUID) (listed bool, source string, err error)
}

// LeadMarker flags leads for future selection efficiency after a DNC hit.
type LeadMarker interface {
	MarkExcluded(ctx context.Context, leadID uuid.UUID) error
}

// CheckRequest carries one candidate through scrubbing.
type CheckRequest struct {
	Lead     *lead.Lead
	Phone    values.PhoneNumber
	Campaign *campaign.Campaign
	List     *campaign.List
}

// DenyReason classifies why a candidate was rejected.
type DenyReason string

const (
	DenyNone          DenyReason = ""
	DenyExcluded      DenyReason = "lead_excluded"
	DenyOptedOut      DenyReason = "lead_opted_out"
	DenyDNCMatch      DenyReason = "dnc_match"
	DenyOutsideWindow DenyReason = "outside_calling_window"
)

// Decision is the result of a scrub. Deny is expected and non-fatal.
type Decision struct {
	Allowed bool
	Reason  DenyReason
	Detail  string
}

// Allow is the passing decision
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny rejects the candidate for this round
func Deny(reason DenyReason, detail string) Decision {
	return Decision{Allowed: false, Reason: reason, Detail: detail}
}
