package dnc

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/errors"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
)

// Scope determines which campaigns and lists a DNC list applies to.
type Scope string

const (
	ScopeSystemWide       Scope = "SYSTEM_WIDE"
	ScopeCampaignSpecific Scope = "CAMPAIGN_SPECIFIC"
	ScopeListSpecific     Scope = "LIST_SPECIFIC"
)

// List is a named collection of do-not-call numbers with a scope.
type List struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Scope Scope     `json:"scope"`

	// Set when the scope is campaign- or list-specific.
	CampaignID *uuid.UUID `json:"campaign_id,omitempty"`
	ListID     *uuid.UUID `json:"list_id,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// NewList creates a DNC list, validating scope references
func NewList(name string, scope Scope, campaignID, listID *uuid.UUID) (*List, error) {
	if name == "" {
		return nil, errors.NewValidationError("INVALID_DNC_LIST", "DNC list name cannot be empty")
	}
	switch scope {
	case ScopeSystemWide:
	case ScopeCampaignSpecific:
		if campaignID == nil {
			return nil, errors.NewValidationError("INVALID_DNC_SCOPE", "campaign-specific DNC list requires a campaign ID")
		}
	case ScopeListSpecific:
		if listID == nil {
			return nil, errors.NewValidationError("INVALID_DNC_SCOPE", "list-specific DNC list requires a list ID")
		}
	default:
		return nil, errors.NewValidationError("INVALID_DNC_SCOPE", "unknown DNC scope")
	}

	return &List{
		ID:         uuid.New(),
		Name:       name,
		Scope:      scope,
		CampaignID: campaignID,
		ListID:     listID,
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// AppliesTo reports whether this list scopes over the given campaign/list
// pair. System-wide lists always apply.
func (l *List) AppliesTo(campaignID, listID uuid.UUID) bool {
	if !l.IsActive {
		return false
	}
	switch l.Scope {
	case ScopeSystemWide:
		return true
	case ScopeCampaignSpecific:
		return l.CampaignID != nil && *l.CampaignID == campaignID
	case ScopeListSpecific:
		return l.ListID != nil && *l.ListID == listID
	}
	return false
}

// Number is an append-only entry on a DNC list, keyed by normalized phone
// plus country code, with optional expiry.
type Number struct {
	ID          uuid.UUID          `json:"id"`
	DncListID   uuid.UUID          `json:"dnc_list_id"`
	Phone       values.PhoneNumber `json:"phone"`
	CountryCode string             `json:"country_code"`

	Reason    string     `json:"reason,omitempty"`
	AddedAt   time.Time  `json:"added_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// NewNumber creates a DNC entry from a raw phone string
func NewNumber(dncListID uuid.UUID, rawPhone, reason string) (*Number, error) {
	if dncListID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_DNC_LIST", "DNC list ID cannot be nil")
	}
	phone, err := values.NewPhoneNumber(rawPhone)
	if err != nil {
		return nil, errors.NewValidationError("INVALID_PHONE_NUMBER", "invalid phone number format").WithCause(err)
	}
	return &Number{
		ID:          uuid.New(),
		DncListID:   dncListID,
		Phone:       phone,
		CountryCode: phone.CountryCode(),
		Reason:      reason,
		AddedAt:     time.Now().UTC(),
	}, nil
}

// Active reports whether the entry is still in force at the given time
func (n *Number) Active(at time.Time) bool {
	return n.ExpiresAt == nil || n.ExpiresAt.After(at)
}
