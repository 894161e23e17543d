package lead

import (
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
)

// AlternatePhone is an extra number attached to a lead, tried in priority
// order after the primary.
type AlternatePhone struct {
	ID     uuid.UUID `json:"id"`
	LeadID uuid.UUID `json:"lead_id"`

	Phone    values.PhoneNumber `json:"phone"`
	Label    string             `json:"label,omitempty"` // e.g. "work", "mobile"
	Priority int                `json:"priority"`        // ascending, lower tries first

	Status           PhoneStatus `json:"status"`
	IsActive         bool        `json:"is_active"`
	IsValidated      bool        `json:"is_validated"`
	ValidationResult string      `json:"validation_result,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

type PhoneStatus int

const (
	PhoneActive PhoneStatus = iota
	PhoneInvalid
	PhoneDisconnected
	PhoneRemoved
)

func (s PhoneStatus) String() string {
	switch s {
	case PhoneActive:
		return "active"
	case PhoneInvalid:
		return "invalid"
	case PhoneDisconnected:
		return "disconnected"
	case PhoneRemoved:
		return "removed"
	default:
		return "unknown"
	}
}

// Dialable reports whether this phone may receive calls
func (p *AlternatePhone) Dialable() bool {
	return p.Status == PhoneActive && p.IsActive
}

// DialablePhones returns the numbers to try for a lead, primary first unless
// the primary has been invalidated, then alternates ordered by ascending
// priority.
func DialablePhones(l *Lead, alternates []*AlternatePhone, primaryValid bool) []values.PhoneNumber {
	var out []values.PhoneNumber
	if primaryValid && !l.Phone.IsEmpty() {
		out = append(out, l.Phone)
	}

	sorted := make([]*AlternatePhone, 0, len(alternates))
	for _, p := range alternates {
		if p.Dialable() {
			sorted = append(sorted, p)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority < sorted[j].Priority
	})

	for _, p := range sorted {
		out = append(out, p.Phone)
	}
	return out
}
