package lead

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
)

// Lead is a dialable contact belonging to exactly one list. The engine
// mutates it on every dial attempt and disposition; leads are soft-excluded,
// never deleted.
type Lead struct {
	ID     uuid.UUID `json:"id"`
	ListID uuid.UUID `json:"list_id"`

	FirstName string             `json:"first_name"`
	LastName  string             `json:"last_name"`
	Phone     values.PhoneNumber `json:"phone"`
	TimeZone  string             `json:"time_zone,omitempty"`

	Status   Status `json:"status"`
	Priority int    `json:"priority"` // 1-10, higher dials first

	CallAttempts        int        `json:"call_attempts"`
	LastCalledAt        *time.Time `json:"last_called_at,omitempty"`
	NextCallAt          *time.Time `json:"next_call_at,omitempty"`
	ScheduledCallbackAt *time.Time `json:"scheduled_callback_at,omitempty"`

	LastCallOutcome string     `json:"last_call_outcome,omitempty"`
	Disposition     *uuid.UUID `json:"disposition,omitempty"`

	IsExcluded  bool `json:"is_excluded"`
	HasOptedOut bool `json:"has_opted_out"`

	// Imported attributes beyond the fixed columns, parsed once at the
	// import boundary. Filter predicates resolve unknown fields here.
	CustomFields map[string]string `json:"custom_fields,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Status int

const (
	StatusNew Status = iota
	StatusInProgress
	StatusContacted
	StatusCallback
	StatusConverted
	StatusDoNotCall
	StatusExcluded
)

func (s Status) String() string {
	switch s {
	case StatusNew:
		return "new"
	case StatusInProgress:
		return "in_progress"
	case StatusContacted:
		return "contacted"
	case StatusCallback:
		return "callback"
	case StatusConverted:
		return "converted"
	case StatusDoNotCall:
		return "do_not_call"
	case StatusExcluded:
		return "excluded"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether the status permanently removes the lead from
// selection.
func (s Status) IsTerminal() bool {
	return s == StatusDoNotCall || s == StatusExcluded || s == StatusConverted
}

// NewLead creates a lead with validation
func NewLead(listID uuid.UUID, firstName, lastName, phone string, priority int) (*Lead, error) {
	if listID == uuid.Nil {
		return nil, fmt.Errorf("list ID cannot be nil")
	}

	number, err := values.NewPhoneNumber(phone)
	if err != nil {
		return nil, fmt.Errorf("invalid phone number: %w", err)
	}

	if priority < 1 || priority > 10 {
		return nil, fmt.Errorf("priority must be between 1 and 10, got %d", priority)
	}

	now := clock.Now()
	return &Lead{
		ID:           uuid.New(),
		ListID:       listID,
		FirstName:    firstName,
		LastName:     lastName,
		Phone:        number,
		Status:       StatusNew,
		Priority:     priority,
		CustomFields: make(map[string]string),
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// Callable reports whether the lead may ever be selected again. Excluded,
// opted-out and terminal-status leads are permanently out.
func (l *Lead) Callable() bool {
	if l.IsExcluded || l.HasOptedOut {
		return false
	}
	return !l.Status.IsTerminal()
}

// DueAt returns the earliest time the lead may be dialed next. A scheduled
// callback takes precedence over a recycle time.
func (l *Lead) DueAt() time.Time {
	if l.ScheduledCallbackAt != nil {
		return *l.ScheduledCallbackAt
	}
	if l.NextCallAt != nil {
		return *l.NextCallAt
	}
	return l.CreatedAt
}

// RecordAttempt marks the start of a dial attempt
func (l *Lead) RecordAttempt() {
	now := clock.Now()
	l.CallAttempts++
	l.LastCalledAt = &now
	l.Status = StatusInProgress
	l.UpdatedAt = now
}

// ScheduleRecycle sets the next eligible call time
func (l *Lead) ScheduleRecycle(at time.Time) {
	l.NextCallAt = &at
	l.UpdatedAt = clock.Now()
}

// ScheduleCallback records an agent-set callback
func (l *Lead) ScheduleCallback(at time.Time) error {
	if at.Before(clock.Now()) {
		return fmt.Errorf("callback time cannot be in the past")
	}
	l.ScheduledCallbackAt = &at
	l.NextCallAt = &at
	l.Status = StatusCallback
	l.UpdatedAt = clock.Now()
	return nil
}

// Exclude soft-removes the lead from all future selection
func (l *Lead) Exclude() {
	l.IsExcluded = true
	l.Status = StatusExcluded
	l.UpdatedAt = clock.Now()
}

// MarkDoNotCall flags the lead after a DNC disposition
func (l *Lead) MarkDoNotCall() {
	l.Status = StatusDoNotCall
	l.IsExcluded = true
	l.UpdatedAt = clock.Now()
}

// Field resolves an attribute name for filter evaluation. Fixed columns are
// checked first, then custom fields.
func (l *Lead) Field(name string) (string, bool) {
	switch name {
	case "first_name":
		return l.FirstName, true
	case "last_name":
		return l.LastName, true
	case "phone":
		return l.Phone.String(), true
	case "time_zone":
		return l.TimeZone, true
	case "status":
		return l.Status.String(), true
	case "priority":
		return fmt.Sprintf("%d", l.Priority), true
	case "call_attempts":
		return fmt.Sprintf("%d", l.CallAttempts), true
	case "last_call_outcome":
		return l.LastCallOutcome, true
	}
	v, ok := l.CustomFields[name]
	return v, ok
}
