package disposition

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/calllog"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/campaign"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/disposition"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/dnc"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/lead"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
)

// Service applies a disposition to a completed call and feeds the outcome
// back into lead scheduling.
type Service interface {
	// Apply validates and applies a disposition code to a terminal call
	// log. Re-applying the same code to an already-finalized log is a
	// no-op. A validation failure mutates nothing.
	Apply(ctx context.Context, callLogID, codeID uuid.UUID, agentFields map[string]string) (*Result, error)
}

// Result reports what a successful (or idempotent) application did.
type Result struct {
	Lead           *lead.Lead
	Code           *disposition.Code
	Sale           bool
	CallbackAt     *time.Time
	NextCallAt     *time.Time
	AddedToDNC     bool
	AlreadyApplied bool
}

// Repository is the persistence boundary. ApplyOutcome must persist the
// lead mutation, call log finalization, rollup counter deltas and any DNC
// entry as one logical unit, so a concurrent reporting read never sees one
// without the others.
type Repository interface {
	CallLog(ctx context.Context, id uuid.UUID) (*calllog.CallLog, error)
	Lead(ctx context.Context, id uuid.UUID) (*lead.Lead, error)
	List(ctx context.Context, id uuid.UUID) (*campaign.List, error)
	Campaign(ctx context.Context, id uuid.UUID) (*campaign.Campaign, error)
	Code(ctx context.Context, id uuid.UUID) (*disposition.Code, error)
	ApplyOutcome(ctx context.Context, outcome *Outcome) error
}

// Outcome is the atomic write set produced by one disposition.
type Outcome struct {
	CallLog *calllog.CallLog
	Lead    *lead.Lead
	List    *campaign.List

	// Counter deltas applied to the list (and campaign rollups).
	CalledDelta    int
	ContactedDelta int

	// Optional DNC escalation entry.
	DNCNumber *dnc.Number
}

// DNCInvalidator drops cached DNC verdicts for a phone after an escalation,
// so a stale negative cannot keep a just-listed number dialable.
type DNCInvalidator interface {
	Invalidate(ctx context.Context, phone values.PhoneNumber) error
}

// AgentFieldCallbackAt is the agent-supplied field carrying the callback
// time for codes that require one, in RFC 3339.
const AgentFieldCallbackAt = "callback_at"
