package calllog

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
)

// CallLog records a single dial attempt. The dispatcher owns it exclusively
// until it reaches a terminal state, after which only the disposition engine
// performs one final update.
type CallLog struct {
	ID         uuid.UUID `json:"id"`
	CampaignID uuid.UUID `json:"campaign_id"`
	ListID     uuid.UUID `json:"list_id"`
	LeadID     uuid.UUID `json:"lead_id"`

	Phone   values.PhoneNumber `json:"phone"`
	Attempt int                `json:"attempt"`

	CallStatus Status `json:"call_status"`
	// ResultStatus preserves the outcome status (connected, no_answer,
	// busy, failed) once the call reaches Ended.
	ResultStatus Status `json:"result_status"`

	InitiatedAt time.Time  `json:"initiated_at"`
	RingingAt   *time.Time `json:"ringing_at,omitempty"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`

	RingDurationSeconds int `json:"ring_duration_seconds"`
	TalkDurationSeconds int `json:"talk_duration_seconds"`
	DurationSeconds     int `json:"duration_seconds"`

	AgentID *uuid.UUID `json:"agent_id,omitempty"`

	AnsweringMachineDetected bool `json:"answering_machine_detected"`
	Abandoned                bool `json:"abandoned"`

	HangupReason string `json:"hangup_reason,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	// Trunk cost for the attempt, recorded for operational reporting.
	Cost decimal.Decimal `json:"cost"`

	DispositionID      *uuid.UUID `json:"disposition_id,omitempty"`
	DispositionApplied bool       `json:"disposition_applied"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Status int

const (
	StatusInitiated Status = iota
	StatusRinging
	StatusConnected
	StatusNoAnswer
	StatusBusy
	StatusFailed
	StatusEnded
)

func (s Status) String() string {
	switch s {
	case StatusInitiated:
		return "initiated"
	case StatusRinging:
		return "ringing"
	case StatusConnected:
		return "connected"
	case StatusNoAnswer:
		return "no_answer"
	case StatusBusy:
		return "busy"
	case StatusFailed:
		return "failed"
	case StatusEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status ends the dispatcher's ownership
func (s Status) Terminal() bool {
	return s == StatusEnded
}

// New creates a call log for a dial attempt about to be placed
func New(campaignID, listID, leadID uuid.UUID, phone values.PhoneNumber, attempt int) (*CallLog, error) {
	if campaignID == uuid.Nil || leadID == uuid.Nil {
		return nil, fmt.Errorf("campaign and lead IDs cannot be nil")
	}
	if phone.IsEmpty() {
		return nil, fmt.Errorf("phone cannot be empty")
	}
	if attempt < 1 {
		return nil, fmt.Errorf("attempt must be >= 1, got %d", attempt)
	}

	now := clock.Now()
	return &CallLog{
		ID:          uuid.New(),
		CampaignID:  campaignID,
		ListID:      listID,
		LeadID:      leadID,
		Phone:       phone,
		Attempt:     attempt,
		CallStatus:  StatusInitiated,
		InitiatedAt: now,
		Cost:        decimal.Zero,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// valid transitions for the attempt lifecycle
var transitions = map[Status][]Status{
	StatusInitiated: {StatusRinging, StatusConnected, StatusFailed, StatusNoAnswer, StatusBusy},
	StatusRinging:   {StatusConnected, StatusNoAnswer, StatusBusy, StatusFailed},
	StatusConnected: {StatusEnded, StatusFailed},
	StatusNoAnswer:  {StatusEnded},
	StatusBusy:      {StatusEnded},
	StatusFailed:    {StatusEnded},
}

// Transition moves the call to a new status, enforcing the lifecycle graph
func (c *CallLog) Transition(to Status) error {
	if c.CallStatus.Terminal() {
		return fmt.Errorf("call %s is already terminal", c.ID)
	}
	for _, allowed := range transitions[c.CallStatus] {
		if allowed == to {
			c.applyTransition(to)
			return nil
		}
	}
	return fmt.Errorf("invalid transition %s -> %s for call %s", c.CallStatus, to, c.ID)
}

func (c *CallLog) applyTransition(to Status) {
	now := clock.Now()
	switch to {
	case StatusRinging:
		c.RingingAt = &now
	case StatusConnected:
		c.ConnectedAt = &now
	case StatusEnded:
		c.EndedAt = &now
		c.ResultStatus = c.CallStatus
		c.finalizeDurations(now)
	}
	c.CallStatus = to
	c.UpdatedAt = now
}

func (c *CallLog) finalizeDurations(endedAt time.Time) {
	if c.RingingAt != nil {
		ringEnd := endedAt
		if c.ConnectedAt != nil {
			ringEnd = *c.ConnectedAt
		}
		c.RingDurationSeconds = int(ringEnd.Sub(*c.RingingAt).Seconds())
	}
	if c.ConnectedAt != nil {
		c.TalkDurationSeconds = int(endedAt.Sub(*c.ConnectedAt).Seconds())
	}
	c.DurationSeconds = int(endedAt.Sub(c.InitiatedAt).Seconds())
}

// AssignAgent records the routed agent while the call is live
func (c *CallLog) AssignAgent(agentID uuid.UUID) error {
	if c.CallStatus != StatusConnected {
		return fmt.Errorf("cannot assign agent in status %s", c.CallStatus)
	}
	c.AgentID = &agentID
	c.UpdatedAt = clock.Now()
	return nil
}

// MarkAbandoned flags a connect that was shed for lack of an agent
func (c *CallLog) MarkAbandoned() {
	c.Abandoned = true
	c.UpdatedAt = clock.Now()
}

// MarkMachine records an AMD machine verdict
func (c *CallLog) MarkMachine() {
	c.AnsweringMachineDetected = true
	c.UpdatedAt = clock.Now()
}

// Fail records an error and forces the call toward termination
func (c *CallLog) Fail(reason string) {
	c.ErrorMessage = reason
	if c.CallStatus != StatusFailed && !c.CallStatus.Terminal() {
		c.applyTransition(StatusFailed)
	}
}
