package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/agent"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/calllog"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/values"
)

// EventType labels inbound telephony events. The dispatcher never polls;
// transitions are driven exclusively by these.
type EventType string

const (
	EventRinging  EventType = "ringing"
	EventAnswered EventType = "answered"
	EventNoAnswer EventType = "no_answer"
	EventBusy     EventType = "busy"
	EventFailed   EventType = "failed"
	EventHangup   EventType = "hangup"
	EventAMD      EventType = "amd_result"
)

// AMDVerdict is the black-box answering-machine classifier output.
type AMDVerdict string

const (
	AMDUnknown AMDVerdict = ""
	AMDHuman   AMDVerdict = "human"
	AMDMachine AMDVerdict = "machine"
)

// Event is one inbound telephony event keyed by call ID.
type Event struct {
	CallID       uuid.UUID  `json:"call_id"`
	Type         EventType  `json:"type"`
	Timestamp    time.Time  `json:"timestamp"`
	HangupReason string     `json:"hangup_reason,omitempty"`
	AMD          AMDVerdict `json:"amd,omitempty"`
	Error        string     `json:"error,omitempty"`
}

// Transport issues outbound commands to the telephony collaborator.
type Transport interface {
	Dial(ctx context.Context, callID uuid.UUID, phone values.PhoneNumber) error
	Hangup(ctx context.Context, callID uuid.UUID, reason string) error
	PlayMessage(ctx context.Context, callID uuid.UUID, messageID string) error
	TransferToAgent(ctx context.Context, callID uuid.UUID, agentID uuid.UUID) error
}

// AgentRouter reserves and releases agents for connected calls.
type AgentRouter interface {
	// Reserve finds an eligible idle agent for the campaign and atomically
	// assigns the call to it. Returns errors.ErrNoEligibleAgent (wrapped or
	// direct) when none is available right now.
	Reserve(ctx context.Context, campaignID uuid.UUID, requiredSkill int) (*agent.Agent, error)
	// Release returns the agent's slot after its call terminates.
	Release(ctx context.Context, agentID uuid.UUID) error
}

// CallLogRepository persists dial attempts.
type CallLogRepository interface {
	Create(ctx context.Context, log *calllog.CallLog) error
	Update(ctx context.Context, log *calllog.CallLog) error
}

// TerminalHandler receives each call log exactly once when it reaches a
// terminal state. The engine wires this to the disposition pipeline and
// lead claim release.
type TerminalHandler func(ctx context.Context, log *calllog.CallLog)

// Config bounds dispatcher timing.
type Config struct {
	// WatchdogTimeout forces Failed->Ended when no terminal event arrives.
	WatchdogTimeout time.Duration
	// AgentRetryInterval spaces reservation retries inside the grace period.
	AgentRetryInterval time.Duration
}

// DefaultConfig returns production timing defaults
func DefaultConfig() Config {
	return Config{
		WatchdogTimeout:    2 * time.Minute,
		AgentRetryInterval: 250 * time.Millisecond,
	}
}
