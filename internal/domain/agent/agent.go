package agent

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Agent is a call-center operator the dispatcher may route connected calls to.
type Agent struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`

	Status     Status `json:"status"`
	IsLoggedIn bool   `json:"is_logged_in"`

	ActiveCalls        int `json:"active_calls"`
	MaxConcurrentCalls int `json:"max_concurrent_calls"`
	SkillLevel         int `json:"skill_level"`

	QualifiedCampaigns []uuid.UUID `json:"qualified_campaigns"`

	TodayCallsHandled int `json:"today_calls_handled"`

	UpdatedAt time.Time `json:"updated_at"`
}

type Status int

const (
	StatusOffline Status = iota
	StatusAvailable
	StatusOnCall
	StatusWrapUp
	StatusBreak
)

func (s Status) String() string {
	switch s {
	case StatusOffline:
		return "offline"
	case StatusAvailable:
		return "available"
	case StatusOnCall:
		return "on_call"
	case StatusWrapUp:
		return "wrap_up"
	case StatusBreak:
		return "break"
	default:
		return "unknown"
	}
}

// NewAgent creates an agent with single-call capacity by default
func NewAgent(name string, skillLevel int) (*Agent, error) {
	if name == "" {
		return nil, fmt.Errorf("agent name cannot be empty")
	}
	if skillLevel < 0 {
		return nil, fmt.Errorf("skill level cannot be negative")
	}
	return &Agent{
		ID:                 uuid.New(),
		Name:               name,
		Status:             StatusOffline,
		SkillLevel:         skillLevel,
		MaxConcurrentCalls: 1,
		UpdatedAt:          time.Now().UTC(),
	}, nil
}

// Idle reports whether the agent is logged in, available and under capacity
func (a *Agent) Idle() bool {
	return a.IsLoggedIn && a.Status == StatusAvailable && a.ActiveCalls < a.MaxConcurrentCalls
}

// QualifiedFor reports whether the agent may take calls for a campaign
func (a *Agent) QualifiedFor(campaignID uuid.UUID) bool {
	for _, id := range a.QualifiedCampaigns {
		if id == campaignID {
			return true
		}
	}
	return false
}

// EligibleFor combines login, availability, qualification, capacity and
// skill into the routing eligibility check.
func (a *Agent) EligibleFor(campaignID uuid.UUID, requiredSkill int) bool {
	return a.Idle() && a.QualifiedFor(campaignID) && a.SkillLevel >= requiredSkill
}

// AssignCall increments the active-call count, enforcing capacity
func (a *Agent) AssignCall() error {
	if a.ActiveCalls >= a.MaxConcurrentCalls {
		return fmt.Errorf("agent %s is at capacity (%d active calls)", a.ID, a.ActiveCalls)
	}
	a.ActiveCalls++
	a.Status = StatusOnCall
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// ReleaseCall decrements the active-call count after a call ends
func (a *Agent) ReleaseCall() {
	if a.ActiveCalls > 0 {
		a.ActiveCalls--
	}
	a.TodayCallsHandled++
	if a.ActiveCalls == 0 {
		a.Status = StatusWrapUp
	}
	a.UpdatedAt = time.Now().UTC()
}
