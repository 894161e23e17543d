package campaign

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Campaign owns pacing, compliance-window and retry policy for a set of
// lead lists.
type Campaign struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`

	IsActive bool `json:"is_active"`
	IsPaused bool `json:"is_paused"`

	// Pacing
	DialingRatio              float64 `json:"dialing_ratio"` // calls per available agent
	MaxConcurrentCalls        int     `json:"max_concurrent_calls"`
	ApplyRatioToIdleAgentsOnly bool   `json:"apply_ratio_to_idle_agents_only"`

	// Calling window
	CallStartTime      string `json:"call_start_time"` // "HH:MM" local
	CallEndTime        string `json:"call_end_time"`   // "HH:MM" local
	AllowedDaysOfWeek  []time.Weekday `json:"allowed_days_of_week"`
	TimeZone           string `json:"time_zone"`
	RespectLeadTimeZone bool  `json:"respect_lead_time_zone"`

	// Retry policy
	MaxCallAttempts int           `json:"max_call_attempts"`
	CallAttemptDelay time.Duration `json:"call_attempt_delay"`
	MinCallInterval  time.Duration `json:"min_call_interval"`

	// Answering machine handling
	AMDEnabled             bool                   `json:"amd_enabled"`
	AnsweringMachineAction AnsweringMachineAction `json:"answering_machine_action"`

	// A connected call with no agent within this threshold is abandoned.
	AbandonThreshold time.Duration `json:"abandon_threshold"`

	// Required agent skill level for routed calls.
	RequiredSkillLevel int `json:"required_skill_level"`

	FilterID *uuid.UUID `json:"filter_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type AnsweringMachineAction int

const (
	AMDActionHangup AnsweringMachineAction = iota
	AMDActionLeaveMessage
	AMDActionTransferToAgent
)

func (a AnsweringMachineAction) String() string {
	switch a {
	case AMDActionHangup:
		return "hangup"
	case AMDActionLeaveMessage:
		return "leave_message"
	case AMDActionTransferToAgent:
		return "transfer_to_agent"
	default:
		return "unknown"
	}
}

// NewCampaign creates a campaign with sane pacing defaults
func NewCampaign(name string) (*Campaign, error) {
	if name == "" {
		return nil, fmt.Errorf("campaign name cannot be empty")
	}

	now := time.Now().UTC()
	return &Campaign{
		ID:                 uuid.New(),
		Name:               name,
		DialingRatio:       1.0,
		MaxConcurrentCalls: 10,
		CallStartTime:      "09:00",
		CallEndTime:        "20:00",
		AllowedDaysOfWeek:  []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		TimeZone:           "UTC",
		MaxCallAttempts:    3,
		CallAttemptDelay:   4 * time.Hour,
		MinCallInterval:    time.Hour,
		AbandonThreshold:   5 * time.Second,
		AMDEnabled:         true,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

// Dialable reports whether the campaign may start new calls at all
func (c *Campaign) Dialable() bool {
	return c.IsActive && !c.IsPaused
}

// Location resolves the campaign time zone, falling back to UTC
func (c *Campaign) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimeZone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// WithinWindow reports whether now falls inside the calling window in the
// given location. Start/end strings that fail to parse deny the window
// (fails closed).
func (c *Campaign) WithinWindow(now time.Time, loc *time.Location) bool {
	local := now.In(loc)

	if len(c.AllowedDaysOfWeek) > 0 {
		allowed := false
		for _, d := range c.AllowedDaysOfWeek {
			if local.Weekday() == d {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	start, err := parseClock(c.CallStartTime)
	if err != nil {
		return false
	}
	end, err := parseClock(c.CallEndTime)
	if err != nil {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	return minutes >= start && minutes < end
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
