package disposition

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/errors"
)

// Category groups disposition codes into a two-level taxonomy.
type Category struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	SortOrder int       `json:"sort_order"`
	CreatedAt time.Time `json:"created_at"`
}

// Code is an outcome an agent or the system assigns to a completed call.
// Its flags drive lead recycling, callbacks, conversions and DNC escalation.
type Code struct {
	ID         uuid.UUID `json:"id"`
	CategoryID uuid.UUID `json:"category_id"`
	Code       string    `json:"code"` // short mnemonic, e.g. "SALE", "NI", "CALLBK"
	Name       string    `json:"name"`

	IsContact bool `json:"is_contact"`
	IsSale    bool `json:"is_sale"`

	ShouldRecycle     bool `json:"should_recycle"`
	RecycleDelayHours int  `json:"recycle_delay_hours"`

	RequiresCallback bool `json:"requires_callback"`
	AddsToDNC        bool `json:"adds_to_dnc"`

	// Field names the agent must supply before the disposition is accepted.
	RequiredFields []string `json:"required_fields,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// NewCode creates a disposition code with validation
func NewCode(categoryID uuid.UUID, code, name string) (*Code, error) {
	if categoryID == uuid.Nil {
		return nil, errors.NewValidationError("INVALID_CATEGORY", "category ID cannot be nil")
	}
	if code == "" || name == "" {
		return nil, errors.NewValidationError("INVALID_DISPOSITION", "code and name cannot be empty")
	}
	return &Code{
		ID:         uuid.New(),
		CategoryID: categoryID,
		Code:       code,
		Name:       name,
		IsActive:   true,
		CreatedAt:  time.Now().UTC(),
	}, nil
}

// ValidateFields checks the agent-supplied fields against RequiredFields.
// Missing fields are returned so the caller can surface them.
func (c *Code) ValidateFields(supplied map[string]string) []string {
	var missing []string
	for _, f := range c.RequiredFields {
		if v, ok := supplied[f]; !ok || v == "" {
			missing = append(missing, f)
		}
	}
	return missing
}

// RecycleDelay returns the recycle delay as a duration
func (c *Code) RecycleDelay() time.Duration {
	return time.Duration(c.RecycleDelayHours) * time.Hour
}
