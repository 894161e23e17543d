package leadfilter

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/lead"
)

// FilterType selects how a filter definition is interpreted.
type FilterType string

const (
	TypeRuleBased  FilterType = "RULE_BASED"
	TypeSQL        FilterType = "SQL"
	TypeFieldBased FilterType = "FIELD_BASED"
)

// Filter is a named predicate scoping a campaign or list to a subset of
// leads. Exactly one of Rules / SQLText is populated depending on Type;
// FIELD_BASED filters are a flat AND of rules.
type Filter struct {
	ID   uuid.UUID  `json:"id"`
	Name string     `json:"name"`
	Type FilterType `json:"type"`

	Rules   *RuleGroup `json:"rules,omitempty"`
	SQLText string     `json:"sql_text,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// Predicate is a compiled filter ready for repeated evaluation.
type Predicate func(l *lead.Lead) bool

// MatchAll is the predicate used when no filter is assigned.
func MatchAll(*lead.Lead) bool { return true }

// matchNone is what a failed compilation degrades to: the filter fails
// closed until the definition is corrected.
func matchNone(*lead.Lead) bool { return false }
