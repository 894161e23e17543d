package leadfilter_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/lead"
	"github.com/davidleathers/predictive-dialer-backend/internal/service/leadfilter"
)

func testLead(t *testing.T) *lead.Lead {
	t.Helper()
	l, err := lead.NewLead(uuid.New(), "Jane", "Doe", "+15551234567", 5)
	require.NoError(t, err)
	l.CallAttempts = 2
	l.LastCallOutcome = "NA"
	l.CustomFields["state"] = "CA"
	l.CustomFields["segment"] = "Gold"
	return l
}

func TestCompile_RuleBased(t *testing.T) {
	tests := []struct {
		name  string
		rules *leadfilter.RuleGroup
		want  bool
	}{
		{
			name: "single equality match",
			rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
				Rules:       []leadfilter.Rule{{Field: "first_name", Operator: leadfilter.OpEqual, Value: "jane"}},
			},
			want: true,
		},
		{
			name: "equality is numeric aware",
			rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
				Rules:       []leadfilter.Rule{{Field: "priority", Operator: leadfilter.OpEqual, Value: "05"}},
			},
			want: true,
		},
		{
			name: "not equal",
			rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
				Rules:       []leadfilter.Rule{{Field: "last_call_outcome", Operator: leadfilter.OpNotEqual, Value: "B"}},
			},
			want: true,
		},
		{
			name: "in list case-insensitive",
			rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
				Rules:       []leadfilter.Rule{{Field: "custom.state", Operator: leadfilter.OpIn, Values: []string{"ca", "NV"}}},
			},
			want: true,
		},
		{
			name: "in list miss",
			rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
				Rules:       []leadfilter.Rule{{Field: "custom.state", Operator: leadfilter.OpIn, Values: []string{"TX", "NV"}}},
			},
			want: false,
		},
		{
			name: "numeric ordered comparison",
			rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
				Rules:       []leadfilter.Rule{{Field: "call_attempts", Operator: leadfilter.OpLessEqual, Value: "2"}},
			},
			want: true,
		},
		{
			name: "numeric ordered comparison miss",
			rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
				Rules:       []leadfilter.Rule{{Field: "priority", Operator: leadfilter.OpGreaterEqual, Value: "8"}},
			},
			want: false,
		},
		{
			name: "contains is case-insensitive",
			rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
				Rules:       []leadfilter.Rule{{Field: "custom.segment", Operator: leadfilter.OpContains, Value: "gol"}},
			},
			want: true,
		},
		{
			name: "AND requires all members",
			rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
				Rules: []leadfilter.Rule{
					{Field: "first_name", Operator: leadfilter.OpEqual, Value: "Jane"},
					{Field: "custom.state", Operator: leadfilter.OpEqual, Value: "TX"},
				},
			},
			want: false,
		},
		{
			name: "OR needs any member",
			rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionOr,
				Rules: []leadfilter.Rule{
					{Field: "custom.state", Operator: leadfilter.OpEqual, Value: "TX"},
					{Field: "custom.state", Operator: leadfilter.OpEqual, Value: "CA"},
				},
			},
			want: true,
		},
		{
			name: "nested groups",
			rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
				Rules:       []leadfilter.Rule{{Field: "priority", Operator: leadfilter.OpGreaterEqual, Value: "3"}},
				Groups: []*leadfilter.RuleGroup{
					{
						Conjunction: leadfilter.ConjunctionOr,
						Rules: []leadfilter.Rule{
							{Field: "custom.state", Operator: leadfilter.OpEqual, Value: "CA"},
							{Field: "custom.state", Operator: leadfilter.OpEqual, Value: "NV"},
						},
					},
				},
			},
			want: true,
		},
		{
			name: "missing custom field never matches",
			rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
				Rules:       []leadfilter.Rule{{Field: "custom.region", Operator: leadfilter.OpNotEqual, Value: "west"}},
			},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &leadfilter.Filter{Name: "test", Type: leadfilter.TypeRuleBased, Rules: tt.rules}
			pred, err := leadfilter.Compile(f)
			require.NoError(t, err)
			assert.Equal(t, tt.want, pred(testLead(t)))
		})
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name   string
		filter *leadfilter.Filter
	}{
		{
			name:   "rule filter without rules",
			filter: &leadfilter.Filter{Name: "empty", Type: leadfilter.TypeRuleBased},
		},
		{
			name: "unknown field",
			filter: &leadfilter.Filter{Name: "bad field", Type: leadfilter.TypeRuleBased, Rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
				Rules:       []leadfilter.Rule{{Field: "ssn", Operator: leadfilter.OpEqual, Value: "x"}},
			}},
		},
		{
			name: "unknown operator",
			filter: &leadfilter.Filter{Name: "bad op", Type: leadfilter.TypeRuleBased, Rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
				Rules:       []leadfilter.Rule{{Field: "priority", Operator: leadfilter.Operator("~"), Value: "x"}},
			}},
		},
		{
			name: "empty IN list",
			filter: &leadfilter.Filter{Name: "empty in", Type: leadfilter.TypeRuleBased, Rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
				Rules:       []leadfilter.Rule{{Field: "custom.state", Operator: leadfilter.OpIn}},
			}},
		},
		{
			name: "invalid conjunction",
			filter: &leadfilter.Filter{Name: "bad conj", Type: leadfilter.TypeRuleBased, Rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.Conjunction("XOR"),
				Rules:       []leadfilter.Rule{{Field: "priority", Operator: leadfilter.OpEqual, Value: "5"}},
			}},
		},
		{
			name: "empty group",
			filter: &leadfilter.Filter{Name: "no members", Type: leadfilter.TypeRuleBased, Rules: &leadfilter.RuleGroup{
				Conjunction: leadfilter.ConjunctionAnd,
			}},
		},
		{
			name:   "unknown type",
			filter: &leadfilter.Filter{Name: "odd", Type: leadfilter.FilterType("GRAPHQL")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pred, err := leadfilter.Compile(tt.filter)
			require.Error(t, err)
			// Failed compilation degrades to a closed predicate.
			assert.False(t, pred(testLead(t)))
		})
	}
}

func TestCompile_NilFilterMatchesAll(t *testing.T) {
	pred, err := leadfilter.Compile(nil)
	require.NoError(t, err)
	assert.True(t, pred(testLead(t)))
}
