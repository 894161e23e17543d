package leadfilter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidleathers/predictive-dialer-backend/internal/service/leadfilter"
)

func TestParseSQL(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		match bool
	}{
		{
			name:  "single comparison",
			text:  "first_name = 'Jane'",
			match: true,
		},
		{
			name:  "leading WHERE tolerated",
			text:  "WHERE first_name = 'Jane'",
			match: true,
		},
		{
			name:  "AND of two comparisons",
			text:  "first_name = 'Jane' AND custom.state = 'CA'",
			match: true,
		},
		{
			name:  "AND short-circuits on miss",
			text:  "first_name = 'Jane' AND custom.state = 'TX'",
			match: false,
		},
		{
			name:  "OR matches either side",
			text:  "custom.state = 'TX' OR custom.state = 'CA'",
			match: true,
		},
		{
			name:  "parenthesized precedence",
			text:  "priority >= 3 AND (custom.state = 'TX' OR custom.state = 'CA')",
			match: true,
		},
		{
			name:  "IN list",
			text:  "custom.state IN ('CA', 'NV')",
			match: true,
		},
		{
			name:  "not-equal angle form",
			text:  "last_call_outcome <> 'B'",
			match: true,
		},
		{
			name:  "LIKE with wildcards",
			text:  "custom.segment LIKE '%old%'",
			match: true,
		},
		{
			name:  "numeric comparison unquoted",
			text:  "call_attempts <= 2",
			match: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			group, err := leadfilter.ParseSQL(tt.text)
			require.NoError(t, err)
			pred, err := leadfilter.Compile(&leadfilter.Filter{
				Name:    "sql",
				Type:    leadfilter.TypeRuleBased,
				Rules:   group,
				SQLText: tt.text,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.match, pred(testLead(t)))
		})
	}
}

func TestParseSQL_Errors(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty text", ""},
		{"whitespace only", "   "},
		{"unsupported operator", "priority > 3"},
		{"missing closing paren", "(first_name = 'Jane'"},
		{"dangling tokens", "first_name = 'Jane' extra"},
		{"malformed IN", "custom.state IN 'CA'"},
		{"IN without terminator", "custom.state IN ('CA' 'NV')"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := leadfilter.ParseSQL(tt.text)
			assert.Error(t, err)
		})
	}
}

func TestCompile_SQLFilter(t *testing.T) {
	f := &leadfilter.Filter{
		Name:    "ca-gold",
		Type:    leadfilter.TypeSQL,
		SQLText: "custom.state = 'CA' AND custom.segment LIKE 'Gold%'",
	}

	pred, err := leadfilter.Compile(f)
	require.NoError(t, err)
	assert.True(t, pred(testLead(t)))

	bad := &leadfilter.Filter{Name: "broken", Type: leadfilter.TypeSQL, SQLText: "priority >"}
	pred, err = leadfilter.Compile(bad)
	require.Error(t, err)
	assert.False(t, pred(testLead(t)))
}
