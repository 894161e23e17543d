package leadfilter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/errors"
	"github.com/davidleathers/predictive-dialer-backend/internal/domain/lead"
)

// Operator is a comparison in a filter rule.
type Operator string

const (
	OpEqual        Operator = "="
	OpNotEqual     Operator = "!="
	OpIn           Operator = "IN"
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
	OpContains     Operator = "CONTAINS"
)

// Rule compares one lead field against a value (or value set for IN).
type Rule struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    string   `json:"value,omitempty"`
	Values   []string `json:"values,omitempty"` // IN operator
}

// Conjunction joins the members of a rule group.
type Conjunction string

const (
	ConjunctionAnd Conjunction = "AND"
	ConjunctionOr  Conjunction = "OR"
)

// RuleGroup is a conjunction/disjunction tree of rules and nested groups.
type RuleGroup struct {
	Conjunction Conjunction  `json:"conjunction"`
	Rules       []Rule       `json:"rules,omitempty"`
	Groups      []*RuleGroup `json:"groups,omitempty"`
}

// knownFields are the fixed lead columns a rule may reference without the
// custom-field prefix. Custom fields are addressed as custom.<name>.
var knownFields = map[string]bool{
	"first_name":        true,
	"last_name":         true,
	"phone":             true,
	"time_zone":         true,
	"status":            true,
	"priority":          true,
	"call_attempts":     true,
	"last_call_outcome": true,
}

// Compile turns a filter definition into a predicate. Malformed definitions
// fail compilation with a descriptive error; the caller treats the filter
// as non-matching until corrected.
func Compile(f *Filter) (Predicate, error) {
	if f == nil {
		return MatchAll, nil
	}

	switch f.Type {
	case TypeRuleBased, TypeFieldBased:
		if f.Rules == nil {
			return matchNone, errors.NewValidationError("EMPTY_FILTER", fmt.Sprintf("filter %q has no rules", f.Name))
		}
		return compileGroup(f.Rules)
	case TypeSQL:
		group, err := ParseSQL(f.SQLText)
		if err != nil {
			return matchNone, err
		}
		return compileGroup(group)
	default:
		return matchNone, errors.NewValidationError("UNKNOWN_FILTER_TYPE", fmt.Sprintf("unknown filter type %q", f.Type))
	}
}

func compileGroup(g *RuleGroup) (Predicate, error) {
	if g.Conjunction != ConjunctionAnd && g.Conjunction != ConjunctionOr {
		return matchNone, errors.NewValidationError("INVALID_CONJUNCTION", fmt.Sprintf("invalid conjunction %q", g.Conjunction))
	}
	if len(g.Rules) == 0 && len(g.Groups) == 0 {
		return matchNone, errors.NewValidationError("EMPTY_GROUP", "rule group has no members")
	}

	preds := make([]Predicate, 0, len(g.Rules)+len(g.Groups))
	for i := range g.Rules {
		p, err := compileRule(&g.Rules[i])
		if err != nil {
			return matchNone, err
		}
		preds = append(preds, p)
	}
	for _, sub := range g.Groups {
		p, err := compileGroup(sub)
		if err != nil {
			return matchNone, err
		}
		preds = append(preds, p)
	}

	if g.Conjunction == ConjunctionAnd {
		return func(l *lead.Lead) bool {
			for _, p := range preds {
				if !p(l) {
					return false
				}
			}
			return true
		}, nil
	}
	return func(l *lead.Lead) bool {
		for _, p := range preds {
			if p(l) {
				return true
			}
		}
		return false
	}, nil
}

func compileRule(r *Rule) (Predicate, error) {
	field := r.Field
	if !knownFields[field] && !strings.HasPrefix(field, "custom.") {
		return matchNone, errors.NewValidationError("UNKNOWN_FIELD", fmt.Sprintf("unknown filter field %q", field))
	}
	field = strings.TrimPrefix(field, "custom.")

	switch r.Operator {
	case OpEqual:
		return func(l *lead.Lead) bool {
			v, ok := l.Field(field)
			return ok && compareEqual(v, r.Value)
		}, nil
	case OpNotEqual:
		return func(l *lead.Lead) bool {
			v, ok := l.Field(field)
			return ok && !compareEqual(v, r.Value)
		}, nil
	case OpIn:
		if len(r.Values) == 0 {
			return matchNone, errors.NewValidationError("EMPTY_IN_LIST", fmt.Sprintf("IN rule on %q has no values", r.Field))
		}
		set := make(map[string]bool, len(r.Values))
		for _, v := range r.Values {
			set[strings.ToLower(v)] = true
		}
		return func(l *lead.Lead) bool {
			v, ok := l.Field(field)
			return ok && set[strings.ToLower(v)]
		}, nil
	case OpGreaterEqual:
		return compileOrdered(field, r.Value, func(cmp int) bool { return cmp >= 0 })
	case OpLessEqual:
		return compileOrdered(field, r.Value, func(cmp int) bool { return cmp <= 0 })
	case OpContains:
		needle := strings.ToLower(r.Value)
		return func(l *lead.Lead) bool {
			v, ok := l.Field(field)
			return ok && strings.Contains(strings.ToLower(v), needle)
		}, nil
	default:
		return matchNone, errors.NewValidationError("UNKNOWN_OPERATOR", fmt.Sprintf("unknown operator %q", r.Operator))
	}
}

func compileOrdered(field, value string, accept func(int) bool) (Predicate, error) {
	return func(l *lead.Lead) bool {
		v, ok := l.Field(field)
		if !ok {
			return false
		}
		return accept(compareOrdered(v, value))
	}, nil
}

// compareEqual is numeric-aware: "05" equals "5" when both parse.
func compareEqual(a, b string) bool {
	if fa, errA := strconv.ParseFloat(a, 64); errA == nil {
		if fb, errB := strconv.ParseFloat(b, 64); errB == nil {
			return fa == fb
		}
	}
	return strings.EqualFold(a, b)
}

// compareOrdered returns -1/0/1, comparing numerically when both sides parse
// and lexically otherwise.
func compareOrdered(a, b string) int {
	if fa, errA := strconv.ParseFloat(a, 64); errA == nil {
		if fb, errB := strconv.ParseFloat(b, 64); errB == nil {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(a, b)
}
