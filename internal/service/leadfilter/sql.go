package leadfilter

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/davidleathers/predictive-dialer-backend/internal/domain/errors"
)

// ParseSQL parses a SQL-style WHERE clause into a rule tree. The text is
// never executed against a store; it is a portable filter syntax only.
//
// Supported grammar:
//
//	expr   := term { OR term }
//	term   := factor { AND factor }
//	factor := '(' expr ')' | field op value | field IN '(' value {',' value} ')'
//	op     := = | != | <> | >= | <= | LIKE
//
// LIKE compiles to CONTAINS with surrounding % wildcards stripped.
func ParseSQL(text string) (*RuleGroup, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.NewValidationError("EMPTY_SQL_FILTER", "SQL filter text cannot be empty")
	}
	// Tolerate a leading WHERE keyword from pasted queries.
	if len(text) >= 5 && strings.EqualFold(text[:5], "WHERE") {
		text = strings.TrimSpace(text[5:])
	}

	p := &sqlParser{tokens: tokenize(text)}
	group, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if !p.done() {
		return nil, errors.NewValidationError("MALFORMED_SQL_FILTER", fmt.Sprintf("unexpected token %q", p.peek()))
	}
	return group, nil
}

type sqlParser struct {
	tokens []string
	pos    int
}

func (p *sqlParser) done() bool { return p.pos >= len(p.tokens) }

func (p *sqlParser) peek() string {
	if p.done() {
		return ""
	}
	return p.tokens[p.pos]
}

func (p *sqlParser) next() string {
	t := p.peek()
	p.pos++
	return t
}

func (p *sqlParser) parseExpr() (*RuleGroup, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	group := &RuleGroup{Conjunction: ConjunctionOr, Groups: []*RuleGroup{left}}
	for strings.EqualFold(p.peek(), "OR") {
		p.next()
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		group.Groups = append(group.Groups, right)
	}
	if len(group.Groups) == 1 {
		return left, nil
	}
	return group, nil
}

func (p *sqlParser) parseTerm() (*RuleGroup, error) {
	group := &RuleGroup{Conjunction: ConjunctionAnd}
	for {
		if err := p.parseFactor(group); err != nil {
			return nil, err
		}
		if !strings.EqualFold(p.peek(), "AND") {
			break
		}
		p.next()
	}
	return group, nil
}

func (p *sqlParser) parseFactor(into *RuleGroup) error {
	if p.peek() == "(" {
		p.next()
		sub, err := p.parseExpr()
		if err != nil {
			return err
		}
		if p.next() != ")" {
			return errors.NewValidationError("MALFORMED_SQL_FILTER", "missing closing parenthesis")
		}
		into.Groups = append(into.Groups, sub)
		return nil
	}

	field := p.next()
	if field == "" {
		return errors.NewValidationError("MALFORMED_SQL_FILTER", "expected field name")
	}

	op := p.next()
	switch {
	case strings.EqualFold(op, "IN"):
		values, err := p.parseInList()
		if err != nil {
			return err
		}
		into.Rules = append(into.Rules, Rule{Field: field, Operator: OpIn, Values: values})
		return nil
	case op == "=", op == "!=", op == "<>", op == ">=", op == "<=":
		value, err := p.parseValue()
		if err != nil {
			return err
		}
		mapped := Operator(op)
		if op == "<>" {
			mapped = OpNotEqual
		}
		into.Rules = append(into.Rules, Rule{Field: field, Operator: mapped, Value: value})
		return nil
	case strings.EqualFold(op, "LIKE"):
		value, err := p.parseValue()
		if err != nil {
			return err
		}
		into.Rules = append(into.Rules, Rule{Field: field, Operator: OpContains, Value: strings.Trim(value, "%")})
		return nil
	default:
		return errors.NewValidationError("MALFORMED_SQL_FILTER", fmt.Sprintf("unsupported operator %q", op))
	}
}

func (p *sqlParser) parseInList() ([]string, error) {
	if p.next() != "(" {
		return nil, errors.NewValidationError("MALFORMED_SQL_FILTER", "expected ( after IN")
	}
	var values []string
	for {
		v, err := p.parseValue()
		if err != nil {
			return nil, err
		}
		values = append(values, v)
		switch p.next() {
		case ",":
			continue
		case ")":
			return values, nil
		default:
			return nil, errors.NewValidationError("MALFORMED_SQL_FILTER", "malformed IN list")
		}
	}
}

func (p *sqlParser) parseValue() (string, error) {
	t := p.next()
	if t == "" {
		return "", errors.NewValidationError("MALFORMED_SQL_FILTER", "expected value")
	}
	if strings.HasPrefix(t, "'") && strings.HasSuffix(t, "'") && len(t) >= 2 {
		return t[1 : len(t)-1], nil
	}
	return t, nil
}

// tokenize splits the clause into identifiers, quoted strings, numbers,
// operators and punctuation.
func tokenize(text string) []string {
	var tokens []string
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '\'':
			j := i + 1
			for j < len(runes) && runes[j] != '\'' {
				j++
			}
			if j < len(runes) {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		case r == '(' || r == ')' || r == ',':
			tokens = append(tokens, string(r))
			i++
		case r == '!' || r == '<' || r == '>' || r == '=':
			j := i + 1
			if j < len(runes) && (runes[j] == '=' || (r == '<' && runes[j] == '>')) {
				j++
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		default:
			j := i
			for j < len(runes) && (unicode.IsLetter(runes[j]) || unicode.IsDigit(runes[j]) || runes[j] == '_' || runes[j] == '.' || runes[j] == '%' || runes[j] == '-' || runes[j] == '+') {
				j++
			}
			if j == i {
				j++ // skip unknown rune rather than loop forever
			}
			tokens = append(tokens, string(runes[i:j]))
			i = j
		}
	}
	return tokens
}
