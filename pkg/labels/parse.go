package labels

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	keywordIn    = "in"
	keywordNotIn = "notin"

	reservedKeyCharacters   = "!=(),"
	reservedValueCharacters = "!=(),"
)

// ParseError describes a selector string that does not follow the grammar.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("invalid label selector %q: %s", e.Input, e.Reason)
}

func NewParseError(input, reason string) *ParseError {
	return &ParseError{Input: input, Reason: reason}
}

// Parse reads a single selector. Accepted forms are `!key`, `key`, `key=value`, `key!=value`,
// `key in (v1,v2)` and `key notin (v1,v2)`.
func Parse(input string) (Selector, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return Selector{}, NewParseError(input, "selector is empty")
	}

	if strings.HasPrefix(text, "!") {
		key := strings.TrimSpace(text[1:])
		if err := checkKey(input, key); err != nil {
			return Selector{}, err
		}
		return notContains(key), nil
	}

	if strings.Contains(text, "=") {
		return parseEquality(input, text)
	}

	return parseSet(input, text)
}

func parseEquality(input, text string) (Selector, error) {
	var tokens []string
	for _, token := range strings.Split(text, "=") {
		if token = strings.TrimSpace(token); token != "" {
			tokens = append(tokens, token)
		}
	}
	if len(tokens) != 2 {
		return Selector{}, NewParseError(input, "expected exactly one key and one value around '='")
	}

	key, value := tokens[0], tokens[1]
	operator := Equals
	if strings.HasSuffix(key, "!") {
		operator = NotEquals
		key = strings.TrimSpace(strings.TrimSuffix(key, "!"))
	}
	if err := checkKey(input, key); err != nil {
		return Selector{}, err
	}
	if err := checkValue(input, value); err != nil {
		return Selector{}, err
	}

	if operator == NotEquals {
		return notEquals(key, value), nil
	}
	return equals(key, value), nil
}

func parseSet(input, text string) (Selector, error) {
	fields := strings.Fields(text)
	key := fields[0]
	if err := checkKey(input, key); err != nil {
		return Selector{}, err
	}
	if len(fields) == 1 {
		return contains(key), nil
	}

	keyword := fields[1]
	if keyword != keywordIn && keyword != keywordNotIn {
		return Selector{}, NewParseError(input, fmt.Sprintf("unknown operator %q, expected %q or %q", keyword, keywordIn, keywordNotIn))
	}

	rest := strings.TrimSpace(text[len(key):])
	rest = strings.TrimSpace(rest[len(keyword):])
	values, err := parseValues(input, rest)
	if err != nil {
		return Selector{}, err
	}

	if keyword == keywordNotIn {
		return notContains(key, values...), nil
	}
	return contains(key, values...), nil
}

func parseValues(input, text string) ([]string, error) {
	openParen := strings.HasPrefix(text, "(")
	closeParen := strings.HasSuffix(text, ")")
	if openParen != closeParen {
		return nil, NewParseError(input, "unbalanced parentheses in value list")
	}
	if openParen {
		text = text[1 : len(text)-1]
	}
	if strings.ContainsAny(text, "()") {
		return nil, NewParseError(input, "nested parentheses in value list")
	}

	var values []string
	for _, value := range strings.Split(text, ",") {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if err := checkValue(input, value); err != nil {
			return nil, err
		}
		values = append(values, value)
	}
	return values, nil
}

func checkKey(input, key string) error {
	if key == "" {
		return NewParseError(input, "label key is empty")
	}
	if strings.ContainsAny(key, reservedKeyCharacters) || strings.IndexFunc(key, unicode.IsSpace) >= 0 {
		return NewParseError(input, fmt.Sprintf("label key %q contains a reserved character", key))
	}
	return nil
}

func checkValue(input, value string) error {
	if value == "" {
		return NewParseError(input, "label value is empty")
	}
	if strings.TrimSpace(value) != value {
		return NewParseError(input, fmt.Sprintf("label value %q has surrounding whitespace", value))
	}
	if strings.ContainsAny(value, reservedValueCharacters) {
		return NewParseError(input, fmt.Sprintf("label value %q contains a reserved character", value))
	}
	return nil
}

// ParseList reads a comma separated selector list. Commas inside a parenthesized value list do
// not separate selectors. An empty string yields an empty list.
func ParseList(input string) (Selectors, error) {
	if strings.TrimSpace(input) == "" {
		return Selectors{}, nil
	}

	parts, err := splitTopLevel(input)
	if err != nil {
		return nil, err
	}

	selectors := make(Selectors, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) == "" {
			return nil, NewParseError(input, "empty selector in list")
		}
		selector, err := Parse(part)
		if err != nil {
			return nil, err
		}
		selectors = append(selectors, selector)
	}
	return selectors, nil
}

func splitTopLevel(input string) ([]string, error) {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range input {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, NewParseError(input, "unmatched ')'")
			}
		case ',':
			if depth == 0 {
				parts = append(parts, input[start:i])
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, NewParseError(input, "unmatched '('")
	}
	return append(parts, input[start:]), nil
}

// MustParseList is ParseList for constant inputs; it panics on error.
func MustParseList(input string) Selectors {
	selectors, err := ParseList(input)
	if err != nil {
		panic(err)
	}
	return selectors
}
