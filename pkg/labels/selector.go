package labels

import (
	"sort"
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Operator is the relation a Selector checks between a label and its expected values.
type Operator string

const (
	Equals      Operator = "="
	NotEquals   Operator = "!="
	Contains    Operator = "in"
	NotContains Operator = "notin"
)

// Selector is a single predicate over a label set. Equals and NotEquals carry exactly one value,
// Contains and NotContains carry zero or more values. A Selector is immutable.
type Selector struct {
	key      string
	operator Operator
	value    string
	values   []string
}

// NewEquals builds a selector requiring the key to be present with exactly value. Keys and values
// are checked so that the selector renders to a string Parse reads back.
func NewEquals(key, value string) (Selector, error) {
	if err := checkPair(key, value); err != nil {
		return Selector{}, err
	}
	return equals(key, value), nil
}

func NewNotEquals(key, value string) (Selector, error) {
	if err := checkPair(key, value); err != nil {
		return Selector{}, err
	}
	return notEquals(key, value), nil
}

// NewContains builds a selector requiring the key to be present and, when values are given,
// its value to be one of them.
func NewContains(key string, values ...string) (Selector, error) {
	if err := checkList(key, values); err != nil {
		return Selector{}, err
	}
	return contains(key, values...), nil
}

// NewNotContains builds a selector requiring the key to be absent or, when values are given,
// its value to be none of them.
func NewNotContains(key string, values ...string) (Selector, error) {
	if err := checkList(key, values); err != nil {
		return Selector{}, err
	}
	return notContains(key, values...), nil
}

func checkPair(key, value string) error {
	if err := checkKey(key, key); err != nil {
		return err
	}
	return checkValue(key+"="+value, value)
}

func checkList(key string, values []string) error {
	if err := checkKey(key, key); err != nil {
		return err
	}
	for _, value := range values {
		if err := checkValue(key+" ("+strings.Join(values, ",")+")", value); err != nil {
			return err
		}
	}
	return nil
}

func equals(key, value string) Selector {
	return Selector{key: key, operator: Equals, value: value}
}

func notEquals(key, value string) Selector {
	return Selector{key: key, operator: NotEquals, value: value}
}

func contains(key string, values ...string) Selector {
	return Selector{key: key, operator: Contains, values: copyValues(values)}
}

func notContains(key string, values ...string) Selector {
	return Selector{key: key, operator: NotContains, values: copyValues(values)}
}

func copyValues(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	out := make([]string, len(values))
	copy(out, values)
	return out
}

func (s Selector) Key() string {
	return s.key
}

func (s Selector) Operator() Operator {
	return s.operator
}

// Value returns the single value of an Equals or NotEquals selector.
func (s Selector) Value() string {
	return s.value
}

// Values returns a copy of the value list of a Contains or NotContains selector.
func (s Selector) Values() []string {
	return copyValues(s.values)
}

// Matches evaluates the selector against a label set.
func (s Selector) Matches(labels map[string]string) bool {
	actual, present := labels[s.key]

	switch s.operator {
	case Equals:
		return present && actual == s.value
	case NotEquals:
		return !present || actual != s.value
	case Contains:
		if !present {
			return false
		}
		return len(s.values) == 0 || s.valueSet().Has(actual)
	case NotContains:
		if !present {
			return true
		}
		return len(s.values) > 0 && !s.valueSet().Has(actual)
	}
	return false
}

// Equal reports whether both selectors have the same key, operator and value set.
func (s Selector) Equal(other Selector) bool {
	if s.key != other.key || s.operator != other.operator {
		return false
	}
	switch s.operator {
	case Equals, NotEquals:
		return s.value == other.value
	default:
		return s.valueSet().Equal(other.valueSet())
	}
}

func (s Selector) valueSet() sets.Set[string] {
	return sets.New(s.values...)
}

// String renders the canonical textual form accepted by Parse.
func (s Selector) String() string {
	switch s.operator {
	case Equals:
		return s.key + "=" + s.value
	case NotEquals:
		return s.key + "!=" + s.value
	case Contains:
		if len(s.values) == 0 {
			return s.key
		}
		return s.key + " in (" + strings.Join(s.values, ",") + ")"
	case NotContains:
		if len(s.values) == 0 {
			return "!" + s.key
		}
		return s.key + " notin (" + strings.Join(s.values, ",") + ")"
	}
	return s.key
}

func (s Selector) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Selector) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Selectors is a conjunction of selectors.
type Selectors []Selector

// Matches reports whether every selector matches. An empty list matches everything.
func (ss Selectors) Matches(labels map[string]string) bool {
	for _, s := range ss {
		if !s.Matches(labels) {
			return false
		}
	}
	return true
}

func (ss Selectors) Empty() bool {
	return len(ss) == 0
}

// Keys returns the sorted distinct label keys referenced by the list.
func (ss Selectors) Keys() []string {
	keys := sets.New[string]()
	for _, s := range ss {
		keys.Insert(s.key)
	}
	out := keys.UnsortedList()
	sort.Strings(out)
	return out
}

func (ss Selectors) String() string {
	parts := make([]string, 0, len(ss))
	for _, s := range ss {
		parts = append(parts, s.String())
	}
	return strings.Join(parts, ",")
}

func (ss Selectors) MarshalText() ([]byte, error) {
	return []byte(ss.String()), nil
}

func (ss *Selectors) UnmarshalText(text []byte) error {
	parsed, err := ParseList(string(text))
	if err != nil {
		return err
	}
	*ss = parsed
	return nil
}
