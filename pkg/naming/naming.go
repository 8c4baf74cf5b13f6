package naming

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pkg/errors"
)

const (
	DefaultMaxTokenLength   = 63
	DefaultMaxVersionLength = 22
	MinLabelKeyLength       = 4
)

var (
	reGroup         = regexp.MustCompile(`^[a-z0-9]([-a-z0-9.]*[a-z0-9])?$`)
	reName          = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])?$`)
	reKind          = regexp.MustCompile(`^[A-Z][A-Za-z]*$`)
	reAnnotationKey = regexp.MustCompile(`^[a-z0-9][-a-z0-9]*$`)
	reLabelKey      = regexp.MustCompile(`^[a-z0-9]([-a-z0-9]*[a-z0-9])([/a-z0-9]([-a-z0-9]*[a-z0-9]))$`)
	reVersion       = regexp.MustCompile(`^v[A-Za-z0-9]+$`)
)

// ErrBlank is wrapped by every error returned for an empty or whitespace-only required token.
var ErrBlank = errors.New("value cannot be empty")

// Token names the kind of string being validated.
type Token string

const (
	TokenGroup         Token = "group"
	TokenName          Token = "name"
	TokenPlural        Token = "plural"
	TokenKind          Token = "kind"
	TokenAnnotationKey Token = "annotation key"
	TokenLabelKey      Token = "label key"
	TokenVersion       Token = "version"
)

// ValidationError is the structured error raised when a token breaks the naming convention.
type ValidationError struct {
	Token  Token
	Value  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Token, e.Value, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func NewValidationError(token Token, value, reason string) *ValidationError {
	return &ValidationError{
		Token:  token,
		Value:  value,
		Reason: reason,
	}
}

func newBlankError(token Token, value string) *ValidationError {
	return &ValidationError{
		Token:  token,
		Value:  value,
		Reason: ErrBlank.Error(),
		Err:    ErrBlank,
	}
}

// Convention holds the naming rules applied to groups, names, kinds, versions and metadata keys.
// It is passed explicitly to the constructors that validate input.
type Convention struct {
	MaxTokenLength   int
	MaxVersionLength int
}

// Default returns the standard convention: 63 character tokens, 22 character versions.
func Default() *Convention {
	return &Convention{
		MaxTokenLength:   DefaultMaxTokenLength,
		MaxVersionLength: DefaultMaxVersionLength,
	}
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// IsValidGroup reports whether group is a valid API group. The group is optional, so a blank
// value is valid.
func (c *Convention) IsValidGroup(group string) (bool, error) {
	if isBlank(group) {
		return true, nil
	}
	return len(group) <= c.MaxTokenLength && reGroup.MatchString(group), nil
}

func (c *Convention) IsValidName(name string) (bool, error) {
	if isBlank(name) {
		return false, newBlankError(TokenName, name)
	}
	return len(name) <= c.MaxTokenLength && reName.MatchString(name), nil
}

func (c *Convention) IsValidPlural(plural string) (bool, error) {
	if isBlank(plural) {
		return false, newBlankError(TokenPlural, plural)
	}
	return len(plural) <= c.MaxTokenLength && reName.MatchString(plural), nil
}

func (c *Convention) IsValidKind(kind string) (bool, error) {
	if isBlank(kind) {
		return false, newBlankError(TokenKind, kind)
	}
	return len(kind) <= c.MaxTokenLength && reKind.MatchString(kind), nil
}

func (c *Convention) IsValidAnnotationKey(key string) (bool, error) {
	if isBlank(key) {
		return false, newBlankError(TokenAnnotationKey, key)
	}
	return len(key) <= c.MaxTokenLength && reAnnotationKey.MatchString(key), nil
}

func (c *Convention) IsValidLabelKey(key string) (bool, error) {
	if isBlank(key) {
		return false, newBlankError(TokenLabelKey, key)
	}
	if len(key) < MinLabelKeyLength || len(key) > c.MaxTokenLength {
		return false, nil
	}
	return reLabelKey.MatchString(key), nil
}

func (c *Convention) IsValidVersion(version string) (bool, error) {
	if isBlank(version) {
		return false, newBlankError(TokenVersion, version)
	}
	return len(version) <= c.MaxVersionLength && reVersion.MatchString(version), nil
}

func (c *Convention) CheckGroup(group string) error {
	return check(TokenGroup, group, c.IsValidGroup,
		fmt.Sprintf("must be lowercase alphanumeric, '.' or '-', start and end with an alphanumeric character and be at most %d characters", c.MaxTokenLength))
}

func (c *Convention) CheckName(name string) error {
	return check(TokenName, name, c.IsValidName,
		fmt.Sprintf("must be lowercase alphanumeric or '-', start and end with an alphanumeric character and be at most %d characters", c.MaxTokenLength))
}

func (c *Convention) CheckPlural(plural string) error {
	return check(TokenPlural, plural, c.IsValidPlural,
		fmt.Sprintf("must be lowercase alphanumeric or '-', start and end with an alphanumeric character and be at most %d characters", c.MaxTokenLength))
}

func (c *Convention) CheckKind(kind string) error {
	return check(TokenKind, kind, c.IsValidKind,
		fmt.Sprintf("must contain only letters, start with an uppercase letter and be at most %d characters", c.MaxTokenLength))
}

func (c *Convention) CheckAnnotationKey(key string) error {
	return check(TokenAnnotationKey, key, c.IsValidAnnotationKey,
		fmt.Sprintf("must be lowercase alphanumeric or '-', start with an alphanumeric character and be at most %d characters", c.MaxTokenLength))
}

func (c *Convention) CheckLabelKey(key string) error {
	return check(TokenLabelKey, key, c.IsValidLabelKey,
		fmt.Sprintf("must be between %d and %d characters, lowercase alphanumeric or '-', optionally in the form prefix/name", MinLabelKeyLength, c.MaxTokenLength))
}

func (c *Convention) CheckVersion(version string) error {
	return check(TokenVersion, version, c.IsValidVersion,
		fmt.Sprintf("must start with 'v', be alphanumeric and be at most %d characters", c.MaxVersionLength))
}

func check(token Token, value string, predicate func(string) (bool, error), reason string) error {
	ok, err := predicate(value)
	if err != nil {
		return err
	}
	if !ok {
		return NewValidationError(token, value, reason)
	}
	return nil
}
