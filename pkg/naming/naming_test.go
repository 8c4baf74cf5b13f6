package naming

import (
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsValidKind(t *testing.T) {
	conv := Default()

	_, err := conv.IsValidKind("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBlank))

	_, err = conv.IsValidKind("   ")
	assert.True(t, errors.Is(err, ErrBlank))

	ok, err := conv.IsValidKind("pod")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = conv.IsValidKind("Pod")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = conv.IsValidKind("Pod2")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = conv.IsValidKind("P" + strings.Repeat("a", 63))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIsValidName(t *testing.T) {
	conv := Default()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "simple", input: "web", want: true},
		{name: "with dash", input: "my-app-1", want: true},
		{name: "single char", input: "a", want: true},
		{name: "max length", input: strings.Repeat("a", 63), want: true},
		{name: "too long", input: strings.Repeat("a", 64), want: false},
		{name: "uppercase", input: "Web", want: false},
		{name: "leading dash", input: "-web", want: false},
		{name: "trailing dash", input: "web-", want: false},
		{name: "dot", input: "web.app", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := conv.IsValidName(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}

	_, err := conv.IsValidName("")
	assert.True(t, errors.Is(err, ErrBlank))
}

func TestIsValidGroup(t *testing.T) {
	conv := Default()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "empty is core group", input: "", want: true},
		{name: "whitespace is core group", input: "  ", want: true},
		{name: "dns style", input: "apps.themelio.io", want: true},
		{name: "dash", input: "my-group", want: true},
		{name: "leading dot", input: ".apps", want: false},
		{name: "trailing dash", input: "apps-", want: false},
		{name: "uppercase", input: "Apps", want: false},
		{name: "too long", input: strings.Repeat("a", 64), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := conv.IsValidGroup(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestIsValidLabelKey(t *testing.T) {
	conv := Default()

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "plain", input: "tier", want: true},
		{name: "prefixed", input: "app/tier", want: true},
		{name: "three chars", input: "env", want: false},
		{name: "too long", input: strings.Repeat("a", 64), want: false},
		{name: "uppercase", input: "Tier", want: false},
		{name: "trailing slash", input: "tier/", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := conv.IsValidLabelKey(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestIsValidVersion(t *testing.T) {
	conv := Default()

	tests := []struct {
		input string
		want  bool
	}{
		{input: "v1", want: true},
		{input: "v1beta1", want: true},
		{input: "v" + strings.Repeat("1", 21), want: true},
		{input: "v" + strings.Repeat("1", 22), want: false},
		{input: "1", want: false},
		{input: "v", want: false},
		{input: "v1-beta", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			ok, err := conv.IsValidVersion(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
		})
	}
}

func TestIsValidAnnotationKey(t *testing.T) {
	conv := Default()

	ok, err := conv.IsValidAnnotationKey("owner")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = conv.IsValidAnnotationKey("-owner")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = conv.IsValidAnnotationKey("")
	assert.True(t, errors.Is(err, ErrBlank))
}

func TestCheck(t *testing.T) {
	conv := Default()

	assert.NoError(t, conv.CheckKind("Widget"))
	assert.NoError(t, conv.CheckGroup(""))

	err := conv.CheckKind("widget")
	require.Error(t, err)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, TokenKind, verr.Token)
	assert.Equal(t, "widget", verr.Value)
	assert.False(t, errors.Is(err, ErrBlank))

	err = conv.CheckName("")
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, TokenName, verr.Token)
	assert.True(t, errors.Is(err, ErrBlank))
}

func TestRegisterValidations(t *testing.T) {
	type payload struct {
		Group   string `validate:"rgroup"`
		Name    string `validate:"rname"`
		Kind    string `validate:"rkind"`
		Version string `validate:"rversion"`
	}

	v := validator.New()
	require.NoError(t, Default().RegisterValidations(v))

	assert.NoError(t, v.Struct(payload{Group: "apps", Name: "web", Kind: "Widget", Version: "v1"}))
	assert.Error(t, v.Struct(payload{Group: "apps", Name: "web", Kind: "widget", Version: "v1"}))
	assert.Error(t, v.Struct(payload{Group: "apps", Name: "", Kind: "Widget", Version: "v1"}))
}
