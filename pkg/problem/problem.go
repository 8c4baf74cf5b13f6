package problem

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
)

// BaseURI prefixes every problem type identifier on the wire.
const BaseURI = "https://themelio.io/problems/"

// Type is a stable, versionless problem identifier.
type Type string

const (
	AdmissionFailed         Type = "admission-failed"
	ConversionFailed        Type = "conversion-failed"
	SchemaValidationFailed  Type = "schema-validation-failed"
	NotFound                Type = "not-found"
	NotModified             Type = "not-modified"
	DefinitionNotFound      Type = "definition-not-found"
	VersionNotFound         Type = "version-not-found"
	StorageVersionNotFound  Type = "storage-version-not-found"
	UnsupportedSubResource  Type = "unsupported-subresource"
	InvalidPatch            Type = "invalid-patch"
	InvalidSubResourcePatch Type = "invalid-subresource-patch"
	ResourceVersionRequired Type = "resource-version-required"
	ConcurrencyCheckFailed  Type = "concurrency-check-failed"
	AlreadyExists           Type = "already-exists"
	InvalidRequest          Type = "invalid-request"
	ResourceVersionExpired  Type = "resource-version-expired"
	WatchInterrupted        Type = "watch-interrupted"
)

type descriptor struct {
	title  string
	status int
}

var descriptors = map[Type]descriptor{
	AdmissionFailed:         {"Admission failed", http.StatusBadRequest},
	ConversionFailed:        {"Conversion failed", http.StatusBadRequest},
	SchemaValidationFailed:  {"Schema validation failed", http.StatusBadRequest},
	NotFound:                {"Resource not found", http.StatusNotFound},
	NotModified:             {"Resource not modified", http.StatusNotModified},
	DefinitionNotFound:      {"Resource definition not found", http.StatusNotFound},
	VersionNotFound:         {"Resource definition version not found", http.StatusNotFound},
	StorageVersionNotFound:  {"Storage version not found", http.StatusInternalServerError},
	UnsupportedSubResource:  {"Sub-resource not supported", http.StatusNotImplemented},
	InvalidPatch:            {"Invalid patch", http.StatusBadRequest},
	InvalidSubResourcePatch: {"Invalid sub-resource patch", http.StatusBadRequest},
	ResourceVersionRequired: {"Resource version required", http.StatusBadRequest},
	ConcurrencyCheckFailed:  {"Concurrency check failed", http.StatusConflict},
	AlreadyExists:           {"Resource already exists", http.StatusConflict},
	InvalidRequest:          {"Invalid request", http.StatusBadRequest},
	ResourceVersionExpired:  {"Resource version expired", http.StatusGone},
	WatchInterrupted:        {"Watch interrupted", http.StatusServiceUnavailable},
}

// Types lists every known problem type.
func Types() []Type {
	out := make([]Type, 0, len(descriptors))
	for t := range descriptors {
		out = append(out, t)
	}
	return out
}

func (t Type) URI() string {
	return BaseURI + string(t)
}

func (t Type) Title() string {
	if d, ok := descriptors[t]; ok {
		return d.title
	}
	return "Unknown problem"
}

// Status is the HTTP status code a transport should answer with for this problem type.
func (t Type) Status() int {
	if d, ok := descriptors[t]; ok {
		return d.status
	}
	return http.StatusInternalServerError
}

// ParseType accepts either the bare identifier or its full URI.
func ParseType(s string) (Type, bool) {
	t := Type(strings.TrimPrefix(s, BaseURI))
	_, ok := descriptors[t]
	return t, ok
}

func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.URI()), nil
}

// UnmarshalText keeps unknown identifiers so problems raised by external authorities survive decoding.
func (t *Type) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		return errors.New("problem type is empty")
	}
	*t, _ = ParseType(string(text))
	return nil
}

// Problem is a domain outcome such as a denial or a conflict. It travels as data and also
// satisfies error so services can return it directly.
type Problem struct {
	Type   Type   `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

func New(t Type, detail string) *Problem {
	return &Problem{
		Type:   t,
		Title:  t.Title(),
		Status: t.Status(),
		Detail: detail,
	}
}

func Newf(t Type, format string, args ...any) *Problem {
	return New(t, fmt.Sprintf(format, args...))
}

func (p *Problem) Error() string {
	if p.Detail == "" {
		return p.Title
	}
	return p.Title + ": " + p.Detail
}

// Is matches another *Problem of the same type, so errors.Is(err, problem.New(NotFound, "")) works.
func (p *Problem) Is(target error) bool {
	other, ok := target.(*Problem)
	return ok && other.Type == p.Type
}

// From extracts a Problem from an error chain.
func From(err error) (*Problem, bool) {
	var p *Problem
	if errors.As(err, &p) {
		return p, true
	}
	return nil, false
}

// IsType reports whether err carries a Problem of type t.
func IsType(err error, t Type) bool {
	p, ok := From(err)
	return ok && p.Type == t
}
