package definition

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Reference identifies a resource type at a specific version
type Reference struct {
	Group   string `json:"group"`
	Version string `json:"version"`
	Plural  string `json:"plural"`
}

// NewReference creates a new Reference
func NewReference(group, version, plural string) Reference {
	return Reference{
		Group:   group,
		Version: version,
		Plural:  plural,
	}
}

// String returns the group/version/plural form. The group part is empty for the core group.
func (r Reference) String() string {
	return r.Group + "/" + r.Version + "/" + r.Plural
}

// Equal compares references by their string form
func (r Reference) Equal(other Reference) bool {
	return r.String() == other.String()
}

// APIVersion returns the apiVersion value of resources of this type
func (r Reference) APIVersion() string {
	return JoinAPIVersion(r.Group, r.Version)
}

// WithVersion returns a copy of the reference pointing to another version
func (r Reference) WithVersion(version string) Reference {
	r.Version = version
	return r
}

// ParseReference parses the group/version/plural form back into a Reference
func ParseReference(s string) (Reference, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return Reference{}, fmt.Errorf("invalid definition reference %q: expected group/version/plural", s)
	}
	if parts[1] == "" || parts[2] == "" {
		return Reference{}, fmt.Errorf("invalid definition reference %q: version and plural are required", s)
	}
	return NewReference(parts[0], parts[1], parts[2]), nil
}

// JoinAPIVersion builds an apiVersion from a group and version
func JoinAPIVersion(group, version string) string {
	if group == "" {
		return version
	}
	return group + "/" + version
}

// SplitAPIVersion splits an apiVersion into group and version
func SplitAPIVersion(apiVersion string) (group, version string) {
	if i := strings.LastIndex(apiVersion, "/"); i >= 0 {
		return apiVersion[:i], apiVersion[i+1:]
	}
	return "", apiVersion
}

// MarshalLogObject implements zapcore.ObjectMarshaler for structured logging
func (r Reference) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("group", r.Group)
	enc.AddString("version", r.Version)
	enc.AddString("plural", r.Plural)
	return nil
}
